package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/gofrs/uuid/v5"

	"github.com/and161185/alurea-fulfillment/internal/errs"
	"github.com/and161185/alurea-fulfillment/internal/limiter"
	"github.com/and161185/alurea-fulfillment/internal/model"
	"github.com/and161185/alurea-fulfillment/internal/notify"
	"github.com/and161185/alurea-fulfillment/internal/repository"
)

/************ users ************/

type fakeUsers struct {
	mu      sync.Mutex
	byEmail map[string]*model.User

	createErr error
	getErr    error
}

var _ repository.UserRepository = (*fakeUsers)(nil)

func newFakeUsers() *fakeUsers { return &fakeUsers{byEmail: map[string]*model.User{}} }

func (f *fakeUsers) Create(_ context.Context, u *model.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	if _, ok := f.byEmail[u.Email]; ok {
		return errs.ErrAlreadyExists
	}
	c := *u
	f.byEmail[u.Email] = &c
	return nil
}

func (f *fakeUsers) GetByEmail(_ context.Context, email string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	u, ok := f.byEmail[email]
	if !ok {
		return nil, errs.ErrNotFound
	}
	c := *u
	return &c, nil
}

func (f *fakeUsers) MarkVerified(_ context.Context, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byEmail[email]
	if !ok {
		return errs.ErrNotFound
	}
	u.EmailVerified = true
	return nil
}

func (f *fakeUsers) SetRole(_ context.Context, email string, role model.Role) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byEmail[email]
	if !ok {
		return errs.ErrNotFound
	}
	u.Role = role
	return nil
}

func (f *fakeUsers) UpdateProfile(_ context.Context, email, name string, pwdHash, salt []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.byEmail[email]
	if !ok {
		return errs.ErrNotFound
	}
	if name != "" {
		u.Name = name
	}
	if len(pwdHash) > 0 {
		u.PwdHash, u.Salt = pwdHash, salt
	}
	return nil
}

/************ limiter ************/

type limitKey struct{ scope, identity string }

// fakeLimiter counts failures per scope and identity and blocks at max.
type fakeLimiter struct {
	mu       sync.Mutex
	max      int
	fails    map[limitKey]int
	blocked  map[limitKey]bool
	allowErr error
	resets   int
}

var _ limiter.Limiter = (*fakeLimiter)(nil)

func newFakeLimiter(max int) *fakeLimiter {
	return &fakeLimiter{max: max, fails: map[limitKey]int{}, blocked: map[limitKey]bool{}}
}

func (l *fakeLimiter) Allow(_ context.Context, scope, identity string, _ []byte) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.allowErr != nil {
		return false, 0, l.allowErr
	}
	if l.blocked[limitKey{scope, identity}] {
		return false, time.Minute, nil
	}
	return true, 0, nil
}

func (l *fakeLimiter) Success(_ context.Context, scope, identity string, _ []byte) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.resets++
	delete(l.fails, limitKey{scope, identity})
	return nil
}

func (l *fakeLimiter) Failure(_ context.Context, scope, identity string, _ []byte) (bool, time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	k := limitKey{scope, identity}
	l.fails[k]++
	if l.fails[k] >= l.max {
		l.blocked[k] = true
		return true, time.Minute, nil
	}
	return false, 0, nil
}

/************ code delivery ************/

type sentCode struct{ to, code, purpose string }

type fakeSender struct {
	mu   sync.Mutex
	sent []sentCode
	err  error
}

func (f *fakeSender) SendCode(_ context.Context, to, code, purpose string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentCode{to, code, purpose})
	return nil
}

func (f *fakeSender) last() sentCode {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

/************ audit / recorder / events ************/

type fakeAudit struct {
	mu      sync.Mutex
	entries []model.AuditEntry
	err     error
}

func (f *fakeAudit) Append(_ context.Context, e model.AuditEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.entries = append(f.entries, e)
	return nil
}

type fakeRecorder struct {
	mu           sync.Mutex
	verification []string
	reservations []string
	transitions  []string
}

func (r *fakeRecorder) Verification(purpose, outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.verification = append(r.verification, purpose+":"+outcome)
}

func (r *fakeRecorder) Reservation(outcome string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reservations = append(r.reservations, outcome)
}

func (r *fakeRecorder) Transition(status string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transitions = append(r.transitions, status)
}

type fakeEvents struct {
	mu     sync.Mutex
	events []notify.OrderEvent
	err    error
}

func (f *fakeEvents) OrderChanged(_ context.Context, ev notify.OrderEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	return f.err
}

/************ orders ************/

type fakeOrders struct {
	mu        sync.Mutex
	byID      map[uuid.UUID]*model.Order
	createErr error
	// beforeUpdate runs inside UpdateStatus before the compare, to simulate a concurrent writer.
	beforeUpdate func(o *model.Order)
}

var _ repository.OrderRepository = (*fakeOrders)(nil)

func newFakeOrders() *fakeOrders { return &fakeOrders{byID: map[uuid.UUID]*model.Order{}} }

func (f *fakeOrders) Create(_ context.Context, o *model.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.byID[o.ID] = o.Clone()
	return nil
}

func (f *fakeOrders) Get(_ context.Context, id uuid.UUID) (*model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	return o.Clone(), nil
}

func (f *fakeOrders) List(_ context.Context, flt repository.OrderFilter) ([]*model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*model.Order
	for _, o := range f.byID {
		if flt.Status != "" && o.Status != flt.Status {
			continue
		}
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if flt.Limit > 0 && len(out) > flt.Limit {
		out = out[:flt.Limit]
	}
	return out, nil
}

func (f *fakeOrders) UpdateStatus(_ context.Context, c repository.StatusChange) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.byID[c.ID]
	if !ok {
		return errs.ErrNotFound
	}
	if f.beforeUpdate != nil {
		f.beforeUpdate(o)
	}
	if o.Status != c.From {
		return errs.ErrConflict
	}
	o.Status, o.ProofRef, o.UpdatedAt = c.To, c.ProofRef, c.At
	return nil
}

func (f *fakeOrders) Delete(_ context.Context, id uuid.UUID) (*model.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.byID[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	delete(f.byID, id)
	return o, nil
}

/************ proofs ************/

type fakeProofs struct {
	mu      sync.Mutex
	files   map[string][]byte
	n       int
	saveErr error
}

func newFakeProofs() *fakeProofs { return &fakeProofs{files: map[string][]byte{}} }

func (f *fakeProofs) Save(r io.Reader) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return "", f.saveErr
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", err
	}
	if buf.Len() == 0 {
		return "", errors.New("empty")
	}
	f.n++
	name := "proof-" + string(rune('a'+f.n-1)) + ".jpg"
	f.files[name] = buf.Bytes()
	return name, nil
}

func (f *fakeProofs) Remove(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.files, name)
	return nil
}

func (f *fakeProofs) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.files)
}
