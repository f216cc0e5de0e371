// Package tracking owns the rider's live position and fans it out to observers.
//
// Delivery is latest-value-wins: each subscription buffers at most one position and a
// newer position replaces an unread one. Observers that fall behind miss intermediate
// values; they never block the publisher.
package tracking

import (
	"context"
	"sync"
	"time"

	"github.com/and161185/alurea-fulfillment/internal/model"
)

// DefaultLocation is the position reported before any rider update.
var DefaultLocation = model.Location{Lat: 14.6091, Lon: 121.0223}

// Stats receives broadcaster counters.
type Stats interface {
	Subscribers(n int)
	Published()
	Replaced()
}

type nopStats struct{}

func (nopStats) Subscribers(int) {}
func (nopStats) Published()      {}
func (nopStats) Replaced()       {}

// Subscription is one observer's handle.
type Subscription struct {
	c    chan model.Location
	done <-chan struct{}
}

// C yields positions. It is closed once the subscription is removed.
func (s *Subscription) C() <-chan model.Location { return s.c }

func (s *Subscription) stale() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// Broadcaster holds the single current position.
type Broadcaster struct {
	mu    sync.Mutex
	loc   model.Location
	subs  map[*Subscription]struct{}
	now   func() time.Time
	stats Stats
}

// Option customizes a Broadcaster.
type Option func(*Broadcaster)

// WithStats attaches a counters sink.
func WithStats(s Stats) Option {
	return func(b *Broadcaster) {
		if s != nil {
			b.stats = s
		}
	}
}

// WithClock injects the time source used to stamp updates.
func WithClock(now func() time.Time) Option {
	return func(b *Broadcaster) { b.now = now }
}

// New creates a broadcaster starting at initial.
func New(initial model.Location, opts ...Option) *Broadcaster {
	b := &Broadcaster{
		loc:   initial,
		subs:  make(map[*Subscription]struct{}),
		now:   time.Now,
		stats: nopStats{},
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Current returns a snapshot of the position.
func (b *Broadcaster) Current() model.Location {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.loc
}

// Update replaces the position and pushes it to every live subscription.
// Subscriptions whose context has ended are pruned here.
func (b *Broadcaster) Update(lat, lon float64) model.Location {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.loc = model.Location{Lat: lat, Lon: lon, UpdatedAt: b.now().UTC()}
	pruned := false
	for s := range b.subs {
		if s.stale() {
			delete(b.subs, s)
			close(s.c)
			pruned = true
			continue
		}
		b.deliver(s, b.loc)
	}
	if pruned {
		b.stats.Subscribers(len(b.subs))
	}
	b.stats.Published()
	return b.loc
}

// deliver never blocks: an unread value in the slot is swapped for loc.
// Only the broadcaster sends, and always under b.mu, so the slot cannot refill in between.
func (b *Broadcaster) deliver(s *Subscription, loc model.Location) {
	select {
	case s.c <- loc:
		return
	default:
	}
	select {
	case <-s.c:
		b.stats.Replaced()
	default:
	}
	select {
	case s.c <- loc:
	default:
	}
}

// Subscribe registers an observer. The current position is already buffered in C
// when Subscribe returns. The subscription goes stale when ctx ends.
func (b *Broadcaster) Subscribe(ctx context.Context) *Subscription {
	s := &Subscription{c: make(chan model.Location, 1), done: ctx.Done()}

	b.mu.Lock()
	defer b.mu.Unlock()
	s.c <- b.loc
	b.subs[s] = struct{}{}
	b.stats.Subscribers(len(b.subs))
	return s
}

// Unsubscribe removes s and closes its channel. It is safe to call more than once.
func (b *Broadcaster) Unsubscribe(s *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.subs[s]; !ok {
		return
	}
	delete(b.subs, s)
	close(s.c)
	b.stats.Subscribers(len(b.subs))
}

// Len returns the number of registered subscriptions, stale ones included.
func (b *Broadcaster) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
