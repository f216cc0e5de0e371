// Package service contains the application services behind the HTTP API.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	pkgcrypto "github.com/and161185/alurea-fulfillment/internal/crypto"
	"github.com/and161185/alurea-fulfillment/internal/errs"
	"github.com/and161185/alurea-fulfillment/internal/limiter"
	"github.com/and161185/alurea-fulfillment/internal/logging"
	"github.com/and161185/alurea-fulfillment/internal/model"
	"github.com/and161185/alurea-fulfillment/internal/notify"
	"github.com/and161185/alurea-fulfillment/internal/repository"
)

// DefaultTokenTTL is the fixed session lifetime.
const DefaultTokenTTL = 24 * time.Hour

const minPasswordLen = 6

// tokenLeeway tolerates small clock skew between issuer and verifier.
const tokenLeeway = 30 * time.Second

// CodeStore issues and consumes one-time codes. Implemented by *credential.Cache.
type CodeStore interface {
	Issue(identity string) (string, error)
	Verify(identity, candidate string) error
}

// CodeSender delivers a code out of band.
type CodeSender interface {
	SendCode(ctx context.Context, to, code, purpose string) error
}

// AuthRecorder receives verification outcomes.
type AuthRecorder interface {
	Verification(purpose, outcome string)
}

type nopAuthRecorder struct{}

func (nopAuthRecorder) Verification(string, string) {}

// Claims is the session token payload.
type Claims struct {
	Email string     `json:"email"`
	Role  model.Role `json:"role"`
	jwt.RegisteredClaims
}

// UserID parses the subject.
func (c *Claims) UserID() uuid.UUID {
	id, _ := uuid.FromString(c.Subject)
	return id
}

// AuthService implements registration, two-step login and session tokens.
type AuthService struct {
	users    repository.UserRepository
	codes    CodeStore
	sender   CodeSender
	lim      limiter.Limiter
	audit    repository.AuditRepository
	rec      AuthRecorder
	signKey  []byte
	tokenTTL time.Duration
	now      func() time.Time
}

// AuthOption customizes AuthService.
type AuthOption func(*AuthService)

// WithAudit records role changes.
func WithAudit(a repository.AuditRepository) AuthOption {
	return func(s *AuthService) { s.audit = a }
}

// WithAuthRecorder attaches a metrics sink.
func WithAuthRecorder(r AuthRecorder) AuthOption {
	return func(s *AuthService) {
		if r != nil {
			s.rec = r
		}
	}
}

// WithTokenTTL overrides DefaultTokenTTL.
func WithTokenTTL(ttl time.Duration) AuthOption {
	return func(s *AuthService) {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
	}
}

// WithAuthClock injects the time source used for tokens.
func WithAuthClock(now func() time.Time) AuthOption {
	return func(s *AuthService) { s.now = now }
}

// NewAuthService constructs AuthService with required dependencies.
func NewAuthService(
	users repository.UserRepository,
	codes CodeStore,
	sender CodeSender,
	lim limiter.Limiter,
	signKey []byte,
	opts ...AuthOption,
) *AuthService {
	s := &AuthService{
		users:    users,
		codes:    codes,
		sender:   sender,
		lim:      lim,
		rec:      nopAuthRecorder{},
		signKey:  signKey,
		tokenTTL: DefaultTokenTTL,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NormalizeEmail lower-cases and trims an address; identities are compared in this form.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	a, err := mail.ParseAddress(email)
	return err == nil && a.Address == email
}

// Register stores an unverified client account and sends the verification code.
func (s *AuthService) Register(ctx context.Context, name, email, password string) (*model.User, error) {
	name = strings.TrimSpace(name)
	email = NormalizeEmail(email)
	if name == "" || !validEmail(email) || len(password) < minPasswordLen {
		return nil, fmt.Errorf("register: name, email and a password of %d+ characters are required: %w",
			minPasswordLen, errs.ErrInvalidArgument)
	}

	if _, err := s.users.GetByEmail(ctx, email); err == nil {
		return nil, errs.ErrAlreadyExists
	} else if !errors.Is(err, errs.ErrNotFound) {
		return nil, err
	}

	hash, salt, err := pkgcrypto.NewPassword(password)
	if err != nil {
		return nil, err
	}
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	u := &model.User{
		ID:        id,
		Name:      name,
		Email:     email,
		PwdHash:   hash,
		Salt:      salt,
		Role:      model.RoleClient,
		CreatedAt: s.now().UTC(),
	}
	if err := s.users.Create(ctx, u); err != nil {
		return nil, err
	}
	if err := s.sendCode(ctx, email, notify.PurposeRegistration); err != nil {
		return nil, err
	}
	return u, nil
}

// VerifyEmail consumes the registration code and marks the address verified.
func (s *AuthService) VerifyEmail(ctx context.Context, email, code, ip string) error {
	email = NormalizeEmail(email)
	if err := s.consumeCode(ctx, email, code, ip, notify.PurposeRegistration); err != nil {
		return err
	}
	return s.users.MarkVerified(ctx, email)
}

// Login checks the password and sends a login code. No session is issued here.
// An unverified account gets a new registration code and ErrNotVerified.
func (s *AuthService) Login(ctx context.Context, email, password, ip string) error {
	email = NormalizeEmail(email)
	ipHash := limiter.HashIP(ip)

	allowed, _, err := s.lim.Allow(ctx, limiter.ScopePassword, email, ipHash)
	if err != nil {
		return err
	}
	if !allowed {
		return errs.ErrRateLimited
	}

	u, err := s.users.GetByEmail(ctx, email)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return err
	}
	if err != nil || !pkgcrypto.VerifyPassword(password, u.Salt, u.PwdHash) {
		if blocked, _, ferr := s.lim.Failure(ctx, limiter.ScopePassword, email, ipHash); ferr == nil && blocked {
			return errs.ErrRateLimited
		}
		// unknown email and wrong password look the same
		return errs.ErrUnauthorized
	}
	s.resetLimit(ctx, limiter.ScopePassword, email, ipHash)

	if !u.EmailVerified {
		// a fresh registration code replaces one that expired or was never delivered
		if err := s.sendCode(ctx, email, notify.PurposeRegistration); err != nil {
			return err
		}
		return errs.ErrNotVerified
	}
	return s.sendCode(ctx, email, notify.PurposeLogin)
}

// VerifyLogin consumes the login code and issues a session.
func (s *AuthService) VerifyLogin(ctx context.Context, email, code, ip string) (*model.Session, error) {
	email = NormalizeEmail(email)
	if err := s.consumeCode(ctx, email, code, ip, notify.PurposeLogin); err != nil {
		return nil, err
	}
	u, err := s.users.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	return s.issueSession(u)
}

// SetRole changes a user's role. actor is recorded in the audit log.
func (s *AuthService) SetRole(ctx context.Context, actor, email string, role model.Role) error {
	if !role.Valid() {
		return fmt.Errorf("role %q: %w", role, errs.ErrInvalidArgument)
	}
	email = NormalizeEmail(email)
	if err := s.users.SetRole(ctx, email, role); err != nil {
		return err
	}
	s.record(ctx, model.AuditEntry{
		Action:      "user.role",
		PerformedBy: actor,
		Target:      email,
		Details:     "role=" + string(role),
	})
	return nil
}

// UpdateProfile changes the caller's display name and/or password.
func (s *AuthService) UpdateProfile(ctx context.Context, email, name, password string) error {
	name = strings.TrimSpace(name)
	if name == "" && password == "" {
		return fmt.Errorf("nothing to update: %w", errs.ErrInvalidArgument)
	}
	var hash, salt []byte
	if password != "" {
		if len(password) < minPasswordLen {
			return fmt.Errorf("password too short: %w", errs.ErrInvalidArgument)
		}
		var err error
		if hash, salt, err = pkgcrypto.NewPassword(password); err != nil {
			return err
		}
	}
	return s.users.UpdateProfile(ctx, NormalizeEmail(email), name, hash, salt)
}

// ParseToken validates a session token and returns its claims.
func (s *AuthService) ParseToken(token string) (*Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return s.signKey, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(tokenLeeway),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return nil, errs.ErrUnauthorized
	}
	if !claims.Role.Valid() || claims.UserID() == uuid.Nil {
		return nil, errs.ErrUnauthorized
	}
	return &claims, nil
}

// issueSession signs an HS256 token. The role and redirect hint are fixed for the token lifetime.
func (s *AuthService) issueSession(u *model.User) (*model.Session, error) {
	now := s.now()
	exp := now.Add(s.tokenTTL)
	claims := Claims{
		Email: u.Email,
		Role:  u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signKey)
	if err != nil {
		return nil, fmt.Errorf("sign token: %w", err)
	}
	return &model.Session{
		Token:       signed,
		ExpiresAt:   exp,
		RedirectURL: u.Role.RedirectHint(),
		User:        *u,
	}, nil
}

// sendCode writes the code to the store first and delivers it afterwards.
func (s *AuthService) sendCode(ctx context.Context, email, purpose string) error {
	code, err := s.codes.Issue(email)
	if err != nil {
		return err
	}
	if err := s.sender.SendCode(ctx, email, code, purpose); err != nil {
		return fmt.Errorf("deliver %s code: %w", purpose, err)
	}
	return nil
}

// consumeCode verifies a code behind the otp limiter. Every mismatch counts as a failure.
func (s *AuthService) consumeCode(ctx context.Context, email, code, ip, purpose string) error {
	ipHash := limiter.HashIP(ip)
	allowed, _, err := s.lim.Allow(ctx, limiter.ScopeOTP, email, ipHash)
	if err != nil {
		return err
	}
	if !allowed {
		s.rec.Verification(purpose, "rate_limited")
		return errs.ErrRateLimited
	}

	err = s.codes.Verify(email, code)
	s.rec.Verification(purpose, outcome(err))
	switch {
	case err == nil:
		s.resetLimit(ctx, limiter.ScopeOTP, email, ipHash)
		return nil
	case errors.Is(err, errs.ErrMismatch):
		if blocked, _, ferr := s.lim.Failure(ctx, limiter.ScopeOTP, email, ipHash); ferr == nil && blocked {
			return errs.ErrRateLimited
		} else if ferr != nil {
			logging.FromContext(ctx).Warn("record otp failure", zap.Error(ferr))
		}
		return err
	default:
		return err
	}
}

func (s *AuthService) resetLimit(ctx context.Context, scope, email string, ipHash []byte) {
	if err := s.lim.Success(ctx, scope, email, ipHash); err != nil {
		logging.FromContext(ctx).Warn("reset attempt limit", zap.String("scope", scope), zap.Error(err))
	}
}

func (s *AuthService) record(ctx context.Context, e model.AuditEntry) {
	if s.audit == nil {
		return
	}
	if err := s.audit.Append(ctx, e); err != nil {
		logging.FromContext(ctx).Warn("audit append failed", zap.String("action", e.Action), zap.Error(err))
	}
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, errs.ErrMismatch):
		return "mismatch"
	case errors.Is(err, errs.ErrExpired):
		return "expired"
	case errors.Is(err, errs.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
