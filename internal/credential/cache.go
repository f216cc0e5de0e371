// Package credential implements the in-memory store of one-time verification codes.
//
// Entries live only in process memory: a restart drops every pending verification.
package credential

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/and161185/alurea-fulfillment/internal/errs"
	"github.com/and161185/alurea-fulfillment/internal/model"
)

// DefaultTTL is how long an issued code stays valid.
const DefaultTTL = 5 * time.Minute

const codeSpace = 1_000_000 // 6 decimal digits

// Cache maps an identity to its single pending code.
type Cache struct {
	mu      sync.Mutex
	entries map[string]model.CredentialEntry
	ttl     time.Duration
	now     func() time.Time
}

// Option customizes a Cache.
type Option func(*Cache)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithClock injects the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// New constructs an empty cache.
func New(opts ...Option) *Cache {
	c := &Cache{
		entries: make(map[string]model.CredentialEntry),
		ttl:     DefaultTTL,
		now:     time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Issue generates a fresh code for identity, replacing any pending one.
func (c *Cache) Issue(identity string) (string, error) {
	secret, err := randomCode()
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	now := c.now()

	c.mu.Lock()
	c.entries[identity] = model.CredentialEntry{
		Identity:  identity,
		Secret:    secret,
		IssuedAt:  now,
		ExpiresAt: now.Add(c.ttl),
	}
	c.mu.Unlock()

	return secret, nil
}

// Verify consumes the pending code for identity.
// A mismatch keeps the entry so the caller can retry inside the window;
// an expired entry is removed even when the candidate is correct.
func (c *Cache) Verify(identity, candidate string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[identity]
	if !ok {
		return errs.ErrNotFound
	}
	if subtle.ConstantTimeCompare([]byte(e.Secret), []byte(candidate)) != 1 {
		return errs.ErrMismatch
	}
	delete(c.entries, identity)
	if c.now().After(e.ExpiresAt) {
		return errs.ErrExpired
	}
	return nil
}

// Pending reports whether identity has an unexpired code.
func (c *Cache) Pending(identity string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[identity]
	return ok && !c.now().After(e.ExpiresAt)
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep drops expired entries and returns how many were removed.
func (c *Cache) Sweep() int {
	now := c.now()
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for k, e := range c.entries {
		if now.After(e.ExpiresAt) {
			delete(c.entries, k)
			n++
		}
	}
	return n
}

// Run sweeps every interval until ctx is done.
func (c *Cache) Run(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			c.Sweep()
		}
	}
}

func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(codeSpace))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
