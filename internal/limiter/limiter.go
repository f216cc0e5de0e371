// Package limiter throttles repeated authentication failures per identity and client.
package limiter

import (
	"context"
	"crypto/sha256"
	"time"
)

// Scopes separate counters for different kinds of attempts.
const (
	ScopePassword = "password"
	ScopeOTP      = "otp"
)

// Limiter controls attempts and temporary lockouts.
type Limiter interface {
	// Allow reports whether an attempt is currently allowed and, if not, for how long it stays blocked.
	Allow(ctx context.Context, scope, identity string, ipHash []byte) (bool, time.Duration, error)
	// Success resets counters.
	Success(ctx context.Context, scope, identity string, ipHash []byte) error
	// Failure records a failed attempt and reports whether it placed a block.
	Failure(ctx context.Context, scope, identity string, ipHash []byte) (bool, time.Duration, error)
}

// HashIP returns a stable hash for an IP string so raw addresses are not stored.
func HashIP(ip string) []byte {
	h := sha256.Sum256([]byte(ip))
	return h[:]
}
