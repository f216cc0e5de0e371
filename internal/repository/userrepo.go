// Package repository defines storage interfaces implemented by concrete backends.
package repository

import (
	"context"

	"github.com/and161185/alurea-fulfillment/internal/model"
)

// UserRepository is the identity store.
type UserRepository interface {
	// Create inserts a new user; ErrAlreadyExists when the email is taken.
	Create(ctx context.Context, u *model.User) error
	// GetByEmail loads a user by email.
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	// MarkVerified flags the email as confirmed.
	MarkVerified(ctx context.Context, email string) error
	// SetRole replaces the user's role.
	SetRole(ctx context.Context, email string, role model.Role) error
	// UpdateProfile changes the display name and, when pwdHash is non-empty, the password.
	UpdateProfile(ctx context.Context, email, name string, pwdHash, salt []byte) error
}

// AuditRepository appends administrative audit records.
type AuditRepository interface {
	Append(ctx context.Context, e model.AuditEntry) error
}
