package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/and161185/alurea-fulfillment/internal/errs"
	"github.com/and161185/alurea-fulfillment/internal/model"
)

// UserRepo implements repository.UserRepository.
type UserRepo struct{ db *DB }

// NewUserRepo constructs a user repository.
func NewUserRepo(db *DB) *UserRepo { return &UserRepo{db: db} }

// Create inserts a new user row.
func (r *UserRepo) Create(ctx context.Context, u *model.User) error {
	const q = `
INSERT INTO users (id, name, email, pwd_hash, salt, role, email_verified)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := r.db.Pool.Exec(ctx, q, u.ID, u.Name, u.Email, u.PwdHash, u.Salt, string(u.Role), u.EmailVerified)
	if isUniqueViolation(err) {
		return errs.ErrAlreadyExists
	}
	return err
}

// GetByEmail selects a user by email.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	const q = `
SELECT id, name, email, pwd_hash, salt, role, email_verified, created_at
FROM users WHERE email=$1`
	var (
		u    model.User
		role string
	)
	err := r.db.Pool.QueryRow(ctx, q, email).
		Scan(&u.ID, &u.Name, &u.Email, &u.PwdHash, &u.Salt, &role, &u.EmailVerified, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, errs.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	u.Role = model.Role(role)
	return &u, nil
}

// MarkVerified sets email_verified.
func (r *UserRepo) MarkVerified(ctx context.Context, email string) error {
	const q = `UPDATE users SET email_verified = true WHERE email=$1`
	tag, err := r.db.Pool.Exec(ctx, q, email)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// SetRole updates the role of an existing user.
func (r *UserRepo) SetRole(ctx context.Context, email string, role model.Role) error {
	const q = `UPDATE users SET role=$2 WHERE email=$1`
	tag, err := r.db.Pool.Exec(ctx, q, email, string(role))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}

// UpdateProfile sets name when non-empty and the password when a new hash is given.
func (r *UserRepo) UpdateProfile(ctx context.Context, email, name string, pwdHash, salt []byte) error {
	const q = `
UPDATE users
SET name     = COALESCE(NULLIF($2, ''), name),
    pwd_hash = CASE WHEN octet_length($3::bytea) > 0 THEN $3 ELSE pwd_hash END,
    salt     = CASE WHEN octet_length($3::bytea) > 0 THEN $4 ELSE salt END
WHERE email = $1`
	tag, err := r.db.Pool.Exec(ctx, q, email, name, pwdHash, salt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}
	return nil
}
