// Package errs contains sentinel errors used across layers for stable error mapping.
package errs

import "errors"

// Common sentinels across repo/service layers.
var (
	// ErrNotFound indicates the requested entity (identity, order, item) does not exist.
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a concurrent modification won the race (e.g. order status changed underneath).
	ErrConflict = errors.New("conflict")

	// ErrInsufficientStock indicates a reservation would drive available stock below zero.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrExpired indicates a one-time credential was presented after its window.
	ErrExpired = errors.New("credential expired")

	// ErrMismatch indicates a one-time credential did not match the pending secret.
	ErrMismatch = errors.New("credential mismatch")

	// ErrInvalidTransition indicates the order state machine has no edge to the target state.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrMissingProof indicates a transition to Delivered without a proof attachment.
	ErrMissingProof = errors.New("missing proof of delivery")

	// ErrUnauthorized indicates failed authentication (missing/invalid session or bad credentials).
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden indicates an authenticated caller whose role does not permit the operation.
	ErrForbidden = errors.New("forbidden")

	// ErrRateLimited indicates a temporary lock due to too many failed attempts.
	ErrRateLimited = errors.New("rate limited")

	// ErrAlreadyExists indicates a unique constraint violation (e.g., email taken).
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotVerified indicates login by an identity whose email has not been verified yet.
	ErrNotVerified = errors.New("email not verified")

	// ErrInvalidArgument indicates a request that failed validation.
	ErrInvalidArgument = errors.New("invalid argument")
)
