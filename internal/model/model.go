// Package model defines domain entities used by services and repositories.
package model

import (
	"time"

	"github.com/gofrs/uuid/v5"
)

// Role is the identity's authorization role stored in the identity store.
type Role string

const (
	RoleClient Role = "client"
	RoleRider  Role = "rider"
	RoleAdmin  Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleRider, RoleAdmin:
		return true
	}
	return false
}

// RedirectHint is the landing path a client should navigate to after login.
// It is derived once, when the session token is issued.
func (r Role) RedirectHint() string {
	switch r {
	case RoleAdmin:
		return "/admin"
	case RoleRider:
		return "/rider"
	default:
		return "/client"
	}
}

// User represents an account stored on the server. Passwords are never stored in plaintext.
type User struct {
	ID            uuid.UUID // PK
	Name          string
	Email         string // unique identity key
	PwdHash       []byte // Argon2id(password, Salt)
	Salt          []byte // per-user salt
	Role          Role
	EmailVerified bool
	CreatedAt     time.Time
}

// Session is a signed session token together with the data it was derived from.
type Session struct {
	Token       string
	ExpiresAt   time.Time
	RedirectURL string
	User        User
}

// CredentialEntry is a pending one-time verification secret for an identity.
type CredentialEntry struct {
	Identity  string
	Secret    string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

// Location is the rider's last known position.
type Location struct {
	Lat       float64   `json:"lat"`
	Lon       float64   `json:"lon"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Valid reports whether the coordinates are within WGS84 bounds.
func (l Location) Valid() bool {
	return l.Lat >= -90 && l.Lat <= 90 && l.Lon >= -180 && l.Lon <= 180
}

// AuditEntry is an administrative action record appended best-effort.
type AuditEntry struct {
	Action      string
	PerformedBy string
	Target      string
	Details     string
	CreatedAt   time.Time
}
