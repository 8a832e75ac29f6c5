package identity

import (
	"context"
	"log/slog"
	"time"

	"rememberme/cmd/internal/auth/rememberme"
)

// DefaultModel is the owner model of the users table.
const DefaultModel = "users"

// Record is a user row. It implements rememberme.Identity.
type Record struct {
	Model        string
	ID           string
	Username     string
	Email        string
	DisplayName  string
	PasswordHash string `json:"-"`
	CreatedAt    time.Time
}

var _ rememberme.Identity = Record{}

// Field returns a non-empty string attribute by name.
func (r Record) Field(name string) (string, bool) {
	var v string
	switch name {
	case "id":
		v = r.ID
	case FieldUsername:
		v = r.Username
	case FieldEmail:
		v = r.Email
	case "display_name":
		v = r.DisplayName
	}
	return v, v != ""
}

// Source implements rememberme.Identity.
func (r Record) Source() string { return r.Model }

// PrimaryKey implements rememberme.Identity.
func (r Record) PrimaryKey() string { return r.ID }

// LogValue keeps the password hash out of logs.
func (r Record) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("model", r.Model),
		slog.String("id", r.ID),
		slog.String("username", r.Username),
	)
}

// CreateUserInput describes a user registration request.
// At least one of Username or Email must be provided.
type CreateUserInput struct {
	Username    string
	Email       string
	DisplayName string
	Password    string
	Now         time.Time
}

// Directory is a user store usable both as a remember-me identity source and by the
// password login.
type Directory interface {
	rememberme.IdentitySource

	// Lookup finds a user by login value across the configured lookup fields.
	// The returned Record carries the password hash.
	Lookup(ctx context.Context, login string) (Record, error)

	CreateUser(ctx context.Context, in CreateUserInput) (Record, error)
}
