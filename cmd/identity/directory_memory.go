package identity

import (
	"context"
	"strings"
	"sync"

	"rememberme/cmd/internal/auth/rememberme"
	"rememberme/cmd/security/password"
)

// MemoryDirectory is an in-process Directory for development and tests.
type MemoryDirectory struct {
	model  string
	fields []string
	pw     password.Config

	mu    sync.RWMutex
	users map[string]Record // id -> record
}

var _ Directory = (*MemoryDirectory)(nil)

// NewMemoryDirectory creates an empty directory for model, matching logins against fields.
func NewMemoryDirectory(model string, fields []string, pw password.Config) (*MemoryDirectory, error) {
	fs, err := parseLookupFields(fields)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultModel
	}
	return &MemoryDirectory{
		model:  model,
		fields: fs,
		pw:     pw,
		users:  make(map[string]Record),
	}, nil
}

// Model implements rememberme.IdentitySource.
func (d *MemoryDirectory) Model() string { return d.model }

// FindByUsername implements rememberme.IdentitySource.
func (d *MemoryDirectory) FindByUsername(ctx context.Context, username string) (rememberme.Identity, error) {
	r, err := d.Lookup(ctx, username)
	if err != nil {
		return nil, err
	}
	r.PasswordHash = ""
	return r, nil
}

// Lookup implements Directory.
func (d *MemoryDirectory) Lookup(ctx context.Context, login string) (Record, error) {
	const op = "identity.MemoryDirectory.Lookup"

	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if strings.TrimSpace(login) == "" {
		return Record{}, NotFoundError{Op: op, Resource: "user"}
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, f := range d.fields {
		want := normalizeFor(f, login)
		for _, r := range d.users {
			if v, ok := r.Field(f); ok && normalizeFor(f, v) == want {
				return r, nil
			}
		}
	}
	return Record{}, NotFoundError{Op: op, Resource: "user"}
}

// CreateUser implements Directory.
func (d *MemoryDirectory) CreateUser(ctx context.Context, in CreateUserInput) (Record, error) {
	const op = "identity.MemoryDirectory.CreateUser"

	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	rec, err := newRecord(op, d.model, in, d.pw)
	if err != nil {
		return Record{}, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	for _, u := range d.users {
		if rec.Username != "" && NormalizeUsername(u.Username) == NormalizeUsername(rec.Username) {
			return Record{}, ConflictError{Op: op, Field: FieldUsername}
		}
		if rec.Email != "" && NormalizeEmail(u.Email) == NormalizeEmail(rec.Email) {
			return Record{}, ConflictError{Op: op, Field: FieldEmail}
		}
	}
	d.users[rec.ID] = rec
	return rec, nil
}

// newRecord validates in, hashes the password and assigns an id.
func newRecord(op, model string, in CreateUserInput, pw password.Config) (Record, error) {
	username := strings.TrimSpace(in.Username)
	email := strings.TrimSpace(in.Email)

	switch {
	case username == "" && email == "":
		return Record{}, invalid(op, "username or email is required")
	case strings.Contains(username, "@"):
		return Record{}, invalid(op, "username must not contain @")
	case email != "" && !strings.Contains(email, "@"):
		return Record{}, invalid(op, "email is malformed")
	case len(username) > 64 || len(email) > 254:
		return Record{}, invalid(op, "username or email too long")
	}

	hash, err := pw.Hash(in.Password)
	if err != nil {
		return Record{}, invalid(op, err.Error())
	}

	now := in.Now
	if now.IsZero() {
		now = nowUTC()
	}
	id, err := NewULID(now)
	if err != nil {
		return Record{}, err
	}

	return Record{
		Model:        model,
		ID:           id,
		Username:     username,
		Email:        email,
		DisplayName:  strings.TrimSpace(in.DisplayName),
		PasswordHash: hash,
		CreatedAt:    now,
	}, nil
}
