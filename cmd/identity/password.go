package identity

import (
	"context"
	"fmt"
	"strings"
	"time"

	"rememberme/cmd/security/password"
)

func nowUTC() time.Time { return time.Now().UTC() }

// Authenticator checks primary-login credentials against a Directory.
type Authenticator struct {
	dir   Directory
	pw    password.Config
	dummy string
}

// NewAuthenticator precomputes a dummy hash so unknown users cost as much as wrong passwords.
func NewAuthenticator(dir Directory, pw password.Config) (*Authenticator, error) {
	if dir == nil {
		return nil, invalid("identity.NewAuthenticator", "nil directory")
	}
	dummy, err := pw.DummyHash()
	if err != nil {
		return nil, fmt.Errorf("identity: dummy hash: %w", err)
	}
	return &Authenticator{dir: dir, pw: pw, dummy: dummy}, nil
}

// Directory returns the underlying user directory.
func (a *Authenticator) Directory() Directory { return a.dir }

// CheckPassword returns the user for login when plain matches its password hash.
// Unknown users and wrong passwords both return ErrInvalidCredentials.
func (a *Authenticator) CheckPassword(ctx context.Context, login, plain string) (Record, error) {
	const op = "identity.CheckPassword"

	if strings.TrimSpace(login) == "" || plain == "" {
		return Record{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}

	rec, err := a.dir.Lookup(ctx, login)
	if err != nil && !IsNotFound(err) {
		return Record{}, err
	}

	hash := rec.PasswordHash
	if err != nil || hash == "" {
		hash = a.dummy
	}

	ok, verr := a.pw.Verify(hash, plain)
	if err != nil || rec.PasswordHash == "" || verr != nil || !ok {
		return Record{}, OpError{Op: op, Kind: ErrInvalidCredentials}
	}

	rec.PasswordHash = ""
	return rec, nil
}
