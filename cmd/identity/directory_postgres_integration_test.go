package identity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rememberme/cmd/internal/auth/rememberme"
)

// Integration tests are opt-in and require REMEMBERME_DATABASE_URL.
// In non-CI runs, unreachable Postgres skips these tests to keep local runs fast.

func TestPostgresDirectory_CreateUser_ConflictUsername_CaseInsensitive(t *testing.T) {
	t.Parallel()

	d, _, _ := mustNewTestDirectory(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	_, err := d.CreateUser(ctx, CreateUserInput{
		Username: "Navid",
		Password: "very-strong-password-1",
		Now:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("create user 1: %v", err)
	}

	// Same username (case-insensitive) should conflict.
	_, err = d.CreateUser(ctx, CreateUserInput{
		Username: "nAvId",
		Password: "very-strong-password-2",
		Now:      time.Now().UTC(),
	})
	if !IsConflict(err) {
		t.Fatalf("expected conflict error, got: %v", err)
	}
	var ce ConflictError
	if !errors.As(err, &ce) || ce.Field != FieldUsername {
		t.Fatalf("expected username conflict, got: %v", err)
	}
}

func TestPostgresDirectory_CreateUser_ConflictEmail_CaseInsensitive(t *testing.T) {
	t.Parallel()

	d, _, _ := mustNewTestDirectory(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if _, err := d.CreateUser(ctx, CreateUserInput{
		Email:    "User@Example.com",
		Password: "very-strong-password-1",
	}); err != nil {
		t.Fatalf("create user 1: %v", err)
	}

	_, err := d.CreateUser(ctx, CreateUserInput{
		Email:    "user@EXAMPLE.com",
		Password: "very-strong-password-2",
	})
	var ce ConflictError
	if !errors.As(err, &ce) || ce.Field != FieldEmail {
		t.Fatalf("expected email conflict, got: %v", err)
	}
}

func TestPostgresDirectory_Lookup_ByConfiguredFields(t *testing.T) {
	t.Parallel()

	d, pool, schema := mustNewTestDirectory(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	rec, err := d.CreateUser(ctx, CreateUserInput{
		Username:    "Bar",
		Email:       "bar@example.com",
		DisplayName: "Bar Baz",
		Password:    "very-strong-password-1",
	})
	if err != nil {
		t.Fatalf("create user: %v", err)
	}

	got, err := d.Lookup(ctx, " BAR ")
	if err != nil {
		t.Fatalf("lookup by username: %v", err)
	}
	if got.ID != rec.ID || got.DisplayName != "Bar Baz" || got.PasswordHash == "" {
		t.Fatalf("unexpected record: %+v", got)
	}

	// Username-only directory must not match the email.
	if _, err := d.Lookup(ctx, "bar@example.com"); !IsNotFound(err) {
		t.Fatalf("expected not found for email on username-only directory, got: %v", err)
	}

	both, err := NewPostgresDirectory(pool, WithSchema(schema), WithLookupFields("username", "email"))
	if err != nil {
		t.Fatalf("new directory: %v", err)
	}
	got, err = both.Lookup(ctx, "BAR@example.com")
	if err != nil {
		t.Fatalf("lookup by email: %v", err)
	}
	if got.ID != rec.ID {
		t.Fatalf("lookup by email returned %s want %s", got.ID, rec.ID)
	}

	id, err := d.FindByUsername(ctx, "bar")
	if err != nil {
		t.Fatalf("find by username: %v", err)
	}
	if r, ok := id.(Record); !ok || r.PasswordHash != "" {
		t.Fatalf("FindByUsername must not expose the password hash: %#v", id)
	}

	_, err = d.FindByUsername(ctx, "nobody")
	if !errors.Is(err, rememberme.ErrIdentityNotFound) {
		t.Fatalf("expected rememberme.ErrIdentityNotFound, got: %v", err)
	}
}

func TestPostgresDirectory_FindBySeries_JoinsTokenRow(t *testing.T) {
	t.Parallel()

	d, pool, schema := mustNewTestDirectory(t)

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	alice, err := d.CreateUser(ctx, CreateUserInput{Username: "alice", Password: "very-strong-password-1"})
	if err != nil {
		t.Fatalf("create alice: %v", err)
	}
	if _, err := d.CreateUser(ctx, CreateUserInput{Username: "bob", Password: "very-strong-password-2"}); err != nil {
		t.Fatalf("create bob: %v", err)
	}

	store, err := rememberme.NewPostgresStore(pool, rememberme.WithSchema(schema))
	if err != nil {
		t.Fatalf("new token store: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	row := &rememberme.Token{
		OwnerModel: DefaultModel,
		OwnerID:    alice.ID,
		Series:     "series-a",
		TokenHash:  strings.Repeat("ab", 32),
		Expires:    now.Add(time.Hour),
	}
	if err := store.Save(ctx, row, now); err != nil {
		t.Fatalf("save token: %v", err)
	}

	id, tok, err := d.FindBySeries(ctx, "ALICE", "series-a")
	if err != nil {
		t.Fatalf("find by series: %v", err)
	}
	if id.PrimaryKey() != alice.ID || tok.ID != row.ID || tok.OwnerID != alice.ID || tok.TokenHash != row.TokenHash {
		t.Fatalf("unexpected join result: %v / %v", id, tok)
	}
	if !tok.Expires.Equal(row.Expires) {
		t.Fatalf("expires = %v want %v", tok.Expires, row.Expires)
	}

	// Alice's series is invisible through Bob's username.
	_, _, err = d.FindBySeries(ctx, "bob", "series-a")
	if !errors.Is(err, rememberme.ErrTokenNotFound) {
		t.Fatalf("expected ErrTokenNotFound for foreign series, got: %v", err)
	}

	_, _, err = d.FindBySeries(ctx, "nobody", "series-a")
	if !errors.Is(err, rememberme.ErrIdentityNotFound) {
		t.Fatalf("expected ErrIdentityNotFound, got: %v", err)
	}
}

func TestNewPostgresDirectory_RejectsBadOptions(t *testing.T) {
	t.Parallel()

	cases := []PostgresOption{
		WithSchema(""),
		WithSchema("bad-schema"),
		WithModel("  "),
		WithLookupFields("phone"),
	}
	for i, opt := range cases {
		if _, err := NewPostgresDirectory(nil, opt); !IsInvalidInput(err) {
			t.Fatalf("case %d: expected invalid input, got %v", i, err)
		}
	}
	if _, err := NewPostgresDirectory(nil); !IsInvalidInput(err) {
		t.Fatalf("nil pool: expected invalid input, got %v", err)
	}
}

// ---- helpers ----

func mustNewTestDirectory(t *testing.T) (*PostgresDirectory, *pgxpool.Pool, string) {
	t.Helper()

	pool := mustOpenTestPool(t)
	t.Cleanup(pool.Close)

	schema := mustCreateTestSchema(t, pool)
	t.Cleanup(func() { mustDropSchema(t, pool, schema) })
	mustApplyIdentitySchema(t, pool, schema)

	d, err := NewPostgresDirectory(pool, WithSchema(schema), WithPasswordConfig(cheapPasswords()))
	if err != nil {
		t.Fatalf("new directory: %v", err)
	}
	return d, pool, schema
}

func mustOpenTestPool(t *testing.T) *pgxpool.Pool {
	t.Helper()

	raw := strings.TrimSpace(os.Getenv("REMEMBERME_DATABASE_URL"))
	if raw == "" {
		t.Skip("integration test skipped: REMEMBERME_DATABASE_URL is not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 12*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(raw)
	if err != nil {
		t.Fatalf("parse REMEMBERME_DATABASE_URL: %v", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("connect postgres: %v", err)
	}

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer pingCancel()

	c, err := pool.Acquire(pingCtx)
	if err != nil {
		pool.Close()
		if shouldSkipIntegration(err) {
			t.Skipf("integration test skipped: Postgres unreachable: %v", err)
		}
		t.Fatalf("acquire: %v", err)
	}
	c.Release()

	return pool
}

func mustCreateTestSchema(t *testing.T, pool *pgxpool.Pool) string {
	t.Helper()

	id, err := NewULID(time.Now().UTC())
	if err != nil {
		t.Fatalf("ulid: %v", err)
	}
	schema := "id_it_" + strings.ToLower(id)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if _, err := pool.Exec(ctx, `CREATE SCHEMA `+pgx.Identifier{schema}.Sanitize()); err != nil {
		t.Fatalf("create schema: %v", err)
	}
	return schema
}

func mustDropSchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, _ = pool.Exec(ctx, `DROP SCHEMA IF EXISTS `+pgx.Identifier{schema}.Sanitize()+` CASCADE`)
}

// mustApplyIdentitySchema mirrors users, user_credentials and remember_me_tokens
// from the embedded migrations.
func mustApplyIdentitySchema(t *testing.T, pool *pgxpool.Pool, schema string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	users := pgx.Identifier{schema, "users"}.Sanitize()
	creds := pgx.Identifier{schema, "user_credentials"}.Sanitize()
	tokens := pgx.Identifier{schema, "remember_me_tokens"}.Sanitize()

	ddl := fmt.Sprintf(`
CREATE TABLE %s (
  id TEXT PRIMARY KEY,
  username TEXT NULL,
  username_norm TEXT NULL,
  email TEXT NULL,
  email_norm TEXT NULL,
  display_name TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT chk_users_id_ulid_len CHECK (char_length(id) = 26),
  CONSTRAINT uq_users_username_norm UNIQUE (username_norm),
  CONSTRAINT uq_users_email_norm UNIQUE (email_norm)
);

CREATE TABLE %s (
  user_id TEXT PRIMARY KEY REFERENCES %s(id) ON DELETE CASCADE,
  password_hash TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE %s (
  id TEXT PRIMARY KEY,
  owner_model VARCHAR(64) NOT NULL,
  owner_id VARCHAR(36) NOT NULL,
  series VARCHAR(64) NOT NULL,
  token_hash VARCHAR(255) NOT NULL,
  expires TIMESTAMPTZ NOT NULL,
  created TIMESTAMPTZ NOT NULL DEFAULT now(),
  modified TIMESTAMPTZ NOT NULL DEFAULT now(),

  CONSTRAINT uq_remember_me_tokens_owner_series UNIQUE (owner_model, owner_id, series)
);
`, users, creds, users, tokens)

	if _, err := pool.Exec(ctx, ddl); err != nil {
		t.Fatalf("apply schema: %v", err)
	}
}

func shouldSkipIntegration(err error) bool {
	if err == nil {
		return false
	}
	if os.Getenv("CI") != "" {
		return false
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "context deadline exceeded") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "dial tcp") ||
		strings.Contains(msg, "no such host")
}
