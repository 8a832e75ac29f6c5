package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"rememberme/cmd/internal/auth/rememberme"
	"rememberme/cmd/security/password"
)

func cheapPasswords() password.Config {
	cfg := password.DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func mustMemoryDirectory(t *testing.T, fields ...string) *MemoryDirectory {
	t.Helper()
	d, err := NewMemoryDirectory("", fields, cheapPasswords())
	if err != nil {
		t.Fatalf("NewMemoryDirectory: %v", err)
	}
	return d
}

func TestMemoryDirectory_CreateAndLookup(t *testing.T) {
	t.Parallel()

	d := mustMemoryDirectory(t, "username", "email")
	ctx := context.Background()

	rec, err := d.CreateUser(ctx, CreateUserInput{
		Username: "Bar",
		Email:    "bar@example.com",
		Password: "very-strong-password-1",
		Now:      time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if rec.Model != DefaultModel || rec.ID == "" || rec.PasswordHash == "" {
		t.Fatalf("unexpected record: %+v", rec)
	}

	for _, login := range []string{"bar", " BAR ", "Bar@Example.com"} {
		got, err := d.Lookup(ctx, login)
		if err != nil {
			t.Fatalf("Lookup(%q): %v", login, err)
		}
		if got.ID != rec.ID {
			t.Fatalf("Lookup(%q) returned %s want %s", login, got.ID, rec.ID)
		}
	}

	id, err := d.FindByUsername(ctx, "bar")
	if err != nil {
		t.Fatalf("FindByUsername: %v", err)
	}
	if id.PrimaryKey() != rec.ID || id.Source() != DefaultModel {
		t.Fatalf("unexpected identity: %v", id)
	}
	if u, ok := id.Field("username"); !ok || u != "Bar" {
		t.Fatalf("username field = %q, %v", u, ok)
	}
	if r, ok := id.(Record); !ok || r.PasswordHash != "" {
		t.Fatalf("FindByUsername must not expose the password hash: %#v", id)
	}

	again, err := d.Lookup(ctx, "bar")
	if err != nil || again.PasswordHash == "" {
		t.Fatalf("stored hash lost after FindByUsername: %v", err)
	}
}

func TestMemoryDirectory_UsernameOnlyIgnoresEmail(t *testing.T) {
	t.Parallel()

	d := mustMemoryDirectory(t)
	ctx := context.Background()

	if _, err := d.CreateUser(ctx, CreateUserInput{Username: "foo", Email: "foo@example.com", Password: "very-strong-password-1"}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	_, err := d.Lookup(ctx, "foo@example.com")
	if !IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
	if !errors.Is(err, rememberme.ErrIdentityNotFound) {
		t.Fatalf("expected rememberme.ErrIdentityNotFound, got %v", err)
	}
}

func TestMemoryDirectory_Conflicts(t *testing.T) {
	t.Parallel()

	d := mustMemoryDirectory(t, "username", "email")
	ctx := context.Background()

	if _, err := d.CreateUser(ctx, CreateUserInput{Username: "Navid", Email: "n@example.com", Password: "very-strong-password-1"}); err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	_, err := d.CreateUser(ctx, CreateUserInput{Username: "nAvId", Password: "very-strong-password-2"})
	var ce ConflictError
	if !errors.As(err, &ce) || ce.Field != FieldUsername {
		t.Fatalf("expected username conflict, got %v", err)
	}

	_, err = d.CreateUser(ctx, CreateUserInput{Username: "other", Email: "N@EXAMPLE.com", Password: "very-strong-password-2"})
	if !errors.As(err, &ce) || ce.Field != FieldEmail {
		t.Fatalf("expected email conflict, got %v", err)
	}
}

func TestMemoryDirectory_InvalidInput(t *testing.T) {
	t.Parallel()

	d := mustMemoryDirectory(t)
	ctx := context.Background()

	cases := []CreateUserInput{
		{Password: "very-strong-password-1"},
		{Username: "a@b", Password: "very-strong-password-1"},
		{Email: "not-an-email", Password: "very-strong-password-1"},
		{Username: "shorty", Password: "short"},
	}
	for _, in := range cases {
		if _, err := d.CreateUser(ctx, in); !IsInvalidInput(err) {
			t.Fatalf("CreateUser(%+v): expected invalid input, got %v", in, err)
		}
	}
}

func TestParseLookupFields(t *testing.T) {
	t.Parallel()

	got, err := parseLookupFields([]string{" Email ", "username", "email", ""})
	if err != nil {
		t.Fatalf("parseLookupFields: %v", err)
	}
	if len(got) != 2 || got[0] != FieldEmail || got[1] != FieldUsername {
		t.Fatalf("unexpected fields: %v", got)
	}

	got, err = parseLookupFields(nil)
	if err != nil || len(got) != 1 || got[0] != FieldUsername {
		t.Fatalf("expected default username field, got %v, %v", got, err)
	}

	if _, err := parseLookupFields([]string{"phone"}); !IsInvalidInput(err) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}
