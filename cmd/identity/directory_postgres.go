package identity

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"rememberme/cmd/internal/auth/rememberme"
	"rememberme/cmd/security/password"
)

// PostgresDirectory implements Directory on <schema>.users and <schema>.user_credentials.
// It also implements rememberme.SeriesFinder against <schema>.remember_me_tokens.
type PostgresDirectory struct {
	pool   *pgxpool.Pool
	schema string
	model  string
	fields []string
	pw     password.Config
}

var (
	_ Directory               = (*PostgresDirectory)(nil)
	_ rememberme.SeriesFinder = (*PostgresDirectory)(nil)
)

// PostgresOption configures the directory.
type PostgresOption func(*PostgresDirectory) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema (default "rememberme").
func WithSchema(schema string) PostgresOption {
	return func(d *PostgresDirectory) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return invalid("identity.WithSchema", "empty schema")
		}
		if !pgIdentRe.MatchString(schema) {
			return invalid("identity.WithSchema", "invalid schema identifier")
		}
		d.schema = schema
		return nil
	}
}

// WithModel sets the owner model reported for records (default "users").
func WithModel(model string) PostgresOption {
	return func(d *PostgresDirectory) error {
		if strings.TrimSpace(model) == "" {
			return invalid("identity.WithModel", "empty model")
		}
		d.model = strings.TrimSpace(model)
		return nil
	}
}

// WithLookupFields sets the columns a login value is matched against (username, email).
func WithLookupFields(fields ...string) PostgresOption {
	return func(d *PostgresDirectory) error {
		fs, err := parseLookupFields(fields)
		if err != nil {
			return err
		}
		d.fields = fs
		return nil
	}
}

// WithPasswordConfig sets the hashing config used by CreateUser.
func WithPasswordConfig(pw password.Config) PostgresOption {
	return func(d *PostgresDirectory) error {
		d.pw = pw
		return nil
	}
}

// NewPostgresDirectory constructs a PostgresDirectory.
func NewPostgresDirectory(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresDirectory, error) {
	d := &PostgresDirectory{
		pool:   pool,
		schema: rememberme.DefaultSchema,
		model:  DefaultModel,
		fields: []string{FieldUsername},
		pw:     password.DefaultConfig(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(d); err != nil {
			return nil, err
		}
	}
	if d.pool == nil {
		return nil, invalid("identity.NewPostgresDirectory", "nil pool")
	}
	return d, nil
}

// Model implements rememberme.IdentitySource.
func (d *PostgresDirectory) Model() string { return d.model }

func (d *PostgresDirectory) ident(name string) string {
	return pgx.Identifier{d.schema, name}.Sanitize()
}

// loginPredicate ORs the configured lookup columns against $1.
func (d *PostgresDirectory) loginPredicate() string {
	conds := make([]string, 0, len(d.fields))
	for _, f := range d.fields {
		conds = append(conds, "u."+f+"_norm = $1")
	}
	return "(" + strings.Join(conds, " OR ") + ")"
}

const userColumns = `u.id, COALESCE(u.username, ''), COALESCE(u.email, ''), COALESCE(u.display_name, ''), u.created_at`

// FindByUsername implements rememberme.IdentitySource.
func (d *PostgresDirectory) FindByUsername(ctx context.Context, username string) (rememberme.Identity, error) {
	r, err := d.Lookup(ctx, username)
	if err != nil {
		return nil, err
	}
	r.PasswordHash = ""
	return r, nil
}

// Lookup implements Directory.
func (d *PostgresDirectory) Lookup(ctx context.Context, login string) (Record, error) {
	const op = "identity.PostgresDirectory.Lookup"

	norm := NormalizeUsername(login)
	if norm == "" {
		return Record{}, NotFoundError{Op: op, Resource: "user"}
	}

	r := Record{Model: d.model}
	err := d.pool.QueryRow(ctx, `
		SELECT `+userColumns+`, COALESCE(c.password_hash, '')
		FROM `+d.ident("users")+` u
		LEFT JOIN `+d.ident("user_credentials")+` c ON c.user_id = u.id
		WHERE `+d.loginPredicate()+`
		ORDER BY u.created_at
		LIMIT 1
	`, norm).Scan(&r.ID, &r.Username, &r.Email, &r.DisplayName, &r.CreatedAt, &r.PasswordHash)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, NotFoundError{Op: op, Resource: "user"}
	}
	if err != nil {
		return Record{}, fmt.Errorf("%s: %w", op, err)
	}
	return r, nil
}

// FindBySeries implements rememberme.SeriesFinder: user and token row in one query,
// with the series scoped to that user.
func (d *PostgresDirectory) FindBySeries(ctx context.Context, username, series string) (rememberme.Identity, rememberme.Token, error) {
	const op = "identity.PostgresDirectory.FindBySeries"

	norm := NormalizeUsername(username)
	if norm == "" {
		return nil, rememberme.Token{}, NotFoundError{Op: op, Resource: "user"}
	}

	r := Record{Model: d.model}
	var (
		tokID, tokSeries, tokHash *string
		tokExpires, tokCreated    *time.Time
		tokModified               *time.Time
	)
	err := d.pool.QueryRow(ctx, `
		SELECT `+userColumns+`,
		       t.id, t.series, t.token_hash, t.expires, t.created, t.modified
		FROM `+d.ident("users")+` u
		LEFT JOIN `+d.ident("remember_me_tokens")+` t
		       ON t.owner_model = $2 AND t.owner_id = u.id AND t.series = $3
		WHERE `+d.loginPredicate()+`
		ORDER BY u.created_at
		LIMIT 1
	`, norm, d.model, series).Scan(
		&r.ID, &r.Username, &r.Email, &r.DisplayName, &r.CreatedAt,
		&tokID, &tokSeries, &tokHash, &tokExpires, &tokCreated, &tokModified,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, rememberme.Token{}, NotFoundError{Op: op, Resource: "user"}
	}
	if err != nil {
		return nil, rememberme.Token{}, fmt.Errorf("%s: %w", op, err)
	}
	if tokID == nil {
		return nil, rememberme.Token{}, fmt.Errorf("%s: %w", op, rememberme.ErrTokenNotFound)
	}

	tok := rememberme.Token{
		ID:         *tokID,
		OwnerModel: d.model,
		OwnerID:    r.ID,
		Series:     deref(tokSeries),
		TokenHash:  deref(tokHash),
	}
	if tokExpires != nil {
		tok.Expires = *tokExpires
	}
	if tokCreated != nil {
		tok.Created = *tokCreated
	}
	if tokModified != nil {
		tok.Modified = *tokModified
	}
	return r, tok, nil
}

// CreateUser implements Directory. User and credentials are inserted in one transaction.
func (d *PostgresDirectory) CreateUser(ctx context.Context, in CreateUserInput) (Record, error) {
	const op = "identity.PostgresDirectory.CreateUser"

	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	rec, err := newRecord(op, d.model, in, d.pw)
	if err != nil {
		return Record{}, err
	}

	tx, err := d.pool.BeginTx(ctx, pgx.TxOptions{
		IsoLevel:   pgx.ReadCommitted,
		AccessMode: pgx.ReadWrite,
	})
	if err != nil {
		return Record{}, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO `+d.ident("users")+` (
			id, username, username_norm, email, email_norm, display_name, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`,
		rec.ID,
		nullIfEmpty(rec.Username),
		nullIfEmpty(NormalizeUsername(rec.Username)),
		nullIfEmpty(rec.Email),
		nullIfEmpty(NormalizeEmail(rec.Email)),
		nullIfEmpty(rec.DisplayName),
		rec.CreatedAt,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return Record{}, ConflictError{Op: op, Field: field}
		}
		return Record{}, fmt.Errorf("%s: %w", op, err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO `+d.ident("user_credentials")+` (user_id, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
	`, rec.ID, rec.PasswordHash, rec.CreatedAt)
	if err != nil {
		return Record{}, fmt.Errorf("%s: %w", op, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Record{}, fmt.Errorf("%s: %w", op, err)
	}
	return rec, nil
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch {
	case c == "uq_users_username_norm", strings.Contains(c, "username"):
		return FieldUsername, true
	case c == "uq_users_email_norm", strings.Contains(c, "email"):
		return FieldEmail, true
	default:
		return "unique", true
	}
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func deref(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}
