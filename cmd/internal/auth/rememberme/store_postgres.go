package rememberme

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
	"github.com/oklog/ulid/v2"
)

// DefaultSchema is the Postgres schema holding the remember-me tables.
const DefaultSchema = "rememberme"

const tokensTable = "remember_me_tokens"

// PostgresStore implements Store using PostgreSQL (rememberme.remember_me_tokens).
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema used by the store (default "rememberme").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("%w: empty schema", ErrConfig)
		}
		if !pgIdentRe.MatchString(schema) {
			return fmt.Errorf("%w: invalid schema identifier", ErrConfig)
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore creates a Postgres-backed token store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: DefaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("%w: nil pool", ErrConfig)
	}
	return st, nil
}

func (s *PostgresStore) table() string {
	return pgx.Identifier{s.schema, tokensTable}.Sanitize()
}

// FindBySeries implements Store.
func (s *PostgresStore) FindBySeries(ctx context.Context, ownerModel, ownerID, series string) (Token, error) {
	const op = "rememberme.PostgresStore.FindBySeries"

	var row Token
	err := s.pool.QueryRow(ctx, `
		SELECT id, owner_model, owner_id, series, token_hash, expires, created, modified
		FROM `+s.table()+`
		WHERE owner_model = $1 AND owner_id = $2 AND series = $3
	`, ownerModel, ownerID, series).Scan(
		&row.ID,
		&row.OwnerModel,
		&row.OwnerID,
		&row.Series,
		&row.TokenHash,
		&row.Expires,
		&row.Created,
		&row.Modified,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Token{}, ErrTokenNotFound
	}
	if err != nil {
		return Token{}, persistErr(op, err)
	}
	return row, nil
}

// Save implements Store.
func (s *PostgresStore) Save(ctx context.Context, t *Token, now time.Time) error {
	const op = "rememberme.PostgresStore.Save"

	if err := validateForSave(t); err != nil {
		return persistErr(op, err)
	}
	if t.ID != "" {
		return s.update(ctx, op, t, now)
	}

	row := *t
	err := s.pool.QueryRow(ctx, `
		INSERT INTO `+s.table()+` (
			id, owner_model, owner_id, series, token_hash, expires, created, modified
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $7)
		ON CONFLICT (owner_model, owner_id, series) DO UPDATE
		SET token_hash = EXCLUDED.token_hash,
		    expires = EXCLUDED.expires,
		    modified = EXCLUDED.modified
		RETURNING id, created, modified
	`, ulid.Make().String(), t.OwnerModel, t.OwnerID, t.Series, t.TokenHash, t.Expires, now).Scan(
		&row.ID,
		&row.Created,
		&row.Modified,
	)
	if err != nil {
		return persistErr(op, pgClassify(err))
	}
	*t = row
	return nil
}

// update rewrites the secret and expiry of an existing row; the series and owner stay put.
func (s *PostgresStore) update(ctx context.Context, op string, t *Token, now time.Time) error {
	row := *t
	err := s.pool.QueryRow(ctx, `
		UPDATE `+s.table()+`
		SET token_hash = $2, expires = $3, modified = $4
		WHERE id = $1
		RETURNING owner_model, owner_id, series, created, modified
	`, t.ID, t.TokenHash, t.Expires, now).Scan(
		&row.OwnerModel,
		&row.OwnerID,
		&row.Series,
		&row.Created,
		&row.Modified,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return persistErr(op, ErrTokenNotFound)
	}
	if err != nil {
		return persistErr(op, pgClassify(err))
	}
	*t = row
	return nil
}

// Delete implements Store (idempotent).
func (s *PostgresStore) Delete(ctx context.Context, t Token) error {
	const op = "rememberme.PostgresStore.Delete"

	var err error
	if t.ID != "" {
		_, err = s.pool.Exec(ctx, `DELETE FROM `+s.table()+` WHERE id = $1`, t.ID)
	} else {
		_, err = s.pool.Exec(ctx, `
			DELETE FROM `+s.table()+`
			WHERE owner_model = $1 AND owner_id = $2 AND series = $3
		`, t.OwnerModel, t.OwnerID, t.Series)
	}
	return persistErr(op, err)
}

// DeleteAllMatching implements Store.
func (s *PostgresStore) DeleteAllMatching(ctx context.Context, ownerModel, ownerID, series string) (int64, error) {
	const op = "rememberme.PostgresStore.DeleteAllMatching"

	tag, err := s.pool.Exec(ctx, `
		DELETE FROM `+s.table()+`
		WHERE owner_model = $1 AND owner_id = $2
		  AND ($3 = '' OR series = $3)
	`, ownerModel, ownerID, series)
	if err != nil {
		return 0, persistErr(op, err)
	}
	return tag.RowsAffected(), nil
}

// DropExpired implements Store.
func (s *PostgresStore) DropExpired(ctx context.Context, now time.Time, ownerModel, ownerID string) (int64, error) {
	const op = "rememberme.PostgresStore.DropExpired"

	tag, err := s.pool.Exec(ctx, `
		DELETE FROM `+s.table()+`
		WHERE expires < $1
		  AND ($2 = '' OR owner_model = $2)
		  AND ($3 = '' OR owner_id = $3)
	`, now, ownerModel, ownerID)
	if err != nil {
		return 0, persistErr(op, err)
	}
	return tag.RowsAffected(), nil
}

// pgClassify annotates constraint violations with the constraint name so logs say
// which invariant broke.
func pgClassify(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case "23505": // unique_violation
		return fmt.Errorf("unique violation on %s: %w", pgErr.ConstraintName, err)
	case "23514", "22001": // check_violation, string_data_right_truncation
		return fmt.Errorf("%w: %s", errInvalidToken, pgErr.Message)
	default:
		return err
	}
}
