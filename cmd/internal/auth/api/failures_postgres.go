package authapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"regexp"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const actionLoginFailed = "auth.login.failed"

// maxFailureRows caps throttling queries; more failures than any tier threshold are never needed.
const maxFailureRows = 1000

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// PostgresFailureLog keeps failed logins as audit_log rows.
type PostgresFailureLog struct {
	pool  *pgxpool.Pool
	table string
}

// NewPostgresFailureLog writes to and reads from schema.audit_log.
func NewPostgresFailureLog(pool *pgxpool.Pool, schema string) (*PostgresFailureLog, error) {
	if pool == nil {
		return nil, errors.New("authapi: nil db pool")
	}
	if !pgIdentRe.MatchString(schema) {
		return nil, errors.New("authapi: invalid schema identifier")
	}
	return &PostgresFailureLog{
		pool:  pool,
		table: pgx.Identifier{schema, "audit_log"}.Sanitize(),
	}, nil
}

// Record implements FailureLog.
func (l *PostgresFailureLog) Record(ctx context.Context, f LoginFailure) error {
	var ipVal any
	if f.IP != nil {
		ipVal = f.IP.String()
	}
	meta, err := json.Marshal(map[string]string{
		"identifier": f.Identifier,
		"reason":     f.Reason,
	})
	if err != nil {
		return err
	}

	_, err = l.pool.Exec(ctx, `
		INSERT INTO `+l.table+` (action, created_at, ip, user_agent, meta)
		VALUES ($1, $2, $3, $4, $5::jsonb)
	`, actionLoginFailed, f.At, ipVal, trimOrNil(f.UserAgent), string(meta))
	return err
}

// ByIP implements FailureLog.
func (l *PostgresFailureLog) ByIP(ctx context.Context, ip net.IP, since time.Time) ([]time.Time, error) {
	if ip == nil {
		return nil, nil
	}
	return l.query(ctx, `ip = $2`, ip.String(), since)
}

// ByIdentifier implements FailureLog.
func (l *PostgresFailureLog) ByIdentifier(ctx context.Context, identifier string, since time.Time) ([]time.Time, error) {
	if strings.TrimSpace(identifier) == "" {
		return nil, nil
	}
	return l.query(ctx, `meta->>'identifier' = $2`, identifier, since)
}

func (l *PostgresFailureLog) query(ctx context.Context, cond string, arg any, since time.Time) ([]time.Time, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT created_at
		FROM `+l.table+`
		WHERE action = $1
		  AND `+cond+`
		  AND created_at >= $3
		ORDER BY created_at DESC
		LIMIT $4
	`, actionLoginFailed, arg, since, maxFailureRows)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[time.Time])
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
