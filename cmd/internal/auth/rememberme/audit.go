package rememberme

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Audit actions.
const (
	AuditIssued         = "rememberme.issued"
	AuditRotated        = "rememberme.rotated"
	AuditTheftSuspected = "rememberme.theft_suspected"
	AuditExpired        = "rememberme.expired"
	AuditCleared        = "rememberme.cleared"
	AuditClearedAll     = "rememberme.cleared_all"
)

// AuditEvent describes one token lifecycle change. It never carries a secret.
type AuditEvent struct {
	Action     string
	OwnerModel string
	OwnerID    string
	Series     string
	IP         net.IP
	UserAgent  string
	Meta       map[string]any
	At         time.Time
}

// AuditSink records audit events. Implementations must not fail the caller.
type AuditSink interface {
	Record(ctx context.Context, ev AuditEvent)
}

// NopAudit discards events.
type NopAudit struct{}

// Record implements AuditSink.
func (NopAudit) Record(context.Context, AuditEvent) {}

// LogAudit writes events to a structured logger.
type LogAudit struct {
	Log *slog.Logger
}

// Record implements AuditSink.
func (a LogAudit) Record(ctx context.Context, ev AuditEvent) {
	log := a.Log
	if log == nil {
		log = slog.Default()
	}
	attrs := []any{
		"owner_model", ev.OwnerModel,
		"owner_id", ev.OwnerID,
		"series", ev.Series,
	}
	if ev.IP != nil {
		attrs = append(attrs, "ip", ev.IP.String())
	}
	if len(ev.Meta) > 0 {
		attrs = append(attrs, "meta", ev.Meta)
	}
	log.InfoContext(ctx, ev.Action, attrs...)
}

// PostgresAudit appends events to <schema>.audit_log.
type PostgresAudit struct {
	pool  *pgxpool.Pool
	table string
	log   *slog.Logger
}

// NewPostgresAudit creates an audit sink writing to schema.audit_log.
func NewPostgresAudit(pool *pgxpool.Pool, schema string, log *slog.Logger) (*PostgresAudit, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil pool", ErrConfig)
	}
	if schema == "" {
		schema = DefaultSchema
	}
	if !pgIdentRe.MatchString(schema) {
		return nil, fmt.Errorf("%w: invalid schema identifier", ErrConfig)
	}
	if log == nil {
		log = slog.Default()
	}
	return &PostgresAudit{
		pool:  pool,
		table: pgx.Identifier{schema, "audit_log"}.Sanitize(),
		log:   log,
	}, nil
}

// Record implements AuditSink. Insert failures are logged.
func (a *PostgresAudit) Record(ctx context.Context, ev AuditEvent) {
	if a == nil || strings.TrimSpace(ev.Action) == "" {
		return
	}

	var ipVal any
	if ev.IP != nil {
		ipVal = ev.IP.String()
	}

	var metaVal *string
	if len(ev.Meta) > 0 {
		if b, err := json.Marshal(ev.Meta); err == nil {
			s := string(b)
			metaVal = &s
		}
	}

	at := ev.At
	if at.IsZero() {
		at = time.Now().UTC()
	}

	_, err := a.pool.Exec(ctx, `
		INSERT INTO `+a.table+` (
			owner_model, owner_id, series, action, created_at, ip, user_agent, meta
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8::jsonb)
	`, ev.OwnerModel, ev.OwnerID, trimOrNil(ev.Series), ev.Action, at, ipVal, trimOrNil(ev.UserAgent), metaVal)
	if err != nil {
		a.log.Error("rememberme.audit.insert.fail", "err", err, "action", ev.Action)
	}
}

type auditClientKey struct{}

type auditClient struct {
	ip net.IP
	ua string
}

// withAuditClient stores the caller's address and user agent for audit events
// recorded deeper in the call chain.
func withAuditClient(ctx context.Context, r *http.Request) context.Context {
	if r == nil {
		return ctx
	}
	return context.WithValue(ctx, auditClientKey{}, auditClient{ip: clientIP(r), ua: r.UserAgent()})
}

// withClient fills the client fields of ev from ctx.
func (ev AuditEvent) withClient(ctx context.Context) AuditEvent {
	if c, ok := ctx.Value(auditClientKey{}).(auditClient); ok {
		ev.IP = c.ip
		ev.UserAgent = c.ua
	}
	return ev
}

func clientIP(r *http.Request) net.IP {
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err != nil {
		host = strings.TrimSpace(r.RemoteAddr)
	}
	return net.ParseIP(host)
}

func trimOrNil(s string) any {
	v := strings.TrimSpace(s)
	if v == "" {
		return nil
	}
	return v
}
