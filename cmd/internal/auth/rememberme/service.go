package rememberme

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"rememberme/cmd/security/token"
)

// Service is the session persistence controller. The auth pipeline calls it after
// authentication (cookie re-auth or password login), on failed logins and on logout.
type Service struct {
	cfg    Config
	codec  *Codec
	store  Store
	source IdentitySource
	tokens token.Generator

	verifier *Verifier
	combined bool

	log     *slog.Logger
	now     func() time.Time
	metrics *Metrics
	audit   AuditSink
}

// Option configures optional Service dependencies.
type Option func(*Service)

// WithLogger sets the logger (default slog.Default()).
func WithLogger(log *slog.Logger) Option {
	return func(s *Service) {
		if log != nil {
			s.log = log
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithMetrics enables Prometheus counters.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithAudit sets the audit sink (default NopAudit).
func WithAudit(a AuditSink) Option {
	return func(s *Service) {
		if a != nil {
			s.audit = a
		}
	}
}

// WithJoinedLookup makes verification load identity and token row in one query when
// the identity source supports it. Only enable it when both live in the same database.
func WithJoinedLookup(enabled bool) Option {
	return func(s *Service) { s.combined = enabled }
}

// Issued describes a token written by PersistToken.
type Issued struct {
	// Identity is the input identity carrying the new token reference.
	Identity Remembered
	Rotated  bool
}

// Written reports whether a cookie was issued.
func (i Issued) Written() bool { return i.Identity.Token.Series != "" }

// NewService wires the controller. The identity source is selected from registry by cfg.UserModel.
func NewService(cfg Config, codec *Codec, store Store, registry *Registry, tokens token.Generator, opts ...Option) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if registry == nil {
		return nil, fmt.Errorf("%w: nil identity registry", ErrConfig)
	}
	source, err := registry.Source(cfg.UserModel)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:    cfg,
		codec:  codec,
		store:  store,
		source: source,
		tokens: tokens,
		log:    slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
		audit:  NopAudit{},
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(s)
	}

	v, err := NewVerifier(codec, store, source, tokens, s.combined)
	if err != nil {
		return nil, err
	}
	v.log, v.now, v.metrics, v.audit = s.log, s.now, s.metrics, s.audit
	s.verifier = v

	return s, nil
}

// Config returns the controller configuration.
func (s *Service) Config() Config { return s.cfg }

// AuthenticateFromCookie verifies the request's remember-me cookie.
// On Valid, the caller should log the identity in and then call PersistToken to rotate.
func (s *Service) AuthenticateFromCookie(r *http.Request) Verification {
	if r == nil {
		return Verification{Outcome: CredentialsMissing, Reason: ReasonNoCookie}
	}
	ctx := withAuditClient(r.Context(), r)
	return s.verifier.Verify(ctx, s.cookieValue(r))
}

// PersistToken issues or rotates the remember-me token for id and sets the cookie.
//
// Nothing is written unless remember-me was requested, Always is set, or id carries a
// matched token (silent re-auth). A storage failure returns a PersistenceError and no
// cookie; the caller keeps the primary login.
func (s *Service) PersistToken(w http.ResponseWriter, r *http.Request, id Identity) (Issued, error) {
	const op = "rememberme.PersistToken"

	if id == nil {
		return Issued{}, fmt.Errorf("%s: nil identity", op)
	}
	ref, rotating := TokenOf(id)
	if !rotating && !s.cfg.Always && !s.RememberRequested(r) {
		return Issued{}, nil
	}

	ctx := context.Background()
	if r != nil {
		ctx = withAuditClient(r.Context(), r)
	}
	now := s.now()
	base := unwrapIdentity(id)
	model := s.ownerModel(base)
	owner := base.PrimaryKey()

	username, ok := base.Field(s.cfg.UsernameField)
	if !ok || strings.TrimSpace(username) == "" {
		return Issued{}, fmt.Errorf("%s: %w: identity has no %q value", op, ErrConfig, s.cfg.UsernameField)
	}

	if s.cfg.DropExpiredToken {
		s.sweep(ctx, now, model, "")
	}

	seed := model + ":" + owner + ":" + username
	plain, err := s.tokens.Generate(seed)
	if err != nil {
		return Issued{}, fmt.Errorf("%s: generate token: %w", op, err)
	}

	row := Token{
		TokenHash: s.tokens.Digest(plain),
		Expires:   now.Add(s.cfg.CookieExpire),
	}
	switch {
	case rotating && ref.ID != "":
		row.ID = ref.ID
	case rotating:
		row.OwnerModel, row.OwnerID, row.Series = model, owner, ref.Series
	default:
		series, err := s.tokens.Generate(seed)
		if err != nil {
			return Issued{}, fmt.Errorf("%s: generate series: %w", op, err)
		}
		row.OwnerModel, row.OwnerID, row.Series = model, owner, series
	}

	if err := s.store.Save(ctx, &row, now); err != nil {
		s.metrics.persistFailed("save")
		s.log.ErrorContext(ctx, "rememberme.persist.save.fail", "owner_model", model, "owner_id", owner, "rotating", rotating, "err", err)
		return Issued{}, persistErr(op, err)
	}

	value, err := s.codec.Encode(username, row.Series, plain)
	if err != nil {
		return Issued{}, fmt.Errorf("%s: encode cookie: %w", op, err)
	}
	s.setCookie(w, value, row.Expires)

	kind, action := "fresh", AuditIssued
	if rotating {
		kind, action = "rotated", AuditRotated
	}
	s.metrics.issuedToken(kind)
	s.audit.Record(ctx, AuditEvent{
		Action:     action,
		OwnerModel: model,
		OwnerID:    owner,
		Series:     row.Series,
		At:         now,
	}.withClient(ctx))
	s.log.DebugContext(ctx, "rememberme.persist.ok", "token", row, "rotated", rotating)

	return Issued{Identity: Remembered{Identity: base, Token: row.Ref()}, Rotated: rotating}, nil
}

// ClearToken deletes the row of the current device and clears the cookie.
//
// The series comes from the token attached to id or, failing that, from the request cookie
// resolved through the identity source. The cookie is cleared even when deletion fails.
func (s *Service) ClearToken(w http.ResponseWriter, r *http.Request, id Identity) error {
	const op = "rememberme.ClearToken"

	s.expireCookie(w)

	ctx := context.Background()
	if r != nil {
		ctx = withAuditClient(r.Context(), r)
	}

	model, owner, series, ok := s.currentDevice(ctx, r, id)
	if !ok {
		return nil
	}

	n, err := s.store.DeleteAllMatching(ctx, model, owner, series)
	if err != nil {
		s.metrics.persistFailed("delete")
		s.log.ErrorContext(ctx, "rememberme.clear.fail", "owner_model", model, "owner_id", owner, "err", err)
		return persistErr(op, err)
	}
	s.metrics.revokedRows("logout", n)
	if n > 0 {
		s.audit.Record(ctx, AuditEvent{
			Action:     AuditCleared,
			OwnerModel: model,
			OwnerID:    owner,
			Series:     series,
			At:         s.now(),
		}.withClient(ctx))
	}
	return nil
}

// ClearAllTokens deletes every remember-me row of id's owner and clears the cookie.
func (s *Service) ClearAllTokens(w http.ResponseWriter, r *http.Request, id Identity) (int64, error) {
	const op = "rememberme.ClearAllTokens"

	s.expireCookie(w)
	if id == nil {
		return 0, nil
	}

	ctx := context.Background()
	if r != nil {
		ctx = withAuditClient(r.Context(), r)
	}
	base := unwrapIdentity(id)
	model, owner := s.ownerModel(base), base.PrimaryKey()

	n, err := s.store.DeleteAllMatching(ctx, model, owner, "")
	if err != nil {
		s.metrics.persistFailed("delete")
		s.log.ErrorContext(ctx, "rememberme.clear_all.fail", "owner_model", model, "owner_id", owner, "err", err)
		return 0, persistErr(op, err)
	}
	s.metrics.revokedRows("logout_all", n)
	s.audit.Record(ctx, AuditEvent{
		Action:     AuditClearedAll,
		OwnerModel: model,
		OwnerID:    owner,
		Meta:       map[string]any{"rows": n},
		At:         s.now(),
	}.withClient(ctx))
	return n, nil
}

// LoginFailed clears the remember-me cookie after a failed primary login.
func (s *Service) LoginFailed(w http.ResponseWriter) {
	s.expireCookie(w)
}

// Sweep removes expired rows, optionally scoped to an owner model and owner id.
func (s *Service) Sweep(ctx context.Context, ownerModel, ownerID string) (int64, error) {
	n, err := s.store.DropExpired(ctx, s.now(), ownerModel, ownerID)
	if err != nil {
		s.metrics.persistFailed("drop_expired")
		return 0, err
	}
	s.metrics.sweptRows(n)
	return n, nil
}

// RememberRequested reports whether the request opted into remember-me, either through
// WithRememberRequested on its context or through the RememberMeField form value.
func (s *Service) RememberRequested(r *http.Request) bool {
	if r == nil {
		return false
	}
	if v, ok := r.Context().Value(rememberKey{}).(bool); ok {
		return v
	}
	if strings.TrimSpace(s.cfg.RememberMeField) == "" {
		return false
	}
	return truthy(r.FormValue(s.cfg.RememberMeField))
}

type rememberKey struct{}

// WithRememberRequested records an explicit remember-me choice, e.g. from a JSON body.
func WithRememberRequested(ctx context.Context, remember bool) context.Context {
	return context.WithValue(ctx, rememberKey{}, remember)
}

func (s *Service) sweep(ctx context.Context, now time.Time, model, owner string) {
	n, err := s.store.DropExpired(ctx, now, model, owner)
	if err != nil {
		s.metrics.persistFailed("drop_expired")
		s.log.WarnContext(ctx, "rememberme.sweep.fail", "owner_model", model, "err", err)
		return
	}
	s.metrics.sweptRows(n)
	if n > 0 {
		s.log.DebugContext(ctx, "rememberme.sweep.ok", "owner_model", model, "rows", n)
	}
}

// currentDevice resolves the owner and series to revoke on logout.
func (s *Service) currentDevice(ctx context.Context, r *http.Request, id Identity) (model, owner, series string, ok bool) {
	if id != nil {
		if ref, has := TokenOf(id); has {
			base := unwrapIdentity(id)
			return s.ownerModel(base), base.PrimaryKey(), ref.Series, true
		}
	}

	raw := s.cookieValue(r)
	if raw == "" {
		return "", "", "", false
	}
	creds, err := s.codec.Decode(raw)
	if err != nil || !creds.Complete() {
		return "", "", "", false
	}

	if id != nil {
		base := unwrapIdentity(id)
		if u, has := base.Field(s.cfg.UsernameField); has && u == creds.Username {
			return s.ownerModel(base), base.PrimaryKey(), creds.Series, true
		}
		s.log.InfoContext(ctx, "rememberme.clear.owner_mismatch", "username", creds.Username, "series", creds.Series)
		return "", "", "", false
	}

	found, err := s.source.FindByUsername(ctx, creds.Username)
	if err != nil {
		s.log.DebugContext(ctx, "rememberme.clear.owner_unresolved", "username", creds.Username, "err", err)
		return "", "", "", false
	}
	return s.ownerModel(found), found.PrimaryKey(), creds.Series, true
}

func (s *Service) ownerModel(id Identity) string {
	if m := strings.TrimSpace(id.Source()); m != "" {
		return m
	}
	return s.source.Model()
}

func unwrapIdentity(id Identity) Identity {
	for {
		switch v := id.(type) {
		case Remembered:
			id = v.Identity
		case *Remembered:
			id = v.Identity
		default:
			return id
		}
	}
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "on", "yes", "y":
		return true
	default:
		return false
	}
}
