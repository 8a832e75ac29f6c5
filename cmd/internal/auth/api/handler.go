package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"rememberme/cmd/identity"
	"rememberme/cmd/internal/auth/rememberme"
	"rememberme/cmd/internal/auth/session"
)

// Handler wires the login, logout and /me endpoints to the password authenticator,
// the login session and the remember-me service.
type Handler struct {
	log *slog.Logger
	cfg Config

	auth     *identity.Authenticator
	rm       *rememberme.Service
	sessions session.Manager

	failures FailureLog
	audit    rememberme.AuditSink
	now      func() time.Time
}

// HandlerOption configures optional auth handler dependencies.
type HandlerOption func(*Handler)

// WithFailureLog overrides the default in-memory login failure log.
func WithFailureLog(l FailureLog) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.failures = l
		}
	}
}

// WithAudit sets the sink for login and logout events.
func WithAudit(a rememberme.AuditSink) HandlerOption {
	return func(h *Handler) {
		if a != nil {
			h.audit = a
		}
	}
}

// WithClock overrides the handler clock. Intended for tests.
func WithClock(now func() time.Time) HandlerOption {
	return func(h *Handler) {
		if now != nil {
			h.now = now
		}
	}
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, cfg Config, auth *identity.Authenticator, rm *rememberme.Service, sessions session.Manager, opts ...HandlerOption) (*Handler, error) {
	if auth == nil || rm == nil || sessions == nil {
		return nil, errors.New("auth: handler needs authenticator, remember-me service and session manager")
	}
	if log == nil {
		log = slog.Default()
	}

	h := &Handler{
		log:      log,
		cfg:      cfg,
		auth:     auth,
		rm:       rm,
		sessions: sessions,
		failures: NewMemoryFailureLog(cfg.FailureRetention()),
		audit:    rememberme.NopAudit{},
		now:      func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Register wires auth routes onto the provided mux.
func (h *Handler) Register(mux *http.ServeMux) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("/auth/login", h.handleLogin)
	mux.HandleFunc("/auth/logout", h.handleLogout)
	mux.Handle("/me", h.RequireUser(http.HandlerFunc(h.handleMe)))
}

// Principal is the authenticated user of a request.
type Principal struct {
	User identity.Record
	// Via is "session" or "remember_me".
	Via string
	// Identity is the value to pass back to the remember-me service.
	Identity rememberme.Identity
}

type principalKey struct{}

// PrincipalFrom returns the principal stored by RequireUser.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// RequireUser authenticates the request from the session cookie and, failing that,
// from the remember-me cookie. A remember-me login rotates the token and starts a new
// session. Unauthenticated requests get 401.
func (h *Handler) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, ok := h.sessionPrincipal(w, r); ok {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
			return
		}
		if p, ok := h.rememberPrincipal(w, r); ok {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
			return
		}
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
	})
}

func (h *Handler) sessionPrincipal(w http.ResponseWriter, r *http.Request) (Principal, bool) {
	raw, ok := h.sessionTokenFromCookie(r)
	if !ok {
		return Principal{}, false
	}
	claims, err := h.sessions.Verify(raw, h.now())
	if err != nil {
		h.clearSessionCookies(w)
		return Principal{}, false
	}

	dir := h.auth.Directory()
	if claims.Model != dir.Model() {
		h.clearSessionCookies(w)
		return Principal{}, false
	}
	found, err := dir.FindByUsername(r.Context(), claims.Username)
	if err != nil || found.PrimaryKey() != claims.UserID {
		if err != nil && !errors.Is(err, rememberme.ErrIdentityNotFound) {
			h.log.ErrorContext(r.Context(), "auth.session.lookup.fail", "err", err)
		}
		h.clearSessionCookies(w)
		return Principal{}, false
	}
	return Principal{User: recordOf(found), Via: "session", Identity: found}, true
}

func (h *Handler) rememberPrincipal(w http.ResponseWriter, r *http.Request) (Principal, bool) {
	v := h.rm.AuthenticateFromCookie(r)
	switch v.Outcome {
	case rememberme.Valid:
	case rememberme.CredentialsMissing:
		return Principal{}, false
	default:
		h.rm.LoginFailed(w)
		return Principal{}, false
	}

	id := v.Identity
	issued, err := h.rm.PersistToken(w, r, id)
	if err != nil {
		h.log.ErrorContext(r.Context(), "auth.remember.rotate.fail", "err", err)
	} else if issued.Written() {
		id = issued.Identity
	}

	if _, err := h.startSession(w, id); err != nil {
		h.log.ErrorContext(r.Context(), "auth.remember.session.fail", "err", err)
	}
	return Principal{User: recordOf(id), Via: "remember_me", Identity: id}, true
}

// startSession issues a login session for id and writes the session and CSRF cookies.
func (h *Handler) startSession(w http.ResponseWriter, id rememberme.Identity) (sessionStart, error) {
	username, _ := id.Field(h.rm.Config().UsernameField)
	sub := session.Subject{Model: id.Source(), UserID: id.PrimaryKey(), Username: username}

	tok, exp, err := h.sessions.Issue(sub, h.now())
	if err != nil {
		return sessionStart{}, err
	}
	csrf, err := h.setSessionCookies(w, tok, exp)
	if err != nil {
		return sessionStart{}, err
	}
	return sessionStart{ExpiresAt: exp, CSRF: csrf}, nil
}

type sessionStart struct {
	ExpiresAt time.Time
	CSRF      string
}

// ---- handlers ----

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	req, err := decodeLogin(w, r, h.cfg.MaxBodyBytes, h.rm.Config().RememberMeField)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}
	if req.Login == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "login and password are required")
		return
	}

	ctx := r.Context()
	now := h.now()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := r.UserAgent()
	identifier := loginIdentifier(req.Login)

	blocked, retry, err := h.checkLoginThrottle(ctx, ip, identifier, now)
	if err != nil {
		h.log.ErrorContext(ctx, "auth.login.throttle.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	if blocked {
		h.log.WarnContext(ctx, "auth.login.rate_limited", "identifier", identifier, "ip", ipString(ip), "retry_after", retry)
		writeRateLimited(w, retry)
		return
	}

	user, err := h.auth.CheckPassword(ctx, req.Login, req.Password)
	if err != nil {
		if !errors.Is(err, identity.ErrInvalidCredentials) {
			h.log.ErrorContext(ctx, "auth.login.lookup.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "internal", "internal error")
			return
		}
		h.loginFailed(ctx, w, LoginFailure{IP: ip, Identifier: identifier, Reason: "invalid_credentials", UserAgent: ua, At: now})
		writeError(w, http.StatusUnauthorized, "invalid_credentials", "invalid credentials")
		return
	}

	started, err := h.startSession(w, user)
	if err != nil {
		h.log.ErrorContext(ctx, "auth.login.issue_session.fail", "err", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}

	// The remember-me token is best effort; the primary login stands without it.
	r = r.WithContext(rememberme.WithRememberRequested(ctx, req.RememberMe))
	issued, err := h.rm.PersistToken(w, r, user)
	if err != nil {
		h.log.ErrorContext(ctx, "auth.login.remember.fail", "user", user, "err", err)
	}

	h.auditLoginSuccess(ctx, user, ip, ua, identifier, issued.Written())
	h.log.InfoContext(ctx, "auth.login.ok", "user", user, "remembered", issued.Written())

	writeJSON(w, http.StatusOK, loginResponse{
		User:             toUserResponse(user),
		SessionExpiresAt: started.ExpiresAt,
		CSRFToken:        started.CSRF,
		Remembered:       issued.Written(),
	})
}

func (h *Handler) loginFailed(ctx context.Context, w http.ResponseWriter, f LoginFailure) {
	h.rm.LoginFailed(w)
	if err := h.failures.Record(ctx, f); err != nil {
		h.log.ErrorContext(ctx, "auth.login.failure_log.fail", "err", err)
	}
	h.log.InfoContext(ctx, "auth.login.failed", "identifier", f.Identifier, "ip", ipString(f.IP), "reason", f.Reason)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !h.csrfDoubleSubmitValid(r) {
		writeError(w, http.StatusForbidden, "csrf_failed", "csrf validation failed")
		return
	}

	ctx := r.Context()
	ip := clientIP(r, h.cfg.TrustProxy)
	ua := r.UserAgent()

	var id rememberme.Identity
	if p, ok := h.sessionPrincipal(w, r); ok {
		id = p.Identity
	}

	if formTruthy(r.URL.Query().Get("all")) {
		if id == nil {
			writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
			return
		}
		n, err := h.rm.ClearAllTokens(w, r, id)
		h.clearSessionCookies(w)
		if err != nil {
			h.log.ErrorContext(ctx, "auth.logout_all.fail", "err", err)
			writeError(w, http.StatusInternalServerError, "internal", "internal error")
			return
		}
		h.auditLogoutAll(ctx, id, ip, ua, n)
		writeJSON(w, http.StatusOK, logoutResponse{Revoked: n})
		return
	}

	err := h.rm.ClearToken(w, r, id)
	h.clearSessionCookies(w)
	if err != nil {
		// The cookies are gone either way; the row expires on its own.
		h.log.ErrorContext(ctx, "auth.logout.fail", "err", err)
	}
	if id != nil {
		h.auditLogout(ctx, id, ip, ua)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	p, ok := PrincipalFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return
	}
	writeJSON(w, http.StatusOK, meResponse{User: toUserResponse(p.User), Via: p.Via})
}

// recordOf returns the user record behind id, rebuilding it from fields when the
// identity comes from a source other than a Directory.
func recordOf(id rememberme.Identity) identity.Record {
	switch v := id.(type) {
	case identity.Record:
		return v
	case rememberme.Remembered:
		return recordOf(v.Identity)
	case *rememberme.Remembered:
		if v != nil {
			return recordOf(v.Identity)
		}
		return identity.Record{}
	}
	rec := identity.Record{Model: id.Source(), ID: id.PrimaryKey()}
	rec.Username, _ = id.Field(identity.FieldUsername)
	rec.Email, _ = id.Field(identity.FieldEmail)
	rec.DisplayName, _ = id.Field("display_name")
	return rec
}

func loginIdentifier(login string) string {
	return strings.ToLower(strings.TrimSpace(login))
}

func ipString(ip net.IP) string {
	if ip == nil {
		return ""
	}
	return ip.String()
}

func clientIP(r *http.Request, trustProxy bool) net.IP {
	if trustProxy {
		if ip := parseForwardedIP(r.Header.Get("X-Forwarded-For")); ip != nil {
			return ip
		}
		if ip := net.ParseIP(strings.TrimSpace(r.Header.Get("X-Real-IP"))); ip != nil {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(strings.TrimSpace(r.RemoteAddr))
	if err == nil {
		if ip := net.ParseIP(host); ip != nil {
			return ip
		}
	}
	return nil
}

func parseForwardedIP(raw string) net.IP {
	if raw == "" {
		return nil
	}
	for _, p := range strings.Split(raw, ",") {
		if ip := net.ParseIP(strings.TrimSpace(p)); ip != nil {
			return ip
		}
	}
	return nil
}
