package authapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"rememberme/cmd/internal/auth/session"
)

func cookieHandler(t *testing.T) *Handler {
	t.Helper()
	sessions, err := session.NewPasetoV4PublicManager(session.DefaultConfig())
	if err != nil {
		t.Fatalf("NewPasetoV4PublicManager: %v", err)
	}
	return &Handler{
		cfg: Config{
			CSRFCookieName: "csrf_token",
			CSRFHeaderName: "X-CSRF-Token",
			CookiePath:     "/",
			CookieSecure:   true,
			CookieSameSite: http.SameSiteLaxMode,
		},
		sessions: sessions,
	}
}

func TestSetSessionCookies(t *testing.T) {
	h := cookieHandler(t)

	rr := httptest.NewRecorder()
	exp := time.Now().UTC().Add(15 * time.Minute)
	csrf, err := h.setSessionCookies(rr, "session-token-123", exp)
	if err != nil {
		t.Fatalf("setSessionCookies: %v", err)
	}
	if csrf == "" {
		t.Fatalf("expected csrf token")
	}

	cookies := rr.Result().Cookies()
	if len(cookies) != 2 {
		t.Fatalf("expected 2 cookies, got %d", len(cookies))
	}
	for _, c := range cookies {
		switch c.Name {
		case "session":
			if c.Value != "session-token-123" || !c.HttpOnly || !c.Secure {
				t.Fatalf("unexpected session cookie: %+v", c)
			}
		case "csrf_token":
			if c.Value != csrf || c.HttpOnly {
				t.Fatalf("csrf cookie must be readable by scripts: %+v", c)
			}
		default:
			t.Fatalf("unexpected cookie %q", c.Name)
		}
	}
}

func TestClearSessionCookies(t *testing.T) {
	h := cookieHandler(t)

	rr := httptest.NewRecorder()
	h.clearSessionCookies(rr)

	cookies := rr.Result().Cookies()
	if len(cookies) != 2 {
		t.Fatalf("expected 2 cookies, got %d", len(cookies))
	}
	for _, c := range cookies {
		if c.MaxAge >= 0 || c.Value != "" {
			t.Fatalf("expected %q to be expired, got %+v", c.Name, c)
		}
	}
}

func TestSessionTokenFromCookie(t *testing.T) {
	h := cookieHandler(t)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if _, ok := h.sessionTokenFromCookie(req); ok {
		t.Fatalf("expected no session token")
	}

	req.AddCookie(&http.Cookie{Name: "session", Value: "  tok  "})
	got, ok := h.sessionTokenFromCookie(req)
	if !ok || got != "tok" {
		t.Fatalf("sessionTokenFromCookie = %q, %v", got, ok)
	}
}

func TestCSRFDoubleSubmitValidation(t *testing.T) {
	h := cookieHandler(t)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: "csrf_token", Value: "abc"})
	req.Header.Set("X-CSRF-Token", "abc")
	if !h.csrfDoubleSubmitValid(req) {
		t.Fatalf("expected csrf validation to pass")
	}

	req.Header.Set("X-CSRF-Token", "abd")
	if h.csrfDoubleSubmitValid(req) {
		t.Fatalf("expected csrf validation to fail on mismatch")
	}

	bare := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	bare.Header.Set("X-CSRF-Token", "abc")
	if h.csrfDoubleSubmitValid(bare) {
		t.Fatalf("expected csrf validation to fail without cookie")
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:4321"
	req.Header.Set("X-Forwarded-For", "garbage, 198.51.100.7, 203.0.113.1")

	if got := clientIP(req, false); got.String() != "192.0.2.10" {
		t.Fatalf("untrusted proxy: got %v", got)
	}
	if got := clientIP(req, true); got.String() != "198.51.100.7" {
		t.Fatalf("trusted proxy: got %v", got)
	}

	req.Header.Del("X-Forwarded-For")
	req.Header.Set("X-Real-IP", "203.0.113.9")
	if got := clientIP(req, true); got.String() != "203.0.113.9" {
		t.Fatalf("x-real-ip: got %v", got)
	}

	req.Header.Del("X-Real-IP")
	req.RemoteAddr = "not-an-address"
	if got := clientIP(req, false); got != nil {
		t.Fatalf("expected nil ip, got %v", got)
	}
}

func TestSecureStringEqual(t *testing.T) {
	if !secureStringEqual("same", "same") {
		t.Fatalf("expected equal")
	}
	if secureStringEqual("", "") {
		t.Fatalf("empty values must not compare equal")
	}
	if secureStringEqual("short", "longer") {
		t.Fatalf("expected length mismatch to fail")
	}
}
