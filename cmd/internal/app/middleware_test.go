package app

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestRequestLogMeta(t *testing.T) {
	t.Parallel()

	cases := []struct {
		status     int
		wantLevel  slog.Level
		wantResult string
		wantClass  string
	}{
		{status: 200, wantLevel: slog.LevelInfo, wantResult: "success", wantClass: "2xx"},
		{status: 302, wantLevel: slog.LevelInfo, wantResult: "redirect", wantClass: "3xx"},
		{status: 404, wantLevel: slog.LevelWarn, wantResult: "client_error", wantClass: "4xx"},
		{status: 503, wantLevel: slog.LevelError, wantResult: "server_error", wantClass: "5xx"},
	}

	for _, tc := range cases {
		level, result := requestLogMeta(tc.status)
		if level != tc.wantLevel || result != tc.wantResult {
			t.Fatalf("status=%d level=%v result=%q; want level=%v result=%q", tc.status, level, result, tc.wantLevel, tc.wantResult)
		}
		if got := statusClass(tc.status); got != tc.wantClass {
			t.Fatalf("statusClass(%d)=%q want=%q", tc.status, got, tc.wantClass)
		}
	}
}

func TestWithCORS(t *testing.T) {
	discard := slog.New(slog.NewTextHandler(io.Discard, nil))
	allowed := Config{
		CORSAllowedOrigins:   []string{"https://app.example.com", "http://127.0.0.1:*"},
		CORSAllowCredentials: true,
		CORSMaxAgeSeconds:    600,
	}

	cases := []struct {
		name        string
		cfg         Config
		method      string
		origin      string
		preflight   bool
		wantStatus  int
		wantOrigin  string
		wantNext    bool
		wantMaxAge  string
		wantCredent string
	}{
		{
			name:        "preflight from allowed origin",
			cfg:         allowed,
			method:      http.MethodOptions,
			origin:      "https://app.example.com",
			preflight:   true,
			wantStatus:  http.StatusNoContent,
			wantOrigin:  "https://app.example.com",
			wantMaxAge:  "600",
			wantCredent: "true",
		},
		{
			name:       "disallowed origin",
			cfg:        allowed,
			method:     http.MethodGet,
			origin:     "https://evil.example.com",
			wantStatus: http.StatusForbidden,
		},
		{
			name:        "wildcard port",
			cfg:         allowed,
			method:      http.MethodGet,
			origin:      "http://127.0.0.1:55123",
			wantStatus:  http.StatusOK,
			wantOrigin:  "http://127.0.0.1:55123",
			wantNext:    true,
			wantCredent: "true",
		},
		{
			name:       "no origin header",
			cfg:        allowed,
			method:     http.MethodPost,
			wantStatus: http.StatusOK,
			wantNext:   true,
		},
		{
			name:       "cors disabled",
			method:     http.MethodGet,
			origin:     "https://anything.example.com",
			wantStatus: http.StatusOK,
			wantNext:   true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			called := false
			h := WithCORS(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				called = true
				w.WriteHeader(http.StatusOK)
			}), tc.cfg, discard)

			req := httptest.NewRequest(tc.method, "/auth/logout", nil)
			if tc.origin != "" {
				req.Header.Set("Origin", tc.origin)
			}
			if tc.preflight {
				req.Header.Set("Access-Control-Request-Method", http.MethodPost)
				req.Header.Set("Access-Control-Request-Headers", "Content-Type, X-CSRF-Token")
			}

			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			if rr.Code != tc.wantStatus {
				t.Fatalf("status=%d want=%d", rr.Code, tc.wantStatus)
			}
			if called != tc.wantNext {
				t.Fatalf("next called=%v want=%v", called, tc.wantNext)
			}
			hdr := rr.Header()
			if got := hdr.Get("Access-Control-Allow-Origin"); got != tc.wantOrigin {
				t.Fatalf("allow-origin=%q want=%q", got, tc.wantOrigin)
			}
			if got := hdr.Get("Access-Control-Allow-Credentials"); got != tc.wantCredent {
				t.Fatalf("allow-credentials=%q want=%q", got, tc.wantCredent)
			}
			if got := hdr.Get("Access-Control-Max-Age"); got != tc.wantMaxAge {
				t.Fatalf("max-age=%q want=%q", got, tc.wantMaxAge)
			}
			if tc.preflight && hdr.Get("Access-Control-Allow-Headers") != "Content-Type, X-CSRF-Token" {
				t.Fatalf("allow-headers not echoed: %q", hdr.Get("Access-Control-Allow-Headers"))
			}
		})
	}
}

func TestWithSecurityHeaders(t *testing.T) {
	h := WithSecurityHeaders(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if rr.Code != http.StatusNoContent {
		t.Fatalf("unexpected status: %d", rr.Code)
	}
	if got := rr.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("missing nosniff: %q", got)
	}
	if got := rr.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("missing frame options: %q", got)
	}
	if got := rr.Header().Get("Referrer-Policy"); got != "no-referrer" {
		t.Fatalf("missing referrer policy: %q", got)
	}
}

func TestWithRequestLogging_LevelsByStatus(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewJSONHandler(&buf, nil))

	h := WithRequestLogging(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte("no"))
	}), log)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/me", nil))

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("decode log record: %v", err)
	}
	if rec["level"] != "WARN" || rec["status"] != float64(401) || rec["bytes"] != float64(2) {
		t.Fatalf("unexpected record: %v", rec)
	}
}

func TestOriginAllowed(t *testing.T) {
	t.Parallel()

	allowed := []string{"https://app.example.com", "http://localhost:*"}
	cases := map[string]bool{
		"https://app.example.com":      true,
		"http://localhost:3000":        true,
		"http://localhost":             false,
		"https://app.example.com.evil": false,
		"null":                         false,
	}
	for origin, want := range cases {
		if got := originAllowed(origin, allowed); got != want {
			t.Fatalf("originAllowed(%q)=%v want=%v", origin, got, want)
		}
	}
}
