package rememberme

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"rememberme/cmd/security/token"
)

type testUser struct {
	model, id, username string
}

func (u testUser) Field(name string) (string, bool) {
	if name == "username" && u.username != "" {
		return u.username, true
	}
	return "", false
}

func (u testUser) Source() string     { return u.model }
func (u testUser) PrimaryKey() string { return u.id }

type testSource struct {
	model string

	mu    sync.Mutex
	users map[string]testUser
	err   error
}

func newTestSource(model string, users ...testUser) *testSource {
	s := &testSource{model: model, users: make(map[string]testUser)}
	for _, u := range users {
		s.users[u.username] = u
	}
	return s
}

func (s *testSource) Model() string { return s.model }

func (s *testSource) FindByUsername(_ context.Context, username string) (Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.err != nil {
		return nil, s.err
	}
	u, ok := s.users[username]
	if !ok {
		return nil, ErrIdentityNotFound
	}
	return u, nil
}

func (s *testSource) fail(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
}

// joinedSource answers FindBySeries from the same store and counts calls.
type joinedSource struct {
	*testSource
	store Store

	mu    sync.Mutex
	calls int
}

func (j *joinedSource) FindBySeries(ctx context.Context, username, series string) (Identity, Token, error) {
	j.mu.Lock()
	j.calls++
	j.mu.Unlock()

	id, err := j.FindByUsername(ctx, username)
	if err != nil {
		return nil, Token{}, err
	}
	row, err := j.store.FindBySeries(ctx, j.Model(), id.PrimaryKey(), series)
	if err != nil {
		return nil, Token{}, err
	}
	return id, row, nil
}

// flakyStore injects failures in front of an InMemoryStore.
type flakyStore struct {
	*InMemoryStore

	saveErr   error
	deleteErr error
	dropErr   error
}

func (f *flakyStore) Save(ctx context.Context, t *Token, now time.Time) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	return f.InMemoryStore.Save(ctx, t, now)
}

func (f *flakyStore) DeleteAllMatching(ctx context.Context, ownerModel, ownerID, series string) (int64, error) {
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	return f.InMemoryStore.DeleteAllMatching(ctx, ownerModel, ownerID, series)
}

func (f *flakyStore) DropExpired(ctx context.Context, now time.Time, ownerModel, ownerID string) (int64, error) {
	if f.dropErr != nil {
		return 0, f.dropErr
	}
	return f.InMemoryStore.DropExpired(ctx, now, ownerModel, ownerID)
}

type recordingAudit struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (a *recordingAudit) Record(_ context.Context, ev AuditEvent) {
	a.mu.Lock()
	a.events = append(a.events, ev)
	a.mu.Unlock()
}

func (a *recordingAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]string, 0, len(a.events))
	for _, ev := range a.events {
		out = append(out, ev.Action)
	}
	return out
}

func (a *recordingAudit) last() AuditEvent {
	a.mu.Lock()
	defer a.mu.Unlock()

	if len(a.events) == 0 {
		return AuditEvent{}
	}
	return a.events[len(a.events)-1]
}

type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

var (
	userBar = testUser{model: "users", id: "2", username: "bar"}
	userBaz = testUser{model: "users", id: "3", username: "baz"}
)

type harness struct {
	svc     *Service
	store   *flakyStore
	source  *testSource
	codec   *Codec
	tokens  token.Generator
	audit   *recordingAudit
	metrics *Metrics
	clock   *testClock
}

func newHarness(t *testing.T, mutate func(*Config), opts ...Option) *harness {
	t.Helper()

	cfg := DefaultConfig()
	cfg.TokenStorageModel = StorageMemory
	if mutate != nil {
		mutate(&cfg)
	}

	h := &harness{
		store:  &flakyStore{InMemoryStore: NewInMemoryStore()},
		source: newTestSource("users", userBar, userBaz),
		codec:  mustCodec(t),
		audit:  &recordingAudit{},
		clock:  &testClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)},
	}

	var err error
	h.tokens, err = token.NewGenerator(0, []byte("pepper-pepper-pepper"))
	require.NoError(t, err)
	h.metrics, err = NewMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	reg, err := NewRegistry(h.source)
	require.NoError(t, err)

	all := append([]Option{
		WithClock(h.clock.now),
		WithAudit(h.audit),
		WithMetrics(h.metrics),
	}, opts...)
	h.svc, err = NewService(cfg, h.codec, h.store, reg, h.tokens, all...)
	require.NoError(t, err)
	return h
}

// loginRequest is a password-login POST carrying the remember-me form field.
func loginRequest(remember bool) *http.Request {
	body := "username=bar"
	if remember {
		body += "&remember_me=1"
	}
	r := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.Header.Set("User-Agent", "rememberme-test")
	return r
}

func requestWithCookie(c *http.Cookie) *http.Request {
	r := httptest.NewRequest(http.MethodGet, "/me", nil)
	if c != nil {
		r.AddCookie(c)
	}
	return r
}

func responseCookie(t *testing.T, rec *httptest.ResponseRecorder, name string) *http.Cookie {
	t.Helper()
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// login persists a fresh token for u and returns the issued cookie.
func (h *harness) login(t *testing.T, u Identity) *http.Cookie {
	t.Helper()

	rec := httptest.NewRecorder()
	iss, err := h.svc.PersistToken(rec, loginRequest(true), u)
	require.NoError(t, err)
	require.True(t, iss.Written())

	c := responseCookie(t, rec, h.svc.Config().CookieName)
	require.NotNil(t, c)
	return c
}
