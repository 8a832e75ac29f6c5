package authapi

import (
	"context"
	"net"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"
)

// LoginFailure is one failed primary-login attempt.
type LoginFailure struct {
	IP         net.IP
	Identifier string
	Reason     string
	UserAgent  string
	At         time.Time
}

// FailureLog records failed logins and answers throttling queries.
type FailureLog interface {
	Record(ctx context.Context, f LoginFailure) error
	ByIP(ctx context.Context, ip net.IP, since time.Time) ([]time.Time, error)
	ByIdentifier(ctx context.Context, identifier string, since time.Time) ([]time.Time, error)
}

type lockoutTier struct {
	Threshold int
	Duration  time.Duration
}

// checkLoginThrottle applies the per-IP window and the per-identifier progressive lockout.
func (h *Handler) checkLoginThrottle(ctx context.Context, ip net.IP, identifier string, now time.Time) (bool, time.Duration, error) {
	if ip != nil && h.cfg.LoginIPMax > 0 {
		failures, err := h.failures.ByIP(ctx, ip, now.Add(-h.cfg.LoginIPWindow))
		if err != nil {
			return false, 0, err
		}
		if blocked, retry := evaluateWindowThrottle(now, failures, h.cfg.LoginIPMax, h.cfg.LoginIPWindow); blocked {
			return true, retry, nil
		}
	}

	if identifier == "" {
		return false, 0, nil
	}
	failures, err := h.failures.ByIdentifier(ctx, identifier, now.Add(-h.cfg.lockoutLookback()))
	if err != nil {
		return false, 0, err
	}
	blocked, retry := evaluateProgressiveLockout(now, lastBurst(failures, h.cfg.LoginUserWindow), h.cfg.lockoutTiers())
	return blocked, retry, nil
}

// evaluateWindowThrottle blocks once limit failures fall inside (now-window, now].
// The retry delay is the time until enough of them age out.
func evaluateWindowThrottle(now time.Time, failures []time.Time, limit int, window time.Duration) (bool, time.Duration) {
	if limit <= 0 || window <= 0 {
		return false, 0
	}
	cut := now.Add(-window)
	in := make([]time.Time, 0, len(failures))
	for _, f := range failures {
		if f.After(cut) && !f.After(now) {
			in = append(in, f)
		}
	}
	if len(in) < limit {
		return false, 0
	}
	slices.SortFunc(in, func(a, b time.Time) int { return a.Compare(b) })
	return true, in[len(in)-limit].Add(window).Sub(now)
}

// evaluateProgressiveLockout locks for a tier's duration after the latest failure
// once the failure count reaches the tier's threshold. The most severe active tier wins.
func evaluateProgressiveLockout(now time.Time, failures []time.Time, tiers []lockoutTier) (bool, time.Duration) {
	if len(failures) == 0 {
		return false, 0
	}
	latest := failures[0]
	for _, f := range failures[1:] {
		if f.After(latest) {
			latest = f
		}
	}

	sorted := slices.Clone(tiers)
	slices.SortFunc(sorted, func(a, b lockoutTier) int { return b.Threshold - a.Threshold })

	for _, tier := range sorted {
		if tier.Threshold <= 0 || len(failures) < tier.Threshold {
			continue
		}
		if until := latest.Add(tier.Duration); until.After(now) {
			return true, until.Sub(now)
		}
	}
	return false, 0
}

// lastBurst keeps the failures within window of the most recent one.
func lastBurst(failures []time.Time, window time.Duration) []time.Time {
	if len(failures) == 0 || window <= 0 {
		return failures
	}
	latest := slices.MaxFunc(failures, func(a, b time.Time) int { return a.Compare(b) })
	cut := latest.Add(-window)
	out := make([]time.Time, 0, len(failures))
	for _, f := range failures {
		if f.After(cut) {
			out = append(out, f)
		}
	}
	return out
}

func writeRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	if retryAfter > 0 {
		secs := int64(retryAfter / time.Second)
		if retryAfter%time.Second != 0 {
			secs++
		}
		w.Header().Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	writeError(w, http.StatusTooManyRequests, "rate_limited", "too many attempts")
}

// MemoryFailureLog is an in-process FailureLog for development and tests.
type MemoryFailureLog struct {
	retention time.Duration

	mu      sync.Mutex
	byIP    map[string][]time.Time
	byIdent map[string][]time.Time
}

// NewMemoryFailureLog keeps failures for retention.
func NewMemoryFailureLog(retention time.Duration) *MemoryFailureLog {
	return &MemoryFailureLog{
		retention: retention,
		byIP:      make(map[string][]time.Time),
		byIdent:   make(map[string][]time.Time),
	}
}

// Record implements FailureLog.
func (l *MemoryFailureLog) Record(_ context.Context, f LoginFailure) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if f.IP != nil {
		k := f.IP.String()
		l.byIP[k] = l.prune(append(l.byIP[k], f.At), f.At)
	}
	if f.Identifier != "" {
		l.byIdent[f.Identifier] = l.prune(append(l.byIdent[f.Identifier], f.At), f.At)
	}
	return nil
}

// ByIP implements FailureLog.
func (l *MemoryFailureLog) ByIP(_ context.Context, ip net.IP, since time.Time) ([]time.Time, error) {
	if ip == nil {
		return nil, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return notBefore(l.byIP[ip.String()], since), nil
}

// ByIdentifier implements FailureLog.
func (l *MemoryFailureLog) ByIdentifier(_ context.Context, identifier string, since time.Time) ([]time.Time, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return notBefore(l.byIdent[identifier], since), nil
}

func (l *MemoryFailureLog) prune(ts []time.Time, now time.Time) []time.Time {
	if l.retention <= 0 {
		return ts
	}
	return notBefore(ts, now.Add(-l.retention))
}

func notBefore(ts []time.Time, since time.Time) []time.Time {
	out := make([]time.Time, 0, len(ts))
	for _, t := range ts {
		if !t.Before(since) {
			out = append(out, t)
		}
	}
	return out
}
