package authapi

import (
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config controls auth API behavior and security defaults.
type Config struct {
	TrustProxy   bool
	MaxBodyBytes int64

	LoginIPMax    int
	LoginIPWindow time.Duration

	LoginUserWindow time.Duration

	LockoutShortThreshold  int
	LockoutShortDuration   time.Duration
	LockoutLongThreshold   int
	LockoutLongDuration    time.Duration
	LockoutSevereThreshold int
	LockoutSevereDuration  time.Duration

	CSRFCookieName string
	CSRFHeaderName string

	// The session and CSRF cookies share these attributes with the remember-me cookie.
	CookiePath     string
	CookieDomain   string
	CookieSecure   bool
	CookieSameSite http.SameSite
}

// LoadConfigFromEnv loads auth config from environment variables with safe defaults.
func LoadConfigFromEnv() Config {
	cfg := Config{
		TrustProxy:             envBool("REMEMBERME_AUTH_TRUST_PROXY", false),
		MaxBodyBytes:           envInt64("REMEMBERME_AUTH_MAX_BODY_BYTES", 1<<20), // 1 MiB
		LoginIPMax:             envInt("REMEMBERME_AUTH_LOGIN_IP_MAX", 20),
		LoginIPWindow:          envDuration("REMEMBERME_AUTH_LOGIN_IP_WINDOW", 5*time.Minute),
		LoginUserWindow:        envDuration("REMEMBERME_AUTH_LOGIN_USER_WINDOW", 15*time.Minute),
		LockoutShortThreshold:  envInt("REMEMBERME_AUTH_LOCKOUT_SHORT_THRESHOLD", 5),
		LockoutShortDuration:   envDuration("REMEMBERME_AUTH_LOCKOUT_SHORT_DURATION", 5*time.Minute),
		LockoutLongThreshold:   envInt("REMEMBERME_AUTH_LOCKOUT_LONG_THRESHOLD", 10),
		LockoutLongDuration:    envDuration("REMEMBERME_AUTH_LOCKOUT_LONG_DURATION", 30*time.Minute),
		LockoutSevereThreshold: envInt("REMEMBERME_AUTH_LOCKOUT_SEVERE_THRESHOLD", 20),
		LockoutSevereDuration:  envDuration("REMEMBERME_AUTH_LOCKOUT_SEVERE_DURATION", 2*time.Hour),
		CSRFCookieName:         envString("REMEMBERME_AUTH_CSRF_COOKIE_NAME", "csrf_token"),
		CSRFHeaderName:         envString("REMEMBERME_AUTH_CSRF_HEADER_NAME", "X-CSRF-Token"),
		CookiePath:             "/",
		CookieSecure:           true,
		CookieSameSite:         http.SameSiteLaxMode,
	}

	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.LoginIPMax <= 0 {
		cfg.LoginIPMax = 20
	}
	return cfg
}

// lockoutTiers returns the progressive lockout tiers, most severe first.
func (c Config) lockoutTiers() []lockoutTier {
	return []lockoutTier{
		{Threshold: c.LockoutSevereThreshold, Duration: c.LockoutSevereDuration},
		{Threshold: c.LockoutLongThreshold, Duration: c.LockoutLongDuration},
		{Threshold: c.LockoutShortThreshold, Duration: c.LockoutShortDuration},
	}
}

// lockoutLookback is how far back failures must be loaded to evaluate every tier.
func (c Config) lockoutLookback() time.Duration {
	longest := c.LockoutShortDuration
	for _, d := range []time.Duration{c.LockoutLongDuration, c.LockoutSevereDuration} {
		if d > longest {
			longest = d
		}
	}
	return c.LoginUserWindow + longest
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envInt64(key string, def int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// FailureRetention is how long a failure log must keep entries for every throttle to see them.
func (c Config) FailureRetention() time.Duration {
	return max(c.LoginIPWindow, c.lockoutLookback())
}
