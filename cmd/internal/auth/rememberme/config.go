package rememberme

import (
	"math"
	"net/http"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Storage backends accepted by TokenStorageModel.
const (
	StoragePostgres = "postgres"
	StorageRedis    = "redis"
	StorageMemory   = "memory"
)

// Config defines the remember-me controller behavior.
//
// Field names follow the recognized option surface: cookie.*, rememberMeField,
// always, dropExpiredToken, tokenStorageModel and userModel.
type Config struct {
	CookieName     string
	CookieExpire   time.Duration
	CookiePath     string
	CookieDomain   string
	CookieSecure   bool
	CookieHTTPOnly bool
	CookieSameSite http.SameSite

	// RememberMeField is the request field that opts a login into remember-me.
	RememberMeField string

	// Always issues a token on every login regardless of RememberMeField.
	Always bool

	// DropExpiredToken enables the lazy sweep before issuing.
	DropExpiredToken bool

	// TokenStorageModel names the token store backend (postgres, redis, memory).
	TokenStorageModel string

	// UserModel is the owner-model discriminator of the identity source in use.
	UserModel string

	// UsernameField is the identity field embedded in the cookie.
	UsernameField string
}

// DefaultConfig returns the defaults: a 30 day "rememberMe" cookie, secure and http-only.
func DefaultConfig() Config {
	return Config{
		CookieName:        "rememberMe",
		CookieExpire:      30 * 24 * time.Hour,
		CookiePath:        "/",
		CookieDomain:      "",
		CookieSecure:      true,
		CookieHTTPOnly:    true,
		CookieSameSite:    http.SameSiteLaxMode,
		RememberMeField:   "remember_me",
		Always:            false,
		DropExpiredToken:  true,
		TokenStorageModel: StoragePostgres,
		UserModel:         "users",
		UsernameField:     "username",
	}
}

// LoadConfigFromEnv loads controller configuration from environment variables.
//
// Optional:
//   - REMEMBERME_COOKIE_NAME
//   - REMEMBERME_COOKIE_EXPIRE (alias REMEMBERME_COOKIE_EXPIRES): Go duration or "+30 days"
//   - REMEMBERME_COOKIE_PATH, REMEMBERME_COOKIE_DOMAIN
//   - REMEMBERME_COOKIE_SECURE, REMEMBERME_COOKIE_HTTP_ONLY (bool)
//   - REMEMBERME_COOKIE_SAME_SITE (lax, strict, none)
//   - REMEMBERME_REMEMBER_ME_FIELD
//   - REMEMBERME_ALWAYS, REMEMBERME_DROP_EXPIRED_TOKEN (bool)
//   - REMEMBERME_TOKEN_STORAGE_MODEL (postgres, redis, memory)
//   - REMEMBERME_USER_MODEL, REMEMBERME_USERNAME_FIELD
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := envTrim("REMEMBERME_COOKIE_NAME"); v != "" {
		cfg.CookieName = v
	}

	expire := envTrim("REMEMBERME_COOKIE_EXPIRE")
	if expire == "" {
		expire = envTrim("REMEMBERME_COOKIE_EXPIRES")
	}
	if expire != "" {
		d, err := ParseRelativeDuration(expire)
		if err != nil {
			return Config{}, ErrConfig
		}
		cfg.CookieExpire = d
	}

	if v, ok := os.LookupEnv("REMEMBERME_COOKIE_PATH"); ok {
		cfg.CookiePath = strings.TrimSpace(v)
	}
	if v, ok := os.LookupEnv("REMEMBERME_COOKIE_DOMAIN"); ok {
		cfg.CookieDomain = strings.TrimSpace(v)
	}

	var err error
	if cfg.CookieSecure, err = envBoolStrict("REMEMBERME_COOKIE_SECURE", cfg.CookieSecure); err != nil {
		return Config{}, err
	}
	if cfg.CookieHTTPOnly, err = envBoolStrict("REMEMBERME_COOKIE_HTTP_ONLY", cfg.CookieHTTPOnly); err != nil {
		return Config{}, err
	}
	if cfg.Always, err = envBoolStrict("REMEMBERME_ALWAYS", cfg.Always); err != nil {
		return Config{}, err
	}
	if cfg.DropExpiredToken, err = envBoolStrict("REMEMBERME_DROP_EXPIRED_TOKEN", cfg.DropExpiredToken); err != nil {
		return Config{}, err
	}

	if v := envTrim("REMEMBERME_COOKIE_SAME_SITE"); v != "" {
		ss, ok := parseSameSite(v)
		if !ok {
			return Config{}, ErrConfig
		}
		cfg.CookieSameSite = ss
	}

	if v := envTrim("REMEMBERME_REMEMBER_ME_FIELD"); v != "" {
		cfg.RememberMeField = v
	}
	if v := envTrim("REMEMBERME_TOKEN_STORAGE_MODEL"); v != "" {
		cfg.TokenStorageModel = strings.ToLower(v)
	}
	if v := envTrim("REMEMBERME_USER_MODEL"); v != "" {
		cfg.UserModel = v
	}
	if v := envTrim("REMEMBERME_USERNAME_FIELD"); v != "" {
		cfg.UsernameField = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks invariants that LoadConfigFromEnv and NewService rely on.
func (c Config) Validate() error {
	if !validCookieName(c.CookieName) {
		return ErrConfig
	}
	if c.CookieExpire <= 0 {
		return ErrConfig
	}
	switch c.TokenStorageModel {
	case StoragePostgres, StorageRedis, StorageMemory:
	default:
		return ErrConfig
	}
	if strings.TrimSpace(c.UserModel) == "" || len(c.UserModel) > 64 {
		return ErrConfig
	}
	if strings.TrimSpace(c.UsernameField) == "" || strings.TrimSpace(c.RememberMeField) == "" {
		return ErrConfig
	}
	// Browsers drop SameSite=None cookies that are not Secure.
	if c.CookieSameSite == http.SameSiteNoneMode && !c.CookieSecure {
		return ErrConfig
	}
	return nil
}

var relativeRe = regexp.MustCompile(`^\+?\s*(\d+)\s*([a-z]+)$`)

// ParseRelativeDuration accepts Go durations ("720h") and relative phrases
// ("+30 days", "2 weeks", "+1 year"). Months count as 30 days and years as 365.
// The result must be positive and fit in a time.Duration.
func ParseRelativeDuration(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, ErrConfig
	}

	if d, err := time.ParseDuration(strings.TrimPrefix(s, "+")); err == nil {
		if d <= 0 {
			return 0, ErrConfig
		}
		return d, nil
	}

	m := relativeRe.FindStringSubmatch(s)
	if m == nil {
		return 0, ErrConfig
	}
	n, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil || n <= 0 {
		return 0, ErrConfig
	}

	var unit time.Duration
	switch strings.TrimSuffix(m[2], "s") {
	case "sec", "second":
		unit = time.Second
	case "min", "minute":
		unit = time.Minute
	case "hour":
		unit = time.Hour
	case "day":
		unit = 24 * time.Hour
	case "week":
		unit = 7 * 24 * time.Hour
	case "month":
		unit = 30 * 24 * time.Hour
	case "year":
		unit = 365 * 24 * time.Hour
	default:
		return 0, ErrConfig
	}
	if n > math.MaxInt64/int64(unit) {
		return 0, ErrConfig
	}
	return time.Duration(n) * unit, nil
}

func parseSameSite(v string) (http.SameSite, bool) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "lax":
		return http.SameSiteLaxMode, true
	case "strict":
		return http.SameSiteStrictMode, true
	case "none":
		return http.SameSiteNoneMode, true
	case "default":
		return http.SameSiteDefaultMode, true
	default:
		return 0, false
	}
}

func validCookieName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if r <= ' ' || r >= 0x7f || strings.ContainsRune(`()<>@,;:\"/[]?={}`, r) {
			return false
		}
	}
	return true
}

func envTrim(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func envBoolStrict(key string, def bool) (bool, error) {
	v := envTrim(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, ErrConfig
	}
	return b, nil
}
