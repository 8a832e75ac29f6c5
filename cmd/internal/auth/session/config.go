package session

import (
	"os"
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

// Config defines runtime configuration for login sessions.
type Config struct {
	// Issuer is the value set in the "iss" claim.
	Issuer string

	// TTL is the lifetime of a session token and its cookie.
	TTL time.Duration

	// ClockSkew is the tolerance applied during validation.
	ClockSkew time.Duration

	// CookieName names the session cookie. It must differ from the remember-me cookie.
	CookieName string

	// SecretKeyHex is the hex-encoded Ed25519 secret key used to sign tokens.
	// Empty means an ephemeral key (sessions do not survive restarts).
	SecretKeyHex string
}

// DefaultConfig returns development defaults.
func DefaultConfig() Config {
	return Config{
		Issuer:     "rememberme",
		TTL:        15 * time.Minute,
		ClockSkew:  30 * time.Second,
		CookieName: "session",
	}
}

// LoadConfigFromEnv loads session configuration from environment variables.
//
// Optional:
//   - REMEMBERME_SESSION_ISSUER
//   - REMEMBERME_SESSION_TTL (Go duration)
//   - REMEMBERME_SESSION_CLOCK_SKEW (Go duration)
//   - REMEMBERME_SESSION_COOKIE_NAME
//   - REMEMBERME_SESSION_SECRET_KEY_HEX
//
// Returns ErrConfig if configuration is invalid.
func LoadConfigFromEnv() (Config, error) {
	cfg := DefaultConfig()

	if v := strings.TrimSpace(os.Getenv("REMEMBERME_SESSION_ISSUER")); v != "" {
		cfg.Issuer = v
	}

	if v := strings.TrimSpace(os.Getenv("REMEMBERME_SESSION_TTL")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			return Config{}, ErrConfig
		}
		cfg.TTL = d
	}

	if v := strings.TrimSpace(os.Getenv("REMEMBERME_SESSION_CLOCK_SKEW")); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, ErrConfig
		}
		cfg.ClockSkew = d
	}

	if v := strings.TrimSpace(os.Getenv("REMEMBERME_SESSION_COOKIE_NAME")); v != "" {
		cfg.CookieName = v
	}

	cfg.SecretKeyHex = strings.TrimSpace(os.Getenv("REMEMBERME_SESSION_SECRET_KEY_HEX"))
	if cfg.SecretKeyHex != "" {
		if _, err := paseto.NewV4AsymmetricSecretKeyFromHex(cfg.SecretKeyHex); err != nil {
			return Config{}, ErrConfig
		}
	}

	return cfg, nil
}
