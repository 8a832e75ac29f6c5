package app

import (
	"time"

	"rememberme/cmd/identity"
)

// Config contains the process configuration loaded from environment variables.
// Component settings (cookie, session, auth API) are loaded by their own packages.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	RedisURL    string
	RedisPrefix string

	// UsernameFields are the users columns a login value is matched against.
	UsernameFields []string

	// CookieSecret and CookieSalt derive the remember-me cookie key.
	// An empty secret means an ephemeral key: cookies do not survive restarts.
	CookieSecret string
	CookieSalt   string

	MetricsEnabled bool

	// If true, /readyz returns 503 unless the database is configured and reachable.
	ReadinessRequireDB bool

	// If true, REMEMBERME_TOKEN_HMAC_KEY must be set and token digests are HMAC-based.
	RequireTokenHMAC bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int
}

// LoadConfig loads Config from environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("REMEMBERME_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("REMEMBERME_LOG_LEVEL", "info"),
		LogFormat: EnvString("REMEMBERME_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("REMEMBERME_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("REMEMBERME_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("REMEMBERME_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("REMEMBERME_HTTP_IDLE_TIMEOUT", 60*time.Second),

		MaxHeaderBytes: EnvInt("REMEMBERME_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL: EnvString("REMEMBERME_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("REMEMBERME_DB_MAX_CONNS", 10),
		DBMinConns:  EnvInt32("REMEMBERME_DB_MIN_CONNS", 0),

		RedisURL:    EnvString("REMEMBERME_REDIS_URL", ""),
		RedisPrefix: EnvString("REMEMBERME_REDIS_PREFIX", ""),

		UsernameFields: EnvList("REMEMBERME_USERNAME_FIELDS", []string{identity.FieldUsername}),

		CookieSecret: EnvString("REMEMBERME_COOKIE_SECRET", ""),
		CookieSalt:   EnvString("REMEMBERME_COOKIE_SALT", "rememberme.cookie"),

		MetricsEnabled: EnvBool("REMEMBERME_METRICS_ENABLED", true),

		ReadinessRequireDB: EnvBool("REMEMBERME_READINESS_REQUIRE_DB", false),

		RequireTokenHMAC: EnvBool("REMEMBERME_REQUIRE_TOKEN_HMAC", false),

		CORSAllowedOrigins:   EnvList("REMEMBERME_CORS_ALLOWED_ORIGINS", nil),
		CORSAllowCredentials: EnvBool("REMEMBERME_CORS_ALLOW_CREDENTIALS", true),
		CORSMaxAgeSeconds:    EnvInt("REMEMBERME_CORS_MAX_AGE_SECONDS", 600),
	}
}
