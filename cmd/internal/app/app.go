// Package app wires the rememberd runtime: config, logging, storage backends, HTTP routes
// and the maintenance commands.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"rememberme/cmd/identity"
	authapi "rememberme/cmd/internal/auth/api"
	"rememberme/cmd/internal/auth/rememberme"
	"rememberme/cmd/internal/auth/session"
	"rememberme/cmd/security/password"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

// App owns the backing connections and the wired remember-me components.
type App struct {
	cfg Config
	log Logger

	pool  *pgxpool.Pool
	redis redis.UniversalClient

	metrics *prometheus.Registry

	directory identity.Directory
	rm        *rememberme.Service
	auth      *authapi.Handler
}

// New constructs a fully wired App. Postgres and Redis are connected only when
// configured; the token storage model decides which one holds remember-me rows.
func New(ctx context.Context, cfg Config, log Logger) (a *App, err error) {
	if log == nil {
		log = NewLogger(cfg.LogLevel, cfg.LogFormat)
	}
	if err := ValidateSecurityConfig(cfg); err != nil {
		return nil, err
	}

	rmCfg, err := rememberme.LoadConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("rememberme config: %w", err)
	}
	if !slices.Contains(cfg.UsernameFields, rmCfg.UsernameField) {
		return nil, fmt.Errorf("%w: username field %q is not a lookup field", rememberme.ErrConfig, rmCfg.UsernameField)
	}

	a = &App{cfg: cfg, log: log, metrics: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if cfg.DatabaseURL != "" {
		if a.pool, err = NewDBPool(ctx, cfg); err != nil {
			return nil, fmt.Errorf("db: %w", err)
		}
		log.Info("db.enabled.postgres")
	}
	if cfg.RedisURL != "" {
		if a.redis, err = NewRedisClient(ctx, cfg); err != nil {
			return nil, err
		}
		log.Info("redis.enabled")
	}

	if a.directory, err = a.newDirectory(rmCfg); err != nil {
		return nil, err
	}
	store, err := a.newTokenStore(rmCfg)
	if err != nil {
		return nil, err
	}

	secret, salt, ephemeral, err := cookieKeyMaterial(cfg)
	if err != nil {
		return nil, err
	}
	if ephemeral {
		log.Warn("rememberme.codec.ephemeral_key", "hint", "set REMEMBERME_COOKIE_SECRET so cookies survive restarts")
	}
	codec, err := rememberme.NewCodec(secret, salt, rmCfg.CookieName)
	if err != nil {
		return nil, err
	}
	tokens, err := newTokenGenerator()
	if err != nil {
		return nil, err
	}
	registry, err := rememberme.NewRegistry(a.directory)
	if err != nil {
		return nil, err
	}

	opts := []rememberme.Option{
		rememberme.WithLogger(log),
		rememberme.WithAudit(a.newAuditSink()),
		rememberme.WithJoinedLookup(rmCfg.TokenStorageModel == rememberme.StoragePostgres),
	}
	if cfg.MetricsEnabled {
		a.metrics.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m, err := rememberme.NewMetrics(a.metrics)
		if err != nil {
			return nil, err
		}
		opts = append(opts, rememberme.WithMetrics(m))
	}
	if a.rm, err = rememberme.NewService(rmCfg, codec, store, registry, tokens, opts...); err != nil {
		return nil, err
	}

	if a.auth, err = a.newAuthHandler(rmCfg); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) newDirectory(rmCfg rememberme.Config) (identity.Directory, error) {
	pw := password.DefaultConfig()
	if a.pool == nil {
		a.log.Info("identity.directory.memory")
		return identity.NewMemoryDirectory(rmCfg.UserModel, a.cfg.UsernameFields, pw)
	}
	return identity.NewPostgresDirectory(a.pool,
		identity.WithModel(rmCfg.UserModel),
		identity.WithLookupFields(a.cfg.UsernameFields...),
		identity.WithPasswordConfig(pw),
	)
}

func (a *App) newTokenStore(rmCfg rememberme.Config) (rememberme.Store, error) {
	switch rmCfg.TokenStorageModel {
	case rememberme.StoragePostgres:
		if a.pool == nil {
			return nil, fmt.Errorf("%w: token storage %q needs REMEMBERME_DATABASE_URL", rememberme.ErrConfig, rmCfg.TokenStorageModel)
		}
		return rememberme.NewPostgresStore(a.pool)
	case rememberme.StorageRedis:
		if a.redis == nil {
			return nil, fmt.Errorf("%w: token storage %q needs REMEMBERME_REDIS_URL", rememberme.ErrConfig, rmCfg.TokenStorageModel)
		}
		return rememberme.NewRedisStore(a.redis, a.cfg.RedisPrefix)
	default:
		a.log.Warn("rememberme.store.memory", "hint", "tokens are lost on restart")
		return rememberme.NewInMemoryStore(), nil
	}
}

func (a *App) newAuditSink() rememberme.AuditSink {
	if a.pool != nil {
		if sink, err := rememberme.NewPostgresAudit(a.pool, rememberme.DefaultSchema, a.log); err == nil {
			return sink
		}
	}
	return rememberme.LogAudit{Log: a.log}
}

func (a *App) newFailureLog(cfg authapi.Config) (authapi.FailureLog, error) {
	switch {
	case a.redis != nil:
		return authapi.NewRedisFailureLog(a.redis, "", cfg.FailureRetention())
	case a.pool != nil:
		return authapi.NewPostgresFailureLog(a.pool, rememberme.DefaultSchema)
	default:
		return authapi.NewMemoryFailureLog(cfg.FailureRetention()), nil
	}
}

func (a *App) newAuthHandler(rmCfg rememberme.Config) (*authapi.Handler, error) {
	sessCfg, err := session.LoadConfigFromEnv()
	if err != nil {
		return nil, fmt.Errorf("session config: %w", err)
	}
	if sessCfg.CookieName == rmCfg.CookieName {
		return nil, fmt.Errorf("%w: session and remember-me cookies share the name %q", rememberme.ErrConfig, rmCfg.CookieName)
	}
	if sessCfg.SecretKeyHex == "" {
		a.log.Warn("session.ephemeral_key", "hint", "set REMEMBERME_SESSION_SECRET_KEY_HEX so sessions survive restarts")
	}
	sessions, err := session.NewPasetoV4PublicManager(sessCfg)
	if err != nil {
		return nil, err
	}

	authCfg := authapi.LoadConfigFromEnv()
	authCfg.CookiePath = rmCfg.CookiePath
	authCfg.CookieDomain = rmCfg.CookieDomain
	authCfg.CookieSecure = rmCfg.CookieSecure
	authCfg.CookieSameSite = rmCfg.CookieSameSite

	failures, err := a.newFailureLog(authCfg)
	if err != nil {
		return nil, err
	}
	checker, err := identity.NewAuthenticator(a.directory, password.DefaultConfig())
	if err != nil {
		return nil, err
	}
	return authapi.NewHandler(a.log, authCfg, checker, a.rm, sessions,
		authapi.WithFailureLog(failures),
		authapi.WithAudit(a.newAuditSink()),
	)
}

// Handler returns the root HTTP handler with middleware applied.
func (a *App) Handler() http.Handler {
	mux := http.NewServeMux()
	registerHTTP(mux, a)
	return WithRequestLogging(WithSecurityHeaders(WithCORS(mux, a.cfg, a.log)), a.log)
}

// Run starts the HTTP server and blocks until context cancellation or fatal server error.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.cfg.HTTPAddr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: nonZeroDuration(a.cfg.ReadHeaderTimeout, 5*time.Second),
		ReadTimeout:       nonZeroDuration(a.cfg.ReadTimeout, 15*time.Second),
		WriteTimeout:      nonZeroDuration(a.cfg.WriteTimeout, 15*time.Second),
		IdleTimeout:       nonZeroDuration(a.cfg.IdleTimeout, 60*time.Second),
		MaxHeaderBytes:    nonZeroInt(a.cfg.MaxHeaderBytes, 1<<20),
	}

	a.log.Info("server.start", "addr", a.cfg.HTTPAddr, "db_enabled", a.pool != nil, "redis_enabled", a.redis != nil)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		a.log.Info("server.stop", "reason", "context_done")
	case err := <-errCh:
		a.log.Error("server.fail", "err", err)
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.log.Error("server.shutdown.fail", "err", err)
		return err
	}

	a.log.Info("server.stopped")
	return nil
}

// Close releases the backing connections.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Error("redis.close.fail", "err", err)
		}
		a.redis = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
}

func nonZeroDuration(v, def time.Duration) time.Duration {
	if v <= 0 {
		return def
	}
	return v
}

func nonZeroInt(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}
