package app

import (
	"context"
	"errors"
	"fmt"

	"rememberme/cmd/identity"
	"rememberme/migrations"
)

// Migrate applies the embedded schema migrations.
func (a *App) Migrate(ctx context.Context) (int64, error) {
	if a.pool == nil {
		return 0, errors.New("migrate: REMEMBERME_DATABASE_URL is not set")
	}
	db := sqlDB(a.pool)
	defer func() { _ = db.Close() }()

	if err := migrations.Up(ctx, db); err != nil {
		return 0, err
	}
	v, err := migrations.Version(ctx, db)
	if err != nil {
		return 0, err
	}
	a.log.Info("db.migrate.ok", "version", v)
	return v, nil
}

// Sweep removes expired remember-me rows, optionally scoped to one owner.
func (a *App) Sweep(ctx context.Context, ownerModel, ownerID string) (int64, error) {
	if ownerID != "" && ownerModel == "" {
		return 0, errors.New("sweep: --owner needs --model")
	}
	n, err := a.rm.Sweep(ctx, ownerModel, ownerID)
	if err != nil {
		return 0, fmt.Errorf("sweep: %w", err)
	}
	a.log.Info("rememberme.sweep.ok", "owner_model", ownerModel, "owner_id", ownerID, "rows", n)
	return n, nil
}

// UserAdd registers a user in the configured directory.
func (a *App) UserAdd(ctx context.Context, in identity.CreateUserInput) (identity.Record, error) {
	rec, err := a.directory.CreateUser(ctx, in)
	if err != nil {
		return identity.Record{}, err
	}
	rec.PasswordHash = ""
	a.log.Info("identity.user.created", "user", rec)
	return rec, nil
}
