package app

import "context"

// Open loads configuration from the environment and wires an App.
func Open(ctx context.Context) (*App, error) {
	cfg := LoadConfig()
	return New(ctx, cfg, NewLogger(cfg.LogLevel, cfg.LogFormat))
}
