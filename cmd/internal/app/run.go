package app

import (
	"context"
	"os/signal"
	"syscall"
)

// RunServer is the podiumd entrypoint. It returns an error instead of calling os.Exit so defers run.
func RunServer() error {
	if err := LoadDotEnv(); err != nil {
		return err
	}
	cfg := LoadConfig()
	log := NewLogger(cfg.LogLevel, cfg.LogFormat, nil)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.Run(ctx)
}

// RunTerminal is the podium client entrypoint.
func RunTerminal() error {
	if err := LoadDotEnv(); err != nil {
		return err
	}
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGTERM)
	defer cancel()

	return RunClient(ctx, LoadClientConfig())
}
