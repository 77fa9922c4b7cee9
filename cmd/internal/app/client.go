package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"podium/cmd/internal/backend"
	"podium/cmd/internal/channel"
	"podium/cmd/internal/localstore"
	"podium/cmd/internal/room"
	"podium/cmd/internal/session"
	"podium/cmd/internal/tui"

	"github.com/prometheus/client_golang/prometheus"
)

// RunClient starts the terminal client and blocks until the user quits.
// The TUI owns stdout, so logs go to cfg.LogPath or nowhere.
func RunClient(ctx context.Context, cfg ClientConfig) error {
	logOut, closeLog, err := openClientLog(cfg.LogPath)
	if err != nil {
		return err
	}
	defer closeLog()
	log := NewLogger(cfg.LogLevel, "json", logOut)

	if err := os.MkdirAll(filepath.Dir(cfg.StatePath), 0o700); err != nil {
		return fmt.Errorf("state dir: %w", err)
	}
	kv, err := localstore.Open(cfg.StatePath)
	if err != nil {
		return err
	}

	rounds, err := room.RoundPolicyOption(cfg.RoundPolicy)
	if err != nil {
		return err
	}

	api, err := backend.NewHTTPClient(cfg.ServerURL, nil)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	metrics := channel.NewMetrics(reg)

	chCfg := channel.DefaultConfig(cfg.WSURL)
	chCfg.Origin = cfg.Origin
	chCfg.DialTimeout = cfg.DialTimeout
	chCfg.Retry = channel.RetryPolicy{Initial: cfg.RetryInitial, Max: cfg.RetryMax, MaxAttempts: cfg.RetryMaxTry}

	log.Info("client.start", "server_url", cfg.ServerURL, "ws_url", cfg.WSURL, "round_policy", cfg.RoundPolicy)

	err = tui.Run(ctx, tui.Deps{
		Connect:     func(tok string) tui.API { return api.WithToken(tok) },
		Sessions:    session.NewStore(kv),
		Dial:        room.ChannelDialer(chCfg, channel.WithMetrics(metrics)),
		Log:         log,
		RoomOptions: []room.Option{room.WithBannerDuration(cfg.BannerFor), rounds},
	}, cfg.AltScreen)

	logCounters(log, reg)
	return err
}

func openClientLog(path string) (io.Writer, func(), error) {
	if path == "" {
		return io.Discard, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) // #nosec G304 -- operator-supplied path.
	if err != nil {
		return nil, nil, fmt.Errorf("open client log: %w", err)
	}
	return f, func() { _ = f.Close() }, nil
}

// logCounters writes a one-line summary of every counter in reg.
func logCounters(log *slog.Logger, reg *prometheus.Registry) {
	families, err := reg.Gather()
	if err != nil {
		log.Warn("client.metrics.fail", "err", err)
		return
	}
	attrs := make([]any, 0, 2*len(families))
	for _, mf := range families {
		var total float64
		for _, m := range mf.GetMetric() {
			total += m.GetCounter().GetValue()
		}
		attrs = append(attrs, mf.GetName(), total)
	}
	log.Info("client.metrics", attrs...)
}
