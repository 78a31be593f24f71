package server

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/NicolasHaas/gobans/pkg/crypto"
	"github.com/NicolasHaas/gobans/pkg/datastore"
	"github.com/NicolasHaas/gobans/pkg/logging"
	"github.com/NicolasHaas/gobans/pkg/sshhost"
	"github.com/NicolasHaas/gobans/pkg/store"
)

// OpenStore opens the ban store selected by cfg.Driver.
func OpenStore(ctx context.Context, cfg DBConfig) (datastore.BanStore, error) {
	switch cfg.Driver {
	case DriverSQLite:
		st, err := datastore.OpenSQLite(cfg.Path)
		if err != nil {
			return nil, err
		}
		return st, nil
	case DriverPostgres:
		st, err := datastore.OpenPostgres(ctx, cfg.URL)
		if err != nil {
			return nil, err
		}
		return st, nil
	case DriverMemory:
		return store.NewMemory(), nil
	default:
		return nil, fmt.Errorf("server: unknown db driver %q", cfg.Driver)
	}
}

// Run serves the ban manager behind the SSH host until ctx is cancelled or
// SIGINT/SIGTERM arrives.
func Run(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	st, err := OpenStore(ctx, cfg.DB)
	if err != nil {
		return err
	}

	hostKey, err := crypto.LoadOrGenerateHostKey(cfg.SSH.HostKey)
	if err != nil {
		_ = st.Close()
		return fmt.Errorf("server: host key: %w", err)
	}
	host := sshhost.New(sshhost.Options{
		Addr:    cfg.SSH.Addr,
		HostKey: hostKey,
		Logger:  logging.Component("sshhost"),
	})

	srv, err := New(cfg, Dependencies{Store: st, Host: host})
	if err != nil {
		_ = st.Close()
		return err
	}
	host.SetSink(srv)

	srv.Start()
	srv.StartSweeper(cfg.SweepInterval)
	srv.StartHTTP()
	srv.metrics.StartPeriodicLog(cfg.MetricsLogInterval, srv.ctx.Done())

	hostErr := make(chan error, 1)
	go func() { hostErr <- host.ListenAndServe() }()

	slog.Info("GoBans server running",
		"ssh", cfg.SSH.Addr,
		"http", cfg.HTTPAddr,
		"db", cfg.DB.Driver,
		"prefix", cfg.CommandPrefix,
	)

	// Wait for shutdown signal
	sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runErr error
	select {
	case <-sigCtx.Done():
	case err := <-hostErr:
		if err != nil {
			runErr = fmt.Errorf("server: ssh host: %w", err)
		}
	}

	slog.Info("shutting down...")
	host.Broadcast("Server is shutting down.")
	if err := host.Close(); err != nil {
		slog.Warn("close ssh host", "err", err)
	}
	srv.Shutdown()
	srv.metrics.LogSummary()
	return runErr
}
