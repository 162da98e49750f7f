package main

import (
	"context"
	"errors"
	"flag"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rendis/nodeflow/internal/api"
	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/reaper"
)

const shutdownTimeout = 30 * time.Second

func serveCmd(ctx context.Context, cfg Config, logger *slog.Logger, level *slog.LevelVar, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	addr := fs.String("addr", cfg.ListenAddr, "HTTP listen address")
	noReaper := fs.Bool("no-reaper", false, "do not fail abandoned executions")
	if err := parseFlags(fs, args); err != nil {
		return err
	}
	cfg.ListenAddr = *addr

	a, err := openApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	eng := a.engine(a.store)
	rt := engine.NewRuntime(eng, cfg.runtimeConfig(), logger)

	var rp *reaper.Reaper
	if !*noReaper {
		rp = reaper.New(cfg.reaperConfig(), a.store, eng, rt.InFlight, logger)
		if err := rp.Start(ctx); err != nil {
			return err
		}
	}

	srv := api.NewServer(api.Deps{
		Store:      a.store,
		Dispatcher: rt,
		Hub:        a.hub,
		Logger:     logger,
	})
	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(_ net.Listener) context.Context { return ctx },
	}

	go watchReload(ctx, cfg, level, logger)

	errCh := make(chan error, 1)
	go func() {
		logger.Info("nodeflow listening",
			slog.String("addr", cfg.ListenAddr),
			slog.Int("pool_size", cfg.PoolSize),
			slog.String("memo_backend", cfg.MemoBackend),
		)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if rp != nil {
		rp.Stop()
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown", slog.String("error", err.Error()))
	}
	if err := rt.Shutdown(shutdownCtx); err != nil {
		// Interrupted runs stay RUNNING and resume on their next delivery.
		logger.Warn("runtime shutdown", slog.String("error", err.Error()))
	}
	m := rt.Metrics()
	logger.Info("stopped",
		slog.Int64("completed", m.Completed),
		slog.Int64("failed", m.Failed),
	)
	return nil
}

// configDiff describes what changed between two configurations.
type configDiff struct {
	LogLevelChanged bool
	RestartNeeded   []string // fields that only take effect after a restart
}

func diffConfigs(old, new Config) configDiff {
	var d configDiff
	if !strings.EqualFold(old.LogLevel, new.LogLevel) {
		d.LogLevelChanged = true
	}
	checks := []struct {
		name    string
		changed bool
	}{
		{"listen_addr", old.ListenAddr != new.ListenAddr},
		{"db_path", old.DBPath != new.DBPath},
		{"log_format", !strings.EqualFold(old.LogFormat, new.LogFormat)},
		{"pool_size", old.PoolSize != new.PoolSize},
		{"max_attempts", old.MaxAttempts != new.MaxAttempts},
		{"retry_delay", old.RetryDelay != new.RetryDelay},
		{"retry_max_delay", old.RetryMaxDelay != new.RetryMaxDelay},
		{"strict_graph", old.strict() != new.strict()},
		{"memo_backend", old.MemoBackend != new.MemoBackend},
		{"badger_path", old.BadgerPath != new.BadgerPath},
		{"reaper_schedule", old.ReaperSchedule != new.ReaperSchedule},
		{"reaper_stale_after", old.ReaperStaleAfter != new.ReaperStaleAfter},
		{"credential_key", old.CredentialKey != new.CredentialKey ||
			old.CredentialPassphrase != new.CredentialPassphrase ||
			old.CredentialSalt != new.CredentialSalt},
	}
	for _, c := range checks {
		if c.changed {
			d.RestartNeeded = append(d.RestartNeeded, c.name)
		}
	}
	return d
}

// watchReload re-reads the configuration on SIGHUP. Only the log level is
// applied live.
func watchReload(ctx context.Context, current Config, level *slog.LevelVar, logger *slog.Logger) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}
		next, err := loadConfig()
		if err != nil {
			logger.Error("config reload failed", slog.String("error", err.Error()))
			continue
		}
		d := diffConfigs(current, next)
		if d.LogLevelChanged {
			level.Set(logging.ParseLevel(strings.ToLower(next.LogLevel)))
			logger.Info("log level changed", slog.String("level", next.LogLevel))
		}
		if len(d.RestartNeeded) > 0 {
			logger.Warn("config changes need a restart", slog.Any("fields", d.RestartNeeded))
		}
		current.LogLevel = next.LogLevel
	}
}
