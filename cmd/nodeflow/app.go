package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rendis/nodeflow/internal/credentials"
	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/internal/nodes"
	"github.com/rendis/nodeflow/internal/steps"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/internal/streaming"
)

// app holds the long-lived components shared by the subcommands.
type app struct {
	cfg      Config
	logger   *slog.Logger
	store    *store.LibSQLStore
	memo     steps.MemoStore
	vault    *credentials.Vault
	hub      *streaming.MemoryHub
	registry *nodes.Registry
	closers  []func() error
}

func openApp(ctx context.Context, cfg Config, logger *slog.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger, hub: streaming.NewMemoryHub()}

	if p, ok := strings.CutPrefix(dsn(cfg.DBPath), "file:"); ok {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	st, err := store.NewLibSQLStore(dsn(cfg.DBPath))
	if err != nil {
		return nil, err
	}
	a.store = st
	a.closers = append(a.closers, st.Close)
	if err := st.Migrate(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	switch cfg.MemoBackend {
	case memoBackendBadger:
		bs, err := steps.OpenBadgerStore(steps.BadgerConfig{
			Dir:       cfg.BadgerPath,
			RetainFor: time.Duration(cfg.MemoRetain),
		}, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.memo = bs
		a.closers = append(a.closers, bs.Close)
	default:
		a.memo = st
	}

	keyCfg, err := cfg.keyConfig()
	if err != nil {
		a.Close()
		return nil, err
	}
	var cipher *credentials.Cipher
	if keyCfg.Enabled() {
		if cipher, err = credentials.NewCipher(keyCfg); err != nil {
			a.Close()
			return nil, err
		}
	} else {
		logger.Warn("no credential key configured, credentials are stored unencrypted")
	}
	a.vault = credentials.NewVault(st, cipher)

	a.registry = nodes.NewRegistry(nodes.Deps{
		Credentials: a.vault,
		LLM:         cfg.llmConfig(),
		Logger:      logger,
	})
	return a, nil
}

// engine builds an Engine reading graphs from workflows.
func (a *app) engine(workflows engine.WorkflowSource) *engine.Engine {
	return engine.New(a.cfg.engineConfig(), engine.Deps{
		Workflows: workflows,
		Records:   a.store,
		Executors: a.registry,
		Memo:      a.memo,
		Hub:       a.hub,
		Logger:    a.logger,
	})
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

// dsn turns a plain path into a libsql file URL.
func dsn(path string) string {
	if strings.Contains(path, ":") && !filepath.IsAbs(path) {
		return path
	}
	return "file:" + path
}
