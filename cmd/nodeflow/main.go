package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/rendis/nodeflow/internal/logging"
)

// exitError carries a specific process exit code.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

const usage = `nodeflow - runs node/edge workflow graphs.

Usage:
  nodeflow serve                      start the HTTP API, worker pool and reaper
  nodeflow run [options] FILE         run a graph file (.hcl or .json) once
  nodeflow workflow put|list [options] [FILE]
  nodeflow workflow diagram [options] ID
  nodeflow credential put|list|delete [options]
  nodeflow version

Configuration is read from ~/.nodeflow/settings.json and NODEFLOW_* env vars.
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := runCLI(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr); err != nil {
		var ee *exitError
		if errors.As(err, &ee) {
			if ee.msg != "" {
				fmt.Fprintln(os.Stderr, ee.msg)
			}
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runCLI(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stderr, usage)
		return &exitError{code: 2}
	}

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "version", "-v", "--version":
		printVersion(stdout)
		return nil
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	level := new(slog.LevelVar)
	level.Set(logging.ParseLevel(strings.ToLower(cfg.LogLevel)))
	logger := newLogger(cfg.LogFormat, level, stderr)
	slog.SetDefault(logger)

	switch cmd {
	case "serve":
		return serveCmd(ctx, cfg, logger, level, rest, stderr)
	case "run":
		return runCmd(ctx, cfg, logger, rest, stdout, stderr)
	case "workflow":
		return workflowCmd(ctx, cfg, logger, rest, stdout, stderr)
	case "credential":
		return credentialCmd(ctx, cfg, logger, rest, stdin, stdout, stderr)
	default:
		fmt.Fprint(stderr, usage)
		return &exitError{code: 2, msg: fmt.Sprintf("unknown command %q", cmd)}
	}
}

func newLogger(format string, level slog.Leveler, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if strings.EqualFold(format, "json") {
		h = slog.NewJSONHandler(w, opts)
	} else {
		h = slog.NewTextHandler(w, opts)
	}
	return slog.New(logging.NewCorrelationHandler(h))
}

// parseFlags parses a subcommand's flags, mapping -h to a clean exit.
func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return &exitError{code: 0}
		}
		return &exitError{code: 2, msg: err.Error()}
	}
	return nil
}
