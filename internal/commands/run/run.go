// Copyright 2025 Mortem Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package run

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/mortem-dev/mortem/internal/cli"
	"github.com/mortem-dev/mortem/internal/config"
	"github.com/mortem-dev/mortem/internal/history"
	"github.com/mortem-dev/mortem/internal/log"
	"github.com/mortem-dev/mortem/internal/session"
	"github.com/mortem-dev/mortem/internal/shell"
	"github.com/mortem-dev/mortem/internal/tracing"
)

// execute wires the run-scoped infrastructure (config, tracing, metrics,
// history) and then drives one run, or a sequence of runs in watch mode.
func execute(ctx context.Context, opts options, target []string) error {
	if err := validateFlags(opts); err != nil {
		return err
	}

	configPath, err := cli.ResolveConfigPath()
	if err != nil {
		return cli.NewConfigError("failed to resolve config path", err)
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return cli.NewConfigError("invalid configuration", err)
	}
	applyOverrides(cfg, opts)

	logger := log.WithComponent(slog.Default(), "run")

	ver, _, _ := cli.GetVersion()
	tp, err := tracing.Init(ctx, cfg.Tracing, ver)
	if err != nil {
		return cli.NewConfigError("failed to initialize tracing", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", log.Error(err))
		}
	}()

	// Report destinations are opened once and stay open across watch
	// re-runs, so a rebuilt target appends to the same report file.
	dests, closeDests, err := openDestinations(cfg.Report.Destinations)
	if err != nil {
		return cli.NewConfigError("failed to open report destination", err)
	}
	defer closeDests()

	var ctrlOpts []session.Option
	if len(dests) > 0 {
		ctrlOpts = append(ctrlOpts, session.WithDestinations(append([]io.Writer{os.Stdout}, dests...)...))
	}
	if opts.interactive {
		ctrlOpts = append(ctrlOpts, session.WithInteractive(shell.New(cfg)))
	}

	if cfg.Metrics.ListenAddr != "" {
		metrics, err := tracing.NewMetrics(nil)
		if err != nil {
			return cli.NewRunError("failed to initialize metrics", err)
		}
		stopMetrics := serveMetrics(cfg.Metrics.ListenAddr, metrics, logger)
		defer stopMetrics()
		ctrlOpts = append(ctrlOpts, session.WithMeter(metrics))
	}

	var store *history.Store
	if cfg.History.Enabled {
		store, err = history.Open(cfg.History)
		if err != nil {
			// A broken history database shouldn't stop a debugging run.
			logger.Warn("history disabled for this run", log.Error(err))
			store = nil
		} else {
			defer store.Close()
		}
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.watch {
		return watchLoop(ctx, cfg, opts, target, ctrlOpts, store, logger)
	}

	_, err = runOnce(ctx, cfg, target, ctrlOpts, store, runTimeout(opts), logger)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			// An interrupt is the user ending the run, not a failure.
			return nil
		}
		return cli.WrapError("run failed", err)
	}
	return nil
}

// runOnce drives a single debugging run under its own run ID and records
// the outcome in history.
func runOnce(ctx context.Context, cfg *config.Config, target []string, ctrlOpts []session.Option, store *history.Store, timeout time.Duration, logger *slog.Logger) (session.Stats, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	runID := uuid.NewString()
	runLogger := log.WithRunID(logger, runID)

	opts := append([]session.Option{}, ctrlOpts...)
	recorded := false
	if store != nil {
		if err := store.BeginRun(ctx, &history.Run{ID: runID, Target: strings.Join(target, " ")}); err != nil {
			runLogger.Warn("failed to record run start", log.Error(err))
		} else {
			recorded = true
			opts = append(opts, session.WithRecorder(store.Recorder(runID)))
		}
	}

	ctrl, err := session.NewController(cfg, target, opts...)
	if err != nil {
		if recorded {
			finishRun(store, runID, session.Stats{}, history.OutcomeFailed, runLogger)
		}
		return session.Stats{}, err
	}

	runLogger.Info("run started", log.String("target", strings.Join(target, " ")))
	stats, runErr := ctrl.Run(ctx)

	if recorded {
		outcome := history.OutcomeCompleted
		switch {
		case errors.Is(runErr, context.Canceled):
			outcome = history.OutcomeInterrupted
		case runErr != nil:
			outcome = history.OutcomeFailed
		}
		finishRun(store, runID, stats, outcome, runLogger)
	}

	runLogger.Info("run finished",
		log.Int("errors_seen", stats.ErrorsSeen),
		log.Int("reports_emitted", stats.ReportsEmitted),
		log.Int("reports_suppressed", stats.ReportsSuppressed),
		log.Int("lines_dropped", stats.LinesDropped))

	return stats, runErr
}

// finishRun closes out the history row. The run context may already be
// canceled, so the write gets its own deadline.
func finishRun(store *history.Store, runID string, stats session.Stats, outcome string, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := store.FinishRun(ctx, &history.Run{
		ID:                runID,
		FinishedAt:        time.Now(),
		ErrorsSeen:        stats.ErrorsSeen,
		ReportsEmitted:    stats.ReportsEmitted,
		ReportsSuppressed: stats.ReportsSuppressed,
		LinesDropped:      stats.LinesDropped,
		Outcome:           outcome,
	})
	if err != nil {
		logger.Warn("failed to record run outcome", log.Error(err))
	}
}

// validateFlags rejects flag values the config layer never sees.
func validateFlags(opts options) error {
	if opts.first < 0 {
		return cli.NewConfigError(fmt.Sprintf("invalid --first %d: must be 1 or higher", opts.first), nil)
	}
	if opts.timeout < 0 {
		return cli.NewConfigError(fmt.Sprintf("invalid --timeout %d: must be positive", opts.timeout), nil)
	}
	return nil
}

// applyOverrides layers the command-line flags over the loaded config.
func applyOverrides(cfg *config.Config, opts options) {
	if opts.first > 0 {
		cfg.Memcheck.FirstError = opts.first
	}
	if len(opts.setupCmds) > 0 {
		cfg.Debugger.SetupCommands = append(cfg.Debugger.SetupCommands, opts.setupCmds...)
	}
	if len(opts.outputs) > 0 {
		cfg.Report.Destinations = append(cfg.Report.Destinations, opts.outputs...)
	}
	if opts.filter != "" {
		cfg.Report.Filter = opts.filter
	}
	if len(opts.suppress) > 0 {
		cfg.Report.SuppressPaths = append(cfg.Report.SuppressPaths, opts.suppress...)
	}
	if opts.metricsAddr != "" {
		cfg.Metrics.ListenAddr = opts.metricsAddr
	}
	if opts.noHistory {
		cfg.History.Enabled = false
	}
}

func runTimeout(opts options) time.Duration {
	return time.Duration(opts.timeout) * time.Second
}

// openDestinations resolves destination names to writers. "stdout" and
// "stderr" map to the process streams; anything else is created as a
// file. The returned cleanup closes the files.
func openDestinations(names []string) ([]io.Writer, func(), error) {
	var writers []io.Writer
	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			f.Close()
		}
	}

	seen := make(map[string]bool)
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true

		switch name {
		case "stdout":
			// Always the first destination; nothing to add.
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
			if err != nil {
				closeAll()
				return nil, nil, err
			}
			files = append(files, f)
			writers = append(writers, f)
		}
	}
	return writers, closeAll, nil
}

// serveMetrics exposes the Prometheus handler on addr until the returned
// stop function is called.
func serveMetrics(addr string, metrics *tracing.Metrics, logger *slog.Logger) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info("metrics listener started", log.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics listener failed", log.Error(err))
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics listener shutdown failed", log.Error(err))
		}
		if err := metrics.Shutdown(shutdownCtx); err != nil {
			logger.Warn("metrics shutdown failed", log.Error(err))
		}
	}
}
