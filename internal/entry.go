// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/starford/decksync/internal/anki"
	"github.com/starford/decksync/internal/api"
	"github.com/starford/decksync/internal/joplin"
	"github.com/starford/decksync/internal/ledger"
	"github.com/starford/decksync/internal/models"
	"github.com/starford/decksync/internal/request"
	"github.com/starford/decksync/internal/runner"
	"github.com/starford/decksync/internal/sse"
)

const progressThrottle = 500 * time.Millisecond

type application struct {
	config *Config
	out    io.Writer
	logOut io.Writer

	logger  *slog.Logger
	logFile io.Closer
	ledger  *ledger.DB
}

func newApplication(opts []Option) (*application, error) {
	app := &application{out: os.Stdout, logOut: os.Stderr}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	cfg := app.config

	// Structured JSON logs, optionally teed into a rotating file.
	w := app.logOut
	if cfg.App.Log.File != "" {
		lj := &lumberjack.Logger{
			Filename:   cfg.App.Log.File,
			MaxSize:    cfg.App.Log.MaxSizeMB,
			MaxBackups: cfg.App.Log.MaxBackups,
			MaxAge:     cfg.App.Log.MaxAgeDays,
		}
		app.logFile = lj
		w = io.MultiWriter(w, lj)
	}
	app.logger = slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(app.logger)

	app.logger.Info("Configuration loaded",
		slog.String("joplin_url", cfg.Joplin.URL),
		slog.String("anki_url", cfg.Anki.URL),
		slog.String("ledger_path", cfg.Sync.LedgerPath),
		slog.Int("batch_size", cfg.Sync.BatchSize),
		slog.String("log_level", cfg.App.LogLevel.String()))

	if cfg.Sync.LedgerPath != "" {
		db, err := ledger.Open(cfg.Sync.LedgerPath)
		if err != nil {
			app.close()
			return nil, fmt.Errorf("init ledger: %w", err)
		}
		app.ledger = db
	}
	return app, nil
}

func (a *application) close() {
	if a.ledger != nil {
		if err := a.ledger.Close(); err != nil {
			a.logger.Warn("ledger close failed", slog.String("error", err.Error()))
		}
	}
	if a.logFile != nil {
		_ = a.logFile.Close()
	}
}

// newRunner wires fresh clients for one run; the destination's deck cache
// must not outlive it.
func (a *application) newRunner(notify runner.Notifier) (*runner.Runner, error) {
	cfg := a.config
	since, err := cfg.Sync.SinceTime()
	if err != nil {
		return nil, err
	}

	src := joplin.New(cfg.Joplin.URL, cfg.Joplin.Token,
		request.New("joplin", request.LinearTimeout{Base: cfg.Joplin.Timeout}, request.WithLogger(a.logger)),
		joplin.WithPageDelay(cfg.Joplin.PageDelay),
		joplin.WithLogger(a.logger))
	dest := anki.New(cfg.Anki.URL,
		request.New("anki", request.DefaultExponentialBackoff(cfg.Anki.Timeout), request.WithLogger(a.logger)),
		a.logger)

	opts := []runner.Option{
		runner.WithLogger(a.logger),
		runner.WithSince(since),
		runner.WithBatchSize(cfg.Sync.BatchSize),
		runner.WithAlwaysUpdate(cfg.Sync.AlwaysUpdate),
	}
	if a.ledger != nil {
		opts = append(opts, runner.WithLedger(a.ledger))
	}
	if notify != nil {
		opts = append(opts, runner.WithNotifier(notify))
	}
	if cfg.Anki.SyncAfterRun {
		opts = append(opts, runner.WithSyncEngine(dest))
	}
	return runner.New(src, dest, opts...), nil
}

// Sync performs a single run and writes its summary as JSON.
func Sync(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	defer app.close()

	r, err := app.newRunner(nil)
	if err != nil {
		return err
	}
	summary, runErr := r.Run(ctx)
	if summary != nil {
		if err := writeSummary(app.out, summary); err != nil {
			return err
		}
	}
	if runErr != nil {
		return fmt.Errorf("sync run: %w", runErr)
	}
	if summary.ItemsFailed > 0 {
		return fmt.Errorf("sync run: %d of %d items failed", summary.ItemsFailed, summary.Items)
	}
	return nil
}

func writeSummary(w io.Writer, s *models.Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(s); err != nil {
		return fmt.Errorf("write summary: %w", err)
	}
	return nil
}

// Serve runs the sync daemon: periodic and triggered runs, the status API
// and the progress event stream.
func Serve(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	defer app.close()

	cfg := app.config
	logger := app.logger

	broker := sse.NewBroker(progressThrottle)
	defer broker.Close()

	scheduler := runner.NewScheduler(func(ctx context.Context) (*models.Summary, error) {
		r, err := app.newRunner(broker)
		if err != nil {
			return nil, err
		}
		return r.Run(ctx)
	}, cfg.Server.Interval, logger)

	var history api.RunHistory
	if app.ledger != nil {
		history = app.ledger
	}
	svc := api.NewService(scheduler, history)
	router := api.NewRouter(svc, cfg.Server.Auth.AuthEnabled(), cfg.Server.Auth.Token, broker, logger)

	httpServer := &http.Server{
		Addr:              cfg.Server.HTTP.Address(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...",
		slog.String("http_address", cfg.Server.HTTP.Address()),
		slog.Duration("interval", cfg.Server.Interval),
		slog.Bool("auth", cfg.Server.Auth.AuthEnabled()))

	g, gCtx := errgroup.WithContext(ctx)

	// Scheduled and triggered runs.
	g.Go(func() error {
		return scheduler.Start(gCtx)
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.Server.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		var err error
		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
			err = errShutdown
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		// Closing the broker ends open event streams so Shutdown can drain.
		broker.Close()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return err
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group's context so the scheduler stops.
var errShutdown = errors.New("shutdown requested")
