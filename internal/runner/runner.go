// Package runner sequences one sync run: health checks, setup, export,
// extraction and reconciliation.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/starford/decksync/internal/anki"
	"github.com/starford/decksync/internal/apperr"
	"github.com/starford/decksync/internal/extractor"
	"github.com/starford/decksync/internal/joplin"
	"github.com/starford/decksync/internal/ledger"
	"github.com/starford/decksync/internal/models"
	"github.com/starford/decksync/internal/reconcile"
)

const (
	defaultHealthAttempts = 3
	defaultHealthBackoff  = time.Second
)

// Source is the notes service.
type Source interface {
	Ping(ctx context.Context) error
	Folders(ctx context.Context) ([]models.Folder, error)
	NotesSince(ctx context.Context, since time.Time) ([]models.Note, error)
	Detail(ctx context.Context, n *models.Note) error
	ResourceData(ctx context.Context, resourceID string) (string, error)
}

// Destination is the flashcard service.
type Destination interface {
	reconcile.Destination
	Version(ctx context.Context) (int, error)
	EnsureModel(ctx context.Context) error
}

// Ledger persists item fingerprints and run history.
type Ledger interface {
	reconcile.Ledger
	BeginRun(started time.Time) (string, error)
	FinishRun(s models.Summary) error
	LastSuccessfulRun() (*ledger.RunRow, error)
}

// SyncEngine is an optional extension run after reconciliation.
type SyncEngine interface {
	Sync(ctx context.Context) error
}

// Notifier receives run progress.
type Notifier interface {
	RunStarted(runID string)
	ItemDone(ev reconcile.Event)
	RunFinished(s models.Summary)
}

// Runner performs sync runs. It holds no per-run state and may be reused.
type Runner struct {
	src    Source
	dest   Destination
	ledger Ledger
	engine SyncEngine
	notify Notifier
	logger *slog.Logger

	since          time.Time
	batchSize      int
	alwaysUpdate   bool
	extractorOpts  []extractor.Option
	healthAttempts int
	healthBackoff  time.Duration
	sleep          func(context.Context, time.Duration) error
	now            func() time.Time
}

// Option configures a Runner.
type Option func(*Runner)

// WithLedger enables change detection and run history.
func WithLedger(l Ledger) Option { return func(r *Runner) { r.ledger = l } }

// WithSyncEngine registers a post-reconciliation extension.
func WithSyncEngine(e SyncEngine) Option { return func(r *Runner) { r.engine = e } }

// WithNotifier registers a progress sink.
func WithNotifier(n Notifier) Option { return func(r *Runner) { r.notify = n } }

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option { return func(r *Runner) { r.logger = l } }

// WithSince only exports notes updated at or after t. Without it the start
// of the last clean run is used, or every note if there is none.
func WithSince(t time.Time) Option { return func(r *Runner) { r.since = t } }

// WithBatchSize sets the reconciliation batch width.
func WithBatchSize(n int) Option { return func(r *Runner) { r.batchSize = n } }

// WithAlwaysUpdate rewrites found notes even when unchanged.
func WithAlwaysUpdate(v bool) Option { return func(r *Runner) { r.alwaysUpdate = v } }

// WithExtractorOptions passes strategies such as deck resolvers and field
// mappers through to the extractor.
func WithExtractorOptions(opts ...extractor.Option) Option {
	return func(r *Runner) { r.extractorOpts = append(r.extractorOpts, opts...) }
}

// WithHealthCheck sets the attempts and linear backoff unit of the health
// checks.
func WithHealthCheck(attempts int, backoff time.Duration) Option {
	return func(r *Runner) {
		if attempts > 0 {
			r.healthAttempts = attempts
		}
		if backoff >= 0 {
			r.healthBackoff = backoff
		}
	}
}

// WithSleep replaces the health check sleep, mainly for tests.
func WithSleep(fn func(context.Context, time.Duration) error) Option {
	return func(r *Runner) { r.sleep = fn }
}

// New creates a Runner.
func New(src Source, dest Destination, opts ...Option) *Runner {
	r := &Runner{
		src:            src,
		dest:           dest,
		logger:         slog.Default(),
		batchSize:      reconcile.DefaultBatchSize,
		healthAttempts: defaultHealthAttempts,
		healthBackoff:  defaultHealthBackoff,
		sleep:          sleepCtx,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Run performs one sync. Setup failures return an error wrapping
// apperr.ErrSetup and no summary. Once export has succeeded a summary is
// always returned, even alongside a cancellation error.
func (r *Runner) Run(ctx context.Context) (*models.Summary, error) {
	started := r.now().UTC()

	if err := r.withRetry(ctx, "joplin", r.src.Ping); err != nil {
		return nil, err
	}
	if err := r.withRetry(ctx, "anki", r.checkAnki); err != nil {
		return nil, err
	}

	if err := r.dest.EnsureModel(ctx); err != nil {
		return nil, fmt.Errorf("%w: ensure note type: %w", apperr.ErrSetup, err)
	}
	folders, err := r.src.Folders(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: folders: %w", apperr.ErrSetup, err)
	}
	tree := joplin.NewFolderTree(folders)

	since := r.resolveSince()
	notes, err := r.src.NotesSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("export: %w", err)
	}

	runID, err := r.beginRun(started)
	if err != nil {
		return nil, err
	}
	r.logger.Info("run started",
		slog.String("run_id", runID),
		slog.Time("since", since),
		slog.Int("notes", len(notes)),
		slog.Int("folders", tree.Len()))
	if r.notify != nil {
		r.notify.RunStarted(runID)
	}

	tally := models.NewTally(runID, started)
	ex := extractor.New(tree, append([]extractor.Option{extractor.WithLogger(r.logger)}, r.extractorOpts...)...)
	recOpts := []reconcile.Option{
		reconcile.WithResources(r.src),
		reconcile.WithBatchSize(r.batchSize),
		reconcile.WithAlwaysUpdate(r.alwaysUpdate),
		reconcile.WithEventHandler(r.itemDone),
		reconcile.WithLogger(r.logger),
	}
	if r.ledger != nil {
		recOpts = append(recOpts, reconcile.WithLedger(r.ledger))
	}
	rec := reconcile.New(r.dest, recOpts...)

	runErr := r.pipeline(ctx, notes, ex, rec, tally)

	if r.engine != nil && runErr == nil {
		if err := r.engine.Sync(ctx); err != nil {
			tally.Error(fmt.Errorf("sync engine: %w", err))
			r.logger.Warn("sync engine failed", slog.String("error", err.Error()))
		}
	}

	summary := tally.Summary(r.now().UTC())
	summary.Aborted = runErr != nil
	if r.ledger != nil {
		if err := r.ledger.FinishRun(summary); err != nil {
			r.logger.Warn("ledger: finish run failed", slog.String("error", err.Error()))
		}
	}
	r.logger.Info("run finished",
		slog.String("run_id", runID),
		slog.Int("items", summary.Items),
		slog.Int("created", summary.ItemsCreated),
		slog.Int("updated", summary.ItemsUpdated),
		slog.Int("skipped", summary.ItemsSkipped),
		slog.Int("failed", summary.ItemsFailed),
		slog.Int("unstamped_blocks", ex.Skipped()),
		slog.Int("errors", summary.ErrorCount),
		slog.Bool("clean", summary.Clean()),
		slog.Duration("took", summary.FinishedAt.Sub(summary.StartedAt)))
	if r.notify != nil {
		r.notify.RunFinished(summary)
	}
	return &summary, runErr
}

// pipeline streams notes through detail fetch, extraction and
// reconciliation. Per-note and per-item errors land in tally.
func (r *Runner) pipeline(ctx context.Context, notes []models.Note, ex *extractor.Extractor, rec *reconcile.Reconciler, tally *models.Tally) error {
	g, gctx := errgroup.WithContext(ctx)

	detailed := make(chan models.Note)
	g.Go(func() error {
		defer close(detailed)
		for i := range notes {
			n := notes[i]
			if err := r.src.Detail(gctx, &n); err != nil {
				if cerr := gctx.Err(); cerr != nil {
					return cerr
				}
				tally.Error(fmt.Errorf("note %s: %w", n.ID, err))
				r.logger.Warn("note detail failed", slog.String("note_id", n.ID), slog.String("error", err.Error()))
				continue
			}
			select {
			case detailed <- n:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	items := make(chan models.QuizItem, r.batchSize)
	results := ex.Stream(gctx, detailed)
	g.Go(func() error {
		defer close(items)
		for res := range results {
			if res.Err != nil {
				tally.Error(res.Err)
				r.logger.Warn("extraction failed", slog.String("error", res.Err.Error()))
				continue
			}
			select {
			case items <- *res.Item:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	g.Go(func() error {
		return rec.Reconcile(gctx, items, tally)
	})

	return g.Wait()
}

func (r *Runner) checkAnki(ctx context.Context) error {
	v, err := r.dest.Version(ctx)
	if err != nil {
		return err
	}
	if v < anki.ProtocolVersion {
		return fmt.Errorf("anki: protocol version %d, need %d", v, anki.ProtocolVersion)
	}
	return nil
}

// withRetry runs check up to healthAttempts times, sleeping backoff×attempt
// in between.
func (r *Runner) withRetry(ctx context.Context, name string, check func(context.Context) error) error {
	var err error
	for attempt := 1; attempt <= r.healthAttempts; attempt++ {
		if err = check(ctx); err == nil {
			return nil
		}
		r.logger.Warn("health check failed",
			slog.String("service", name),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))
		if attempt == r.healthAttempts {
			break
		}
		if serr := r.sleep(ctx, time.Duration(attempt)*r.healthBackoff); serr != nil {
			return fmt.Errorf("%w: %s health check: %w", apperr.ErrSetup, name, serr)
		}
	}
	return fmt.Errorf("%w: %s unreachable after %d attempts: %w", apperr.ErrSetup, name, r.healthAttempts, err)
}

func (r *Runner) resolveSince() time.Time {
	if !r.since.IsZero() || r.ledger == nil {
		return r.since
	}
	last, err := r.ledger.LastSuccessfulRun()
	if err != nil {
		r.logger.Warn("ledger: last run lookup failed", slog.String("error", err.Error()))
		return time.Time{}
	}
	if last == nil {
		return time.Time{}
	}
	return last.StartedAt
}

func (r *Runner) beginRun(started time.Time) (string, error) {
	if r.ledger == nil {
		return uuid.NewString(), nil
	}
	id, err := r.ledger.BeginRun(started)
	if err != nil {
		return "", fmt.Errorf("%w: %w", apperr.ErrSetup, err)
	}
	return id, nil
}

func (r *Runner) itemDone(ev reconcile.Event) {
	if r.notify != nil {
		r.notify.ItemDone(ev)
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
