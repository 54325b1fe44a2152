// Package reconcile pushes extracted quiz items into the destination in
// bounded batches: batches run one after another, items within a batch run
// concurrently, and one item's failure never affects its siblings.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/starford/decksync/internal/apperr"
	"github.com/starford/decksync/internal/checksum"
	"github.com/starford/decksync/internal/ledger"
	"github.com/starford/decksync/internal/models"
)

// DefaultBatchSize caps in-flight destination work.
const DefaultBatchSize = 10

// Destination is the flashcard store.
type Destination interface {
	EnsureDeck(ctx context.Context, name string) error
	FindByIdentifier(ctx context.Context, id string) (*models.DestinationNote, error)
	CreateNote(ctx context.Context, item *models.QuizItem) (int64, error)
	UpdateNote(ctx context.Context, existing *models.DestinationNote, item *models.QuizItem) error
	HasMedia(ctx context.Context, filename string) (bool, error)
	StoreMedia(ctx context.Context, filename, data string) error
}

// ResourceSource fetches attachment bytes, base64-encoded.
type ResourceSource interface {
	ResourceData(ctx context.Context, resourceID string) (string, error)
}

// Ledger remembers what was last written for each identifier.
type Ledger interface {
	Fingerprint(identifier string) (string, error)
	Record(r ledger.ItemRow) error
}

// Event reports the outcome of one item as it happens.
type Event struct {
	Outcome    models.Outcome `json:"outcome"`
	Identifier string         `json:"identifier"`
	Deck       string         `json:"deck"`
	Error      string         `json:"error,omitempty"`
}

// Reconciler applies quiz items to a Destination.
type Reconciler struct {
	dest         Destination
	resources    ResourceSource
	ledger       Ledger
	batchSize    int
	alwaysUpdate bool
	onEvent      func(Event)
	logger       *slog.Logger

	mu       sync.Mutex
	uploaded map[string]struct{}
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithResources enables media upload from src.
func WithResources(src ResourceSource) Option {
	return func(r *Reconciler) { r.resources = src }
}

// WithLedger enables fingerprint-based skipping and records every write.
func WithLedger(l Ledger) Option {
	return func(r *Reconciler) { r.ledger = l }
}

// WithBatchSize sets how many items run concurrently.
func WithBatchSize(n int) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithAlwaysUpdate disables fingerprint-based skipping.
func WithAlwaysUpdate(v bool) Option {
	return func(r *Reconciler) { r.alwaysUpdate = v }
}

// WithEventHandler registers a per-item callback. It is called from worker
// goroutines and must be safe for concurrent use.
func WithEventHandler(fn func(Event)) Option {
	return func(r *Reconciler) { r.onEvent = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Reconciler) { r.logger = l }
}

// New creates a Reconciler for dest.
func New(dest Destination, opts ...Option) *Reconciler {
	r := &Reconciler{
		dest:      dest,
		batchSize: DefaultBatchSize,
		logger:    slog.Default(),
		uploaded:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Fingerprint identifies everything written for an item: its markup, deck,
// tags and provenance.
func Fingerprint(item *models.QuizItem) string {
	tags := slices.Clone(item.Tags)
	slices.Sort(tags)
	return checksum.Fingerprint(item.ContentHash, item.DeckPath, strings.Join(tags, " "), item.SourceTitle, item.SourceFolder)
}

// Reconcile drains items in batches and records every outcome in tally.
// It returns ctx.Err() if the context ends between batches; items already
// written stay written.
func (r *Reconciler) Reconcile(ctx context.Context, items <-chan models.QuizItem, tally *models.Tally) error {
	r.mu.Lock()
	r.uploaded = make(map[string]struct{})
	r.mu.Unlock()

	batch := make([]models.QuizItem, 0, r.batchSize)
	n := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case it, ok := <-items:
			if ok {
				batch = append(batch, it)
				if len(batch) < r.batchSize {
					continue
				}
			}
			if len(batch) > 0 {
				n++
				r.runBatch(ctx, n, batch, tally)
				batch = batch[:0]
			}
			if !ok {
				return nil
			}
		}
	}
}

// ReconcileAll is Reconcile over a fixed slice.
func (r *Reconciler) ReconcileAll(ctx context.Context, items []models.QuizItem, tally *models.Tally) error {
	ch := make(chan models.QuizItem, len(items))
	for _, it := range items {
		ch <- it
	}
	close(ch)
	return r.Reconcile(ctx, ch, tally)
}

func (r *Reconciler) runBatch(ctx context.Context, n int, batch []models.QuizItem, tally *models.Tally) {
	r.logger.Debug("reconcile: batch start", slog.Int("batch", n), slog.Int("size", len(batch)))

	var g errgroup.Group
	for i := range batch {
		it := &batch[i]
		g.Go(func() error {
			r.item(ctx, it, tally)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Reconciler) item(ctx context.Context, it *models.QuizItem, tally *models.Tally) {
	r.uploadResources(ctx, it, tally)

	outcome, err := r.apply(ctx, it)
	ev := Event{Outcome: outcome, Identifier: it.Identifier, Deck: it.DeckPath}
	if err != nil {
		ev.Outcome = models.OutcomeFailed
		ev.Error = err.Error()
		tally.Error(fmt.Errorf("item %s: %w", it.Identifier, err))
		r.logger.Warn("reconcile: item failed",
			slog.String("identifier", it.Identifier),
			slog.String("note_id", it.SourceNoteID),
			slog.String("error", err.Error()))
	}
	tally.Item(ev.Outcome, it.DeckPath)
	if r.onEvent != nil {
		r.onEvent(ev)
	}
}

func (r *Reconciler) apply(ctx context.Context, it *models.QuizItem) (models.Outcome, error) {
	if err := r.dest.EnsureDeck(ctx, it.DeckPath); err != nil {
		return models.OutcomeFailed, fmt.Errorf("ensure deck %q: %w", it.DeckPath, err)
	}

	existing, err := r.dest.FindByIdentifier(ctx, it.Identifier)
	if err != nil && !errors.Is(err, apperr.ErrNotFound) {
		return models.OutcomeFailed, fmt.Errorf("lookup: %w", err)
	}

	fp := Fingerprint(it)
	var (
		noteID  int64
		outcome models.Outcome
	)
	if existing != nil {
		if r.unchanged(it.Identifier, fp) {
			return models.OutcomeSkipped, nil
		}
		if err := r.dest.UpdateNote(ctx, existing, it); err != nil {
			return models.OutcomeFailed, fmt.Errorf("update: %w", err)
		}
		noteID, outcome = existing.NoteID, models.OutcomeUpdated
	} else {
		id, err := r.dest.CreateNote(ctx, it)
		if err != nil {
			return models.OutcomeFailed, fmt.Errorf("create: %w", err)
		}
		noteID, outcome = id, models.OutcomeCreated
	}

	if r.ledger != nil {
		row := ledger.ItemRow{Identifier: it.Identifier, NoteID: noteID, Fingerprint: fp, Deck: it.DeckPath}
		if err := r.ledger.Record(row); err != nil {
			r.logger.Warn("reconcile: ledger write failed",
				slog.String("identifier", it.Identifier),
				slog.String("error", err.Error()))
		}
	}
	return outcome, nil
}

// unchanged reports whether the ledger holds fp for id.
func (r *Reconciler) unchanged(id, fp string) bool {
	if r.alwaysUpdate || r.ledger == nil {
		return false
	}
	prev, err := r.ledger.Fingerprint(id)
	if err != nil {
		r.logger.Warn("reconcile: ledger read failed",
			slog.String("identifier", id),
			slog.String("error", err.Error()))
		return false
	}
	return prev == fp
}

// uploadResources stores each referenced attachment once per run. Failures
// are counted but do not fail the item.
func (r *Reconciler) uploadResources(ctx context.Context, it *models.QuizItem, tally *models.Tally) {
	if r.resources == nil {
		return
	}
	for _, res := range it.ResourcesToUpload {
		if !r.claim(res.ID) {
			continue
		}
		err := r.upload(ctx, res)
		tally.Resource(err == nil)
		if err != nil {
			tally.Error(fmt.Errorf("resource %s: %w", res.ID, err))
			r.logger.Warn("reconcile: resource upload failed",
				slog.String("resource_id", res.ID),
				slog.String("identifier", it.Identifier),
				slog.String("error", err.Error()))
		}
	}
}

func (r *Reconciler) claim(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.uploaded[id]; ok {
		return false
	}
	r.uploaded[id] = struct{}{}
	return true
}

func (r *Reconciler) upload(ctx context.Context, res models.Resource) error {
	name := res.Filename()
	has, err := r.dest.HasMedia(ctx, name)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	data, err := r.resources.ResourceData(ctx, res.ID)
	if err != nil {
		return err
	}
	return r.dest.StoreMedia(ctx, name, data)
}
