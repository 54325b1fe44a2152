// Package extractor turns notes into quiz items: it parses quiz blocks,
// maps their fields, rewrites resource links, fingerprints the markup and
// resolves the deck path.
package extractor

import (
	"context"
	"log/slog"
	"sync/atomic"

	"github.com/microcosm-cc/bluemonday"

	"github.com/starford/decksync/internal/apperr"
	"github.com/starford/decksync/internal/checksum"
	"github.com/starford/decksync/internal/models"
	"github.com/starford/decksync/internal/parser"
)

const defaultBuffer = 32

// FieldMapper extracts fields for card types other than the standard one.
type FieldMapper interface {
	Supports(cardType string) bool
	MapFields(b parser.Block) (models.Fields, error)
}

// FolderLookup resolves a note's parent folder.
type FolderLookup interface {
	Path(folderID string) []string
	Title(folderID string) string
}

// Result carries either an item or a per-note/per-block error.
type Result struct {
	Item *models.QuizItem
	Err  error
}

// Extractor converts notes into quiz items.
type Extractor struct {
	parser  *parser.Parser
	folders FolderLookup
	deck    DeckResolver
	mappers []FieldMapper
	policy  *bluemonday.Policy
	logger  *slog.Logger
	buffer  int

	skipped atomic.Int64
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithDeckResolver replaces the built-in deck resolution.
func WithDeckResolver(r DeckResolver) Option {
	return func(e *Extractor) {
		if r != nil {
			e.deck = r
		}
	}
}

// WithFieldMapper registers a mapper for non-standard card types.
func WithFieldMapper(m FieldMapper) Option {
	return func(e *Extractor) {
		if m != nil {
			e.mappers = append(e.mappers, m)
		}
	}
}

// WithParser overrides the quiz block parser.
func WithParser(p *parser.Parser) Option {
	return func(e *Extractor) { e.parser = p }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Extractor) { e.logger = l }
}

// WithBuffer sets the capacity of the Stream channel.
func WithBuffer(n int) Option {
	return func(e *Extractor) {
		if n > 0 {
			e.buffer = n
		}
	}
}

// New creates an Extractor over the given folder index.
func New(folders FolderLookup, opts ...Option) *Extractor {
	e := &Extractor{
		parser:  parser.New(parser.DefaultOptions),
		folders: folders,
		deck:    TagDeckResolver{},
		policy:  newPolicy(),
		logger:  slog.Default(),
		buffer:  defaultBuffer,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Skipped returns how many blocks were ignored for lacking an identifier.
func (e *Extractor) Skipped() int {
	return int(e.skipped.Load())
}

// Extract returns the items of one note, plus an error for each block (or
// the whole note) that could not be converted.
func (e *Extractor) Extract(n models.Note) ([]models.QuizItem, []error) {
	blocks, err := e.parser.Blocks(n.Body)
	if err != nil {
		return nil, []error{apperr.Extraction(n.ID, "%v", err)}
	}

	var (
		items      []models.QuizItem
		errs       []error
		folderPath []string
		folder     string
	)
	if e.folders != nil {
		folderPath = e.folders.Path(n.ParentID)
		folder = e.folders.Title(n.ParentID)
	}
	deck := e.deck.ResolveDeck(n.Tags, folderPath)
	if deck == "" {
		deck = DefaultDeck
	}

	for i, b := range blocks {
		if b.Identifier == "" {
			e.skipped.Add(1)
			e.logger.Debug("extractor: block without identifier skipped",
				slog.String("note_id", n.ID),
				slog.Int("block", i))
			continue
		}

		fields, err := e.fields(n, b)
		if err != nil {
			errs = append(errs, err)
			continue
		}

		rs := newResourceSet(n.Resources)
		fields = e.clean(fields, rs)

		items = append(items, models.QuizItem{
			Identifier:        b.Identifier,
			ContentHash:       checksum.Sum([]byte(b.Raw)),
			DeckPath:          deck,
			Fields:            fields,
			Tags:              n.Tags,
			SourceTitle:       n.Title,
			SourceFolder:      folder,
			SourceNoteID:      n.ID,
			ResourcesToUpload: rs.used,
		})
	}
	return items, errs
}

func (e *Extractor) fields(n models.Note, b parser.Block) (models.Fields, error) {
	cardType := b.CardType
	if cardType == "" {
		cardType = models.StandardCardType
	}
	for _, m := range e.mappers {
		if !m.Supports(cardType) {
			continue
		}
		f, err := m.MapFields(b)
		if err != nil {
			return models.Fields{}, apperr.Extraction(n.ID, "block %s: %v", b.Identifier, err)
		}
		if f.CardTypeName == "" {
			f.CardTypeName = cardType
		}
		return f, nil
	}

	f := models.Fields{
		Question:    b.Field(parser.ClassQuestion),
		Answer:      b.Field(parser.ClassAnswer),
		Header:      b.Field(parser.ClassHeader),
		Footer:      b.Field(parser.ClassFooter),
		Sources:     b.Field(parser.ClassSources),
		Explanation: b.Field(parser.ClassExplanation),
		Correlation: b.Field(parser.ClassCorrelation),
	}
	if f.Question == "" || f.Answer == "" {
		return models.Fields{}, apperr.Extraction(n.ID, "block %s: question and answer are required", b.Identifier)
	}
	return f, nil
}

// clean rewrites resource links and sanitizes every text field.
func (e *Extractor) clean(f models.Fields, rs *resourceSet) models.Fields {
	fix := func(s string) string {
		return e.policy.Sanitize(rs.rewrite(s))
	}
	if f.IsCustom() {
		custom := make(map[string]string, len(f.Custom))
		for k, v := range f.Custom {
			custom[k] = fix(v)
		}
		f.Custom = custom
		return f
	}
	f.Question = fix(f.Question)
	f.Answer = fix(f.Answer)
	f.Header = fix(f.Header)
	f.Footer = fix(f.Footer)
	f.Sources = fix(f.Sources)
	f.Explanation = fix(f.Explanation)
	f.Correlation = fix(f.Correlation)
	return f
}

// Stream extracts notes as they arrive and yields their results on a bounded
// channel. The channel closes once notes is drained or ctx is done; it
// cannot be restarted.
func (e *Extractor) Stream(ctx context.Context, notes <-chan models.Note) <-chan Result {
	out := make(chan Result, e.buffer)
	go func() {
		defer close(out)
		for {
			var (
				n  models.Note
				ok bool
			)
			select {
			case <-ctx.Done():
				return
			case n, ok = <-notes:
				if !ok {
					return
				}
			}

			items, errs := e.Extract(n)
			for _, err := range errs {
				if !send(ctx, out, Result{Err: err}) {
					return
				}
			}
			for i := range items {
				if !send(ctx, out, Result{Item: &items[i]}) {
					return
				}
			}
		}
	}()
	return out
}

func send(ctx context.Context, out chan<- Result, r Result) bool {
	select {
	case <-ctx.Done():
		return false
	case out <- r:
		return true
	}
}
