package anki

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/starford/decksync/internal/apperr"
	"github.com/starford/decksync/internal/models"
)

// IdentifierField is the note field holding the source block identifier. A
// note is managed by decksync iff this field is non-empty.
const IdentifierField = "Joplin to Anki ID"

// StandardFields lists the fields of the standard note type, in order.
var StandardFields = []string{
	"Question", "Answer", "Header", "Footer", "Sources", "Explanation", "Correlation", IdentifierField,
}

// QueryIdentifier builds a search matching one identifier exactly.
func QueryIdentifier(id string) string {
	return fmt.Sprintf("%q", IdentifierField+":"+id)
}

// QueryIdentifiers ORs QueryIdentifier over ids.
func QueryIdentifiers(ids []string) string {
	clauses := make([]string, 0, len(ids))
	for _, id := range ids {
		clauses = append(clauses, QueryIdentifier(id))
	}
	return "(" + strings.Join(clauses, " OR ") + ")"
}

// QueryManaged matches every note with a non-empty identifier field.
func QueryManaged() string {
	return QueryIdentifier("_*")
}

// FindNotes returns note ids matching query.
func (c *Client) FindNotes(ctx context.Context, query string) ([]int64, error) {
	var ids []int64
	err := c.Invoke(ctx, "findNotes", map[string]string{"query": query}, &ids)
	return ids, err
}

// FindManaged returns the ids of every note decksync manages.
func (c *Client) FindManaged(ctx context.Context) ([]int64, error) {
	return c.FindNotes(ctx, QueryManaged())
}

// FindByIdentifier returns the note carrying id, or apperr.ErrNotFound.
func (c *Client) FindByIdentifier(ctx context.Context, id string) (*models.DestinationNote, error) {
	notes, err := c.FindByIdentifiers(ctx, []string{id})
	if err != nil {
		return nil, err
	}
	for i := range notes {
		if notes[i].Fields[IdentifierField] == id {
			return &notes[i], nil
		}
	}
	return nil, fmt.Errorf("anki: note %s: %w", id, apperr.ErrNotFound)
}

// FindByIdentifiers returns every note whose identifier is one of ids.
func (c *Client) FindByIdentifiers(ctx context.Context, ids []string) ([]models.DestinationNote, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	noteIDs, err := c.FindNotes(ctx, QueryIdentifiers(ids))
	if err != nil {
		return nil, err
	}
	return c.NotesInfo(ctx, noteIDs)
}

type noteInfo struct {
	NoteID    int64                `json:"noteId"`
	ModelName string               `json:"modelName"`
	Tags      []string             `json:"tags"`
	Fields    map[string]fieldInfo `json:"fields"`
	Mod       int64                `json:"mod"`
	Cards     []int64              `json:"cards"`
}

type fieldInfo struct {
	Value string `json:"value"`
	Order int    `json:"order"`
}

type cardInfo struct {
	CardID   int64  `json:"cardId"`
	DeckName string `json:"deckName"`
}

// NotesInfo loads notes with their deck, taken from each note's first card.
func (c *Client) NotesInfo(ctx context.Context, noteIDs []int64) ([]models.DestinationNote, error) {
	if len(noteIDs) == 0 {
		return nil, nil
	}
	var infos []noteInfo
	if err := c.Invoke(ctx, "notesInfo", map[string]any{"notes": noteIDs}, &infos); err != nil {
		return nil, err
	}

	firstCards := make([]int64, 0, len(infos))
	for _, n := range infos {
		if len(n.Cards) > 0 {
			firstCards = append(firstCards, n.Cards[0])
		}
	}
	deckOf := make(map[int64]string, len(firstCards))
	if len(firstCards) > 0 {
		var cards []cardInfo
		if err := c.Invoke(ctx, "cardsInfo", map[string]any{"cards": firstCards}, &cards); err != nil {
			return nil, err
		}
		for _, ci := range cards {
			deckOf[ci.CardID] = ci.DeckName
		}
	}

	out := make([]models.DestinationNote, 0, len(infos))
	for _, n := range infos {
		if n.NoteID == 0 {
			continue
		}
		rec := models.DestinationNote{
			NoteID:   n.NoteID,
			CardType: n.ModelName,
			Fields:   make(map[string]string, len(n.Fields)),
			Tags:     n.Tags,
			CardIDs:  n.Cards,
			Modified: time.Unix(n.Mod, 0),
		}
		for name, f := range n.Fields {
			rec.Fields[name] = f.Value
		}
		if len(n.Cards) > 0 {
			rec.Deck = deckOf[n.Cards[0]]
		}
		out = append(out, rec)
	}
	return out, nil
}

// NoteFields returns the card type and field map for an item. The identifier
// field is included only when withIdentifier is set; updates never carry it.
func NoteFields(item *models.QuizItem, withIdentifier bool) (string, map[string]string) {
	var (
		model  string
		fields map[string]string
	)
	if item.Fields.IsCustom() {
		model = item.Fields.CardTypeName
		fields = make(map[string]string, len(item.Fields.Custom)+1)
		for k, v := range item.Fields.Custom {
			fields[k] = v
		}
	} else {
		model = models.StandardCardType
		f := item.Fields
		fields = map[string]string{
			"Question":    f.Question,
			"Answer":      f.Answer,
			"Header":      f.Header,
			"Footer":      f.Footer,
			"Sources":     f.Sources,
			"Explanation": f.Explanation,
			"Correlation": f.Correlation,
		}
	}
	if withIdentifier {
		fields[IdentifierField] = item.Identifier
	} else {
		delete(fields, IdentifierField)
	}
	return model, fields
}

// CreateNote adds a new note for item and returns its id.
func (c *Client) CreateNote(ctx context.Context, item *models.QuizItem) (int64, error) {
	model, fields := NoteFields(item, true)
	params := map[string]any{
		"note": map[string]any{
			"deckName":  item.DeckPath,
			"modelName": model,
			"fields":    fields,
			"tags":      ItemTags(item),
			"options":   map[string]any{"allowDuplicate": true},
		},
	}
	var id *int64
	if err := c.Invoke(ctx, "addNote", params, &id); err != nil {
		return 0, err
	}
	if id == nil {
		return 0, &apperr.ProtocolError{Op: "anki addNote", Message: "note was not created"}
	}
	c.logger.Debug("anki: note created",
		slog.String("identifier", item.Identifier),
		slog.String("note_id", strconv.FormatInt(*id, 10)))
	return *id, nil
}

// UpdateNote rewrites an existing note's fields, moves its cards to the
// item's deck if needed, and refreshes its tags. The identifier field is
// never written.
func (c *Client) UpdateNote(ctx context.Context, existing *models.DestinationNote, item *models.QuizItem) error {
	_, fields := NoteFields(item, false)
	params := map[string]any{
		"note": map[string]any{"id": existing.NoteID, "fields": fields},
	}
	if err := c.Invoke(ctx, "updateNoteFields", params, nil); err != nil {
		return err
	}

	if existing.Deck != "" && existing.Deck != item.DeckPath && len(existing.CardIDs) > 0 {
		if err := c.Invoke(ctx, "changeDeck", map[string]any{"cards": existing.CardIDs, "deck": item.DeckPath}, nil); err != nil {
			return err
		}
		c.logger.Debug("anki: cards moved",
			slog.String("identifier", item.Identifier),
			slog.String("from", existing.Deck),
			slog.String("to", item.DeckPath))
	}

	want := ItemTags(item)
	var stale []string
	for _, t := range existing.Tags {
		if IsProvenanceTag(t) && !slices.Contains(want, t) {
			stale = append(stale, t)
		}
	}
	notes := []int64{existing.NoteID}
	if len(stale) > 0 {
		if err := c.Invoke(ctx, "removeTags", map[string]any{"notes": notes, "tags": strings.Join(stale, " ")}, nil); err != nil {
			return err
		}
	}
	if len(want) > 0 {
		if err := c.Invoke(ctx, "addTags", map[string]any{"notes": notes, "tags": strings.Join(want, " ")}, nil); err != nil {
			return err
		}
	}
	return nil
}
