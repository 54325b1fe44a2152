package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"
)

// FakeNote is a note stored by FakeAnki.
type FakeNote struct {
	ID     int64
	Model  string
	Deck   string
	Fields map[string]string
	Tags   []string
	CardID int64
}

// FakeAnki is an in-memory AnkiConnect endpoint.
type FakeAnki struct {
	*httptest.Server

	mu     sync.Mutex
	Decks  map[string]bool
	Models map[string][]string
	Notes  map[int64]*FakeNote
	Media  map[string]string
	Calls  map[string]int
	nextID int64

	// Fail, when set, may return an error message for an action, which is
	// reported in the response envelope.
	Fail func(action string, params json.RawMessage) string
}

// NewFakeAnki starts a FakeAnki closed at test cleanup.
func NewFakeAnki(t *testing.T) *FakeAnki {
	t.Helper()
	f := &FakeAnki{
		Decks:  map[string]bool{"Default": true},
		Models: map[string][]string{"Basic": {"Front", "Back"}},
		Notes:  make(map[int64]*FakeNote),
		Media:  make(map[string]string),
		Calls:  make(map[string]int),
		nextID: 1000,
	}
	r := chi.NewRouter()
	r.Post("/", f.handle)
	f.Server = httptest.NewServer(r)
	t.Cleanup(f.Close)
	return f
}

// CallCount returns how many times action was invoked.
func (f *FakeAnki) CallCount(action string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Calls[action]
}

// NoteByField returns the first note whose field equals value.
func (f *FakeAnki) NoteByField(field, value string) *FakeNote {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.Notes {
		if n.Fields[field] == value {
			return n
		}
	}
	return nil
}

// AddNote seeds a note directly.
func (f *FakeAnki) AddNote(n FakeNote) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	n.ID = f.nextID
	n.CardID = f.nextID * 10
	f.Notes[n.ID] = &n
	f.Decks[n.Deck] = true
	return n.ID
}

type fakeRequest struct {
	Action  string          `json:"action"`
	Version int             `json:"version"`
	Params  json.RawMessage `json:"params"`
}

func (f *FakeAnki) handle(w http.ResponseWriter, r *http.Request) {
	var req fakeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.Calls[req.Action]++
	fail := f.Fail
	f.mu.Unlock()

	if req.Version != 6 {
		writeEnvelope(w, nil, "unsupported version")
		return
	}
	if fail != nil {
		if msg := fail(req.Action, req.Params); msg != "" {
			writeEnvelope(w, nil, msg)
			return
		}
	}

	f.mu.Lock()
	result, errMsg := f.dispatch(req.Action, req.Params)
	f.mu.Unlock()
	writeEnvelope(w, result, errMsg)
}

func writeEnvelope(w http.ResponseWriter, result any, errMsg string) {
	w.Header().Set("Content-Type", "application/json")
	var e any
	if errMsg != "" {
		e = errMsg
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "error": e})
}

func (f *FakeAnki) dispatch(action string, raw json.RawMessage) (any, string) {
	switch action {
	case "version":
		return 6, ""

	case "deckNames":
		names := make([]string, 0, len(f.Decks))
		for d := range f.Decks {
			names = append(names, d)
		}
		slices.Sort(names)
		return names, ""

	case "createDeck":
		var p struct{ Deck string }
		_ = json.Unmarshal(raw, &p)
		f.Decks[p.Deck] = true
		return 1, ""

	case "modelNames":
		names := make([]string, 0, len(f.Models))
		for m := range f.Models {
			names = append(names, m)
		}
		return names, ""

	case "createModel":
		var p struct {
			ModelName     string   `json:"modelName"`
			InOrderFields []string `json:"inOrderFields"`
		}
		_ = json.Unmarshal(raw, &p)
		f.Models[p.ModelName] = p.InOrderFields
		return map[string]any{"name": p.ModelName}, ""

	case "findNotes":
		var p struct{ Query string }
		_ = json.Unmarshal(raw, &p)
		return f.find(p.Query), ""

	case "notesInfo":
		var p struct{ Notes []int64 }
		_ = json.Unmarshal(raw, &p)
		out := make([]map[string]any, 0, len(p.Notes))
		for _, id := range p.Notes {
			n, ok := f.Notes[id]
			if !ok {
				out = append(out, map[string]any{})
				continue
			}
			fields := make(map[string]any, len(n.Fields))
			order := 0
			for k, v := range n.Fields {
				fields[k] = map[string]any{"value": v, "order": order}
				order++
			}
			out = append(out, map[string]any{
				"noteId": n.ID, "modelName": n.Model, "tags": n.Tags,
				"fields": fields, "mod": 1700000000, "cards": []int64{n.CardID},
			})
		}
		return out, ""

	case "cardsInfo":
		var p struct{ Cards []int64 }
		_ = json.Unmarshal(raw, &p)
		var out []map[string]any
		for _, c := range p.Cards {
			for _, n := range f.Notes {
				if n.CardID == c {
					out = append(out, map[string]any{"cardId": c, "deckName": n.Deck, "note": n.ID})
				}
			}
		}
		return out, ""

	case "addNote":
		var p struct {
			Note struct {
				DeckName  string            `json:"deckName"`
				ModelName string            `json:"modelName"`
				Fields    map[string]string `json:"fields"`
				Tags      []string          `json:"tags"`
			} `json:"note"`
		}
		_ = json.Unmarshal(raw, &p)
		if _, ok := f.Models[p.Note.ModelName]; !ok {
			return nil, "model was not found: " + p.Note.ModelName
		}
		if !f.Decks[p.Note.DeckName] {
			return nil, "deck was not found: " + p.Note.DeckName
		}
		f.nextID++
		f.Notes[f.nextID] = &FakeNote{
			ID: f.nextID, Model: p.Note.ModelName, Deck: p.Note.DeckName,
			Fields: p.Note.Fields, Tags: p.Note.Tags, CardID: f.nextID * 10,
		}
		return f.nextID, ""

	case "updateNoteFields":
		var p struct {
			Note struct {
				ID     int64             `json:"id"`
				Fields map[string]string `json:"fields"`
			} `json:"note"`
		}
		_ = json.Unmarshal(raw, &p)
		n, ok := f.Notes[p.Note.ID]
		if !ok {
			return nil, "note was not found"
		}
		for k, v := range p.Note.Fields {
			n.Fields[k] = v
		}
		return nil, ""

	case "changeDeck":
		var p struct {
			Cards []int64
			Deck  string
		}
		_ = json.Unmarshal(raw, &p)
		f.Decks[p.Deck] = true
		for _, n := range f.Notes {
			if slices.Contains(p.Cards, n.CardID) {
				n.Deck = p.Deck
			}
		}
		return nil, ""

	case "addTags", "removeTags":
		var p struct {
			Notes []int64
			Tags  string
		}
		_ = json.Unmarshal(raw, &p)
		for _, id := range p.Notes {
			n, ok := f.Notes[id]
			if !ok {
				continue
			}
			for _, t := range strings.Fields(p.Tags) {
				if action == "addTags" && !slices.Contains(n.Tags, t) {
					n.Tags = append(n.Tags, t)
				}
				if action == "removeTags" {
					n.Tags = slices.DeleteFunc(n.Tags, func(x string) bool { return x == t })
				}
			}
		}
		return nil, ""

	case "storeMediaFile":
		var p struct{ Filename, Data string }
		_ = json.Unmarshal(raw, &p)
		f.Media[p.Filename] = p.Data
		return p.Filename, ""

	case "retrieveMediaFile":
		var p struct{ Filename string }
		_ = json.Unmarshal(raw, &p)
		if d, ok := f.Media[p.Filename]; ok {
			return d, ""
		}
		return false, ""

	case "sync":
		return nil, ""
	}
	return nil, "unsupported action"
}

// find understands `"field:value"` clauses, optionally ORed inside
// parentheses; the value `_*` matches any non-empty field.
func (f *FakeAnki) find(query string) []int64 {
	query = strings.TrimSuffix(strings.TrimPrefix(query, "("), ")")
	var ids []int64
	for _, clause := range strings.Split(query, " OR ") {
		clause = strings.Trim(clause, `"`)
		field, value, ok := strings.Cut(clause, ":")
		if !ok {
			continue
		}
		for _, n := range f.Notes {
			v := n.Fields[field]
			if (value == "_*" && v != "") || (value != "_*" && v == value) {
				if !slices.Contains(ids, n.ID) {
					ids = append(ids, n.ID)
				}
			}
		}
	}
	slices.Sort(ids)
	return ids
}
