package anki

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"testing"

	"github.com/starford/decksync/internal/apperr"
	"github.com/starford/decksync/internal/models"
	"github.com/starford/decksync/internal/testutil"
)

func newClient(f *testutil.FakeAnki) *Client {
	return New(f.URL, testutil.RequestClient("anki"), testutil.Logger())
}

func item(id, deck string) *models.QuizItem {
	return &models.QuizItem{
		Identifier:   id,
		DeckPath:     deck,
		Fields:       models.Fields{Question: "Q " + id, Answer: "A " + id},
		Tags:         []string{"exam prep"},
		SourceTitle:  "Cells: Mitochondria",
		SourceFolder: "Bio",
	}
}

func TestVersion(t *testing.T) {
	f := testutil.NewFakeAnki(t)
	v, err := newClient(f).Version(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if v != ProtocolVersion {
		t.Errorf("version = %d", v)
	}
}

func TestInvoke_ErrorEnvelope(t *testing.T) {
	f := testutil.NewFakeAnki(t)
	c := newClient(f)

	err := c.Invoke(context.Background(), "guiBrowse", nil, nil)
	var pe *apperr.ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want ProtocolError", err)
	}
	if pe.Message != "unsupported action" {
		t.Errorf("message = %q", pe.Message)
	}
	if f.CallCount("guiBrowse") != 1 {
		t.Errorf("protocol errors must not be retried, calls = %d", f.CallCount("guiBrowse"))
	}
}

func TestEnsureDeck_Caches(t *testing.T) {
	f := testutil.NewFakeAnki(t)
	c := newClient(f)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := c.EnsureDeck(ctx, "Science::Bio"); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.EnsureDeck(ctx, "Default"); err != nil {
		t.Fatal(err)
	}
	if n := f.CallCount("createDeck"); n != 1 {
		t.Errorf("createDeck calls = %d, want 1", n)
	}
	if n := f.CallCount("deckNames"); n != 1 {
		t.Errorf("deckNames calls = %d, want 1", n)
	}
}

func TestEnsureModel(t *testing.T) {
	f := testutil.NewFakeAnki(t)
	c := newClient(f)
	ctx := context.Background()

	if err := c.EnsureModel(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.EnsureModel(ctx); err != nil {
		t.Fatal(err)
	}
	if n := f.CallCount("createModel"); n != 1 {
		t.Errorf("createModel calls = %d, want 1", n)
	}
	if got := f.Models[models.StandardCardType]; !slices.Equal(got, StandardFields) {
		t.Errorf("fields = %v", got)
	}
}

func TestCreateAndFind(t *testing.T) {
	f := testutil.NewFakeAnki(t)
	c := newClient(f)
	ctx := context.Background()
	if err := c.EnsureModel(ctx); err != nil {
		t.Fatal(err)
	}
	if err := c.EnsureDeck(ctx, "Bio"); err != nil {
		t.Fatal(err)
	}

	id, err := c.CreateNote(ctx, item("q-1", "Bio"))
	if err != nil {
		t.Fatal(err)
	}

	got, err := c.FindByIdentifier(ctx, "q-1")
	if err != nil {
		t.Fatal(err)
	}
	if got.NoteID != id || got.Deck != "Bio" || got.CardType != models.StandardCardType {
		t.Errorf("note = %+v", got)
	}
	if got.Fields["Question"] != "Q q-1" || got.Fields[IdentifierField] != "q-1" {
		t.Errorf("fields = %v", got.Fields)
	}
	for _, want := range []string{"exam_prep", "joplin_title_Cells_Mitochondria", "joplin_notebook_Bio"} {
		if !slices.Contains(got.Tags, want) {
			t.Errorf("tags %v missing %q", got.Tags, want)
		}
	}

	_, err = c.FindByIdentifier(ctx, "q-404")
	if !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("missing note: err = %v", err)
	}

	managed, err := c.FindManaged(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(managed) != 1 {
		t.Errorf("managed = %v", managed)
	}
}

func TestFindManaged_IgnoresForeignNotes(t *testing.T) {
	f := testutil.NewFakeAnki(t)
	f.AddNote(testutil.FakeNote{Model: "Basic", Deck: "Default", Fields: map[string]string{"Front": "x"}})
	f.AddNote(testutil.FakeNote{Model: models.StandardCardType, Deck: "Bio", Fields: map[string]string{IdentifierField: "q-7"}})

	ids, err := newClient(f).FindManaged(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 1 {
		t.Errorf("managed = %v, want one", ids)
	}
}

func TestUpdateNote(t *testing.T) {
	f := testutil.NewFakeAnki(t)
	noteID := f.AddNote(testutil.FakeNote{
		Model:  models.StandardCardType,
		Deck:   "Old",
		Fields: map[string]string{"Question": "old", IdentifierField: "q-1"},
		Tags:   []string{"joplin_title_Old_Title", "keepme"},
	})
	c := newClient(f)
	ctx := context.Background()

	existing, err := c.FindByIdentifier(ctx, "q-1")
	if err != nil {
		t.Fatal(err)
	}
	it := item("q-1", "Bio")
	if err := c.UpdateNote(ctx, existing, it); err != nil {
		t.Fatal(err)
	}

	n := f.Notes[noteID]
	if n.Fields["Question"] != "Q q-1" {
		t.Errorf("question = %q", n.Fields["Question"])
	}
	if n.Fields[IdentifierField] != "q-1" {
		t.Errorf("identifier changed to %q", n.Fields[IdentifierField])
	}
	if n.Deck != "Bio" {
		t.Errorf("deck = %q, want Bio", n.Deck)
	}
	if slices.Contains(n.Tags, "joplin_title_Old_Title") {
		t.Errorf("stale provenance tag kept: %v", n.Tags)
	}
	if !slices.Contains(n.Tags, "keepme") || !slices.Contains(n.Tags, "joplin_title_Cells_Mitochondria") {
		t.Errorf("tags = %v", n.Tags)
	}
}

func TestUpdateNote_SameDeckNoMove(t *testing.T) {
	f := testutil.NewFakeAnki(t)
	f.AddNote(testutil.FakeNote{
		Model:  models.StandardCardType,
		Deck:   "Bio",
		Fields: map[string]string{IdentifierField: "q-1"},
	})
	c := newClient(f)
	ctx := context.Background()

	existing, err := c.FindByIdentifier(ctx, "q-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.UpdateNote(ctx, existing, item("q-1", "Bio")); err != nil {
		t.Fatal(err)
	}
	if n := f.CallCount("changeDeck"); n != 0 {
		t.Errorf("changeDeck calls = %d, want 0", n)
	}
}

func TestUpdateNote_NeverSendsIdentifier(t *testing.T) {
	f := testutil.NewFakeAnki(t)
	f.AddNote(testutil.FakeNote{
		Model:  models.StandardCardType,
		Deck:   "Bio",
		Fields: map[string]string{IdentifierField: "q-1"},
	})
	var sawIdentifier bool
	f.Fail = func(action string, params json.RawMessage) string {
		if action != "updateNoteFields" {
			return ""
		}
		var p struct {
			Note struct {
				Fields map[string]string `json:"fields"`
			} `json:"note"`
		}
		_ = json.Unmarshal(params, &p)
		_, sawIdentifier = p.Note.Fields[IdentifierField]
		return ""
	}
	c := newClient(f)
	ctx := context.Background()

	existing, err := c.FindByIdentifier(ctx, "q-1")
	if err != nil {
		t.Fatal(err)
	}
	if err := c.UpdateNote(ctx, existing, item("q-1", "Bio")); err != nil {
		t.Fatal(err)
	}
	if sawIdentifier {
		t.Error("update payload carried the identifier field")
	}
}

func TestMedia(t *testing.T) {
	f := testutil.NewFakeAnki(t)
	c := newClient(f)
	ctx := context.Background()

	ok, err := c.HasMedia(ctx, "abc123.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("empty media store reports a file")
	}
	if err := c.StoreMedia(ctx, "abc123.jpg", "aGVsbG8="); err != nil {
		t.Fatal(err)
	}
	ok, err = c.HasMedia(ctx, "abc123.jpg")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("stored file not reported")
	}
}

func TestSync(t *testing.T) {
	f := testutil.NewFakeAnki(t)
	if err := newClient(f).Sync(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.CallCount("sync") != 1 {
		t.Error("sync action not sent")
	}
}

func TestSanitizeTag(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Cells: Mitochondria", "Cells_Mitochondria"},
		{"  leading and trailing!  ", "leading_and_trailing"},
		{"a -- b", "a_b"},
		{"Über 🚀 notes", "Über_🚀_notes"},
		{"C++", "C"},
		{"A + B", "A_B"},
		{"x=y|z", "x_y_z"},
		{"<tag> $5 ^2", "tag_5_2"},
		{"👍🏽 ok", "👍🏽_ok"},
		{"...", ""},
	}
	for _, tt := range tests {
		if got := SanitizeTag(tt.in); got != tt.want {
			t.Errorf("SanitizeTag(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestItemTags(t *testing.T) {
	it := &models.QuizItem{
		Tags:         []string{"exam prep", "exam prep", ""},
		SourceTitle:  "Title",
		SourceFolder: "",
	}
	got := ItemTags(it)
	want := []string{"exam_prep", "joplin_title_Title"}
	if !slices.Equal(got, want) {
		t.Errorf("ItemTags = %v, want %v", got, want)
	}
}
