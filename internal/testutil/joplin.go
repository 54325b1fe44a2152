package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/starford/decksync/internal/models"
)

// FakeJoplin serves a fixed set of folders, notes and resource files over the
// Joplin data API.
type FakeJoplin struct {
	*httptest.Server

	Token    string
	PingBody string

	mu      sync.Mutex
	folders []models.Folder
	notes   []models.Note
	files   map[string][]byte
	hits    map[string]int
}

// NewFakeJoplin starts a FakeJoplin closed at test cleanup.
func NewFakeJoplin(t *testing.T, token string) *FakeJoplin {
	t.Helper()
	f := &FakeJoplin{
		Token:    token,
		PingBody: "JoplinClipperServer",
		files:    make(map[string][]byte),
		hits:     make(map[string]int),
	}

	r := chi.NewRouter()
	r.Use(f.auth)
	r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
		f.hit(r)
		_, _ = w.Write([]byte(f.PingBody))
	})
	r.Get("/folders", f.listFolders)
	r.Get("/notes", f.listNotes)
	r.Get("/notes/{id}/tags", f.noteTags)
	r.Get("/notes/{id}/resources", f.noteResources)
	r.Get("/resources/{id}/file", f.resourceFile)

	f.Server = httptest.NewServer(r)
	t.Cleanup(f.Close)
	return f
}

// AddFolder registers a folder.
func (f *FakeJoplin) AddFolder(folder models.Folder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.folders = append(f.folders, folder)
}

// AddNote registers a note together with its tags and resources.
func (f *FakeJoplin) AddNote(n models.Note) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notes = append(f.notes, n)
}

// SetFile stores the bytes served for a resource.
func (f *FakeJoplin) SetFile(resourceID string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.files[resourceID] = data
}

// Hits returns how many requests a route pattern received.
func (f *FakeJoplin) Hits(pattern string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.hits[pattern]
}

func (f *FakeJoplin) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("token") != f.Token {
			http.Error(w, `{"error":"Invalid "token" parameter"}`, http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FakeJoplin) hit(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits[chi.RouteContext(r.Context()).RoutePattern()]++
}

func writePage[T any](w http.ResponseWriter, r *http.Request, all []T) {
	q := r.URL.Query()
	pageNum, _ := strconv.Atoi(q.Get("page"))
	if pageNum < 1 {
		pageNum = 1
	}
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit < 1 {
		limit = 10
	}
	start := (pageNum - 1) * limit
	if start > len(all) {
		start = len(all)
	}
	end := start + limit
	if end > len(all) {
		end = len(all)
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"items":    all[start:end],
		"has_more": end < len(all),
	})
}

func (f *FakeJoplin) listFolders(w http.ResponseWriter, r *http.Request) {
	f.hit(r)
	f.mu.Lock()
	folders := append([]models.Folder{}, f.folders...)
	f.mu.Unlock()
	writePage(w, r, folders)
}

func (f *FakeJoplin) listNotes(w http.ResponseWriter, r *http.Request) {
	f.hit(r)
	f.mu.Lock()
	notes := append([]models.Note{}, f.notes...)
	f.mu.Unlock()
	if r.URL.Query().Get("order_dir") == "DESC" {
		sort.SliceStable(notes, func(i, j int) bool { return notes[i].UpdatedTime > notes[j].UpdatedTime })
	}
	writePage(w, r, notes)
}

func (f *FakeJoplin) note(id string) (models.Note, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, n := range f.notes {
		if n.ID == id {
			return n, true
		}
	}
	return models.Note{}, false
}

type fakeTag struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func (f *FakeJoplin) noteTags(w http.ResponseWriter, r *http.Request) {
	f.hit(r)
	n, ok := f.note(chi.URLParam(r, "id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	tags := make([]fakeTag, 0, len(n.Tags))
	for i, t := range n.Tags {
		tags = append(tags, fakeTag{ID: "tag" + strconv.Itoa(i), Title: t})
	}
	writePage(w, r, tags)
}

func (f *FakeJoplin) noteResources(w http.ResponseWriter, r *http.Request) {
	f.hit(r)
	n, ok := f.note(chi.URLParam(r, "id"))
	if !ok {
		http.NotFound(w, r)
		return
	}
	writePage(w, r, append([]models.Resource{}, n.Resources...))
}

func (f *FakeJoplin) resourceFile(w http.ResponseWriter, r *http.Request) {
	f.hit(r)
	f.mu.Lock()
	data, ok := f.files[chi.URLParam(r, "id")]
	f.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(data)
}
