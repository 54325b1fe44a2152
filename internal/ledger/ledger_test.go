package ledger

import (
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/decksync/internal/models"
)

func testDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSchemaCreation(t *testing.T) {
	db := testDB(t)
	var count int
	if err := db.conn.QueryRow(`SELECT count(*) FROM items`).Scan(&count); err != nil {
		t.Fatalf("items table missing: %v", err)
	}
	if err := db.conn.QueryRow(`SELECT count(*) FROM runs`).Scan(&count); err != nil {
		t.Fatalf("runs table missing: %v", err)
	}
}

func TestRecordAndFingerprint(t *testing.T) {
	db := testDB(t)
	if err := db.Record(ItemRow{Identifier: "q1", NoteID: 42, Fingerprint: "abc", Deck: "Bio"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	fp, err := db.Fingerprint("q1")
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if fp != "abc" {
		t.Errorf("fingerprint = %q, want %q", fp, "abc")
	}
}

func TestRecordUpdatesExisting(t *testing.T) {
	db := testDB(t)
	_ = db.Record(ItemRow{Identifier: "q1", NoteID: 42, Fingerprint: "old", Deck: "A"})
	_ = db.Record(ItemRow{Identifier: "q1", NoteID: 42, Fingerprint: "new", Deck: "B"})

	row, err := db.Item("q1")
	if err != nil {
		t.Fatalf("Item: %v", err)
	}
	if row == nil || row.Fingerprint != "new" || row.Deck != "B" || row.NoteID != 42 {
		t.Errorf("row = %+v", row)
	}
}

func TestFingerprint_NotFound(t *testing.T) {
	db := testDB(t)
	fp, err := db.Fingerprint("missing")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fp != "" {
		t.Errorf("expected empty fingerprint, got %q", fp)
	}
	row, err := db.Item("missing")
	if err != nil || row != nil {
		t.Errorf("Item = %+v, %v", row, err)
	}
}

func TestRuns_LastSuccessful(t *testing.T) {
	db := testDB(t)
	if r, err := db.LastSuccessfulRun(); err != nil || r != nil {
		t.Fatalf("expected no runs, got %+v, %v", r, err)
	}

	t0 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	ok, _ := db.BeginRun(t0)
	if err := db.FinishRun(models.Summary{RunID: ok, FinishedAt: t0.Add(time.Minute), ItemsCreated: 3}); err != nil {
		t.Fatalf("FinishRun: %v", err)
	}

	failed, _ := db.BeginRun(t0.Add(time.Hour))
	_ = db.FinishRun(models.Summary{RunID: failed, FinishedAt: t0.Add(61 * time.Minute), ItemsFailed: 1, Errors: []string{"boom"}})

	// Started but never finished.
	_, _ = db.BeginRun(t0.Add(2 * time.Hour))

	r, err := db.LastSuccessfulRun()
	if err != nil {
		t.Fatalf("LastSuccessfulRun: %v", err)
	}
	if r == nil || r.ID != ok {
		t.Fatalf("last run = %+v, want %s", r, ok)
	}
	if r.Created != 3 || !r.StartedAt.Equal(t0) || !r.Clean {
		t.Errorf("run = %+v", r)
	}
}

func TestRuns_ErrorsOrAbortNeverClean(t *testing.T) {
	db := testDB(t)
	t0 := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	clean, _ := db.BeginRun(t0)
	_ = db.FinishRun(models.Summary{RunID: clean, FinishedAt: t0.Add(time.Minute)})

	// No failed items, but a note could not be fetched.
	withErrors, _ := db.BeginRun(t0.Add(time.Hour))
	_ = db.FinishRun(models.Summary{
		RunID: withErrors, FinishedAt: t0.Add(61 * time.Minute),
		ErrorCount: 1, Errors: []string{"note n1: timeout"},
	})

	// Cancelled before any item was written.
	aborted, _ := db.BeginRun(t0.Add(2 * time.Hour))
	_ = db.FinishRun(models.Summary{RunID: aborted, FinishedAt: t0.Add(121 * time.Minute), Aborted: true})

	r, err := db.LastSuccessfulRun()
	if err != nil {
		t.Fatalf("LastSuccessfulRun: %v", err)
	}
	if r == nil || r.ID != clean {
		t.Fatalf("last run = %+v, want %s", r, clean)
	}

	runs, _ := db.RecentRuns(10)
	for _, run := range runs {
		if run.ID != clean && run.Clean {
			t.Errorf("run %s recorded clean: %+v", run.ID, run)
		}
	}
	if runs[1].ErrorCount != 1 {
		t.Errorf("error_count = %d, want 1", runs[1].ErrorCount)
	}
}

func TestOpen_AddsRunColumnsToOldLedger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "old.db")
	conn, err := sql.Open("sqlite3", path)
	if err != nil {
		t.Fatal(err)
	}
	_, err = conn.Exec(`
		CREATE TABLE runs (
			id TEXT PRIMARY KEY, started_at DATETIME NOT NULL, finished_at DATETIME,
			created INTEGER NOT NULL DEFAULT 0, updated INTEGER NOT NULL DEFAULT 0,
			skipped INTEGER NOT NULL DEFAULT 0, failed INTEGER NOT NULL DEFAULT 0,
			errors TEXT NOT NULL DEFAULT '[]'
		);
		INSERT INTO runs (id, started_at, finished_at) VALUES ('old', '2026-01-01 10:00:00', '2026-01-01 10:01:00');
	`)
	conn.Close()
	if err != nil {
		t.Fatal(err)
	}

	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer db.Close()

	r, err := db.LastSuccessfulRun()
	if err != nil {
		t.Fatalf("LastSuccessfulRun: %v", err)
	}
	if r != nil {
		t.Errorf("pre-existing run treated as clean: %+v", r)
	}
	runs, err := db.RecentRuns(5)
	if err != nil || len(runs) != 1 {
		t.Fatalf("RecentRuns = %v, %v", runs, err)
	}
}

func TestFinishRun_UnknownID(t *testing.T) {
	db := testDB(t)
	if err := db.FinishRun(models.Summary{RunID: "nope", FinishedAt: time.Now()}); err == nil {
		t.Fatal("expected error for unknown run")
	}
}

func TestRecentRuns(t *testing.T) {
	db := testDB(t)
	t0 := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)
	first, _ := db.BeginRun(t0)
	_ = db.FinishRun(models.Summary{RunID: first, FinishedAt: t0.Add(time.Minute), ItemsFailed: 2, Errors: []string{"a", "b"}})
	second, _ := db.BeginRun(t0.Add(time.Hour))

	runs, err := db.RecentRuns(10)
	if err != nil {
		t.Fatalf("RecentRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("len(runs) = %d, want 2", len(runs))
	}
	if runs[0].ID != second || !runs[0].FinishedAt.IsZero() {
		t.Errorf("newest run = %+v", runs[0])
	}
	if runs[1].ID != first || runs[1].Failed != 2 || len(runs[1].Errors) != 2 {
		t.Errorf("oldest run = %+v", runs[1])
	}

	runs, _ = db.RecentRuns(1)
	if len(runs) != 1 {
		t.Errorf("limit ignored: %d runs", len(runs))
	}
}
