package ledger

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/starford/decksync/internal/models"
)

// ItemRow is one row of the items table.
type ItemRow struct {
	Identifier  string
	NoteID      int64
	Fingerprint string
	Deck        string
	UpdatedAt   time.Time
}

// RunRow is one row of the runs table.
type RunRow struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Created    int
	Updated    int
	Skipped    int
	Failed     int
	ErrorCount int
	Clean      bool
	Errors     []string
}

// Fingerprint returns the recorded fingerprint for identifier, or "" if the
// item has never been recorded.
func (db *DB) Fingerprint(identifier string) (string, error) {
	var fp string
	err := db.conn.QueryRow(`SELECT fingerprint FROM items WHERE identifier = ?`, identifier).Scan(&fp)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("ledger: fingerprint: %w", err)
	}
	return fp, nil
}

// Record upserts the state written to Anki for an item.
func (db *DB) Record(r ItemRow) error {
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now().UTC()
	}
	_, err := db.conn.Exec(`
		INSERT INTO items (identifier, note_id, fingerprint, deck, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(identifier) DO UPDATE SET
			note_id     = excluded.note_id,
			fingerprint = excluded.fingerprint,
			deck        = excluded.deck,
			updated_at  = excluded.updated_at
	`, r.Identifier, r.NoteID, r.Fingerprint, r.Deck, r.UpdatedAt)
	if err != nil {
		return fmt.Errorf("ledger: record item: %w", err)
	}
	return nil
}

// Item returns the row for identifier or nil if absent.
func (db *DB) Item(identifier string) (*ItemRow, error) {
	var r ItemRow
	err := db.conn.QueryRow(`
		SELECT identifier, note_id, fingerprint, deck, updated_at
		FROM items WHERE identifier = ?
	`, identifier).Scan(&r.Identifier, &r.NoteID, &r.Fingerprint, &r.Deck, &r.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: item: %w", err)
	}
	return &r, nil
}

// BeginRun inserts a new run and returns its id.
func (db *DB) BeginRun(started time.Time) (string, error) {
	id := uuid.NewString()
	if _, err := db.conn.Exec(`INSERT INTO runs (id, started_at) VALUES (?, ?)`, id, started.UTC()); err != nil {
		return "", fmt.Errorf("ledger: begin run: %w", err)
	}
	return id, nil
}

// FinishRun stores the outcome of a run. The run counts as clean only if
// s.Clean() holds.
func (db *DB) FinishRun(s models.Summary) error {
	errsJSON, _ := json.Marshal(s.Errors)
	res, err := db.conn.Exec(`
		UPDATE runs SET finished_at = ?, created = ?, updated = ?, skipped = ?, failed = ?,
			error_count = ?, clean = ?, errors = ?
		WHERE id = ?
	`, s.FinishedAt.UTC(), s.ItemsCreated, s.ItemsUpdated, s.ItemsSkipped, s.ItemsFailed,
		s.ErrorCount, s.Clean(), string(errsJSON), s.RunID)
	if err != nil {
		return fmt.Errorf("ledger: finish run: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("ledger: finish run: unknown run %q", s.RunID)
	}
	return nil
}

// LastSuccessfulRun returns the most recent clean run: finished, not
// aborted, with no failed items and no errors. It returns nil if there is
// none.
func (db *DB) LastSuccessfulRun() (*RunRow, error) {
	var (
		r        RunRow
		errsJSON string
	)
	err := db.conn.QueryRow(`
		SELECT id, started_at, finished_at, created, updated, skipped, failed, error_count, clean, errors
		FROM runs
		WHERE finished_at IS NOT NULL AND clean = 1
		ORDER BY started_at DESC
		LIMIT 1
	`).Scan(&r.ID, &r.StartedAt, &r.FinishedAt, &r.Created, &r.Updated, &r.Skipped, &r.Failed, &r.ErrorCount, &r.Clean, &errsJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: last run: %w", err)
	}
	_ = json.Unmarshal([]byte(errsJSON), &r.Errors)
	return &r, nil
}

// RecentRuns returns up to limit runs, newest first, including unfinished
// ones.
func (db *DB) RecentRuns(limit int) ([]RunRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.Query(`
		SELECT id, started_at, finished_at, created, updated, skipped, failed, error_count, clean, errors
		FROM runs
		ORDER BY started_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: recent runs: %w", err)
	}
	defer rows.Close()

	var out []RunRow
	for rows.Next() {
		var (
			r        RunRow
			finished sql.NullTime
			errsJSON sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.StartedAt, &finished, &r.Created, &r.Updated, &r.Skipped, &r.Failed, &r.ErrorCount, &r.Clean, &errsJSON); err != nil {
			return nil, fmt.Errorf("ledger: scan run: %w", err)
		}
		r.FinishedAt = finished.Time
		if errsJSON.Valid {
			_ = json.Unmarshal([]byte(errsJSON.String), &r.Errors)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
