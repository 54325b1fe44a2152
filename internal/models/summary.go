package models

import (
	"sort"
	"sync"
	"time"
)

// Summary is the structured result of one sync run.
type Summary struct {
	RunID            string    `json:"run_id"`
	StartedAt        time.Time `json:"started_at"`
	FinishedAt       time.Time `json:"finished_at"`
	Items            int       `json:"items"`
	ItemsSuccess     int       `json:"items_success"`
	ItemsCreated     int       `json:"items_created"`
	ItemsUpdated     int       `json:"items_updated"`
	ItemsSkipped     int       `json:"items_skipped"`
	ItemsFailed      int       `json:"items_failed"`
	Resources        int       `json:"resources"`
	ResourcesSuccess int       `json:"resources_success"`
	ErrorCount       int       `json:"error_count"`
	Errors           []string  `json:"errors"`
	Decks            []string  `json:"decks"`

	// Aborted is set when the run stopped before every note was processed.
	Aborted bool `json:"aborted,omitempty"`
}

// Clean reports whether the run processed every note without any error.
// Only a clean run may advance the default export cutoff.
func (s Summary) Clean() bool {
	return !s.Aborted && s.ItemsFailed == 0 && s.ErrorCount == 0
}

// Outcome is the result of reconciling one item.
type Outcome string

const (
	OutcomeCreated Outcome = "created"
	OutcomeUpdated Outcome = "updated"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Tally accumulates a Summary from concurrent workers.
type Tally struct {
	mu    sync.Mutex
	s     Summary
	decks map[string]struct{}
}

// NewTally starts a tally for the given run.
func NewTally(runID string, started time.Time) *Tally {
	return &Tally{
		s:     Summary{RunID: runID, StartedAt: started, Errors: []string{}},
		decks: make(map[string]struct{}),
	}
}

// Item records the outcome of one item.
func (t *Tally) Item(o Outcome, deck string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.Items++
	switch o {
	case OutcomeCreated:
		t.s.ItemsCreated++
		t.s.ItemsSuccess++
	case OutcomeUpdated:
		t.s.ItemsUpdated++
		t.s.ItemsSuccess++
	case OutcomeSkipped:
		t.s.ItemsSkipped++
		t.s.ItemsSuccess++
	case OutcomeFailed:
		t.s.ItemsFailed++
	}
	if deck != "" && o != OutcomeFailed {
		t.decks[deck] = struct{}{}
	}
}

// Resource records one resource upload attempt.
func (t *Tally) Resource(ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.Resources++
	if ok {
		t.s.ResourcesSuccess++
	}
}

// Error records an error message.
func (t *Tally) Error(err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.s.ErrorCount++
	t.s.Errors = append(t.s.Errors, err.Error())
}

// Summary returns a snapshot stamped with the finish time.
func (t *Tally) Summary(finished time.Time) Summary {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := t.s
	out.FinishedAt = finished
	out.Errors = append([]string{}, t.s.Errors...)
	out.Decks = make([]string, 0, len(t.decks))
	for d := range t.decks {
		out.Decks = append(out.Decks, d)
	}
	sort.Strings(out.Decks)
	return out
}
