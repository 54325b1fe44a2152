package api

import (
	"github.com/starford/decksync/internal/ledger"
	"github.com/starford/decksync/internal/models"
)

// RunController starts runs and reports the latest outcome.
type RunController interface {
	Trigger() error
	Running() bool
	Latest() (*models.Summary, error)
}

// RunHistory lists past runs.
type RunHistory interface {
	RecentRuns(limit int) ([]ledger.RunRow, error)
}

// Service coordinates the scheduler and the ledger for the API layer.
type Service struct {
	runs    RunController
	history RunHistory
}

// NewService creates a new API service. history may be nil when no ledger
// is configured.
func NewService(runs RunController, history RunHistory) *Service {
	return &Service{runs: runs, history: history}
}

// Status returns the current run state.
func (s *Service) Status() RunStatusResponse {
	sum, err := s.runs.Latest()
	out := RunStatusResponse{Running: s.runs.Running(), Summary: sum}
	if err != nil {
		out.LastError = err.Error()
	}
	return out
}

// Trigger queues a run.
func (s *Service) Trigger() error {
	return s.runs.Trigger()
}

// History returns recent runs, or an empty list without a ledger.
func (s *Service) History(limit int) ([]RunDTO, error) {
	out := []RunDTO{}
	if s.history == nil {
		return out, nil
	}
	rows, err := s.history.RecentRuns(limit)
	if err != nil {
		return nil, err
	}
	for _, r := range rows {
		dto := RunDTO{
			ID:         r.ID,
			StartedAt:  r.StartedAt,
			Created:    r.Created,
			Updated:    r.Updated,
			Skipped:    r.Skipped,
			Failed:     r.Failed,
			ErrorCount: r.ErrorCount,
			Clean:      r.Clean,
			Errors:     r.Errors,
		}
		if !r.FinishedAt.IsZero() {
			t := r.FinishedAt
			dto.FinishedAt = &t
		}
		if dto.Errors == nil {
			dto.Errors = []string{}
		}
		out = append(out, dto)
	}
	return out, nil
}
