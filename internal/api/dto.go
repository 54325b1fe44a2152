package api

import (
	"time"

	"github.com/starford/decksync/internal/models"
)

// RunStatusResponse describes the scheduler state and the last summary.
type RunStatusResponse struct {
	Running   bool            `json:"running" example:"false" validate:"required"`
	Summary   *models.Summary `json:"summary,omitempty"`
	LastError string          `json:"last_error,omitempty" example:"setup failed: anki unreachable after 3 attempts"`
}

// TriggerResponse is returned when a run is queued.
type TriggerResponse struct {
	Status string `json:"status" example:"queued" validate:"required"`
}

// RunDTO is one entry of the run history.
type RunDTO struct {
	ID         string     `json:"id" example:"0b9c5e0e-3c1a-4d57-9a53-7f1f5c8e2a10" validate:"required"`
	StartedAt  time.Time  `json:"started_at" validate:"required"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Created    int        `json:"created" example:"3"`
	Updated    int        `json:"updated" example:"1"`
	Skipped    int        `json:"skipped" example:"40"`
	Failed     int        `json:"failed" example:"0"`
	ErrorCount int        `json:"error_count" example:"0"`
	Clean      bool       `json:"clean" example:"true"`
	Errors     []string   `json:"errors"`
}

// RunListResponse wraps the run history.
type RunListResponse struct {
	Runs []RunDTO `json:"runs" validate:"required"`
}

// ErrorResponse is the body of every non-2xx answer.
type ErrorResponse struct {
	Error string `json:"error" example:"unauthorized" validate:"required"`
}
