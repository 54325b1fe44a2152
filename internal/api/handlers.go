package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/starford/decksync/internal/apperr"
)

// Handler holds API route handlers.
type Handler struct {
	svc    *Service
	logger *slog.Logger
}

// NewHandler creates a new Handler.
func NewHandler(svc *Service, logger *slog.Logger) *Handler {
	return &Handler{svc: svc, logger: logger}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func errorBody(msg string) ErrorResponse {
	return ErrorResponse{Error: msg}
}

// Live handles GET /health/live.
func (h *Handler) Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// LatestRun handles GET /api/runs/latest.
//
//	@Summary		Get the summary of the latest run
//	@Tags			runs
//	@Produce		json
//	@Success		200	{object}	RunStatusResponse
//	@Failure		404	{object}	ErrorResponse
//	@Security		BearerAuth
//	@Router			/runs/latest [get]
func (h *Handler) LatestRun(w http.ResponseWriter, _ *http.Request) {
	st := h.svc.Status()
	if st.Summary == nil && st.LastError == "" {
		writeJSON(w, http.StatusNotFound, errorBody("no run has completed yet"))
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ListRuns handles GET /api/runs.
//
//	@Summary		List recent runs
//	@Tags			runs
//	@Produce		json
//	@Param			limit	query		int	false	"Max runs"
//	@Success		200		{object}	RunListResponse
//	@Security		BearerAuth
//	@Router			/runs [get]
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.svc.History(limit)
	if err != nil {
		h.logger.Error("list runs failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, RunListResponse{Runs: runs})
}

// TriggerRun handles POST /api/runs.
//
//	@Summary		Start a sync run
//	@Tags			runs
//	@Produce		json
//	@Success		202	{object}	TriggerResponse
//	@Failure		409	{object}	ErrorResponse
//	@Security		BearerAuth
//	@Router			/runs [post]
func (h *Handler) TriggerRun(w http.ResponseWriter, _ *http.Request) {
	if err := h.svc.Trigger(); err != nil {
		if errors.Is(err, apperr.ErrRunInProgress) {
			writeJSON(w, http.StatusConflict, errorBody("a run is already in progress"))
		} else {
			h.logger.Error("trigger run failed", slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusAccepted, TriggerResponse{Status: "queued"})
}
