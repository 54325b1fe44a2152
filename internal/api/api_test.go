package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/decksync/internal/apperr"
	"github.com/starford/decksync/internal/models"
	"github.com/starford/decksync/internal/reconcile"
	"github.com/starford/decksync/internal/sse"
	"github.com/starford/decksync/internal/testutil"
)

type stubRuns struct {
	running  bool
	latest   *models.Summary
	err      error
	triggers int
}

func (s *stubRuns) Trigger() error {
	if s.running {
		return apperr.ErrRunInProgress
	}
	s.triggers++
	return nil
}

func (s *stubRuns) Running() bool { return s.running }

func (s *stubRuns) Latest() (*models.Summary, error) { return s.latest, s.err }

// testEnv builds a router over a stub scheduler and a temporary ledger.
// An empty token means auth is disabled.
func testEnv(t *testing.T, token string, runs *stubRuns, sseHandler http.Handler) http.Handler {
	t.Helper()
	db := testutil.TestLedger(t)
	return testEnvWithHistory(t, token, runs, db, sseHandler)
}

func testEnvWithHistory(t *testing.T, token string, runs *stubRuns, history RunHistory, sseHandler http.Handler) http.Handler {
	t.Helper()
	svc := NewService(runs, history)
	return NewRouter(svc, token != "", token, sseHandler, testutil.Logger())
}

func do(router http.Handler, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthLive(t *testing.T) {
	router := testEnv(t, "secret", &stubRuns{}, nil)

	// Health is outside the auth group.
	w := do(router, http.MethodGet, "/health/live", "")
	if w.Code != http.StatusOK {
		t.Fatalf("live = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestLatestRun_NotFoundBeforeFirstRun(t *testing.T) {
	router := testEnv(t, "", &stubRuns{}, nil)

	w := do(router, http.MethodGet, "/api/runs/latest", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("latest before run = %d, want 404", w.Code)
	}
}

func TestLatestRun(t *testing.T) {
	runs := &stubRuns{latest: &models.Summary{RunID: "r1", ItemsCreated: 2, Errors: []string{}}}
	router := testEnv(t, "", runs, nil)

	w := do(router, http.MethodGet, "/api/runs/latest", "")
	if w.Code != http.StatusOK {
		t.Fatalf("latest = %d, body = %s", w.Code, w.Body.String())
	}
	var st RunStatusResponse
	if err := json.Unmarshal(w.Body.Bytes(), &st); err != nil {
		t.Fatal(err)
	}
	if st.Summary == nil || st.Summary.RunID != "r1" || st.Summary.ItemsCreated != 2 {
		t.Errorf("status = %+v", st)
	}
	if st.Running || st.LastError != "" {
		t.Errorf("status = %+v", st)
	}
}

func TestLatestRun_SetupFailureOnly(t *testing.T) {
	runs := &stubRuns{err: errors.New("setup failed: anki unreachable")}
	router := testEnv(t, "", runs, nil)

	w := do(router, http.MethodGet, "/api/runs/latest", "")
	if w.Code != http.StatusOK {
		t.Fatalf("latest = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "anki unreachable") {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestTriggerRun(t *testing.T) {
	runs := &stubRuns{}
	router := testEnv(t, "", runs, nil)

	w := do(router, http.MethodPost, "/api/runs", "")
	if w.Code != http.StatusAccepted {
		t.Fatalf("trigger = %d", w.Code)
	}
	if runs.triggers != 1 {
		t.Errorf("triggers = %d, want 1", runs.triggers)
	}
}

func TestTriggerRun_Conflict(t *testing.T) {
	router := testEnv(t, "", &stubRuns{running: true}, nil)

	w := do(router, http.MethodPost, "/api/runs", "")
	if w.Code != http.StatusConflict {
		t.Errorf("trigger while running = %d, want 409", w.Code)
	}
}

func TestListRuns(t *testing.T) {
	db := testutil.TestLedger(t)
	t0 := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	id, _ := db.BeginRun(t0)
	_ = db.FinishRun(models.Summary{RunID: id, FinishedAt: t0.Add(time.Minute), ItemsSkipped: 12})
	_, _ = db.BeginRun(t0.Add(time.Hour))

	router := testEnvWithHistory(t, "", &stubRuns{}, db, nil)
	w := do(router, http.MethodGet, "/api/runs?limit=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	var resp RunListResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Runs) != 2 {
		t.Fatalf("runs = %d, want 2", len(resp.Runs))
	}
	if resp.Runs[0].FinishedAt != nil {
		t.Errorf("unfinished run has finished_at %v", resp.Runs[0].FinishedAt)
	}
	if resp.Runs[1].ID != id || resp.Runs[1].Skipped != 12 || resp.Runs[1].FinishedAt == nil {
		t.Errorf("run = %+v", resp.Runs[1])
	}
}

func TestListRuns_NoLedger(t *testing.T) {
	router := testEnvWithHistory(t, "", &stubRuns{}, nil, nil)
	w := do(router, http.MethodGet, "/api/runs", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"runs":[]`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestAuthMiddleware_ValidToken(t *testing.T) {
	router := testEnv(t, "secret123", &stubRuns{}, nil)

	w := do(router, http.MethodPost, "/api/runs", "secret123")
	if w.Code != http.StatusAccepted {
		t.Errorf("authed trigger = %d, want 202", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	router := testEnv(t, "secret123", &stubRuns{}, nil)

	w := do(router, http.MethodGet, "/api/runs", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	router := testEnv(t, "secret123", &stubRuns{}, nil)

	w := do(router, http.MethodGet, "/api/runs", "wrong")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

// SSE endpoint tests.

func TestSSEEvents_AuthProtected(t *testing.T) {
	b := sse.NewBroker(time.Second)
	defer b.Close()
	router := testEnv(t, "secret", &stubRuns{}, b)

	w := do(router, http.MethodGet, "/api/events", "")
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_StreamsRunEvents(t *testing.T) {
	b := sse.NewBroker(time.Second)
	defer b.Close()
	router := testEnv(t, "tok", &stubRuns{}, b)

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/api/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		router.ServeHTTP(w, req)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for b.ClientCount() != 1 {
		if time.Now().After(deadline) {
			t.Fatal("SSE client never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}

	b.RunStarted("run-42")
	b.ItemDone(reconcile.Event{Outcome: models.OutcomeCreated, Identifier: "q1", Deck: "Bio"})
	time.Sleep(50 * time.Millisecond)
	cancel()
	<-done

	body := w.Body.String()
	if w.Code != http.StatusOK {
		t.Errorf("SSE status = %d", w.Code)
	}
	for _, want := range []string{"event: run.started", `"run_id":"run-42"`, "event: item.created", `"identifier":"q1"`} {
		if !strings.Contains(body, want) {
			t.Errorf("stream missing %q in %q", want, body)
		}
	}
}
