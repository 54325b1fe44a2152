package request

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/starford/decksync/internal/apperr"
)

type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(r *http.Request) (*http.Response, error) { return f(r) }

func okResponse(body string) *http.Response {
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     make(http.Header),
	}
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestExecute_RetryCeiling(t *testing.T) {
	calls := 0
	doer := doerFunc(func(r *http.Request) (*http.Response, error) {
		calls++
		return nil, &url.Error{Op: "Post", URL: r.URL.String(), Err: syscall.ECONNRESET}
	})
	var slept []time.Duration
	c := New("anki", DefaultExponentialBackoff(time.Second),
		WithHTTPClient(doer),
		WithLogger(discard()),
		WithSleep(func(_ context.Context, d time.Duration) error {
			slept = append(slept, d)
			return nil
		}))

	_, err := c.Execute(context.Background(), Spec{Method: http.MethodPost, URL: "http://anki.test"})
	if calls != 5 {
		t.Fatalf("calls = %d, want 5", calls)
	}
	var rf *apperr.RequestFailure
	if !errors.As(err, &rf) {
		t.Fatalf("err = %v, want *RequestFailure", err)
	}
	if rf.Attempts != 5 {
		t.Errorf("attempts = %d, want 5", rf.Attempts)
	}
	if !errors.Is(err, syscall.ECONNRESET) {
		t.Errorf("last error not preserved: %v", err)
	}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second}
	if fmt.Sprint(slept) != fmt.Sprint(want) {
		t.Errorf("backoff = %v, want %v", slept, want)
	}
}

func TestExecute_RecoversAfterTransientFailures(t *testing.T) {
	calls := 0
	doer := doerFunc(func(r *http.Request) (*http.Response, error) {
		calls++
		if calls < 3 {
			return nil, io.ErrUnexpectedEOF
		}
		return okResponse("pong"), nil
	})
	c := New("joplin", LinearTimeout{Base: time.Second}, WithHTTPClient(doer), WithLogger(discard()))

	body, err := c.Execute(context.Background(), Spec{Method: http.MethodGet, URL: "http://joplin.test/ping"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != "pong" || calls != 3 {
		t.Errorf("body = %q, calls = %d", body, calls)
	}
}

func TestExecute_ProtocolErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "bad token", http.StatusForbidden)
	}))
	defer srv.Close()

	c := New("joplin", LinearTimeout{Base: time.Second}, WithLogger(discard()))
	_, err := c.Execute(context.Background(), Spec{Method: http.MethodGet, URL: srv.URL + "/notes?token=secret"})

	var pe *apperr.ProtocolError
	if !errors.As(err, &pe) {
		t.Fatalf("err = %v, want *ProtocolError", err)
	}
	if pe.Status != http.StatusForbidden {
		t.Errorf("status = %d", pe.Status)
	}
	if strings.Contains(pe.Op, "secret") {
		t.Errorf("token leaked into error: %q", pe.Op)
	}
	if calls.Load() != 1 {
		t.Errorf("calls = %d, want 1", calls.Load())
	}
}

func TestExecute_NonNetworkErrorFailsFast(t *testing.T) {
	calls := 0
	doer := doerFunc(func(*http.Request) (*http.Response, error) {
		calls++
		return nil, syscall.ECONNREFUSED
	})
	c := New("anki", DefaultExponentialBackoff(time.Second), WithHTTPClient(doer), WithLogger(discard()))
	_, err := c.Execute(context.Background(), Spec{Method: http.MethodPost, URL: "http://anki.test"})
	if !errors.Is(err, syscall.ECONNREFUSED) || calls != 1 {
		t.Errorf("err = %v, calls = %d", err, calls)
	}
}

func TestExecute_PerAttemptTimeoutIsRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := New("joplin", LinearTimeout{Base: 50 * time.Millisecond}, WithLogger(discard()))
	body, err := c.Execute(context.Background(), Spec{Method: http.MethodGet, URL: srv.URL})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != "ok" {
		t.Errorf("body = %q", body)
	}
}

func TestExecute_SendsBodyAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		_, _ = fmt.Fprintf(w, "%s|%s", r.Header.Get("Content-Type"), b)
	}))
	defer srv.Close()

	c := New("anki", DefaultExponentialBackoff(time.Second), WithLogger(discard()))
	body, err := c.Execute(context.Background(), Spec{
		Method: http.MethodPost,
		URL:    srv.URL,
		Header: http.Header{"Content-Type": []string{"application/json"}},
		Body:   []byte(`{"action":"version"}`),
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(body) != `application/json|{"action":"version"}` {
		t.Errorf("body = %q", body)
	}
}

func TestExecute_ParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	doer := doerFunc(func(*http.Request) (*http.Response, error) {
		cancel()
		return nil, syscall.ECONNRESET
	})
	c := New("anki", DefaultExponentialBackoff(time.Second), WithHTTPClient(doer), WithLogger(discard()))
	_, err := c.Execute(ctx, Spec{Method: http.MethodPost, URL: "http://anki.test"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}
