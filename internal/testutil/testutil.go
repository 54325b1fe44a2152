// Package testutil provides shared test helpers: fake Joplin and Anki
// servers, a temporary ledger and quiet clients.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/starford/decksync/internal/ledger"
	"github.com/starford/decksync/internal/request"
)

// TestLedger opens a ledger in a temporary directory, closed at cleanup.
func TestLedger(t *testing.T) *ledger.DB {
	t.Helper()
	db, err := ledger.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// Logger returns a logger that discards everything.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// RequestClient returns a request client that retries without sleeping.
func RequestClient(name string) *request.Client {
	return request.New(name, request.LinearTimeout{Base: 2 * time.Second},
		request.WithLogger(Logger()),
		request.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)
}
