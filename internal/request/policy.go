package request

import (
	"context"
	"errors"
	"io"
	"net"
	"net/url"
	"strings"
	"syscall"
	"time"

	"github.com/starford/decksync/internal/apperr"
)

// Policy decides the per-attempt deadline and the pause between attempts.
// Attempts are numbered from 1.
type Policy interface {
	Timeout(attempt int) time.Duration
	Backoff(attempt int) time.Duration
}

// LinearTimeout grows the per-attempt deadline linearly and retries at once.
type LinearTimeout struct {
	Base time.Duration
}

func (p LinearTimeout) Timeout(attempt int) time.Duration {
	return p.Base * time.Duration(attempt)
}

func (LinearTimeout) Backoff(int) time.Duration { return 0 }

// ExponentialBackoff waits Initial·2^(attempt-1), capped at Max, between
// attempts, each of which runs under a fixed AttemptTimeout.
type ExponentialBackoff struct {
	AttemptTimeout time.Duration
	Initial        time.Duration
	Max            time.Duration
}

// DefaultExponentialBackoff is 1s doubling up to 10s.
func DefaultExponentialBackoff(attemptTimeout time.Duration) ExponentialBackoff {
	return ExponentialBackoff{AttemptTimeout: attemptTimeout, Initial: time.Second, Max: 10 * time.Second}
}

func (p ExponentialBackoff) Timeout(int) time.Duration { return p.AttemptTimeout }

func (p ExponentialBackoff) Backoff(attempt int) time.Duration {
	d := p.Initial
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= p.Max {
			return p.Max
		}
	}
	if d > p.Max {
		return p.Max
	}
	return d
}

// Retryable reports whether err is a transient network condition: connection
// reset, broken pipe, aborted connection, timeout, or the peer hanging up.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var pe *apperr.ProtocolError
	if errors.As(err, &pe) {
		return false
	}
	switch {
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.EPIPE),
		errors.Is(err, syscall.ECONNABORTED),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF):
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"connection reset", "broken pipe", "connection aborted", "hang up", "timed out"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// redact hides the token query parameter in log output.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	q := u.Query()
	if q.Has("token") {
		q.Set("token", "***")
		u.RawQuery = q.Encode()
	}
	return u.String()
}
