package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/wwwsec/yt-tools/internal/logging"
)

// RetryPolicy bounds calls to external tools.
type RetryPolicy struct {
	MaxAttempts int
	// Backoff is the wait after the first failure; it doubles each attempt.
	Backoff time.Duration
	// Timeout applies to each attempt separately.
	Timeout time.Duration
}

// SynthesisError is returned when a caption's speech could not be produced
// within the retry bound. It fails the whole run.
type SynthesisError struct {
	Index    int
	Text     string
	Attempts int
	Err      error
}

const maxErrorText = 60

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed: caption %d %q after %d attempt(s): %v",
		e.Index, clipText(e.Text, maxErrorText), e.Attempts, e.Err)
}

// clipText shortens s to at most n runes, marking the cut with "...".
func clipText(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// retry runs fn until it succeeds, attempts run out, or ctx is done. It
// returns the number of attempts made and the last error.
func retry(ctx context.Context, p RetryPolicy, logger *slog.Logger, fn func(ctx context.Context) error) (int, error) {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}
	wait := p.Backoff
	var err error
	for n := 1; n <= attempts; n++ {
		err = attempt(ctx, p.Timeout, fn)
		if err == nil {
			return n, nil
		}
		if ctx.Err() != nil {
			return n, ctx.Err()
		}
		if n == attempts {
			return n, err
		}
		logger.Warn("attempt failed, retrying",
			slog.Int("attempt", n),
			slog.Duration("backoff", wait),
			logging.Error(err),
		)
		if wait > 0 {
			t := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				t.Stop()
				return n, ctx.Err()
			case <-t.C:
			}
			wait *= 2
		}
	}
	return attempts, err
}

func attempt(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return fn(cctx)
}
