// Package retry runs fallible work with classified retries and exponential
// backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = time.Second

	// MaxAttemptsLimit is the most attempts a configured policy may make.
	MaxAttemptsLimit = 10
	// MaxDelay caps a single backoff wait.
	MaxDelay = 5 * time.Minute
)

// Policy configures Do. The zero value is usable: three attempts, one second
// base delay, IsTransient as the classifier, and a blocking timer sleep.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	// Classify reports whether an error is worth another attempt.
	Classify func(error) bool
	// Sleep waits for d. It returns early with ctx's error if ctx ends.
	Sleep func(ctx context.Context, d time.Duration) error
	// Name labels log lines for this unit of work.
	Name   string
	Logger *slog.Logger
}

// ExhaustedError is the single failure Do returns once it stops trying.
// Message is the last error's text with secrets redacted.
type ExhaustedError struct {
	Attempts  int
	Message   string
	Retryable bool // the last error was retryable; attempts ran out
	Err       error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("failed after %d attempts: %s", e.Attempts, e.Message)
}

func (e *ExhaustedError) Unwrap() error { return e.Err }

// Delay returns the wait before the attempt following attempt n (1-based):
// base, 2*base, 4*base, and so on, never more than MaxDelay.
func (p Policy) Delay(n int) time.Duration {
	d := p.baseDelay()
	for i := 1; i < n && d < MaxDelay; i++ {
		d *= 2
	}
	return min(d, MaxDelay)
}

// WorstCase returns the longest Do can take when every attempt runs for
// perAttempt and fails with a retryable error.
func (p Policy) WorstCase(perAttempt time.Duration) time.Duration {
	n := p.maxAttempts()
	total := time.Duration(n) * perAttempt
	for i := 1; i < n; i++ {
		total += p.Delay(i)
	}
	return total
}

func (p Policy) maxAttempts() int {
	if p.MaxAttempts <= 0 {
		return DefaultMaxAttempts
	}
	return p.MaxAttempts
}

func (p Policy) baseDelay() time.Duration {
	if p.BaseDelay <= 0 {
		return DefaultBaseDelay
	}
	return p.BaseDelay
}

func (p Policy) classify(err error) bool {
	if p.Classify != nil {
		return p.Classify(err)
	}
	return IsTransient(err)
}

func (p Policy) sleep(ctx context.Context, d time.Duration) error {
	if p.Sleep != nil {
		return p.Sleep(ctx, d)
	}
	return Sleep(ctx, d)
}

func (p Policy) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Sleep blocks for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Do runs fn until it succeeds, fails with an error the policy does not
// classify as retryable, or MaxAttempts is reached. Every failure that stops
// the loop is returned as an *ExhaustedError.
func Do[T any](ctx context.Context, p Policy, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	max := p.maxAttempts()
	log := p.logger()

	for attempt := 1; ; attempt++ {
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		transient := p.classify(err)
		if !transient || attempt >= max {
			msg := Redact(err.Error())
			log.Error("giving up", "work", p.Name, "attempts", attempt, "retryable", transient, "error", msg)
			return zero, &ExhaustedError{Attempts: attempt, Message: msg, Retryable: transient, Err: err}
		}

		delay := p.Delay(attempt)
		log.Warn(fmt.Sprintf("retry attempt %d/%d after %s", attempt, max, delay),
			"work", p.Name, "attempt", attempt, "max_attempts", max, "delay", delay, "error", Redact(err.Error()))

		if serr := p.sleep(ctx, delay); serr != nil {
			msg := Redact(err.Error())
			return zero, &ExhaustedError{Attempts: attempt, Message: msg, Retryable: true, Err: errors.Join(err, serr)}
		}
	}
}
