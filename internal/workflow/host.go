// Package workflow runs named steps with memoized outputs and bounded retry.
//
// A step's output is journaled when it completes. Executing the same run id
// again replays journaled outputs instead of re-running their steps, so a
// failed run can be resumed from its first incomplete step.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/bull/pdf-rag/internal/ragerr"
)

// RetryPolicy bounds the attempts of a single step.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy makes three attempts starting at 500ms.
var DefaultRetryPolicy = RetryPolicy{
	MaxAttempts:     3,
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     10 * time.Second,
}

// Host executes steps against a journal.
type Host struct {
	journal Journal
	retry   RetryPolicy
	logger  *slog.Logger
}

// NewHost creates a step host. A nil journal keeps outputs in memory.
func NewHost(journal Journal, retry RetryPolicy, logger *slog.Logger) *Host {
	if journal == nil {
		journal = NewMemoryJournal()
	}
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = DefaultRetryPolicy.MaxAttempts
	}
	if retry.InitialInterval <= 0 {
		retry.InitialInterval = DefaultRetryPolicy.InitialInterval
	}
	if retry.MaxInterval <= 0 {
		retry.MaxInterval = DefaultRetryPolicy.MaxInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{journal: journal, retry: retry, logger: logger}
}

// Close closes the journal.
func (h *Host) Close() error {
	return h.journal.Close()
}

// Run is one execution of a workflow.
type Run struct {
	id   string
	host *Host
}

// Start begins or resumes the run with the given id. An empty id starts a new run.
func (h *Host) Start(runID string) *Run {
	if runID == "" {
		runID = uuid.New().String()
	}
	return &Run{id: runID, host: h}
}

// ID returns the run identifier.
func (r *Run) ID() string {
	return r.id
}

// Complete drops the journal entries of a finished run. Starting the same
// id again afterwards executes every step anew.
func (r *Run) Complete(ctx context.Context) error {
	if err := r.host.journal.Forget(ctx, r.id); err != nil {
		return fmt.Errorf("complete run %s: %w", r.id, err)
	}
	return nil
}

func (h *Host) newBackoff(ctx context.Context) backoff.BackOffContext {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = h.retry.InitialInterval
	b.MaxInterval = h.retry.MaxInterval
	b.MaxElapsedTime = 0 // bounded by attempts
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(h.retry.MaxAttempts-1)), ctx)
}

// Step runs fn as the named step of run and returns its output. A journaled
// output is decoded and returned without calling fn. Errors marked with
// ragerr.Retryable are retried up to the host's attempt limit; other errors
// fail the step immediately. T must round-trip through encoding/json.
func Step[T any](ctx context.Context, run *Run, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	h := run.host
	var zero T

	recorded, err := h.journal.Load(ctx, run.id, name)
	switch {
	case err == nil:
		var out T
		if err := json.Unmarshal(recorded, &out); err != nil {
			return zero, fmt.Errorf("step %q: decode journaled output: %w", name, err)
		}
		h.logger.Debug("step replayed from journal", "run", run.id, "step", name)
		return out, nil
	case !errors.Is(err, ErrNotJournaled):
		return zero, fmt.Errorf("step %q: load journal: %w", name, err)
	}

	var (
		out     T
		attempt int
	)
	operation := func() error {
		attempt++
		v, err := fn(ctx)
		if err != nil {
			if !ragerr.IsRetryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		out = v
		return nil
	}
	notify := func(err error, wait time.Duration) {
		h.logger.Warn("step failed, retrying",
			"run", run.id, "step", name, "attempt", attempt, "retry_in", wait, "error", err)
	}

	start := time.Now()
	if err := backoff.RetryNotify(operation, h.newBackoff(ctx), notify); err != nil {
		return zero, fmt.Errorf("step %q: %w", name, err)
	}

	encoded, err := json.Marshal(out)
	if err != nil {
		return zero, fmt.Errorf("step %q: encode output: %w", name, err)
	}
	if err := h.journal.Save(ctx, run.id, name, encoded); err != nil {
		return zero, fmt.Errorf("step %q: save journal: %w", name, err)
	}

	h.logger.Info("step completed",
		"run", run.id, "step", name, "attempts", attempt, "duration", time.Since(start))
	return out, nil
}
