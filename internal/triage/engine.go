package triage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/observability"
)

// fatalError marks a failure that must not be retried.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return e.err.Error() }
func (e *fatalError) Unwrap() error { return e.err }

// Fatal wraps err so the step engine terminates the run without retrying.
func Fatal(err error) error {
	return &fatalError{err: err}
}

// IsFatal reports whether err carries a non-retriable marker.
func IsFatal(err error) bool {
	var f *fatalError
	return errors.As(err, &f)
}

// Engine executes named steps with per-step caching, a bounded retry budget
// and a per-attempt timeout. A step whose result is already in the log is
// skipped; only in-flight or not-yet-attempted steps run.
type Engine struct {
	steps       StepLog
	logger      *zap.Logger
	metrics     *observability.Metrics
	maxAttempts int
	stepTimeout time.Duration
}

// NewEngine builds an engine over the given step log.
func NewEngine(steps StepLog, logger *zap.Logger, metrics *observability.Metrics, maxAttempts int, stepTimeout time.Duration) *Engine {
	if maxAttempts <= 0 {
		maxAttempts = 2
	}
	if stepTimeout <= 0 {
		stepTimeout = 30 * time.Second
	}
	return &Engine{
		steps:       steps,
		logger:      logger,
		metrics:     metrics,
		maxAttempts: maxAttempts,
		stepTimeout: stepTimeout,
	}
}

// Step runs fn at most once per (ticketID, name). The returned value is
// JSON-encoded into the step log and decoded into out; on a cached hit fn is
// not invoked and out is restored from the log. out may be nil when the step
// produces no value.
func (e *Engine) Step(ctx context.Context, ticketID int64, name string, out any, fn func(context.Context) (any, error)) error {
	cached, ok, err := e.steps.Get(ctx, ticketID, name)
	if err != nil {
		return fmt.Errorf("step %s: read log: %w", name, err)
	}
	if ok {
		e.logger.Debug("step already completed",
			zap.Int64("ticket_id", ticketID),
			zap.String("step", name))
		return decodeResult(cached, out)
	}

	var lastErr error
	for attempt := 1; attempt <= e.maxAttempts; attempt++ {
		if attempt > 1 {
			e.metrics.RecordStepRetry(name)
			e.logger.Warn("retrying step",
				zap.Int64("ticket_id", ticketID),
				zap.String("step", name),
				zap.Int("attempt", attempt),
				zap.Error(lastErr))
		}

		result, err := e.attempt(ctx, fn)
		if err != nil {
			if IsFatal(err) {
				return err
			}
			lastErr = err
			continue
		}

		raw, err := json.Marshal(result)
		if err != nil {
			return fmt.Errorf("step %s: encode result: %w", name, err)
		}
		if err := e.steps.Put(ctx, ticketID, name, raw); err != nil {
			return fmt.Errorf("step %s: write log: %w", name, err)
		}
		return decodeResult(raw, out)
	}

	return fmt.Errorf("step %s failed after %d attempts: %w", name, e.maxAttempts, lastErr)
}

// MaxAttempts exposes the retry budget for callers that retry outside the
// cached-step mechanism, such as the oracle call.
func (e *Engine) MaxAttempts() int {
	return e.maxAttempts
}

// StepTimeout exposes the per-attempt timeout.
func (e *Engine) StepTimeout() time.Duration {
	return e.stepTimeout
}

func (e *Engine) attempt(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	stepCtx, cancel := context.WithTimeout(ctx, e.stepTimeout)
	defer cancel()
	return fn(stepCtx)
}

func decodeResult(raw json.RawMessage, out any) error {
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}
