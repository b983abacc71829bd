package triage

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/observability"
)

func newTestEngine(maxAttempts int) *Engine {
	return NewEngine(NewMemoryStepLog(), zap.NewNop(), observability.NewMetrics(), maxAttempts, 0)
}

func TestStepCachesResult(t *testing.T) {
	engine := newTestEngine(2)
	calls := 0

	run := func(out *string) error {
		return engine.Step(context.Background(), 1, "greet", out, func(context.Context) (any, error) {
			calls++
			return "hello", nil
		})
	}

	var first string
	if err := run(&first); err != nil {
		t.Fatalf("first run: %v", err)
	}
	var second string
	if err := run(&second); err != nil {
		t.Fatalf("second run: %v", err)
	}

	if calls != 1 {
		t.Fatalf("expected a single invocation, got %d", calls)
	}
	if first != "hello" || second != "hello" {
		t.Fatalf("cached result mismatch: %q vs %q", first, second)
	}
}

func TestStepResultsAreScopedPerTicket(t *testing.T) {
	engine := newTestEngine(2)
	calls := 0
	fn := func(context.Context) (any, error) {
		calls++
		return calls, nil
	}

	var a, b int
	if err := engine.Step(context.Background(), 1, "count", &a, fn); err != nil {
		t.Fatalf("ticket 1: %v", err)
	}
	if err := engine.Step(context.Background(), 2, "count", &b, fn); err != nil {
		t.Fatalf("ticket 2: %v", err)
	}
	if a == b {
		t.Fatalf("tickets must not share step results: %d vs %d", a, b)
	}
}

func TestStepRetriesTransientFailure(t *testing.T) {
	engine := newTestEngine(2)
	calls := 0

	err := engine.Step(context.Background(), 1, "flaky", nil, func(context.Context) (any, error) {
		calls++
		if calls == 1 {
			return nil, errors.New("transient")
		}
		return nil, nil
	})
	if err != nil {
		t.Fatalf("expected recovery on second attempt, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestStepStopsAtRetryBudget(t *testing.T) {
	engine := newTestEngine(2)
	calls := 0

	err := engine.Step(context.Background(), 1, "doomed", nil, func(context.Context) (any, error) {
		calls++
		return nil, errors.New("still broken")
	})
	if err == nil {
		t.Fatal("expected failure after budget exhaustion")
	}
	if calls != 2 {
		t.Fatalf("expected exactly 2 attempts, got %d", calls)
	}
	if !strings.Contains(err.Error(), "after 2 attempts") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStepDoesNotRetryFatalFailure(t *testing.T) {
	engine := newTestEngine(3)
	calls := 0

	err := engine.Step(context.Background(), 1, "gone", nil, func(context.Context) (any, error) {
		calls++
		return nil, Fatal(errors.New("no such ticket"))
	})
	if !IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("fatal failure must not be retried, got %d calls", calls)
	}
}

func TestStepFailureLeavesNoLogEntry(t *testing.T) {
	engine := newTestEngine(2)
	calls := 0
	fn := func(context.Context) (any, error) {
		calls++
		if calls <= 2 {
			return nil, errors.New("down")
		}
		return nil, nil
	}

	if err := engine.Step(context.Background(), 1, "eventually", nil, fn); err == nil {
		t.Fatal("expected first pass to exhaust its budget")
	}
	// A later delivery must re-run the step, not treat the failure as done.
	if err := engine.Step(context.Background(), 1, "eventually", nil, fn); err != nil {
		t.Fatalf("expected re-run to succeed, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts in total, got %d", calls)
	}
}
