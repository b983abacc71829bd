package worker

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/triage"
)

// TriageWorker consumes ticket/created events and starts one independent
// triage run per event. Runs for different tickets proceed in parallel; the
// orchestrator's run lock handles duplicates for the same ticket.
type TriageWorker struct {
	queue        events.Queue
	orchestrator *triage.Orchestrator
	logger       *zap.Logger
}

// NewTriageWorker creates the worker.
func NewTriageWorker(queue events.Queue, orchestrator *triage.Orchestrator, logger *zap.Logger) *TriageWorker {
	return &TriageWorker{queue: queue, orchestrator: orchestrator, logger: logger}
}

// Run blocks consuming events until ctx is canceled or the queue closes.
func (w *TriageWorker) Run(ctx context.Context) {
	for {
		event, err := w.queue.Dequeue(ctx, events.EventTicketCreated)
		if errors.Is(err, context.Canceled) || errors.Is(err, events.ErrQueueClosed) {
			return
		}
		if err != nil {
			w.logger.Error("dequeue ticket/created", zap.Error(err))
			continue
		}

		var payload events.TicketCreatedPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			w.logger.Error("malformed ticket/created payload",
				zap.String("event_id", event.ID),
				zap.Error(err))
			continue
		}

		go func() {
			// Errors are logged inside the orchestrator; nothing to do here.
			_ = w.orchestrator.HandleTicketCreated(ctx, payload)
		}()
	}
}
