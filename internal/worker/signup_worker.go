package worker

import (
	"context"
	"encoding/json"
	"errors"

	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/notify"
)

// SignupWorker consumes user/signup events and sends the welcome mail.
// Delivery failures are logged and dropped; the mail is best effort.
type SignupWorker struct {
	queue  events.Queue
	mailer notify.Mailer
	logger *zap.Logger
}

// NewSignupWorker creates the worker.
func NewSignupWorker(queue events.Queue, mailer notify.Mailer, logger *zap.Logger) *SignupWorker {
	return &SignupWorker{queue: queue, mailer: mailer, logger: logger}
}

// Run blocks consuming events until ctx is canceled or the queue closes.
func (w *SignupWorker) Run(ctx context.Context) {
	for {
		event, err := w.queue.Dequeue(ctx, events.EventUserSignup)
		if errors.Is(err, context.Canceled) || errors.Is(err, events.ErrQueueClosed) {
			return
		}
		if err != nil {
			w.logger.Error("dequeue user/signup", zap.Error(err))
			continue
		}

		var payload events.UserSignupPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			w.logger.Error("malformed user/signup payload",
				zap.String("event_id", event.ID),
				zap.Error(err))
			continue
		}

		subject := "Welcome to the helpdesk"
		body := "Your account has been created. You can now submit support tickets."
		if err := w.mailer.Send(ctx, payload.Email, subject, body); err != nil {
			w.logger.Warn("welcome mail delivery failed",
				zap.String("email", payload.Email),
				zap.Error(err))
		}
	}
}
