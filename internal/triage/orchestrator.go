package triage

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/notify"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/oracle"
	"github.com/spec-kit/helpdesk-service/internal/repository"
)

// Step names double as step-log keys; changing one orphans recorded results.
const (
	stepFetchTicket  = "fetch-ticket"
	stepMarkInTriage = "mark-in-triage"
	stepApplyVerdict = "apply-classification"
	stepAssign       = "assign"
	stepNotify       = "notify"
)

// assignee is the durably cached output of the assign step. A nil value
// means the run resolved no assignee.
type assignee struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
}

// Orchestrator drives one triage run per ticket/created event: classify the
// ticket, persist the verdict, pick an owner, notify them. Steps commit
// independently; there is no cross-step transaction and no rollback — a
// failed run leaves the ticket in its last committed state.
type Orchestrator struct {
	engine   *Engine
	tickets  repository.TicketRepository
	resolver *Resolver
	oracle   oracle.Classifier
	mailer   notify.Mailer
	locks    RunLocker
	logger   *zap.Logger
	metrics  *observability.Metrics
}

// Dependencies bundles orchestrator collaborators.
type Dependencies struct {
	Engine     *Engine
	TicketRepo repository.TicketRepository
	UserRepo   repository.UserRepository
	Oracle     oracle.Classifier
	Mailer     notify.Mailer
	Locks      RunLocker
	Logger     *zap.Logger
	Metrics    *observability.Metrics
}

// NewOrchestrator creates the orchestrator.
func NewOrchestrator(deps Dependencies) *Orchestrator {
	return &Orchestrator{
		engine:   deps.Engine,
		tickets:  deps.TicketRepo,
		resolver: NewResolver(deps.UserRepo),
		oracle:   deps.Oracle,
		mailer:   deps.Mailer,
		locks:    deps.Locks,
		logger:   deps.Logger,
		metrics:  deps.Metrics,
	}
}

// HandleTicketCreated executes one triage run. Redelivered events re-enter
// here; completed steps short-circuit via the step log so no committed side
// effect repeats.
func (o *Orchestrator) HandleTicketCreated(ctx context.Context, payload events.TicketCreatedPayload) error {
	ticketID, err := strconv.ParseInt(payload.TicketID, 10, 64)
	if err != nil {
		o.metrics.RecordRunFailed()
		o.logger.Error("triage run rejected: unparseable ticket id",
			zap.String("ticket_id", payload.TicketID),
			zap.Error(err))
		return Fatal(fmt.Errorf("parse ticket id %q: %w", payload.TicketID, err))
	}

	acquired, err := o.locks.Acquire(ctx, ticketID)
	if err != nil {
		return fmt.Errorf("acquire run lock: %w", err)
	}
	if !acquired {
		o.logger.Info("triage run already active; skipping event",
			zap.Int64("ticket_id", ticketID))
		return nil
	}
	defer func() {
		if err := o.locks.Release(context.WithoutCancel(ctx), ticketID); err != nil {
			o.logger.Warn("release run lock", zap.Int64("ticket_id", ticketID), zap.Error(err))
		}
	}()

	o.metrics.RecordRunStarted()
	if err := o.run(ctx, ticketID); err != nil {
		o.metrics.RecordRunFailed()
		if IsFatal(err) {
			o.logger.Error("triage run failed permanently",
				zap.Int64("ticket_id", ticketID),
				zap.Error(err))
		} else {
			o.logger.Error("triage run abandoned",
				zap.Int64("ticket_id", ticketID),
				zap.Error(err))
		}
		return err
	}

	o.metrics.RecordRunCompleted()
	o.logger.Info("triage run completed", zap.Int64("ticket_id", ticketID))
	return nil
}

func (o *Orchestrator) run(ctx context.Context, ticketID int64) error {
	var ticket domain.Ticket
	err := o.engine.Step(ctx, ticketID, stepFetchTicket, &ticket, func(ctx context.Context) (any, error) {
		found, err := o.tickets.GetByID(ctx, ticketID)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, Fatal(fmt.Errorf("ticket %d not found", ticketID))
		}
		if err != nil {
			return nil, err
		}
		return found, nil
	})
	if err != nil {
		return err
	}

	err = o.engine.Step(ctx, ticketID, stepMarkInTriage, nil, func(ctx context.Context) (any, error) {
		status := domain.TicketStatusTodo
		return nil, o.tickets.Update(ctx, ticketID, repository.TicketPatch{Status: &status})
	})
	if err != nil {
		return err
	}

	// The oracle call itself is never cached: a resumed run asks again, and
	// only the apply step's committed write is skipped.
	verdict := o.classify(ctx, ticket.Title, ticket.Description)

	var skills []string
	err = o.engine.Step(ctx, ticketID, stepApplyVerdict, &skills, func(ctx context.Context) (any, error) {
		status := domain.TicketStatusInProgress
		patch := repository.TicketPatch{Status: &status}
		collected := []string{}
		if verdict != nil {
			priority := verdict.Priority
			if !domain.ValidPriority(priority) {
				priority = domain.TicketPriorityMedium
			}
			notes := verdict.HelpfulNotes
			verdictSkills := verdict.RelatedSkills
			if verdictSkills == nil {
				verdictSkills = []string{}
			}
			patch.Priority = &priority
			patch.HelpfulNotes = &notes
			patch.RelatedSkills = &verdictSkills
			collected = verdictSkills
		}
		if err := o.tickets.Update(ctx, ticketID, patch); err != nil {
			return nil, err
		}
		return collected, nil
	})
	if err != nil {
		return err
	}

	var assigned *assignee
	err = o.engine.Step(ctx, ticketID, stepAssign, &assigned, func(ctx context.Context) (any, error) {
		user, err := o.resolver.Resolve(ctx, skills)
		if err != nil {
			return nil, err
		}
		var ref *assignee
		var userID *int64
		if user != nil {
			ref = &assignee{ID: user.ID, Email: user.Email}
			userID = &user.ID
		}
		if err := o.tickets.Update(ctx, ticketID, repository.TicketPatch{AssignedTo: &userID}); err != nil {
			return nil, err
		}
		if ref == nil {
			// Reportable but not fatal: the ticket stays unassigned.
			o.logger.Warn("no moderator or admin available for assignment",
				zap.Int64("ticket_id", ticketID),
				zap.Strings("skills", skills))
		}
		return ref, nil
	})
	if err != nil {
		return err
	}

	return o.engine.Step(ctx, ticketID, stepNotify, nil, func(ctx context.Context) (any, error) {
		if assigned == nil {
			return nil, nil
		}
		// Re-read so the notification carries the current title.
		current, err := o.tickets.GetByID(ctx, ticketID)
		if err != nil {
			return nil, err
		}
		subject := "Ticket Assigned"
		body := fmt.Sprintf("A new ticket is assigned to you: %s", current.Title)
		if err := o.mailer.Send(ctx, assigned.Email, subject, body); err != nil {
			// Best effort. The step still completes so a re-run does not
			// double-send.
			o.logger.Warn("notification delivery failed",
				zap.Int64("ticket_id", ticketID),
				zap.String("to", assigned.Email),
				zap.Error(err))
		}
		return nil, nil
	})
}

// classify calls the oracle with the engine's retry budget and timeout.
// Transport errors that survive the budget degrade to "no classification
// available" — the pipeline continues without enrichment.
func (o *Orchestrator) classify(ctx context.Context, title, description string) *oracle.Verdict {
	var lastErr error
	for attempt := 1; attempt <= o.engine.MaxAttempts(); attempt++ {
		if attempt > 1 {
			o.metrics.RecordStepRetry("classify")
		}
		callCtx, cancel := context.WithTimeout(ctx, o.engine.StepTimeout())
		verdict, err := o.oracle.Classify(callCtx, title, description)
		cancel()
		if err == nil {
			return verdict
		}
		lastErr = err
	}
	o.logger.Warn("classification unavailable", zap.Error(lastErr))
	return nil
}
