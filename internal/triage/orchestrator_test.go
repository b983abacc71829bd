package triage

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"testing"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/spec-kit/helpdesk-service/internal/domain"
	"github.com/spec-kit/helpdesk-service/internal/events"
	"github.com/spec-kit/helpdesk-service/internal/observability"
	"github.com/spec-kit/helpdesk-service/internal/oracle"
	"github.com/spec-kit/helpdesk-service/internal/repository"
)

type fakeTicketRepo struct {
	mu          sync.Mutex
	tickets     map[int64]*domain.Ticket
	nextID      int64
	updateCalls int
	failUpdates int
}

func newFakeTicketRepo() *fakeTicketRepo {
	return &fakeTicketRepo{tickets: make(map[int64]*domain.Ticket), nextID: 1}
}

func (r *fakeTicketRepo) Create(_ context.Context, ticket *domain.Ticket) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ticket.ID = r.nextID
	r.nextID++
	copied := *ticket
	r.tickets[copied.ID] = &copied
	return nil
}

func (r *fakeTicketRepo) GetByID(_ context.Context, id int64) (*domain.Ticket, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ticket, ok := r.tickets[id]
	if !ok {
		return nil, pgx.ErrNoRows
	}
	copied := *ticket
	return &copied, nil
}

func (r *fakeTicketRepo) Update(_ context.Context, id int64, patch repository.TicketPatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updateCalls++
	if r.failUpdates > 0 {
		r.failUpdates--
		return errors.New("store write contention")
	}
	ticket, ok := r.tickets[id]
	if !ok {
		return pgx.ErrNoRows
	}
	if patch.Status != nil {
		ticket.Status = *patch.Status
	}
	if patch.Priority != nil {
		ticket.Priority = *patch.Priority
	}
	if patch.HelpfulNotes != nil {
		notes := *patch.HelpfulNotes
		ticket.HelpfulNotes = &notes
	}
	if patch.RelatedSkills != nil {
		ticket.RelatedSkills = append([]string(nil), (*patch.RelatedSkills)...)
	}
	if patch.AssignedTo != nil {
		ticket.AssignedTo = *patch.AssignedTo
	}
	return nil
}

func (r *fakeTicketRepo) ListForRequester(_ context.Context, _ int64, _, _ int) ([]domain.Ticket, error) {
	return nil, nil
}

func (r *fakeTicketRepo) ListAll(_ context.Context, _, _ int) ([]domain.Ticket, error) {
	return nil, nil
}

func (r *fakeTicketRepo) updates() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.updateCalls
}

type fakeUserRepo struct {
	users []domain.User
}

func (r *fakeUserRepo) Create(_ context.Context, _ *domain.User) error  { return nil }
func (r *fakeUserRepo) GetByID(_ context.Context, _ int64) (*domain.User, error) {
	return nil, pgx.ErrNoRows
}
func (r *fakeUserRepo) GetByEmail(_ context.Context, _ string) (*domain.User, error) {
	return nil, pgx.ErrNoRows
}
func (r *fakeUserRepo) UpdateByEmail(_ context.Context, _ string, _ domain.UserRole, _ []string) error {
	return nil
}
func (r *fakeUserRepo) List(_ context.Context, _, _ int) ([]domain.User, error) {
	return r.users, nil
}

func (r *fakeUserRepo) FindModeratorsBySkills(_ context.Context, skills []string) ([]domain.User, error) {
	wanted := make(map[string]struct{}, len(skills))
	for _, skill := range skills {
		wanted[skill] = struct{}{}
	}
	var matched []domain.User
	for _, user := range r.users {
		if user.Role != domain.UserRoleModerator {
			continue
		}
		for _, skill := range user.Skills {
			if _, ok := wanted[skill]; ok {
				matched = append(matched, user)
				break
			}
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID < matched[j].ID })
	return matched, nil
}

func (r *fakeUserRepo) FindFirstAdmin(_ context.Context) (*domain.User, error) {
	var admin *domain.User
	for i := range r.users {
		if r.users[i].Role != domain.UserRoleAdmin {
			continue
		}
		if admin == nil || r.users[i].ID < admin.ID {
			admin = &r.users[i]
		}
	}
	if admin == nil {
		return nil, pgx.ErrNoRows
	}
	copied := *admin
	return &copied, nil
}

type sentMail struct {
	to, subject, body string
}

type fakeMailer struct {
	mu    sync.Mutex
	sends []sentMail
	fail  bool
}

func (m *fakeMailer) Send(_ context.Context, to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sends = append(m.sends, sentMail{to: to, subject: subject, body: body})
	if m.fail {
		return errors.New("smtp unreachable")
	}
	return nil
}

func (m *fakeMailer) sent() []sentMail {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]sentMail(nil), m.sends...)
}

type fakeOracle struct {
	mu      sync.Mutex
	verdict *oracle.Verdict
	err     error
	calls   int
}

func (o *fakeOracle) Classify(_ context.Context, _, _ string) (*oracle.Verdict, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.calls++
	return o.verdict, o.err
}

type testHarness struct {
	orchestrator *Orchestrator
	tickets      *fakeTicketRepo
	mailer       *fakeMailer
	locks        *MemoryRunLocker
}

func newHarness(classifier oracle.Classifier, users []domain.User, tickets *fakeTicketRepo) *testHarness {
	logger := zap.NewNop()
	metrics := observability.NewMetrics()
	engine := NewEngine(NewMemoryStepLog(), logger, metrics, 2, 0)
	mailer := &fakeMailer{}
	locks := NewMemoryRunLocker()
	orchestrator := NewOrchestrator(Dependencies{
		Engine:     engine,
		TicketRepo: tickets,
		UserRepo:   &fakeUserRepo{users: users},
		Oracle:     classifier,
		Mailer:     mailer,
		Locks:      locks,
		Logger:     logger,
		Metrics:    metrics,
	})
	return &testHarness{orchestrator: orchestrator, tickets: tickets, mailer: mailer, locks: locks}
}

func createTicket(t *testing.T, repo *fakeTicketRepo, title, description string) *domain.Ticket {
	t.Helper()
	ticket := &domain.Ticket{
		Title:         title,
		Description:   description,
		Status:        domain.TicketStatusTodo,
		Priority:      domain.TicketPriorityMedium,
		RelatedSkills: []string{},
		CreatedBy:     1,
	}
	if err := repo.Create(context.Background(), ticket); err != nil {
		t.Fatalf("create ticket: %v", err)
	}
	return ticket
}

func payloadFor(ticket *domain.Ticket) events.TicketCreatedPayload {
	return events.TicketCreatedPayload{
		TicketID:    strconv.FormatInt(ticket.ID, 10),
		Title:       ticket.Title,
		Description: ticket.Description,
		CreatedBy:   strconv.FormatInt(ticket.CreatedBy, 10),
	}
}

func TestRunAssignsSkillMatchedModerator(t *testing.T) {
	repo := newFakeTicketRepo()
	ticket := createTicket(t, repo, "Cannot log in", "Password reset loop never ends")

	users := []domain.User{
		{ID: 5, Email: "auth-mod@example.com", Role: domain.UserRoleModerator, Skills: []string{"Auth"}},
		{ID: 9, Email: "admin@example.com", Role: domain.UserRoleAdmin},
	}
	classifier := &fakeOracle{verdict: &oracle.Verdict{
		Summary:       "Login failure",
		Priority:      domain.TicketPriorityHigh,
		HelpfulNotes:  "Check the session store",
		RelatedSkills: []string{"Auth"},
	}}
	h := newHarness(classifier, users, repo)

	if err := h.orchestrator.HandleTicketCreated(context.Background(), payloadFor(ticket)); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	final, err := repo.GetByID(context.Background(), ticket.ID)
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}
	if final.Status != domain.TicketStatusInProgress {
		t.Fatalf("expected IN_PROGRESS, got %s", final.Status)
	}
	if final.Priority != domain.TicketPriorityHigh {
		t.Fatalf("expected high priority, got %s", final.Priority)
	}
	if final.AssignedTo == nil || *final.AssignedTo != 5 {
		t.Fatalf("expected assignment to moderator 5, got %v", final.AssignedTo)
	}
	if final.HelpfulNotes == nil || *final.HelpfulNotes != "Check the session store" {
		t.Fatalf("unexpected helpful notes: %v", final.HelpfulNotes)
	}

	sends := h.mailer.sent()
	if len(sends) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(sends))
	}
	if sends[0].to != "auth-mod@example.com" {
		t.Fatalf("notification sent to %s", sends[0].to)
	}
	if sends[0].subject != "Ticket Assigned" {
		t.Fatalf("unexpected subject %q", sends[0].subject)
	}
	if want := "A new ticket is assigned to you: Cannot log in"; sends[0].body != want {
		t.Fatalf("unexpected body %q", sends[0].body)
	}
}

func TestRunWithoutVerdictFallsBackToAdmin(t *testing.T) {
	repo := newFakeTicketRepo()
	ticket := createTicket(t, repo, "Broken export", "CSV export times out")

	users := []domain.User{
		{ID: 2, Email: "admin@example.com", Role: domain.UserRoleAdmin},
		{ID: 7, Email: "mod@example.com", Role: domain.UserRoleModerator, Skills: []string{"React"}},
	}
	// nil verdict with nil error: the oracle produced unparseable output.
	h := newHarness(&fakeOracle{}, users, repo)

	if err := h.orchestrator.HandleTicketCreated(context.Background(), payloadFor(ticket)); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	final, _ := repo.GetByID(context.Background(), ticket.ID)
	if final.Status != domain.TicketStatusInProgress {
		t.Fatalf("expected IN_PROGRESS, got %s", final.Status)
	}
	if final.Priority != domain.TicketPriorityMedium {
		t.Fatalf("expected default medium priority, got %s", final.Priority)
	}
	if len(final.RelatedSkills) != 0 {
		t.Fatalf("expected no skills, got %v", final.RelatedSkills)
	}
	if final.AssignedTo == nil || *final.AssignedTo != 2 {
		t.Fatalf("expected fallback to admin 2, got %v", final.AssignedTo)
	}
	if len(h.mailer.sent()) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(h.mailer.sent()))
	}
}

func TestRunWithNoStaffLeavesTicketUnassigned(t *testing.T) {
	repo := newFakeTicketRepo()
	ticket := createTicket(t, repo, "Dark mode glitch", "Buttons invisible at night")

	h := newHarness(&fakeOracle{}, nil, repo)

	if err := h.orchestrator.HandleTicketCreated(context.Background(), payloadFor(ticket)); err != nil {
		t.Fatalf("expected success, got %v", err)
	}

	final, _ := repo.GetByID(context.Background(), ticket.ID)
	if final.AssignedTo != nil {
		t.Fatalf("expected no assignee, got %v", *final.AssignedTo)
	}
	if final.Status != domain.TicketStatusInProgress {
		t.Fatalf("expected IN_PROGRESS, got %s", final.Status)
	}
	if len(h.mailer.sent()) != 0 {
		t.Fatalf("expected no notification, got %d", len(h.mailer.sent()))
	}
}

func TestRunCoercesUnknownPriorityToMedium(t *testing.T) {
	repo := newFakeTicketRepo()
	ticket := createTicket(t, repo, "Slow dashboard", "Graphs take a minute to load")

	classifier := &fakeOracle{verdict: &oracle.Verdict{
		Summary:       "Performance issue",
		Priority:      domain.TicketPriority("urgent"),
		RelatedSkills: []string{"SQL"},
	}}
	h := newHarness(classifier, nil, repo)

	if err := h.orchestrator.HandleTicketCreated(context.Background(), payloadFor(ticket)); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	final, _ := repo.GetByID(context.Background(), ticket.ID)
	if final.Priority != domain.TicketPriorityMedium {
		t.Fatalf("expected coercion to medium, got %s", final.Priority)
	}
	if len(final.RelatedSkills) != 1 || final.RelatedSkills[0] != "SQL" {
		t.Fatalf("skills should still apply, got %v", final.RelatedSkills)
	}
}

func TestRedeliveryDoesNotRepeatSideEffects(t *testing.T) {
	repo := newFakeTicketRepo()
	ticket := createTicket(t, repo, "Cannot log in", "Password rejected")

	users := []domain.User{
		{ID: 3, Email: "mod@example.com", Role: domain.UserRoleModerator, Skills: []string{"Auth"}},
	}
	classifier := &fakeOracle{verdict: &oracle.Verdict{
		Priority:      domain.TicketPriorityHigh,
		RelatedSkills: []string{"Auth"},
	}}
	h := newHarness(classifier, users, repo)

	payload := payloadFor(ticket)
	if err := h.orchestrator.HandleTicketCreated(context.Background(), payload); err != nil {
		t.Fatalf("first run failed: %v", err)
	}
	updatesAfterFirst := repo.updates()

	if err := h.orchestrator.HandleTicketCreated(context.Background(), payload); err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}

	if got := repo.updates(); got != updatesAfterFirst {
		t.Fatalf("redelivery re-committed store writes: %d -> %d", updatesAfterFirst, got)
	}
	if sends := h.mailer.sent(); len(sends) != 1 {
		t.Fatalf("expected exactly 1 notification across redeliveries, got %d", len(sends))
	}
}

func TestMissingTicketFailsPermanently(t *testing.T) {
	repo := newFakeTicketRepo()
	h := newHarness(&fakeOracle{}, nil, repo)

	err := h.orchestrator.HandleTicketCreated(context.Background(), events.TicketCreatedPayload{
		TicketID: "42",
	})
	if err == nil {
		t.Fatal("expected error for missing ticket")
	}
	if !IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
	if repo.updates() != 0 {
		t.Fatalf("fatal run mutated the store: %d updates", repo.updates())
	}
	if len(h.mailer.sent()) != 0 {
		t.Fatal("fatal run attempted a notification")
	}
}

func TestUnparseableTicketIDFailsPermanently(t *testing.T) {
	repo := newFakeTicketRepo()
	h := newHarness(&fakeOracle{}, nil, repo)

	err := h.orchestrator.HandleTicketCreated(context.Background(), events.TicketCreatedPayload{
		TicketID: "not-a-number",
	})
	if !IsFatal(err) {
		t.Fatalf("expected fatal error, got %v", err)
	}
}

func TestConcurrentDuplicateEventIsSkipped(t *testing.T) {
	repo := newFakeTicketRepo()
	ticket := createTicket(t, repo, "Locked out", "Too many attempts")

	h := newHarness(&fakeOracle{}, nil, repo)

	acquired, err := h.locks.Acquire(context.Background(), ticket.ID)
	if err != nil || !acquired {
		t.Fatalf("pre-acquire lock: acquired=%v err=%v", acquired, err)
	}

	if err := h.orchestrator.HandleTicketCreated(context.Background(), payloadFor(ticket)); err != nil {
		t.Fatalf("duplicate delivery should be skipped quietly, got %v", err)
	}
	if repo.updates() != 0 {
		t.Fatalf("skipped run mutated the store: %d updates", repo.updates())
	}
}

func TestTransientStoreFailureIsRetried(t *testing.T) {
	repo := newFakeTicketRepo()
	ticket := createTicket(t, repo, "Search broken", "No results for anything")
	repo.failUpdates = 1

	h := newHarness(&fakeOracle{}, nil, repo)

	if err := h.orchestrator.HandleTicketCreated(context.Background(), payloadFor(ticket)); err != nil {
		t.Fatalf("expected retry to recover, got %v", err)
	}

	final, _ := repo.GetByID(context.Background(), ticket.ID)
	if final.Status != domain.TicketStatusInProgress {
		t.Fatalf("expected IN_PROGRESS after retry, got %s", final.Status)
	}
}

func TestExhaustedRetriesAbandonRun(t *testing.T) {
	repo := newFakeTicketRepo()
	ticket := createTicket(t, repo, "Everything is down", "500 on every page")
	repo.failUpdates = 10

	h := newHarness(&fakeOracle{}, nil, repo)

	err := h.orchestrator.HandleTicketCreated(context.Background(), payloadFor(ticket))
	if err == nil {
		t.Fatal("expected abandoned run to report an error")
	}
	if IsFatal(err) {
		t.Fatalf("transient exhaustion must not be fatal: %v", err)
	}
	// No rollback: the ticket keeps whatever the last successful step wrote.
	final, _ := repo.GetByID(context.Background(), ticket.ID)
	if final.Status != domain.TicketStatusTodo {
		t.Fatalf("expected ticket left in TODO, got %s", final.Status)
	}
}

func TestOracleTransportErrorDegradesToUnavailable(t *testing.T) {
	repo := newFakeTicketRepo()
	ticket := createTicket(t, repo, "Upload fails", "413 on small files")

	users := []domain.User{{ID: 1, Email: "admin@example.com", Role: domain.UserRoleAdmin}}
	classifier := &fakeOracle{err: errors.New("oracle timeout")}
	h := newHarness(classifier, users, repo)

	if err := h.orchestrator.HandleTicketCreated(context.Background(), payloadFor(ticket)); err != nil {
		t.Fatalf("oracle failure must not fail the run, got %v", err)
	}

	if classifier.calls != 2 {
		t.Fatalf("expected oracle retried up to budget (2), got %d calls", classifier.calls)
	}
	final, _ := repo.GetByID(context.Background(), ticket.ID)
	if final.Priority != domain.TicketPriorityMedium {
		t.Fatalf("expected default priority, got %s", final.Priority)
	}
	if final.AssignedTo == nil || *final.AssignedTo != 1 {
		t.Fatalf("expected admin fallback, got %v", final.AssignedTo)
	}
}

func TestNotifierFailureIsSwallowed(t *testing.T) {
	repo := newFakeTicketRepo()
	ticket := createTicket(t, repo, "Billing question", "Charged twice")

	users := []domain.User{{ID: 1, Email: "admin@example.com", Role: domain.UserRoleAdmin}}
	h := newHarness(&fakeOracle{}, users, repo)
	h.mailer.fail = true

	if err := h.orchestrator.HandleTicketCreated(context.Background(), payloadFor(ticket)); err != nil {
		t.Fatalf("delivery failure must not fail the pipeline, got %v", err)
	}

	// The step completed despite the failure, so redelivery must not retry
	// the send.
	if err := h.orchestrator.HandleTicketCreated(context.Background(), payloadFor(ticket)); err != nil {
		t.Fatalf("redelivery failed: %v", err)
	}
	if sends := h.mailer.sent(); len(sends) != 1 {
		t.Fatalf("expected a single delivery attempt, got %d", len(sends))
	}
}
