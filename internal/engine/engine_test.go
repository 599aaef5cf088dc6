package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dockflow-io/be-doc-workflows/internal/apperrors"
	"github.com/dockflow-io/be-doc-workflows/internal/parser"
	"github.com/dockflow-io/be-doc-workflows/internal/repository"
)

// ── in-memory collaborators ──────────────────────────────────────────────────

type ruleKey struct {
	stepOrder int
	trigger   repository.RoutingTrigger
}

type memStore struct {
	mu        sync.Mutex
	instances map[uuid.UUID]*repository.WorkflowInstance
	tasks     map[uuid.UUID]*repository.Task
	rules     map[ruleKey]*repository.RoutingRule
	docCtx    parser.DocumentContext
}

func newMemStore() *memStore {
	return &memStore{
		instances: make(map[uuid.UUID]*repository.WorkflowInstance),
		tasks:     make(map[uuid.UUID]*repository.Task),
		rules:     make(map[ruleKey]*repository.RoutingRule),
	}
}

func (s *memStore) InTransaction(ctx context.Context, fn func(Store) error) error {
	return fn(s)
}

func (s *memStore) GetInstance(ctx context.Context, id uuid.UUID) (*repository.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return nil, apperrors.NotFound("workflow_instance", id.String())
	}
	return inst, nil
}

func (s *memStore) UpdateInstanceStatus(ctx context.Context, id uuid.UUID, status repository.InstanceStatus, completedAt *time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inst, ok := s.instances[id]
	if !ok {
		return apperrors.NotFound("workflow_instance", id.String())
	}
	inst.Status = status
	inst.CompletedAt = completedAt
	return nil
}

func (s *memStore) GetTask(ctx context.Context, id uuid.UUID) (*repository.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, apperrors.NotFound("task", id.String())
	}
	return t, nil
}

func (s *memStore) ListTasks(ctx context.Context, instanceID uuid.UUID) ([]*repository.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*repository.Task
	for _, t := range s.tasks {
		if t.InstanceID == instanceID {
			out = append(out, t)
		}
	}
	return out, nil
}

func (s *memStore) CreateTask(ctx context.Context, task *repository.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = task
	return nil
}

func (s *memStore) UpdateTask(ctx context.Context, task *repository.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; !ok {
		return apperrors.NotFound("task", task.ID.String())
	}
	s.tasks[task.ID] = task
	return nil
}

func (s *memStore) FindRoutingRule(ctx context.Context, templateID uuid.UUID, stepOrder int, trigger repository.RoutingTrigger) (*repository.RoutingRule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rules[ruleKey{stepOrder, trigger}], nil
}

func (s *memStore) GetDocumentContext(ctx context.Context, documentID uuid.UUID) (parser.DocumentContext, error) {
	return s.docCtx, nil
}

type memAudit struct {
	mu      sync.Mutex
	entries []*repository.AuditEntry
}

func (a *memAudit) Append(ctx context.Context, entry *repository.AuditEntry) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.entries = append(a.entries, entry)
	return nil
}

func (a *memAudit) actions() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, 0, len(a.entries))
	for _, e := range a.entries {
		out = append(out, e.ActionType)
	}
	return out
}

type memRoles struct {
	levels map[uuid.UUID]int
}

func (r *memRoles) RoleLevel(ctx context.Context, actorID, companyID uuid.UUID) (int, error) {
	level, ok := r.levels[actorID]
	if !ok {
		return 0, apperrors.Unauthorized("actor has no membership in this company")
	}
	return level, nil
}

type memNotifier struct {
	mu     sync.Mutex
	events []Event
}

func (n *memNotifier) Notify(ctx context.Context, event Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
}

func (n *memNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.EventType)
	}
	return out
}

// ── fixture ──────────────────────────────────────────────────────────────────

type fixture struct {
	engine   *Engine
	store    *memStore
	audit    *memAudit
	notifier *memNotifier
	instance *repository.WorkflowInstance

	manager  uuid.UUID // level 60
	director uuid.UUID // level 80
	ceo      uuid.UUID // level 100
	clerk    uuid.UUID // level 10
}

func threeStepDefinition() *parser.WorkflowDefinition {
	return &parser.WorkflowDefinition{
		Steps: []parser.Step{
			{Order: 1, RoleName: "Manager", RoleLevel: 60, Action: "APPROVE"},
			{Order: 2, RoleName: "Director", RoleLevel: 80, Action: "APPROVE"},
			{Order: 3, RoleName: "CEO", RoleLevel: 100, Action: "APPROVE"},
		},
	}
}

func newFixture(t *testing.T, def *parser.WorkflowDefinition) *fixture {
	t.Helper()

	f := &fixture{
		store:    newMemStore(),
		audit:    &memAudit{},
		notifier: &memNotifier{},
		manager:  uuid.New(),
		director: uuid.New(),
		ceo:      uuid.New(),
		clerk:    uuid.New(),
	}

	roles := &memRoles{levels: map[uuid.UUID]int{
		f.manager:  60,
		f.director: 80,
		f.ceo:      100,
		f.clerk:    10,
	}}
	f.engine = New(f.store, roles, f.audit, f.notifier, zerolog.Nop())

	f.instance = &repository.WorkflowInstance{
		ID:          uuid.New(),
		TemplateID:  uuid.New(),
		DocumentID:  uuid.New(),
		CompanyID:   uuid.New(),
		Status:      repository.InstanceInProgress,
		InitiatedBy: f.manager,
	}
	f.store.instances[f.instance.ID] = f.instance

	require.NoError(t, f.engine.Initialize(context.Background(), f.instance, def))
	return f
}

func (f *fixture) addRule(trigger repository.RoutingTrigger, stepOrder int, targetStep *int, condition string) {
	rule := &repository.RoutingRule{
		ID:         uuid.New(),
		TemplateID: f.instance.TemplateID,
		StepOrder:  stepOrder,
		Trigger:    trigger,
		TargetStep: targetStep,
	}
	if condition != "" {
		rule.Condition = &condition
	}
	f.store.rules[ruleKey{stepOrder, trigger}] = rule
}

func (f *fixture) addRejectRule(stepOrder int, targetStep *int, condition string) {
	f.addRule(repository.TriggerOnReject, stepOrder, targetStep, condition)
}

func (f *fixture) addApproveRule(stepOrder int, targetStep *int, condition string) {
	f.addRule(repository.TriggerOnApprove, stepOrder, targetStep, condition)
}

func (f *fixture) taskAt(t *testing.T, stepOrder int) *repository.Task {
	t.Helper()
	var found *repository.Task
	for _, task := range f.store.tasks {
		if task.StepOrder == stepOrder {
			if found != nil {
				t.Fatalf("more than one task at step %d", stepOrder)
			}
			found = task
		}
	}
	require.NotNil(t, found, "no task at step %d", stepOrder)
	return found
}

func intPtr(v int) *int { return &v }

// ── initialization ───────────────────────────────────────────────────────────

func TestInitializeActivatesFirstStepOnly(t *testing.T) {
	f := newFixture(t, threeStepDefinition())

	assert.Equal(t, repository.TaskPending, f.taskAt(t, 1).Status)
	assert.Equal(t, repository.TaskWaiting, f.taskAt(t, 2).Status)
	assert.Equal(t, repository.TaskWaiting, f.taskAt(t, 3).Status)
	assert.Equal(t, repository.InstanceInProgress, f.instance.Status)

	actions := f.audit.actions()
	assert.Equal(t, repository.AuditWorkflowStarted, actions[0])
	assert.Equal(t, 3, countOf(actions, repository.AuditTaskCreated))
	assert.Equal(t, []string{"workflow_started"}, f.notifier.types())
}

func TestInitializeEmptyDefinitionFails(t *testing.T) {
	store := newMemStore()
	audit := &memAudit{}
	eng := New(store, &memRoles{}, audit, nil, zerolog.Nop())

	instance := &repository.WorkflowInstance{
		ID:     uuid.New(),
		Status: repository.InstanceInProgress,
	}
	store.instances[instance.ID] = instance

	err := eng.Initialize(context.Background(), instance, &parser.WorkflowDefinition{})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.CodeOf(err))
	assert.Equal(t, repository.InstanceRejected, instance.Status)
}

// ── approval path ────────────────────────────────────────────────────────────

func TestApproveActivatesNextStep(t *testing.T) {
	f := newFixture(t, threeStepDefinition())
	ctx := context.Background()

	task, err := f.engine.Approve(ctx, f.taskAt(t, 1).ID, f.manager, "looks good")
	require.NoError(t, err)

	assert.Equal(t, repository.TaskApproved, task.Status)
	require.NotNil(t, task.CompletedBy)
	assert.Equal(t, f.manager, *task.CompletedBy)
	require.NotNil(t, task.Comment)
	assert.Equal(t, "looks good", *task.Comment)

	assert.Equal(t, repository.TaskPending, f.taskAt(t, 2).Status)
	assert.Equal(t, repository.TaskWaiting, f.taskAt(t, 3).Status)
	assert.Equal(t, repository.InstanceInProgress, f.instance.Status)

	assert.Contains(t, f.audit.actions(), repository.AuditTaskApproved)
	assert.Contains(t, f.audit.actions(), repository.AuditStepActivated)
}

func TestApproveFinalStepCompletesWorkflow(t *testing.T) {
	f := newFixture(t, threeStepDefinition())
	ctx := context.Background()

	_, err := f.engine.Approve(ctx, f.taskAt(t, 1).ID, f.manager, "")
	require.NoError(t, err)
	_, err = f.engine.Approve(ctx, f.taskAt(t, 2).ID, f.director, "")
	require.NoError(t, err)
	_, err = f.engine.Approve(ctx, f.taskAt(t, 3).ID, f.ceo, "")
	require.NoError(t, err)

	assert.Equal(t, repository.InstanceCompleted, f.instance.Status)
	require.NotNil(t, f.instance.CompletedAt)
	assert.Contains(t, f.audit.actions(), repository.AuditWorkflowCompleted)
	assert.Contains(t, f.notifier.types(), "workflow_completed")
}

func TestApproveHigherLevelActorAllowed(t *testing.T) {
	f := newFixture(t, threeStepDefinition())

	// CEO (100) may act on the Manager (60) step.
	_, err := f.engine.Approve(context.Background(), f.taskAt(t, 1).ID, f.ceo, "")
	require.NoError(t, err)
	assert.Equal(t, repository.TaskApproved, f.taskAt(t, 1).Status)
}

func TestApproveInsufficientLevelRefused(t *testing.T) {
	f := newFixture(t, threeStepDefinition())

	_, err := f.engine.Approve(context.Background(), f.taskAt(t, 1).ID, f.clerk, "")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeUnauthorized, apperrors.CodeOf(err))
	assert.Equal(t, repository.TaskPending, f.taskAt(t, 1).Status)
}

func TestApproveTwiceIsConflict(t *testing.T) {
	f := newFixture(t, threeStepDefinition())
	ctx := context.Background()
	taskID := f.taskAt(t, 1).ID

	_, err := f.engine.Approve(ctx, taskID, f.manager, "")
	require.NoError(t, err)
	auditBefore := len(f.audit.actions())

	_, err = f.engine.Approve(ctx, taskID, f.manager, "")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeConflict, apperrors.CodeOf(err))
	assert.Equal(t, repository.TaskApproved, f.taskAt(t, 1).Status)
	assert.Len(t, f.audit.actions(), auditBefore, "a refused approval must not write audit entries")
}

func TestApproveWaitingTaskIsConflict(t *testing.T) {
	f := newFixture(t, threeStepDefinition())

	_, err := f.engine.Approve(context.Background(), f.taskAt(t, 2).ID, f.director, "")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeConflict, apperrors.CodeOf(err))
}

func TestApproveOnFinishedWorkflowIsConflict(t *testing.T) {
	f := newFixture(t, threeStepDefinition())
	f.instance.Status = repository.InstanceRejected

	_, err := f.engine.Approve(context.Background(), f.taskAt(t, 1).ID, f.manager, "")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeConflict, apperrors.CodeOf(err))
}

// ── rejection and routing ────────────────────────────────────────────────────

func TestRejectWithoutRuleTerminates(t *testing.T) {
	f := newFixture(t, threeStepDefinition())

	task, err := f.engine.Reject(context.Background(), f.taskAt(t, 1).ID, f.manager, "not acceptable")
	require.NoError(t, err)

	assert.Equal(t, repository.TaskRejected, task.Status)
	assert.Equal(t, repository.InstanceRejected, f.instance.Status)
	require.NotNil(t, f.instance.CompletedAt)
	assert.Contains(t, f.audit.actions(), repository.AuditWorkflowRejected)
	assert.Contains(t, f.notifier.types(), "workflow_rejected")
}

func TestRejectWithNullTargetTerminates(t *testing.T) {
	f := newFixture(t, threeStepDefinition())
	f.addRejectRule(1, nil, "")

	_, err := f.engine.Reject(context.Background(), f.taskAt(t, 1).ID, f.manager, "")
	require.NoError(t, err)
	assert.Equal(t, repository.InstanceRejected, f.instance.Status)
}

func TestRejectRollsBackToTargetStep(t *testing.T) {
	f := newFixture(t, threeStepDefinition())
	f.addRejectRule(2, intPtr(1), "")
	ctx := context.Background()

	_, err := f.engine.Approve(ctx, f.taskAt(t, 1).ID, f.manager, "")
	require.NoError(t, err)

	_, err = f.engine.Reject(ctx, f.taskAt(t, 2).ID, f.director, "needs changes")
	require.NoError(t, err)

	// Manager's task is pending again with a clean slate.
	step1 := f.taskAt(t, 1)
	assert.Equal(t, repository.TaskPending, step1.Status)
	assert.Nil(t, step1.CompletedBy)
	assert.Nil(t, step1.CompletedAt)
	assert.Nil(t, step1.Comment)

	// The rejecting task keeps its outcome; the step above is cancelled.
	step2 := f.taskAt(t, 2)
	assert.Equal(t, repository.TaskRejected, step2.Status)
	require.NotNil(t, step2.Comment)
	assert.Equal(t, "needs changes", *step2.Comment)
	assert.Equal(t, repository.TaskCancelled, f.taskAt(t, 3).Status)

	assert.Equal(t, repository.InstanceInProgress, f.instance.Status)
	assert.Contains(t, f.audit.actions(), repository.AuditTaskCancelled)
	assert.Contains(t, f.audit.actions(), repository.AuditRoutingRuleApplied)
}

func TestReapprovalAfterRollbackReactivatesRejectedStep(t *testing.T) {
	f := newFixture(t, threeStepDefinition())
	f.addRejectRule(2, intPtr(1), "")
	ctx := context.Background()

	_, err := f.engine.Approve(ctx, f.taskAt(t, 1).ID, f.manager, "")
	require.NoError(t, err)
	_, err = f.engine.Reject(ctx, f.taskAt(t, 2).ID, f.director, "")
	require.NoError(t, err)

	// Second pass through step 1 re-activates the director's step.
	_, err = f.engine.Approve(ctx, f.taskAt(t, 1).ID, f.manager, "")
	require.NoError(t, err)

	step2 := f.taskAt(t, 2)
	assert.Equal(t, repository.TaskPending, step2.Status)
	assert.Nil(t, step2.CompletedBy)
	assert.Nil(t, step2.Comment)

	// The full chain can now run to completion.
	_, err = f.engine.Approve(ctx, step2.ID, f.director, "")
	require.NoError(t, err)
	assert.Equal(t, repository.TaskPending, f.taskAt(t, 3).Status)
	_, err = f.engine.Approve(ctx, f.taskAt(t, 3).ID, f.ceo, "")
	require.NoError(t, err)
	assert.Equal(t, repository.InstanceCompleted, f.instance.Status)
}

func TestRejectConditionFalseTerminates(t *testing.T) {
	f := newFixture(t, threeStepDefinition())
	f.addRejectRule(1, intPtr(1), "isHighValue")
	amount := decimal.NewFromInt(100)
	f.store.docCtx = parser.DocumentContext{Amount: &amount}

	_, err := f.engine.Reject(context.Background(), f.taskAt(t, 1).ID, f.manager, "")
	require.NoError(t, err)
	assert.Equal(t, repository.InstanceRejected, f.instance.Status)
}

func TestRejectConditionTrueRollsBack(t *testing.T) {
	f := newFixture(t, threeStepDefinition())
	f.addRejectRule(2, intPtr(1), "isHighValue")
	amount := decimal.NewFromInt(60000)
	f.store.docCtx = parser.DocumentContext{Amount: &amount}
	ctx := context.Background()

	_, err := f.engine.Approve(ctx, f.taskAt(t, 1).ID, f.manager, "")
	require.NoError(t, err)
	_, err = f.engine.Reject(ctx, f.taskAt(t, 2).ID, f.director, "")
	require.NoError(t, err)

	assert.Equal(t, repository.InstanceInProgress, f.instance.Status)
	assert.Equal(t, repository.TaskPending, f.taskAt(t, 1).Status)
}

// ── approval routing ─────────────────────────────────────────────────────────

func TestApproveRoutingSkipsToTargetStep(t *testing.T) {
	f := newFixture(t, threeStepDefinition())
	f.addApproveRule(1, intPtr(3), "isLowValue")
	amount := decimal.NewFromInt(100)
	f.store.docCtx = parser.DocumentContext{Amount: &amount}
	ctx := context.Background()

	_, err := f.engine.Approve(ctx, f.taskAt(t, 1).ID, f.manager, "")
	require.NoError(t, err)

	// The director's step is passed over; the CEO step is active.
	assert.Equal(t, repository.TaskCancelled, f.taskAt(t, 2).Status)
	assert.Equal(t, repository.TaskPending, f.taskAt(t, 3).Status)
	assert.Equal(t, repository.InstanceInProgress, f.instance.Status)
	assert.Contains(t, f.audit.actions(), repository.AuditRoutingRuleApplied)
	assert.Contains(t, f.audit.actions(), repository.AuditTaskCancelled)

	_, err = f.engine.Approve(ctx, f.taskAt(t, 3).ID, f.ceo, "")
	require.NoError(t, err)
	assert.Equal(t, repository.InstanceCompleted, f.instance.Status)
}

func TestApproveRoutingConditionFalseAdvancesSequentially(t *testing.T) {
	f := newFixture(t, threeStepDefinition())
	f.addApproveRule(1, intPtr(3), "isLowValue")
	amount := decimal.NewFromInt(60000)
	f.store.docCtx = parser.DocumentContext{Amount: &amount}

	_, err := f.engine.Approve(context.Background(), f.taskAt(t, 1).ID, f.manager, "")
	require.NoError(t, err)

	assert.Equal(t, repository.TaskPending, f.taskAt(t, 2).Status)
	assert.Equal(t, repository.TaskWaiting, f.taskAt(t, 3).Status)
}

func TestApproveRoutingNullTargetCompletes(t *testing.T) {
	f := newFixture(t, threeStepDefinition())
	f.addApproveRule(1, nil, "")

	_, err := f.engine.Approve(context.Background(), f.taskAt(t, 1).ID, f.manager, "")
	require.NoError(t, err)

	assert.Equal(t, repository.InstanceCompleted, f.instance.Status)
	require.NotNil(t, f.instance.CompletedAt)
	assert.Contains(t, f.audit.actions(), repository.AuditWorkflowCompleted)
	assert.Contains(t, f.notifier.types(), "workflow_completed")
}

func TestApproveRoutingWaitsForWholeGroup(t *testing.T) {
	def := &parser.WorkflowDefinition{
		Steps: []parser.Step{
			{Order: 1, RoleName: "Lawyer", RoleLevel: 70, Action: "REVIEW", Parallel: true},
			{Order: 1, RoleName: "Accountant", RoleLevel: 65, Action: "REVIEW", Parallel: true},
			{Order: 2, RoleName: "Director", RoleLevel: 80, Action: "APPROVE"},
			{Order: 3, RoleName: "CEO", RoleLevel: 100, Action: "APPROVE"},
		},
	}
	f := newFixture(t, def)
	f.addApproveRule(1, intPtr(3), "")
	ctx := context.Background()

	var group []*repository.Task
	for _, task := range f.store.tasks {
		if task.StepOrder == 1 {
			group = append(group, task)
		}
	}
	require.Len(t, group, 2)

	// One member approving does not fire the rule yet.
	_, err := f.engine.Approve(ctx, group[0].ID, f.ceo, "")
	require.NoError(t, err)
	assert.Equal(t, repository.TaskWaiting, f.taskAt(t, 3).Status)

	_, err = f.engine.Approve(ctx, group[1].ID, f.ceo, "")
	require.NoError(t, err)
	assert.Equal(t, repository.TaskCancelled, f.taskAt(t, 2).Status)
	assert.Equal(t, repository.TaskPending, f.taskAt(t, 3).Status)
}

// ── parallel step groups ─────────────────────────────────────────────────────

func TestParallelGroupRequiresEveryApproval(t *testing.T) {
	def := &parser.WorkflowDefinition{
		Steps: []parser.Step{
			{Order: 1, RoleName: "Manager", RoleLevel: 60, Action: "APPROVE"},
			{Order: 2, RoleName: "Lawyer", RoleLevel: 70, Action: "REVIEW", Parallel: true},
			{Order: 2, RoleName: "Accountant", RoleLevel: 65, Action: "REVIEW", Parallel: true},
			{Order: 3, RoleName: "CEO", RoleLevel: 100, Action: "APPROVE"},
		},
	}
	f := newFixture(t, def)
	ctx := context.Background()

	_, err := f.engine.Approve(ctx, f.taskAt(t, 1).ID, f.manager, "")
	require.NoError(t, err)

	var group []*repository.Task
	for _, task := range f.store.tasks {
		if task.StepOrder == 2 {
			group = append(group, task)
		}
	}
	require.Len(t, group, 2)
	assert.Equal(t, repository.TaskPending, group[0].Status)
	assert.Equal(t, repository.TaskPending, group[1].Status)

	// One approval is not enough to advance.
	_, err = f.engine.Approve(ctx, group[0].ID, f.ceo, "")
	require.NoError(t, err)
	assert.Equal(t, repository.TaskWaiting, f.taskAt(t, 3).Status)

	_, err = f.engine.Approve(ctx, group[1].ID, f.ceo, "")
	require.NoError(t, err)
	assert.Equal(t, repository.TaskPending, f.taskAt(t, 3).Status)
}

// ── helpers ──────────────────────────────────────────────────────────────────

func countOf(values []string, want string) int {
	n := 0
	for _, v := range values {
		if v == want {
			n++
		}
	}
	return n
}

func TestMissingTaskIsNotFound(t *testing.T) {
	f := newFixture(t, threeStepDefinition())

	_, err := f.engine.Approve(context.Background(), uuid.New(), f.manager, "")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeNotFound, apperrors.CodeOf(err))
}

func TestUnknownActorRefused(t *testing.T) {
	f := newFixture(t, threeStepDefinition())

	_, err := f.engine.Reject(context.Background(), f.taskAt(t, 1).ID, uuid.New(), "")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeUnauthorized, apperrors.CodeOf(err))
}
