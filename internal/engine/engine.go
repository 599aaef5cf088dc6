// Package engine implements the document approval workflow state machine.
//
// The engine is invoked synchronously; it owns every task and instance status
// transition. Persistence, role resolution, the audit sink and notifications
// are collaborators behind narrow interfaces.
package engine

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dockflow-io/be-doc-workflows/internal/apperrors"
	"github.com/dockflow-io/be-doc-workflows/internal/parser"
	"github.com/dockflow-io/be-doc-workflows/internal/repository"
)

// Store is the persistence contract the engine drives. InTransaction must
// hand fn a Store bound to one atomic unit of work; a rollback sequence
// commits together with the rejection that triggered it.
type Store interface {
	InTransaction(ctx context.Context, fn func(Store) error) error

	GetInstance(ctx context.Context, id uuid.UUID) (*repository.WorkflowInstance, error)
	UpdateInstanceStatus(ctx context.Context, id uuid.UUID, status repository.InstanceStatus, completedAt *time.Time) error

	GetTask(ctx context.Context, id uuid.UUID) (*repository.Task, error)
	ListTasks(ctx context.Context, instanceID uuid.UUID) ([]*repository.Task, error)
	CreateTask(ctx context.Context, task *repository.Task) error
	UpdateTask(ctx context.Context, task *repository.Task) error

	// FindRoutingRule returns nil (no error) when no rule exists for the key.
	FindRoutingRule(ctx context.Context, templateID uuid.UUID, stepOrder int, trigger repository.RoutingTrigger) (*repository.RoutingRule, error)

	GetDocumentContext(ctx context.Context, documentID uuid.UUID) (parser.DocumentContext, error)
}

// RoleResolver resolves an actor's role level within a company. Every
// authorization check goes through it.
type RoleResolver interface {
	RoleLevel(ctx context.Context, actorID, companyID uuid.UUID) (int, error)
}

// AuditSink appends immutable audit entries. Append failures are logged and
// swallowed: the audit trail is a best-effort side channel and must never
// roll back a committed transition.
type AuditSink interface {
	Append(ctx context.Context, entry *repository.AuditEntry) error
}

// Event is the post-commit notification payload.
type Event struct {
	EventType  string
	InstanceID uuid.UUID
	TaskID     *uuid.UUID
	ActorID    uuid.UUID
}

// Notifier is the fire-and-forget notification hook, invoked after a
// transition commits. Failures are the notifier's problem, never the caller's.
type Notifier interface {
	Notify(ctx context.Context, event Event)
}

// Engine drives workflow instances through their approval steps.
type Engine struct {
	store    Store
	roles    RoleResolver
	audit    AuditSink
	notifier Notifier
	log      zerolog.Logger
	now      func() time.Time
}

// New creates an Engine. notifier may be nil.
func New(store Store, roles RoleResolver, audit AuditSink, notifier Notifier, log zerolog.Logger) *Engine {
	return &Engine{
		store:    store,
		roles:    roles,
		audit:    audit,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// ── Initialization ───────────────────────────────────────────────────────────

// Initialize creates the task set for a freshly created instance: one task
// per step declaration, grouped by order. The first group starts PENDING,
// later groups start WAITING and are activated as the workflow advances.
//
// On failure the instance is marked REJECTED and any tasks already created
// remain as a historical record; partial creation is documented behavior,
// not unwound.
func (e *Engine) Initialize(ctx context.Context, instance *repository.WorkflowInstance, def *parser.WorkflowDefinition) error {
	e.log.Info().
		Stringer("instance_id", instance.ID).
		Stringer("document_id", instance.DocumentID).
		Msg("initializing workflow")

	if def == nil || len(def.Steps) == 0 {
		e.failInitialization(ctx, instance)
		return apperrors.New(apperrors.ErrCodeValidation, "workflow definition has no steps")
	}

	orders := def.StepGroups()
	firstOrder := orders[0]

	var entries []*repository.AuditEntry
	entries = append(entries, &repository.AuditEntry{
		InstanceID:  instance.ID,
		ActionType:  repository.AuditWorkflowStarted,
		Description: fmt.Sprintf("Workflow initiated for document %s", instance.DocumentID),
		Actor:       &instance.InitiatedBy,
		Metadata: []repository.MetadataPair{
			{Key: "documentId", Value: instance.DocumentID.String()},
		},
	})

	for _, order := range orders {
		status := repository.TaskWaiting
		if order == firstOrder {
			status = repository.TaskPending
		}
		for _, step := range def.StepsAt(order) {
			task := &repository.Task{
				ID:                uuid.New(),
				InstanceID:        instance.ID,
				StepOrder:         step.Order,
				RequiredRoleName:  step.RoleName,
				RequiredRoleLevel: step.RoleLevel,
				Action:            step.Action,
				Status:            status,
				AssignedBy:        instance.InitiatedBy,
			}
			if err := e.store.CreateTask(ctx, task); err != nil {
				e.failInitialization(ctx, instance)
				return apperrors.Wrap(err, apperrors.ErrCodeValidation,
					fmt.Sprintf("failed to create task for step %d", step.Order))
			}
			entries = append(entries, &repository.AuditEntry{
				InstanceID:  instance.ID,
				TaskID:      &task.ID,
				ActionType:  repository.AuditTaskCreated,
				Description: fmt.Sprintf("Task created for step %d", step.Order),
				Metadata: []repository.MetadataPair{
					{Key: "stepOrder", Value: fmt.Sprint(step.Order)},
					{Key: "roleName", Value: step.RoleName},
					{Key: "roleLevel", Value: fmt.Sprint(step.RoleLevel)},
				},
			})
		}
	}

	instance.Status = repository.InstanceInProgress
	if err := e.store.UpdateInstanceStatus(ctx, instance.ID, repository.InstanceInProgress, nil); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to mark instance in progress")
	}

	e.appendAudit(ctx, entries...)
	e.notify(ctx, Event{EventType: "workflow_started", InstanceID: instance.ID, ActorID: instance.InitiatedBy})

	e.log.Info().
		Stringer("instance_id", instance.ID).
		Int("steps", len(orders)).
		Int("tasks", len(def.Steps)).
		Msg("workflow initialized")
	return nil
}

func (e *Engine) failInitialization(ctx context.Context, instance *repository.WorkflowInstance) {
	now := e.now()
	instance.Status = repository.InstanceRejected
	if err := e.store.UpdateInstanceStatus(ctx, instance.ID, repository.InstanceRejected, &now); err != nil {
		e.log.Error().Err(err).Stringer("instance_id", instance.ID).
			Msg("failed to mark instance rejected after initialization failure")
	}
}

// ── Approve / Reject ─────────────────────────────────────────────────────────

// Approve marks a pending task approved and advances the instance, applying
// any ON_APPROVE routing for the completed step. The actor must resolve to a
// role level at or above the task's requirement.
func (e *Engine) Approve(ctx context.Context, taskID, actorID uuid.UUID, comment string) (*repository.Task, error) {
	task, instance, err := e.resolve(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := e.Authorize(ctx, instance, task, actorID); err != nil {
		return nil, err
	}
	if err := requirePending(task, "approve"); err != nil {
		return nil, err
	}

	docCtx, err := e.store.GetDocumentContext(ctx, instance.DocumentID)
	if err != nil {
		// Conditions fail closed against an empty context.
		e.log.Warn().Err(err).Stringer("document_id", instance.DocumentID).
			Msg("could not load document context for routing conditions")
		docCtx = parser.DocumentContext{}
	}

	var entries []*repository.AuditEntry
	var events []Event
	now := e.now()

	err = e.store.InTransaction(ctx, func(s Store) error {
		task.Status = repository.TaskApproved
		task.CompletedBy = &actorID
		task.CompletedAt = &now
		task.Comment = optional(comment)
		if err := s.UpdateTask(ctx, task); err != nil {
			return err
		}

		entries = append(entries, taskEntry(task, repository.AuditTaskApproved,
			fmt.Sprintf("Task approved at step %d", task.StepOrder), &actorID, comment))
		events = append(events, Event{
			EventType: "task_approved", InstanceID: instance.ID, TaskID: &task.ID, ActorID: actorID,
		})

		return e.advance(ctx, s, instance, actorID, task.StepOrder, docCtx, &entries, &events)
	})
	if err != nil {
		return nil, err
	}

	e.appendAudit(ctx, entries...)
	for _, ev := range events {
		e.notify(ctx, ev)
	}
	return task, nil
}

// Reject marks a pending task rejected and applies ON_REJECT routing: roll
// back to the rule's target step, or terminate the instance when no rule
// matches (conservative default) or the rule has no target.
//
// The rollback commits atomically with the rejection.
func (e *Engine) Reject(ctx context.Context, taskID, actorID uuid.UUID, comment string) (*repository.Task, error) {
	task, instance, err := e.resolve(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if err := e.Authorize(ctx, instance, task, actorID); err != nil {
		return nil, err
	}
	if err := requirePending(task, "reject"); err != nil {
		return nil, err
	}

	docCtx, err := e.store.GetDocumentContext(ctx, instance.DocumentID)
	if err != nil {
		// Conditions fail closed against an empty context.
		e.log.Warn().Err(err).Stringer("document_id", instance.DocumentID).
			Msg("could not load document context for routing conditions")
		docCtx = parser.DocumentContext{}
	}

	var entries []*repository.AuditEntry
	var events []Event
	now := e.now()

	err = e.store.InTransaction(ctx, func(s Store) error {
		task.Status = repository.TaskRejected
		task.CompletedBy = &actorID
		task.CompletedAt = &now
		task.Comment = optional(comment)
		if err := s.UpdateTask(ctx, task); err != nil {
			return err
		}

		entries = append(entries, taskEntry(task, repository.AuditTaskRejected,
			fmt.Sprintf("Task rejected at step %d", task.StepOrder), &actorID, comment))
		events = append(events, Event{
			EventType: "task_rejected", InstanceID: instance.ID, TaskID: &task.ID, ActorID: actorID,
		})

		rule, err := s.FindRoutingRule(ctx, instance.TemplateID, task.StepOrder, repository.TriggerOnReject)
		if err != nil {
			return err
		}

		matched := rule != nil
		if matched && rule.Condition != nil {
			matched = parser.EvaluateCondition(*rule.Condition, docCtx)
		}

		if !matched || rule.TargetStep == nil {
			return e.terminateRejected(ctx, s, instance, actorID, comment, &entries, &events)
		}
		return e.rollback(ctx, s, instance, task.StepOrder, *rule.TargetStep, &entries)
	})
	if err != nil {
		return nil, err
	}

	e.appendAudit(ctx, entries...)
	for _, ev := range events {
		e.notify(ctx, ev)
	}
	return task, nil
}

// Authorize is the explicit guard run before any mutation: the actor's role
// level within the instance's company must meet the task's requirement, and
// the instance must still be running.
func (e *Engine) Authorize(ctx context.Context, instance *repository.WorkflowInstance, task *repository.Task, actorID uuid.UUID) error {
	if instance.Status != repository.InstanceInProgress {
		return apperrors.Newf(apperrors.ErrCodeConflict,
			"workflow is not in progress (status: %s)", instance.Status)
	}

	level, err := e.roles.RoleLevel(ctx, actorID, instance.CompanyID)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeUnauthorized, "could not resolve actor role level")
	}
	if level < task.RequiredRoleLevel {
		return apperrors.Newf(apperrors.ErrCodeUnauthorized,
			"insufficient permissions: role level %d is below required level %d",
			level, task.RequiredRoleLevel)
	}
	return nil
}

// ── Internal transitions ─────────────────────────────────────────────────────

// advance inspects the task set after an approval. While the current step
// group still has pending tasks it does nothing. Once the group is fully
// approved, a matching ON_APPROVE rule for the completed step redirects the
// workflow: to its target step, or straight to completion when the rule has
// no target. Without a matching rule the next sequential group is activated
// (WAITING, or CANCELLED/REJECTED after a rollback, back to PENDING); with no
// group left the instance completes.
func (e *Engine) advance(ctx context.Context, s Store, instance *repository.WorkflowInstance, actorID uuid.UUID, completedStep int, docCtx parser.DocumentContext, entries *[]*repository.AuditEntry, events *[]Event) error {
	tasks, err := s.ListTasks(ctx, instance.ID)
	if err != nil {
		return err
	}

	for _, t := range tasks {
		if t.Status == repository.TaskPending {
			// Current step group not finished yet.
			return nil
		}
	}

	rule, err := s.FindRoutingRule(ctx, instance.TemplateID, completedStep, repository.TriggerOnApprove)
	if err != nil {
		return err
	}
	if rule != nil && (rule.Condition == nil || parser.EvaluateCondition(*rule.Condition, docCtx)) {
		if rule.TargetStep == nil {
			return e.completeInstance(ctx, s, instance, actorID, entries, events)
		}
		return e.skipTo(ctx, s, instance, tasks, actorID, completedStep, *rule.TargetStep, entries, events)
	}

	maxApproved := 0
	for _, t := range tasks {
		if t.Status == repository.TaskApproved && t.StepOrder > maxApproved {
			maxApproved = t.StepOrder
		}
	}

	next := nextActivatableOrder(tasks, maxApproved)
	if next == 0 {
		return e.completeInstance(ctx, s, instance, actorID, entries, events)
	}

	if err := e.activateStep(ctx, s, tasks, next); err != nil {
		return err
	}
	*entries = append(*entries, &repository.AuditEntry{
		InstanceID:  instance.ID,
		ActionType:  repository.AuditStepActivated,
		Description: fmt.Sprintf("Step %d activated", next),
		Metadata: []repository.MetadataPair{
			{Key: "stepOrder", Value: fmt.Sprint(next)},
		},
	})
	*events = append(*events, Event{
		EventType: "task_created", InstanceID: instance.ID, ActorID: actorID,
	})
	return nil
}

func (e *Engine) completeInstance(ctx context.Context, s Store, instance *repository.WorkflowInstance, actorID uuid.UUID, entries *[]*repository.AuditEntry, events *[]Event) error {
	now := e.now()
	instance.Status = repository.InstanceCompleted
	instance.CompletedAt = &now
	if err := s.UpdateInstanceStatus(ctx, instance.ID, repository.InstanceCompleted, &now); err != nil {
		return err
	}
	*entries = append(*entries, &repository.AuditEntry{
		InstanceID:  instance.ID,
		ActionType:  repository.AuditWorkflowCompleted,
		Description: "Workflow completed successfully",
	})
	*events = append(*events, Event{
		EventType: "workflow_completed", InstanceID: instance.ID, ActorID: actorID,
	})
	e.log.Info().Stringer("instance_id", instance.ID).Msg("workflow completed")
	return nil
}

// skipTo applies an ON_APPROVE routing rule: tasks at the target step are
// reset to PENDING with completion metadata cleared, and live tasks the jump
// passes over are cancelled. A backward target re-opens its group the same
// way a rollback does.
func (e *Engine) skipTo(ctx context.Context, s Store, instance *repository.WorkflowInstance, tasks []*repository.Task, actorID uuid.UUID, fromStep, targetStep int, entries *[]*repository.AuditEntry, events *[]Event) error {
	e.log.Info().
		Stringer("instance_id", instance.ID).
		Int("from_step", fromStep).
		Int("target_step", targetStep).
		Msg("routing workflow after approval")

	for _, t := range tasks {
		switch {
		case t.StepOrder == targetStep:
			t.Status = repository.TaskPending
			t.CompletedBy = nil
			t.CompletedAt = nil
			t.Comment = nil
			if err := s.UpdateTask(ctx, t); err != nil {
				return err
			}
		case t.StepOrder > fromStep && t.StepOrder < targetStep && isLive(t.Status):
			t.Status = repository.TaskCancelled
			if err := s.UpdateTask(ctx, t); err != nil {
				return err
			}
			*entries = append(*entries, taskEntry(t, repository.AuditTaskCancelled,
				fmt.Sprintf("Task cancelled - workflow skipped to step %d", targetStep), nil, ""))
		}
	}

	*entries = append(*entries, &repository.AuditEntry{
		InstanceID:  instance.ID,
		ActionType:  repository.AuditRoutingRuleApplied,
		Description: fmt.Sprintf("Workflow advanced from step %d to step %d", fromStep, targetStep),
		Metadata: []repository.MetadataPair{
			{Key: "fromStep", Value: fmt.Sprint(fromStep)},
			{Key: "toStep", Value: fmt.Sprint(targetStep)},
		},
	})
	*entries = append(*entries, &repository.AuditEntry{
		InstanceID:  instance.ID,
		ActionType:  repository.AuditStepActivated,
		Description: fmt.Sprintf("Step %d activated", targetStep),
		Metadata: []repository.MetadataPair{
			{Key: "stepOrder", Value: fmt.Sprint(targetStep)},
		},
	})
	*events = append(*events, Event{
		EventType: "task_created", InstanceID: instance.ID, ActorID: actorID,
	})
	return nil
}

// nextActivatableOrder finds the smallest step order above maxApproved that
// still has unapproved tasks. Zero means no further step exists.
func nextActivatableOrder(tasks []*repository.Task, maxApproved int) int {
	var orders []int
	seen := make(map[int]struct{})
	for _, t := range tasks {
		if t.StepOrder <= maxApproved || t.Status == repository.TaskApproved {
			continue
		}
		if _, ok := seen[t.StepOrder]; !ok {
			seen[t.StepOrder] = struct{}{}
			orders = append(orders, t.StepOrder)
		}
	}
	if len(orders) == 0 {
		return 0
	}
	sort.Ints(orders)
	return orders[0]
}

// activateStep resets every unapproved task at the given order to PENDING,
// clearing completion metadata from any earlier pass.
func (e *Engine) activateStep(ctx context.Context, s Store, tasks []*repository.Task, order int) error {
	for _, t := range tasks {
		if t.StepOrder != order || t.Status == repository.TaskApproved {
			continue
		}
		t.Status = repository.TaskPending
		t.CompletedBy = nil
		t.CompletedAt = nil
		t.Comment = nil
		if err := s.UpdateTask(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

// rollback returns the instance to targetStep after a rejection: tasks at
// the target step are reset to PENDING with completion metadata cleared,
// and every live task above the target is cancelled. A rejected task above
// the target keeps its REJECTED status as part of the history; a rejected
// task at the target is reset with the rest of its group. The instance stays
// IN_PROGRESS.
func (e *Engine) rollback(ctx context.Context, s Store, instance *repository.WorkflowInstance, fromStep, targetStep int, entries *[]*repository.AuditEntry) error {
	e.log.Info().
		Stringer("instance_id", instance.ID).
		Int("from_step", fromStep).
		Int("target_step", targetStep).
		Msg("returning workflow to earlier step")

	tasks, err := s.ListTasks(ctx, instance.ID)
	if err != nil {
		return err
	}

	for _, t := range tasks {
		switch {
		case t.StepOrder == targetStep:
			t.Status = repository.TaskPending
			t.CompletedBy = nil
			t.CompletedAt = nil
			t.Comment = nil
			if err := s.UpdateTask(ctx, t); err != nil {
				return err
			}
		case t.StepOrder > targetStep && isLive(t.Status):
			t.Status = repository.TaskCancelled
			if err := s.UpdateTask(ctx, t); err != nil {
				return err
			}
			*entries = append(*entries, taskEntry(t, repository.AuditTaskCancelled,
				fmt.Sprintf("Task cancelled - workflow returned to step %d", targetStep), nil, ""))
		}
	}

	*entries = append(*entries, &repository.AuditEntry{
		InstanceID:  instance.ID,
		ActionType:  repository.AuditRoutingRuleApplied,
		Description: fmt.Sprintf("Workflow returned from step %d to step %d", fromStep, targetStep),
		Metadata: []repository.MetadataPair{
			{Key: "fromStep", Value: fmt.Sprint(fromStep)},
			{Key: "toStep", Value: fmt.Sprint(targetStep)},
		},
	})
	return nil
}

// isLive reports whether a task still occupies its step (and so must be
// cancelled by a rollback). Terminal tasks keep their history.
func isLive(status repository.TaskStatus) bool {
	return status == repository.TaskWaiting ||
		status == repository.TaskPending ||
		status == repository.TaskApproved
}

func (e *Engine) terminateRejected(ctx context.Context, s Store, instance *repository.WorkflowInstance, actorID uuid.UUID, comment string, entries *[]*repository.AuditEntry, events *[]Event) error {
	now := e.now()
	instance.Status = repository.InstanceRejected
	instance.CompletedAt = &now
	if err := s.UpdateInstanceStatus(ctx, instance.ID, repository.InstanceRejected, &now); err != nil {
		return err
	}

	desc := "Workflow rejected"
	if comment != "" {
		desc = "Workflow rejected - " + comment
	}
	*entries = append(*entries, &repository.AuditEntry{
		InstanceID:  instance.ID,
		ActionType:  repository.AuditWorkflowRejected,
		Description: desc,
		Actor:       &actorID,
	})
	*events = append(*events, Event{
		EventType: "workflow_rejected", InstanceID: instance.ID, ActorID: actorID,
	})
	e.log.Info().Stringer("instance_id", instance.ID).Msg("workflow rejected")
	return nil
}

// ── Helpers ──────────────────────────────────────────────────────────────────

func (e *Engine) resolve(ctx context.Context, taskID uuid.UUID) (*repository.Task, *repository.WorkflowInstance, error) {
	task, err := e.store.GetTask(ctx, taskID)
	if err != nil {
		return nil, nil, err
	}
	instance, err := e.store.GetInstance(ctx, task.InstanceID)
	if err != nil {
		return nil, nil, err
	}
	return task, instance, nil
}

func requirePending(task *repository.Task, action string) error {
	if task.Status != repository.TaskPending {
		return apperrors.Newf(apperrors.ErrCodeConflict,
			"cannot %s task %s: status is %s", action, task.ID, task.Status)
	}
	return nil
}

// appendAudit flushes buffered entries after the transition committed.
// Failures are logged, never propagated.
func (e *Engine) appendAudit(ctx context.Context, entries ...*repository.AuditEntry) {
	for _, entry := range entries {
		if err := e.audit.Append(ctx, entry); err != nil {
			e.log.Error().Err(err).
				Stringer("instance_id", entry.InstanceID).
				Str("action_type", entry.ActionType).
				Msg("failed to append audit entry")
		}
	}
}

func (e *Engine) notify(ctx context.Context, event Event) {
	if e.notifier == nil {
		return
	}
	e.notifier.Notify(ctx, event)
}

func taskEntry(task *repository.Task, actionType, description string, actor *uuid.UUID, comment string) *repository.AuditEntry {
	metadata := []repository.MetadataPair{
		{Key: "stepOrder", Value: fmt.Sprint(task.StepOrder)},
		{Key: "roleLevel", Value: fmt.Sprint(task.RequiredRoleLevel)},
	}
	if comment != "" {
		metadata = append(metadata, repository.MetadataPair{Key: "comment", Value: comment})
	}
	return &repository.AuditEntry{
		InstanceID:  task.InstanceID,
		TaskID:      &task.ID,
		ActionType:  actionType,
		Description: description,
		Metadata:    metadata,
		Actor:       actor,
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
