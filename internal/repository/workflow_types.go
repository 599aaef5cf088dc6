package repository

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ── Domain types for document approval workflows ─────────────────────────────

// InstanceStatus is the lifecycle state of a workflow instance.
// IN_PROGRESS is the only non-terminal state.
type InstanceStatus string

const (
	InstanceInProgress InstanceStatus = "IN_PROGRESS"
	InstanceCompleted  InstanceStatus = "COMPLETED"
	InstanceRejected   InstanceStatus = "REJECTED"
)

// TaskStatus is the lifecycle state of an approval task.
//
// WAITING tasks exist from initialization but belong to a step that has not
// been reached yet; activating a step moves its tasks to PENDING. APPROVED,
// REJECTED and CANCELLED are terminal for a given pass; a rollback resets
// target-step tasks back to PENDING, which starts a new pass.
type TaskStatus string

const (
	TaskWaiting   TaskStatus = "WAITING"
	TaskPending   TaskStatus = "PENDING"
	TaskApproved  TaskStatus = "APPROVED"
	TaskRejected  TaskStatus = "REJECTED"
	TaskCancelled TaskStatus = "CANCELLED"
)

// RoutingTrigger selects which task outcome a routing rule reacts to.
type RoutingTrigger string

const (
	TriggerOnApprove RoutingTrigger = "ON_APPROVE"
	TriggerOnReject  RoutingTrigger = "ON_REJECT"
	TriggerOnTimeout RoutingTrigger = "ON_TIMEOUT"
)

// Audit action vocabulary.
const (
	AuditWorkflowStarted    = "WORKFLOW_STARTED"
	AuditWorkflowCompleted  = "WORKFLOW_COMPLETED"
	AuditWorkflowRejected   = "WORKFLOW_REJECTED"
	AuditTaskCreated        = "TASK_CREATED"
	AuditTaskApproved       = "TASK_APPROVED"
	AuditTaskRejected       = "TASK_REJECTED"
	AuditTaskCancelled      = "TASK_CANCELLED"
	AuditStepActivated      = "STEP_ACTIVATED"
	AuditRoutingRuleApplied = "ROUTING_RULE_APPLIED"
)

// WorkflowTemplate stores one declarative approval definition (XML) per
// document kind within a company.
type WorkflowTemplate struct {
	ID            uuid.UUID
	CompanyID     uuid.UUID
	Name          string
	Description   *string
	DefinitionXML string
	IsActive      bool
	CreatedBy     uuid.UUID
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// WorkflowInstance is one activation of a template against one document.
type WorkflowInstance struct {
	ID          uuid.UUID
	TemplateID  uuid.UUID
	DocumentID  uuid.UUID
	CompanyID   uuid.UUID
	Status      InstanceStatus
	InitiatedBy uuid.UUID
	StartedAt   time.Time
	CompletedAt *time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Task is one approval unit for one step (or one member of a parallel step
// group) within an instance. Only the engine transitions task status.
type Task struct {
	ID                uuid.UUID
	InstanceID        uuid.UUID
	StepOrder         int
	RequiredRoleName  string
	RequiredRoleLevel int
	Action            string
	Status            TaskStatus
	AssignedTo        *uuid.UUID
	AssignedBy        uuid.UUID
	CompletedBy       *uuid.UUID
	CompletedAt       *time.Time
	Comment           *string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// RoutingRule decides the next step (or termination) when a step outcome
// occurs. TargetStep == nil means "terminate the workflow". At most one rule
// exists per (template, step, trigger); the table enforces uniqueness.
type RoutingRule struct {
	ID          uuid.UUID
	TemplateID  uuid.UUID
	StepOrder   int
	Trigger     RoutingTrigger
	TargetStep  *int
	Condition   *string
	Description *string
	CreatedAt   time.Time
}

// MetadataPair is one ordered key/value entry in an audit entry's metadata.
// Metadata is a side channel for the audit trail only; nothing reads it back
// to drive control flow.
type MetadataPair struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// AuditEntry is one immutable record of an engine-driven transition.
// The audit table permits INSERT and SELECT only.
type AuditEntry struct {
	ID          uuid.UUID
	InstanceID  uuid.UUID
	TaskID      *uuid.UUID
	ActionType  string
	Description string
	Metadata    []MetadataPair
	Actor       *uuid.UUID
	Origin      *string
	CreatedAt   time.Time
}

// Document is the read-only evaluation context a workflow runs against.
// Document CRUD, storage and versioning live in another service; this service
// reads the few fields routing conditions can reference.
type Document struct {
	ID           uuid.UUID
	CompanyID    uuid.UUID
	Title        string
	DocumentType string
	Priority     string
	Status       string
	Amount       *decimal.Decimal
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
