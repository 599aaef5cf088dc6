package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dockflow-io/be-doc-workflows/internal/apperrors"
)

// WorkflowInstanceRepository manages workflow instance records. Task creation
// belongs to the engine; this repository only persists instances.
type WorkflowInstanceRepository struct {
	q Querier
}

// NewWorkflowInstanceRepository creates a new WorkflowInstanceRepository.
func NewWorkflowInstanceRepository(q Querier) *WorkflowInstanceRepository {
	return &WorkflowInstanceRepository{q: q}
}

// WithQuerier returns a copy bound to another querier (typically a tx).
func (r *WorkflowInstanceRepository) WithQuerier(q Querier) *WorkflowInstanceRepository {
	return &WorkflowInstanceRepository{q: q}
}

// Create inserts a new instance.
func (r *WorkflowInstanceRepository) Create(ctx context.Context, inst *WorkflowInstance) error {
	query := `
		INSERT INTO workflow_instances
		    (id, template_id, document_id, company_id, status, initiated_by, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING started_at, created_at, updated_at
	`

	if inst.ID == uuid.Nil {
		inst.ID = uuid.New()
	}
	err := r.q.QueryRow(ctx, query,
		inst.ID,
		inst.TemplateID,
		inst.DocumentID,
		inst.CompanyID,
		inst.Status,
		inst.InitiatedBy,
	).Scan(&inst.StartedAt, &inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create workflow instance")
	}
	return nil
}

// GetByID retrieves an instance by its primary key.
func (r *WorkflowInstanceRepository) GetByID(ctx context.Context, id uuid.UUID) (*WorkflowInstance, error) {
	query := `
		SELECT id, template_id, document_id, company_id, status,
		       initiated_by, started_at, completed_at, created_at, updated_at
		FROM workflow_instances
		WHERE id = $1
	`

	inst, err := r.scanInstance(r.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("workflow_instance", id.String())
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get workflow instance")
	}
	return inst, nil
}

// GetActiveByDocumentID returns the running instance for a document, or nil
// when none is in progress.
func (r *WorkflowInstanceRepository) GetActiveByDocumentID(ctx context.Context, documentID uuid.UUID) (*WorkflowInstance, error) {
	query := `
		SELECT id, template_id, document_id, company_id, status,
		       initiated_by, started_at, completed_at, created_at, updated_at
		FROM workflow_instances
		WHERE document_id = $1 AND status = 'IN_PROGRESS'
		ORDER BY started_at DESC
		LIMIT 1
	`

	inst, err := r.scanInstance(r.q.QueryRow(ctx, query, documentID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get active workflow instance")
	}
	return inst, nil
}

// UpdateStatus sets the instance status and optionally stamps completed_at.
func (r *WorkflowInstanceRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status InstanceStatus, completedAt *time.Time) error {
	query := `
		UPDATE workflow_instances
		SET status       = $2,
		    completed_at = $3,
		    updated_at   = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID uuid.UUID
	err := r.q.QueryRow(ctx, query, id, status, completedAt).Scan(&returnedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NotFound("workflow_instance", id.String())
	}
	return err
}

type instanceScanner interface {
	Scan(dest ...any) error
}

func (r *WorkflowInstanceRepository) scanInstance(row instanceScanner) (*WorkflowInstance, error) {
	inst := &WorkflowInstance{}
	err := row.Scan(
		&inst.ID,
		&inst.TemplateID,
		&inst.DocumentID,
		&inst.CompanyID,
		&inst.Status,
		&inst.InitiatedBy,
		&inst.StartedAt,
		&inst.CompletedAt,
		&inst.CreatedAt,
		&inst.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return inst, nil
}
