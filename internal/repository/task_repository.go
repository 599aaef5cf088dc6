package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dockflow-io/be-doc-workflows/internal/apperrors"
)

// TaskRepository persists approval tasks. Status transitions are decided by
// the engine; this repository only reads and writes rows.
type TaskRepository struct {
	q Querier
}

// NewTaskRepository creates a new TaskRepository.
func NewTaskRepository(q Querier) *TaskRepository {
	return &TaskRepository{q: q}
}

// WithQuerier returns a copy bound to another querier (typically a tx).
func (r *TaskRepository) WithQuerier(q Querier) *TaskRepository {
	return &TaskRepository{q: q}
}

const taskColumns = `
	id, instance_id, step_order, required_role_name, required_role_level,
	action, status, assigned_to, assigned_by,
	completed_by, completed_at, comment, created_at, updated_at`

// Create inserts one task.
func (r *TaskRepository) Create(ctx context.Context, t *Task) error {
	query := `
		INSERT INTO workflow_tasks
		    (id, instance_id, step_order, required_role_name, required_role_level,
		     action, status, assigned_to, assigned_by, comment)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, updated_at
	`

	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	err := r.q.QueryRow(ctx, query,
		t.ID,
		t.InstanceID,
		t.StepOrder,
		t.RequiredRoleName,
		t.RequiredRoleLevel,
		t.Action,
		t.Status,
		t.AssignedTo,
		t.AssignedBy,
		t.Comment,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create task")
	}
	return nil
}

// GetByID retrieves a task by its primary key.
func (r *TaskRepository) GetByID(ctx context.Context, id uuid.UUID) (*Task, error) {
	query := `SELECT ` + taskColumns + ` FROM workflow_tasks WHERE id = $1`

	t, err := r.scanTask(r.q.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("task", id.String())
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get task")
	}
	return t, nil
}

// ListByInstance returns every task of an instance ordered by step.
func (r *TaskRepository) ListByInstance(ctx context.Context, instanceID uuid.UUID) ([]*Task, error) {
	query := `
		SELECT ` + taskColumns + `
		FROM workflow_tasks
		WHERE instance_id = $1
		ORDER BY step_order ASC, created_at ASC
	`

	rows, err := r.q.Query(ctx, query, instanceID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list tasks")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// ListPendingForCompany returns pending tasks within a company whose required
// level is at or below maxLevel (the acting user's resolved level).
func (r *TaskRepository) ListPendingForCompany(ctx context.Context, companyID uuid.UUID, maxLevel int) ([]*Task, error) {
	query := `
		SELECT t.id, t.instance_id, t.step_order, t.required_role_name, t.required_role_level,
		       t.action, t.status, t.assigned_to, t.assigned_by,
		       t.completed_by, t.completed_at, t.comment, t.created_at, t.updated_at
		FROM workflow_tasks t
		JOIN workflow_instances i ON i.id = t.instance_id
		WHERE i.company_id = $1
		  AND i.status = 'IN_PROGRESS'
		  AND t.status = 'PENDING'
		  AND t.required_role_level <= $2
		ORDER BY t.created_at ASC
	`

	rows, err := r.q.Query(ctx, query, companyID, maxLevel)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list pending tasks")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// Update persists status, completion metadata and comment.
func (r *TaskRepository) Update(ctx context.Context, t *Task) error {
	query := `
		UPDATE workflow_tasks
		SET status       = $2,
		    assigned_to  = $3,
		    completed_by = $4,
		    completed_at = $5,
		    comment      = $6,
		    updated_at   = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID uuid.UUID
	err := r.q.QueryRow(ctx, query,
		t.ID,
		t.Status,
		t.AssignedTo,
		t.CompletedBy,
		t.CompletedAt,
		t.Comment,
	).Scan(&returnedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NotFound("task", t.ID.String())
	}
	return err
}

// CompanyID returns the company scope a task belongs to, via its instance.
func (r *TaskRepository) CompanyID(ctx context.Context, taskID uuid.UUID) (uuid.UUID, error) {
	query := `
		SELECT i.company_id
		FROM workflow_tasks t
		JOIN workflow_instances i ON i.id = t.instance_id
		WHERE t.id = $1
	`

	var companyID uuid.UUID
	err := r.q.QueryRow(ctx, query, taskID).Scan(&companyID)
	if errors.Is(err, pgx.ErrNoRows) {
		return uuid.Nil, apperrors.NotFound("task", taskID.String())
	}
	return companyID, err
}

// ── scan helpers ──────────────────────────────────────────────────────────────

type taskScanner interface {
	Scan(dest ...any) error
}

func (r *TaskRepository) scanTask(row taskScanner) (*Task, error) {
	t := &Task{}
	err := row.Scan(
		&t.ID,
		&t.InstanceID,
		&t.StepOrder,
		&t.RequiredRoleName,
		&t.RequiredRoleLevel,
		&t.Action,
		&t.Status,
		&t.AssignedTo,
		&t.AssignedBy,
		&t.CompletedBy,
		&t.CompletedAt,
		&t.Comment,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

func (r *TaskRepository) scanRows(rows pgx.Rows) ([]*Task, error) {
	var tasks []*Task
	for rows.Next() {
		t, err := r.scanTask(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan task")
		}
		tasks = append(tasks, t)
	}
	return tasks, nil
}
