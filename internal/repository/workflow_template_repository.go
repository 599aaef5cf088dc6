package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dockflow-io/be-doc-workflows/internal/apperrors"
)

// WorkflowTemplateRepository stores declarative workflow definitions.
type WorkflowTemplateRepository struct {
	q Querier
}

// NewWorkflowTemplateRepository creates a new WorkflowTemplateRepository.
func NewWorkflowTemplateRepository(q Querier) *WorkflowTemplateRepository {
	return &WorkflowTemplateRepository{q: q}
}

// WithQuerier returns a copy bound to another querier (typically a tx).
func (r *WorkflowTemplateRepository) WithQuerier(q Querier) *WorkflowTemplateRepository {
	return &WorkflowTemplateRepository{q: q}
}

// Create inserts a template. The definition XML is validated by the caller
// before it gets here.
func (r *WorkflowTemplateRepository) Create(ctx context.Context, t *WorkflowTemplate) error {
	query := `
		INSERT INTO workflow_templates
		    (id, company_id, name, description, definition_xml, is_active, created_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at
	`

	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	err := r.q.QueryRow(ctx, query,
		t.ID,
		t.CompanyID,
		t.Name,
		t.Description,
		t.DefinitionXML,
		t.IsActive,
		t.CreatedBy,
	).Scan(&t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create workflow template")
	}
	return nil
}

// GetByID retrieves a template by its primary key.
func (r *WorkflowTemplateRepository) GetByID(ctx context.Context, id uuid.UUID) (*WorkflowTemplate, error) {
	query := `
		SELECT id, company_id, name, description, definition_xml,
		       is_active, created_by, created_at, updated_at
		FROM workflow_templates
		WHERE id = $1
	`

	t := &WorkflowTemplate{}
	err := r.q.QueryRow(ctx, query, id).Scan(
		&t.ID,
		&t.CompanyID,
		&t.Name,
		&t.Description,
		&t.DefinitionXML,
		&t.IsActive,
		&t.CreatedBy,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("workflow_template", id.String())
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get workflow template")
	}
	return t, nil
}

// ListByCompany returns all active templates for a company.
func (r *WorkflowTemplateRepository) ListByCompany(ctx context.Context, companyID uuid.UUID) ([]*WorkflowTemplate, error) {
	query := `
		SELECT id, company_id, name, description, definition_xml,
		       is_active, created_by, created_at, updated_at
		FROM workflow_templates
		WHERE company_id = $1 AND is_active = TRUE
		ORDER BY created_at DESC
	`

	rows, err := r.q.Query(ctx, query, companyID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list workflow templates")
	}
	defer rows.Close()

	var templates []*WorkflowTemplate
	for rows.Next() {
		t := &WorkflowTemplate{}
		err := rows.Scan(
			&t.ID,
			&t.CompanyID,
			&t.Name,
			&t.Description,
			&t.DefinitionXML,
			&t.IsActive,
			&t.CreatedBy,
			&t.CreatedAt,
			&t.UpdatedAt,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan workflow template")
		}
		templates = append(templates, t)
	}
	return templates, nil
}

// UpdateDefinition replaces a template's definition XML.
func (r *WorkflowTemplateRepository) UpdateDefinition(ctx context.Context, id uuid.UUID, definitionXML string) error {
	query := `
		UPDATE workflow_templates
		SET definition_xml = $2,
		    updated_at     = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID uuid.UUID
	err := r.q.QueryRow(ctx, query, id, definitionXML).Scan(&returnedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NotFound("workflow_template", id.String())
	}
	return err
}

// Deactivate retires a template without deleting the history behind it.
func (r *WorkflowTemplateRepository) Deactivate(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE workflow_templates
		SET is_active  = FALSE,
		    updated_at = NOW()
		WHERE id = $1
		RETURNING id
	`

	var returnedID uuid.UUID
	err := r.q.QueryRow(ctx, query, id).Scan(&returnedID)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.NotFound("workflow_template", id.String())
	}
	return err
}
