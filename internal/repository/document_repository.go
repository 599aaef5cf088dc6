package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dockflow-io/be-doc-workflows/internal/apperrors"
	"github.com/dockflow-io/be-doc-workflows/internal/parser"
)

// DocumentRepository reads the document fields workflows evaluate against.
// Document ownership (upload, versioning, content) lives in another service.
type DocumentRepository struct {
	q Querier
}

// NewDocumentRepository creates a new DocumentRepository.
func NewDocumentRepository(q Querier) *DocumentRepository {
	return &DocumentRepository{q: q}
}

// WithQuerier returns a copy bound to another querier (typically a tx).
func (r *DocumentRepository) WithQuerier(q Querier) *DocumentRepository {
	return &DocumentRepository{q: q}
}

// GetByID retrieves a document by its primary key.
func (r *DocumentRepository) GetByID(ctx context.Context, id uuid.UUID) (*Document, error) {
	query := `
		SELECT id, company_id, title, document_type, priority, status, amount,
		       created_at, updated_at
		FROM documents
		WHERE id = $1
	`

	d := &Document{}
	err := r.q.QueryRow(ctx, query, id).Scan(
		&d.ID,
		&d.CompanyID,
		&d.Title,
		&d.DocumentType,
		&d.Priority,
		&d.Status,
		&d.Amount,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.NotFound("document", id.String())
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get document")
	}
	return d, nil
}

// GetContext loads the condition-evaluation context for a document.
func (r *DocumentRepository) GetContext(ctx context.Context, id uuid.UUID) (parser.DocumentContext, error) {
	d, err := r.GetByID(ctx, id)
	if err != nil {
		return parser.DocumentContext{}, err
	}
	return parser.DocumentContext{
		Amount:       d.Amount,
		DocumentType: d.DocumentType,
		Priority:     d.Priority,
		Status:       d.Status,
	}, nil
}
