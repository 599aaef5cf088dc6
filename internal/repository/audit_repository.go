package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dockflow-io/be-doc-workflows/internal/apperrors"
)

// AuditRepository appends and reads the immutable workflow audit log. The
// table permits INSERT and SELECT only (a trigger blocks UPDATE/DELETE), so
// Append is the single mutation exposed.
type AuditRepository struct {
	q Querier
}

// NewAuditRepository creates a new AuditRepository.
func NewAuditRepository(q Querier) *AuditRepository {
	return &AuditRepository{q: q}
}

// WithQuerier returns a copy bound to another querier (typically a tx).
func (r *AuditRepository) WithQuerier(q Querier) *AuditRepository {
	return &AuditRepository{q: q}
}

// Append inserts one audit entry.
func (r *AuditRepository) Append(ctx context.Context, entry *AuditEntry) error {
	var metadataJSON []byte
	if len(entry.Metadata) > 0 {
		var err error
		metadataJSON, err = json.Marshal(entry.Metadata)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to marshal audit metadata")
		}
	}

	query := `
		INSERT INTO workflow_audit_log
		    (id, instance_id, task_id, action_type, description, metadata, actor, origin)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`

	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	err := r.q.QueryRow(ctx, query,
		entry.ID,
		entry.InstanceID,
		entry.TaskID,
		entry.ActionType,
		entry.Description,
		metadataJSON,
		entry.Actor,
		entry.Origin,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to append audit entry")
	}
	return nil
}

// HistoryByInstance returns the full audit trail of an instance, oldest first.
func (r *AuditRepository) HistoryByInstance(ctx context.Context, instanceID uuid.UUID) ([]*AuditEntry, error) {
	query := `
		SELECT id, instance_id, task_id, action_type, description, metadata, actor, origin, created_at
		FROM workflow_audit_log
		WHERE instance_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.q.Query(ctx, query, instanceID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get audit history")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

// HistoryByTask returns the audit entries touching one task, oldest first.
func (r *AuditRepository) HistoryByTask(ctx context.Context, taskID uuid.UUID) ([]*AuditEntry, error) {
	query := `
		SELECT id, instance_id, task_id, action_type, description, metadata, actor, origin, created_at
		FROM workflow_audit_log
		WHERE task_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.q.Query(ctx, query, taskID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to get task audit history")
	}
	defer rows.Close()

	return r.scanRows(rows)
}

func (r *AuditRepository) scanRows(rows pgx.Rows) ([]*AuditEntry, error) {
	var entries []*AuditEntry
	for rows.Next() {
		entry := &AuditEntry{}
		var metadataJSON []byte
		err := rows.Scan(
			&entry.ID,
			&entry.InstanceID,
			&entry.TaskID,
			&entry.ActionType,
			&entry.Description,
			&metadataJSON,
			&entry.Actor,
			&entry.Origin,
			&entry.CreatedAt,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan audit entry")
		}
		if metadataJSON != nil {
			if err := json.Unmarshal(metadataJSON, &entry.Metadata); err != nil {
				return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to unmarshal audit metadata")
			}
		}
		entries = append(entries, entry)
	}
	return entries, nil
}
