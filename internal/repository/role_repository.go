package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dockflow-io/be-doc-workflows/internal/apperrors"
)

// RoleRepository resolves a user's role level within a company from the
// membership tables owned by the identity subsystem. It backs every
// authorization check the engine performs.
type RoleRepository struct {
	q Querier
}

// NewRoleRepository creates a new RoleRepository.
func NewRoleRepository(q Querier) *RoleRepository {
	return &RoleRepository{q: q}
}

// WithQuerier returns a copy bound to another querier (typically a tx).
func (r *RoleRepository) WithQuerier(q Querier) *RoleRepository {
	return &RoleRepository{q: q}
}

// RoleLevel returns the actor's role level in the company. An actor without
// a membership resolves to an unauthorized error, not level zero.
func (r *RoleRepository) RoleLevel(ctx context.Context, actorID, companyID uuid.UUID) (int, error) {
	query := `
		SELECT cr.level
		FROM memberships m
		JOIN company_roles cr ON cr.id = m.role_id
		WHERE m.user_id = $1 AND m.company_id = $2
	`

	var level int
	err := r.q.QueryRow(ctx, query, actorID, companyID).Scan(&level)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, apperrors.Unauthorized("actor has no membership in this company")
	}
	if err != nil {
		return 0, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to resolve role level")
	}
	return level, nil
}
