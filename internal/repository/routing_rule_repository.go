package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dockflow-io/be-doc-workflows/internal/apperrors"
)

// RoutingRuleRepository stores routing rules extracted from a template's
// definition XML. The table carries a unique constraint on
// (template_id, step_order, trigger), so duplicate rules for the same key
// cannot be inserted and the lookup is single-result by construction.
type RoutingRuleRepository struct {
	q Querier
}

// NewRoutingRuleRepository creates a new RoutingRuleRepository.
func NewRoutingRuleRepository(q Querier) *RoutingRuleRepository {
	return &RoutingRuleRepository{q: q}
}

// WithQuerier returns a copy bound to another querier (typically a tx).
func (r *RoutingRuleRepository) WithQuerier(q Querier) *RoutingRuleRepository {
	return &RoutingRuleRepository{q: q}
}

// ReplaceForTemplate swaps a template's rule set. Called whenever a template
// is created or its definition updated; the caller wraps this in the same
// transaction as the template write.
func (r *RoutingRuleRepository) ReplaceForTemplate(ctx context.Context, templateID uuid.UUID, rules []*RoutingRule) error {
	if _, err := r.q.Exec(ctx, `DELETE FROM workflow_routing_rules WHERE template_id = $1`, templateID); err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to clear routing rules")
	}

	query := `
		INSERT INTO workflow_routing_rules
		    (id, template_id, step_order, trigger, target_step, condition, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`

	for _, rule := range rules {
		if rule.ID == uuid.Nil {
			rule.ID = uuid.New()
		}
		rule.TemplateID = templateID
		err := r.q.QueryRow(ctx, query,
			rule.ID,
			rule.TemplateID,
			rule.StepOrder,
			rule.Trigger,
			rule.TargetStep,
			rule.Condition,
			rule.Description,
		).Scan(&rule.CreatedAt)
		if err != nil {
			return apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to create routing rule")
		}
	}
	return nil
}

// Find returns the rule for (template, step, trigger), or nil when no rule
// exists for that key.
func (r *RoutingRuleRepository) Find(ctx context.Context, templateID uuid.UUID, stepOrder int, trigger RoutingTrigger) (*RoutingRule, error) {
	query := `
		SELECT id, template_id, step_order, trigger, target_step, condition, description, created_at
		FROM workflow_routing_rules
		WHERE template_id = $1 AND step_order = $2 AND trigger = $3
	`

	rule := &RoutingRule{}
	err := r.q.QueryRow(ctx, query, templateID, stepOrder, trigger).Scan(
		&rule.ID,
		&rule.TemplateID,
		&rule.StepOrder,
		&rule.Trigger,
		&rule.TargetStep,
		&rule.Condition,
		&rule.Description,
		&rule.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to find routing rule")
	}
	return rule, nil
}

// ListByTemplate returns every rule of a template, ordered by step.
func (r *RoutingRuleRepository) ListByTemplate(ctx context.Context, templateID uuid.UUID) ([]*RoutingRule, error) {
	query := `
		SELECT id, template_id, step_order, trigger, target_step, condition, description, created_at
		FROM workflow_routing_rules
		WHERE template_id = $1
		ORDER BY step_order ASC, trigger ASC
	`

	rows, err := r.q.Query(ctx, query, templateID)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to list routing rules")
	}
	defer rows.Close()

	var rules []*RoutingRule
	for rows.Next() {
		rule := &RoutingRule{}
		err := rows.Scan(
			&rule.ID,
			&rule.TemplateID,
			&rule.StepOrder,
			&rule.Trigger,
			&rule.TargetStep,
			&rule.Condition,
			&rule.Description,
			&rule.CreatedAt,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, apperrors.ErrCodeInternal, "failed to scan routing rule")
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
