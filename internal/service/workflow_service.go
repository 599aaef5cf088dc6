// Package service contains the business operations exposed over HTTP:
// template management, workflow lifecycle and bulk task processing.
package service

import (
	"context"

	"github.com/google/uuid"

	"github.com/dockflow-io/be-doc-workflows/internal/apperrors"
	"github.com/dockflow-io/be-doc-workflows/internal/engine"
	"github.com/dockflow-io/be-doc-workflows/internal/logger"
	"github.com/dockflow-io/be-doc-workflows/internal/parser"
	"github.com/dockflow-io/be-doc-workflows/internal/repository"
)

// WorkflowService manages templates and drives workflow instances through the
// engine. Template definition XML is parsed and validated on every write; the
// extracted routing rules are stored alongside the template in one
// transaction.
type WorkflowService struct {
	db        *repositoryTx
	templates *repository.WorkflowTemplateRepository
	instances *repository.WorkflowInstanceRepository
	tasks     *repository.TaskRepository
	rules     *repository.RoutingRuleRepository
	audit     *repository.AuditRepository
	documents *repository.DocumentRepository
	roles     *repository.RoleRepository
	engine    *engine.Engine
	log       *logger.Logger
}

// NewWorkflowService creates a new WorkflowService.
func NewWorkflowService(
	db Transactor,
	templates *repository.WorkflowTemplateRepository,
	instances *repository.WorkflowInstanceRepository,
	tasks *repository.TaskRepository,
	rules *repository.RoutingRuleRepository,
	audit *repository.AuditRepository,
	documents *repository.DocumentRepository,
	roles *repository.RoleRepository,
	eng *engine.Engine,
	log *logger.Logger,
) *WorkflowService {
	return &WorkflowService{
		db:        &repositoryTx{db: db},
		templates: templates,
		instances: instances,
		tasks:     tasks,
		rules:     rules,
		audit:     audit,
		documents: documents,
		roles:     roles,
		engine:    eng,
		log:       log,
	}
}

// CreateTemplateRequest carries the fields needed to register a template.
type CreateTemplateRequest struct {
	CompanyID     uuid.UUID
	Name          string
	Description   *string
	DefinitionXML string
	CreatedBy     uuid.UUID
}

// CreateTemplate validates the definition XML, stores the template and its
// extracted routing rules atomically, and returns the stored template.
func (s *WorkflowService) CreateTemplate(ctx context.Context, req CreateTemplateRequest) (*repository.WorkflowTemplate, error) {
	if req.Name == "" {
		return nil, apperrors.InvalidInput("name", "must not be empty")
	}
	def, err := parser.ParseDefinition(req.DefinitionXML)
	if err != nil {
		return nil, err
	}
	if len(def.Steps) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "workflow definition has no steps")
	}

	template := &repository.WorkflowTemplate{
		ID:            uuid.New(),
		CompanyID:     req.CompanyID,
		Name:          req.Name,
		Description:   req.Description,
		DefinitionXML: req.DefinitionXML,
		IsActive:      true,
		CreatedBy:     req.CreatedBy,
	}

	err = s.db.inTransaction(ctx, func(q repository.Querier) error {
		if err := s.templates.WithQuerier(q).Create(ctx, template); err != nil {
			return err
		}
		return s.rules.WithQuerier(q).ReplaceForTemplate(ctx, template.ID, routingRules(def))
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Stringer("template_id", template.ID).
		Stringer("company_id", template.CompanyID).
		Int("steps", len(def.Steps)).
		Int("rules", len(def.Rules)).
		Msg("workflow template created")
	return template, nil
}

// UpdateTemplateDefinition replaces a template's definition XML and re-derives
// its routing rules. Running instances keep the task set they were initialized
// with; the new definition applies to workflows started afterwards.
func (s *WorkflowService) UpdateTemplateDefinition(ctx context.Context, templateID uuid.UUID, definitionXML string) (*repository.WorkflowTemplate, error) {
	def, err := parser.ParseDefinition(definitionXML)
	if err != nil {
		return nil, err
	}
	if len(def.Steps) == 0 {
		return nil, apperrors.New(apperrors.ErrCodeValidation, "workflow definition has no steps")
	}

	err = s.db.inTransaction(ctx, func(q repository.Querier) error {
		if err := s.templates.WithQuerier(q).UpdateDefinition(ctx, templateID, definitionXML); err != nil {
			return err
		}
		return s.rules.WithQuerier(q).ReplaceForTemplate(ctx, templateID, routingRules(def))
	})
	if err != nil {
		return nil, err
	}

	s.log.Info().
		Stringer("template_id", templateID).
		Int("rules", len(def.Rules)).
		Msg("workflow template definition updated")
	return s.templates.GetByID(ctx, templateID)
}

// GetTemplate returns a template by ID.
func (s *WorkflowService) GetTemplate(ctx context.Context, id uuid.UUID) (*repository.WorkflowTemplate, error) {
	return s.templates.GetByID(ctx, id)
}

// ListTemplates returns a company's active templates.
func (s *WorkflowService) ListTemplates(ctx context.Context, companyID uuid.UUID) ([]*repository.WorkflowTemplate, error) {
	return s.templates.ListByCompany(ctx, companyID)
}

// DeactivateTemplate retires a template. Existing instances are unaffected.
func (s *WorkflowService) DeactivateTemplate(ctx context.Context, id uuid.UUID) error {
	if err := s.templates.Deactivate(ctx, id); err != nil {
		return err
	}
	s.log.Info().Stringer("template_id", id).Msg("workflow template deactivated")
	return nil
}

// StartWorkflow activates a template against a document: it creates the
// instance, materializes the task set and activates the first step. A document
// can carry at most one running workflow at a time.
func (s *WorkflowService) StartWorkflow(ctx context.Context, documentID, templateID, initiatedBy uuid.UUID) (*repository.WorkflowInstance, error) {
	template, err := s.templates.GetByID(ctx, templateID)
	if err != nil {
		return nil, err
	}
	if !template.IsActive {
		return nil, apperrors.Newf(apperrors.ErrCodeConflict,
			"template %s is not active", templateID)
	}

	def, err := parser.ParseDefinition(template.DefinitionXML)
	if err != nil {
		return nil, err
	}

	document, err := s.documents.GetByID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if document.CompanyID != template.CompanyID {
		return nil, apperrors.Newf(apperrors.ErrCodeValidation,
			"document %s does not belong to the template's company", documentID)
	}

	active, err := s.instances.GetActiveByDocumentID(ctx, documentID)
	if err != nil {
		return nil, err
	}
	if active != nil {
		return nil, apperrors.Newf(apperrors.ErrCodeConflict,
			"document %s already has a workflow in progress (%s)", documentID, active.ID)
	}

	instance := &repository.WorkflowInstance{
		ID:          uuid.New(),
		TemplateID:  template.ID,
		DocumentID:  documentID,
		CompanyID:   template.CompanyID,
		Status:      repository.InstanceInProgress,
		InitiatedBy: initiatedBy,
	}
	if err := s.instances.Create(ctx, instance); err != nil {
		return nil, err
	}

	if err := s.engine.Initialize(ctx, instance, def); err != nil {
		return nil, err
	}
	return instance, nil
}

// ApproveTask records an approval decision on a pending task.
func (s *WorkflowService) ApproveTask(ctx context.Context, taskID, actorID uuid.UUID, comment string) (*repository.Task, error) {
	return s.engine.Approve(ctx, taskID, actorID, comment)
}

// RejectTask records a rejection decision on a pending task and applies the
// template's rejection routing.
func (s *WorkflowService) RejectTask(ctx context.Context, taskID, actorID uuid.UUID, comment string) (*repository.Task, error) {
	return s.engine.Reject(ctx, taskID, actorID, comment)
}

// GetInstance returns an instance together with its full task set.
func (s *WorkflowService) GetInstance(ctx context.Context, id uuid.UUID) (*repository.WorkflowInstance, []*repository.Task, error) {
	instance, err := s.instances.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	tasks, err := s.tasks.ListByInstance(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return instance, tasks, nil
}

// History returns an instance's audit trail, oldest entry first.
func (s *WorkflowService) History(ctx context.Context, instanceID uuid.UUID) ([]*repository.AuditEntry, error) {
	if _, err := s.instances.GetByID(ctx, instanceID); err != nil {
		return nil, err
	}
	return s.audit.HistoryByInstance(ctx, instanceID)
}

// TaskHistory returns the audit entries touching one task, oldest first.
func (s *WorkflowService) TaskHistory(ctx context.Context, taskID uuid.UUID) ([]*repository.AuditEntry, error) {
	if _, err := s.tasks.GetByID(ctx, taskID); err != nil {
		return nil, err
	}
	return s.audit.HistoryByTask(ctx, taskID)
}

// PendingTasks returns the pending tasks in a company the actor's role level
// is sufficient to act on.
func (s *WorkflowService) PendingTasks(ctx context.Context, companyID, actorID uuid.UUID) ([]*repository.Task, error) {
	level, err := s.roles.RoleLevel(ctx, actorID, companyID)
	if err != nil {
		return nil, err
	}
	return s.tasks.ListPendingForCompany(ctx, companyID, level)
}

// ExampleDefinition returns a ready-to-use five step definition demonstrating
// conditional rejection routing.
func (s *WorkflowService) ExampleDefinition() string {
	return parser.ExampleDefinitionXML()
}

// AvailableConditions lists the condition forms template authors can use.
func (s *WorkflowService) AvailableConditions() map[string]string {
	return parser.AvailableConditions()
}

// routingRules converts parsed rules into their stored form.
func routingRules(def *parser.WorkflowDefinition) []*repository.RoutingRule {
	out := make([]*repository.RoutingRule, 0, len(def.Rules))
	for _, rule := range def.Rules {
		stored := &repository.RoutingRule{
			StepOrder:  rule.StepOrder,
			Trigger:    repository.RoutingTrigger(rule.Trigger),
			TargetStep: rule.TargetStep,
		}
		if rule.Condition != "" {
			condition := rule.Condition
			stored.Condition = &condition
		}
		if rule.Description != "" {
			description := rule.Description
			stored.Description = &description
		}
		out = append(out, stored)
	}
	return out
}
