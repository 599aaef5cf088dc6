package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dockflow-io/be-doc-workflows/internal/apperrors"
	"github.com/dockflow-io/be-doc-workflows/internal/logger"
)

// validation-only service: CreateTemplate and UpdateTemplateDefinition refuse
// bad definitions before touching any collaborator.
func validationService() *WorkflowService {
	return NewWorkflowService(nil, nil, nil, nil, nil, nil, nil, nil, nil, logger.Nop())
}

func TestCreateTemplateRejectsSteplessDefinition(t *testing.T) {
	svc := validationService()

	_, err := svc.CreateTemplate(context.Background(), CreateTemplateRequest{
		CompanyID:     uuid.New(),
		Name:          "No steps",
		DefinitionXML: "<workflow></workflow>",
		CreatedBy:     uuid.New(),
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.CodeOf(err))
	assert.Contains(t, err.Error(), "no steps")
}

func TestCreateTemplateRejectsEmptyName(t *testing.T) {
	svc := validationService()

	_, err := svc.CreateTemplate(context.Background(), CreateTemplateRequest{
		CompanyID: uuid.New(),
		CreatedBy: uuid.New(),
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.CodeOf(err))
}

func TestCreateTemplateRejectsInvalidDefinition(t *testing.T) {
	svc := validationService()

	_, err := svc.CreateTemplate(context.Background(), CreateTemplateRequest{
		CompanyID:     uuid.New(),
		Name:          "Broken",
		DefinitionXML: `<workflow><step order="0" roleName="M" roleLevel="60" action="a"/></workflow>`,
		CreatedBy:     uuid.New(),
	})
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.CodeOf(err))
}

func TestUpdateTemplateDefinitionRejectsSteplessDefinition(t *testing.T) {
	svc := validationService()

	_, err := svc.UpdateTemplateDefinition(context.Background(), uuid.New(), "<workflow></workflow>")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.CodeOf(err))
	assert.Contains(t, err.Error(), "no steps")
}
