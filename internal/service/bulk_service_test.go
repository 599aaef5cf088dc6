package service

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dockflow-io/be-doc-workflows/internal/apperrors"
	"github.com/dockflow-io/be-doc-workflows/internal/logger"
	"github.com/dockflow-io/be-doc-workflows/internal/repository"
)

type fakeScope struct {
	companies map[uuid.UUID]uuid.UUID
}

func (f *fakeScope) CompanyID(ctx context.Context, taskID uuid.UUID) (uuid.UUID, error) {
	company, ok := f.companies[taskID]
	if !ok {
		return uuid.Nil, apperrors.NotFound("task", taskID.String())
	}
	return company, nil
}

type fakeDecider struct {
	failures map[uuid.UUID]error
	approved []uuid.UUID
	rejected []uuid.UUID
}

func (f *fakeDecider) Approve(ctx context.Context, taskID, actorID uuid.UUID, comment string) (*repository.Task, error) {
	if err := f.failures[taskID]; err != nil {
		return nil, err
	}
	f.approved = append(f.approved, taskID)
	return &repository.Task{ID: taskID, Status: repository.TaskApproved}, nil
}

func (f *fakeDecider) Reject(ctx context.Context, taskID, actorID uuid.UUID, comment string) (*repository.Task, error) {
	if err := f.failures[taskID]; err != nil {
		return nil, err
	}
	f.rejected = append(f.rejected, taskID)
	return &repository.Task{ID: taskID, Status: repository.TaskRejected}, nil
}

func TestBulkApprovePartialSuccess(t *testing.T) {
	company := uuid.New()
	actor := uuid.New()

	okTask := uuid.New()
	forbiddenTask := uuid.New()
	finishedTask := uuid.New()
	foreignTask := uuid.New()

	scope := &fakeScope{companies: map[uuid.UUID]uuid.UUID{
		okTask:        company,
		forbiddenTask: company,
		finishedTask:  company,
		foreignTask:   uuid.New(),
	}}
	decider := &fakeDecider{failures: map[uuid.UUID]error{
		forbiddenTask: apperrors.Newf(apperrors.ErrCodeUnauthorized,
			"insufficient permissions: role level 10 is below required level 80"),
		finishedTask: apperrors.Newf(apperrors.ErrCodeConflict,
			"cannot approve task %s: status is APPROVED", finishedTask),
	}}

	svc := NewBulkService(scope, decider, logger.Nop())
	result, err := svc.BulkApprove(context.Background(),
		[]uuid.UUID{okTask, forbiddenTask, finishedTask, foreignTask}, actor, company, "batch")
	require.NoError(t, err)

	assert.Equal(t, 4, result.TotalTasks)
	assert.Equal(t, 1, result.SuccessfulCount)
	assert.Equal(t, []uuid.UUID{okTask}, result.SuccessfulTaskIDs)
	require.Len(t, result.Errors, 3)

	assert.Contains(t, result.Errors[0], forbiddenTask.String())
	assert.Contains(t, result.Errors[0], "insufficient permissions")
	assert.Contains(t, result.Errors[1], finishedTask.String())
	assert.Contains(t, result.Errors[1], "status is APPROVED")
	assert.Contains(t, result.Errors[2], foreignTask.String())
	assert.Contains(t, result.Errors[2], "not found")
}

func TestBulkApproveContinuesAfterFailure(t *testing.T) {
	company := uuid.New()
	first := uuid.New()
	bad := uuid.New()
	last := uuid.New()

	scope := &fakeScope{companies: map[uuid.UUID]uuid.UUID{
		first: company, bad: company, last: company,
	}}
	decider := &fakeDecider{failures: map[uuid.UUID]error{
		bad: apperrors.New(apperrors.ErrCodeConflict, "cannot approve: status is CANCELLED"),
	}}

	svc := NewBulkService(scope, decider, logger.Nop())
	result, err := svc.BulkApprove(context.Background(),
		[]uuid.UUID{first, bad, last}, uuid.New(), company, "")
	require.NoError(t, err)

	// Order of processing matches request order; the failure in the middle
	// does not stop the batch.
	assert.Equal(t, []uuid.UUID{first, last}, decider.approved)
	assert.Equal(t, 2, result.SuccessfulCount)
	assert.Len(t, result.Errors, 1)
}

func TestBulkRejectDelegatesPerTask(t *testing.T) {
	company := uuid.New()
	a := uuid.New()
	b := uuid.New()

	scope := &fakeScope{companies: map[uuid.UUID]uuid.UUID{a: company, b: company}}
	decider := &fakeDecider{}

	svc := NewBulkService(scope, decider, logger.Nop())
	result, err := svc.BulkReject(context.Background(), []uuid.UUID{a, b}, uuid.New(), company, "no")
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{a, b}, decider.rejected)
	assert.Equal(t, 2, result.SuccessfulCount)
	assert.Empty(t, result.Errors)
}

func TestBulkApproveEmptyBatchRefused(t *testing.T) {
	svc := NewBulkService(&fakeScope{}, &fakeDecider{}, logger.Nop())

	_, err := svc.BulkApprove(context.Background(), nil, uuid.New(), uuid.New(), "")
	require.Error(t, err)
	assert.Equal(t, apperrors.ErrCodeValidation, apperrors.CodeOf(err))
}
