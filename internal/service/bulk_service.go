package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/dockflow-io/be-doc-workflows/internal/apperrors"
	"github.com/dockflow-io/be-doc-workflows/internal/logger"
	"github.com/dockflow-io/be-doc-workflows/internal/repository"
)

// TaskScoper resolves the company a task belongs to. *repository.TaskRepository
// satisfies it.
type TaskScoper interface {
	CompanyID(ctx context.Context, taskID uuid.UUID) (uuid.UUID, error)
}

// Decider is the slice of the engine the bulk service drives.
type Decider interface {
	Approve(ctx context.Context, taskID, actorID uuid.UUID, comment string) (*repository.Task, error)
	Reject(ctx context.Context, taskID, actorID uuid.UUID, comment string) (*repository.Task, error)
}

// BulkService processes a batch of approval decisions as independent units of
// work. Tasks are handled sequentially in request order; each failure is
// recorded and the batch continues, so one bad task never blocks the rest.
type BulkService struct {
	tasks  TaskScoper
	engine Decider
	log    *logger.Logger
}

// NewBulkService creates a new BulkService.
func NewBulkService(tasks TaskScoper, eng Decider, log *logger.Logger) *BulkService {
	return &BulkService{tasks: tasks, engine: eng, log: log}
}

// BulkResult summarizes a batch: which tasks went through and, per failed
// task, a human-readable reason.
type BulkResult struct {
	TotalTasks        int         `json:"total_tasks"`
	SuccessfulCount   int         `json:"successful_count"`
	SuccessfulTaskIDs []uuid.UUID `json:"successful_task_ids"`
	Errors            []string    `json:"errors"`
}

// BulkApprove approves each task in order. Tasks outside the actor's company
// scope are refused without leaking whether they exist.
func (s *BulkService) BulkApprove(ctx context.Context, taskIDs []uuid.UUID, actorID, companyID uuid.UUID, comment string) (*BulkResult, error) {
	return s.process(ctx, "approve", taskIDs, actorID, companyID, comment, s.engine.Approve)
}

// BulkReject rejects each task in order, applying each task's rejection
// routing independently.
func (s *BulkService) BulkReject(ctx context.Context, taskIDs []uuid.UUID, actorID, companyID uuid.UUID, comment string) (*BulkResult, error) {
	return s.process(ctx, "reject", taskIDs, actorID, companyID, comment, s.engine.Reject)
}

type decisionFunc func(ctx context.Context, taskID, actorID uuid.UUID, comment string) (*repository.Task, error)

func (s *BulkService) process(ctx context.Context, action string, taskIDs []uuid.UUID, actorID, companyID uuid.UUID, comment string, decide decisionFunc) (*BulkResult, error) {
	if len(taskIDs) == 0 {
		return nil, apperrors.InvalidInput("task_ids", "must not be empty")
	}

	result := &BulkResult{
		TotalTasks:        len(taskIDs),
		SuccessfulTaskIDs: []uuid.UUID{},
		Errors:            []string{},
	}

	for _, taskID := range taskIDs {
		if err := s.checkScope(ctx, taskID, companyID); err != nil {
			result.Errors = append(result.Errors, taskError(taskID, err))
			continue
		}
		if _, err := decide(ctx, taskID, actorID, comment); err != nil {
			result.Errors = append(result.Errors, taskError(taskID, err))
			continue
		}
		result.SuccessfulTaskIDs = append(result.SuccessfulTaskIDs, taskID)
		result.SuccessfulCount++
	}

	s.log.Info().
		Str("action", action).
		Stringer("actor_id", actorID).
		Int("total", result.TotalTasks).
		Int("successful", result.SuccessfulCount).
		Int("failed", len(result.Errors)).
		Msg("bulk operation finished")
	return result, nil
}

// checkScope verifies the task lives inside the caller's company. A task in
// another company reports the same error as a missing one.
func (s *BulkService) checkScope(ctx context.Context, taskID, companyID uuid.UUID) error {
	taskCompany, err := s.tasks.CompanyID(ctx, taskID)
	if err != nil {
		return err
	}
	if taskCompany != companyID {
		return apperrors.NotFound("task", taskID.String())
	}
	return nil
}

func taskError(taskID uuid.UUID, err error) string {
	var appErr *apperrors.Error
	if errors.As(err, &appErr) {
		return fmt.Sprintf("task %s: %s", taskID, appErr.Message)
	}
	return fmt.Sprintf("task %s: %s", taskID, err)
}
