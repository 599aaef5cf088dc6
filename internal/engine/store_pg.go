package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dockflow-io/be-doc-workflows/internal/database"
	"github.com/dockflow-io/be-doc-workflows/internal/parser"
	"github.com/dockflow-io/be-doc-workflows/internal/repository"
)

// PgStore implements Store over the PostgreSQL repositories. InTransaction
// hands the callback a copy whose repositories are bound to one pgx
// transaction; nested calls reuse the enclosing transaction.
type PgStore struct {
	db        *database.DB
	instances *repository.WorkflowInstanceRepository
	tasks     *repository.TaskRepository
	rules     *repository.RoutingRuleRepository
	documents *repository.DocumentRepository
}

// NewPgStore builds a PgStore over the connection pool.
func NewPgStore(db *database.DB) *PgStore {
	return &PgStore{
		db:        db,
		instances: repository.NewWorkflowInstanceRepository(db),
		tasks:     repository.NewTaskRepository(db),
		rules:     repository.NewRoutingRuleRepository(db),
		documents: repository.NewDocumentRepository(db),
	}
}

func (s *PgStore) withTx(tx pgx.Tx) *PgStore {
	return &PgStore{
		instances: s.instances.WithQuerier(tx),
		tasks:     s.tasks.WithQuerier(tx),
		rules:     s.rules.WithQuerier(tx),
		documents: s.documents.WithQuerier(tx),
	}
}

// InTransaction runs fn atomically. A PgStore already bound to a transaction
// (db == nil) runs fn directly inside it.
func (s *PgStore) InTransaction(ctx context.Context, fn func(Store) error) error {
	if s.db == nil {
		return fn(s)
	}
	return s.db.InTransaction(ctx, func(tx pgx.Tx) error {
		return fn(s.withTx(tx))
	})
}

func (s *PgStore) GetInstance(ctx context.Context, id uuid.UUID) (*repository.WorkflowInstance, error) {
	return s.instances.GetByID(ctx, id)
}

func (s *PgStore) UpdateInstanceStatus(ctx context.Context, id uuid.UUID, status repository.InstanceStatus, completedAt *time.Time) error {
	return s.instances.UpdateStatus(ctx, id, status, completedAt)
}

func (s *PgStore) GetTask(ctx context.Context, id uuid.UUID) (*repository.Task, error) {
	return s.tasks.GetByID(ctx, id)
}

func (s *PgStore) ListTasks(ctx context.Context, instanceID uuid.UUID) ([]*repository.Task, error) {
	return s.tasks.ListByInstance(ctx, instanceID)
}

func (s *PgStore) CreateTask(ctx context.Context, task *repository.Task) error {
	return s.tasks.Create(ctx, task)
}

func (s *PgStore) UpdateTask(ctx context.Context, task *repository.Task) error {
	return s.tasks.Update(ctx, task)
}

func (s *PgStore) FindRoutingRule(ctx context.Context, templateID uuid.UUID, stepOrder int, trigger repository.RoutingTrigger) (*repository.RoutingRule, error) {
	return s.rules.Find(ctx, templateID, stepOrder, trigger)
}

func (s *PgStore) GetDocumentContext(ctx context.Context, documentID uuid.UUID) (parser.DocumentContext, error) {
	return s.documents.GetContext(ctx, documentID)
}
