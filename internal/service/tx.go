package service

import (
	"context"

	"github.com/jackc/pgx/v5"

	"github.com/dockflow-io/be-doc-workflows/internal/repository"
)

// Transactor is the slice of the database pool the services need: the ability
// to run a function inside one transaction. *database.DB satisfies it.
type Transactor interface {
	InTransaction(ctx context.Context, fn func(pgx.Tx) error) error
}

// repositoryTx adapts Transactor to the repositories' Querier parameter, so
// services can rebind repositories to the transaction without touching pgx.
type repositoryTx struct {
	db Transactor
}

func (t *repositoryTx) inTransaction(ctx context.Context, fn func(repository.Querier) error) error {
	return t.db.InTransaction(ctx, func(tx pgx.Tx) error {
		return fn(tx)
	})
}
