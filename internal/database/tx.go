package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Executor is the query surface shared by pools and transactions.
type Executor interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is satisfied by *pgxpool.Pool and by pgxmock pools in tests.
type DB interface {
	Executor
	Begin(ctx context.Context) (pgx.Tx, error)
}

type txKey struct{}

// Conn returns the transaction bound to ctx, or db when there is none.
func Conn(ctx context.Context, db DB) Executor {
	if tx, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return tx
	}
	return db
}

type Transactor struct {
	db DB
}

func NewTransactor(db DB) *Transactor {
	return &Transactor{db: db}
}

// WithinTransaction runs fn with a ctx carrying a transaction. Repositories
// reached through Conn join it; fn's error rolls everything back.
func (t *Transactor) WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if _, ok := ctx.Value(txKey{}).(pgx.Tx); ok {
		return fn(ctx)
	}

	tx, err := t.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}

	if err := fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
