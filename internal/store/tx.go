// Package store holds the Postgres transaction plumbing shared by the cart,
// catalog and order repositories so checkout runs as one local transaction.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var ErrNoTransaction = errors.New("operation requires a transaction")

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type txKey struct{}

// ContextWithTx returns a copy of ctx carrying tx.
func ContextWithTx(ctx context.Context, tx *sql.Tx) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TxFrom returns the transaction carried by ctx, or nil.
func TxFrom(ctx context.Context) *sql.Tx {
	tx, _ := ctx.Value(txKey{}).(*sql.Tx)
	return tx
}

// Runner returns the ambient transaction if there is one, else db.
func Runner(ctx context.Context, db *sql.DB) DBTX {
	if tx := TxFrom(ctx); tx != nil {
		return tx
	}
	return db
}

// RequireTx returns the ambient transaction or ErrNoTransaction.
func RequireTx(ctx context.Context) (*sql.Tx, error) {
	tx := TxFrom(ctx)
	if tx == nil {
		return nil, ErrNoTransaction
	}
	return tx, nil
}

type TxRunner struct {
	db *sql.DB
}

func NewTxRunner(db *sql.DB) *TxRunner {
	return &TxRunner{db: db}
}

func (r *TxRunner) DB() *sql.DB {
	return r.db
}

// WithTx runs fn inside a transaction carried by the context passed to fn.
// If ctx already carries a transaction, fn joins it and the outer caller
// owns commit and rollback.
func (r *TxRunner) WithTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if TxFrom(ctx) != nil {
		return fn(ctx)
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(ContextWithTx(ctx, tx)); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// WithOwnerLock is WithTx plus a transaction-scoped advisory lock keyed on
// the cart owner. Every writer of an owner's cart takes it, so cart edits and
// checkout for the same owner never interleave.
func (r *TxRunner) WithOwnerLock(ctx context.Context, owner string, fn func(ctx context.Context) error) error {
	return r.WithTx(ctx, func(ctx context.Context) error {
		if err := LockOwner(ctx, owner); err != nil {
			return err
		}
		return fn(ctx)
	})
}

// LockOwner takes the owner's advisory lock in the ambient transaction.
// Postgres releases it at commit or rollback.
func LockOwner(ctx context.Context, owner string) error {
	tx, err := RequireTx(ctx)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext('cart:' || $1))`, owner); err != nil {
		return fmt.Errorf("lock cart owner: %w", err)
	}
	return nil
}
