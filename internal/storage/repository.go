package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"serie/internal/core"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// a single connection keeps writers serialized
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	// Run migrations
	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	repo := &SQLiteRepository{
		db:      db,
		queries: New(db),
	}

	return repo, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Fetch implements Reader
func (r *SQLiteRepository) Fetch(ctx context.Context, f Filter) ([]core.Transaction, error) {
	txs, err := r.queries.ListTransactions(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

// WithTx implements Store. fn's error is returned unchanged after rollback.
func (r *SQLiteRepository) WithTx(ctx context.Context, fn func(Tx) error) error {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(&sqliteTx{queries: r.queries.WithTx(sqlTx)}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			slog.ErrorContext(ctx, "Failed to roll back transaction", "error", rbErr)
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

type sqliteTx struct {
	queries *Queries
}

func (t *sqliteTx) Fetch(ctx context.Context, f Filter) ([]core.Transaction, error) {
	txs, err := t.queries.ListTransactions(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	return txs, nil
}

func (t *sqliteTx) Insert(ctx context.Context, txs ...core.Transaction) error {
	for _, tx := range txs {
		if err := t.queries.CreateTransaction(ctx, tx); err != nil {
			return fmt.Errorf("insert transaction %s: %w", tx.ID, err)
		}
	}
	slog.DebugContext(ctx, "Transactions inserted", "count", len(txs))
	return nil
}

func (t *sqliteTx) Update(ctx context.Context, tx core.Transaction) error {
	n, err := t.queries.UpdateTransaction(ctx, tx)
	if err != nil {
		return fmt.Errorf("update transaction %s: %w", tx.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("update transaction %s: %w", tx.ID, errUnknownID)
	}
	return nil
}

func (t *sqliteTx) DeleteWhere(ctx context.Context, f Filter) (int, error) {
	if !f.Scoped() {
		return 0, ErrEmptyFilter
	}
	n, err := t.queries.DeleteTransactions(ctx, f)
	if err != nil {
		return 0, fmt.Errorf("delete transactions: %w", err)
	}
	slog.DebugContext(ctx, "Transactions deleted", "count", n)
	return int(n), nil
}
