// Package storage persists transactions for the series engine.
//
// The engine depends only on the Store and Tx interfaces; MemoryStore and
// SQLiteRepository are the two implementations.
package storage

import (
	"context"
	"errors"
	"sort"

	"serie/internal/core"
)

// ErrEmptyFilter is returned by DeleteWhere when the filter names no
// transaction, series or plan.
var ErrEmptyFilter = errors.New("delete filter must select an id, series or installment group")

// Filter selects transactions. All non-empty fields must match.
type Filter struct {
	ID                 string
	SeriesID           string
	InstallmentGroupID string
	// After keeps only transactions dated strictly after it.
	After core.Date
}

// Scoped reports whether the filter is bound to a transaction, series or plan.
func (f Filter) Scoped() bool {
	return f.ID != "" || f.SeriesID != "" || f.InstallmentGroupID != ""
}

// Match reports whether tx satisfies the filter.
func (f Filter) Match(tx core.Transaction) bool {
	if f.ID != "" && tx.ID != f.ID {
		return false
	}
	if f.SeriesID != "" && tx.SeriesID != f.SeriesID {
		return false
	}
	if f.InstallmentGroupID != "" {
		if tx.Installment == nil || tx.Installment.GroupID != f.InstallmentGroupID {
			return false
		}
	}
	if !f.After.IsEmpty() && !tx.Date.After(f.After.Time) {
		return false
	}
	return true
}

type Reader interface {
	// Fetch returns the matching transactions ordered by date, then
	// installment index, then id.
	Fetch(ctx context.Context, f Filter) ([]core.Transaction, error)
}

// Tx is the write side of a store, valid inside Store.WithTx.
type Tx interface {
	Reader
	// Insert adds transactions in one batch.
	Insert(ctx context.Context, txs ...core.Transaction) error
	// Update replaces a stored transaction with the same ID.
	Update(ctx context.Context, tx core.Transaction) error
	// DeleteWhere removes every matching transaction in one batch and
	// returns how many were removed.
	DeleteWhere(ctx context.Context, f Filter) (int, error)
}

type Store interface {
	Reader
	// WithTx runs fn atomically: its writes are committed when it returns
	// nil and discarded otherwise. The error from fn is returned unchanged.
	WithTx(ctx context.Context, fn func(Tx) error) error
	Close() error
}

// sortTransactions applies the Fetch ordering in place.
func sortTransactions(txs []core.Transaction) {
	sort.SliceStable(txs, func(i, j int) bool {
		a, b := txs[i], txs[j]
		if !a.Date.Equal(b.Date.Time) {
			return a.Date.Before(b.Date.Time)
		}
		ai, bi := installmentIndex(a), installmentIndex(b)
		if ai != bi {
			return ai < bi
		}
		return a.ID < b.ID
	})
}

func installmentIndex(tx core.Transaction) int {
	if tx.Installment == nil {
		return 0
	}
	return tx.Installment.Index
}
