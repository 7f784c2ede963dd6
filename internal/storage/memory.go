package storage

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"

	"serie/internal/core"
)

var (
	errDuplicateID = errors.New("duplicate transaction id")
	errUnknownID   = errors.New("unknown transaction id")
)

// MemoryStore keeps transactions in a map. Each WithTx works on a copy that
// replaces the live data only when the callback succeeds.
type MemoryStore struct {
	mu    sync.Mutex
	items map[string]core.Transaction
}

func NewMemoryStore(seed ...core.Transaction) *MemoryStore {
	s := &MemoryStore{items: make(map[string]core.Transaction, len(seed))}
	for _, tx := range seed {
		s.items[tx.ID] = tx.Clone()
	}
	return s
}

func (s *MemoryStore) Fetch(_ context.Context, f Filter) ([]core.Transaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fetch(s.items, f), nil
}

// WithTx holds the store lock for the whole callback, so writers are serialized.
func (s *MemoryStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memoryTx{items: maps.Clone(s.items)}
	if err := fn(tx); err != nil {
		return err
	}
	s.items = tx.items
	return nil
}

// Len returns the number of stored transactions.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

func (s *MemoryStore) Close() error {
	return nil
}

type memoryTx struct {
	items map[string]core.Transaction
}

func (t *memoryTx) Fetch(_ context.Context, f Filter) ([]core.Transaction, error) {
	return fetch(t.items, f), nil
}

func (t *memoryTx) Insert(_ context.Context, txs ...core.Transaction) error {
	for _, tx := range txs {
		if _, exists := t.items[tx.ID]; exists {
			return fmt.Errorf("insert %s: %w", tx.ID, errDuplicateID)
		}
		t.items[tx.ID] = tx.Clone()
	}
	return nil
}

func (t *memoryTx) Update(_ context.Context, tx core.Transaction) error {
	if _, exists := t.items[tx.ID]; !exists {
		return fmt.Errorf("update %s: %w", tx.ID, errUnknownID)
	}
	t.items[tx.ID] = tx.Clone()
	return nil
}

func (t *memoryTx) DeleteWhere(_ context.Context, f Filter) (int, error) {
	if !f.Scoped() {
		return 0, ErrEmptyFilter
	}
	n := 0
	for id, tx := range t.items {
		if f.Match(tx) {
			delete(t.items, id)
			n++
		}
	}
	return n, nil
}

func fetch(items map[string]core.Transaction, f Filter) []core.Transaction {
	if f.ID != "" {
		tx, ok := items[f.ID]
		if !ok || !f.Match(tx) {
			return nil
		}
		return []core.Transaction{tx.Clone()}
	}
	var out []core.Transaction
	for _, tx := range items {
		if f.Match(tx) {
			out = append(out, tx.Clone())
		}
	}
	sortTransactions(out)
	return out
}
