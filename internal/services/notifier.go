package services

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"serie/internal/core"
	applog "serie/internal/log"
)

// ChangeKind tells downstream consumers what a mutation did.
type ChangeKind string

const (
	ChangeAdd    ChangeKind = "add"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// ChangeEvent is emitted after every successful mutation. Budget checks and
// UI refreshes use the affected account and category ids to decide what to
// recompute.
type ChangeEvent struct {
	Kind               ChangeKind `json:"kind"`
	AccountIDs         []string   `json:"account_ids"`
	CategoryIDs        []string   `json:"category_ids"`
	SeriesID           string     `json:"series_id,omitempty"`
	InstallmentGroupID string     `json:"installment_group_id,omitempty"`
	Count              int        `json:"count"`
	OccurredAt         time.Time  `json:"occurred_at"`
}

// Notifier receives change events.
//
//go:generate mockgen -destination=mocks/mock_notifier.go -package=mocks serie/internal/services Notifier
type Notifier interface {
	Notify(ctx context.Context, ev ChangeEvent) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev ChangeEvent) error

func (f NotifierFunc) Notify(ctx context.Context, ev ChangeEvent) error {
	return f(ctx, ev)
}

// LogNotifier writes each event to the default slog logger.
type LogNotifier struct{}

func (LogNotifier) Notify(ctx context.Context, ev ChangeEvent) error {
	slog.InfoContext(ctx, "Series change",
		applog.FieldComponent, applog.ComponentNotifier,
		applog.FieldChangeKind, ev.Kind,
		applog.FieldCount, ev.Count,
		applog.FieldAccountIDs, ev.AccountIDs,
		applog.FieldCategoryIDs, ev.CategoryIDs)
	return nil
}

// MultiNotifier forwards every event to all of its notifiers concurrently
// and returns the first error.
type MultiNotifier []Notifier

func (m MultiNotifier) Notify(ctx context.Context, ev ChangeEvent) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, n := range m {
		if n == nil {
			continue
		}
		n := n
		g.Go(func() error {
			return n.Notify(ctx, ev)
		})
	}
	return g.Wait()
}

// changeSet accumulates the ids touched by a mutation.
type changeSet struct {
	accounts   map[string]struct{}
	categories map[string]struct{}
}

func newChangeSet() *changeSet {
	return &changeSet{
		accounts:   map[string]struct{}{},
		categories: map[string]struct{}{},
	}
}

func (c *changeSet) add(txs ...core.Transaction) {
	for _, tx := range txs {
		if tx.AccountID != "" {
			c.accounts[tx.AccountID] = struct{}{}
		}
		if tx.CategoryID != "" {
			c.categories[tx.CategoryID] = struct{}{}
		}
	}
}

// event leaves OccurredAt for the caller to stamp at commit.
func (c *changeSet) event(kind ChangeKind, count int) ChangeEvent {
	return ChangeEvent{
		Kind:        kind,
		AccountIDs:  sortedKeys(c.accounts),
		CategoryIDs: sortedKeys(c.categories),
		Count:       count,
	}
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}
