package worker

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"serie/internal/amqp"
	applog "serie/internal/log"
	"serie/internal/storage"
)

// Refresh lists the accounts and categories whose balances and budgets
// must be recomputed after a batch of series changes.
type Refresh struct {
	AccountIDs  []string
	CategoryIDs []string
	// Remaining maps a changed series or plan id to the occurrences it has
	// left, as of its latest event. Only filled when a store is set.
	Remaining map[string]int
	Events    int
}

func (r Refresh) IsEmpty() bool {
	return r.Events == 0
}

// RefreshWorker collects change events and periodically reports which
// accounts and categories they touched.
type RefreshWorker struct {
	store storage.Reader

	mu         sync.Mutex
	accounts   map[string]struct{}
	categories map[string]struct{}
	remaining  map[string]int
	events     int
}

// NewRefreshWorker returns a worker. store is optional and only used to
// count how many occurrences a changed series still has.
func NewRefreshWorker(store storage.Reader) *RefreshWorker {
	w := &RefreshWorker{store: store}
	w.reset()
	return w
}

func (w *RefreshWorker) reset() {
	w.accounts = map[string]struct{}{}
	w.categories = map[string]struct{}{}
	w.remaining = map[string]int{}
	w.events = 0
}

// HandleChangeEvent records the ids touched by one change event.
func (w *RefreshWorker) HandleChangeEvent(ctx context.Context, msg *amqp.ChangeEventMessage) error {
	slog.InfoContext(ctx, "Processing change event",
		applog.FieldComponent, applog.ComponentWorker,
		applog.FieldChangeKind, msg.Kind,
		applog.FieldSeriesID, msg.SeriesID,
		applog.FieldGroupID, msg.InstallmentGroupID,
		applog.FieldCount, msg.Count)

	key, filter, ok := seriesFilter(msg)
	remaining := -1
	if w.store != nil && ok {
		members, err := w.store.Fetch(ctx, filter)
		if err != nil {
			return fmt.Errorf("fetch series members: %w", err)
		}
		remaining = len(members)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if remaining >= 0 {
		w.remaining[key] = remaining
	}
	for _, id := range msg.AccountIDs {
		w.accounts[id] = struct{}{}
	}
	for _, id := range msg.CategoryIDs {
		w.categories[id] = struct{}{}
	}
	w.events++
	return nil
}

func seriesFilter(msg *amqp.ChangeEventMessage) (string, storage.Filter, bool) {
	switch {
	case msg.InstallmentGroupID != "":
		return msg.InstallmentGroupID, storage.Filter{InstallmentGroupID: msg.InstallmentGroupID}, true
	case msg.SeriesID != "":
		return msg.SeriesID, storage.Filter{SeriesID: msg.SeriesID}, true
	}
	return "", storage.Filter{}, false
}

// Flush returns and clears the pending refresh.
func (w *RefreshWorker) Flush(ctx context.Context) Refresh {
	w.mu.Lock()
	r := Refresh{
		AccountIDs:  sortedKeys(w.accounts),
		CategoryIDs: sortedKeys(w.categories),
		Remaining:   w.remaining,
		Events:      w.events,
	}
	w.reset()
	w.mu.Unlock()

	if !r.IsEmpty() {
		slog.InfoContext(ctx, "Budgets need refresh",
			applog.FieldComponent, applog.ComponentWorker,
			applog.FieldAccountIDs, r.AccountIDs,
			applog.FieldCategoryIDs, r.CategoryIDs,
			"remaining", r.Remaining,
			"events", r.Events)
	}
	return r
}

// Run flushes every interval until ctx is done, then flushes once more.
func (w *RefreshWorker) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			w.Flush(context.WithoutCancel(ctx))
			return
		case <-ticker.C:
			w.Flush(ctx)
		}
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
