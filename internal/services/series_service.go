package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"serie/internal/core"
	applog "serie/internal/log"
	"serie/internal/series"
	"serie/internal/storage"
)

// Result describes a committed mutation.
type Result struct {
	Event ChangeEvent
	// Transactions holds the rows written (inserted or updated), by date.
	Transactions []core.Transaction
	// Deleted counts the rows removed, not counting a target that was rewritten.
	Deleted int
}

// SeriesService creates, edits and deletes transactions together with the
// recurring series or installment plan they belong to. Every mutation runs
// inside a single store transaction, so a failure leaves no partial series.
type SeriesService struct {
	store    storage.Store
	expander *series.Expander
	notifier Notifier
	now      func() time.Time

	// mu serializes mutations; each one reads a series and rewrites it.
	mu sync.Mutex
}

// NewSeriesService wires the service. A nil expander uses the default
// options; a nil notifier disables change notifications.
func NewSeriesService(store storage.Store, expander *series.Expander, notifier Notifier) *SeriesService {
	if expander == nil {
		expander = series.NewExpander(series.DefaultOptions())
	}
	return &SeriesService{
		store:    store,
		expander: expander,
		notifier: notifier,
		now:      time.Now,
	}
}

// Create stores a new plain transaction, recurring series or installment plan.
func (s *SeriesService) Create(ctx context.Context, def Definition) (*Result, error) {
	def = def.normalized()
	if err := def.Validate(); err != nil {
		return nil, err
	}
	txs, err := s.build(def, "", "")
	if err != nil {
		return nil, err
	}

	return s.mutate(ctx, applog.OpCreate, func(ctx context.Context, tx storage.Tx) (*Result, error) {
		if err := tx.Insert(ctx, txs...); err != nil {
			return nil, core.PersistenceError("insert", err)
		}
		cs := newChangeSet()
		cs.add(txs...)
		ev := cs.event(ChangeAdd, len(txs))
		ev.SeriesID, ev.InstallmentGroupID = identity(txs[0])
		return &Result{Event: ev, Transactions: txs}, nil
	})
}

// Edit applies changes to the target transaction with the given scope.
// The caller decides the scope; Edit never infers it.
func (s *SeriesService) Edit(ctx context.Context, targetID string, changes Changes, scope EditScope) (*Result, error) {
	if targetID == "" {
		return nil, core.Invalidf("target id is required")
	}
	if err := changes.Validate(); err != nil {
		return nil, err
	}

	var edit func(context.Context, storage.Tx, core.Transaction, Changes) (*Result, error)
	switch scope {
	case ScopeSingle:
		edit = s.editSingle
	case ScopeFuture:
		edit = s.editFuture
	case ScopeSeries:
		edit = s.editSeries
	default:
		return nil, core.Invalidf("unknown edit scope %d", int(scope))
	}

	return s.mutate(ctx, applog.OpUpdate, func(ctx context.Context, tx storage.Tx) (*Result, error) {
		target, err := loadTarget(ctx, tx, targetID)
		if err != nil {
			return nil, err
		}
		res, err := edit(ctx, tx, target, changes)
		if err != nil {
			return nil, err
		}
		// report the identity the target ended up with
		res.Event.SeriesID, res.Event.InstallmentGroupID = identity(res.Transactions[0])
		return res, nil
	})
}

// Delete removes the target transaction, or its whole series or plan.
func (s *SeriesService) Delete(ctx context.Context, targetID string, scope DeleteScope) (*Result, error) {
	if targetID == "" {
		return nil, core.Invalidf("target id is required")
	}
	if scope != DeleteSingle && scope != DeleteSeries {
		return nil, core.Invalidf("unknown delete scope %d", int(scope))
	}

	return s.mutate(ctx, applog.OpDelete, func(ctx context.Context, tx storage.Tx) (*Result, error) {
		target, err := loadTarget(ctx, tx, targetID)
		if err != nil {
			return nil, err
		}

		filter := storage.Filter{ID: target.ID}
		if scope == DeleteSeries {
			filter = membersFilter(target)
		}
		removed, err := tx.Fetch(ctx, filter)
		if err != nil {
			return nil, core.PersistenceError("fetch", err)
		}
		n, err := tx.DeleteWhere(ctx, filter)
		if err != nil {
			return nil, core.PersistenceError("delete", err)
		}

		cs := newChangeSet()
		cs.add(removed...)
		ev := cs.event(ChangeDelete, n)
		ev.SeriesID, ev.InstallmentGroupID = identity(target)
		return &Result{Event: ev, Deleted: n}, nil
	})
}

// Get returns one transaction.
func (s *SeriesService) Get(ctx context.Context, id string) (core.Transaction, error) {
	if id == "" {
		return core.Transaction{}, core.Invalidf("transaction id is required")
	}
	txs, err := s.store.Fetch(ctx, storage.Filter{ID: id})
	if err != nil {
		return core.Transaction{}, core.PersistenceError("fetch", err)
	}
	if len(txs) == 0 {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	return txs[0], nil
}

// ListSeries returns every member of the series or plan the transaction
// belongs to, ordered by date. A plain transaction is its own series.
func (s *SeriesService) ListSeries(ctx context.Context, id string) ([]core.Transaction, error) {
	target, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	txs, err := s.store.Fetch(ctx, membersFilter(target))
	if err != nil {
		return nil, core.PersistenceError("fetch", err)
	}
	return txs, nil
}

func (s *SeriesService) editSingle(ctx context.Context, tx storage.Tx, target core.Transaction, ch Changes) (*Result, error) {
	if target.IsInstallment() && !ch.onlyAmountAndDate() {
		return nil, core.Invalidf("an installment occurrence only accepts amount and date changes")
	}
	if ch.InstallmentCount != nil {
		return nil, core.Invalidf("installment count can only change with series scope")
	}
	if ch.EndDate != nil {
		return nil, core.Invalidf("end date can only change with future or series scope")
	}
	if r := ch.Recurrence; r != nil && *r != target.Recurrence && r.Repeats() {
		return nil, core.Invalidf("recurrence can only be set with series scope")
	}

	updated := ch.apply(target.Clone())
	if target.IsRecurring() && !updated.IsRecurring() {
		updated.SeriesID = s.expander.NewID()
		updated.SeriesEndDate = core.Date{}
	}
	if err := updated.Validate(); err != nil {
		return nil, err
	}
	if err := tx.Update(ctx, updated); err != nil {
		return nil, core.PersistenceError("update", err)
	}

	cs := newChangeSet()
	cs.add(target, updated)
	return &Result{
		Event:        cs.event(ChangeUpdate, 1),
		Transactions: []core.Transaction{updated},
	}, nil
}

func (s *SeriesService) editFuture(ctx context.Context, tx storage.Tx, target core.Transaction, ch Changes) (*Result, error) {
	if !target.IsRecurring() || target.IsInstallment() {
		return nil, core.Invalidf("future scope applies to recurring series only")
	}
	if ch.InstallmentCount != nil && *ch.InstallmentCount != 0 {
		return nil, core.Invalidf("installment count can only change with series scope")
	}

	// occurrences after the earlier of the old and new dates are replaced
	cutoff := target.Date
	if ch.Date != nil {
		prev, ok, err := predecessor(ctx, tx, target)
		if err != nil {
			return nil, err
		}
		if ok && !ch.Date.After(prev.Date.Time) {
			return nil, core.Invalidf("date %s must be after the previous occurrence on %s", *ch.Date, prev.Date)
		}
		if ch.Date.Before(cutoff.Time) {
			cutoff = *ch.Date
		}
	}
	filter := storage.Filter{SeriesID: target.SeriesID, After: cutoff}
	removed, err := tx.Fetch(ctx, filter)
	if err != nil {
		return nil, core.PersistenceError("fetch", err)
	}
	n, err := tx.DeleteWhere(ctx, filter)
	if err != nil {
		return nil, core.PersistenceError("delete", err)
	}
	targetRemoved := target.Date.After(cutoff.Time)
	if targetRemoved {
		n--
	}

	updated := ch.apply(target.Clone())
	if ch.EndDate != nil {
		updated.SeriesEndDate = *ch.EndDate
	}
	var tail []core.Transaction
	if updated.IsRecurring() {
		tail, err = s.expander.Recurring(&updated, updated.SeriesEndDate)
		if err != nil {
			return nil, err
		}
	} else {
		updated.SeriesID = s.expander.NewID()
		updated.SeriesEndDate = core.Date{}
	}
	if err := validateAll(append([]core.Transaction{updated}, tail...)); err != nil {
		return nil, err
	}

	if targetRemoved {
		err = tx.Insert(ctx, updated)
	} else {
		err = tx.Update(ctx, updated)
	}
	if err != nil {
		return nil, core.PersistenceError("update", err)
	}
	if len(tail) > 0 {
		if err := tx.Insert(ctx, tail...); err != nil {
			return nil, core.PersistenceError("insert", err)
		}
	}

	cs := newChangeSet()
	cs.add(target, updated)
	cs.add(removed...)
	cs.add(tail...)
	written := append([]core.Transaction{updated}, tail...)
	return &Result{
		Event:        cs.event(ChangeUpdate, len(written)+n),
		Transactions: written,
		Deleted:      n,
	}, nil
}

func (s *SeriesService) editSeries(ctx context.Context, tx storage.Tx, target core.Transaction, ch Changes) (*Result, error) {
	filter := membersFilter(target)
	members, err := tx.Fetch(ctx, filter)
	if err != nil {
		return nil, core.PersistenceError("fetch", err)
	}

	def := ch.applyDefinition(definitionOf(target, members)).normalized()
	if err := def.Validate(); err != nil {
		return nil, err
	}

	var seriesID, groupID string
	if def.Recurrence.Repeats() && target.IsRecurring() {
		seriesID = target.SeriesID
	}
	if def.IsInstallment() && target.IsInstallment() {
		groupID = target.Installment.GroupID
	}
	txs, err := s.build(def, seriesID, groupID)
	if err != nil {
		return nil, err
	}

	n, err := tx.DeleteWhere(ctx, filter)
	if err != nil {
		return nil, core.PersistenceError("delete", err)
	}
	if err := tx.Insert(ctx, txs...); err != nil {
		return nil, core.PersistenceError("insert", err)
	}

	cs := newChangeSet()
	cs.add(members...)
	cs.add(txs...)
	return &Result{
		Event:        cs.event(ChangeUpdate, n+len(txs)),
		Transactions: txs,
		Deleted:      n,
	}, nil
}

// build expands a definition into the transactions to insert. seriesID and
// groupID are reused when set, generated otherwise.
func (s *SeriesService) build(def Definition, seriesID, groupID string) ([]core.Transaction, error) {
	if def.IsInstallment() {
		tmpl := core.Transaction{
			Name:       def.Name,
			Kind:       def.Kind,
			CategoryID: def.CategoryID,
			AccountID:  def.AccountID,
			Recurrence: core.None,
		}
		txs, err := s.expander.Installments(tmpl, def.Amount, def.InstallmentCount, def.Date, groupID)
		if err != nil {
			return nil, err
		}
		return txs, validateAll(txs)
	}

	seed := core.Transaction{
		ID:         s.expander.NewID(),
		Name:       def.Name,
		Amount:     def.Amount,
		Date:       def.Date,
		Kind:       def.Kind,
		CategoryID: def.CategoryID,
		AccountID:  def.AccountID,
		Recurrence: def.Recurrence,
		SeriesID:   seriesID,
	}
	txs := []core.Transaction{}
	if def.Recurrence.Repeats() {
		tail, err := s.expander.Recurring(&seed, def.EndDate)
		if err != nil {
			return nil, err
		}
		txs = append(txs, seed)
		txs = append(txs, tail...)
	} else {
		seed.SeriesID = s.expander.NewID()
		txs = append(txs, seed)
	}
	return txs, validateAll(txs)
}

// mutate runs fn in one store transaction, then emits the change event once
// the lock is released. A context cancelled before the mutation starts aborts
// it; once started it runs to completion.
func (s *SeriesService) mutate(ctx context.Context, op string, fn func(context.Context, storage.Tx) (*Result, error)) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	runCtx := context.WithoutCancel(ctx)
	res, err := s.commit(ctx, runCtx, fn)
	if err != nil {
		if !isCategorized(err) && !errors.Is(err, ctx.Err()) {
			err = core.PersistenceError(op, err)
		}
		slog.ErrorContext(runCtx, "Series mutation failed",
			applog.NewFields().
				WithComponent(applog.ComponentSeries).
				WithOperation(op).
				WithError(err).
				ToSlice()...)
		return nil, err
	}

	fields := applog.NewFields().
		WithComponent(applog.ComponentSeries).
		WithOperation(op).
		WithSeries(res.Event.SeriesID, res.Event.InstallmentGroupID)
	fields[applog.FieldChangeKind] = res.Event.Kind
	fields[applog.FieldCount] = res.Event.Count
	slog.InfoContext(runCtx, "Series mutation committed", fields.ToSlice()...)

	if s.notifier != nil {
		if err := s.notifier.Notify(runCtx, res.Event); err != nil {
			// the mutation is committed; a lost notification is not a failure
			slog.ErrorContext(runCtx, "Failed to notify change",
				applog.NewFields().
					WithComponent(applog.ComponentSeries).
					WithSeries(res.Event.SeriesID, res.Event.InstallmentGroupID).
					WithError(err).
					ToSlice()...)
		}
	}
	return res, nil
}

// commit holds the mutation lock for the store transaction only.
func (s *SeriesService) commit(ctx, runCtx context.Context, fn func(context.Context, storage.Tx) (*Result, error)) (*Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var res *Result
	err := s.store.WithTx(runCtx, func(tx storage.Tx) error {
		r, err := fn(runCtx, tx)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	res.Event.OccurredAt = s.now().UTC()
	return res, nil
}

func loadTarget(ctx context.Context, tx storage.Tx, id string) (core.Transaction, error) {
	txs, err := tx.Fetch(ctx, storage.Filter{ID: id})
	if err != nil {
		return core.Transaction{}, core.PersistenceError("fetch", err)
	}
	if len(txs) == 0 {
		return core.Transaction{}, fmt.Errorf("transaction %s: %w", id, core.ErrNotFound)
	}
	return txs[0], nil
}

// predecessor returns the latest series occurrence dated before target.
func predecessor(ctx context.Context, tx storage.Tx, target core.Transaction) (core.Transaction, bool, error) {
	members, err := tx.Fetch(ctx, storage.Filter{SeriesID: target.SeriesID})
	if err != nil {
		return core.Transaction{}, false, core.PersistenceError("fetch", err)
	}
	var prev core.Transaction
	found := false
	for _, m := range members {
		if m.ID == target.ID || !m.Date.Before(target.Date.Time) {
			continue
		}
		prev, found = m, true
	}
	return prev, found, nil
}

// membersFilter selects the series or plan the transaction belongs to.
func membersFilter(tx core.Transaction) storage.Filter {
	switch {
	case tx.IsInstallment():
		return storage.Filter{InstallmentGroupID: tx.Installment.GroupID}
	case tx.IsRecurring():
		return storage.Filter{SeriesID: tx.SeriesID}
	default:
		return storage.Filter{ID: tx.ID}
	}
}

func identity(tx core.Transaction) (seriesID, groupID string) {
	if tx.IsInstallment() {
		return "", tx.Installment.GroupID
	}
	return tx.SeriesID, ""
}

func validateAll(txs []core.Transaction) error {
	for _, tx := range txs {
		if err := tx.Validate(); err != nil {
			return fmt.Errorf("transaction %s: %w", tx.Date, err)
		}
	}
	return nil
}

func isCategorized(err error) bool {
	return errors.Is(err, core.ErrInvalidArgument) ||
		errors.Is(err, core.ErrNotFound) ||
		errors.Is(err, core.ErrPersistence)
}
