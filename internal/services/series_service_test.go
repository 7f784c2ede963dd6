package services_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/golang/mock/gomock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"serie/internal/core"
	applog "serie/internal/log"
	"serie/internal/series"
	"serie/internal/services"
	"serie/internal/services/mocks"
	"serie/internal/storage"
)

func sequentialIDs() core.IDGenerator {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("id-%03d", n)
	}
}

func newService(store storage.Store, notifier services.Notifier) *services.SeriesService {
	expander := series.NewExpander(series.Options{NewID: sequentialIDs()})
	return services.NewSeriesService(store, expander, notifier)
}

func money(cents int64) core.Money { return core.Money{Cents: cents} }

func ptr[T any](v T) *T { return &v }

func monthlyRent(end core.Date) services.Definition {
	return services.Definition{
		Name:       "Rent",
		Amount:     money(90000),
		Date:       core.NewDate(2025, 1, 31),
		Kind:       core.Expense,
		CategoryID: "cat-home",
		AccountID:  "acc-1",
		Recurrence: core.Monthly,
		EndDate:    end,
	}
}

func phonePlan() services.Definition {
	return services.Definition{
		Name:             "Phone",
		Amount:           money(10000),
		Date:             core.NewDate(2025, 3, 10),
		Kind:             core.Expense,
		CategoryID:       "cat-tech",
		AccountID:        "acc-1",
		InstallmentCount: 3,
	}
}

func dates(txs []core.Transaction) []string {
	out := make([]string, len(txs))
	for i, tx := range txs {
		out[i] = tx.Date.String()
	}
	return out
}

func amounts(txs []core.Transaction) []int64 {
	out := make([]int64, len(txs))
	for i, tx := range txs {
		out[i] = tx.Amount.Cents
	}
	return out
}

func fetchAll(t *testing.T, s storage.Store, f storage.Filter) []core.Transaction {
	t.Helper()
	txs, err := s.Fetch(context.Background(), f)
	require.NoError(t, err)
	return txs
}

func TestSeriesService_CreateMonthlyClampsMonthEnds(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := newService(store, nil)

	res, err := svc.Create(context.Background(), monthlyRent(core.NewDate(2025, 4, 30)))
	require.NoError(t, err)

	assert.Equal(t, []string{"2025-01-31", "2025-02-28", "2025-03-31", "2025-04-30"}, dates(res.Transactions))
	seriesID := res.Transactions[0].SeriesID
	for _, tx := range res.Transactions {
		assert.Equal(t, seriesID, tx.SeriesID)
		assert.Equal(t, core.Monthly, tx.Recurrence)
		assert.Equal(t, "2025-04-30", tx.SeriesEndDate.String())
		assert.Nil(t, tx.Installment)
	}

	assert.Equal(t, services.ChangeAdd, res.Event.Kind)
	assert.Equal(t, 4, res.Event.Count)
	assert.Equal(t, seriesID, res.Event.SeriesID)
	assert.Equal(t, []string{"acc-1"}, res.Event.AccountIDs)
	assert.Equal(t, []string{"cat-home"}, res.Event.CategoryIDs)
	assert.False(t, res.Event.OccurredAt.IsZero())

	assert.Equal(t, 4, store.Len())
}

func TestSeriesService_CreateWithoutEndDateUsesHorizon(t *testing.T) {
	svc := newService(storage.NewMemoryStore(), nil)

	def := monthlyRent(core.Date{})
	def.Recurrence = core.Annual
	res, err := svc.Create(context.Background(), def)
	require.NoError(t, err)

	// five years of annual occurrences after the seed
	assert.Len(t, res.Transactions, 6)
	assert.True(t, res.Transactions[0].SeriesEndDate.IsEmpty())
	assert.Equal(t, "2030-01-31", res.Transactions[5].Date.String())
}

func TestSeriesService_CreateInstallmentPlan(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := newService(store, nil)

	res, err := svc.Create(context.Background(), phonePlan())
	require.NoError(t, err)
	require.Len(t, res.Transactions, 3)

	assert.Equal(t, []int64{3334, 3333, 3333}, amounts(res.Transactions))
	assert.Equal(t, []string{"2025-03-10", "2025-04-10", "2025-05-10"}, dates(res.Transactions))

	groupID := res.Transactions[0].Installment.GroupID
	seriesIDs := map[string]bool{}
	for i, tx := range res.Transactions {
		assert.Equal(t, fmt.Sprintf("Phone (%d/3)", i+1), tx.Name)
		assert.Equal(t, core.None, tx.Recurrence)
		require.NotNil(t, tx.Installment)
		assert.Equal(t, core.Installment{GroupID: groupID, Index: i + 1, Total: 3, OriginalAmount: money(10000)}, *tx.Installment)
		seriesIDs[tx.SeriesID] = true
	}
	assert.Len(t, seriesIDs, 3, "every installment is its own series")
	assert.Equal(t, groupID, res.Event.InstallmentGroupID)
	assert.Empty(t, res.Event.SeriesID)
}

func TestSeriesService_CreatePlain(t *testing.T) {
	svc := newService(storage.NewMemoryStore(), nil)

	res, err := svc.Create(context.Background(), services.Definition{
		Name:   "  Groceries ",
		Amount: money(4250),
		Date:   core.NewDate(2025, 2, 3),
		Kind:   core.Expense,
	})
	require.NoError(t, err)
	require.Len(t, res.Transactions, 1)

	tx := res.Transactions[0]
	assert.Equal(t, "Groceries", tx.Name)
	assert.Equal(t, core.None, tx.Recurrence)
	assert.NotEmpty(t, tx.SeriesID)
	assert.NotEqual(t, tx.ID, tx.SeriesID)
	assert.Empty(t, res.Event.AccountIDs)
}

func TestSeriesService_CreateRejectsInvalidDefinitions(t *testing.T) {
	tests := map[string]func(*services.Definition){
		"empty name":                 func(d *services.Definition) { d.Name = " " },
		"zero amount":                func(d *services.Definition) { d.Amount = money(0) },
		"zero date":                  func(d *services.Definition) { d.Date = core.Date{} },
		"unknown kind":               func(d *services.Definition) { d.Kind = "transfer" },
		"unknown recurrence":         func(d *services.Definition) { d.Recurrence = "weekly" },
		"recurring installment":      func(d *services.Definition) { d.InstallmentCount = 3 },
		"one installment":            func(d *services.Definition) { d.Recurrence = core.None; d.InstallmentCount = 1 },
		"too many installments":      func(d *services.Definition) { d.Recurrence = core.None; d.InstallmentCount = 37 },
		"end date without recurring": func(d *services.Definition) { d.Recurrence = core.None },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			store := storage.NewMemoryStore()
			svc := newService(store, nil)

			def := monthlyRent(core.NewDate(2025, 6, 30))
			mutate(&def)
			_, err := svc.Create(context.Background(), def)
			require.ErrorIs(t, err, core.ErrInvalidArgument)
			assert.Zero(t, store.Len(), "nothing is written on invalid input")
		})
	}
}

// sixMonths creates a monthly series Jan 15 .. Jun 15 2025.
func sixMonths(t *testing.T, svc *services.SeriesService) []core.Transaction {
	t.Helper()
	def := monthlyRent(core.NewDate(2025, 6, 15))
	def.Amount = money(10000)
	def.Date = core.NewDate(2025, 1, 15)
	res, err := svc.Create(context.Background(), def)
	require.NoError(t, err)
	require.Len(t, res.Transactions, 6)
	return res.Transactions
}

func TestSeriesService_EditFutureRegeneratesTail(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	svc := newService(store, nil)
	created := sixMonths(t, svc)
	third := created[2]

	res, err := svc.Edit(ctx, third.ID, services.Changes{Amount: ptr(money(20000))}, services.ScopeFuture)
	require.NoError(t, err)

	assert.Equal(t, 3, res.Deleted)
	require.Len(t, res.Transactions, 4)
	assert.Equal(t, third.ID, res.Transactions[0].ID)
	assert.Equal(t, services.ChangeUpdate, res.Event.Kind)
	assert.Equal(t, third.SeriesID, res.Event.SeriesID)

	members := fetchAll(t, store, storage.Filter{SeriesID: third.SeriesID})
	assert.Equal(t, []string{"2025-01-15", "2025-02-15", "2025-03-15", "2025-04-15", "2025-05-15", "2025-06-15"}, dates(members))
	assert.Equal(t, []int64{10000, 10000, 20000, 20000, 20000, 20000}, amounts(members))
	assert.Equal(t, 6, store.Len())
}

func TestSeriesService_EditFutureNewEndDateTruncates(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := newService(store, nil)
	created := sixMonths(t, svc)

	_, err := svc.Edit(context.Background(), created[1].ID, services.Changes{EndDate: ptr(core.NewDate(2025, 3, 31))}, services.ScopeFuture)
	require.NoError(t, err)

	members := fetchAll(t, store, storage.Filter{SeriesID: created[0].SeriesID})
	assert.Equal(t, []string{"2025-01-15", "2025-02-15", "2025-03-15"}, dates(members))
	assert.Equal(t, "2025-03-31", members[1].SeriesEndDate.String())
	assert.Equal(t, "2025-06-15", members[0].SeriesEndDate.String(), "earlier occurrences keep their bound")
}

func TestSeriesService_EditFutureStopRecurring(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := newService(store, nil)
	created := sixMonths(t, svc)
	third := created[2]

	res, err := svc.Edit(context.Background(), third.ID, services.Changes{Recurrence: ptr(core.None)}, services.ScopeFuture)
	require.NoError(t, err)
	require.Len(t, res.Transactions, 1)

	detached := res.Transactions[0]
	assert.NotEqual(t, third.SeriesID, detached.SeriesID)
	assert.True(t, detached.SeriesEndDate.IsEmpty())
	assert.Equal(t, core.None, detached.Recurrence)

	assert.Len(t, fetchAll(t, store, storage.Filter{SeriesID: third.SeriesID}), 2)
	assert.Equal(t, 3, store.Len())
}

func TestSeriesService_EditFutureMovesDateEarlier(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := newService(store, nil)
	created := sixMonths(t, svc)

	_, err := svc.Edit(context.Background(), created[2].ID, services.Changes{Date: ptr(core.NewDate(2025, 3, 1))}, services.ScopeFuture)
	require.NoError(t, err)

	members := fetchAll(t, store, storage.Filter{SeriesID: created[0].SeriesID})
	assert.Equal(t, []string{"2025-01-15", "2025-02-15", "2025-03-01", "2025-04-01", "2025-05-01", "2025-06-01"}, dates(members))
}

func TestSeriesService_EditFutureDateMustFollowPrevious(t *testing.T) {
	ctx := context.Background()
	original := []string{"2025-01-15", "2025-02-15", "2025-03-15", "2025-04-15", "2025-05-15", "2025-06-15"}

	for name, moved := range map[string]core.Date{
		"onto the previous occurrence": core.NewDate(2025, 2, 15),
		"just before the previous one": core.NewDate(2025, 2, 14),
		"before the series start":      core.NewDate(2025, 1, 1),
	} {
		t.Run(name, func(t *testing.T) {
			store := storage.NewMemoryStore()
			svc := newService(store, nil)
			created := sixMonths(t, svc)

			_, err := svc.Edit(ctx, created[2].ID, services.Changes{Date: ptr(moved)}, services.ScopeFuture)
			require.ErrorIs(t, err, core.ErrInvalidArgument)

			members := fetchAll(t, store, storage.Filter{SeriesID: created[0].SeriesID})
			assert.Equal(t, original, dates(members))
			assert.Equal(t, 6, store.Len())
		})
	}

	t.Run("first occurrence has no predecessor", func(t *testing.T) {
		store := storage.NewMemoryStore()
		svc := newService(store, nil)
		created := sixMonths(t, svc)

		_, err := svc.Edit(ctx, created[0].ID, services.Changes{Date: ptr(core.NewDate(2025, 1, 1))}, services.ScopeFuture)
		require.NoError(t, err)

		members := fetchAll(t, store, storage.Filter{SeriesID: created[0].SeriesID})
		assert.Equal(t, []string{"2025-01-01", "2025-02-01", "2025-03-01", "2025-04-01", "2025-05-01", "2025-06-01"}, dates(members))
	})
}

func TestSeriesService_EditFutureRequiresRecurring(t *testing.T) {
	store := storage.NewMemoryStore()
	svc := newService(store, nil)
	res, err := svc.Create(context.Background(), phonePlan())
	require.NoError(t, err)

	_, err = svc.Edit(context.Background(), res.Transactions[0].ID, services.Changes{Amount: ptr(money(1))}, services.ScopeFuture)
	require.ErrorIs(t, err, core.ErrInvalidArgument)
	assert.Equal(t, []int64{3334, 3333, 3333}, amounts(fetchAll(t, store, storage.Filter{})))
}

func TestSeriesService_EditSingle(t *testing.T) {
	ctx := context.Background()

	t.Run("recurring occurrence", func(t *testing.T) {
		store := storage.NewMemoryStore()
		svc := newService(store, nil)
		created := sixMonths(t, svc)

		res, err := svc.Edit(ctx, created[1].ID, services.Changes{
			Amount:     ptr(money(12345)),
			CategoryID: ptr("cat-other"),
		}, services.ScopeSingle)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Event.Count)
		assert.Equal(t, []string{"cat-home", "cat-other"}, res.Event.CategoryIDs)

		members := fetchAll(t, store, storage.Filter{SeriesID: created[0].SeriesID})
		assert.Equal(t, []int64{10000, 12345, 10000, 10000, 10000, 10000}, amounts(members))
	})

	t.Run("clearing recurrence detaches", func(t *testing.T) {
		store := storage.NewMemoryStore()
		svc := newService(store, nil)
		created := sixMonths(t, svc)

		res, err := svc.Edit(ctx, created[3].ID, services.Changes{Recurrence: ptr(core.None)}, services.ScopeSingle)
		require.NoError(t, err)
		assert.NotEqual(t, created[3].SeriesID, res.Transactions[0].SeriesID)
		assert.Equal(t, res.Transactions[0].SeriesID, res.Event.SeriesID)
		assert.Len(t, fetchAll(t, store, storage.Filter{SeriesID: created[0].SeriesID}), 5)
	})

	t.Run("new recurrence needs series scope", func(t *testing.T) {
		svc := newService(storage.NewMemoryStore(), nil)
		created := sixMonths(t, svc)

		_, err := svc.Edit(ctx, created[0].ID, services.Changes{Recurrence: ptr(core.Quarterly)}, services.ScopeSingle)
		require.ErrorIs(t, err, core.ErrInvalidArgument)
		_, err = svc.Edit(ctx, created[0].ID, services.Changes{EndDate: ptr(core.Date{})}, services.ScopeSingle)
		require.ErrorIs(t, err, core.ErrInvalidArgument)
	})

	t.Run("installment accepts amount and date only", func(t *testing.T) {
		store := storage.NewMemoryStore()
		svc := newService(store, nil)
		res, err := svc.Create(ctx, phonePlan())
		require.NoError(t, err)
		second := res.Transactions[1]

		_, err = svc.Edit(ctx, second.ID, services.Changes{Name: ptr("Tablet")}, services.ScopeSingle)
		require.ErrorIs(t, err, core.ErrInvalidArgument)

		_, err = svc.Edit(ctx, second.ID, services.Changes{
			Amount: ptr(money(5000)),
			Date:   ptr(core.NewDate(2025, 4, 20)),
		}, services.ScopeSingle)
		require.NoError(t, err)

		members := fetchAll(t, store, storage.Filter{InstallmentGroupID: second.Installment.GroupID})
		// no rebalancing of the other installments
		assert.Equal(t, []int64{3334, 5000, 3333}, amounts(members))
		assert.Equal(t, "2025-04-20", members[1].Date.String())
		assert.Equal(t, "Phone (2/3)", members[1].Name)
	})
}

func TestSeriesService_EditSeriesInstallmentPlan(t *testing.T) {
	ctx := context.Background()

	t.Run("new total keeps the group", func(t *testing.T) {
		store := storage.NewMemoryStore()
		svc := newService(store, nil)
		created, err := svc.Create(ctx, phonePlan())
		require.NoError(t, err)
		groupID := created.Event.InstallmentGroupID

		// editing through the last member still rebuilds from the first date
		res, err := svc.Edit(ctx, created.Transactions[2].ID, services.Changes{Amount: ptr(money(20000))}, services.ScopeSeries)
		require.NoError(t, err)
		assert.Equal(t, 3, res.Deleted)
		assert.Equal(t, groupID, res.Event.InstallmentGroupID)

		members := fetchAll(t, store, storage.Filter{InstallmentGroupID: groupID})
		assert.Equal(t, []int64{6667, 6667, 6666}, amounts(members))
		assert.Equal(t, []string{"2025-03-10", "2025-04-10", "2025-05-10"}, dates(members))
		assert.Equal(t, money(20000), members[0].Installment.OriginalAmount)
		assert.Equal(t, 3, store.Len())
	})

	t.Run("new count renames members", func(t *testing.T) {
		store := storage.NewMemoryStore()
		svc := newService(store, nil)
		created, err := svc.Create(ctx, phonePlan())
		require.NoError(t, err)

		_, err = svc.Edit(ctx, created.Transactions[0].ID, services.Changes{InstallmentCount: ptr(4)}, services.ScopeSeries)
		require.NoError(t, err)

		members := fetchAll(t, store, storage.Filter{InstallmentGroupID: created.Event.InstallmentGroupID})
		require.Len(t, members, 4)
		assert.Equal(t, []int64{2500, 2500, 2500, 2500}, amounts(members))
		assert.Equal(t, "Phone (4/4)", members[3].Name)
	})

	t.Run("count zero demotes to a plain transaction", func(t *testing.T) {
		store := storage.NewMemoryStore()
		svc := newService(store, nil)
		created, err := svc.Create(ctx, phonePlan())
		require.NoError(t, err)

		res, err := svc.Edit(ctx, created.Transactions[1].ID, services.Changes{InstallmentCount: ptr(0)}, services.ScopeSeries)
		require.NoError(t, err)
		require.Len(t, res.Transactions, 1)

		tx := res.Transactions[0]
		assert.Equal(t, "Phone", tx.Name)
		assert.Equal(t, money(10000), tx.Amount)
		assert.Equal(t, "2025-03-10", tx.Date.String())
		assert.Nil(t, tx.Installment)
		assert.Empty(t, res.Event.InstallmentGroupID)
		assert.Equal(t, 1, store.Len())
	})
}

func TestSeriesService_EditSeriesKeepsPlanStartWithoutFirstInstallment(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	svc := newService(store, nil)
	created, err := svc.Create(ctx, phonePlan())
	require.NoError(t, err)
	groupID := created.Event.InstallmentGroupID

	_, err = svc.Delete(ctx, created.Transactions[0].ID, services.DeleteSingle)
	require.NoError(t, err)

	_, err = svc.Edit(ctx, created.Transactions[1].ID, services.Changes{Amount: ptr(money(20000))}, services.ScopeSeries)
	require.NoError(t, err)

	members := fetchAll(t, store, storage.Filter{InstallmentGroupID: groupID})
	assert.Equal(t, []string{"2025-03-10", "2025-04-10", "2025-05-10"}, dates(members))
	assert.Equal(t, []int64{6667, 6667, 6666}, amounts(members))
}

func TestSeriesService_EditSeriesPromotesPlain(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	svc := newService(store, nil)

	created, err := svc.Create(ctx, services.Definition{
		Name: "Netflix", Amount: money(1399), Date: core.NewDate(2025, 1, 5), Kind: core.Expense,
	})
	require.NoError(t, err)

	res, err := svc.Edit(ctx, created.Transactions[0].ID, services.Changes{
		Recurrence: ptr(core.Monthly),
		EndDate:    ptr(core.NewDate(2025, 3, 5)),
	}, services.ScopeSeries)
	require.NoError(t, err)

	assert.Equal(t, 1, res.Deleted)
	assert.Equal(t, []string{"2025-01-05", "2025-02-05", "2025-03-05"}, dates(res.Transactions))
	assert.Len(t, fetchAll(t, store, storage.Filter{SeriesID: res.Event.SeriesID}), 3)
	assert.Equal(t, 3, store.Len())
}

func TestSeriesService_EditSeriesIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()
	svc := newService(store, nil)
	created := sixMonths(t, svc)

	change := services.Changes{Amount: ptr(money(15000)), Name: ptr("Rent + garage")}
	first, err := svc.Edit(ctx, created[3].ID, change, services.ScopeSeries)
	require.NoError(t, err)
	second, err := svc.Edit(ctx, first.Transactions[0].ID, change, services.ScopeSeries)
	require.NoError(t, err)

	assert.Equal(t, dates(first.Transactions), dates(second.Transactions))
	assert.Equal(t, amounts(first.Transactions), amounts(second.Transactions))
	assert.Equal(t, created[0].SeriesID, second.Event.SeriesID, "recurring edits keep the series id")
	assert.Equal(t, 6, store.Len())
}

func TestSeriesService_Delete(t *testing.T) {
	ctx := context.Background()

	t.Run("single occurrence", func(t *testing.T) {
		store := storage.NewMemoryStore()
		svc := newService(store, nil)
		created := sixMonths(t, svc)

		res, err := svc.Delete(ctx, created[2].ID, services.DeleteSingle)
		require.NoError(t, err)
		assert.Equal(t, 1, res.Deleted)
		assert.Equal(t, services.ChangeDelete, res.Event.Kind)
		assert.Equal(t, 5, store.Len())
	})

	t.Run("whole installment plan", func(t *testing.T) {
		store := storage.NewMemoryStore()
		svc := newService(store, nil)
		created, err := svc.Create(ctx, phonePlan())
		require.NoError(t, err)
		other, err := svc.Create(ctx, monthlyRent(core.NewDate(2025, 2, 28)))
		require.NoError(t, err)

		res, err := svc.Delete(ctx, created.Transactions[1].ID, services.DeleteSeries)
		require.NoError(t, err)
		assert.Equal(t, 3, res.Deleted)
		assert.Equal(t, 3, res.Event.Count)
		assert.Equal(t, created.Event.InstallmentGroupID, res.Event.InstallmentGroupID)
		assert.Equal(t, []string{"cat-tech"}, res.Event.CategoryIDs)

		remaining := fetchAll(t, store, storage.Filter{})
		assert.Len(t, remaining, len(other.Transactions))
	})
}

func TestSeriesService_NotFoundAndBadTargets(t *testing.T) {
	ctx := context.Background()
	svc := newService(storage.NewMemoryStore(), nil)

	_, err := svc.Edit(ctx, "missing", services.Changes{Name: ptr("x")}, services.ScopeSingle)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = svc.Delete(ctx, "missing", services.DeleteSeries)
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = svc.Get(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = svc.ListSeries(ctx, "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)

	_, err = svc.Edit(ctx, "", services.Changes{}, services.ScopeSingle)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
	_, err = svc.Edit(ctx, "x", services.Changes{}, services.EditScope(42))
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
	_, err = svc.Delete(ctx, "x", services.DeleteScope(0))
	assert.ErrorIs(t, err, core.ErrInvalidArgument)
}

func TestSeriesService_ListSeries(t *testing.T) {
	ctx := context.Background()
	svc := newService(storage.NewMemoryStore(), nil)
	created := sixMonths(t, svc)
	plain, err := svc.Create(ctx, services.Definition{
		Name: "Coffee", Amount: money(250), Date: core.NewDate(2025, 3, 1), Kind: core.Expense,
	})
	require.NoError(t, err)

	members, err := svc.ListSeries(ctx, created[4].ID)
	require.NoError(t, err)
	assert.Len(t, members, 6)
	assert.Equal(t, created[0].ID, members[0].ID)

	alone, err := svc.ListSeries(ctx, plain.Transactions[0].ID)
	require.NoError(t, err)
	assert.Len(t, alone, 1)
}

// failingStore runs mutations against a real memory store but fails every
// insert, so rollback can be observed.
type failingStore struct {
	*storage.MemoryStore
	err error
}

func (s failingStore) WithTx(ctx context.Context, fn func(storage.Tx) error) error {
	return s.MemoryStore.WithTx(ctx, func(tx storage.Tx) error {
		return fn(failingTx{Tx: tx, err: s.err})
	})
}

type failingTx struct {
	storage.Tx
	err error
}

func (t failingTx) Insert(context.Context, ...core.Transaction) error {
	return t.err
}

// brokenStore fails every transaction before running it.
type brokenStore struct {
	*storage.MemoryStore
	err error
}

func (s brokenStore) WithTx(context.Context, func(storage.Tx) error) error {
	return s.err
}

func TestSeriesService_PersistenceFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	mem := storage.NewMemoryStore()
	created := sixMonths(t, newService(mem, nil))

	cause := errors.New("disk I/O error")
	svc := newService(failingStore{MemoryStore: mem, err: cause}, nil)

	_, err := svc.Edit(ctx, created[0].ID, services.Changes{Amount: ptr(money(1))}, services.ScopeSeries)
	require.ErrorIs(t, err, core.ErrPersistence)
	require.ErrorIs(t, err, cause)

	// the batched delete that preceded the failed insert was rolled back
	members := fetchAll(t, mem, storage.Filter{SeriesID: created[0].SeriesID})
	assert.Len(t, members, 6)
	assert.Equal(t, []int64{10000, 10000, 10000, 10000, 10000, 10000}, amounts(members))

	broken := newService(brokenStore{MemoryStore: mem, err: cause}, nil)
	_, err = broken.Delete(ctx, created[0].ID, services.DeleteSeries)
	require.ErrorIs(t, err, core.ErrPersistence)
	require.ErrorIs(t, err, cause)
	assert.Equal(t, 6, mem.Len())
}

func TestSeriesService_CancelledContext(t *testing.T) {
	ctrl := gomock.NewController(t)
	notifier := mocks.NewMockNotifier(ctrl)

	store := storage.NewMemoryStore()
	svc := newService(store, notifier)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Create(ctx, monthlyRent(core.NewDate(2025, 4, 30)))
	require.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, store.Len())
}

func TestSeriesService_NotifiesAfterCommit(t *testing.T) {
	ctx := context.Background()
	ctrl := gomock.NewController(t)
	notifier := mocks.NewMockNotifier(ctrl)

	store := storage.NewMemoryStore()
	svc := newService(store, notifier)

	notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).DoAndReturn(
		func(_ context.Context, ev services.ChangeEvent) error {
			assert.Equal(t, services.ChangeAdd, ev.Kind)
			assert.Equal(t, 3, ev.Count)
			assert.Equal(t, 3, store.Len(), "event is sent after the commit")
			return nil
		}).Times(1)

	created, err := svc.Create(ctx, phonePlan())
	require.NoError(t, err)

	// a failing notifier does not undo a committed mutation
	notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(errors.New("broker down")).Times(1)
	res, err := svc.Delete(ctx, created.Transactions[0].ID, services.DeleteSeries)
	require.NoError(t, err)
	assert.Equal(t, 3, res.Deleted)
	assert.Zero(t, store.Len())
}

func TestSeriesService_NotifierMayMutate(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStore()

	var svc *services.SeriesService
	svc = newService(store, services.NotifierFunc(func(ctx context.Context, ev services.ChangeEvent) error {
		if ev.Kind != services.ChangeAdd {
			return nil
		}
		members, err := store.Fetch(ctx, storage.Filter{InstallmentGroupID: ev.InstallmentGroupID})
		if err != nil {
			return err
		}
		_, err = svc.Delete(ctx, members[0].ID, services.DeleteSeries)
		return err
	}))

	done := make(chan error, 1)
	go func() {
		_, err := svc.Create(ctx, phonePlan())
		done <- err
	}()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("a notifier calling back into the service blocked")
	}
	assert.Zero(t, store.Len())
}

func TestSeriesService_LogsCommittedMutation(t *testing.T) {
	var buf bytes.Buffer
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(&buf, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })

	svc := newService(storage.NewMemoryStore(), nil)
	created, err := svc.Create(context.Background(), phonePlan())
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "Series mutation committed", entry["msg"])
	assert.Equal(t, applog.ComponentSeries, entry[applog.FieldComponent])
	assert.Equal(t, applog.OpCreate, entry[applog.FieldOperation])
	assert.Equal(t, created.Event.InstallmentGroupID, entry[applog.FieldGroupID])
	assert.Equal(t, float64(3), entry[applog.FieldCount])
	assert.NotContains(t, entry, applog.FieldSeriesID, "empty ids are left out")
}

func TestSeriesService_InvalidEditDoesNotNotify(t *testing.T) {
	ctrl := gomock.NewController(t)
	notifier := mocks.NewMockNotifier(ctrl)
	notifier.EXPECT().Notify(gomock.Any(), gomock.Any()).Return(nil).Times(1)

	svc := newService(storage.NewMemoryStore(), notifier)
	created := sixMonths(t, svc)

	_, err := svc.Edit(context.Background(), created[0].ID, services.Changes{InstallmentCount: ptr(3)}, services.ScopeFuture)
	require.ErrorIs(t, err, core.ErrInvalidArgument)
}
