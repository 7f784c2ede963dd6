package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"serie/internal/core"
	"serie/internal/services"
)

var errUsage = errors.New("usage: serie <create|edit|delete|get|list> [flags]")

// transactionView is the JSON shape printed for a transaction.
type transactionView struct {
	ID            string           `json:"id"`
	Name          string           `json:"name"`
	Amount        string           `json:"amount"`
	Date          string           `json:"date"`
	Kind          core.Kind        `json:"kind"`
	CategoryID    string           `json:"category_id,omitempty"`
	AccountID     string           `json:"account_id,omitempty"`
	Recurrence    core.Recurrence  `json:"recurrence"`
	SeriesID      string           `json:"series_id"`
	SeriesEndDate string           `json:"series_end_date,omitempty"`
	Installment   *installmentView `json:"installment,omitempty"`
}

type installmentView struct {
	GroupID        string `json:"group_id"`
	Index          int    `json:"index"`
	Total          int    `json:"total"`
	OriginalAmount string `json:"original_amount"`
}

type resultView struct {
	Event        services.ChangeEvent `json:"event"`
	Transactions []transactionView    `json:"transactions,omitempty"`
	Deleted      int                  `json:"deleted,omitempty"`
}

func viewOf(tx core.Transaction) transactionView {
	v := transactionView{
		ID:            tx.ID,
		Name:          tx.Name,
		Amount:        tx.Amount.String(),
		Date:          tx.Date.String(),
		Kind:          tx.Kind,
		CategoryID:    tx.CategoryID,
		AccountID:     tx.AccountID,
		Recurrence:    tx.Recurrence,
		SeriesID:      tx.SeriesID,
		SeriesEndDate: tx.SeriesEndDate.String(),
	}
	if inst := tx.Installment; inst != nil {
		v.Installment = &installmentView{
			GroupID:        inst.GroupID,
			Index:          inst.Index,
			Total:          inst.Total,
			OriginalAmount: inst.OriginalAmount.String(),
		}
	}
	return v
}

func viewsOf(txs []core.Transaction) []transactionView {
	out := make([]transactionView, len(txs))
	for i, tx := range txs {
		out[i] = viewOf(tx)
	}
	return out
}

func run(ctx context.Context, svc *services.SeriesService, args []string, out io.Writer) error {
	if len(args) == 0 {
		return errUsage
	}
	cmd, args := args[0], args[1:]

	var (
		v   any
		err error
	)
	switch cmd {
	case "create":
		v, err = runCreate(ctx, svc, args)
	case "edit":
		v, err = runEdit(ctx, svc, args)
	case "delete":
		v, err = runDelete(ctx, svc, args)
	case "get":
		v, err = runGet(ctx, svc, args)
	case "list":
		v, err = runList(ctx, svc, args)
	default:
		return fmt.Errorf("unknown command %q: %w", cmd, errUsage)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newFlagSet(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string) error {
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%s: %v: %w", fs.Name(), err, errUsage)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("%s: unexpected arguments %v: %w", fs.Name(), fs.Args(), errUsage)
	}
	return nil
}

type transactionFlags struct {
	name, amount, date, kind string
	category, account        string
	recurrence, end          string
	installments             int
}

func (f *transactionFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&f.name, "name", "", "transaction name")
	fs.StringVar(&f.amount, "amount", "", "amount, e.g. 12.50 (plan total for installments)")
	fs.StringVar(&f.date, "date", "", "date as YYYY-MM-DD (first occurrence)")
	fs.StringVar(&f.kind, "kind", "", "income or expense")
	fs.StringVar(&f.category, "category", "", "category id")
	fs.StringVar(&f.account, "account", "", "account id")
	fs.StringVar(&f.recurrence, "recurrence", "", "none, monthly, quarterly, semiannual or annual")
	fs.StringVar(&f.end, "end", "", "series end date as YYYY-MM-DD")
	fs.IntVar(&f.installments, "installments", 0, "number of installments (2-36)")
}

func runCreate(ctx context.Context, svc *services.SeriesService, args []string) (any, error) {
	fs := newFlagSet("create")
	var f transactionFlags
	f.register(fs)
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}

	def := services.Definition{
		Name:             f.name,
		CategoryID:       f.category,
		AccountID:        f.account,
		InstallmentCount: f.installments,
	}
	var err error
	if def.Amount, err = core.ParseMoney(f.amount); err != nil {
		return nil, err
	}
	if def.Date, err = core.ParseDate(f.date); err != nil {
		return nil, err
	}
	if def.Kind, err = core.ParseKind(f.kind); err != nil {
		return nil, err
	}
	if def.Recurrence, err = core.ParseRecurrence(f.recurrence); err != nil {
		return nil, err
	}
	if f.end != "" {
		if def.EndDate, err = core.ParseDate(f.end); err != nil {
			return nil, err
		}
	}

	res, err := svc.Create(ctx, def)
	if err != nil {
		return nil, err
	}
	return resultView{Event: res.Event, Transactions: viewsOf(res.Transactions)}, nil
}

func runEdit(ctx context.Context, svc *services.SeriesService, args []string) (any, error) {
	fs := newFlagSet("edit")
	var f transactionFlags
	f.register(fs)
	id := fs.String("id", "", "target transaction id")
	scopeName := fs.String("scope", "single", "single, future or series")
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}

	scope, err := services.ParseEditScope(*scopeName)
	if err != nil {
		return nil, err
	}
	changes, err := changesFrom(fs, f)
	if err != nil {
		return nil, err
	}
	if changes.IsEmpty() {
		return nil, core.Invalidf("edit: no changes given")
	}

	res, err := svc.Edit(ctx, *id, changes, scope)
	if err != nil {
		return nil, err
	}
	return resultView{Event: res.Event, Transactions: viewsOf(res.Transactions), Deleted: res.Deleted}, nil
}

// changesFrom builds Changes from the flags actually present on the
// command line.
func changesFrom(fs *flag.FlagSet, f transactionFlags) (services.Changes, error) {
	var (
		ch   services.Changes
		errs []error
	)
	fs.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "name":
			ch.Name = &f.name
		case "amount":
			m, err := core.ParseMoney(f.amount)
			errs = append(errs, err)
			ch.Amount = &m
		case "date":
			d, err := core.ParseDate(f.date)
			errs = append(errs, err)
			ch.Date = &d
		case "kind":
			k, err := core.ParseKind(f.kind)
			errs = append(errs, err)
			ch.Kind = &k
		case "category":
			ch.CategoryID = &f.category
		case "account":
			ch.AccountID = &f.account
		case "recurrence":
			r, err := core.ParseRecurrence(f.recurrence)
			errs = append(errs, err)
			ch.Recurrence = &r
		case "end":
			var d core.Date
			if strings.TrimSpace(f.end) != "" {
				var err error
				d, err = core.ParseDate(f.end)
				errs = append(errs, err)
			}
			ch.EndDate = &d
		case "installments":
			ch.InstallmentCount = &f.installments
		}
	})
	return ch, errors.Join(errs...)
}

func runDelete(ctx context.Context, svc *services.SeriesService, args []string) (any, error) {
	fs := newFlagSet("delete")
	id := fs.String("id", "", "target transaction id")
	scopeName := fs.String("scope", "single", "single or series")
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	scope, err := services.ParseDeleteScope(*scopeName)
	if err != nil {
		return nil, err
	}
	res, err := svc.Delete(ctx, *id, scope)
	if err != nil {
		return nil, err
	}
	return resultView{Event: res.Event, Deleted: res.Deleted}, nil
}

func runGet(ctx context.Context, svc *services.SeriesService, args []string) (any, error) {
	fs := newFlagSet("get")
	id := fs.String("id", "", "transaction id")
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	tx, err := svc.Get(ctx, *id)
	if err != nil {
		return nil, err
	}
	return viewOf(tx), nil
}

func runList(ctx context.Context, svc *services.SeriesService, args []string) (any, error) {
	fs := newFlagSet("list")
	id := fs.String("id", "", "id of any member of the series or plan")
	if err := parseFlags(fs, args); err != nil {
		return nil, err
	}
	txs, err := svc.ListSeries(ctx, *id)
	if err != nil {
		return nil, err
	}
	return viewsOf(txs), nil
}
