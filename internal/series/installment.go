package series

import (
	"fmt"

	"serie/internal/core"
)

const (
	MinInstallments = 2
	MaxInstallments = 36
)

// Installment is one dated part of a split amount.
type Installment struct {
	Index  int // 1-based
	Amount core.Money
	Date   core.Date
}

// Split divides total into count monthly installments starting on start.
//
// Every installment gets total/count rounded down to the cent; the leftover
// cents go one at a time to the earliest installments, so the parts always
// add up to total exactly.
func Split(total core.Money, count int, start core.Date) ([]Installment, error) {
	if count < MinInstallments || count > MaxInstallments {
		return nil, fmt.Errorf("%w (got %d)", core.ErrInstallmentCount, count)
	}
	if err := total.Validate(); err != nil {
		return nil, err
	}
	if err := start.Validate(); err != nil {
		return nil, fmt.Errorf("%w: start date: %v", core.ErrInvalidArgument, err)
	}

	base := total.Cents / int64(count)
	remainder := total.Cents % int64(count)

	out := make([]Installment, count)
	for i := range out {
		amount := base
		if int64(i) < remainder {
			amount++
		}
		out[i] = Installment{
			Index:  i + 1,
			Amount: core.Money{Cents: amount},
			Date:   core.AddMonths(start, i),
		}
	}
	return out, nil
}

// Installments builds the transactions of an installment plan. tmpl supplies
// the name root, kind, category and account; groupID links the members and
// is generated when empty.
func (e *Expander) Installments(tmpl core.Transaction, total core.Money, count int, start core.Date, groupID string) ([]core.Transaction, error) {
	if tmpl.IsRecurring() {
		return nil, core.ErrRecurringInstallment
	}
	parts, err := Split(total, count, start)
	if err != nil {
		return nil, err
	}
	if groupID == "" {
		groupID = e.opts.NewID()
	}

	root := core.RootName(tmpl.Name)
	out := make([]core.Transaction, 0, len(parts))
	for _, p := range parts {
		out = append(out, core.Transaction{
			ID:         e.opts.NewID(),
			Name:       core.InstallmentName(root, p.Index, count),
			Amount:     p.Amount,
			Date:       p.Date,
			Kind:       tmpl.Kind,
			CategoryID: tmpl.CategoryID,
			AccountID:  tmpl.AccountID,
			Recurrence: core.None,
			SeriesID:   e.opts.NewID(),
			Installment: &core.Installment{
				GroupID:        groupID,
				Index:          p.Index,
				Total:          count,
				OriginalAmount: total,
			},
		})
	}
	return out, nil
}
