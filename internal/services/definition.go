package services

import (
	"fmt"
	"strings"

	"serie/internal/core"
	"serie/internal/series"
)

// EditScope selects how far an edit reaches into a series or plan.
type EditScope int

const (
	// ScopeSingle changes only the target occurrence.
	ScopeSingle EditScope = iota + 1
	// ScopeFuture changes the target and regenerates the occurrences after it.
	ScopeFuture
	// ScopeSeries rebuilds the whole series or installment plan.
	ScopeSeries
)

func (s EditScope) String() string {
	switch s {
	case ScopeSingle:
		return "single"
	case ScopeFuture:
		return "future"
	case ScopeSeries:
		return "series"
	default:
		return fmt.Sprintf("EditScope(%d)", int(s))
	}
}

func ParseEditScope(s string) (EditScope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "single", "this":
		return ScopeSingle, nil
	case "future":
		return ScopeFuture, nil
	case "series", "all":
		return ScopeSeries, nil
	}
	return 0, core.Invalidf("unknown edit scope %q", s)
}

// DeleteScope selects whether a delete removes one occurrence or all of them.
type DeleteScope int

const (
	DeleteSingle DeleteScope = iota + 1
	DeleteSeries
)

func (s DeleteScope) String() string {
	switch s {
	case DeleteSingle:
		return "single"
	case DeleteSeries:
		return "series"
	default:
		return fmt.Sprintf("DeleteScope(%d)", int(s))
	}
}

func ParseDeleteScope(s string) (DeleteScope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "single", "this":
		return DeleteSingle, nil
	case "series", "all":
		return DeleteSeries, nil
	}
	return 0, core.Invalidf("unknown delete scope %q", s)
}

// Definition is what the user enters to create a transaction: a plain one,
// a recurring series (Recurrence set) or an installment plan
// (InstallmentCount set, Amount being the plan total).
type Definition struct {
	Name             string
	Amount           core.Money
	Date             core.Date
	Kind             core.Kind
	CategoryID       string
	AccountID        string
	Recurrence       core.Recurrence
	EndDate          core.Date // recurring only; empty means the default horizon
	InstallmentCount int       // 0 for non-installment definitions
}

func (d Definition) normalized() Definition {
	if d.Recurrence == "" {
		d.Recurrence = core.None
	}
	d.Name = strings.TrimSpace(d.Name)
	return d
}

func (d Definition) IsInstallment() bool {
	return d.InstallmentCount > 0
}

// Validate rejects definitions the expansion engines cannot honour.
func (d Definition) Validate() error {
	if err := d.Date.Validate(); err != nil {
		return fmt.Errorf("%w: date: %v", core.ErrInvalidArgument, err)
	}
	if d.Name == "" {
		return core.ErrEmptyName
	}
	if err := d.Amount.Validate(); err != nil {
		return err
	}
	if !d.Kind.Valid() {
		return core.ErrInvalidKind
	}
	if !d.Recurrence.Valid() {
		return core.ErrInvalidRecurrence
	}
	if d.InstallmentCount != 0 {
		if d.Recurrence.Repeats() {
			return core.ErrRecurringInstallment
		}
		if d.InstallmentCount < series.MinInstallments || d.InstallmentCount > series.MaxInstallments {
			return fmt.Errorf("%w (got %d)", core.ErrInstallmentCount, d.InstallmentCount)
		}
	}
	if !d.EndDate.IsEmpty() && !d.Recurrence.Repeats() {
		return core.Invalidf("end date requires a recurrence")
	}
	return nil
}

// Changes lists the fields an edit sets. Nil fields are left unchanged.
type Changes struct {
	Name       *string
	Amount     *core.Money
	Date       *core.Date
	Kind       *core.Kind
	CategoryID *string
	AccountID  *string
	Recurrence *core.Recurrence
	// EndDate set to an empty date removes the bound.
	EndDate *core.Date
	// InstallmentCount set to 0 turns a plan back into a plain transaction.
	InstallmentCount *int
}

// Validate checks the supplied values on their own; combination rules are
// checked against the target by each scope.
func (c Changes) Validate() error {
	if c.Name != nil && strings.TrimSpace(*c.Name) == "" {
		return core.ErrEmptyName
	}
	if c.Amount != nil {
		if err := c.Amount.Validate(); err != nil {
			return err
		}
	}
	if c.Date != nil {
		if err := c.Date.Validate(); err != nil {
			return fmt.Errorf("%w: date: %v", core.ErrInvalidArgument, err)
		}
	}
	if c.Kind != nil && !c.Kind.Valid() {
		return core.ErrInvalidKind
	}
	if c.Recurrence != nil && !c.Recurrence.Valid() {
		return core.ErrInvalidRecurrence
	}
	if n := c.InstallmentCount; n != nil && *n != 0 {
		if *n < series.MinInstallments || *n > series.MaxInstallments {
			return fmt.Errorf("%w (got %d)", core.ErrInstallmentCount, *n)
		}
		if c.Recurrence != nil && c.Recurrence.Repeats() {
			return core.ErrRecurringInstallment
		}
	}
	return nil
}

// IsEmpty reports whether the edit changes nothing.
func (c Changes) IsEmpty() bool {
	return c == Changes{}
}

// onlyAmountAndDate reports whether the edit is limited to the fields an
// installment occurrence may change on its own.
func (c Changes) onlyAmountAndDate() bool {
	rest := c
	rest.Amount, rest.Date = nil, nil
	return rest.IsEmpty()
}

// apply copies the per-occurrence fields onto tx.
func (c Changes) apply(tx core.Transaction) core.Transaction {
	if c.Name != nil {
		tx.Name = strings.TrimSpace(*c.Name)
	}
	if c.Amount != nil {
		tx.Amount = *c.Amount
	}
	if c.Date != nil {
		tx.Date = *c.Date
	}
	if c.Kind != nil {
		tx.Kind = *c.Kind
	}
	if c.CategoryID != nil {
		tx.CategoryID = *c.CategoryID
	}
	if c.AccountID != nil {
		tx.AccountID = *c.AccountID
	}
	if c.Recurrence != nil {
		tx.Recurrence = *c.Recurrence
	}
	return tx
}

// applyDefinition copies the changes onto a definition. Switching to an
// installment plan clears the recurrence and switching to a recurrence
// clears the installment count, unless the edit sets both explicitly.
func (c Changes) applyDefinition(d Definition) Definition {
	if c.Name != nil {
		d.Name = *c.Name
	}
	if c.Amount != nil {
		d.Amount = *c.Amount
	}
	if c.Date != nil {
		d.Date = *c.Date
	}
	if c.Kind != nil {
		d.Kind = *c.Kind
	}
	if c.CategoryID != nil {
		d.CategoryID = *c.CategoryID
	}
	if c.AccountID != nil {
		d.AccountID = *c.AccountID
	}
	if c.Recurrence != nil {
		d.Recurrence = *c.Recurrence
		if d.Recurrence.Repeats() && c.InstallmentCount == nil {
			d.InstallmentCount = 0
		}
	}
	if c.InstallmentCount != nil {
		d.InstallmentCount = *c.InstallmentCount
		if d.InstallmentCount > 0 && c.Recurrence == nil {
			d.Recurrence = core.None
		}
	}
	if c.EndDate != nil {
		d.EndDate = *c.EndDate
	}
	if !d.Recurrence.Repeats() {
		d.EndDate = core.Date{}
	}
	return d
}

// definitionOf reconstructs the definition a stored series or plan was
// created from. members must be ordered as returned by the store.
func definitionOf(target core.Transaction, members []core.Transaction) Definition {
	d := Definition{
		Name:       target.Name,
		Amount:     target.Amount,
		Date:       target.Date,
		Kind:       target.Kind,
		CategoryID: target.CategoryID,
		AccountID:  target.AccountID,
		Recurrence: target.Recurrence,
	}
	if len(members) > 0 {
		d.Date = members[0].Date
	}
	switch {
	case target.IsInstallment():
		inst := target.Installment
		d.Name = core.RootName(target.Name)
		d.Amount = inst.OriginalAmount
		d.InstallmentCount = inst.Total
		d.Recurrence = core.None
		// the plan starts Index-1 months before its lowest remaining installment
		var first *core.Transaction
		for i, m := range members {
			if m.Installment != nil && (first == nil || m.Installment.Index < first.Installment.Index) {
				first = &members[i]
			}
		}
		if first != nil {
			d.Date = core.AddMonths(first.Date, -(first.Installment.Index - 1))
		}
	case target.IsRecurring():
		d.EndDate = target.SeriesEndDate
	}
	return d
}
