package core

import (
	"errors"
	"strings"
	"time"
)

const (
	None       Recurrence = "none"
	Monthly    Recurrence = "monthly"
	Quarterly  Recurrence = "quarterly"
	Semiannual Recurrence = "semiannual"
	Annual     Recurrence = "annual"
)

const (
	Income  Kind = "income"
	Expense Kind = "expense"
)

type (
	// Recurrence is the repetition policy of a transaction series.
	Recurrence string

	Kind string

	Date struct {
		time.Time
	}

	Money struct {
		Cents int64
	}

	// Installment links one occurrence to the plan it was split from.
	Installment struct {
		GroupID        string
		Index          int // 1-based
		Total          int
		OriginalAmount Money
	}

	Transaction struct {
		ID            string
		Name          string
		Amount        Money
		Date          Date
		Kind          Kind
		CategoryID    string // optional
		AccountID     string // optional
		Recurrence    Recurrence
		SeriesID      string
		SeriesEndDate Date         // zero when the series is unbounded
		Installment   *Installment // nil unless part of an installment plan
	}
)

// recurrenceSteps maps each repeating policy to its step in months.
var recurrenceSteps = map[Recurrence]int{
	Monthly:    1,
	Quarterly:  3,
	Semiannual: 6,
	Annual:     12,
}

// StepMonths returns the number of months between two occurrences of r.
func (r Recurrence) StepMonths() (int, error) {
	step, ok := recurrenceSteps[r]
	if !ok {
		return 0, ErrInvalidRecurrence
	}
	return step, nil
}

// Repeats reports whether r generates a series.
func (r Recurrence) Repeats() bool {
	_, ok := recurrenceSteps[r]
	return ok
}

func (r Recurrence) Valid() bool {
	return r == None || r.Repeats()
}

// ParseRecurrence accepts the policy names, case-insensitively. An empty
// string means None.
func ParseRecurrence(s string) (Recurrence, error) {
	r := Recurrence(strings.ToLower(strings.TrimSpace(s)))
	if r == "" {
		return None, nil
	}
	if !r.Valid() {
		return "", ErrInvalidRecurrence
	}
	return r, nil
}

func (k Kind) Valid() bool {
	return k == Income || k == Expense
}

func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if !k.Valid() {
		return "", ErrInvalidKind
	}
	return k, nil
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	// Check basic ranges
	_, month, day := d.Date()
	if day < 1 || day > 31 {
		return ErrInvalidDay
	}
	if month < 1 || month > 12 {
		return ErrInvalidMonth
	}
	return nil
}

// Day returns the day of the month
func (d Date) Day() int {
	return d.Time.Day()
}

// Month returns the month
func (d Date) Month() int {
	return int(d.Time.Month())
}

// Year returns the year
func (d Date) Year() int {
	return d.Time.Year()
}

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// IsEmpty returns true if the date is zero (used for optional dates)
func (d Date) IsEmpty() bool {
	return d.IsZero()
}

func (m Money) Validate() error {
	if m.Cents <= 0 {
		return ErrInvalidAmount
	}
	return nil
}

// IsInstallment reports whether t belongs to an installment plan.
func (t Transaction) IsInstallment() bool {
	return t.Installment != nil
}

// IsRecurring reports whether t belongs to a recurring series.
func (t Transaction) IsRecurring() bool {
	return t.Recurrence.Repeats()
}

// Clone returns a copy of t that shares no pointers with it.
func (t Transaction) Clone() Transaction {
	if t.Installment != nil {
		inst := *t.Installment
		t.Installment = &inst
	}
	return t
}

func (t Transaction) Validate() error {
	if err := t.Date.Validate(); err != nil {
		return err
	}
	if len(strings.TrimSpace(t.Name)) == 0 {
		return ErrEmptyName
	}
	if len(t.Name) > 200 {
		return errors.New("name too long (max 200 characters)")
	}
	if t.IsInstallment() {
		// a plan smaller in cents than its count has zero-amount tail members
		if t.Amount.Cents < 0 {
			return ErrInvalidAmount
		}
	} else if err := t.Amount.Validate(); err != nil {
		return err
	}
	if !t.Kind.Valid() {
		return ErrInvalidKind
	}
	if !t.Recurrence.Valid() {
		return ErrInvalidRecurrence
	}
	if t.IsInstallment() && t.IsRecurring() {
		return ErrRecurringInstallment
	}
	if t.IsInstallment() {
		inst := t.Installment
		if inst.GroupID == "" {
			return errors.New("installment group id is required")
		}
		if inst.Index < 1 || inst.Index > inst.Total {
			return errors.New("installment index out of range")
		}
	}
	return nil
}
