// Package series expands a single transaction definition into the
// occurrences of a recurring series or an installment plan.
//
// Both expansions are pure: they only build values. Persisting them is the
// caller's job.
package series

import (
	"fmt"

	"serie/internal/core"
)

const (
	// DefaultHorizonMonths bounds a recurring series that has no end date.
	// Five years, matching the legacy unbounded-recurrence default.
	DefaultHorizonMonths = 60

	// DefaultMaxOccurrences caps how many occurrences one expansion may
	// generate, regardless of the horizon.
	DefaultMaxOccurrences = 100
)

// Options tunes the recurrence expansion.
type Options struct {
	// HorizonMonths is used as the end date (seed date + N months) when the
	// series has no explicit end date.
	HorizonMonths int

	// MaxOccurrences caps the number of generated occurrences (the seed
	// itself is not counted).
	MaxOccurrences int

	// NewID generates transaction and series identifiers. Defaults to core.NewID.
	NewID core.IDGenerator
}

// DefaultOptions returns the production defaults.
func DefaultOptions() Options {
	return Options{
		HorizonMonths:  DefaultHorizonMonths,
		MaxOccurrences: DefaultMaxOccurrences,
		NewID:          core.NewID,
	}
}

// Expander builds recurring series and installment plans.
type Expander struct {
	opts Options
}

// NewExpander returns an Expander, filling zero options with defaults.
func NewExpander(opts Options) *Expander {
	def := DefaultOptions()
	if opts.HorizonMonths <= 0 {
		opts.HorizonMonths = def.HorizonMonths
	}
	if opts.MaxOccurrences <= 0 {
		opts.MaxOccurrences = def.MaxOccurrences
	}
	if opts.NewID == nil {
		opts.NewID = def.NewID
	}
	return &Expander{opts: opts}
}

// Options returns the effective options.
func (e *Expander) Options() Options {
	return e.opts
}

// NewID returns a fresh identifier from the configured generator.
func (e *Expander) NewID() string {
	return e.opts.NewID()
}

// Horizon returns the date generation stops at for a series starting on
// start: end itself when set, start plus the configured horizon otherwise.
func (e *Expander) Horizon(start, end core.Date) core.Date {
	if !end.IsEmpty() {
		return end
	}
	return core.AddMonths(start, e.opts.HorizonMonths)
}

// Recurring returns the occurrences that follow seed, strictly after its
// date and no later than end (or the configured horizon when end is empty).
//
// Occurrence k falls k*step months after the seed date, so end-of-month
// clamping never drifts: a series started on the 31st lands on the last
// day of shorter months and returns to the 31st afterwards.
//
// seed.SeriesID is assigned a fresh identifier when empty; the seed's
// SeriesEndDate is set to end. An end date before the seed yields no
// occurrences.
func (e *Expander) Recurring(seed *core.Transaction, end core.Date) ([]core.Transaction, error) {
	if seed == nil {
		return nil, core.Invalidf("nil seed")
	}
	step, err := seed.Recurrence.StepMonths()
	if err != nil {
		return nil, fmt.Errorf("expand recurrence %q: %w", seed.Recurrence, err)
	}
	if seed.IsInstallment() {
		return nil, core.ErrRecurringInstallment
	}
	if err := seed.Date.Validate(); err != nil {
		return nil, fmt.Errorf("%w: seed date: %v", core.ErrInvalidArgument, err)
	}

	if seed.SeriesID == "" {
		seed.SeriesID = e.opts.NewID()
	}
	seed.SeriesEndDate = end

	limit := e.Horizon(seed.Date, end)
	if limit.Before(seed.Date.Time) {
		return []core.Transaction{}, nil
	}

	out := make([]core.Transaction, 0, min(e.opts.MaxOccurrences, e.opts.HorizonMonths/step+1))
	for k := 1; len(out) < e.opts.MaxOccurrences; k++ {
		next := core.AddMonths(seed.Date, k*step)
		if next.After(limit.Time) {
			break
		}
		out = append(out, core.Transaction{
			ID:            e.opts.NewID(),
			Name:          seed.Name,
			Amount:        seed.Amount,
			Date:          next,
			Kind:          seed.Kind,
			CategoryID:    seed.CategoryID,
			AccountID:     seed.AccountID,
			Recurrence:    seed.Recurrence,
			SeriesID:      seed.SeriesID,
			SeriesEndDate: end,
		})
	}
	return out, nil
}
