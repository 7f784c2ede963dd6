package core

import (
	"fmt"
	"regexp"

	"github.com/google/uuid"
)

// IDGenerator produces unique identifiers for transactions, series and
// installment groups.
type IDGenerator func() string

// NewID returns a random UUID string.
func NewID() string {
	return uuid.NewString()
}

var installmentSuffix = regexp.MustCompile(`\s*\(\d+/\d+\)$`)

// InstallmentName appends the " (i/n)" position suffix to a plan's root name.
func InstallmentName(root string, index, total int) string {
	return fmt.Sprintf("%s (%d/%d)", RootName(root), index, total)
}

// RootName strips a trailing " (i/n)" suffix, returning the name the user
// entered when the plan was created.
func RootName(name string) string {
	return installmentSuffix.ReplaceAllString(name, "")
}
