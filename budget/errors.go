/*
errors.go - Centralized error types for the budget engine

PURPOSE:
  All error kinds in one place for consistency and discoverability.
  Store implementations and engines wrap these with additional context.

ERROR CATEGORIES:
  1. Mutation errors - Invalid amounts, broken references
  2. Lookup errors - Missing records, lines, links
  3. Sync errors - Parametric store unavailable (aborts the whole sync)

USAGE:
  Callers match with errors.Is / errors.As:

    if errors.Is(err, budget.ErrReferentialConflict) {
        // surface 409 with the conflicting children
    }

SEE ALSO:
  - store.go: Interfaces whose implementations return these errors
  - api/handlers.go: HTTP status mapping
*/
package budget

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrInvalidAmount is returned for negative or non-finite monetary input.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrOrphanReference is returned when an executive line item names a
	// parametric record that does not exist in the same project.
	ErrOrphanReference = errors.New("orphan reference")

	// ErrReferentialConflict is returned when deleting a parametric record
	// that still has executive line items attached.
	ErrReferentialConflict = errors.New("referential conflict")

	// ErrRecordNotFound is returned when a parametric record doesn't exist.
	ErrRecordNotFound = errors.New("parametric record not found")

	// ErrItemNotFound is returned when an executive line item doesn't exist.
	ErrItemNotFound = errors.New("executive line item not found")

	// ErrLineNotFound is returned when a schedule line doesn't exist.
	ErrLineNotFound = errors.New("schedule line not found")

	// ErrLinkNotFound is returned when a sync link doesn't exist.
	ErrLinkNotFound = errors.New("sync link not found")

	// ErrOverrideNotFound is returned when an override cell doesn't exist.
	ErrOverrideNotFound = errors.New("override cell not found")

	// ErrDuplicateCategory is returned when creating a second parametric
	// record for the same (project, major category).
	ErrDuplicateCategory = errors.New("parametric record already exists for category")

	// ErrParametricUnavailable is returned when the parametric store itself
	// cannot be read. This is the only failure that aborts a whole sync.
	ErrParametricUnavailable = errors.New("parametric store unavailable")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// OrphanReferenceError names the missing parent so callers can render an
// actionable message.
type OrphanReferenceError struct {
	ProjectID          ProjectID
	ParametricRecordID RecordID
}

func (e *OrphanReferenceError) Error() string {
	return fmt.Sprintf("parametric record %s does not exist in project %s",
		e.ParametricRecordID, e.ProjectID)
}

func (e *OrphanReferenceError) Unwrap() error { return ErrOrphanReference }

// ReferentialConflictError names the children blocking a delete.
type ReferentialConflictError struct {
	RecordID  RecordID
	ItemCount int
	ItemIDs   []ItemID
}

func (e *ReferentialConflictError) Error() string {
	return fmt.Sprintf("parametric record %s still has %d executive line item(s)",
		e.RecordID, e.ItemCount)
}

func (e *ReferentialConflictError) Unwrap() error { return ErrReferentialConflict }

// InvalidAmountError reports which field carried the bad value.
type InvalidAmountError struct {
	Field string
	Value string
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf("invalid amount for %s: %s (must be non-negative)", e.Field, e.Value)
}

func (e *InvalidAmountError) Unwrap() error { return ErrInvalidAmount }

// =============================================================================
// ERROR HELPERS
// =============================================================================

// IsClientError returns true if the error is due to invalid caller input.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrOrphanReference)
}

// IsConflict returns true if the error blocks a mutation because of existing
// state (dependent children, or a category that already has an estimate).
func IsConflict(err error) bool {
	return errors.Is(err, ErrReferentialConflict) ||
		errors.Is(err, ErrDuplicateCategory)
}

// IsNotFound returns true if the error indicates a missing record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound) ||
		errors.Is(err, ErrItemNotFound) ||
		errors.Is(err, ErrLineNotFound) ||
		errors.Is(err, ErrLinkNotFound) ||
		errors.Is(err, ErrOverrideNotFound)
}

// CheckAmount validates a monetary input field.
func CheckAmount(field string, m Money) error {
	if m.IsNegative() {
		return &InvalidAmountError{Field: field, Value: m.String()}
	}
	return nil
}
