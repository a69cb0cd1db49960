/*
Package budget provides the core construction-budget engine model.

PURPOSE:
  This package contains the shared types and store contracts for the
  three-tier budget hierarchy (parametric estimate → executive line items →
  residual), the schedule mirror (schedule lines + sync links), and the
  temporal distribution concepts (expense, progress, disbursement curves).

KEY CONCEPTS IN THIS FILE (types.go):
  - Money: A monetary amount backed by decimal.Decimal
  - ParametricRecord: Category-level estimate, one per (project, major category)
  - ExecutiveLineItem: quantity × unit price detail under a parametric record
  - ScheduleLine / SyncLink: the schedule mirror of parametric totals
  - Concept / OverrideCell: the distribution matrix vocabulary

DESIGN PRINCIPLES:
  1. Precision: Uses decimal.Decimal to avoid floating-point drift
  2. Type Safety: Strong typing for IDs prevents mixing record/line/link IDs
  3. Derived data stays derived: residual rows and distribution cells are
     recomputed on every read, never persisted (only overrides persist)

SEE ALSO:
  - month.go: Calendar month arithmetic for schedule placement
  - errors.go: Sentinel and structured error types
  - store.go: Persistence interfaces
*/
package budget

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// MONEY - Monetary amount in the project currency's minor units
// =============================================================================

type Money struct {
	Value decimal.Decimal
}

func NewMoney(value float64) Money {
	return Money{Value: decimal.NewFromFloat(value)}
}

func NewMoneyFromInt(value int64) Money {
	return Money{Value: decimal.NewFromInt(value)}
}

// NewMoneyFromFloat validates external numeric input. NaN and infinities are
// rejected rather than silently coerced.
func NewMoneyFromFloat(value float64) (Money, error) {
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return Money{}, ErrInvalidAmount
	}
	return Money{Value: decimal.NewFromFloat(value)}, nil
}

func MustParseMoney(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}
	}
	return Money{Value: d}
}

func ZeroMoney() Money { return Money{Value: decimal.Zero} }

func (m Money) Add(b Money) Money              { return Money{Value: m.Value.Add(b.Value)} }
func (m Money) Sub(b Money) Money              { return Money{Value: m.Value.Sub(b.Value)} }
func (m Money) Mul(s decimal.Decimal) Money    { return Money{Value: m.Value.Mul(s)} }
func (m Money) Div(s decimal.Decimal) Money    { return Money{Value: m.Value.Div(s)} }
func (m Money) Neg() Money                     { return Money{Value: m.Value.Neg()} }
func (m Money) IsNegative() bool               { return m.Value.IsNegative() }
func (m Money) IsZero() bool                   { return m.Value.IsZero() }
func (m Money) IsPositive() bool               { return m.Value.IsPositive() }
func (m Money) Equal(b Money) bool             { return m.Value.Equal(b.Value) }
func (m Money) GreaterThan(b Money) bool       { return m.Value.GreaterThan(b.Value) }
func (m Money) LessThan(b Money) bool          { return m.Value.LessThan(b.Value) }
func (m Money) Round2() Money                  { return Money{Value: m.Value.Round(2)} }
func (m Money) Float64() float64               { f, _ := m.Value.Float64(); return f }
func (m Money) String() string                 { return m.Value.StringFixed(2) }

// PercentOf returns part/total × 100 rounded to 2 places.
// A zero total yields 0, never a division error.
func PercentOf(part, total Money) decimal.Decimal {
	if total.IsZero() {
		return decimal.Zero
	}
	return part.Value.Div(total.Value).Mul(decimal.NewFromInt(100)).Round(2)
}

// =============================================================================
// IDENTIFIERS
// =============================================================================

type ProjectID string
type CategoryID string // major category ("mayor") within a department
type RecordID string   // parametric record
type ItemID string     // executive line item
type LineID string     // schedule line
type LinkID string     // sync link

// =============================================================================
// PARAMETRIC RECORD - Category-level estimate (one per project+major category)
// =============================================================================

type ParametricRecord struct {
	ID              RecordID
	ProjectID       ProjectID
	Department      string
	MajorCategoryID CategoryID
	MajorCategory   string // display name, e.g. "Cimentación"
	TotalAmount     Money
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// =============================================================================
// EXECUTIVE LINE ITEM - quantity × unit price detail under a parametric record
// =============================================================================

type ExecutiveLineItem struct {
	ID                 ItemID
	ProjectID          ProjectID
	ParametricRecordID RecordID
	Description        string
	Quantity           decimal.Decimal
	UnitPrice          Money
	Amount             Money // always derived: Quantity × UnitPrice
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ComputeAmount derives the item amount from quantity and unit price.
// Callers must never set Amount directly.
func (it *ExecutiveLineItem) ComputeAmount() {
	it.Amount = Money{Value: it.Quantity.Mul(it.UnitPrice.Value)}
}

// =============================================================================
// RESIDUAL ROW - Derived per parametric record, never persisted
// =============================================================================

type ResidualState string

const (
	ResidualWithin   ResidualState = "within"
	ResidualExceeded ResidualState = "exceeded"
)

type ResidualRow struct {
	RecordID        RecordID
	MajorCategoryID CategoryID
	MajorCategory   string
	Department      string
	ParametricTotal Money
	ExecutiveTotal  Money
	Residual        Money // ParametricTotal − ExecutiveTotal
	State           ResidualState
}

// =============================================================================
// SCHEDULE LINE - One row of the project schedule (Gantt-like)
// =============================================================================

type SyncState string

const (
	// SyncPendingDates: the line was just imported from the parametric budget
	// and has no time placement yet. A human must position it.
	SyncPendingDates SyncState = "pending_dates"

	// SyncSynced: the line mirrors the current parametric total and is placed.
	SyncSynced SyncState = "synced"

	// SyncOutOfSync: the backing major category no longer exists in the
	// parametric budget. The line is kept so manual placement survives.
	SyncOutOfSync SyncState = "out_of_sync"
)

type ScheduleLine struct {
	ID              LineID
	ProjectID       ProjectID
	MajorCategoryID CategoryID // empty for manually added lines
	Label           string
	Amount          Money
	StartMonth      Month
	StartWeek       int // 1..4 within the start month
	EndMonth        Month
	EndWeek         int
	Imported        bool // true when created by the sync engine
	SyncState       SyncState
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Placed reports whether the line has a usable time placement.
func (l ScheduleLine) Placed() bool {
	return !l.StartMonth.IsZero() && !l.EndMonth.IsZero() && !l.EndMonth.Before(l.StartMonth)
}

// =============================================================================
// SYNC LINK - Persistent mapping parametric category → schedule line
// =============================================================================

// SyncLink is the sole mapping between the budget hierarchy and the schedule.
// Invariant: while OverrideAmount is true the sync engine must never write
// the linked ScheduleLine's amount.
type SyncLink struct {
	ID              LinkID
	ProjectID       ProjectID
	MajorCategoryID CategoryID
	ScheduleLineID  LineID
	LastSyncedTotal Money
	LastSyncedAt    time.Time
	OverrideAmount  bool
}

// =============================================================================
// DISTRIBUTION CONCEPTS AND OVERRIDES
// =============================================================================

// Concept identifies one row of the distribution matrix.
type Concept string

const (
	ConceptExpense              Concept = "expense"
	ConceptPartialProgress      Concept = "partial_progress"
	ConceptCumulativeProgress   Concept = "cumulative_progress"
	ConceptDisbursement         Concept = "disbursement"
	ConceptCumulativeInvestment Concept = "cumulative_investment"
)

// Concepts lists every matrix concept in display order.
func Concepts() []Concept {
	return []Concept{
		ConceptExpense,
		ConceptPartialProgress,
		ConceptCumulativeProgress,
		ConceptDisbursement,
		ConceptCumulativeInvestment,
	}
}

func ParseConcept(s string) (Concept, error) {
	c := Concept(s)
	switch c {
	case ConceptExpense, ConceptPartialProgress, ConceptCumulativeProgress,
		ConceptDisbursement, ConceptCumulativeInvestment:
		return c, nil
	}
	return "", fmt.Errorf("unknown concept %q", s)
}

// OverrideCell is a manually entered matrix value. When present it is the
// source of truth for its (month, concept) pair.
type OverrideCell struct {
	ProjectID ProjectID
	Month     Month
	Concept   Concept
	Amount    Money
	CreatedAt time.Time
	UpdatedAt time.Time
}

// =============================================================================
// SYNC RUN - Audit record of one sync invocation
// =============================================================================

type SyncRun struct {
	ID              string
	ProjectID       ProjectID
	StartedAt       time.Time
	FinishedAt      time.Time
	Created         int
	Updated         int
	MarkedOutOfSync int
	ErrorCount      int
}
