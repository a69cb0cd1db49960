/*
Package distribution turns schedule lines into month-by-month expense,
progress, and disbursement curves.

PURPOSE:
  Given a project's schedule lines (each spanning a start/end month range)
  and the total scheduled budget, compute per-month values for five concepts:
  expense, partial progress, cumulative progress, disbursement, and
  cumulative investment. Cell-level manual overrides win over any computed
  value.

DISTRIBUTION POLICY:
  A category's budget is divided EQUALLY across the months its lines touch.
  This deliberately matches the legacy behavior: no S-curve or front-loading.
  Downstream disbursement comparisons assume equal distribution, so do not
  "improve" this policy without changing both sides.

ROUNDING:
  Monthly shares are rounded to 2 decimal places with the remainder folded
  into the final month of the span, so a line's shares always sum exactly to
  its budget.

EDGE CASES:
  - total budget 0  ⇒ every percentage concept is 0, never NaN
  - horizon 0       ⇒ empty matrix, not an error
  - unplaced lines  ⇒ excluded from the expense spread, still counted in the
                      total budget (they have an amount but no time range yet)

SEE ALSO:
  - schedule/sync.go: Maintains the lines this engine reads
  - budget/types.go: Concept and OverrideCell definitions
*/
package distribution

import (
	"context"
	"fmt"
	"sort"

	"github.com/archiflow/budget-engine/budget"
	"github.com/shopspring/decimal"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine computes distribution matrices. Pure read; no locking needed.
type Engine struct {
	Schedule  budget.ScheduleStore
	Overrides budget.OverrideStore
}

func NewEngine(schedule budget.ScheduleStore, overrides budget.OverrideStore) *Engine {
	return &Engine{Schedule: schedule, Overrides: overrides}
}

// =============================================================================
// MATRIX TYPES
// =============================================================================

// MonthCell holds every concept's value for one month of the horizon.
// Progress and investment concepts are percentages (0–100).
type MonthCell struct {
	Month                budget.Month
	Expense              budget.Money
	PartialProgress      decimal.Decimal
	CumulativeProgress   decimal.Decimal
	Disbursement         budget.Money
	CumulativeInvestment decimal.Decimal

	// Overridden lists the concepts whose value came from a manual cell.
	Overridden []budget.Concept
}

// Matrix is the month-by-month distribution for one project.
type Matrix struct {
	ProjectID   budget.ProjectID
	Start       budget.Month
	Horizon     int
	TotalBudget budget.Money
	Cells       []MonthCell
}

// =============================================================================
// DISTRIBUTION
// =============================================================================

// Distribute computes the matrix over a horizon of months. The horizon is
// anchored at the earliest placed start month (current month when nothing is
// placed yet).
func (e *Engine) Distribute(ctx context.Context, project budget.ProjectID, horizon int) (*Matrix, error) {
	lines, err := e.Schedule.ListLines(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("list schedule lines: %w", err)
	}

	matrix := &Matrix{ProjectID: project, Horizon: horizon}

	var start budget.Month
	for _, line := range lines {
		matrix.TotalBudget = matrix.TotalBudget.Add(line.Amount)
		if line.Placed() {
			start = budget.MinMonth(start, line.StartMonth)
		}
	}
	if start.IsZero() {
		start = budget.CurrentMonth()
	}
	matrix.Start = start

	if horizon <= 0 {
		return matrix, nil
	}

	// Per-month expense sums, keyed by offset from the anchor month.
	expense := make([]budget.Money, horizon)
	for _, group := range groupLinesOrdered(lines) {
		spreadGroup(group, start, horizon, expense)
	}

	// Disbursement baseline: equal split of the total budget across the
	// horizon, absent any externally supplied payment schedule.
	disbursement := splitEqually(matrix.TotalBudget, horizon)

	cumulativeExpense := budget.ZeroMoney()
	cumulativeDisbursed := budget.ZeroMoney()

	matrix.Cells = make([]MonthCell, horizon)
	for i := 0; i < horizon; i++ {
		cumulativeExpense = cumulativeExpense.Add(expense[i])
		cumulativeDisbursed = cumulativeDisbursed.Add(disbursement[i])

		matrix.Cells[i] = MonthCell{
			Month:                start.Add(i),
			Expense:              expense[i],
			PartialProgress:      budget.PercentOf(expense[i], matrix.TotalBudget),
			CumulativeProgress:   budget.PercentOf(cumulativeExpense, matrix.TotalBudget),
			Disbursement:         disbursement[i],
			CumulativeInvestment: budget.PercentOf(cumulativeDisbursed, matrix.TotalBudget),
		}
	}

	if err := e.applyOverrides(ctx, project, matrix); err != nil {
		return nil, err
	}

	return matrix, nil
}

// lineGroup gathers the placed lines of one major category (manual lines,
// which carry no category, each form their own group).
type lineGroup struct {
	amount budget.Money
	months map[int]bool // absolute month indices touched by the group's lines
	first  budget.Month
	last   budget.Month
}

func groupLines(lines []budget.ScheduleLine) map[string]*lineGroup {
	groups := make(map[string]*lineGroup)
	for _, line := range lines {
		if !line.Placed() {
			continue
		}
		key := string(line.MajorCategoryID)
		if key == "" {
			key = "line:" + string(line.ID)
		}
		g, ok := groups[key]
		if !ok {
			g = &lineGroup{months: make(map[int]bool)}
			groups[key] = g
		}
		g.amount = g.amount.Add(line.Amount)
		for _, m := range line.StartMonth.SpanTo(line.EndMonth) {
			g.months[monthIndex(m)] = true
			g.first = budget.MinMonth(g.first, m)
			g.last = budget.MaxMonth(g.last, m)
		}
	}
	return groups
}

// groupLinesOrdered returns groups in a deterministic order so rounding
// remainders land identically on every call.
func groupLinesOrdered(lines []budget.ScheduleLine) []*lineGroup {
	groups := groupLines(lines)
	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make([]*lineGroup, len(keys))
	for i, k := range keys {
		ordered[i] = groups[k]
	}
	return ordered
}

// spreadGroup divides a group's budget equally across its touched months and
// accumulates the shares that fall inside the horizon.
func spreadGroup(g *lineGroup, start budget.Month, horizon int, expense []budget.Money) {
	if len(g.months) == 0 {
		return
	}

	// Ordered list of the group's months.
	var active []budget.Month
	for _, m := range g.first.SpanTo(g.last) {
		if g.months[monthIndex(m)] {
			active = append(active, m)
		}
	}

	shares := splitEqually(g.amount, len(active))
	for i, m := range active {
		offset := monthIndex(m) - monthIndex(start)
		if offset < 0 || offset >= horizon {
			continue
		}
		expense[offset] = expense[offset].Add(shares[i])
	}
}

// splitEqually divides total into n shares rounded to 2 places, folding the
// rounding remainder into the last share so the shares sum exactly to total.
func splitEqually(total budget.Money, n int) []budget.Money {
	shares := make([]budget.Money, n)
	if n == 0 {
		return shares
	}
	per := total.Div(decimal.NewFromInt(int64(n))).Round2()
	running := budget.ZeroMoney()
	for i := 0; i < n-1; i++ {
		shares[i] = per
		running = running.Add(per)
	}
	shares[n-1] = total.Sub(running)
	return shares
}

// =============================================================================
// OVERRIDE APPLICATION - Final pass, never merged partially
// =============================================================================

func (e *Engine) applyOverrides(ctx context.Context, project budget.ProjectID, matrix *Matrix) error {
	cells, err := e.Overrides.ListOverrides(ctx, project)
	if err != nil {
		return fmt.Errorf("list overrides: %w", err)
	}

	for _, cell := range cells {
		offset := monthIndex(cell.Month) - monthIndex(matrix.Start)
		if offset < 0 || offset >= len(matrix.Cells) {
			continue
		}
		target := &matrix.Cells[offset]
		switch cell.Concept {
		case budget.ConceptExpense:
			target.Expense = cell.Amount
		case budget.ConceptPartialProgress:
			target.PartialProgress = cell.Amount.Value
		case budget.ConceptCumulativeProgress:
			target.CumulativeProgress = cell.Amount.Value
		case budget.ConceptDisbursement:
			target.Disbursement = cell.Amount
		case budget.ConceptCumulativeInvestment:
			target.CumulativeInvestment = cell.Amount.Value
		default:
			continue
		}
		target.Overridden = append(target.Overridden, cell.Concept)
	}
	return nil
}

// =============================================================================
// HELPERS
// =============================================================================

func monthIndex(m budget.Month) int { return m.Year*12 + int(m.Month) - 1 }
