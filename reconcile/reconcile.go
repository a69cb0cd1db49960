/*
Package reconcile computes residuals between the parametric and executive
budget tiers.

PURPOSE:
  For every parametric record of a project, compare the category estimate
  against the sum of its executive line items and report the residual.
  This is a pure read-side fold: no writes, safe to run concurrently and
  repeatedly, deterministic given the same stored state.

ALGORITHM:
  residual = total_amount − Σ(item amounts)     (0 items ⇒ residual = total)
  state    = exceeded iff residual < 0

  Rows are grouped by major category for roll-up subtotals, and project-wide
  totals satisfy:

    residual_total == parametric_total − executive_total    (exactly)

PROPAGATION:
  Reconcile is total over valid project states. An empty project yields an
  empty report with zero totals, never an error. Only store I/O failures
  propagate.

SEE ALSO:
  - budget/store.go: ParametricStore / ExecutiveStore contracts
  - schedule/sync.go: Consumes the same parametric totals for the schedule
*/
package reconcile

import (
	"context"
	"fmt"
	"sort"

	"github.com/archiflow/budget-engine/budget"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine computes reconciliation reports. It holds no state of its own;
// every call recomputes from the store.
type Engine struct {
	Parametric budget.ParametricStore
	Executive  budget.ExecutiveStore
}

func NewEngine(parametric budget.ParametricStore, executive budget.ExecutiveStore) *Engine {
	return &Engine{Parametric: parametric, Executive: executive}
}

// =============================================================================
// REPORT TYPES
// =============================================================================

// Report is the full reconciliation output for one project.
type Report struct {
	ProjectID budget.ProjectID
	Rows      []budget.ResidualRow
	Groups    []GroupSubtotal
	Totals    Totals
}

// GroupSubtotal rolls residual rows up by major category.
type GroupSubtotal struct {
	MajorCategoryID budget.CategoryID
	MajorCategory   string
	ParametricTotal budget.Money
	ExecutiveTotal  budget.Money
	Residual        budget.Money
	ExceededCount   int
}

// Totals are the project-wide sums. ExceededCount is what a notification
// collaborator renders when it is greater than zero.
type Totals struct {
	ParametricTotal budget.Money
	ExecutiveTotal  budget.Money
	ResidualTotal   budget.Money
	ExceededCount   int
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// Reconcile folds the executive line items under each parametric record and
// reports residuals, grouped subtotals, and project totals.
func (e *Engine) Reconcile(ctx context.Context, project budget.ProjectID) (*Report, error) {
	records, err := e.Parametric.ListParametric(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("list parametric records: %w", err)
	}

	items, err := e.Executive.ListItems(ctx, project)
	if err != nil {
		return nil, fmt.Errorf("list executive items: %w", err)
	}

	// Index item sums by owning record. A single pass over the items is
	// enough; unattributed items cannot exist (store enforces the parent).
	sums := make(map[budget.RecordID]budget.Money, len(records))
	for _, item := range items {
		sums[item.ParametricRecordID] = sums[item.ParametricRecordID].Add(item.Amount)
	}

	report := &Report{ProjectID: project}
	groups := make(map[budget.CategoryID]*GroupSubtotal)

	for _, rec := range records {
		execTotal := sums[rec.ID] // zero when the record has no items
		residual := rec.TotalAmount.Sub(execTotal)

		state := budget.ResidualWithin
		if residual.IsNegative() {
			state = budget.ResidualExceeded
		}

		row := budget.ResidualRow{
			RecordID:        rec.ID,
			MajorCategoryID: rec.MajorCategoryID,
			MajorCategory:   rec.MajorCategory,
			Department:      rec.Department,
			ParametricTotal: rec.TotalAmount,
			ExecutiveTotal:  execTotal,
			Residual:        residual,
			State:           state,
		}
		report.Rows = append(report.Rows, row)

		g, ok := groups[rec.MajorCategoryID]
		if !ok {
			g = &GroupSubtotal{MajorCategoryID: rec.MajorCategoryID, MajorCategory: rec.MajorCategory}
			groups[rec.MajorCategoryID] = g
		}
		g.ParametricTotal = g.ParametricTotal.Add(rec.TotalAmount)
		g.ExecutiveTotal = g.ExecutiveTotal.Add(execTotal)
		g.Residual = g.Residual.Add(residual)
		if state == budget.ResidualExceeded {
			g.ExceededCount++
			report.Totals.ExceededCount++
		}

		report.Totals.ParametricTotal = report.Totals.ParametricTotal.Add(rec.TotalAmount)
		report.Totals.ExecutiveTotal = report.Totals.ExecutiveTotal.Add(execTotal)
		report.Totals.ResidualTotal = report.Totals.ResidualTotal.Add(residual)
	}

	for _, g := range groups {
		report.Groups = append(report.Groups, *g)
	}
	sort.Slice(report.Groups, func(i, j int) bool {
		return report.Groups[i].MajorCategoryID < report.Groups[j].MajorCategoryID
	})

	return report, nil
}
