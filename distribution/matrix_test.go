package distribution_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archiflow/budget-engine/budget"
	"github.com/archiflow/budget-engine/budget/store"
	"github.com/archiflow/budget-engine/distribution"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestMatrixEngine(t *testing.T) (*distribution.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	return distribution.NewEngine(mem, mem), mem
}

func placedLine(t *testing.T, mem *store.Memory, project, id, category string, amount int64, start, end budget.Month) {
	t.Helper()
	err := mem.SaveLine(context.Background(), budget.ScheduleLine{
		ID:              budget.LineID(id),
		ProjectID:       budget.ProjectID(project),
		MajorCategoryID: budget.CategoryID(category),
		Amount:          budget.NewMoneyFromInt(amount),
		StartMonth:      start,
		EndMonth:        end,
		SyncState:       budget.SyncSynced,
	})
	require.NoError(t, err)
}

func pct(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// =============================================================================
// EQUAL DISTRIBUTION TESTS
// =============================================================================

func TestDistribute_SingleLine_EqualMonthlyShares(t *testing.T) {
	// GIVEN: One 300k line spanning January through March
	// WHEN: Distributing over a three-month horizon
	// THEN: Each month carries an equal 100k share and progress climbs to 100%

	engine, mem := newTestMatrixEngine(t)
	ctx := context.Background()

	placedLine(t, mem, "p1", "line-1", "cat-a", 300_000,
		budget.NewMonth(2026, 1), budget.NewMonth(2026, 3))

	matrix, err := engine.Distribute(ctx, "p1", 3)
	require.NoError(t, err)

	assert.Equal(t, budget.NewMonth(2026, 1), matrix.Start)
	assert.True(t, matrix.TotalBudget.Equal(budget.NewMoneyFromInt(300_000)))
	require.Len(t, matrix.Cells, 3)

	for i, cell := range matrix.Cells {
		assert.True(t, cell.Expense.Equal(budget.NewMoneyFromInt(100_000)), "month %d", i)
		assert.True(t, cell.Disbursement.Equal(budget.NewMoneyFromInt(100_000)), "month %d", i)
	}

	assert.True(t, matrix.Cells[0].PartialProgress.Equal(pct("33.33")))
	assert.True(t, matrix.Cells[1].CumulativeProgress.Equal(pct("66.67")))
	assert.True(t, matrix.Cells[2].CumulativeProgress.Equal(pct("100")))
	assert.True(t, matrix.Cells[2].CumulativeInvestment.Equal(pct("100")))
}

func TestDistribute_RoundingRemainder_FoldsIntoLastMonth(t *testing.T) {
	// GIVEN: A 100-unit line over three months (no exact 2-decimal split)
	// WHEN: Distributing
	// THEN: Shares are 33.33 / 33.33 / 33.34 and sum exactly to the budget

	engine, mem := newTestMatrixEngine(t)
	ctx := context.Background()

	placedLine(t, mem, "p1", "line-1", "cat-a", 100,
		budget.NewMonth(2026, 1), budget.NewMonth(2026, 3))

	matrix, err := engine.Distribute(ctx, "p1", 3)
	require.NoError(t, err)
	require.Len(t, matrix.Cells, 3)

	assert.True(t, matrix.Cells[0].Expense.Equal(budget.MustParseMoney("33.33")))
	assert.True(t, matrix.Cells[1].Expense.Equal(budget.MustParseMoney("33.33")))
	assert.True(t, matrix.Cells[2].Expense.Equal(budget.MustParseMoney("33.34")))

	sum := budget.ZeroMoney()
	for _, cell := range matrix.Cells {
		sum = sum.Add(cell.Expense)
	}
	assert.True(t, sum.Equal(matrix.TotalBudget), "shares must conserve the budget exactly")
}

func TestDistribute_OverlappingCategories_SumPerMonth(t *testing.T) {
	// GIVEN: Two category lines with overlapping spans
	// WHEN: Distributing over the combined horizon
	// THEN: Overlap months carry both categories' shares

	engine, mem := newTestMatrixEngine(t)
	ctx := context.Background()

	placedLine(t, mem, "p1", "line-1", "cat-a", 300_000,
		budget.NewMonth(2026, 1), budget.NewMonth(2026, 3))
	placedLine(t, mem, "p1", "line-2", "cat-b", 600_000,
		budget.NewMonth(2026, 2), budget.NewMonth(2026, 4))

	matrix, err := engine.Distribute(ctx, "p1", 4)
	require.NoError(t, err)
	require.Len(t, matrix.Cells, 4)

	// cat-a: 100k Jan-Mar, cat-b: 200k Feb-Apr
	want := []int64{100_000, 300_000, 300_000, 200_000}
	for i, amount := range want {
		assert.True(t, matrix.Cells[i].Expense.Equal(budget.NewMoneyFromInt(amount)),
			"month %d: got %s", i, matrix.Cells[i].Expense)
	}

	assert.True(t, matrix.TotalBudget.Equal(budget.NewMoneyFromInt(900_000)))
	// Disbursement baseline splits the total evenly across the horizon.
	assert.True(t, matrix.Cells[0].Disbursement.Equal(budget.NewMoneyFromInt(225_000)))
	assert.True(t, matrix.Cells[1].CumulativeInvestment.Equal(pct("50")))
}

func TestDistribute_UnplacedLine_CountedInBudgetOnly(t *testing.T) {
	// GIVEN: A placed line plus an unplaced one with no time range yet
	// WHEN: Distributing
	// THEN: The unplaced amount raises the total (diluting progress) but
	//       never lands in a month

	engine, mem := newTestMatrixEngine(t)
	ctx := context.Background()

	placedLine(t, mem, "p1", "line-1", "cat-a", 300_000,
		budget.NewMonth(2026, 1), budget.NewMonth(2026, 3))
	require.NoError(t, mem.SaveLine(ctx, budget.ScheduleLine{
		ID:              "line-2",
		ProjectID:       "p1",
		MajorCategoryID: "cat-b",
		Amount:          budget.NewMoneyFromInt(500_000),
		SyncState:       budget.SyncPendingDates,
	}))

	matrix, err := engine.Distribute(ctx, "p1", 3)
	require.NoError(t, err)

	assert.True(t, matrix.TotalBudget.Equal(budget.NewMoneyFromInt(800_000)))

	spread := budget.ZeroMoney()
	for _, cell := range matrix.Cells {
		spread = spread.Add(cell.Expense)
	}
	assert.True(t, spread.Equal(budget.NewMoneyFromInt(300_000)),
		"only the placed line may be spread")

	// 100k of 800k per month
	assert.True(t, matrix.Cells[0].PartialProgress.Equal(pct("12.5")))
}

// =============================================================================
// EDGE CASE TESTS
// =============================================================================

func TestDistribute_ZeroHorizon_EmptyMatrix(t *testing.T) {
	// GIVEN: A placed line
	// WHEN: Distributing with a zero-month horizon
	// THEN: No cells, no error; totals still reported

	engine, mem := newTestMatrixEngine(t)

	placedLine(t, mem, "p1", "line-1", "cat-a", 300_000,
		budget.NewMonth(2026, 1), budget.NewMonth(2026, 3))

	matrix, err := engine.Distribute(context.Background(), "p1", 0)
	require.NoError(t, err)

	assert.Empty(t, matrix.Cells)
	assert.True(t, matrix.TotalBudget.Equal(budget.NewMoneyFromInt(300_000)))
}

func TestDistribute_ZeroBudget_ZeroPercentages(t *testing.T) {
	// GIVEN: A placed line with a zero amount
	// WHEN: Distributing
	// THEN: Every percentage is 0, never a division-by-zero artifact

	engine, mem := newTestMatrixEngine(t)

	placedLine(t, mem, "p1", "line-1", "cat-a", 0,
		budget.NewMonth(2026, 1), budget.NewMonth(2026, 2))

	matrix, err := engine.Distribute(context.Background(), "p1", 2)
	require.NoError(t, err)
	require.Len(t, matrix.Cells, 2)

	for i, cell := range matrix.Cells {
		assert.True(t, cell.PartialProgress.IsZero(), "month %d", i)
		assert.True(t, cell.CumulativeProgress.IsZero(), "month %d", i)
		assert.True(t, cell.CumulativeInvestment.IsZero(), "month %d", i)
	}
}

func TestDistribute_NothingPlaced_AnchorsCurrentMonth(t *testing.T) {
	// GIVEN: Only unplaced lines
	// WHEN: Distributing
	// THEN: The horizon anchors at the current month

	engine, mem := newTestMatrixEngine(t)

	require.NoError(t, mem.SaveLine(context.Background(), budget.ScheduleLine{
		ID:        "line-1",
		ProjectID: "p1",
		Amount:    budget.NewMoneyFromInt(100_000),
		SyncState: budget.SyncPendingDates,
	}))

	matrix, err := engine.Distribute(context.Background(), "p1", 2)
	require.NoError(t, err)

	assert.Equal(t, budget.CurrentMonth(), matrix.Start)
	for _, cell := range matrix.Cells {
		assert.True(t, cell.Expense.IsZero())
	}
}

// =============================================================================
// OVERRIDE TESTS
// =============================================================================

func TestDistribute_Overrides_WinAsFinalPass(t *testing.T) {
	// GIVEN: A computed matrix plus manual cells for one expense and one
	//        cumulative progress value
	// WHEN: Distributing
	// THEN: The overridden cells carry the manual values and are marked;
	//       untouched concepts in the same month keep their computed values

	engine, mem := newTestMatrixEngine(t)
	ctx := context.Background()

	placedLine(t, mem, "p1", "line-1", "cat-a", 300_000,
		budget.NewMonth(2026, 1), budget.NewMonth(2026, 3))

	require.NoError(t, mem.UpsertOverride(ctx, budget.OverrideCell{
		ProjectID: "p1",
		Month:     budget.NewMonth(2026, 2),
		Concept:   budget.ConceptExpense,
		Amount:    budget.NewMoneyFromInt(500_000),
	}))
	require.NoError(t, mem.UpsertOverride(ctx, budget.OverrideCell{
		ProjectID: "p1",
		Month:     budget.NewMonth(2026, 3),
		Concept:   budget.ConceptCumulativeProgress,
		Amount:    budget.NewMoneyFromInt(55),
	}))

	matrix, err := engine.Distribute(ctx, "p1", 3)
	require.NoError(t, err)
	require.Len(t, matrix.Cells, 3)

	feb := matrix.Cells[1]
	assert.True(t, feb.Expense.Equal(budget.NewMoneyFromInt(500_000)))
	assert.Equal(t, []budget.Concept{budget.ConceptExpense}, feb.Overridden)
	// The override replaces only its concept; progress stays computed.
	assert.True(t, feb.PartialProgress.Equal(pct("33.33")))

	mar := matrix.Cells[2]
	assert.True(t, mar.CumulativeProgress.Equal(pct("55")))
	assert.Equal(t, []budget.Concept{budget.ConceptCumulativeProgress}, mar.Overridden)
	assert.True(t, mar.Expense.Equal(budget.NewMoneyFromInt(100_000)))

	assert.Empty(t, matrix.Cells[0].Overridden)
}

func TestDistribute_OverrideOutsideHorizon_Ignored(t *testing.T) {
	// GIVEN: A manual cell dated past the horizon
	// WHEN: Distributing
	// THEN: The cell is silently skipped

	engine, mem := newTestMatrixEngine(t)
	ctx := context.Background()

	placedLine(t, mem, "p1", "line-1", "cat-a", 300_000,
		budget.NewMonth(2026, 1), budget.NewMonth(2026, 3))

	require.NoError(t, mem.UpsertOverride(ctx, budget.OverrideCell{
		ProjectID: "p1",
		Month:     budget.NewMonth(2027, 6),
		Concept:   budget.ConceptExpense,
		Amount:    budget.NewMoneyFromInt(1),
	}))

	matrix, err := engine.Distribute(ctx, "p1", 3)
	require.NoError(t, err)
	for _, cell := range matrix.Cells {
		assert.Empty(t, cell.Overridden)
	}
}

func TestDistribute_Deterministic(t *testing.T) {
	// GIVEN: Several categories whose shares carry rounding remainders
	// WHEN: Distributing repeatedly
	// THEN: Every call yields identical cells

	engine, mem := newTestMatrixEngine(t)
	ctx := context.Background()

	placedLine(t, mem, "p1", "line-1", "cat-a", 100,
		budget.NewMonth(2026, 1), budget.NewMonth(2026, 3))
	placedLine(t, mem, "p1", "line-2", "cat-b", 200,
		budget.NewMonth(2026, 1), budget.NewMonth(2026, 3))
	placedLine(t, mem, "p1", "line-3", "cat-c", 1000,
		budget.NewMonth(2026, 2), budget.NewMonth(2026, 4))

	first, err := engine.Distribute(ctx, "p1", 4)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		next, err := engine.Distribute(ctx, "p1", 4)
		require.NoError(t, err)
		for j := range first.Cells {
			assert.True(t, first.Cells[j].Expense.Equal(next.Cells[j].Expense),
				"run %d month %d", i, j)
		}
	}
}
