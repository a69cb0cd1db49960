package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archiflow/budget-engine/budget"
	"github.com/archiflow/budget-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testRecord(project, id, category string, total int64) budget.ParametricRecord {
	return budget.ParametricRecord{
		ID:              budget.RecordID(id),
		ProjectID:       budget.ProjectID(project),
		Department:      "Obra Civil",
		MajorCategoryID: budget.CategoryID(category),
		MajorCategory:   "Cimentación",
		TotalAmount:     budget.NewMoneyFromInt(total),
	}
}

func testItem(project, id, record string) budget.ExecutiveLineItem {
	return budget.ExecutiveLineItem{
		ID:                 budget.ItemID(id),
		ProjectID:          budget.ProjectID(project),
		ParametricRecordID: budget.RecordID(record),
		Description:        "Excavación",
		Quantity:           decimal.NewFromInt(10),
		UnitPrice:          budget.NewMoneyFromInt(150),
	}
}

// =============================================================================
// PARAMETRIC TESTS
// =============================================================================

func TestSQLite_Parametric_RoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("p1", "rec-1", "cat-a", 500_000)
	require.NoError(t, store.CreateParametric(ctx, rec))

	got, err := store.GetParametric(ctx, "rec-1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.MajorCategoryID, got.MajorCategoryID)
	assert.True(t, got.TotalAmount.Equal(budget.NewMoneyFromInt(500_000)))
	assert.False(t, got.CreatedAt.IsZero())
}

func TestSQLite_Parametric_DuplicateCategory_Rejected(t *testing.T) {
	// GIVEN: An estimate for (p1, cat-a)
	// WHEN: Creating a second estimate for the same project and category
	// THEN: The unique index rejects it

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateParametric(ctx, testRecord("p1", "rec-1", "cat-a", 100)))

	err := store.CreateParametric(ctx, testRecord("p1", "rec-2", "cat-a", 200))
	assert.ErrorIs(t, err, budget.ErrDuplicateCategory)

	// Same category in a different project is fine.
	assert.NoError(t, store.CreateParametric(ctx, testRecord("p2", "rec-3", "cat-a", 300)))
}

func TestSQLite_Parametric_Update(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := testRecord("p1", "rec-1", "cat-a", 100)
	require.NoError(t, store.CreateParametric(ctx, rec))

	rec.TotalAmount = budget.NewMoneyFromInt(250)
	rec.MajorCategory = "Estructura"
	require.NoError(t, store.UpdateParametric(ctx, rec))

	got, err := store.GetParametric(ctx, "rec-1")
	require.NoError(t, err)
	assert.True(t, got.TotalAmount.Equal(budget.NewMoneyFromInt(250)))
	assert.Equal(t, "Estructura", got.MajorCategory)
}

func TestSQLite_Parametric_UpdateMissing_NotFound(t *testing.T) {
	store := newTestStore(t)

	err := store.UpdateParametric(context.Background(), testRecord("p1", "ghost", "cat-a", 100))
	assert.ErrorIs(t, err, budget.ErrRecordNotFound)
}

func TestSQLite_Parametric_NegativeAmount_Rejected(t *testing.T) {
	store := newTestStore(t)

	rec := testRecord("p1", "rec-1", "cat-a", 0)
	rec.TotalAmount = budget.NewMoneyFromInt(-5)

	err := store.CreateParametric(context.Background(), rec)
	require.Error(t, err)
	assert.True(t, budget.IsClientError(err))
}

func TestSQLite_DeleteParametric_BlockedByChildren(t *testing.T) {
	// GIVEN: An estimate with two line items underneath
	// WHEN: Deleting the estimate
	// THEN: A conflict error naming both items; the record survives

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateParametric(ctx, testRecord("p1", "rec-1", "cat-a", 100_000)))
	require.NoError(t, store.CreateItem(ctx, testItem("p1", "item-a", "rec-1")))
	require.NoError(t, store.CreateItem(ctx, testItem("p1", "item-b", "rec-1")))

	err := store.DeleteParametric(ctx, "rec-1")
	require.Error(t, err)
	assert.True(t, budget.IsConflict(err))

	var conflict *budget.ReferentialConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, 2, conflict.ItemCount)
	assert.ElementsMatch(t, []budget.ItemID{"item-a", "item-b"}, conflict.ItemIDs)

	got, err := store.GetParametric(ctx, "rec-1")
	require.NoError(t, err)
	assert.NotNil(t, got, "a blocked delete must not remove the record")

	// After the children go, the delete succeeds.
	require.NoError(t, store.DeleteItem(ctx, "item-a"))
	require.NoError(t, store.DeleteItem(ctx, "item-b"))
	assert.NoError(t, store.DeleteParametric(ctx, "rec-1"))
}

// =============================================================================
// EXECUTIVE TESTS
// =============================================================================

func TestSQLite_Item_AmountDerived(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateParametric(ctx, testRecord("p1", "rec-1", "cat-a", 100_000)))
	require.NoError(t, store.CreateItem(ctx, testItem("p1", "item-1", "rec-1")))

	got, err := store.GetItem(ctx, "item-1")
	require.NoError(t, err)
	require.NotNil(t, got)

	// 10 × 150, derived on write regardless of what the caller set
	assert.True(t, got.Amount.Equal(budget.NewMoneyFromInt(1_500)))
}

func TestSQLite_Item_OrphanReference_Rejected(t *testing.T) {
	// GIVEN: No parametric record "ghost"
	// WHEN: Creating an item under it
	// THEN: Rejected with an orphan reference error

	store := newTestStore(t)

	err := store.CreateItem(context.Background(), testItem("p1", "item-1", "ghost"))
	require.Error(t, err)
	assert.True(t, budget.IsClientError(err))

	var orphan *budget.OrphanReferenceError
	assert.True(t, errors.As(err, &orphan))
}

func TestSQLite_Item_CrossProjectParent_Rejected(t *testing.T) {
	// GIVEN: A record in project p2
	// WHEN: Creating a p1 item referencing it
	// THEN: Rejected; the parent must live in the same project

	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateParametric(ctx, testRecord("p2", "rec-1", "cat-a", 100)))

	err := store.CreateItem(ctx, testItem("p1", "item-1", "rec-1"))
	require.Error(t, err)
	var orphan *budget.OrphanReferenceError
	assert.True(t, errors.As(err, &orphan))
}

func TestSQLite_Item_NegativeQuantity_Rejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateParametric(ctx, testRecord("p1", "rec-1", "cat-a", 100)))

	item := testItem("p1", "item-1", "rec-1")
	item.Quantity = decimal.NewFromInt(-3)

	err := store.CreateItem(ctx, item)
	require.Error(t, err)

	var invalid *budget.InvalidAmountError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, "quantity", invalid.Field)
}

func TestSQLite_ListItemsByRecord(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateParametric(ctx, testRecord("p1", "rec-1", "cat-a", 100_000)))
	require.NoError(t, store.CreateParametric(ctx, testRecord("p1", "rec-2", "cat-b", 100_000)))
	require.NoError(t, store.CreateItem(ctx, testItem("p1", "item-1", "rec-1")))
	require.NoError(t, store.CreateItem(ctx, testItem("p1", "item-2", "rec-1")))
	require.NoError(t, store.CreateItem(ctx, testItem("p1", "item-3", "rec-2")))

	items, err := store.ListItemsByRecord(ctx, "rec-1")
	require.NoError(t, err)
	assert.Len(t, items, 2)

	all, err := store.ListItems(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

// =============================================================================
// SCHEDULE TESTS
// =============================================================================

func TestSQLite_Placement_PromotesPendingLine(t *testing.T) {
	// GIVEN: An imported line waiting on dates
	// WHEN: A placement is entered
	// THEN: The line becomes synced and keeps its months

	store := newTestStore(t)
	ctx := context.Background()

	line := budget.ScheduleLine{
		ID:              "line-1",
		ProjectID:       "p1",
		MajorCategoryID: "cat-a",
		Label:           "Cimentación",
		Amount:          budget.NewMoneyFromInt(500_000),
		Imported:        true,
		SyncState:       budget.SyncPendingDates,
	}
	require.NoError(t, store.SaveLine(ctx, line))

	require.NoError(t, store.SetPlacement(ctx, "line-1",
		budget.NewMonth(2026, 1), 1, budget.NewMonth(2026, 3), 4))

	got, err := store.GetLine(ctx, "line-1")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, budget.SyncSynced, got.SyncState)
	assert.Equal(t, budget.NewMonth(2026, 1), got.StartMonth)
	assert.Equal(t, budget.NewMonth(2026, 3), got.EndMonth)
	assert.Equal(t, 1, got.StartWeek)
	assert.Equal(t, 4, got.EndWeek)
	assert.True(t, got.Placed())
}

func TestSQLite_Placement_MissingLine_NotFound(t *testing.T) {
	store := newTestStore(t)

	err := store.SetPlacement(context.Background(), "ghost",
		budget.NewMonth(2026, 1), 1, budget.NewMonth(2026, 2), 4)
	assert.ErrorIs(t, err, budget.ErrLineNotFound)
}

func TestSQLite_Link_RoundTripAndOverride(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveLine(ctx, budget.ScheduleLine{
		ID:        "line-1",
		ProjectID: "p1",
		Amount:    budget.NewMoneyFromInt(100),
		SyncState: budget.SyncPendingDates,
	}))
	require.NoError(t, store.SaveLink(ctx, budget.SyncLink{
		ID:              "link-1",
		ProjectID:       "p1",
		MajorCategoryID: "cat-a",
		ScheduleLineID:  "line-1",
		LastSyncedTotal: budget.NewMoneyFromInt(100),
	}))

	link, err := store.GetLinkByCategory(ctx, "p1", "cat-a")
	require.NoError(t, err)
	require.NotNil(t, link)
	assert.Equal(t, budget.LineID("line-1"), link.ScheduleLineID)

	require.NoError(t, store.SetLinkOverride(ctx, "link-1", true))
	link, err = store.GetLink(ctx, "link-1")
	require.NoError(t, err)
	assert.True(t, link.OverrideAmount)

	// Unknown category resolves to nil, not an error.
	link, err = store.GetLinkByCategory(ctx, "p1", "cat-missing")
	require.NoError(t, err)
	assert.Nil(t, link)
}

func TestSQLite_WithCategoryTx_RollsBackOnError(t *testing.T) {
	// GIVEN: A transaction writing a line and a link
	// WHEN: The callback fails after both writes
	// THEN: Neither write survives

	store := newTestStore(t)
	ctx := context.Background()

	err := store.WithCategoryTx(ctx, func(s budget.ScheduleStore) error {
		if err := s.SaveLine(ctx, budget.ScheduleLine{
			ID:        "line-1",
			ProjectID: "p1",
			Amount:    budget.NewMoneyFromInt(100),
			SyncState: budget.SyncPendingDates,
		}); err != nil {
			return err
		}
		if err := s.SaveLink(ctx, budget.SyncLink{
			ID:              "link-1",
			ProjectID:       "p1",
			MajorCategoryID: "cat-a",
			ScheduleLineID:  "line-1",
		}); err != nil {
			return err
		}
		return errors.New("boom")
	})
	require.Error(t, err)

	line, err := store.GetLine(ctx, "line-1")
	require.NoError(t, err)
	assert.Nil(t, line)

	link, err := store.GetLink(ctx, "link-1")
	require.NoError(t, err)
	assert.Nil(t, link)
}

func TestSQLite_WithCategoryTx_CommitsOnSuccess(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.WithCategoryTx(ctx, func(s budget.ScheduleStore) error {
		return s.SaveLine(ctx, budget.ScheduleLine{
			ID:        "line-1",
			ProjectID: "p1",
			Amount:    budget.NewMoneyFromInt(100),
			SyncState: budget.SyncPendingDates,
		})
	})
	require.NoError(t, err)

	line, err := store.GetLine(ctx, "line-1")
	require.NoError(t, err)
	assert.NotNil(t, line)
}

// =============================================================================
// OVERRIDE TESTS
// =============================================================================

func TestSQLite_Override_UpsertListDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	jan := budget.NewMonth(2026, 1)
	cell := budget.OverrideCell{
		ProjectID: "p1",
		Month:     jan,
		Concept:   budget.ConceptExpense,
		Amount:    budget.NewMoneyFromInt(100_000),
	}
	require.NoError(t, store.UpsertOverride(ctx, cell))

	// Upsert on the same key replaces the amount.
	cell.Amount = budget.NewMoneyFromInt(120_000)
	require.NoError(t, store.UpsertOverride(ctx, cell))

	cells, err := store.ListOverrides(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, cells, 1)
	assert.True(t, cells[0].Amount.Equal(budget.NewMoneyFromInt(120_000)))
	assert.Equal(t, jan, cells[0].Month)
	assert.Equal(t, budget.ConceptExpense, cells[0].Concept)

	require.NoError(t, store.DeleteOverride(ctx, "p1", jan, budget.ConceptExpense))
	cells, err = store.ListOverrides(ctx, "p1")
	require.NoError(t, err)
	assert.Empty(t, cells)

	err = store.DeleteOverride(ctx, "p1", jan, budget.ConceptExpense)
	assert.ErrorIs(t, err, budget.ErrOverrideNotFound)
}

// =============================================================================
// SYNC RUN AND PROJECT TESTS
// =============================================================================

func TestSQLite_SyncRuns_NewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	older := time.Date(2026, 1, 10, 9, 0, 0, 0, time.UTC)
	newer := time.Date(2026, 1, 11, 9, 0, 0, 0, time.UTC)

	require.NoError(t, store.SaveSyncRun(ctx, budget.SyncRun{
		ID: "run-old", ProjectID: "p1", StartedAt: older, FinishedAt: older, Created: 2,
	}))
	require.NoError(t, store.SaveSyncRun(ctx, budget.SyncRun{
		ID: "run-new", ProjectID: "p1", StartedAt: newer, FinishedAt: newer,
	}))
	require.NoError(t, store.SaveSyncRun(ctx, budget.SyncRun{
		ID: "run-other", ProjectID: "p2", StartedAt: newer, FinishedAt: newer,
	}))

	runs, err := store.ListSyncRuns(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, "run-new", runs[0].ID)
	assert.Equal(t, "run-old", runs[1].ID)
	assert.Equal(t, 2, runs[1].Created)
	assert.True(t, runs[1].StartedAt.Equal(older))
}

func TestSQLite_ListProjects_UnionOfBudgetAndSchedule(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateParametric(ctx, testRecord("p-budget", "rec-1", "cat-a", 100)))
	require.NoError(t, store.SaveLine(ctx, budget.ScheduleLine{
		ID:        "line-1",
		ProjectID: "p-schedule",
		Amount:    budget.NewMoneyFromInt(100),
		SyncState: budget.SyncPendingDates,
	}))

	projects, err := store.ListProjects(ctx)
	require.NoError(t, err)
	assert.Equal(t, []budget.ProjectID{"p-budget", "p-schedule"}, projects)
}

func TestSQLite_Reset_ClearsEverything(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateParametric(ctx, testRecord("p1", "rec-1", "cat-a", 100)))
	require.NoError(t, store.SaveLine(ctx, budget.ScheduleLine{
		ID:        "line-1",
		ProjectID: "p1",
		Amount:    budget.NewMoneyFromInt(100),
		SyncState: budget.SyncPendingDates,
	}))

	require.NoError(t, store.Reset(ctx))

	projects, err := store.ListProjects(ctx)
	require.NoError(t, err)
	assert.Empty(t, projects)
}
