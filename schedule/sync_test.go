package schedule_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/archiflow/budget-engine/budget"
	"github.com/archiflow/budget-engine/budget/store"
	"github.com/archiflow/budget-engine/schedule"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestSyncEngine(t *testing.T) (*schedule.Engine, *store.Memory) {
	t.Helper()
	mem := store.NewMemory()
	engine := schedule.NewEngine(mem, mem)
	engine.Runs = mem
	return engine, mem
}

func seedCategory(t *testing.T, mem *store.Memory, project, record, category, name string, total int64) {
	t.Helper()
	err := mem.CreateParametric(context.Background(), budget.ParametricRecord{
		ID:              budget.RecordID(record),
		ProjectID:       budget.ProjectID(project),
		Department:      "Obra Civil",
		MajorCategoryID: budget.CategoryID(category),
		MajorCategory:   name,
		TotalAmount:     budget.NewMoneyFromInt(total),
	})
	require.NoError(t, err)
}

func lineForCategory(t *testing.T, mem *store.Memory, project string, category budget.CategoryID) budget.ScheduleLine {
	t.Helper()
	lines, err := mem.ListLines(context.Background(), budget.ProjectID(project))
	require.NoError(t, err)
	for _, line := range lines {
		if line.MajorCategoryID == category {
			return line
		}
	}
	t.Fatalf("no schedule line for category %s", category)
	return budget.ScheduleLine{}
}

// =============================================================================
// IMPORT TESTS
// =============================================================================

func TestSync_FirstImport_CreatesPendingLines(t *testing.T) {
	// GIVEN: Two parametric categories and an empty schedule
	// WHEN: Syncing the project
	// THEN: One imported line per category, pending dates, plus a link
	//       recording the synced total

	engine, mem := newTestSyncEngine(t)
	ctx := context.Background()

	seedCategory(t, mem, "p1", "rec-1", "cat-foundation", "Cimentación", 500_000)
	seedCategory(t, mem, "p1", "rec-2", "cat-structure", "Estructura", 1_200_000)

	report, err := engine.Sync(ctx, "p1")
	require.NoError(t, err)

	assert.Equal(t, 2, report.Created)
	assert.Equal(t, 0, report.Updated)
	assert.Empty(t, report.Errors)
	assert.ElementsMatch(t,
		[]budget.CategoryID{"cat-foundation", "cat-structure"},
		report.CreatedCategories)

	line := lineForCategory(t, mem, "p1", "cat-foundation")
	assert.True(t, line.Imported)
	assert.Equal(t, budget.SyncPendingDates, line.SyncState)
	assert.False(t, line.Placed())
	assert.True(t, line.Amount.Equal(budget.NewMoneyFromInt(500_000)))
	assert.Equal(t, "Cimentación", line.Label)

	link, err := mem.GetLinkByCategory(ctx, "p1", "cat-foundation")
	require.NoError(t, err)
	require.NotNil(t, link)
	assert.Equal(t, line.ID, link.ScheduleLineID)
	assert.True(t, link.LastSyncedTotal.Equal(budget.NewMoneyFromInt(500_000)))
	assert.False(t, link.OverrideAmount)
}

func TestSync_SecondRun_Idempotent(t *testing.T) {
	// GIVEN: A project already synced with no budget change since
	// WHEN: Syncing again
	// THEN: Nothing is created, updated, or marked

	engine, mem := newTestSyncEngine(t)
	ctx := context.Background()

	seedCategory(t, mem, "p1", "rec-1", "cat-foundation", "Cimentación", 500_000)

	_, err := engine.Sync(ctx, "p1")
	require.NoError(t, err)

	report, err := engine.Sync(ctx, "p1")
	require.NoError(t, err)

	assert.Equal(t, 0, report.Created)
	assert.Equal(t, 0, report.Updated)
	assert.Equal(t, 0, report.MarkedOutOfSync)
	assert.Empty(t, report.Errors)

	lines, err := mem.ListLines(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, lines, 1, "second sync must not duplicate lines")
}

func TestSync_ZeroTotalCategory_Skipped(t *testing.T) {
	// GIVEN: A category whose estimate is zero
	// WHEN: Syncing
	// THEN: No schedule line is created for it

	engine, mem := newTestSyncEngine(t)
	ctx := context.Background()

	seedCategory(t, mem, "p1", "rec-1", "cat-empty", "Sin Asignar", 0)
	seedCategory(t, mem, "p1", "rec-2", "cat-real", "Estructura", 800_000)

	report, err := engine.Sync(ctx, "p1")
	require.NoError(t, err)

	assert.Equal(t, 1, report.Created)
	lines, err := mem.ListLines(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, lines, 1)
	assert.Equal(t, budget.CategoryID("cat-real"), lines[0].MajorCategoryID)
}

// =============================================================================
// UPDATE TESTS
// =============================================================================

func TestSync_TotalChange_UpdatesLineAmount(t *testing.T) {
	// GIVEN: A synced category whose estimate then grows
	// WHEN: Syncing again
	// THEN: The line amount follows the new total and the link records it

	engine, mem := newTestSyncEngine(t)
	ctx := context.Background()

	seedCategory(t, mem, "p1", "rec-1", "cat-foundation", "Cimentación", 500_000)
	_, err := engine.Sync(ctx, "p1")
	require.NoError(t, err)

	rec, err := mem.GetParametric(ctx, "rec-1")
	require.NoError(t, err)
	rec.TotalAmount = budget.NewMoneyFromInt(650_000)
	require.NoError(t, mem.UpdateParametric(ctx, *rec))

	report, err := engine.Sync(ctx, "p1")
	require.NoError(t, err)

	assert.Equal(t, 1, report.Updated)
	assert.Equal(t, []budget.CategoryID{"cat-foundation"}, report.UpdatedCategories)

	line := lineForCategory(t, mem, "p1", "cat-foundation")
	assert.True(t, line.Amount.Equal(budget.NewMoneyFromInt(650_000)))
	// Still unplaced, so the line goes back to waiting on dates.
	assert.Equal(t, budget.SyncPendingDates, line.SyncState)

	link, err := mem.GetLinkByCategory(ctx, "p1", "cat-foundation")
	require.NoError(t, err)
	assert.True(t, link.LastSyncedTotal.Equal(budget.NewMoneyFromInt(650_000)))
}

func TestSync_PlacedLine_StaysSyncedAfterUpdate(t *testing.T) {
	// GIVEN: A synced line that a human has placed on the timeline
	// WHEN: The estimate changes and sync runs again
	// THEN: The amount updates and the line lands in the synced state

	engine, mem := newTestSyncEngine(t)
	ctx := context.Background()

	seedCategory(t, mem, "p1", "rec-1", "cat-foundation", "Cimentación", 500_000)
	_, err := engine.Sync(ctx, "p1")
	require.NoError(t, err)

	line := lineForCategory(t, mem, "p1", "cat-foundation")
	require.NoError(t, mem.SetPlacement(ctx, line.ID,
		budget.NewMonth(2026, 1), 1, budget.NewMonth(2026, 3), 4))

	rec, err := mem.GetParametric(ctx, "rec-1")
	require.NoError(t, err)
	rec.TotalAmount = budget.NewMoneyFromInt(550_000)
	require.NoError(t, mem.UpdateParametric(ctx, *rec))

	report, err := engine.Sync(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 1, report.Updated)

	line = lineForCategory(t, mem, "p1", "cat-foundation")
	assert.True(t, line.Amount.Equal(budget.NewMoneyFromInt(550_000)))
	assert.Equal(t, budget.SyncSynced, line.SyncState)
	// Placement survives the amount update.
	assert.Equal(t, budget.NewMonth(2026, 1), line.StartMonth)
	assert.Equal(t, budget.NewMonth(2026, 3), line.EndMonth)
}

func TestSync_OverrideAmount_NeverOverwritten(t *testing.T) {
	// GIVEN: A link flagged as manually overridden
	// WHEN: The estimate changes and sync runs
	// THEN: The line amount and last synced total are left alone

	engine, mem := newTestSyncEngine(t)
	ctx := context.Background()

	seedCategory(t, mem, "p1", "rec-1", "cat-foundation", "Cimentación", 500_000)
	_, err := engine.Sync(ctx, "p1")
	require.NoError(t, err)

	link, err := mem.GetLinkByCategory(ctx, "p1", "cat-foundation")
	require.NoError(t, err)
	_, err = engine.SetOverride(ctx, link.ID, true)
	require.NoError(t, err)

	rec, err := mem.GetParametric(ctx, "rec-1")
	require.NoError(t, err)
	rec.TotalAmount = budget.NewMoneyFromInt(999_999)
	require.NoError(t, mem.UpdateParametric(ctx, *rec))

	report, err := engine.Sync(ctx, "p1")
	require.NoError(t, err)

	assert.Equal(t, 0, report.Updated)
	line := lineForCategory(t, mem, "p1", "cat-foundation")
	assert.True(t, line.Amount.Equal(budget.NewMoneyFromInt(500_000)),
		"overridden line amount must not follow the estimate")

	link, err = mem.GetLinkByCategory(ctx, "p1", "cat-foundation")
	require.NoError(t, err)
	assert.True(t, link.LastSyncedTotal.Equal(budget.NewMoneyFromInt(500_000)))
}

// =============================================================================
// RETIREMENT TESTS
// =============================================================================

func TestSync_VanishedCategory_MarkedOutOfSync(t *testing.T) {
	// GIVEN: A synced and placed category whose estimate is then deleted
	// WHEN: Syncing again
	// THEN: The line is marked out of sync but never deleted, and the
	//       placement survives

	engine, mem := newTestSyncEngine(t)
	ctx := context.Background()

	seedCategory(t, mem, "p1", "rec-1", "cat-foundation", "Cimentación", 500_000)
	_, err := engine.Sync(ctx, "p1")
	require.NoError(t, err)

	line := lineForCategory(t, mem, "p1", "cat-foundation")
	require.NoError(t, mem.SetPlacement(ctx, line.ID,
		budget.NewMonth(2026, 1), 1, budget.NewMonth(2026, 2), 4))

	require.NoError(t, mem.DeleteParametric(ctx, "rec-1"))

	report, err := engine.Sync(ctx, "p1")
	require.NoError(t, err)

	assert.Equal(t, 1, report.MarkedOutOfSync)
	assert.Equal(t, []budget.CategoryID{"cat-foundation"}, report.OutOfSyncCategories)

	line = lineForCategory(t, mem, "p1", "cat-foundation")
	assert.Equal(t, budget.SyncOutOfSync, line.SyncState)
	assert.Equal(t, budget.NewMonth(2026, 1), line.StartMonth, "placement must survive retirement")
	assert.True(t, line.Amount.Equal(budget.NewMoneyFromInt(500_000)))
}

func TestSync_RetiredCategory_SecondRunNoop(t *testing.T) {
	// GIVEN: A category already marked out of sync
	// WHEN: Syncing again
	// THEN: It is not marked a second time

	engine, mem := newTestSyncEngine(t)
	ctx := context.Background()

	seedCategory(t, mem, "p1", "rec-1", "cat-foundation", "Cimentación", 500_000)
	_, err := engine.Sync(ctx, "p1")
	require.NoError(t, err)
	require.NoError(t, mem.DeleteParametric(ctx, "rec-1"))

	_, err = engine.Sync(ctx, "p1")
	require.NoError(t, err)

	report, err := engine.Sync(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, 0, report.MarkedOutOfSync)
}

// =============================================================================
// FAILURE ISOLATION TESTS
// =============================================================================

// failingSchedule wraps the memory store and fails SaveLine for one category,
// simulating a mid-transaction write error.
type failingSchedule struct {
	*store.Memory
	failCategory budget.CategoryID
}

func (f *failingSchedule) WithCategoryTx(ctx context.Context, fn func(budget.ScheduleStore) error) error {
	return f.Memory.WithCategoryTx(ctx, func(s budget.ScheduleStore) error {
		return fn(&failingView{ScheduleStore: s, failCategory: f.failCategory})
	})
}

type failingView struct {
	budget.ScheduleStore
	failCategory budget.CategoryID
}

func (v *failingView) SaveLine(ctx context.Context, line budget.ScheduleLine) error {
	if line.MajorCategoryID == v.failCategory {
		return errors.New("simulated write failure")
	}
	return v.ScheduleStore.SaveLine(ctx, line)
}

func TestSync_CategoryFailure_IsolatedAndRolledBack(t *testing.T) {
	// GIVEN: A store that fails writes for one category
	// WHEN: Syncing a project with a healthy and a failing category
	// THEN: The healthy category imports, the failing one is reported and
	//       leaves no partial state behind

	mem := store.NewMemory()
	engine := schedule.NewEngine(mem, &failingSchedule{Memory: mem, failCategory: "cat-bad"})
	ctx := context.Background()

	seedCategory(t, mem, "p1", "rec-1", "cat-bad", "Estructura", 800_000)
	seedCategory(t, mem, "p1", "rec-2", "cat-good", "Cimentación", 500_000)

	report, err := engine.Sync(ctx, "p1")
	require.NoError(t, err, "a category failure must not abort the sync call")

	assert.Equal(t, 1, report.Created)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, budget.CategoryID("cat-bad"), report.Errors[0].MajorCategoryID)
	assert.Contains(t, report.Errors[0].Message, "simulated write failure")

	lines, err := mem.ListLines(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, lines, 1, "failed category must roll back entirely")
	assert.Equal(t, budget.CategoryID("cat-good"), lines[0].MajorCategoryID)

	link, err := mem.GetLinkByCategory(ctx, "p1", "cat-bad")
	require.NoError(t, err)
	assert.Nil(t, link, "no link may survive a rolled-back category")
}

// failingParametric fails every read, simulating the estimate store being down.
type failingParametric struct {
	budget.ParametricStore
}

func (failingParametric) ListParametric(context.Context, budget.ProjectID) ([]budget.ParametricRecord, error) {
	return nil, errors.New("connection refused")
}

func TestSync_ParametricUnavailable_Aborts(t *testing.T) {
	// GIVEN: An unreachable parametric store
	// WHEN: Syncing
	// THEN: The call fails with the unavailable sentinel and touches nothing

	mem := store.NewMemory()
	engine := schedule.NewEngine(failingParametric{}, mem)

	report, err := engine.Sync(context.Background(), "p1")
	require.Error(t, err)
	assert.True(t, errors.Is(err, budget.ErrParametricUnavailable))
	assert.Nil(t, report)
}

// =============================================================================
// AUDIT AND OVERRIDE TOGGLE TESTS
// =============================================================================

func TestSync_RecordsSyncRun(t *testing.T) {
	// GIVEN: An engine with the audit store wired
	// WHEN: Syncing twice
	// THEN: Each invocation leaves one audit row with its counters

	engine, mem := newTestSyncEngine(t)
	ctx := context.Background()

	seedCategory(t, mem, "p1", "rec-1", "cat-foundation", "Cimentación", 500_000)

	_, err := engine.Sync(ctx, "p1")
	require.NoError(t, err)
	_, err = engine.Sync(ctx, "p1")
	require.NoError(t, err)

	runs, err := mem.ListSyncRuns(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, runs, 2)

	assert.Equal(t, 1, runs[0].Created)
	assert.Equal(t, 0, runs[1].Created)
	assert.NotEmpty(t, runs[0].ID)
	assert.False(t, runs[0].FinishedAt.Before(runs[0].StartedAt))
}

func TestSetOverride_TogglesFlag(t *testing.T) {
	// GIVEN: A synced link
	// WHEN: Flipping the override flag on and off
	// THEN: The flag persists each way and the returned link reflects it

	engine, mem := newTestSyncEngine(t)
	ctx := context.Background()

	seedCategory(t, mem, "p1", "rec-1", "cat-foundation", "Cimentación", 500_000)
	_, err := engine.Sync(ctx, "p1")
	require.NoError(t, err)

	stored, err := mem.GetLinkByCategory(ctx, "p1", "cat-foundation")
	require.NoError(t, err)

	link, err := engine.SetOverride(ctx, stored.ID, true)
	require.NoError(t, err)
	assert.True(t, link.OverrideAmount)

	link, err = engine.SetOverride(ctx, stored.ID, false)
	require.NoError(t, err)
	assert.False(t, link.OverrideAmount)
}

func TestSetOverride_UnknownLink_NotFound(t *testing.T) {
	engine, _ := newTestSyncEngine(t)

	_, err := engine.SetOverride(context.Background(), "missing", true)
	assert.ErrorIs(t, err, budget.ErrLinkNotFound)
}
