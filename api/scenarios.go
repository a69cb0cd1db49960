/*
scenarios.go - Demo scenario loaders for testing and demonstrations

PURPOSE:

	Provides pre-built scenarios that populate the database with realistic
	construction-project data for testing and demos. Each scenario creates
	parametric records, executive items, and optionally a synced schedule.

AVAILABLE SCENARIOS:

	residential-tower:  Two-department budget with one exceeded category
	synced-schedule:    Budget already imported into a placed schedule
	distribution-demo:  Placed schedule plus manual matrix overrides

HOW SCENARIOS WORK:
 1. Reset database (clear all data)
 2. Create parametric records per department/category
 3. Add executive line items under some records
 4. Optionally run the sync engine and place the resulting lines
 5. Optionally add distribution overrides

USAGE VIA API:

	POST /api/scenarios/load
	{"scenario_id": "residential-tower"}

ADDING NEW SCENARIOS:
 1. Add to 'scenarios' slice with ID, name, description
 2. Create loader function: loadXxxScenario(ctx)
 3. Add case to LoadScenario handler

NOTE:

	Scenarios reset the database. Only use in development/demo environments.

SEE ALSO:
  - handlers.go: LoadScenario, ListScenarios handlers
  - schedule/sync.go: Engine used by the schedule scenarios
*/
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/archiflow/budget-engine/budget"
	"github.com/shopspring/decimal"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "residential-tower",
		Name:        "Residential Tower",
		Description: "Two-department parametric budget with executive detail and one exceeded category",
	},
	{
		ID:          "synced-schedule",
		Name:        "Synced Schedule",
		Description: "Parametric budget imported into a schedule with placed lines",
	},
	{
		ID:          "distribution-demo",
		Name:        "Distribution Demo",
		Description: "Placed schedule with manual expense and disbursement overrides",
	},
}

// resetter is implemented by stores that can wipe all data (sqlite).
type resetter interface {
	Reset(ctx context.Context) error
}

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	if h.currentScenario == "" {
		writeJSON(w, http.StatusOK, nil)
		return
	}

	for _, s := range scenarios {
		if s.ID == h.currentScenario {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}

	writeJSON(w, http.StatusOK, ScenarioDTO{
		ID:          h.currentScenario,
		Name:        h.currentScenario,
		Description: "Currently loaded scenario",
	})
}

// LoadScenario loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	ctx := r.Context()

	if err := h.resetStore(ctx); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}
	h.currentScenario = ""

	var err error
	switch req.ScenarioID {
	case "residential-tower":
		err = h.loadResidentialTowerScenario(ctx)
	case "synced-schedule":
		err = h.loadSyncedScheduleScenario(ctx)
	case "distribution-demo":
		err = h.loadDistributionDemoScenario(ctx)
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown scenario: %s", req.ScenarioID), nil)
		return
	}

	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load scenario", err)
		return
	}

	h.currentScenario = req.ScenarioID
	writeJSON(w, http.StatusOK, map[string]string{
		"status":   "loaded",
		"scenario": req.ScenarioID,
	})
}

// ResetDatabase clears all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.resetStore(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reset database", err)
		return
	}

	h.currentScenario = ""
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) resetStore(ctx context.Context) error {
	rs, ok := h.Store.(resetter)
	if !ok {
		return fmt.Errorf("store does not support reset")
	}
	return rs.Reset(ctx)
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

const demoProject = budget.ProjectID("torre-norte")

// loadResidentialTowerScenario builds a two-department budget. The structure
// category carries more executive detail than its estimate so the residual
// report shows an exceeded row.
func (h *Handler) loadResidentialTowerScenario(ctx context.Context) error {
	records := []budget.ParametricRecord{
		{
			ID:              "rec-foundation",
			ProjectID:       demoProject,
			Department:      "Obra Civil",
			MajorCategoryID: "cat-foundation",
			MajorCategory:   "Cimentación",
			TotalAmount:     budget.NewMoneyFromInt(500_000),
		},
		{
			ID:              "rec-structure",
			ProjectID:       demoProject,
			Department:      "Obra Civil",
			MajorCategoryID: "cat-structure",
			MajorCategory:   "Estructura",
			TotalAmount:     budget.NewMoneyFromInt(1_200_000),
		},
		{
			ID:              "rec-electrical",
			ProjectID:       demoProject,
			Department:      "Instalaciones",
			MajorCategoryID: "cat-electrical",
			MajorCategory:   "Instalación Eléctrica",
			TotalAmount:     budget.NewMoneyFromInt(300_000),
		},
	}
	for _, rec := range records {
		if err := h.Store.CreateParametric(ctx, rec); err != nil {
			return fmt.Errorf("create %s: %w", rec.ID, err)
		}
	}

	items := []budget.ExecutiveLineItem{
		{
			ID:                 "item-excavation",
			ProjectID:          demoProject,
			ParametricRecordID: "rec-foundation",
			Description:        "Excavación y nivelación",
			Quantity:           decimal.NewFromInt(1200),
			UnitPrice:          budget.NewMoneyFromInt(150),
		},
		{
			ID:                 "item-concrete",
			ProjectID:          demoProject,
			ParametricRecordID: "rec-foundation",
			Description:        "Concreto armado f'c=250",
			Quantity:           decimal.NewFromInt(80),
			UnitPrice:          budget.NewMoneyFromInt(3200),
		},
		// Structure detail overruns its 1.2M estimate on purpose.
		{
			ID:                 "item-steel",
			ProjectID:          demoProject,
			ParametricRecordID: "rec-structure",
			Description:        "Acero estructural A36",
			Quantity:           decimal.NewFromInt(95),
			UnitPrice:          budget.NewMoneyFromInt(9000),
		},
		{
			ID:                 "item-slabs",
			ProjectID:          demoProject,
			ParametricRecordID: "rec-structure",
			Description:        "Losas postensadas",
			Quantity:           decimal.NewFromInt(12),
			UnitPrice:          budget.NewMoneyFromInt(35_000),
		},
	}
	for _, item := range items {
		if err := h.Store.CreateItem(ctx, item); err != nil {
			return fmt.Errorf("create %s: %w", item.ID, err)
		}
	}

	return nil
}

// loadSyncedScheduleScenario builds the tower budget, syncs it into the
// schedule, and places the imported lines across a six-month window.
func (h *Handler) loadSyncedScheduleScenario(ctx context.Context) error {
	if err := h.loadResidentialTowerScenario(ctx); err != nil {
		return err
	}

	report, err := h.Syncer.Sync(ctx, demoProject)
	if err != nil {
		return fmt.Errorf("sync schedule: %w", err)
	}
	if len(report.Errors) > 0 {
		return fmt.Errorf("sync reported %d category errors", len(report.Errors))
	}

	lines, err := h.Store.ListLines(ctx, demoProject)
	if err != nil {
		return err
	}

	// Foundation first, then structure, installations overlapping the tail.
	placements := map[budget.CategoryID]struct {
		start budget.Month
		end   budget.Month
	}{
		"cat-foundation": {budget.NewMonth(2026, 1), budget.NewMonth(2026, 2)},
		"cat-structure":  {budget.NewMonth(2026, 2), budget.NewMonth(2026, 5)},
		"cat-electrical": {budget.NewMonth(2026, 4), budget.NewMonth(2026, 6)},
	}
	for _, line := range lines {
		p, ok := placements[line.MajorCategoryID]
		if !ok {
			continue
		}
		if err := h.Store.SetPlacement(ctx, line.ID, p.start, 1, p.end, 4); err != nil {
			return fmt.Errorf("place %s: %w", line.ID, err)
		}
	}

	return nil
}

// loadDistributionDemoScenario extends the synced schedule with manual cells
// so the matrix endpoint shows override precedence.
func (h *Handler) loadDistributionDemoScenario(ctx context.Context) error {
	if err := h.loadSyncedScheduleScenario(ctx); err != nil {
		return err
	}

	overrides := []budget.OverrideCell{
		{
			ProjectID: demoProject,
			Month:     budget.NewMonth(2026, 1),
			Concept:   budget.ConceptExpense,
			Amount:    budget.NewMoneyFromInt(100_000),
		},
		{
			ProjectID: demoProject,
			Month:     budget.NewMonth(2026, 3),
			Concept:   budget.ConceptDisbursement,
			Amount:    budget.NewMoneyFromInt(450_000),
		},
	}
	for _, cell := range overrides {
		if err := h.Store.UpsertOverride(ctx, cell); err != nil {
			return fmt.Errorf("override %s/%s: %w", cell.Month, cell.Concept, err)
		}
	}

	return nil
}
