/*
handlers.go - HTTP API handlers for the budget engine

PURPOSE:
  Exposes the budget hierarchy, reconciliation, schedule sync, and
  distribution engines via REST API. Handles HTTP request/response, JSON
  serialization, and delegates to domain logic.

ENDPOINTS:
  Projects:
    GET    /api/projects                          List project IDs

  Parametric budget:
    GET    /api/projects/{id}/parametric          List category estimates
    POST   /api/projects/{id}/parametric          Create estimate
    PUT    /api/parametric/{id}                   Update estimate
    DELETE /api/parametric/{id}                   Delete estimate

  Executive budget:
    GET    /api/projects/{id}/executive           List line items
    POST   /api/projects/{id}/executive           Create line item
    PUT    /api/executive/{id}                    Update line item
    DELETE /api/executive/{id}                    Delete line item

  Reconciliation:
    GET    /api/projects/{id}/reconcile           Residual report

  Schedule:
    POST   /api/projects/{id}/sync                Run budget→schedule sync
    GET    /api/projects/{id}/schedule            Lines + links
    GET    /api/projects/{id}/sync-runs           Sync audit trail
    PUT    /api/schedule/{id}/placement           Set line placement
    PUT    /api/links/{id}/override               Flip manual-amount flag

  Distribution:
    GET    /api/projects/{id}/distribution        Monthly matrix (?months=N)
    GET    /api/projects/{id}/overrides           List manual cells
    POST   /api/projects/{id}/overrides           Upsert manual cell
    DELETE /api/projects/{id}/overrides           Remove manual cell

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Malformed request body or parameters
  - 404: Resource not found
  - 409: Referential conflict (estimate still has line items)
  - 422: Valid JSON carrying invalid domain values (negative amounts,
         orphan parametric references)
  - 500: Internal errors

  A sync with per-category failures still returns 200; the failures ride
  in the report body so the successful categories are not hidden.

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - scenarios.go: Demo scenario loaders
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/archiflow/budget-engine/budget"
	"github.com/archiflow/budget-engine/distribution"
	"github.com/archiflow/budget-engine/reconcile"
	"github.com/archiflow/budget-engine/schedule"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Store       budget.Store
	Reconciler  *reconcile.Engine
	Syncer      *schedule.Engine
	Distributor *distribution.Engine

	// Track currently loaded scenario
	currentScenario string
}

// NewHandler creates a new handler with the engines wired to the store.
func NewHandler(store budget.Store) *Handler {
	syncer := schedule.NewEngine(store, store)
	syncer.Runs = store

	return &Handler{
		Store:       store,
		Reconciler:  reconcile.NewEngine(store, store),
		Syncer:      syncer,
		Distributor: distribution.NewEngine(store, store),
	}
}

// =============================================================================
// PROJECT HANDLERS
// =============================================================================

// ListProjects returns every project with stored data.
func (h *Handler) ListProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.Store.ListProjects(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list projects", err)
		return
	}

	ids := make([]string, len(projects))
	for i, p := range projects {
		ids[i] = string(p)
	}
	writeJSON(w, http.StatusOK, ids)
}

// =============================================================================
// PARAMETRIC HANDLERS
// =============================================================================

// ListParametric returns all category estimates for a project.
func (h *Handler) ListParametric(w http.ResponseWriter, r *http.Request) {
	project := budget.ProjectID(chi.URLParam(r, "id"))

	records, err := h.Store.ListParametric(r.Context(), project)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list parametric records", err)
		return
	}

	dtos := make([]ParametricDTO, len(records))
	for i, rec := range records {
		dtos[i] = toParametricDTO(rec)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateParametric creates a category estimate.
func (h *Handler) CreateParametric(w http.ResponseWriter, r *http.Request) {
	project := budget.ProjectID(chi.URLParam(r, "id"))

	var req SaveParametricRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	total, err := budget.NewMoneyFromFloat(req.TotalAmount)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid total_amount", err)
		return
	}

	rec := budget.ParametricRecord{
		ID:              budget.RecordID(req.ID),
		ProjectID:       project,
		Department:      req.Department,
		MajorCategoryID: budget.CategoryID(req.MajorCategoryID),
		MajorCategory:   req.MajorCategory,
		TotalAmount:     total,
	}
	if rec.ID == "" {
		rec.ID = budget.RecordID(uuid.NewString())
	}

	if err := h.Store.CreateParametric(r.Context(), rec); err != nil {
		writeDomainError(w, "Failed to create parametric record", err)
		return
	}

	writeJSON(w, http.StatusCreated, toParametricDTO(rec))
}

// UpdateParametric rewrites an existing estimate.
func (h *Handler) UpdateParametric(w http.ResponseWriter, r *http.Request) {
	id := budget.RecordID(chi.URLParam(r, "id"))

	var req SaveParametricRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	total, err := budget.NewMoneyFromFloat(req.TotalAmount)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid total_amount", err)
		return
	}

	existing, err := h.Store.GetParametric(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get parametric record", err)
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "Parametric record not found", nil)
		return
	}

	rec := *existing
	rec.Department = req.Department
	rec.MajorCategoryID = budget.CategoryID(req.MajorCategoryID)
	rec.MajorCategory = req.MajorCategory
	rec.TotalAmount = total

	if err := h.Store.UpdateParametric(r.Context(), rec); err != nil {
		writeDomainError(w, "Failed to update parametric record", err)
		return
	}

	writeJSON(w, http.StatusOK, toParametricDTO(rec))
}

// DeleteParametric removes an estimate. Refuses with 409 while executive
// line items still reference it, naming the blocking items.
func (h *Handler) DeleteParametric(w http.ResponseWriter, r *http.Request) {
	id := budget.RecordID(chi.URLParam(r, "id"))

	if err := h.Store.DeleteParametric(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to delete parametric record", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// =============================================================================
// EXECUTIVE HANDLERS
// =============================================================================

// ListItems returns line items for a project, optionally filtered by owning
// record via ?record=.
func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	project := budget.ProjectID(chi.URLParam(r, "id"))

	var (
		items []budget.ExecutiveLineItem
		err   error
	)
	if record := r.URL.Query().Get("record"); record != "" {
		items, err = h.Store.ListItemsByRecord(r.Context(), budget.RecordID(record))
	} else {
		items, err = h.Store.ListItems(r.Context(), project)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list executive items", err)
		return
	}

	dtos := make([]ExecutiveItemDTO, len(items))
	for i, item := range items {
		dtos[i] = toItemDTO(item)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateItem creates a line item under an existing parametric record.
func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	project := budget.ProjectID(chi.URLParam(r, "id"))

	var req SaveItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	item, err := itemFromRequest(project, req)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid item values", err)
		return
	}
	if item.ID == "" {
		item.ID = budget.ItemID(uuid.NewString())
	}

	if err := h.Store.CreateItem(r.Context(), item); err != nil {
		writeDomainError(w, "Failed to create executive item", err)
		return
	}

	item.ComputeAmount()
	writeJSON(w, http.StatusCreated, toItemDTO(item))
}

// UpdateItem rewrites a line item. Its amount is re-derived server side.
func (h *Handler) UpdateItem(w http.ResponseWriter, r *http.Request) {
	id := budget.ItemID(chi.URLParam(r, "id"))

	var req SaveItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	existing, err := h.Store.GetItem(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get executive item", err)
		return
	}
	if existing == nil {
		writeError(w, http.StatusNotFound, "Executive item not found", nil)
		return
	}

	item, err := itemFromRequest(existing.ProjectID, req)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid item values", err)
		return
	}
	item.ID = id

	if err := h.Store.UpdateItem(r.Context(), item); err != nil {
		writeDomainError(w, "Failed to update executive item", err)
		return
	}

	item.ComputeAmount()
	writeJSON(w, http.StatusOK, toItemDTO(item))
}

// DeleteItem removes a line item.
func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	id := budget.ItemID(chi.URLParam(r, "id"))

	if err := h.Store.DeleteItem(r.Context(), id); err != nil {
		writeDomainError(w, "Failed to delete executive item", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func itemFromRequest(project budget.ProjectID, req SaveItemRequest) (budget.ExecutiveLineItem, error) {
	unitPrice, err := budget.NewMoneyFromFloat(req.UnitPrice)
	if err != nil {
		return budget.ExecutiveLineItem{}, err
	}
	return budget.ExecutiveLineItem{
		ID:                 budget.ItemID(req.ID),
		ProjectID:          project,
		ParametricRecordID: budget.RecordID(req.ParametricRecordID),
		Description:        req.Description,
		Quantity:           decimal.NewFromFloat(req.Quantity),
		UnitPrice:          unitPrice,
	}, nil
}

// =============================================================================
// RECONCILIATION HANDLER
// =============================================================================

// Reconcile returns the residual report for a project.
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	project := budget.ProjectID(chi.URLParam(r, "id"))

	report, err := h.Reconciler.Reconcile(r.Context(), project)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reconcile project", err)
		return
	}

	writeJSON(w, http.StatusOK, toReconcileReportDTO(report))
}

// =============================================================================
// SCHEDULE HANDLERS
// =============================================================================

// SyncProject runs the budget→schedule sync. Per-category failures are
// reported in the body with a 200; only a parametric read failure is a 500.
func (h *Handler) SyncProject(w http.ResponseWriter, r *http.Request) {
	project := budget.ProjectID(chi.URLParam(r, "id"))

	report, err := h.Syncer.Sync(r.Context(), project)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to sync project", err)
		return
	}

	writeJSON(w, http.StatusOK, toSyncReportDTO(report))
}

// GetSchedule returns a project's schedule lines and sync links.
func (h *Handler) GetSchedule(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	project := budget.ProjectID(chi.URLParam(r, "id"))

	lines, err := h.Store.ListLines(ctx, project)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list schedule lines", err)
		return
	}
	links, err := h.Store.ListLinks(ctx, project)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sync links", err)
		return
	}

	dto := ScheduleDTO{
		ProjectID: string(project),
		Lines:     make([]ScheduleLineDTO, len(lines)),
		Links:     make([]SyncLinkDTO, len(links)),
	}
	for i, line := range lines {
		dto.Lines[i] = toLineDTO(line)
	}
	for i, link := range links {
		dto.Links[i] = toLinkDTO(link)
	}
	writeJSON(w, http.StatusOK, dto)
}

// SetPlacement records a human-entered time placement on a schedule line.
func (h *Handler) SetPlacement(w http.ResponseWriter, r *http.Request) {
	id := budget.LineID(chi.URLParam(r, "id"))

	var req PlacementRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	start, err := budget.ParseMonth(req.StartMonth)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid start_month (use YYYY-MM)", err)
		return
	}
	end, err := budget.ParseMonth(req.EndMonth)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid end_month (use YYYY-MM)", err)
		return
	}
	if end.Before(start) {
		writeError(w, http.StatusUnprocessableEntity, "end_month precedes start_month", nil)
		return
	}

	if err := h.Store.SetPlacement(r.Context(), id, start, req.StartWeek, end, req.EndWeek); err != nil {
		writeDomainError(w, "Failed to set placement", err)
		return
	}

	line, err := h.Store.GetLine(r.Context(), id)
	if err != nil || line == nil {
		writeError(w, http.StatusInternalServerError, "Failed to reload schedule line", err)
		return
	}
	writeJSON(w, http.StatusOK, toLineDTO(*line))
}

// SetLinkOverride flips the manual-amount flag on a sync link.
func (h *Handler) SetLinkOverride(w http.ResponseWriter, r *http.Request) {
	id := budget.LinkID(chi.URLParam(r, "id"))

	var req LinkOverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	link, err := h.Syncer.SetOverride(r.Context(), id, req.OverrideAmount)
	if err != nil {
		writeDomainError(w, "Failed to set link override", err)
		return
	}

	writeJSON(w, http.StatusOK, toLinkDTO(*link))
}

// ListSyncRuns returns the sync audit trail for a project, newest first.
func (h *Handler) ListSyncRuns(w http.ResponseWriter, r *http.Request) {
	project := budget.ProjectID(chi.URLParam(r, "id"))

	runs, err := h.Store.ListSyncRuns(r.Context(), project)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sync runs", err)
		return
	}

	dtos := make([]SyncRunDTO, len(runs))
	for i, run := range runs {
		dtos[i] = toSyncRunDTO(run)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// DISTRIBUTION HANDLERS
// =============================================================================

// GetDistribution returns the monthly distribution matrix. The horizon in
// months comes from ?months= (default 12; 0 yields an empty matrix).
func (h *Handler) GetDistribution(w http.ResponseWriter, r *http.Request) {
	project := budget.ProjectID(chi.URLParam(r, "id"))

	horizon := 12
	if s := r.URL.Query().Get("months"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid months parameter", err)
			return
		}
		horizon = n
	}

	matrix, err := h.Distributor.Distribute(r.Context(), project, horizon)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to compute distribution", err)
		return
	}

	writeJSON(w, http.StatusOK, toMatrixDTO(matrix))
}

// ListOverrides returns all manual matrix cells for a project.
func (h *Handler) ListOverrides(w http.ResponseWriter, r *http.Request) {
	project := budget.ProjectID(chi.URLParam(r, "id"))

	cells, err := h.Store.ListOverrides(r.Context(), project)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list overrides", err)
		return
	}

	dtos := make([]OverrideCellDTO, len(cells))
	for i, cell := range cells {
		dtos[i] = toOverrideDTO(cell)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// UpsertOverride stores a manual matrix cell.
func (h *Handler) UpsertOverride(w http.ResponseWriter, r *http.Request) {
	project := budget.ProjectID(chi.URLParam(r, "id"))

	var req OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	month, err := budget.ParseMonth(req.Month)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month (use YYYY-MM)", err)
		return
	}
	concept, err := budget.ParseConcept(req.Concept)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid concept", err)
		return
	}
	amount, err := budget.NewMoneyFromFloat(req.Amount)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "Invalid amount", err)
		return
	}

	cell := budget.OverrideCell{
		ProjectID: project,
		Month:     month,
		Concept:   concept,
		Amount:    amount,
	}
	if err := h.Store.UpsertOverride(r.Context(), cell); err != nil {
		writeDomainError(w, "Failed to upsert override", err)
		return
	}

	writeJSON(w, http.StatusOK, toOverrideDTO(cell))
}

// DeleteOverride removes a manual matrix cell, selected by ?month= and
// ?concept=.
func (h *Handler) DeleteOverride(w http.ResponseWriter, r *http.Request) {
	project := budget.ProjectID(chi.URLParam(r, "id"))

	month, err := budget.ParseMonth(r.URL.Query().Get("month"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid month (use YYYY-MM)", err)
		return
	}
	concept, err := budget.ParseConcept(r.URL.Query().Get("concept"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid concept", err)
		return
	}

	if err := h.Store.DeleteOverride(r.Context(), project, month, concept); err != nil {
		writeDomainError(w, "Failed to delete override", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps store/engine errors onto HTTP statuses. A
// ReferentialConflictError additionally carries the blocking item IDs so the
// client can render them.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case budget.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case budget.IsConflict(err):
		resp := ErrorResponse{Error: message, Code: "conflict", Details: err.Error()}
		var conflict *budget.ReferentialConflictError
		if errors.As(err, &conflict) {
			resp.Code = "referential_conflict"
			resp.Details = map[string]any{
				"record_id":  string(conflict.RecordID),
				"item_count": conflict.ItemCount,
				"item_ids":   itemStrings(conflict.ItemIDs),
			}
		}
		writeJSON(w, http.StatusConflict, resp)
	case budget.IsClientError(err):
		writeError(w, http.StatusUnprocessableEntity, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}

func itemStrings(ids []budget.ItemID) []string {
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}
