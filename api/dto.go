/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

TYPES:
  Parametric:
    ParametricDTO, SaveParametricRequest

  Executive:
    ExecutiveItemDTO, SaveItemRequest

  Reconciliation:
    ReconcileReportDTO, ResidualRowDTO, GroupSubtotalDTO

  Schedule:
    ScheduleLineDTO, SyncLinkDTO, SyncReportDTO, PlacementRequest

  Distribution:
    MatrixDTO, MonthCellDTO, OverrideRequest

MONEY ENCODING:
  Monetary values cross the wire as JSON numbers (float64). Precision is
  preserved internally with decimal.Decimal; the float conversion happens
  only at the serialization edge.

VALIDATION:
  Validation is done in handlers, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - budget/types.go: Domain model behind these DTOs
*/
package api

import (
	"time"

	"github.com/archiflow/budget-engine/budget"
	"github.com/archiflow/budget-engine/distribution"
	"github.com/archiflow/budget-engine/reconcile"
	"github.com/archiflow/budget-engine/schedule"
)

// =============================================================================
// PARAMETRIC TYPES
// =============================================================================

// ParametricDTO represents a category-level estimate in API responses.
type ParametricDTO struct {
	ID              string  `json:"id"`
	ProjectID       string  `json:"project_id"`
	Department      string  `json:"department"`
	MajorCategoryID string  `json:"major_category_id"`
	MajorCategory   string  `json:"major_category"`
	TotalAmount     float64 `json:"total_amount"`
	CreatedAt       string  `json:"created_at,omitempty"`
	UpdatedAt       string  `json:"updated_at,omitempty"`
}

// SaveParametricRequest creates or updates a parametric record.
type SaveParametricRequest struct {
	ID              string  `json:"id,omitempty"`
	Department      string  `json:"department"`
	MajorCategoryID string  `json:"major_category_id"`
	MajorCategory   string  `json:"major_category"`
	TotalAmount     float64 `json:"total_amount"`
}

// =============================================================================
// EXECUTIVE TYPES
// =============================================================================

// ExecutiveItemDTO represents a line item in API responses. Amount is always
// the server-derived quantity × unit price.
type ExecutiveItemDTO struct {
	ID                 string  `json:"id"`
	ProjectID          string  `json:"project_id"`
	ParametricRecordID string  `json:"parametric_record_id"`
	Description        string  `json:"description,omitempty"`
	Quantity           float64 `json:"quantity"`
	UnitPrice          float64 `json:"unit_price"`
	Amount             float64 `json:"amount"`
	CreatedAt          string  `json:"created_at,omitempty"`
	UpdatedAt          string  `json:"updated_at,omitempty"`
}

// SaveItemRequest creates or updates an executive line item.
type SaveItemRequest struct {
	ID                 string  `json:"id,omitempty"`
	ParametricRecordID string  `json:"parametric_record_id"`
	Description        string  `json:"description,omitempty"`
	Quantity           float64 `json:"quantity"`
	UnitPrice          float64 `json:"unit_price"`
}

// =============================================================================
// RECONCILIATION TYPES
// =============================================================================

// ResidualRowDTO is one parametric record's residual line.
type ResidualRowDTO struct {
	RecordID        string  `json:"record_id"`
	MajorCategoryID string  `json:"major_category_id"`
	MajorCategory   string  `json:"major_category"`
	Department      string  `json:"department"`
	ParametricTotal float64 `json:"parametric_total"`
	ExecutiveTotal  float64 `json:"executive_total"`
	Residual        float64 `json:"residual"`
	State           string  `json:"state"`
}

// GroupSubtotalDTO rolls residual rows up by major category.
type GroupSubtotalDTO struct {
	MajorCategoryID string  `json:"major_category_id"`
	MajorCategory   string  `json:"major_category"`
	ParametricTotal float64 `json:"parametric_total"`
	ExecutiveTotal  float64 `json:"executive_total"`
	Residual        float64 `json:"residual"`
	ExceededCount   int     `json:"exceeded_count"`
}

// ReconcileReportDTO is the full reconciliation response.
type ReconcileReportDTO struct {
	ProjectID       string             `json:"project_id"`
	Rows            []ResidualRowDTO   `json:"rows"`
	Groups          []GroupSubtotalDTO `json:"groups"`
	ParametricTotal float64            `json:"parametric_total"`
	ExecutiveTotal  float64            `json:"executive_total"`
	ResidualTotal   float64            `json:"residual_total"`
	ExceededCount   int                `json:"exceeded_count"`
}

// =============================================================================
// SCHEDULE TYPES
// =============================================================================

// ScheduleLineDTO represents one schedule row. Months use "YYYY-MM"; empty
// means not yet placed.
type ScheduleLineDTO struct {
	ID              string  `json:"id"`
	ProjectID       string  `json:"project_id"`
	MajorCategoryID string  `json:"major_category_id,omitempty"`
	Label           string  `json:"label,omitempty"`
	Amount          float64 `json:"amount"`
	StartMonth      string  `json:"start_month,omitempty"`
	StartWeek       int     `json:"start_week,omitempty"`
	EndMonth        string  `json:"end_month,omitempty"`
	EndWeek         int     `json:"end_week,omitempty"`
	Imported        bool    `json:"imported"`
	SyncState       string  `json:"sync_state"`
}

// SyncLinkDTO represents the budget-to-schedule mapping for one category.
type SyncLinkDTO struct {
	ID              string  `json:"id"`
	ProjectID       string  `json:"project_id"`
	MajorCategoryID string  `json:"major_category_id"`
	ScheduleLineID  string  `json:"schedule_line_id"`
	LastSyncedTotal float64 `json:"last_synced_total"`
	LastSyncedAt    string  `json:"last_synced_at"`
	OverrideAmount  bool    `json:"override_amount"`
}

// ScheduleDTO bundles a project's lines and links.
type ScheduleDTO struct {
	ProjectID string            `json:"project_id"`
	Lines     []ScheduleLineDTO `json:"lines"`
	Links     []SyncLinkDTO     `json:"links"`
}

// PlacementRequest sets a line's start/end position.
type PlacementRequest struct {
	StartMonth string `json:"start_month"`
	StartWeek  int    `json:"start_week"`
	EndMonth   string `json:"end_month"`
	EndWeek    int    `json:"end_week"`
}

// LinkOverrideRequest flips the manual-amount flag on a sync link.
type LinkOverrideRequest struct {
	OverrideAmount bool `json:"override_amount"`
}

// CategoryErrorDTO records one category's failed sync step.
type CategoryErrorDTO struct {
	MajorCategoryID string `json:"major_category_id,omitempty"`
	Message         string `json:"message"`
}

// SyncReportDTO is the partial-failure-aware sync result.
type SyncReportDTO struct {
	ProjectID           string             `json:"project_id"`
	Created             int                `json:"created"`
	Updated             int                `json:"updated"`
	MarkedOutOfSync     int                `json:"marked_out_of_sync"`
	Errors              []CategoryErrorDTO `json:"errors"`
	CreatedCategories   []string           `json:"created_categories,omitempty"`
	UpdatedCategories   []string           `json:"updated_categories,omitempty"`
	OutOfSyncCategories []string           `json:"out_of_sync_categories,omitempty"`
	Summary             string             `json:"summary"`
}

// SyncRunDTO is one audit row of the sync history.
type SyncRunDTO struct {
	ID              string `json:"id"`
	ProjectID       string `json:"project_id"`
	StartedAt       string `json:"started_at"`
	FinishedAt      string `json:"finished_at"`
	Created         int    `json:"created"`
	Updated         int    `json:"updated"`
	MarkedOutOfSync int    `json:"marked_out_of_sync"`
	ErrorCount      int    `json:"error_count"`
}

// =============================================================================
// DISTRIBUTION TYPES
// =============================================================================

// MonthCellDTO holds all concept values for one month.
type MonthCellDTO struct {
	Month                string   `json:"month"`
	Expense              float64  `json:"expense"`
	PartialProgress      float64  `json:"partial_progress"`
	CumulativeProgress   float64  `json:"cumulative_progress"`
	Disbursement         float64  `json:"disbursement"`
	CumulativeInvestment float64  `json:"cumulative_investment"`
	Overridden           []string `json:"overridden,omitempty"`
}

// MatrixDTO is the month-by-month distribution response.
type MatrixDTO struct {
	ProjectID   string         `json:"project_id"`
	Start       string         `json:"start"`
	Horizon     int            `json:"horizon"`
	TotalBudget float64        `json:"total_budget"`
	Cells       []MonthCellDTO `json:"cells"`
}

// OverrideRequest stores a manual matrix cell.
type OverrideRequest struct {
	Month   string  `json:"month"`
	Concept string  `json:"concept"`
	Amount  float64 `json:"amount"`
}

// OverrideCellDTO represents a stored manual cell.
type OverrideCellDTO struct {
	ProjectID string  `json:"project_id"`
	Month     string  `json:"month"`
	Concept   string  `json:"concept"`
	Amount    float64 `json:"amount"`
	UpdatedAt string  `json:"updated_at,omitempty"`
}

// =============================================================================
// MISC TYPES
// =============================================================================

// ScenarioDTO represents a demo scenario.
type ScenarioDTO struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LoadScenarioRequest selects a scenario to load.
type LoadScenarioRequest struct {
	ScenarioID string `json:"scenario_id"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details any    `json:"details,omitempty"`
}

// =============================================================================
// CONVERSION HELPERS
// =============================================================================

func toParametricDTO(rec budget.ParametricRecord) ParametricDTO {
	return ParametricDTO{
		ID:              string(rec.ID),
		ProjectID:       string(rec.ProjectID),
		Department:      rec.Department,
		MajorCategoryID: string(rec.MajorCategoryID),
		MajorCategory:   rec.MajorCategory,
		TotalAmount:     rec.TotalAmount.Float64(),
		CreatedAt:       rec.CreatedAt.Format(time.RFC3339),
		UpdatedAt:       rec.UpdatedAt.Format(time.RFC3339),
	}
}

func toItemDTO(item budget.ExecutiveLineItem) ExecutiveItemDTO {
	quantity, _ := item.Quantity.Float64()
	return ExecutiveItemDTO{
		ID:                 string(item.ID),
		ProjectID:          string(item.ProjectID),
		ParametricRecordID: string(item.ParametricRecordID),
		Description:        item.Description,
		Quantity:           quantity,
		UnitPrice:          item.UnitPrice.Float64(),
		Amount:             item.Amount.Float64(),
		CreatedAt:          item.CreatedAt.Format(time.RFC3339),
		UpdatedAt:          item.UpdatedAt.Format(time.RFC3339),
	}
}

func toReconcileReportDTO(rep *reconcile.Report) ReconcileReportDTO {
	dto := ReconcileReportDTO{
		ProjectID:       string(rep.ProjectID),
		Rows:            make([]ResidualRowDTO, len(rep.Rows)),
		Groups:          make([]GroupSubtotalDTO, len(rep.Groups)),
		ParametricTotal: rep.Totals.ParametricTotal.Float64(),
		ExecutiveTotal:  rep.Totals.ExecutiveTotal.Float64(),
		ResidualTotal:   rep.Totals.ResidualTotal.Float64(),
		ExceededCount:   rep.Totals.ExceededCount,
	}
	for i, row := range rep.Rows {
		dto.Rows[i] = ResidualRowDTO{
			RecordID:        string(row.RecordID),
			MajorCategoryID: string(row.MajorCategoryID),
			MajorCategory:   row.MajorCategory,
			Department:      row.Department,
			ParametricTotal: row.ParametricTotal.Float64(),
			ExecutiveTotal:  row.ExecutiveTotal.Float64(),
			Residual:        row.Residual.Float64(),
			State:           string(row.State),
		}
	}
	for i, g := range rep.Groups {
		dto.Groups[i] = GroupSubtotalDTO{
			MajorCategoryID: string(g.MajorCategoryID),
			MajorCategory:   g.MajorCategory,
			ParametricTotal: g.ParametricTotal.Float64(),
			ExecutiveTotal:  g.ExecutiveTotal.Float64(),
			Residual:        g.Residual.Float64(),
			ExceededCount:   g.ExceededCount,
		}
	}
	return dto
}

func toLineDTO(line budget.ScheduleLine) ScheduleLineDTO {
	dto := ScheduleLineDTO{
		ID:              string(line.ID),
		ProjectID:       string(line.ProjectID),
		MajorCategoryID: string(line.MajorCategoryID),
		Label:           line.Label,
		Amount:          line.Amount.Float64(),
		StartWeek:       line.StartWeek,
		EndWeek:         line.EndWeek,
		Imported:        line.Imported,
		SyncState:       string(line.SyncState),
	}
	if !line.StartMonth.IsZero() {
		dto.StartMonth = line.StartMonth.String()
	}
	if !line.EndMonth.IsZero() {
		dto.EndMonth = line.EndMonth.String()
	}
	return dto
}

func toLinkDTO(link budget.SyncLink) SyncLinkDTO {
	return SyncLinkDTO{
		ID:              string(link.ID),
		ProjectID:       string(link.ProjectID),
		MajorCategoryID: string(link.MajorCategoryID),
		ScheduleLineID:  string(link.ScheduleLineID),
		LastSyncedTotal: link.LastSyncedTotal.Float64(),
		LastSyncedAt:    link.LastSyncedAt.Format(time.RFC3339),
		OverrideAmount:  link.OverrideAmount,
	}
}

func toSyncReportDTO(rep *schedule.Report) SyncReportDTO {
	dto := SyncReportDTO{
		ProjectID:           string(rep.ProjectID),
		Created:             rep.Created,
		Updated:             rep.Updated,
		MarkedOutOfSync:     rep.MarkedOutOfSync,
		Errors:              make([]CategoryErrorDTO, len(rep.Errors)),
		CreatedCategories:   categoryStrings(rep.CreatedCategories),
		UpdatedCategories:   categoryStrings(rep.UpdatedCategories),
		OutOfSyncCategories: categoryStrings(rep.OutOfSyncCategories),
		Summary:             rep.Summary(),
	}
	for i, e := range rep.Errors {
		dto.Errors[i] = CategoryErrorDTO{
			MajorCategoryID: string(e.MajorCategoryID),
			Message:         e.Message,
		}
	}
	return dto
}

func toMatrixDTO(m *distribution.Matrix) MatrixDTO {
	dto := MatrixDTO{
		ProjectID:   string(m.ProjectID),
		Start:       m.Start.String(),
		Horizon:     m.Horizon,
		TotalBudget: m.TotalBudget.Float64(),
		Cells:       make([]MonthCellDTO, len(m.Cells)),
	}
	for i, cell := range m.Cells {
		partial, _ := cell.PartialProgress.Float64()
		cumulative, _ := cell.CumulativeProgress.Float64()
		investment, _ := cell.CumulativeInvestment.Float64()
		dto.Cells[i] = MonthCellDTO{
			Month:                cell.Month.String(),
			Expense:              cell.Expense.Float64(),
			PartialProgress:      partial,
			CumulativeProgress:   cumulative,
			Disbursement:         cell.Disbursement.Float64(),
			CumulativeInvestment: investment,
			Overridden:           conceptStrings(cell.Overridden),
		}
	}
	return dto
}

func toOverrideDTO(cell budget.OverrideCell) OverrideCellDTO {
	return OverrideCellDTO{
		ProjectID: string(cell.ProjectID),
		Month:     cell.Month.String(),
		Concept:   string(cell.Concept),
		Amount:    cell.Amount.Float64(),
		UpdatedAt: cell.UpdatedAt.Format(time.RFC3339),
	}
}

func toSyncRunDTO(run budget.SyncRun) SyncRunDTO {
	return SyncRunDTO{
		ID:              run.ID,
		ProjectID:       string(run.ProjectID),
		StartedAt:       run.StartedAt.Format(time.RFC3339),
		FinishedAt:      run.FinishedAt.Format(time.RFC3339),
		Created:         run.Created,
		Updated:         run.Updated,
		MarkedOutOfSync: run.MarkedOutOfSync,
		ErrorCount:      run.ErrorCount,
	}
}

func categoryStrings(ids []budget.CategoryID) []string {
	if len(ids) == 0 {
		return nil
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = string(id)
	}
	return out
}

func conceptStrings(cs []budget.Concept) []string {
	if len(cs) == 0 {
		return nil
	}
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = string(c)
	}
	return out
}
