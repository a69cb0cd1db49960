/*
Package schedule mirrors parametric category totals into the project schedule.

PURPOSE:
  Projects each major category's current parametric total into a schedule
  line, maintaining one sync link per (project, category). Manual amount
  overrides are never overwritten, and categories that disappear from the
  parametric budget are marked out of sync without deleting their lines
  (a human's time placement must survive).

PER-CATEGORY ISOLATION:
  Each category's create/update/mark step runs inside a single store
  transaction (WithCategoryTx). A failure on one category is recorded in the
  report and the loop continues; the whole sync never aborts on a single
  category. Only a failure to read the parametric store aborts the call.

CONVERGENCE:
  Two concurrent syncs may race on a category; the last writer wins and the
  next sync self-corrects via the last_synced_total comparison. Calling sync
  twice with no budget change yields created = updated = marked = 0.

SEE ALSO:
  - budget/store.go: SyncTxStore contract
  - distribution/matrix.go: Consumes the schedule lines this engine maintains
*/
package schedule

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/archiflow/budget-engine/budget"
	"github.com/google/uuid"
)

// =============================================================================
// ENGINE
// =============================================================================

// Engine synchronizes parametric totals into schedule lines. Stateless;
// every call recomputes from the store.
type Engine struct {
	Parametric budget.ParametricStore
	Schedule   budget.SyncTxStore

	// Runs, when set, records an audit row per invocation.
	Runs budget.SyncRunStore
}

func NewEngine(parametric budget.ParametricStore, schedule budget.SyncTxStore) *Engine {
	return &Engine{Parametric: parametric, Schedule: schedule}
}

// =============================================================================
// REPORT TYPES
// =============================================================================

// CategoryError records one category's failed sync step.
type CategoryError struct {
	MajorCategoryID budget.CategoryID
	Message         string
}

// Report is the partial-failure-aware result of one sync invocation.
type Report struct {
	ProjectID       budget.ProjectID
	Created         int
	Updated         int
	MarkedOutOfSync int
	Errors          []CategoryError

	// Affected categories, for the notification collaborator.
	CreatedCategories   []budget.CategoryID
	UpdatedCategories   []budget.CategoryID
	OutOfSyncCategories []budget.CategoryID
}

// Summary renders the human-readable line a notification layer forwards.
func (r *Report) Summary() string {
	return fmt.Sprintf("sync %s: %d created, %d updated, %d out of sync, %d errors",
		r.ProjectID, r.Created, r.Updated, r.MarkedOutOfSync, len(r.Errors))
}

// =============================================================================
// SYNC
// =============================================================================

// Sync reconciles every major category of the project against the schedule.
func (e *Engine) Sync(ctx context.Context, project budget.ProjectID) (*Report, error) {
	started := time.Now().UTC()

	records, err := e.Parametric.ListParametric(ctx, project)
	if err != nil {
		// Precondition failure: without the parametric totals there is
		// nothing to reconcile against.
		return nil, fmt.Errorf("%w: %v", budget.ErrParametricUnavailable, err)
	}

	// Current totals per category. Zero-total categories count as absent.
	type categoryTotal struct {
		id    budget.CategoryID
		name  string
		total budget.Money
	}
	current := make(map[budget.CategoryID]categoryTotal)
	for _, rec := range records {
		if !rec.TotalAmount.IsPositive() {
			continue
		}
		ct := current[rec.MajorCategoryID]
		ct.id = rec.MajorCategoryID
		if ct.name == "" {
			ct.name = rec.MajorCategory
		}
		ct.total = ct.total.Add(rec.TotalAmount)
		current[rec.MajorCategoryID] = ct
	}

	ordered := make([]categoryTotal, 0, len(current))
	for _, ct := range current {
		ordered = append(ordered, ct)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].id < ordered[j].id })

	report := &Report{ProjectID: project}

	for _, ct := range ordered {
		ct := ct
		err := e.Schedule.WithCategoryTx(ctx, func(s budget.ScheduleStore) error {
			return e.syncCategory(ctx, s, project, ct.id, ct.name, ct.total, report)
		})
		if err != nil {
			report.Errors = append(report.Errors, CategoryError{
				MajorCategoryID: ct.id,
				Message:         err.Error(),
			})
		}
	}

	// Retire links whose category vanished from the parametric budget.
	links, err := e.Schedule.ListLinks(ctx, project)
	if err != nil {
		report.Errors = append(report.Errors, CategoryError{Message: fmt.Sprintf("list links: %v", err)})
	} else {
		for _, link := range links {
			if _, present := current[link.MajorCategoryID]; present {
				continue
			}
			link := link
			err := e.Schedule.WithCategoryTx(ctx, func(s budget.ScheduleStore) error {
				return e.retireCategory(ctx, s, link, report)
			})
			if err != nil {
				report.Errors = append(report.Errors, CategoryError{
					MajorCategoryID: link.MajorCategoryID,
					Message:         err.Error(),
				})
			}
		}
	}

	if e.Runs != nil {
		run := budget.SyncRun{
			ID:              uuid.NewString(),
			ProjectID:       project,
			StartedAt:       started,
			FinishedAt:      time.Now().UTC(),
			Created:         report.Created,
			Updated:         report.Updated,
			MarkedOutOfSync: report.MarkedOutOfSync,
			ErrorCount:      len(report.Errors),
		}
		if err := e.Runs.SaveSyncRun(ctx, run); err != nil {
			report.Errors = append(report.Errors, CategoryError{Message: fmt.Sprintf("save sync run: %v", err)})
		}
	}

	return report, nil
}

// syncCategory applies one category's create-or-update step. It runs inside
// a single store transaction.
func (e *Engine) syncCategory(
	ctx context.Context,
	s budget.ScheduleStore,
	project budget.ProjectID,
	category budget.CategoryID,
	name string,
	total budget.Money,
	report *Report,
) error {
	link, err := s.GetLinkByCategory(ctx, project, category)
	if err != nil {
		return fmt.Errorf("lookup link: %w", err)
	}

	now := time.Now().UTC()

	if link == nil {
		// First import: a fresh line with no time placement yet.
		line := budget.ScheduleLine{
			ID:              budget.LineID(uuid.NewString()),
			ProjectID:       project,
			MajorCategoryID: category,
			Label:           name,
			Amount:          total,
			Imported:        true,
			SyncState:       budget.SyncPendingDates,
		}
		if err := s.SaveLine(ctx, line); err != nil {
			return fmt.Errorf("create line: %w", err)
		}
		if err := s.SaveLink(ctx, budget.SyncLink{
			ID:              budget.LinkID(uuid.NewString()),
			ProjectID:       project,
			MajorCategoryID: category,
			ScheduleLineID:  line.ID,
			LastSyncedTotal: total,
			LastSyncedAt:    now,
		}); err != nil {
			return fmt.Errorf("create link: %w", err)
		}
		report.Created++
		report.CreatedCategories = append(report.CreatedCategories, category)
		return nil
	}

	if link.OverrideAmount || link.LastSyncedTotal.Equal(total) {
		// Idempotent no-op: either a human owns the amount or nothing changed.
		return nil
	}

	line, err := s.GetLine(ctx, link.ScheduleLineID)
	if err != nil {
		return fmt.Errorf("lookup line: %w", err)
	}
	if line == nil {
		return budget.ErrLineNotFound
	}

	line.Amount = total
	if line.Placed() {
		line.SyncState = budget.SyncSynced
	} else {
		line.SyncState = budget.SyncPendingDates
	}
	if err := s.SaveLine(ctx, *line); err != nil {
		return fmt.Errorf("update line: %w", err)
	}

	link.LastSyncedTotal = total
	link.LastSyncedAt = now
	if err := s.SaveLink(ctx, *link); err != nil {
		return fmt.Errorf("update link: %w", err)
	}

	report.Updated++
	report.UpdatedCategories = append(report.UpdatedCategories, category)
	return nil
}

// retireCategory marks a vanished category's line out of sync. The line is
// never deleted: manually entered placement must survive.
func (e *Engine) retireCategory(ctx context.Context, s budget.ScheduleStore, link budget.SyncLink, report *Report) error {
	line, err := s.GetLine(ctx, link.ScheduleLineID)
	if err != nil {
		return fmt.Errorf("lookup line: %w", err)
	}
	if line == nil {
		return budget.ErrLineNotFound
	}
	if line.SyncState == budget.SyncOutOfSync {
		return nil // already retired, keep sync idempotent
	}

	if err := s.SetLineSyncState(ctx, line.ID, budget.SyncOutOfSync); err != nil {
		return fmt.Errorf("mark out of sync: %w", err)
	}
	report.MarkedOutOfSync++
	report.OutOfSyncCategories = append(report.OutOfSyncCategories, link.MajorCategoryID)
	return nil
}

// =============================================================================
// OVERRIDE TOGGLE
// =============================================================================

// SetOverride flips the manual-amount flag on a link. The previously synced
// total is left untouched so the change stays auditable.
func (e *Engine) SetOverride(ctx context.Context, id budget.LinkID, override bool) (*budget.SyncLink, error) {
	link, err := e.Schedule.GetLink(ctx, id)
	if err != nil {
		return nil, err
	}
	if link == nil {
		return nil, budget.ErrLinkNotFound
	}

	if err := e.Schedule.SetLinkOverride(ctx, id, override); err != nil {
		return nil, err
	}
	link.OverrideAmount = override
	return link, nil
}
