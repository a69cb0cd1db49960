/*
store.go - Persistence interfaces for the budget hierarchy and schedule

PURPOSE:
  Defines the interface between the engines and the database. Different
  implementations can use SQLite, PostgreSQL, or in-memory storage.

KEY INTERFACES:
  ParametricStore: Category-level estimates (authoritative for totals)
  ExecutiveStore:  Line item detail (authoritative for detail)
  ScheduleStore:   Schedule lines and sync links
  OverrideStore:   Manual (month, concept) matrix overrides
  SyncTxStore:     Adds WithCategoryTx for atomic per-category sync steps

INVARIANTS ENFORCED BY IMPLEMENTATIONS:
  - Amounts are non-negative (ErrInvalidAmount)
  - An executive item's parametric record must exist in the same project
    (ErrOrphanReference on create/update)
  - A parametric record with attached items cannot be deleted
    (ErrReferentialConflict)
  - At most one sync link per (project, major category)

ATOMIC CATEGORY STEPS:
  WithCategoryTx ensures one category's create/update/mark step is a single
  write. Two concurrent syncs may race on a category but can never leave a
  half-written SyncLink/ScheduleLine pair; the last writer wins and the next
  sync self-corrects via the last_synced_total comparison.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: Production SQLite
  - budget/store/memory.go: In-memory for testing

SEE ALSO:
  - reconcile/reconcile.go: Read-only consumer of Parametric+Executive
  - schedule/sync.go: Read-write consumer of Parametric+Schedule
  - distribution/matrix.go: Read-only consumer of Schedule+Override
*/
package budget

import "context"

// =============================================================================
// PARAMETRIC STORE
// =============================================================================

type ParametricStore interface {
	// CreateParametric inserts a record. Fails with ErrInvalidAmount for
	// negative totals.
	CreateParametric(ctx context.Context, rec ParametricRecord) error

	// UpdateParametric rewrites department, category and total for an
	// existing record.
	UpdateParametric(ctx context.Context, rec ParametricRecord) error

	// DeleteParametric removes a record. Fails with ReferentialConflictError
	// while executive line items still reference it.
	DeleteParametric(ctx context.Context, id RecordID) error

	GetParametric(ctx context.Context, id RecordID) (*ParametricRecord, error)

	// ListParametric returns all records for a project ordered by department
	// then major category.
	ListParametric(ctx context.Context, project ProjectID) ([]ParametricRecord, error)
}

// =============================================================================
// EXECUTIVE STORE
// =============================================================================

type ExecutiveStore interface {
	// CreateItem inserts a line item. Fails with OrphanReferenceError when
	// the named parametric record does not exist in the same project, and
	// with ErrInvalidAmount for negative quantity or unit price.
	CreateItem(ctx context.Context, item ExecutiveLineItem) error

	UpdateItem(ctx context.Context, item ExecutiveLineItem) error

	DeleteItem(ctx context.Context, id ItemID) error

	GetItem(ctx context.Context, id ItemID) (*ExecutiveLineItem, error)

	ListItems(ctx context.Context, project ProjectID) ([]ExecutiveLineItem, error)

	// ListItemsByRecord returns the items attributed to one parametric record.
	ListItemsByRecord(ctx context.Context, record RecordID) ([]ExecutiveLineItem, error)
}

// =============================================================================
// SCHEDULE STORE - Lines and sync links
// =============================================================================

type ScheduleStore interface {
	// SaveLine upserts a schedule line.
	SaveLine(ctx context.Context, line ScheduleLine) error

	GetLine(ctx context.Context, id LineID) (*ScheduleLine, error)

	ListLines(ctx context.Context, project ProjectID) ([]ScheduleLine, error)

	// SetPlacement records the human-entered start/end position of a line.
	// The engine never invents a placement.
	SetPlacement(ctx context.Context, id LineID, start Month, startWeek int, end Month, endWeek int) error

	// SetLineSyncState flips only the sync state, preserving placement.
	SetLineSyncState(ctx context.Context, id LineID, state SyncState) error

	// SaveLink upserts a sync link. At most one link may exist per
	// (project, major category).
	SaveLink(ctx context.Context, link SyncLink) error

	GetLink(ctx context.Context, id LinkID) (*SyncLink, error)

	// GetLinkByCategory returns the link for a category, or nil when the
	// category has never been imported.
	GetLinkByCategory(ctx context.Context, project ProjectID, category CategoryID) (*SyncLink, error)

	ListLinks(ctx context.Context, project ProjectID) ([]SyncLink, error)

	// SetLinkOverride flips the override flag. It must not touch
	// last_synced_total, so the prior synced amount stays auditable.
	SetLinkOverride(ctx context.Context, id LinkID, override bool) error
}

// SyncTxStore extends ScheduleStore with a per-category transaction boundary.
type SyncTxStore interface {
	ScheduleStore

	// WithCategoryTx executes fn atomically. If fn returns an error the
	// writes are rolled back.
	WithCategoryTx(ctx context.Context, fn func(ScheduleStore) error) error
}

// =============================================================================
// OVERRIDE STORE - Manual distribution cells
// =============================================================================

type OverrideStore interface {
	// UpsertOverride stores a manual value for a (month, concept) pair.
	UpsertOverride(ctx context.Context, cell OverrideCell) error

	DeleteOverride(ctx context.Context, project ProjectID, month Month, concept Concept) error

	ListOverrides(ctx context.Context, project ProjectID) ([]OverrideCell, error)
}

// =============================================================================
// SYNC RUN STORE - Audit trail of sync invocations
// =============================================================================

type SyncRunStore interface {
	SaveSyncRun(ctx context.Context, run SyncRun) error
	ListSyncRuns(ctx context.Context, project ProjectID) ([]SyncRun, error)
}

// =============================================================================
// AGGREGATE STORE
// =============================================================================

// Store is everything the engines and the API layer need from persistence.
type Store interface {
	ParametricStore
	ExecutiveStore
	SyncTxStore
	OverrideStore
	SyncRunStore

	// ListProjects returns every project that has any stored data, for
	// callers that iterate (e.g. the periodic sync runner).
	ListProjects(ctx context.Context) ([]ProjectID, error)
}
