/*
Package sqlite provides a SQLite-backed implementation of the storage
interfaces.

PURPOSE:
  Implements budget.Store using SQLite. In production the same patterns
  apply to PostgreSQL - only minor SQL dialect differences.

INTERFACES IMPLEMENTED:
  budget.ParametricStore: Category-level estimates
  budget.ExecutiveStore:  Executive line items
  budget.SyncTxStore:     Schedule lines + sync links with per-category tx
  budget.OverrideStore:   Manual (month, concept) matrix cells
  budget.SyncRunStore:    Sync audit trail

REFERENTIAL INVARIANTS:
  Enforced explicitly before writes rather than via opaque cascades:
  - Executive inserts/updates verify the parent parametric record exists in
    the same project (OrphanReferenceError otherwise)
  - Parametric deletes fail with ReferentialConflictError while children
    remain, naming the blocking items
  - idx_parametric_project_category keeps one estimate per (project, category)
  - idx_links_project_category keeps one sync link per (project, category)

CATEGORY TRANSACTIONS:
  WithCategoryTx maps one category's sync step onto one SQL transaction, so
  a SyncLink/ScheduleLine pair is never half-written.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) for better concurrency:
  - Multiple readers don't block
  - Single writer at a time
  - Better crash recovery

USAGE:
  store, err := sqlite.New("./data/archiflow.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - budget/store.go: Interface definitions
  - budget/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/archiflow/budget-engine/budget"
	_ "github.com/mattn/go-sqlite3"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite allows one writer; a single pooled connection also keeps
	// ":memory:" databases from being split across connections.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Parametric records (category-level estimates)
	CREATE TABLE IF NOT EXISTS parametric_records (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		department TEXT NOT NULL,
		major_category_id TEXT NOT NULL,
		major_category TEXT NOT NULL,
		total_amount TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_parametric_project
		ON parametric_records(project_id);

	-- One estimate per (project, major category)
	CREATE UNIQUE INDEX IF NOT EXISTS idx_parametric_project_category
		ON parametric_records(project_id, major_category_id);

	-- Executive line items (quantity × unit price detail)
	CREATE TABLE IF NOT EXISTS executive_items (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		parametric_record_id TEXT NOT NULL,
		description TEXT,
		quantity TEXT NOT NULL,
		unit_price TEXT NOT NULL,
		amount TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_items_project
		ON executive_items(project_id);

	-- Composite index for per-record residual sums (hot path)
	CREATE INDEX IF NOT EXISTS idx_items_record
		ON executive_items(parametric_record_id, id);

	-- Schedule lines (Gantt rows; month/week placement entered by a human)
	CREATE TABLE IF NOT EXISTS schedule_lines (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		major_category_id TEXT,
		label TEXT,
		amount TEXT NOT NULL,
		start_month TEXT,
		start_week INTEGER DEFAULT 0,
		end_month TEXT,
		end_week INTEGER DEFAULT 0,
		imported BOOLEAN DEFAULT FALSE,
		sync_state TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_lines_project
		ON schedule_lines(project_id);

	-- Sync links (the sole budget-to-schedule mapping)
	CREATE TABLE IF NOT EXISTS sync_links (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		major_category_id TEXT NOT NULL,
		schedule_line_id TEXT NOT NULL,
		last_synced_total TEXT NOT NULL,
		last_synced_at TEXT NOT NULL,
		override_amount BOOLEAN DEFAULT FALSE
	);

	-- CRITICAL: exactly one active link per (project, major category)
	CREATE UNIQUE INDEX IF NOT EXISTS idx_links_project_category
		ON sync_links(project_id, major_category_id);

	-- Manual matrix overrides, keyed by (project, month, concept)
	CREATE TABLE IF NOT EXISTS override_cells (
		project_id TEXT NOT NULL,
		month TEXT NOT NULL,
		concept TEXT NOT NULL,
		amount TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL,
		PRIMARY KEY (project_id, month, concept)
	);

	-- Sync runs (audit trail)
	CREATE TABLE IF NOT EXISTS sync_runs (
		id TEXT PRIMARY KEY,
		project_id TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT NOT NULL,
		created INTEGER DEFAULT 0,
		updated INTEGER DEFAULT 0,
		marked_out_of_sync INTEGER DEFAULT 0,
		error_count INTEGER DEFAULT 0
	);

	CREATE INDEX IF NOT EXISTS idx_sync_runs_project
		ON sync_runs(project_id, started_at DESC);
	`

	_, err := s.db.Exec(schema)
	return err
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// rowScanner is satisfied by both *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// =============================================================================
// PARAMETRIC STORE (budget.ParametricStore interface)
// =============================================================================

// CreateParametric inserts a category estimate.
func (s *Store) CreateParametric(ctx context.Context, rec budget.ParametricRecord) error {
	if err := budget.CheckAmount("total_amount", rec.TotalAmount); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO parametric_records
		(id, project_id, department, major_category_id, major_category, total_amount, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ProjectID, rec.Department, rec.MajorCategoryID, rec.MajorCategory,
		rec.TotalAmount.Value.String(), now, now,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return budget.ErrDuplicateCategory
		}
		return fmt.Errorf("failed to create parametric record: %w", err)
	}
	return nil
}

// UpdateParametric rewrites an existing estimate. Project attribution is
// immutable.
func (s *Store) UpdateParametric(ctx context.Context, rec budget.ParametricRecord) error {
	if err := budget.CheckAmount("total_amount", rec.TotalAmount); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE parametric_records
		SET department = ?, major_category_id = ?, major_category = ?, total_amount = ?, updated_at = ?
		WHERE id = ?`,
		rec.Department, rec.MajorCategoryID, rec.MajorCategory,
		rec.TotalAmount.Value.String(), time.Now().UTC().Format(time.RFC3339), rec.ID,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return budget.ErrDuplicateCategory
		}
		return fmt.Errorf("failed to update parametric record: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return budget.ErrRecordNotFound
	}
	return nil
}

// DeleteParametric removes an estimate, refusing while executive line items
// still reference it.
func (s *Store) DeleteParametric(ctx context.Context, id budget.RecordID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT id FROM executive_items WHERE parametric_record_id = ? ORDER BY id", id)
	if err != nil {
		return fmt.Errorf("failed to check executive items: %w", err)
	}
	defer rows.Close()

	var children []budget.ItemID
	for rows.Next() {
		var itemID budget.ItemID
		if err := rows.Scan(&itemID); err != nil {
			return err
		}
		children = append(children, itemID)
	}
	if err := rows.Err(); err != nil {
		return err
	}
	if len(children) > 0 {
		return &budget.ReferentialConflictError{
			RecordID:  id,
			ItemCount: len(children),
			ItemIDs:   children,
		}
	}

	res, err := s.db.ExecContext(ctx, "DELETE FROM parametric_records WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete parametric record: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return budget.ErrRecordNotFound
	}
	return nil
}

// GetParametric retrieves an estimate by ID. Returns nil when missing.
func (s *Store) GetParametric(ctx context.Context, id budget.RecordID) (*budget.ParametricRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, department, major_category_id, major_category, total_amount, created_at, updated_at
		FROM parametric_records WHERE id = ?`, id)

	rec, err := scanParametric(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListParametric returns all estimates for a project ordered by department
// then major category.
func (s *Store) ListParametric(ctx context.Context, project budget.ProjectID) ([]budget.ParametricRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, department, major_category_id, major_category, total_amount, created_at, updated_at
		FROM parametric_records
		WHERE project_id = ?
		ORDER BY department ASC, major_category_id ASC`, project)
	if err != nil {
		return nil, fmt.Errorf("failed to list parametric records: %w", err)
	}
	defer rows.Close()

	var records []budget.ParametricRecord
	for rows.Next() {
		rec, err := scanParametric(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, rows.Err()
}

func scanParametric(row rowScanner) (*budget.ParametricRecord, error) {
	var (
		rec       budget.ParametricRecord
		total     string
		createdAt string
		updatedAt string
	)

	err := row.Scan(&rec.ID, &rec.ProjectID, &rec.Department, &rec.MajorCategoryID,
		&rec.MajorCategory, &total, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	rec.TotalAmount = budget.MustParseMoney(total)
	rec.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	rec.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &rec, nil
}

// =============================================================================
// EXECUTIVE STORE (budget.ExecutiveStore interface)
// =============================================================================

// CreateItem inserts a line item after verifying its parent exists in the
// same project. The stored amount is always quantity × unit price.
func (s *Store) CreateItem(ctx context.Context, item budget.ExecutiveLineItem) error {
	if err := validateItem(item); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkParent(ctx, item); err != nil {
		return err
	}

	item.ComputeAmount()
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO executive_items
		(id, project_id, parametric_record_id, description, quantity, unit_price, amount, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		item.ID, item.ProjectID, item.ParametricRecordID, item.Description,
		item.Quantity.String(), item.UnitPrice.Value.String(), item.Amount.Value.String(),
		now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to create executive item: %w", err)
	}
	return nil
}

// UpdateItem rewrites a line item, re-deriving its amount. Project
// attribution is immutable.
func (s *Store) UpdateItem(ctx context.Context, item budget.ExecutiveLineItem) error {
	if err := validateItem(item); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.getItem(ctx, item.ID)
	if err != nil {
		return err
	}
	if existing == nil {
		return budget.ErrItemNotFound
	}
	item.ProjectID = existing.ProjectID

	if err := s.checkParent(ctx, item); err != nil {
		return err
	}

	item.ComputeAmount()
	_, err = s.db.ExecContext(ctx, `
		UPDATE executive_items
		SET parametric_record_id = ?, description = ?, quantity = ?, unit_price = ?, amount = ?, updated_at = ?
		WHERE id = ?`,
		item.ParametricRecordID, item.Description, item.Quantity.String(),
		item.UnitPrice.Value.String(), item.Amount.Value.String(),
		time.Now().UTC().Format(time.RFC3339), item.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update executive item: %w", err)
	}
	return nil
}

// DeleteItem removes a line item.
func (s *Store) DeleteItem(ctx context.Context, id budget.ItemID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM executive_items WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete executive item: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return budget.ErrItemNotFound
	}
	return nil
}

// GetItem retrieves a line item by ID. Returns nil when missing.
func (s *Store) GetItem(ctx context.Context, id budget.ItemID) (*budget.ExecutiveLineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.getItem(ctx, id)
}

func (s *Store) getItem(ctx context.Context, id budget.ItemID) (*budget.ExecutiveLineItem, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, parametric_record_id, description, quantity, unit_price, amount, created_at, updated_at
		FROM executive_items WHERE id = ?`, id)

	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return item, nil
}

// ListItems returns all line items for a project.
func (s *Store) ListItems(ctx context.Context, project budget.ProjectID) ([]budget.ExecutiveLineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryItems(ctx, `
		SELECT id, project_id, parametric_record_id, description, quantity, unit_price, amount, created_at, updated_at
		FROM executive_items
		WHERE project_id = ?
		ORDER BY parametric_record_id ASC, id ASC`, project)
}

// ListItemsByRecord returns the items attributed to one parametric record.
func (s *Store) ListItemsByRecord(ctx context.Context, record budget.RecordID) ([]budget.ExecutiveLineItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.queryItems(ctx, `
		SELECT id, project_id, parametric_record_id, description, quantity, unit_price, amount, created_at, updated_at
		FROM executive_items
		WHERE parametric_record_id = ?
		ORDER BY id ASC`, record)
}

func (s *Store) queryItems(ctx context.Context, query string, args ...any) ([]budget.ExecutiveLineItem, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executive items: %w", err)
	}
	defer rows.Close()

	var items []budget.ExecutiveLineItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

func scanItem(row rowScanner) (*budget.ExecutiveLineItem, error) {
	var (
		item        budget.ExecutiveLineItem
		description sql.NullString
		quantity    string
		unitPrice   string
		amount      string
		createdAt   string
		updatedAt   string
	)

	err := row.Scan(&item.ID, &item.ProjectID, &item.ParametricRecordID, &description,
		&quantity, &unitPrice, &amount, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	item.Description = description.String
	item.Quantity = budget.MustParseMoney(quantity).Value
	item.UnitPrice = budget.MustParseMoney(unitPrice)
	item.Amount = budget.MustParseMoney(amount)
	item.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	item.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &item, nil
}

func (s *Store) checkParent(ctx context.Context, item budget.ExecutiveLineItem) error {
	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM parametric_records WHERE id = ? AND project_id = ?",
		item.ParametricRecordID, item.ProjectID,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("failed to check parametric parent: %w", err)
	}
	if count == 0 {
		return &budget.OrphanReferenceError{
			ProjectID:          item.ProjectID,
			ParametricRecordID: item.ParametricRecordID,
		}
	}
	return nil
}

func validateItem(item budget.ExecutiveLineItem) error {
	if item.Quantity.IsNegative() {
		return &budget.InvalidAmountError{Field: "quantity", Value: item.Quantity.String()}
	}
	return budget.CheckAmount("unit_price", item.UnitPrice)
}

// =============================================================================
// SCHEDULE STORE (budget.ScheduleStore interface)
// =============================================================================

// SaveLine upserts a schedule line.
func (s *Store) SaveLine(ctx context.Context, line budget.ScheduleLine) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveLine(ctx, s.db, line)
}

func saveLine(ctx context.Context, db dbtx, line budget.ScheduleLine) error {
	if err := budget.CheckAmount("amount", line.Amount); err != nil {
		return err
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := db.ExecContext(ctx, `
		INSERT INTO schedule_lines
		(id, project_id, major_category_id, label, amount, start_month, start_week,
		 end_month, end_week, imported, sync_state, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			major_category_id = excluded.major_category_id,
			label = excluded.label,
			amount = excluded.amount,
			start_month = excluded.start_month,
			start_week = excluded.start_week,
			end_month = excluded.end_month,
			end_week = excluded.end_week,
			imported = excluded.imported,
			sync_state = excluded.sync_state,
			updated_at = excluded.updated_at`,
		line.ID, line.ProjectID, nullString(string(line.MajorCategoryID)), line.Label,
		line.Amount.Value.String(), monthToDB(line.StartMonth), line.StartWeek,
		monthToDB(line.EndMonth), line.EndWeek, line.Imported, string(line.SyncState),
		now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to save schedule line: %w", err)
	}
	return nil
}

// GetLine retrieves a schedule line by ID. Returns nil when missing.
func (s *Store) GetLine(ctx context.Context, id budget.LineID) (*budget.ScheduleLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getLine(ctx, s.db, id)
}

func getLine(ctx context.Context, db dbtx, id budget.LineID) (*budget.ScheduleLine, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, project_id, major_category_id, label, amount, start_month, start_week,
		       end_month, end_week, imported, sync_state, created_at, updated_at
		FROM schedule_lines WHERE id = ?`, id)

	line, err := scanLine(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return line, nil
}

// ListLines returns all schedule lines for a project.
func (s *Store) ListLines(ctx context.Context, project budget.ProjectID) ([]budget.ScheduleLine, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listLines(ctx, s.db, project)
}

func listLines(ctx context.Context, db dbtx, project budget.ProjectID) ([]budget.ScheduleLine, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, project_id, major_category_id, label, amount, start_month, start_week,
		       end_month, end_week, imported, sync_state, created_at, updated_at
		FROM schedule_lines
		WHERE project_id = ?
		ORDER BY id ASC`, project)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedule lines: %w", err)
	}
	defer rows.Close()

	var lines []budget.ScheduleLine
	for rows.Next() {
		line, err := scanLine(rows)
		if err != nil {
			return nil, err
		}
		lines = append(lines, *line)
	}
	return lines, rows.Err()
}

func scanLine(row rowScanner) (*budget.ScheduleLine, error) {
	var (
		line       budget.ScheduleLine
		category   sql.NullString
		label      sql.NullString
		amount     string
		startMonth sql.NullString
		endMonth   sql.NullString
		state      string
		createdAt  string
		updatedAt  string
	)

	err := row.Scan(&line.ID, &line.ProjectID, &category, &label, &amount,
		&startMonth, &line.StartWeek, &endMonth, &line.EndWeek,
		&line.Imported, &state, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	line.MajorCategoryID = budget.CategoryID(category.String)
	line.Label = label.String
	line.Amount = budget.MustParseMoney(amount)
	line.StartMonth = monthFromDB(startMonth)
	line.EndMonth = monthFromDB(endMonth)
	line.SyncState = budget.SyncState(state)
	line.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	line.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &line, nil
}

// SetPlacement records a human-entered time placement. A pending line with a
// full placement is promoted to synced.
func (s *Store) SetPlacement(ctx context.Context, id budget.LineID, start budget.Month, startWeek int, end budget.Month, endWeek int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setPlacement(ctx, s.db, id, start, startWeek, end, endWeek)
}

func setPlacement(ctx context.Context, db dbtx, id budget.LineID, start budget.Month, startWeek int, end budget.Month, endWeek int) error {
	line, err := getLine(ctx, db, id)
	if err != nil {
		return err
	}
	if line == nil {
		return budget.ErrLineNotFound
	}

	line.StartMonth = start
	line.StartWeek = startWeek
	line.EndMonth = end
	line.EndWeek = endWeek
	state := line.SyncState
	if state == budget.SyncPendingDates && line.Placed() {
		state = budget.SyncSynced
	}

	_, err = db.ExecContext(ctx, `
		UPDATE schedule_lines
		SET start_month = ?, start_week = ?, end_month = ?, end_week = ?, sync_state = ?, updated_at = ?
		WHERE id = ?`,
		monthToDB(start), startWeek, monthToDB(end), endWeek, string(state),
		time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set placement: %w", err)
	}
	return nil
}

// SetLineSyncState flips only the sync state, preserving placement.
func (s *Store) SetLineSyncState(ctx context.Context, id budget.LineID, state budget.SyncState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setLineSyncState(ctx, s.db, id, state)
}

func setLineSyncState(ctx context.Context, db dbtx, id budget.LineID, state budget.SyncState) error {
	res, err := db.ExecContext(ctx,
		"UPDATE schedule_lines SET sync_state = ?, updated_at = ? WHERE id = ?",
		string(state), time.Now().UTC().Format(time.RFC3339), id,
	)
	if err != nil {
		return fmt.Errorf("failed to set sync state: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return budget.ErrLineNotFound
	}
	return nil
}

// SaveLink upserts a sync link.
func (s *Store) SaveLink(ctx context.Context, link budget.SyncLink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveLink(ctx, s.db, link)
}

func saveLink(ctx context.Context, db dbtx, link budget.SyncLink) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO sync_links
		(id, project_id, major_category_id, schedule_line_id, last_synced_total, last_synced_at, override_amount)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			schedule_line_id = excluded.schedule_line_id,
			last_synced_total = excluded.last_synced_total,
			last_synced_at = excluded.last_synced_at,
			override_amount = excluded.override_amount`,
		link.ID, link.ProjectID, link.MajorCategoryID, link.ScheduleLineID,
		link.LastSyncedTotal.Value.String(),
		link.LastSyncedAt.UTC().Format(time.RFC3339),
		link.OverrideAmount,
	)
	if err != nil {
		if isUniqueConstraintError(err) {
			return budget.ErrDuplicateCategory
		}
		return fmt.Errorf("failed to save sync link: %w", err)
	}
	return nil
}

// GetLink retrieves a sync link by ID. Returns nil when missing.
func (s *Store) GetLink(ctx context.Context, id budget.LinkID) (*budget.SyncLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getLinkWhere(ctx, s.db, "id = ?", id)
}

// GetLinkByCategory retrieves the link for one (project, category) pair, or
// nil when the category has never been imported.
func (s *Store) GetLinkByCategory(ctx context.Context, project budget.ProjectID, category budget.CategoryID) (*budget.SyncLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getLinkWhere(ctx, s.db, "project_id = ? AND major_category_id = ?", project, category)
}

func getLinkWhere(ctx context.Context, db dbtx, where string, args ...any) (*budget.SyncLink, error) {
	row := db.QueryRowContext(ctx, `
		SELECT id, project_id, major_category_id, schedule_line_id, last_synced_total, last_synced_at, override_amount
		FROM sync_links WHERE `+where, args...)

	link, err := scanLink(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return link, nil
}

// ListLinks returns all sync links for a project.
func (s *Store) ListLinks(ctx context.Context, project budget.ProjectID) ([]budget.SyncLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listLinks(ctx, s.db, project)
}

func listLinks(ctx context.Context, db dbtx, project budget.ProjectID) ([]budget.SyncLink, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT id, project_id, major_category_id, schedule_line_id, last_synced_total, last_synced_at, override_amount
		FROM sync_links
		WHERE project_id = ?
		ORDER BY major_category_id ASC`, project)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync links: %w", err)
	}
	defer rows.Close()

	var links []budget.SyncLink
	for rows.Next() {
		link, err := scanLink(rows)
		if err != nil {
			return nil, err
		}
		links = append(links, *link)
	}
	return links, rows.Err()
}

func scanLink(row rowScanner) (*budget.SyncLink, error) {
	var (
		link     budget.SyncLink
		total    string
		syncedAt string
	)

	err := row.Scan(&link.ID, &link.ProjectID, &link.MajorCategoryID, &link.ScheduleLineID,
		&total, &syncedAt, &link.OverrideAmount)
	if err != nil {
		return nil, err
	}

	link.LastSyncedTotal = budget.MustParseMoney(total)
	link.LastSyncedAt, _ = time.Parse(time.RFC3339, syncedAt)
	return &link, nil
}

// SetLinkOverride flips the override flag only; last_synced_total is
// deliberately untouched so the prior synced amount stays auditable.
func (s *Store) SetLinkOverride(ctx context.Context, id budget.LinkID, override bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setLinkOverride(ctx, s.db, id, override)
}

func setLinkOverride(ctx context.Context, db dbtx, id budget.LinkID, override bool) error {
	res, err := db.ExecContext(ctx,
		"UPDATE sync_links SET override_amount = ? WHERE id = ?", override, id)
	if err != nil {
		return fmt.Errorf("failed to set override flag: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return budget.ErrLinkNotFound
	}
	return nil
}

// =============================================================================
// CATEGORY TRANSACTIONS (budget.SyncTxStore interface)
// =============================================================================

// WithCategoryTx executes fn within a database transaction. This is the
// boundary that keeps one category's line+link writes atomic.
func (s *Store) WithCategoryTx(ctx context.Context, fn func(budget.ScheduleStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txScheduleStore{tx: sqlTx}); err != nil {
		return err
	}

	return sqlTx.Commit()
}

// txScheduleStore routes ScheduleStore calls through an open transaction.
type txScheduleStore struct {
	tx *sql.Tx
}

func (ts *txScheduleStore) SaveLine(ctx context.Context, line budget.ScheduleLine) error {
	return saveLine(ctx, ts.tx, line)
}

func (ts *txScheduleStore) GetLine(ctx context.Context, id budget.LineID) (*budget.ScheduleLine, error) {
	return getLine(ctx, ts.tx, id)
}

func (ts *txScheduleStore) ListLines(ctx context.Context, project budget.ProjectID) ([]budget.ScheduleLine, error) {
	return listLines(ctx, ts.tx, project)
}

func (ts *txScheduleStore) SetPlacement(ctx context.Context, id budget.LineID, start budget.Month, startWeek int, end budget.Month, endWeek int) error {
	return setPlacement(ctx, ts.tx, id, start, startWeek, end, endWeek)
}

func (ts *txScheduleStore) SetLineSyncState(ctx context.Context, id budget.LineID, state budget.SyncState) error {
	return setLineSyncState(ctx, ts.tx, id, state)
}

func (ts *txScheduleStore) SaveLink(ctx context.Context, link budget.SyncLink) error {
	return saveLink(ctx, ts.tx, link)
}

func (ts *txScheduleStore) GetLink(ctx context.Context, id budget.LinkID) (*budget.SyncLink, error) {
	return getLinkWhere(ctx, ts.tx, "id = ?", id)
}

func (ts *txScheduleStore) GetLinkByCategory(ctx context.Context, project budget.ProjectID, category budget.CategoryID) (*budget.SyncLink, error) {
	return getLinkWhere(ctx, ts.tx, "project_id = ? AND major_category_id = ?", project, category)
}

func (ts *txScheduleStore) ListLinks(ctx context.Context, project budget.ProjectID) ([]budget.SyncLink, error) {
	return listLinks(ctx, ts.tx, project)
}

func (ts *txScheduleStore) SetLinkOverride(ctx context.Context, id budget.LinkID, override bool) error {
	return setLinkOverride(ctx, ts.tx, id, override)
}

// =============================================================================
// OVERRIDE STORE (budget.OverrideStore interface)
// =============================================================================

// UpsertOverride stores a manual matrix cell.
func (s *Store) UpsertOverride(ctx context.Context, cell budget.OverrideCell) error {
	if err := budget.CheckAmount("override", cell.Amount); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO override_cells (project_id, month, concept, amount, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(project_id, month, concept) DO UPDATE SET
			amount = excluded.amount,
			updated_at = excluded.updated_at`,
		cell.ProjectID, monthToDB(cell.Month), string(cell.Concept),
		cell.Amount.Value.String(), now, now,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert override: %w", err)
	}
	return nil
}

// DeleteOverride removes a manual matrix cell.
func (s *Store) DeleteOverride(ctx context.Context, project budget.ProjectID, month budget.Month, concept budget.Concept) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx,
		"DELETE FROM override_cells WHERE project_id = ? AND month = ? AND concept = ?",
		project, monthToDB(month), string(concept))
	if err != nil {
		return fmt.Errorf("failed to delete override: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return budget.ErrOverrideNotFound
	}
	return nil
}

// ListOverrides returns all manual cells for a project.
func (s *Store) ListOverrides(ctx context.Context, project budget.ProjectID) ([]budget.OverrideCell, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT project_id, month, concept, amount, created_at, updated_at
		FROM override_cells
		WHERE project_id = ?
		ORDER BY month ASC, concept ASC`, project)
	if err != nil {
		return nil, fmt.Errorf("failed to list overrides: %w", err)
	}
	defer rows.Close()

	var cells []budget.OverrideCell
	for rows.Next() {
		var (
			cell      budget.OverrideCell
			month     sql.NullString
			concept   string
			amount    string
			createdAt string
			updatedAt string
		)
		if err := rows.Scan(&cell.ProjectID, &month, &concept, &amount, &createdAt, &updatedAt); err != nil {
			return nil, err
		}
		cell.Month = monthFromDB(month)
		cell.Concept = budget.Concept(concept)
		cell.Amount = budget.MustParseMoney(amount)
		cell.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
		cell.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
		cells = append(cells, cell)
	}
	return cells, rows.Err()
}

// =============================================================================
// SYNC RUN STORE (budget.SyncRunStore interface)
// =============================================================================

// SaveSyncRun records one sync invocation.
func (s *Store) SaveSyncRun(ctx context.Context, run budget.SyncRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_runs (id, project_id, started_at, finished_at, created, updated, marked_out_of_sync, error_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.ProjectID,
		run.StartedAt.UTC().Format(time.RFC3339),
		run.FinishedAt.UTC().Format(time.RFC3339),
		run.Created, run.Updated, run.MarkedOutOfSync, run.ErrorCount,
	)
	if err != nil {
		return fmt.Errorf("failed to save sync run: %w", err)
	}
	return nil
}

// ListSyncRuns returns sync runs for a project, newest first.
func (s *Store) ListSyncRuns(ctx context.Context, project budget.ProjectID) ([]budget.SyncRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, project_id, started_at, finished_at, created, updated, marked_out_of_sync, error_count
		FROM sync_runs
		WHERE project_id = ?
		ORDER BY started_at DESC`, project)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync runs: %w", err)
	}
	defer rows.Close()

	var runs []budget.SyncRun
	for rows.Next() {
		var (
			run       budget.SyncRun
			startedAt string
			finished  string
		)
		if err := rows.Scan(&run.ID, &run.ProjectID, &startedAt, &finished,
			&run.Created, &run.Updated, &run.MarkedOutOfSync, &run.ErrorCount); err != nil {
			return nil, err
		}
		run.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		run.FinishedAt, _ = time.Parse(time.RFC3339, finished)
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// =============================================================================
// UTILITIES
// =============================================================================

// ListProjects returns every project with stored data.
func (s *Store) ListProjects(ctx context.Context) ([]budget.ProjectID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT project_id FROM parametric_records
		UNION
		SELECT project_id FROM schedule_lines
		ORDER BY project_id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list projects: %w", err)
	}
	defer rows.Close()

	var projects []budget.ProjectID
	for rows.Next() {
		var p budget.ProjectID
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// Reset clears all data (for testing/demo).
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tables := []string{"parametric_records", "executive_items", "schedule_lines",
		"sync_links", "override_cells", "sync_runs"}
	for _, table := range tables {
		if _, err := s.db.ExecContext(ctx, "DELETE FROM "+table); err != nil {
			return err
		}
	}
	return nil
}

// Helper functions

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func monthToDB(m budget.Month) sql.NullString {
	if m.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: m.String(), Valid: true}
}

func monthFromDB(s sql.NullString) budget.Month {
	if !s.Valid || s.String == "" {
		return budget.Month{}
	}
	m, err := budget.ParseMonth(s.String)
	if err != nil {
		return budget.Month{}
	}
	return m
}

func isUniqueConstraintError(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
