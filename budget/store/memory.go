// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/archiflow/budget-engine/budget"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu         sync.RWMutex
	parametric map[budget.RecordID]budget.ParametricRecord
	items      map[budget.ItemID]budget.ExecutiveLineItem
	lines      map[budget.LineID]budget.ScheduleLine
	links      map[budget.LinkID]budget.SyncLink
	overrides  map[overrideKey]budget.OverrideCell
	runs       []budget.SyncRun
}

type overrideKey struct {
	Project budget.ProjectID
	Month   budget.Month
	Concept budget.Concept
}

func NewMemory() *Memory {
	return &Memory{
		parametric: make(map[budget.RecordID]budget.ParametricRecord),
		items:      make(map[budget.ItemID]budget.ExecutiveLineItem),
		lines:      make(map[budget.LineID]budget.ScheduleLine),
		links:      make(map[budget.LinkID]budget.SyncLink),
		overrides:  make(map[overrideKey]budget.OverrideCell),
	}
}

// =============================================================================
// PARAMETRIC STORE
// =============================================================================

func (m *Memory) CreateParametric(_ context.Context, rec budget.ParametricRecord) error {
	if err := budget.CheckAmount("total_amount", rec.TotalAmount); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.parametric {
		if existing.ProjectID == rec.ProjectID && existing.MajorCategoryID == rec.MajorCategoryID {
			return budget.ErrDuplicateCategory
		}
	}

	now := time.Now().UTC()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	m.parametric[rec.ID] = rec
	return nil
}

func (m *Memory) UpdateParametric(_ context.Context, rec budget.ParametricRecord) error {
	if err := budget.CheckAmount("total_amount", rec.TotalAmount); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.parametric[rec.ID]
	if !ok {
		return budget.ErrRecordNotFound
	}
	rec.ProjectID = existing.ProjectID
	rec.CreatedAt = existing.CreatedAt
	rec.UpdatedAt = time.Now().UTC()
	m.parametric[rec.ID] = rec
	return nil
}

func (m *Memory) DeleteParametric(_ context.Context, id budget.RecordID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.parametric[id]; !ok {
		return budget.ErrRecordNotFound
	}

	var children []budget.ItemID
	for _, item := range m.items {
		if item.ParametricRecordID == id {
			children = append(children, item.ID)
		}
	}
	if len(children) > 0 {
		sort.Slice(children, func(i, j int) bool { return children[i] < children[j] })
		return &budget.ReferentialConflictError{RecordID: id, ItemCount: len(children), ItemIDs: children}
	}

	delete(m.parametric, id)
	return nil
}

func (m *Memory) GetParametric(_ context.Context, id budget.RecordID) (*budget.ParametricRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.parametric[id]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}

func (m *Memory) ListParametric(_ context.Context, project budget.ProjectID) ([]budget.ParametricRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []budget.ParametricRecord
	for _, rec := range m.parametric {
		if rec.ProjectID == project {
			result = append(result, rec)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Department != result[j].Department {
			return result[i].Department < result[j].Department
		}
		return result[i].MajorCategoryID < result[j].MajorCategoryID
	})
	return result, nil
}

// =============================================================================
// EXECUTIVE STORE
// =============================================================================

func (m *Memory) CreateItem(_ context.Context, item budget.ExecutiveLineItem) error {
	if err := validateItem(item); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.checkParentLocked(item); err != nil {
		return err
	}

	item.ComputeAmount()
	now := time.Now().UTC()
	item.CreatedAt = now
	item.UpdatedAt = now
	m.items[item.ID] = item
	return nil
}

func (m *Memory) UpdateItem(_ context.Context, item budget.ExecutiveLineItem) error {
	if err := validateItem(item); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.items[item.ID]
	if !ok {
		return budget.ErrItemNotFound
	}
	item.ProjectID = existing.ProjectID
	if err := m.checkParentLocked(item); err != nil {
		return err
	}

	item.ComputeAmount()
	item.CreatedAt = existing.CreatedAt
	item.UpdatedAt = time.Now().UTC()
	m.items[item.ID] = item
	return nil
}

func (m *Memory) DeleteItem(_ context.Context, id budget.ItemID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.items[id]; !ok {
		return budget.ErrItemNotFound
	}
	delete(m.items, id)
	return nil
}

func (m *Memory) GetItem(_ context.Context, id budget.ItemID) (*budget.ExecutiveLineItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[id]
	if !ok {
		return nil, nil
	}
	return &item, nil
}

func (m *Memory) ListItems(_ context.Context, project budget.ProjectID) ([]budget.ExecutiveLineItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []budget.ExecutiveLineItem
	for _, item := range m.items {
		if item.ProjectID == project {
			result = append(result, item)
		}
	}
	sortItems(result)
	return result, nil
}

func (m *Memory) ListItemsByRecord(_ context.Context, record budget.RecordID) ([]budget.ExecutiveLineItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []budget.ExecutiveLineItem
	for _, item := range m.items {
		if item.ParametricRecordID == record {
			result = append(result, item)
		}
	}
	sortItems(result)
	return result, nil
}

func (m *Memory) checkParentLocked(item budget.ExecutiveLineItem) error {
	parent, ok := m.parametric[item.ParametricRecordID]
	if !ok || parent.ProjectID != item.ProjectID {
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

func sortItems(items []budget.ExecutiveLineItem) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].ParametricRecordID != items[j].ParametricRecordID {
			return items[i].ParametricRecordID < items[j].ParametricRecordID
		}
		return items[i].ID < items[j].ID
	})
}

// =============================================================================
// SCHEDULE STORE
// =============================================================================

func (m *Memory) SaveLine(_ context.Context, line budget.ScheduleLine) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLineLocked(line)
}

func (m *Memory) saveLineLocked(line budget.ScheduleLine) error {
	if err := budget.CheckAmount("amount", line.Amount); err != nil {
		return err
	}
	now := time.Now().UTC()
	if existing, ok := m.lines[line.ID]; ok {
		line.CreatedAt = existing.CreatedAt
	} else {
		line.CreatedAt = now
	}
	line.UpdatedAt = now
	m.lines[line.ID] = line
	return nil
}

func (m *Memory) GetLine(_ context.Context, id budget.LineID) (*budget.ScheduleLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	line, ok := m.lines[id]
	if !ok {
		return nil, nil
	}
	return &line, nil
}

func (m *Memory) ListLines(_ context.Context, project budget.ProjectID) ([]budget.ScheduleLine, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []budget.ScheduleLine
	for _, line := range m.lines {
		if line.ProjectID == project {
			result = append(result, line)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (m *Memory) SetPlacement(_ context.Context, id budget.LineID, start budget.Month, startWeek int, end budget.Month, endWeek int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	line, ok := m.lines[id]
	if !ok {
		return budget.ErrLineNotFound
	}
	line.StartMonth = start
	line.StartWeek = startWeek
	line.EndMonth = end
	line.EndWeek = endWeek
	if line.SyncState == budget.SyncPendingDates && line.Placed() {
		line.SyncState = budget.SyncSynced
	}
	line.UpdatedAt = time.Now().UTC()
	m.lines[id] = line
	return nil
}

func (m *Memory) SetLineSyncState(_ context.Context, id budget.LineID, state budget.SyncState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setLineSyncStateLocked(id, state)
}

func (m *Memory) setLineSyncStateLocked(id budget.LineID, state budget.SyncState) error {
	line, ok := m.lines[id]
	if !ok {
		return budget.ErrLineNotFound
	}
	line.SyncState = state
	line.UpdatedAt = time.Now().UTC()
	m.lines[id] = line
	return nil
}

func (m *Memory) SaveLink(_ context.Context, link budget.SyncLink) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveLinkLocked(link)
}

func (m *Memory) saveLinkLocked(link budget.SyncLink) error {
	for _, existing := range m.links {
		if existing.ProjectID == link.ProjectID &&
			existing.MajorCategoryID == link.MajorCategoryID &&
			existing.ID != link.ID {
			return budget.ErrDuplicateCategory
		}
	}
	m.links[link.ID] = link
	return nil
}

func (m *Memory) GetLink(_ context.Context, id budget.LinkID) (*budget.SyncLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	link, ok := m.links[id]
	if !ok {
		return nil, nil
	}
	return &link, nil
}

func (m *Memory) GetLinkByCategory(_ context.Context, project budget.ProjectID, category budget.CategoryID) (*budget.SyncLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.linkByCategoryLocked(project, category), nil
}

func (m *Memory) linkByCategoryLocked(project budget.ProjectID, category budget.CategoryID) *budget.SyncLink {
	for _, link := range m.links {
		if link.ProjectID == project && link.MajorCategoryID == category {
			l := link
			return &l
		}
	}
	return nil
}

func (m *Memory) ListLinks(_ context.Context, project budget.ProjectID) ([]budget.SyncLink, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []budget.SyncLink
	for _, link := range m.links {
		if link.ProjectID == project {
			result = append(result, link)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].MajorCategoryID < result[j].MajorCategoryID })
	return result, nil
}

func (m *Memory) SetLinkOverride(_ context.Context, id budget.LinkID, override bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	link, ok := m.links[id]
	if !ok {
		return budget.ErrLinkNotFound
	}
	link.OverrideAmount = override
	m.links[id] = link
	return nil
}

// =============================================================================
// CATEGORY TRANSACTION - Snapshot + rollback on error
// =============================================================================

func (m *Memory) WithCategoryTx(_ context.Context, fn func(budget.ScheduleStore) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshotLocked()
	view := &txMemoryView{parent: m}
	if err := fn(view); err != nil {
		m.restoreLocked(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	lines map[budget.LineID]budget.ScheduleLine
	links map[budget.LinkID]budget.SyncLink
}

func (m *Memory) snapshotLocked() memorySnapshot {
	lines := make(map[budget.LineID]budget.ScheduleLine, len(m.lines))
	for k, v := range m.lines {
		lines[k] = v
	}
	links := make(map[budget.LinkID]budget.SyncLink, len(m.links))
	for k, v := range m.links {
		links[k] = v
	}
	return memorySnapshot{lines: lines, links: links}
}

func (m *Memory) restoreLocked(s memorySnapshot) {
	m.lines = s.lines
	m.links = s.links
}

// txMemoryView writes through to the parent, which already holds the lock.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) SaveLine(_ context.Context, line budget.ScheduleLine) error {
	return tv.parent.saveLineLocked(line)
}

func (tv *txMemoryView) GetLine(_ context.Context, id budget.LineID) (*budget.ScheduleLine, error) {
	line, ok := tv.parent.lines[id]
	if !ok {
		return nil, nil
	}
	return &line, nil
}

func (tv *txMemoryView) ListLines(_ context.Context, project budget.ProjectID) ([]budget.ScheduleLine, error) {
	var result []budget.ScheduleLine
	for _, line := range tv.parent.lines {
		if line.ProjectID == project {
			result = append(result, line)
		}
	}
	return result, nil
}

func (tv *txMemoryView) SetPlacement(_ context.Context, id budget.LineID, start budget.Month, startWeek int, end budget.Month, endWeek int) error {
	line, ok := tv.parent.lines[id]
	if !ok {
		return budget.ErrLineNotFound
	}
	line.StartMonth = start
	line.StartWeek = startWeek
	line.EndMonth = end
	line.EndWeek = endWeek
	tv.parent.lines[id] = line
	return nil
}

func (tv *txMemoryView) SetLineSyncState(_ context.Context, id budget.LineID, state budget.SyncState) error {
	return tv.parent.setLineSyncStateLocked(id, state)
}

func (tv *txMemoryView) SaveLink(_ context.Context, link budget.SyncLink) error {
	return tv.parent.saveLinkLocked(link)
}

func (tv *txMemoryView) GetLink(_ context.Context, id budget.LinkID) (*budget.SyncLink, error) {
	link, ok := tv.parent.links[id]
	if !ok {
		return nil, nil
	}
	return &link, nil
}

func (tv *txMemoryView) GetLinkByCategory(_ context.Context, project budget.ProjectID, category budget.CategoryID) (*budget.SyncLink, error) {
	return tv.parent.linkByCategoryLocked(project, category), nil
}

func (tv *txMemoryView) ListLinks(_ context.Context, project budget.ProjectID) ([]budget.SyncLink, error) {
	var result []budget.SyncLink
	for _, link := range tv.parent.links {
		if link.ProjectID == project {
			result = append(result, link)
		}
	}
	return result, nil
}

func (tv *txMemoryView) SetLinkOverride(_ context.Context, id budget.LinkID, override bool) error {
	link, ok := tv.parent.links[id]
	if !ok {
		return budget.ErrLinkNotFound
	}
	link.OverrideAmount = override
	tv.parent.links[id] = link
	return nil
}

// =============================================================================
// OVERRIDE STORE
// =============================================================================

func (m *Memory) UpsertOverride(_ context.Context, cell budget.OverrideCell) error {
	if err := budget.CheckAmount("override", cell.Amount); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	k := overrideKey{Project: cell.ProjectID, Month: cell.Month, Concept: cell.Concept}
	now := time.Now().UTC()
	if existing, ok := m.overrides[k]; ok {
		cell.CreatedAt = existing.CreatedAt
	} else {
		cell.CreatedAt = now
	}
	cell.UpdatedAt = now
	m.overrides[k] = cell
	return nil
}

func (m *Memory) DeleteOverride(_ context.Context, project budget.ProjectID, month budget.Month, concept budget.Concept) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := overrideKey{Project: project, Month: month, Concept: concept}
	if _, ok := m.overrides[k]; !ok {
		return budget.ErrOverrideNotFound
	}
	delete(m.overrides, k)
	return nil
}

func (m *Memory) ListOverrides(_ context.Context, project budget.ProjectID) ([]budget.OverrideCell, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []budget.OverrideCell
	for _, cell := range m.overrides {
		if cell.ProjectID == project {
			result = append(result, cell)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Month.Equal(result[j].Month) {
			return result[i].Month.Before(result[j].Month)
		}
		return result[i].Concept < result[j].Concept
	})
	return result, nil
}

// =============================================================================
// SYNC RUN STORE
// =============================================================================

func (m *Memory) SaveSyncRun(_ context.Context, run budget.SyncRun) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return nil
}

func (m *Memory) ListSyncRuns(_ context.Context, project budget.ProjectID) ([]budget.SyncRun, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []budget.SyncRun
	for _, run := range m.runs {
		if run.ProjectID == project {
			result = append(result, run)
		}
	}
	return result, nil
}

// =============================================================================
// PROJECT LISTING
// =============================================================================

func (m *Memory) ListProjects(_ context.Context) ([]budget.ProjectID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[budget.ProjectID]bool)
	for _, rec := range m.parametric {
		seen[rec.ProjectID] = true
	}
	for _, line := range m.lines {
		seen[line.ProjectID] = true
	}

	projects := make([]budget.ProjectID, 0, len(seen))
	for p := range seen {
		projects = append(projects, p)
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i] < projects[j] })
	return projects, nil
}
