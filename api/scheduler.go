/*
scheduler.go - Automated schedule sync runner

PURPOSE:
  Periodically re-syncs every project's schedule against its parametric
  budget so lines created or retotaled outside an explicit sync call
  converge without manual intervention.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - Iterates all projects and invokes the sync engine per project
  - Per-category failures stay inside each project's report; a failing
    project never blocks the others
  - Sync runs are recorded by the engine for audit and UI display

CONFIGURATION:
  - CheckInterval: How often to check (default: 1 hour)
  - Enabled: Whether scheduler is active (default: true)

USAGE:
  scheduler := NewSyncScheduler(store, handler)
  scheduler.Start()
  // ... later
  scheduler.Stop()

SEE ALSO:
  - handlers.go: SyncProject endpoint (manual sync)
  - schedule/sync.go: The engine invoked per project
*/
package api

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/archiflow/budget-engine/budget"
)

// SyncScheduler handles automated per-project schedule syncs.
type SyncScheduler struct {
	Store         budget.Store
	Handler       *Handler
	CheckInterval time.Duration
	Enabled       bool

	ticker *time.Ticker
	stop   chan bool
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// NewSyncScheduler creates a new scheduler.
func NewSyncScheduler(store budget.Store, handler *Handler) *SyncScheduler {
	return &SyncScheduler{
		Store:         store,
		Handler:       handler,
		CheckInterval: 1 * time.Hour,
		Enabled:       true,
		stop:          make(chan bool),
	}
}

// Start begins the scheduler.
func (ss *SyncScheduler) Start() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if !ss.Enabled {
		log.Println("[Scheduler] Disabled, not starting")
		return
	}

	ss.ticker = time.NewTicker(ss.CheckInterval)
	ss.wg.Add(1)

	go ss.run()

	log.Printf("[Scheduler] Started with check interval: %v", ss.CheckInterval)
}

// Stop stops the scheduler.
func (ss *SyncScheduler) Stop() {
	ss.mu.Lock()
	defer ss.mu.Unlock()

	if ss.ticker != nil {
		ss.ticker.Stop()
		close(ss.stop)
		ss.wg.Wait()
		log.Println("[Scheduler] Stopped")
	}
}

func (ss *SyncScheduler) run() {
	defer ss.wg.Done()

	// Run immediately on start
	ss.syncAll()

	for {
		select {
		case <-ss.ticker.C:
			ss.syncAll()
		case <-ss.stop:
			return
		}
	}
}

func (ss *SyncScheduler) syncAll() {
	ctx := context.Background()

	projects, err := ss.Store.ListProjects(ctx)
	if err != nil {
		log.Printf("[Scheduler] Error listing projects: %v", err)
		return
	}

	syncedCount := 0
	errorCount := 0

	for _, project := range projects {
		report, err := ss.Handler.Syncer.Sync(ctx, project)
		if err != nil {
			log.Printf("[Scheduler] Error syncing %s: %v", project, err)
			errorCount++
			continue
		}

		if report.Created > 0 || report.Updated > 0 || report.MarkedOutOfSync > 0 || len(report.Errors) > 0 {
			log.Printf("[Scheduler] %s", report.Summary())
		}
		syncedCount++
	}

	if len(projects) > 0 {
		log.Printf("[Scheduler] Completed: %d projects synced, %d failed", syncedCount, errorCount)
	}
}

// RunNow triggers an immediate check (for testing/admin).
func (ss *SyncScheduler) RunNow() {
	ss.syncAll()
}

// GetNextRunTime returns when the next scheduled check will occur.
func (ss *SyncScheduler) GetNextRunTime() time.Time {
	return time.Now().Add(ss.CheckInterval)
}
