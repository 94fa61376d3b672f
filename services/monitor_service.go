package services

import (
	"fmt"
	"log"
	"sync"
	"time"

	"stock_monitor_backend/models"

	"github.com/go-co-op/gocron"
)

// pruneThrottle caps opportunistic pruning to once per wall-clock hour.
const pruneThrottle = time.Hour

// EventBroadcaster is the fan-out surface the monitor drives.
type EventBroadcaster interface {
	BroadcastStocksUpdate(stocks []models.StockSnapshot, updates []models.StockUpdate, result *models.ScrapeRecord)
	BroadcastAlert(event AlertEvent)
	BroadcastStatus(status, message string, nextRun *time.Time)
}

// MonitorStatus is a point-in-time view of the monitor. It is informational
// only and tolerant of races.
type MonitorStatus struct {
	Running         bool       `json:"running"`
	LastRun         *time.Time `json:"last_run"`
	NextRun         *time.Time `json:"next_run"`
	IntervalMinutes int        `json:"interval_minutes"`
}

// MonitorService drives the scrape cycle: fetch, classify, persist, evaluate
// alerts, broadcast. A boolean single-flight flag rejects overlapping cycles;
// a manual trigger during an active cycle is dropped, never queued.
type MonitorService struct {
	source   SnapshotSource
	store    SnapshotStore
	rules    AlertRuleStore
	detector *ChangeDetector
	alerts   *AlertEngine
	hub      EventBroadcaster
	archive  *MongoArchive

	retentionDays int
	initialDelay  time.Duration

	cron *gocron.Scheduler
	job  *gocron.Job

	mu              sync.Mutex
	running         bool
	started         bool
	intervalMinutes int
	lastRun         *time.Time
	nextRun         *time.Time
	lastPrune       time.Time
}

// MonitorOptions configures a MonitorService.
type MonitorOptions struct {
	Source        SnapshotSource
	Store         SnapshotStore
	Rules         AlertRuleStore
	Detector      *ChangeDetector
	Alerts        *AlertEngine
	Hub           EventBroadcaster
	Archive       *MongoArchive // optional
	RetentionDays int
	InitialDelay  time.Duration
}

// NewMonitorService creates the monitor with its collaborators injected.
func NewMonitorService(opts MonitorOptions) *MonitorService {
	retention := opts.RetentionDays
	if retention <= 0 {
		retention = 30
	}
	return &MonitorService{
		source:        opts.Source,
		store:         opts.Store,
		rules:         opts.Rules,
		detector:      opts.Detector,
		alerts:        opts.Alerts,
		hub:           opts.Hub,
		archive:       opts.Archive,
		retentionDays: retention,
		initialDelay:  opts.InitialDelay,
	}
}

// Start schedules recurring cycles at the given interval, beginning with an
// initial delayed run. It never blocks the caller; cycles run on the
// scheduler's goroutine.
func (s *MonitorService) Start(intervalMinutes int) error {
	if intervalMinutes <= 0 {
		return fmt.Errorf("interval must be positive, got %d", intervalMinutes)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return fmt.Errorf("monitor already started")
	}

	s.cron = gocron.NewScheduler(time.UTC)
	firstRun := time.Now().Add(s.initialDelay)
	job, err := s.cron.Every(intervalMinutes).Minutes().StartAt(firstRun).Do(s.runCycle)
	if err != nil {
		return fmt.Errorf("failed to schedule monitor cycle: %w", err)
	}

	s.job = job
	s.started = true
	s.intervalMinutes = intervalMinutes
	s.nextRun = &firstRun
	s.cron.StartAsync()

	log.Printf("Monitor started: interval=%dm, first run at %s", intervalMinutes, firstRun.Format(time.RFC3339))
	return nil
}

// Stop cancels future scheduled cycles. An in-flight cycle is not aborted.
func (s *MonitorService) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return
	}
	s.cron.Stop()
	s.started = false
	s.job = nil
	s.nextRun = nil
	log.Println("Monitor stopped")
}

// TriggerManualRun runs one cycle inline. If a cycle is already running it
// returns immediately without doing any work.
func (s *MonitorService) TriggerManualRun() {
	s.runCycle()
}

// GetStatus returns a point-in-time status snapshot.
func (s *MonitorService) GetStatus() MonitorStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return MonitorStatus{
		Running:         s.running,
		LastRun:         s.lastRun,
		NextRun:         s.nextRun,
		IntervalMinutes: s.intervalMinutes,
	}
}

// runCycle executes one full fetch -> classify -> persist -> evaluate ->
// broadcast pass. Overlapping invocations are dropped by the single-flight
// flag. The flag is cleared and next-run recomputed no matter which path the
// cycle takes.
func (s *MonitorService) runCycle() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		log.Println("Monitor cycle already running, trigger dropped")
		return
	}
	s.running = true
	s.mu.Unlock()

	start := time.Now()

	defer func() {
		now := time.Now()
		next := s.computeNextRun(now)
		s.mu.Lock()
		s.running = false
		s.lastRun = &now
		s.nextRun = next
		s.mu.Unlock()
	}()

	s.hub.BroadcastStatus(ScrapingStarted, "Scraping cycle started", nil)

	batch, err := s.source.Fetch()
	if err != nil {
		log.Printf("Monitor cycle: fetch failed: %v", err)
		s.recordFailure(start, fmt.Sprintf("fetch failed: %v", err))
		return
	}

	// Classification must precede persistence so each symbol diffs against
	// genuine history, not the batch being written.
	updates, err := s.detector.DetectChanges(batch)
	if err != nil {
		log.Printf("Monitor cycle: change detection failed: %v", err)
		s.recordFailure(start, fmt.Sprintf("change detection failed: %v", err))
		return
	}

	record := &models.ScrapeRecord{
		Status:      models.ScrapeStatusSuccess,
		Message:     fmt.Sprintf("Scraped %d stocks", len(batch)),
		StockCount:  len(batch),
		UpdateCount: len(updates),
		DurationMs:  time.Since(start).Milliseconds(),
	}
	if err := s.store.AppendBatch(batch, record); err != nil {
		log.Printf("Monitor cycle: persistence failed: %v", err)
		s.hub.BroadcastStatus(ScrapingError, fmt.Sprintf("persistence failed: %v", err), nil)
		return
	}

	// Alerts are evaluated only after the batch is durably persisted, so a
	// resyncing client can never observe an alert whose underlying records
	// do not exist yet.
	rules, err := s.rules.ActiveRules()
	if err != nil {
		log.Printf("Monitor cycle: failed to load alert rules: %v", err)
		rules = nil
	}
	alerts := s.alerts.Evaluate(batch, updates, rules)
	record.AlertCount = len(alerts)

	// Broadcast unconditionally, even with zero changes.
	s.hub.BroadcastStocksUpdate(batch, updates, record)
	s.detector.RememberBroadcast(batch)

	for _, alert := range alerts {
		s.hub.BroadcastAlert(alert)
	}

	next := s.computeNextRun(time.Now())
	s.hub.BroadcastStatus(ScrapingSuccess,
		fmt.Sprintf("Cycle complete: %d stocks, %d updates, %d alerts", len(batch), len(updates), len(alerts)),
		next)

	if s.archive != nil {
		if err := s.archive.ArchiveCycle(batch, record); err != nil {
			log.Printf("Monitor cycle: archive mirror failed: %v", err)
		}
	}

	s.maybePrune()

	log.Printf("Monitor cycle finished in %v: %d stocks, %d updates, %d alerts",
		time.Since(start), len(batch), len(updates), len(alerts))
}

// recordFailure persists a failure record and broadcasts the error status.
// No partial data is written or broadcast.
func (s *MonitorService) recordFailure(start time.Time, message string) {
	record := &models.ScrapeRecord{
		Status:     models.ScrapeStatusError,
		Message:    message,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err := s.store.AppendBatch(nil, record); err != nil {
		log.Printf("Monitor cycle: failed to persist failure record: %v", err)
	}
	s.hub.BroadcastStatus(ScrapingError, message, nil)
}

// maybePrune prunes data older than the retention window, throttled to at
// most once per hour of wall clock.
func (s *MonitorService) maybePrune() {
	s.mu.Lock()
	due := time.Since(s.lastPrune) >= pruneThrottle
	if due {
		s.lastPrune = time.Now()
	}
	s.mu.Unlock()

	if !due {
		return
	}

	removed, err := s.store.Prune(s.retentionDays)
	if err != nil {
		log.Printf("Prune failed: %v", err)
		return
	}
	if removed > 0 {
		log.Printf("Pruned %d snapshots older than %d days", removed, s.retentionDays)
	}
}

// computeNextRun derives the next scheduled run, preferring the scheduler's
// own bookkeeping when the monitor is started.
func (s *MonitorService) computeNextRun(from time.Time) *time.Time {
	s.mu.Lock()
	job := s.job
	interval := s.intervalMinutes
	started := s.started
	s.mu.Unlock()

	if !started {
		return nil
	}
	if job != nil {
		next := job.NextRun()
		if !next.IsZero() {
			return &next
		}
	}
	next := from.Add(time.Duration(interval) * time.Minute)
	return &next
}
