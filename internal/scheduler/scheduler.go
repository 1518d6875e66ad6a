// Package scheduler runs the ingestion pipeline on an interval and
// exposes a manual-trigger entry point, both guarded so at most one tick
// runs at a time.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/portcall/mailgate/internal/model"
	"github.com/portcall/mailgate/internal/pipeline"
)

const jobName = "sync_emails"

// Runner is the subset of *pipeline.Pipeline the scheduler depends on.
type Runner interface {
	Run(ctx context.Context, opts pipeline.RunOptions) (model.SyncStats, error)
}

// Scheduler runs Runner.Run on an interval, with a single busy guard so
// an overrunning tick never overlaps with the next one.
type Scheduler struct {
	cron     *cron.Cron
	entryID  cron.EntryID
	runner   Runner
	interval time.Duration
	logger   *log.Logger

	mu      sync.Mutex
	running bool

	lastMu    sync.Mutex
	lastStats *model.SyncStats
	lastRun   time.Time
}

// New builds a Scheduler that calls runner.Run every interval.
func New(runner Runner, interval time.Duration, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		cron:     cron.New(),
		runner:   runner,
		interval: interval,
		logger:   logger,
	}
}

// Start registers the recurring job and starts the cron loop. Calling
// Start again replaces the existing entry.
func (s *Scheduler) Start() error {
	if s.entryID != 0 {
		s.cron.Remove(s.entryID)
	}
	spec := fmt.Sprintf("@every %ds", int(s.interval.Seconds()))
	id, err := s.cron.AddFunc(spec, s.tick)
	if err != nil {
		return fmt.Errorf("scheduler: register job: %w", err)
	}
	s.entryID = id
	s.cron.Start()
	s.logger.Printf("scheduler: started, interval %s", s.interval)
	return nil
}

// Stop halts the cron loop and waits for any in-flight tick to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Printf("scheduler: stopped")
}

// tick is the scheduled job body. Operational failures are logged, not
// propagated, so the cron loop is never torn down by one bad run.
func (s *Scheduler) tick() {
	stats, err := s.runOnce(context.Background(), pipeline.RunOptions{})
	if err != nil {
		s.logger.Printf("scheduler: tick failed: %v", err)
		return
	}
	s.logger.Printf("scheduler: tick complete: processed=%d new=%d duplicates=%d rule_skipped=%d errors=%d",
		stats.TotalProcessed, stats.NewEmails, stats.DuplicatesSkipped, stats.RuleSkipped, stats.Errors)
}

func (s *Scheduler) runOnce(ctx context.Context, opts pipeline.RunOptions) (model.SyncStats, error) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return model.SyncStats{}, errBusy
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	stats, err := s.runner.Run(ctx, opts)
	s.lastMu.Lock()
	s.lastStats = &stats
	s.lastRun = time.Now()
	s.lastMu.Unlock()
	return stats, err
}

var errBusy = fmt.Errorf("scheduler: sync already in progress")

// ManualResult is the outcome of TriggerManual, shaped for the
// POST /sync/manual response body.
type ManualResult struct {
	Success bool
	Message string
	Stats   model.SyncStats
}

// TriggerManual runs one tick immediately, reporting busy if a tick is
// already running instead of queuing behind it.
func (s *Scheduler) TriggerManual(ctx context.Context, opts pipeline.RunOptions) ManualResult {
	stats, err := s.runOnce(ctx, opts)
	if err == errBusy {
		return ManualResult{Success: false, Message: "sync already in progress"}
	}
	if err != nil {
		return ManualResult{Success: false, Message: err.Error()}
	}
	return ManualResult{Success: true, Stats: stats}
}

// IsRunning reports whether a tick is currently executing.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Status is the scheduler's status shape for GET /scheduler/status.
type Status struct {
	JobID            string
	JobName          string
	NextRunTime      time.Time
	HasNextRunTime   bool
	Trigger          string
	Running          bool
	MaxInstances     int
	MisfireGraceTime int
	JobExists        bool
}

// Status reports the registered job's schedule and the scheduler's busy
// state.
func (s *Scheduler) Status() Status {
	if s.entryID == 0 {
		return Status{Running: s.IsRunning(), JobExists: false}
	}
	entry := s.cron.Entry(s.entryID)
	return Status{
		JobID:            jobName,
		JobName:          "scheduled mail sync",
		NextRunTime:      entry.Next,
		HasNextRunTime:   !entry.Next.IsZero(),
		Trigger:          fmt.Sprintf("interval[%s]", s.interval),
		Running:          s.IsRunning(),
		MaxInstances:     1,
		MisfireGraceTime: 60,
		JobExists:        true,
	}
}

// LastResult returns the most recent tick's stats and when it ran, or
// false if no tick has run yet.
func (s *Scheduler) LastResult() (model.SyncStats, time.Time, bool) {
	s.lastMu.Lock()
	defer s.lastMu.Unlock()
	if s.lastStats == nil {
		return model.SyncStats{}, time.Time{}, false
	}
	return *s.lastStats, s.lastRun, true
}
