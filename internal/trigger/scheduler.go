package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/weftlabs/weft/pkg/schema"
)

// Schedule is one registered cron entry. NextRunAt is maintained by the
// scheduler; a zero value means "due now".
type Schedule struct {
	ID         string         `json:"id"`
	WorkflowID string         `json:"workflow_id"`
	CronExpr   string         `json:"cron_expr"`
	Input      map[string]any `json:"input,omitempty"`
	Enabled    bool           `json:"enabled"`

	NextRunAt  time.Time `json:"next_run_at,omitempty"`
	LastRunAt  time.Time `json:"last_run_at,omitempty"`
	LastStatus string    `json:"last_run_status,omitempty"`
}

// Scheduler polls registered schedules and fires the due ones. Entries live
// in memory; the embedding application re-registers them at startup.
type Scheduler struct {
	defs   DefinitionSource
	runner Runner
	parser cron.Parser
	logger *slog.Logger

	mu        sync.Mutex
	schedules map[string]*Schedule
	cancel    context.CancelFunc
	done      chan struct{}

	inflightMu sync.Mutex
	inflight   map[string]struct{} // schedule IDs currently executing (dedup)
}

// NewScheduler creates a Scheduler using the standard five-field cron syntax.
func NewScheduler(defs DefinitionSource, runner Runner, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		defs:      defs,
		runner:    runner,
		parser:    cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
		logger:    logger,
		schedules: make(map[string]*Schedule),
		inflight:  make(map[string]struct{}),
	}
}

// Add registers a schedule after validating its cron expression. The first
// run fires at the expression's next occurrence.
func (s *Scheduler) Add(entry Schedule) error {
	if entry.ID == "" || entry.WorkflowID == "" {
		return schema.NewError(schema.ErrCodeValidation, "schedule needs an id and a workflow_id")
	}
	next, err := s.CalculateNextRun(entry.CronExpr, time.Now().UTC())
	if err != nil {
		return schema.NewError(schema.ErrCodeValidation, err.Error())
	}
	entry.NextRunAt = next

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.schedules[entry.ID]; exists {
		return schema.NewErrorf(schema.ErrCodeConflict, "schedule %q already registered", entry.ID)
	}
	s.schedules[entry.ID] = &entry
	return nil
}

// Remove unregisters a schedule.
func (s *Scheduler) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.schedules[id]; !ok {
		return schema.NewErrorf(schema.ErrCodeNotFound, "schedule %q not found", id)
	}
	delete(s.schedules, id)
	return nil
}

// List returns a snapshot of the registered schedules.
func (s *Scheduler) List() []Schedule {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Schedule, 0, len(s.schedules))
	for _, entry := range s.schedules {
		out = append(out, *entry)
	}
	return out
}

// Start launches the background polling loop with a 60s ticker.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.done != nil {
		s.mu.Unlock()
		return fmt.Errorf("scheduler already started")
	}
	schedCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	s.mu.Unlock()

	go s.loop(schedCtx)
	s.logger.Info("scheduler started")
	return nil
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(60 * time.Second)
	defer ticker.Stop()

	// Run an initial tick immediately so missed schedules recover at startup.
	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick fires every enabled schedule whose next run is due.
func (s *Scheduler) tick(ctx context.Context) {
	now := time.Now().UTC()

	s.mu.Lock()
	due := make([]*Schedule, 0)
	for _, entry := range s.schedules {
		if entry.Enabled && !entry.NextRunAt.After(now) {
			due = append(due, entry)
		}
	}
	s.mu.Unlock()

	for _, entry := range due {
		if !s.tryAcquire(entry.ID) {
			continue // previous firing still in flight
		}
		if err := s.fire(ctx, entry, now); err != nil {
			s.logger.Error("scheduled run failed",
				slog.String("schedule_id", entry.ID),
				slog.String("workflow_id", entry.WorkflowID),
				slog.String("error", err.Error()))
		}
		s.release(entry.ID)
	}
}

// fire runs one schedule and advances its bookkeeping.
func (s *Scheduler) fire(ctx context.Context, entry *Schedule, now time.Time) error {
	s.logger.Info("firing schedule",
		slog.String("schedule_id", entry.ID),
		slog.String("workflow_id", entry.WorkflowID))

	_, runErr := Fire(ctx, s.defs, s.runner, Payload{WorkflowID: entry.WorkflowID, Input: entry.Input})

	status := "success"
	if runErr != nil {
		status = "error"
	}

	next, err := s.CalculateNextRun(entry.CronExpr, now)
	if err != nil {
		return fmt.Errorf("calculate next run for schedule %q: %w", entry.ID, err)
	}

	s.mu.Lock()
	entry.LastRunAt = now
	entry.LastStatus = status
	entry.NextRunAt = next
	s.mu.Unlock()

	return runErr
}

func (s *Scheduler) tryAcquire(id string) bool {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	if _, ok := s.inflight[id]; ok {
		return false
	}
	s.inflight[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.inflightMu.Lock()
	defer s.inflightMu.Unlock()
	delete(s.inflight, id)
}

// CalculateNextRun computes the next occurrence of a cron expression.
func (s *Scheduler) CalculateNextRun(cronExpr string, from time.Time) (time.Time, error) {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse cron expression %q: %w", cronExpr, err)
	}
	return schedule.Next(from), nil
}

// Stop gracefully shuts down the polling loop. The lock is not held while
// waiting: an in-flight tick needs it to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done

	s.logger.Info("scheduler stopped")
	return nil
}
