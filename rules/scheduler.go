package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSchedule sweeps due candidates at the top of every hour.
const DefaultSchedule = "0 * * * *"

// Scheduler sweeps due candidates on a cron schedule and executes their
// stored delayed actions. Every processed candidate is deleted afterwards
// regardless of action outcome; there is no retry queue. A crash between
// execution and deletion re-runs the candidate on the next tick, so
// collaborator deletions must tolerate repeats.
type Scheduler struct {
	rules      *Service
	candidates CandidateStore
	logs       ActionLogStore
	factory    CollaboratorFactory
	metrics    *Metrics
	schedule   string
	cron       *cron.Cron
	logger     *slog.Logger
	now        func() time.Time
	mu         sync.Mutex
	running    bool
}

// NewScheduler creates a delayed-action scheduler. An empty schedule falls
// back to DefaultSchedule.
func NewScheduler(rules *Service, candidates CandidateStore, logs ActionLogStore, factory CollaboratorFactory, schedule string, metrics *Metrics, logger *slog.Logger) *Scheduler {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		rules:      rules,
		candidates: candidates,
		logs:       logs,
		factory:    factory,
		metrics:    metrics,
		schedule:   schedule,
		cron:       cron.New(),
		logger:     logger.With("component", "rules.scheduler"),
		now:        time.Now,
	}
}

// Start begins the scheduled sweeps.
//
// Common cron expressions:
//   - "0 * * * *"   - Hourly, on the hour
//   - "*/15 * * * *" - Every 15 minutes
//   - "0 3 * * *"   - Daily at 3 AM
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", s.schedule, err)
	}

	_, err := s.cron.AddFunc(s.schedule, func() {
		s.Tick(ctx)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info("scheduler started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// Stop stops the scheduler and waits for any running sweep to complete.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil && s.running {
		ctx := s.cron.Stop()
		<-ctx.Done() // Wait for running jobs to finish
		s.running = false
		s.logger.Info("scheduler stopped")
	}
}

// IsRunning returns true if the scheduler is running.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.running
}

// NextRun returns the next scheduled sweep time.
func (s *Scheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if len(entries) == 0 {
		return nil
	}

	next := entries[0].Next
	return &next
}

// Tick runs one sweep: it executes the delayed actions of every due
// candidate and retires the candidate. Per-candidate failures are logged and
// isolated; one bad candidate never blocks the rest of the sweep.
func (s *Scheduler) Tick(ctx context.Context) {
	if s.metrics != nil {
		s.metrics.SchedulerTicks.Inc()
	}

	due, err := s.candidates.Due(s.now())
	if err != nil {
		s.logger.Error("sweep failed to query due candidates", "error", err)
		return
	}
	if len(due) == 0 {
		s.logger.Debug("sweep complete, no due candidates")
		return
	}

	collab, err := s.factory.Collaborators(ctx)
	if err != nil {
		s.logger.Error("sweep skipped, collaborators unavailable", "error", err)
		return
	}
	executor := NewExecutor(collab, s.logger)

	processed := 0
	for _, c := range due {
		s.processCandidate(ctx, executor, c)
		processed++
	}

	s.logger.Info("sweep complete", "processed", processed)
	if s.metrics != nil {
		s.metrics.SchedulerProcessed.Add(float64(processed))
	}
}

func (s *Scheduler) processCandidate(ctx context.Context, executor *Executor, c *Candidate) {
	// A candidate can outlive its rule; deletion then defaults to dry-run so
	// an orphaned candidate never destroys media.
	dryRun := true
	var ruleID *string
	rule, err := s.rules.Get(c.RuleID)
	if err == nil {
		dryRun = rule.DryRun
		ruleID = &rule.ID
	} else {
		s.logger.Warn("candidate rule missing, forcing dry run", "candidate_id", c.ID, "rule_id", c.RuleID)
	}

	for _, action := range c.Actions {
		result := executor.RunDelayed(ctx, action, c.ItemKey, c.ItemTitle, c.ItemType, dryRun)

		entry := &ActionLog{
			RuleID:     ruleID,
			ItemKey:    c.ItemKey,
			ItemType:   c.ItemType,
			ItemTitle:  c.ItemTitle,
			ActionType: result.ActionType,
			Status:     result.Status,
			Details:    result.Message,
		}
		if err := s.logs.Append(entry); err != nil {
			s.logger.Error("failed to append action log", "candidate_id", c.ID, "error", err)
		}

		if s.metrics != nil {
			s.metrics.Actions.WithLabelValues(string(result.ActionType), string(result.Status)).Inc()
		}
	}

	// Retire regardless of outcome.
	if err := s.candidates.Delete(c.ID); err != nil {
		s.logger.Error("failed to delete processed candidate", "candidate_id", c.ID, "error", err)
	}
}
