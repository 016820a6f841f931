package rules

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Scanner runs rules against their libraries: it evaluates every item,
// executes immediate actions on matches, and replaces the rule's candidate
// set with the freshly matched items.
//
// Scans of the same rule are serialized with a per-rule lock; clear-then-insert
// is not atomic across two interleaved scans of one rule. Scans of different
// rules are independent.
type Scanner struct {
	rules      *Service
	candidates CandidateStore
	libraries  LibraryStore
	factory    CollaboratorFactory
	metrics    *Metrics
	logger     *slog.Logger
	now        func() time.Time

	locks map[string]*sync.Mutex
	mu    sync.Mutex
}

// NewScanner creates a scanner over the given stores and collaborator factory.
func NewScanner(rules *Service, candidates CandidateStore, libraries LibraryStore, factory CollaboratorFactory, metrics *Metrics, logger *slog.Logger) *Scanner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		rules:      rules,
		candidates: candidates,
		libraries:  libraries,
		factory:    factory,
		metrics:    metrics,
		logger:     logger.With("component", "rules.scanner"),
		now:        time.Now,
		locks:      make(map[string]*sync.Mutex),
	}
}

// ruleLock returns the mutex serializing scans of one rule.
func (s *Scanner) ruleLock(ruleID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	lock, exists := s.locks[ruleID]
	if !exists {
		lock = &sync.Mutex{}
		s.locks[ruleID] = lock
	}
	return lock
}

// Scan evaluates one rule against its library. A missing or disabled rule
// and an unconfigured media source are silent no-ops, not errors: scans are
// routinely fired against rules whose state changed since scheduling.
func (s *Scanner) Scan(ctx context.Context, ruleID string) error {
	lock := s.ruleLock(ruleID)
	lock.Lock()
	defer lock.Unlock()

	rule, err := s.rules.Get(ruleID)
	if errors.Is(err, ErrNotFound) {
		s.logger.Debug("scan skipped, rule gone", "rule_id", ruleID)
		s.countScan("skipped")
		return nil
	}
	if err != nil {
		s.countScan("error")
		return fmt.Errorf("failed to load rule for scan: %w", err)
	}
	if !rule.Enabled {
		s.logger.Debug("scan skipped, rule disabled", "rule_id", ruleID)
		s.countScan("skipped")
		return nil
	}

	collab, err := s.factory.Collaborators(ctx)
	if errors.Is(err, ErrNotConfigured) {
		s.logger.Info("scan skipped, media source not configured", "rule_id", ruleID)
		s.countScan("skipped")
		return nil
	}
	if err != nil {
		s.countScan("error")
		return fmt.Errorf("failed to resolve collaborators: %w", err)
	}

	lib, err := s.libraries.Get(rule.LibraryID)
	if errors.Is(err, ErrNotFound) {
		s.logger.Debug("scan skipped, library gone", "rule_id", ruleID, "library_id", rule.LibraryID)
		s.countScan("skipped")
		return nil
	}
	if err != nil {
		s.countScan("error")
		return fmt.Errorf("failed to load library for scan: %w", err)
	}

	executor := NewExecutor(collab, s.logger)
	executor.now = s.now

	var candidates []*Candidate
	switch lib.Type {
	case LibraryShow:
		candidates, err = s.scanSeasons(ctx, rule, lib, collab, executor)
	default:
		candidates, err = s.scanMovies(ctx, rule, lib, collab, executor)
	}
	if err != nil {
		s.countScan("error")
		return err
	}

	// Replace semantics: the previous candidate set is superseded wholesale.
	// Items that stopped matching simply do not reappear, which is how a
	// manual "keep" intervention cancels a pending deletion.
	if err := s.candidates.ReplaceForRule(rule.ID, candidates); err != nil {
		s.countScan("error")
		return fmt.Errorf("failed to replace candidates: %w", err)
	}

	s.logger.Info("scan complete",
		"rule_id", rule.ID, "rule_name", rule.Name,
		"library_id", lib.ID, "candidates", len(candidates))
	s.countScan("success")
	if s.metrics != nil {
		s.metrics.ScanCandidates.Add(float64(len(candidates)))
	}

	return nil
}

func (s *Scanner) scanMovies(ctx context.Context, rule *Rule, lib *Library, collab *Collaborators, executor *Executor) ([]*Candidate, error) {
	movies, err := collab.Source.ListMovies(ctx, lib.SourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list movies: %w", err)
	}

	var candidates []*Candidate
	for _, movie := range movies {
		facts, err := collab.Source.MovieFacts(ctx, movie)
		if err != nil {
			s.logger.Warn("skipping movie, facts unavailable", "rule_id", rule.ID, "item_key", movie.Key, "error", err)
			continue
		}

		if !EvaluateAll(rule.Conditions, rule.Logic, facts) {
			continue
		}

		s.runImmediate(ctx, rule, executor, facts)

		if c := s.buildCandidate(rule, facts); c != nil {
			candidates = append(candidates, c)
		}
	}

	return candidates, nil
}

func (s *Scanner) scanSeasons(ctx context.Context, rule *Rule, lib *Library, collab *Collaborators, executor *Executor) ([]*Candidate, error) {
	shows, err := collab.Source.ListShows(ctx, lib.SourceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list shows: %w", err)
	}

	var candidates []*Candidate
	for _, show := range shows {
		seasons, err := collab.Source.ListSeasons(ctx, show)
		if err != nil {
			s.logger.Warn("skipping show, seasons unavailable", "rule_id", rule.ID, "show_key", show.Key, "error", err)
			continue
		}

		for _, season := range seasons {
			facts, err := collab.Source.SeasonFacts(ctx, season)
			if err != nil {
				s.logger.Warn("skipping season, facts unavailable", "rule_id", rule.ID, "item_key", season.Key, "error", err)
				continue
			}

			if !EvaluateAll(rule.Conditions, rule.Logic, facts) {
				continue
			}

			s.runImmediate(ctx, rule, executor, facts)

			if c := s.buildCandidate(rule, facts); c != nil {
				candidates = append(candidates, c)
			}
		}
	}

	return candidates, nil
}

func (s *Scanner) runImmediate(ctx context.Context, rule *Rule, executor *Executor, facts *Facts) {
	results := executor.RunImmediate(ctx, rule.Actions.Immediate, facts.Key, facts.ItemType, rule.DryRun, rule.Actions.Delayed, facts)
	for _, res := range results {
		s.logger.Info("immediate action",
			"rule_id", rule.ID, "item_key", facts.Key, "item_title", facts.Title,
			"action_type", string(res.ActionType), "status", string(res.Status), "message", res.Message)
		if s.metrics != nil {
			s.metrics.Actions.WithLabelValues(string(res.ActionType), string(res.Status)).Inc()
		}
	}
}

// buildCandidate materializes one candidate for a matched item, or nil when
// the rule has no delayed actions.
func (s *Scanner) buildCandidate(rule *Rule, facts *Facts) *Candidate {
	if len(rule.Actions.Delayed) == 0 {
		return nil
	}

	c := &Candidate{
		ItemKey:     facts.Key,
		ItemType:    facts.ItemType,
		ItemTitle:   facts.Title,
		Reason:      fmt.Sprintf("Matched rule %q", rule.Name),
		Actions:     rule.Actions.Delayed,
		ScheduledAt: ScheduledDate(s.now(), rule.Actions.Delayed),
	}

	if facts.ItemType == ItemSeason {
		c.ShowTitle = facts.ShowTitle
		season := facts.SeasonNumber
		c.SeasonNumber = &season
		episodes := facts.EpisodeCount
		c.EpisodeCount = &episodes
		c.LastWatchedEpisodeTitle = facts.LastWatchedEpisodeTitle
		if facts.LastWatchedEpisodeNumber != 0 {
			n := facts.LastWatchedEpisodeNumber
			c.LastWatchedEpisodeNumber = &n
		}
		c.LastWatchedEpisodeDate = facts.LastWatchedEpisodeDate
	}

	return c
}

// TriggerScan starts a scan of one rule in the background.
func (s *Scanner) TriggerScan(ruleID string) {
	go func() {
		if err := s.Scan(context.Background(), ruleID); err != nil {
			s.logger.Error("scan failed", "rule_id", ruleID, "error", err)
		}
	}()
}

// ScanAll scans every enabled rule sequentially.
func (s *Scanner) ScanAll(ctx context.Context) error {
	rules, err := s.rules.ListEnabled()
	if err != nil {
		return fmt.Errorf("failed to list enabled rules: %w", err)
	}

	var firstErr error
	for _, rule := range rules {
		if err := s.Scan(ctx, rule.ID); err != nil {
			s.logger.Error("scan failed", "rule_id", rule.ID, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// TriggerScanAll starts a scan of all enabled rules in the background.
func (s *Scanner) TriggerScanAll() {
	go func() {
		if err := s.ScanAll(context.Background()); err != nil {
			s.logger.Error("scan all failed", "error", err)
		}
	}()
}

// AddCandidateToCollection is the manual override path: it adds the
// candidate's item to the named collection, then re-triggers the owning
// rule's scan so the new collection membership can drop the item from the
// candidate set. Seasons are added through their parent show.
func (s *Scanner) AddCandidateToCollection(ctx context.Context, candidateID, collection string) error {
	c, err := s.candidates.Get(candidateID)
	if err != nil {
		return err
	}

	collab, err := s.factory.Collaborators(ctx)
	if err != nil {
		return err
	}

	if c.ItemType == ItemSeason {
		err = collab.Source.AddShowToCollection(ctx, c.ItemKey, collection)
	} else {
		err = collab.Source.AddToCollection(ctx, c.ItemKey, collection, c.ItemType)
	}
	if err != nil {
		var conflict *ConflictError
		if errors.As(err, &conflict) {
			return conflict
		}
		return fmt.Errorf("failed to add to collection: %w", err)
	}

	s.TriggerScan(c.RuleID)
	return nil
}

func (s *Scanner) countScan(result string) {
	if s.metrics != nil {
		s.metrics.Scans.WithLabelValues(result).Inc()
	}
}
