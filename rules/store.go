package rules

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// RuleStore manages rule persistence and retrieval.
type RuleStore interface {
	// Add a new rule
	Add(rule *Rule) error

	// Get a rule by ID
	Get(id string) (*Rule, error)

	// List all rules
	List() ([]*Rule, error)

	// ListEnabled returns all enabled rules
	ListEnabled() ([]*Rule, error)

	// Update an existing rule
	Update(rule *Rule) error

	// Delete a rule (and, in persistent stores, its candidates)
	Delete(id string) error
}

// CandidateStore manages the per-rule candidate sets.
type CandidateStore interface {
	// ReplaceForRule atomically clears all candidates owned by the rule and
	// inserts the new set. This is the only write path a scan uses, so a
	// scan can never leave a partially cleared set alongside a partially
	// written one.
	ReplaceForRule(ruleID string, candidates []*Candidate) error

	// Get a candidate by ID
	Get(id string) (*Candidate, error)

	// List all non-cancelled candidates
	List() ([]*Candidate, error)

	// Due returns non-cancelled candidates whose scheduled date has passed.
	// Candidates with no scheduled date are never due: they belong to
	// immediate-only rules and have no delayed phase to run.
	Due(now time.Time) ([]*Candidate, error)

	// Delete removes a processed candidate
	Delete(id string) error
}

// ActionLogStore is the append-only action history. Entries are never
// mutated or deleted.
type ActionLogStore interface {
	Append(entry *ActionLog) error
	List(limit int) ([]*ActionLog, error)
}

// LibraryStore manages the library sections synced from the media source.
type LibraryStore interface {
	Upsert(lib *Library) error
	Get(id string) (*Library, error)
	List() ([]*Library, error)
}

// InMemoryRuleStore implements RuleStore using an in-memory map.
// Thread-safe with RWMutex.
type InMemoryRuleStore struct {
	rules map[string]*Rule
	mu    sync.RWMutex
}

// NewInMemoryRuleStore creates a new in-memory rule store.
func NewInMemoryRuleStore() *InMemoryRuleStore {
	return &InMemoryRuleStore{
		rules: make(map[string]*Rule),
	}
}

// Add adds a new rule to the store.
func (s *InMemoryRuleStore) Add(rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if _, exists := s.rules[rule.ID]; exists {
		return fmt.Errorf("rule with ID %s already exists", rule.ID)
	}

	now := time.Now()
	rule.CreatedAt = now
	rule.UpdatedAt = now
	s.rules[rule.ID] = rule
	return nil
}

// Get retrieves a rule by ID.
func (s *InMemoryRuleStore) Get(id string) (*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, exists := s.rules[id]
	if !exists {
		return nil, fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}
	return rule, nil
}

// List returns all rules ordered by creation time.
func (s *InMemoryRuleStore) List() ([]*Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Rule, 0, len(s.rules))
	for _, rule := range s.rules {
		out = append(out, rule)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// ListEnabled returns all enabled rules.
func (s *InMemoryRuleStore) ListEnabled() ([]*Rule, error) {
	all, _ := s.List()
	var enabled []*Rule
	for _, rule := range all {
		if rule.Enabled {
			enabled = append(enabled, rule)
		}
	}
	return enabled, nil
}

// Update updates an existing rule, preserving CreatedAt.
func (s *InMemoryRuleStore) Update(rule *Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, exists := s.rules[rule.ID]
	if !exists {
		return fmt.Errorf("rule %s: %w", rule.ID, ErrNotFound)
	}

	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now()
	s.rules[rule.ID] = rule
	return nil
}

// Delete removes a rule from the store.
func (s *InMemoryRuleStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.rules[id]; !exists {
		return fmt.Errorf("rule %s: %w", id, ErrNotFound)
	}

	delete(s.rules, id)
	return nil
}

// InMemoryCandidateStore implements CandidateStore using an in-memory map.
type InMemoryCandidateStore struct {
	candidates map[string]*Candidate
	mu         sync.RWMutex
}

// NewInMemoryCandidateStore creates a new in-memory candidate store.
func NewInMemoryCandidateStore() *InMemoryCandidateStore {
	return &InMemoryCandidateStore{
		candidates: make(map[string]*Candidate),
	}
}

// ReplaceForRule clears the rule's candidates and inserts the new set.
func (s *InMemoryCandidateStore) ReplaceForRule(ruleID string, candidates []*Candidate) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, c := range s.candidates {
		if c.RuleID == ruleID {
			delete(s.candidates, id)
		}
	}

	now := time.Now()
	for _, c := range candidates {
		if c.ID == "" {
			c.ID = uuid.New().String()
		}
		c.RuleID = ruleID
		c.CreatedAt = now
		c.UpdatedAt = now
		s.candidates[c.ID] = c
	}
	return nil
}

// Get retrieves a candidate by ID.
func (s *InMemoryCandidateStore) Get(id string) (*Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, exists := s.candidates[id]
	if !exists {
		return nil, fmt.Errorf("candidate %s: %w", id, ErrNotFound)
	}
	return c, nil
}

// List returns all non-cancelled candidates ordered by creation time.
func (s *InMemoryCandidateStore) List() ([]*Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Candidate, 0, len(s.candidates))
	for _, c := range s.candidates {
		if !c.Cancelled {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Due returns non-cancelled candidates with a scheduled date at or before now.
func (s *InMemoryCandidateStore) Due(now time.Time) ([]*Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []*Candidate
	for _, c := range s.candidates {
		if c.Cancelled || c.ScheduledAt == nil {
			continue
		}
		if !c.ScheduledAt.After(now) {
			due = append(due, c)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt.Before(*due[j].ScheduledAt) })
	return due, nil
}

// Delete removes a candidate from the store.
func (s *InMemoryCandidateStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.candidates[id]; !exists {
		return fmt.Errorf("candidate %s: %w", id, ErrNotFound)
	}
	delete(s.candidates, id)
	return nil
}

// InMemoryActionLogStore implements ActionLogStore using a slice.
type InMemoryActionLogStore struct {
	entries []*ActionLog
	mu      sync.RWMutex
}

// NewInMemoryActionLogStore creates a new in-memory action log store.
func NewInMemoryActionLogStore() *InMemoryActionLogStore {
	return &InMemoryActionLogStore{}
}

// Append adds an entry to the log.
func (s *InMemoryActionLogStore) Append(entry *ActionLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entry.ID == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	s.entries = append(s.entries, entry)
	return nil
}

// List returns the most recent entries, newest first.
func (s *InMemoryActionLogStore) List(limit int) ([]*ActionLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := len(s.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]*ActionLog, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, s.entries[i])
	}
	return out, nil
}

// InMemoryLibraryStore implements LibraryStore using an in-memory map.
type InMemoryLibraryStore struct {
	libraries map[string]*Library
	mu        sync.RWMutex
}

// NewInMemoryLibraryStore creates a new in-memory library store.
func NewInMemoryLibraryStore() *InMemoryLibraryStore {
	return &InMemoryLibraryStore{
		libraries: make(map[string]*Library),
	}
}

// Upsert inserts or refreshes a library, keyed by its source ID.
func (s *InMemoryLibraryStore) Upsert(lib *Library) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, existing := range s.libraries {
		if existing.SourceID == lib.SourceID {
			existing.Title = lib.Title
			existing.Type = lib.Type
			existing.UpdatedAt = now
			lib.ID = existing.ID
			return nil
		}
	}

	if lib.ID == "" {
		lib.ID = uuid.New().String()
	}
	lib.CreatedAt = now
	lib.UpdatedAt = now
	s.libraries[lib.ID] = lib
	return nil
}

// Get retrieves a library by ID.
func (s *InMemoryLibraryStore) Get(id string) (*Library, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lib, exists := s.libraries[id]
	if !exists {
		return nil, fmt.Errorf("library %s: %w", id, ErrNotFound)
	}
	return lib, nil
}

// List returns all libraries ordered by title.
func (s *InMemoryLibraryStore) List() ([]*Library, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Library, 0, len(s.libraries))
	for _, lib := range s.libraries {
		out = append(out, lib)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Title < out[j].Title })
	return out, nil
}
