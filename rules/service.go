package rules

import "fmt"

// Service is the rule management front door: it validates mutations, applies
// them to the store, and keeps the enabled-rules cache coherent. Reads used
// by scans and scheduler ticks go through the cache.
type Service struct {
	store RuleStore
	cache RulesCache
}

// NewService creates a rule service over the given store with a fresh
// in-memory cache.
func NewService(store RuleStore) *Service {
	return &Service{
		store: store,
		cache: NewInMemoryRulesCache(DefaultCacheConfig()),
	}
}

// NewServiceWithCache creates a rule service with a caller-provided cache.
func NewServiceWithCache(store RuleStore, cache RulesCache) *Service {
	return &Service{store: store, cache: cache}
}

// Add validates and stores a new rule.
func (s *Service) Add(rule *Rule) error {
	if err := ValidateRule(rule); err != nil {
		return err
	}
	if rule.Logic == "" {
		rule.Logic = LogicAnd
	}

	if err := s.store.Add(rule); err != nil {
		return err
	}

	// Invalidate cache since rules list changed
	s.cache.Invalidate()
	return nil
}

// Get retrieves a rule by ID.
func (s *Service) Get(id string) (*Rule, error) {
	return s.store.Get(id)
}

// List returns all rules.
func (s *Service) List() ([]*Rule, error) {
	return s.store.List()
}

// ListEnabled returns all enabled rules, served from cache when possible.
func (s *Service) ListEnabled() ([]*Rule, error) {
	if cached := s.cache.Get(); cached != nil {
		return cached, nil
	}

	rules, err := s.store.ListEnabled()
	if err != nil {
		return nil, fmt.Errorf("failed to load enabled rules: %w", err)
	}
	s.cache.Set(rules)
	return rules, nil
}

// Update validates and stores changes to an existing rule.
func (s *Service) Update(rule *Rule) error {
	if err := ValidateRule(rule); err != nil {
		return err
	}
	if rule.Logic == "" {
		rule.Logic = LogicAnd
	}

	if err := s.store.Update(rule); err != nil {
		return err
	}

	s.cache.Invalidate()
	return nil
}

// Delete removes a rule. Persistent stores also drop the rule's candidates.
func (s *Service) Delete(id string) error {
	if err := s.store.Delete(id); err != nil {
		return err
	}

	s.cache.Invalidate()
	return nil
}
