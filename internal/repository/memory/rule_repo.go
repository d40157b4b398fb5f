package memory

import (
	"context"
	"fmt"
	"repartition/internal/domain"
	"repartition/internal/repository"
	"sync"
	"time"
)

type RuleRepository struct {
	mu    sync.RWMutex
	rules map[domain.Category]domain.DistributionRule
	now   func() time.Time
}

func NewRuleRepository() *RuleRepository {
	return &RuleRepository{
		rules: make(map[domain.Category]domain.DistributionRule),
		now:   time.Now,
	}
}

func (r *RuleRepository) GetAll(ctx context.Context) ([]domain.DistributionRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rs := &domain.RuleSet{}
	for _, rule := range r.rules {
		if err := rs.Upsert(rule); err != nil {
			return nil, fmt.Errorf("stored rule %s: %w", rule.Key, err)
		}
	}
	return rs.Rules(), nil
}

func (r *RuleRepository) GetByKey(ctx context.Context, key domain.Category) (domain.DistributionRule, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rule, exists := r.rules[key]
	if !exists {
		return domain.DistributionRule{}, fmt.Errorf("%w: rule %s", repository.ErrNotFound, key)
	}
	return rule.Clone(), nil
}

func (r *RuleRepository) Upsert(ctx context.Context, rule domain.DistributionRule, expectedVersion int) (domain.DistributionRule, error) {
	if err := domain.ValidateRule(rule); err != nil {
		return domain.DistributionRule{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	existing, exists := r.rules[rule.Key]
	if expectedVersion > 0 {
		if !exists {
			return domain.DistributionRule{}, fmt.Errorf("%w: rule %s", repository.ErrNotFound, rule.Key)
		}
		if existing.Version != expectedVersion {
			return domain.DistributionRule{}, fmt.Errorf("%w: rule %s at version %d, expected %d",
				repository.ErrVersionConflict, rule.Key, existing.Version, expectedVersion)
		}
	}

	stored := rule.Clone()
	stored.Version = existing.Version + 1
	stored.UpdatedAt = r.now().UTC()
	r.rules[stored.Key] = stored

	return stored.Clone(), nil
}

func (r *RuleRepository) Delete(ctx context.Context, key domain.Category) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.rules[key]; !exists {
		return fmt.Errorf("%w: rule %s", repository.ErrNotFound, key)
	}
	delete(r.rules, key)
	return nil
}

// ReplaceAll swaps the whole configuration; nothing is written unless every
// rule is valid.
func (r *RuleRepository) ReplaceAll(ctx context.Context, rules []domain.DistributionRule) error {
	next := make(map[domain.Category]domain.DistributionRule, len(rules))
	for _, rule := range rules {
		if err := domain.ValidateRule(rule); err != nil {
			return err
		}
		if _, dup := next[rule.Key]; dup {
			return fmt.Errorf("%w: rule %s", repository.ErrDuplicate, rule.Key)
		}
		next[rule.Key] = rule.Clone()
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now().UTC()
	for key, rule := range next {
		rule.Version = r.rules[key].Version + 1
		rule.UpdatedAt = now
		next[key] = rule
	}
	r.rules = next
	return nil
}

func (r *RuleRepository) Count(ctx context.Context) (int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rules), nil
}
