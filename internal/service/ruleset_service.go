package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"repartition/internal/domain"
	"repartition/internal/repository"
	"repartition/internal/rulecodec"
)

// BootstrapFunc supplies the rule set seeded into an empty store.
type BootstrapFunc func() (*domain.RuleSet, error)

// RuleSetService manages the active rule configuration. Rules are only ever
// replaced whole; concurrent editors are detected through rule versions.
type RuleSetService struct {
	repo      repository.RuleRepository
	bootstrap BootstrapFunc
	notifier  *AuditNotifier
	metrics   RuleMetrics
	seedMu    sync.Mutex
	seeded    bool
	logger    *slog.Logger
}

type RuleSetOption func(*RuleSetService)

func WithBootstrap(fn BootstrapFunc) RuleSetOption {
	return func(s *RuleSetService) { s.bootstrap = fn }
}

// WithBootstrapFile seeds from a JSON or YAML rule document.
func WithBootstrapFile(path string) RuleSetOption {
	return WithBootstrap(func() (*domain.RuleSet, error) {
		return rulecodec.LoadFile(path)
	})
}

func WithRuleMetrics(m RuleMetrics) RuleSetOption {
	return func(s *RuleSetService) { s.metrics = m }
}

func NewRuleSetService(repo repository.RuleRepository, notifier *AuditNotifier, logger *slog.Logger, opts ...RuleSetOption) *RuleSetService {
	if logger == nil {
		logger = slog.Default()
	}

	s := &RuleSetService{
		repo:      repo,
		bootstrap: func() (*domain.RuleSet, error) { return domain.DefaultRuleSet(), nil },
		notifier:  notifier,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Active returns the current rule set. The first call against an empty store
// seeds it with the bootstrap set. The set version is the highest rule
// version.
func (s *RuleSetService) Active(ctx context.Context) (*domain.RuleSet, error) {
	if err := s.ensureSeeded(ctx); err != nil {
		return nil, err
	}

	rules, err := s.repo.GetAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules: %w", err)
	}
	rs, err := domain.NewRuleSet(rules...)
	if err != nil {
		return nil, fmt.Errorf("stored configuration is invalid: %w", err)
	}
	for _, rule := range rules {
		if rule.Version > rs.Version {
			rs.Version = rule.Version
		}
	}
	return rs, nil
}

func (s *RuleSetService) ensureSeeded(ctx context.Context) error {
	s.seedMu.Lock()
	defer s.seedMu.Unlock()
	if s.seeded {
		return nil
	}

	count, err := s.repo.Count(ctx)
	if err != nil {
		return fmt.Errorf("failed to count rules: %w", err)
	}
	if count == 0 {
		rs, err := s.bootstrap()
		if err != nil {
			return fmt.Errorf("failed to load bootstrap rules: %w", err)
		}
		if err := s.repo.ReplaceAll(ctx, rs.Rules()); err != nil {
			return fmt.Errorf("failed to seed rules: %w", err)
		}
		s.logger.InfoContext(ctx, "Rule configuration seeded",
			slog.Int("rules", rs.Len()))
	}
	s.seeded = true
	return nil
}

func (s *RuleSetService) Get(ctx context.Context, key domain.Category) (domain.DistributionRule, error) {
	if err := s.ensureSeeded(ctx); err != nil {
		return domain.DistributionRule{}, err
	}
	return s.repo.GetByKey(ctx, key)
}

// Upsert replaces one rule. expectedVersion 0 means last write wins; any
// other value must equal the stored version or repository.ErrVersionConflict
// is returned.
func (s *RuleSetService) Upsert(ctx context.Context, rule domain.DistributionRule, expectedVersion int, user string) (domain.DistributionRule, error) {
	if err := s.ensureSeeded(ctx); err != nil {
		return domain.DistributionRule{}, err
	}

	key, err := domain.ParseCategory(string(rule.Key))
	if err != nil {
		return domain.DistributionRule{}, err
	}
	rule.Key = key
	rule.UpdatedBy = user
	if err := domain.ValidateRule(rule); err != nil {
		return domain.DistributionRule{}, err
	}

	stored, err := s.repo.Upsert(ctx, rule, expectedVersion)
	if err != nil {
		return domain.DistributionRule{}, err
	}

	if s.metrics != nil {
		s.metrics.RecordRuleUpdate(stored.Key)
	}
	s.logger.InfoContext(ctx, "Rule updated",
		slog.String("key", string(stored.Key)),
		slog.Int("version", stored.Version),
		slog.String("base_percentage", stored.BasePercentage.String()),
		slog.String("max_percentage", stored.MaxPercentage.String()),
		slog.String("user", user))
	s.notify(ctx, AuditEvent{Type: AuditRuleUpdated, RuleKey: stored.Key, RuleVersion: stored.Version, User: user})

	return stored, nil
}

// Remove deletes a rule. Records already in history keep their snapshot.
func (s *RuleSetService) Remove(ctx context.Context, key domain.Category, user string) error {
	if err := s.ensureSeeded(ctx); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, key); err != nil {
		return err
	}

	s.logger.WarnContext(ctx, "Rule removed",
		slog.String("key", string(key)),
		slog.String("user", user))
	s.notify(ctx, AuditEvent{Type: AuditRuleRemoved, RuleKey: key, User: user})
	return nil
}

func (s *RuleSetService) Export(ctx context.Context, format rulecodec.Format) ([]byte, error) {
	rs, err := s.Active(ctx)
	if err != nil {
		return nil, err
	}
	return rulecodec.Encode(rs, format)
}

// Import replaces the whole configuration with the document's rules. Nothing
// is stored unless every rule is valid.
func (s *RuleSetService) Import(ctx context.Context, data []byte, format rulecodec.Format, user string) (*domain.RuleSet, error) {
	rs, err := rulecodec.Decode(data, format)
	if err != nil {
		return nil, err
	}
	rules := rs.Rules()
	for i := range rules {
		rules[i].UpdatedBy = user
	}

	s.seedMu.Lock()
	err = s.repo.ReplaceAll(ctx, rules)
	if err == nil {
		s.seeded = true
	}
	s.seedMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to replace rules: %w", err)
	}

	keys := make([]string, 0, len(rules))
	for _, r := range rules {
		keys = append(keys, string(r.Key))
		if s.metrics != nil {
			s.metrics.RecordRuleUpdate(r.Key)
		}
	}
	s.logger.InfoContext(ctx, "Rule configuration imported",
		slog.Int("rules", len(rules)),
		slog.String("keys", strings.Join(keys, ",")),
		slog.String("user", user))
	s.notify(ctx, AuditEvent{Type: AuditRulesImported, User: user})

	return s.Active(ctx)
}

func (s *RuleSetService) notify(ctx context.Context, event AuditEvent) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Notify(ctx, event); err != nil {
		s.logger.WarnContext(ctx, "Audit event dropped",
			slog.String("type", string(event.Type)),
			slog.String("error", err.Error()))
	}
}
