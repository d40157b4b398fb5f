package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"repartition/internal/domain"
	"repartition/internal/repository"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
)

const ruleColumns = `key, label, base_percentage::text, max_percentage::text,
	minimum_amount, maximum_amount, person_count, version, updated_at, updated_by`

type RuleRepository struct {
	db     *DB
	logger *slog.Logger
}

func NewRuleRepository(db *DB, logger *slog.Logger) *RuleRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &RuleRepository{db: db, logger: logger}
}

func (r *RuleRepository) GetAll(ctx context.Context) ([]domain.DistributionRule, error) {
	rows, err := r.db.pool.Query(ctx, "SELECT "+ruleColumns+" FROM distribution_rules")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	rs := &domain.RuleSet{}
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		if err := rs.Upsert(rule); err != nil {
			return nil, fmt.Errorf("stored rule %s: %w", rule.Key, err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return rs.Rules(), nil
}

func (r *RuleRepository) GetByKey(ctx context.Context, key domain.Category) (domain.DistributionRule, error) {
	row := r.db.pool.QueryRow(ctx, "SELECT "+ruleColumns+" FROM distribution_rules WHERE key = $1", string(key))
	rule, err := scanRule(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.DistributionRule{}, fmt.Errorf("%w: rule %s", repository.ErrNotFound, key)
	}
	return rule, err
}

// Upsert locks the existing row, if any, so the version check and the write
// happen atomically.
func (r *RuleRepository) Upsert(ctx context.Context, rule domain.DistributionRule, expectedVersion int) (domain.DistributionRule, error) {
	if err := domain.ValidateRule(rule); err != nil {
		return domain.DistributionRule{}, err
	}

	var stored domain.DistributionRule
	err := pgx.BeginFunc(ctx, r.db.pool, func(tx pgx.Tx) error {
		var current int
		err := tx.QueryRow(ctx, "SELECT version FROM distribution_rules WHERE key = $1 FOR UPDATE", string(rule.Key)).Scan(&current)
		exists := err == nil
		if err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return err
		}
		if expectedVersion > 0 {
			if !exists {
				return fmt.Errorf("%w: rule %s", repository.ErrNotFound, rule.Key)
			}
			if current != expectedVersion {
				return fmt.Errorf("%w: rule %s at version %d, expected %d",
					repository.ErrVersionConflict, rule.Key, current, expectedVersion)
			}
		}

		row := tx.QueryRow(ctx, `
			INSERT INTO distribution_rules
				(key, label, base_percentage, max_percentage, minimum_amount, maximum_amount, person_count, version, updated_at, updated_by)
			VALUES ($1, $2, $3::numeric, $4::numeric, $5, $6, $7, 1, NOW(), $8)
			ON CONFLICT (key) DO UPDATE SET
				label = EXCLUDED.label,
				base_percentage = EXCLUDED.base_percentage,
				max_percentage = EXCLUDED.max_percentage,
				minimum_amount = EXCLUDED.minimum_amount,
				maximum_amount = EXCLUDED.maximum_amount,
				person_count = EXCLUDED.person_count,
				version = distribution_rules.version + 1,
				updated_at = NOW(),
				updated_by = EXCLUDED.updated_by
			RETURNING `+ruleColumns,
			ruleArgs(rule)...)
		stored, err = scanRule(row)
		return err
	})
	if err != nil {
		return domain.DistributionRule{}, err
	}

	r.logger.DebugContext(ctx, "Rule stored",
		slog.String("key", string(stored.Key)),
		slog.Int("version", stored.Version))
	return stored, nil
}

func (r *RuleRepository) Delete(ctx context.Context, key domain.Category) error {
	result, err := r.db.pool.Exec(ctx, "DELETE FROM distribution_rules WHERE key = $1", string(key))
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("%w: rule %s", repository.ErrNotFound, key)
	}
	return nil
}

// ReplaceAll swaps the whole configuration in one transaction. Versions keep
// counting from the replaced rules.
func (r *RuleRepository) ReplaceAll(ctx context.Context, rules []domain.DistributionRule) error {
	seen := make(map[domain.Category]bool, len(rules))
	for _, rule := range rules {
		if err := domain.ValidateRule(rule); err != nil {
			return err
		}
		if seen[rule.Key] {
			return fmt.Errorf("%w: rule %s", repository.ErrDuplicate, rule.Key)
		}
		seen[rule.Key] = true
	}

	return pgx.BeginFunc(ctx, r.db.pool, func(tx pgx.Tx) error {
		versions := make(map[string]int)
		rows, err := tx.Query(ctx, "SELECT key, version FROM distribution_rules FOR UPDATE")
		if err != nil {
			return err
		}
		for rows.Next() {
			var key string
			var version int
			if err := rows.Scan(&key, &version); err != nil {
				rows.Close()
				return err
			}
			versions[key] = version
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		if _, err := tx.Exec(ctx, "DELETE FROM distribution_rules"); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, rule := range rules {
			args := append(ruleArgs(rule), versions[string(rule.Key)]+1)
			batch.Queue(`
				INSERT INTO distribution_rules
					(key, label, base_percentage, max_percentage, minimum_amount, maximum_amount, person_count, updated_by, version, updated_at)
				VALUES ($1, $2, $3::numeric, $4::numeric, $5, $6, $7, $8, $9, NOW())`, args...)
		}
		return tx.SendBatch(ctx, batch).Close()
	})
}

func (r *RuleRepository) Count(ctx context.Context) (int, error) {
	var n int
	err := r.db.pool.QueryRow(ctx, "SELECT COUNT(*) FROM distribution_rules").Scan(&n)
	return n, err
}

func ruleArgs(rule domain.DistributionRule) []any {
	return []any{
		string(rule.Key),
		rule.Label,
		rule.BasePercentage.String(),
		rule.MaxPercentage.String(),
		rule.Conditions.MinimumAmount,
		rule.Conditions.MaximumAmount,
		rule.Conditions.PersonCount,
		rule.UpdatedBy,
	}
}

func scanRule(row pgx.Row) (domain.DistributionRule, error) {
	var (
		rule      domain.DistributionRule
		key       string
		base      string
		ceiling   string
		updatedAt time.Time
	)
	err := row.Scan(&key, &rule.Label, &base, &ceiling,
		&rule.Conditions.MinimumAmount, &rule.Conditions.MaximumAmount, &rule.Conditions.PersonCount,
		&rule.Version, &updatedAt, &rule.UpdatedBy)
	if err != nil {
		return domain.DistributionRule{}, err
	}

	rule.Key = domain.Category(key)
	rule.UpdatedAt = updatedAt.UTC()
	if rule.BasePercentage, err = decimal.NewFromString(base); err != nil {
		return domain.DistributionRule{}, fmt.Errorf("rule %s base_percentage: %w", key, err)
	}
	if rule.MaxPercentage, err = decimal.NewFromString(ceiling); err != nil {
		return domain.DistributionRule{}, fmt.Errorf("rule %s max_percentage: %w", key, err)
	}
	return rule, nil
}
