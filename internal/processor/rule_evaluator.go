package processor

import (
	"fmt"
	"repartition/internal/domain"

	"github.com/shopspring/decimal"
)

// EvaluationContext is what a rule's conditions are checked against. Base is
// the amount the rule's percentage would apply to: gross for fsp, net for the
// others.
type EvaluationContext struct {
	Base        int64
	PersonCount int
}

type EffectiveAllocation struct {
	Applies    bool
	Percentage decimal.Decimal
	Reason     string
}

// RuleEvaluator decides eligibility and the effective percentage of a single
// rule. It holds no state and is safe for concurrent use.
type RuleEvaluator struct{}

func NewRuleEvaluator() *RuleEvaluator {
	return &RuleEvaluator{}
}

func (e *RuleEvaluator) Evaluate(rule domain.DistributionRule, ctx EvaluationContext) EffectiveAllocation {
	c := rule.Conditions

	if c.MinimumAmount != nil && ctx.Base < *c.MinimumAmount {
		return EffectiveAllocation{
			Percentage: decimal.Zero,
			Reason:     fmt.Sprintf("base %d below minimum %d", ctx.Base, *c.MinimumAmount),
		}
	}
	if c.MaximumAmount != nil && ctx.Base > *c.MaximumAmount {
		return EffectiveAllocation{
			Percentage: decimal.Zero,
			Reason:     fmt.Sprintf("base %d above maximum %d", ctx.Base, *c.MaximumAmount),
		}
	}
	// person count only means something for the individual pool
	if c.PersonCount != nil && rule.Key == domain.CategoryPoursuivants && ctx.PersonCount < *c.PersonCount {
		return EffectiveAllocation{
			Percentage: decimal.Zero,
			Reason:     fmt.Sprintf("%d beneficiaries, at least %d required", ctx.PersonCount, *c.PersonCount),
		}
	}

	return EffectiveAllocation{
		Applies:    true,
		Percentage: decimal.Min(rule.BasePercentage, rule.MaxPercentage),
	}
}
