package processor

import (
	"repartition/internal/domain"
	"repartition/pkg/validator"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	hundred = decimal.NewFromInt(100)

	beneficiaryNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("repartition/beneficiary"))
)

// AllocationEngine turns a case's monetary facts and a rule set into a full
// distribution. It performs no I/O and keeps no mutable state, so one engine
// can serve concurrent callers.
type AllocationEngine struct {
	evaluator *RuleEvaluator
	checker   *ConsistencyChecker
	validator *validator.InputValidator
	policy    SplitPolicy
}

func NewAllocationEngine(policy SplitPolicy) *AllocationEngine {
	if policy == nil {
		policy = EqualSplit{}
	}
	return &AllocationEngine{
		evaluator: NewRuleEvaluator(),
		checker:   NewConsistencyChecker(),
		validator: validator.NewInputValidator(),
		policy:    policy,
	}
}

func (e *AllocationEngine) Policy() SplitPolicy {
	return e.policy
}

// ComputeDistribution validates the input and rules, then allocates:
// gross = fine + sale, fsp on gross, net = gross - fsp - fees, every other
// applicable rule on net, and the poursuivants pool split per the policy.
// Validation failures return an error; anything else is reported as a
// warning on the result.
func (e *AllocationEngine) ComputeDistribution(input domain.DistributionInput, rules *domain.RuleSet) (*domain.DistributionResult, error) {
	in := validator.Normalize(input)
	if err := e.validator.ValidateInput(in); err != nil {
		return nil, err
	}
	if rules == nil {
		rules = &domain.RuleSet{}
	}
	if err := rules.ValidateAll(); err != nil {
		return nil, err
	}

	res := &domain.DistributionResult{
		CaseAmount:    in.CaseAmount,
		FineAmount:    in.FineAmount,
		SaleAmount:    in.SaleAmount,
		MiscFees:      in.MiscFees,
		GrossAmount:   in.FineAmount + in.SaleAmount,
		Beneficiaries: []domain.Beneficiary{},
		Allocations:   []domain.Allocation{},
		Warnings:      []domain.Warning{},
		SplitPolicy:   e.policy.Name(),
		Input:         in,
		RuleSnapshot:  rules.Rules(),
		RuleVersion:   rules.Version,
	}
	persons := in.PersonCount()

	if res.GrossAmount < in.FineAmount {
		res.GrossAmount = 0
		res.Warnings = append(res.Warnings, domain.NewWarning(domain.WarningInvalidAmount,
			"fine %d plus sale %d overflows", in.FineAmount, in.SaleAmount))
	}

	if rule, ok := rules.Get(domain.CategoryFsp); ok {
		res.Fsp = e.allocate(res, rule, res.GrossAmount, persons)
	} else {
		res.Warnings = append(res.Warnings, missingRule(domain.CategoryFsp))
	}

	res.NetAmount = res.GrossAmount - res.Fsp - res.MiscFees
	base := res.NetAmount
	if base < 0 {
		res.Warnings = append(res.Warnings, domain.NewWarning(domain.WarningNegativeNetAmount,
			"net amount %d is negative (gross %d, fsp %d, fees %d); nothing is allocated",
			res.NetAmount, res.GrossAmount, res.Fsp, res.MiscFees))
		base = 0
	}

	applied := decimal.Zero
	var allocated int64

	for _, key := range rules.Keys() {
		if key == domain.CategoryFsp {
			continue
		}
		rule, _ := rules.Get(key)
		amount := e.allocate(res, rule, base, persons)
		if last := res.Allocations[len(res.Allocations)-1]; last.Applies {
			applied = applied.Add(last.AppliedPercentage)
		}
		allocated += amount
		e.assign(res, key, amount)
	}

	for _, key := range domain.StandardCategories {
		if key == domain.CategoryFsp {
			continue
		}
		if _, ok := rules.Get(key); !ok {
			res.Warnings = append(res.Warnings, missingRule(key))
		}
	}

	if !applied.GreaterThan(hundred) && base > allocated {
		res.Undistributed = base - allocated
	}

	e.emitFunds(res, rules)

	shares, leftover := splitPool(res.Poursuivants, []splitGroup{
		{role: domain.CategorySeizingAgent, names: in.SeizingAgents},
		{role: domain.CategoryChief, names: in.Chiefs},
		{role: domain.CategoryInformant, names: in.Informants},
	}, e.policy)
	res.Undistributed += leftover
	for _, s := range shares {
		res.Beneficiaries = append(res.Beneficiaries, domain.Beneficiary{
			ID:              beneficiaryID(in.CaseNumber, s.role, s.index, s.name),
			Name:            s.name,
			Category:        s.role,
			Amount:          s.amount,
			PercentageOfNet: percentageOf(s.amount, res.NetAmount),
		})
	}

	e.checker.Annotate(res)
	return res, nil
}

// allocate evaluates one rule against base and records the outcome.
func (e *AllocationEngine) allocate(res *domain.DistributionResult, rule domain.DistributionRule, base int64, persons int) int64 {
	eff := e.evaluator.Evaluate(rule, EvaluationContext{Base: base, PersonCount: persons})
	var amount int64
	if eff.Applies {
		amount = percent(base, eff.Percentage)
	}
	res.Allocations = append(res.Allocations, domain.Allocation{
		Key:               rule.Key,
		BasePercentage:    rule.BasePercentage,
		AppliedPercentage: eff.Percentage,
		Applies:           eff.Applies,
		Amount:            amount,
		Reason:            eff.Reason,
	})
	return amount
}

func (e *AllocationEngine) assign(res *domain.DistributionResult, key domain.Category, amount int64) {
	switch key {
	case domain.CategoryTresor:
		res.Tresor = amount
	case domain.CategoryMutuelle:
		res.Mutuelle = amount
	case domain.CategoryFondsSolidarite:
		res.FondsSolidarite = amount
	case domain.CategoryFondsFormation:
		res.FondsFormation = amount
	case domain.CategoryFondsEquipement:
		res.FondsEquipement = amount
	case domain.CategoryPrimeRendement:
		res.PrimeRendement = amount
	case domain.CategoryPoursuivants:
		res.Poursuivants = amount
	default:
		if res.CustomFunds == nil {
			res.CustomFunds = make(map[string]int64)
		}
		res.CustomFunds[string(key)] = amount
	}
}

// emitFunds adds one beneficiary per fund that received a positive amount,
// standard funds first then custom ones in key order.
func (e *AllocationEngine) emitFunds(res *domain.DistributionResult, rules *domain.RuleSet) {
	for _, key := range rules.Keys() {
		if key == domain.CategoryFsp || key == domain.CategoryPoursuivants {
			continue
		}
		amount := res.FundAmount(key)
		if amount <= 0 {
			continue
		}
		rule, _ := rules.Get(key)
		name := rule.Label
		if name == "" {
			name = string(key)
		}
		res.Beneficiaries = append(res.Beneficiaries, domain.Beneficiary{
			ID:              beneficiaryID(res.Input.CaseNumber, key, 0, name),
			Name:            name,
			Category:        key,
			Amount:          amount,
			PercentageOfNet: percentageOf(amount, res.NetAmount),
		})
	}
}

// percent returns base*pct/100 rounded half away from zero to a minor unit.
func percent(base int64, pct decimal.Decimal) int64 {
	return decimal.NewFromInt(base).Mul(pct).Div(hundred).Round(0).IntPart()
}

func percentageOf(amount, net int64) decimal.Decimal {
	if net <= 0 {
		return decimal.Zero
	}
	return decimal.NewFromInt(amount).Mul(hundred).Div(decimal.NewFromInt(net)).Round(4)
}

// beneficiaryID is derived from the beneficiary's position so recomputing the
// same case yields the same ids.
func beneficiaryID(caseNumber string, category domain.Category, index int, name string) string {
	key := caseNumber + "|" + string(category) + "|" + strconv.Itoa(index) + "|" + name
	return uuid.NewSHA1(beneficiaryNamespace, []byte(key)).String()
}

func missingRule(key domain.Category) domain.Warning {
	return domain.NewWarning(domain.WarningRuleMissing, "no rule configured for %s", key)
}
