package processor

import (
	"cmp"
	"repartition/internal/domain"
	"slices"

	"github.com/shopspring/decimal"
)

type ConsistencyReport struct {
	Consistent bool             `json:"consistent"`
	Warnings   []domain.Warning `json:"warnings"`
}

// ConsistencyChecker verifies a finished result. Findings are warnings only;
// whether to commit anyway is the caller's decision.
type ConsistencyChecker struct{}

func NewConsistencyChecker() *ConsistencyChecker {
	return &ConsistencyChecker{}
}

// Check inspects result without modifying it. Consistent is false if the
// checker finds anything or the result already carries warnings.
func (c *ConsistencyChecker) Check(result *domain.DistributionResult) ConsistencyReport {
	var warnings []domain.Warning
	warnings = append(warnings, c.checkReconciliation(result)...)
	warnings = append(warnings, c.checkPercentages(result)...)
	warnings = append(warnings, c.checkAmounts(result)...)
	warnings = append(warnings, c.checkIndividuals(result)...)

	return ConsistencyReport{
		Consistent: len(warnings) == 0 && len(result.Warnings) == 0,
		Warnings:   warnings,
	}
}

// Annotate runs Check and merges its findings into result. Running it twice
// does not duplicate warnings.
func (c *ConsistencyChecker) Annotate(result *domain.DistributionResult) ConsistencyReport {
	report := c.Check(result)
	for _, w := range report.Warnings {
		if !containsWarning(result.Warnings, w) {
			result.Warnings = append(result.Warnings, w)
		}
	}
	result.Consistent = len(result.Warnings) == 0
	report.Consistent = result.Consistent
	return report
}

func (c *ConsistencyChecker) checkReconciliation(r *domain.DistributionResult) []domain.Warning {
	expected := r.NetAmount
	if expected < 0 {
		expected = 0
	}
	var sum int64
	for _, b := range r.Beneficiaries {
		sum += b.Amount
	}
	sum += r.Undistributed

	tolerance := int64(len(r.Beneficiaries))
	if tolerance < 1 {
		tolerance = 1
	}
	if diff := sum - expected; diff > tolerance || -diff > tolerance {
		return []domain.Warning{domain.NewWarning(domain.WarningReconciliationMismatch,
			"beneficiaries %d plus undistributed %d differ from net %d by %d",
			sum-r.Undistributed, r.Undistributed, expected, diff)}
	}
	return nil
}

func (c *ConsistencyChecker) checkPercentages(r *domain.DistributionResult) []domain.Warning {
	total := decimal.Zero
	for _, a := range r.Allocations {
		if a.Applies && a.Key != domain.CategoryFsp {
			total = total.Add(a.AppliedPercentage)
		}
	}
	if total.IsNegative() || total.GreaterThan(hundred) {
		return []domain.Warning{domain.NewWarning(domain.WarningPercentageSumMismatch,
			"applied percentages sum to %s%%, outside [0,100]", total.String())}
	}
	return nil
}

func (c *ConsistencyChecker) checkAmounts(r *domain.DistributionResult) []domain.Warning {
	var warnings []domain.Warning
	for _, b := range r.Beneficiaries {
		if b.Amount < 0 {
			warnings = append(warnings, domain.NewWarning(domain.WarningNegativeAmount,
				"%s %q has negative amount %d", b.Category, b.Name, b.Amount))
		}
	}
	if r.Undistributed < 0 {
		warnings = append(warnings, domain.NewWarning(domain.WarningNegativeAmount,
			"undistributed amount %d is negative", r.Undistributed))
	}

	var individuals int64
	for _, b := range r.Beneficiaries {
		if b.Category.IsIndividual() {
			individuals += b.Amount
		}
	}
	if individuals > r.Poursuivants {
		warnings = append(warnings, domain.NewWarning(domain.WarningInvalidAmount,
			"individual shares %d exceed the poursuivants pool %d", individuals, r.Poursuivants))
	}
	return warnings
}

// checkIndividuals requires every named input individual to appear exactly
// once under its role. Duplicate names in the input are counted separately.
func (c *ConsistencyChecker) checkIndividuals(r *domain.DistributionResult) []domain.Warning {
	type person struct {
		role domain.Category
		name string
	}
	want := make(map[person]int)
	for _, n := range r.Input.SeizingAgents {
		want[person{domain.CategorySeizingAgent, n}]++
	}
	for _, n := range r.Input.Chiefs {
		want[person{domain.CategoryChief, n}]++
	}
	for _, n := range r.Input.Informants {
		want[person{domain.CategoryInformant, n}]++
	}

	got := make(map[person]int)
	for _, b := range r.Beneficiaries {
		if b.Category.IsIndividual() {
			got[person{b.Category, b.Name}]++
		}
	}

	var warnings []domain.Warning
	for p, n := range want {
		if got[p] != n {
			warnings = append(warnings, domain.NewWarning(domain.WarningBeneficiaryMismatch,
				"%s %q listed %d time(s) in input, %d in output", p.role, p.name, n, got[p]))
		}
	}
	for p, n := range got {
		if _, ok := want[p]; !ok {
			warnings = append(warnings, domain.NewWarning(domain.WarningBeneficiaryMismatch,
				"%s %q appears %d time(s) but is not in the input", p.role, p.name, n))
		}
	}
	sortWarnings(warnings)
	return warnings
}

func containsWarning(ws []domain.Warning, w domain.Warning) bool {
	for _, x := range ws {
		if x == w {
			return true
		}
	}
	return false
}

// map iteration order is random; results must be reproducible
func sortWarnings(ws []domain.Warning) {
	slices.SortFunc(ws, func(a, b domain.Warning) int {
		return cmp.Compare(a.Message, b.Message)
	})
}
