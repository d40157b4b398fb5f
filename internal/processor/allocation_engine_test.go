package processor

import (
	"errors"
	"testing"

	json "github.com/goccy/go-json"

	"repartition/internal/domain"
)

func scenarioRules(t *testing.T) *domain.RuleSet {
	t.Helper()
	rs, err := domain.NewRuleSet(
		domain.NewRule(domain.CategoryFsp, 5),
		domain.NewRule(domain.CategoryTresor, 40),
		domain.NewRule(domain.CategoryMutuelle, 10),
		domain.NewRule(domain.CategoryPoursuivants, 25),
		domain.NewRule(domain.CategoryFondsSolidarite, 0),
		domain.NewRule(domain.CategoryFondsFormation, 0),
		domain.NewRule(domain.CategoryFondsEquipement, 0),
		domain.NewRule(domain.CategoryPrimeRendement, 0),
	)
	if err != nil {
		t.Fatalf("failed to build rules: %v", err)
	}
	return rs
}

func scenarioInput() domain.DistributionInput {
	return domain.DistributionInput{
		CaseNumber:    "CTX-2024-001",
		FineAmount:    1_000_000,
		SaleAmount:    0,
		MiscFees:      20_000,
		SeizingAgents: []string{"Agent A", "Agent B"},
		Chiefs:        []string{"Chef C"},
	}
}

func beneficiarySum(res *domain.DistributionResult) int64 {
	var sum int64
	for _, b := range res.Beneficiaries {
		sum += b.Amount
	}
	return sum
}

func TestAllocationEngine_Scenario(t *testing.T) {
	engine := NewAllocationEngine(EqualSplit{})

	res, err := engine.ComputeDistribution(scenarioInput(), scenarioRules(t))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	checks := []struct {
		name string
		got  int64
		want int64
	}{
		{"gross", res.GrossAmount, 1_000_000},
		{"fsp", res.Fsp, 50_000},
		{"net", res.NetAmount, 930_000},
		{"tresor", res.Tresor, 372_000},
		{"mutuelle", res.Mutuelle, 93_000},
		{"poursuivants", res.Poursuivants, 232_500},
		{"fonds_solidarite", res.FondsSolidarite, 0},
		{"prime_rendement", res.PrimeRendement, 0},
		{"undistributed", res.Undistributed, 232_500},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s: expected %d, got %d", c.name, c.want, c.got)
		}
	}

	for _, role := range []domain.Category{domain.CategorySeizingAgent, domain.CategoryChief} {
		for _, b := range res.BeneficiariesOf(role) {
			if b.Amount != 77_500 {
				t.Errorf("expected 77500 for %s, got %d", b.Name, b.Amount)
			}
		}
	}
	if n := len(res.BeneficiariesOf(domain.CategorySeizingAgent)); n != 2 {
		t.Errorf("expected 2 seizing agents, got %d", n)
	}

	for _, c := range []domain.Category{
		domain.CategoryFondsSolidarite, domain.CategoryFondsFormation,
		domain.CategoryFondsEquipement, domain.CategoryPrimeRendement, domain.CategoryFsp,
	} {
		if len(res.BeneficiariesOf(c)) != 0 {
			t.Errorf("expected no beneficiary for %s", c)
		}
	}
	if len(res.Beneficiaries) != 5 {
		t.Errorf("expected 5 beneficiaries, got %d", len(res.Beneficiaries))
	}
	if !res.Consistent {
		t.Errorf("expected consistent result, warnings=%v", res.Warnings)
	}
	if res.RuleVersion != 0 || len(res.RuleSnapshot) != 8 {
		t.Errorf("expected rule snapshot of 8 rules, got %d", len(res.RuleSnapshot))
	}
}

func TestAllocationEngine_DefaultRulesReconcileExactly(t *testing.T) {
	engine := NewAllocationEngine(EqualSplit{})
	in := scenarioInput()
	in.MiscFees = 0
	in.Informants = []string{"Informateur D"}

	res, err := engine.ComputeDistribution(in, domain.DefaultRuleSet())

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.NetAmount != 950_000 {
		t.Fatalf("expected net 950000, got %d", res.NetAmount)
	}
	if sum := beneficiarySum(res); sum != res.NetAmount {
		t.Errorf("expected beneficiaries to sum to net %d, got %d", res.NetAmount, sum)
	}
	if res.Undistributed != 0 {
		t.Errorf("expected nothing undistributed, got %d", res.Undistributed)
	}
	if !res.Consistent {
		t.Errorf("expected consistent result, warnings=%v", res.Warnings)
	}
}

func TestAllocationEngine_SumInvariant(t *testing.T) {
	engine := NewAllocationEngine(EqualSplit{})
	amounts := []int64{1, 7, 999, 10_001, 123_457, 9_999_999}

	for _, fine := range amounts {
		in := scenarioInput()
		in.FineAmount = fine
		in.MiscFees = 0
		in.Informants = []string{"I1", "I2", "I3"}

		res, err := engine.ComputeDistribution(in, domain.DefaultRuleSet())
		if err != nil {
			t.Fatalf("fine=%d: unexpected error: %v", fine, err)
		}

		diff := beneficiarySum(res) + res.Undistributed - res.NetAmount
		if diff < 0 {
			diff = -diff
		}
		if diff > int64(len(res.Beneficiaries)) {
			t.Errorf("fine=%d: sum off by %d", fine, diff)
		}
	}
}

func TestAllocationEngine_Idempotent(t *testing.T) {
	engine := NewAllocationEngine(EqualSplit{})
	in := scenarioInput()
	in.Informants = []string{"Informateur D", "Informateur E"}

	first, err := engine.ComputeDistribution(in, domain.DefaultRuleSet())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := engine.ComputeDistribution(in, domain.DefaultRuleSet())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a, _ := json.Marshal(first)
	b, _ := json.Marshal(second)
	if string(a) != string(b) {
		t.Errorf("expected identical results\n%s\n%s", a, b)
	}
}

func TestAllocationEngine_Monotonic(t *testing.T) {
	engine := NewAllocationEngine(EqualSplit{})
	funds := append([]domain.Category{domain.CategoryFsp, domain.CategoryPoursuivants}, domain.FundCategories...)

	var prev *domain.DistributionResult
	for fine := int64(0); fine <= 200_000; fine += 7_919 {
		in := scenarioInput()
		in.FineAmount = fine
		res, err := engine.ComputeDistribution(in, domain.DefaultRuleSet())
		if err != nil {
			t.Fatalf("fine=%d: unexpected error: %v", fine, err)
		}
		if prev != nil {
			for _, c := range funds {
				if res.FundAmount(c) < prev.FundAmount(c) {
					t.Errorf("fine=%d: %s decreased from %d to %d", fine, c, prev.FundAmount(c), res.FundAmount(c))
				}
			}
		}
		prev = res
	}
}

func TestAllocationEngine_MissingRule(t *testing.T) {
	rules := scenarioRules(t)
	rules.Remove(domain.CategoryMutuelle)
	engine := NewAllocationEngine(EqualSplit{})

	res, err := engine.ComputeDistribution(scenarioInput(), rules)

	if err != nil {
		t.Fatalf("missing rule must not fail the computation: %v", err)
	}
	if res.Mutuelle != 0 {
		t.Errorf("expected mutuelle 0, got %d", res.Mutuelle)
	}
	if !res.HasWarning(domain.WarningRuleMissing) {
		t.Errorf("expected RULE_MISSING warning, got %v", res.Warnings)
	}
	if res.Consistent {
		t.Error("expected result flagged inconsistent")
	}
	if res.Tresor != 372_000 {
		t.Errorf("other funds must still compute, tresor=%d", res.Tresor)
	}
}

func TestAllocationEngine_ZeroInformants(t *testing.T) {
	engine := NewAllocationEngine(EqualSplit{})

	res, err := engine.ComputeDistribution(scenarioInput(), scenarioRules(t))

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := res.BeneficiariesOf(domain.CategoryInformant); len(got) != 0 {
		t.Errorf("expected no informant beneficiaries, got %v", got)
	}
}

func TestAllocationEngine_NegativeNet(t *testing.T) {
	engine := NewAllocationEngine(EqualSplit{})
	in := scenarioInput()
	in.FineAmount = 100
	in.MiscFees = 1_000

	res, err := engine.ComputeDistribution(in, scenarioRules(t))

	if err != nil {
		t.Fatalf("negative net must not fail: %v", err)
	}
	if res.NetAmount != -905 {
		t.Errorf("expected net -905, got %d", res.NetAmount)
	}
	if !res.HasWarning(domain.WarningNegativeNetAmount) {
		t.Errorf("expected NEGATIVE_NET_AMOUNT, got %v", res.Warnings)
	}
	if res.HasWarning(domain.WarningReconciliationMismatch) {
		t.Errorf("zero base must reconcile, got %v", res.Warnings)
	}
	if len(res.BeneficiariesOf(domain.CategorySeizingAgent)) != 2 {
		t.Errorf("individuals must still be listed")
	}
	for _, b := range res.Beneficiaries {
		if b.Amount != 0 {
			t.Errorf("expected zero amount for %s, got %d", b.Name, b.Amount)
		}
	}
}

func TestAllocationEngine_OverAllocationIsFlagged(t *testing.T) {
	rules := scenarioRules(t)
	_ = rules.Upsert(domain.NewRule(domain.CategoryTresor, 80))
	engine := NewAllocationEngine(EqualSplit{})

	res, err := engine.ComputeDistribution(scenarioInput(), rules)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.HasWarning(domain.WarningPercentageSumMismatch) {
		t.Errorf("expected PERCENTAGE_SUM_MISMATCH, got %v", res.Warnings)
	}
	if res.Tresor != 744_000 {
		t.Errorf("percentages must not be renormalized, tresor=%d", res.Tresor)
	}
}

func TestAllocationEngine_CustomFund(t *testing.T) {
	rules := scenarioRules(t)
	custom := domain.NewRule("fonds_recherche", 5)
	custom.Label = "Fonds de recherche"
	if err := rules.Upsert(custom); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	engine := NewAllocationEngine(EqualSplit{})

	res, err := engine.ComputeDistribution(scenarioInput(), rules)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.CustomFunds["fonds_recherche"] != 46_500 {
		t.Errorf("expected 46500, got %d", res.CustomFunds["fonds_recherche"])
	}
	got := res.BeneficiariesOf("fonds_recherche")
	if len(got) != 1 || got[0].Name != "Fonds de recherche" {
		t.Errorf("expected labelled custom fund beneficiary, got %v", got)
	}
}

func TestAllocationEngine_ConditionExcludesRule(t *testing.T) {
	rules := scenarioRules(t)
	minAmount := int64(5_000_000)
	tresor := domain.NewRule(domain.CategoryTresor, 40)
	tresor.Conditions.MinimumAmount = &minAmount
	_ = rules.Upsert(tresor)
	engine := NewAllocationEngine(EqualSplit{})

	res, err := engine.ComputeDistribution(scenarioInput(), rules)

	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Tresor != 0 {
		t.Errorf("expected tresor excluded, got %d", res.Tresor)
	}
	for _, a := range res.Allocations {
		if a.Key == domain.CategoryTresor && (a.Applies || a.Reason == "") {
			t.Errorf("expected non-applying allocation with reason, got %+v", a)
		}
	}
	if !res.Consistent {
		t.Errorf("excluded rule must not break consistency, warnings=%v", res.Warnings)
	}
}

func TestAllocationEngine_RejectsInvalidInput(t *testing.T) {
	engine := NewAllocationEngine(EqualSplit{})
	in := scenarioInput()
	in.Chiefs = nil

	_, err := engine.ComputeDistribution(in, scenarioRules(t))

	if !errors.Is(err, domain.ErrEmptyBeneficiaryList) {
		t.Fatalf("expected ErrEmptyBeneficiaryList, got %v", err)
	}
}

func TestAllocationEngine_StableBeneficiaryIDs(t *testing.T) {
	engine := NewAllocationEngine(EqualSplit{})
	in := scenarioInput()

	first, _ := engine.ComputeDistribution(in, scenarioRules(t))
	in.CaseNumber = "CTX-2024-002"
	other, _ := engine.ComputeDistribution(in, scenarioRules(t))

	seen := make(map[string]bool)
	for _, b := range first.Beneficiaries {
		if seen[b.ID] {
			t.Errorf("duplicate beneficiary id %s", b.ID)
		}
		seen[b.ID] = true
	}
	if first.Beneficiaries[0].ID == other.Beneficiaries[0].ID {
		t.Error("expected ids to depend on the case number")
	}
}

func TestAllocationEngine_PercentageOfNet(t *testing.T) {
	engine := NewAllocationEngine(EqualSplit{})

	res, _ := engine.ComputeDistribution(scenarioInput(), scenarioRules(t))

	tresor := res.BeneficiariesOf(domain.CategoryTresor)
	if len(tresor) != 1 || tresor[0].PercentageOfNet.String() != "40" {
		t.Errorf("expected tresor at 40%% of net, got %v", tresor)
	}
}
