package domain

import (
	"errors"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

func TestValidateRule_RejectsBaseAboveMax(t *testing.T) {
	rule := DistributionRule{
		Key:            CategoryTresor,
		BasePercentage: decimal.NewFromInt(60),
		MaxPercentage:  decimal.NewFromInt(50),
	}

	err := (&RuleSet{}).Validate(rule)

	if !errors.Is(err, ErrInvalidPercentageRange) {
		t.Fatalf("expected ErrInvalidPercentageRange, got %v", err)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "base_percentage" {
		t.Errorf("expected field base_percentage, got %+v", verr)
	}
}

func TestValidateRule(t *testing.T) {
	neg := int64(-1)
	lo, hi := int64(500), int64(100)
	count := -2

	tests := []struct {
		name string
		rule DistributionRule
		want error
	}{
		{"valid", NewRule(CategoryMutuelle, 10), nil},
		{"base above 100", NewRule(CategoryMutuelle, 101), ErrInvalidPercentageRange},
		{"six decimal places", NewRule(CategoryMutuelle, 12.345678), nil},
		{"seven decimal places", NewRule(CategoryMutuelle, 12.3456789), ErrInvalidPercentageRange},
		{"negative base", NewRule(CategoryMutuelle, -1), ErrInvalidPercentageRange},
		{"blank key", NewRule("", 10), ErrInvalidRuleKey},
		{"individual role as key", NewRule(CategoryChief, 10), ErrInvalidRuleKey},
		{"negative minimum", DistributionRule{Key: CategoryTresor, Conditions: Conditions{MinimumAmount: &neg}}, ErrNegativeMonetaryValue},
		{"minimum above maximum", DistributionRule{Key: CategoryTresor, Conditions: Conditions{MinimumAmount: &lo, MaximumAmount: &hi}}, ErrInvalidCondition},
		{"negative person count", DistributionRule{Key: CategoryPoursuivants, Conditions: Conditions{PersonCount: &count}}, ErrInvalidCondition},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRule(tt.rule)
			if tt.want == nil && err != nil {
				t.Fatalf("expected valid rule, got %v", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
		})
	}
}

func TestValidateRule_RejectsMaxBeyondStoredPrecision(t *testing.T) {
	rule := DistributionRule{
		Key:            CategoryFondsFormation,
		BasePercentage: decimal.RequireFromString("5"),
		MaxPercentage:  decimal.RequireFromString("5.0000001"),
	}

	err := ValidateRule(rule)

	if !errors.Is(err, ErrInvalidPercentageRange) {
		t.Fatalf("expected ErrInvalidPercentageRange, got %v", err)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) || verr.Field != "max_percentage" {
		t.Errorf("expected field max_percentage, got %+v", verr)
	}

	rule.MaxPercentage = decimal.RequireFromString("5.000000")
	if err := ValidateRule(rule); err != nil {
		t.Errorf("trailing zeros must be accepted, got %v", err)
	}
}

func TestRuleSet_UpsertFailsClosed(t *testing.T) {
	rs := DefaultRuleSet()
	before, _ := rs.Get(CategoryTresor)

	bad := NewRule(CategoryTresor, 40)
	bad.MaxPercentage = decimal.NewFromInt(30)
	err := rs.Upsert(bad)

	if !errors.Is(err, ErrInvalidPercentageRange) {
		t.Fatalf("expected ErrInvalidPercentageRange, got %v", err)
	}
	after, _ := rs.Get(CategoryTresor)
	if !after.BasePercentage.Equal(before.BasePercentage) || !after.MaxPercentage.Equal(before.MaxPercentage) {
		t.Errorf("rule changed after failed upsert: %+v", after)
	}
}

func TestRuleSet_UpsertNormalizesKey(t *testing.T) {
	rs := &RuleSet{}

	if err := rs.Upsert(NewRule(" Fonds_Recherche ", 3)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rule, ok := rs.Get("fonds_recherche")
	if !ok {
		t.Fatal("expected normalized custom key")
	}
	if !rule.Key.IsCustom() {
		t.Errorf("expected custom category, got %s", rule.Key)
	}
}

func TestRuleSet_KeysOrder(t *testing.T) {
	rs := DefaultRuleSet()
	_ = rs.Upsert(NewRule("zeta", 0))
	_ = rs.Upsert(NewRule("alpha", 0))

	keys := rs.Keys()

	if len(keys) != 10 {
		t.Fatalf("expected 10 keys, got %d", len(keys))
	}
	for i, c := range StandardCategories {
		if keys[i] != c {
			t.Errorf("position %d: expected %s, got %s", i, c, keys[i])
		}
	}
	if keys[8] != "alpha" || keys[9] != "zeta" {
		t.Errorf("expected custom keys sorted after standard ones, got %v", keys[8:])
	}
}

func TestRuleSet_Remove(t *testing.T) {
	rs := DefaultRuleSet()

	if !rs.Remove(CategoryMutuelle) {
		t.Error("expected removal of existing rule")
	}
	if rs.Remove(CategoryMutuelle) {
		t.Error("expected second removal to report absence")
	}
	if _, ok := rs.Get(CategoryMutuelle); ok {
		t.Error("rule still present")
	}
}

func TestRuleSet_CloneIsIndependent(t *testing.T) {
	minAmount := int64(10)
	rule := NewRule(CategoryTresor, 40)
	rule.Conditions.MinimumAmount = &minAmount
	rs, _ := NewRuleSet(rule)

	clone := rs.Clone()
	_ = clone.Upsert(NewRule(CategoryTresor, 10))
	minAmount = 99

	got, _ := rs.Get(CategoryTresor)
	if !got.BasePercentage.Equal(decimal.NewFromInt(40)) {
		t.Errorf("original changed through clone: %s", got.BasePercentage)
	}
	if *got.Conditions.MinimumAmount != 10 {
		t.Errorf("stored condition aliases caller memory: %d", *got.Conditions.MinimumAmount)
	}
}

func TestDefaultRuleSet(t *testing.T) {
	rs := DefaultRuleSet()

	if rs.Len() != len(StandardCategories) {
		t.Fatalf("expected %d rules, got %d", len(StandardCategories), rs.Len())
	}
	total := decimal.Zero
	for _, rule := range rs.Rules() {
		if rule.Key != CategoryFsp {
			total = total.Add(rule.BasePercentage)
		}
	}
	if !total.Equal(decimal.NewFromInt(100)) {
		t.Errorf("expected net categories to total 100, got %s", total)
	}
}

func TestRuleSet_JSONRejectsInvalidDocument(t *testing.T) {
	rs := DefaultRuleSet()
	doc := []byte(`{"version":3,"rules":[{"key":"tresor","base_percentage":"60","max_percentage":"50"}]}`)

	err := json.Unmarshal(doc, rs)

	if !errors.Is(err, ErrInvalidPercentageRange) {
		t.Fatalf("expected ErrInvalidPercentageRange, got %v", err)
	}
	if rs.Len() != len(StandardCategories) || rs.Version != 1 {
		t.Errorf("rule set modified by rejected document")
	}
}

func TestRuleSet_JSONRoundTripKeepsVersion(t *testing.T) {
	rs := DefaultRuleSet()
	rs.Version = 7

	data, err := json.Marshal(rs)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out RuleSet
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if out.Version != 7 || out.Len() != rs.Len() {
		t.Errorf("expected version 7 with %d rules, got %d/%d", rs.Len(), out.Version, out.Len())
	}
}
