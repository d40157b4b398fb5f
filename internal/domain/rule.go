package domain

import (
	"fmt"
	"sort"
	"time"

	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
)

// Percentages are stored as NUMERIC(9,6).
const percentScale = 6

var (
	percentFloor   = decimal.Zero
	percentCeiling = decimal.NewFromInt(100)
)

// Conditions restrict when a rule applies. Nil fields are not checked.
type Conditions struct {
	MinimumAmount *int64 `json:"minimum_amount,omitempty"`
	MaximumAmount *int64 `json:"maximum_amount,omitempty"`
	PersonCount   *int   `json:"person_count,omitempty"`
}

func (c Conditions) IsZero() bool {
	return c.MinimumAmount == nil && c.MaximumAmount == nil && c.PersonCount == nil
}

func (c Conditions) clone() Conditions {
	out := Conditions{}
	if c.MinimumAmount != nil {
		v := *c.MinimumAmount
		out.MinimumAmount = &v
	}
	if c.MaximumAmount != nil {
		v := *c.MaximumAmount
		out.MaximumAmount = &v
	}
	if c.PersonCount != nil {
		v := *c.PersonCount
		out.PersonCount = &v
	}
	return out
}

type DistributionRule struct {
	Key            Category        `json:"key"`
	Label          string          `json:"label,omitempty"`
	BasePercentage decimal.Decimal `json:"base_percentage"`
	MaxPercentage  decimal.Decimal `json:"max_percentage"`
	Conditions     Conditions      `json:"conditions"`
	Version        int             `json:"version"`
	UpdatedAt      time.Time       `json:"updated_at,omitempty"`
	UpdatedBy      string          `json:"updated_by,omitempty"`
}

// NewRule builds a rule whose max equals its base percentage.
func NewRule(key Category, percentage float64) DistributionRule {
	p := decimal.NewFromFloat(percentage)
	return DistributionRule{Key: key, BasePercentage: p, MaxPercentage: p}
}

func (r DistributionRule) Clone() DistributionRule {
	out := r
	out.Conditions = r.Conditions.clone()
	return out
}

// ValidateRule enforces 0 <= base <= max <= 100 and sane conditions.
func ValidateRule(rule DistributionRule) error {
	if _, err := ParseCategory(string(rule.Key)); err != nil {
		return err
	}
	if rule.BasePercentage.LessThan(percentFloor) || rule.BasePercentage.GreaterThan(percentCeiling) {
		return &ValidationError{
			Field:  "base_percentage",
			Err:    ErrInvalidPercentageRange,
			Detail: fmt.Sprintf("%s: %s not in [0,100]", rule.Key, rule.BasePercentage),
		}
	}
	if rule.MaxPercentage.LessThan(percentFloor) || rule.MaxPercentage.GreaterThan(percentCeiling) {
		return &ValidationError{
			Field:  "max_percentage",
			Err:    ErrInvalidPercentageRange,
			Detail: fmt.Sprintf("%s: %s not in [0,100]", rule.Key, rule.MaxPercentage),
		}
	}
	precise := []struct {
		field string
		value decimal.Decimal
	}{
		{"base_percentage", rule.BasePercentage},
		{"max_percentage", rule.MaxPercentage},
	}
	for _, p := range precise {
		if !p.value.Equal(p.value.Round(percentScale)) {
			return &ValidationError{
				Field:  p.field,
				Err:    ErrInvalidPercentageRange,
				Detail: fmt.Sprintf("%s: %s has more than %d decimal places", rule.Key, p.value, percentScale),
			}
		}
	}
	if rule.BasePercentage.GreaterThan(rule.MaxPercentage) {
		return &ValidationError{
			Field:  "base_percentage",
			Err:    ErrInvalidPercentageRange,
			Detail: fmt.Sprintf("%s: base %s exceeds max %s", rule.Key, rule.BasePercentage, rule.MaxPercentage),
		}
	}

	c := rule.Conditions
	if c.MinimumAmount != nil && *c.MinimumAmount < 0 {
		return &ValidationError{Field: "conditions.minimum_amount", Err: ErrNegativeMonetaryValue}
	}
	if c.MaximumAmount != nil && *c.MaximumAmount < 0 {
		return &ValidationError{Field: "conditions.maximum_amount", Err: ErrNegativeMonetaryValue}
	}
	if c.MinimumAmount != nil && c.MaximumAmount != nil && *c.MinimumAmount > *c.MaximumAmount {
		return &ValidationError{
			Field:  "conditions",
			Err:    ErrInvalidCondition,
			Detail: fmt.Sprintf("minimum %d exceeds maximum %d", *c.MinimumAmount, *c.MaximumAmount),
		}
	}
	if c.PersonCount != nil && *c.PersonCount < 0 {
		return &ValidationError{Field: "conditions.person_count", Err: ErrInvalidCondition}
	}
	return nil
}

// RuleSet is a keyed collection of individually valid rules. The zero value
// is an empty set ready for use.
type RuleSet struct {
	Version int `json:"version"`
	rules   map[Category]DistributionRule
}

func NewRuleSet(rules ...DistributionRule) (*RuleSet, error) {
	rs := &RuleSet{}
	for _, rule := range rules {
		if err := rs.Upsert(rule); err != nil {
			return nil, err
		}
	}
	return rs, nil
}

// Validate checks a single rule; it does not consult the set.
func (rs *RuleSet) Validate(rule DistributionRule) error {
	return ValidateRule(rule)
}

// Upsert validates then replaces the whole rule. An invalid rule leaves the
// set untouched.
func (rs *RuleSet) Upsert(rule DistributionRule) error {
	key, err := ParseCategory(string(rule.Key))
	if err != nil {
		return err
	}
	rule.Key = key
	if err := ValidateRule(rule); err != nil {
		return err
	}
	if rs.rules == nil {
		rs.rules = make(map[Category]DistributionRule)
	}
	rs.rules[key] = rule.Clone()
	return nil
}

// Remove deletes a rule and reports whether it existed.
func (rs *RuleSet) Remove(key Category) bool {
	if _, ok := rs.rules[key]; !ok {
		return false
	}
	delete(rs.rules, key)
	return true
}

func (rs *RuleSet) Get(key Category) (DistributionRule, bool) {
	if rs == nil {
		return DistributionRule{}, false
	}
	rule, ok := rs.rules[key]
	if !ok {
		return DistributionRule{}, false
	}
	return rule.Clone(), true
}

func (rs *RuleSet) Len() int {
	if rs == nil {
		return 0
	}
	return len(rs.rules)
}

// Keys returns standard categories in canonical order followed by custom keys
// sorted alphabetically.
func (rs *RuleSet) Keys() []Category {
	if rs == nil {
		return nil
	}
	keys := make([]Category, 0, len(rs.rules))
	for k := range rs.rules {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		ci, cj := keys[i].canonicalIndex(), keys[j].canonicalIndex()
		if ci != cj {
			return ci < cj
		}
		return keys[i] < keys[j]
	})
	return keys
}

// Rules returns copies of every rule in Keys order.
func (rs *RuleSet) Rules() []DistributionRule {
	keys := rs.Keys()
	out := make([]DistributionRule, 0, len(keys))
	for _, k := range keys {
		out = append(out, rs.rules[k].Clone())
	}
	return out
}

func (rs *RuleSet) Clone() *RuleSet {
	if rs == nil {
		return &RuleSet{}
	}
	out := &RuleSet{Version: rs.Version, rules: make(map[Category]DistributionRule, len(rs.rules))}
	for k, v := range rs.rules {
		out.rules[k] = v.Clone()
	}
	return out
}

// ValidateAll checks every contained rule.
func (rs *RuleSet) ValidateAll() error {
	for _, rule := range rs.Rules() {
		if err := ValidateRule(rule); err != nil {
			return err
		}
	}
	return nil
}

// DefaultRuleSet is the bootstrap configuration used when nothing has been
// configured yet. The seven categories allocated on the net total 100%.
func DefaultRuleSet() *RuleSet {
	rs, _ := NewRuleSet(
		withLabel(NewRule(CategoryFsp, 5), "Fonds de solidarité et de prévoyance"),
		withLabel(NewRule(CategoryTresor, 40), "Trésor public"),
		withLabel(NewRule(CategoryMutuelle, 10), "Mutuelle des douanes"),
		withLabel(NewRule(CategoryPoursuivants, 25), "Poursuivants"),
		withLabel(NewRule(CategoryFondsSolidarite, 5), "Fonds de solidarité"),
		withLabel(NewRule(CategoryFondsFormation, 5), "Fonds de formation"),
		withLabel(NewRule(CategoryFondsEquipement, 5), "Fonds d'équipement"),
		withLabel(NewRule(CategoryPrimeRendement, 10), "Prime de rendement"),
	)
	rs.Version = 1
	return rs
}

func withLabel(rule DistributionRule, label string) DistributionRule {
	rule.Label = label
	return rule
}

type ruleSetJSON struct {
	Version int                `json:"version"`
	Rules   []DistributionRule `json:"rules"`
}

func (rs *RuleSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(ruleSetJSON{Version: rs.Version, Rules: rs.Rules()})
}

// UnmarshalJSON validates every rule; an invalid document leaves rs unchanged.
func (rs *RuleSet) UnmarshalJSON(data []byte) error {
	var doc ruleSetJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	parsed, err := NewRuleSet(doc.Rules...)
	if err != nil {
		return err
	}
	parsed.Version = doc.Version
	*rs = *parsed
	return nil
}
