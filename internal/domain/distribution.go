package domain

import (
	"maps"
	"slices"
	"time"

	"github.com/shopspring/decimal"
)

// DistributionInput carries the monetary facts of a closed case. Amounts are
// integer minor currency units. Beneficiary counts are always derived from
// the lists.
type DistributionInput struct {
	CaseNumber    string   `json:"case_number,omitempty"`
	CaseAmount    int64    `json:"case_amount"`
	FineAmount    int64    `json:"fine_amount"`
	SaleAmount    int64    `json:"sale_amount"`
	MiscFees      int64    `json:"misc_fees"`
	SeizingAgents []string `json:"seizing_agents"`
	Chiefs        []string `json:"chiefs"`
	Informants    []string `json:"informants"`
}

func (in DistributionInput) PersonCount() int {
	return len(in.SeizingAgents) + len(in.Chiefs) + len(in.Informants)
}

func (in DistributionInput) Clone() DistributionInput {
	out := in
	out.SeizingAgents = slices.Clone(in.SeizingAgents)
	out.Chiefs = slices.Clone(in.Chiefs)
	out.Informants = slices.Clone(in.Informants)
	return out
}

// Beneficiary is one line of a distribution: a fund or a named individual.
type Beneficiary struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Category        Category        `json:"category"`
	Amount          int64           `json:"amount"`
	PercentageOfNet decimal.Decimal `json:"percentage_of_net"`
}

// Allocation records how one rule was evaluated during a computation.
type Allocation struct {
	Key               Category        `json:"key"`
	BasePercentage    decimal.Decimal `json:"base_percentage"`
	AppliedPercentage decimal.Decimal `json:"applied_percentage"`
	Applies           bool            `json:"applies"`
	Amount            int64           `json:"amount"`
	Reason            string          `json:"reason,omitempty"`
}

type DistributionResult struct {
	CaseAmount  int64 `json:"case_amount"`
	FineAmount  int64 `json:"fine_amount"`
	SaleAmount  int64 `json:"sale_amount"`
	MiscFees    int64 `json:"misc_fees"`
	GrossAmount int64 `json:"gross_amount"`
	NetAmount   int64 `json:"net_amount"`

	Fsp             int64            `json:"fsp"`
	Tresor          int64            `json:"tresor"`
	Mutuelle        int64            `json:"mutuelle"`
	FondsSolidarite int64            `json:"fonds_solidarite"`
	FondsFormation  int64            `json:"fonds_formation"`
	FondsEquipement int64            `json:"fonds_equipement"`
	PrimeRendement  int64            `json:"prime_rendement"`
	Poursuivants    int64            `json:"poursuivants"`
	CustomFunds     map[string]int64 `json:"custom_funds,omitempty"`
	Undistributed   int64            `json:"undistributed"`

	Beneficiaries []Beneficiary      `json:"beneficiaries"`
	Allocations   []Allocation       `json:"allocations"`
	SplitPolicy   string             `json:"split_policy"`
	Input         DistributionInput  `json:"input"`
	RuleSnapshot  []DistributionRule `json:"rule_snapshot,omitempty"`
	RuleVersion   int                `json:"rule_version"`

	Consistent bool      `json:"consistent"`
	Warnings   []Warning `json:"warnings"`
}

// FundAmount returns the allocated amount for a fund category.
func (r *DistributionResult) FundAmount(c Category) int64 {
	switch c {
	case CategoryFsp:
		return r.Fsp
	case CategoryTresor:
		return r.Tresor
	case CategoryMutuelle:
		return r.Mutuelle
	case CategoryFondsSolidarite:
		return r.FondsSolidarite
	case CategoryFondsFormation:
		return r.FondsFormation
	case CategoryFondsEquipement:
		return r.FondsEquipement
	case CategoryPrimeRendement:
		return r.PrimeRendement
	case CategoryPoursuivants:
		return r.Poursuivants
	default:
		return r.CustomFunds[string(c)]
	}
}

// BeneficiariesOf returns the beneficiaries of a single category in order.
func (r *DistributionResult) BeneficiariesOf(c Category) []Beneficiary {
	var out []Beneficiary
	for _, b := range r.Beneficiaries {
		if b.Category == c {
			out = append(out, b)
		}
	}
	return out
}

func (r *DistributionResult) WarningCodes() []WarningCode {
	codes := make([]WarningCode, 0, len(r.Warnings))
	for _, w := range r.Warnings {
		codes = append(codes, w.Code)
	}
	return codes
}

func (r *DistributionResult) HasWarning(code WarningCode) bool {
	for _, w := range r.Warnings {
		if w.Code == code {
			return true
		}
	}
	return false
}

// Clone returns a deep copy sharing no mutable state with r.
func (r *DistributionResult) Clone() *DistributionResult {
	if r == nil {
		return nil
	}
	out := *r
	out.CustomFunds = maps.Clone(r.CustomFunds)
	out.Beneficiaries = slices.Clone(r.Beneficiaries)
	out.Allocations = slices.Clone(r.Allocations)
	out.Warnings = slices.Clone(r.Warnings)
	out.Input = r.Input.Clone()
	if r.RuleSnapshot != nil {
		out.RuleSnapshot = make([]DistributionRule, len(r.RuleSnapshot))
		for i, rule := range r.RuleSnapshot {
			out.RuleSnapshot[i] = rule.Clone()
		}
	}
	return &out
}

// DistributionRecord is an archived, never-mutated snapshot of a computation.
type DistributionRecord struct {
	ID           string              `json:"id"`
	CaseNumber   string              `json:"case_number,omitempty"`
	ComputedAt   time.Time           `json:"computed_at"`
	ComputedBy   string              `json:"computed_by,omitempty"`
	Result       *DistributionResult `json:"result"`
	Overridden   bool                `json:"overridden"`
	Acknowledged []WarningCode       `json:"acknowledged,omitempty"`
	Seal         string              `json:"seal,omitempty"`
}

func (r *DistributionRecord) Clone() *DistributionRecord {
	if r == nil {
		return nil
	}
	out := *r
	out.Result = r.Result.Clone()
	out.Acknowledged = slices.Clone(r.Acknowledged)
	return &out
}

// RecordOptions carries the commit metadata stored alongside a result.
type RecordOptions struct {
	CaseNumber   string
	ComputedBy   string
	Overridden   bool
	Acknowledged []WarningCode
}

// HistoryFilter narrows a history listing. Zero values do not filter.
type HistoryFilter struct {
	CaseNumber string
	From       time.Time
	To         time.Time
	Limit      int
	Offset     int
}

func (f HistoryFilter) Matches(rec *DistributionRecord) bool {
	if f.CaseNumber != "" && rec.CaseNumber != f.CaseNumber {
		return false
	}
	if !f.From.IsZero() && rec.ComputedAt.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && rec.ComputedAt.After(f.To) {
		return false
	}
	return true
}
