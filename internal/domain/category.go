package domain

import (
	"fmt"
	"regexp"
	"strings"
)

// Category identifies either a distribution rule (fund or pool) or the role of
// an individual beneficiary. Keys outside the known vocabulary are custom
// extension funds.
type Category string

const (
	CategoryFsp             Category = "fsp"
	CategoryTresor          Category = "tresor"
	CategoryMutuelle        Category = "mutuelle"
	CategoryPoursuivants    Category = "poursuivants"
	CategoryFondsSolidarite Category = "fonds_solidarite"
	CategoryFondsFormation  Category = "fonds_formation"
	CategoryFondsEquipement Category = "fonds_equipement"
	CategoryPrimeRendement  Category = "prime_rendement"

	CategorySeizingAgent Category = "seizing_agent"
	CategoryChief        Category = "chief"
	CategoryInformant    Category = "informant"
)

// StandardCategories lists the eight rule categories in canonical order.
var StandardCategories = []Category{
	CategoryFsp,
	CategoryTresor,
	CategoryMutuelle,
	CategoryPoursuivants,
	CategoryFondsSolidarite,
	CategoryFondsFormation,
	CategoryFondsEquipement,
	CategoryPrimeRendement,
}

// FundCategories are the standard categories allocated on the net amount and
// credited to a named fund.
var FundCategories = []Category{
	CategoryTresor,
	CategoryMutuelle,
	CategoryFondsSolidarite,
	CategoryFondsFormation,
	CategoryFondsEquipement,
	CategoryPrimeRendement,
}

var categoryKeyRegex = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// ParseCategory normalizes a rule key. Any well-formed key is accepted; keys
// that are not standard are treated as custom funds.
func ParseCategory(raw string) (Category, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	if !categoryKeyRegex.MatchString(key) {
		return "", &ValidationError{Field: "key", Err: ErrInvalidRuleKey, Detail: fmt.Sprintf("%q", raw)}
	}
	c := Category(key)
	if c.IsIndividual() {
		return "", &ValidationError{Field: "key", Err: ErrInvalidRuleKey, Detail: fmt.Sprintf("%q is a beneficiary role", raw)}
	}
	return c, nil
}

func (c Category) String() string {
	return string(c)
}

func (c Category) IsStandard() bool {
	for _, s := range StandardCategories {
		if c == s {
			return true
		}
	}
	return false
}

func (c Category) IsIndividual() bool {
	return c == CategorySeizingAgent || c == CategoryChief || c == CategoryInformant
}

// IsCustom reports whether c is an extension fund key.
func (c Category) IsCustom() bool {
	return !c.IsStandard() && !c.IsIndividual()
}

func (c Category) canonicalIndex() int {
	for i, s := range StandardCategories {
		if c == s {
			return i
		}
	}
	return len(StandardCategories)
}
