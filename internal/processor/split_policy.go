package processor

import (
	"errors"
	"fmt"
	"repartition/internal/domain"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// SplitPolicy weighs each named individual of the poursuivants pool by role.
// A group's share of the pool is proportional to weight times head count.
type SplitPolicy interface {
	Name() string
	Weight(role domain.Category) int64
}

// EqualSplit gives every named individual the same share.
type EqualSplit struct{}

func (EqualSplit) Name() string { return "equal" }

func (EqualSplit) Weight(domain.Category) int64 { return 1 }

// RoleWeighted gives each individual the weight of their role.
type RoleWeighted struct {
	SeizingAgent int64
	Chief        int64
	Informant    int64
}

var ErrInvalidWeights = errors.New("invalid split weights")

// MaxRoleWeight keeps weight times head count far from int64 overflow.
const MaxRoleWeight = 1_000_000

func NewRoleWeighted(seizingAgent, chief, informant int64) (RoleWeighted, error) {
	if seizingAgent < 0 || chief < 0 || informant < 0 {
		return RoleWeighted{}, fmt.Errorf("%w: weights must be non-negative", ErrInvalidWeights)
	}
	if seizingAgent > MaxRoleWeight || chief > MaxRoleWeight || informant > MaxRoleWeight {
		return RoleWeighted{}, fmt.Errorf("%w: weights must not exceed %d", ErrInvalidWeights, MaxRoleWeight)
	}
	if seizingAgent+chief+informant == 0 {
		return RoleWeighted{}, fmt.Errorf("%w: at least one weight must be positive", ErrInvalidWeights)
	}
	return RoleWeighted{SeizingAgent: seizingAgent, Chief: chief, Informant: informant}, nil
}

func (p RoleWeighted) Name() string {
	return fmt.Sprintf("role_weighted(%d,%d,%d)", p.SeizingAgent, p.Chief, p.Informant)
}

func (p RoleWeighted) Weight(role domain.Category) int64 {
	switch role {
	case domain.CategorySeizingAgent:
		return p.SeizingAgent
	case domain.CategoryChief:
		return p.Chief
	case domain.CategoryInformant:
		return p.Informant
	default:
		return 0
	}
}

// ParseSplitPolicy builds a policy from its configuration form: "equal" or
// "role_weighted" with weights written "agent,chief,informant".
func ParseSplitPolicy(name, weights string) (SplitPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "equal":
		return EqualSplit{}, nil
	case "role_weighted":
		parts := strings.Split(weights, ",")
		if len(parts) != 3 {
			return nil, fmt.Errorf("%w: expected agent,chief,informant got %q", ErrInvalidWeights, weights)
		}
		var w [3]int64
		for i, p := range parts {
			v, err := strconv.ParseInt(strings.TrimSpace(p), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", ErrInvalidWeights, err)
			}
			w[i] = v
		}
		return NewRoleWeighted(w[0], w[1], w[2])
	default:
		return nil, fmt.Errorf("unknown split policy: %s", name)
	}
}

type splitGroup struct {
	role  domain.Category
	names []string
}

// groupShare is one individual's share of the pool.
type groupShare struct {
	role   domain.Category
	index  int
	name   string
	amount int64
}

// splitPool divides pool across the groups. Group shares are floored and the
// residue goes to the first non-empty group with positive weight; inside a
// group the residue goes to the first individual. The returned leftover is
// non-zero only when no individual carries any weight.
func splitPool(pool int64, groups []splitGroup, policy SplitPolicy) ([]groupShare, int64) {
	var totalWeight int64
	weights := make([]int64, len(groups))
	for i, g := range groups {
		weights[i] = policy.Weight(g.role) * int64(len(g.names))
		totalWeight += weights[i]
	}

	amounts := make([]int64, len(groups))
	leftover := pool
	if totalWeight > 0 && pool > 0 {
		total := decimal.NewFromInt(totalWeight)
		first := -1
		for i := range groups {
			if weights[i] == 0 {
				continue
			}
			if first < 0 {
				first = i
			}
			q, _ := decimal.NewFromInt(pool).Mul(decimal.NewFromInt(weights[i])).QuoRem(total, 0)
			amounts[i] = q.IntPart()
			leftover -= amounts[i]
		}
		amounts[first] += leftover
		leftover = 0
	}

	var shares []groupShare
	for i, g := range groups {
		for j, amount := range splitEqually(amounts[i], len(g.names)) {
			shares = append(shares, groupShare{role: g.role, index: j, name: g.names[j], amount: amount})
		}
	}
	return shares, leftover
}

// splitEqually divides amount into n floored parts; the first part absorbs
// the remainder so the parts always sum to amount.
func splitEqually(amount int64, n int) []int64 {
	if n <= 0 {
		return nil
	}
	parts := make([]int64, n)
	each := amount / int64(n)
	for i := range parts {
		parts[i] = each
	}
	parts[0] += amount - each*int64(n)
	return parts
}
