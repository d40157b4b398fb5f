package validator

import (
	"errors"
	"fmt"
	"repartition/internal/domain"
	"strings"
	"unicode/utf8"
)

// InputValidator rejects distribution inputs before any computation runs.
// Every violation is reported; errors.As finds the first *domain.ValidationError.
type InputValidator struct {
	maxNameLength int
}

func NewInputValidator() *InputValidator {
	return &InputValidator{maxNameLength: 200}
}

func (v *InputValidator) ValidateInput(in domain.DistributionInput) error {
	var errs []error

	amounts := []struct {
		field string
		value int64
	}{
		{"case_amount", in.CaseAmount},
		{"fine_amount", in.FineAmount},
		{"sale_amount", in.SaleAmount},
		{"misc_fees", in.MiscFees},
	}
	for _, a := range amounts {
		if a.value < 0 {
			errs = append(errs, &domain.ValidationError{
				Field:  a.field,
				Err:    domain.ErrNegativeMonetaryValue,
				Detail: fmt.Sprintf("%d", a.value),
			})
		}
	}

	if len(in.SeizingAgents) == 0 {
		errs = append(errs, &domain.ValidationError{Field: "seizing_agents", Err: domain.ErrEmptyBeneficiaryList})
	}
	if len(in.Chiefs) == 0 {
		errs = append(errs, &domain.ValidationError{Field: "chiefs", Err: domain.ErrEmptyBeneficiaryList})
	}

	if !utf8.ValidString(in.CaseNumber) {
		errs = append(errs, &domain.ValidationError{Field: "case_number", Err: domain.ErrInvalidEncoding})
	}
	errs = append(errs, v.validateNames("seizing_agents", in.SeizingAgents)...)
	errs = append(errs, v.validateNames("chiefs", in.Chiefs)...)
	errs = append(errs, v.validateNames("informants", in.Informants)...)

	return errors.Join(errs...)
}

func (v *InputValidator) validateNames(field string, names []string) []error {
	var errs []error
	for i, name := range names {
		if !utf8.ValidString(name) {
			errs = append(errs, &domain.ValidationError{
				Field:  fmt.Sprintf("%s[%d]", field, i),
				Err:    domain.ErrInvalidEncoding,
				Detail: fmt.Sprintf("%q", name),
			})
			continue
		}
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			errs = append(errs, &domain.ValidationError{
				Field: fmt.Sprintf("%s[%d]", field, i),
				Err:   domain.ErrBlankBeneficiaryName,
			})
			continue
		}
		if len(trimmed) > v.maxNameLength {
			errs = append(errs, &domain.ValidationError{
				Field:  fmt.Sprintf("%s[%d]", field, i),
				Err:    domain.ErrBeneficiaryNameTooLong,
				Detail: fmt.Sprintf("name longer than %d bytes", v.maxNameLength),
			})
		}
	}
	return errs
}

// Normalize trims names so the engine sees the same spelling the validator
// accepted.
func Normalize(in domain.DistributionInput) domain.DistributionInput {
	out := in.Clone()
	out.CaseNumber = strings.TrimSpace(out.CaseNumber)
	for _, list := range [][]string{out.SeizingAgents, out.Chiefs, out.Informants} {
		for i := range list {
			list[i] = strings.TrimSpace(list[i])
		}
	}
	return out
}
