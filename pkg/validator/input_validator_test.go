package validator

import (
	"errors"
	"strings"
	"testing"

	"repartition/internal/domain"
)

func validInput() domain.DistributionInput {
	return domain.DistributionInput{
		FineAmount:    1_000_000,
		SeizingAgents: []string{"Agent A", "Agent B"},
		Chiefs:        []string{"Chef C"},
	}
}

func TestInputValidator_ValidInput(t *testing.T) {
	v := NewInputValidator()

	if err := v.ValidateInput(validInput()); err != nil {
		t.Fatalf("expected valid input, got err=%v", err)
	}
}

func TestInputValidator_NegativeAmount(t *testing.T) {
	v := NewInputValidator()
	in := validInput()
	in.MiscFees = -1

	err := v.ValidateInput(in)

	if !errors.Is(err, domain.ErrNegativeMonetaryValue) {
		t.Fatalf("expected ErrNegativeMonetaryValue, got %v", err)
	}
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || verr.Field != "misc_fees" {
		t.Fatalf("expected field misc_fees, got %+v", verr)
	}
}

func TestInputValidator_EmptyLists(t *testing.T) {
	tests := []struct {
		name  string
		input func() domain.DistributionInput
		field string
	}{
		{"no seizing agents", func() domain.DistributionInput {
			in := validInput()
			in.SeizingAgents = nil
			return in
		}, "seizing_agents"},
		{"no chiefs", func() domain.DistributionInput {
			in := validInput()
			in.Chiefs = []string{}
			return in
		}, "chiefs"},
	}

	v := NewInputValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateInput(tt.input())
			if !errors.Is(err, domain.ErrEmptyBeneficiaryList) {
				t.Fatalf("expected ErrEmptyBeneficiaryList, got %v", err)
			}
			var verr *domain.ValidationError
			if !errors.As(err, &verr) || verr.Field != tt.field {
				t.Errorf("expected field %s, got %+v", tt.field, verr)
			}
		})
	}
}

func TestInputValidator_ZeroInformantsAllowed(t *testing.T) {
	v := NewInputValidator()
	in := validInput()
	in.Informants = nil

	if err := v.ValidateInput(in); err != nil {
		t.Fatalf("zero informants must be accepted, got %v", err)
	}
}

func TestInputValidator_BlankName(t *testing.T) {
	v := NewInputValidator()
	in := validInput()
	in.Informants = []string{"   "}

	err := v.ValidateInput(in)

	if !errors.Is(err, domain.ErrBlankBeneficiaryName) {
		t.Fatalf("expected ErrBlankBeneficiaryName, got %v", err)
	}
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || verr.Field != "informants[0]" {
		t.Errorf("expected field informants[0], got %+v", verr)
	}
}

func TestInputValidator_NameTooLong(t *testing.T) {
	v := NewInputValidator()
	in := validInput()
	in.Chiefs = []string{strings.Repeat("é", 101)}

	err := v.ValidateInput(in)

	if !errors.Is(err, domain.ErrBeneficiaryNameTooLong) {
		t.Fatalf("expected ErrBeneficiaryNameTooLong, got %v", err)
	}
	if errors.Is(err, domain.ErrBlankBeneficiaryName) {
		t.Errorf("long name reported as blank: %v", err)
	}
	var verr *domain.ValidationError
	if !errors.As(err, &verr) || verr.Field != "chiefs[0]" {
		t.Errorf("expected field chiefs[0], got %+v", verr)
	}
}

func TestInputValidator_InvalidUTF8(t *testing.T) {
	tests := []struct {
		name  string
		input func() domain.DistributionInput
		field string
	}{
		{"latin-1 agent name", func() domain.DistributionInput {
			in := validInput()
			in.SeizingAgents = []string{"Agent A", "C\xe9dric"}
			return in
		}, "seizing_agents[1]"},
		{"stray byte in informant", func() domain.DistributionInput {
			in := validInput()
			in.Informants = []string{"Agent \xff B"}
			return in
		}, "informants[0]"},
		{"case number", func() domain.DistributionInput {
			in := validInput()
			in.CaseNumber = "CTX-\xe9"
			return in
		}, "case_number"},
	}

	v := NewInputValidator()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateInput(tt.input())
			if !errors.Is(err, domain.ErrInvalidEncoding) {
				t.Fatalf("expected ErrInvalidEncoding, got %v", err)
			}
			var verr *domain.ValidationError
			if !errors.As(err, &verr) || verr.Field != tt.field {
				t.Errorf("expected field %s, got %+v", tt.field, verr)
			}
		})
	}

	in := validInput()
	in.SeizingAgents = []string{"Cédric", "Agent B"}
	if err := v.ValidateInput(in); err != nil {
		t.Errorf("accented UTF-8 names must be accepted, got %v", err)
	}
}

func TestNormalize_TrimsWithoutTouchingOriginal(t *testing.T) {
	in := validInput()
	in.SeizingAgents = []string{"  Agent A "}

	out := Normalize(in)

	if out.SeizingAgents[0] != "Agent A" {
		t.Errorf("expected trimmed name, got %q", out.SeizingAgents[0])
	}
	if in.SeizingAgents[0] != "  Agent A " {
		t.Errorf("original input was modified: %q", in.SeizingAgents[0])
	}
}
