package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPercentageRange = errors.New("invalid percentage range")
	ErrEmptyBeneficiaryList   = errors.New("empty beneficiary list")
	ErrNegativeMonetaryValue  = errors.New("negative monetary value")
	ErrBlankBeneficiaryName   = errors.New("blank beneficiary name")
	ErrBeneficiaryNameTooLong = errors.New("beneficiary name too long")
	ErrInvalidEncoding        = errors.New("text is not valid UTF-8")
	ErrInvalidRuleKey         = errors.New("invalid rule key")
	ErrInvalidCondition       = errors.New("invalid rule condition")
)

// ValidationError attributes a validation failure to an input field.
type ValidationError struct {
	Field  string
	Err    error
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %v", e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %v: %s", e.Field, e.Err, e.Detail)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// WarningCode classifies a computation warning.
type WarningCode string

const (
	WarningNegativeNetAmount      WarningCode = "NEGATIVE_NET_AMOUNT"
	WarningRuleMissing            WarningCode = "RULE_MISSING"
	WarningPercentageSumMismatch  WarningCode = "PERCENTAGE_SUM_MISMATCH"
	WarningReconciliationMismatch WarningCode = "AMOUNT_RECONCILIATION_MISMATCH"
	WarningNegativeAmount         WarningCode = "NEGATIVE_AMOUNT"
	WarningBeneficiaryMismatch    WarningCode = "BENEFICIARY_MISMATCH"
	WarningInvalidAmount          WarningCode = "INVALID_AMOUNT"
)

// Warning never aborts a computation; it is attached to the result so an
// operator can review it before committing.
type Warning struct {
	Code    WarningCode `json:"code"`
	Message string      `json:"message"`
}

func (w Warning) String() string {
	return fmt.Sprintf("%s: %s", w.Code, w.Message)
}

func NewWarning(code WarningCode, format string, args ...any) Warning {
	return Warning{Code: code, Message: fmt.Sprintf(format, args...)}
}
