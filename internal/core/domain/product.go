package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ProductKind is the closed set of products an operational account can belong to.
type ProductKind string

const (
	RegularSavings ProductKind = "regular_savings"
	HighYield      ProductKind = "high_yield"
	TimeDeposit    ProductKind = "time_deposit"
	Loan           ProductKind = "loan"
)

// Validate rejects product kinds outside the closed set.
func (k ProductKind) Validate() error {
	switch k {
	case RegularSavings, HighYield, TimeDeposit, Loan:
		return nil
	default:
		return fmt.Errorf("unknown product kind %q", k)
	}
}

// IsDeposit reports whether the product holds customer funds (a liability of the bank).
func (k ProductKind) IsDeposit() bool {
	switch k {
	case RegularSavings, HighYield, TimeDeposit:
		return true
	case Loan:
		return false
	default:
		return false
	}
}

// InterestMethod selects how loan interest is earned.
type InterestMethod string

const (
	DecliningBalance InterestMethod = "declining_balance"
	FlatRate         InterestMethod = "flat_rate"
)

// PrepaymentPolicy controls whether a loan may be retired ahead of schedule.
type PrepaymentPolicy string

const (
	PrepaymentAllowed     PrepaymentPolicy = "allowed"
	PrepaymentForbidden   PrepaymentPolicy = "forbidden"
	PrepaymentWithPenalty PrepaymentPolicy = "allowed_with_penalty"
)

// GraceType controls what is suppressed for installments inside the grace window.
type GraceType string

const (
	GraceNone          GraceType = ""
	FullGrace          GraceType = "full_grace"
	PrincipalOnlyGrace GraceType = "principal_only_grace"
)

// FeeStrategy selects when the origination fee is recognised.
type FeeStrategy string

const (
	FeeUpfront FeeStrategy = "upfront"
	FeeSpread  FeeStrategy = "spread"
)

// ProductParams are the product-level parameters copied onto each account.
// Rates are annual fractions (0.0365 is 3.65%).
type ProductParams struct {
	ProductCode                string           `json:"productCode"`
	InterestRate               decimal.Decimal  `json:"interestRate"`
	InterestMethod             InterestMethod   `json:"interestMethod,omitempty"`
	MinimumBalance             decimal.Decimal  `json:"minimumBalance"`
	TermMonths                 int              `json:"termMonths,omitempty"`
	MaturityDate               *time.Time       `json:"maturityDate,omitempty"`
	Prepayment                 PrepaymentPolicy `json:"prepayment,omitempty"`
	GraceMonths                int              `json:"graceMonths,omitempty"`
	GraceType                  GraceType        `json:"graceType,omitempty"`
	PenaltyRate                decimal.Decimal  `json:"penaltyRate"`
	EarlyWithdrawalPenaltyRate decimal.Decimal  `json:"earlyWithdrawalPenaltyRate"`
	CustomerLoanCap            decimal.Decimal  `json:"customerLoanCap"`
	OriginationFeeRate         decimal.Decimal  `json:"originationFeeRate"`
	FeeStrategy                FeeStrategy      `json:"feeStrategy,omitempty"`
}

// ProductOverrides replace individual product parameters for a single posting.
type ProductOverrides struct {
	InterestRate               *decimal.Decimal  `json:"interestRate,omitempty"`
	MinimumBalance             *decimal.Decimal  `json:"minimumBalance,omitempty"`
	MaturityDate               *time.Time        `json:"maturityDate,omitempty"`
	Prepayment                 *PrepaymentPolicy `json:"prepayment,omitempty"`
	GraceMonths                *int              `json:"graceMonths,omitempty"`
	GraceType                  *GraceType        `json:"graceType,omitempty"`
	PenaltyRate                *decimal.Decimal  `json:"penaltyRate,omitempty"`
	EarlyWithdrawalPenaltyRate *decimal.Decimal  `json:"earlyWithdrawalPenaltyRate,omitempty"`
	CustomerLoanCap            *decimal.Decimal  `json:"customerLoanCap,omitempty"`
	OriginationFeeRate         *decimal.Decimal  `json:"originationFeeRate,omitempty"`
	FeeStrategy                *FeeStrategy      `json:"feeStrategy,omitempty"`
}

// Apply returns a copy of p with every set override applied.
func (o *ProductOverrides) Apply(p ProductParams) ProductParams {
	if o == nil {
		return p
	}
	if o.InterestRate != nil {
		p.InterestRate = *o.InterestRate
	}
	if o.MinimumBalance != nil {
		p.MinimumBalance = *o.MinimumBalance
	}
	if o.MaturityDate != nil {
		d := *o.MaturityDate
		p.MaturityDate = &d
	}
	if o.Prepayment != nil {
		p.Prepayment = *o.Prepayment
	}
	if o.GraceMonths != nil {
		p.GraceMonths = *o.GraceMonths
	}
	if o.GraceType != nil {
		p.GraceType = *o.GraceType
	}
	if o.PenaltyRate != nil {
		p.PenaltyRate = *o.PenaltyRate
	}
	if o.EarlyWithdrawalPenaltyRate != nil {
		p.EarlyWithdrawalPenaltyRate = *o.EarlyWithdrawalPenaltyRate
	}
	if o.CustomerLoanCap != nil {
		p.CustomerLoanCap = *o.CustomerLoanCap
	}
	if o.OriginationFeeRate != nil {
		p.OriginationFeeRate = *o.OriginationFeeRate
	}
	if o.FeeStrategy != nil {
		p.FeeStrategy = *o.FeeStrategy
	}
	return p
}

// Validate rejects negative rates and unknown enum values.
func (o *ProductOverrides) Validate() error {
	if o == nil {
		return nil
	}
	for name, v := range map[string]*decimal.Decimal{
		"interestRate":               o.InterestRate,
		"minimumBalance":             o.MinimumBalance,
		"penaltyRate":                o.PenaltyRate,
		"earlyWithdrawalPenaltyRate": o.EarlyWithdrawalPenaltyRate,
		"customerLoanCap":            o.CustomerLoanCap,
		"originationFeeRate":         o.OriginationFeeRate,
	} {
		if v != nil && v.IsNegative() {
			return fmt.Errorf("override %s must not be negative", name)
		}
	}
	if o.GraceMonths != nil && *o.GraceMonths < 0 {
		return fmt.Errorf("override graceMonths must not be negative")
	}
	if o.Prepayment != nil {
		switch *o.Prepayment {
		case PrepaymentAllowed, PrepaymentForbidden, PrepaymentWithPenalty:
		default:
			return fmt.Errorf("unknown prepayment policy %q", *o.Prepayment)
		}
	}
	if o.GraceType != nil {
		switch *o.GraceType {
		case GraceNone, FullGrace, PrincipalOnlyGrace:
		default:
			return fmt.Errorf("unknown grace type %q", *o.GraceType)
		}
	}
	if o.FeeStrategy != nil {
		switch *o.FeeStrategy {
		case FeeUpfront, FeeSpread:
		default:
			return fmt.Errorf("unknown fee strategy %q", *o.FeeStrategy)
		}
	}
	return nil
}
