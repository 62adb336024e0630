package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// InstallmentStatus is derived from paid vs expected amounts and the accounting date.
type InstallmentStatus string

const (
	InstallmentPending InstallmentStatus = "pending"
	InstallmentPartial InstallmentStatus = "partial"
	InstallmentPaid    InstallmentStatus = "paid"
	InstallmentOverdue InstallmentStatus = "overdue"
)

// AmortizationRow is one expected installment on a loan.
type AmortizationRow struct {
	LoanID            string            `json:"loanID"`
	Index             int               `json:"index"`
	DueDate           time.Time         `json:"dueDate"`
	ExpectedPrincipal decimal.Decimal   `json:"expectedPrincipal"`
	ExpectedInterest  decimal.Decimal   `json:"expectedInterest"`
	ExpectedPenalty   decimal.Decimal   `json:"expectedPenalty"`
	PaidPrincipal     decimal.Decimal   `json:"paidPrincipal"`
	PaidInterest      decimal.Decimal   `json:"paidInterest"`
	PaidPenalty       decimal.Decimal   `json:"paidPenalty"`
	Status            InstallmentStatus `json:"status"`
}

func (r AmortizationRow) DuePrincipal() decimal.Decimal {
	return r.ExpectedPrincipal.Sub(r.PaidPrincipal)
}

func (r AmortizationRow) DueInterest() decimal.Decimal {
	return r.ExpectedInterest.Sub(r.PaidInterest)
}

func (r AmortizationRow) DuePenalty() decimal.Decimal {
	return r.ExpectedPenalty.Sub(r.PaidPenalty)
}

// IsPaid reports whether every leg of the installment is settled.
func (r AmortizationRow) IsPaid() bool {
	return !r.DuePrincipal().IsPositive() && !r.DueInterest().IsPositive() && !r.DuePenalty().IsPositive()
}

// IsOverdue reports whether the installment fell due before today and is unsettled.
func (r AmortizationRow) IsOverdue(today time.Time) bool {
	return !r.IsPaid() && r.DueDate.Before(today)
}

// ComputeStatus is a pure function of the paid amounts and today vs the due date.
func (r AmortizationRow) ComputeStatus(today time.Time) InstallmentStatus {
	switch {
	case r.IsPaid():
		return InstallmentPaid
	case r.DueDate.Before(today):
		return InstallmentOverdue
	case r.PaidPrincipal.IsPositive() || r.PaidInterest.IsPositive() || r.PaidPenalty.IsPositive():
		return InstallmentPartial
	default:
		return InstallmentPending
	}
}

// ApplyInstallments adds the payments to the matching rows and recomputes their status.
// Rows are returned in a new slice; the input is not modified.
func ApplyInstallments(rows []AmortizationRow, payments []InstallmentPayment, today time.Time) []AmortizationRow {
	byIndex := make(map[int]InstallmentPayment, len(payments))
	for _, p := range payments {
		byIndex[p.Index] = p
	}
	out := make([]AmortizationRow, len(rows))
	for i, r := range rows {
		if p, ok := byIndex[r.Index]; ok {
			r.PaidPrincipal = r.PaidPrincipal.Add(p.Principal)
			r.PaidInterest = r.PaidInterest.Add(p.Interest)
			r.PaidPenalty = r.PaidPenalty.Add(p.Penalty)
		}
		r.Status = r.ComputeStatus(today)
		out[i] = r
	}
	return out
}
