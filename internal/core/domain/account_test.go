package domain_test

import (
	"testing"
	"time"

	"github.com/SscSPs/bank_posting_core/internal/core/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestAccountType_NormalSide(t *testing.T) {
	tests := []struct {
		kind domain.AccountType
		want domain.Side
	}{
		{domain.Asset, domain.Debit},
		{domain.Expense, domain.Debit},
		{domain.Liability, domain.Credit},
		{domain.Equity, domain.Credit},
		{domain.Income, domain.Credit},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			got, err := tt.kind.NormalSide()
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := domain.AccountType("REVENUE").NormalSide()
	assert.Error(t, err)
}

func TestAmortizationRow_ComputeStatus(t *testing.T) {
	row := domain.AmortizationRow{
		DueDate:           day(2024, 3, 1),
		ExpectedPrincipal: decimal.RequireFromString("100.00"),
		ExpectedInterest:  decimal.RequireFromString("10.00"),
	}

	assert.Equal(t, domain.InstallmentPending, row.ComputeStatus(day(2024, 2, 1)))
	assert.Equal(t, domain.InstallmentPending, row.ComputeStatus(day(2024, 3, 1)), "due today is not overdue")
	assert.Equal(t, domain.InstallmentOverdue, row.ComputeStatus(day(2024, 3, 2)))

	row.PaidInterest = decimal.RequireFromString("10.00")
	assert.Equal(t, domain.InstallmentPartial, row.ComputeStatus(day(2024, 2, 1)))
	assert.Equal(t, domain.InstallmentOverdue, row.ComputeStatus(day(2024, 4, 1)))

	row.PaidPrincipal = decimal.RequireFromString("100.00")
	assert.Equal(t, domain.InstallmentPaid, row.ComputeStatus(day(2024, 4, 1)))
}

func TestApplyInstallmentsAndRefreshSchedule(t *testing.T) {
	rows := []domain.AmortizationRow{
		{LoanID: "L", Index: 1, DueDate: day(2024, 1, 1), ExpectedPrincipal: decimal.RequireFromString("50.00"), ExpectedInterest: decimal.RequireFromString("5.00")},
		{LoanID: "L", Index: 2, DueDate: day(2024, 2, 1), ExpectedPrincipal: decimal.RequireFromString("50.00"), ExpectedInterest: decimal.RequireFromString("5.00")},
	}
	payments := []domain.InstallmentPayment{
		{Index: 1, Principal: decimal.RequireFromString("50.00"), Interest: decimal.RequireFromString("5.00"), Penalty: decimal.Zero},
	}

	updated := domain.ApplyInstallments(rows, payments, day(2024, 1, 15))
	require.Len(t, updated, 2)
	assert.Equal(t, domain.InstallmentPaid, updated[0].Status)
	assert.Equal(t, domain.InstallmentPending, updated[1].Status)
	assert.True(t, rows[0].PaidPrincipal.IsZero(), "input rows must not be modified")

	acc := domain.OperationalAccount{ProductKind: domain.Loan}
	acc.RefreshSchedule(updated)
	assert.Equal(t, 1, acc.MonthsPaid)
	require.NotNil(t, acc.NextDueDate)
	assert.Equal(t, day(2024, 2, 1), *acc.NextDueDate)
}

func TestOperationalAccount_ApplyDelta(t *testing.T) {
	acc := domain.OperationalAccount{
		AccountID: "L-1",
		Status:    domain.StatusActive,
		Balance:   decimal.RequireFromString("30.00"),
	}
	now := time.Now()

	acc.ApplyDelta(domain.BalanceDelta{Balance: decimal.RequireFromString("-10.00")}, 7, now)
	assert.True(t, decimal.RequireFromString("20.00").Equal(acc.Balance))
	assert.Equal(t, int64(7), acc.LastEntryID)
	assert.Equal(t, domain.StatusActive, acc.Status)

	acc.ApplyDelta(domain.BalanceDelta{Balance: decimal.RequireFromString("-20.00"), Retire: true}, 9, now)
	assert.True(t, acc.Balance.IsZero())
	assert.Equal(t, domain.StatusClosed, acc.Status)
	assert.Equal(t, int64(9), acc.LastEntryID)
}

func TestProductOverrides_Apply(t *testing.T) {
	base := domain.ProductParams{
		InterestRate:   decimal.RequireFromString("0.05"),
		MinimumBalance: decimal.RequireFromString("500"),
		Prepayment:     domain.PrepaymentAllowed,
	}
	rate := decimal.RequireFromString("0.07")
	forbidden := domain.PrepaymentForbidden
	o := &domain.ProductOverrides{InterestRate: &rate, Prepayment: &forbidden}

	got := o.Apply(base)
	assert.True(t, rate.Equal(got.InterestRate))
	assert.Equal(t, domain.PrepaymentForbidden, got.Prepayment)
	assert.True(t, base.MinimumBalance.Equal(got.MinimumBalance))
	assert.Equal(t, domain.PrepaymentAllowed, base.Prepayment, "base must be untouched")

	var none *domain.ProductOverrides
	assert.Equal(t, base, none.Apply(base))
	assert.NoError(t, none.Validate())

	negative := decimal.RequireFromString("-1")
	assert.Error(t, (&domain.ProductOverrides{PenaltyRate: &negative}).Validate())
}

func TestEntryReferences(t *testing.T) {
	assert.Equal(t, []string{"T5-OUT", "T5-IN"}, domain.EntryReferences(domain.Transfer, "T5"))
	assert.Equal(t, []string{"T1"}, domain.EntryReferences(domain.Deposit, "T1"))
	assert.Equal(t, "accrual:S-1:2024-06-30", domain.AccrualReference("S-1", day(2024, 6, 30)))
}
