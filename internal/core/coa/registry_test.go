package coa

import (
	"sync"
	"testing"

	"github.com/SscSPs/bank_posting_core/internal/apperrors"
	"github.com/SscSPs/bank_posting_core/internal/core/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTable_ReferenceMappings(t *testing.T) {
	r := NewRegistry(DefaultTable())

	tests := []struct {
		product domain.ProductKind
		event   domain.EventKind
		role    domain.LegRole
		want    Mapping
	}{
		{domain.RegularSavings, domain.Deposit, domain.RolePrincipal, Mapping{CashInBank, SavingsDepositsPayable}},
		{domain.HighYield, domain.Withdrawal, domain.RolePrincipal, Mapping{SavingsDepositsPayable, CashInBank}},
		{domain.Loan, domain.Disbursement, domain.RolePrincipal, Mapping{LoansReceivable, CashInBank}},
		{domain.Loan, domain.Repayment, domain.RolePrincipal, Mapping{CashInBank, LoansReceivable}},
		{domain.Loan, domain.Repayment, domain.RoleInterest, Mapping{CashInBank, InterestIncomeLoans}},
		{domain.Loan, domain.Disbursement, domain.RoleOriginationFee, Mapping{CashInBank, FeeIncomeOrigination}},
		{domain.TimeDeposit, domain.Penalty, domain.RolePenalty, Mapping{CashInBank, PenaltyIncome}},
		{domain.RegularSavings, domain.InterestAccrual, domain.RoleInterest, Mapping{InterestExpense, SavingsDepositsPayable}},
	}
	for _, tt := range tests {
		got, err := r.Lookup(tt.product, tt.event, tt.role)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "%s/%s/%s", tt.product, tt.event, tt.role)
	}
}

func TestLookup_Unmapped(t *testing.T) {
	r := NewRegistry(DefaultTable())

	_, err := r.Lookup(domain.RegularSavings, domain.Disbursement, domain.RolePrincipal)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrUnmappedPosting)
}

func TestNewTable_RejectsInconsistentSeed(t *testing.T) {
	_, err := NewTable(DefaultAccounts(), map[Key]Mapping{
		{domain.Loan, domain.Fee, domain.RoleFee}: {CashInBank, "9999"},
	}, DefaultBindings())
	assert.ErrorContains(t, err, "unknown gl code")

	_, err = NewTable(DefaultAccounts(), DefaultMappings(), map[domain.ProductKind]Binding{
		domain.Loan: {Balance: LoansReceivable},
	})
	assert.ErrorContains(t, err, "no balance binding")

	_, err = NewTable(append(DefaultAccounts(), domain.GLAccount{Code: "7000", Kind: "REVENUE"}), DefaultMappings(), DefaultBindings())
	assert.Error(t, err)
}

func TestRegistry_NormalSideDerivedFromKind(t *testing.T) {
	r := NewRegistry(DefaultTable())
	for _, a := range r.Accounts() {
		side, ok := r.NormalSide(a.Code)
		require.True(t, ok)
		switch a.Kind {
		case domain.Asset, domain.Expense:
			assert.Equal(t, domain.Debit, side, a.Code)
		default:
			assert.Equal(t, domain.Credit, side, a.Code)
		}
	}
	assert.Len(t, r.Accounts(), 11)
	assert.Equal(t, CashInBank, r.Accounts()[0].Code)
}

func TestRegistry_SwapIsAtomic(t *testing.T) {
	r := NewRegistry(DefaultTable())

	reduced := DefaultMappings()
	delete(reduced, Key{domain.Loan, domain.Fee, domain.RoleFee})
	next, err := NewTable(DefaultAccounts(), reduced, DefaultBindings())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				_, err := r.Lookup(domain.Loan, domain.Repayment, domain.RolePrincipal)
				assert.NoError(t, err)
			}
		}()
	}
	prev := r.Swap(next)
	wg.Wait()

	assert.NotNil(t, prev)
	_, err = r.Lookup(domain.Loan, domain.Fee, domain.RoleFee)
	assert.ErrorIs(t, err, apperrors.ErrUnmappedPosting)
}
