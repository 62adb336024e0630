package coa

import (
	"fmt"

	"github.com/SscSPs/bank_posting_core/internal/core/domain"
)

// GL codes of the seeded chart of accounts.
const (
	CashInBank               = "1000"
	LoansReceivable          = "1200"
	InterestReceivableLoans  = "1210"
	SavingsDepositsPayable   = "2000"
	InterestPayable          = "2100"
	WithholdingTaxPayable    = "2200"
	InterestIncomeLoans      = "4000"
	FeeIncomeOrigination     = "4100"
	FeeIncomeEarlyWithdrawal = "4150"
	PenaltyIncome            = "4200"
	InterestExpense          = "5000"
)

// Key identifies one cell of the posting table.
type Key struct {
	Product domain.ProductKind
	Event   domain.EventKind
	Role    domain.LegRole
}

func (k Key) String() string {
	return fmt.Sprintf("%s/%s/%s", k.Product, k.Event, k.Role)
}

// Mapping is the pair of GL codes a leg debits and credits.
type Mapping struct {
	Debit  string
	Credit string
}

// Binding names the GL codes an operational account of a product moves.
// Balance carries the account's balance; Accrued carries loan accrued interest.
type Binding struct {
	Balance string
	Accrued string
}

// Table is an immutable chart of accounts plus its posting mappings.
type Table struct {
	accounts map[string]domain.GLAccount
	mappings map[Key]Mapping
	bindings map[domain.ProductKind]Binding
}

// NewTable validates the catalogue and mappings and builds a table.
// Every mapped code must exist in the catalogue and every product must have a balance binding.
func NewTable(accounts []domain.GLAccount, mappings map[Key]Mapping, bindings map[domain.ProductKind]Binding) (*Table, error) {
	t := &Table{
		accounts: make(map[string]domain.GLAccount, len(accounts)),
		mappings: make(map[Key]Mapping, len(mappings)),
		bindings: make(map[domain.ProductKind]Binding, len(bindings)),
	}
	for _, a := range accounts {
		if a.Code == "" {
			return nil, fmt.Errorf("gl account with empty code")
		}
		if _, err := a.Kind.NormalSide(); err != nil {
			return nil, fmt.Errorf("gl account %s: %w", a.Code, err)
		}
		if _, dup := t.accounts[a.Code]; dup {
			return nil, fmt.Errorf("gl account %s declared twice", a.Code)
		}
		t.accounts[a.Code] = a
	}
	for k, m := range mappings {
		if err := k.Product.Validate(); err != nil {
			return nil, fmt.Errorf("mapping %s: %w", k, err)
		}
		for _, code := range []string{m.Debit, m.Credit} {
			if _, ok := t.accounts[code]; !ok {
				return nil, fmt.Errorf("mapping %s references unknown gl code %q", k, code)
			}
		}
		if m.Debit == m.Credit {
			return nil, fmt.Errorf("mapping %s debits and credits the same code %s", k, m.Debit)
		}
		t.mappings[k] = m
	}
	for _, p := range []domain.ProductKind{domain.RegularSavings, domain.HighYield, domain.TimeDeposit, domain.Loan} {
		b, ok := bindings[p]
		if !ok || b.Balance == "" {
			return nil, fmt.Errorf("product %s has no balance binding", p)
		}
		for _, code := range []string{b.Balance, b.Accrued} {
			if code == "" {
				continue
			}
			if _, ok := t.accounts[code]; !ok {
				return nil, fmt.Errorf("binding for %s references unknown gl code %q", p, code)
			}
		}
		t.bindings[p] = b
	}
	return t, nil
}

// DefaultAccounts is the seeded GL catalogue.
func DefaultAccounts() []domain.GLAccount {
	return []domain.GLAccount{
		{Code: CashInBank, Name: "Cash-in-Bank", Kind: domain.Asset},
		{Code: LoansReceivable, Name: "Loans Receivable", Kind: domain.Asset},
		{Code: InterestReceivableLoans, Name: "Interest Receivable - Loans", Kind: domain.Asset},
		{Code: SavingsDepositsPayable, Name: "Savings Deposits Payable", Kind: domain.Liability},
		{Code: InterestPayable, Name: "Interest Payable", Kind: domain.Liability},
		{Code: WithholdingTaxPayable, Name: "Withholding Tax Payable", Kind: domain.Liability},
		{Code: InterestIncomeLoans, Name: "Interest Income - Loans", Kind: domain.Income},
		{Code: FeeIncomeOrigination, Name: "Fee Income - Origination", Kind: domain.Income},
		{Code: FeeIncomeEarlyWithdrawal, Name: "Fee Income - Early Withdrawal", Kind: domain.Income},
		{Code: PenaltyIncome, Name: "Penalty Income", Kind: domain.Income},
		{Code: InterestExpense, Name: "Interest Expense", Kind: domain.Expense},
	}
}

// DefaultMappings is the deterministic posting table seeded at startup.
func DefaultMappings() map[Key]Mapping {
	m := make(map[Key]Mapping)
	for _, p := range []domain.ProductKind{domain.RegularSavings, domain.HighYield, domain.TimeDeposit} {
		m[Key{p, domain.Deposit, domain.RolePrincipal}] = Mapping{CashInBank, SavingsDepositsPayable}
		m[Key{p, domain.Withdrawal, domain.RolePrincipal}] = Mapping{SavingsDepositsPayable, CashInBank}
		m[Key{p, domain.Withdrawal, domain.RoleEarlyWithdrawal}] = Mapping{SavingsDepositsPayable, FeeIncomeEarlyWithdrawal}
		m[Key{p, domain.Transfer, domain.RoleOutgoing}] = Mapping{SavingsDepositsPayable, CashInBank}
		m[Key{p, domain.Transfer, domain.RoleIncoming}] = Mapping{CashInBank, SavingsDepositsPayable}
		m[Key{p, domain.InterestAccrual, domain.RoleInterest}] = Mapping{InterestExpense, SavingsDepositsPayable}
		m[Key{p, domain.InterestAccrual, domain.RoleWithholding}] = Mapping{InterestExpense, WithholdingTaxPayable}
		m[Key{p, domain.Fee, domain.RoleFee}] = Mapping{CashInBank, FeeIncomeOrigination}
		m[Key{p, domain.Penalty, domain.RolePenalty}] = Mapping{CashInBank, PenaltyIncome}
	}

	m[Key{domain.Loan, domain.Disbursement, domain.RolePrincipal}] = Mapping{LoansReceivable, CashInBank}
	m[Key{domain.Loan, domain.Disbursement, domain.RoleOriginationFee}] = Mapping{CashInBank, FeeIncomeOrigination}
	m[Key{domain.Loan, domain.Repayment, domain.RolePrincipal}] = Mapping{CashInBank, LoansReceivable}
	m[Key{domain.Loan, domain.Repayment, domain.RoleInterest}] = Mapping{CashInBank, InterestIncomeLoans}
	m[Key{domain.Loan, domain.Repayment, domain.RoleAccruedInterest}] = Mapping{CashInBank, InterestReceivableLoans}
	m[Key{domain.Loan, domain.Repayment, domain.RolePenalty}] = Mapping{CashInBank, PenaltyIncome}
	m[Key{domain.Loan, domain.Repayment, domain.RoleOriginationFee}] = Mapping{CashInBank, FeeIncomeOrigination}
	m[Key{domain.Loan, domain.Repayment, domain.RolePrepaymentPenalty}] = Mapping{CashInBank, PenaltyIncome}
	m[Key{domain.Loan, domain.InterestAccrual, domain.RoleInterest}] = Mapping{InterestReceivableLoans, InterestIncomeLoans}
	m[Key{domain.Loan, domain.Fee, domain.RoleFee}] = Mapping{CashInBank, FeeIncomeOrigination}
	m[Key{domain.Loan, domain.Penalty, domain.RolePenalty}] = Mapping{CashInBank, PenaltyIncome}
	return m
}

// DefaultBindings binds each product to the GL codes its accounts carry.
func DefaultBindings() map[domain.ProductKind]Binding {
	return map[domain.ProductKind]Binding{
		domain.RegularSavings: {Balance: SavingsDepositsPayable},
		domain.HighYield:      {Balance: SavingsDepositsPayable},
		domain.TimeDeposit:    {Balance: SavingsDepositsPayable},
		domain.Loan:           {Balance: LoansReceivable, Accrued: InterestReceivableLoans},
	}
}

// DefaultTable builds the seeded table. It panics only if the seed itself is inconsistent.
func DefaultTable() *Table {
	t, err := NewTable(DefaultAccounts(), DefaultMappings(), DefaultBindings())
	if err != nil {
		panic(fmt.Sprintf("coa: default table is invalid: %v", err))
	}
	return t
}
