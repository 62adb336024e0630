package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// AccountType defines the fundamental accounting type of a general-ledger account.
type AccountType string

const (
	Asset     AccountType = "ASSET"
	Liability AccountType = "LIABILITY"
	Equity    AccountType = "EQUITY"
	Income    AccountType = "INCOME"
	Expense   AccountType = "EXPENSE"
)

// Side is the column of a journal line: debit or credit.
type Side string

const (
	Debit  Side = "DEBIT"
	Credit Side = "CREDIT"
)

// NormalSide returns the side on which increases of this account type are recorded.
func (t AccountType) NormalSide() (Side, error) {
	switch t {
	case Asset, Expense:
		return Debit, nil
	case Liability, Equity, Income:
		return Credit, nil
	default:
		return "", fmt.Errorf("unknown account type %q", t)
	}
}

// GLAccount is an entry in the chart of accounts.
type GLAccount struct {
	Code string      `json:"code"`
	Name string      `json:"name"`
	Kind AccountType `json:"kind"`
}

// NormalSide is derived from the account kind and never stored independently.
func (a GLAccount) NormalSide() Side {
	side, _ := a.Kind.NormalSide()
	return side
}

// CheckKindsUnchanged fails when a GL code in accounts is already stored with another kind.
// The kind fixes the normal side every posted line was signed against, so it is immutable.
func CheckKindsUnchanged(stored map[string]AccountType, accounts []GLAccount) error {
	for _, a := range accounts {
		if kind, ok := stored[a.Code]; ok && kind != a.Kind {
			return fmt.Errorf("GL account %s is stored as %s and cannot become %s", a.Code, kind, a.Kind)
		}
	}
	return nil
}

// AccountStatus is the lifecycle state of an operational account.
type AccountStatus string

const (
	StatusActive AccountStatus = "active"
	StatusFrozen AccountStatus = "frozen"
	StatusClosed AccountStatus = "closed"
)

// OperationalAccount is a balance-bearing, customer-facing account (savings or loan).
// Balance is the outstanding principal for loans and the liability owed to the customer for deposits.
type OperationalAccount struct {
	AccountID       string          `json:"accountID"`
	CustomerID      string          `json:"customerID"`
	ProductKind     ProductKind     `json:"productKind"`
	Status          AccountStatus   `json:"status"`
	Balance         decimal.Decimal `json:"balance"`
	AccruedInterest decimal.Decimal `json:"accruedInterest"`
	MonthsPaid      int             `json:"monthsPaid"`
	NextDueDate     *time.Time      `json:"nextDueDate,omitempty"`
	Product         ProductParams   `json:"product"`
	OpenedAt        time.Time       `json:"openedAt"`
	LastEntryID     int64           `json:"lastEntryID"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// IsActive reports whether the account accepts postings.
func (a OperationalAccount) IsActive() bool {
	return a.Status == StatusActive
}

// ApplyDelta moves the balance and accrued interest of the account by the delta
// established by entryID. A retiring delta that brings the balance to zero closes the account.
func (a *OperationalAccount) ApplyDelta(d BalanceDelta, entryID int64, at time.Time) {
	a.Balance = a.Balance.Add(d.Balance)
	a.AccruedInterest = a.AccruedInterest.Add(d.AccruedInterest)
	if entryID > a.LastEntryID {
		a.LastEntryID = entryID
	}
	if d.Retire && a.Balance.IsZero() {
		a.Status = StatusClosed
	}
	a.UpdatedAt = at
}

// RefreshSchedule recomputes the loan fields derived from the amortization table.
func (a *OperationalAccount) RefreshSchedule(rows []AmortizationRow) {
	paid := 0
	var next *time.Time
	for _, r := range rows {
		if r.IsPaid() {
			paid++
			continue
		}
		if next == nil || r.DueDate.Before(*next) {
			due := r.DueDate
			next = &due
		}
	}
	a.MonthsPaid = paid
	a.NextDueDate = next
}
