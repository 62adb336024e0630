package repositories

import (
	"context"

	"github.com/SscSPs/bank_posting_core/internal/core/domain"
	"github.com/shopspring/decimal"
)

// BalanceReader defines read operations against the balance store.
type BalanceReader interface {
	// FindAccountByID retrieves an operational account. Returns apperrors.ErrNotFound if absent.
	FindAccountByID(ctx context.Context, accountID string) (*domain.OperationalAccount, error)

	// FindAccountsByIDs retrieves several accounts keyed by id. Missing ids are absent from the map.
	FindAccountsByIDs(ctx context.Context, accountIDs []string) (map[string]domain.OperationalAccount, error)

	// ListAmortizationRows returns a loan's schedule ordered by installment index.
	ListAmortizationRows(ctx context.Context, loanID string) ([]domain.AmortizationRow, error)

	// SumCustomerOutstanding sums the balance of the customer's loans with the same product code,
	// excluding excludeAccountID.
	SumCustomerOutstanding(ctx context.Context, customerID, productCode, excludeAccountID string) (decimal.Decimal, error)

	// ListAccrualCandidates pages through active accounts with a positive interest rate
	// in ascending id order, starting after afterID.
	ListAccrualCandidates(ctx context.Context, afterID string, limit int) ([]domain.OperationalAccount, error)
}
