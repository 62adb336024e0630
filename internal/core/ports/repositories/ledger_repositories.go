package repositories

import (
	"context"

	"github.com/SscSPs/bank_posting_core/internal/core/domain"
	"github.com/shopspring/decimal"
)

// LedgerReader defines read operations against the ledger store.
type LedgerReader interface {
	// FindEntriesByReference returns the committed entries stored under any of the references,
	// with their lines, ordered by entry id. Missing references are simply absent.
	FindEntriesByReference(ctx context.Context, references ...string) ([]domain.JournalEntry, error)

	// SumAccountLines returns the signed sum of every line tagged with accountID on glCode,
	// together with the highest entry id included in the sum.
	SumAccountLines(ctx context.Context, accountID, glCode string, normalSide domain.Side) (decimal.Decimal, int64, error)

	// HasPendingOutbox reports whether any committed entry touching the accounts is not yet applied to the balance store.
	HasPendingOutbox(ctx context.Context, accountIDs []string) (bool, error)
}

// ChartOfAccountsWriter seeds the chart of accounts into the ledger store.
type ChartOfAccountsWriter interface {
	SeedChartOfAccounts(ctx context.Context, accounts []domain.GLAccount) error
}

// LedgerRepositoryFacade combines the ledger-side operations.
type LedgerRepositoryFacade interface {
	LedgerReader
	ChartOfAccountsWriter
}
