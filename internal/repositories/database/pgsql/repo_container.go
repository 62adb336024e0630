package pgsql

import (
	portsrepo "github.com/SscSPs/bank_posting_core/internal/core/ports/repositories"
	"github.com/jackc/pgx/v5/pgxpool"
)

// NewRepositoryProvider wires the repositories for one or two databases.
// A nil balancePool, or the ledger pool itself, selects shared-store mode.
func NewRepositoryProvider(ledgerPool, balancePool *pgxpool.Pool) portsrepo.RepositoryProvider {
	ledgerRepo := newPgxLedgerRepository(ledgerPool)

	if balancePool == nil || balancePool == ledgerPool {
		return portsrepo.RepositoryProvider{
			Ledger:   ledgerRepo,
			Balances: newPgxBalanceRepository(ledgerPool),
			Writer:   newPgxSharedPostingWriter(ledgerPool),
		}
	}

	return portsrepo.RepositoryProvider{
		Ledger:   ledgerRepo,
		Balances: newPgxBalanceRepository(balancePool),
		Writer:   newPgxOutboxPostingWriter(ledgerPool),
		Outbox:   newPgxOutboxStore(ledgerPool, balancePool),
	}
}
