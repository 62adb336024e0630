package repositories

// RepositoryProvider holds all repository interfaces needed by services.
// Outbox is nil when ledger and balances share one store.
type RepositoryProvider struct {
	Ledger   LedgerRepositoryFacade
	Balances BalanceReader
	Writer   PostingWriter
	Outbox   OutboxStore
}
