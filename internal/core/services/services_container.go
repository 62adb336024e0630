package services

import (
	"log/slog"

	"github.com/SscSPs/bank_posting_core/internal/core/coa"
	portsrepo "github.com/SscSPs/bank_posting_core/internal/core/ports/repositories"
	portssvc "github.com/SscSPs/bank_posting_core/internal/core/ports/services"
	"github.com/SscSPs/bank_posting_core/internal/events"
	"github.com/SscSPs/bank_posting_core/internal/platform/config"
	"github.com/SscSPs/bank_posting_core/internal/platform/locker"
)

// Workers are the long-running loops main starts next to the HTTP server.
// Outbox is nil when ledger and balances share one store.
type Workers struct {
	Accrual *AccrualScheduler
	Outbox  *OutboxApplier
}

// NewServiceContainer creates a new service container with properly initialized dependencies
func NewServiceContainer(cfg *config.Config, repos portsrepo.RepositoryProvider, registry *coa.Registry, publisher events.Publisher) (*portssvc.ServiceContainer, *Workers) {
	workers := &Workers{}

	// Publication happens once the balance store reflects an entry: straight after commit
	// in shared mode, after the applier has moved it in outbox mode.
	var listener CommitListener = PublishListener{Publisher: publisher}
	if repos.Outbox != nil {
		workers.Outbox = NewOutboxApplier(repos.Outbox, repos.Ledger, publisher, cfg.OutboxBatchSize, cfg.OutboxApplyInterval)
		listener = workers.Outbox
	}

	posting := NewPostingService(
		PostingDependencies{
			Ledger:   repos.Ledger,
			Balances: repos.Balances,
			Writer:   repos.Writer,
			Registry: registry,
			Locker:   locker.New(cfg.LockTimeout, cfg.LockMaxHold, slog.Default()),
			Clock:    SystemClock{},
		},
		PostingConfig{
			PostingTimeout:      cfg.PostingTimeout,
			IdempotencyCacheTTL: cfg.IdempotencyCacheTTL,
			AccountingLocation:  cfg.AccountingLocation,
			OutboxMode:          repos.Outbox != nil,
		},
		WithCommitListener(listener),
	)

	workers.Accrual = NewAccrualScheduler(repos.Balances, posting, AccrualConfig{
		Concurrency:   cfg.AccrualConcurrency,
		RatePerSecond: cfg.AccrualRatePerSecond,
		PageSize:      cfg.AccrualPageSize,
		Location:      cfg.AccountingLocation,
		Hour:          cfg.AccountingHour,
	})

	return &portssvc.ServiceContainer{
		Posting: posting,
		Accrual: workers.Accrual,
	}, workers
}
