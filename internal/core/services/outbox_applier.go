package services

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/SscSPs/bank_posting_core/internal/core/domain"
	portsrepo "github.com/SscSPs/bank_posting_core/internal/core/ports/repositories"
	"github.com/SscSPs/bank_posting_core/internal/events"
	"github.com/SscSPs/bank_posting_core/internal/platform/logger"
)

// OutboxApplier moves committed ledger batches into the balance store when the two are separate
// databases, and announces a batch's entries once the balance store reflects all of them.
type OutboxApplier struct {
	BaseService
	outbox    portsrepo.OutboxStore
	ledger    portsrepo.LedgerReader
	publisher events.Publisher
	batchSize int
	interval  time.Duration
	mu        sync.Mutex
}

// NewOutboxApplier creates an applier. A nil publisher drops events.
func NewOutboxApplier(outbox portsrepo.OutboxStore, ledger portsrepo.LedgerReader, publisher events.Publisher, batchSize int, interval time.Duration) *OutboxApplier {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &OutboxApplier{
		outbox:    outbox,
		ledger:    ledger,
		publisher: publisher,
		batchSize: batchSize,
		interval:  interval,
	}
}

// DrainOnce applies every pending record and returns how many it applied.
func (a *OutboxApplier) DrainOnce(ctx context.Context) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	applied := 0
	for {
		records, err := a.outbox.ListPending(ctx, a.batchSize)
		if err != nil {
			return applied, storeError(err)
		}
		for _, rec := range records {
			ok, err := a.outbox.Apply(ctx, rec)
			if err != nil {
				// Records apply in entry order; stop so later batches never overtake this one.
				a.LogError(ctx, err, "Failed to apply outbox record",
					slog.Int64("entry_id", rec.EntryID),
					slog.Any("references", rec.References))
				return applied, storeError(err)
			}
			if !ok {
				continue
			}
			applied++
			a.publish(ctx, rec)
		}
		if len(records) < a.batchSize {
			return applied, nil
		}
	}
}

func (a *OutboxApplier) publish(ctx context.Context, rec domain.OutboxRecord) {
	entries, err := a.ledger.FindEntriesByReference(ctx, rec.References...)
	if err != nil {
		a.LogError(ctx, err, "Failed to load applied entry for publication", slog.Int64("entry_id", rec.EntryID))
		return
	}
	if err := a.publisher.Publish(ctx, entries...); err != nil {
		a.GetLogger(ctx).Warn("Failed to publish committed entry",
			slog.Int64("entry_id", rec.EntryID),
			slog.String("error", err.Error()))
	}
}

// EntriesCommitted applies the freshly committed entries straight away so the next posting
// against the same accounts is not refused. Whatever fails here is left for Run.
func (a *OutboxApplier) EntriesCommitted(ctx context.Context, entries []domain.JournalEntry) {
	if _, err := a.DrainOnce(ctx); err != nil {
		a.GetLogger(ctx).Warn("Synchronous outbox apply failed, leaving it to the background applier",
			slog.Int("entries", len(entries)),
			slog.String("error", err.Error()))
	}
}

// Run drains the outbox every interval until ctx is cancelled.
func (a *OutboxApplier) Run(ctx context.Context) {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := a.DrainOnce(ctx)
			if err != nil {
				continue
			}
			if n > 0 {
				a.LogDebug(ctx, "Outbox drained", slog.Int("applied", n))
			}
		}
	}
}

// PublishListener publishes entries as soon as they commit. Used when ledger and balances
// share one database and the commit already updated the balance rows.
type PublishListener struct {
	Publisher events.Publisher
}

func (p PublishListener) EntriesCommitted(ctx context.Context, entries []domain.JournalEntry) {
	if p.Publisher == nil {
		return
	}
	if err := p.Publisher.Publish(ctx, entries...); err != nil {
		logger.FromContext(ctx).Warn("Failed to publish committed entries",
			slog.Int("entries", len(entries)),
			slog.String("error", err.Error()))
	}
}

var (
	_ CommitListener = (*OutboxApplier)(nil)
	_ CommitListener = PublishListener{}
)
