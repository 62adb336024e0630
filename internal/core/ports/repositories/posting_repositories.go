package repositories

import (
	"context"

	"github.com/SscSPs/bank_posting_core/internal/core/domain"
)

// PostingWriter durably commits a posting batch.
type PostingWriter interface {
	// Commit writes every entry of the batch with its lines and applies the balance deltas,
	// or writes nothing. It returns the committed entries with their assigned ids.
	// A reference that already exists surfaces as apperrors.ErrDuplicate.
	Commit(ctx context.Context, batch domain.PostingBatch) ([]domain.JournalEntry, error)
}

// OutboxStore drains committed entries into the balance store when the two stores are distinct.
type OutboxStore interface {
	// ListPending returns unapplied outbox records ordered by entry id.
	ListPending(ctx context.Context, limit int) ([]domain.OutboxRecord, error)

	// Apply applies one record to the balance store exactly once and marks it applied.
	// It reports false when the record had already been applied.
	Apply(ctx context.Context, record domain.OutboxRecord) (bool, error)
}
