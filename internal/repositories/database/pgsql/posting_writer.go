package pgsql

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SscSPs/bank_posting_core/internal/apperrors"
	"github.com/SscSPs/bank_posting_core/internal/core/domain"
	portsrepo "github.com/SscSPs/bank_posting_core/internal/core/ports/repositories"
)

// PgxSharedPostingWriter commits entries and balance changes in one transaction.
// Used when the ledger and the balance tables live in the same database.
type PgxSharedPostingWriter struct {
	BaseRepository
}

func newPgxSharedPostingWriter(pool *pgxpool.Pool) *PgxSharedPostingWriter {
	return &PgxSharedPostingWriter{BaseRepository: BaseRepository{Pool: pool}}
}

var _ portsrepo.PostingWriter = (*PgxSharedPostingWriter)(nil)

// Commit inserts the entries and their lines, then locks and updates every touched balance row.
func (r *PgxSharedPostingWriter) Commit(ctx context.Context, batch domain.PostingBatch) ([]domain.JournalEntry, error) {
	var committed []domain.JournalEntry
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		entries, err := insertEntries(ctx, tx, batch)
		if err != nil {
			return err
		}
		if err := applyDeltas(ctx, tx, batch.Deltas, entryIDs(entries), batch.Today, time.Now().UTC()); err != nil {
			return err
		}
		committed = entries
		return nil
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

// PgxOutboxPostingWriter commits entries to the ledger together with one outbox row per batch.
// The balance store catches up through the outbox applier.
type PgxOutboxPostingWriter struct {
	BaseRepository
}

func newPgxOutboxPostingWriter(ledgerPool *pgxpool.Pool) *PgxOutboxPostingWriter {
	return &PgxOutboxPostingWriter{BaseRepository: BaseRepository{Pool: ledgerPool}}
}

var _ portsrepo.PostingWriter = (*PgxOutboxPostingWriter)(nil)

// Commit inserts the entries, their lines and the batch's outbox row in one ledger transaction.
// The row carries the deltas of every entry so both legs of a transfer apply together.
func (r *PgxOutboxPostingWriter) Commit(ctx context.Context, batch domain.PostingBatch) ([]domain.JournalEntry, error) {
	var committed []domain.JournalEntry
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		entries, err := insertEntries(ctx, tx, batch)
		if err != nil {
			return err
		}

		rec, err := domain.NewOutboxRecord(batch, entries)
		if err != nil {
			return apperrors.NewAppError(apperrors.CodeInternal, "failed to build outbox record", err)
		}
		payload, err := json.Marshal(rec.Deltas)
		if err != nil {
			return apperrors.NewAppError(apperrors.CodeInternal, "failed to encode outbox payload", err)
		}
		query := `
			INSERT INTO posting_outbox (entry_id, entry_ids, entry_refs, account_ids, payload, today, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7);
		`
		if _, err := tx.Exec(ctx, query, rec.EntryID, rec.EntryIDs, rec.References, rec.AccountIDs, payload, rec.Today, rec.CreatedAt); err != nil {
			return classify(err, "failed to insert outbox row")
		}
		committed = entries
		return nil
	})
	if err != nil {
		return nil, err
	}
	return committed, nil
}

// insertEntries writes every draft of the batch and returns them with their assigned ids.
func insertEntries(ctx context.Context, tx pgx.Tx, batch domain.PostingBatch) ([]domain.JournalEntry, error) {
	entryQuery := `
		INSERT INTO journal_entries (reference, description, event_kind, posted_at, actor, compensates_reference)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''))
		RETURNING entry_id;
	`
	lineQuery := `
		INSERT INTO journal_lines (entry_id, line_no, gl_code, account_id, debit, credit, memo)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7);
	`

	committed := make([]domain.JournalEntry, 0, len(batch.Entries))
	lines := &pgx.Batch{}
	for _, draft := range batch.Entries {
		var id int64
		err := tx.QueryRow(ctx, entryQuery,
			draft.Reference,
			draft.Description,
			draft.EventKind,
			batch.PostedAt,
			batch.Actor,
			draft.CompensatesReference,
		).Scan(&id)
		if err != nil {
			return nil, classify(err, "failed to insert journal entry "+draft.Reference)
		}
		entry := draft.ToEntry(id, batch.PostedAt, batch.Actor)
		for n, l := range entry.Lines {
			lines.Queue(lineQuery, id, n+1, l.GLCode, l.AccountID, l.Debit, l.Credit, l.Memo)
		}
		committed = append(committed, entry)
	}
	if err := tx.SendBatch(ctx, lines).Close(); err != nil {
		return nil, classify(err, "failed to insert journal lines")
	}
	return committed, nil
}

func entryIDs(entries []domain.JournalEntry) []int64 {
	ids := make([]int64, len(entries))
	for i, e := range entries {
		ids[i] = e.EntryID
	}
	return ids
}
