package pgsql

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/SscSPs/bank_posting_core/internal/apperrors"
	"github.com/SscSPs/bank_posting_core/internal/core/domain"
	portsrepo "github.com/SscSPs/bank_posting_core/internal/core/ports/repositories"
)

// PgxOutboxStore reads pending outbox rows from the ledger and applies them to the balance store.
type PgxOutboxStore struct {
	ledger   BaseRepository
	balances BaseRepository
}

func newPgxOutboxStore(ledgerPool, balancePool *pgxpool.Pool) *PgxOutboxStore {
	return &PgxOutboxStore{
		ledger:   BaseRepository{Pool: ledgerPool},
		balances: BaseRepository{Pool: balancePool},
	}
}

var _ portsrepo.OutboxStore = (*PgxOutboxStore)(nil)

// ListPending returns unapplied outbox rows in entry order.
func (s *PgxOutboxStore) ListPending(ctx context.Context, limit int) ([]domain.OutboxRecord, error) {
	query := `
		SELECT entry_id, entry_ids, entry_refs, account_ids, payload, today, created_at
		FROM posting_outbox
		WHERE applied_at IS NULL
		ORDER BY entry_id
		LIMIT $1;
	`
	rows, err := s.ledger.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, classify(err, "failed to list pending outbox rows")
	}
	defer rows.Close()

	var out []domain.OutboxRecord
	for rows.Next() {
		var rec domain.OutboxRecord
		var payload []byte
		if err := rows.Scan(&rec.EntryID, &rec.EntryIDs, &rec.References, &rec.AccountIDs, &payload, &rec.Today, &rec.CreatedAt); err != nil {
			return nil, classify(err, "failed to scan outbox row")
		}
		if err := json.Unmarshal(payload, &rec.Deltas); err != nil {
			return nil, apperrors.NewAppError(apperrors.CodeStoreFatal, fmt.Sprintf("corrupt outbox payload for entry %d", rec.EntryID), err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "error iterating outbox rows")
	}
	return out, nil
}

// Apply records the batch in applied_entries and applies the deltas of all its entries in one
// balance transaction, then marks the outbox row applied. A batch already present in
// applied_entries is only marked.
func (s *PgxOutboxStore) Apply(ctx context.Context, record domain.OutboxRecord) (bool, error) {
	applied := false
	err := s.balances.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`INSERT INTO applied_entries (entry_id, applied_at) VALUES ($1, $2) ON CONFLICT (entry_id) DO NOTHING;`,
			record.EntryID, time.Now().UTC())
		if err != nil {
			return classify(err, "failed to record applied entry")
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		if err := applyDeltas(ctx, tx, record.Deltas, record.EntryIDs, record.Today, time.Now().UTC()); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, err
	}

	_, err = s.ledger.Pool.Exec(ctx,
		`UPDATE posting_outbox SET applied_at = $2 WHERE entry_id = $1 AND applied_at IS NULL;`,
		record.EntryID, time.Now().UTC())
	if err != nil {
		// The balance side is done; the next drain finds the row again and only marks it.
		return applied, classify(err, "failed to mark outbox row applied")
	}
	return applied, nil
}
