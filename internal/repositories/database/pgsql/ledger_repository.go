package pgsql

import (
	"context"
	"database/sql"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/SscSPs/bank_posting_core/internal/apperrors"
	"github.com/SscSPs/bank_posting_core/internal/core/domain"
	portsrepo "github.com/SscSPs/bank_posting_core/internal/core/ports/repositories"
)

// PgxLedgerRepository reads the append-only journal.
type PgxLedgerRepository struct {
	BaseRepository
}

func newPgxLedgerRepository(pool *pgxpool.Pool) *PgxLedgerRepository {
	return &PgxLedgerRepository{BaseRepository: BaseRepository{Pool: pool}}
}

// Ensure PgxLedgerRepository implements portsrepo.LedgerRepositoryFacade
var _ portsrepo.LedgerRepositoryFacade = (*PgxLedgerRepository)(nil)

// FindEntriesByReference retrieves the entries stored under any of the references, with their lines.
func (r *PgxLedgerRepository) FindEntriesByReference(ctx context.Context, references ...string) ([]domain.JournalEntry, error) {
	if len(references) == 0 {
		return nil, nil
	}
	return findEntriesByReference(ctx, r.Pool, references)
}

func findEntriesByReference(ctx context.Context, q querier, references []string) ([]domain.JournalEntry, error) {
	query := `
		SELECT entry_id, reference, description, event_kind, posted_at, actor, compensates_reference
		FROM journal_entries
		WHERE reference = ANY($1)
		ORDER BY entry_id;
	`
	rows, err := q.Query(ctx, query, references)
	if err != nil {
		return nil, classify(err, "failed to query journal entries")
	}
	defer rows.Close()

	var entries []domain.JournalEntry
	index := make(map[int64]int)
	ids := make([]int64, 0, len(references))
	for rows.Next() {
		var e domain.JournalEntry
		var compensates sql.NullString
		if err := rows.Scan(&e.EntryID, &e.Reference, &e.Description, &e.EventKind, &e.PostedAt, &e.Actor, &compensates); err != nil {
			return nil, classify(err, "failed to scan journal entry")
		}
		e.CompensatesReference = compensates.String
		e.PostedAt = e.PostedAt.UTC()
		index[e.EntryID] = len(entries)
		ids = append(ids, e.EntryID)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "error iterating journal entries")
	}
	if len(entries) == 0 {
		return nil, nil
	}

	lineQuery := `
		SELECT entry_id, gl_code, account_id, debit, credit, memo
		FROM journal_lines
		WHERE entry_id = ANY($1)
		ORDER BY entry_id, line_no;
	`
	lineRows, err := q.Query(ctx, lineQuery, ids)
	if err != nil {
		return nil, classify(err, "failed to query journal lines")
	}
	defer lineRows.Close()

	for lineRows.Next() {
		var l domain.JournalLine
		var accountID sql.NullString
		if err := lineRows.Scan(&l.EntryID, &l.GLCode, &accountID, &l.Debit, &l.Credit, &l.Memo); err != nil {
			return nil, classify(err, "failed to scan journal line")
		}
		l.AccountID = accountID.String
		i := index[l.EntryID]
		entries[i].Lines = append(entries[i].Lines, l)
	}
	if err := lineRows.Err(); err != nil {
		return nil, classify(err, "error iterating journal lines")
	}
	return entries, nil
}

// SumAccountLines sums the lines tagged with accountID on glCode, signed by the code's normal side.
func (r *PgxLedgerRepository) SumAccountLines(ctx context.Context, accountID, glCode string, normalSide domain.Side) (decimal.Decimal, int64, error) {
	query := `
		SELECT COALESCE(SUM(debit), 0), COALESCE(SUM(credit), 0), COALESCE(MAX(entry_id), 0)
		FROM journal_lines
		WHERE account_id = $1 AND gl_code = $2;
	`
	var debits, credits decimal.Decimal
	var lastID int64
	if err := r.Pool.QueryRow(ctx, query, accountID, glCode).Scan(&debits, &credits, &lastID); err != nil {
		return decimal.Zero, 0, classify(err, "failed to sum lines for account "+accountID)
	}
	if normalSide == domain.Debit {
		return debits.Sub(credits), lastID, nil
	}
	return credits.Sub(debits), lastID, nil
}

// HasPendingOutbox reports whether an unapplied outbox row touches any of the accounts.
func (r *PgxLedgerRepository) HasPendingOutbox(ctx context.Context, accountIDs []string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM posting_outbox
			WHERE applied_at IS NULL AND account_ids && $1
		);
	`
	var pending bool
	if err := r.Pool.QueryRow(ctx, query, accountIDs).Scan(&pending); err != nil {
		return false, classify(err, "failed to check outbox backlog")
	}
	return pending, nil
}

// SeedChartOfAccounts inserts missing GL accounts and refreshes names. A code already stored
// with a different kind fails the whole seed.
func (r *PgxLedgerRepository) SeedChartOfAccounts(ctx context.Context, accounts []domain.GLAccount) error {
	codes := make([]string, len(accounts))
	for i, a := range accounts {
		codes[i] = a.Code
	}
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT code, kind FROM gl_accounts WHERE code = ANY($1) FOR UPDATE;`, codes)
		if err != nil {
			return classify(err, "failed to read chart of accounts")
		}
		stored := make(map[string]domain.AccountType, len(codes))
		for rows.Next() {
			var code string
			var kind domain.AccountType
			if err := rows.Scan(&code, &kind); err != nil {
				rows.Close()
				return classify(err, "failed to scan GL account")
			}
			stored[code] = kind
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return classify(err, "error iterating GL accounts")
		}
		if err := domain.CheckKindsUnchanged(stored, accounts); err != nil {
			return apperrors.NewAppError(apperrors.CodeStoreFatal, "chart of accounts conflicts with the stored catalogue", err)
		}

		batch := &pgx.Batch{}
		query := `
			INSERT INTO gl_accounts (code, name, kind, normal_side)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (code) DO UPDATE
			SET name = EXCLUDED.name;
		`
		for _, a := range accounts {
			batch.Queue(query, a.Code, a.Name, a.Kind, a.NormalSide())
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return classify(err, "failed to seed chart of accounts")
		}
		return nil
	})
}
