package pgsql

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/SscSPs/bank_posting_core/internal/apperrors"
	"github.com/SscSPs/bank_posting_core/internal/core/domain"
	portsrepo "github.com/SscSPs/bank_posting_core/internal/core/ports/repositories"
)

// PgxBalanceRepository reads and updates operational accounts and loan schedules.
type PgxBalanceRepository struct {
	BaseRepository
}

func newPgxBalanceRepository(pool *pgxpool.Pool) *PgxBalanceRepository {
	return &PgxBalanceRepository{BaseRepository: BaseRepository{Pool: pool}}
}

// Ensure PgxBalanceRepository implements portsrepo.BalanceReader
var _ portsrepo.BalanceReader = (*PgxBalanceRepository)(nil)

const accountColumns = `
	account_id, customer_id, product_kind, status, balance, accrued_interest,
	months_paid, next_due_date, opened_at, last_entry_id, updated_at,
	product_code, interest_rate, interest_method, minimum_balance, term_months,
	maturity_date, prepayment_policy, grace_months, grace_type, penalty_rate,
	early_withdrawal_penalty_rate, customer_loan_cap, origination_fee_rate, fee_strategy`

func scanAccount(row pgx.Row) (domain.OperationalAccount, error) {
	var a domain.OperationalAccount
	p := &a.Product
	err := row.Scan(
		&a.AccountID, &a.CustomerID, &a.ProductKind, &a.Status, &a.Balance, &a.AccruedInterest,
		&a.MonthsPaid, &a.NextDueDate, &a.OpenedAt, &a.LastEntryID, &a.UpdatedAt,
		&p.ProductCode, &p.InterestRate, &p.InterestMethod, &p.MinimumBalance, &p.TermMonths,
		&p.MaturityDate, &p.Prepayment, &p.GraceMonths, &p.GraceType, &p.PenaltyRate,
		&p.EarlyWithdrawalPenaltyRate, &p.CustomerLoanCap, &p.OriginationFeeRate, &p.FeeStrategy,
	)
	return a, err
}

// FindAccountByID retrieves an operational account.
func (r *PgxBalanceRepository) FindAccountByID(ctx context.Context, accountID string) (*domain.OperationalAccount, error) {
	query := `SELECT ` + accountColumns + ` FROM operational_accounts WHERE account_id = $1;`
	acc, err := scanAccount(r.Pool.QueryRow(ctx, query, accountID))
	if err != nil {
		return nil, classify(err, "failed to find account "+accountID)
	}
	return &acc, nil
}

// FindAccountsByIDs retrieves several accounts keyed by id.
func (r *PgxBalanceRepository) FindAccountsByIDs(ctx context.Context, accountIDs []string) (map[string]domain.OperationalAccount, error) {
	return findAccounts(ctx, r.Pool, accountIDs, false)
}

// findAccounts reads accounts, locking their rows when forUpdate is set (inside a transaction).
func findAccounts(ctx context.Context, q querier, accountIDs []string, forUpdate bool) (map[string]domain.OperationalAccount, error) {
	out := make(map[string]domain.OperationalAccount, len(accountIDs))
	if len(accountIDs) == 0 {
		return out, nil
	}
	query := `SELECT ` + accountColumns + ` FROM operational_accounts WHERE account_id = ANY($1) ORDER BY account_id`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, query, accountIDs)
	if err != nil {
		return nil, classify(err, "failed to query accounts")
	}
	defer rows.Close()
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, classify(err, "failed to scan account")
		}
		out[acc.AccountID] = acc
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "error iterating accounts")
	}
	return out, nil
}

// ListAmortizationRows returns a loan's schedule ordered by installment index.
func (r *PgxBalanceRepository) ListAmortizationRows(ctx context.Context, loanID string) ([]domain.AmortizationRow, error) {
	return listAmortizationRows(ctx, r.Pool, loanID, false)
}

func listAmortizationRows(ctx context.Context, q querier, loanID string, forUpdate bool) ([]domain.AmortizationRow, error) {
	query := `
		SELECT loan_id, installment_index, due_date,
		       expected_principal, expected_interest, expected_penalty,
		       paid_principal, paid_interest, paid_penalty, status
		FROM amortization_rows
		WHERE loan_id = $1
		ORDER BY installment_index`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, query, loanID)
	if err != nil {
		return nil, classify(err, "failed to query amortization rows for "+loanID)
	}
	defer rows.Close()

	var out []domain.AmortizationRow
	for rows.Next() {
		var row domain.AmortizationRow
		if err := rows.Scan(&row.LoanID, &row.Index, &row.DueDate,
			&row.ExpectedPrincipal, &row.ExpectedInterest, &row.ExpectedPenalty,
			&row.PaidPrincipal, &row.PaidInterest, &row.PaidPenalty, &row.Status); err != nil {
			return nil, classify(err, "failed to scan amortization row")
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "error iterating amortization rows")
	}
	return out, nil
}

// SumCustomerOutstanding sums the open loan balances of a customer for one product code.
func (r *PgxBalanceRepository) SumCustomerOutstanding(ctx context.Context, customerID, productCode, excludeAccountID string) (decimal.Decimal, error) {
	query := `
		SELECT COALESCE(SUM(balance), 0)
		FROM operational_accounts
		WHERE customer_id = $1 AND product_code = $2 AND product_kind = $3
		  AND status <> $4 AND account_id <> $5;
	`
	var total decimal.Decimal
	err := r.Pool.QueryRow(ctx, query, customerID, productCode, domain.Loan, domain.StatusClosed, excludeAccountID).Scan(&total)
	if err != nil {
		return decimal.Zero, classify(err, "failed to sum outstanding loans for customer "+customerID)
	}
	return total, nil
}

// ListAccrualCandidates pages through active, interest-bearing accounts in id order.
func (r *PgxBalanceRepository) ListAccrualCandidates(ctx context.Context, afterID string, limit int) ([]domain.OperationalAccount, error) {
	query := `SELECT ` + accountColumns + `
		FROM operational_accounts
		WHERE status = $1 AND interest_rate > 0 AND account_id > $2
		ORDER BY account_id
		LIMIT $3;`
	rows, err := r.Pool.Query(ctx, query, domain.StatusActive, afterID, limit)
	if err != nil {
		return nil, classify(err, "failed to list accrual candidates")
	}
	defer rows.Close()

	var out []domain.OperationalAccount
	for rows.Next() {
		acc, err := scanAccount(rows)
		if err != nil {
			return nil, classify(err, "failed to scan accrual candidate")
		}
		out = append(out, acc)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err, "error iterating accrual candidates")
	}
	return out, nil
}

// applyDeltas locks the touched balance rows and applies every delta in entry order.
// entryIDs maps the batch entry index to its committed id.
func applyDeltas(ctx context.Context, tx pgx.Tx, deltas []domain.BalanceDelta, entryIDs []int64, today time.Time, now time.Time) error {
	ids := make([]string, 0, len(deltas))
	seen := make(map[string]bool, len(deltas))
	for _, d := range deltas {
		if !seen[d.AccountID] {
			seen[d.AccountID] = true
			ids = append(ids, d.AccountID)
		}
	}
	accounts, err := findAccounts(ctx, tx, ids, true)
	if err != nil {
		return err
	}

	for _, d := range deltas {
		acc, ok := accounts[d.AccountID]
		if !ok {
			return apperrors.NewAppError(apperrors.CodeStoreFatal, "balance row missing for "+d.AccountID, apperrors.ErrNotFound)
		}
		if d.EntryIndex < 0 || d.EntryIndex >= len(entryIDs) {
			return apperrors.NewAppError(apperrors.CodeInternal, fmt.Sprintf("delta references entry %d of %d", d.EntryIndex, len(entryIDs)), nil)
		}
		acc.ApplyDelta(d, entryIDs[d.EntryIndex], now)

		if len(d.Installments) > 0 {
			rows, err := listAmortizationRows(ctx, tx, d.AccountID, true)
			if err != nil {
				return err
			}
			rows = domain.ApplyInstallments(rows, d.Installments, today)
			if err := updateAmortizationRows(ctx, tx, rows); err != nil {
				return err
			}
			acc.RefreshSchedule(rows)
		}
		accounts[d.AccountID] = acc
	}

	batch := &pgx.Batch{}
	query := `
		UPDATE operational_accounts
		SET balance = $2, accrued_interest = $3, status = $4, months_paid = $5,
		    next_due_date = $6, last_entry_id = $7, updated_at = $8
		WHERE account_id = $1;
	`
	for _, id := range ids {
		acc := accounts[id]
		batch.Queue(query, acc.AccountID, acc.Balance, acc.AccruedInterest, acc.Status,
			acc.MonthsPaid, acc.NextDueDate, acc.LastEntryID, acc.UpdatedAt)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return classify(err, "failed to update balance rows")
	}
	return nil
}

func updateAmortizationRows(ctx context.Context, tx pgx.Tx, rows []domain.AmortizationRow) error {
	batch := &pgx.Batch{}
	query := `
		UPDATE amortization_rows
		SET paid_principal = $3, paid_interest = $4, paid_penalty = $5, status = $6
		WHERE loan_id = $1 AND installment_index = $2;
	`
	for _, row := range rows {
		batch.Queue(query, row.LoanID, row.Index, row.PaidPrincipal, row.PaidInterest, row.PaidPenalty, row.Status)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return classify(err, "failed to update amortization rows")
	}
	return nil
}
