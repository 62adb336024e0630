package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/SscSPs/bank_posting_core/internal/apperrors"
	"github.com/SscSPs/bank_posting_core/internal/core/domain"
	portsrepo "github.com/SscSPs/bank_posting_core/internal/core/ports/repositories"
	"github.com/SscSPs/bank_posting_core/internal/utils/accounting"
	"github.com/shopspring/decimal"
)

// Store keeps the ledger and the balances in one process under a single lock,
// so a commit is visible to readers all at once or not at all.
type Store struct {
	mu         sync.RWMutex
	gl         map[string]domain.GLAccount
	entries    []domain.JournalEntry
	byRef      map[string]int
	accounts   map[string]domain.OperationalAccount
	schedules  map[string][]domain.AmortizationRow
	nextID     int64
	failCommit error
}

func NewStore() *Store {
	return &Store{
		gl:        make(map[string]domain.GLAccount),
		byRef:     make(map[string]int),
		accounts:  make(map[string]domain.OperationalAccount),
		schedules: make(map[string][]domain.AmortizationRow),
		nextID:    1,
	}
}

// SeedAccount inserts or replaces an operational account.
func (s *Store) SeedAccount(acc domain.OperationalAccount) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acc.AccountID] = acc
}

// SeedSchedule replaces a loan's amortization table.
func (s *Store) SeedSchedule(loanID string, rows []domain.AmortizationRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := append([]domain.AmortizationRow(nil), rows...)
	sort.Slice(cp, func(i, j int) bool { return cp[i].Index < cp[j].Index })
	s.schedules[loanID] = cp
}

// FailNextCommit makes the next Commit fail with err without writing anything.
func (s *Store) FailNextCommit(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failCommit = err
}

// EntryCount returns the number of committed entries.
func (s *Store) EntryCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Entries returns a copy of every committed entry in id order.
func (s *Store) Entries() []domain.JournalEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.JournalEntry(nil), s.entries...)
}

func (s *Store) SeedChartOfAccounts(ctx context.Context, accounts []domain.GLAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := make(map[string]domain.AccountType, len(s.gl))
	for code, a := range s.gl {
		stored[code] = a.Kind
	}
	if err := domain.CheckKindsUnchanged(stored, accounts); err != nil {
		return apperrors.NewAppError(apperrors.CodeStoreFatal, "chart of accounts conflicts with the stored catalogue", err)
	}
	for _, a := range accounts {
		existing, ok := s.gl[a.Code]
		if ok {
			existing.Name = a.Name
			a = existing
		}
		s.gl[a.Code] = a
	}
	return nil
}

func (s *Store) FindEntriesByReference(ctx context.Context, references ...string) ([]domain.JournalEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.JournalEntry
	for _, ref := range references {
		if i, ok := s.byRef[ref]; ok {
			out = append(out, s.entries[i])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EntryID < out[j].EntryID })
	return out, nil
}

func (s *Store) SumAccountLines(ctx context.Context, accountID, glCode string, normalSide domain.Side) (decimal.Decimal, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := decimal.Zero
	var last int64
	for _, e := range s.entries {
		for _, l := range e.Lines {
			if l.AccountID != accountID || l.GLCode != glCode {
				continue
			}
			signed, err := accounting.CalculateSignedAmount(l, normalSide)
			if err != nil {
				return decimal.Zero, 0, err
			}
			sum = sum.Add(signed)
			last = e.EntryID
		}
	}
	return sum, last, nil
}

// HasPendingOutbox is always false: the store applies balances in the same commit as the ledger.
func (s *Store) HasPendingOutbox(ctx context.Context, accountIDs []string) (bool, error) {
	return false, nil
}

func (s *Store) FindAccountByID(ctx context.Context, accountID string) (*domain.OperationalAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[accountID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return &acc, nil
}

func (s *Store) FindAccountsByIDs(ctx context.Context, accountIDs []string) (map[string]domain.OperationalAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]domain.OperationalAccount, len(accountIDs))
	for _, id := range accountIDs {
		if acc, ok := s.accounts[id]; ok {
			out[id] = acc
		}
	}
	return out, nil
}

func (s *Store) ListAmortizationRows(ctx context.Context, loanID string) ([]domain.AmortizationRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]domain.AmortizationRow(nil), s.schedules[loanID]...), nil
}

func (s *Store) SumCustomerOutstanding(ctx context.Context, customerID, productCode, excludeAccountID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sum := decimal.Zero
	for id, acc := range s.accounts {
		if id == excludeAccountID || acc.CustomerID != customerID || acc.ProductKind != domain.Loan || acc.Product.ProductCode != productCode {
			continue
		}
		sum = sum.Add(acc.Balance)
	}
	return sum, nil
}

func (s *Store) ListAccrualCandidates(ctx context.Context, afterID string, limit int) ([]domain.OperationalAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.OperationalAccount
	for id, acc := range s.accounts {
		if id <= afterID || acc.Status != domain.StatusActive || !acc.Product.InterestRate.IsPositive() {
			continue
		}
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AccountID < out[j].AccountID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Commit writes the batch entries, lines and balance deltas in one critical section.
func (s *Store) Commit(ctx context.Context, batch domain.PostingBatch) ([]domain.JournalEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.failCommit; err != nil {
		s.failCommit = nil
		return nil, err
	}
	for _, e := range batch.Entries {
		if _, exists := s.byRef[e.Reference]; exists {
			return nil, apperrors.ErrDuplicate
		}
	}
	accounts := make(map[string]domain.OperationalAccount, len(batch.Deltas))
	for _, d := range batch.Deltas {
		acc, ok := s.accounts[d.AccountID]
		if !ok {
			return nil, apperrors.NewAppError(apperrors.CodeStoreFatal, "balance row missing for "+d.AccountID, apperrors.ErrNotFound)
		}
		accounts[d.AccountID] = acc
	}

	committed := make([]domain.JournalEntry, len(batch.Entries))
	for i, draft := range batch.Entries {
		committed[i] = draft.ToEntry(s.nextID, batch.PostedAt, batch.Actor)
		s.nextID++
	}

	now := time.Now().UTC()
	for _, d := range batch.Deltas {
		acc := accounts[d.AccountID]
		acc.ApplyDelta(d, committed[d.EntryIndex].EntryID, now)
		if len(d.Installments) > 0 {
			rows := domain.ApplyInstallments(s.schedules[d.AccountID], d.Installments, batch.Today)
			s.schedules[d.AccountID] = rows
			acc.RefreshSchedule(rows)
		}
		accounts[d.AccountID] = acc
	}

	for id, acc := range accounts {
		s.accounts[id] = acc
	}
	for _, e := range committed {
		s.byRef[e.Reference] = len(s.entries)
		s.entries = append(s.entries, e)
	}
	return committed, nil
}

var (
	_ portsrepo.LedgerRepositoryFacade = (*Store)(nil)
	_ portsrepo.BalanceReader          = (*Store)(nil)
	_ portsrepo.PostingWriter          = (*Store)(nil)
)
