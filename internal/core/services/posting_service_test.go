package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/SscSPs/bank_posting_core/internal/apperrors"
	"github.com/SscSPs/bank_posting_core/internal/core/coa"
	"github.com/SscSPs/bank_posting_core/internal/core/domain"
	portssvc "github.com/SscSPs/bank_posting_core/internal/core/ports/services"
	"github.com/SscSPs/bank_posting_core/internal/core/services"
	"github.com/SscSPs/bank_posting_core/internal/platform/locker"
	"github.com/SscSPs/bank_posting_core/internal/repositories/memory"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var now = time.Date(2024, 6, 15, 9, 30, 0, 0, time.UTC)

func savings(id, balance string) domain.OperationalAccount {
	return domain.OperationalAccount{
		AccountID:       id,
		CustomerID:      "C-" + id,
		ProductKind:     domain.RegularSavings,
		Status:          domain.StatusActive,
		Balance:         d(balance),
		AccruedInterest: decimal.Zero,
		OpenedAt:        now.AddDate(-1, 0, 0),
	}
}

func loan(id, balance string) domain.OperationalAccount {
	acc := savings(id, balance)
	acc.ProductKind = domain.Loan
	acc.Product.InterestMethod = domain.DecliningBalance
	return acc
}

type PostingServiceTestSuite struct {
	suite.Suite
	store   *memory.Store
	locker  *locker.Locker
	service portssvc.PostingSvcFacade
	ctx     context.Context
}

func (s *PostingServiceTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.store = memory.NewStore()
	s.locker = locker.New(200*time.Millisecond, 0, nil)
	s.service = s.newService(services.PostingConfig{PostingTimeout: 2 * time.Second, IdempotencyCacheTTL: time.Minute})
}

func (s *PostingServiceTestSuite) newService(cfg services.PostingConfig) portssvc.PostingSvcFacade {
	return services.NewPostingService(services.PostingDependencies{
		Ledger:   s.store,
		Balances: s.store,
		Writer:   s.store,
		Registry: coa.NewRegistry(coa.DefaultTable()),
		Locker:   s.locker,
		Clock:    fixedClock{now},
	}, cfg)
}

func (s *PostingServiceTestSuite) balance(id string) string {
	snap, err := s.service.BalanceOf(s.ctx, id)
	s.Require().NoError(err)
	return snap.Balance.StringFixed(2)
}

func TestPostingServiceTestSuite(t *testing.T) {
	suite.Run(t, new(PostingServiceTestSuite))
}

func (s *PostingServiceTestSuite) TestDeposit() {
	s.store.SeedAccount(savings("S", "1000.00"))

	res, err := s.service.Post(s.ctx, domain.PostingRequest{
		Kind: domain.Deposit, AccountID: "S", Amount: d("250.00"), Reference: "T1", Actor: "teller-7",
	})
	s.Require().NoError(err)
	s.False(res.Duplicate)
	s.Require().Len(res.Entries, 1)

	entry := res.Primary()
	s.Equal("T1", entry.Reference)
	s.Equal("teller-7", entry.Actor)
	s.Require().Len(entry.Lines, 2)
	s.Equal(coa.CashInBank, entry.Lines[0].GLCode)
	s.Equal("250.00", entry.Lines[0].Debit.StringFixed(2))
	s.Equal(coa.SavingsDepositsPayable, entry.Lines[1].GLCode)
	s.Equal("250.00", entry.Lines[1].Credit.StringFixed(2))
	s.Equal("1250.00", s.balance("S"))

	snap, err := s.service.BalanceOf(s.ctx, "S")
	s.Require().NoError(err)
	s.Equal(entry.EntryID, snap.AsOfEntryID)
}

func (s *PostingServiceTestSuite) TestDuplicateReturnsOriginalEntry() {
	s.store.SeedAccount(savings("S", "1000.00"))
	req := domain.PostingRequest{Kind: domain.Deposit, AccountID: "S", Amount: d("250.00"), Reference: "T1"}

	first, err := s.service.Post(s.ctx, req)
	s.Require().NoError(err)
	second, err := s.service.Post(s.ctx, req)
	s.Require().NoError(err)

	s.True(second.Duplicate)
	s.Equal(first.Primary().EntryID, second.Primary().EntryID)
	s.Equal(1, s.store.EntryCount())
	s.Equal("1250.00", s.balance("S"))

	// Without the cache the ledger lookup answers.
	uncached := s.newService(services.PostingConfig{PostingTimeout: time.Second})
	third, err := uncached.Post(s.ctx, req)
	s.Require().NoError(err)
	s.True(third.Duplicate)
	s.Equal(first.Primary().EntryID, third.Primary().EntryID)
}

func (s *PostingServiceTestSuite) TestConcurrentReplaysPostOnce() {
	s.store.SeedAccount(savings("S", "0.00"))
	req := domain.PostingRequest{Kind: domain.Deposit, AccountID: "S", Amount: d("10.00"), Reference: "same"}
	s.locker = locker.New(5*time.Second, 0, nil)
	svc := s.newService(services.PostingConfig{PostingTimeout: 5 * time.Second})

	var wg sync.WaitGroup
	ids := make(chan int64, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := svc.Post(s.ctx, req)
			if assert.NoError(s.T(), err) {
				ids <- res.Primary().EntryID
			}
		}()
	}
	wg.Wait()
	close(ids)

	for id := range ids {
		s.Equal(int64(1), id)
	}
	s.Equal(1, s.store.EntryCount())
	s.Equal("10.00", s.balance("S"))
}

func (s *PostingServiceTestSuite) TestWithdrawalBelowMinimumIsRejected() {
	acc := savings("S", "600.00")
	acc.Product.MinimumBalance = d("500.00")
	s.store.SeedAccount(acc)

	_, err := s.service.Post(s.ctx, domain.PostingRequest{Kind: domain.Withdrawal, AccountID: "S", Amount: d("200.00")})

	s.Require().Error(err)
	s.True(errors.Is(err, apperrors.PolicyRule("minimum_balance")))
	s.Equal(0, s.store.EntryCount())
	s.Equal("600.00", s.balance("S"))
}

func (s *PostingServiceTestSuite) TestConcurrentWithdrawalsNeverOverdraw() {
	s.store.SeedAccount(savings("S", "100.00"))
	s.locker = locker.New(5*time.Second, 0, nil)
	svc := s.newService(services.PostingConfig{PostingTimeout: 5 * time.Second})

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Post(s.ctx, domain.PostingRequest{Kind: domain.Withdrawal, AccountID: "S", Amount: d("30.00")})
			if err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
				return
			}
			assert.True(s.T(), errors.Is(err, apperrors.PolicyRule("sufficient_funds")), err.Error())
		}()
	}
	wg.Wait()

	s.Equal(3, accepted)
	s.Equal("10.00", s.balance("S"))
}

func (s *PostingServiceTestSuite) TestRepaymentWaterfall() {
	s.store.SeedAccount(loan("L", "10000.00"))
	s.store.SeedSchedule("L", []domain.AmortizationRow{
		{LoanID: "L", Index: 1, DueDate: now.AddDate(0, -1, 0), ExpectedPrincipal: d("500.00"), ExpectedInterest: d("120.00"), ExpectedPenalty: d("50.00")},
		{LoanID: "L", Index: 2, DueDate: now.AddDate(0, 1, 0), ExpectedPrincipal: d("500.00"), ExpectedInterest: d("100.00")},
	})

	res, err := s.service.Post(s.ctx, domain.PostingRequest{Kind: domain.Repayment, AccountID: "L", Amount: d("200.00"), Reference: "R1"})
	s.Require().NoError(err)

	credits := map[string]string{}
	for _, l := range res.Primary().Lines {
		if l.Credit.IsPositive() {
			credits[l.GLCode] = l.Credit.StringFixed(2)
		}
	}
	s.Equal(map[string]string{
		coa.PenaltyIncome:       "50.00",
		coa.InterestIncomeLoans: "120.00",
		coa.LoansReceivable:     "30.00",
	}, credits)
	s.Equal("9970.00", s.balance("L"))

	rows, err := s.store.ListAmortizationRows(s.ctx, "L")
	s.Require().NoError(err)
	s.Equal("30.00", rows[0].PaidPrincipal.StringFixed(2))
	s.Equal(domain.InstallmentOverdue, rows[0].Status)
}

func (s *PostingServiceTestSuite) TestTransferIsAtomicForReaders() {
	s.store.SeedAccount(savings("A", "500.00"))
	s.store.SeedAccount(savings("B", "0.00"))

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
			}
			accs, err := s.store.FindAccountsByIDs(s.ctx, []string{"A", "B"})
			if !assert.NoError(s.T(), err) {
				return
			}
			a, b := accs["A"].Balance.StringFixed(2), accs["B"].Balance.StringFixed(2)
			ok := (a == "500.00" && b == "0.00") || (a == "400.00" && b == "100.00")
			assert.True(s.T(), ok, "torn read A=%s B=%s", a, b)
		}
	}()

	res, err := s.service.Post(s.ctx, domain.PostingRequest{Kind: domain.Transfer, AccountID: "A", CounterpartyID: "B", Amount: d("100.00"), Reference: "T5"})
	close(stop)
	<-done

	s.Require().NoError(err)
	s.Require().Len(res.Entries, 2)
	s.Equal("T5-OUT", res.Entries[0].Reference)
	s.Equal("T5-IN", res.Entries[1].Reference)
	s.Equal("400.00", s.balance("A"))
	s.Equal("100.00", s.balance("B"))

	again, err := s.service.Post(s.ctx, domain.PostingRequest{Kind: domain.Transfer, AccountID: "A", CounterpartyID: "B", Amount: d("100.00"), Reference: "T5"})
	s.Require().NoError(err)
	s.True(again.Duplicate)
	s.Equal("400.00", s.balance("A"))
}

func (s *PostingServiceTestSuite) TestAccountErrors() {
	frozen := savings("F", "100.00")
	frozen.Status = domain.StatusFrozen
	s.store.SeedAccount(frozen)

	_, err := s.service.Post(s.ctx, domain.PostingRequest{Kind: domain.Deposit, AccountID: "missing", Amount: d("1.00")})
	s.True(errors.Is(err, apperrors.ErrAccountNotFound))

	_, err = s.service.Post(s.ctx, domain.PostingRequest{Kind: domain.Deposit, AccountID: "F", Amount: d("1.00")})
	s.True(errors.Is(err, apperrors.ErrAccountInactive))

	_, err = s.service.BalanceOf(s.ctx, "missing")
	s.True(errors.Is(err, apperrors.ErrAccountNotFound))
}

func (s *PostingServiceTestSuite) TestMalformedRequests() {
	s.store.SeedAccount(savings("S", "100.00"))
	rate := d("0.1")
	tests := []struct {
		name string
		req  domain.PostingRequest
	}{
		{"zero amount", domain.PostingRequest{Kind: domain.Deposit, AccountID: "S", Amount: decimal.Zero}},
		{"three decimals", domain.PostingRequest{Kind: domain.Deposit, AccountID: "S", Amount: d("1.005")}},
		{"unknown kind", domain.PostingRequest{Kind: "refund", AccountID: "S", Amount: d("1.00")}},
		{"compensation kind", domain.PostingRequest{Kind: domain.Compensation, AccountID: "S", Amount: d("1.00")}},
		{"missing account", domain.PostingRequest{Kind: domain.Deposit, Amount: d("1.00")}},
		{"transfer without counterparty", domain.PostingRequest{Kind: domain.Transfer, AccountID: "S", Amount: d("1.00")}},
		{"transfer to itself", domain.PostingRequest{Kind: domain.Transfer, AccountID: "S", CounterpartyID: "S", Amount: d("1.00")}},
		{"counterparty on deposit", domain.PostingRequest{Kind: domain.Deposit, AccountID: "S", CounterpartyID: "X", Amount: d("1.00")}},
		{"withholding on deposit", domain.PostingRequest{Kind: domain.Deposit, AccountID: "S", Amount: d("1.00"), WithholdingRate: &rate}},
	}
	for _, tt := range tests {
		s.Run(tt.name, func() {
			_, err := s.service.Post(s.ctx, tt.req)
			s.True(errors.Is(err, apperrors.ErrBadRequest), "got %v", err)
		})
	}
	s.Equal(0, s.store.EntryCount())
}

func (s *PostingServiceTestSuite) TestStoreFailureLeavesNothingBehind() {
	s.store.SeedAccount(savings("S", "100.00"))
	s.store.FailNextCommit(errors.New("connection reset"))

	_, err := s.service.Post(s.ctx, domain.PostingRequest{Kind: domain.Deposit, AccountID: "S", Amount: d("5.00"), Reference: "X1"})
	s.True(errors.Is(err, apperrors.ErrStoreTransient))
	s.True(apperrors.Retryable(err))
	s.Equal("100.00", s.balance("S"))

	res, err := s.service.Post(s.ctx, domain.PostingRequest{Kind: domain.Deposit, AccountID: "S", Amount: d("5.00"), Reference: "X1"})
	s.Require().NoError(err)
	s.False(res.Duplicate)
	s.Equal("105.00", s.balance("S"))
}

func (s *PostingServiceTestSuite) TestLockTimeoutAndPostingTimeout() {
	s.store.SeedAccount(savings("S", "100.00"))
	held, err := s.locker.Acquire(s.ctx, []string{"S"})
	s.Require().NoError(err)
	defer held.Release()

	_, err = s.service.Post(s.ctx, domain.PostingRequest{Kind: domain.Deposit, AccountID: "S", Amount: d("1.00")})
	s.True(errors.Is(err, apperrors.ErrLockTimeout), "got %v", err)

	short := s.newService(services.PostingConfig{PostingTimeout: 20 * time.Millisecond})
	_, err = short.Post(s.ctx, domain.PostingRequest{Kind: domain.Deposit, AccountID: "S", Amount: d("1.00")})
	s.True(errors.Is(err, apperrors.ErrPostingTimeout), "got %v", err)
	s.Equal(0, s.store.EntryCount())
}

func (s *PostingServiceTestSuite) TestCompensateRestoresBalances() {
	s.store.SeedAccount(savings("A", "500.00"))
	s.store.SeedAccount(savings("B", "0.00"))
	_, err := s.service.Post(s.ctx, domain.PostingRequest{Kind: domain.Transfer, AccountID: "A", CounterpartyID: "B", Amount: d("100.00"), Reference: "T5"})
	s.Require().NoError(err)

	res, err := s.service.Compensate(s.ctx, "T5", "ops", "")
	s.Require().NoError(err)
	s.Require().Len(res.Entries, 2)
	s.Equal("T5-OUT-REV", res.Entries[0].Reference)
	s.Equal("T5-OUT", res.Entries[0].CompensatesReference)
	s.Equal(domain.Compensation, res.Entries[0].EventKind)
	s.Equal("500.00", s.balance("A"))
	s.Equal("0.00", s.balance("B"))

	again, err := s.service.Compensate(s.ctx, "T5", "ops", "")
	s.Require().NoError(err)
	s.True(again.Duplicate)
	s.Equal(4, s.store.EntryCount())

	_, err = s.service.Compensate(s.ctx, "T5-OUT-REV", "ops", "")
	s.True(errors.Is(err, apperrors.ErrBadRequest))
	_, err = s.service.Compensate(s.ctx, "nope", "ops", "")
	s.True(errors.Is(err, apperrors.ErrBadRequest))
}

func (s *PostingServiceTestSuite) TestReconcile() {
	s.store.SeedAccount(savings("S", "0.00"))
	_, err := s.service.Post(s.ctx, domain.PostingRequest{Kind: domain.Deposit, AccountID: "S", Amount: d("75.00")})
	s.Require().NoError(err)
	_, err = s.service.Post(s.ctx, domain.PostingRequest{Kind: domain.Withdrawal, AccountID: "S", Amount: d("25.00")})
	s.Require().NoError(err)

	report, err := s.service.Reconcile(s.ctx, "S")
	s.Require().NoError(err)
	s.Equal(coa.SavingsDepositsPayable, report.GLCode)
	s.Equal("50.00", report.LedgerBalance.StringFixed(2))
	s.True(report.InSync)
	s.Equal(int64(2), report.AsOfEntryID)

	s.store.SeedAccount(savings("O", "40.00"))
	report, err = s.service.Reconcile(s.ctx, "O")
	s.Require().NoError(err)
	s.False(report.InSync)
	s.Equal("40.00", report.Difference.StringFixed(2))
}

type pendingLedger struct {
	*memory.Store
}

func (pendingLedger) HasPendingOutbox(context.Context, []string) (bool, error) { return true, nil }

func TestPost_OutboxBacklogRefusesPosting(t *testing.T) {
	store := memory.NewStore()
	store.SeedAccount(savings("S", "10.00"))
	svc := services.NewPostingService(services.PostingDependencies{
		Ledger:   pendingLedger{store},
		Balances: store,
		Writer:   store,
		Registry: coa.NewRegistry(coa.DefaultTable()),
		Locker:   locker.New(time.Second, 0, nil),
		Clock:    fixedClock{now},
	}, services.PostingConfig{OutboxMode: true})

	_, err := svc.Post(context.Background(), domain.PostingRequest{Kind: domain.Deposit, AccountID: "S", Amount: d("1.00")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, apperrors.ErrStoreTransient))
	assert.Equal(t, 0, store.EntryCount())
}

type recordingListener struct {
	mu      sync.Mutex
	entries []domain.JournalEntry
}

func (r *recordingListener) EntriesCommitted(_ context.Context, entries []domain.JournalEntry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, entries...)
}

func TestPost_NotifiesListenersOnlyOnCommit(t *testing.T) {
	store := memory.NewStore()
	store.SeedAccount(savings("S", "10.00"))
	listener := &recordingListener{}
	svc := services.NewPostingService(services.PostingDependencies{
		Ledger:   store,
		Balances: store,
		Writer:   store,
		Registry: coa.NewRegistry(coa.DefaultTable()),
		Locker:   locker.New(time.Second, 0, nil),
		Clock:    fixedClock{now},
	}, services.PostingConfig{}, services.WithCommitListener(listener))

	req := domain.PostingRequest{Kind: domain.Deposit, AccountID: "S", Amount: d("1.00"), Reference: "N1"}
	_, err := svc.Post(context.Background(), req)
	require.NoError(t, err)
	_, err = svc.Post(context.Background(), req)
	require.NoError(t, err)
	_, err = svc.Post(context.Background(), domain.PostingRequest{Kind: domain.Withdrawal, AccountID: "S", Amount: d("100.00")})
	require.Error(t, err)

	require.Len(t, listener.entries, 1)
	assert.Equal(t, "N1", listener.entries[0].Reference)
}
