package services

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/SscSPs/bank_posting_core/internal/apperrors"
	"github.com/SscSPs/bank_posting_core/internal/core/domain"
	portsrepo "github.com/SscSPs/bank_posting_core/internal/core/ports/repositories"
	portssvc "github.com/SscSPs/bank_posting_core/internal/core/ports/services"
	"github.com/SscSPs/bank_posting_core/internal/utils/accounting"
	"github.com/SscSPs/bank_posting_core/internal/utils/pagination"
)

// AccrualConfig tunes the daily accrual run.
type AccrualConfig struct {
	Concurrency   int
	RatePerSecond float64
	PageSize      int
	Location      *time.Location
	Hour          int
}

// AccrualScheduler posts one interest_accrual event per eligible account per accounting day.
type AccrualScheduler struct {
	BaseService
	balances portsrepo.BalanceReader
	poster   portssvc.PostingWriterSvc
	cfg      AccrualConfig
	clock    Clock
	limiter  *rate.Limiter
	running  atomic.Bool
}

// AccrualOption configures an AccrualScheduler.
type AccrualOption func(*AccrualScheduler)

// WithAccrualClock overrides the wall clock used to plan runs.
func WithAccrualClock(c Clock) AccrualOption {
	return func(s *AccrualScheduler) {
		s.clock = c
	}
}

// NewAccrualScheduler creates a scheduler that submits accruals through poster.
func NewAccrualScheduler(balances portsrepo.BalanceReader, poster portssvc.PostingWriterSvc, cfg AccrualConfig, options ...AccrualOption) *AccrualScheduler {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = 500
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}
	s := &AccrualScheduler{
		balances: balances,
		poster:   poster,
		cfg:      cfg,
		clock:    SystemClock{},
	}
	if cfg.RatePerSecond > 0 {
		burst := int(cfg.RatePerSecond)
		if burst < 1 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSecond), burst)
	}
	for _, opt := range options {
		opt(s)
	}
	return s
}

var _ portssvc.AccrualSvc = (*AccrualScheduler)(nil)

// RunDailyAccrual accrues one day of interest on every eligible account for accountingDate.
// Per-account failures are counted and logged; they never stop the run.
func (s *AccrualScheduler) RunDailyAccrual(ctx context.Context, accountingDate time.Time) (*domain.AccrualSummary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, apperrors.NewAppError(apperrors.CodeLockTimeout, "an accrual run is already in progress", nil)
	}
	defer s.running.Store(false)

	y, m, d := accountingDate.Date()
	date := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	log := s.GetLogger(ctx).With(slog.String("accounting_date", date.Format(domain.AccrualReferenceDate)))

	summary := &domain.AccrualSummary{Date: date}
	var mu sync.Mutex
	record := func(fn func(*domain.AccrualSummary)) {
		mu.Lock()
		defer mu.Unlock()
		fn(summary)
	}

	cursor := pagination.EncodeAccrualCursor(date, "")
	for {
		_, afterID, err := pagination.DecodeAccrualCursor(cursor)
		if err != nil {
			return summary, apperrors.NewAppError(apperrors.CodeInternal, "corrupt accrual cursor", err)
		}
		page, err := s.balances.ListAccrualCandidates(ctx, afterID, s.cfg.PageSize)
		if err != nil {
			return summary, storeError(err)
		}
		if len(page) == 0 {
			break
		}

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.cfg.Concurrency)
		for _, acc := range page {
			g.Go(func() error {
				s.accrueOne(gctx, acc, date, record)
				return nil
			})
		}
		_ = g.Wait()

		if err := ctx.Err(); err != nil {
			log.Warn("Accrual run interrupted", slog.String("cursor", cursor), slog.String("error", err.Error()))
			return summary, err
		}
		cursor = pagination.EncodeAccrualCursor(date, page[len(page)-1].AccountID)
		log.Debug("Accrual page done", slog.Int("accounts", len(page)), slog.String("cursor", cursor))
		if len(page) < s.cfg.PageSize {
			break
		}
	}

	log.Info("Accrual run finished",
		slog.Int("processed", summary.Processed),
		slog.Int("skipped", summary.Skipped),
		slog.Int("failed", summary.Failed),
		slog.Int("duplicates", summary.Duplicates))
	return summary, nil
}

func (s *AccrualScheduler) accrueOne(ctx context.Context, acc domain.OperationalAccount, date time.Time, record func(func(*domain.AccrualSummary))) {
	amount, ok := accrualAmount(acc)
	if !ok {
		record(func(sum *domain.AccrualSummary) { sum.Skipped++ })
		return
	}
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			s.fail(ctx, acc.AccountID, err, record)
			return
		}
	}

	res, err := s.poster.Post(ctx, domain.PostingRequest{
		Kind:           domain.InterestAccrual,
		AccountID:      acc.AccountID,
		Amount:         amount,
		Reference:      domain.AccrualReference(acc.AccountID, date),
		Actor:          "accrual-scheduler",
		Description:    "daily interest accrual " + date.Format(domain.AccrualReferenceDate),
		AccountingDate: &date,
	})
	if err != nil {
		s.fail(ctx, acc.AccountID, err, record)
		return
	}
	record(func(sum *domain.AccrualSummary) {
		if res.Duplicate {
			sum.Duplicates++
			return
		}
		sum.Processed++
	})
}

func (s *AccrualScheduler) fail(ctx context.Context, accountID string, err error, record func(func(*domain.AccrualSummary))) {
	code := apperrors.CodeOf(err)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		code = apperrors.CodePostingTimeout
	}
	s.GetLogger(ctx).Warn("Accrual failed for account",
		slog.String("account_id", accountID),
		slog.String("code", string(code)),
		slog.String("error", err.Error()))
	record(func(sum *domain.AccrualSummary) {
		sum.Failed++
		sum.Failures = append(sum.Failures, domain.AccrualFailure{
			AccountID: accountID,
			Code:      string(code),
			Error:     err.Error(),
		})
	})
}

// accrualAmount is one day of interest on the committed balance. Flat-rate loans and
// accruals that round to zero are skipped.
func accrualAmount(acc domain.OperationalAccount) (amount decimal.Decimal, ok bool) {
	if acc.ProductKind == domain.Loan && acc.Product.InterestMethod == domain.FlatRate {
		return amount, false
	}
	if !acc.Balance.IsPositive() {
		return amount, false
	}
	amount = accounting.DailyAccrual(acc.Balance, acc.Product.InterestRate)
	return amount, amount.IsPositive()
}

// NextRun returns the next instant the accounting hour is reached after now.
func (s *AccrualScheduler) NextRun(now time.Time) time.Time {
	local := now.In(s.cfg.Location)
	next := time.Date(local.Year(), local.Month(), local.Day(), s.cfg.Hour, 0, 0, 0, s.cfg.Location)
	if !next.After(local) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

// Start runs the accrual for the previous accounting day every time the accounting hour
// comes round, until ctx is cancelled.
func (s *AccrualScheduler) Start(ctx context.Context) {
	for {
		now := s.clock.Now()
		next := s.NextRun(now)
		s.LogInfo(ctx, "Next accrual run scheduled", slog.Time("at", next))

		timer := time.NewTimer(next.Sub(now))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			date := AccountingDate(s.clock.Now(), s.cfg.Location).AddDate(0, 0, -1)
			if _, err := s.RunDailyAccrual(ctx, date); err != nil {
				s.LogError(ctx, err, "Accrual run failed", slog.Time("accounting_date", date))
			}
		}
	}
}
