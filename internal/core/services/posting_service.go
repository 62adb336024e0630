package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/shopspring/decimal"

	"github.com/SscSPs/bank_posting_core/internal/apperrors"
	"github.com/SscSPs/bank_posting_core/internal/core/coa"
	"github.com/SscSPs/bank_posting_core/internal/core/domain"
	"github.com/SscSPs/bank_posting_core/internal/core/policy"
	portsrepo "github.com/SscSPs/bank_posting_core/internal/core/ports/repositories"
	portssvc "github.com/SscSPs/bank_posting_core/internal/core/ports/services"
	"github.com/SscSPs/bank_posting_core/internal/core/posting"
	"github.com/SscSPs/bank_posting_core/internal/platform/locker"
	"github.com/SscSPs/bank_posting_core/internal/platform/logger"
	"github.com/SscSPs/bank_posting_core/internal/utils/accounting"
)

// CommitListener is told about entries once they are durable in the ledger.
// It runs while the posting still holds its account locks.
type CommitListener interface {
	EntriesCommitted(ctx context.Context, entries []domain.JournalEntry)
}

// PostingDependencies are the collaborators the gateway cannot run without.
type PostingDependencies struct {
	Ledger   portsrepo.LedgerReader
	Balances portsrepo.BalanceReader
	Writer   portsrepo.PostingWriter
	Registry *coa.Registry
	Locker   *locker.Locker
	Clock    Clock
}

// PostingConfig tunes the gateway.
type PostingConfig struct {
	PostingTimeout      time.Duration
	IdempotencyCacheTTL time.Duration
	AccountingLocation  *time.Location
	// OutboxMode makes Post refuse accounts whose committed entries have not reached the balance store.
	OutboxMode bool
}

// postingService implements the portssvc.PostingSvcFacade interface
type postingService struct {
	BaseService
	deps      PostingDependencies
	cfg       PostingConfig
	evaluator *policy.Evaluator
	engine    *posting.Engine
	validate  *validator.Validate
	results   *cache.Cache
	listeners []CommitListener
}

// PostingOption configures optional collaborators of the gateway.
type PostingOption func(*postingService)

// WithCommitListener registers a listener notified after every commit.
func WithCommitListener(l CommitListener) PostingOption {
	return func(s *postingService) {
		if l != nil {
			s.listeners = append(s.listeners, l)
		}
	}
}

// WithEvaluator replaces the default policy evaluator.
func WithEvaluator(e *policy.Evaluator) PostingOption {
	return func(s *postingService) {
		s.evaluator = e
	}
}

// NewPostingService creates the posting gateway.
func NewPostingService(deps PostingDependencies, cfg PostingConfig, options ...PostingOption) portssvc.PostingSvcFacade {
	if deps.Clock == nil {
		deps.Clock = SystemClock{}
	}
	if cfg.AccountingLocation == nil {
		cfg.AccountingLocation = time.UTC
	}
	svc := &postingService{
		deps:      deps,
		cfg:       cfg,
		evaluator: policy.NewEvaluator(),
		engine:    posting.NewEngine(deps.Registry),
		validate:  validator.New(),
	}
	if cfg.IdempotencyCacheTTL > 0 {
		svc.results = cache.New(cfg.IdempotencyCacheTTL, 2*cfg.IdempotencyCacheTTL)
	}
	for _, opt := range options {
		opt(svc)
	}
	return svc
}

var _ portssvc.PostingSvcFacade = (*postingService)(nil)

var decimalOne = decimal.NewFromInt(1)

// Post runs one business event through validation, locking, policy, expansion and commit.
func (s *postingService) Post(ctx context.Context, req domain.PostingRequest) (*domain.PostingResult, error) {
	if err := s.validateRequest(req); err != nil {
		s.LogDebug(ctx, "Rejected malformed posting request", slog.String("error", err.Error()))
		return nil, err
	}
	if req.Reference == "" {
		req.Reference = uuid.NewString()
	}

	log := s.GetLogger(ctx).With(
		slog.String("reference", req.Reference),
		slog.String("event_kind", string(req.Kind)),
		slog.String("account_id", req.AccountID),
	)
	ctx = logger.ToContext(ctx, log)
	start := time.Now()

	result, err := s.post(ctx, req)
	s.logOutcome(ctx, result, err, time.Since(start))
	return result, err
}

func (s *postingService) post(ctx context.Context, req domain.PostingRequest) (*domain.PostingResult, error) {
	refs := domain.EntryReferences(req.Kind, req.Reference)
	if res, ok, err := s.findCommitted(ctx, req.Reference, refs); err != nil || ok {
		return res, err
	}

	if s.cfg.PostingTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.PostingTimeout)
		defer cancel()
	}

	ids := []string{req.AccountID}
	if req.CounterpartyID != "" {
		ids = append(ids, req.CounterpartyID)
	}
	handle, err := s.deps.Locker.Acquire(ctx, ids)
	if err != nil {
		return nil, err
	}
	defer handle.Release()

	// A concurrent caller may have committed the same reference while we waited.
	if res, ok, err := s.findCommitted(ctx, req.Reference, refs); err != nil || ok {
		return res, err
	}

	accounts, err := s.loadActive(ctx, ids)
	if err != nil {
		return nil, err
	}
	primary := accounts[req.AccountID]

	ev := domain.PostingEvent{
		Kind:            req.Kind,
		Reference:       req.Reference,
		Amount:          req.Amount,
		Primary:         primary,
		Product:         req.Overrides.Apply(primary.Product),
		WithholdingRate: req.WithholdingRate,
		Description:     req.Description,
		Actor:           req.Actor,
		Today:           s.accountingDate(req.AccountingDate),
	}
	if req.CounterpartyID != "" {
		cp := accounts[req.CounterpartyID]
		ev.Counterparty = &cp
	}

	pc, err := s.policyContext(ctx, ev)
	if err != nil {
		return nil, err
	}
	decision, err := s.evaluator.Evaluate(policy.Input{Event: ev, Context: pc})
	if err != nil {
		return nil, err
	}
	if !decision.Accepted {
		return nil, decision.Err()
	}
	batch, err := s.engine.Expand(ev, decision, pc.Schedule)
	if err != nil {
		return nil, err
	}
	batch.Actor = req.Actor
	return s.commit(ctx, batch, req.Reference, refs)
}

// Compensate reverses the entries committed under reference with new -REV entries.
func (s *postingService) Compensate(ctx context.Context, reference, actor, description string) (*domain.PostingResult, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, apperrors.BadRequestf("reference is required")
	}
	log := s.GetLogger(ctx).With(
		slog.String("reference", reference),
		slog.String("event_kind", string(domain.Compensation)),
	)
	ctx = logger.ToContext(ctx, log)
	start := time.Now()

	result, err := s.compensate(ctx, reference, actor, description)
	s.logOutcome(ctx, result, err, time.Since(start))
	return result, err
}

func (s *postingService) compensate(ctx context.Context, reference, actor, description string) (*domain.PostingResult, error) {
	originals, err := s.findOriginals(ctx, reference)
	if err != nil {
		return nil, err
	}
	revRefs := make([]string, len(originals))
	for i, o := range originals {
		if o.EventKind == domain.Compensation {
			return nil, apperrors.BadRequestf("entry %s is itself a compensation", o.Reference)
		}
		revRefs[i] = o.Reference + domain.CompensationSuffix
	}
	revReference := reference + domain.CompensationSuffix
	if res, ok, err := s.findCommitted(ctx, revReference, revRefs); err != nil || ok {
		return res, err
	}

	if s.cfg.PostingTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.PostingTimeout)
		defer cancel()
	}

	var ids []string
	for _, o := range originals {
		for _, l := range o.Lines {
			if l.AccountID != "" {
				ids = append(ids, l.AccountID)
			}
		}
	}
	ids = locker.Ordered(ids)
	if len(ids) == 0 {
		return nil, apperrors.BadRequestf("entry %s touches no operational account", reference)
	}

	handle, err := s.deps.Locker.Acquire(ctx, ids)
	if err != nil {
		return nil, err
	}
	defer handle.Release()

	if res, ok, err := s.findCommitted(ctx, revReference, revRefs); err != nil || ok {
		return res, err
	}

	accounts, err := s.loadActive(ctx, ids)
	if err != nil {
		return nil, err
	}
	batch, err := s.engine.ExpandCompensation(originals, accounts, actor, description)
	if err != nil {
		return nil, err
	}
	batch.Today = s.accountingDate(nil)
	return s.commit(ctx, batch, revReference, revRefs)
}

// findOriginals resolves a caller reference to its committed entries, accepting a transfer's base reference.
func (s *postingService) findOriginals(ctx context.Context, reference string) ([]domain.JournalEntry, error) {
	entries, err := s.deps.Ledger.FindEntriesByReference(ctx, reference)
	if err != nil {
		return nil, storeError(err)
	}
	if len(entries) == 0 {
		entries, err = s.deps.Ledger.FindEntriesByReference(ctx, domain.EntryReferences(domain.Transfer, reference)...)
		if err != nil {
			return nil, storeError(err)
		}
	}
	if len(entries) == 0 {
		return nil, apperrors.NewAppError(apperrors.CodeBadRequest, "no committed entry under reference "+reference, apperrors.ErrNotFound)
	}
	return entries, nil
}

// BalanceOf returns the last committed balance of an account.
func (s *postingService) BalanceOf(ctx context.Context, accountID string) (*domain.BalanceSnapshot, error) {
	acc, err := s.findAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &domain.BalanceSnapshot{
		AccountID:   acc.AccountID,
		Balance:     acc.Balance,
		AsOfEntryID: acc.LastEntryID,
	}, nil
}

// Reconcile compares the balance row of an account with the ledger sum of its bound GL code.
func (s *postingService) Reconcile(ctx context.Context, accountID string) (*domain.ReconciliationReport, error) {
	acc, err := s.findAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	binding := s.deps.Registry.Binding(acc.ProductKind)
	if binding.Balance == "" {
		return nil, apperrors.NewAppError(apperrors.CodeUnmappedPosting,
			fmt.Sprintf("product %s has no bound GL account", acc.ProductKind), nil)
	}
	side, ok := s.deps.Registry.NormalSide(binding.Balance)
	if !ok {
		return nil, apperrors.NewAppError(apperrors.CodeUnmappedPosting, "unknown GL account "+binding.Balance, nil)
	}
	sum, lastID, err := s.deps.Ledger.SumAccountLines(ctx, acc.AccountID, binding.Balance, side)
	if err != nil {
		return nil, storeError(err)
	}
	diff := acc.Balance.Sub(sum)
	report := &domain.ReconciliationReport{
		AccountID:     acc.AccountID,
		GLCode:        binding.Balance,
		BalanceRow:    acc.Balance,
		LedgerBalance: sum,
		Difference:    diff,
		InSync:        diff.IsZero(),
		AsOfEntryID:   lastID,
	}
	if !report.InSync {
		s.LogInfo(ctx, "Balance row diverges from ledger",
			slog.String("account_id", acc.AccountID),
			slog.String("difference", diff.StringFixed(2)))
	}
	return report, nil
}

func (s *postingService) findAccount(ctx context.Context, accountID string) (*domain.OperationalAccount, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, apperrors.BadRequestf("account id is required")
	}
	acc, err := s.deps.Balances.FindAccountByID(ctx, accountID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, apperrors.NewAppError(apperrors.CodeAccountNotFound, "account "+accountID+" not found", err)
		}
		return nil, storeError(err)
	}
	return acc, nil
}

func (s *postingService) validateRequest(req domain.PostingRequest) error {
	if err := req.Kind.Validate(); err != nil {
		return apperrors.NewAppError(apperrors.CodeBadRequest, err.Error(), apperrors.ErrValidation)
	}
	if err := s.validate.Struct(req); err != nil {
		return apperrors.NewAppError(apperrors.CodeBadRequest, "invalid posting request", err)
	}
	if !req.Amount.IsPositive() {
		return apperrors.BadRequestf("amount must be positive")
	}
	if !accounting.HasAtMostTwoDecimals(req.Amount) {
		return apperrors.BadRequestf("amount %s has more than two decimal places", req.Amount)
	}
	if req.Kind == domain.Transfer && req.CounterpartyID == "" {
		return apperrors.BadRequestf("transfer requires a counterparty account")
	}
	if req.Kind != domain.Transfer && req.CounterpartyID != "" {
		return apperrors.BadRequestf("counterparty is only accepted for transfers")
	}
	if req.WithholdingRate != nil {
		if req.Kind != domain.InterestAccrual {
			return apperrors.BadRequestf("withholding rate is only accepted for interest accrual")
		}
		if req.WithholdingRate.IsNegative() || req.WithholdingRate.GreaterThan(decimalOne) {
			return apperrors.BadRequestf("withholding rate must be between 0 and 1")
		}
	}
	if err := req.Overrides.Validate(); err != nil {
		return apperrors.NewAppError(apperrors.CodeBadRequest, err.Error(), apperrors.ErrValidation)
	}
	return nil
}

// loadActive reads the locked accounts and requires every one to exist and be active.
func (s *postingService) loadActive(ctx context.Context, ids []string) (map[string]domain.OperationalAccount, error) {
	accounts, err := s.deps.Balances.FindAccountsByIDs(ctx, ids)
	if err != nil {
		return nil, storeError(err)
	}
	for _, id := range ids {
		acc, ok := accounts[id]
		if !ok {
			return nil, apperrors.NewAppError(apperrors.CodeAccountNotFound, "account "+id+" not found", apperrors.ErrNotFound)
		}
		if !acc.IsActive() {
			return nil, apperrors.NewAppError(apperrors.CodeAccountInactive,
				fmt.Sprintf("account %s is %s", id, acc.Status), nil)
		}
	}
	if s.cfg.OutboxMode {
		pending, err := s.deps.Ledger.HasPendingOutbox(ctx, ids)
		if err != nil {
			return nil, storeError(err)
		}
		if pending {
			return nil, apperrors.NewAppError(apperrors.CodeStoreTransient, "balance store is catching up with the ledger", nil)
		}
	}
	return accounts, nil
}

func (s *postingService) policyContext(ctx context.Context, ev domain.PostingEvent) (domain.PolicyContext, error) {
	var pc domain.PolicyContext
	switch ev.Kind {
	case domain.Repayment:
		rows, err := s.deps.Balances.ListAmortizationRows(ctx, ev.Primary.AccountID)
		if err != nil {
			return pc, storeError(err)
		}
		pc.Schedule = rows
	case domain.Disbursement:
		if ev.Product.CustomerLoanCap.IsPositive() {
			total, err := s.deps.Balances.SumCustomerOutstanding(ctx, ev.Primary.CustomerID, ev.Product.ProductCode, ev.Primary.AccountID)
			if err != nil {
				return pc, storeError(err)
			}
			pc.CustomerOutstanding = total
		}
	}
	return pc, nil
}

// commit writes the batch. Once the writer is called the posting is no longer cancellable.
func (s *postingService) commit(ctx context.Context, batch domain.PostingBatch, reference string, refs []string) (*domain.PostingResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewAppError(apperrors.CodePostingTimeout, "posting deadline passed before commit", err)
	}
	batch.PostedAt = s.deps.Clock.Now().UTC()

	commitCtx := context.WithoutCancel(ctx)
	entries, err := s.deps.Writer.Commit(commitCtx, batch)
	if err != nil {
		if errors.Is(err, apperrors.ErrDuplicate) {
			res, ok, ferr := s.findCommitted(commitCtx, reference, refs)
			if ferr != nil {
				return nil, ferr
			}
			if ok {
				return res, nil
			}
		}
		return nil, storeError(err)
	}

	result := &domain.PostingResult{Reference: reference, Entries: entries}
	s.remember(refs, result)
	for _, l := range s.listeners {
		l.EntriesCommitted(commitCtx, entries)
	}
	return result, nil
}

// findCommitted returns the stored result for refs, consulting the in-process cache first.
func (s *postingService) findCommitted(ctx context.Context, reference string, refs []string) (*domain.PostingResult, bool, error) {
	key := resultKey(refs)
	if s.results != nil {
		if v, ok := s.results.Get(key); ok {
			res := *v.(*domain.PostingResult)
			res.Duplicate = true
			return &res, true, nil
		}
	}
	entries, err := s.deps.Ledger.FindEntriesByReference(ctx, refs...)
	if err != nil {
		return nil, false, storeError(err)
	}
	if len(entries) == 0 {
		return nil, false, nil
	}
	if len(entries) != len(refs) {
		return nil, false, apperrors.NewAppError(apperrors.CodeStoreFatal,
			fmt.Sprintf("reference %s is only partially committed", reference), nil)
	}
	res := &domain.PostingResult{Reference: reference, Entries: entries}
	s.remember(refs, res)
	dup := *res
	dup.Duplicate = true
	return &dup, true, nil
}

func (s *postingService) remember(refs []string, res *domain.PostingResult) {
	if s.results == nil {
		return
	}
	stored := *res
	stored.Duplicate = false
	s.results.SetDefault(resultKey(refs), &stored)
}

func resultKey(refs []string) string {
	return strings.Join(refs, "|")
}

func (s *postingService) accountingDate(override *time.Time) time.Time {
	if override != nil {
		y, m, d := override.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
	}
	return AccountingDate(s.deps.Clock.Now(), s.cfg.AccountingLocation)
}

func (s *postingService) logOutcome(ctx context.Context, res *domain.PostingResult, err error, elapsed time.Duration) {
	attrs := []any{slog.Duration("elapsed", elapsed)}
	switch {
	case err != nil:
		attrs = append(attrs, slog.String("code", string(apperrors.CodeOf(err))))
		var appErr *apperrors.AppError
		if errors.As(err, &appErr) && appErr.Rule != "" {
			attrs = append(attrs, slog.String("rule", appErr.Rule))
		}
		if apperrors.CodeOf(err) == apperrors.CodeStoreFatal || apperrors.CodeOf(err) == apperrors.CodeInternal {
			s.LogError(ctx, err, "Posting failed", attrs...)
			return
		}
		attrs = append(attrs, slog.String("error", err.Error()))
		s.LogInfo(ctx, "Posting rejected", attrs...)
	case res.Duplicate:
		s.LogInfo(ctx, "Posting replayed", append(attrs, slog.Int64("entry_id", res.Primary().EntryID))...)
	default:
		s.LogInfo(ctx, "Posting committed", append(attrs,
			slog.Int64("entry_id", res.Primary().EntryID),
			slog.Int("entries", len(res.Entries)))...)
	}
}

// storeError passes classified errors through and treats anything else as a retryable store failure.
func storeError(err error) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return apperrors.NewAppError(apperrors.CodeStoreTransient, "store operation failed", err)
}
