package services

import (
	"context"
	"time"

	"github.com/SscSPs/bank_posting_core/internal/core/domain"
)

// PostingWriterSvc is the single ingress for money movements.
type PostingWriterSvc interface {
	// Post validates, locks, evaluates, expands and commits one business event.
	// A replayed reference returns the original result with Duplicate set.
	Post(ctx context.Context, req domain.PostingRequest) (*domain.PostingResult, error)

	// Compensate posts entries reversing the committed entries stored under reference.
	Compensate(ctx context.Context, reference, actor, description string) (*domain.PostingResult, error)
}

// PostingReaderSvc exposes committed state.
type PostingReaderSvc interface {
	// BalanceOf returns the last committed balance and the entry id that established it.
	BalanceOf(ctx context.Context, accountID string) (*domain.BalanceSnapshot, error)

	// Reconcile compares an account's balance row with the ledger sum of its bound GL code.
	Reconcile(ctx context.Context, accountID string) (*domain.ReconciliationReport, error)
}

// PostingSvcFacade combines all posting-related service interfaces.
type PostingSvcFacade interface {
	PostingWriterSvc
	PostingReaderSvc
}

// AccrualSvc runs daily interest accrual.
type AccrualSvc interface {
	// RunDailyAccrual posts one interest_accrual event per eligible account for the accounting date.
	RunDailyAccrual(ctx context.Context, accountingDate time.Time) (*domain.AccrualSummary, error)
}
