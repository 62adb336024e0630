package dto

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/SscSPs/bank_posting_core/internal/apperrors"
	"github.com/SscSPs/bank_posting_core/internal/core/domain"
)

// DateLayout is the format of accounting dates on the wire.
const DateLayout = "2006-01-02"

// CreatePostingRequest is the body of POST /postings.
type CreatePostingRequest struct {
	Kind            string                   `json:"kind" binding:"required"`
	AccountID       string                   `json:"accountID" binding:"required,max=64"`
	CounterpartyID  string                   `json:"counterpartyID,omitempty" binding:"omitempty,max=64"`
	Amount          decimal.Decimal          `json:"amount"`
	Reference       string                   `json:"reference,omitempty" binding:"omitempty,max=128"`
	Description     string                   `json:"description,omitempty" binding:"max=255"`
	Overrides       *domain.ProductOverrides `json:"overrides,omitempty"`
	WithholdingRate *decimal.Decimal         `json:"withholdingRate,omitempty"`
	AccountingDate  string                   `json:"accountingDate,omitempty"` // YYYY-MM-DD
}

// ToDomain converts the request into a posting request submitted by actor.
func (r CreatePostingRequest) ToDomain(actor string) (domain.PostingRequest, error) {
	req := domain.PostingRequest{
		Kind:            domain.EventKind(r.Kind),
		AccountID:       r.AccountID,
		CounterpartyID:  r.CounterpartyID,
		Amount:          r.Amount,
		Overrides:       r.Overrides,
		Reference:       r.Reference,
		Actor:           actor,
		Description:     r.Description,
		WithholdingRate: r.WithholdingRate,
	}
	if r.AccountingDate != "" {
		date, err := ParseDate(r.AccountingDate)
		if err != nil {
			return req, err
		}
		req.AccountingDate = &date
	}
	return req, nil
}

// ParseDate parses an accounting date in DateLayout.
func ParseDate(s string) (time.Time, error) {
	date, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, apperrors.BadRequestf("invalid date %q, expected YYYY-MM-DD", s)
	}
	return date, nil
}

// CompensateRequest is the optional body of POST /postings/:reference/compensate.
type CompensateRequest struct {
	Description string `json:"description,omitempty" binding:"max=255"`
}

// JournalLineResponse is one line of a committed entry.
type JournalLineResponse struct {
	GLCode    string          `json:"glCode"`
	AccountID string          `json:"accountID,omitempty"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
	Memo      string          `json:"memo,omitempty"`
}

// JournalEntryResponse is a committed entry.
type JournalEntryResponse struct {
	EntryID              int64                 `json:"entryID"`
	Reference            string                `json:"reference"`
	Description          string                `json:"description"`
	EventKind            string                `json:"eventKind"`
	PostedAt             time.Time             `json:"postedAt"`
	Actor                string                `json:"actor,omitempty"`
	CompensatesReference string                `json:"compensatesReference,omitempty"`
	Lines                []JournalLineResponse `json:"lines"`
}

// PostingResponse is returned by the posting endpoints.
type PostingResponse struct {
	Reference string                 `json:"reference"`
	Duplicate bool                   `json:"duplicate"`
	Entries   []JournalEntryResponse `json:"entries"`
}

// ToPostingResponse converts a posting result to its response DTO.
func ToPostingResponse(res *domain.PostingResult) PostingResponse {
	out := PostingResponse{
		Reference: res.Reference,
		Duplicate: res.Duplicate,
		Entries:   make([]JournalEntryResponse, len(res.Entries)),
	}
	for i, e := range res.Entries {
		lines := make([]JournalLineResponse, len(e.Lines))
		for j, l := range e.Lines {
			lines[j] = JournalLineResponse{GLCode: l.GLCode, AccountID: l.AccountID, Debit: l.Debit, Credit: l.Credit, Memo: l.Memo}
		}
		out.Entries[i] = JournalEntryResponse{
			EntryID:              e.EntryID,
			Reference:            e.Reference,
			Description:          e.Description,
			EventKind:            string(e.EventKind),
			PostedAt:             e.PostedAt,
			Actor:                e.Actor,
			CompensatesReference: e.CompensatesReference,
			Lines:                lines,
		}
	}
	return out
}

// BalanceResponse is returned by GET /accounts/:accountID/balance.
type BalanceResponse struct {
	AccountID   string          `json:"accountID"`
	Balance     decimal.Decimal `json:"balance"`
	AsOfEntryID int64           `json:"asOfEntryID"`
}

// ToBalanceResponse converts a balance snapshot to its response DTO.
func ToBalanceResponse(s *domain.BalanceSnapshot) BalanceResponse {
	return BalanceResponse{AccountID: s.AccountID, Balance: s.Balance, AsOfEntryID: s.AsOfEntryID}
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Code      string `json:"code"`
	Rule      string `json:"rule,omitempty"`
	Error     string `json:"error"`
	Retryable bool   `json:"retryable"`
}

// ToErrorResponse maps an error to its status code and body.
func ToErrorResponse(err error) (int, ErrorResponse) {
	resp := ErrorResponse{
		Code:      string(apperrors.CodeOf(err)),
		Error:     err.Error(),
		Retryable: apperrors.Retryable(err),
	}
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		resp.Rule = appErr.Rule
	}
	status := apperrors.HTTPStatus(err)
	if status >= 500 && resp.Code == string(apperrors.CodeInternal) {
		resp.Error = fmt.Sprintf("internal error (%s)", resp.Code)
	}
	return status, resp
}
