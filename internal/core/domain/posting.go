package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// EventKind names a money-moving business event.
type EventKind string

const (
	Disbursement    EventKind = "disbursement"
	Repayment       EventKind = "repayment"
	Deposit         EventKind = "deposit"
	Withdrawal      EventKind = "withdrawal"
	Transfer        EventKind = "transfer"
	InterestAccrual EventKind = "interest_accrual"
	Fee             EventKind = "fee"
	Penalty         EventKind = "penalty"
	// Compensation is only produced internally when reversing a committed entry.
	Compensation EventKind = "compensation"
)

// Validate accepts only the kinds a caller may submit.
func (k EventKind) Validate() error {
	switch k {
	case Disbursement, Repayment, Deposit, Withdrawal, Transfer, InterestAccrual, Fee, Penalty:
		return nil
	case Compensation:
		return fmt.Errorf("event kind %q cannot be submitted directly", k)
	default:
		return fmt.Errorf("unknown event kind %q", k)
	}
}

// LegRole identifies which part of an event a pair of journal lines represents.
type LegRole string

const (
	RolePrincipal         LegRole = "principal"
	RoleInterest          LegRole = "interest"
	RoleAccruedInterest   LegRole = "accrued_interest"
	RolePenalty           LegRole = "penalty"
	RoleFee               LegRole = "fee"
	RoleOriginationFee    LegRole = "origination_fee"
	RoleWithholding       LegRole = "withholding"
	RoleEarlyWithdrawal   LegRole = "early_withdrawal"
	RolePrepaymentPenalty LegRole = "prepayment_penalty"
	RoleOutgoing          LegRole = "outgoing"
	RoleIncoming          LegRole = "incoming"
)

// Reference suffixes for the two entries of a transfer and for compensations.
const (
	TransferOutSuffix    = "-OUT"
	TransferInSuffix     = "-IN"
	CompensationSuffix   = "-REV"
	AccrualReferenceDate = "2006-01-02"
)

// AccrualReference builds the idempotency key of a daily accrual posting.
func AccrualReference(accountID string, date time.Time) string {
	return "accrual:" + accountID + ":" + date.Format(AccrualReferenceDate)
}

// EntryReferences lists the references under which an event's entries are stored.
func EntryReferences(kind EventKind, reference string) []string {
	if kind == Transfer {
		return []string{reference + TransferOutSuffix, reference + TransferInSuffix}
	}
	return []string{reference}
}

// PostingRequest is the caller-facing input of Post.
type PostingRequest struct {
	Kind            EventKind         `json:"kind" validate:"required"`
	AccountID       string            `json:"accountID" validate:"required,max=64"`
	CounterpartyID  string            `json:"counterpartyID,omitempty" validate:"omitempty,max=64,nefield=AccountID"`
	Amount          decimal.Decimal   `json:"amount"`
	Overrides       *ProductOverrides `json:"overrides,omitempty"`
	Reference       string            `json:"reference,omitempty" validate:"omitempty,max=128"`
	Actor           string            `json:"actor,omitempty" validate:"max=128"`
	Description     string            `json:"description,omitempty" validate:"max=255"`
	WithholdingRate *decimal.Decimal  `json:"withholdingRate,omitempty"`
	AccountingDate  *time.Time        `json:"accountingDate,omitempty"`
}

// PostingEvent is a validated request with its accounts resolved to snapshots taken under lock.
type PostingEvent struct {
	Kind            EventKind
	Reference       string
	Amount          decimal.Decimal
	Primary         OperationalAccount
	Counterparty    *OperationalAccount
	Product         ProductParams
	WithholdingRate *decimal.Decimal
	Description     string
	Actor           string
	Today           time.Time
}

// PolicyContext carries the reads policy needs beyond the account snapshots.
type PolicyContext struct {
	Schedule            []AmortizationRow
	CustomerOutstanding decimal.Decimal
}

// DraftEntry is an entry produced by the engine and not yet assigned an id.
type DraftEntry struct {
	Reference            string
	Description          string
	EventKind            EventKind
	CompensatesReference string
	Lines                []JournalLine
}

// ToEntry assigns the committed id to the entry and its lines.
func (d DraftEntry) ToEntry(id int64, postedAt time.Time, actor string) JournalEntry {
	lines := make([]JournalLine, len(d.Lines))
	for i, l := range d.Lines {
		l.EntryID = id
		lines[i] = l
	}
	return JournalEntry{
		EntryID:              id,
		Reference:            d.Reference,
		Description:          d.Description,
		EventKind:            d.EventKind,
		PostedAt:             postedAt,
		Actor:                actor,
		CompensatesReference: d.CompensatesReference,
		Lines:                lines,
	}
}

// InstallmentPayment is the allocation of one repayment to one amortization row.
type InstallmentPayment struct {
	Index     int             `json:"index"`
	Principal decimal.Decimal `json:"principal"`
	Interest  decimal.Decimal `json:"interest"`
	Penalty   decimal.Decimal `json:"penalty"`
}

// BalanceDelta is the change an entry makes to one operational account.
type BalanceDelta struct {
	AccountID       string               `json:"accountID"`
	EntryIndex      int                  `json:"entryIndex"`
	Balance         decimal.Decimal      `json:"balance"`
	AccruedInterest decimal.Decimal      `json:"accruedInterest"`
	Installments    []InstallmentPayment `json:"installments,omitempty"`
	Retire          bool                 `json:"retire,omitempty"`
}

// PostingBatch is everything the writer commits for one event.
type PostingBatch struct {
	Reference string
	EventKind EventKind
	Entries   []DraftEntry
	Deltas    []BalanceDelta
	PostedAt  time.Time
	Actor     string
	Today     time.Time
}

// PostingResult is returned by Post. Duplicate marks a replayed reference.
type PostingResult struct {
	Reference string         `json:"reference"`
	Entries   []JournalEntry `json:"entries"`
	Duplicate bool           `json:"duplicate"`
}

// Primary returns the first entry of the result (the -OUT entry for transfers).
func (r PostingResult) Primary() JournalEntry {
	if len(r.Entries) == 0 {
		return JournalEntry{}
	}
	return r.Entries[0]
}

// BalanceSnapshot is the committed balance of an account and the entry that established it.
type BalanceSnapshot struct {
	AccountID   string          `json:"accountID"`
	Balance     decimal.Decimal `json:"balance"`
	AsOfEntryID int64           `json:"asOfEntryID"`
}

// AccrualFailure records one account the accrual run could not post.
type AccrualFailure struct {
	AccountID string `json:"accountID"`
	Code      string `json:"code"`
	Error     string `json:"error"`
}

// AccrualSummary reports the outcome of one accrual run.
type AccrualSummary struct {
	Date       time.Time        `json:"date"`
	Processed  int              `json:"processed"`
	Skipped    int              `json:"skipped"`
	Failed     int              `json:"failed"`
	Duplicates int              `json:"duplicates"`
	Failures   []AccrualFailure `json:"failures,omitempty"`
}

// OutboxRecord is one committed batch awaiting application to the balance store.
// EntryID is the batch's first entry and keys the record; delta EntryIndex values point into EntryIDs.
type OutboxRecord struct {
	EntryID    int64          `json:"entryID"`
	EntryIDs   []int64        `json:"entryIDs"`
	References []string       `json:"references"`
	AccountIDs []string       `json:"accountIDs"`
	Deltas     []BalanceDelta `json:"deltas"`
	Today      time.Time      `json:"today"`
	CreatedAt  time.Time      `json:"createdAt"`
	AppliedAt  *time.Time     `json:"appliedAt,omitempty"`
}

// NewOutboxRecord builds the single outbox record for a committed batch, so every entry of
// a transfer or compensation reaches the balance store together.
func NewOutboxRecord(batch PostingBatch, entries []JournalEntry) (OutboxRecord, error) {
	if len(entries) == 0 || len(entries) != len(batch.Entries) {
		return OutboxRecord{}, fmt.Errorf("outbox record needs the %d committed entries of the batch, got %d", len(batch.Entries), len(entries))
	}
	rec := OutboxRecord{
		EntryID:    entries[0].EntryID,
		EntryIDs:   make([]int64, len(entries)),
		References: make([]string, len(entries)),
		Deltas:     append([]BalanceDelta(nil), batch.Deltas...),
		Today:      batch.Today,
		CreatedAt:  entries[0].PostedAt,
	}
	for i, e := range entries {
		rec.EntryIDs[i] = e.EntryID
		rec.References[i] = e.Reference
	}
	seen := make(map[string]bool, len(batch.Deltas))
	for _, d := range batch.Deltas {
		if d.EntryIndex < 0 || d.EntryIndex >= len(entries) {
			return OutboxRecord{}, fmt.Errorf("delta for %s references entry %d of %d", d.AccountID, d.EntryIndex, len(entries))
		}
		if !seen[d.AccountID] {
			seen[d.AccountID] = true
			rec.AccountIDs = append(rec.AccountIDs, d.AccountID)
		}
	}
	return rec, nil
}

// ReconciliationReport compares a balance row with the ledger sum for the same account.
type ReconciliationReport struct {
	AccountID     string          `json:"accountID"`
	GLCode        string          `json:"glCode"`
	BalanceRow    decimal.Decimal `json:"balanceRow"`
	LedgerBalance decimal.Decimal `json:"ledgerBalance"`
	Difference    decimal.Decimal `json:"difference"`
	InSync        bool            `json:"inSync"`
	AsOfEntryID   int64           `json:"asOfEntryID"`
}
