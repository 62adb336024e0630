package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// JournalEntry is one business event recorded as balanced lines. Entries are never updated or deleted.
type JournalEntry struct {
	EntryID              int64         `json:"entryID"`
	Reference            string        `json:"reference"`
	Description          string        `json:"description"`
	EventKind            EventKind     `json:"eventKind"`
	PostedAt             time.Time     `json:"postedAt"`
	Actor                string        `json:"actor"`
	CompensatesReference string        `json:"compensatesReference,omitempty"`
	Lines                []JournalLine `json:"lines"`
}

// JournalLine is one leg of an entry. Exactly one of Debit and Credit is positive.
// AccountID is set when the line moves an operational account's bound GL code.
type JournalLine struct {
	EntryID   int64           `json:"entryID"`
	GLCode    string          `json:"glCode"`
	AccountID string          `json:"accountID,omitempty"`
	Debit     decimal.Decimal `json:"debit"`
	Credit    decimal.Decimal `json:"credit"`
	Memo      string          `json:"memo,omitempty"`
}

// Side returns the column carrying the amount.
func (l JournalLine) Side() Side {
	if l.Debit.IsPositive() {
		return Debit
	}
	return Credit
}

// Amount returns the positive amount on the line's side.
func (l JournalLine) Amount() decimal.Decimal {
	if l.Debit.IsPositive() {
		return l.Debit
	}
	return l.Credit
}

// Totals sums both columns of the entry.
func (e JournalEntry) Totals() (debits, credits decimal.Decimal) {
	debits, credits = decimal.Zero, decimal.Zero
	for _, l := range e.Lines {
		debits = debits.Add(l.Debit)
		credits = credits.Add(l.Credit)
	}
	return debits, credits
}
