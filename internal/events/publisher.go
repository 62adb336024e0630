package events

import (
	"context"
	"time"

	"github.com/SscSPs/bank_posting_core/internal/core/domain"
	"github.com/shopspring/decimal"
)

// EntryCommitted is published once per journal entry after the balance store reflects it.
type EntryCommitted struct {
	EntryID     int64                `json:"entry_id"`
	Reference   string               `json:"reference"`
	EventKind   domain.EventKind     `json:"event_kind"`
	Description string               `json:"description"`
	Actor       string               `json:"actor"`
	PostedAt    time.Time            `json:"posted_at"`
	Total       decimal.Decimal      `json:"total"`
	AccountIDs  []string             `json:"account_ids"`
	Lines       []domain.JournalLine `json:"lines"`
}

// FromEntry builds the event payload for a committed entry.
func FromEntry(e domain.JournalEntry) EntryCommitted {
	debits, _ := e.Totals()
	seen := map[string]bool{}
	var accounts []string
	for _, l := range e.Lines {
		if l.AccountID != "" && !seen[l.AccountID] {
			seen[l.AccountID] = true
			accounts = append(accounts, l.AccountID)
		}
	}
	return EntryCommitted{
		EntryID:     e.EntryID,
		Reference:   e.Reference,
		EventKind:   e.EventKind,
		Description: e.Description,
		Actor:       e.Actor,
		PostedAt:    e.PostedAt,
		Total:       debits,
		AccountIDs:  accounts,
		Lines:       e.Lines,
	}
}

// Publisher announces committed entries to downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, entries ...domain.JournalEntry) error
	Close() error
}

// NopPublisher drops every event. Used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, ...domain.JournalEntry) error { return nil }

func (NopPublisher) Close() error { return nil }
