package kafka

import (
	"encoding/json"
	"testing"

	"github.com/SscSPs/bank_posting_core/internal/core/domain"
	"github.com/SscSPs/bank_posting_core/internal/events"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessages(t *testing.T) {
	entry := domain.JournalEntry{
		EntryID:   42,
		Reference: "T5-OUT",
		EventKind: domain.Transfer,
		Lines: []domain.JournalLine{
			{EntryID: 42, GLCode: "2000", AccountID: "A", Debit: decimal.RequireFromString("100.00"), Credit: decimal.Zero},
			{EntryID: 42, GLCode: "1000", Debit: decimal.Zero, Credit: decimal.RequireFromString("100.00")},
		},
	}

	msgs, err := Messages([]domain.JournalEntry{entry})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "T5-OUT", string(msgs[0].Key))
	assert.Equal(t, "entry_id", msgs[0].Headers[0].Key)
	assert.Equal(t, "42", string(msgs[0].Headers[0].Value))

	var payload events.EntryCommitted
	require.NoError(t, json.Unmarshal(msgs[0].Value, &payload))
	assert.Equal(t, int64(42), payload.EntryID)
	assert.Equal(t, []string{"A"}, payload.AccountIDs)
	assert.Equal(t, "100.00", payload.Total.StringFixed(2))
}
