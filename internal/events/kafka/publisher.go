package kafka

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/SscSPs/bank_posting_core/internal/core/domain"
	"github.com/SscSPs/bank_posting_core/internal/events"
	"github.com/segmentio/kafka-go"
)

// Publisher writes EntryCommitted events to a Kafka topic, keyed by reference
// so every entry of one event lands on the same partition.
type Publisher struct {
	writer *kafka.Writer
}

func NewPublisher(brokers []string, topic string) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
	}
}

func (p *Publisher) Publish(ctx context.Context, entries ...domain.JournalEntry) error {
	if len(entries) == 0 {
		return nil
	}
	msgs, err := Messages(entries)
	if err != nil {
		return err
	}
	return p.writer.WriteMessages(ctx, msgs...)
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}

// Messages encodes entries as Kafka messages.
func Messages(entries []domain.JournalEntry) ([]kafka.Message, error) {
	msgs := make([]kafka.Message, 0, len(entries))
	for _, e := range entries {
		data, err := json.Marshal(events.FromEntry(e))
		if err != nil {
			return nil, err
		}
		msgs = append(msgs, kafka.Message{
			Key:   []byte(e.Reference),
			Value: data,
			Headers: []kafka.Header{
				{Key: "entry_id", Value: []byte(strconv.FormatInt(e.EntryID, 10))},
				{Key: "event_kind", Value: []byte(e.EventKind)},
			},
		})
	}
	return msgs, nil
}

var _ events.Publisher = (*Publisher)(nil)
