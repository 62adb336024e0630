package services_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"github.com/SscSPs/bank_posting_core/internal/apperrors"
	"github.com/SscSPs/bank_posting_core/internal/core/domain"
	portsrepo "github.com/SscSPs/bank_posting_core/internal/core/ports/repositories"
	"github.com/SscSPs/bank_posting_core/internal/core/services"
	"github.com/SscSPs/bank_posting_core/internal/events"
)

// --- Mock OutboxStore ---
type MockOutboxStore struct {
	mock.Mock
}

var _ portsrepo.OutboxStore = (*MockOutboxStore)(nil)

func (m *MockOutboxStore) ListPending(ctx context.Context, limit int) ([]domain.OutboxRecord, error) {
	args := m.Called(ctx, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.OutboxRecord), args.Error(1)
}

func (m *MockOutboxStore) Apply(ctx context.Context, record domain.OutboxRecord) (bool, error) {
	args := m.Called(ctx, record)
	return args.Bool(0), args.Error(1)
}

// --- Mock LedgerReader ---
type MockLedgerReader struct {
	mock.Mock
}

var _ portsrepo.LedgerReader = (*MockLedgerReader)(nil)

func (m *MockLedgerReader) FindEntriesByReference(ctx context.Context, references ...string) ([]domain.JournalEntry, error) {
	args := m.Called(ctx, references)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]domain.JournalEntry), args.Error(1)
}

func (m *MockLedgerReader) SumAccountLines(ctx context.Context, accountID, glCode string, normalSide domain.Side) (decimal.Decimal, int64, error) {
	args := m.Called(ctx, accountID, glCode, normalSide)
	return args.Get(0).(decimal.Decimal), args.Get(1).(int64), args.Error(2)
}

func (m *MockLedgerReader) HasPendingOutbox(ctx context.Context, accountIDs []string) (bool, error) {
	args := m.Called(ctx, accountIDs)
	return args.Bool(0), args.Error(1)
}

// --- Mock Publisher ---
type MockPublisher struct {
	mock.Mock
}

var _ events.Publisher = (*MockPublisher)(nil)

func (m *MockPublisher) Publish(ctx context.Context, entries ...domain.JournalEntry) error {
	args := m.Called(ctx, entries)
	return args.Error(0)
}

func (m *MockPublisher) Close() error {
	return m.Called().Error(0)
}

type OutboxApplierTestSuite struct {
	suite.Suite
	outbox    *MockOutboxStore
	ledger    *MockLedgerReader
	publisher *MockPublisher
	applier   *services.OutboxApplier
	ctx       context.Context
}

func (s *OutboxApplierTestSuite) SetupTest() {
	s.outbox = new(MockOutboxStore)
	s.ledger = new(MockLedgerReader)
	s.publisher = new(MockPublisher)
	s.applier = services.NewOutboxApplier(s.outbox, s.ledger, s.publisher, 2, 0)
	s.ctx = context.Background()
}

func TestOutboxApplierTestSuite(t *testing.T) {
	suite.Run(t, new(OutboxApplierTestSuite))
}

func record(id int64, ref string) domain.OutboxRecord {
	return domain.OutboxRecord{EntryID: id, EntryIDs: []int64{id}, References: []string{ref}, AccountIDs: []string{"S"}}
}

func (s *OutboxApplierTestSuite) TestDrainOnce_AppliesInPagesAndPublishes() {
	first := []domain.OutboxRecord{record(1, "T1"), record(2, "T2")}
	second := []domain.OutboxRecord{record(3, "T3")}
	s.outbox.On("ListPending", s.ctx, 2).Return(first, nil).Once()
	s.outbox.On("ListPending", s.ctx, 2).Return(second, nil).Once()
	s.outbox.On("Apply", s.ctx, first[0]).Return(true, nil)
	// Already applied by a concurrent drain: not published again.
	s.outbox.On("Apply", s.ctx, first[1]).Return(false, nil)
	s.outbox.On("Apply", s.ctx, second[0]).Return(true, nil)

	e1 := domain.JournalEntry{EntryID: 1, Reference: "T1"}
	e3 := domain.JournalEntry{EntryID: 3, Reference: "T3"}
	s.ledger.On("FindEntriesByReference", s.ctx, []string{"T1"}).Return([]domain.JournalEntry{e1}, nil)
	s.ledger.On("FindEntriesByReference", s.ctx, []string{"T3"}).Return([]domain.JournalEntry{e3}, nil)
	s.publisher.On("Publish", s.ctx, []domain.JournalEntry{e1}).Return(nil)
	s.publisher.On("Publish", s.ctx, []domain.JournalEntry{e3}).Return(errors.New("broker down"))

	applied, err := s.applier.DrainOnce(s.ctx)

	s.Require().NoError(err)
	s.Equal(2, applied)
	s.outbox.AssertExpectations(s.T())
	s.ledger.AssertNotCalled(s.T(), "FindEntriesByReference", s.ctx, []string{"T2"})
	s.publisher.AssertNumberOfCalls(s.T(), "Publish", 2)
}

func (s *OutboxApplierTestSuite) TestDrainOnce_StopsAtFirstFailure() {
	recs := []domain.OutboxRecord{record(1, "T1"), record(2, "T2")}
	s.outbox.On("ListPending", s.ctx, 2).Return(recs, nil).Once()
	s.outbox.On("Apply", s.ctx, recs[0]).Return(false, errors.New("serialization failure"))

	applied, err := s.applier.DrainOnce(s.ctx)

	s.Equal(0, applied)
	s.True(errors.Is(err, apperrors.ErrStoreTransient))
	s.outbox.AssertNotCalled(s.T(), "Apply", s.ctx, recs[1])
	s.publisher.AssertNotCalled(s.T(), "Publish", mock.Anything, mock.Anything)
}

func (s *OutboxApplierTestSuite) TestDrainOnce_TransferAppliesAsOneRecord() {
	a := domain.BalanceDelta{AccountID: "A", EntryIndex: 0, Balance: decimal.RequireFromString("-100.00")}
	b := domain.BalanceDelta{AccountID: "B", EntryIndex: 1, Balance: decimal.RequireFromString("100.00")}
	batch := domain.PostingBatch{
		Reference: "T5",
		Entries:   []domain.DraftEntry{{Reference: "T5-OUT"}, {Reference: "T5-IN"}},
		Deltas:    []domain.BalanceDelta{a, b},
	}
	out := domain.JournalEntry{EntryID: 11, Reference: "T5-OUT"}
	in := domain.JournalEntry{EntryID: 12, Reference: "T5-IN"}
	rec, err := domain.NewOutboxRecord(batch, []domain.JournalEntry{out, in})
	s.Require().NoError(err)

	s.outbox.On("ListPending", s.ctx, 2).Return([]domain.OutboxRecord{rec}, nil).Once()
	s.outbox.On("Apply", s.ctx, rec).Return(false, errors.New("balance row locked")).Once()

	applied, err := s.applier.DrainOnce(s.ctx)

	// A failed apply leaves both legs pending; neither side is published.
	s.Error(err)
	s.Equal(0, applied)
	s.outbox.AssertNumberOfCalls(s.T(), "Apply", 1)
	s.publisher.AssertNotCalled(s.T(), "Publish", mock.Anything, mock.Anything)

	s.outbox.On("ListPending", s.ctx, 2).Return([]domain.OutboxRecord{rec}, nil).Once()
	s.outbox.On("Apply", s.ctx, rec).Return(true, nil).Once()
	s.ledger.On("FindEntriesByReference", s.ctx, []string{"T5-OUT", "T5-IN"}).Return([]domain.JournalEntry{out, in}, nil)
	s.publisher.On("Publish", s.ctx, []domain.JournalEntry{out, in}).Return(nil)

	applied, err = s.applier.DrainOnce(s.ctx)

	s.Require().NoError(err)
	s.Equal(1, applied)
	s.outbox.AssertNumberOfCalls(s.T(), "Apply", 2)
	s.publisher.AssertExpectations(s.T())
}

func (s *OutboxApplierTestSuite) TestEntriesCommitted_SwallowsErrors() {
	s.outbox.On("ListPending", s.ctx, 2).Return(nil, errors.New("balance store unreachable"))

	s.NotPanics(func() {
		s.applier.EntriesCommitted(s.ctx, []domain.JournalEntry{{EntryID: 9}})
	})
	s.outbox.AssertExpectations(s.T())
}

func TestPublishListener(t *testing.T) {
	pub := new(MockPublisher)
	entries := []domain.JournalEntry{{EntryID: 1, Reference: "T1"}}
	pub.On("Publish", mock.Anything, entries).Return(errors.New("broker down")).Once()

	require.NotPanics(t, func() {
		services.PublishListener{Publisher: pub}.EntriesCommitted(context.Background(), entries)
	})
	pub.AssertExpectations(t)
	assert.NotPanics(t, func() {
		services.PublishListener{}.EntriesCommitted(context.Background(), entries)
	})
}
