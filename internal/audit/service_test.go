package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stewardship/internal/actor"
	"github.com/odyssey-erp/stewardship/internal/ledger"
)

type stubTimelineRepo struct {
	rows      []Entry
	lastQuery WindowQuery
}

func (s *stubTimelineRepo) TimelineWindow(ctx context.Context, query WindowQuery) ([]Entry, error) {
	s.lastQuery = query
	return s.rows, nil
}

func TestServiceTimelinePaging(t *testing.T) {
	repo := &stubTimelineRepo{rows: []Entry{{ID: 3}, {ID: 2}, {ID: 1}}}
	svc := NewService(repo)

	result, err := svc.Timeline(context.Background(), TimelineFilters{Page: 2, PageSize: 2, Entity: " ledger_transaction "})
	require.NoError(t, err)
	require.Len(t, result.Rows, 2)
	require.Equal(t, PagingInfo{Page: 2, PageSize: 2, HasNext: true, PrevPage: 1, NextPage: 3}, result.Paging)
	require.Equal(t, WindowQuery{Entity: "ledger_transaction", Offset: 2, Limit: 3}, repo.lastQuery)
}

func TestServiceTimelineClampsPageSize(t *testing.T) {
	repo := &stubTimelineRepo{}
	result, err := NewService(repo).Timeline(context.Background(), TimelineFilters{PageSize: 500})
	require.NoError(t, err)
	require.Equal(t, 51, repo.lastQuery.Limit)
	require.Equal(t, 0, repo.lastQuery.Offset)
	require.NotNil(t, result.Rows)
	require.False(t, result.Paging.HasNext)

	_, err = NewService(nil).Timeline(context.Background(), TimelineFilters{})
	require.Error(t, err)
}

func sampleDecision() (ledger.ApprovalDecision, ledger.Transaction) {
	at := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	transfer := uuid.MustParse("8a8c7f3e-6a4f-4c55-9b59-1f0b0f6f9a11")
	txn := ledger.Transaction{
		ID:           42,
		BranchID:     actor.Branch(1),
		AccountID:    7,
		Category:     ledger.CategoryTransfer,
		Amount:       decimal.RequireFromString("1200"),
		SignedEffect: decimal.RequireFromString("-1200"),
		Status:       ledger.StatusCompleted,
		TransferID:   &transfer,
		Leg:          ledger.LegDebit,
	}
	decision := ledger.ApprovalDecision{
		ID:            uuid.MustParse("0f7d2c1a-3b7e-4d5e-8f9a-1b2c3d4e5f60"),
		TransactionID: 42,
		TransferID:    &transfer,
		ActorID:       10,
		ActorRole:     actor.RoleBishop,
		Decision:      ledger.DecisionApprove,
		DecidedAt:     at,
	}
	return decision, txn
}

func TestFromDecision(t *testing.T) {
	decision, txn := sampleDecision()
	entry, err := FromDecision(decision, txn)
	require.NoError(t, err)
	require.Equal(t, ActionApprove, entry.Action)
	require.Equal(t, EntityTransaction, entry.Entity)
	require.Equal(t, "42", entry.EntityID)
	require.Equal(t, int64(10), entry.ActorID)
	require.Equal(t, decision.DecidedAt, entry.OccurredAt)

	var meta map[string]any
	require.NoError(t, json.Unmarshal(entry.Meta, &meta))
	require.Equal(t, "APPROVE", meta["decision"])
	require.Equal(t, "bishop", meta["actor_role"])
	require.Equal(t, "-1200.00", meta["signed_effect"])
	require.Equal(t, "DEBIT", meta["leg"])
	require.Equal(t, "8a8c7f3e-6a4f-4c55-9b59-1f0b0f6f9a11", meta["transfer_id"])

	decision.Decision = ledger.DecisionReject
	entry, err = FromDecision(decision, txn)
	require.NoError(t, err)
	require.Equal(t, ActionReject, entry.Action)
}

type memorySink struct {
	entries []Entry
	err     error
}

func (m *memorySink) Write(ctx context.Context, entry Entry) error {
	if m.err != nil {
		return m.err
	}
	m.entries = append(m.entries, entry)
	return nil
}

func TestRecorderFansOut(t *testing.T) {
	failing := &memorySink{err: errors.New("broker down")}
	ok := &memorySink{}
	recorder := NewRecorder(failing, nil, ok)

	decision, txn := sampleDecision()
	err := recorder.RecordDecision(context.Background(), decision, txn)
	require.ErrorContains(t, err, "broker down")
	require.Len(t, ok.entries, 1)

	var _ ledger.AuditPort = recorder
}

type fakeWriter struct {
	messages []kafka.Message
	closed   bool
}

func (f *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaSinkPublishesKeyedMessages(t *testing.T) {
	writer := &fakeWriter{}
	sink := NewKafkaSinkWithWriter(writer)
	decision, txn := sampleDecision()
	entry, err := FromDecision(decision, txn)
	require.NoError(t, err)

	require.NoError(t, sink.Write(context.Background(), entry))
	require.Len(t, writer.messages, 1)
	msg := writer.messages[0]
	require.Equal(t, "ledger_transaction:42", string(msg.Key))
	require.Equal(t, []kafka.Header{{Key: "action", Value: []byte(ActionApprove)}}, msg.Headers)

	var decoded Entry
	require.NoError(t, json.Unmarshal(msg.Value, &decoded))
	require.Equal(t, entry.EntityID, decoded.EntityID)
	require.JSONEq(t, string(entry.Meta), string(decoded.Meta))

	require.NoError(t, sink.Close())
	require.True(t, writer.closed)
}
