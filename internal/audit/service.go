package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/odyssey-erp/stewardship/internal/ledger"
)

// Actions recorded for ledger decisions.
const (
	ActionApprove = "ledger.approve"
	ActionReject  = "ledger.reject"

	EntityTransaction = "ledger_transaction"
)

// Sink menulis entri audit ke satu tujuan.
type Sink interface {
	Write(ctx context.Context, entry Entry) error
}

// Repository menyediakan query timeline.
type Repository interface {
	TimelineWindow(ctx context.Context, query WindowQuery) ([]Entry, error)
}

// Result membungkus hasil timeline dengan informasi paging.
type Result struct {
	Rows   []Entry    `json:"rows"`
	Paging PagingInfo `json:"paging"`
}

// Recorder mengubah keputusan ledger menjadi entri audit dan meneruskannya
// ke setiap sink.
type Recorder struct {
	sinks []Sink
}

// NewRecorder membuat recorder untuk sink yang diberikan. Sink nil diabaikan.
func NewRecorder(sinks ...Sink) *Recorder {
	r := &Recorder{}
	for _, sink := range sinks {
		if sink != nil {
			r.sinks = append(r.sinks, sink)
		}
	}
	return r
}

// RecordDecision memenuhi ledger.AuditPort. Semua sink dicoba walaupun ada
// yang gagal.
func (r *Recorder) RecordDecision(ctx context.Context, decision ledger.ApprovalDecision, txn ledger.Transaction) error {
	entry, err := FromDecision(decision, txn)
	if err != nil {
		return err
	}
	var errs []error
	for _, sink := range r.sinks {
		if err := sink.Write(ctx, entry); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

type decisionMeta struct {
	DecisionID string  `json:"decision_id"`
	Decision   string  `json:"decision"`
	ActorRole  string  `json:"actor_role"`
	Reason     string  `json:"reason,omitempty"`
	Category   string  `json:"category"`
	Status     string  `json:"status"`
	Amount     string  `json:"amount"`
	Effect     string  `json:"signed_effect"`
	AccountID  int64   `json:"account_id"`
	BranchID   *int64  `json:"branch_id,omitempty"`
	TransferID *string `json:"transfer_id,omitempty"`
	Leg        string  `json:"leg,omitempty"`
}

// FromDecision membangun entri audit untuk satu keputusan.
func FromDecision(decision ledger.ApprovalDecision, txn ledger.Transaction) (Entry, error) {
	action := ActionApprove
	if decision.Decision == ledger.DecisionReject {
		action = ActionReject
	}
	meta := decisionMeta{
		DecisionID: decision.ID.String(),
		Decision:   string(decision.Decision),
		ActorRole:  string(decision.ActorRole),
		Reason:     decision.Reason,
		Category:   string(txn.Category),
		Status:     string(txn.Status),
		Amount:     txn.Amount.StringFixed(2),
		Effect:     txn.SignedEffect.StringFixed(2),
		AccountID:  txn.AccountID,
		BranchID:   txn.BranchID,
		Leg:        string(txn.Leg),
	}
	if txn.TransferID != nil {
		id := txn.TransferID.String()
		meta.TransferID = &id
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return Entry{}, fmt.Errorf("audit: encode meta: %w", err)
	}
	return Entry{
		OccurredAt: decision.DecidedAt,
		ActorID:    decision.ActorID,
		Action:     action,
		Entity:     EntityTransaction,
		EntityID:   strconv.FormatInt(decision.TransactionID, 10),
		Meta:       raw,
	}, nil
}

// Service mengoordinasikan pengambilan data audit.
type Service struct {
	repo Repository
}

// NewService membuat service audit timeline baru.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Timeline mengambil data audit dengan paging.
func (s *Service) Timeline(ctx context.Context, filters TimelineFilters) (Result, error) {
	if s.repo == nil {
		return Result{}, fmt.Errorf("audit: repository not configured")
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	if pageSize > 50 {
		pageSize = 50
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	rows, err := s.repo.TimelineWindow(ctx, WindowQuery{
		From:    filters.From,
		To:      filters.To,
		ActorID: filters.ActorID,
		Entity:  strings.TrimSpace(filters.Entity),
		Action:  strings.TrimSpace(filters.Action),
		Offset:  (page - 1) * pageSize,
		Limit:   pageSize + 1,
	})
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	if rows == nil {
		rows = []Entry{}
	}
	return Result{Rows: rows, Paging: paging}, nil
}
