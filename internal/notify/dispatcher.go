// Package notify tells requesters about decisions on their transactions.
// Decisions are enqueued as asynq tasks and delivered by the worker.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stewardship/internal/ledger"
)

const (
	// TaskDecisionNotify is the asynq task type for decision notices.
	TaskDecisionNotify = "ledger:decision.notify"
	// Queue carries notification tasks.
	Queue = "notifications"
)

// DecisionPayload is the task body.
type DecisionPayload struct {
	TransactionID int64           `json:"transaction_id"`
	TransferID    *uuid.UUID      `json:"transfer_id,omitempty"`
	Category      string          `json:"category"`
	Decision      string          `json:"decision"`
	Status        string          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	AccountID     int64           `json:"account_id"`
	BranchID      *int64          `json:"branch_id,omitempty"`
	RequesterID   int64           `json:"requester_id"`
	ActorID       int64           `json:"actor_id"`
	Reason        string          `json:"reason,omitempty"`
	DecidedAt     time.Time       `json:"decided_at"`
}

// PayloadFromOutcome converts an engine outcome.
func PayloadFromOutcome(o ledger.Outcome) DecisionPayload {
	return DecisionPayload{
		TransactionID: o.TransactionID,
		TransferID:    o.TransferID,
		Category:      string(o.Category),
		Decision:      string(o.Decision),
		Status:        string(o.Status),
		Amount:        o.Amount,
		AccountID:     o.AccountID,
		BranchID:      o.BranchID,
		RequesterID:   o.RequesterID,
		ActorID:       o.ActorID,
		Reason:        o.Reason,
		DecidedAt:     o.DecidedAt,
	}
}

// NewDecisionTask builds the asynq task for a payload.
func NewDecisionTask(payload DecisionPayload) (*asynq.Task, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDecisionNotify, data), nil
}

// Enqueuer is satisfied by *asynq.Client.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// Dispatcher enqueues decision notices.
type Dispatcher struct {
	client   Enqueuer
	maxRetry int
}

// NewDispatcher constructs a Dispatcher.
func NewDispatcher(client Enqueuer) *Dispatcher {
	return &Dispatcher{client: client, maxRetry: 5}
}

// NotifyDecision satisfies ledger.NotifyPort. A transaction is decided at
// most once, so the task id deduplicates repeated enqueues.
func (d *Dispatcher) NotifyDecision(ctx context.Context, outcome ledger.Outcome) error {
	if d == nil || d.client == nil {
		return errors.New("notify: dispatcher not configured")
	}
	task, err := NewDecisionTask(PayloadFromOutcome(outcome))
	if err != nil {
		return fmt.Errorf("notify: encode payload: %w", err)
	}
	_, err = d.client.EnqueueContext(ctx, task,
		asynq.Queue(Queue),
		asynq.MaxRetry(d.maxRetry),
		asynq.Timeout(30*time.Second),
		asynq.TaskID(taskID(outcome.TransactionID)),
	)
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("notify: enqueue: %w", err)
	}
	return nil
}

func taskID(transactionID int64) string {
	return "ledger-decision-" + strconv.FormatInt(transactionID, 10)
}
