package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// compensationReason is stored on decision rows written by compensate.
const compensationReason = "compensated: decision could not be applied"

type appliedAdjustment struct {
	accountID int64
	delta     decimal.Decimal
}

// unit tracks the writes made inside one WithTx callback so they can be
// reversed when the store does not roll them back itself.
type unit struct {
	tx          TxRepository
	inserted    []Transaction
	transitions []StatusUpdate
	adjustments []appliedAdjustment
	planned     []ApprovalDecision
	recorded    map[int64]bool
}

func newUnit(tx TxRepository) *unit {
	return &unit{tx: tx, recorded: map[int64]bool{}}
}

func (u *unit) dirty() bool {
	return len(u.inserted) > 0 || len(u.transitions) > 0 || len(u.adjustments) > 0
}

// plan registers the decisions the unit intends to record. Compensation
// settles every planned transaction, touched or not.
func (u *unit) plan(decisions ...ApprovalDecision) {
	u.planned = append(u.planned, decisions...)
}

// decides reports whether the unit carries planned decisions, as opposed
// to a submission.
func (u *unit) decides() bool {
	return len(u.planned) > 0
}

func (u *unit) insert(ctx context.Context, txn Transaction) (Transaction, error) {
	inserted, err := u.tx.InsertTransaction(ctx, txn)
	if err != nil {
		return Transaction{}, storeError("insert transaction", err)
	}
	u.inserted = append(u.inserted, inserted)
	return inserted, nil
}

func (u *unit) transition(ctx context.Context, update StatusUpdate) (bool, error) {
	ok, err := u.tx.UpdateStatusIf(ctx, update)
	if err != nil {
		return false, storeError("update status", err)
	}
	if ok {
		u.transitions = append(u.transitions, update)
	}
	return ok, nil
}

func (u *unit) adjust(ctx context.Context, accountID int64, delta decimal.Decimal, guard BalanceGuard) (decimal.Decimal, error) {
	balance, err := u.tx.AdjustBalance(ctx, accountID, delta, guard)
	if err != nil {
		return decimal.Zero, storeError("adjust balance", err)
	}
	u.adjustments = append(u.adjustments, appliedAdjustment{accountID: accountID, delta: delta})
	return balance, nil
}

func (u *unit) record(ctx context.Context, d ApprovalDecision) error {
	if err := u.tx.InsertDecision(ctx, d); err != nil {
		return storeError("insert decision", err)
	}
	u.recorded[d.TransactionID] = true
	return nil
}

// compensate reverses applied balance deltas newest first and moves every
// transaction this unit inserted, completed or planned to decide to
// Rejected. A planned transaction left without a decision row gets a REJECT
// row so its status has provenance. Rows are never deleted and status never
// returns to Pending.
func (u *unit) compensate(ctx context.Context, newID func() uuid.UUID) error {
	var errs []error
	for i := len(u.adjustments) - 1; i >= 0; i-- {
		adj := u.adjustments[i]
		if _, err := u.tx.AdjustBalance(ctx, adj.accountID, adj.delta.Neg(), BalanceGuard{}); err != nil {
			errs = append(errs, fmt.Errorf("reverse account %d: %w", adj.accountID, err))
		}
	}
	for _, txn := range u.inserted {
		reject := StatusUpdate{ID: txn.ID, From: txn.Status, To: StatusRejected, DecidedBy: txn.CreatedBy, DecidedAt: txn.CreatedAt}
		if _, err := u.tx.UpdateStatusIf(ctx, reject); err != nil {
			errs = append(errs, fmt.Errorf("reject transaction %d: %w", txn.ID, err))
		}
	}

	rejected := make(map[int64]bool, len(u.planned))
	touched := make(map[int64]bool, len(u.transitions))
	for _, applied := range u.transitions {
		touched[applied.ID] = true
		if applied.To == StatusRejected {
			rejected[applied.ID] = true
			continue
		}
		reverted := applied
		reverted.From = StatusCompleted
		reverted.To = StatusRejected
		ok, err := u.tx.UpdateStatusIf(ctx, reverted)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("reject transaction %d: %w", applied.ID, err))
		case !ok:
			errs = append(errs, fmt.Errorf("transaction %d no longer completed", applied.ID))
		default:
			rejected[applied.ID] = true
		}
	}
	for _, d := range u.planned {
		if touched[d.TransactionID] {
			continue
		}
		ok, err := u.tx.UpdateStatusIf(ctx, StatusUpdate{
			ID:        d.TransactionID,
			From:      StatusPending,
			To:        StatusRejected,
			DecidedBy: d.ActorID,
			DecidedAt: d.DecidedAt,
		})
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("reject transaction %d: %w", d.TransactionID, err))
		case !ok:
			errs = append(errs, fmt.Errorf("transaction %d no longer pending", d.TransactionID))
		default:
			rejected[d.TransactionID] = true
		}
	}

	for _, d := range u.planned {
		if !rejected[d.TransactionID] || u.recorded[d.TransactionID] {
			continue
		}
		if d.Decision != DecisionReject {
			d.ID = newID()
			d.Decision = DecisionReject
			d.Reason = compensationReason
		}
		if err := u.tx.InsertDecision(ctx, d); err != nil {
			errs = append(errs, fmt.Errorf("record rejection of transaction %d: %w", d.TransactionID, err))
		}
	}
	return errors.Join(errs...)
}
