package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// BalanceGuard constrains a balance adjustment. The adjustment is applied
// only when every condition holds at write time.
type BalanceGuard struct {
	RequireActive bool
	Floor         *decimal.Decimal
}

// StatusUpdate describes a conditional status transition.
type StatusUpdate struct {
	ID        int64
	From      Status
	To        Status
	DecidedBy int64
	DecidedAt time.Time
}

// Repository is the read side of the ledger store plus its unit-of-work
// facility.
type Repository interface {
	GetTransaction(ctx context.Context, id int64) (Transaction, error)
	ListTransferLegs(ctx context.Context, transferID uuid.UUID) ([]Transaction, error)
	GetAccount(ctx context.Context, id int64) (Account, error)
	ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error)
	ListAccounts(ctx context.Context, filter BranchFilter, includeInactive bool) ([]Account, error)
	ListDecisions(ctx context.Context, transactionID int64) ([]ApprovalDecision, error)
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	// MultiRowAtomic reports whether WithTx rolls back every write made
	// through the TxRepository when fn fails.
	MultiRowAtomic() bool
}

// TxRepository exposes the writes allowed inside a unit of work. Each call
// is atomic at the single-row level.
type TxRepository interface {
	InsertTransaction(ctx context.Context, txn Transaction) (Transaction, error)
	// UpdateStatusIf applies the transition only if the row still holds
	// From, reporting whether it did.
	UpdateStatusIf(ctx context.Context, update StatusUpdate) (bool, error)
	// AdjustBalance adds delta to the account balance when guard holds and
	// returns the new balance.
	AdjustBalance(ctx context.Context, accountID int64, delta decimal.Decimal, guard BalanceGuard) (decimal.Decimal, error)
	InsertDecision(ctx context.Context, decision ApprovalDecision) error
}

// AuditPort receives decision records after commit.
type AuditPort interface {
	RecordDecision(ctx context.Context, decision ApprovalDecision, txn Transaction) error
}

// NotifyPort informs requesters of decision outcomes.
type NotifyPort interface {
	NotifyDecision(ctx context.Context, outcome Outcome) error
}

// MetricsPort observes engine outcomes.
type MetricsPort interface {
	ObserveDecision(decision string, outcome string)
}
