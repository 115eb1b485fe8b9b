package ledger

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stewardship/internal/actor"
)

// Category enumerates the kinds of financial activity.
type Category string

const (
	CategoryExpense  Category = "EXPENSE"
	CategoryStipend  Category = "STIPEND"
	CategoryDonation Category = "DONATION"
	CategoryTransfer Category = "TRANSFER"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	switch c {
	case CategoryExpense, CategoryStipend, CategoryDonation, CategoryTransfer:
		return true
	}
	return false
}

// IsExpense reports whether c is an expense or one of its sub-kinds.
func (c Category) IsExpense() bool {
	return c == CategoryExpense || c == CategoryStipend
}

// Status enumerates transaction lifecycle values.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusRejected  Status = "REJECTED"
)

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusRejected
}

// AccountKind enumerates the kinds of pooled funds.
type AccountKind string

const (
	AccountKindCash     AccountKind = "CASH"
	AccountKindBank     AccountKind = "BANK"
	AccountKindSavings  AccountKind = "SAVINGS"
	AccountKindChecking AccountKind = "CHECKING"
)

// Leg identifies which side of a transfer a transaction represents.
type Leg string

const (
	LegDebit  Leg = "DEBIT"
	LegCredit Leg = "CREDIT"
)

// Decision is the action an approver takes on a pending transaction.
type Decision string

const (
	DecisionApprove Decision = "APPROVE"
	DecisionReject  Decision = "REJECT"
)

// Valid reports whether d is a known decision.
func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionReject
}

// Target returns the status a decision moves a pending transaction to.
func (d Decision) Target() Status {
	if d == DecisionApprove {
		return StatusCompleted
	}
	return StatusRejected
}

// Account is a balance-bearing pool of funds. A nil BranchID marks an
// organisation-wide account.
type Account struct {
	ID             int64
	BranchID       *int64
	Code           string
	Name           string
	Kind           AccountKind
	OpeningBalance decimal.Decimal
	Balance        decimal.Decimal
	IsActive       bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Branch implements Scoped.
func (a Account) Branch() *int64 {
	return a.BranchID
}

// ExpenseLine is one claimed item of an expense request.
type ExpenseLine struct {
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// DonationMeta describes the origin of a donation.
type DonationMeta struct {
	DonorName string `json:"donor_name,omitempty"`
	Campaign  string `json:"campaign,omitempty"`
	Anonymous bool   `json:"anonymous,omitempty"`
}

// Payload carries category-specific details.
type Payload struct {
	LineItems      []ExpenseLine `json:"line_items,omitempty"`
	TransferMethod string        `json:"transfer_method,omitempty"`
	Donation       *DonationMeta `json:"donation,omitempty"`
}

// Transaction is a single financial event. Amount is the positive magnitude
// supplied at submission; SignedEffect is the balance delta derived from it
// once at creation and applied only when the transaction completes.
type Transaction struct {
	ID               int64
	BranchID         *int64
	AccountID        int64
	Category         Category
	Amount           decimal.Decimal
	SignedEffect     decimal.Decimal
	Status           Status
	RequiresApproval bool
	TransferID       *uuid.UUID
	Leg              Leg
	Notes            string
	Payload          Payload
	CreatedBy        int64
	CreatedAt        time.Time
	UpdatedAt        time.Time
	DecidedBy        *int64
	DecidedAt        *time.Time
}

// Branch implements Scoped.
func (t Transaction) Branch() *int64 {
	return t.BranchID
}

// IsTransferLeg reports whether t is one side of a transfer.
func (t Transaction) IsTransferLeg() bool {
	return t.TransferID != nil
}

// Transfer pairs the two legs of a fund transfer.
type Transfer struct {
	ID     uuid.UUID
	Debit  Transaction
	Credit Transaction
}

// Status returns the shared status of both legs.
func (t Transfer) Status() Status {
	return t.Debit.Status
}

// ApprovalDecision records one actor's decision on one transaction.
type ApprovalDecision struct {
	ID            uuid.UUID
	TransactionID int64
	TransferID    *uuid.UUID
	ActorID       int64
	ActorRole     actor.Role
	Decision      Decision
	Reason        string
	DecidedAt     time.Time
}

// Outcome is published to notification dispatch after a successful decision.
type Outcome struct {
	TransactionID int64
	TransferID    *uuid.UUID
	Category      Category
	Decision      Decision
	Status        Status
	Amount        decimal.Decimal
	AccountID     int64
	BranchID      *int64
	RequesterID   int64
	ActorID       int64
	Reason        string
	DecidedAt     time.Time
}

// TransactionFilter narrows transaction listings. Branches is always
// produced by the scoping filter.
type TransactionFilter struct {
	Branches  BranchFilter
	Status    Status
	Category  Category
	AccountID int64
	Limit     int
	Offset    int
}

// AccountDrift reports an account whose stored balance disagrees with its
// opening balance plus completed effects.
type AccountDrift struct {
	AccountID int64
	BranchID  *int64
	Stored    decimal.Decimal
	Expected  decimal.Decimal
}

// Difference returns stored minus expected.
func (d AccountDrift) Difference() decimal.Decimal {
	return d.Stored.Sub(d.Expected)
}
