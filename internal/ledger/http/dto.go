package ledgerhttp

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stewardship/internal/actor"
	"github.com/odyssey-erp/stewardship/internal/ledger"
)

type lineItemRequest struct {
	Description string          `json:"description" validate:"required,max=200"`
	Amount      decimal.Decimal `json:"amount"`
}

type donationRequest struct {
	DonorName string `json:"donor_name" validate:"max=200"`
	Campaign  string `json:"campaign" validate:"max=200"`
	Anonymous bool   `json:"anonymous"`
}

type submitRequest struct {
	AccountID int64             `json:"account_id" validate:"required,gt=0"`
	Category  string            `json:"category" validate:"required,oneof=EXPENSE STIPEND DONATION"`
	Amount    decimal.Decimal   `json:"amount"`
	Notes     string            `json:"notes" validate:"max=2000"`
	LineItems []lineItemRequest `json:"line_items" validate:"omitempty,max=100,dive"`
	Donation  *donationRequest  `json:"donation" validate:"omitempty"`
}

func (req submitRequest) toInput(a actor.Actor) ledger.SubmitInput {
	input := ledger.SubmitInput{
		Actor:     a,
		AccountID: req.AccountID,
		Category:  ledger.Category(req.Category),
		Amount:    req.Amount,
		Notes:     req.Notes,
	}
	for _, line := range req.LineItems {
		input.Payload.LineItems = append(input.Payload.LineItems, ledger.ExpenseLine{Description: line.Description, Amount: line.Amount})
	}
	if req.Donation != nil {
		input.Payload.Donation = &ledger.DonationMeta{
			DonorName: req.Donation.DonorName,
			Campaign:  req.Donation.Campaign,
			Anonymous: req.Donation.Anonymous,
		}
	}
	return input
}

type transferRequest struct {
	FromAccountID int64           `json:"from_account_id" validate:"required,gt=0"`
	ToAccountID   int64           `json:"to_account_id" validate:"required,gt=0,nefield=FromAccountID"`
	Amount        decimal.Decimal `json:"amount"`
	Method        string          `json:"method" validate:"max=64"`
	Notes         string          `json:"notes" validate:"max=2000"`
}

type decisionRequest struct {
	Reason string `json:"reason" validate:"max=500"`
}

type transactionResponse struct {
	ID               int64          `json:"id"`
	BranchID         *int64         `json:"branch_id"`
	AccountID        int64          `json:"account_id"`
	Category         string         `json:"category"`
	Amount           string         `json:"amount"`
	SignedEffect     string         `json:"signed_effect"`
	Status           string         `json:"status"`
	RequiresApproval bool           `json:"requires_approval"`
	TransferID       *uuid.UUID     `json:"transfer_id,omitempty"`
	Leg              string         `json:"leg,omitempty"`
	Notes            string         `json:"notes,omitempty"`
	Payload          ledger.Payload `json:"payload"`
	CreatedBy        int64          `json:"created_by"`
	CreatedAt        time.Time      `json:"created_at"`
	DecidedBy        *int64         `json:"decided_by,omitempty"`
	DecidedAt        *time.Time     `json:"decided_at,omitempty"`
}

func toTransactionResponse(t ledger.Transaction) transactionResponse {
	return transactionResponse{
		ID:               t.ID,
		BranchID:         t.BranchID,
		AccountID:        t.AccountID,
		Category:         string(t.Category),
		Amount:           t.Amount.StringFixed(2),
		SignedEffect:     t.SignedEffect.StringFixed(2),
		Status:           string(t.Status),
		RequiresApproval: t.RequiresApproval,
		TransferID:       t.TransferID,
		Leg:              string(t.Leg),
		Notes:            t.Notes,
		Payload:          t.Payload,
		CreatedBy:        t.CreatedBy,
		CreatedAt:        t.CreatedAt,
		DecidedBy:        t.DecidedBy,
		DecidedAt:        t.DecidedAt,
	}
}

func toTransactionResponses(txns []ledger.Transaction) []transactionResponse {
	out := make([]transactionResponse, 0, len(txns))
	for _, txn := range txns {
		out = append(out, toTransactionResponse(txn))
	}
	return out
}

type transferResponse struct {
	ID     uuid.UUID           `json:"id"`
	Status string              `json:"status"`
	Amount string              `json:"amount"`
	Debit  transactionResponse `json:"debit"`
	Credit transactionResponse `json:"credit"`
}

func toTransferResponse(t ledger.Transfer) transferResponse {
	return transferResponse{
		ID:     t.ID,
		Status: string(t.Status()),
		Amount: t.Debit.Amount.StringFixed(2),
		Debit:  toTransactionResponse(t.Debit),
		Credit: toTransactionResponse(t.Credit),
	}
}

type accountResponse struct {
	ID             int64     `json:"id"`
	BranchID       *int64    `json:"branch_id"`
	Code           string    `json:"code"`
	Name           string    `json:"name"`
	Kind           string    `json:"kind"`
	OpeningBalance string    `json:"opening_balance"`
	Balance        string    `json:"balance"`
	IsActive       bool      `json:"is_active"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toAccountResponses(accounts []ledger.Account) []accountResponse {
	out := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, accountResponse{
			ID:             a.ID,
			BranchID:       a.BranchID,
			Code:           a.Code,
			Name:           a.Name,
			Kind:           string(a.Kind),
			OpeningBalance: a.OpeningBalance.StringFixed(2),
			Balance:        a.Balance.StringFixed(2),
			IsActive:       a.IsActive,
			UpdatedAt:      a.UpdatedAt,
		})
	}
	return out
}

type decisionResponse struct {
	ID         uuid.UUID  `json:"id"`
	ActorID    int64      `json:"actor_id"`
	ActorRole  string     `json:"actor_role"`
	Decision   string     `json:"decision"`
	Reason     string     `json:"reason,omitempty"`
	DecidedAt  time.Time  `json:"decided_at"`
	TransferID *uuid.UUID `json:"transfer_id,omitempty"`
}

func toDecisionResponses(decisions []ledger.ApprovalDecision) []decisionResponse {
	out := make([]decisionResponse, 0, len(decisions))
	for _, d := range decisions {
		out = append(out, decisionResponse{
			ID:         d.ID,
			ActorID:    d.ActorID,
			ActorRole:  string(d.ActorRole),
			Decision:   string(d.Decision),
			Reason:     d.Reason,
			DecidedAt:  d.DecidedAt,
			TransferID: d.TransferID,
		})
	}
	return out
}
