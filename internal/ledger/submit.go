package ledger

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stewardship/internal/actor"
)

// SubmitInput describes a new expense, stipend or donation.
type SubmitInput struct {
	Actor     actor.Actor
	AccountID int64
	Category  Category
	Amount    decimal.Decimal
	Notes     string
	Payload   Payload
}

// TransferInput describes a new fund transfer between two accounts.
type TransferInput struct {
	Actor         actor.Actor
	FromAccountID int64
	ToAccountID   int64
	Amount        decimal.Decimal
	Method        string
	Notes         string
}

func validateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return invalid("amount must be positive")
	}
	if !amount.Equal(amount.Round(2)) {
		return invalid("amount supports at most two decimal places")
	}
	return nil
}

func (in SubmitInput) validate() error {
	if !in.Actor.Valid() {
		return forbidden("actor context missing")
	}
	if in.AccountID <= 0 {
		return invalid("account id required")
	}
	if !in.Category.Valid() {
		return invalid("unknown category %q", in.Category)
	}
	if in.Category == CategoryTransfer {
		return invalid("transfers are submitted with both accounts")
	}
	if err := validateAmount(in.Amount); err != nil {
		return err
	}
	if len(in.Payload.LineItems) > 0 {
		if !in.Category.IsExpense() {
			return invalid("line items apply to expenses only")
		}
		total := decimal.Zero
		for _, line := range in.Payload.LineItems {
			if strings.TrimSpace(line.Description) == "" {
				return invalid("line item description required")
			}
			if !line.Amount.IsPositive() {
				return invalid("line item amount must be positive")
			}
			total = total.Add(line.Amount)
		}
		if !total.Equal(in.Amount) {
			return invalid("line items total %s does not match amount %s", total.StringFixed(2), in.Amount.StringFixed(2))
		}
	}
	if in.Payload.Donation != nil && in.Category != CategoryDonation {
		return invalid("donation details apply to donations only")
	}
	return nil
}

func (in TransferInput) validate() error {
	if !in.Actor.Valid() {
		return forbidden("actor context missing")
	}
	if in.FromAccountID <= 0 || in.ToAccountID <= 0 {
		return invalid("source and destination account required")
	}
	if in.FromAccountID == in.ToAccountID {
		return invalid("source and destination account must differ")
	}
	return validateAmount(in.Amount)
}

// Submit records a new transaction. Categories that require approval start
// Pending; the rest are completed immediately and their effect applied in
// the same unit of work.
func (s *Service) Submit(ctx context.Context, input SubmitInput) (Transaction, error) {
	if err := input.validate(); err != nil {
		return Transaction{}, err
	}
	account, err := s.activeAccount(ctx, input.Actor, input.AccountID, true)
	if err != nil {
		return Transaction{}, err
	}
	effect, err := SignedEffect(input.Category, "", input.Amount)
	if err != nil {
		return Transaction{}, err
	}
	txn := s.draft(input.Actor, account, input.Category, input.Amount, effect)
	txn.Notes = strings.TrimSpace(input.Notes)
	txn.Payload = input.Payload

	var created Transaction
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		u := newUnit(tx)
		inserted, err := u.insert(ctx, txn)
		if err != nil {
			return err
		}
		if inserted.Status == StatusCompleted {
			if err := s.applyEffect(ctx, u, inserted); err != nil {
				return s.unwind(ctx, u, err, false)
			}
		}
		created = inserted
		return nil
	})
	if err != nil {
		return Transaction{}, storeError("submit transaction", err)
	}
	return created, nil
}

// SubmitTransfer records both legs of a transfer under a shared transfer id.
func (s *Service) SubmitTransfer(ctx context.Context, input TransferInput) (Transfer, error) {
	if err := input.validate(); err != nil {
		return Transfer{}, err
	}
	from, err := s.activeAccount(ctx, input.Actor, input.FromAccountID, true)
	if err != nil {
		return Transfer{}, err
	}
	to, err := s.activeAccount(ctx, input.Actor, input.ToAccountID, false)
	if err != nil {
		return Transfer{}, err
	}
	transferID := s.newID()
	debitEffect, err := SignedEffect(CategoryTransfer, LegDebit, input.Amount)
	if err != nil {
		return Transfer{}, err
	}
	creditEffect, err := SignedEffect(CategoryTransfer, LegCredit, input.Amount)
	if err != nil {
		return Transfer{}, err
	}
	payload := Payload{TransferMethod: strings.TrimSpace(input.Method)}
	debit := s.draft(input.Actor, from, CategoryTransfer, input.Amount, debitEffect)
	debit.TransferID, debit.Leg, debit.Payload = &transferID, LegDebit, payload
	debit.Notes = strings.TrimSpace(input.Notes)
	credit := s.draft(input.Actor, to, CategoryTransfer, input.Amount, creditEffect)
	credit.TransferID, credit.Leg, credit.Payload = &transferID, LegCredit, payload
	credit.Notes = debit.Notes

	transfer := Transfer{ID: transferID}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		u := newUnit(tx)
		var err error
		if transfer.Debit, err = u.insert(ctx, debit); err != nil {
			return err
		}
		if transfer.Credit, err = u.insert(ctx, credit); err != nil {
			return s.unwind(ctx, u, err, true)
		}
		if transfer.Debit.Status != StatusCompleted {
			return nil
		}
		legs := []Transaction{transfer.Debit, transfer.Credit}
		if legs[1].AccountID < legs[0].AccountID {
			legs[0], legs[1] = legs[1], legs[0]
		}
		for _, leg := range legs {
			if err := s.applyEffect(ctx, u, leg); err != nil {
				return s.unwind(ctx, u, err, true)
			}
		}
		return nil
	})
	if err != nil {
		return Transfer{}, storeError("submit transfer", err)
	}
	return transfer, nil
}

func (s *Service) draft(a actor.Actor, account Account, category Category, amount, effect decimal.Decimal) Transaction {
	now := s.now().UTC()
	status := StatusCompleted
	requires := s.policy.RequiresApproval(category)
	if requires {
		status = StatusPending
	}
	return Transaction{
		BranchID:         account.BranchID,
		AccountID:        account.ID,
		Category:         category,
		Amount:           amount,
		SignedEffect:     effect,
		Status:           status,
		RequiresApproval: requires,
		CreatedBy:        a.ID,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// activeAccount loads an account for submission. The actor must see the
// account when scoped is set; inactive accounts accept no new activity.
func (s *Service) activeAccount(ctx context.Context, a actor.Actor, id int64, scoped bool) (Account, error) {
	account, err := s.repo.GetAccount(ctx, id)
	if err != nil {
		return Account{}, storeError("get account", err)
	}
	if scoped && !s.scope.AuthorizeRead(a, account) {
		return Account{}, forbidden("account %d outside actor scope", id)
	}
	if !account.IsActive {
		return Account{}, newError(KindPolicyViolation, ReasonAccountInactive, "account %d is inactive", id)
	}
	return account, nil
}
