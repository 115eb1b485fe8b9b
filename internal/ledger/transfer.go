package ledger

import (
	"context"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/odyssey-erp/stewardship/internal/actor"
)

// TransferDecisionInput is an intent to approve or reject both legs of a
// transfer.
type TransferDecisionInput struct {
	TransferID uuid.UUID
	Actor      actor.Actor
	Decision   Decision
	Reason     string
}

func (in TransferDecisionInput) validate() error {
	if in.TransferID == uuid.Nil {
		return invalid("transfer id required")
	}
	if !in.Decision.Valid() {
		return invalid("unknown decision %q", in.Decision)
	}
	if !in.Actor.Valid() {
		return forbidden("actor context missing")
	}
	return nil
}

// ApplyTransferDecision decides both legs of a transfer as one unit: either
// both legs reach the target status with both balance effects applied, or
// neither does.
func (s *Service) ApplyTransferDecision(ctx context.Context, input TransferDecisionInput) (Transfer, error) {
	transfer, err := s.applyTransfer(ctx, input)
	s.observe(input.Decision, err)
	return transfer, err
}

func (s *Service) applyTransfer(ctx context.Context, input TransferDecisionInput) (Transfer, error) {
	if err := input.validate(); err != nil {
		return Transfer{}, err
	}
	input.Reason = strings.TrimSpace(input.Reason)
	transfer, err := s.loadTransfer(ctx, input.TransferID)
	if err != nil {
		return Transfer{}, err
	}
	legs := []Transaction{transfer.Debit, transfer.Credit}
	for _, leg := range legs {
		if !s.scope.AuthorizeRead(input.Actor, leg) {
			return Transfer{}, forbidden("transfer %s outside actor scope", transfer.ID)
		}
	}
	if transfer.Debit.Status != transfer.Credit.Status {
		return Transfer{}, newError(KindPartialTransferFailure, ReasonTransferIncomplete, "transfer %s legs disagree (%s/%s)", transfer.ID, transfer.Debit.Status, transfer.Credit.Status)
	}
	for _, leg := range legs {
		if err := s.policy.Decide(leg, input.Actor).Err(leg); err != nil {
			return Transfer{}, err
		}
	}

	at := s.now().UTC()
	target := input.Decision.Target()
	sort.Slice(legs, func(i, j int) bool { return legs[i].ID < legs[j].ID })
	decisions := make(map[int64]ApprovalDecision, len(legs))
	for _, leg := range legs {
		decisions[leg.ID] = ApprovalDecision{
			ID:            s.newID(),
			TransactionID: leg.ID,
			TransferID:    &transfer.ID,
			ActorID:       input.Actor.ID,
			ActorRole:     input.Actor.Role,
			Decision:      input.Decision,
			Reason:        input.Reason,
			DecidedAt:     at,
		}
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		u := newUnit(tx)
		if err := s.decideLegs(ctx, u, legs, target, decisions); err != nil {
			return s.unwind(ctx, u, err, true)
		}
		return nil
	})
	if err != nil {
		return Transfer{}, storeError("apply transfer decision", err)
	}

	applyTransition(&transfer.Debit, target, input.Actor.ID, at)
	applyTransition(&transfer.Credit, target, input.Actor.ID, at)
	s.afterCommit(ctx, transfer.Debit, decisions[transfer.Debit.ID])
	s.afterCommit(ctx, transfer.Credit, decisions[transfer.Credit.ID])
	return transfer, nil
}

// decideLegs transitions legs in id order and adjusts balances in account
// order so concurrent transfers touching the same rows lock them in the
// same sequence.
func (s *Service) decideLegs(ctx context.Context, u *unit, legs []Transaction, target Status, decisions map[int64]ApprovalDecision) error {
	for _, leg := range legs {
		u.plan(decisions[leg.ID])
	}
	for i, leg := range legs {
		ok, err := u.transition(ctx, StatusUpdate{
			ID:        leg.ID,
			From:      StatusPending,
			To:        target,
			DecidedBy: decisions[leg.ID].ActorID,
			DecidedAt: decisions[leg.ID].DecidedAt,
		})
		if err != nil {
			return err
		}
		if !ok {
			if i == 0 {
				return newError(KindAlreadyDecided, ReasonInvalidState, "transaction %d no longer pending", leg.ID)
			}
			return newError(KindPartialTransferFailure, ReasonTransferIncomplete, "transaction %d decided concurrently", leg.ID)
		}
	}
	if target == StatusCompleted {
		byAccount := append([]Transaction(nil), legs...)
		sort.Slice(byAccount, func(i, j int) bool { return byAccount[i].AccountID < byAccount[j].AccountID })
		for _, leg := range byAccount {
			if err := s.applyEffect(ctx, u, leg); err != nil {
				return err
			}
		}
	}
	for _, leg := range legs {
		if err := u.record(ctx, decisions[leg.ID]); err != nil {
			return err
		}
	}
	return nil
}

// GetTransfer returns both legs of a transfer visible to the actor.
func (s *Service) GetTransfer(ctx context.Context, a actor.Actor, transferID uuid.UUID) (Transfer, error) {
	if transferID == uuid.Nil {
		return Transfer{}, invalid("transfer id required")
	}
	transfer, err := s.loadTransfer(ctx, transferID)
	if err != nil {
		return Transfer{}, err
	}
	if !s.scope.AuthorizeRead(a, transfer.Debit) && !s.scope.AuthorizeRead(a, transfer.Credit) {
		return Transfer{}, forbidden("transfer %s outside actor scope", transferID)
	}
	return transfer, nil
}

func (s *Service) loadTransfer(ctx context.Context, transferID uuid.UUID) (Transfer, error) {
	legs, err := s.repo.ListTransferLegs(ctx, transferID)
	if err != nil {
		return Transfer{}, storeError("list transfer legs", err)
	}
	if len(legs) == 0 {
		return Transfer{}, notFound("transfer %s", transferID)
	}
	transfer := Transfer{ID: transferID}
	var debit, credit bool
	for _, leg := range legs {
		switch leg.Leg {
		case LegDebit:
			if debit {
				return Transfer{}, newError(KindPartialTransferFailure, ReasonTransferIncomplete, "transfer %s has duplicate debit legs", transferID)
			}
			transfer.Debit, debit = leg, true
		case LegCredit:
			if credit {
				return Transfer{}, newError(KindPartialTransferFailure, ReasonTransferIncomplete, "transfer %s has duplicate credit legs", transferID)
			}
			transfer.Credit, credit = leg, true
		}
	}
	if !debit || !credit {
		return Transfer{}, newError(KindPartialTransferFailure, ReasonTransferIncomplete, "transfer %s is missing a leg", transferID)
	}
	return transfer, nil
}
