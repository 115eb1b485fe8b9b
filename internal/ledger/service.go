package ledger

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stewardship/internal/actor"
)

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	// EnforceFunds refuses approvals that would take a balance below zero.
	EnforceFunds bool
}

// Service is the only writer of transaction status and account balances.
type Service struct {
	repo         Repository
	policy       Policy
	scope        Scope
	audit        AuditPort
	notifier     NotifyPort
	metrics      MetricsPort
	logger       *slog.Logger
	enforceFunds bool
	now          func() time.Time
	newID        func() uuid.UUID
}

// NewService constructs the lifecycle engine.
func NewService(repo Repository, policy Policy, scope Scope, audit AuditPort, notifier NotifyPort, logger *slog.Logger, cfg ServiceConfig) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:         repo,
		policy:       policy,
		scope:        scope,
		audit:        audit,
		notifier:     notifier,
		logger:       logger,
		enforceFunds: cfg.EnforceFunds,
		now:          time.Now,
		newID:        uuid.New,
	}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithMetrics attaches a decision observer.
func (s *Service) WithMetrics(m MetricsPort) {
	s.metrics = m
}

// Policy exposes the effective approval policy.
func (s *Service) Policy() Policy {
	return s.policy
}

// DecisionInput is an intent to approve or reject one transaction.
type DecisionInput struct {
	TransactionID int64
	Actor         actor.Actor
	Decision      Decision
	Reason        string
}

func (in DecisionInput) validate() error {
	if in.TransactionID <= 0 {
		return invalid("transaction id required")
	}
	if !in.Decision.Valid() {
		return invalid("unknown decision %q", in.Decision)
	}
	if !in.Actor.Valid() {
		return forbidden("actor context missing")
	}
	return nil
}

// ApplyDecision moves a pending transaction to Completed or Rejected and,
// on approval, applies its signed effect to the account balance in the same
// unit of work. Transfer legs are decided together with their counterpart.
func (s *Service) ApplyDecision(ctx context.Context, input DecisionInput) (Transaction, error) {
	txn, err := s.applyDecision(ctx, input)
	s.observe(input.Decision, err)
	return txn, err
}

func (s *Service) applyDecision(ctx context.Context, input DecisionInput) (Transaction, error) {
	if err := input.validate(); err != nil {
		return Transaction{}, err
	}
	input.Reason = strings.TrimSpace(input.Reason)
	txn, err := s.loadTransaction(ctx, input.TransactionID)
	if err != nil {
		return Transaction{}, err
	}
	if txn.IsTransferLeg() {
		transfer, err := s.applyTransfer(ctx, TransferDecisionInput{
			TransferID: *txn.TransferID,
			Actor:      input.Actor,
			Decision:   input.Decision,
			Reason:     input.Reason,
		})
		if err != nil {
			return Transaction{}, err
		}
		if transfer.Credit.ID == txn.ID {
			return transfer.Credit, nil
		}
		return transfer.Debit, nil
	}
	if !s.scope.AuthorizeRead(input.Actor, txn) {
		return Transaction{}, forbidden("transaction %d outside actor scope", txn.ID)
	}
	if err := s.policy.Decide(txn, input.Actor).Err(txn); err != nil {
		return Transaction{}, err
	}

	at := s.now().UTC()
	target := input.Decision.Target()
	decision := ApprovalDecision{
		ID:            s.newID(),
		TransactionID: txn.ID,
		ActorID:       input.Actor.ID,
		ActorRole:     input.Actor.Role,
		Decision:      input.Decision,
		Reason:        input.Reason,
		DecidedAt:     at,
	}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		u := newUnit(tx)
		if err := s.decideOne(ctx, u, txn, target, decision); err != nil {
			return s.unwind(ctx, u, err, false)
		}
		return nil
	})
	if err != nil {
		return Transaction{}, storeError("apply decision", err)
	}

	applyTransition(&txn, target, input.Actor.ID, at)
	s.afterCommit(ctx, txn, decision)
	return txn, nil
}

// decideOne performs the guarded transition, the balance mutation and the
// decision record for a single transaction.
func (s *Service) decideOne(ctx context.Context, u *unit, txn Transaction, target Status, decision ApprovalDecision) error {
	u.plan(decision)
	ok, err := u.transition(ctx, StatusUpdate{
		ID:        txn.ID,
		From:      StatusPending,
		To:        target,
		DecidedBy: decision.ActorID,
		DecidedAt: decision.DecidedAt,
	})
	if err != nil {
		return err
	}
	if !ok {
		return newError(KindAlreadyDecided, ReasonInvalidState, "transaction %d no longer pending", txn.ID)
	}
	if target == StatusCompleted {
		if err := s.applyEffect(ctx, u, txn); err != nil {
			return err
		}
	}
	return u.record(ctx, decision)
}

// applyEffect adds the stored signed effect to the account balance.
func (s *Service) applyEffect(ctx context.Context, u *unit, txn Transaction) error {
	if txn.SignedEffect.IsZero() {
		return nil
	}
	guard := BalanceGuard{RequireActive: true}
	if s.enforceFunds && txn.SignedEffect.IsNegative() {
		floor := decimal.Zero
		guard.Floor = &floor
	}
	_, err := u.adjust(ctx, txn.AccountID, txn.SignedEffect, guard)
	return err
}

// unwind compensates a failed unit on stores without multi-row atomicity.
// A decision that was compensated is final: the transaction is Rejected, so
// the caller gets a terminal error instead of one inviting a retry.
func (s *Service) unwind(ctx context.Context, u *unit, cause error, transfer bool) error {
	if s.repo.MultiRowAtomic() || !u.dirty() {
		return cause
	}
	compErr := u.compensate(context.WithoutCancel(ctx), s.newID)
	if compErr != nil {
		s.logger.Error("ledger compensation failed", slog.Any("error", compErr), slog.Any("cause", cause))
	} else {
		s.logger.Warn("ledger unit compensated", slog.Any("cause", cause))
	}
	switch {
	case transfer && compErr != nil:
		return &Error{Kind: KindPartialTransferFailure, Reason: ReasonTransferIncomplete, Detail: "transfer compensation incomplete", Err: errors.Join(cause, compErr)}
	case transfer:
		return &Error{Kind: KindPartialTransferFailure, Reason: ReasonCompensated, Detail: "transfer legs rejected", Err: cause}
	case compErr != nil:
		return &Error{Kind: KindStoreUnavailable, Reason: ReasonCompensated, Err: errors.Join(cause, compErr)}
	case !u.decides():
		// A compensated submission leaves only a Rejected row behind; a new
		// submission is safe.
		return cause
	}
	kind := KindOf(cause)
	if kind.Retryable() {
		kind = KindAlreadyDecided
	}
	return &Error{Kind: kind, Reason: ReasonCompensated, Detail: "transaction rejected by compensation", Err: cause}
}

func (s *Service) loadTransaction(ctx context.Context, id int64) (Transaction, error) {
	txn, err := s.repo.GetTransaction(ctx, id)
	if err != nil {
		return Transaction{}, storeError("get transaction", err)
	}
	return txn, nil
}

// afterCommit publishes the decision. Failures here never undo the
// committed decision.
func (s *Service) afterCommit(ctx context.Context, txn Transaction, decision ApprovalDecision) {
	ctx = context.WithoutCancel(ctx)
	if s.audit != nil {
		if err := s.audit.RecordDecision(ctx, decision, txn); err != nil {
			s.logger.Warn("record decision audit", slog.Int64("transaction_id", txn.ID), slog.Any("error", err))
		}
	}
	if s.notifier != nil {
		outcome := Outcome{
			TransactionID: txn.ID,
			TransferID:    txn.TransferID,
			Category:      txn.Category,
			Decision:      decision.Decision,
			Status:        txn.Status,
			Amount:        txn.Amount,
			AccountID:     txn.AccountID,
			BranchID:      txn.BranchID,
			RequesterID:   txn.CreatedBy,
			ActorID:       decision.ActorID,
			Reason:        decision.Reason,
			DecidedAt:     decision.DecidedAt,
		}
		if err := s.notifier.NotifyDecision(ctx, outcome); err != nil {
			s.logger.Warn("dispatch decision notification", slog.Int64("transaction_id", txn.ID), slog.Any("error", err))
		}
	}
}

func (s *Service) observe(decision Decision, err error) {
	if s.metrics == nil {
		return
	}
	outcome := "applied"
	if err != nil {
		outcome = strings.ToLower(string(KindOf(err)))
	}
	s.metrics.ObserveDecision(strings.ToLower(string(decision)), outcome)
}

func applyTransition(txn *Transaction, target Status, actorID int64, at time.Time) {
	txn.Status = target
	txn.DecidedBy = &actorID
	txn.DecidedAt = &at
	txn.UpdatedAt = at
}
