package ledger

import (
	"context"

	"github.com/odyssey-erp/stewardship/internal/actor"
)

const (
	defaultListLimit = 50
	maxListLimit     = 200
)

// ListQuery narrows a transaction listing.
type ListQuery struct {
	Status    Status
	Category  Category
	AccountID int64
	Limit     int
	Offset    int
}

// GetTransaction returns a transaction visible to the actor.
func (s *Service) GetTransaction(ctx context.Context, a actor.Actor, id int64) (Transaction, error) {
	if id <= 0 {
		return Transaction{}, invalid("transaction id required")
	}
	txn, err := s.loadTransaction(ctx, id)
	if err != nil {
		return Transaction{}, err
	}
	if !s.scope.AuthorizeRead(a, txn) {
		return Transaction{}, forbidden("transaction %d outside actor scope", id)
	}
	return txn, nil
}

// ListTransactions returns transactions within the actor's branch scope.
// Actors that resolve to an empty scope are refused rather than shown
// everything.
func (s *Service) ListTransactions(ctx context.Context, a actor.Actor, query ListQuery) ([]Transaction, error) {
	branches := s.scope.ScopeQuery(a)
	if branches.Empty() {
		return nil, forbidden("actor has no branch scope")
	}
	if query.Status != "" && query.Status != StatusPending && !query.Status.Terminal() {
		return nil, invalid("unknown status %q", query.Status)
	}
	if query.Category != "" && !query.Category.Valid() {
		return nil, invalid("unknown category %q", query.Category)
	}
	limit := query.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := query.Offset
	if offset < 0 {
		offset = 0
	}
	txns, err := s.repo.ListTransactions(ctx, TransactionFilter{
		Branches:  branches,
		Status:    query.Status,
		Category:  query.Category,
		AccountID: query.AccountID,
		Limit:     limit,
		Offset:    offset,
	})
	if err != nil {
		return nil, storeError("list transactions", err)
	}
	return txns, nil
}

// GetAccount returns an account visible to the actor.
func (s *Service) GetAccount(ctx context.Context, a actor.Actor, id int64) (Account, error) {
	if id <= 0 {
		return Account{}, invalid("account id required")
	}
	account, err := s.repo.GetAccount(ctx, id)
	if err != nil {
		return Account{}, storeError("get account", err)
	}
	if !s.scope.AuthorizeRead(a, account) {
		return Account{}, forbidden("account %d outside actor scope", id)
	}
	return account, nil
}

// ListAccounts returns accounts within the actor's branch scope.
func (s *Service) ListAccounts(ctx context.Context, a actor.Actor, includeInactive bool) ([]Account, error) {
	branches := s.scope.ScopeQuery(a)
	if branches.Empty() {
		return nil, forbidden("actor has no branch scope")
	}
	accounts, err := s.repo.ListAccounts(ctx, branches, includeInactive)
	if err != nil {
		return nil, storeError("list accounts", err)
	}
	return accounts, nil
}

// ListDecisions returns the decision history of a visible transaction.
func (s *Service) ListDecisions(ctx context.Context, a actor.Actor, transactionID int64) ([]ApprovalDecision, error) {
	if _, err := s.GetTransaction(ctx, a, transactionID); err != nil {
		return nil, err
	}
	decisions, err := s.repo.ListDecisions(ctx, transactionID)
	if err != nil {
		return nil, storeError("list decisions", err)
	}
	return decisions, nil
}
