package ledger

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// memoryLedgerRepo serialises units of work behind one mutex. With atomic
// set it restores its snapshot when a unit fails; otherwise writes made
// before the failure stay visible, like a store without multi-row
// transactions.
type memoryLedgerRepo struct {
	mu         sync.Mutex
	atomic     bool
	accounts   map[int64]Account
	txns       map[int64]Transaction
	decisions  map[int64][]ApprovalDecision
	nextID     int64
	failAdjust map[int64]error
	failInsert error
	adjusts    int

	// failStatus and failDecision fail the next matching call once.
	failStatus   map[int64]error
	failDecision error
}

func newMemoryLedgerRepo(atomic bool) *memoryLedgerRepo {
	return &memoryLedgerRepo{
		atomic:     atomic,
		accounts:   map[int64]Account{},
		txns:       map[int64]Transaction{},
		decisions:  map[int64][]ApprovalDecision{},
		failAdjust: map[int64]error{},
		failStatus: map[int64]error{},
	}
}

func (m *memoryLedgerRepo) addAccount(a Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[a.ID] = a
}

func (m *memoryLedgerRepo) addTransaction(t Transaction) Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	t.ID = m.nextID
	m.txns[t.ID] = t
	return t
}

func (m *memoryLedgerRepo) balance(id int64) decimal.Decimal {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accounts[id].Balance
}

func (m *memoryLedgerRepo) status(id int64) Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.txns[id].Status
}

func (m *memoryLedgerRepo) decisionCount(id int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.decisions[id])
}

func (m *memoryLedgerRepo) decisionsFor(id int64) []ApprovalDecision {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ApprovalDecision(nil), m.decisions[id]...)
}

func (m *memoryLedgerRepo) MultiRowAtomic() bool {
	return m.atomic
}

func (m *memoryLedgerRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var (
		accounts  map[int64]Account
		txns      map[int64]Transaction
		decisions map[int64][]ApprovalDecision
		nextID    int64
	)
	if m.atomic {
		accounts = make(map[int64]Account, len(m.accounts))
		for k, v := range m.accounts {
			accounts[k] = v
		}
		txns = make(map[int64]Transaction, len(m.txns))
		for k, v := range m.txns {
			txns[k] = v
		}
		decisions = make(map[int64][]ApprovalDecision, len(m.decisions))
		for k, v := range m.decisions {
			decisions[k] = append([]ApprovalDecision(nil), v...)
		}
		nextID = m.nextID
	}
	if err := fn(ctx, &memoryTx{repo: m}); err != nil {
		if m.atomic {
			m.accounts, m.txns, m.decisions, m.nextID = accounts, txns, decisions, nextID
		}
		return err
	}
	return nil
}

func (m *memoryLedgerRepo) GetTransaction(ctx context.Context, id int64) (Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	txn, ok := m.txns[id]
	if !ok {
		return Transaction{}, notFound("transaction %d", id)
	}
	return txn, nil
}

func (m *memoryLedgerRepo) ListTransferLegs(ctx context.Context, transferID uuid.UUID) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var legs []Transaction
	for _, txn := range m.txns {
		if txn.TransferID != nil && *txn.TransferID == transferID {
			legs = append(legs, txn)
		}
	}
	sort.Slice(legs, func(i, j int) bool { return legs[i].ID < legs[j].ID })
	return legs, nil
}

func (m *memoryLedgerRepo) GetAccount(ctx context.Context, id int64) (Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.accounts[id]
	if !ok {
		return Account{}, notFound("account %d", id)
	}
	return a, nil
}

func (m *memoryLedgerRepo) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Transaction
	for _, txn := range m.txns {
		if !filter.Branches.Matches(txn.BranchID) {
			continue
		}
		if filter.Status != "" && txn.Status != filter.Status {
			continue
		}
		if filter.Category != "" && txn.Category != filter.Category {
			continue
		}
		if filter.AccountID > 0 && txn.AccountID != filter.AccountID {
			continue
		}
		out = append(out, txn)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (m *memoryLedgerRepo) ListAccounts(ctx context.Context, filter BranchFilter, includeInactive bool) ([]Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Account
	for _, a := range m.accounts {
		if !filter.Matches(a.BranchID) || (!includeInactive && !a.IsActive) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryLedgerRepo) ListDecisions(ctx context.Context, transactionID int64) ([]ApprovalDecision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ApprovalDecision(nil), m.decisions[transactionID]...), nil
}

// memoryTx runs with the repository mutex already held.
type memoryTx struct {
	repo *memoryLedgerRepo
}

func (t *memoryTx) InsertTransaction(ctx context.Context, txn Transaction) (Transaction, error) {
	if t.repo.failInsert != nil && txn.Leg == LegCredit {
		return Transaction{}, t.repo.failInsert
	}
	t.repo.nextID++
	txn.ID = t.repo.nextID
	t.repo.txns[txn.ID] = txn
	return txn, nil
}

func (t *memoryTx) UpdateStatusIf(ctx context.Context, update StatusUpdate) (bool, error) {
	if err := t.repo.failStatus[update.ID]; err != nil {
		delete(t.repo.failStatus, update.ID)
		return false, err
	}
	txn, ok := t.repo.txns[update.ID]
	if !ok || txn.Status != update.From {
		return false, nil
	}
	applyTransition(&txn, update.To, update.DecidedBy, update.DecidedAt)
	t.repo.txns[update.ID] = txn
	return true, nil
}

func (t *memoryTx) AdjustBalance(ctx context.Context, accountID int64, delta decimal.Decimal, guard BalanceGuard) (decimal.Decimal, error) {
	if err := t.repo.failAdjust[accountID]; err != nil && !guard.isZero() {
		return decimal.Zero, err
	}
	a, ok := t.repo.accounts[accountID]
	if !ok {
		return decimal.Zero, notFound("account %d", accountID)
	}
	if guard.RequireActive && !a.IsActive {
		return decimal.Zero, newError(KindPolicyViolation, ReasonAccountInactive, "account %d is inactive", accountID)
	}
	next := a.Balance.Add(delta)
	if guard.Floor != nil && next.LessThan(*guard.Floor) {
		return decimal.Zero, newError(KindInsufficientFunds, "", "account %d", accountID)
	}
	a.Balance = next
	t.repo.accounts[accountID] = a
	t.repo.adjusts++
	return next, nil
}

func (t *memoryTx) InsertDecision(ctx context.Context, d ApprovalDecision) error {
	if err := t.repo.failDecision; err != nil {
		t.repo.failDecision = nil
		return err
	}
	if len(t.repo.decisions[d.TransactionID]) > 0 {
		return newError(KindAlreadyDecided, ReasonInvalidState, "transaction %d", d.TransactionID)
	}
	t.repo.decisions[d.TransactionID] = append(t.repo.decisions[d.TransactionID], d)
	return nil
}

// isZero distinguishes compensating adjustments, which carry no guard.
func (g BalanceGuard) isZero() bool {
	return !g.RequireActive && g.Floor == nil
}
