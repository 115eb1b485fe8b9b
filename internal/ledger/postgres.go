package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/stewardship/internal/actor"
	"github.com/odyssey-erp/stewardship/internal/platform/db"
)

const transactionColumns = `id, branch_id, account_id, category, amount, signed_effect, status, requires_approval,
transfer_id, leg, notes, payload, created_by, created_at, updated_at, decided_by, decided_at`

const accountColumns = `id, branch_id, code, name, kind, opening_balance, balance, is_active, created_at, updated_at`

// PGRepository persists ledger entities in PostgreSQL.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewPGRepository constructs PGRepository.
func NewPGRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// MultiRowAtomic implements Repository; PostgreSQL rolls back the whole unit.
func (r *PGRepository) MultiRowAtomic() bool {
	return true
}

// WithTx executes fn within a read-committed transaction.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	if r == nil || r.pool == nil {
		return errors.New("ledger: repository not initialised")
	}
	return db.WithTx(ctx, r.pool, db.ReadCommitted, func(tx pgx.Tx) error {
		return fn(ctx, &pgTxRepository{tx: tx})
	})
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTransaction(row rowScanner) (Transaction, error) {
	var (
		txn      Transaction
		category string
		status   string
		leg      *string
		payload  []byte
	)
	err := row.Scan(&txn.ID, &txn.BranchID, &txn.AccountID, &category, &txn.Amount, &txn.SignedEffect, &status, &txn.RequiresApproval,
		&txn.TransferID, &leg, &txn.Notes, &payload, &txn.CreatedBy, &txn.CreatedAt, &txn.UpdatedAt, &txn.DecidedBy, &txn.DecidedAt)
	if err != nil {
		return Transaction{}, err
	}
	txn.Category = Category(category)
	txn.Status = Status(status)
	if leg != nil {
		txn.Leg = Leg(*leg)
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &txn.Payload); err != nil {
			return Transaction{}, fmt.Errorf("decode payload of transaction %d: %w", txn.ID, err)
		}
	}
	return txn, nil
}

func scanAccount(row rowScanner) (Account, error) {
	var (
		a    Account
		kind string
	)
	if err := row.Scan(&a.ID, &a.BranchID, &a.Code, &a.Name, &kind, &a.OpeningBalance, &a.Balance, &a.IsActive, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return Account{}, err
	}
	a.Kind = AccountKind(kind)
	return a, nil
}

// GetTransaction loads one transaction.
func (r *PGRepository) GetTransaction(ctx context.Context, id int64) (Transaction, error) {
	txn, err := scanTransaction(r.pool.QueryRow(ctx, `SELECT `+transactionColumns+` FROM ledger_transactions WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Transaction{}, notFound("transaction %d", id)
	}
	return txn, err
}

// ListTransferLegs loads both legs of a transfer.
func (r *PGRepository) ListTransferLegs(ctx context.Context, transferID uuid.UUID) ([]Transaction, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+transactionColumns+` FROM ledger_transactions WHERE transfer_id=$1 ORDER BY id`, transferID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var legs []Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		legs = append(legs, txn)
	}
	return legs, rows.Err()
}

// GetAccount loads one account.
func (r *PGRepository) GetAccount(ctx context.Context, id int64) (Account, error) {
	a, err := scanAccount(r.pool.QueryRow(ctx, `SELECT `+accountColumns+` FROM ledger_accounts WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Account{}, notFound("account %d", id)
	}
	return a, err
}

// branchClause appends a predicate for filter. An empty filter yields a
// predicate that matches nothing.
func branchClause(filter BranchFilter, column string, args []any) (string, []any) {
	if filter.Unrestricted {
		return "TRUE", args
	}
	if len(filter.BranchIDs) == 0 {
		return "FALSE", args
	}
	args = append(args, filter.BranchIDs)
	return fmt.Sprintf("%s = ANY($%d)", column, len(args)), args
}

// ListTransactions returns transactions matching filter, newest first.
func (r *PGRepository) ListTransactions(ctx context.Context, filter TransactionFilter) ([]Transaction, error) {
	var (
		where []string
		args  []any
	)
	clause, args := branchClause(filter.Branches, "branch_id", args)
	where = append(where, clause)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Category != "" {
		args = append(args, string(filter.Category))
		where = append(where, fmt.Sprintf("category = $%d", len(args)))
	}
	if filter.AccountID > 0 {
		args = append(args, filter.AccountID)
		where = append(where, fmt.Sprintf("account_id = $%d", len(args)))
	}
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	args = append(args, limit, filter.Offset)
	query := fmt.Sprintf(`SELECT %s FROM ledger_transactions WHERE %s ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`,
		transactionColumns, strings.Join(where, " AND "), len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var txns []Transaction
	for rows.Next() {
		txn, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txns = append(txns, txn)
	}
	return txns, rows.Err()
}

// ListAccounts returns accounts matching filter ordered by code.
func (r *PGRepository) ListAccounts(ctx context.Context, filter BranchFilter, includeInactive bool) ([]Account, error) {
	clause, args := branchClause(filter, "branch_id", nil)
	if !includeInactive {
		clause += " AND is_active"
	}
	rows, err := r.pool.Query(ctx, `SELECT `+accountColumns+` FROM ledger_accounts WHERE `+clause+` ORDER BY code`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var accounts []Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}

// ListDecisions returns the recorded decisions of a transaction.
func (r *PGRepository) ListDecisions(ctx context.Context, transactionID int64) ([]ApprovalDecision, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, transaction_id, transfer_id, actor_id, actor_role, decision, reason, decided_at
FROM approval_decisions WHERE transaction_id=$1 ORDER BY decided_at`, transactionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var decisions []ApprovalDecision
	for rows.Next() {
		var (
			d        ApprovalDecision
			role     string
			decision string
		)
		if err := rows.Scan(&d.ID, &d.TransactionID, &d.TransferID, &d.ActorID, &role, &decision, &d.Reason, &d.DecidedAt); err != nil {
			return nil, err
		}
		d.ActorRole = actor.Role(role)
		d.Decision = Decision(decision)
		decisions = append(decisions, d)
	}
	return decisions, rows.Err()
}

// ListAccountBranches returns every distinct account branch. A nil entry
// stands for organisation-wide accounts.
func (r *PGRepository) ListAccountBranches(ctx context.Context) ([]*int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT DISTINCT branch_id FROM ledger_accounts ORDER BY branch_id NULLS FIRST`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var branches []*int64
	for rows.Next() {
		var branchID *int64
		if err := rows.Scan(&branchID); err != nil {
			return nil, err
		}
		branches = append(branches, branchID)
	}
	return branches, rows.Err()
}

// FindDrifts compares each account's stored balance in the branch with its
// opening balance plus all completed effects.
func (r *PGRepository) FindDrifts(ctx context.Context, branchID *int64) ([]AccountDrift, error) {
	rows, err := r.pool.Query(ctx, `SELECT a.id, a.branch_id, a.balance,
       a.opening_balance + COALESCE(SUM(t.signed_effect) FILTER (WHERE t.status = 'COMPLETED'), 0) AS expected
FROM ledger_accounts a
LEFT JOIN ledger_transactions t ON t.account_id = a.id
WHERE a.branch_id IS NOT DISTINCT FROM $1
GROUP BY a.id
HAVING a.balance <> a.opening_balance + COALESCE(SUM(t.signed_effect) FILTER (WHERE t.status = 'COMPLETED'), 0)
ORDER BY a.id`, branchID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var drifts []AccountDrift
	for rows.Next() {
		var d AccountDrift
		if err := rows.Scan(&d.AccountID, &d.BranchID, &d.Stored, &d.Expected); err != nil {
			return nil, err
		}
		drifts = append(drifts, d)
	}
	return drifts, rows.Err()
}

type pgTxRepository struct {
	tx pgx.Tx
}

func (r *pgTxRepository) InsertTransaction(ctx context.Context, txn Transaction) (Transaction, error) {
	payload, err := json.Marshal(txn.Payload)
	if err != nil {
		return Transaction{}, invalid("encode payload: %v", err)
	}
	var leg *string
	if txn.Leg != "" {
		value := string(txn.Leg)
		leg = &value
	}
	row := r.tx.QueryRow(ctx, `INSERT INTO ledger_transactions
(branch_id, account_id, category, amount, signed_effect, status, requires_approval, transfer_id, leg, notes, payload, created_by, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$13)
RETURNING id, created_at, updated_at`,
		txn.BranchID, txn.AccountID, string(txn.Category), txn.Amount, txn.SignedEffect, string(txn.Status), txn.RequiresApproval,
		txn.TransferID, leg, txn.Notes, payload, txn.CreatedBy, txn.CreatedAt)
	if err := row.Scan(&txn.ID, &txn.CreatedAt, &txn.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.ConstraintName == "uq_ledger_transactions_transfer_leg" {
			return Transaction{}, invalid("transfer %s already has a %s leg", txn.TransferID, txn.Leg)
		}
		return Transaction{}, err
	}
	return txn, nil
}

func (r *pgTxRepository) UpdateStatusIf(ctx context.Context, update StatusUpdate) (bool, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE ledger_transactions
SET status=$3, decided_by=$4, decided_at=$5, updated_at=$5
WHERE id=$1 AND status=$2`, update.ID, string(update.From), string(update.To), update.DecidedBy, update.DecidedAt)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgTxRepository) AdjustBalance(ctx context.Context, accountID int64, delta decimal.Decimal, guard BalanceGuard) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := r.tx.QueryRow(ctx, `UPDATE ledger_accounts
SET balance = balance + $2, updated_at = NOW()
WHERE id=$1
  AND (NOT $3::boolean OR is_active)
  AND ($4::numeric IS NULL OR balance + $2 >= $4::numeric)
RETURNING balance`, accountID, delta, guard.RequireActive, guard.Floor).Scan(&balance)
	if err == nil {
		return balance, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, err
	}
	var (
		active  bool
		current decimal.Decimal
	)
	err = r.tx.QueryRow(ctx, `SELECT is_active, balance FROM ledger_accounts WHERE id=$1`, accountID).Scan(&active, &current)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, notFound("account %d", accountID)
	}
	if err != nil {
		return decimal.Zero, err
	}
	if guard.RequireActive && !active {
		return decimal.Zero, newError(KindPolicyViolation, ReasonAccountInactive, "account %d is inactive", accountID)
	}
	return decimal.Zero, newError(KindInsufficientFunds, "", "account %d balance %s cannot absorb %s", accountID, current.StringFixed(2), delta.StringFixed(2))
}

func (r *pgTxRepository) InsertDecision(ctx context.Context, d ApprovalDecision) error {
	_, err := r.tx.Exec(ctx, `INSERT INTO approval_decisions (id, transaction_id, transfer_id, actor_id, actor_role, decision, reason, decided_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`, d.ID, d.TransactionID, d.TransferID, d.ActorID, string(d.ActorRole), string(d.Decision), d.Reason, d.DecidedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.ConstraintName == "uq_approval_decisions_transaction" {
			return newError(KindAlreadyDecided, ReasonInvalidState, "transaction %d already has a decision", d.TransactionID)
		}
		return err
	}
	return nil
}
