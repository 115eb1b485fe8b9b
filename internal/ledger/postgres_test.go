package ledger

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/stewardship/internal/platform/db"
)

// pgTestDSNEnv names a disposable database. The tests create their own
// accounts and never truncate.
const pgTestDSNEnv = "STEWARDSHIP_TEST_PG_DSN"

func newPGTestRepo(t *testing.T) (*PGRepository, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv(pgTestDSNEnv)
	if dsn == "" {
		t.Skipf("%s not set", pgTestDSNEnv)
	}
	ctx := context.Background()
	pool, err := db.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, db.ApplySchema(ctx, pool))
	return NewPGRepository(pool), pool
}

func seedPGAccount(t *testing.T, pool *pgxpool.Pool, balance string, active bool) int64 {
	t.Helper()
	var id int64
	err := pool.QueryRow(context.Background(), `INSERT INTO ledger_accounts (code, name, kind, opening_balance, balance, is_active)
VALUES ($1, 'integration', 'CASH', $2, $2, $3) RETURNING id`, "IT-"+uuid.NewString(), dec(balance), active).Scan(&id)
	require.NoError(t, err)
	return id
}

func seedPGPending(t *testing.T, repo *PGRepository, accountID int64, amount string) Transaction {
	t.Helper()
	var txn Transaction
	err := repo.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		var err error
		txn, err = tx.InsertTransaction(ctx, Transaction{
			AccountID:        accountID,
			Category:         CategoryExpense,
			Amount:           dec(amount),
			SignedEffect:     dec(amount).Neg(),
			Status:           StatusPending,
			RequiresApproval: true,
			CreatedBy:        financeN.ID,
			CreatedAt:        fixedNow,
		})
		return err
	})
	require.NoError(t, err)
	return txn
}

func TestPGUpdateStatusIfHasOneWinner(t *testing.T) {
	repo, pool := newPGTestRepo(t)
	accountID := seedPGAccount(t, pool, "1000", true)
	txn := seedPGPending(t, repo, accountID, "100")

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(actorID int64) {
			defer wg.Done()
			errs <- repo.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
				ok, err := tx.UpdateStatusIf(ctx, StatusUpdate{ID: txn.ID, From: StatusPending, To: StatusCompleted, DecidedBy: actorID, DecidedAt: fixedNow})
				if ok {
					wins.Add(1)
				}
				return err
			})
		}(int64(100 + i))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, wins.Load())

	stored, err := repo.GetTransaction(context.Background(), txn.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, stored.Status)
	require.NotNil(t, stored.DecidedBy)

	err = repo.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
		ok, err := tx.UpdateStatusIf(ctx, StatusUpdate{ID: txn.ID, From: StatusPending, To: StatusRejected, DecidedBy: admin.ID, DecidedAt: fixedNow})
		require.False(t, ok)
		return err
	})
	require.NoError(t, err)
}

func TestPGAdjustBalanceGuards(t *testing.T) {
	repo, pool := newPGTestRepo(t)
	ctx := context.Background()
	active := seedPGAccount(t, pool, "100", true)
	inactive := seedPGAccount(t, pool, "100", false)
	floor := decimal.Zero

	adjust := func(accountID int64, delta string, guard BalanceGuard) (decimal.Decimal, error) {
		var balance decimal.Decimal
		err := repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var err error
			balance, err = tx.AdjustBalance(ctx, accountID, dec(delta), guard)
			return err
		})
		return balance, err
	}

	_, err := adjust(active, "-150", BalanceGuard{RequireActive: true, Floor: &floor})
	require.ErrorIs(t, err, ErrInsufficientFunds)
	account, err := repo.GetAccount(ctx, active)
	require.NoError(t, err)
	require.True(t, dec("100").Equal(account.Balance))

	balance, err := adjust(active, "-100", BalanceGuard{RequireActive: true, Floor: &floor})
	require.NoError(t, err)
	require.True(t, balance.IsZero())

	balance, err = adjust(active, "-25.50", BalanceGuard{RequireActive: true})
	require.NoError(t, err)
	require.True(t, dec("-25.50").Equal(balance))

	_, err = adjust(inactive, "10", BalanceGuard{RequireActive: true})
	require.ErrorIs(t, err, ErrAccountInactive)

	balance, err = adjust(inactive, "10", BalanceGuard{})
	require.NoError(t, err)
	require.True(t, dec("110").Equal(balance))

	_, err = adjust(-1, "10", BalanceGuard{})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestPGInsertDecisionOncePerTransaction(t *testing.T) {
	repo, pool := newPGTestRepo(t)
	accountID := seedPGAccount(t, pool, "1000", true)
	txn := seedPGPending(t, repo, accountID, "100")

	insert := func() error {
		return repo.WithTx(context.Background(), func(ctx context.Context, tx TxRepository) error {
			return tx.InsertDecision(ctx, ApprovalDecision{
				ID:            uuid.New(),
				TransactionID: txn.ID,
				ActorID:       bishopNorth.ID,
				ActorRole:     bishopNorth.Role,
				Decision:      DecisionReject,
				DecidedAt:     fixedNow,
			})
		})
	}
	require.NoError(t, insert())
	require.ErrorIs(t, insert(), ErrAlreadyDecided)

	decisions, err := repo.ListDecisions(context.Background(), txn.ID)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
}

func TestPGConcurrentApprovalsApplyOnce(t *testing.T) {
	repo, pool := newPGTestRepo(t)
	accountID := seedPGAccount(t, pool, "1000", true)
	txn := seedPGPending(t, repo, accountID, "100")

	f := newFixture(t, true, ServiceConfig{EnforceFunds: true})
	svc := NewService(repo, f.svc.policy, f.svc.scope, nil, nil, nil, ServiceConfig{EnforceFunds: true})

	var (
		wg        sync.WaitGroup
		succeeded atomic.Int32
		decided   atomic.Int32
	)
	for i := 0; i < 6; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.ApplyDecision(context.Background(), DecisionInput{TransactionID: txn.ID, Actor: admin, Decision: DecisionApprove})
			switch KindOf(err) {
			case "":
				succeeded.Add(1)
			case KindAlreadyDecided:
				decided.Add(1)
			}
		}()
	}
	wg.Wait()
	require.EqualValues(t, 1, succeeded.Load())
	require.EqualValues(t, 5, decided.Load())

	account, err := repo.GetAccount(context.Background(), accountID)
	require.NoError(t, err)
	require.True(t, dec("900").Equal(account.Balance))
	decisions, err := repo.ListDecisions(context.Background(), txn.ID)
	require.NoError(t, err)
	require.Len(t, decisions, 1)
}
