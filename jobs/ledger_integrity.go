package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	jobmetrics "github.com/odyssey-erp/stewardship/internal/jobs"
	"github.com/odyssey-erp/stewardship/internal/ledger"
)

const defaultIntegrityConcurrency = 4

// DriftStore exposes the balance recomputation queries.
type DriftStore interface {
	ListAccountBranches(ctx context.Context) ([]*int64, error)
	FindDrifts(ctx context.Context, branchID *int64) ([]ledger.AccountDrift, error)
}

// IntegrityReport summarises one sweep.
type IntegrityReport struct {
	Branches int
	Drifts   []ledger.AccountDrift
}

// LedgerIntegrityJob recomputes every account balance from its journal and
// reports accounts whose stored balance disagrees.
type LedgerIntegrityJob struct {
	Store   DriftStore
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewLedgerIntegrityJob wires dependencies for the integrity handler.
func NewLedgerIntegrityJob(store DriftStore, logger *slog.Logger, metrics *jobmetrics.Metrics) *LedgerIntegrityJob {
	return &LedgerIntegrityJob{
		Store:   store,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes TaskLedgerIntegrity tasks.
func (j *LedgerIntegrityJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("ledger integrity: handler not configured")
	}
	var payload LedgerIntegrityPayload
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
	}

	tracker := j.metrics().Track(TaskLedgerIntegrity)
	start := j.now()
	report, err := j.Run(ctx, payload.Concurrency)
	if err != nil {
		j.logger().Error("ledger integrity sweep failed", slog.Any("error", err))
		return tracker.End(err)
	}
	j.logger().Info("completed ledger integrity sweep",
		slog.Int("branches", report.Branches),
		slog.Int("drifts", len(report.Drifts)),
		slog.Duration("duration", j.now().Sub(start)),
	)
	return tracker.End(nil)
}

// Run performs one sweep, checking branches concurrently.
func (j *LedgerIntegrityJob) Run(ctx context.Context, concurrency int) (IntegrityReport, error) {
	if j.Store == nil {
		return IntegrityReport{}, errors.New("ledger integrity: store not configured")
	}
	if concurrency <= 0 {
		concurrency = defaultIntegrityConcurrency
	}
	branches, err := j.Store.ListAccountBranches(ctx)
	if err != nil {
		return IntegrityReport{}, err
	}

	var (
		mu     sync.Mutex
		drifts []ledger.AccountDrift
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, branch := range branches {
		g.Go(func() error {
			found, err := j.Store.FindDrifts(gctx, branch)
			if err != nil {
				return err
			}
			for _, d := range found {
				j.logger().Warn("ledger balance drift detected",
					slog.Int64("account_id", d.AccountID),
					slog.Any("branch_id", d.BranchID),
					slog.String("stored", d.Stored.StringFixed(2)),
					slog.String("expected", d.Expected.StringFixed(2)),
					slog.String("difference", d.Difference().StringFixed(2)),
				)
			}
			j.metrics().AddDrifts(branch, len(found))
			mu.Lock()
			drifts = append(drifts, found...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return IntegrityReport{}, err
	}
	return IntegrityReport{Branches: len(branches), Drifts: drifts}, nil
}

func (j *LedgerIntegrityJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskLedgerIntegrity))
	}
	return slog.Default().With(slog.String("job", TaskLedgerIntegrity))
}

func (j *LedgerIntegrityJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *LedgerIntegrityJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
