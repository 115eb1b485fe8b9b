package ledger

import (
	"context"
	"testing"
)

func BenchmarkApproveExpense(b *testing.B) {
	f := newFixture(b, true, ServiceConfig{})
	ids := make([]int64, b.N)
	for i := range ids {
		ids[i] = f.pending(CategoryExpense, 3, "1.00", financeN).ID
	}
	ctx := context.Background()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := f.svc.ApplyDecision(ctx, DecisionInput{TransactionID: ids[i], Actor: admin, Decision: DecisionApprove}); err != nil {
			b.Fatalf("approve %d: %v", ids[i], err)
		}
	}
}

// BenchmarkContendedDecision measures the cost of losing the status race:
// every goroutine after the first gets ALREADY_DECIDED.
func BenchmarkContendedDecision(b *testing.B) {
	f := newFixture(b, true, ServiceConfig{})
	txn := f.pending(CategoryExpense, 1, "1.00", financeN)
	ctx := context.Background()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			_, err := f.svc.ApplyDecision(ctx, DecisionInput{TransactionID: txn.ID, Actor: bishopNorth, Decision: DecisionReject})
			if err != nil && KindOf(err) != KindAlreadyDecided {
				b.Errorf("unexpected error: %v", err)
			}
		}
	})
}
