package ledger

import "github.com/shopspring/decimal"

// SignedEffect derives the balance delta of a transaction. Expenses, stipends
// and outgoing transfer legs reduce the balance; donations and incoming legs
// increase it. The result is stored with the transaction and never
// recomputed.
func SignedEffect(category Category, leg Leg, amount decimal.Decimal) (decimal.Decimal, error) {
	if !amount.IsPositive() {
		return decimal.Zero, invalid("amount must be positive")
	}
	magnitude := amount.Abs()
	switch category {
	case CategoryExpense, CategoryStipend:
		return magnitude.Neg(), nil
	case CategoryDonation:
		return magnitude, nil
	case CategoryTransfer:
		switch leg {
		case LegDebit:
			return magnitude.Neg(), nil
		case LegCredit:
			return magnitude, nil
		}
		return decimal.Zero, invalid("transfer leg required")
	}
	return decimal.Zero, invalid("unknown category %q", category)
}
