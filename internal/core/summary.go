package core

// Summary holds derived totals over a set of transactions. It is recomputed
// on every read, never stored.
type Summary struct {
	TotalIncome  Money
	TotalExpense Money
	Balance      Money
}

// Summarize filters by kind and sums amounts. Balance may be negative.
func Summarize(txs []Transaction) Summary {
	var s Summary
	for _, t := range txs {
		switch t.Kind {
		case Income:
			s.TotalIncome.Cents += t.Amount.Cents
		case Expense:
			s.TotalExpense.Cents += t.Amount.Cents
		}
	}
	s.Balance.Cents = s.TotalIncome.Cents - s.TotalExpense.Cents
	return s
}
