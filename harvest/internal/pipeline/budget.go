package pipeline

import "errors"

// ErrBudgetExhausted is returned when a stage stops early after too many
// forbidden or quota responses.
var ErrBudgetExhausted = errors.New("pipeline: forbidden budget exhausted")

// Budget counts down forbidden responses within one run. It never resets.
type Budget struct {
	remaining int
}

// NewBudget returns a budget tolerating n-1 forbidden responses; the n-th
// exhausts it.
func NewBudget(n int) *Budget {
	return &Budget{remaining: n}
}

// Spend records one forbidden response and reports whether the budget is
// now exhausted.
func (b *Budget) Spend() bool {
	if b.remaining > 0 {
		b.remaining--
	}
	return b.remaining == 0
}

func (b *Budget) Exhausted() bool { return b.remaining <= 0 }

func (b *Budget) Remaining() int { return b.remaining }
