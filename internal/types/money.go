// README: Common money value object used across modules.
package types

// DefaultCurrency is stored when a fare arrives without one.
const DefaultCurrency = "TWD"

// Money is an amount in minor currency units (cents).
type Money struct {
	Amount   int64
	Currency string
}

// AtLeast reports whether m covers min. A zero min always passes.
func (m Money) AtLeast(min int64) bool {
	return min <= 0 || m.Amount >= min
}
