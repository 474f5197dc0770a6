package engine

// Exchange cost model. The decision engine charges the fee on the notional
// value of the position at the current price, not at entry, so a winning
// long pays slightly more in fees than it did on the way in.

type FeeModel interface {
	// Compute returns the fee charged for turning over quantity units at
	// the given price.
	Compute(price, quantity float64) float64
}

// ProportionalFee charges a flat fraction of traded notional, the taker
// schedule of most perpetual futures venues.
type ProportionalFee struct{ Rate float64 }

func (m ProportionalFee) Compute(price, quantity float64) float64 {
	return price * quantity * m.Rate
}

// SymbolFilters are the venue's order constraints. The simulator itself does
// not place orders, but sizing output is rounded through these so simulated
// quantities match what the venue would have accepted.
type SymbolFilters struct {
	QtyStep     float64
	NotionalMin float64
}

// EnforceFilters rounds a quantity to the venue step and bumps it up to the
// minimum notional when one is configured.
func EnforceFilters(f SymbolFilters, price, qty float64) float64 {
	if f.QtyStep > 0 {
		qty = roundStep(qty, f.QtyStep)
	}
	if f.NotionalMin > 0 && price*qty < f.NotionalMin && price > 0 {
		qty = f.NotionalMin / price
		if f.QtyStep > 0 {
			qty = roundStep(qty, f.QtyStep)
		}
	}
	return qty
}

func roundStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	return float64(int64(v/step+0.5)) * step
}
