package totals

import (
	"github.com/shopspring/decimal"

	"github.com/jcmexdev/payment-reconciler/internal/reconciler/domain"
)

var hundred = decimal.NewFromInt(100)

// ToMinor converts a major-unit amount to minor units, rounding half away
// from zero.
func ToMinor(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Round(0).IntPart()
}

// FromMinor converts minor units back to a major-unit amount.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// Correction compensates the engine defect that reports Divisor times the
// real total. It only ever touches the total amount.
type Correction struct {
	Enabled bool
	Divisor int64
}

// DefaultCorrection matches the known doubling defect.
func DefaultCorrection() Correction {
	return Correction{Enabled: true, Divisor: 2}
}

// Apply returns floor(engineTotal/Divisor) and true when calculated equals it
// exactly. Any other mismatch is left alone.
func (c Correction) Apply(calculated, engineTotal int64) (int64, bool) {
	if !c.Enabled || c.Divisor < 2 {
		return engineTotal, false
	}
	reduced := floorDiv(engineTotal, c.Divisor)
	if reduced == engineTotal || calculated != reduced {
		return engineTotal, false
	}
	return reduced, true
}

// PayloadTotals summarises a payload into the totals persisted on a cart.
func PayloadTotals(p *domain.CartPayload) domain.Totals {
	var t domain.Totals
	for _, it := range p.Items {
		t.Subtotal += it.TotalAmount
	}
	for _, d := range p.Discounts {
		t.Discount += d.Amount
	}
	for _, s := range p.Shipments {
		t.Shipping += s.Cost
	}
	t.Tax = p.TaxAmount
	t.Grand = p.TotalAmount
	return t
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
