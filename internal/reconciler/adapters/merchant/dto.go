package merchant

import (
	"github.com/shopspring/decimal"

	"github.com/jcmexdev/payment-reconciler/internal/reconciler/ports"
)

type totalSegment struct {
	Code  string          `json:"code"`
	Title string          `json:"title"`
	Value decimal.Decimal `json:"value"`
}

type adminTotalsDTO struct {
	GrandTotal decimal.Decimal `json:"grand_total"`
	Tax        decimal.Decimal `json:"tax_amount"`
	Shipping   decimal.Decimal `json:"shipping_amount"`
}

// totalsDTO is the engine's totals response. Discount-like rows arrive as
// segments next to subtotal, shipping, tax and grand_total.
type totalsDTO struct {
	Segments []totalSegment  `json:"total_segments"`
	Admin    *adminTotalsDTO `json:"base_totals,omitempty"`
}

type rateDTO struct {
	Carrier      string          `json:"carrier_code"`
	Method       string          `json:"method_code"`
	CarrierTitle string          `json:"carrier_title"`
	MethodTitle  string          `json:"method_title"`
	Price        decimal.Decimal `json:"price_excl_tax"`
	Tax          decimal.Decimal `json:"tax_amount"`
}

func (t totalsDTO) toPorts() *ports.EngineTotals {
	out := &ports.EngineTotals{
		Discounts: map[string]decimal.Decimal{},
		Labels:    map[string]string{},
	}
	for _, s := range t.Segments {
		if s.Title != "" {
			out.Labels[s.Code] = s.Title
		}
		switch s.Code {
		case "subtotal":
			out.Subtotal = s.Value
		case "grand_total":
			out.GrandTotal = s.Value
		case "tax":
			out.Tax = s.Value
		case "shipping":
			out.Shipping = s.Value
		default:
			out.Discounts[s.Code] = s.Value
		}
	}
	if t.Admin != nil {
		out.Admin = &ports.AdminTotals{
			GrandTotal: t.Admin.GrandTotal,
			Tax:        t.Admin.Tax,
			Shipping:   t.Admin.Shipping,
		}
	}
	return out
}
