// Package totals turns a cart into the payload sent to the payment provider.
//
// The tax/shipping engine is ground truth for every component amount, but its
// aggregate total is cross-checked against a total accumulated from raw item
// data. A known engine defect double-counts the total when a cart has more
// than one address context; Correction compensates for it.
package totals

import (
	"context"
	"log/slog"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/jcmexdev/payment-reconciler/internal/pkg/metrics"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/domain"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/ports"
)

// Mode selects which totals go into the payload.
type Mode int

const (
	// ModeSubtotalOnly excludes shipping, tax and addresses.
	ModeSubtotalOnly Mode = iota + 1
	// ModeFullTotals includes shipping, tax and addresses.
	ModeFullTotals
)

// String returns the mode name used in logs and metrics.
func (m Mode) String() string {
	if m == ModeFullTotals {
		return "full_totals"
	}
	return "subtotal_only"
}

// Cart is the builder's view of a draft or frozen cart.
type Cart struct {
	ID        domain.CartID
	DisplayID string
	Contents  domain.CartContents
	// Admin marks back-office submissions.
	Admin bool
}

// DefaultRegionRequiredCountries lists countries whose addresses must carry a
// region code.
var DefaultRegionRequiredCountries = []string{
	"US", "CA", "AU", "BR", "MX", "IN", "CN", "AR", "ES", "CH", "RO", "EE", "LT", "LV",
}

// Options configures a Builder. Zero values select the defaults:
// DefaultRegionRequiredCountries, no correction and DefaultRegistry without
// balance sources.
type Options struct {
	RegionRequiredCountries []string
	Correction              Correction
	Registry                *Registry
	Metrics                 *metrics.Metrics
}

// Builder turns a cart into the provider's CartPayload. It asks the totals
// engine for the cart's totals, recomputes the grand total from its parts,
// and reconciles the two with Correction before the payload leaves.
type Builder struct {
	engine         ports.TotalsEngine
	registry       *Registry
	regionRequired map[string]struct{}
	correction     Correction
	metrics        *metrics.Metrics
}

// NewBuilder returns a Builder pricing carts through engine. Country codes in
// opts are normalised to upper case.
func NewBuilder(engine ports.TotalsEngine, opts Options) *Builder {
	countries := opts.RegionRequiredCountries
	if countries == nil {
		countries = DefaultRegionRequiredCountries
	}
	required := make(map[string]struct{}, len(countries))
	for _, c := range countries {
		required[strings.ToUpper(strings.TrimSpace(c))] = struct{}{}
	}
	registry := opts.Registry
	if registry == nil {
		registry = DefaultRegistry(nil, nil)
	}
	return &Builder{
		engine:         engine,
		registry:       registry,
		regionRequired: required,
		correction:     opts.Correction,
		metrics:        opts.Metrics,
	}
}

// Build recomputes the cart's totals and produces the provider payload. A
// cross-check mismatch that Correction cannot explain is logged and the
// payload is returned anyway; the provider validates it.
func (b *Builder) Build(ctx context.Context, cart Cart, items []domain.LineItem, mode Mode) (*domain.CartPayload, error) {
	engineTotals, err := b.engine.CollectTotals(ctx, cart.ID, cart.Contents)
	if err != nil {
		return nil, domain.ErrUpstream.Withf("collect totals for cart %d", cart.ID).Wrap(err)
	}
	if engineTotals.Discounts == nil {
		engineTotals.Discounts = map[string]decimal.Decimal{}
	}

	payload := &domain.CartPayload{
		OrderReference: cart.ID.String(),
		DisplayID:      cart.DisplayID,
		Items:          make([]domain.PayloadItem, 0, len(items)),
		Discounts:      []domain.PayloadDiscount{},
		Currency:       cart.Contents.Currency,
	}

	var calculated int64
	for _, it := range items {
		if !it.Visible {
			continue
		}
		unit := ToMinor(it.UnitPrice)
		line := unit * it.Quantity
		calculated += line
		payload.Items = append(payload.Items, domain.PayloadItem{
			Reference:   itemReference(it),
			Name:        it.Name,
			SKU:         it.SKU,
			UnitPrice:   unit,
			Quantity:    it.Quantity,
			TotalAmount: line,
		})
	}

	subtotal := ToMinor(engineTotals.Subtotal)
	grand, tax, shipping := b.fullAmounts(cart, engineTotals)

	payable := subtotal
	if mode == ModeFullTotals {
		payable += shipping + tax
	}
	discounts, totalDiscount := b.discounts(ctx, cart, engineTotals, payable)
	payload.Discounts = discounts
	calculated -= totalDiscount

	var total int64
	switch mode {
	case ModeFullTotals:
		total = grand
		if tax != 0 {
			payload.TaxAmount = tax
			calculated += tax
		}
		if shipment, ok := b.shipment(cart, engineTotals, shipping); ok {
			payload.Shipments = []domain.PayloadShipment{shipment}
			calculated += shipping
		}
		if addr := cart.Contents.BillingAddress; addr != nil {
			payload.BillingAddress = b.withRegionFallback(addr)
		}
	default:
		total = subtotal - totalDiscount
	}

	if corrected, ok := b.correction.Apply(calculated, total); ok {
		slog.InfoContext(ctx, "engine total corrected",
			"cart_id", cart.ID, "engine_total", total, "corrected_total", corrected, "mode", mode.String())
		b.metrics.Correction("exact_half")
		total = corrected
	} else if calculated != total {
		slog.WarnContext(ctx, "cart totals do not reconcile, deferring to provider validation",
			"cart_id", cart.ID, "engine_total", total, "calculated_total", calculated, "mode", mode.String())
		b.metrics.Correction("unreconciled")
	}

	if total < 0 {
		total = 0
	}
	payload.TotalAmount = total
	return payload, nil
}

// fullAmounts returns grand total, tax and shipping in minor units. Admin
// carts without a shopping-cart shipping rate read the admin totals block.
func (b *Builder) fullAmounts(cart Cart, t *ports.EngineTotals) (grand, tax, shipping int64) {
	if cart.Admin && cart.Contents.ShippingMethod == "" && t.Admin != nil {
		return ToMinor(t.Admin.GrandTotal), ToMinor(t.Admin.Tax), ToMinor(t.Admin.Shipping)
	}
	return ToMinor(t.GrandTotal), ToMinor(t.Tax), ToMinor(t.Shipping)
}

func (b *Builder) discounts(ctx context.Context, cart Cart, t *ports.EngineTotals, payable int64) ([]domain.PayloadDiscount, int64) {
	out := []domain.PayloadDiscount{}
	var total int64
	for _, src := range b.registry.Sources(t) {
		raw, present, err := src.Amount(ctx, cart, t)
		if err != nil {
			slog.WarnContext(ctx, "discount source failed, using engine totals",
				"cart_id", cart.ID, "discount", src.Key(), "error", err)
		}
		if !present {
			continue
		}
		amount := abs(ToMinor(raw))
		if amount == 0 {
			continue
		}
		if isBalanceBacked(src) {
			if remaining := payable - total; amount > remaining {
				amount = max(remaining, 0)
			}
			if amount == 0 {
				continue
			}
		}
		total += amount
		out = append(out, domain.PayloadDiscount{
			Reference:   b.discountReference(src.Key(), cart),
			Description: discountDescription(src, t),
			Amount:      amount,
		})
	}
	return out, total
}

func (b *Builder) shipment(cart Cart, t *ports.EngineTotals, shipping int64) (domain.PayloadShipment, bool) {
	addr := cart.Contents.ShippingAddress
	if addr == nil {
		return domain.PayloadShipment{}, false
	}
	if cart.Contents.ShippingMethod == "" && shipping == 0 {
		return domain.PayloadShipment{}, false
	}
	service := t.Labels["shipping"]
	if service == "" {
		service = cart.Contents.ShippingMethod
	}
	return domain.PayloadShipment{
		Reference: cart.Contents.ShippingMethod,
		Service:   service,
		Cost:      shipping,
		Address:   b.withRegionFallback(addr),
	}, true
}

// withRegionFallback substitutes the city for an empty region when the
// country does not mandate a region code.
func (b *Builder) withRegionFallback(addr *domain.Address) *domain.Address {
	cp := *addr
	if strings.TrimSpace(cp.Region) != "" {
		return &cp
	}
	if _, required := b.regionRequired[strings.ToUpper(cp.Country)]; !required {
		cp.Region = cp.City
	}
	return &cp
}

func (b *Builder) discountReference(key string, cart Cart) string {
	if key == KeyCoupon && len(cart.Contents.DiscountCodes) > 0 {
		return strings.Join(cart.Contents.DiscountCodes, ",")
	}
	return key
}

func discountDescription(src DiscountSource, t *ports.EngineTotals) string {
	if label := t.Labels[src.Key()]; label != "" {
		return label
	}
	return src.Description()
}

func itemReference(it domain.LineItem) string {
	return strconv.FormatInt(it.ProductID, 10)
}
