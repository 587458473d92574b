package app

import (
	"context"
	"strings"

	"github.com/jcmexdev/payment-reconciler/internal/reconciler/domain"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/ports"
)

// applyShipment copies the first shipment's address and method onto the
// frozen cart. Transactions without a shipment reference only carry the
// "<carrier> - <method>" label, which is matched against freshly computed
// rates.
func (r *Reconciler) applyShipment(ctx context.Context, f *domain.FrozenCart, tx *domain.Transaction) error {
	if len(tx.Cart.Shipments) == 0 {
		return nil
	}
	sh := tx.Cart.Shipments[0]
	if sh.Address != nil {
		addr := *sh.Address
		addr.Email = firstNonEmpty(addr.Email, tx.Consumer.Email)
		addr.Phone = firstNonEmpty(addr.Phone, tx.Consumer.Phone)
		f.ShippingAddress = &addr
	}
	if sh.Reference != "" {
		f.ShippingMethod = sh.Reference
		return nil
	}

	rates, err := r.engine.ShippingRates(ctx, f.ID, f.CartContents)
	if err != nil {
		return domain.ErrUpstream.Withf("shipping rates for cart %d", f.ID).Wrap(err)
	}
	rate, ok := matchShippingRate(rates, sh.Service)
	if !ok {
		return domain.ErrShippingMethodNotFound.Withf("no shipping rate labelled %q for cart %d", sh.Service, f.ID)
	}
	f.ShippingMethod = rate.Code
	return nil
}

func matchShippingRate(rates []ports.ShippingRate, label string) (ports.ShippingRate, bool) {
	want := normalizeLabel(label)
	for _, rate := range rates {
		if normalizeLabel(rate.Label()) == want {
			return rate, true
		}
	}
	return ports.ShippingRate{}, false
}

func normalizeLabel(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
