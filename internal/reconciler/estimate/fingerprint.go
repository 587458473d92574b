package estimate

import (
	"slices"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/jcmexdev/payment-reconciler/internal/reconciler/domain"
)

// Request is an interactive shipping/tax estimate for a cart.
type Request struct {
	CartID domain.CartID
	// DiscountedSubtotal is the subtotal after discounts, in minor units.
	DiscountedSubtotal int64
	Contents           domain.CartContents
}

type itemKey struct {
	productID int64
	qty       int64
}

// Fingerprint hashes every input that can change an estimate: cart id,
// discounted subtotal, customer and tax class, country, postcode, city,
// region, the visible (product, qty) multiset and the applied rule ids.
// Names, street lines and other cosmetic fields do not participate.
func Fingerprint(req Request) string {
	h := xxhash.New()
	write := func(parts ...string) {
		for _, p := range parts {
			_, _ = h.WriteString(p)
			_, _ = h.WriteString("\x1f")
		}
	}

	c := req.Contents
	write(
		"cart", req.CartID.String(),
		"subtotal", strconv.FormatInt(req.DiscountedSubtotal, 10),
		"customer", strconv.FormatInt(c.Customer.ID, 10),
		"tax_class", strconv.FormatInt(c.Customer.TaxClassID, 10),
	)

	var addr domain.Address
	if c.ShippingAddress != nil {
		addr = *c.ShippingAddress
	}
	write(
		"country", strings.ToUpper(strings.TrimSpace(addr.Country)),
		"postcode", strings.ToUpper(strings.TrimSpace(addr.Postcode)),
		"city", strings.TrimSpace(addr.City),
		"region", strings.TrimSpace(addr.Region),
		"region_id", strconv.FormatInt(addr.RegionID, 10),
	)

	items := make([]itemKey, 0, len(c.Items))
	for _, it := range c.Items {
		if it.Visible {
			items = append(items, itemKey{productID: it.ProductID, qty: it.Quantity})
		}
	}
	slices.SortFunc(items, func(a, b itemKey) int {
		if a.productID != b.productID {
			return compareInt64(a.productID, b.productID)
		}
		return compareInt64(a.qty, b.qty)
	})
	write("items", strconv.Itoa(len(items)))
	for _, it := range items {
		write(strconv.FormatInt(it.productID, 10), strconv.FormatInt(it.qty, 10))
	}

	rules := slices.Clone(c.AppliedRuleIDs)
	slices.Sort(rules)
	write("rules", strconv.Itoa(len(rules)))
	for _, r := range rules {
		write(strconv.FormatInt(r, 10))
	}

	return strconv.FormatUint(h.Sum64(), 16)
}

func compareInt64(a, b int64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
