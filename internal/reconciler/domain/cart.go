// Package domain holds the carts, transactions and orders the reconciler
// works on, the payment status state machine, and the error taxonomy shared
// by every layer.
package domain

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// DisplayIDSeparator joins the reserved order id and the frozen cart id.
const DisplayIDSeparator = "|"

// CartID identifies a draft or frozen cart.
type CartID int64

func (id CartID) String() string {
	return strconv.FormatInt(int64(id), 10)
}

// ParseCartID parses a decimal cart id.
func ParseCartID(raw string) (CartID, error) {
	n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse cart id %q: %w", raw, err)
	}
	return CartID(n), nil
}

// LineItem is one cart row.
type LineItem struct {
	ProductID int64           `json:"product_id"`
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	Quantity  int64           `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	// Visible is false for child rows of configurable or bundled products.
	Visible bool `json:"visible"`
}

// Address is a billing or shipping address.
type Address struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Street    string `json:"street"`
	City      string `json:"city"`
	Region    string `json:"region"`
	RegionID  int64  `json:"region_id"`
	Postcode  string `json:"postcode"`
	Country   string `json:"country"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

// Customer is the cart's owner. ID 0 is a guest.
type Customer struct {
	ID         int64  `json:"id"`
	TaxClassID int64  `json:"tax_class_id"`
	Email      string `json:"email"`
	FirstName  string `json:"first_name"`
	LastName   string `json:"last_name"`
	IsGuest    bool   `json:"is_guest"`
}

// CartContents is the editable part shared by draft and frozen carts.
type CartContents struct {
	Customer        Customer   `json:"customer"`
	Items           []LineItem `json:"items"`
	ShippingAddress *Address   `json:"shipping_address,omitempty"`
	BillingAddress  *Address   `json:"billing_address,omitempty"`
	ShippingMethod  string     `json:"shipping_method,omitempty"`
	AppliedRuleIDs  []int64    `json:"applied_rule_ids,omitempty"`
	DiscountCodes   []string   `json:"discount_codes,omitempty"`
	Currency        string     `json:"currency"`
}

// VisibleItems returns the items shown to the shopper.
func (c CartContents) VisibleItems() []LineItem {
	out := make([]LineItem, 0, len(c.Items))
	for _, it := range c.Items {
		if it.Visible {
			out = append(out, it)
		}
	}
	return out
}

// DraftCart is the shopper's mutable cart. Active doubles as the order
// creation mutex: whoever flips it to false first owns the attempt.
type DraftCart struct {
	ID              CartID
	Active          bool
	ReservedOrderID string
	// LastFrozenCartID points draft -> frozen and is set once the frozen cart
	// produced an Order. It is a lookup index, not ownership.
	LastFrozenCartID *CartID
	CartContents
}

// Totals are the recomputed amounts persisted on a frozen cart or order, in
// minor units.
type Totals struct {
	Subtotal int64 `json:"subtotal"`
	Discount int64 `json:"discount"`
	Shipping int64 `json:"shipping"`
	Tax      int64 `json:"tax"`
	Grand    int64 `json:"grand"`
}

// FrozenCart is the snapshot taken when an order token is requested.
type FrozenCart struct {
	ID              CartID
	ParentCartID    CartID
	ReservedOrderID string
	PaymentMethod   string
	Totals          Totals
	CartContents
}

// DisplayID renders the composite identifier sent to the provider.
func (f *FrozenCart) DisplayID() string {
	return FormatDisplayID(f.ReservedOrderID, f.ID)
}

// FormatDisplayID builds "<incrementId>|<frozenCartId>".
func FormatDisplayID(reservedOrderID string, frozen CartID) string {
	return reservedOrderID + DisplayIDSeparator + frozen.String()
}

// ParseDisplayID splits "<reservedOrderId>|<frozenCartId>". ok is false for
// legacy ids that carry no separator.
func ParseDisplayID(displayID string) (reservedOrderID string, frozen CartID, ok bool, err error) {
	before, after, found := strings.Cut(displayID, DisplayIDSeparator)
	if !found {
		return displayID, 0, false, nil
	}
	frozen, err = ParseCartID(after)
	if err != nil {
		return "", 0, false, err
	}
	return before, frozen, true, nil
}
