package totals

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/jcmexdev/payment-reconciler/internal/reconciler/ports"
)

// DiscountSource yields the amount one discount type contributes to a cart.
type DiscountSource interface {
	Key() string
	Description() string
	// Amount reports present=false when the discount is not applied to cart.
	Amount(ctx context.Context, cart Cart, totals *ports.EngineTotals) (amount decimal.Decimal, present bool, err error)
}

// totalsSource trusts the engine's discount totals map.
type totalsSource struct {
	key         string
	description string
}

// FromTotals returns a source reading key from the engine's discount totals.
func FromTotals(key, description string) DiscountSource {
	return totalsSource{key: key, description: description}
}

func (s totalsSource) Key() string         { return s.key }
func (s totalsSource) Description() string { return s.description }

func (s totalsSource) Amount(_ context.Context, _ Cart, totals *ports.EngineTotals) (decimal.Decimal, bool, error) {
	v, ok := totals.Discounts[s.key]
	return v, ok, nil
}

// balanceSource reads the applied amount from the extension that owns the
// balance, because those extensions do not populate the totals map reliably.
// It is only consulted when the totals map shows the discount as applied.
type balanceSource struct {
	key         string
	description string
	balances    ports.BalanceSource
}

// FromBalance returns a source whose amount is the customer's balance in src.
// The builder caps it to what is left to pay.
func FromBalance(key, description string, src ports.BalanceSource) DiscountSource {
	return balanceSource{key: key, description: description, balances: src}
}

func (s balanceSource) Key() string         { return s.key }
func (s balanceSource) Description() string { return s.description }
func (s balanceSource) balanceBacked()      {}

func (s balanceSource) Amount(ctx context.Context, cart Cart, totals *ports.EngineTotals) (decimal.Decimal, bool, error) {
	if _, applied := totals.Discounts[s.key]; !applied {
		return decimal.Zero, false, nil
	}
	if cart.Contents.Customer.ID == 0 {
		return totals.Discounts[s.key], true, nil
	}
	balance, err := s.balances.Balance(ctx, cart.Contents.Customer.ID)
	if err != nil {
		return totals.Discounts[s.key], true, err
	}
	return balance, true, nil
}

// Registry is the ordered set of known discount total keys. Keys present in
// the engine totals but absent here are read through FromTotals.
type Registry struct {
	sources []DiscountSource
	index   map[string]int
}

func NewRegistry(sources ...DiscountSource) *Registry {
	r := &Registry{index: make(map[string]int)}
	for _, s := range sources {
		r.Register(s)
	}
	return r
}

// Register appends s, or replaces the source already registered for its key
// keeping the original position.
func (r *Registry) Register(s DiscountSource) {
	if i, ok := r.index[s.Key()]; ok {
		r.sources[i] = s
		return
	}
	r.index[s.Key()] = len(r.sources)
	r.sources = append(r.sources, s)
}

// Sources returns the registered sources followed by fallback sources for
// every unregistered key in totals, sorted by key.
func (r *Registry) Sources(totals *ports.EngineTotals) []DiscountSource {
	out := append([]DiscountSource(nil), r.sources...)
	var extra []string
	for key := range totals.Discounts {
		if _, ok := r.index[key]; !ok {
			extra = append(extra, key)
		}
	}
	sort.Strings(extra)
	for _, key := range extra {
		out = append(out, FromTotals(key, "Discount"))
	}
	return out
}

// Discount total keys recognised out of the box.
const (
	KeyCoupon         = "discount"
	KeyStoreCredit    = "customerbalance"
	KeyGiftCard       = "giftcardaccount"
	KeyGiftCert       = "ugiftcert"
	KeyRewardPoints   = "rewardpoints"
	KeyAmStoreCredit  = "amstorecredit"
	KeyAwGiftCard     = "aw_giftcard"
	KeyMageWorxGift   = "mageworx_giftcards"
	KeyGiftVoucher    = "giftvoucher"
	KeyReferralCredit = "referafriend"
	KeyAwRewardPoints = "aw_reward_points"
)

// DefaultRegistry registers the native and recognised third-party discount
// types. storeCredit and giftCard may be nil, in which case those keys are
// read from the totals map like every other key.
func DefaultRegistry(storeCredit, giftCard ports.BalanceSource) *Registry {
	r := NewRegistry(
		FromTotals(KeyCoupon, "Discount"),
		FromTotals(KeyStoreCredit, "Store Credit"),
		FromTotals(KeyGiftCard, "Gift Card"),
		FromTotals(KeyGiftCert, "Gift Certificate"),
		FromTotals(KeyRewardPoints, "Reward Points"),
		FromTotals(KeyAmStoreCredit, "Store Credit"),
		FromTotals(KeyAwGiftCard, "Gift Card"),
		FromTotals(KeyMageWorxGift, "Gift Card"),
		FromTotals(KeyGiftVoucher, "Gift Voucher"),
		FromTotals(KeyReferralCredit, "Referral Credit"),
		FromTotals(KeyAwRewardPoints, "Reward Points"),
	)
	if storeCredit != nil {
		r.Register(FromBalance(KeyStoreCredit, "Store Credit", storeCredit))
	}
	if giftCard != nil {
		r.Register(FromBalance(KeyGiftCard, "Gift Card", giftCard))
	}
	return r
}

func isBalanceBacked(s DiscountSource) bool {
	_, ok := s.(interface{ balanceBacked() })
	return ok
}
