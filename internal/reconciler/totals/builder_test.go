package totals

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/payment-reconciler/internal/reconciler/domain"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/ports"
)

type fakeEngine struct {
	totals *ports.EngineTotals
	err    error
}

func (f *fakeEngine) CollectTotals(context.Context, domain.CartID, domain.CartContents) (*ports.EngineTotals, error) {
	if f.err != nil {
		return nil, f.err
	}
	cp := *f.totals
	return &cp, nil
}

func (f *fakeEngine) ShippingRates(context.Context, domain.CartID, domain.CartContents) ([]ports.ShippingRate, error) {
	return nil, nil
}

type fakeBalance struct {
	amount decimal.Decimal
	err    error
}

func (f fakeBalance) Balance(context.Context, int64) (decimal.Decimal, error) {
	return f.amount, f.err
}

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// testCart is one visible item at 40.00, shipped to Los Angeles with a coupon.
func testCart() Cart {
	return Cart{
		ID:        55,
		DisplayID: "1000000123|55",
		Contents: domain.CartContents{
			Customer: domain.Customer{ID: 7},
			Items: []domain.LineItem{
				{ProductID: 101, SKU: "TEE-M", Name: "Tee", Quantity: 1, UnitPrice: d("40.00"), Visible: true},
				{ProductID: 102, SKU: "TEE-M-CHILD", Name: "Tee child", Quantity: 1, UnitPrice: d("40.00"), Visible: false},
			},
			ShippingAddress: &domain.Address{City: "Los Angeles", Region: "CA", Postcode: "90210", Country: "US"},
			BillingAddress:  &domain.Address{City: "Los Angeles", Region: "CA", Postcode: "90210", Country: "US"},
			ShippingMethod:  "flatrate_flatrate",
			DiscountCodes:   []string{"SAVE5"},
			Currency:        "USD",
		},
	}
}

func engineTotals(grand string) *ports.EngineTotals {
	return &ports.EngineTotals{
		Subtotal:   d("40.00"),
		GrandTotal: d(grand),
		Tax:        d("5.00"),
		Shipping:   d("10.00"),
		Discounts:  map[string]decimal.Decimal{KeyCoupon: d("-5.00")},
		Labels:     map[string]string{"shipping": "Flat Rate - Fixed"},
	}
}

func newTestBuilder(engine ports.TotalsEngine, reg *Registry) *Builder {
	return NewBuilder(engine, Options{Correction: DefaultCorrection(), Registry: reg})
}

func TestBuild_ExactHalfCorrection(t *testing.T) {
	tests := []struct {
		name        string
		engineGrand string
		wantTotal   int64
	}{
		{name: "engine reports exactly double", engineGrand: "100.00", wantTotal: 5000},
		{name: "engine reports a non-half mismatch", engineGrand: "70.00", wantTotal: 7000},
		{name: "engine agrees", engineGrand: "50.00", wantTotal: 5000},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newTestBuilder(&fakeEngine{totals: engineTotals(tt.engineGrand)}, nil)

			payload, err := b.Build(context.Background(), testCart(), testCart().Contents.Items, ModeFullTotals)
			require.NoError(t, err)

			assert.Equal(t, tt.wantTotal, payload.TotalAmount)
			// Subcomponents are never corrected.
			assert.Equal(t, int64(500), payload.TaxAmount)
			require.Len(t, payload.Shipments, 1)
			assert.Equal(t, int64(1000), payload.Shipments[0].Cost)
			require.Len(t, payload.Discounts, 1)
			assert.Equal(t, int64(500), payload.Discounts[0].Amount)
		})
	}
}

func TestBuild_CorrectionDisabled(t *testing.T) {
	b := NewBuilder(&fakeEngine{totals: engineTotals("100.00")}, Options{})

	payload, err := b.Build(context.Background(), testCart(), testCart().Contents.Items, ModeFullTotals)
	require.NoError(t, err)
	assert.Equal(t, int64(10000), payload.TotalAmount)
}

func TestBuild_FullTotalsPayload(t *testing.T) {
	b := newTestBuilder(&fakeEngine{totals: engineTotals("50.00")}, nil)
	cart := testCart()

	payload, err := b.Build(context.Background(), cart, cart.Contents.Items, ModeFullTotals)
	require.NoError(t, err)

	assert.Equal(t, "55", payload.OrderReference)
	assert.Equal(t, "1000000123|55", payload.DisplayID)
	assert.Equal(t, "USD", payload.Currency)
	require.Len(t, payload.Items, 1, "hidden child rows are not sent")
	assert.Equal(t, domain.PayloadItem{
		Reference: "101", Name: "Tee", SKU: "TEE-M", UnitPrice: 4000, Quantity: 1, TotalAmount: 4000,
	}, payload.Items[0])
	assert.Equal(t, "SAVE5", payload.Discounts[0].Reference)
	assert.Equal(t, "Flat Rate - Fixed", payload.Shipments[0].Service)
	assert.Equal(t, "flatrate_flatrate", payload.Shipments[0].Reference)
	require.NotNil(t, payload.BillingAddress)

	assert.Equal(t, domain.Totals{Subtotal: 4000, Discount: 500, Shipping: 1000, Tax: 500, Grand: 5000}, PayloadTotals(payload))
}

func TestBuild_SubtotalOnly(t *testing.T) {
	b := newTestBuilder(&fakeEngine{totals: engineTotals("50.00")}, nil)
	cart := testCart()

	payload, err := b.Build(context.Background(), cart, cart.Contents.Items, ModeSubtotalOnly)
	require.NoError(t, err)

	assert.Equal(t, int64(3500), payload.TotalAmount)
	assert.Zero(t, payload.TaxAmount)
	assert.Empty(t, payload.Shipments)
	assert.Nil(t, payload.BillingAddress)
}

func TestBuild_RegionFallback(t *testing.T) {
	tests := []struct {
		name       string
		country    string
		wantRegion string
	}{
		{name: "country without regions uses the city", country: "GB", wantRegion: "London"},
		{name: "country that mandates a region keeps it empty", country: "US", wantRegion: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cart := testCart()
			addr := &domain.Address{City: "London", Postcode: "SW1A 1AA", Country: tt.country}
			cart.Contents.ShippingAddress = addr
			cart.Contents.BillingAddress = addr
			b := newTestBuilder(&fakeEngine{totals: engineTotals("50.00")}, nil)

			payload, err := b.Build(context.Background(), cart, cart.Contents.Items, ModeFullTotals)
			require.NoError(t, err)

			assert.Equal(t, tt.wantRegion, payload.BillingAddress.Region)
			assert.Equal(t, tt.wantRegion, payload.Shipments[0].Address.Region)
			assert.Empty(t, addr.Region, "input address is not mutated")
		})
	}
}

func TestBuild_BalanceBackedDiscountIsCapped(t *testing.T) {
	totals := engineTotals("0.00")
	totals.Discounts = map[string]decimal.Decimal{KeyStoreCredit: d("0")}
	reg := DefaultRegistry(fakeBalance{amount: d("500.00")}, nil)
	b := newTestBuilder(&fakeEngine{totals: totals}, reg)
	cart := testCart()

	payload, err := b.Build(context.Background(), cart, cart.Contents.Items, ModeFullTotals)
	require.NoError(t, err)

	require.Len(t, payload.Discounts, 1)
	assert.Equal(t, KeyStoreCredit, payload.Discounts[0].Reference)
	assert.Equal(t, "Store Credit", payload.Discounts[0].Description)
	assert.Equal(t, int64(5500), payload.Discounts[0].Amount, "capped at subtotal + shipping + tax")
	assert.Equal(t, int64(0), payload.TotalAmount)
}

func TestBuild_BalanceSourceFailureFallsBackToTotals(t *testing.T) {
	totals := engineTotals("40.00")
	totals.Discounts = map[string]decimal.Decimal{KeyGiftCard: d("-10.00")}
	reg := DefaultRegistry(nil, fakeBalance{err: errors.New("gift card service down")})
	b := newTestBuilder(&fakeEngine{totals: totals}, reg)
	cart := testCart()

	payload, err := b.Build(context.Background(), cart, cart.Contents.Items, ModeFullTotals)
	require.NoError(t, err)

	require.Len(t, payload.Discounts, 1)
	assert.Equal(t, int64(1000), payload.Discounts[0].Amount)
}

func TestBuild_UnknownDiscountKeyUsesFallbackSource(t *testing.T) {
	totals := engineTotals("45.00")
	totals.Discounts = map[string]decimal.Decimal{
		KeyCoupon:       d("-5.00"),
		"loyalty_bonus": d("-5.00"),
		"zz_promo":      d("-0.00"),
	}
	totals.Labels["loyalty_bonus"] = "Loyalty Bonus"
	b := newTestBuilder(&fakeEngine{totals: totals}, nil)
	cart := testCart()

	payload, err := b.Build(context.Background(), cart, cart.Contents.Items, ModeFullTotals)
	require.NoError(t, err)

	require.Len(t, payload.Discounts, 2, "zero-valued discounts are skipped")
	assert.Equal(t, "Loyalty Bonus", payload.Discounts[1].Description)
	assert.Equal(t, int64(4500), payload.TotalAmount)
}

func TestBuild_ClampsNegativeTotal(t *testing.T) {
	totals := engineTotals("40.00")
	totals.Subtotal = d("40.00")
	totals.Discounts = map[string]decimal.Decimal{KeyCoupon: d("-60.00")}
	b := newTestBuilder(&fakeEngine{totals: totals}, nil)
	cart := testCart()

	payload, err := b.Build(context.Background(), cart, cart.Contents.Items, ModeSubtotalOnly)
	require.NoError(t, err)
	assert.Equal(t, int64(0), payload.TotalAmount)
}

func TestBuild_AdminTotalsBlock(t *testing.T) {
	totals := engineTotals("0.00")
	totals.Tax = decimal.Zero
	totals.Shipping = decimal.Zero
	totals.Admin = &ports.AdminTotals{GrandTotal: d("50.00"), Tax: d("5.00"), Shipping: d("10.00")}
	b := newTestBuilder(&fakeEngine{totals: totals}, nil)
	cart := testCart()
	cart.Admin = true
	cart.Contents.ShippingMethod = ""

	payload, err := b.Build(context.Background(), cart, cart.Contents.Items, ModeFullTotals)
	require.NoError(t, err)

	assert.Equal(t, int64(5000), payload.TotalAmount)
	assert.Equal(t, int64(500), payload.TaxAmount)
	require.Len(t, payload.Shipments, 1)
	assert.Equal(t, int64(1000), payload.Shipments[0].Cost)
}

func TestBuild_EngineFailureIsUpstream(t *testing.T) {
	b := newTestBuilder(&fakeEngine{err: errors.New("timeout")}, nil)

	_, err := b.Build(context.Background(), testCart(), nil, ModeFullTotals)
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrUpstream)
	assert.True(t, domain.Retryable(err))
}

func TestCorrection_Apply(t *testing.T) {
	c := DefaultCorrection()

	got, ok := c.Apply(5000, 10000)
	assert.True(t, ok)
	assert.Equal(t, int64(5000), got)

	got, ok = c.Apply(5000, 10001)
	assert.True(t, ok, "floor of an odd total")
	assert.Equal(t, int64(5000), got)

	got, ok = c.Apply(0, 0)
	assert.False(t, ok)
	assert.Equal(t, int64(0), got)

	got, ok = Correction{Enabled: true, Divisor: 3}.Apply(100, 300)
	assert.True(t, ok)
	assert.Equal(t, int64(100), got)
}

func TestToMinor(t *testing.T) {
	assert.Equal(t, int64(1999), ToMinor(d("19.99")))
	assert.Equal(t, int64(1), ToMinor(d("0.005")))
	assert.Equal(t, int64(-500), ToMinor(d("-5.00")))
	assert.True(t, FromMinor(1999).Equal(d("19.99")))
}
