package sqlite

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/payment-reconciler/internal/reconciler/domain"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/ports"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "reconciler.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleContents() domain.CartContents {
	return domain.CartContents{
		Customer: domain.Customer{ID: 7, Email: "ana@example.com"},
		Items: []domain.LineItem{
			{ProductID: 101, SKU: "TEE-M", Name: "Tee", Quantity: 2, UnitPrice: decimal.RequireFromString("19.99"), Visible: true},
		},
		ShippingAddress: &domain.Address{City: "Beverly Hills", Region: "CA", Postcode: "90210", Country: "US"},
		ShippingMethod:  "flatrate_flatrate",
		AppliedRuleIDs:  []int64{4},
		Currency:        "USD",
	}
}

func TestStore_DraftLifecycle(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	draft, err := s.CreateDraft(ctx, sampleContents())
	require.NoError(t, err)

	incrementID, err := s.ReserveOrderID(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, "1000000001", incrementID)

	frozen, err := s.Freeze(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, draft.ID, frozen.ParentCartID)
	assert.Equal(t, "1000000001|"+frozen.ID.String(), frozen.DisplayID())

	loaded, err := s.LoadFrozen(ctx, frozen.ID)
	require.NoError(t, err)
	assert.True(t, loaded.Items[0].UnitPrice.Equal(decimal.RequireFromString("19.99")))
	assert.Equal(t, "90210", loaded.ShippingAddress.Postcode)

	loaded.Totals = domain.Totals{Subtotal: 3998, Grand: 3998}
	loaded.PaymentMethod = "provider"
	require.NoError(t, s.SaveFrozen(ctx, loaded))
	again, err := s.LoadFrozen(ctx, frozen.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(3998), again.Totals.Grand)
	assert.Equal(t, "provider", again.PaymentMethod)

	linked, err := s.LinkedCartID(ctx, frozen.ID)
	require.NoError(t, err)
	assert.Equal(t, draft.ID, linked, "frozen cart points at its draft")

	linked, err = s.LinkedCartID(ctx, draft.ID)
	require.NoError(t, err)
	assert.Zero(t, linked, "nothing linked yet")

	require.NoError(t, s.LinkFrozenCart(ctx, draft.ID, frozen.ID))
	linked, err = s.LinkedCartID(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, frozen.ID, linked)

	_, err = s.LoadDraft(ctx, frozen.ID)
	assert.ErrorIs(t, err, ports.ErrNotFound, "a frozen cart is not a draft")
	_, err = s.LinkedCartID(ctx, 999)
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestStore_ClaimDraft(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	draft, err := s.CreateDraft(ctx, sampleContents())
	require.NoError(t, err)

	const n = 10
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		claims int
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := s.ClaimDraft(ctx, draft.ID, false)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				claims++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, claims, "exactly one request wins the lock")

	loaded, err := s.LoadDraft(ctx, draft.ID)
	require.NoError(t, err)
	assert.False(t, loaded.Active)

	ok, err := s.ClaimDraft(ctx, draft.ID, true)
	require.NoError(t, err)
	assert.True(t, ok, "force ignores the flag")

	require.NoError(t, s.ReleaseDraft(ctx, draft.ID))
	ok, err = s.ClaimDraft(ctx, draft.ID, false)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.ClaimDraft(ctx, 999, false)
	assert.ErrorIs(t, err, ports.ErrNotFound)
}

func TestStore_Orders(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	draft, err := s.CreateDraft(ctx, sampleContents())
	require.NoError(t, err)
	_, err = s.ReserveOrderID(ctx, draft.ID)
	require.NoError(t, err)
	frozen, err := s.Freeze(ctx, draft.ID)
	require.NoError(t, err)
	frozen.Totals = domain.Totals{Subtotal: 3998, Tax: 330, Shipping: 500, Grand: 4828}

	order, err := s.SubmitOrder(ctx, domain.OrderSubmission{
		Cart:                 frozen,
		TransactionReference: "TXN-1",
		PaymentStatus:        domain.StatusAuthorized,
	})
	require.NoError(t, err)
	assert.Equal(t, "1000000001", order.IncrementID)

	_, err = s.SubmitOrder(ctx, domain.OrderSubmission{Cart: frozen, TransactionReference: "TXN-2", PaymentStatus: domain.StatusAuthorized})
	assert.Error(t, err, "increment ids are unique")

	byIncrement, err := s.FindByIncrementID(ctx, "1000000001")
	require.NoError(t, err)
	assert.Equal(t, order.ID, byIncrement.ID)
	assert.Equal(t, frozen.Totals, byIncrement.Totals)

	byRef, err := s.FindByTransactionReference(ctx, "TXN-1")
	require.NoError(t, err)
	assert.Equal(t, order.ID, byRef.ID)

	_, err = s.FindByTransactionReference(ctx, "TXN-404")
	assert.ErrorIs(t, err, ports.ErrNotFound)

	ok, err := s.CompareAndSetStatus(ctx, order.ID, domain.StatusPending, domain.StatusCompleted)
	require.NoError(t, err)
	assert.False(t, ok, "stale current status")
	ok, err = s.CompareAndSetStatus(ctx, order.ID, domain.StatusAuthorized, domain.StatusCompleted)
	require.NoError(t, err)
	assert.True(t, ok)
	_, err = s.CompareAndSetStatus(ctx, "missing", domain.StatusAuthorized, domain.StatusCompleted)
	assert.ErrorIs(t, err, ports.ErrNotFound)

	require.NoError(t, s.AddDocument(ctx, order.ID, domain.DocumentInvoice, 4828))
	require.NoError(t, s.PatchTotals(ctx, order.ID, domain.Totals{Grand: 4900, Tax: 400}, "adjusted"))

	got, err := s.GetOrder(ctx, order.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCompleted, got.PaymentStatus)
	assert.Equal(t, int64(4900), got.Totals.Grand)
	assert.Equal(t, "adjusted", got.Note)

	docs, err := s.Documents(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, domain.DocumentInvoice, docs[0].Kind)
	assert.Equal(t, int64(4828), docs[0].Amount)
}
