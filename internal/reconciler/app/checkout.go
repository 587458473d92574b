package app

import (
	"context"
	"log/slog"

	"github.com/jcmexdev/payment-reconciler/internal/reconciler/domain"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/ports"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/totals"
)

// Token is what the checkout widget needs to open a provider order.
type Token struct {
	Cart    *domain.FrozenCart
	Payload *domain.CartPayload
}

// Checkout snapshots draft carts into frozen carts at order-token time.
type Checkout struct {
	carts   ports.CartStore
	builder *totals.Builder
}

// NewCheckout returns a Checkout that freezes carts in carts and prices them with builder.
func NewCheckout(carts ports.CartStore, builder *totals.Builder) *Checkout {
	return &Checkout{carts: carts, builder: builder}
}

// CreateOrderToken reserves an increment id when the draft has none, freezes
// the draft and builds the provider payload for the new snapshot. The
// provider call itself belongs to the caller.
func (c *Checkout) CreateOrderToken(ctx context.Context, draftID domain.CartID, mode totals.Mode, admin bool) (*Token, error) {
	draft, err := c.carts.LoadDraft(ctx, draftID)
	if err != nil {
		return nil, storeErr(err, domain.ErrMissingCart.Withf("draft cart %d not found", draftID))
	}
	if draft.ReservedOrderID == "" {
		if _, err := c.carts.ReserveOrderID(ctx, draftID); err != nil {
			return nil, domain.ErrUpstream.Withf("reserve order id for cart %d", draftID).Wrap(err)
		}
	}

	frozen, err := c.carts.Freeze(ctx, draftID)
	if err != nil {
		return nil, storeErr(err, domain.ErrMissingCart.Withf("draft cart %d not found", draftID))
	}

	payload, err := c.builder.Build(ctx, totals.Cart{
		ID:        frozen.ID,
		DisplayID: frozen.DisplayID(),
		Contents:  frozen.CartContents,
		Admin:     admin,
	}, frozen.Items, mode)
	if err != nil {
		return nil, err
	}

	frozen.Totals = totals.PayloadTotals(payload)
	if err := c.carts.SaveFrozen(ctx, frozen); err != nil {
		return nil, domain.ErrUpstream.Withf("save frozen cart %d", frozen.ID).Wrap(err)
	}

	slog.InfoContext(ctx, "order token prepared",
		"cart_id", draftID, "frozen_cart_id", frozen.ID, "display_id", frozen.DisplayID(),
		"mode", mode.String(), "total", payload.TotalAmount)
	return &Token{Cart: frozen, Payload: payload}, nil
}
