package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/jcmexdev/payment-reconciler/internal/reconciler/domain"
)

// Notification is an authenticated event from the provider, either a webhook
// or a browser callback.
type Notification struct {
	Reference string
	// Status is the status the event announces. Empty means "whatever the
	// fetched transaction says".
	Status domain.Status
	// SessionCartID is set for browser callbacks.
	SessionCartID *domain.CartID
	// Transaction is the provider's record when the event embeds it.
	Transaction *domain.Transaction
	Admin       bool
}

// Result tells the transport how to answer the sender.
type Result struct {
	Order *domain.Order
	// Acknowledged is true whenever the sender must stop redelivering.
	Acknowledged bool
	// Applied is false when the event changed nothing (stale transition).
	Applied bool
	Created bool
}

// HandleNotification routes an event to ApplyStatusUpdate when an order
// already exists for the reference and to CreateOrder otherwise. Invalid
// transitions are acknowledged with a nil error.
func (r *Reconciler) HandleNotification(ctx context.Context, n Notification) (Result, error) {
	if strings.TrimSpace(n.Reference) == "" {
		return Result{}, domain.ErrEmptyReference
	}

	existing, err := findOrder(func() (*domain.Order, error) {
		return r.orders.FindByTransactionReference(ctx, n.Reference)
	})
	if err != nil {
		return Result{}, err
	}
	if existing != nil {
		if err := r.checkSessionOwnsOrder(ctx, existing, n.SessionCartID); err != nil {
			return Result{}, err
		}
		status, err := r.notificationStatus(ctx, n)
		if err != nil {
			return Result{Order: existing}, err
		}
		return r.updateFromNotification(ctx, existing, status)
	}

	var opts []CreateOption
	if n.Admin {
		opts = append(opts, AsAdmin())
	}
	order, err := r.CreateOrder(ctx, n.Reference, n.SessionCartID, n.Transaction, opts...)
	if err != nil {
		return Result{}, err
	}
	res := Result{Order: order, Acknowledged: true, Applied: true, Created: true}
	if n.Status == "" || n.Status == domain.StatusNoNewState || n.Status == order.PaymentStatus {
		return res, nil
	}

	updated, err := r.updateFromNotification(ctx, order, n.Status)
	updated.Created = true
	return updated, err
}

// checkSessionOwnsOrder applies the callback ownership guard to orders that
// already exist: the session cart must be the draft the order was frozen
// from. Webhooks carry no session cart and pass.
func (r *Reconciler) checkSessionOwnsOrder(ctx context.Context, order *domain.Order, sessionCartID *domain.CartID) error {
	if sessionCartID == nil {
		return nil
	}
	frozen, err := r.carts.LoadFrozen(ctx, order.FrozenCartID)
	if err != nil {
		return storeErr(err, domain.ErrMissingCart.Withf("frozen cart %d not found", order.FrozenCartID))
	}
	if *sessionCartID != frozen.ParentCartID {
		slog.WarnContext(ctx, "callback from a foreign session rejected",
			"order_id", order.ID, "session_cart_id", *sessionCartID, "frozen_cart_id", frozen.ID)
		return domain.ErrCartMismatch.Withf("session cart %d does not own frozen cart %d", *sessionCartID, frozen.ID)
	}
	return nil
}

// notificationStatus is the status an event announces. Events that carry
// neither a status nor a transaction are resolved against the provider.
func (r *Reconciler) notificationStatus(ctx context.Context, n Notification) (domain.Status, error) {
	if n.Status != "" {
		return n.Status, nil
	}
	if n.Transaction != nil {
		return n.Transaction.Status, nil
	}
	tx, err := r.fetchTransaction(ctx, n.Reference)
	if err != nil {
		return "", err
	}
	return tx.Status, nil
}

func (r *Reconciler) updateFromNotification(ctx context.Context, order *domain.Order, status domain.Status) (Result, error) {
	if status == "" {
		return Result{Order: order, Acknowledged: true}, nil
	}
	updated, err := r.ApplyStatusUpdate(ctx, order.ID, status)
	if errors.Is(err, domain.ErrInvalidTransition) {
		return Result{Order: order, Acknowledged: true, Applied: false}, nil
	}
	if err != nil {
		return Result{Order: order}, err
	}
	return Result{Order: updated, Acknowledged: true, Applied: true}, nil
}
