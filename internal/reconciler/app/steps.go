package app

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jcmexdev/payment-reconciler/internal/reconciler/domain"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/ports"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/totals"
)

// --- resolveCartStep ---

// resolveCartStep finds the frozen cart the transaction was paid for and
// checks it belongs to the calling session.
type resolveCartStep struct {
	r *Reconciler
	a *attempt
}

func (s *resolveCartStep) Name() string { return "resolve_cart" }

func (s *resolveCartStep) Execute(ctx context.Context) error {
	id, err := s.r.resolveFrozenCartID(ctx, s.a.tx)
	if err != nil {
		return err
	}
	frozen, err := s.r.carts.LoadFrozen(ctx, id)
	if err != nil {
		return storeErr(err, domain.ErrMissingCart.Withf("frozen cart %d not found", id))
	}
	if s.a.sessionCartID != nil && *s.a.sessionCartID != frozen.ParentCartID {
		return domain.ErrCartMismatch.Withf("session cart %d does not own frozen cart %d", *s.a.sessionCartID, frozen.ID)
	}
	s.a.frozen = frozen
	return nil
}

func (s *resolveCartStep) Compensate(context.Context) error { return nil }

// resolveFrozenCartID reads "<incrementId>|<frozenCartId>". Legacy display
// ids carry no separator; the order reference then holds either the frozen
// cart or its draft, and the larger of it and its linked cart is the snapshot.
func (r *Reconciler) resolveFrozenCartID(ctx context.Context, tx *domain.Transaction) (domain.CartID, error) {
	_, frozen, ok, err := domain.ParseDisplayID(tx.DisplayID)
	if err != nil {
		return 0, domain.ErrMissingCart.Withf("unreadable display id %q", tx.DisplayID).Wrap(err)
	}
	if ok {
		return frozen, nil
	}

	candidate, err := domain.ParseCartID(tx.OrderReference)
	if err != nil {
		return 0, domain.ErrMissingCart.Withf("unreadable order reference %q", tx.OrderReference).Wrap(err)
	}
	linked, err := r.carts.LinkedCartID(ctx, candidate)
	if err != nil {
		return 0, storeErr(err, domain.ErrMissingCart.Withf("cart %d not found", candidate))
	}
	slog.DebugContext(ctx, "legacy display id resolved",
		"display_id", tx.DisplayID, "candidate", candidate, "linked", linked)
	return max(candidate, linked), nil
}

// --- claimDraftStep ---

// claimDraftStep takes the order creation lock by flipping the draft inactive.
// An admin claim on a draft that is already inactive proceeds without owning
// the lock, so its compensation leaves the draft to the attempt holding it.
type claimDraftStep struct {
	r       *Reconciler
	a       *attempt
	claimed bool
}

func (s *claimDraftStep) Name() string { return "claim_draft" }

func (s *claimDraftStep) Execute(ctx context.Context) error {
	draft, err := s.r.carts.LoadDraft(ctx, s.a.frozen.ParentCartID)
	if err != nil {
		return storeErr(err, domain.ErrMissingParentCart.Withf("draft cart %d not found", s.a.frozen.ParentCartID))
	}
	s.a.draft = draft

	if !draft.Active && !s.a.admin {
		return s.lockHeld(ctx)
	}
	claimed, err := s.r.carts.ClaimDraft(ctx, draft.ID, s.a.admin)
	if err != nil {
		return domain.ErrUpstream.Withf("claim draft cart %d", draft.ID).Wrap(err)
	}
	if !claimed {
		return s.lockHeld(ctx)
	}
	s.claimed = draft.Active
	if !draft.Active {
		slog.WarnContext(ctx, "admin attempt proceeding on a held draft",
			"cart_id", draft.ID, "reference", s.a.reference)
	}
	return nil
}

// lockHeld returns the finished order on duplicate delivery, otherwise asks
// the transport to redeliver later.
func (s *claimDraftStep) lockHeld(ctx context.Context) error {
	order, err := s.r.existingOrder(ctx, s.a.draft.ReservedOrderID, s.a.reference)
	if err != nil {
		return err
	}
	if order != nil {
		s.a.order = order
		s.a.duplicate = true
		return errHalt
	}
	return domain.ErrAlreadyProcessing.Withf("draft cart %d is held by another attempt", s.a.draft.ID)
}

func (s *claimDraftStep) Compensate(ctx context.Context) error {
	if !s.claimed {
		return nil
	}
	if err := s.r.carts.ReleaseDraft(ctx, s.a.draft.ID); err != nil {
		return err
	}
	slog.InfoContext(ctx, "draft cart released", "cart_id", s.a.draft.ID, "reference", s.a.reference)
	return nil
}

// --- prepareCartStep ---

// prepareCartStep copies customer, shipping and payment data from the
// transaction onto the frozen cart and persists recomputed totals.
type prepareCartStep struct {
	r *Reconciler
	a *attempt
}

func (s *prepareCartStep) Name() string { return "prepare_cart" }

func (s *prepareCartStep) Execute(ctx context.Context) error {
	f, tx := s.a.frozen, s.a.tx

	if f.Customer.ID == 0 {
		f.Customer.IsGuest = true
		f.Customer.Email = firstNonEmpty(f.Customer.Email, tx.Consumer.Email)
		f.Customer.FirstName = firstNonEmpty(f.Customer.FirstName, tx.Consumer.FirstName)
		f.Customer.LastName = firstNonEmpty(f.Customer.LastName, tx.Consumer.LastName)
	}
	if tx.BillingAddress != nil {
		addr := *tx.BillingAddress
		f.BillingAddress = &addr
	}
	if s.r.paymentMethod != "" {
		f.PaymentMethod = s.r.paymentMethod
	}
	if err := s.r.applyShipment(ctx, f, tx); err != nil {
		return err
	}

	payload, err := s.r.builder.Build(ctx, totals.Cart{
		ID:        f.ID,
		DisplayID: f.DisplayID(),
		Contents:  f.CartContents,
		Admin:     s.a.admin,
	}, f.Items, totals.ModeFullTotals)
	if err != nil {
		return err
	}
	f.Totals = totals.PayloadTotals(payload)

	if err := s.r.carts.SaveFrozen(ctx, f); err != nil {
		return domain.ErrUpstream.Withf("save frozen cart %d", f.ID).Wrap(err)
	}
	return nil
}

func (s *prepareCartStep) Compensate(context.Context) error { return nil }

// --- reserveOrderStep ---

// reserveOrderStep makes sure the increment id is free. An order already
// holding it for the same transaction ends the attempt as a duplicate; one
// holding it for another transaction gets the draft a fresh id.
type reserveOrderStep struct {
	r *Reconciler
	a *attempt
}

func (s *reserveOrderStep) Name() string { return "reserve_order_id" }

func (s *reserveOrderStep) Execute(ctx context.Context) error {
	f, draft := s.a.frozen, s.a.draft
	incrementID := firstNonEmpty(f.ReservedOrderID, draft.ReservedOrderID)

	var existing *domain.Order
	if incrementID != "" {
		var err error
		existing, err = findOrder(func() (*domain.Order, error) {
			return s.r.orders.FindByIncrementID(ctx, incrementID)
		})
		if err != nil {
			return err
		}
	}

	switch {
	case existing != nil && existing.TransactionReference == s.a.reference:
		s.a.order = existing
		s.a.duplicate = true
		return errHalt
	case existing != nil || incrementID == "":
		fresh, err := s.r.carts.ReserveOrderID(ctx, draft.ID)
		if err != nil {
			return domain.ErrUpstream.Withf("reserve order id for cart %d", draft.ID).Wrap(err)
		}
		if existing != nil {
			slog.WarnContext(ctx, "increment id already taken, reserved a new one",
				"cart_id", draft.ID, "taken", incrementID, "reserved", fresh,
				"holder_reference", existing.TransactionReference)
		}
		draft.ReservedOrderID = fresh
		incrementID = fresh
	}

	if f.ReservedOrderID != incrementID {
		f.ReservedOrderID = incrementID
		if err := s.r.carts.SaveFrozen(ctx, f); err != nil {
			return domain.ErrUpstream.Withf("retarget frozen cart %d", f.ID).Wrap(err)
		}
	}
	return nil
}

func (s *reserveOrderStep) Compensate(context.Context) error { return nil }

// --- submitOrderStep ---

// submitOrderStep hands the frozen cart to the order submission service. It
// is never retried locally; a failure releases the draft through compensation.
type submitOrderStep struct {
	r *Reconciler
	a *attempt
}

func (s *submitOrderStep) Name() string { return "submit_order" }

func (s *submitOrderStep) Execute(ctx context.Context) error {
	order, err := s.r.submitter.SubmitOrder(ctx, domain.OrderSubmission{
		Cart:                 s.a.frozen,
		TransactionReference: s.a.reference,
		PaymentStatus:        initialStatus(s.a.tx),
	})
	if err != nil {
		var de *domain.Error
		if errors.As(err, &de) {
			return err
		}
		return domain.ErrUpstream.Withf("submit order for cart %d", s.a.frozen.ID).Wrap(err)
	}
	s.a.order = order
	return nil
}

func (s *submitOrderStep) Compensate(context.Context) error { return nil }

// storeErr maps a missing row to notFound and anything else to an upstream
// failure.
func storeErr(err error, notFound *domain.Error) error {
	if errors.Is(err, ports.ErrNotFound) {
		return notFound.Wrap(err)
	}
	return domain.ErrUpstream.Withf("%s", notFound.Message).Wrap(err)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
