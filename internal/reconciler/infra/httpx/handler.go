package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/jcmexdev/payment-reconciler/internal/reconciler/app"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/domain"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/estimate"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/ports"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/totals"
)

// Reconciler is the part of app.Reconciler the handlers call.
type Reconciler interface {
	HandleNotification(ctx context.Context, n app.Notification) (app.Result, error)
	ApplyStatusUpdate(ctx context.Context, orderID string, incoming domain.Status) (*domain.Order, error)
}

// Estimator prices shipping and tax for a cart.
type Estimator interface {
	Estimate(ctx context.Context, req estimate.Request) (estimate.Result, error)
}

// Checkout freezes draft carts into provider payloads.
type Checkout interface {
	CreateOrderToken(ctx context.Context, draftID domain.CartID, mode totals.Mode, admin bool) (*app.Token, error)
}

// Handler serves provider webhooks, browser callbacks and the checkout
// widget's cart endpoints.
type Handler struct {
	reconciler Reconciler
	orders     ports.OrderStore
	carts      ports.CartStore
	estimator  Estimator
	checkout   Checkout
}

// NewHandler wires the handlers to their collaborators.
func NewHandler(rec Reconciler, orders ports.OrderStore, carts ports.CartStore, est Estimator, co Checkout) *Handler {
	return &Handler{
		reconciler: rec,
		orders:     orders,
		carts:      carts,
		estimator:  est,
		checkout:   co,
	}
}

// TransactionWebhook handles provider notifications. Stale transitions are
// acknowledged with 200 so the provider stops redelivering.
func (h *Handler) TransactionWebhook(w http.ResponseWriter, r *http.Request) {
	var req TransactionNotification
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}

	n := app.Notification{Reference: strings.TrimSpace(req.Reference)}
	if req.Status != "" {
		status, err := domain.ParseStatus(req.Status)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
			return
		}
		n.Status = status
	}
	tx, err := req.Transaction.toDomain(n.Reference)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
		return
	}
	n.Transaction = tx
	if n.Status == "" && tx != nil {
		n.Status = tx.Status
	}

	slog.InfoContext(r.Context(), "transaction notification", "reference", n.Reference, "status", n.Status)
	h.notify(w, r, n)
}

// CheckoutCallback handles the browser returning from the provider. The
// session cart guards against a shopper completing someone else's cart.
func (h *Handler) CheckoutCallback(w http.ResponseWriter, r *http.Request) {
	var req CheckoutCallback
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	n := app.Notification{Reference: strings.TrimSpace(req.Reference)}
	if req.SessionCartID != 0 {
		id := domain.CartID(req.SessionCartID)
		n.SessionCartID = &id
	}
	h.notify(w, r, n)
}

func (h *Handler) notify(w http.ResponseWriter, r *http.Request, n app.Notification) {
	res, err := h.reconciler.HandleNotification(r.Context(), n)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	status := http.StatusOK
	if res.Created {
		status = http.StatusCreated
	}
	writeJSON(w, status, NotificationResponse{
		Status:  "acknowledged",
		Applied: res.Applied,
		Created: res.Created,
		Order:   mapOrderToResponse(res.Order),
	})
}

// UpdateStatus applies a back-office status change to an order.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	var req StatusUpdateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
		return
	}
	status, err := domain.ParseStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_status", err.Error())
		return
	}

	order, err := h.reconciler.ApplyStatusUpdate(r.Context(), orderID, status)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, NotificationResponse{
		Status:  "acknowledged",
		Applied: true,
		Order:   mapOrderToResponse(order),
	})
}

// GetOrderByID returns an order by id, 404 when unknown.
func (h *Handler) GetOrderByID(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	order, err := h.orders.GetOrder(r.Context(), orderID)
	if errors.Is(err, ports.ErrNotFound) {
		writeError(w, http.StatusNotFound, domain.ErrOrderNotFound.Code, orderID)
		return
	}
	if err != nil {
		writeDomainError(r.Context(), w, domain.ErrUpstream.Wrap(err))
		return
	}
	writeJSON(w, http.StatusOK, mapOrderToResponse(order))
}

// Estimate returns shipping options and tax for a draft cart. The body may
// override the cart's shipping address.
func (h *Handler) Estimate(w http.ResponseWriter, r *http.Request) {
	cartID, ok := cartIDParam(w, r)
	if !ok {
		return
	}
	var req EstimateRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
			return
		}
	}

	draft, err := h.carts.LoadDraft(r.Context(), cartID)
	if errors.Is(err, ports.ErrNotFound) {
		writeError(w, http.StatusNotFound, domain.ErrMissingCart.Code, cartID.String())
		return
	}
	if err != nil {
		writeDomainError(r.Context(), w, domain.ErrUpstream.Wrap(err))
		return
	}

	contents := draft.CartContents
	if req.ShippingAddress != nil {
		contents.ShippingAddress = req.ShippingAddress
	}
	subtotal := itemsSubtotal(contents.Items)
	if req.DiscountedSubtotal != nil {
		subtotal = *req.DiscountedSubtotal
	}

	res, err := h.estimator.Estimate(r.Context(), estimate.Request{
		CartID:             cartID,
		DiscountedSubtotal: subtotal,
		Contents:           contents,
	})
	if errors.Is(err, estimate.ErrAddressRequired) {
		writeError(w, http.StatusUnprocessableEntity, "address_required", err.Error())
		return
	}
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// CreateCheckout freezes a draft cart and returns the provider payload.
func (h *Handler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	cartID, ok := cartIDParam(w, r)
	if !ok {
		return
	}
	var req CheckoutRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_json", err.Error())
			return
		}
	}
	mode := totals.ModeFullTotals
	switch req.Mode {
	case "", "full_totals":
	case "subtotal_only":
		mode = totals.ModeSubtotalOnly
	default:
		writeError(w, http.StatusBadRequest, "invalid_mode", req.Mode)
		return
	}

	token, err := h.checkout.CreateOrderToken(r.Context(), cartID, mode, req.Admin)
	if err != nil {
		writeDomainError(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CheckoutResponse{
		CartID:    token.Cart.ID,
		DisplayID: token.Cart.DisplayID(),
		Payload:   token.Payload,
	})
}

func cartIDParam(w http.ResponseWriter, r *http.Request) (domain.CartID, bool) {
	id, err := domain.ParseCartID(chi.URLParam(r, "id"))
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_cart_id", chi.URLParam(r, "id"))
		return 0, false
	}
	return id, true
}

func itemsSubtotal(items []domain.LineItem) int64 {
	sum := decimal.Zero
	for _, it := range items {
		if it.Visible {
			sum = sum.Add(it.UnitPrice.Mul(decimal.NewFromInt(it.Quantity)))
		}
	}
	return totals.ToMinor(sum)
}
