package httpx

import (
	"time"

	"github.com/jcmexdev/payment-reconciler/internal/reconciler/domain"
)

// TransactionNotification is the webhook body. Transaction is optional;
// when absent the reconciler fetches it from the provider.
type TransactionNotification struct {
	Reference   string              `json:"reference"`
	Status      string              `json:"status"`
	Transaction *TransactionPayload `json:"transaction,omitempty"`
}

// TransactionPayload mirrors domain.Transaction for webhooks that embed it.
type TransactionPayload struct {
	Status         string            `json:"status"`
	OrderReference string            `json:"order_reference"`
	DisplayID      string            `json:"display_id"`
	Processor      string            `json:"processor"`
	TotalAmount    int64             `json:"total_amount"`
	TaxAmount      int64             `json:"tax_amount"`
	Currency       string            `json:"currency"`
	Shipments      []ShipmentPayload `json:"shipments"`
	Consumer       domain.Consumer   `json:"consumer"`
	BillingAddress *domain.Address   `json:"billing_address,omitempty"`
}

type ShipmentPayload struct {
	Reference string          `json:"reference"`
	Service   string          `json:"service"`
	Cost      int64           `json:"cost"`
	TaxAmount int64           `json:"tax_amount"`
	Address   *domain.Address `json:"shipping_address,omitempty"`
}

// CheckoutCallback is posted by the browser after the provider redirects.
type CheckoutCallback struct {
	Reference     string `json:"reference"`
	SessionCartID int64  `json:"session_cart_id"`
}

type StatusUpdateRequest struct {
	Status string `json:"status"`
}

type EstimateRequest struct {
	ShippingAddress    *domain.Address `json:"shipping_address,omitempty"`
	DiscountedSubtotal *int64          `json:"discounted_subtotal,omitempty"`
}

type CheckoutRequest struct {
	// Mode is "subtotal_only" or "full_totals" (default).
	Mode  string `json:"mode"`
	Admin bool   `json:"admin"`
}

type CheckoutResponse struct {
	CartID    domain.CartID       `json:"cart_id"`
	DisplayID string              `json:"display_id"`
	Payload   *domain.CartPayload `json:"payload"`
}

type NotificationResponse struct {
	Status  string         `json:"status"`
	Applied bool           `json:"applied"`
	Created bool           `json:"created,omitempty"`
	Order   *OrderResponse `json:"order,omitempty"`
}

type OrderResponse struct {
	ID                   string        `json:"id"`
	IncrementID          string        `json:"increment_id"`
	FrozenCartID         domain.CartID `json:"frozen_cart_id"`
	TransactionReference string        `json:"transaction_reference"`
	PaymentStatus        string        `json:"payment_status"`
	Totals               domain.Totals `json:"totals"`
	Currency             string        `json:"currency,omitempty"`
	Note                 string        `json:"note,omitempty"`
	CreatedAt            string        `json:"created_at,omitempty"`
	UpdatedAt            string        `json:"updated_at,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (p *TransactionPayload) toDomain(reference string) (*domain.Transaction, error) {
	if p == nil {
		return nil, nil
	}
	status, err := domain.ParseStatus(p.Status)
	if err != nil {
		return nil, err
	}
	tx := &domain.Transaction{
		Reference:      reference,
		Status:         status,
		OrderReference: p.OrderReference,
		DisplayID:      p.DisplayID,
		Processor:      p.Processor,
		Cart: domain.TransactionCart{
			Total:    p.TotalAmount,
			Tax:      p.TaxAmount,
			Currency: p.Currency,
		},
		Consumer:       p.Consumer,
		BillingAddress: p.BillingAddress,
	}
	for _, s := range p.Shipments {
		tx.Cart.Shipments = append(tx.Cart.Shipments, domain.Shipment{
			Reference: s.Reference,
			Service:   s.Service,
			Cost:      s.Cost,
			Tax:       s.TaxAmount,
			Address:   s.Address,
		})
	}
	return tx, nil
}

func mapOrderToResponse(o *domain.Order) *OrderResponse {
	if o == nil {
		return nil
	}
	resp := &OrderResponse{
		ID:                   o.ID,
		IncrementID:          o.IncrementID,
		FrozenCartID:         o.FrozenCartID,
		TransactionReference: o.TransactionReference,
		PaymentStatus:        string(o.PaymentStatus),
		Totals:               o.Totals,
		Currency:             o.Currency,
		Note:                 o.Note,
	}
	if !o.CreatedAt.IsZero() {
		resp.CreatedAt = o.CreatedAt.UTC().Format(time.RFC3339)
	}
	if !o.UpdatedAt.IsZero() {
		resp.UpdatedAt = o.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return resp
}
