package kafka

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jcmexdev/payment-reconciler/internal/reconciler/domain"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/ports"
)

// Event types carried in OrderEvent.Type.
const (
	EventOrderSaved   = "order.saved"
	EventNotification = "order.notification"
)

// OrderEvent is the message body on both topics.
type OrderEvent struct {
	EventID       string    `json:"event_id"`
	Type          string    `json:"type"`
	OrderID       string    `json:"order_id"`
	IncrementID   string    `json:"increment_id"`
	Reference     string    `json:"transaction_reference"`
	PaymentStatus string    `json:"payment_status"`
	GrandTotal    int64     `json:"grand_total"`
	Currency      string    `json:"currency,omitempty"`
	CustomerEmail string    `json:"customer_email,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

var (
	_ ports.OrderHooks = (*Hooks)(nil)
	_ ports.OrderHooks = LogHooks{}
)

// Hooks publishes order-saved and notification events.
type Hooks struct {
	saved  Writer
	notify Writer
	now    func() time.Time
}

// NewHooks publishes order-saved events on saved and notifications on notify.
func NewHooks(saved, notify Writer) *Hooks {
	return &Hooks{saved: saved, notify: notify, now: time.Now}
}

// NewHooksFromClient returns Kafka-backed hooks, or LogHooks when no broker
// is configured.
func NewHooksFromClient(c *Client, savedTopic, notifyTopic string) ports.OrderHooks {
	if !c.Enabled() {
		return LogHooks{}
	}
	return NewHooks(c.NewWriter(savedTopic), c.NewWriter(notifyTopic))
}

// OrderSaved publishes an order.saved event keyed by the increment id.
func (h *Hooks) OrderSaved(ctx context.Context, order *domain.Order) error {
	evt := h.event(EventOrderSaved, order)
	if err := PublishJSON(ctx, h.saved, order.IncrementID, evt); err != nil {
		return fmt.Errorf("publish %s for %s: %w", EventOrderSaved, order.IncrementID, err)
	}
	return nil
}

// Notify publishes an order.notification event for mailers. The customer
// email comes from the transaction's consumer.
func (h *Hooks) Notify(ctx context.Context, order *domain.Order, tx *domain.Transaction) error {
	evt := h.event(EventNotification, order)
	if tx != nil {
		evt.CustomerEmail = tx.Consumer.Email
	}
	if err := PublishJSON(ctx, h.notify, order.IncrementID, evt); err != nil {
		return fmt.Errorf("publish %s for %s: %w", EventNotification, order.IncrementID, err)
	}
	return nil
}

// Close closes both writers.
func (h *Hooks) Close() error {
	return errors.Join(h.saved.Close(), h.notify.Close())
}

func (h *Hooks) event(kind string, order *domain.Order) OrderEvent {
	return OrderEvent{
		EventID:       uuid.NewString(),
		Type:          kind,
		OrderID:       order.ID,
		IncrementID:   order.IncrementID,
		Reference:     order.TransactionReference,
		PaymentStatus: string(order.PaymentStatus),
		GrandTotal:    order.Totals.Grand,
		Currency:      order.Currency,
		OccurredAt:    h.now().UTC(),
	}
}

// LogHooks only logs. Used when Kafka is not configured.
type LogHooks struct{}

func (LogHooks) OrderSaved(ctx context.Context, order *domain.Order) error {
	slog.InfoContext(ctx, "order saved", "order_id", order.ID, "increment_id", order.IncrementID)
	return nil
}

func (LogHooks) Notify(ctx context.Context, order *domain.Order, _ *domain.Transaction) error {
	slog.InfoContext(ctx, "order notification", "order_id", order.ID, "increment_id", order.IncrementID,
		"status", order.PaymentStatus)
	return nil
}
