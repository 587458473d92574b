package app

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jcmexdev/payment-reconciler/internal/reconciler/domain"
)

// ApplyStatusUpdate moves an existing order to incoming along the transition
// table. A rejected edge returns the unchanged order and a *TransitionError;
// callers acknowledge it to the sender. Documents are only created when the
// stored status actually changes.
func (r *Reconciler) ApplyStatusUpdate(ctx context.Context, orderID string, incoming domain.Status) (*domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "reconciler.ApplyStatusUpdate",
		trace.WithAttributes(attribute.String("order.id", orderID), attribute.String("status.incoming", string(incoming))))
	defer span.End()

	start := time.Now()
	order, outcome, err := r.applyStatusUpdate(ctx, orderID, incoming)
	r.metrics.ObserveMS("apply_status_update", float64(time.Since(start).Milliseconds()))
	r.metrics.Outcome("apply_status_update", outcome)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.CodeOf(err))
	}
	return order, err
}

func (r *Reconciler) applyStatusUpdate(ctx context.Context, orderID string, incoming domain.Status) (*domain.Order, string, error) {
	order, err := r.orders.GetOrder(ctx, orderID)
	if err != nil {
		return nil, domain.ErrOrderNotFound.Code, storeErr(err, domain.ErrOrderNotFound.Withf("order %s not found", orderID))
	}

	current := order.PaymentStatus
	next, err := domain.Transition(current, incoming)
	if err != nil {
		slog.InfoContext(ctx, "stale or out-of-order status ignored",
			"order_id", orderID, "current", current, "incoming", incoming)
		return order, "ignored", err
	}
	if next == current {
		return order, "unchanged", nil
	}

	ok, err := r.orders.CompareAndSetStatus(ctx, orderID, current, next)
	if err != nil {
		return order, domain.ErrUpstream.Code, domain.ErrUpstream.Withf("update status of order %s", orderID).Wrap(err)
	}
	if !ok {
		return order, domain.ErrAlreadyProcessing.Code,
			domain.ErrAlreadyProcessing.Withf("order %s changed status concurrently", orderID)
	}

	if err := r.statusSideEffect(ctx, order, next); err != nil {
		if _, rbErr := r.orders.CompareAndSetStatus(ctx, orderID, next, current); rbErr != nil {
			slog.ErrorContext(ctx, "status rollback failed",
				"order_id", orderID, "from", next, "to", current, "error", rbErr)
		}
		return order, domain.ErrUpstream.Code, domain.ErrUpstream.Withf("status side effect for order %s", orderID).Wrap(err)
	}

	order.PaymentStatus = next
	slog.InfoContext(ctx, "order status updated", "order_id", orderID, "from", current, "to", next)
	return order, "applied", nil
}

// statusSideEffect creates the financial document that goes with next.
func (r *Reconciler) statusSideEffect(ctx context.Context, order *domain.Order, next domain.Status) error {
	switch next {
	case domain.StatusCompleted:
		return r.orders.AddDocument(ctx, order.ID, domain.DocumentInvoice, order.Totals.Grand)
	case domain.StatusRefund:
		return r.orders.AddDocument(ctx, order.ID, domain.DocumentCreditMemo, order.Totals.Grand)
	default:
		return nil
	}
}
