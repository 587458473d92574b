// Package app turns payment provider notifications into merchant orders.
//
// Order creation is guarded by the draft cart's active flag: the request that
// flips it to false owns the attempt, every other concurrent request backs off
// with ErrAlreadyProcessing or, when the order already exists for the same
// transaction, returns that order.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jcmexdev/payment-reconciler/internal/pkg/metrics"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/domain"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/ports"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/reconlog"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/totals"
)

// Defaults applied by New when the matching option is not given.
const (
	DefaultFetchAttempts       = 3
	DefaultPriceFaultTolerance = 1
)

// Deps are the collaborators a Reconciler needs. Hooks and Log are optional.
type Deps struct {
	Carts     ports.CartStore
	Orders    ports.OrderStore
	Submitter ports.OrderSubmitter
	Fetcher   ports.TransactionFetcher
	Engine    ports.TotalsEngine
	Builder   *totals.Builder
	Hooks     ports.OrderHooks
	Log       reconlog.Repository
}

// Reconciler creates orders from provider transactions and keeps their
// payment status in step with later notifications. It is safe for concurrent
// use; the draft cart lock serialises attempts on the same cart.
type Reconciler struct {
	carts     ports.CartStore
	orders    ports.OrderStore
	submitter ports.OrderSubmitter
	fetcher   ports.TransactionFetcher
	engine    ports.TotalsEngine
	builder   *totals.Builder
	hooks     ports.OrderHooks
	log       reconlog.Repository

	paymentMethod string
	fetchAttempts uint
	fetchBackOff  func() backoff.BackOff
	tolerance     int64
	metrics       *metrics.Metrics
	tracer        trace.Tracer
}

// Option customises a Reconciler built by New.
type Option func(*Reconciler)

// WithPaymentMethod sets the payment method code stamped on frozen carts.
func WithPaymentMethod(code string) Option {
	return func(r *Reconciler) { r.paymentMethod = code }
}

// WithFetchAttempts bounds how many times a transaction fetch is tried before
// giving up with ErrUpstream. Zero keeps the default.
func WithFetchAttempts(n uint) Option {
	return func(r *Reconciler) {
		if n > 0 {
			r.fetchAttempts = n
		}
	}
}

// WithFetchBackOff replaces the delay policy between transaction fetch attempts.
func WithFetchBackOff(newBackOff func() backoff.BackOff) Option {
	return func(r *Reconciler) { r.fetchBackOff = newBackOff }
}

// WithPriceFaultTolerance sets how many minor units a submitted order may
// differ from the transaction before its totals are patched.
func WithPriceFaultTolerance(minor int64) Option {
	return func(r *Reconciler) { r.tolerance = minor }
}

// WithMetrics records operation outcomes and latencies on m. It is also
// handed to the default totals builder.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Reconciler) { r.metrics = m }
}

// New builds a Reconciler from deps. When deps.Builder is nil a builder over
// deps.Engine with the default exact-half correction is used.
//
// The transaction fetch retries with exponential backoff starting at 200ms,
// DefaultFetchAttempts times, unless overridden by options.
func New(deps Deps, opts ...Option) *Reconciler {
	r := &Reconciler{
		carts:         deps.Carts,
		orders:        deps.Orders,
		submitter:     deps.Submitter,
		fetcher:       deps.Fetcher,
		engine:        deps.Engine,
		builder:       deps.Builder,
		hooks:         deps.Hooks,
		log:           deps.Log,
		fetchAttempts: DefaultFetchAttempts,
		fetchBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			return b
		},
		tolerance: DefaultPriceFaultTolerance,
		tracer:    otel.Tracer("github.com/jcmexdev/payment-reconciler/app"),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.builder == nil {
		r.builder = totals.NewBuilder(deps.Engine, totals.Options{Correction: totals.DefaultCorrection(), Metrics: r.metrics})
	}
	return r
}

type createOptions struct {
	admin bool
}

// CreateOption customises a single CreateOrder call.
type CreateOption func(*createOptions)

// AsAdmin marks a back-office submission: the draft lock is taken even when
// the cart is already inactive, and admin totals are used when no shipping
// rate exists.
func AsAdmin() CreateOption {
	return func(o *createOptions) { o.admin = true }
}

// attempt is the state shared by the steps of one CreateOrder call.
type attempt struct {
	reference     string
	sessionCartID *domain.CartID
	admin         bool

	tx     *domain.Transaction
	frozen *domain.FrozenCart
	draft  *domain.DraftCart
	order  *domain.Order
	// duplicate is set when an order for this transaction already existed.
	duplicate bool
}

// CreateOrder converts a provider transaction into exactly one order. tx may
// be nil, in which case it is fetched with bounded retry. sessionCartID is set
// when the call originates from the shopper's browser session.
func (r *Reconciler) CreateOrder(ctx context.Context, reference string, sessionCartID *domain.CartID, tx *domain.Transaction, opts ...CreateOption) (*domain.Order, error) {
	ctx, span := r.tracer.Start(ctx, "reconciler.CreateOrder",
		trace.WithAttributes(attribute.String("transaction.reference", reference)))
	defer span.End()

	start := time.Now()
	order, outcome, err := r.createOrder(ctx, reference, sessionCartID, tx, opts)
	r.metrics.ObserveMS("create_order", float64(time.Since(start).Milliseconds()))
	r.metrics.Outcome("create_order", outcome)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, domain.CodeOf(err))
		return nil, err
	}
	span.SetAttributes(attribute.String("order.increment_id", order.IncrementID), attribute.String("outcome", outcome))
	return order, nil
}

func (r *Reconciler) createOrder(ctx context.Context, reference string, sessionCartID *domain.CartID, tx *domain.Transaction, opts []CreateOption) (*domain.Order, string, error) {
	if strings.TrimSpace(reference) == "" {
		return nil, domain.ErrEmptyReference.Code, domain.ErrEmptyReference
	}
	var co createOptions
	for _, opt := range opts {
		opt(&co)
	}

	if tx == nil {
		fetched, err := r.fetchTransaction(ctx, reference)
		if err != nil {
			return nil, domain.CodeOf(err), err
		}
		tx = fetched
	}

	a := &attempt{reference: reference, sessionCartID: sessionCartID, admin: co.admin, tx: tx}
	payload, _ := json.Marshal(map[string]any{
		"reference":       reference,
		"display_id":      tx.DisplayID,
		"order_reference": tx.OrderReference,
		"session_cart_id": sessionCartID,
		"admin":           co.admin,
	})

	saga := NewOrchestrator(r.log, uuid.NewString(), reference,
		&resolveCartStep{r: r, a: a},
		&claimDraftStep{r: r, a: a},
		&prepareCartStep{r: r, a: a},
		&reserveOrderStep{r: r, a: a},
		&submitOrderStep{r: r, a: a},
	)
	if err := saga.Start(ctx, string(payload)); err != nil {
		slog.WarnContext(ctx, "order creation failed",
			"reference", reference, "code", domain.CodeOf(err), "retryable", domain.Retryable(err), "error", err)
		return nil, domain.CodeOf(err), err
	}

	if a.duplicate {
		slog.InfoContext(ctx, "duplicate delivery, returning existing order",
			"reference", reference, "order_id", a.order.ID, "increment_id", a.order.IncrementID)
		return a.order, "duplicate", nil
	}

	r.afterSubmit(ctx, a)
	slog.InfoContext(ctx, "order created",
		"reference", reference, "order_id", a.order.ID, "increment_id", a.order.IncrementID,
		"cart_id", a.frozen.ID, "status", a.order.PaymentStatus)
	return a.order, "created", nil
}

// fetchTransaction retries upstream failures up to fetchAttempts times.
// Permanent errors stop immediately.
func (r *Reconciler) fetchTransaction(ctx context.Context, reference string) (*domain.Transaction, error) {
	if r.fetcher == nil {
		return nil, domain.ErrUpstream.Withf("no transaction fetcher configured")
	}
	tx, err := backoff.Retry(ctx, func() (*domain.Transaction, error) {
		tx, err := r.fetcher.FetchTransaction(ctx, reference)
		if err != nil && domain.KindOf(err) == domain.KindPermanent {
			return nil, backoff.Permanent(err)
		}
		return tx, err
	}, backoff.WithBackOff(r.fetchBackOff()), backoff.WithMaxTries(r.fetchAttempts))
	if err != nil {
		if domain.KindOf(err) == domain.KindPermanent {
			return nil, err
		}
		return nil, domain.ErrUpstream.Withf("fetch transaction %s", reference).Wrap(err)
	}
	return tx, nil
}

// afterSubmit runs once the order exists. Nothing here may release the draft
// lock; failures are logged and left for reconciliation by hand.
func (r *Reconciler) afterSubmit(ctx context.Context, a *attempt) {
	r.validateTotals(ctx, a)

	if a.order.PaymentStatus == domain.StatusCompleted {
		if err := r.orders.AddDocument(ctx, a.order.ID, domain.DocumentInvoice, a.order.Totals.Grand); err != nil {
			slog.ErrorContext(ctx, "initial capture invoice failed",
				"order_id", a.order.ID, "error", err)
		}
	}

	if err := r.carts.LinkFrozenCart(ctx, a.draft.ID, a.frozen.ID); err != nil {
		slog.ErrorContext(ctx, "link frozen cart failed",
			"cart_id", a.draft.ID, "frozen_cart_id", a.frozen.ID, "error", err)
	}

	if r.hooks == nil {
		return
	}
	if err := r.hooks.OrderSaved(ctx, a.order); err != nil {
		slog.WarnContext(ctx, "order saved hook failed", "order_id", a.order.ID, "error", err)
	}
	if err := r.hooks.Notify(ctx, a.order, a.tx); err != nil {
		slog.WarnContext(ctx, "notification hook failed", "order_id", a.order.ID, "error", err)
	}
}

// validateTotals patches the order to the transaction's grand total and tax
// when they diverge by more than the tolerance.
func (r *Reconciler) validateTotals(ctx context.Context, a *attempt) {
	order, tx := a.order, a.tx
	if tx.Cart.Total == 0 {
		return
	}
	grandDiff := absDiff(order.Totals.Grand, tx.Cart.Total)
	taxDiff := absDiff(order.Totals.Tax, tx.Cart.Tax)
	if grandDiff <= r.tolerance && taxDiff <= r.tolerance {
		return
	}

	patched := order.Totals
	patched.Grand = tx.Cart.Total
	patched.Tax = tx.Cart.Tax
	note := fmt.Sprintf("totals adjusted to transaction %s: grand %d -> %d, tax %d -> %d",
		tx.Reference, order.Totals.Grand, patched.Grand, order.Totals.Tax, patched.Tax)

	if err := r.orders.PatchTotals(ctx, order.ID, patched, note); err != nil {
		slog.ErrorContext(ctx, "order totals diverge from transaction and could not be patched",
			"order_id", order.ID, "order_grand", order.Totals.Grand, "transaction_total", tx.Cart.Total, "error", err)
		return
	}
	slog.WarnContext(ctx, "order totals patched to match transaction",
		"order_id", order.ID, "order_grand", order.Totals.Grand, "transaction_total", tx.Cart.Total,
		"order_tax", order.Totals.Tax, "transaction_tax", tx.Cart.Tax)
	r.metrics.Correction("order_patched")
	order.Totals = patched
	order.Note = note
}

// findOrder looks up an order and maps a missing row to nil.
func findOrder(find func() (*domain.Order, error)) (*domain.Order, error) {
	order, err := find()
	if errors.Is(err, ports.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, domain.ErrUpstream.Withf("look up order").Wrap(err)
	}
	return order, nil
}

// existingOrder returns the order already created for reference, by increment
// id first and by stored transaction reference second.
func (r *Reconciler) existingOrder(ctx context.Context, incrementID, reference string) (*domain.Order, error) {
	if incrementID != "" {
		order, err := findOrder(func() (*domain.Order, error) {
			return r.orders.FindByIncrementID(ctx, incrementID)
		})
		if err != nil {
			return nil, err
		}
		if order != nil && order.TransactionReference == reference {
			return order, nil
		}
	}
	return findOrder(func() (*domain.Order, error) {
		return r.orders.FindByTransactionReference(ctx, reference)
	})
}

func initialStatus(tx *domain.Transaction) domain.Status {
	if tx.Status == "" || tx.Status == domain.StatusNoNewState {
		return domain.StatusPending
	}
	return tx.Status
}

func absDiff(a, b int64) int64 {
	if a > b {
		return a - b
	}
	return b - a
}
