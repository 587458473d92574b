package estimate

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jcmexdev/payment-reconciler/internal/pkg/metrics"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/domain"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/ports"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/totals"
)

// ErrAddressRequired is returned when neither the request nor the address
// tier yields an address to estimate for.
var ErrAddressRequired = errors.New("estimate: shipping address required")

// Result is what the checkout widget receives.
type Result struct {
	Estimate
	Fingerprint string `json:"fingerprint"`
	Hit         bool   `json:"hit"`
	// Degraded is set when the engine failed and only address data is returned.
	Degraded bool `json:"degraded,omitempty"`
}

// Estimator answers shipping and tax estimate requests, caching results
// under the request fingerprint. A failing cache backend degrades to direct
// engine calls.
type Estimator struct {
	cache       *Cache
	engine      ports.TotalsEngine
	estimateTTL time.Duration
	addressTTL  time.Duration
	metrics     *metrics.Metrics
	tracer      trace.Tracer
}

// Option customises an Estimator.
type Option func(*Estimator)

// WithTTLs sets how long estimates and remembered addresses live. Non-positive values keep the defaults.
func WithTTLs(estimateTTL, addressTTL time.Duration) Option {
	return func(e *Estimator) {
		if estimateTTL > 0 {
			e.estimateTTL = estimateTTL
		}
		if addressTTL > 0 {
			e.addressTTL = addressTTL
		}
	}
}

// WithMetrics counts cache hits, misses and errors on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Estimator) { e.metrics = m }
}

// NewEstimator returns an Estimator over c and engine.
func NewEstimator(c *Cache, engine ports.TotalsEngine, opts ...Option) *Estimator {
	e := &Estimator{
		cache:       c,
		engine:      engine,
		estimateTTL: DefaultEstimateTTL,
		addressTTL:  DefaultAddressTTL,
		tracer:      otel.Tracer("github.com/jcmexdev/payment-reconciler/estimate"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RememberAddress stores a best-guess address (for example geo-derived) for
// the cart so the checkout form can be prefilled.
func (e *Estimator) RememberAddress(ctx context.Context, cartID domain.CartID, addr domain.Address) {
	e.cache.PutAddress(ctx, cartID, addr, e.addressTTL)
}

// Estimate returns shipping options and tax for the request's address. A
// cached estimate is reused only when the cart's cached address matches on
// country and postcode and the fingerprint is unchanged. Engine failures
// degrade to returning the fallback address.
func (e *Estimator) Estimate(ctx context.Context, req Request) (Result, error) {
	ctx, span := e.tracer.Start(ctx, "estimate.Estimate",
		trace.WithAttributes(attribute.Int64("cart.id", int64(req.CartID))))
	defer span.End()

	cached, haveCached := e.cache.GetAddress(ctx, req.CartID)
	if req.Contents.ShippingAddress == nil {
		if !haveCached {
			return Result{}, ErrAddressRequired
		}
		addr := cached
		req.Contents.ShippingAddress = &addr
	}
	addr := *req.Contents.ShippingAddress

	fp := Fingerprint(req)
	span.SetAttributes(attribute.String("estimate.fingerprint", fp))

	if haveCached && sameArea(cached, addr) {
		if est, ok := e.cache.Get(ctx, fp); ok {
			e.metrics.Cache("hit")
			span.SetAttributes(attribute.Bool("estimate.hit", true))
			return Result{Estimate: est, Fingerprint: fp, Hit: true}, nil
		}
	}

	est, err := e.compute(ctx, req)
	if err != nil {
		slog.ErrorContext(ctx, "estimate computation failed, returning address only",
			"cart_id", req.CartID, "fingerprint", fp, "error", err)
		e.metrics.Cache("degraded")
		span.RecordError(err)
		fallback := addr
		if haveCached {
			fallback = cached
		}
		return Result{Estimate: Estimate{Address: &fallback}, Fingerprint: fp, Degraded: true}, nil
	}

	e.cache.Put(ctx, fp, est, e.estimateTTL)
	e.cache.PutAddress(ctx, req.CartID, addr, e.addressTTL)
	e.metrics.Cache("miss")
	return Result{Estimate: est, Fingerprint: fp}, nil
}

func (e *Estimator) compute(ctx context.Context, req Request) (Estimate, error) {
	rates, err := e.engine.ShippingRates(ctx, req.CartID, req.Contents)
	if err != nil {
		return Estimate{}, err
	}
	engineTotals, err := e.engine.CollectTotals(ctx, req.CartID, req.Contents)
	if err != nil {
		return Estimate{}, err
	}

	addr := *req.Contents.ShippingAddress
	est := Estimate{
		ShippingOptions: make([]ShippingOption, 0, len(rates)),
		TaxAmount:       totals.ToMinor(engineTotals.Tax),
		Address:         &addr,
	}
	for _, r := range rates {
		est.ShippingOptions = append(est.ShippingOptions, ShippingOption{
			Service:   r.Label(),
			Reference: r.Code,
			Cost:      totals.ToMinor(r.Cost),
			TaxAmount: totals.ToMinor(r.Tax),
		})
	}
	return est, nil
}

func sameArea(a, b domain.Address) bool {
	return strings.EqualFold(strings.TrimSpace(a.Country), strings.TrimSpace(b.Country)) &&
		strings.EqualFold(strings.TrimSpace(a.Postcode), strings.TrimSpace(b.Postcode))
}
