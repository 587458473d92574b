// Package ports declares the collaborators the reconciler consumes. The
// reconciler depends on these abstractions only; adapters live under
// internal/reconciler/adapters.
package ports

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"github.com/jcmexdev/payment-reconciler/internal/reconciler/domain"
)

// ErrNotFound is wrapped by stores when a cart or order row does not exist.
var ErrNotFound = errors.New("not found")

// CartStore loads and saves draft and frozen carts.
type CartStore interface {
	LoadDraft(ctx context.Context, id domain.CartID) (*domain.DraftCart, error)
	LoadFrozen(ctx context.Context, id domain.CartID) (*domain.FrozenCart, error)
	SaveFrozen(ctx context.Context, cart *domain.FrozenCart) error

	// ClaimDraft atomically flips active from true to false. It reports
	// false when another request already holds the cart. force skips the
	// active check for administrative overrides.
	ClaimDraft(ctx context.Context, id domain.CartID, force bool) (bool, error)
	// ReleaseDraft sets active back to true.
	ReleaseDraft(ctx context.Context, id domain.CartID) error

	// ReserveOrderID issues a fresh increment id and stores it on the draft.
	ReserveOrderID(ctx context.Context, id domain.CartID) (string, error)
	// LinkFrozenCart records frozen as the cart that produced the draft's order.
	LinkFrozenCart(ctx context.Context, draft, frozen domain.CartID) error
	// LinkedCartID returns the parent of a frozen cart, or the last linked
	// frozen cart of a draft. It returns 0 when nothing is linked.
	LinkedCartID(ctx context.Context, id domain.CartID) (domain.CartID, error)
	// Freeze snapshots a draft into a new frozen cart.
	Freeze(ctx context.Context, draft domain.CartID) (*domain.FrozenCart, error)
}

// OrderStore reads and updates orders after submission.
type OrderStore interface {
	FindByIncrementID(ctx context.Context, incrementID string) (*domain.Order, error)
	FindByTransactionReference(ctx context.Context, reference string) (*domain.Order, error)
	GetOrder(ctx context.Context, id string) (*domain.Order, error)
	// CompareAndSetStatus stores next only if the order is still at current.
	CompareAndSetStatus(ctx context.Context, id string, current, next domain.Status) (bool, error)
	AddDocument(ctx context.Context, orderID string, kind domain.DocumentKind, amount int64) error
	PatchTotals(ctx context.Context, orderID string, totals domain.Totals, note string) error
}

// OrderSubmitter creates orders. It offers no idempotency of its own.
type OrderSubmitter interface {
	SubmitOrder(ctx context.Context, sub domain.OrderSubmission) (*domain.Order, error)
}

// TransactionFetcher loads a transaction from the payment provider.
type TransactionFetcher interface {
	FetchTransaction(ctx context.Context, reference string) (*domain.Transaction, error)
}

// EngineTotals is the tax/shipping engine's view of a cart.
type EngineTotals struct {
	Subtotal   decimal.Decimal
	GrandTotal decimal.Decimal
	Tax        decimal.Decimal
	Shipping   decimal.Decimal
	// Discounts is keyed by total code ("discount", "giftcardaccount", ...).
	// Values may be signed either way.
	Discounts map[string]decimal.Decimal
	// Labels holds display titles keyed by total code, "shipping" included.
	Labels map[string]string
	// Admin is the back-office totals block, set for admin-created carts.
	Admin *AdminTotals
}

type AdminTotals struct {
	GrandTotal decimal.Decimal
	Tax        decimal.Decimal
	Shipping   decimal.Decimal
}

// ShippingRate is one option computed by the engine.
type ShippingRate struct {
	Carrier string
	Method  string
	Code    string
	Cost    decimal.Decimal
	Tax     decimal.Decimal
}

// Label renders the "<carrier> - <method>" string providers echo back.
func (r ShippingRate) Label() string {
	return r.Carrier + " - " + r.Method
}

// TotalsEngine is the merchant's tax and shipping calculator.
type TotalsEngine interface {
	CollectTotals(ctx context.Context, cartID domain.CartID, contents domain.CartContents) (*EngineTotals, error)
	ShippingRates(ctx context.Context, cartID domain.CartID, contents domain.CartContents) ([]ShippingRate, error)
}

// BalanceSource returns a customer's balance in a store-credit style program.
type BalanceSource interface {
	Balance(ctx context.Context, customerID int64) (decimal.Decimal, error)
}

// OrderHooks receives side-effect notifications once an order is saved.
type OrderHooks interface {
	OrderSaved(ctx context.Context, order *domain.Order) error
	Notify(ctx context.Context, order *domain.Order, tx *domain.Transaction) error
}
