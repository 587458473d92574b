// Package postgres implements the cart and order stores on PostgreSQL via
// pgx. It mirrors the SQLite store for deployments that run more than one
// reconciler process.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jcmexdev/payment-reconciler/internal/reconciler/domain"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/ports"
)

const incrementBase = 1000000000

const schema = `
CREATE TABLE IF NOT EXISTS carts (
    id                  BIGSERIAL PRIMARY KEY,
    kind                TEXT      NOT NULL CHECK (kind IN ('draft', 'frozen')),
    parent_cart_id      BIGINT,
    last_frozen_cart_id BIGINT,
    active              BOOLEAN   NOT NULL DEFAULT TRUE,
    reserved_order_id   TEXT      NOT NULL DEFAULT '',
    payment_method      TEXT      NOT NULL DEFAULT '',
    contents            JSONB     NOT NULL,
    totals              JSONB     NOT NULL DEFAULT '{}',
    updated_at          TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_carts_parent ON carts(parent_cart_id);

CREATE SEQUENCE IF NOT EXISTS order_increment_seq;

CREATE TABLE IF NOT EXISTS orders (
    id                    UUID        PRIMARY KEY,
    increment_id          TEXT        NOT NULL UNIQUE,
    frozen_cart_id        BIGINT      NOT NULL,
    transaction_reference TEXT        NOT NULL,
    payment_status        TEXT        NOT NULL,
    totals                JSONB       NOT NULL,
    currency              TEXT        NOT NULL DEFAULT '',
    note                  TEXT        NOT NULL DEFAULT '',
    created_at            TIMESTAMPTZ NOT NULL DEFAULT now(),
    updated_at            TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_orders_reference ON orders(transaction_reference);

CREATE TABLE IF NOT EXISTS order_documents (
    id         BIGSERIAL   PRIMARY KEY,
    order_id   UUID        NOT NULL REFERENCES orders(id),
    kind       TEXT        NOT NULL,
    amount     BIGINT      NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// ErrDuplicateIncrementID is returned by SubmitOrder when the reservation is
// already used by another order.
var ErrDuplicateIncrementID = errors.New("postgres: increment id already used")

// Store implements ports.CartStore, ports.OrderStore and ports.OrderSubmitter
// on a pgx pool. Locks and status changes are conditional UPDATEs, so several
// service instances can share one database.
type Store struct {
	pool *pgxpool.Pool
}

var (
	_ ports.CartStore      = (*Store)(nil)
	_ ports.OrderStore     = (*Store)(nil)
	_ ports.OrderSubmitter = (*Store)(nil)
)

// Open connects, pings and applies the schema.
func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: apply schema: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close closes the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Ping checks the database is reachable; the ops health service polls it.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) CreateDraft(ctx context.Context, contents domain.CartContents) (*domain.DraftCart, error) {
	raw, err := json.Marshal(contents)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode cart contents: %w", err)
	}
	var id int64
	err = s.pool.QueryRow(ctx,
		`INSERT INTO carts (kind, active, contents) VALUES ('draft', TRUE, $1) RETURNING id`, raw).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("postgres: create draft: %w", err)
	}
	return &domain.DraftCart{ID: domain.CartID(id), Active: true, CartContents: contents}, nil
}

// LoadDraft returns the draft cart id or ports.ErrNotFound.
func (s *Store) LoadDraft(ctx context.Context, id domain.CartID) (*domain.DraftCart, error) {
	var (
		d        domain.DraftCart
		cartID   int64
		lastLink *int64
		contents []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, active, reserved_order_id, last_frozen_cart_id, contents
		FROM   carts
		WHERE  id = $1 AND kind = 'draft'`, int64(id)).
		Scan(&cartID, &d.Active, &d.ReservedOrderID, &lastLink, &contents)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: draft cart %d: %w", id, ports.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load draft cart %d: %w", id, err)
	}
	d.ID = domain.CartID(cartID)
	if lastLink != nil {
		linked := domain.CartID(*lastLink)
		d.LastFrozenCartID = &linked
	}
	if err := json.Unmarshal(contents, &d.CartContents); err != nil {
		return nil, fmt.Errorf("postgres: decode draft cart %d: %w", id, err)
	}
	return &d, nil
}

// LoadFrozen returns the frozen cart id or ports.ErrNotFound.
func (s *Store) LoadFrozen(ctx context.Context, id domain.CartID) (*domain.FrozenCart, error) {
	var (
		f                domain.FrozenCart
		cartID, parent   int64
		totals, contents []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, COALESCE(parent_cart_id, 0), reserved_order_id, payment_method, totals, contents
		FROM   carts
		WHERE  id = $1 AND kind = 'frozen'`, int64(id)).
		Scan(&cartID, &parent, &f.ReservedOrderID, &f.PaymentMethod, &totals, &contents)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: frozen cart %d: %w", id, ports.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load frozen cart %d: %w", id, err)
	}
	f.ID, f.ParentCartID = domain.CartID(cartID), domain.CartID(parent)
	if err := json.Unmarshal(totals, &f.Totals); err != nil {
		return nil, fmt.Errorf("postgres: decode totals of cart %d: %w", id, err)
	}
	if err := json.Unmarshal(contents, &f.CartContents); err != nil {
		return nil, fmt.Errorf("postgres: decode frozen cart %d: %w", id, err)
	}
	return &f, nil
}

// SaveFrozen persists the frozen cart's customer, addresses, payment data and totals.
func (s *Store) SaveFrozen(ctx context.Context, cart *domain.FrozenCart) error {
	contents, err := json.Marshal(cart.CartContents)
	if err != nil {
		return fmt.Errorf("postgres: encode cart contents: %w", err)
	}
	totals, err := json.Marshal(cart.Totals)
	if err != nil {
		return fmt.Errorf("postgres: encode totals: %w", err)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE carts
		SET    reserved_order_id = $1, payment_method = $2, contents = $3, totals = $4, updated_at = now()
		WHERE  id = $5 AND kind = 'frozen'`,
		cart.ReservedOrderID, cart.PaymentMethod, contents, totals, int64(cart.ID))
	if err != nil {
		return fmt.Errorf("postgres: save frozen cart %d: %w", cart.ID, err)
	}
	return expectOne(tag, fmt.Sprintf("frozen cart %d", cart.ID))
}

// ClaimDraft relies on row-level locking of a single conditional UPDATE.
func (s *Store) ClaimDraft(ctx context.Context, id domain.CartID, force bool) (bool, error) {
	q := `UPDATE carts SET active = FALSE, updated_at = now() WHERE id = $1 AND kind = 'draft' AND active`
	if force {
		q = `UPDATE carts SET active = FALSE, updated_at = now() WHERE id = $1 AND kind = 'draft'`
	}
	tag, err := s.pool.Exec(ctx, q, int64(id))
	if err != nil {
		return false, fmt.Errorf("postgres: claim draft cart %d: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := s.LoadDraft(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// ReleaseDraft flips the draft back to active, freeing the creation lock.
func (s *Store) ReleaseDraft(ctx context.Context, id domain.CartID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE carts SET active = TRUE, updated_at = now() WHERE id = $1 AND kind = 'draft'`, int64(id))
	if err != nil {
		return fmt.Errorf("postgres: release draft cart %d: %w", id, err)
	}
	return expectOne(tag, fmt.Sprintf("draft cart %d", id))
}

// ReserveOrderID allocates the next increment id from a sequence and stores it on the draft.
func (s *Store) ReserveOrderID(ctx context.Context, id domain.CartID) (string, error) {
	var incrementID string
	err := s.pool.QueryRow(ctx, `
		UPDATE carts
		SET    reserved_order_id = ($1 + nextval('order_increment_seq'))::text, updated_at = now()
		WHERE  id = $2 AND kind = 'draft'
		RETURNING reserved_order_id`, int64(incrementBase), int64(id)).Scan(&incrementID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("postgres: draft cart %d: %w", id, ports.ErrNotFound)
	}
	if err != nil {
		return "", fmt.Errorf("postgres: reserve order id for cart %d: %w", id, err)
	}
	return incrementID, nil
}

// LinkFrozenCart records frozen as the latest snapshot of draft.
func (s *Store) LinkFrozenCart(ctx context.Context, draft, frozen domain.CartID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE carts SET last_frozen_cart_id = $1, updated_at = now() WHERE id = $2 AND kind = 'draft'`,
		int64(frozen), int64(draft))
	if err != nil {
		return fmt.Errorf("postgres: link cart %d to %d: %w", draft, frozen, err)
	}
	return expectOne(tag, fmt.Sprintf("draft cart %d", draft))
}

// LinkedCartID returns the parent of a frozen cart or the latest snapshot of
// a draft, 0 when a draft has none.
func (s *Store) LinkedCartID(ctx context.Context, id domain.CartID) (domain.CartID, error) {
	var linked int64
	err := s.pool.QueryRow(ctx, `
		SELECT CASE WHEN kind = 'frozen' THEN COALESCE(parent_cart_id, 0)
		            ELSE COALESCE(last_frozen_cart_id, 0) END
		FROM   carts
		WHERE  id = $1`, int64(id)).Scan(&linked)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("postgres: cart %d: %w", id, ports.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("postgres: linked cart of %d: %w", id, err)
	}
	return domain.CartID(linked), nil
}

// Freeze copies a draft into a new frozen cart carrying its reservation.
func (s *Store) Freeze(ctx context.Context, draftID domain.CartID) (*domain.FrozenCart, error) {
	draft, err := s.LoadDraft(ctx, draftID)
	if err != nil {
		return nil, err
	}
	contents, err := json.Marshal(draft.CartContents)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode cart contents: %w", err)
	}
	var id int64
	err = s.pool.QueryRow(ctx, `
		INSERT INTO carts (kind, parent_cart_id, active, reserved_order_id, contents)
		VALUES ('frozen', $1, FALSE, $2, $3)
		RETURNING id`, int64(draft.ID), draft.ReservedOrderID, contents).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("postgres: freeze cart %d: %w", draftID, err)
	}
	return &domain.FrozenCart{
		ID:              domain.CartID(id),
		ParentCartID:    draft.ID,
		ReservedOrderID: draft.ReservedOrderID,
		CartContents:    draft.CartContents,
	}, nil
}

// SubmitOrder inserts the order for the frozen cart. A reservation already
// used by another order fails with ErrDuplicateIncrementID.
func (s *Store) SubmitOrder(ctx context.Context, sub domain.OrderSubmission) (*domain.Order, error) {
	if sub.Cart == nil || sub.Cart.ReservedOrderID == "" {
		return nil, errors.New("postgres: submission without reserved order id")
	}
	order := &domain.Order{
		ID:                   uuid.NewString(),
		IncrementID:          sub.Cart.ReservedOrderID,
		FrozenCartID:         sub.Cart.ID,
		TransactionReference: sub.TransactionReference,
		PaymentStatus:        sub.PaymentStatus,
		Totals:               sub.Cart.Totals,
		Currency:             sub.Cart.Currency,
	}
	totals, err := json.Marshal(order.Totals)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode totals: %w", err)
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO orders (id, increment_id, frozen_cart_id, transaction_reference, payment_status, totals, currency)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`,
		order.ID, order.IncrementID, int64(order.FrozenCartID), order.TransactionReference,
		string(order.PaymentStatus), totals, order.Currency).Scan(&order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateIncrementID, order.IncrementID)
		}
		return nil, fmt.Errorf("postgres: insert order %s: %w", order.IncrementID, err)
	}
	return order, nil
}

const orderColumns = `id::text, increment_id, frozen_cart_id, transaction_reference, payment_status, totals, currency, note, created_at, updated_at`

// FindByIncrementID returns the order holding incrementID or ports.ErrNotFound.
func (s *Store) FindByIncrementID(ctx context.Context, incrementID string) (*domain.Order, error) {
	return s.queryOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE increment_id = $1`, incrementID)
}

// FindByTransactionReference returns the order paid by reference or ports.ErrNotFound.
func (s *Store) FindByTransactionReference(ctx context.Context, reference string) (*domain.Order, error) {
	return s.queryOrder(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE transaction_reference = $1 ORDER BY created_at DESC LIMIT 1`, reference)
}

// GetOrder returns the order id or ports.ErrNotFound.
func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("postgres: order %s: %w", id, ports.ErrNotFound)
	}
	return s.queryOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (s *Store) queryOrder(ctx context.Context, q string, arg any) (*domain.Order, error) {
	var (
		o      domain.Order
		status string
		frozen int64
		totals []byte
	)
	err := s.pool.QueryRow(ctx, q, arg).Scan(&o.ID, &o.IncrementID, &frozen, &o.TransactionReference,
		&status, &totals, &o.Currency, &o.Note, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("postgres: order %v: %w", arg, ports.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: load order %v: %w", arg, err)
	}
	o.PaymentStatus = domain.Status(status)
	o.FrozenCartID = domain.CartID(frozen)
	if err := json.Unmarshal(totals, &o.Totals); err != nil {
		return nil, fmt.Errorf("postgres: decode totals of order %s: %w", o.ID, err)
	}
	return &o, nil
}

// CompareAndSetStatus moves the order from current to next in a single
// conditional UPDATE. It reports false when the stored status was not current.
func (s *Store) CompareAndSetStatus(ctx context.Context, id string, current, next domain.Status) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, fmt.Errorf("postgres: order %s: %w", id, ports.ErrNotFound)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET payment_status = $1, updated_at = now() WHERE id = $2 AND payment_status = $3`,
		string(next), id, string(current))
	if err != nil {
		return false, fmt.Errorf("postgres: update status of order %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	if _, err := s.GetOrder(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// AddDocument records an invoice or credit memo for the order.
func (s *Store) AddDocument(ctx context.Context, orderID string, kind domain.DocumentKind, amount int64) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO order_documents (order_id, kind, amount) VALUES ($1, $2, $3)`,
		orderID, string(kind), amount)
	if err != nil {
		return fmt.Errorf("postgres: add %s to order %s: %w", kind, orderID, err)
	}
	return nil
}

// PatchTotals overwrites the order's totals and stores note explaining why.
func (s *Store) PatchTotals(ctx context.Context, orderID string, totals domain.Totals, note string) error {
	raw, err := json.Marshal(totals)
	if err != nil {
		return fmt.Errorf("postgres: encode totals: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE orders SET totals = $1, note = $2, updated_at = now() WHERE id = $3`, raw, note, orderID)
	if err != nil {
		return fmt.Errorf("postgres: patch totals of order %s: %w", orderID, err)
	}
	return expectOne(tag, "order "+orderID)
}

func expectOne(tag pgconn.CommandTag, what string) error {
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: %s: %w", what, ports.ErrNotFound)
	}
	return nil
}
