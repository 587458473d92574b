package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/jcmexdev/payment-reconciler/internal/reconciler/domain"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/ports"

	// pure-Go driver, no CGO
	_ "modernc.org/sqlite"
)

const incrementBase = 1000000000

const timeLayout = "2006-01-02T15:04:05.999999999Z"

// Store implements ports.CartStore, ports.OrderStore and ports.OrderSubmitter.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var (
	_ ports.CartStore      = (*Store)(nil)
	_ ports.OrderStore     = (*Store)(nil)
	_ ports.OrderSubmitter = (*Store)(nil)
)

// Open opens (or creates) the database at path with WAL enabled and applies
// the schema.
func Open(path string) (*Store, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(on)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %q: %w", path, err)
	}
	// single writer; the conditional UPDATEs below rely on it being serialised
	db.SetMaxOpenConns(1)

	s, err := New(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// New applies the schema to an already open handle. Callers that open the
// handle themselves must keep it to a single connection.
func New(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("sqlite: apply schema: %w", err)
	}
	return &Store{db: db, now: time.Now}, nil
}

// DB exposes the handle so the reconciliation log can share the file.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping checks the database is reachable; the ops health service polls it.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the underlying handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) stamp() string {
	return s.now().UTC().Format(timeLayout)
}

// CreateDraft inserts a new active draft cart.
func (s *Store) CreateDraft(ctx context.Context, contents domain.CartContents) (*domain.DraftCart, error) {
	raw, err := json.Marshal(contents)
	if err != nil {
		return nil, fmt.Errorf("sqlite: encode cart contents: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO carts (kind, active, contents, updated_at) VALUES ('draft', 1, ?, ?)`,
		string(raw), s.stamp())
	if err != nil {
		return nil, fmt.Errorf("sqlite: create draft: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("sqlite: create draft: %w", err)
	}
	return &domain.DraftCart{ID: domain.CartID(id), Active: true, CartContents: contents}, nil
}

// LoadDraft returns the draft cart id or ports.ErrNotFound.
func (s *Store) LoadDraft(ctx context.Context, id domain.CartID) (*domain.DraftCart, error) {
	const q = `
		SELECT id, active, reserved_order_id, last_frozen_cart_id, contents
		FROM   carts
		WHERE  id = ? AND kind = 'draft'`

	var (
		d        domain.DraftCart
		active   int
		lastLink sql.NullInt64
		contents string
	)
	err := s.db.QueryRowContext(ctx, q, int64(id)).Scan(&d.ID, &active, &d.ReservedOrderID, &lastLink, &contents)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite: draft cart %d: %w", id, ports.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: load draft cart %d: %w", id, err)
	}
	d.Active = active == 1
	if lastLink.Valid {
		linked := domain.CartID(lastLink.Int64)
		d.LastFrozenCartID = &linked
	}
	if err := json.Unmarshal([]byte(contents), &d.CartContents); err != nil {
		return nil, fmt.Errorf("sqlite: decode draft cart %d: %w", id, err)
	}
	return &d, nil
}

// LoadFrozen returns the frozen cart id or ports.ErrNotFound.
func (s *Store) LoadFrozen(ctx context.Context, id domain.CartID) (*domain.FrozenCart, error) {
	const q = `
		SELECT id, COALESCE(parent_cart_id, 0), reserved_order_id, payment_method, totals, contents
		FROM   carts
		WHERE  id = ? AND kind = 'frozen'`

	var (
		f                domain.FrozenCart
		totals, contents string
	)
	err := s.db.QueryRowContext(ctx, q, int64(id)).Scan(&f.ID, &f.ParentCartID, &f.ReservedOrderID, &f.PaymentMethod, &totals, &contents)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite: frozen cart %d: %w", id, ports.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: load frozen cart %d: %w", id, err)
	}
	if err := json.Unmarshal([]byte(totals), &f.Totals); err != nil {
		return nil, fmt.Errorf("sqlite: decode totals of cart %d: %w", id, err)
	}
	if err := json.Unmarshal([]byte(contents), &f.CartContents); err != nil {
		return nil, fmt.Errorf("sqlite: decode frozen cart %d: %w", id, err)
	}
	return &f, nil
}

// SaveFrozen persists the frozen cart's customer, addresses, payment data and totals.
func (s *Store) SaveFrozen(ctx context.Context, cart *domain.FrozenCart) error {
	contents, err := json.Marshal(cart.CartContents)
	if err != nil {
		return fmt.Errorf("sqlite: encode cart contents: %w", err)
	}
	totals, err := json.Marshal(cart.Totals)
	if err != nil {
		return fmt.Errorf("sqlite: encode totals: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE carts
		SET    reserved_order_id = ?, payment_method = ?, contents = ?, totals = ?, updated_at = ?
		WHERE  id = ? AND kind = 'frozen'`,
		cart.ReservedOrderID, cart.PaymentMethod, string(contents), string(totals), s.stamp(), int64(cart.ID))
	if err != nil {
		return fmt.Errorf("sqlite: save frozen cart %d: %w", cart.ID, err)
	}
	return expectOne(res, fmt.Sprintf("frozen cart %d", cart.ID))
}

// ClaimDraft is a single conditional UPDATE; whichever request commits first
// sees one affected row.
func (s *Store) ClaimDraft(ctx context.Context, id domain.CartID, force bool) (bool, error) {
	q := `UPDATE carts SET active = 0, updated_at = ? WHERE id = ? AND kind = 'draft' AND active = 1`
	if force {
		q = `UPDATE carts SET active = 0, updated_at = ? WHERE id = ? AND kind = 'draft'`
	}
	res, err := s.db.ExecContext(ctx, q, s.stamp(), int64(id))
	if err != nil {
		return false, fmt.Errorf("sqlite: claim draft cart %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: claim draft cart %d: %w", id, err)
	}
	if n == 1 {
		return true, nil
	}
	if _, err := s.LoadDraft(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// ReleaseDraft flips the draft back to active, freeing the creation lock.
func (s *Store) ReleaseDraft(ctx context.Context, id domain.CartID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE carts SET active = 1, updated_at = ? WHERE id = ? AND kind = 'draft'`, s.stamp(), int64(id))
	if err != nil {
		return fmt.Errorf("sqlite: release draft cart %d: %w", id, err)
	}
	return expectOne(res, fmt.Sprintf("draft cart %d", id))
}

// ReserveOrderID allocates the next increment id and stores it on the draft.
func (s *Store) ReserveOrderID(ctx context.Context, id domain.CartID) (string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `INSERT INTO order_sequence (cart_id) VALUES (?)`, int64(id))
	if err != nil {
		return "", fmt.Errorf("sqlite: next increment id: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return "", fmt.Errorf("sqlite: next increment id: %w", err)
	}
	incrementID := strconv.FormatInt(incrementBase+seq, 10)

	res, err = tx.ExecContext(ctx,
		`UPDATE carts SET reserved_order_id = ?, updated_at = ? WHERE id = ? AND kind = 'draft'`,
		incrementID, s.stamp(), int64(id))
	if err != nil {
		return "", fmt.Errorf("sqlite: reserve order id for cart %d: %w", id, err)
	}
	if err := expectOne(res, fmt.Sprintf("draft cart %d", id)); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("sqlite: commit: %w", err)
	}
	return incrementID, nil
}

// LinkFrozenCart records frozen as the latest snapshot of draft.
func (s *Store) LinkFrozenCart(ctx context.Context, draft, frozen domain.CartID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE carts SET last_frozen_cart_id = ?, updated_at = ? WHERE id = ? AND kind = 'draft'`,
		int64(frozen), s.stamp(), int64(draft))
	if err != nil {
		return fmt.Errorf("sqlite: link cart %d to %d: %w", draft, frozen, err)
	}
	return expectOne(res, fmt.Sprintf("draft cart %d", draft))
}

// LinkedCartID returns the parent of a frozen cart or the latest snapshot of
// a draft, 0 when a draft has none.
func (s *Store) LinkedCartID(ctx context.Context, id domain.CartID) (domain.CartID, error) {
	var (
		kind           string
		parent, linked sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT kind, parent_cart_id, last_frozen_cart_id FROM carts WHERE id = ?`, int64(id)).
		Scan(&kind, &parent, &linked)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("sqlite: cart %d: %w", id, ports.ErrNotFound)
	}
	if err != nil {
		return 0, fmt.Errorf("sqlite: linked cart of %d: %w", id, err)
	}
	if kind == "frozen" {
		return domain.CartID(parent.Int64), nil
	}
	return domain.CartID(linked.Int64), nil
}

// Freeze copies a draft into a new frozen cart carrying its reservation.
func (s *Store) Freeze(ctx context.Context, draftID domain.CartID) (*domain.FrozenCart, error) {
	draft, err := s.LoadDraft(ctx, draftID)
	if err != nil {
		return nil, err
	}
	contents, err := json.Marshal(draft.CartContents)
	if err != nil {
		return nil, fmt.Errorf("sqlite: encode cart contents: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO carts (kind, parent_cart_id, active, reserved_order_id, contents, updated_at)
		VALUES ('frozen', ?, 0, ?, ?, ?)`,
		int64(draft.ID), draft.ReservedOrderID, string(contents), s.stamp())
	if err != nil {
		return nil, fmt.Errorf("sqlite: freeze cart %d: %w", draftID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("sqlite: freeze cart %d: %w", draftID, err)
	}
	return &domain.FrozenCart{
		ID:              domain.CartID(id),
		ParentCartID:    draft.ID,
		ReservedOrderID: draft.ReservedOrderID,
		CartContents:    draft.CartContents,
	}, nil
}

// SubmitOrder persists the order locally. The UNIQUE increment_id makes a
// second submission for the same reservation fail instead of duplicating.
func (s *Store) SubmitOrder(ctx context.Context, sub domain.OrderSubmission) (*domain.Order, error) {
	if sub.Cart == nil || sub.Cart.ReservedOrderID == "" {
		return nil, errors.New("sqlite: submission without reserved order id")
	}
	now := s.now().UTC()
	order := &domain.Order{
		ID:                   uuid.NewString(),
		IncrementID:          sub.Cart.ReservedOrderID,
		FrozenCartID:         sub.Cart.ID,
		TransactionReference: sub.TransactionReference,
		PaymentStatus:        sub.PaymentStatus,
		Totals:               sub.Cart.Totals,
		Currency:             sub.Cart.Currency,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	totals, err := json.Marshal(order.Totals)
	if err != nil {
		return nil, fmt.Errorf("sqlite: encode totals: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO orders
			(id, increment_id, frozen_cart_id, transaction_reference, payment_status, totals, currency, note, created_at, updated_at)
		VALUES
			(?, ?, ?, ?, ?, ?, ?, '', ?, ?)`,
		order.ID, order.IncrementID, int64(order.FrozenCartID), order.TransactionReference,
		string(order.PaymentStatus), string(totals), order.Currency,
		now.Format(timeLayout), now.Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("sqlite: insert order %s: %w", order.IncrementID, err)
	}
	return order, nil
}

const orderColumns = `id, increment_id, frozen_cart_id, transaction_reference, payment_status, totals, currency, note, created_at, updated_at`

// FindByIncrementID returns the order holding incrementID or ports.ErrNotFound.
func (s *Store) FindByIncrementID(ctx context.Context, incrementID string) (*domain.Order, error) {
	return s.queryOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE increment_id = ?`, incrementID)
}

// FindByTransactionReference returns the order paid by reference or ports.ErrNotFound.
func (s *Store) FindByTransactionReference(ctx context.Context, reference string) (*domain.Order, error) {
	return s.queryOrder(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE transaction_reference = ? ORDER BY created_at DESC LIMIT 1`, reference)
}

// GetOrder returns the order id or ports.ErrNotFound.
func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return s.queryOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
}

func (s *Store) queryOrder(ctx context.Context, q string, arg any) (*domain.Order, error) {
	var (
		o                    domain.Order
		frozen               int64
		totals               string
		createdAt, updatedAt string
	)
	err := s.db.QueryRowContext(ctx, q, arg).Scan(&o.ID, &o.IncrementID, &frozen, &o.TransactionReference,
		&o.PaymentStatus, &totals, &o.Currency, &o.Note, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("sqlite: order %v: %w", arg, ports.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: load order %v: %w", arg, err)
	}
	o.FrozenCartID = domain.CartID(frozen)
	if err := json.Unmarshal([]byte(totals), &o.Totals); err != nil {
		return nil, fmt.Errorf("sqlite: decode totals of order %s: %w", o.ID, err)
	}
	if o.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
		return nil, fmt.Errorf("sqlite: parse time %q: %w", createdAt, err)
	}
	if o.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt); err != nil {
		return nil, fmt.Errorf("sqlite: parse time %q: %w", updatedAt, err)
	}
	return &o, nil
}

// CompareAndSetStatus moves the order from current to next in a single
// conditional UPDATE. It reports false when the stored status was not current.
func (s *Store) CompareAndSetStatus(ctx context.Context, id string, current, next domain.Status) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET payment_status = ?, updated_at = ? WHERE id = ? AND payment_status = ?`,
		string(next), s.stamp(), id, string(current))
	if err != nil {
		return false, fmt.Errorf("sqlite: update status of order %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlite: update status of order %s: %w", id, err)
	}
	if n == 1 {
		return true, nil
	}
	if _, err := s.GetOrder(ctx, id); err != nil {
		return false, err
	}
	return false, nil
}

// AddDocument records an invoice or credit memo for the order.
func (s *Store) AddDocument(ctx context.Context, orderID string, kind domain.DocumentKind, amount int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO order_documents (order_id, kind, amount, created_at) VALUES (?, ?, ?, ?)`,
		orderID, string(kind), amount, s.stamp())
	if err != nil {
		return fmt.Errorf("sqlite: add %s to order %s: %w", kind, orderID, err)
	}
	return nil
}

// PatchTotals overwrites the order's totals and stores note explaining why.
func (s *Store) PatchTotals(ctx context.Context, orderID string, totals domain.Totals, note string) error {
	raw, err := json.Marshal(totals)
	if err != nil {
		return fmt.Errorf("sqlite: encode totals: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE orders SET totals = ?, note = ?, updated_at = ? WHERE id = ?`,
		string(raw), note, s.stamp(), orderID)
	if err != nil {
		return fmt.Errorf("sqlite: patch totals of order %s: %w", orderID, err)
	}
	return expectOne(res, "order "+orderID)
}

// Document is a financial document attached to an order.
type Document struct {
	Kind      domain.DocumentKind
	Amount    int64
	CreatedAt time.Time
}

// Documents lists an order's invoices and credit memos, oldest first.
func (s *Store) Documents(ctx context.Context, orderID string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, amount, created_at FROM order_documents WHERE order_id = ? ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: documents of order %s: %w", orderID, err)
	}
	defer rows.Close()

	var out []Document
	for rows.Next() {
		var (
			d         Document
			createdAt string
		)
		if err := rows.Scan(&d.Kind, &d.Amount, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan document: %w", err)
		}
		if d.CreatedAt, err = time.Parse(time.RFC3339Nano, createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: parse time %q: %w", createdAt, err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func expectOne(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: %s: %w", what, err)
	}
	if n == 0 {
		return fmt.Errorf("sqlite: %s: %w", what, ports.ErrNotFound)
	}
	return nil
}
