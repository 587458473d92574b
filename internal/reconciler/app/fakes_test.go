package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/jcmexdev/payment-reconciler/internal/reconciler/domain"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/ports"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/reconlog"
)

type memCarts struct {
	mu      sync.Mutex
	drafts  map[domain.CartID]domain.DraftCart
	frozen  map[domain.CartID]domain.FrozenCart
	nextID  domain.CartID
	nextSeq int64
}

var _ ports.CartStore = (*memCarts)(nil)

func newMemCarts() *memCarts {
	return &memCarts{
		drafts:  map[domain.CartID]domain.DraftCart{},
		frozen:  map[domain.CartID]domain.FrozenCart{},
		nextID:  1000,
		nextSeq: 124,
	}
}

func (m *memCarts) LoadDraft(_ context.Context, id domain.CartID) (*domain.DraftCart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[id]
	if !ok {
		return nil, fmt.Errorf("draft %d: %w", id, ports.ErrNotFound)
	}
	return &d, nil
}

func (m *memCarts) LoadFrozen(_ context.Context, id domain.CartID) (*domain.FrozenCart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.frozen[id]
	if !ok {
		return nil, fmt.Errorf("frozen %d: %w", id, ports.ErrNotFound)
	}
	return &f, nil
}

func (m *memCarts) SaveFrozen(_ context.Context, cart *domain.FrozenCart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frozen[cart.ID] = *cart
	return nil
}

func (m *memCarts) ClaimDraft(_ context.Context, id domain.CartID, force bool) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[id]
	if !ok {
		return false, ports.ErrNotFound
	}
	if !d.Active && !force {
		return false, nil
	}
	d.Active = false
	m.drafts[id] = d
	return true, nil
}

func (m *memCarts) ReleaseDraft(_ context.Context, id domain.CartID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.drafts[id]
	d.Active = true
	m.drafts[id] = d
	return nil
}

func (m *memCarts) ReserveOrderID(_ context.Context, id domain.CartID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[id]
	if !ok {
		return "", ports.ErrNotFound
	}
	d.ReservedOrderID = fmt.Sprintf("%d", 1000000000+m.nextSeq)
	m.nextSeq++
	m.drafts[id] = d
	return d.ReservedOrderID, nil
}

func (m *memCarts) LinkFrozenCart(_ context.Context, draft, frozen domain.CartID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d := m.drafts[draft]
	d.LastFrozenCartID = &frozen
	m.drafts[draft] = d
	return nil
}

func (m *memCarts) LinkedCartID(_ context.Context, id domain.CartID) (domain.CartID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, ok := m.frozen[id]; ok {
		return f.ParentCartID, nil
	}
	if d, ok := m.drafts[id]; ok {
		if d.LastFrozenCartID != nil {
			return *d.LastFrozenCartID, nil
		}
		return 0, nil
	}
	return 0, ports.ErrNotFound
}

func (m *memCarts) Freeze(_ context.Context, draft domain.CartID) (*domain.FrozenCart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.drafts[draft]
	if !ok {
		return nil, ports.ErrNotFound
	}
	m.nextID++
	f := domain.FrozenCart{
		ID:              m.nextID,
		ParentCartID:    d.ID,
		ReservedOrderID: d.ReservedOrderID,
		CartContents:    d.CartContents,
	}
	m.frozen[f.ID] = f
	return &f, nil
}

func (m *memCarts) draft(id domain.CartID) domain.DraftCart {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drafts[id]
}

type document struct {
	orderID string
	kind    domain.DocumentKind
	amount  int64
}

type memOrders struct {
	mu        sync.Mutex
	orders    map[string]domain.Order
	documents []document
	docErr    error
}

var _ ports.OrderStore = (*memOrders)(nil)

func newMemOrders() *memOrders {
	return &memOrders{orders: map[string]domain.Order{}}
}

func (m *memOrders) find(match func(domain.Order) bool) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if match(o) {
			return &o, nil
		}
	}
	return nil, ports.ErrNotFound
}

func (m *memOrders) FindByIncrementID(_ context.Context, incrementID string) (*domain.Order, error) {
	return m.find(func(o domain.Order) bool { return o.IncrementID == incrementID })
}

func (m *memOrders) FindByTransactionReference(_ context.Context, reference string) (*domain.Order, error) {
	return m.find(func(o domain.Order) bool { return o.TransactionReference == reference })
}

func (m *memOrders) GetOrder(_ context.Context, id string) (*domain.Order, error) {
	return m.find(func(o domain.Order) bool { return o.ID == id })
}

func (m *memOrders) CompareAndSetStatus(_ context.Context, id string, current, next domain.Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return false, ports.ErrNotFound
	}
	if o.PaymentStatus != current {
		return false, nil
	}
	o.PaymentStatus = next
	m.orders[id] = o
	return true, nil
}

func (m *memOrders) AddDocument(_ context.Context, orderID string, kind domain.DocumentKind, amount int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.docErr != nil {
		return m.docErr
	}
	m.documents = append(m.documents, document{orderID: orderID, kind: kind, amount: amount})
	return nil
}

func (m *memOrders) PatchTotals(_ context.Context, orderID string, totals domain.Totals, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o := m.orders[orderID]
	o.Totals = totals
	o.Note = note
	m.orders[orderID] = o
	return nil
}

func (m *memOrders) put(o domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
}

func (m *memOrders) get(id string) domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.orders[id]
}

func (m *memOrders) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.orders)
}

func (m *memOrders) docs() []document {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]document(nil), m.documents...)
}

// memSubmitter creates orders in memOrders. before runs ahead of every
// submission and can block to widen race windows.
type memSubmitter struct {
	orders *memOrders
	err    error
	calls  atomic.Int32
	before func()
}

func (s *memSubmitter) SubmitOrder(_ context.Context, sub domain.OrderSubmission) (*domain.Order, error) {
	s.calls.Add(1)
	if s.before != nil {
		s.before()
	}
	if s.err != nil {
		return nil, s.err
	}
	o := domain.Order{
		ID:                   fmt.Sprintf("order-%s", sub.Cart.ReservedOrderID),
		IncrementID:          sub.Cart.ReservedOrderID,
		FrozenCartID:         sub.Cart.ID,
		TransactionReference: sub.TransactionReference,
		PaymentStatus:        sub.PaymentStatus,
		Totals:               sub.Cart.Totals,
		Currency:             sub.Cart.Currency,
	}
	s.orders.put(o)
	return &o, nil
}

type stubFetcher struct {
	tx       *domain.Transaction
	failures int
	calls    int
}

func (f *stubFetcher) FetchTransaction(context.Context, string) (*domain.Transaction, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, errors.New("provider timeout")
	}
	cp := *f.tx
	return &cp, nil
}

// stubEngine prices every cart at 40.00 + 5.00 tax + 10.00 shipping.
type stubEngine struct {
	rates []ports.ShippingRate
}

func (e *stubEngine) CollectTotals(context.Context, domain.CartID, domain.CartContents) (*ports.EngineTotals, error) {
	return &ports.EngineTotals{
		Subtotal:   decimal.RequireFromString("40.00"),
		GrandTotal: decimal.RequireFromString("55.00"),
		Tax:        decimal.RequireFromString("5.00"),
		Shipping:   decimal.RequireFromString("10.00"),
		Labels:     map[string]string{"shipping": "Flat Rate - Fixed"},
	}, nil
}

func (e *stubEngine) ShippingRates(context.Context, domain.CartID, domain.CartContents) ([]ports.ShippingRate, error) {
	return e.rates, nil
}

type recordingHooks struct {
	mu    sync.Mutex
	saved []string
}

func (h *recordingHooks) OrderSaved(_ context.Context, o *domain.Order) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.saved = append(h.saved, o.ID)
	return nil
}

func (h *recordingHooks) Notify(context.Context, *domain.Order, *domain.Transaction) error {
	return errors.New("notification endpoint down")
}

type memLog struct {
	mu      sync.Mutex
	entries []reconlog.Entry
}

func (l *memLog) Save(_ context.Context, e *reconlog.Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, *e)
	return nil
}

func (l *memLog) History(_ context.Context, reference string) ([]reconlog.Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []reconlog.Entry
	for _, e := range l.entries {
		if e.Reference == reference {
			out = append(out, e)
		}
	}
	return out, nil
}

func (l *memLog) statuses(reference string) []reconlog.Status {
	entries, _ := l.History(context.Background(), reference)
	out := make([]reconlog.Status, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Status)
	}
	return out
}
