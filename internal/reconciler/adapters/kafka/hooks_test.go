package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jcmexdev/payment-reconciler/internal/reconciler/domain"
)

type memWriter struct {
	mu     sync.Mutex
	msgs   []kafka.Message
	err    error
	closed bool
	ctxs   []context.Context
}

func (w *memWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.ctxs = append(w.ctxs, ctx)
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *memWriter) Close() error {
	w.closed = true
	return nil
}

func sampleOrder() *domain.Order {
	return &domain.Order{
		ID:                   "order-1",
		IncrementID:          "1000000123",
		TransactionReference: "TXN-1",
		PaymentStatus:        domain.StatusAuthorized,
		Totals:               domain.Totals{Grand: 5500},
		Currency:             "USD",
	}
}

func TestHooks_Publish(t *testing.T) {
	saved, notify := &memWriter{}, &memWriter{}
	h := NewHooks(saved, notify)
	h.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	ctx := context.Background()

	require.NoError(t, h.OrderSaved(ctx, sampleOrder()))
	require.NoError(t, h.Notify(ctx, sampleOrder(), &domain.Transaction{Consumer: domain.Consumer{Email: "ana@example.com"}}))

	require.Len(t, saved.msgs, 1)
	assert.Equal(t, "1000000123", string(saved.msgs[0].Key))
	var evt OrderEvent
	require.NoError(t, json.Unmarshal(saved.msgs[0].Value, &evt))
	assert.Equal(t, EventOrderSaved, evt.Type)
	assert.Equal(t, "TXN-1", evt.Reference)
	assert.Equal(t, "AUTHORIZED", evt.PaymentStatus)
	assert.Equal(t, int64(5500), evt.GrandTotal)
	assert.NotEmpty(t, evt.EventID)
	assert.Empty(t, evt.CustomerEmail)

	require.Len(t, notify.msgs, 1)
	require.NoError(t, json.Unmarshal(notify.msgs[0].Value, &evt))
	assert.Equal(t, EventNotification, evt.Type)
	assert.Equal(t, "ana@example.com", evt.CustomerEmail)

	require.NoError(t, h.Close())
	assert.True(t, saved.closed)
	assert.True(t, notify.closed)
}

func TestHooks_WriteError(t *testing.T) {
	boom := errors.New("broker down")
	h := NewHooks(&memWriter{err: boom}, &memWriter{})

	err := h.OrderSaved(context.Background(), sampleOrder())
	assert.ErrorIs(t, err, boom)
}

func TestHooks_PublishOutlivesCancelledRequest(t *testing.T) {
	saved := &memWriter{}
	h := NewHooks(saved, &memWriter{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, h.OrderSaved(ctx, sampleOrder()))
	require.Len(t, saved.ctxs, 1)
	deadline, ok := saved.ctxs[0].Deadline()
	require.True(t, ok, "publish is bounded")
	assert.WithinDuration(t, time.Now().Add(PublishTimeout), deadline, time.Second)
}

func TestClient_NewWriterFlushesSingleMessages(t *testing.T) {
	w := NewClient("kafka-1:9092").NewWriter("orders.saved")
	defer w.Close()

	assert.Equal(t, "orders.saved", w.Topic)
	assert.Equal(t, 1, w.BatchSize)
	assert.Equal(t, BatchTimeout, w.BatchTimeout)
	assert.Less(t, w.BatchTimeout, time.Second)
}

func TestNewHooksFromClient(t *testing.T) {
	assert.IsType(t, LogHooks{}, NewHooksFromClient(NewClient(" , "), "saved", "notify"))

	c := NewClient("kafka-1:9092, kafka-2:9092")
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, c.Brokers)
	hooks, ok := NewHooksFromClient(c, "saved", "notify").(*Hooks)
	require.True(t, ok)
	assert.NoError(t, hooks.Close())
}
