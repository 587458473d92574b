// Package kafka publishes order events for downstream consumers (mailers,
// fulfilment, analytics).
package kafka

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	// BatchTimeout bounds how long a writer waits to fill a batch. Hooks write
	// one message at a time.
	BatchTimeout = 10 * time.Millisecond
	// PublishTimeout bounds a single hook publish.
	PublishTimeout = 3 * time.Second
)

// Client holds the broker list. An empty list disables publishing.
type Client struct {
	Brokers []string
}

// NewClient parses a comma separated broker list, ignoring blanks.
func NewClient(brokersCSV string) *Client {
	brokers := []string{}
	for _, b := range strings.Split(brokersCSV, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return &Client{Brokers: brokers}
}

// Enabled reports whether at least one broker is configured.
func (c *Client) Enabled() bool {
	return len(c.Brokers) > 0
}

// NewWriter returns a synchronous writer for topic that flushes single
// messages without waiting for a batch to fill.
func (c *Client) NewWriter(topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(c.Brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchSize:    1,
		BatchTimeout: BatchTimeout,
		WriteTimeout: PublishTimeout,
	}
}

// Writer is the subset of *kafka.Writer the hooks use.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// PublishJSON writes payload keyed by key. Messages with the same key land
// on the same partition, so events of one order stay ordered. The write is
// detached from ctx cancellation and bounded by PublishTimeout.
func PublishJSON(ctx context.Context, w Writer, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), PublishTimeout)
	defer cancel()
	return w.WriteMessages(ctx, kafka.Message{Key: []byte(key), Value: data, Time: time.Now().UTC()})
}
