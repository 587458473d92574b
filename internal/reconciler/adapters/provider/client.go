// Package provider fetches transactions from the payment provider's REST API.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	fastshot "github.com/opus-domini/fast-shot"

	"github.com/jcmexdev/payment-reconciler/internal/reconciler/domain"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/ports"
)

// DefaultTimeout applies when NewClient is given a non-positive timeout.
const DefaultTimeout = 10 * time.Second

var _ ports.TransactionFetcher = (*Client)(nil)

// Client reads transactions from the payment provider's REST API.
type Client struct {
	baseURL string
	apiKey  string
	timeout time.Duration
}

// NewClient returns a Client authenticating with apiKey as a bearer token.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{baseURL: baseURL, apiKey: apiKey, timeout: timeout}
}

// FetchTransaction loads GET /v2/transactions/{reference}. A 404 is
// permanent; every other failure is an upstream error the caller may retry.
func (c *Client) FetchTransaction(ctx context.Context, reference string) (*domain.Transaction, error) {
	res, err := fastshot.NewClient(c.baseURL).
		Config().SetTimeout(c.timeout).
		Header().Add("Authorization", "Bearer "+c.apiKey).
		Header().Add("Accept", "application/json").
		Build().GET("/v2/transactions/" + url.PathEscape(reference)).
		Context().Set(ctx).
		Send()
	if err != nil {
		return nil, domain.ErrUpstream.Wrap(fmt.Errorf("fetch transaction %s: %w", reference, err))
	}
	defer res.RawResponse.Body.Close()

	switch code := res.StatusCode(); {
	case code == http.StatusNotFound:
		return nil, domain.ErrTransactionNotFound.Withf("transaction %s not found at provider", reference)
	case code >= 300:
		return nil, domain.ErrUpstream.Wrap(fmt.Errorf("fetch transaction %s: status %d", reference, code))
	}

	var body transactionDTO
	if err := json.NewDecoder(res.RawResponse.Body).Decode(&body); err != nil {
		return nil, domain.ErrUpstream.Wrap(fmt.Errorf("decode transaction %s: %w", reference, err))
	}
	return body.toDomain()
}
