// Package merchant talks to the merchant platform's totals engine: cart
// totals, shipping rates and customer balances.
package merchant

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	fastshot "github.com/opus-domini/fast-shot"
	"github.com/shopspring/decimal"

	"github.com/jcmexdev/payment-reconciler/internal/reconciler/domain"
	"github.com/jcmexdev/payment-reconciler/internal/reconciler/ports"
)

// DefaultTimeout applies when NewClient is given a non-positive timeout.
const DefaultTimeout = 15 * time.Second

// Balance programs understood by the engine.
const (
	ProgramStoreCredit = "store_credit"
	ProgramGiftCard    = "gift_card"
)

var _ ports.TotalsEngine = (*Client)(nil)

// Client is the merchant platform's totals engine. It implements
// ports.TotalsEngine and hands out ports.BalanceSource values per program.
type Client struct {
	baseURL string
	timeout time.Duration
}

// NewClient returns a Client for the platform at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{baseURL: baseURL, timeout: timeout}
}

// CollectTotals asks the engine to total the cart. Segments other than
// subtotal, shipping, tax and grand total are returned as discounts.
func (c *Client) CollectTotals(ctx context.Context, cartID domain.CartID, contents domain.CartContents) (*ports.EngineTotals, error) {
	var body totalsDTO
	if err := c.post(ctx, fmt.Sprintf("/v1/carts/%d/totals", cartID), contents, &body); err != nil {
		return nil, err
	}
	return body.toPorts(), nil
}

// ShippingRates lists the carrier methods available for the cart's address.
func (c *Client) ShippingRates(ctx context.Context, cartID domain.CartID, contents domain.CartContents) ([]ports.ShippingRate, error) {
	var body struct {
		Rates []rateDTO `json:"rates"`
	}
	if err := c.post(ctx, fmt.Sprintf("/v1/carts/%d/shipping-rates", cartID), contents, &body); err != nil {
		return nil, err
	}
	rates := make([]ports.ShippingRate, 0, len(body.Rates))
	for _, r := range body.Rates {
		rates = append(rates, ports.ShippingRate{
			Carrier: r.CarrierTitle,
			Method:  r.MethodTitle,
			Code:    r.Carrier + "_" + r.Method,
			Cost:    r.Price,
			Tax:     r.Tax,
		})
	}
	return rates, nil
}

// Balance returns a BalanceSource reading the given program.
func (c *Client) Balance(program string) ports.BalanceSource {
	return balance{c: c, program: program}
}

type balance struct {
	c       *Client
	program string
}

func (b balance) Balance(ctx context.Context, customerID int64) (decimal.Decimal, error) {
	var body struct {
		Amount decimal.Decimal `json:"amount"`
	}
	path := fmt.Sprintf("/v1/customers/%d/balances/%s", customerID, b.program)
	if err := b.c.get(ctx, path, &body); err != nil {
		return decimal.Zero, err
	}
	return body.Amount, nil
}

func (c *Client) post(ctx context.Context, path string, in, out any) error {
	res, err := fastshot.NewClient(c.baseURL).
		Config().SetTimeout(c.timeout).
		Header().Add("Accept", "application/json").
		Build().POST(path).
		Context().Set(ctx).
		Body().AsJSON(in).
		Send()
	if err != nil {
		return domain.ErrUpstream.Wrap(fmt.Errorf("merchant %s: %w", path, err))
	}
	defer res.RawResponse.Body.Close()
	return decode(path, res.StatusCode(), res.RawResponse.Body, out)
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	res, err := fastshot.NewClient(c.baseURL).
		Config().SetTimeout(c.timeout).
		Header().Add("Accept", "application/json").
		Build().GET(path).
		Context().Set(ctx).
		Send()
	if err != nil {
		return domain.ErrUpstream.Wrap(fmt.Errorf("merchant %s: %w", path, err))
	}
	defer res.RawResponse.Body.Close()
	return decode(path, res.StatusCode(), res.RawResponse.Body, out)
}

func decode(path string, code int, body io.Reader, out any) error {
	if code < http.StatusOK || code >= http.StatusMultipleChoices {
		return domain.ErrUpstream.Wrap(fmt.Errorf("merchant %s: status %d", path, code))
	}
	if err := json.NewDecoder(body).Decode(out); err != nil {
		return domain.ErrUpstream.Wrap(fmt.Errorf("merchant %s: decode: %w", path, err))
	}
	return nil
}
