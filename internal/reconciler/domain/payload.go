package domain

// CartPayload is the provider-ready cart. Every amount is in minor units and
// TotalAmount is never negative.
type CartPayload struct {
	OrderReference string            `json:"order_reference"`
	DisplayID      string            `json:"display_id"`
	Items          []PayloadItem     `json:"items"`
	Discounts      []PayloadDiscount `json:"discounts"`
	Shipments      []PayloadShipment `json:"shipments,omitempty"`
	BillingAddress *Address          `json:"billing_address,omitempty"`
	TotalAmount    int64             `json:"total_amount"`
	TaxAmount      int64             `json:"tax_amount,omitempty"`
	Currency       string            `json:"currency"`
}

type PayloadItem struct {
	Reference   string `json:"reference"`
	Name        string `json:"name"`
	SKU         string `json:"sku"`
	UnitPrice   int64  `json:"unit_price"`
	Quantity    int64  `json:"quantity"`
	TotalAmount int64  `json:"total_amount"`
}

type PayloadDiscount struct {
	Reference   string `json:"reference,omitempty"`
	Description string `json:"description"`
	Amount      int64  `json:"amount"`
}

type PayloadShipment struct {
	Reference string   `json:"reference"`
	Service   string   `json:"service"`
	Cost      int64    `json:"cost"`
	TaxAmount int64    `json:"tax_amount"`
	Address   *Address `json:"shipping_address,omitempty"`
}
