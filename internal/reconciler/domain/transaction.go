package domain

import "time"

// Transaction is the provider's record of a payment. The reconciler only
// reads it.
type Transaction struct {
	Reference      string
	Status         Status
	OrderReference string
	DisplayID      string
	Processor      string
	Cart           TransactionCart
	Consumer       Consumer
	BillingAddress *Address
}

// TransactionCart carries the provider's independently computed totals, in
// minor units.
type TransactionCart struct {
	Total     int64
	Tax       int64
	Currency  string
	Shipments []Shipment
}

type Shipment struct {
	// Reference is the shipping method code chosen at checkout. Legacy
	// transactions leave it empty and only carry Service.
	Reference string
	// Service is the "<carrier> - <method>" label shown to the shopper.
	Service string
	Cost    int64
	Tax     int64
	Address *Address
}

type Consumer struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

// Order is the merchant's finalized sales record.
type Order struct {
	ID                   string
	IncrementID          string
	FrozenCartID         CartID
	TransactionReference string
	PaymentStatus        Status
	Totals               Totals
	Currency             string
	Note                 string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// OrderSubmission is everything the order submission service needs.
type OrderSubmission struct {
	Cart                 *FrozenCart
	TransactionReference string
	PaymentStatus        Status
}

// DocumentKind distinguishes the financial documents attached to an order.
type DocumentKind string

const (
	DocumentInvoice    DocumentKind = "invoice"
	DocumentCreditMemo DocumentKind = "credit_memo"
)
