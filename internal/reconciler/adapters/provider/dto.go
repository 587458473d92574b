package provider

import (
	"fmt"

	"github.com/jcmexdev/payment-reconciler/internal/reconciler/domain"
)

// transactionDTO is the provider's wire format. Amounts are minor units.
type transactionDTO struct {
	ID             string      `json:"id"`
	Status         string      `json:"status"`
	OrderReference string      `json:"order_reference"`
	DisplayID      string      `json:"display_id"`
	Processor      string      `json:"processor"`
	Cart           cartDTO     `json:"cart"`
	Consumer       consumerDTO `json:"consumer"`
	BillingAddress *addressDTO `json:"billing_address"`
}

type cartDTO struct {
	TotalAmount int64         `json:"total_amount"`
	TaxAmount   int64         `json:"tax_amount"`
	Currency    string        `json:"currency"`
	Shipments   []shipmentDTO `json:"shipments"`
}

type shipmentDTO struct {
	Reference       string      `json:"reference"`
	Service         string      `json:"service"`
	Cost            int64       `json:"cost"`
	TaxAmount       int64       `json:"tax_amount"`
	ShippingAddress *addressDTO `json:"shipping_address"`
}

type consumerDTO struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
}

type addressDTO struct {
	FirstName     string `json:"first_name"`
	LastName      string `json:"last_name"`
	StreetAddress string `json:"street_address"`
	Locality      string `json:"locality"`
	Region        string `json:"region"`
	PostalCode    string `json:"postal_code"`
	CountryCode   string `json:"country_code"`
	Email         string `json:"email"`
	Phone         string `json:"phone"`
}

func (t transactionDTO) toDomain() (*domain.Transaction, error) {
	status, err := domain.ParseStatus(t.Status)
	if err != nil {
		return nil, domain.ErrUpstream.Wrap(fmt.Errorf("transaction %s: %w", t.ID, err))
	}
	tx := &domain.Transaction{
		Reference:      t.ID,
		Status:         status,
		OrderReference: t.OrderReference,
		DisplayID:      t.DisplayID,
		Processor:      t.Processor,
		Cart: domain.TransactionCart{
			Total:    t.Cart.TotalAmount,
			Tax:      t.Cart.TaxAmount,
			Currency: t.Cart.Currency,
		},
		Consumer: domain.Consumer{
			FirstName: t.Consumer.FirstName,
			LastName:  t.Consumer.LastName,
			Email:     t.Consumer.Email,
			Phone:     t.Consumer.Phone,
		},
		BillingAddress: t.BillingAddress.toDomain(),
	}
	for _, s := range t.Cart.Shipments {
		tx.Cart.Shipments = append(tx.Cart.Shipments, domain.Shipment{
			Reference: s.Reference,
			Service:   s.Service,
			Cost:      s.Cost,
			Tax:       s.TaxAmount,
			Address:   s.ShippingAddress.toDomain(),
		})
	}
	return tx, nil
}

func (a *addressDTO) toDomain() *domain.Address {
	if a == nil {
		return nil
	}
	return &domain.Address{
		FirstName: a.FirstName,
		LastName:  a.LastName,
		Street:    a.StreetAddress,
		City:      a.Locality,
		Region:    a.Region,
		Postcode:  a.PostalCode,
		Country:   a.CountryCode,
		Email:     a.Email,
		Phone:     a.Phone,
	}
}
