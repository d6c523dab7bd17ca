package helloasso

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type EventType string

const (
	EventTypeOrder   EventType = "Order"
	EventTypePayment EventType = "Payment"
	EventTypeForm    EventType = "Form"
)

type PaymentState string

const (
	PaymentStatePending    PaymentState = "Pending"
	PaymentStateAuthorized PaymentState = "Authorized"
	PaymentStateRefused    PaymentState = "Refused"
	PaymentStateRefunded   PaymentState = "Refunded"
	PaymentStateRefunding  PaymentState = "Refunding"
)

// Event is the notification envelope posted to the webhook.
type Event struct {
	EventType EventType       `json:"eventType" validate:"required"`
	Data      json.RawMessage `json:"data" validate:"required"`
}

// Payment decodes Data when the event is a payment notification.
func (e Event) Payment() (*Payment, error) {
	if e.EventType != EventTypePayment {
		return nil, fmt.Errorf("event type %q is not a payment", e.EventType)
	}
	var p Payment
	if err := json.Unmarshal(e.Data, &p); err != nil {
		return nil, fmt.Errorf("decode payment: %w", err)
	}
	return &p, nil
}

type Payment struct {
	ID     int64        `json:"id" validate:"required"`
	Amount int64        `json:"amount"`
	State  PaymentState `json:"state" validate:"required"`
	Date   time.Time    `json:"date"`
	Payer  Payer        `json:"payer"`
	Order  OrderLight   `json:"order" validate:"required"`
}

// OrderLight is the order summary embedded in payment notifications.
type OrderLight struct {
	ID               int64     `json:"id" validate:"required"`
	Date             time.Time `json:"date"`
	FormSlug         string    `json:"formSlug"`
	FormType         string    `json:"formType"`
	OrganizationSlug string    `json:"organizationSlug"`
}

// Order is the full order returned by GET /v5/orders/{id}. Raw keeps the
// exact payload for issue snapshots.
type Order struct {
	ID               int64           `json:"id"`
	Date             time.Time       `json:"date"`
	FormSlug         string          `json:"formSlug"`
	FormType         string          `json:"formType"`
	OrganizationSlug string          `json:"organizationSlug"`
	Payer            Payer           `json:"payer"`
	Items            []Item          `json:"items"`
	Amount           Amount          `json:"amount"`
	Raw              json.RawMessage `json:"-"`
}

// IDString is the ledger key of the order.
func (o Order) IDString() string {
	return fmt.Sprintf("%d", o.ID)
}

type Item struct {
	ID           int64         `json:"id"`
	Name         string        `json:"name"`
	Amount       int64         `json:"amount"`
	Type         string        `json:"type"`
	State        string        `json:"state"`
	User         *ItemUser     `json:"user,omitempty"`
	CustomFields []CustomField `json:"customFields"`
}

type ItemUser struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// RecipientField returns the answer of the first custom field whose name
// contains hint, falling back to the first custom field.
func (i Item) RecipientField(hint string) (string, bool) {
	if len(i.CustomFields) == 0 {
		return "", false
	}
	hint = strings.ToLower(strings.TrimSpace(hint))
	if hint != "" {
		for _, f := range i.CustomFields {
			if strings.Contains(strings.ToLower(f.Name), hint) {
				return strings.TrimSpace(f.Answer), true
			}
		}
	}
	return strings.TrimSpace(i.CustomFields[0].Answer), true
}

type CustomField struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	Type   string `json:"type"`
	Answer string `json:"answer"`
}

type Payer struct {
	Email     string `json:"email"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Country   string `json:"country,omitempty"`
}

func (p Payer) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

// Amount values are minor units (cents).
type Amount struct {
	Total    int64 `json:"total"`
	Vat      int64 `json:"vat"`
	Discount int64 `json:"discount"`
}

// Display renders the total in euros, e.g. "12.50 €".
func (a Amount) Display() string {
	return FormatMinor(a.Total)
}

func FormatMinor(minor int64) string {
	return decimal.New(minor, -2).StringFixed(2) + " €"
}
