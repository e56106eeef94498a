package payment

import "encoding/json"

// Event types the storefront settles on.
const (
	EventCheckoutCompleted     = "checkout.session.completed"
	EventAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	EventAsyncPaymentFailed    = "checkout.session.async_payment_failed"
	EventCheckoutExpired       = "checkout.session.expired"
)

// Settlement outcomes passed to the SettlementHandler.
const (
	StatusPaid    = "paid"
	StatusUnpaid  = "unpaid"
	StatusFailed  = "failed"
	StatusExpired = "expired"
)

// Event is the envelope of a payment provider webhook.
type Event struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Created  int64  `json:"created"`
	Livemode bool   `json:"livemode"`
	Data     struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// CheckoutSession is the data object of checkout.session.* events.
type CheckoutSession struct {
	ID                string            `json:"id"`
	ClientReferenceID string            `json:"client_reference_id"`
	PaymentStatus     string            `json:"payment_status"`
	PaymentIntent     string            `json:"payment_intent"`
	AmountTotal       int64             `json:"amount_total"`
	Currency          string            `json:"currency"`
	CustomerEmail     string            `json:"customer_email"`
	CustomerDetails   *CustomerDetails  `json:"customer_details,omitempty"`
	Metadata          map[string]string `json:"metadata"`
}

// CustomerDetails carries the address collected at checkout.
type CustomerDetails struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

// Settlement is a normalized checkout outcome for one order.
type Settlement struct {
	EventID       string
	EventType     string
	OrderID       string
	SessionID     string
	PaymentIntent string
	Email         string
	AmountTotal   int64
	Currency      string
	Status        string
}
