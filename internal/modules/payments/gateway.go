package payments

import (
	"context"
	"time"
)

// Credentials is the bundle a client needs to drive the gateway's
// checkout flow from the browser.
type Credentials struct {
	Service  string `json:"service"`
	ClientID string `json:"clientId"`
	Mode     string `json:"mode"` // sandbox|live
}

// Order is the gateway-side representation of a purchase, created and
// updated alongside a Payment.
type Order struct {
	ID      string `json:"id"`
	Service string `json:"service,omitempty"`
	Status  string `json:"status,omitempty"`
	Amount  string `json:"amount,omitempty"`
}

// VerifiedPurchase is the gateway's confirmation that funds were
// captured for an order.
type VerifiedPurchase struct {
	OrderID    string    `json:"orderId"`
	Amount     string    `json:"amount"`
	Currency   string    `json:"currency,omitempty"`
	CapturedAt time.Time `json:"capturedAt"`
}

// Gateway is the capability set of an external payment processor.
// Calls may be slow network operations; callers must not hold locks
// across them.
//
// Verify returning (nil, nil) is a negative result: the gateway found
// no captured purchase for the order.
type Gateway interface {
	Credentials(ctx context.Context, service string) (*Credentials, error)
	CreateOrder(ctx context.Context, p *Payment) (*Order, error)
	UpdateOrder(ctx context.Context, p *Payment, o *Order) (*Order, error)
	Verify(ctx context.Context, p *Payment, o *Order) (*VerifiedPurchase, error)
}
