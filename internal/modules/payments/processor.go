package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Confirmation is the result of an order processor accepting a
// verified purchase.
type Confirmation struct {
	PaymentID   string    `json:"paymentId"`
	OrderID     string    `json:"orderId"`
	Amount      string    `json:"amount"`
	Currency    string    `json:"currency,omitempty"`
	Processor   string    `json:"processor"`
	ConfirmedAt time.Time `json:"confirmedAt"`
}

// Processor validates a verified purchase against the plan amount and
// finalizes the confirmation.
type Processor interface {
	Name() string
	Confirm(ctx context.Context, p *Payment, vp *VerifiedPurchase, o *Order) (*Confirmation, error)
}

// Registry resolves processors by configured name.
type Registry struct {
	processors map[string]Processor
}

func NewRegistry(procs ...Processor) *Registry {
	r := &Registry{processors: make(map[string]Processor)}
	for _, p := range procs {
		r.processors[p.Name()] = p
	}
	return r
}

func (r *Registry) Get(name string) (Processor, error) {
	p, ok := r.processors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProcessor, name)
	}
	return p, nil
}

// PlanProcessor confirms a purchase when the verified amount exactly
// equals the payment's plan amount. Comparison is done in decimal so
// "7.5" and "7.50" agree.
type PlanProcessor struct{}

func (PlanProcessor) Name() string { return "plan" }

func (pp PlanProcessor) Confirm(_ context.Context, p *Payment, vp *VerifiedPurchase, o *Order) (*Confirmation, error) {
	want, err := decimal.NewFromString(p.Amount)
	if err != nil {
		return nil, fmt.Errorf("plan amount %q: %w", p.Amount, err)
	}
	got, err := decimal.NewFromString(vp.Amount)
	if err != nil {
		return nil, fmt.Errorf("verified amount %q: %w", vp.Amount, err)
	}
	if !want.Equal(got) {
		return nil, fmt.Errorf("%w: want %s, got %s", ErrAmountMismatch, want, got)
	}

	orderID := vp.OrderID
	if orderID == "" && o != nil {
		orderID = o.ID
	}

	return &Confirmation{
		PaymentID:   p.ID,
		OrderID:     orderID,
		Amount:      p.Amount,
		Currency:    p.Currency,
		Processor:   pp.Name(),
		ConfirmedAt: time.Now(),
	}, nil
}
