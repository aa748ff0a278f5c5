package payments

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// SandboxGateway stands in for a real processor. It hands out fake
// credentials for the configured services, mints order ids, and
// approves every verification.
type SandboxGateway struct {
	mu     sync.RWMutex
	creds  map[string]*Credentials
	orders map[string]*Order
}

func NewSandboxGateway(services []string) *SandboxGateway {
	g := &SandboxGateway{
		creds:  make(map[string]*Credentials),
		orders: make(map[string]*Order),
	}
	for _, s := range services {
		g.creds[s] = &Credentials{
			Service:  s,
			ClientID: "sandbox-" + s,
			Mode:     "sandbox",
		}
	}
	return g
}

func (g *SandboxGateway) Credentials(_ context.Context, service string) (*Credentials, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	c, ok := g.creds[service]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	cp := *c
	return &cp, nil
}

func (g *SandboxGateway) CreateOrder(_ context.Context, p *Payment) (*Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	o := &Order{
		ID:      "SO-" + uuid.NewString(),
		Service: p.Service,
		Status:  "CREATED",
		Amount:  p.Amount,
	}
	g.orders[o.ID] = o
	cp := *o
	return &cp, nil
}

func (g *SandboxGateway) UpdateOrder(_ context.Context, p *Payment, o *Order) (*Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	cur, ok := g.orders[o.ID]
	if !ok {
		// The referenced order is gone; recreate it.
		cur = &Order{ID: o.ID, Service: p.Service, Status: "CREATED"}
		g.orders[cur.ID] = cur
	}
	cur.Amount = p.Amount
	cur.Service = p.Service
	cp := *cur
	return &cp, nil
}

func (g *SandboxGateway) Verify(_ context.Context, p *Payment, o *Order) (*VerifiedPurchase, error) {
	orderID := p.ServiceID
	if o != nil && o.ID != "" {
		orderID = o.ID
	}
	if orderID == "" {
		return nil, nil
	}
	return &VerifiedPurchase{
		OrderID:    orderID,
		Amount:     p.Amount,
		Currency:   p.Currency,
		CapturedAt: time.Now(),
	}, nil
}
