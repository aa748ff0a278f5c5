package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digitalbazaar/bedrock-payment-http/internal/config"
	"github.com/digitalbazaar/bedrock-payment-http/internal/shared/apperr"
)

type stubGateway struct {
	createErr   error
	updateErr   error
	verifyFn    func(p *Payment) (*VerifiedPurchase, error)
	verifyCalls atomic.Int32
	createCalls atomic.Int32
	updateCalls atomic.Int32
}

func (g *stubGateway) Credentials(_ context.Context, service string) (*Credentials, error) {
	return &Credentials{Service: service, ClientID: "stub", Mode: "sandbox"}, nil
}

func (g *stubGateway) CreateOrder(_ context.Context, p *Payment) (*Order, error) {
	g.createCalls.Add(1)
	if g.createErr != nil {
		return nil, g.createErr
	}
	return &Order{ID: "SO-" + uuid.NewString(), Service: p.Service, Status: "CREATED", Amount: p.Amount}, nil
}

func (g *stubGateway) UpdateOrder(_ context.Context, p *Payment, o *Order) (*Order, error) {
	g.updateCalls.Add(1)
	if g.updateErr != nil {
		return nil, g.updateErr
	}
	return &Order{ID: o.ID, Service: p.Service, Status: "CREATED", Amount: p.Amount}, nil
}

func (g *stubGateway) Verify(_ context.Context, p *Payment, o *Order) (*VerifiedPurchase, error) {
	g.verifyCalls.Add(1)
	if g.verifyFn != nil {
		return g.verifyFn(p)
	}
	return &VerifiedPurchase{OrderID: p.ServiceID, Amount: p.Amount, Currency: p.Currency, CapturedAt: time.Now()}, nil
}

func testConfig() config.Config {
	return config.Config{
		Services:       []string{"paypal"},
		OrderProcessor: "plan",
	}
}

func newTestService(gw Gateway) (*Service, *MemStore) {
	store := NewMemStore()
	svc := NewService(store, gw, NewRegistry(PlanProcessor{}), testConfig(), nil)
	return svc, store
}

func params(amount string, skus ...string) PaymentParams {
	p := PaymentParams{Amount: amount, Currency: "USD", Service: "paypal"}
	if len(skus) == 0 {
		skus = []string{"basic"}
	}
	for _, sku := range skus {
		p.Orders = append(p.Orders, json.RawMessage(fmt.Sprintf(`{"sku":%q}`, sku)))
	}
	return p
}

func seed(t *testing.T, store *MemStore, p Payment) {
	t.Helper()
	p.SyncPendingKey()
	cp := p
	store.mu.Lock()
	store.payments[p.ID] = &cp
	store.mu.Unlock()
}

func kindOf(t *testing.T, err error) apperr.Kind {
	t.Helper()
	ae, ok := apperr.As(err)
	require.True(t, ok, "expected an AppError, got %v", err)
	return ae.Kind
}

func TestSubmitCreatesPendingPayment(t *testing.T) {
	gw := &stubGateway{}
	svc, store := newTestService(gw)

	res, err := svc.Submit(context.Background(), "acct-1", params("5.00", "x"))
	require.NoError(t, err)
	require.NotNil(t, res.Order)
	assert.False(t, res.Merged)
	assert.Equal(t, StatusPending, res.Payment.Status)
	assert.Equal(t, "5.00", res.Payment.Amount)
	assert.Equal(t, res.Order.ID, res.Payment.ServiceID)

	all, err := store.FindAll(context.Background(), Filter{Creator: "acct-1"})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, int32(1), gw.createCalls.Load())
}

func TestSubmitMergesIntoExistingPending(t *testing.T) {
	gw := &stubGateway{}
	svc, store := newTestService(gw)

	first, err := svc.Submit(context.Background(), "acct-1", params("5.00", "x"))
	require.NoError(t, err)

	second, err := svc.Submit(context.Background(), "acct-1", params("7.25", "y"))
	require.NoError(t, err)
	assert.True(t, second.Merged)
	assert.Equal(t, first.Payment.ID, second.Payment.ID)
	assert.Equal(t, "7.25", second.Payment.Amount)
	assert.JSONEq(t, `[{"sku":"y"}]`, string(second.Payment.Orders))

	all, err := store.FindAll(context.Background(), Filter{Creator: "acct-1"})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, int32(1), gw.updateCalls.Load())
}

func TestSubmitRejectsWhileProcessing(t *testing.T) {
	svc, store := newTestService(&stubGateway{})
	seed(t, store, Payment{
		ID: uuid.NewString(), Creator: "acct-1", Amount: "5.00",
		Status: StatusProcessing, Orders: []byte(`[{}]`), Created: time.Now(),
	})

	_, err := svc.Submit(context.Background(), "acct-1", params("5.00"))
	require.Error(t, err)
	assert.Equal(t, apperr.Conflict, kindOf(t, err))

	all, _ := store.FindAll(context.Background(), Filter{Creator: "acct-1"})
	assert.Len(t, all, 1)
}

func TestSubmitRejectsUnresolvedDoublePending(t *testing.T) {
	svc, store := newTestService(&stubGateway{})
	// Two pending rows predating the uniqueness constraint.
	for i := 0; i < 2; i++ {
		p := Payment{
			ID: uuid.NewString(), Creator: "acct-1", Amount: "5.00",
			Status: StatusPending, Orders: []byte(`[{}]`), Created: time.Now(),
		}
		cp := p
		store.mu.Lock()
		store.payments[p.ID] = &cp
		store.mu.Unlock()
	}

	_, err := svc.Submit(context.Background(), "acct-1", params("5.00"))
	require.Error(t, err)
	assert.Equal(t, apperr.Conflict, kindOf(t, err))
}

func TestSubmitValidatesParams(t *testing.T) {
	svc, _ := newTestService(&stubGateway{})

	tests := []struct {
		name   string
		params PaymentParams
		field  string
	}{
		{"bad amount", PaymentParams{Amount: "5.001", Orders: []json.RawMessage{[]byte(`{}`)}}, "amount"},
		{"negative amount", PaymentParams{Amount: "-5", Orders: []json.RawMessage{[]byte(`{}`)}}, "amount"},
		{"no orders", PaymentParams{Amount: "5.00"}, "orders"},
		{"unknown service", PaymentParams{Amount: "5.00", Service: "skrill", Orders: []json.RawMessage{[]byte(`{}`)}}, "service"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Submit(context.Background(), "acct-1", tc.params)
			require.Error(t, err)
			ae, ok := apperr.As(err)
			require.True(t, ok)
			assert.Equal(t, apperr.Invalid, ae.Kind)
			assert.Contains(t, ae.Fields, tc.field)
		})
	}
}

func TestSubmitSurfacesGatewayCreateFailure(t *testing.T) {
	gw := &stubGateway{createErr: errors.New("gateway down")}
	svc, store := newTestService(gw)

	_, err := svc.Submit(context.Background(), "acct-1", params("5.00"))
	require.Error(t, err)
	ae, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.Internal, ae.Kind)
	assert.Equal(t, "Failed to create the gateway order.", ae.PublicMsg)

	// The payment is not discarded: it stays pending with the failure
	// recorded, and the next submission merges into it.
	all, err := store.FindAll(context.Background(), Filter{Creator: "acct-1", Status: StatusPending})
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.NotEmpty(t, all[0].Error)

	gw.createErr = nil
	res, err := svc.Submit(context.Background(), "acct-1", params("6.00"))
	require.NoError(t, err)
	assert.True(t, res.Merged)
	assert.Equal(t, all[0].ID, res.Payment.ID)
	assert.Empty(t, res.Payment.Error)
}

func TestAdvanceConfirmsPayment(t *testing.T) {
	gw := &stubGateway{}
	svc, store := newTestService(gw)

	res, err := svc.Submit(context.Background(), "acct-1", params("10.50"))
	require.NoError(t, err)

	conf, err := svc.Advance(context.Background(), "acct-1", res.Payment.ID, res.Order)
	require.NoError(t, err)
	require.NotNil(t, conf)
	assert.Equal(t, res.Payment.ID, conf.PaymentID)
	assert.Equal(t, "10.50", conf.Amount)
	assert.Equal(t, "plan", conf.Processor)

	p, err := store.FindOne(context.Background(), Filter{ID: res.Payment.ID})
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, p.Status)
	require.NotNil(t, p.Validated)
	assert.True(t, *p.Validated)
}

func TestAdvanceVoidsOnNegativeVerification(t *testing.T) {
	gw := &stubGateway{verifyFn: func(*Payment) (*VerifiedPurchase, error) { return nil, nil }}
	svc, store := newTestService(gw)

	res, err := svc.Submit(context.Background(), "acct-1", params("10.50"))
	require.NoError(t, err)

	_, err = svc.Advance(context.Background(), "acct-1", res.Payment.ID, res.Order)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPaymentVoided)
	assert.Equal(t, apperr.Data, kindOf(t, err))

	p, err := store.FindOne(context.Background(), Filter{ID: res.Payment.ID})
	require.NoError(t, err)
	assert.Equal(t, StatusVoided, p.Status)
	require.NotNil(t, p.Validated)
	assert.False(t, *p.Validated)
}

func TestAdvanceRejectsFinishedPayment(t *testing.T) {
	svc, store := newTestService(&stubGateway{})

	for _, status := range []Status{StatusConfirmed, StatusVoided} {
		id := uuid.NewString()
		seed(t, store, Payment{
			ID: id, Creator: "acct-1", Amount: "5.00",
			Status: status, Orders: []byte(`[{}]`), Created: time.Now(),
		})

		_, err := svc.Advance(context.Background(), "acct-1", id, nil)
		require.Error(t, err)
		assert.Equal(t, apperr.InvalidState, kindOf(t, err))

		p, _ := store.FindOne(context.Background(), Filter{ID: id})
		assert.Equal(t, status, p.Status, "finished status must not change")
	}
}

func TestAdvanceScopesLookupToCreator(t *testing.T) {
	gw := &stubGateway{}
	svc, store := newTestService(gw)

	res, err := svc.Submit(context.Background(), "acct-1", params("5.00"))
	require.NoError(t, err)

	_, err = svc.Advance(context.Background(), "acct-2", res.Payment.ID, nil)
	require.Error(t, err)
	assert.Equal(t, apperr.NotFound, kindOf(t, err))

	// No mutation happened.
	p, _ := store.FindOne(context.Background(), Filter{ID: res.Payment.ID})
	assert.Equal(t, StatusPending, p.Status)
	assert.Equal(t, int32(0), gw.verifyCalls.Load())
}

func TestAdvanceUnknownProcessorIsConfigError(t *testing.T) {
	store := NewMemStore()
	cfg := testConfig()
	cfg.OrderProcessor = "nonesuch"
	svc := NewService(store, &stubGateway{}, NewRegistry(PlanProcessor{}), cfg, nil)

	res, err := svc.Submit(context.Background(), "acct-1", params("5.00"))
	require.NoError(t, err)

	_, err = svc.Advance(context.Background(), "acct-1", res.Payment.ID, res.Order)
	require.Error(t, err)
	assert.Equal(t, apperr.Config, kindOf(t, err))
}

func TestAdvanceAmountMismatchIsValidationError(t *testing.T) {
	gw := &stubGateway{verifyFn: func(p *Payment) (*VerifiedPurchase, error) {
		return &VerifiedPurchase{OrderID: p.ServiceID, Amount: "9.99"}, nil
	}}
	svc, _ := newTestService(gw)

	res, err := svc.Submit(context.Background(), "acct-1", params("10.00"))
	require.NoError(t, err)

	_, err = svc.Advance(context.Background(), "acct-1", res.Payment.ID, res.Order)
	require.Error(t, err)
	assert.Equal(t, apperr.Invalid, kindOf(t, err))
}

func TestConcurrentSubmitsYieldSinglePending(t *testing.T) {
	svc, store := newTestService(&stubGateway{})

	const n = 16
	var wg sync.WaitGroup
	errs := make([]error, n)

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Submit(context.Background(), "acct-1", params("5.00"))
		}(i)
	}
	wg.Wait()

	all, err := store.FindAll(context.Background(), Filter{Creator: "acct-1"})
	require.NoError(t, err)
	require.Len(t, all, 1, "exactly one payment across all submissions")
	assert.Equal(t, StatusPending, all[0].Status)

	for _, err := range errs {
		if err == nil {
			continue
		}
		// Losers may only observe a conflict, never a second creation.
		assert.Equal(t, apperr.Conflict, kindOf(t, err))
	}
}

func TestConcurrentAdvanceSingleWinner(t *testing.T) {
	gw := &stubGateway{verifyFn: func(p *Payment) (*VerifiedPurchase, error) {
		time.Sleep(20 * time.Millisecond) // widen the race window
		return &VerifiedPurchase{OrderID: p.ServiceID, Amount: p.Amount}, nil
	}}
	svc, _ := newTestService(gw)

	res, err := svc.Submit(context.Background(), "acct-1", params("5.00"))
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Advance(context.Background(), "acct-1", res.Payment.ID, res.Order)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), gw.verifyCalls.Load(), "only one call may reach the gateway")

	var won, lost int
	for _, err := range errs {
		if err == nil {
			won++
			continue
		}
		lost++
		assert.Equal(t, apperr.InvalidState, kindOf(t, err))
	}
	assert.Equal(t, 1, won)
	assert.Equal(t, 1, lost)
}

func TestListReturnsOnlyOwnPayments(t *testing.T) {
	svc, _ := newTestService(&stubGateway{})

	_, err := svc.Submit(context.Background(), "acct-1", params("5.00"))
	require.NoError(t, err)
	_, err = svc.Submit(context.Background(), "acct-2", params("6.00"))
	require.NoError(t, err)

	mine, err := svc.List(context.Background(), "acct-1")
	require.NoError(t, err)
	require.Len(t, mine, 1)
	assert.Equal(t, "acct-1", mine[0].Creator)

	empty, err := svc.List(context.Background(), "acct-3")
	require.NoError(t, err)
	assert.NotNil(t, empty)
	assert.Len(t, empty, 0)
}

func TestGatewayCredentials(t *testing.T) {
	svc, _ := newTestService(&stubGateway{})

	creds, err := svc.GatewayCredentials(context.Background(), "paypal")
	require.NoError(t, err)
	assert.Equal(t, "paypal", creds.Service)

	_, err = svc.GatewayCredentials(context.Background(), "skrill")
	require.Error(t, err)
	assert.Equal(t, apperr.NotFound, kindOf(t, err))
}

// Full lifecycle: create, merge before processing, then confirm.
func TestSubmitThenAdvanceScenario(t *testing.T) {
	gw := &stubGateway{}
	svc, store := newTestService(gw)
	ctx := context.Background()

	created, err := svc.Submit(ctx, "acct-A", params("5.00", "x"))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, created.Payment.Status)

	merged, err := svc.Submit(ctx, "acct-A", params("7.25", "y"))
	require.NoError(t, err)
	assert.Equal(t, created.Payment.ID, merged.Payment.ID)
	assert.Equal(t, "7.25", merged.Payment.Amount)

	conf, err := svc.Advance(ctx, "acct-A", merged.Payment.ID, merged.Order)
	require.NoError(t, err)
	assert.Equal(t, "7.25", conf.Amount)

	p, err := store.FindOne(ctx, Filter{ID: merged.Payment.ID})
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, p.Status)
}
