package payments

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/digitalbazaar/bedrock-payment-http/internal/config"
	"github.com/digitalbazaar/bedrock-payment-http/internal/shared/apperr"
)

// Service is the payment lifecycle controller. It owns the
// create-vs-merge-vs-reject decision on submission and drives the
// PENDING → PROCESSING → CONFIRMED/VOIDED transitions on processing.
type Service struct {
	store    Store
	gateway  Gateway
	registry *Registry
	cfg      config.Config
	logger   *slog.Logger

	creators keyedMutex
}

func NewService(store Store, gateway Gateway, registry *Registry, cfg config.Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    store,
		gateway:  gateway,
		registry: registry,
		cfg:      cfg,
		logger:   logger,
	}
}

type SubmitResult struct {
	Payment *Payment
	Order   *Order
	// Merged is true when the submission was folded into an existing
	// pending payment instead of creating a new one.
	Merged bool
}

// Submit creates a new pending payment for creator, or merges the
// submission into the creator's existing pending payment.
//
// The check-and-write sequence runs under a per-creator lock so two
// near-simultaneous submissions cannot both observe zero pending
// payments and both create one. The store's single-pending constraint
// backs the lock for multi-process deployments. Gateway calls happen
// after the lock is released.
func (s *Service) Submit(ctx context.Context, creator string, params PaymentParams) (*SubmitResult, error) {
	if err := s.validateParams(params); err != nil {
		return nil, err
	}

	s.logger.DebugContext(ctx, "create payment called", "creator", creator, "amount", params.Amount)

	p, merged, err := s.claim(ctx, creator, params)
	if err != nil {
		return nil, err
	}

	if merged {
		return s.refreshOrder(ctx, p)
	}
	return s.createOrder(ctx, p)
}

// claim performs the locked check-and-write: reject when a payment is
// in flight, merge into a single pending payment, or persist a new
// pending one.
func (s *Service) claim(ctx context.Context, creator string, params PaymentParams) (*Payment, bool, error) {
	unlock := s.creators.lock(creator)
	defer unlock()

	processing, err := s.store.FindAll(ctx, Filter{Creator: creator, Status: StatusProcessing})
	if err != nil {
		return nil, false, apperr.Wrap(err)
	}
	if len(processing) > 0 {
		return nil, false, apperr.ConflictErr("Can not create a new payment if you have processing payments.")
	}

	pending, err := s.store.FindAll(ctx, Filter{Creator: creator, Status: StatusPending})
	if err != nil {
		return nil, false, apperr.Wrap(err)
	}

	switch {
	case len(pending) > 1:
		// An unresolved prior race. Reject; never auto-heal.
		s.logger.WarnContext(ctx, "multiple pending payments", "creator", creator, "count", len(pending))
		return nil, false, apperr.ConflictErr("Multiple pending payments found for this account.")

	case len(pending) == 1:
		p := pending[0]
		if err := mergeParams(&p, params); err != nil {
			return nil, false, apperr.Wrap(err)
		}
		if err := s.store.Save(ctx, &p); err != nil {
			if errors.Is(err, ErrDuplicatePending) || errors.Is(err, ErrStatusConflict) {
				return nil, false, apperr.ConflictErr("A pending payment already exists for this account.")
			}
			return nil, false, apperr.Wrap(err)
		}
		s.logger.DebugContext(ctx, "updating payment", "creator", creator, "payment_id", p.ID)
		return &p, true, nil

	default:
		orders, err := params.ordersJSON()
		if err != nil {
			return nil, false, apperr.Wrap(err)
		}
		p := &Payment{
			ID:       uuid.NewString(),
			Creator:  creator,
			Amount:   params.Amount,
			Currency: params.Currency,
			Service:  params.Service,
			Status:   StatusPending,
			Orders:   orders,
			Created:  time.Now(),
		}
		if err := s.store.Save(ctx, p); err != nil {
			if errors.Is(err, ErrDuplicatePending) {
				// Lost the race against another submission; the other
				// writer's payment is the pending one now.
				return nil, false, apperr.ConflictErr("A pending payment already exists for this account.")
			}
			return nil, false, apperr.Wrap(err)
		}
		s.logger.DebugContext(ctx, "creating new payment", "creator", creator, "payment_id", p.ID)
		return p, false, nil
	}
}

// createOrder asks the gateway for a fresh order tied to a newly
// created payment. A gateway failure does not discard the persisted
// payment: the error is recorded on it and surfaced to the caller, and
// the next submission merges into the same pending payment.
func (s *Service) createOrder(ctx context.Context, p *Payment) (*SubmitResult, error) {
	order, err := s.gateway.CreateOrder(ctx, p)
	if err != nil {
		s.logger.ErrorContext(ctx, "gateway order creation failed",
			"payment_id", p.ID, "service", p.Service, "err", err)
		p.RecordError(err)
		if saveErr := s.store.Save(ctx, p); saveErr != nil {
			s.logger.ErrorContext(ctx, "failed to record gateway error",
				"payment_id", p.ID, "err", saveErr)
		}
		ae := apperr.Wrap(err)
		ae.PublicMsg = "Failed to create the gateway order."
		return nil, ae
	}

	p.ServiceID = order.ID
	p.Error = nil
	if err := s.store.Save(ctx, p); err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return nil, apperr.ConflictErr("Payment state changed concurrently.")
		}
		return nil, apperr.Wrap(err)
	}
	return &SubmitResult{Payment: p, Order: order, Merged: false}, nil
}

// refreshOrder updates (or recreates) the gateway order behind a
// merged pending payment.
func (s *Service) refreshOrder(ctx context.Context, p *Payment) (*SubmitResult, error) {
	var (
		order *Order
		err   error
	)
	if p.ServiceID == "" {
		order, err = s.gateway.CreateOrder(ctx, p)
	} else {
		order, err = s.gateway.UpdateOrder(ctx, p, &Order{ID: p.ServiceID, Service: p.Service})
	}
	if err != nil {
		s.logger.ErrorContext(ctx, "gateway order update failed",
			"payment_id", p.ID, "service", p.Service, "err", err)
		p.RecordError(err)
		if saveErr := s.store.Save(ctx, p); saveErr != nil {
			s.logger.ErrorContext(ctx, "failed to record gateway error",
				"payment_id", p.ID, "err", saveErr)
		}
		ae := apperr.Wrap(err)
		ae.PublicMsg = "Failed to update the gateway order."
		return nil, ae
	}

	if order.ID != p.ServiceID {
		p.ServiceID = order.ID
	}
	p.Error = nil
	if err := s.store.Save(ctx, p); err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return nil, apperr.ConflictErr("Payment state changed concurrently.")
		}
		return nil, apperr.Wrap(err)
	}
	return &SubmitResult{Payment: p, Order: order, Merged: true}, nil
}

// Advance moves a payment through verification to a confirmed order.
//
// The PENDING → PROCESSING step is a compare-and-swap, so of two
// concurrent calls on the same payment exactly one proceeds to the
// gateway. The marker is persisted before any gateway call and no lock
// is held across them.
func (s *Service) Advance(ctx context.Context, creator, paymentID string, order *Order) (*Confirmation, error) {
	// Lookups are scoped to the authenticated creator; an unscoped
	// fetch would let any account read another account's payment.
	p, err := s.store.FindOne(ctx, Filter{ID: paymentID, Creator: creator})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.NotFoundErr("Payment not found.")
		}
		return nil, apperr.Wrap(err)
	}

	// Must be checked before any mutation.
	if p.Finished() {
		return nil, apperr.InvalidStateErr("Payment already finished.")
	}
	if p.Creator != creator {
		return nil, apperr.ForbiddenErr("Payment belongs to another account.")
	}

	if err := s.store.SetStatus(ctx, p.ID, []Status{StatusPending}, StatusProcessing); err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return nil, apperr.InvalidStateErr("Payment is already being processed.")
		}
		return nil, apperr.Wrap(err)
	}
	p.Status = StatusProcessing

	vp, err := s.gateway.Verify(ctx, p, order)
	if err != nil {
		// The payment stays PROCESSING; reconciliation is external.
		s.logger.ErrorContext(ctx, "gateway verification failed",
			"payment_id", p.ID, "err", err)
		ae := apperr.Wrap(err)
		ae.PublicMsg = "Gateway verification failed."
		return nil, ae
	}

	if vp == nil {
		p.Status = StatusVoided
		v := false
		p.Validated = &v
		if err := s.store.SetStatus(ctx, p.ID, []Status{StatusProcessing}, StatusVoided); err != nil {
			return nil, apperr.Wrap(err)
		}
		if err := s.store.Save(ctx, p); err != nil {
			return nil, apperr.Wrap(err)
		}
		s.logger.InfoContext(ctx, "payment voided", "payment_id", p.ID, "creator", creator)
		return nil, apperr.DataErr("Payment voided.").WithErr(ErrPaymentVoided)
	}

	v := true
	p.Validated = &v
	if err := s.store.Save(ctx, p); err != nil {
		return nil, apperr.Wrap(err)
	}
	s.logger.DebugContext(ctx, "purchase verified", "payment_id", p.ID, "order_id", vp.OrderID)

	proc, err := s.registry.Get(s.cfg.OrderProcessor)
	if err != nil {
		return nil, apperr.ConfigErr("Order processor is not configured correctly.").WithErr(err)
	}

	conf, err := proc.Confirm(ctx, p, vp, order)
	if err != nil {
		if errors.Is(err, ErrAmountMismatch) {
			return nil, apperr.InvalidErr("Verified purchase does not match the order amount.", nil)
		}
		return nil, apperr.Wrap(err)
	}

	// Confirm exactly once; a competing writer losing this swap means
	// the payment was already finished elsewhere.
	if err := s.store.SetStatus(ctx, p.ID, []Status{StatusProcessing}, StatusConfirmed); err != nil {
		if errors.Is(err, ErrStatusConflict) {
			return nil, apperr.ConflictErr("Payment was finished by another request.")
		}
		return nil, apperr.Wrap(err)
	}
	p.Status = StatusConfirmed

	s.logger.InfoContext(ctx, "payment confirmed",
		"payment_id", p.ID, "creator", creator, "amount", p.Amount)
	return conf, nil
}

// List returns every payment owned by creator.
func (s *Service) List(ctx context.Context, creator string) ([]Payment, error) {
	out, err := s.store.FindAll(ctx, Filter{Creator: creator})
	if err != nil {
		return nil, apperr.Wrap(err)
	}
	if out == nil {
		out = []Payment{}
	}
	return out, nil
}

// GatewayCredentials returns the client-side credential bundle for an
// allow-listed service.
func (s *Service) GatewayCredentials(ctx context.Context, service string) (*Credentials, error) {
	if !s.cfg.ServiceAllowed(service) {
		return nil, apperr.NotFoundErr("Unknown payment service.")
	}
	creds, err := s.gateway.Credentials(ctx, service)
	if err != nil {
		if errors.Is(err, ErrCredentialsNotFound) {
			return nil, apperr.NotFoundErr("Unknown payment service.")
		}
		return nil, apperr.Wrap(err)
	}
	return creds, nil
}

func (s *Service) validateParams(params PaymentParams) error {
	fields := map[string]string{}
	if !ValidAmount(params.Amount) {
		fields["amount"] = "Must be a non-negative decimal with at most two fractional digits."
	}
	if len(params.Orders) == 0 {
		fields["orders"] = "At least one order is required."
	}
	if params.Service != "" && !s.cfg.ServiceAllowed(params.Service) {
		fields["service"] = "Service is not supported."
	}
	if len(fields) > 0 {
		return apperr.InvalidErr("Invalid payment.", fields)
	}
	return nil
}

// mergeParams replaces the mutable fields of an existing pending
// payment with the newly submitted ones.
func mergeParams(p *Payment, params PaymentParams) error {
	orders, err := params.ordersJSON()
	if err != nil {
		return err
	}
	p.Amount = params.Amount
	p.Orders = orders
	p.Service = params.Service
	if params.ServiceID != "" {
		p.ServiceID = params.ServiceID
	}
	if params.Currency != "" {
		p.Currency = params.Currency
	}
	return nil
}
