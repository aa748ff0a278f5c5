package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/digitalbazaar/bedrock-payment-http/internal/http/middleware"
	"github.com/digitalbazaar/bedrock-payment-http/internal/http/validation"
	"github.com/digitalbazaar/bedrock-payment-http/internal/modules/payments"
	"github.com/digitalbazaar/bedrock-payment-http/internal/shared/apperr"
)

type PaymentsHandler struct {
	Logger *slog.Logger
	Svc    *payments.Service
}

func NewPaymentsHandler(logger *slog.Logger, svc *payments.Service) *PaymentsHandler {
	return &PaymentsHandler{Logger: logger, Svc: svc}
}

// creatingPayment mirrors the creation schema: amount and orders are
// required, everything else optional.
type creatingPayment struct {
	ID        string            `json:"id"`
	Amount    string            `json:"amount" binding:"required,amount"`
	Currency  string            `json:"currency"`
	Service   string            `json:"service"`
	ServiceID string            `json:"serviceId"`
	Status    string            `json:"status" binding:"omitempty,paymentstatus"`
	Orders    []json.RawMessage `json:"orders" binding:"required,min=1"`
}

type createRequest struct {
	Payment creatingPayment `json:"payment" binding:"required"`
}

// processingPayment mirrors the processing schema: the client posts
// the full payment back.
type processingPayment struct {
	ID        string            `json:"id" binding:"required"`
	Amount    string            `json:"amount" binding:"required,amount"`
	Currency  string            `json:"currency"`
	Creator   string            `json:"creator" binding:"required"`
	Validated *bool             `json:"validated"`
	Service   string            `json:"service" binding:"required"`
	ServiceID string            `json:"serviceId"`
	Status    string            `json:"status" binding:"required,paymentstatus"`
	Error     json.RawMessage   `json:"error"`
	Orders    []json.RawMessage `json:"orders" binding:"required,min=1"`
	Created   string            `json:"created" binding:"required"`
}

type processRequest struct {
	Payment processingPayment `json:"payment" binding:"required"`
	Order   *payments.Order   `json:"order"`
}

// GET /payment/credentials?service=
func (h *PaymentsHandler) Credentials(c *gin.Context) {
	service := c.Query("service")
	if service == "" {
		middleware.Fail(c, apperr.InvalidErr("You must provide a service in the query.", nil))
		return
	}

	creds, err := h.Svc.GatewayCredentials(c.Request.Context(), service)
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, creds)
}

// GET /payment
func (h *PaymentsHandler) List(c *gin.Context) {
	creator, ok := middleware.CurrentAccount(c)
	if !ok {
		middleware.Fail(c, apperr.UnauthorizedErr("Authentication required."))
		return
	}

	list, err := h.Svc.List(c.Request.Context(), creator)
	if err != nil {
		middleware.Fail(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// POST /payment
func (h *PaymentsHandler) Create(c *gin.Context) {
	creator, ok := middleware.CurrentAccount(c)
	if !ok {
		middleware.Fail(c, apperr.UnauthorizedErr("Authentication required."))
		return
	}

	var req createRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Fail(c, apperr.InvalidErr("Invalid payment.", validation.FromBindError(err, &req.Payment)))
		return
	}

	res, err := h.Svc.Submit(c.Request.Context(), creator, payments.PaymentParams{
		Amount:    req.Payment.Amount,
		Currency:  req.Payment.Currency,
		Service:   req.Payment.Service,
		ServiceID: req.Payment.ServiceID,
		Orders:    req.Payment.Orders,
	})
	if err != nil {
		middleware.Fail(c, err)
		return
	}

	status := http.StatusCreated
	if res.Merged {
		status = http.StatusOK
	}
	c.JSON(status, gin.H{"order": res.Order, "payment": res.Payment})
}

// PUT/POST /payment/:paymentId
func (h *PaymentsHandler) Process(c *gin.Context) {
	creator, ok := middleware.CurrentAccount(c)
	if !ok {
		middleware.Fail(c, apperr.UnauthorizedErr("Authentication required."))
		return
	}

	paymentID := c.Param("paymentId")

	var req processRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Fail(c, apperr.InvalidErr("Invalid payment.", validation.FromBindError(err, &req.Payment)))
		return
	}
	if req.Payment.ID != paymentID {
		middleware.Fail(c, apperr.InvalidErr("Payment id mismatch.", map[string]string{
			"id": "Body payment id must match the path.",
		}))
		return
	}

	conf, err := h.Svc.Advance(c.Request.Context(), creator, paymentID, req.Order)
	if err != nil {
		// A voided payment is a processed request whose purchase was
		// rejected, not a malformed one.
		if errors.Is(err, payments.ErrPaymentVoided) {
			c.JSON(http.StatusOK, gin.H{
				"orderConfirmed": nil,
				"error":          apperr.PublicMessage(err),
			})
			return
		}
		middleware.Fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"orderConfirmed": conf})
}
