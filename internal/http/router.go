package apphttp

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/digitalbazaar/bedrock-payment-http/internal/http/handlers"
	"github.com/digitalbazaar/bedrock-payment-http/internal/http/middleware"
)

// NewRouter wires the middleware chain and the payment routes. All
// payment endpoints require authentication.
func NewRouter(logger *slog.Logger, h *handlers.PaymentsHandler, auth middleware.Authenticator) *gin.Engine {
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logger(logger),
		middleware.Recovery(logger),
		middleware.ErrorHandler(logger),
	)

	p := r.Group("/payment", middleware.RequireAccount(auth))
	p.GET("/credentials", h.Credentials)
	p.GET("", h.List)
	p.POST("", h.Create)
	// Both verbs are accepted for processing.
	p.PUT("/:paymentId", h.Process)
	p.POST("/:paymentId", h.Process)

	return r
}
