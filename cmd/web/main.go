package main

import (
	"log"
	"os"

	"log/slog"

	"github.com/joho/godotenv"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/digitalbazaar/bedrock-payment-http/internal/config"
	apphttp "github.com/digitalbazaar/bedrock-payment-http/internal/http"
	"github.com/digitalbazaar/bedrock-payment-http/internal/http/handlers"
	"github.com/digitalbazaar/bedrock-payment-http/internal/http/middleware"
	"github.com/digitalbazaar/bedrock-payment-http/internal/modules/payments"
)

func main() {
	// Load .env file (ignore error if not found - prod uses real env vars)
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	var store payments.Store
	if cfg.DBDSN != "" {
		db, err := gorm.Open(mysql.Open(cfg.DBDSN), &gorm.Config{})
		if err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		store = payments.NewRepo(db)
	} else {
		logger.Warn("DB_DSN not set, using the in-memory store")
		store = payments.NewMemStore()
	}

	gateway := payments.NewSandboxGateway(cfg.Services)
	registry := payments.NewRegistry(payments.PlanProcessor{})
	svc := payments.NewService(store, gateway, registry, cfg, logger)

	auth := middleware.NewTokenAuthenticator(cfg.APITokens)
	h := handlers.NewPaymentsHandler(logger, svc)

	r := apphttp.NewRouter(logger, h, auth)

	logger.Info("payment service listening", "addr", cfg.Addr)
	if err := r.Run(cfg.Addr); err != nil {
		log.Fatalf("server stopped: %v", err)
	}
}
