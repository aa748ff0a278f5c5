package config

import (
	"fmt"
	"os"
	"strings"
)

// Config is built once at startup and handed to the services that need
// it. Nothing reads the environment after Load returns.
type Config struct {
	Addr string

	// DBDSN selects the MySQL store when set; the in-memory store is
	// used otherwise (dev and tests).
	DBDSN string

	// Services is the gateway allow-list; a payment may only name one
	// of these as its service.
	Services []string

	// OrderProcessor names the processor used to confirm verified
	// purchases.
	OrderProcessor string

	// APITokens maps bearer tokens to account ids.
	APITokens map[string]string
}

const (
	defaultAddr      = ":8080"
	defaultProcessor = "plan"
)

func Load() (Config, error) {
	cfg := Config{
		Addr:           getenv("ADDR", defaultAddr),
		DBDSN:          os.Getenv("DB_DSN"),
		OrderProcessor: getenv("ORDER_PROCESSOR", defaultProcessor),
		APITokens:      map[string]string{},
	}

	for _, s := range strings.Split(os.Getenv("PAYMENT_SERVICES"), ",") {
		if s = strings.TrimSpace(s); s != "" {
			cfg.Services = append(cfg.Services, s)
		}
	}

	// API_TOKENS=token1:account1,token2:account2
	for _, pair := range strings.Split(os.Getenv("API_TOKENS"), ",") {
		if pair = strings.TrimSpace(pair); pair == "" {
			continue
		}
		token, account, ok := strings.Cut(pair, ":")
		if !ok || token == "" || account == "" {
			return Config{}, fmt.Errorf("config: malformed API_TOKENS entry %q", pair)
		}
		cfg.APITokens[token] = account
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	if len(c.Services) == 0 {
		return fmt.Errorf("config: PAYMENT_SERVICES must list at least one gateway service")
	}
	if c.OrderProcessor == "" {
		return fmt.Errorf("config: ORDER_PROCESSOR must not be empty")
	}
	return nil
}

// ServiceAllowed reports whether service is on the configured
// allow-list.
func (c Config) ServiceAllowed(service string) bool {
	for _, s := range c.Services {
		if s == service {
			return true
		}
	}
	return false
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
