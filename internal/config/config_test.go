package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad(t *testing.T) {
	t.Setenv("ADDR", "")
	t.Setenv("DB_DSN", "")
	t.Setenv("PAYMENT_SERVICES", "paypal, stripe")
	t.Setenv("ORDER_PROCESSOR", "")
	t.Setenv("API_TOKENS", "tok1:acct1,tok2:acct2")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, []string{"paypal", "stripe"}, cfg.Services)
	assert.Equal(t, "plan", cfg.OrderProcessor)
	assert.Equal(t, "acct2", cfg.APITokens["tok2"])
}

func TestLoadRequiresServices(t *testing.T) {
	t.Setenv("PAYMENT_SERVICES", "")
	t.Setenv("API_TOKENS", "")

	_, err := Load()
	require.Error(t, err)
}

func TestLoadRejectsMalformedTokens(t *testing.T) {
	t.Setenv("PAYMENT_SERVICES", "paypal")
	t.Setenv("API_TOKENS", "token-without-account")

	_, err := Load()
	require.Error(t, err)
}

func TestServiceAllowed(t *testing.T) {
	cfg := Config{Services: []string{"paypal"}}
	assert.True(t, cfg.ServiceAllowed("paypal"))
	assert.False(t, cfg.ServiceAllowed("stripe"))
	assert.False(t, cfg.ServiceAllowed(""))
}
