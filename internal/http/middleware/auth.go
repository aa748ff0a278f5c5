package middleware

import (
	"context"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/digitalbazaar/bedrock-payment-http/internal/shared/apperr"
)

const CtxKeyAccountID = "account_id"

var ErrBadToken = errors.New("unknown or empty token")

// Account identifies an authenticated caller.
type Account struct {
	ID string
}

// Authenticator resolves a bearer token to an account. Authentication
// itself lives outside this service; this is the seam it plugs into.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Account, error)
}

// TokenAuthenticator authenticates against a static token→account map
// from configuration.
type TokenAuthenticator struct {
	tokens map[string]string
}

func NewTokenAuthenticator(tokens map[string]string) *TokenAuthenticator {
	return &TokenAuthenticator{tokens: tokens}
}

func (a *TokenAuthenticator) Authenticate(_ context.Context, token string) (*Account, error) {
	id, ok := a.tokens[token]
	if !ok {
		return nil, ErrBadToken
	}
	return &Account{ID: id}, nil
}

// RequireAccount rejects requests without a valid bearer token and
// stores the account id in the context for handlers.
func RequireAccount(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.GetHeader("Authorization"))
		if token == "" {
			Fail(c, apperr.UnauthorizedErr("Authentication required."))
			return
		}

		acct, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			Fail(c, apperr.UnauthorizedErr("Authentication required.").WithErr(err))
			return
		}

		c.Set(CtxKeyAccountID, acct.ID)
		c.Next()
	}
}

// CurrentAccount returns the authenticated account id, if any.
func CurrentAccount(c *gin.Context) (string, bool) {
	if v, ok := c.Get(CtxKeyAccountID); ok {
		if s, ok := v.(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}
