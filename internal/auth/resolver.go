// Package auth resolves the principal of an incoming connection.
package auth

import (
	"net/http"
	"strings"

	"github.com/weiawesome/wes-io-chat/internal/domain"
	"github.com/weiawesome/wes-io-chat/pkg/log"
	"github.com/weiawesome/wes-io-chat/pkg/middleware"
)

// TokenQueryParam carries the token for clients that cannot set headers on
// a websocket handshake.
const TokenQueryParam = "token"

// Resolver maps a handshake request to a principal.
type Resolver struct {
	validator middleware.TokenValidator
}

// NewResolver creates a resolver using validator.
func NewResolver(validator middleware.TokenValidator) *Resolver {
	return &Resolver{validator: validator}
}

// PrincipalOf returns the authenticated principal of r, or
// domain.Anonymous when no valid token is present.
func (res *Resolver) PrincipalOf(r *http.Request) domain.Principal {
	token := tokenOf(r)
	if token == "" {
		return domain.Anonymous
	}

	claims, err := res.validator.ValidateToken(token)
	if err != nil {
		l := log.Ctx(r.Context())
		l.Debug().Err(err).Msg("handshake token rejected, continuing as anonymous")
		return domain.Anonymous
	}

	return domain.Principal{
		UserID:   claims.UserID,
		Username: claims.Username,
		Roles:    claims.Roles,
	}
}

func tokenOf(r *http.Request) string {
	if h := r.Header.Get(middleware.AuthHeaderKey); strings.HasPrefix(h, middleware.BearerPrefix) {
		return strings.TrimSpace(strings.TrimPrefix(h, middleware.BearerPrefix))
	}
	return r.URL.Query().Get(TokenQueryParam)
}
