package jwt

import (
	"crypto/rsa"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token has expired")
	ErrWrongType    = errors.New("token is not an access token")
)

const TypeAccess = "access"

// Claims represents JWT claims issued by the auth service.
type Claims struct {
	jwt.RegisteredClaims
	UserID   string   `json:"user_id"`
	Email    string   `json:"email"`
	Username string   `json:"username"`
	Roles    []string `json:"roles"`
	Type     string   `json:"type"` // "access" or "refresh"
}

// Config selects the verification key. Exactly one of Secret or
// PublicKeyPEM should be set.
type Config struct {
	Secret       string `mapstructure:"secret"`
	PublicKeyPEM string `mapstructure:"public_key_pem"`
	Issuer       string `mapstructure:"issuer"`
}

// Manager verifies access tokens. Tokens are issued elsewhere; Sign exists
// for HMAC deployments and tests.
type Manager struct {
	secret    []byte
	publicKey *rsa.PublicKey
	issuer    string
}

// NewManager creates a token manager from configuration.
func NewManager(cfg Config) (*Manager, error) {
	m := &Manager{issuer: cfg.Issuer}

	switch {
	case cfg.PublicKeyPEM != "":
		key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.PublicKeyPEM))
		if err != nil {
			return nil, fmt.Errorf("failed to parse jwt public key: %w", err)
		}
		m.publicKey = key
	case cfg.Secret != "":
		m.secret = []byte(cfg.Secret)
	default:
		return nil, errors.New("jwt: either secret or public_key_pem is required")
	}

	return m, nil
}

// ValidateToken validates an access token and returns its claims.
func (m *Manager) ValidateToken(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, m.keyFunc, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.Type != "" && claims.Type != TypeAccess {
		return nil, ErrWrongType
	}
	if claims.Username == "" {
		return nil, ErrInvalidToken
	}

	return claims, nil
}

// Sign issues an HMAC access token. Only available with a shared secret.
func (m *Manager) Sign(userID, username string, roles []string, ttl time.Duration) (string, error) {
	if m.secret == nil {
		return "", errors.New("jwt: signing requires a shared secret")
	}

	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		UserID:   userID,
		Username: username,
		Roles:    roles,
		Type:     TypeAccess,
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}

func (m *Manager) keyFunc(token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodRSA:
		if m.publicKey == nil {
			return nil, ErrInvalidToken
		}
		return m.publicKey, nil
	case *jwt.SigningMethodHMAC:
		if m.secret == nil {
			return nil, ErrInvalidToken
		}
		return m.secret, nil
	default:
		return nil, ErrInvalidToken
	}
}
