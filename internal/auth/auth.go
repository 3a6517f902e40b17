package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/sharetube/syncserver/internal/domain"
)

type Identity struct {
	ClientID    string
	DisplayName string
}

type Claims struct {
	Name string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// Authenticator verifies HS256 tokens signed with the shared server secret.
type Authenticator struct {
	secret []byte
}

func New(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Authenticate checks that token is valid and was issued to clientID.
func (a *Authenticator) Authenticate(_ context.Context, clientID, token string) (Identity, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Identity{}, fmt.Errorf("failed to parse token: %w: %w", domain.ErrAuth, err)
	}

	if !parsed.Valid {
		return Identity{}, fmt.Errorf("invalid token: %w", domain.ErrAuth)
	}

	if claims.Subject != clientID {
		return Identity{}, fmt.Errorf("token subject %q does not match client id: %w", claims.Subject, domain.ErrAuth)
	}

	return Identity{ClientID: clientID, DisplayName: claims.Name}, nil
}

// SignToken issues a token for clientID. A zero ttl means no expiry.
func (a *Authenticator) SignToken(clientID, name string, ttl time.Duration) (string, error) {
	claims := Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  clientID,
			IssuedAt: jwt.NewNumericDate(time.Now()),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	return token.SignedString(a.secret)
}
