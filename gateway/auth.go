package gateway

import (
	"context"

	"github.com/xraph/herald/auth"
)

// Identity is the authenticated user behind a connection.
type Identity struct {
	UserID string `json:"userId"`
	Email  string `json:"email,omitempty"`
	Role   string `json:"role,omitempty"`
}

// Authenticator validates a handshake credential and returns an identity.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*Identity, error)
}

// JWTAuthenticator verifies HS256 bearer tokens with the same verifier
// the HTTP surface uses.
type JWTAuthenticator struct {
	verifier *auth.Verifier
}

// NewJWTAuthenticator creates an authenticator backed by v.
func NewJWTAuthenticator(v *auth.Verifier) *JWTAuthenticator {
	return &JWTAuthenticator{verifier: v}
}

func (a *JWTAuthenticator) Authenticate(_ context.Context, token string) (*Identity, error) {
	claims, err := a.verifier.Verify(token)
	if err != nil {
		return nil, err
	}
	return &Identity{UserID: claims.UserID, Email: claims.Email, Role: claims.Role}, nil
}
