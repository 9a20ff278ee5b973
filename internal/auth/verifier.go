package auth

import (
	"errors"
	"strings"
)

// ErrInvalidToken is returned when no verifier accepts a token.
var ErrInvalidToken = errors.New("invalid or expired token")

// Identity is the authenticated caller.
type Identity struct {
	UserID string
	Email  string
	Name   string
}

// TokenVerifier turns a bearer token into an identity.
type TokenVerifier interface {
	Verify(tokenString string) (*Identity, error)
}

// ChainVerifier tries each verifier in order and returns the first identity.
type ChainVerifier []TokenVerifier

// NewChainVerifier drops nil entries so optional verifiers can be passed as is.
func NewChainVerifier(verifiers ...TokenVerifier) ChainVerifier {
	var chain ChainVerifier
	for _, v := range verifiers {
		if v != nil {
			chain = append(chain, v)
		}
	}
	return chain
}

func (c ChainVerifier) Verify(tokenString string) (*Identity, error) {
	for _, v := range c {
		if id, err := v.Verify(tokenString); err == nil {
			return id, nil
		}
	}
	return nil, ErrInvalidToken
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) (string, bool) {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}
