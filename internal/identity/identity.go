// Package identity resolves operator bearer credentials to the opaque owner
// key that scopes every campaign.
package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrUnauthenticated is returned when a credential is missing or not recognized.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrUnavailable is returned when the credential cannot be checked because
	// the identity provider is unreachable.
	ErrUnavailable = errors.New("identity provider unavailable")
)

// Resolver maps a bearer credential to an owner key
type Resolver interface {
	Resolve(ctx context.Context, bearer string) (string, error)
}

type ownerKey struct{}

// WithOwner stores the resolved owner in ctx
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// OwnerFrom returns the owner stored by WithOwner
func OwnerFrom(ctx context.Context) (string, bool) {
	owner, ok := ctx.Value(ownerKey{}).(string)
	return owner, ok && owner != ""
}

// StaticKey is a configured API key hash and the owner it authenticates
type StaticKey struct {
	Owner   string
	KeyHash string
}

// StaticKeys authenticates operators against bcrypt-hashed API keys
type StaticKeys struct {
	keys []StaticKey
}

// NewStaticKeys creates a resolver over the given keys
func NewStaticKeys(keys []StaticKey) *StaticKeys {
	return &StaticKeys{keys: keys}
}

// Resolve returns the owner whose hash matches bearer
func (s *StaticKeys) Resolve(ctx context.Context, bearer string) (string, error) {
	if bearer == "" {
		return "", ErrUnauthenticated
	}
	for _, k := range s.keys {
		if bcrypt.CompareHashAndPassword([]byte(k.KeyHash), []byte(bearer)) == nil {
			return k.Owner, nil
		}
	}
	return "", ErrUnauthenticated
}

// HashKey hashes an API key for the identity.api_keys config section
func HashKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("failed to hash key: %w", err)
	}
	return string(hash), nil
}

// Chain tries each resolver in order until one recognizes the credential.
// Errors other than ErrUnauthenticated stop the chain.
type Chain []Resolver

// Resolve implements Resolver
func (c Chain) Resolve(ctx context.Context, bearer string) (string, error) {
	for _, r := range c {
		owner, err := r.Resolve(ctx, bearer)
		if err == nil {
			return owner, nil
		}
		if !errors.Is(err, ErrUnauthenticated) {
			return "", err
		}
	}
	return "", ErrUnauthenticated
}

// BearerToken extracts the credential from an Authorization or X-API-Key header value
func BearerToken(authorization, apiKey string) string {
	if token, ok := strings.CutPrefix(authorization, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	if authorization != "" {
		return strings.TrimSpace(authorization)
	}
	return strings.TrimSpace(apiKey)
}
