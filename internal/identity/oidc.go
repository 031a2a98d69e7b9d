package identity

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
)

// OIDC authenticates operators by verifying ID tokens; the subject claim is the owner key
type OIDC struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDC discovers the issuer and builds a verifier for clientID
func NewOIDC(ctx context.Context, issuerURL, clientID string) (*OIDC, error) {
	provider, err := oidc.NewProvider(ctx, issuerURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create OIDC provider: %w", err)
	}
	return NewOIDCWithVerifier(provider.Verifier(&oidc.Config{ClientID: clientID})), nil
}

// NewOIDCWithVerifier wraps an existing verifier
func NewOIDCWithVerifier(v *oidc.IDTokenVerifier) *OIDC {
	return &OIDC{verifier: v}
}

// Resolve verifies bearer as an ID token
func (o *OIDC) Resolve(ctx context.Context, bearer string) (string, error) {
	if bearer == "" {
		return "", ErrUnauthenticated
	}
	token, err := o.verifier.Verify(ctx, bearer)
	if err != nil {
		if keyFetchFailed(err) {
			return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return "", fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if token.Subject == "" {
		return "", fmt.Errorf("%w: token has no subject", ErrUnauthenticated)
	}
	return token.Subject, nil
}

// keyFetchFailed reports whether verification failed before the signature
// could be checked. The verifier flattens the key set error into its message.
func keyFetchFailed(err error) bool {
	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return true
	}
	return strings.Contains(err.Error(), "fetching keys")
}
