package auth

import (
	"context"
	"errors"

	"github.com/vyrodovalexey/docstore-client/internal/pipeline"
)

// BasicHookName is the registration name of the BasicAuthenticator hook.
const BasicHookName = "auth-basic"

// ErrMissingOAuthSource is returned when the legacy bridge is asked to
// exchange without an advertised endpoint.
var ErrMissingOAuthSource = errors.New("legacy OAuth exchange requires an OAuth-Source endpoint")

// BasicAuthenticator bridges to servers that advertise their own token
// endpoint through the OAuth-Source header instead of /OAuth/API-Key.
type BasicAuthenticator struct {
	store *tokenStore
}

// NewBasicAuthenticator creates a new legacy OAuth bridge.
func NewBasicAuthenticator(opts ...Option) *BasicAuthenticator {
	return &BasicAuthenticator{
		store: newTokenStore(AuthMethodBasic, newOptions(opts)),
	}
}

// HandleChallenge exchanges the API key at req.OAuthSource and caches the
// resulting bearer token. Transport failures are returned unchanged in a
// TransportError.
func (a *BasicAuthenticator) HandleChallenge(ctx context.Context, req ExchangeRequest) (*CachedToken, error) {
	if req.OAuthSource == "" {
		return nil, ErrMissingOAuthSource
	}
	return a.store.obtain(ctx, req.OAuthSource, req)
}

// Token returns the cached token, or nil.
func (a *BasicAuthenticator) Token() *CachedToken {
	return a.store.current()
}

// Hook returns the pre-send hook that applies the cached token.
func (a *BasicAuthenticator) Hook() pipeline.Hook {
	return a.store.hook(BasicHookName)
}

// Method returns the authentication method type.
func (a *BasicAuthenticator) Method() AuthMethod {
	return AuthMethodBasic
}
