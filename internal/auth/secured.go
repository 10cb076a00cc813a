package auth

import (
	"context"
	"strings"

	"github.com/vyrodovalexey/docstore-client/internal/pipeline"
)

// SecuredHookName is the registration name of the SecuredAuthenticator hook.
const SecuredHookName = "auth-secured"

// SecuredAuthenticator exchanges API keys at the server's /OAuth/API-Key
// endpoint.
type SecuredAuthenticator struct {
	store *tokenStore
}

// NewSecuredAuthenticator creates a new authenticator for the current
// OAuth flow.
func NewSecuredAuthenticator(opts ...Option) *SecuredAuthenticator {
	return &SecuredAuthenticator{
		store: newTokenStore(AuthMethodSecured, newOptions(opts)),
	}
}

// HandleChallenge exchanges the API key and caches the bearer token. An
// empty req.OAuthSource is replaced by req.ServerURL + "/OAuth/API-Key".
func (a *SecuredAuthenticator) HandleChallenge(ctx context.Context, req ExchangeRequest) (*CachedToken, error) {
	endpoint := req.OAuthSource
	if endpoint == "" {
		endpoint = SecuredEndpoint(req.ServerURL)
	}
	return a.store.obtain(ctx, endpoint, req)
}

// Token returns the cached token, or nil.
func (a *SecuredAuthenticator) Token() *CachedToken {
	return a.store.current()
}

// Hook returns the pre-send hook that applies the cached token.
func (a *SecuredAuthenticator) Hook() pipeline.Hook {
	return a.store.hook(SecuredHookName)
}

// Method returns the authentication method type.
func (a *SecuredAuthenticator) Method() AuthMethod {
	return AuthMethodSecured
}

// SecuredEndpoint returns the current OAuth endpoint of a server.
func SecuredEndpoint(serverURL string) string {
	return strings.TrimSuffix(serverURL, "/") + OAuthAPIKeyPath
}
