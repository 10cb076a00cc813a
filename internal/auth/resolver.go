package auth

import (
	"context"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

// State is a step of challenge resolution.
type State int

const (
	// StateAwaitingChallenge means no challenge has been inspected yet.
	StateAwaitingChallenge State = iota
	// StateResolvingBasic means the legacy bridge is exchanging a token.
	StateResolvingBasic
	// StateResolvingSecured means the current OAuth flow is exchanging a token.
	StateResolvingSecured
	// StateResolved means a token was obtained and the request can be retried.
	StateResolved
	// StateRejected means the challenge cannot be satisfied.
	StateRejected
	// StateUnresolved means no action was taken; the original response stands.
	StateUnresolved
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateAwaitingChallenge:
		return "awaiting_challenge"
	case StateResolvingBasic:
		return "resolving_basic"
	case StateResolvingSecured:
		return "resolving_secured"
	case StateResolved:
		return "resolved"
	case StateRejected:
		return "rejected"
	case StateUnresolved:
		return "unresolved"
	default:
		return "unknown"
	}
}

// Resolution is the outcome of handling one challenge.
type Resolution struct {
	State  State
	Method AuthMethod
	Token  *CachedToken
}

// Resolver decides how to answer 401 and 403 responses and drives the
// matching authenticator.
type Resolver struct {
	basic     *BasicAuthenticator
	secured   *SecuredAuthenticator
	serverURL string
	logger    *zap.Logger
}

// NewResolver creates a resolver over the two authenticators. Only
// WithServerURL and WithLogger apply.
func NewResolver(basic *BasicAuthenticator, secured *SecuredAuthenticator, opts ...Option) *Resolver {
	o := newOptions(opts)
	return &Resolver{
		basic:     basic,
		secured:   secured,
		serverURL: o.serverURL,
		logger:    o.logger,
	}
}

// HandleUnauthorized answers a 401. It returns the new token when the
// caller should retry, nil when no action was taken, or an error.
func (r *Resolver) HandleUnauthorized(
	ctx context.Context,
	resp *http.Response,
	creds CredentialDescriptor,
) (*CachedToken, error) {
	if resp == nil {
		return nil, ErrNilResponse
	}
	res, err := r.resolveUnauthorized(ctx, resp, NewChallengeContext(resp), creds)
	r.record(resp.StatusCode, res)
	return res.Token, err
}

// HandleForbidden answers a 403. It never yields a token: it either fails
// with an UnsupportedAuthSchemeError or returns nil.
func (r *Resolver) HandleForbidden(
	_ context.Context,
	resp *http.Response,
	creds CredentialDescriptor,
) error {
	if resp == nil {
		return ErrNilResponse
	}
	res, err := r.resolveForbidden(NewChallengeContext(resp), creds)
	r.record(resp.StatusCode, res)
	return err
}

// Resolve dispatches on the response status. Responses other than 401 and
// 403 are left unresolved.
func (r *Resolver) Resolve(
	ctx context.Context,
	resp *http.Response,
	creds CredentialDescriptor,
) (Resolution, error) {
	if resp == nil {
		return Resolution{State: StateAwaitingChallenge, Method: AuthMethodNone}, ErrNilResponse
	}

	var (
		res Resolution
		err error
	)
	cc := NewChallengeContext(resp)
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		res, err = r.resolveUnauthorized(ctx, resp, cc, creds)
	case http.StatusForbidden:
		res, err = r.resolveForbidden(cc, creds)
	default:
		return Resolution{State: StateUnresolved, Method: AuthMethodNone}, nil
	}
	r.record(resp.StatusCode, res)
	return res, err
}

func (r *Resolver) resolveUnauthorized(
	ctx context.Context,
	resp *http.Response,
	cc ChallengeContext,
	creds CredentialDescriptor,
) (Resolution, error) {
	apiKey, _ := creds.APIKey()
	req := ExchangeRequest{
		ServerURL:   r.serverBase(resp),
		OAuthSource: cc.OAuthSource,
		APIKey:      apiKey,
		StaleBearer: bearerOf(resp.Request),
	}

	// An advertised non-standard endpoint wins even without an API key.
	if cc.IsLegacyOAuth() {
		r.transition(StateResolvingBasic, cc)
		tok, err := r.basic.HandleChallenge(ctx, req)
		return r.finish(AuthMethodBasic, tok, err)
	}

	if !creds.HasAPIKey() {
		if !creds.HasNative() {
			r.transition(StateUnresolved, cc)
			return Resolution{State: StateUnresolved, Method: AuthMethodNone}, nil
		}
		if err := assertNativeUnauthorized(cc); err != nil {
			r.reject(AuthMethodNative, cc, err)
			return Resolution{State: StateRejected, Method: AuthMethodNative}, err
		}
		r.transition(StateUnresolved, cc)
		return Resolution{State: StateUnresolved, Method: AuthMethodNative}, nil
	}

	r.transition(StateResolvingSecured, cc)
	tok, err := r.secured.HandleChallenge(ctx, req)
	return r.finish(AuthMethodSecured, tok, err)
}

func (r *Resolver) resolveForbidden(cc ChallengeContext, creds CredentialDescriptor) (Resolution, error) {
	if !creds.HasNative() {
		return Resolution{State: StateUnresolved, Method: AuthMethodNone}, nil
	}
	if err := assertNativeForbidden(cc); err != nil {
		r.reject(AuthMethodNative, cc, err)
		return Resolution{State: StateRejected, Method: AuthMethodNative}, err
	}
	return Resolution{State: StateUnresolved, Method: AuthMethodNative}, nil
}

func (r *Resolver) finish(method AuthMethod, tok *CachedToken, err error) (Resolution, error) {
	if err != nil {
		r.logger.Warn("challenge rejected",
			zap.String("method", string(method)),
			zap.Error(err),
		)
		return Resolution{State: StateRejected, Method: method}, err
	}
	r.logger.Debug("challenge resolved",
		zap.String("method", string(method)),
		zap.String("endpoint", tok.SourceEndpoint),
	)
	return Resolution{State: StateResolved, Method: method, Token: tok}, nil
}

func (r *Resolver) serverBase(resp *http.Response) string {
	if r.serverURL != "" {
		return r.serverURL
	}
	return serverIdentity(resp.Request)
}

func (r *Resolver) transition(to State, cc ChallengeContext) {
	r.logger.Debug("challenge state transition",
		zap.String("state", to.String()),
		zap.Int("status", cc.Status),
		zap.String("oauth_source", cc.OAuthSource),
	)
}

func (r *Resolver) reject(method AuthMethod, cc ChallengeContext, err error) {
	r.logger.Warn("challenge rejected",
		zap.String("method", string(method)),
		zap.Int("status", cc.Status),
		zap.Strings("www_authenticate", cc.WWWAuthenticate),
		zap.String("required_auth", cc.RequiredAuth),
		zap.Error(err),
	)
}

func (r *Resolver) record(status int, res Resolution) {
	challengesTotal.WithLabelValues(strconv.Itoa(status), res.State.String()).Inc()
}
