package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/vyrodovalexey/docstore-client/internal/pipeline"
)

const (
	// DefaultExchangeTimeout is the default timeout for token exchange requests.
	DefaultExchangeTimeout = 30 * time.Second

	// maxTokenResponseSize bounds the token endpoint response body.
	maxTokenResponseSize = 64 << 10

	// exchangeKey is the singleflight key; one exchange per authenticator.
	exchangeKey = "exchange"
)

// Token exchange request headers.
const (
	HeaderAPIKey    = "Api-Key"
	HeaderGrantType = "grant_type"
	GrantType       = "client_credentials"
)

// CachedToken is a bearer token obtained by an authenticator.
type CachedToken struct {
	Bearer         string
	IssuedFor      string
	SourceEndpoint string
}

// OAuth2 returns the token as an oauth2.Token.
func (t *CachedToken) OAuth2() *oauth2.Token {
	return &oauth2.Token{AccessToken: t.Bearer, TokenType: "Bearer"}
}

// ExchangeRequest carries the inputs of a token exchange.
type ExchangeRequest struct {
	// ServerURL is the base URL of the server that issued the challenge.
	ServerURL string
	// OAuthSource is the token endpoint advertised by the server, if any.
	OAuthSource string
	// APIKey is sent as the exchange secret.
	APIKey string
	// StaleBearer is the bearer carried by the request that got the 401.
	StaleBearer string
}

// Option configures authenticators and the resolver.
type Option func(*options)

type options struct {
	httpClient *http.Client
	logger     *zap.Logger
	serverURL  string
}

// WithHTTPClient sets the HTTP client used for token exchanges. It must not
// go through the session pipeline.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) {
		o.httpClient = c
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithServerURL sets the server base URL used to synthesize the current
// OAuth endpoint. Without it the scheme and host of the challenged request
// are used.
func WithServerURL(serverURL string) Option {
	return func(o *options) {
		o.serverURL = strings.TrimSuffix(serverURL, "/")
	}
}

func newOptions(opts []Option) options {
	o := options{
		httpClient: &http.Client{Timeout: DefaultExchangeTimeout},
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// tokenStore owns the cached token of one authenticator and serializes its
// exchanges.
type tokenStore struct {
	method AuthMethod
	client *http.Client
	logger *zap.Logger

	mu    sync.RWMutex
	token *CachedToken

	group singleflight.Group
}

func newTokenStore(method AuthMethod, o options) *tokenStore {
	return &tokenStore{
		method: method,
		client: o.httpClient,
		logger: o.logger.With(zap.String("authenticator", string(method))),
	}
}

// current returns the cached token, or nil.
func (s *tokenStore) current() *CachedToken {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// invalidate discards the cached token if it is still the stale one.
func (s *tokenStore) invalidate(stale string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.token == nil || stale == "" || s.token.Bearer != stale {
		return false
	}
	s.token = nil
	return true
}

// obtain returns a token for endpoint, reusing a cached token that is newer
// than the one the failed request carried and otherwise running one
// coalesced exchange.
func (s *tokenStore) obtain(ctx context.Context, endpoint string, req ExchangeRequest) (*CachedToken, error) {
	issuedFor := identityOf(req.ServerURL)

	if s.invalidate(req.StaleBearer) {
		s.logger.Debug("discarded stale token", zap.String("endpoint", endpoint))
	} else if tok := s.current(); tok != nil &&
		tok.SourceEndpoint == endpoint && tok.IssuedFor == issuedFor {
		s.logger.Debug("reusing token obtained by a concurrent request", zap.String("endpoint", endpoint))
		return tok, nil
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		ch := s.group.DoChan(exchangeKey, func() (any, error) {
			return s.exchange(ctx, endpoint, issuedFor, req.APIKey)
		})

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%s token exchange: %w", s.method, ctx.Err())
		case res := <-ch:
			if res.Err == nil {
				return res.Val.(*CachedToken), nil
			}
			lastErr = res.Err
			// The leader was cancelled; this caller was not.
			if res.Shared && ctx.Err() == nil && isContextError(res.Err) {
				continue
			}
			return nil, res.Err
		}
	}
	return nil, lastErr
}

// exchange performs the token request and stores the result.
func (s *tokenStore) exchange(ctx context.Context, endpoint, issuedFor, apiKey string) (*CachedToken, error) {
	start := time.Now()
	s.logger.Debug("exchanging API key for bearer token", zap.String("endpoint", endpoint))

	bearer, err := s.requestToken(ctx, endpoint, apiKey)
	tokenExchangeDuration.WithLabelValues(string(s.method)).Observe(time.Since(start).Seconds())
	if err != nil {
		tokenExchangesTotal.WithLabelValues(string(s.method), "error").Inc()
		s.logger.Warn("token exchange failed", zap.String("endpoint", endpoint), zap.Error(err))
		return nil, err
	}

	// A cancelled exchange must leave the cache alone.
	if err := ctx.Err(); err != nil {
		tokenExchangesTotal.WithLabelValues(string(s.method), "cancelled").Inc()
		return nil, &TransportError{Endpoint: endpoint, Err: err}
	}

	tok := &CachedToken{
		Bearer:         bearer,
		IssuedFor:      issuedFor,
		SourceEndpoint: endpoint,
	}

	s.mu.Lock()
	s.token = tok
	s.mu.Unlock()

	tokenExchangesTotal.WithLabelValues(string(s.method), "success").Inc()
	s.logger.Info("token exchange succeeded",
		zap.String("endpoint", endpoint),
		zap.String("issued_for", issuedFor),
	)
	return tok, nil
}

// requestToken sends the exchange request and returns the bearer value.
func (s *tokenStore) requestToken(ctx context.Context, endpoint, apiKey string) (string, error) {
	form := url.Values{HeaderGrantType: {GrantType}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("creating token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json, text/plain")
	req.Header.Set(HeaderGrantType, GrantType)
	if apiKey != "" {
		req.Header.Set(HeaderAPIKey, apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return "", &TransportError{Endpoint: endpoint, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponseSize))
	if err != nil {
		return "", &TransportError{Endpoint: endpoint, Err: err}
	}

	if resp.StatusCode != http.StatusOK {
		return "", &TokenExchangeError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(body)),
		}
	}

	bearer, err := parseTokenBody(resp.Header.Get("Content-Type"), body)
	if err != nil {
		return "", fmt.Errorf("parsing token response from %s: %w", endpoint, err)
	}
	return bearer, nil
}

// tokenResponse is the JSON shape accepted from token endpoints.
type tokenResponse struct {
	AccessToken string `json:"access_token"`
	Token       string `json:"token"`
}

// parseTokenBody accepts either an opaque text token or a JSON document
// with an access_token (or token) field.
func parseTokenBody(contentType string, body []byte) (string, error) {
	trimmed := strings.TrimSpace(string(body))
	if strings.Contains(contentType, "json") || strings.HasPrefix(trimmed, "{") {
		var tr tokenResponse
		if err := json.Unmarshal([]byte(trimmed), &tr); err != nil {
			return "", err
		}
		trimmed = tr.AccessToken
		if trimmed == "" {
			trimmed = tr.Token
		}
	}
	if trimmed == "" {
		return "", ErrEmptyToken
	}
	return trimmed, nil
}

// hook returns the pre-send hook injecting the cached token into requests
// for the server the token was issued for.
func (s *tokenStore) hook(name string) pipeline.Hook {
	return pipeline.NewHook(name, func(r *http.Request) {
		tok := s.current()
		if tok == nil || tok.IssuedFor != serverIdentity(r) {
			return
		}
		tok.OAuth2().SetAuthHeader(r)
	})
}

// identityOf returns scheme://host of a URL string.
func identityOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimSuffix(rawURL, "/"))
	}
	return strings.ToLower(u.Scheme + "://" + u.Host)
}

// bearerOf returns the bearer token carried by a request, if any.
func bearerOf(r *http.Request) string {
	if r == nil {
		return ""
	}
	h := r.Header.Get("Authorization")
	if len(h) > len("Bearer ") && strings.EqualFold(h[:len("Bearer ")], "Bearer ") {
		return strings.TrimSpace(h[len("Bearer "):])
	}
	return ""
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
