// Package client provides a document store client session whose requests
// transparently answer authentication challenges.
package client

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/docstore-client/internal/auth"
	"github.com/vyrodovalexey/docstore-client/internal/pipeline"
)

// DefaultTimeout is the default timeout for a single request.
const DefaultTimeout = 30 * time.Second

// ErrInvalidServerURL is returned for a server URL that is not absolute.
var ErrInvalidServerURL = errors.New("server URL must be an absolute http or https URL")

// UnauthorizedHandler answers a 401 response. A non-nil token means the
// request should be sent again; nil means the 401 stands.
type UnauthorizedHandler func(
	ctx context.Context,
	resp *http.Response,
	creds auth.CredentialDescriptor,
) (*auth.CachedToken, error)

// ForbiddenHandler answers a 403 response. It returns an error to reject
// the request and nil to let the 403 through.
type ForbiddenHandler func(
	ctx context.Context,
	resp *http.Response,
	creds auth.CredentialDescriptor,
) error

// Client is a session against one document store server. The credential
// descriptor, the pipeline and the challenge handlers are fixed when the
// session is created.
type Client struct {
	baseURL  *url.URL
	creds    auth.CredentialDescriptor
	pipeline *pipeline.Pipeline
	http     *http.Client
	dialer   *websocket.Dialer
	logger   *zap.Logger

	basic   *auth.BasicAuthenticator
	secured *auth.SecuredAuthenticator

	onUnauthorized UnauthorizedHandler
	onForbidden    ForbiddenHandler
}

// New creates a client session for serverURL.
func New(serverURL string, creds auth.CredentialDescriptor, opts ...Option) (*Client, error) {
	base, err := url.Parse(strings.TrimSuffix(serverURL, "/"))
	if err != nil || (base.Scheme != "http" && base.Scheme != "https") || base.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidServerURL, serverURL)
	}

	o := newOptions(opts)

	exchangeClient := o.exchangeClient
	if exchangeClient == nil {
		exchangeClient = &http.Client{Transport: o.transport, Timeout: auth.DefaultExchangeTimeout}
	}
	authOpts := []auth.Option{
		auth.WithHTTPClient(exchangeClient),
		auth.WithLogger(o.logger),
		auth.WithServerURL(base.String()),
	}

	c := &Client{
		baseURL: base,
		creds:   creds,
		dialer:  o.dialer,
		logger:  o.logger,
		basic:   auth.NewBasicAuthenticator(authOpts...),
		secured: auth.NewSecuredAuthenticator(authOpts...),
	}

	if err := c.setupPipeline(o.hooks); err != nil {
		return nil, err
	}
	c.setupHTTPClient(o)
	c.installHandlers(o, auth.NewResolver(c.basic, c.secured, authOpts...))

	return c, nil
}

// setupPipeline registers the session hooks in their fixed order and seals
// the pipeline.
func (c *Client) setupPipeline(extra []pipeline.Hook) error {
	hooks := []pipeline.Hook{pipeline.RequestID()}

	if native, ok := c.creds.Native(); ok && !c.creds.HasAPIKey() {
		hooks = append(hooks, auth.NativeHook(native))
	}

	hooks = append(hooks, c.basic.Hook(), c.secured.Hook())
	hooks = append(hooks, extra...)

	p, err := pipeline.New(hooks...)
	if err != nil {
		return fmt.Errorf("creating request pipeline: %w", err)
	}
	p.Seal()
	c.pipeline = p
	return nil
}

// setupHTTPClient builds the transport stack:
// pipeline -> metrics -> [integrated auth] -> base.
func (c *Client) setupHTTPClient(o options) {
	base := o.transport
	if base == nil {
		base = http.DefaultTransport
	}
	if c.creds.HasNative() && !c.creds.HasAPIKey() {
		base = auth.NewNativeTransport(base)
	}

	c.http = &http.Client{
		Transport: &pipeline.Transport{
			Pipeline: c.pipeline,
			Base:     pipeline.Instrument(base),
		},
		Timeout: o.timeout,
	}
}

// installHandlers installs the resolver as challenge handler unless the
// embedding application supplied its own.
func (c *Client) installHandlers(o options, resolver *auth.Resolver) {
	c.onUnauthorized = o.onUnauthorized
	if c.onUnauthorized == nil {
		c.onUnauthorized = resolver.HandleUnauthorized
	} else {
		c.logger.Debug("keeping custom unauthorized handler")
	}

	c.onForbidden = o.onForbidden
	if c.onForbidden == nil {
		c.onForbidden = resolver.HandleForbidden
	} else {
		c.logger.Debug("keeping custom forbidden handler")
	}
}

// Do sends req. On a 401 the unauthorized handler runs and, if it yields a
// token, the request is sent exactly once more. On a 403 the forbidden
// handler may reject the request. The caller must close the response body.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	req, err := replayable(req)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}

	retry, err := c.handleChallenge(ctx, resp)
	if err != nil {
		drainAndClose(resp)
		return nil, err
	}
	if !retry {
		return resp, nil
	}
	drainAndClose(resp)

	again, err := rewind(req)
	if err != nil {
		return nil, err
	}

	c.logger.Debug("retrying request after resolved challenge",
		zap.String("method", again.Method),
		zap.String("path", again.URL.Path),
	)
	return c.http.Do(again)
}

// handleChallenge runs the challenge handlers for 401 and 403 responses and
// reports whether the request should be sent again.
func (c *Client) handleChallenge(ctx context.Context, resp *http.Response) (bool, error) {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		tok, err := c.onUnauthorized(ctx, resp, c.creds)
		if err != nil {
			return false, err
		}
		return tok != nil, nil
	case http.StatusForbidden:
		return false, c.onForbidden(ctx, resp, c.creds)
	default:
		return false, nil
	}
}

// NewRequest creates a request for a path relative to the server URL.
func (c *Client) NewRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	return http.NewRequestWithContext(ctx, method, c.URL(path), body)
}

// Get sends a GET request for path.
func (c *Client) Get(ctx context.Context, path string) (*http.Response, error) {
	req, err := c.NewRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return c.Do(req)
}

// URL returns the absolute URL of path on the server.
func (c *Client) URL(path string) string {
	return c.baseURL.String() + "/" + strings.TrimPrefix(path, "/")
}

// Credentials returns the session credentials.
func (c *Client) Credentials() auth.CredentialDescriptor {
	return c.creds
}

// Pipeline returns the session pipeline.
func (c *Client) Pipeline() *pipeline.Pipeline {
	return c.pipeline
}

// replayable makes sure the request body can be produced again for the
// retry.
func replayable(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody || req.GetBody != nil {
		return req, nil
	}

	data, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	if err != nil {
		return nil, fmt.Errorf("buffering request body: %w", err)
	}

	out := req.Clone(req.Context())
	out.Body = io.NopCloser(bytes.NewReader(data))
	out.GetBody = func() (io.ReadCloser, error) {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	return out, nil
}

// rewind returns a copy of req with a fresh body.
func rewind(req *http.Request) (*http.Request, error) {
	out := req.Clone(req.Context())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, fmt.Errorf("rewinding request body: %w", err)
		}
		out.Body = body
	}
	return out, nil
}

func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	_ = resp.Body.Close()
}
