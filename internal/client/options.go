package client

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/vyrodovalexey/docstore-client/internal/pipeline"
)

// Option configures a Client.
type Option func(*options)

type options struct {
	logger         *zap.Logger
	transport      http.RoundTripper
	exchangeClient *http.Client
	timeout        time.Duration
	hooks          []pipeline.Hook
	dialer         *websocket.Dialer
	onUnauthorized UnauthorizedHandler
	onForbidden    ForbiddenHandler
}

func newOptions(opts []Option) options {
	o := options{
		logger:  zap.NewNop(),
		timeout: DefaultTimeout,
		dialer:  websocket.DefaultDialer,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithTransport sets the base transport under the pipeline.
func WithTransport(rt http.RoundTripper) Option {
	return func(o *options) {
		o.transport = rt
	}
}

// WithExchangeClient sets the HTTP client used for token exchanges.
func WithExchangeClient(c *http.Client) Option {
	return func(o *options) {
		o.exchangeClient = c
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithHooks registers additional pre-send hooks after the built-in ones.
func WithHooks(hooks ...pipeline.Hook) Option {
	return func(o *options) {
		o.hooks = append(o.hooks, hooks...)
	}
}

// WithDialer sets the websocket dialer used for change subscriptions.
func WithDialer(d *websocket.Dialer) Option {
	return func(o *options) {
		o.dialer = d
	}
}

// WithUnauthorizedHandler replaces the built-in 401 handling.
func WithUnauthorizedHandler(h UnauthorizedHandler) Option {
	return func(o *options) {
		o.onUnauthorized = h
	}
}

// WithForbiddenHandler replaces the built-in 403 handling.
func WithForbiddenHandler(h ForbiddenHandler) Option {
	return func(o *options) {
		o.onForbidden = h
	}
}
