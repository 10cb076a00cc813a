// Package auth negotiates authentication challenges returned by a document
// store server. It classifies 401 and 403 responses, exchanges API keys for
// bearer tokens and keeps those tokens for the request pipeline.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// AuthMethod represents the authentication method used.
type AuthMethod string

const (
	// AuthMethodNone indicates no authentication.
	AuthMethodNone AuthMethod = "none"
	// AuthMethodNative indicates integrated (NTLM/Negotiate) credentials.
	AuthMethodNative AuthMethod = "native"
	// AuthMethodBasic indicates the legacy OAuth bridge.
	AuthMethodBasic AuthMethod = "basic"
	// AuthMethodSecured indicates the current OAuth API-key flow.
	AuthMethodSecured AuthMethod = "secured"
)

// Sentinel errors for authentication failures.
var (
	ErrUnsupportedAuthScheme = errors.New("unsupported authentication scheme")
	ErrTokenExchange         = errors.New("token exchange failed")
	ErrEmptyToken            = errors.New("token endpoint returned an empty token")
	ErrNilResponse           = errors.New("response cannot be nil")
)

// UnsupportedAuthSchemeError reports that the server cannot or will not
// honor the native credential configured on the client.
type UnsupportedAuthSchemeError struct {
	Status   int
	Required string
	Offered  []string
	Reason   string
}

// Error implements the error interface.
func (e *UnsupportedAuthSchemeError) Error() string {
	msg := fmt.Sprintf("%s (status %d)", e.Reason, e.Status)
	if e.Required != "" {
		msg += fmt.Sprintf(", server requires %q", e.Required)
	}
	if len(e.Offered) > 0 {
		msg += fmt.Sprintf(", server offered [%s]", strings.Join(e.Offered, ", "))
	}
	return msg
}

// Is reports whether target is ErrUnsupportedAuthScheme.
func (e *UnsupportedAuthSchemeError) Is(target error) bool {
	return target == ErrUnsupportedAuthScheme
}

// TransportError wraps a network failure that happened while talking to a
// token endpoint.
type TransportError struct {
	Endpoint string
	Err      error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("transport error calling %s: %v", e.Endpoint, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// TokenExchangeError reports a token endpoint that answered but refused to
// issue a token.
type TokenExchangeError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

// Error implements the error interface.
func (e *TokenExchangeError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: %s returned status %d", ErrTokenExchange, e.Endpoint, e.StatusCode)
	}
	return fmt.Sprintf("%s: %s returned status %d: %s", ErrTokenExchange, e.Endpoint, e.StatusCode, e.Body)
}

// Unwrap returns ErrTokenExchange.
func (e *TokenExchangeError) Unwrap() error {
	return ErrTokenExchange
}

// IsUnsupportedAuthScheme reports whether err is an unsupported scheme failure.
func IsUnsupportedAuthScheme(err error) bool {
	return errors.Is(err, ErrUnsupportedAuthScheme)
}

// serverIdentity returns scheme://host of the request URL, used to bind a
// token to the server that asked for it.
func serverIdentity(r *http.Request) string {
	if r == nil || r.URL == nil {
		return ""
	}
	return strings.ToLower(r.URL.Scheme + "://" + r.URL.Host)
}
