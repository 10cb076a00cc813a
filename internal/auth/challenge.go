package auth

import (
	"net/http"
	"strings"
)

// Challenge header names and well-known values.
const (
	HeaderOAuthSource     = "OAuth-Source"
	HeaderRequiredAuth    = "Raven-Required-Auth"
	HeaderWWWAuthenticate = "WWW-Authenticate"

	// OAuthAPIKeyPath is the token endpoint path of current servers.
	OAuthAPIKeyPath = "/OAuth/API-Key"

	// RequiredAuthWindows is the Raven-Required-Auth value demanding
	// integrated credentials.
	RequiredAuthWindows = "Windows"
)

// ChallengeContext is the part of a 401/403 response the resolver looks at.
// It is built per response and never stored.
type ChallengeContext struct {
	Status          int
	OAuthSource     string
	RequiredAuth    string
	WWWAuthenticate []string
}

// NewChallengeContext extracts the challenge headers from resp.
func NewChallengeContext(resp *http.Response) ChallengeContext {
	return ChallengeContext{
		Status:          resp.StatusCode,
		OAuthSource:     strings.TrimSpace(resp.Header.Get(HeaderOAuthSource)),
		RequiredAuth:    strings.TrimSpace(resp.Header.Get(HeaderRequiredAuth)),
		WWWAuthenticate: resp.Header.Values(HeaderWWWAuthenticate),
	}
}

// IsLegacyOAuth reports whether the server advertised a token endpoint that
// is not the current /OAuth/API-Key one.
func (c ChallengeContext) IsLegacyOAuth() bool {
	return c.OAuthSource != "" && !hasSuffixFold(c.OAuthSource, OAuthAPIKeyPath)
}

// RequiresWindows reports whether the server demands integrated credentials.
func (c ChallengeContext) RequiresWindows() bool {
	return c.RequiredAuth == RequiredAuthWindows
}

// Schemes returns the auth schemes listed in WWW-Authenticate, in order.
func (c ChallengeContext) Schemes() []string {
	return ParseAuthSchemes(c.WWWAuthenticate...)
}

// OffersIntegratedAuth reports whether WWW-Authenticate lists an NTLM or
// Negotiate family scheme.
func (c ChallengeContext) OffersIntegratedAuth() bool {
	for _, scheme := range c.Schemes() {
		if isIntegratedScheme(scheme) {
			return true
		}
	}
	return false
}

// ParseAuthSchemes extracts the scheme names from one or more
// WWW-Authenticate header values. Auth parameters and token68 data are
// skipped.
//
// Example:
//
//	Negotiate, NTLM                         -> [Negotiate NTLM]
//	Bearer realm="a, b", Basic realm="x"    -> [Bearer Basic]
func ParseAuthSchemes(values ...string) []string {
	var schemes []string
	for _, value := range values {
		for _, part := range splitChallenges(value) {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			first := part
			if idx := strings.IndexAny(part, " \t"); idx >= 0 {
				first = part[:idx]
			}
			// auth-param of the previous challenge, e.g. scope="x"
			if strings.Contains(first, "=") {
				continue
			}
			schemes = append(schemes, first)
		}
	}
	return schemes
}

// splitChallenges splits a header value on commas outside quoted strings.
func splitChallenges(value string) []string {
	var (
		parts   []string
		current strings.Builder
		quoted  bool
		escaped bool
	)
	for _, r := range value {
		switch {
		case escaped:
			escaped = false
		case r == '\\' && quoted:
			escaped = true
		case r == '"':
			quoted = !quoted
		case r == ',' && !quoted:
			parts = append(parts, current.String())
			current.Reset()
			continue
		}
		current.WriteRune(r)
	}
	return append(parts, current.String())
}

// isIntegratedScheme matches NTLM and Negotiate family schemes.
func isIntegratedScheme(scheme string) bool {
	s := strings.ToLower(scheme)
	return strings.HasPrefix(s, "ntlm") ||
		strings.HasPrefix(s, "negotiate") ||
		strings.HasPrefix(s, "kerberos")
}

func hasSuffixFold(s, suffix string) bool {
	return len(s) >= len(suffix) && strings.EqualFold(s[len(s)-len(suffix):], suffix)
}
