package auth

import (
	"fmt"
	"net/http"

	"github.com/Azure/go-ntlmssp"

	"github.com/vyrodovalexey/docstore-client/internal/pipeline"
)

// NativeHookName is the registration name of the native credential hook.
const NativeHookName = "auth-native"

// NativeHook returns a hook that hands the native credential to the
// integrated authentication transport. The credential travels as basic
// auth on the outgoing request; NewNativeTransport turns it into an
// NTLM/Negotiate handshake.
func NativeHook(cred NativeCredential) pipeline.Hook {
	return pipeline.NewHook(NativeHookName, func(r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			return
		}
		r.SetBasicAuth(cred.Principal(), cred.Password)
	})
}

// NewNativeTransport wraps base with the NTLM/Negotiate handshake.
func NewNativeTransport(base http.RoundTripper) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return ntlmssp.Negotiator{RoundTripper: base}
}

// assertNativeUnauthorized fails when the server answered 401 to a client
// holding a native credential without offering an integrated scheme.
func assertNativeUnauthorized(cc ChallengeContext) error {
	if cc.OffersIntegratedAuth() {
		return nil
	}
	return &UnsupportedAuthSchemeError{
		Status:  cc.Status,
		Offered: cc.Schemes(),
		Reason: fmt.Sprintf(
			"server does not appear to support integrated authentication: %s lists neither NTLM nor Negotiate",
			HeaderWWWAuthenticate,
		),
	}
}

// assertNativeForbidden fails when the server demands Windows credentials
// the client could not satisfy.
func assertNativeForbidden(cc ChallengeContext) error {
	if !cc.RequiresWindows() {
		return nil
	}
	return &UnsupportedAuthSchemeError{
		Status:   cc.Status,
		Required: cc.RequiredAuth,
		Reason:   "server requires Windows-style credentials but the supplied native credential was not accepted",
	}
}
