package auth

import "fmt"

// NativeCredential is the handle handed to the integrated authentication
// transport.
type NativeCredential struct {
	Domain   string
	Username string
	Password string
}

// Principal returns the account name in DOMAIN\user form, or the bare user
// name when no domain is set.
func (c NativeCredential) Principal() string {
	if c.Domain == "" {
		return c.Username
	}
	return c.Domain + `\` + c.Username
}

// String implements fmt.Stringer without exposing the password.
func (c NativeCredential) String() string {
	return fmt.Sprintf("NativeCredential{%s}", c.Principal())
}

// CredentialDescriptor holds the credentials of a client session. It is a
// value: construct a new one instead of changing an existing one.
type CredentialDescriptor struct {
	apiKey string
	native *NativeCredential
}

// NewCredentialDescriptor creates a descriptor. An empty apiKey and a nil
// native credential mean "not configured".
func NewCredentialDescriptor(apiKey string, native *NativeCredential) CredentialDescriptor {
	d := CredentialDescriptor{apiKey: apiKey}
	if native != nil {
		cp := *native
		d.native = &cp
	}
	return d
}

// APIKey returns the API key and whether one is set.
func (d CredentialDescriptor) APIKey() (string, bool) {
	return d.apiKey, d.apiKey != ""
}

// Native returns a copy of the native credential and whether one is set.
func (d CredentialDescriptor) Native() (NativeCredential, bool) {
	if d.native == nil {
		return NativeCredential{}, false
	}
	return *d.native, true
}

// HasAPIKey reports whether an API key is configured.
func (d CredentialDescriptor) HasAPIKey() bool {
	return d.apiKey != ""
}

// HasNative reports whether a native credential is configured.
func (d CredentialDescriptor) HasNative() bool {
	return d.native != nil
}

// Mode returns the authentication family selected by the descriptor. The
// API key wins over the native credential.
func (d CredentialDescriptor) Mode() AuthMethod {
	switch {
	case d.HasAPIKey():
		return AuthMethodSecured
	case d.HasNative():
		return AuthMethodNative
	default:
		return AuthMethodNone
	}
}

// Equal reports whether two descriptors carry the same credentials.
func (d CredentialDescriptor) Equal(other CredentialDescriptor) bool {
	if d.apiKey != other.apiKey {
		return false
	}
	if d.native == nil || other.native == nil {
		return d.native == other.native
	}
	return *d.native == *other.native
}
