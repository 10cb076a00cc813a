package auth

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCredentialDescriptor(t *testing.T) {
	t.Parallel()

	native := &NativeCredential{Domain: "CORP", Username: "alice", Password: "pw"}

	tests := []struct {
		name       string
		apiKey     string
		native     *NativeCredential
		wantAPIKey bool
		wantNative bool
		wantMode   AuthMethod
	}{
		{name: "nothing", wantMode: AuthMethodNone},
		{name: "API key", apiKey: "k/s", wantAPIKey: true, wantMode: AuthMethodSecured},
		{name: "native", native: native, wantNative: true, wantMode: AuthMethodNative},
		{name: "both", apiKey: "k/s", native: native, wantAPIKey: true, wantNative: true, wantMode: AuthMethodSecured},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			d := NewCredentialDescriptor(tt.apiKey, tt.native)

			key, ok := d.APIKey()
			assert.Equal(t, tt.wantAPIKey, ok)
			assert.Equal(t, tt.apiKey, key)
			assert.Equal(t, tt.wantAPIKey, d.HasAPIKey())

			cred, ok := d.Native()
			assert.Equal(t, tt.wantNative, ok)
			assert.Equal(t, tt.wantNative, d.HasNative())
			if tt.wantNative {
				assert.Equal(t, *tt.native, cred)
			}

			assert.Equal(t, tt.wantMode, d.Mode())
		})
	}
}

func TestCredentialDescriptor_IsImmutable(t *testing.T) {
	t.Parallel()

	native := &NativeCredential{Username: "alice", Password: "pw"}
	d := NewCredentialDescriptor("", native)

	native.Password = "changed"
	got, _ := d.Native()
	assert.Equal(t, "pw", got.Password)

	got.Username = "mallory"
	again, _ := d.Native()
	assert.Equal(t, "alice", again.Username)
}

func TestCredentialDescriptor_Equal(t *testing.T) {
	t.Parallel()

	a := NewCredentialDescriptor("k/s", &NativeCredential{Username: "alice"})

	assert.True(t, a.Equal(NewCredentialDescriptor("k/s", &NativeCredential{Username: "alice"})))
	assert.False(t, a.Equal(NewCredentialDescriptor("k/s", &NativeCredential{Username: "bob"})))
	assert.False(t, a.Equal(NewCredentialDescriptor("k/s", nil)))
	assert.False(t, a.Equal(NewCredentialDescriptor("other/s", &NativeCredential{Username: "alice"})))
	assert.True(t, NewCredentialDescriptor("", nil).Equal(CredentialDescriptor{}))
}

func TestNativeCredential_String(t *testing.T) {
	t.Parallel()

	withDomain := NativeCredential{Domain: "CORP", Username: "alice", Password: "hunter2"}
	bare := NativeCredential{Username: "alice", Password: "hunter2"}

	assert.Equal(t, `CORP\alice`, withDomain.Principal())
	assert.Equal(t, "alice", bare.Principal())
	assert.NotContains(t, withDomain.String(), "hunter2")
	assert.NotContains(t, fmt.Sprintf("%v", withDomain), "hunter2")
	assert.Contains(t, withDomain.String(), `CORP\alice`)
}
