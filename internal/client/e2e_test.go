//go:build e2e

package client

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/docstore-client/internal/auth"
	"github.com/vyrodovalexey/docstore-client/internal/model"
)

// Environment variables naming a running document store, for example
// `docstore serve-fake --mode secured`.
const (
	EnvE2EServerURL = "E2E_SERVER_URL"
	EnvE2EAPIKey    = "E2E_API_KEY"
)

func e2eClient(t *testing.T) *Client {
	t.Helper()

	base := os.Getenv(EnvE2EServerURL)
	if base == "" {
		base = "http://localhost:8080"
	}

	hc := &http.Client{Timeout: 3 * time.Second}
	resp, err := hc.Get(base + "/health")
	if err != nil {
		t.Skipf("Server unavailable at %s: %v", base, err)
	}
	resp.Body.Close()

	return newTestClient(t, base, auth.NewCredentialDescriptor(os.Getenv(EnvE2EAPIKey), nil))
}

func TestE2E_DocumentRoundTrip(t *testing.T) {
	c := e2eClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	sub, err := c.Subscribe(ctx, "e2e")
	require.NoError(t, err)
	defer sub.Close()

	id := "e2e-" + time.Now().UTC().Format("20060102150405.000000000")
	stored, err := c.PutDocument(ctx, "e2e", &model.Document{ID: id, Body: json.RawMessage(`{"step":1}`)})
	require.NoError(t, err)

	got, err := c.GetDocument(ctx, "e2e", id)
	require.NoError(t, err)
	assert.Equal(t, stored.ETag, got.ETag)

	for {
		n, err := sub.Next(ctx)
		require.NoError(t, err)
		if n.DocumentID == id {
			assert.Equal(t, model.ChangeTypePut, n.Type)
			return
		}
	}
}
