package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/vyrodovalexey/docstore-client/internal/auth"
	"github.com/vyrodovalexey/docstore-client/internal/config"
	"github.com/vyrodovalexey/docstore-client/internal/fakestore"
	"github.com/vyrodovalexey/docstore-client/internal/model"
	"github.com/vyrodovalexey/docstore-client/internal/pipeline"
	"github.com/vyrodovalexey/docstore-client/internal/store"
)

const testAPIKey = "reader/s3cret"

var (
	keyringOnce sync.Once
	keyring     *fakestore.Keyring
)

func testKeyring(t *testing.T) *fakestore.Keyring {
	t.Helper()
	keyringOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
		if err != nil {
			panic(err)
		}
		keyring, err = fakestore.ParseAPIKeys("reader:" + string(hash))
		if err != nil {
			panic(err)
		}
	})
	return keyring
}

// newFakeStore starts a fake document store answering in mode.
func newFakeStore(t *testing.T, mode string) (*fakestore.Server, *httptest.Server) {
	t.Helper()

	srv, err := fakestore.New(fakestore.Options{
		Mode:    mode,
		Keyring: testKeyring(t),
	}, zap.NewNop(), store.NewMemoryStore())
	require.NoError(t, err)

	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		srv.CloseSubscriptions()
		ts.Close()
	})
	return srv, ts
}

func newTestClient(t *testing.T, serverURL string, creds auth.CredentialDescriptor, opts ...Option) *Client {
	t.Helper()

	c, err := New(serverURL, creds, append([]Option{WithLogger(zap.NewNop())}, opts...)...)
	require.NoError(t, err)
	return c
}

func testDoc(id string) *model.Document {
	return &model.Document{ID: id, Body: json.RawMessage(`{"name":"` + id + `"}`)}
}

func TestNew_InvalidServerURL(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "localhost:8080", "ftp://store", "http://"} {
		_, err := New(raw, auth.NewCredentialDescriptor("", nil))
		assert.ErrorIs(t, err, ErrInvalidServerURL, "url %q", raw)
	}
}

func TestNew_PipelineOrder(t *testing.T) {
	t.Parallel()

	native := &auth.NativeCredential{Username: "alice", Password: "pw"}
	extra := pipeline.NewHook("tracing", func(*http.Request) {})

	tests := []struct {
		name  string
		creds auth.CredentialDescriptor
		opts  []Option
		want  []string
	}{
		{
			name:  "API key",
			creds: auth.NewCredentialDescriptor(testAPIKey, nil),
			want:  []string{pipeline.RequestIDHookName, auth.BasicHookName, auth.SecuredHookName},
		},
		{
			name:  "native credential",
			creds: auth.NewCredentialDescriptor("", native),
			want: []string{
				pipeline.RequestIDHookName, auth.NativeHookName, auth.BasicHookName, auth.SecuredHookName,
			},
		},
		{
			name:  "API key ignores native credential",
			creds: auth.NewCredentialDescriptor(testAPIKey, native),
			want:  []string{pipeline.RequestIDHookName, auth.BasicHookName, auth.SecuredHookName},
		},
		{
			name:  "extra hooks run last",
			creds: auth.NewCredentialDescriptor("", nil),
			opts:  []Option{WithHooks(extra)},
			want:  []string{pipeline.RequestIDHookName, auth.BasicHookName, auth.SecuredHookName, "tracing"},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			c := newTestClient(t, "http://store.example.com", tt.creds, tt.opts...)

			var names []string
			for _, h := range c.Pipeline().Hooks() {
				names = append(names, h.Name())
			}
			assert.Equal(t, tt.want, names)
			assert.True(t, c.Pipeline().Sealed())
			assert.True(t, tt.creds.Equal(c.Credentials()))
		})
	}
}

func TestNew_LateRegistrationFails(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, "http://store.example.com", auth.NewCredentialDescriptor("", nil))

	err := c.Pipeline().Register(pipeline.NewHook("late", func(*http.Request) {}))
	require.ErrorIs(t, err, pipeline.ErrPipelineSealed)
}

func TestNew_DuplicateHookFails(t *testing.T) {
	t.Parallel()

	_, err := New("http://store.example.com", auth.NewCredentialDescriptor("", nil),
		WithHooks(pipeline.NewHook(auth.SecuredHookName, func(*http.Request) {})))
	require.ErrorIs(t, err, pipeline.ErrDuplicateHook)
}

func TestClient_SecuredFlow(t *testing.T) {
	t.Parallel()

	srv, ts := newFakeStore(t, config.ModeSecured)
	c := newTestClient(t, ts.URL, auth.NewCredentialDescriptor(testAPIKey, nil))
	ctx := context.Background()

	stored, err := c.PutDocument(ctx, "default", testDoc("users-1"))
	require.NoError(t, err)
	assert.Equal(t, "users-1", stored.ID)
	assert.NotEmpty(t, stored.ETag)

	got, err := c.GetDocument(ctx, "default", "users-1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"users-1"}`, string(got.Body))
	assert.Equal(t, stored.ETag, got.ETag)

	assert.EqualValues(t, 1, srv.Exchanges())
}

func TestClient_LegacyFlow(t *testing.T) {
	t.Parallel()

	srv, ts := newFakeStore(t, config.ModeLegacy)
	c := newTestClient(t, ts.URL, auth.NewCredentialDescriptor(testAPIKey, nil))

	_, err := c.PutDocument(context.Background(), "default", testDoc("users-1"))
	require.NoError(t, err)

	assert.EqualValues(t, 1, srv.Exchanges())
}

func TestClient_RevokedTokenIsExchangedAgain(t *testing.T) {
	t.Parallel()

	srv, ts := newFakeStore(t, config.ModeSecured)
	c := newTestClient(t, ts.URL, auth.NewCredentialDescriptor(testAPIKey, nil))
	ctx := context.Background()

	_, err := c.PutDocument(ctx, "default", testDoc("users-1"))
	require.NoError(t, err)
	require.Equal(t, 1, srv.RevokeTokens())

	_, err = c.GetDocument(ctx, "default", "users-1")
	require.NoError(t, err)

	assert.EqualValues(t, 2, srv.Exchanges())
}

func TestClient_ConcurrentChallengesShareOneExchange(t *testing.T) {
	t.Parallel()

	srv, ts := newFakeStore(t, config.ModeSecured)
	c := newTestClient(t, ts.URL, auth.NewCredentialDescriptor(testAPIKey, nil))
	_, err := c.PutDocument(context.Background(), "default", testDoc("users-1"))
	require.NoError(t, err)
	require.Equal(t, 1, srv.RevokeTokens())

	const workers = 10
	var wg sync.WaitGroup
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = c.GetDocument(context.Background(), "default", "users-1")
		}()
	}
	wg.Wait()

	for _, err := range errs {
		require.NoError(t, err)
	}
	assert.EqualValues(t, 2, srv.Exchanges())
}

func TestClient_Subscribe(t *testing.T) {
	t.Parallel()

	srv, ts := newFakeStore(t, config.ModeSecured)
	c := newTestClient(t, ts.URL, auth.NewCredentialDescriptor(testAPIKey, nil))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub, err := c.Subscribe(ctx, "default")
	require.NoError(t, err)
	defer sub.Close()

	require.Eventually(t, func() bool { return srv.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	stored, err := c.PutDocument(ctx, "default", testDoc("users-1"))
	require.NoError(t, err)

	n, err := sub.Next(ctx)
	require.NoError(t, err)
	assert.Equal(t, model.ChangeTypePut, n.Type)
	assert.Equal(t, "default", n.Database)
	assert.Equal(t, "users-1", n.DocumentID)
	assert.Equal(t, stored.ETag, n.ETag)

	assert.EqualValues(t, 1, srv.Exchanges())
}

func TestClient_SubscribeNextHonoursContext(t *testing.T) {
	t.Parallel()

	_, ts := newFakeStore(t, config.ModeOpen)
	c := newTestClient(t, ts.URL, auth.NewCredentialDescriptor("", nil))

	sub, err := c.Subscribe(context.Background(), "default")
	require.NoError(t, err)
	defer sub.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err = sub.Next(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClient_SubscribeWithoutCredentials(t *testing.T) {
	t.Parallel()

	_, ts := newFakeStore(t, config.ModeSecured)
	c := newTestClient(t, ts.URL, auth.NewCredentialDescriptor("", nil))

	_, err := c.Subscribe(context.Background(), "default")

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
}

func TestClient_NoCredentialsKeepsUnauthorized(t *testing.T) {
	t.Parallel()

	srv, ts := newFakeStore(t, config.ModeSecured)
	c := newTestClient(t, ts.URL, auth.NewCredentialDescriptor("", nil))

	resp, err := c.Get(context.Background(), DocumentPath("default", "users-1"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get(auth.HeaderOAuthSource))
	assert.Zero(t, srv.Exchanges())

	_, err = c.GetDocument(context.Background(), "default", "users-1")
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
}

func TestClient_WindowsRequiredIsUnsupported(t *testing.T) {
	t.Parallel()

	_, ts := newFakeStore(t, config.ModeWindowsForbidden)
	c := newTestClient(t, ts.URL, auth.NewCredentialDescriptor("", &auth.NativeCredential{
		Domain: "CORP", Username: "alice", Password: "pw",
	}))

	_, err := c.GetDocument(context.Background(), "default", "users-1")

	require.Error(t, err)
	assert.True(t, auth.IsUnsupportedAuthScheme(err))
	var schemeErr *auth.UnsupportedAuthSchemeError
	require.ErrorAs(t, err, &schemeErr)
	assert.Equal(t, http.StatusForbidden, schemeErr.Status)
}

func TestClient_ForbiddenWithoutNativeCredentialPassesThrough(t *testing.T) {
	t.Parallel()

	_, ts := newFakeStore(t, config.ModeWindowsForbidden)
	c := newTestClient(t, ts.URL, auth.NewCredentialDescriptor(testAPIKey, nil))

	resp, err := c.Get(context.Background(), DocumentPath("default", "users-1"))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestClient_NativeCredentialWithoutIntegratedScheme(t *testing.T) {
	t.Parallel()

	_, ts := newFakeStore(t, config.ModeBasicOnly)
	c := newTestClient(t, ts.URL, auth.NewCredentialDescriptor("", &auth.NativeCredential{
		Username: "alice", Password: "pw",
	}))

	_, err := c.Get(context.Background(), DocumentPath("default", "users-1"))

	require.ErrorIs(t, err, auth.ErrUnsupportedAuthScheme)
	var schemeErr *auth.UnsupportedAuthSchemeError
	require.ErrorAs(t, err, &schemeErr)
	assert.Equal(t, []string{"Basic"}, schemeErr.Offered)
}

// rejectingServer answers every document request with 401 and serves a
// working token endpoint.
type rejectingServer struct {
	docRequests atomic.Int32
	exchanges   atomic.Int32
	mu          sync.Mutex
	bodies      []string
	authHeaders []string
	acceptAfter int32 // 0 means never accept
}

func (s *rejectingServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == auth.OAuthAPIKeyPath {
		s.exchanges.Add(1)
		_, _ = io.WriteString(w, "issued-token")
		return
	}

	n := s.docRequests.Add(1)
	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	s.bodies = append(s.bodies, string(body))
	s.authHeaders = append(s.authHeaders, r.Header.Get("Authorization"))
	s.mu.Unlock()

	if s.acceptAfter > 0 && n > s.acceptAfter {
		w.WriteHeader(http.StatusOK)
		return
	}
	w.WriteHeader(http.StatusUnauthorized)
}

func TestClient_RetriesExactlyOnce(t *testing.T) {
	t.Parallel()

	rs := &rejectingServer{}
	ts := httptest.NewServer(rs)
	t.Cleanup(ts.Close)

	c := newTestClient(t, ts.URL, auth.NewCredentialDescriptor(testAPIKey, nil))

	resp, err := c.Get(context.Background(), "databases/default/docs/x")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.EqualValues(t, 2, rs.docRequests.Load())
	assert.EqualValues(t, 1, rs.exchanges.Load())

	rs.mu.Lock()
	defer rs.mu.Unlock()
	assert.Empty(t, rs.authHeaders[0])
	assert.Equal(t, "Bearer issued-token", rs.authHeaders[1])
}

func TestClient_RetryReplaysBody(t *testing.T) {
	t.Parallel()

	rs := &rejectingServer{acceptAfter: 1}
	ts := httptest.NewServer(rs)
	t.Cleanup(ts.Close)

	c := newTestClient(t, ts.URL, auth.NewCredentialDescriptor(testAPIKey, nil))

	// MultiReader hides the concrete type, so the request has no GetBody.
	body := io.MultiReader(strings.NewReader(`{"name":"alice"}`))
	req, err := c.NewRequest(context.Background(), http.MethodPut, "databases/default/docs/alice", body)
	require.NoError(t, err)
	require.Nil(t, req.GetBody)

	resp, err := c.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	assert.Equal(t, []string{`{"name":"alice"}`, `{"name":"alice"}`}, rs.bodies)
}

func TestClient_CustomHandlersAreKept(t *testing.T) {
	t.Parallel()

	rs := &rejectingServer{}
	ts := httptest.NewServer(rs)
	t.Cleanup(ts.Close)

	var unauthorized atomic.Int32
	c := newTestClient(t, ts.URL, auth.NewCredentialDescriptor(testAPIKey, nil),
		WithUnauthorizedHandler(func(context.Context, *http.Response, auth.CredentialDescriptor) (*auth.CachedToken, error) {
			unauthorized.Add(1)
			return nil, nil
		}),
	)

	resp, err := c.Get(context.Background(), "databases/default/docs/x")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.EqualValues(t, 1, unauthorized.Load())
	assert.Zero(t, rs.exchanges.Load())
	assert.EqualValues(t, 1, rs.docRequests.Load())
}

func TestClient_CustomForbiddenHandler(t *testing.T) {
	t.Parallel()

	_, ts := newFakeStore(t, config.ModeWindowsForbidden)
	sentinel := errors.New("custom forbidden")
	c := newTestClient(t, ts.URL, auth.NewCredentialDescriptor("", nil),
		WithForbiddenHandler(func(context.Context, *http.Response, auth.CredentialDescriptor) error {
			return sentinel
		}),
	)

	_, err := c.Get(context.Background(), DocumentPath("default", "users-1"))
	require.ErrorIs(t, err, sentinel)
}

func TestClient_TokenEndpointUnreachable(t *testing.T) {
	t.Parallel()

	dead := httptest.NewServer(http.NotFoundHandler())
	deadURL := dead.URL
	dead.Close()

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set(auth.HeaderOAuthSource, deadURL+"/OAuth/Token")
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(ts.Close)

	c := newTestClient(t, ts.URL, auth.NewCredentialDescriptor(testAPIKey, nil))

	_, err := c.Get(context.Background(), "databases/default/docs/x")

	var trErr *auth.TransportError
	require.ErrorAs(t, err, &trErr)
	assert.Equal(t, deadURL+"/OAuth/Token", trErr.Endpoint)
}

func TestClient_GetDocumentNotFound(t *testing.T) {
	t.Parallel()

	_, ts := newFakeStore(t, config.ModeOpen)
	c := newTestClient(t, ts.URL, auth.NewCredentialDescriptor("", nil))

	_, err := c.GetDocument(context.Background(), "default", "missing")

	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, http.StatusNotFound, statusErr.StatusCode)
	assert.Equal(t, "document not found", statusErr.Message)
}

func TestClient_PutDocumentValidates(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, "http://store.example.com", auth.NewCredentialDescriptor("", nil))

	_, err := c.PutDocument(context.Background(), "default", &model.Document{ID: "x", Body: json.RawMessage(`[]`)})
	require.ErrorIs(t, err, model.ErrInvalidBody)
}

func TestClient_RequestIDIsSent(t *testing.T) {
	t.Parallel()

	ids := make(chan string, 1)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ids <- r.Header.Get(pipeline.RequestIDHeader)
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(ts.Close)

	c := newTestClient(t, ts.URL, auth.NewCredentialDescriptor("", nil))
	resp, err := c.Get(context.Background(), "/health")
	require.NoError(t, err)
	resp.Body.Close()

	assert.NotEmpty(t, <-ids)
}

func TestClient_URL(t *testing.T) {
	t.Parallel()

	c := newTestClient(t, "http://store.example.com/", auth.NewCredentialDescriptor("", nil))

	assert.Equal(t, "http://store.example.com/databases/db/docs/a", c.URL("databases/db/docs/a"))
	assert.Equal(t, "http://store.example.com/health", c.URL("/health"))
	assert.Equal(t, "databases/my%20db/docs/a%2Fb", DocumentPath("my db", "a/b"))
	assert.Equal(t, "databases/my%20db/changes", ChangesPath("my db"))
}

func TestStatusError(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "server returned status 404", (&StatusError{StatusCode: 404}).Error())
	assert.Equal(t, "server returned status 404: gone", (&StatusError{StatusCode: 404, Message: "gone"}).Error())
}
