package fakestore

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/vyrodovalexey/docstore-client/internal/auth"
	"github.com/vyrodovalexey/docstore-client/internal/config"
)

// Token endpoint paths.
const (
	APIKeyTokenPath = auth.OAuthAPIKeyPath
	LegacyTokenPath = "/OAuth/Token"
)

// Keyring errors.
var (
	ErrEmptyKeyring     = errors.New("fakestore: API keys config must not be empty")
	ErrInvalidKeyEntry  = errors.New("fakestore: invalid API key entry, expected name:hash")
	ErrUnknownKeyName   = errors.New("fakestore: unknown API key name")
	ErrWrongKeySecret   = errors.New("fakestore: wrong API key secret")
	ErrMalformedAPIKey  = errors.New("fakestore: API key must have the form name/secret")
	ErrMissingAPIKey    = errors.New("fakestore: Api-Key header is required")
	ErrInvalidGrantType = errors.New("fakestore: unsupported grant type")
)

// publicPaths are served without a challenge.
var publicPaths = map[string]bool{
	"/health":       true,
	"/metrics":      true,
	APIKeyTokenPath: true,
	LegacyTokenPath: true,
}

// Keyring holds the API keys the fake store accepts, as bcrypt hashes of
// their secrets keyed by name.
type Keyring struct {
	hashes map[string]string
}

// ParseAPIKeys parses a keyring from a configuration string in the format
// "name1:hash1,name2:hash2". Bcrypt hashes contain '$' but no colon, so the
// first colon separates the name from the hash.
func ParseAPIKeys(keysConfig string) (*Keyring, error) {
	trimmed := strings.TrimSpace(keysConfig)
	if trimmed == "" {
		return nil, ErrEmptyKeyring
	}

	hashes := make(map[string]string)
	for _, entry := range strings.Split(trimmed, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		name, hash, ok := strings.Cut(entry, ":")
		if !ok || name == "" || hash == "" {
			return nil, ErrInvalidKeyEntry
		}
		hashes[name] = hash
	}

	if len(hashes) == 0 {
		return nil, ErrEmptyKeyring
	}

	return &Keyring{hashes: hashes}, nil
}

// Verify checks an API key of the form name/secret and returns the key name.
func (k *Keyring) Verify(apiKey string) (string, error) {
	name, secret, ok := strings.Cut(apiKey, "/")
	if !ok || name == "" || secret == "" {
		return "", ErrMalformedAPIKey
	}

	hash, exists := k.hashes[name]
	if !exists {
		return "", fmt.Errorf("%w: %s", ErrUnknownKeyName, name)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)); err != nil {
		return "", ErrWrongKeySecret
	}

	return name, nil
}

// tokenIssuer issues and checks bearer tokens.
type tokenIssuer struct {
	keyring   *Keyring
	logger    *zap.Logger
	mu        sync.RWMutex
	tokens    map[string]string // token -> key name
	exchanges atomic.Int64
}

func newTokenIssuer(keyring *Keyring, logger *zap.Logger) *tokenIssuer {
	return &tokenIssuer{
		keyring: keyring,
		logger:  logger,
		tokens:  make(map[string]string),
	}
}

// registerRoutes registers both token endpoints.
func (t *tokenIssuer) registerRoutes(router *mux.Router) {
	router.HandleFunc(APIKeyTokenPath, t.handleExchange).Methods(http.MethodPost)
	router.HandleFunc(LegacyTokenPath, t.handleExchange).Methods(http.MethodPost)
}

// handleExchange handles POST /OAuth/API-Key and POST /OAuth/Token.
func (t *tokenIssuer) handleExchange(w http.ResponseWriter, r *http.Request) {
	t.exchanges.Add(1)
	_, _ = io.Copy(io.Discard, io.LimitReader(r.Body, 4<<10))

	if grant := r.Header.Get(auth.HeaderGrantType); grant != "" && grant != auth.GrantType {
		t.reject(w, r, http.StatusBadRequest, ErrInvalidGrantType)
		return
	}

	apiKey := r.Header.Get(auth.HeaderAPIKey)
	if apiKey == "" {
		t.reject(w, r, http.StatusUnauthorized, ErrMissingAPIKey)
		return
	}

	if t.keyring == nil {
		t.reject(w, r, http.StatusUnauthorized, ErrEmptyKeyring)
		return
	}

	name, err := t.keyring.Verify(apiKey)
	if err != nil {
		t.reject(w, r, http.StatusUnauthorized, err)
		return
	}

	token := uuid.New().String()
	t.mu.Lock()
	t.tokens[token] = name
	t.mu.Unlock()

	t.logger.Debug("token issued",
		zap.String("key", name),
		zap.String("path", r.URL.Path),
	)

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, token)
}

func (t *tokenIssuer) reject(w http.ResponseWriter, r *http.Request, status int, err error) {
	t.logger.Warn("token exchange rejected",
		zap.String("path", r.URL.Path),
		zap.Int("status", status),
		zap.Error(err),
	)
	http.Error(w, err.Error(), status)
}

// valid reports whether the request carries an issued bearer token.
func (t *tokenIssuer) valid(r *http.Request) bool {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || token == "" {
		return false
	}

	t.mu.RLock()
	defer t.mu.RUnlock()
	_, exists := t.tokens[token]
	return exists
}

// revoke forgets every issued token and returns how many there were.
func (t *tokenIssuer) revoke() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := len(t.tokens)
	t.tokens = make(map[string]string)
	return n
}

// challenge returns a middleware that answers unauthenticated requests the
// way a document store running in mode does.
func challenge(mode string, issuer *tokenIssuer, logger *zap.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if mode == config.ModeOpen || publicPaths[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			switch mode {
			case config.ModeSecured, config.ModeLegacy:
				if issuer.valid(r) {
					next.ServeHTTP(w, r)
					return
				}
				source := baseURL(r) + APIKeyTokenPath
				if mode == config.ModeLegacy {
					source = baseURL(r) + LegacyTokenPath
				}
				w.Header().Set(auth.HeaderOAuthSource, source)
				deny(w, r, logger, http.StatusUnauthorized, mode)

			case config.ModeWindows:
				if hasIntegratedAuth(r) {
					next.ServeHTTP(w, r)
					return
				}
				w.Header().Add(auth.HeaderWWWAuthenticate, "Negotiate")
				w.Header().Add(auth.HeaderWWWAuthenticate, "NTLM")
				deny(w, r, logger, http.StatusUnauthorized, mode)

			case config.ModeBasicOnly:
				w.Header().Set(auth.HeaderWWWAuthenticate, `Basic realm="docstore"`)
				deny(w, r, logger, http.StatusUnauthorized, mode)

			case config.ModeWindowsForbidden:
				w.Header().Set(auth.HeaderRequiredAuth, auth.RequiredAuthWindows)
				deny(w, r, logger, http.StatusForbidden, mode)

			default:
				deny(w, r, logger, http.StatusInternalServerError, mode)
			}
		})
	}
}

func deny(w http.ResponseWriter, r *http.Request, logger *zap.Logger, status int, mode string) {
	logger.Debug("request challenged",
		zap.String("path", r.URL.Path),
		zap.String("mode", mode),
		zap.Int("status", status),
	)
	writeError(w, logger, status, http.StatusText(status))
}

// hasIntegratedAuth accepts the first NTLM or Negotiate message without
// running a challenge round.
func hasIntegratedAuth(r *http.Request) bool {
	scheme, data, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || data == "" {
		return false
	}
	return strings.EqualFold(scheme, "NTLM") || strings.EqualFold(scheme, "Negotiate")
}

// baseURL returns the scheme and host the request was addressed to.
func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
