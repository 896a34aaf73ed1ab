package api

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"github.com/go-jose/go-jose/v4"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SUNET/fed-trust/pkg/federation"
	"github.com/SUNET/fed-trust/pkg/jwx"
	"github.com/SUNET/fed-trust/pkg/message"
)

type erroringFetcher struct{}

func (erroringFetcher) Get(context.Context, string) ([]byte, error) { return nil, assert.AnError }
func (erroringFetcher) Post(context.Context, string, string, []byte) ([]byte, error) {
	return nil, assert.AnError
}

func genTestKeyPair(t *testing.T, id string) (jwx.SigningKey, *message.JWKSet) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	pub := jose.JSONWebKey{Key: &priv.PublicKey, KeyID: id, Use: "sig", Algorithm: "RS256"}
	raw, err := json.Marshal(pub)
	require.NoError(t, err)
	return jwx.SigningKey{Algorithm: jose.RS256, Key: priv, KeyID: id},
		&message.JWKSet{Keys: []json.RawMessage{raw}}
}

func newTestFederationContext(t *testing.T, withAnchor bool) *federation.FederationContext {
	t.Helper()
	key, ownJWKS := genTestKeyPair(t, "https://entity.example.org")

	anchors := map[string]*message.JWKSet{}
	if withAnchor {
		_, anchorJWKS := genTestKeyPair(t, "https://ta.example.org")
		anchors["https://ta.example.org"] = anchorJWKS
	}

	fc, err := federation.New(federation.Config{
		EntityID:     "https://entity.example.org",
		SigningKey:   key,
		OwnJWKS:      ownJWKS,
		TrustAnchors: anchors,
		Fetcher:      erroringFetcher{},
	})
	require.NoError(t, err)
	return fc
}

func TestHealthHandler_AlwaysOK(t *testing.T) {
	gin.SetMode(gin.TestMode)
	serverCtx := NewServerContext(newTestFederationContext(t, false), nil)

	router := gin.New()
	RegisterHealthEndpoints(router, serverCtx)

	for _, path := range []string{"/health", "/healthz"} {
		req := httptest.NewRequest("GET", path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, 200, w.Code, path)
		assert.Contains(t, w.Body.String(), `"ok"`)
	}
}

func TestReadinessHandler_NotReadyWithoutTrustAnchors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	serverCtx := NewServerContext(newTestFederationContext(t, false), nil)

	router := gin.New()
	RegisterHealthEndpoints(router, serverCtx)

	for _, path := range []string{"/ready", "/readiness"} {
		req := httptest.NewRequest("GET", path, nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)
		assert.Equal(t, 503, w.Code, path)
		assert.Contains(t, w.Body.String(), "not_ready")
	}
}

func TestReadinessHandler_ReadyWithTrustAnchors(t *testing.T) {
	gin.SetMode(gin.TestMode)
	serverCtx := NewServerContext(newTestFederationContext(t, true), nil)

	router := gin.New()
	RegisterHealthEndpoints(router, serverCtx)

	req := httptest.NewRequest("GET", "/ready", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, 200, w.Code)
	assert.Contains(t, w.Body.String(), `"ready"`)
}
