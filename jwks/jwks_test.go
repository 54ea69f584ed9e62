package jwks

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/require"
)

// testKeySet generates an RSA key pair per key id and returns the private
// keys plus the serialized public JWKS document to serve from test servers.
func testKeySet(t *testing.T, keyIDs ...string) (map[string]*rsa.PrivateKey, []byte) {
	t.Helper()

	privateKeys := make(map[string]*rsa.PrivateKey, len(keyIDs))
	set := jwk.NewSet()

	for _, keyID := range keyIDs {
		privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
		require.NoError(t, err)
		privateKeys[keyID] = privateKey

		publicKey, err := jwk.FromRaw(privateKey.Public())
		require.NoError(t, err)
		require.NoError(t, publicKey.Set(jwk.KeyIDKey, keyID))
		require.NoError(t, publicKey.Set(jwk.AlgorithmKey, jwa.RS256))
		require.NoError(t, set.AddKey(publicKey))
	}

	body, err := json.Marshal(set)
	require.NoError(t, err)
	return privateKeys, body
}

// jwksServer serves a JWKS document and counts requests. Swapping the body
// or failing subsequent requests is done through the atomic fields.
type jwksServer struct {
	server *httptest.Server

	requestCount atomic.Int64
	body         atomic.Pointer[[]byte]
	failStatus   atomic.Int64 // when non-zero, respond with this status
}

func newJWKSServer(t *testing.T, body []byte) *jwksServer {
	t.Helper()

	js := &jwksServer{}
	js.body.Store(&body)
	js.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		js.requestCount.Add(1)
		if status := js.failStatus.Load(); status != 0 {
			w.WriteHeader(int(status))
			return
		}
		_, _ = w.Write(*js.body.Load())
	}))
	t.Cleanup(js.server.Close)
	return js
}

func (js *jwksServer) url(t *testing.T) *url.URL {
	t.Helper()
	parsed, err := url.Parse(js.server.URL)
	require.NoError(t, err)
	return parsed
}
