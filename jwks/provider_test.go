package jwks

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestProvider(t *testing.T, server *jwksServer, opts ...ProviderOption) *Provider {
	t.Helper()

	opts = append([]ProviderOption{
		WithJWKSURI(server.url(t)),
		WithRetryPolicy(testPolicy(3)),
	}, opts...)

	provider, err := NewProvider(opts...)
	require.NoError(t, err)
	t.Cleanup(provider.Close)
	return provider
}

func TestNewProvider(t *testing.T) {
	t.Run("requires a key source", func(t *testing.T) {
		_, err := NewProvider()
		assert.ErrorIs(t, err, errMissingKeySource)
	})

	t.Run("rejects two key sources", func(t *testing.T) {
		_, body := testKeySet(t, "key-1")
		server := newJWKSServer(t, body)

		_, err := NewProvider(WithJWKSURI(server.url(t)), WithIssuerURL(server.url(t)))
		assert.ErrorContains(t, err, "already configured")
	})

	t.Run("rejects invalid options", func(t *testing.T) {
		_, body := testKeySet(t, "key-1")
		server := newJWKSServer(t, body)

		_, err := NewProvider(WithJWKSURI(server.url(t)), WithCacheTTL(-time.Second))
		assert.ErrorContains(t, err, "cache TTL must be positive")
	})
}

func TestProviderSigningKey(t *testing.T) {
	t.Run("fetches the key set on first lookup and caches it", func(t *testing.T) {
		_, body := testKeySet(t, "key-1")
		server := newJWKSServer(t, body)
		provider := newTestProvider(t, server)

		for i := 0; i < 5; i++ {
			key, err := provider.SigningKey(context.Background(), "key-1")
			require.NoError(t, err)
			assert.Equal(t, "key-1", key.KeyID())
		}

		assert.Equal(t, int64(1), server.requestCount.Load())
	})

	t.Run("unknown key id triggers exactly one refresh", func(t *testing.T) {
		_, body := testKeySet(t, "key-1")
		server := newJWKSServer(t, body)
		provider := newTestProvider(t, server)

		_, err := provider.SigningKey(context.Background(), "key-1")
		require.NoError(t, err)

		_, err = provider.SigningKey(context.Background(), "key-2")
		assert.ErrorIs(t, err, ErrKeyNotFound)

		// Initial fetch plus exactly one refresh for the unknown key id.
		assert.Equal(t, int64(2), server.requestCount.Load())
	})

	t.Run("unknown key id picks up a rotated key after refresh", func(t *testing.T) {
		_, body := testKeySet(t, "key-1")
		server := newJWKSServer(t, body)
		provider := newTestProvider(t, server)

		_, err := provider.SigningKey(context.Background(), "key-1")
		require.NoError(t, err)

		_, rotated := testKeySet(t, "key-1", "key-2")
		server.body.Store(&rotated)

		key, err := provider.SigningKey(context.Background(), "key-2")
		require.NoError(t, err)
		assert.Equal(t, "key-2", key.KeyID())
	})

	t.Run("unknown key id fails fast when refresh on unknown kid is off", func(t *testing.T) {
		_, body := testKeySet(t, "key-1")
		server := newJWKSServer(t, body)
		provider := newTestProvider(t, server, WithRefreshOnUnknownKID(false))

		_, err := provider.SigningKey(context.Background(), "key-1")
		require.NoError(t, err)

		_, err = provider.SigningKey(context.Background(), "key-2")
		assert.ErrorIs(t, err, ErrKeyNotFound)
		assert.Equal(t, int64(1), server.requestCount.Load())
	})

	t.Run("expired entry is refreshed before lookup", func(t *testing.T) {
		_, body := testKeySet(t, "key-1")
		server := newJWKSServer(t, body)
		provider := newTestProvider(t, server, WithCacheTTL(20*time.Millisecond))

		_, err := provider.SigningKey(context.Background(), "key-1")
		require.NoError(t, err)

		time.Sleep(30 * time.Millisecond)

		_, err = provider.SigningKey(context.Background(), "key-1")
		require.NoError(t, err)
		assert.Equal(t, int64(2), server.requestCount.Load())
	})

	t.Run("serves a stale known key when the refresh fails", func(t *testing.T) {
		_, body := testKeySet(t, "key-1")
		server := newJWKSServer(t, body)
		provider := newTestProvider(t, server, WithCacheTTL(20*time.Millisecond))

		_, err := provider.SigningKey(context.Background(), "key-1")
		require.NoError(t, err)

		server.failStatus.Store(http.StatusInternalServerError)
		time.Sleep(30 * time.Millisecond)

		key, err := provider.SigningKey(context.Background(), "key-1")
		require.NoError(t, err)
		assert.Equal(t, "key-1", key.KeyID())
	})

	t.Run("does not serve stale keys when serve stale is off", func(t *testing.T) {
		_, body := testKeySet(t, "key-1")
		server := newJWKSServer(t, body)
		provider := newTestProvider(t, server,
			WithCacheTTL(20*time.Millisecond),
			WithServeStale(false),
		)

		_, err := provider.SigningKey(context.Background(), "key-1")
		require.NoError(t, err)

		server.failStatus.Store(http.StatusInternalServerError)
		time.Sleep(30 * time.Millisecond)

		_, err = provider.SigningKey(context.Background(), "key-1")

		var refreshErr *RefreshError
		require.ErrorAs(t, err, &refreshErr)
	})

	t.Run("never serves a stale key for an unknown key id", func(t *testing.T) {
		_, body := testKeySet(t, "key-1")
		server := newJWKSServer(t, body)
		provider := newTestProvider(t, server, WithCacheTTL(20*time.Millisecond))

		_, err := provider.SigningKey(context.Background(), "key-1")
		require.NoError(t, err)

		server.failStatus.Store(http.StatusInternalServerError)
		time.Sleep(30 * time.Millisecond)

		_, err = provider.SigningKey(context.Background(), "key-2")

		var refreshErr *RefreshError
		require.ErrorAs(t, err, &refreshErr)
	})

	t.Run("exhausted retries surface a refresh error wrapping the fetch failure", func(t *testing.T) {
		_, body := testKeySet(t, "key-1")
		server := newJWKSServer(t, body)
		server.failStatus.Store(http.StatusInternalServerError)
		provider := newTestProvider(t, server)

		_, err := provider.SigningKey(context.Background(), "key-1")

		var refreshErr *RefreshError
		require.ErrorAs(t, err, &refreshErr)

		var fetchErr *FetchError
		require.ErrorAs(t, err, &fetchErr)
		assert.Equal(t, FetchErrorStatus, fetchErr.Kind)

		// A three attempt policy performs exactly three fetches.
		assert.Equal(t, int64(3), server.requestCount.Load())
	})
}

func TestProviderCoalescing(t *testing.T) {
	t.Run("concurrent lookups share a single fetch", func(t *testing.T) {
		_, body := testKeySet(t, "key-1")
		server := newJWKSServer(t, body)
		provider := newTestProvider(t, server)

		const goroutines = 50

		var wg sync.WaitGroup
		errs := make([]error, goroutines)
		wg.Add(goroutines)
		for i := 0; i < goroutines; i++ {
			go func(i int) {
				defer wg.Done()
				_, errs[i] = provider.SigningKey(context.Background(), "key-1")
			}(i)
		}
		wg.Wait()

		for i := 0; i < goroutines; i++ {
			require.NoError(t, errs[i])
		}
		assert.Equal(t, int64(1), server.requestCount.Load())
	})

	t.Run("every waiter observes the same failure", func(t *testing.T) {
		_, body := testKeySet(t, "key-1")
		server := newJWKSServer(t, body)
		server.failStatus.Store(http.StatusInternalServerError)
		provider := newTestProvider(t, server, WithRetryPolicy(NoRetry{}))

		const goroutines = 20

		var wg sync.WaitGroup
		errs := make([]error, goroutines)
		wg.Add(goroutines)
		for i := 0; i < goroutines; i++ {
			go func(i int) {
				defer wg.Done()
				_, errs[i] = provider.SigningKey(context.Background(), "key-1")
			}(i)
		}
		wg.Wait()

		var refreshErr *RefreshError
		for i := 0; i < goroutines; i++ {
			require.ErrorAs(t, errs[i], &refreshErr)
		}
	})

	t.Run("a cancelled waiter does not abort the refresh for others", func(t *testing.T) {
		_, body := testKeySet(t, "key-1")
		release := make(chan struct{})

		var requests atomic.Int64
		blocking := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests.Add(1)
			<-release
			_, _ = w.Write(body)
		}))
		defer blocking.Close()

		blockingURL, err := url.Parse(blocking.URL)
		require.NoError(t, err)

		provider, err := NewProvider(WithJWKSURI(blockingURL), WithRetryPolicy(NoRetry{}))
		require.NoError(t, err)
		defer provider.Close()

		cancelled, cancel := context.WithCancel(context.Background())

		var wg sync.WaitGroup
		var cancelledErr, patientErr error
		var patientKey jwk.Key

		wg.Add(2)
		go func() {
			defer wg.Done()
			_, cancelledErr = provider.SigningKey(cancelled, "key-1")
		}()
		go func() {
			defer wg.Done()
			patientKey, patientErr = provider.SigningKey(context.Background(), "key-1")
		}()

		time.Sleep(20 * time.Millisecond)
		cancel()
		time.Sleep(20 * time.Millisecond)
		close(release)
		wg.Wait()

		assert.ErrorIs(t, cancelledErr, context.Canceled)
		require.NoError(t, patientErr)
		assert.Equal(t, "key-1", patientKey.KeyID())
		assert.Equal(t, int64(1), requests.Load())
	})
}

func TestProviderExpiryBoundary(t *testing.T) {
	set := jwk.NewSet()
	fetchedAt := time.Now()
	entry := newCacheEntry(set, fetchedAt, time.Minute)

	assert.False(t, entry.expired(fetchedAt.Add(time.Minute-time.Nanosecond)))
	// fetchedAt+ttl exactly equal to now counts as expired.
	assert.True(t, entry.expired(fetchedAt.Add(time.Minute)))
	assert.True(t, entry.expired(fetchedAt.Add(time.Minute+time.Nanosecond)))

	assert.False(t, entry.expiringWithin(fetchedAt, 10*time.Second))
	assert.True(t, entry.expiringWithin(fetchedAt.Add(50*time.Second), 10*time.Second))
}

func TestProviderRefresh(t *testing.T) {
	t.Run("is a no-op while the entry is fresh", func(t *testing.T) {
		_, body := testKeySet(t, "key-1")
		server := newJWKSServer(t, body)
		provider := newTestProvider(t, server)

		require.NoError(t, provider.Refresh(context.Background()))
		require.NoError(t, provider.Refresh(context.Background()))
		assert.Equal(t, int64(1), server.requestCount.Load())
	})

	t.Run("populates the key set snapshot", func(t *testing.T) {
		_, body := testKeySet(t, "key-1", "key-2")
		server := newJWKSServer(t, body)
		provider := newTestProvider(t, server)

		_, ok := provider.KeySet()
		assert.False(t, ok)

		require.NoError(t, provider.Refresh(context.Background()))

		set, ok := provider.KeySet()
		require.True(t, ok)
		assert.Equal(t, 2, set.Len())
	})
}

func TestProviderBackgroundRefresh(t *testing.T) {
	_, body := testKeySet(t, "key-1")
	server := newJWKSServer(t, body)
	provider := newTestProvider(t, server,
		WithCacheTTL(40*time.Millisecond),
		WithBackgroundRefresh(10*time.Millisecond),
	)

	_, err := provider.SigningKey(context.Background(), "key-1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return server.requestCount.Load() >= 2
	}, time.Second, 5*time.Millisecond, "background refresher never refetched")

	provider.Close()
	settled := server.requestCount.Load()
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, settled, server.requestCount.Load(), "refresher kept running after Close")
}

func TestProviderCacheDisabled(t *testing.T) {
	_, body := testKeySet(t, "key-1")
	server := newJWKSServer(t, body)
	provider := newTestProvider(t, server, WithCacheDisabled())

	for i := 0; i < 3; i++ {
		_, err := provider.SigningKey(context.Background(), "key-1")
		require.NoError(t, err)
	}
	assert.Equal(t, int64(3), server.requestCount.Load())
}

func TestProviderClose(t *testing.T) {
	_, body := testKeySet(t, "key-1")
	server := newJWKSServer(t, body)
	provider := newTestProvider(t, server)

	provider.Close()
	provider.Close() // Close is idempotent.

	_, err := provider.SigningKey(context.Background(), "key-1")
	assert.ErrorIs(t, err, ErrProviderClosed)
	assert.ErrorIs(t, provider.Refresh(context.Background()), ErrProviderClosed)

	// The closed check runs again under the refresh mutex, so a lookup
	// that raced past the fast path still cannot start a refresh.
	_, err = provider.triggerRefresh()
	assert.ErrorIs(t, err, ErrProviderClosed)
}

func TestProviderCloseDuringLookups(t *testing.T) {
	_, body := testKeySet(t, "key-1")
	server := newJWKSServer(t, body)
	provider := newTestProvider(t, server)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				key, err := provider.SigningKey(context.Background(), "key-1")
				if err != nil {
					assert.ErrorIs(t, err, ErrProviderClosed)
					return
				}
				assert.NotNil(t, key)
			}
		}()
	}

	time.Sleep(time.Millisecond)
	provider.Close()
	wg.Wait()
}

func TestProviderDiscovery(t *testing.T) {
	_, body := testKeySet(t, "key-1")
	jwks := newJWKSServer(t, body)

	discovery := newJWKSServer(t, nil)
	metadata, err := json.Marshal(map[string]string{"jwks_uri": jwks.server.URL})
	require.NoError(t, err)
	discovery.body.Store(&metadata)

	provider, err := NewProvider(
		WithIssuerURL(discovery.url(t)),
		WithRetryPolicy(NoRetry{}),
	)
	require.NoError(t, err)
	t.Cleanup(provider.Close)

	key, err := provider.SigningKey(context.Background(), "key-1")
	require.NoError(t, err)
	assert.Equal(t, jwa.RS256, key.Algorithm())
}
