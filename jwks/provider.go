package jwks

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// Default cache parameters, applied when the corresponding option is not
// given.
const (
	DefaultCacheTTL     = 5 * time.Minute
	DefaultFetchTimeout = 30 * time.Second
)

// Provider owns the current signing-key set and keeps it fresh. It is safe
// for concurrent use: lookups read an immutable snapshot that is swapped
// atomically on each successful refresh, and concurrent refresh triggers
// coalesce into a single network fetch whose result every waiter observes.
//
// A Provider must be released with Close, which also stops the background
// refresher when one is configured.
type Provider struct {
	source              KeySource
	client              *http.Client
	retry               RetryPolicy
	ttl                 time.Duration
	fetchTimeout        time.Duration
	refreshEnabled      bool
	refreshInterval     time.Duration
	refreshLead         time.Duration
	serveStale          bool
	refreshOnUnknownKID bool
	cacheDisabled       bool
	logger              Logger
	metrics             Metrics

	resolver *resolver

	entry atomic.Pointer[cacheEntry]

	mu       sync.Mutex
	inflight *refreshCall

	closeOnce sync.Once
	closed    chan struct{}
	stopBg    context.CancelFunc
	wg        sync.WaitGroup
}

// cacheEntry is an immutable snapshot of one successful fetch. Readers see
// either the previous entry in full or this one in full, never a mix.
type cacheEntry struct {
	set       jwk.Set
	keys      map[string]jwk.Key
	fetchedAt time.Time
	ttl       time.Duration
}

// expired treats fetchedAt+ttl exactly equal to now as expired.
func (e *cacheEntry) expired(now time.Time) bool {
	return !now.Before(e.fetchedAt.Add(e.ttl))
}

// expiringWithin reports whether the entry is already expired or will
// expire within the given lead window.
func (e *cacheEntry) expiringWithin(now time.Time, lead time.Duration) bool {
	return !now.Before(e.fetchedAt.Add(e.ttl - lead))
}

func newCacheEntry(set jwk.Set, fetchedAt time.Time, ttl time.Duration) *cacheEntry {
	keys := make(map[string]jwk.Key, set.Len())
	for i := 0; i < set.Len(); i++ {
		key, ok := set.Key(i)
		if !ok || key.KeyID() == "" {
			continue
		}
		keys[key.KeyID()] = key
	}
	return &cacheEntry{set: set, keys: keys, fetchedAt: fetchedAt, ttl: ttl}
}

// refreshCall is one in-flight refresh. err is written before done is
// closed, so every waiter that sees done closed observes the same result.
type refreshCall struct {
	done chan struct{}
	err  error
}

// NewProvider builds a Provider from the given options. Exactly one key
// source is required (WithJWKSURI or WithIssuerURL). The background
// refresher, when enabled via WithBackgroundRefresh, starts immediately.
func NewProvider(opts ...ProviderOption) (*Provider, error) {
	p := &Provider{
		client:              &http.Client{Timeout: DefaultFetchTimeout},
		ttl:                 DefaultCacheTTL,
		fetchTimeout:        DefaultFetchTimeout,
		serveStale:          true,
		refreshOnUnknownKID: true,
		logger:              noopLogger{},
		metrics:             noopMetrics{},
		closed:              make(chan struct{}),
	}
	p.retry = DefaultRetryPolicy()

	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}

	if p.source == nil {
		return nil, errMissingKeySource
	}

	p.resolver = &resolver{
		source: p.source,
		client: p.client,
		retry:  p.retry,
	}

	if p.refreshEnabled {
		if p.refreshInterval == 0 {
			// 4/5 of the TTL leaves the refresher headroom to retry
			// before the entry actually expires.
			p.refreshInterval = p.ttl * 4 / 5
		}
		bgCtx, cancel := context.WithCancel(context.Background())
		p.stopBg = cancel
		p.wg.Add(1)
		go p.backgroundRefresh(bgCtx)
	}

	return p, nil
}

// Close stops the background refresher and waits for any in-flight work.
// Lookups issued after Close fail with ErrProviderClosed.
func (p *Provider) Close() {
	p.closeOnce.Do(func() {
		// Closing under the mutex pairs with the closed check in
		// triggerRefresh: once Wait starts, no new refresh goroutine can
		// be added.
		p.mu.Lock()
		close(p.closed)
		p.mu.Unlock()
		if p.stopBg != nil {
			p.stopBg()
		}
		p.wg.Wait()
	})
}

// SigningKey returns the key for the given key id. If the current entry is
// missing, expired, or lacks the key id, a refresh is triggered (coalesced
// with any refresh already in flight) and the lookup is retried once against
// the refreshed set.
//
// When the refresh fails, a key id known to the previous entry is still
// served if the serve-stale policy allows it; an unknown key id fails with
// the refresh error, since an unknown key plus a failed refresh cannot be
// told apart from a forged token.
func (p *Provider) SigningKey(ctx context.Context, keyID string) (jwk.Key, error) {
	if p.isClosed() {
		return nil, ErrProviderClosed
	}

	if p.cacheDisabled {
		return p.uncachedSigningKey(ctx, keyID)
	}

	now := time.Now()
	stale := p.entry.Load()

	if stale != nil && !stale.expired(now) {
		if key, ok := stale.keys[keyID]; ok {
			return key, nil
		}
		if !p.refreshOnUnknownKID {
			return nil, ErrKeyNotFound
		}
		p.logger.Debugf("key %q not in current key set, refreshing", keyID)
	}

	if err := p.awaitRefresh(ctx); err != nil {
		if errors.Is(err, ErrProviderClosed) {
			return nil, err
		}
		if stale != nil && p.serveStale {
			if key, ok := stale.keys[keyID]; ok {
				p.logger.Warnf("serving stale key %q after failed refresh: %v", keyID, err)
				return key, nil
			}
		}
		return nil, err
	}

	if entry := p.entry.Load(); entry != nil {
		if key, ok := entry.keys[keyID]; ok {
			return key, nil
		}
	}
	return nil, ErrKeyNotFound
}

// Refresh fetches a new key set if the current entry is missing or expired.
// It is the reactive/proactive entry point shared by lookups and the
// background refresher; concurrent callers coalesce into one fetch.
func (p *Provider) Refresh(ctx context.Context) error {
	return p.refreshIfStale(ctx, 0)
}

func (p *Provider) refreshIfStale(ctx context.Context, lead time.Duration) error {
	if p.isClosed() {
		return ErrProviderClosed
	}
	if entry := p.entry.Load(); entry != nil && !entry.expiringWithin(time.Now(), lead) {
		return nil
	}
	return p.awaitRefresh(ctx)
}

// KeySet returns the current key set snapshot, or false when no fetch has
// succeeded yet.
func (p *Provider) KeySet() (jwk.Set, bool) {
	entry := p.entry.Load()
	if entry == nil {
		return nil, false
	}
	return entry.set, true
}

// awaitRefresh joins the in-flight refresh (starting one when none is
// running) and waits for its result or for ctx. A waiter whose ctx ends
// returns the ctx error; the refresh itself keeps running on its own
// timeout so other waiters still observe a result.
func (p *Provider) awaitRefresh(ctx context.Context) error {
	call, err := p.triggerRefresh()
	if err != nil {
		return err
	}

	select {
	case <-call.done:
		return call.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Provider) triggerRefresh() (*refreshCall, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	// Re-checked under the mutex: a caller can pass the entry check just
	// as Close runs, and wg.Add must never race wg.Wait.
	if p.isClosed() {
		return nil, ErrProviderClosed
	}

	if p.inflight != nil {
		return p.inflight, nil
	}

	call := &refreshCall{done: make(chan struct{})}
	p.inflight = call
	p.wg.Add(1)
	go p.runRefresh(call)
	return call, nil
}

// runRefresh performs the actual fetch on a detached context so a single
// cancelled waiter cannot abort the refresh for everyone else. The entry
// swap happens before done is closed, so waiters that observe success also
// observe the new entry.
func (p *Provider) runRefresh(call *refreshCall) {
	defer p.wg.Done()

	ctx, cancel := context.WithTimeout(context.Background(), p.fetchTimeout)
	defer cancel()

	start := time.Now()
	set, err := p.fetch(ctx)
	if err == nil {
		p.entry.Store(newCacheEntry(set, time.Now(), p.ttl))
		p.metrics.IncCounter(MetricRefreshSuccess, nil)
		p.logger.Debugf("jwks refreshed in %s (%d keys)", time.Since(start).Round(time.Millisecond), set.Len())
	} else {
		err = &RefreshError{Err: err}
		p.metrics.IncCounter(MetricRefreshFailures, nil)
		p.logger.Warnf("jwks refresh failed after %s: %v", time.Since(start).Round(time.Millisecond), err)
	}

	p.mu.Lock()
	p.inflight = nil
	p.mu.Unlock()

	call.err = err
	close(call.done)
}

// fetch resolves the JWKS URL and fetches the key set with the configured
// retry policy.
func (p *Provider) fetch(ctx context.Context) (jwk.Set, error) {
	jwksURL, err := p.resolver.resolve(ctx)
	if err != nil {
		return nil, err
	}

	var set jwk.Set
	err = p.retry.Do(ctx, func(ctx context.Context) error {
		p.metrics.IncCounter(MetricFetchAttempts, nil)
		p.logger.Debugf("fetching jwks from %s", jwksURL)

		fetched, ferr := fetchKeySet(ctx, p.client, jwksURL)
		if ferr != nil {
			p.metrics.IncCounter(MetricFetchFailures, nil)
			p.logger.Warnf("jwks fetch attempt failed: %v", ferr)
			return ferr
		}
		set = fetched
		return nil
	})
	if err != nil {
		return nil, err
	}
	return set, nil
}

// uncachedSigningKey serves WithCacheDisabled: every lookup fetches a fresh
// key set, with no shared state beyond the resolved URL.
func (p *Provider) uncachedSigningKey(ctx context.Context, keyID string) (jwk.Key, error) {
	set, err := p.fetch(ctx)
	if err != nil {
		return nil, &RefreshError{Err: err}
	}
	key, ok := set.LookupKeyID(keyID)
	if !ok {
		return nil, ErrKeyNotFound
	}
	return key, nil
}

// backgroundRefresh proactively refreshes the cache ahead of expiry so
// request latency does not absorb fetch latency. Failures are logged only;
// the serve-stale policy governs what lookups see.
func (p *Provider) backgroundRefresh(ctx context.Context) {
	defer p.wg.Done()

	ticker := time.NewTicker(p.refreshInterval)
	defer ticker.Stop()

	lead := p.refreshLead
	if lead <= 0 {
		lead = p.ttl / 5
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.refreshIfStale(ctx, lead); err != nil && ctx.Err() == nil {
				p.logger.Warnf("background jwks refresh failed: %v", err)
			}
		}
	}
}

func (p *Provider) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}
