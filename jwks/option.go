package jwks

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

var errMissingKeySource = errors.New("a key source is required (use WithJWKSURI or WithIssuerURL)")

// ProviderOption configures a Provider.
type ProviderOption func(*Provider) error

// WithIssuerURL configures the provider to discover the JWKS endpoint from
// the issuer's .well-known/openid-configuration document. Exactly one of
// WithIssuerURL and WithJWKSURI must be given.
func WithIssuerURL(issuerURL *url.URL) ProviderOption {
	return func(p *Provider) error {
		if issuerURL == nil {
			return errors.New("issuer URL cannot be nil")
		}
		if p.source != nil {
			return errors.New("key source is already configured")
		}
		p.source = DiscoverySource{IssuerURL: issuerURL}
		return nil
	}
}

// WithJWKSURI configures the provider to fetch keys directly from the given
// JWKS endpoint, skipping OIDC discovery.
func WithJWKSURI(jwksURI *url.URL) ProviderOption {
	return func(p *Provider) error {
		if jwksURI == nil {
			return errors.New("JWKS URI cannot be nil")
		}
		if p.source != nil {
			return errors.New("key source is already configured")
		}
		p.source = DirectSource{JWKSURL: jwksURI}
		return nil
	}
}

// WithHTTPClient sets a custom HTTP client for discovery and JWKS requests.
// If not specified, a default client with a 30s timeout is used. The
// client's timeout is the per-attempt bound; the retry policy and
// WithFetchTimeout bound the whole refresh.
func WithHTTPClient(c *http.Client) ProviderOption {
	return func(p *Provider) error {
		if c == nil {
			return errors.New("HTTP client cannot be nil")
		}
		p.client = c
		return nil
	}
}

// WithCacheTTL sets how long a fetched key set stays valid.
// Defaults to 5 minutes.
func WithCacheTTL(ttl time.Duration) ProviderOption {
	return func(p *Provider) error {
		if ttl <= 0 {
			return fmt.Errorf("cache TTL must be positive, got %s", ttl)
		}
		p.ttl = ttl
		return nil
	}
}

// WithBackgroundRefresh enables the background refresher. The interval is
// how often the refresher checks the cache; pass 0 to use 4/5 of the cache
// TTL so a refresh has headroom to retry before the entry actually expires.
func WithBackgroundRefresh(interval time.Duration) ProviderOption {
	return func(p *Provider) error {
		if interval < 0 {
			return fmt.Errorf("background refresh interval cannot be negative, got %s", interval)
		}
		p.refreshEnabled = true
		p.refreshInterval = interval
		return nil
	}
}

// WithRefreshLeadTime sets how long before expiry the background refresher
// starts refreshing the entry. Defaults to 1/5 of the cache TTL.
func WithRefreshLeadTime(lead time.Duration) ProviderOption {
	return func(p *Provider) error {
		if lead < 0 {
			return fmt.Errorf("refresh lead time cannot be negative, got %s", lead)
		}
		p.refreshLead = lead
		return nil
	}
}

// WithFetchTimeout bounds the total duration of one refresh, including all
// retry attempts. Defaults to 30 seconds.
func WithFetchTimeout(d time.Duration) ProviderOption {
	return func(p *Provider) error {
		if d <= 0 {
			return fmt.Errorf("fetch timeout must be positive, got %s", d)
		}
		p.fetchTimeout = d
		return nil
	}
}

// WithRetryPolicy swaps the retry policy applied to discovery and JWKS
// fetches. Defaults to DefaultRetryPolicy.
func WithRetryPolicy(policy RetryPolicy) ProviderOption {
	return func(p *Provider) error {
		if policy == nil {
			return errors.New("retry policy cannot be nil")
		}
		p.retry = policy
		return nil
	}
}

// WithServeStale controls whether a key id known to the previous key set is
// still served when a refresh fails. Defaults to true. Unknown key ids
// always fail when the refresh fails, regardless of this setting.
func WithServeStale(serve bool) ProviderOption {
	return func(p *Provider) error {
		p.serveStale = serve
		return nil
	}
}

// WithRefreshOnUnknownKID controls whether a lookup for a key id that is
// absent from a still-valid key set triggers a refresh before failing.
// Defaults to true, which lets freshly rotated keys be picked up without
// waiting for the TTL.
func WithRefreshOnUnknownKID(refresh bool) ProviderOption {
	return func(p *Provider) error {
		p.refreshOnUnknownKID = refresh
		return nil
	}
}

// WithCacheDisabled turns caching off entirely: every lookup performs a
// fresh fetch. Intended for tests and very low-traffic setups.
func WithCacheDisabled() ProviderOption {
	return func(p *Provider) error {
		p.cacheDisabled = true
		return nil
	}
}

// WithLogger sets the logger for fetch and refresh events. Defaults to a
// no-op logger.
func WithLogger(logger Logger) ProviderOption {
	return func(p *Provider) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		p.logger = logger
		return nil
	}
}

// WithMetrics sets the metrics sink for fetch and refresh counters.
// Defaults to a no-op sink.
func WithMetrics(metrics Metrics) ProviderOption {
	return func(p *Provider) error {
		if metrics == nil {
			return errors.New("metrics cannot be nil")
		}
		p.metrics = metrics
		return nil
	}
}
