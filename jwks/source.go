package jwks

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"

	"github.com/yevtyushkin/id-token-verifier/internal/oidc"
)

// KeySource designates where signing keys are fetched from. It is a sealed
// variant: either a DirectSource pointing straight at a JWKS endpoint, or a
// DiscoverySource pointing at an OIDC issuer whose provider metadata names
// the JWKS endpoint.
type KeySource interface {
	isKeySource()
}

// DirectSource fetches keys from a known JWKS URL.
type DirectSource struct {
	JWKSURL *url.URL
}

func (DirectSource) isKeySource() {}

// DiscoverySource resolves the JWKS URL from the issuer's
// .well-known/openid-configuration document.
type DiscoverySource struct {
	IssuerURL *url.URL
}

func (DiscoverySource) isKeySource() {}

// resolver lazily resolves a KeySource to a concrete JWKS URL. Resolution
// happens at most once: a successful result is cached for the provider's
// lifetime, and a terminal discovery failure is latched the same way, since
// the discovery URL is assumed static for the process.
type resolver struct {
	source KeySource
	client *http.Client
	retry  RetryPolicy

	mu       sync.Mutex
	resolved bool
	jwksURL  string
	err      error
}

func (r *resolver) resolve(ctx context.Context) (string, error) {
	switch src := r.source.(type) {
	case DirectSource:
		return src.JWKSURL.String(), nil

	case DiscoverySource:
		r.mu.Lock()
		defer r.mu.Unlock()

		if r.resolved {
			return r.jwksURL, r.err
		}

		jwksURL, err := r.discover(ctx, *src.IssuerURL)
		r.resolved = true
		r.jwksURL = jwksURL
		r.err = err
		return r.jwksURL, r.err

	default:
		return "", fmt.Errorf("unsupported key source type %T", r.source)
	}
}

// discover fetches the provider metadata document, applying the retry policy
// to transient failures. Malformed metadata is not retried: a structurally
// broken document will not fix itself.
func (r *resolver) discover(ctx context.Context, issuerURL url.URL) (string, error) {
	var jwksURL string

	err := r.retry.Do(ctx, func(ctx context.Context) error {
		metadata, err := oidc.GetProviderMetadata(ctx, r.client, issuerURL)
		if err != nil {
			return &DiscoveryError{Err: err}
		}
		jwksURL = metadata.JWKSURI
		return nil
	})
	if err != nil {
		if _, ok := err.(*DiscoveryError); ok {
			return "", err
		}
		return "", &DiscoveryError{Err: err}
	}

	return jwksURL, nil
}

// Retryable reports whether the underlying discovery failure was transient.
// Decoding failures and missing fields are terminal.
func (e *DiscoveryError) Retryable() bool {
	var statusErr *oidc.StatusError
	if errors.As(e.Err, &statusErr) {
		return statusErr.StatusCode >= http.StatusInternalServerError ||
			statusErr.StatusCode == http.StatusTooManyRequests
	}
	// Request building and JSON decoding failures are wrapped with fmt
	// markers; only transport errors arrive as url.Error.
	var urlErr *url.Error
	return errors.As(e.Err, &urlErr)
}
