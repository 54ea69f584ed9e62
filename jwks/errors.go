package jwks

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrKeyNotFound is returned when a key id cannot be found in the current
// key set, including after a refresh attempt.
var ErrKeyNotFound = errors.New("signing key not found in key set")

// ErrProviderClosed is returned for lookups and refreshes issued after
// Provider.Close.
var ErrProviderClosed = errors.New("jwks provider is closed")

// FetchErrorKind classifies a failed JWKS fetch attempt.
type FetchErrorKind int

const (
	// FetchErrorNetwork is a connection level failure (DNS, dial, TLS,
	// timeout).
	FetchErrorNetwork FetchErrorKind = iota

	// FetchErrorStatus is a non-2xx response from the JWKS endpoint.
	FetchErrorStatus

	// FetchErrorMalformedJWKS is a 2xx response whose body is not a
	// well-formed JWKS document.
	FetchErrorMalformedJWKS
)

func (k FetchErrorKind) String() string {
	switch k {
	case FetchErrorNetwork:
		return "network"
	case FetchErrorStatus:
		return "status"
	case FetchErrorMalformedJWKS:
		return "malformed jwks"
	default:
		return "unknown"
	}
}

// FetchError reports a single failed JWKS fetch attempt. The Kind decides
// whether the retry policy may try again.
type FetchError struct {
	Kind       FetchErrorKind
	URL        string
	StatusCode int // set when Kind is FetchErrorStatus
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == FetchErrorStatus {
		return fmt.Sprintf("jwks fetch from %s failed (%s): status %d", e.URL, e.Kind, e.StatusCode)
	}
	return fmt.Sprintf("jwks fetch from %s failed (%s): %v", e.URL, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Retryable reports whether retrying the fetch can plausibly succeed.
// Network failures and server-side statuses are transient; a malformed
// document will stay malformed no matter how often it is fetched.
func (e *FetchError) Retryable() bool {
	switch e.Kind {
	case FetchErrorNetwork:
		return true
	case FetchErrorStatus:
		return e.StatusCode >= http.StatusInternalServerError ||
			e.StatusCode == http.StatusTooManyRequests
	default:
		return false
	}
}

// DiscoveryError reports that the OIDC provider metadata document could not
// be resolved to a JWKS URL. Once the retry policy is exhausted the failure
// is terminal for the provider: a fresh Provider must be constructed to
// retry discovery.
type DiscoveryError struct {
	Err error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("jwks discovery failed: %v", e.Err)
}

func (e *DiscoveryError) Unwrap() error {
	return e.Err
}

// RefreshError wraps the terminal failure of a refresh after the retry
// policy has been exhausted. All lookups that awaited the refresh observe
// the same RefreshError.
type RefreshError struct {
	Err error
}

func (e *RefreshError) Error() string {
	return fmt.Sprintf("jwks refresh failed: %v", e.Err)
}

func (e *RefreshError) Unwrap() error {
	return e.Err
}
