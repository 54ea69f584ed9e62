package jwks

import (
	"context"
	"io"
	"net/http"

	"github.com/lestrrat-go/jwx/v2/jwk"
)

// maxJWKSBodySize caps the JWKS response body. Real key sets are a few KB;
// the cap keeps a misbehaving endpoint from exhausting memory.
const maxJWKSBodySize = 1 << 20

// fetchKeySet performs a single JWKS fetch attempt. It never retries; the
// caller wraps it with the configured retry policy.
func fetchKeySet(ctx context.Context, client *http.Client, jwksURL string) (jwk.Set, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jwksURL, nil)
	if err != nil {
		return nil, &FetchError{Kind: FetchErrorNetwork, URL: jwksURL, Err: err}
	}

	res, err := client.Do(req)
	if err != nil {
		return nil, &FetchError{Kind: FetchErrorNetwork, URL: jwksURL, Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &FetchError{Kind: FetchErrorStatus, URL: jwksURL, StatusCode: res.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxJWKSBodySize))
	if err != nil {
		return nil, &FetchError{Kind: FetchErrorNetwork, URL: jwksURL, Err: err}
	}

	set, err := jwk.Parse(body)
	if err != nil {
		return nil, &FetchError{Kind: FetchErrorMalformedJWKS, URL: jwksURL, Err: err}
	}

	return set, nil
}
