// Package jwks acquires and caches JSON Web Key Sets.
//
// The Provider owns the current signing-key set and keeps it fresh: it
// resolves the JWKS endpoint (directly, or through OIDC discovery), fetches
// the key set with a configurable retry policy, and swaps the cached
// snapshot atomically so concurrent lookups never observe a partially
// written set. Concurrent refresh triggers coalesce into a single network
// fetch, and an optional background refresher renews the cache ahead of
// expiry so request latency does not absorb fetch latency.
//
// Typical use:
//
//	issuerURL, _ := url.Parse("https://issuer.example.com/")
//	provider, err := jwks.NewProvider(
//		jwks.WithIssuerURL(issuerURL),
//		jwks.WithCacheTTL(5*time.Minute),
//		jwks.WithBackgroundRefresh(0), // 4/5 of the TTL
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer provider.Close()
//
//	key, err := provider.SigningKey(ctx, "kid-1")
//
// Staleness policy: when a refresh fails, key ids that were present in the
// previous key set are still served (configurable via WithServeStale);
// unknown key ids fail, since an unknown key id plus a failed refresh
// cannot be told apart from a forged token.
package jwks
