/*
Package idtokenverifier verifies OIDC ID tokens against a cached JWKS.

The library has two halves. The jwks subpackage acquires and caches the
issuer's JSON Web Key Set, with coalesced refreshes, optional background
refresh, and retry with exponential backoff. This package implements the
verification pipeline on top of it: parse the compact token, look up the
signing key by key id, verify the signature under the key set's declared
algorithm, and validate the standard claims.

# Quick Start

	import (
	    idtokenverifier "github.com/yevtyushkin/id-token-verifier"
	    "github.com/yevtyushkin/id-token-verifier/jwks"
	)

	func main() {
	    issuerURL, _ := url.Parse("https://your-tenant.example.com/")
	    provider, err := jwks.NewProvider(
	        jwks.WithIssuerURL(issuerURL),
	        jwks.WithBackgroundRefresh(0),
	    )
	    if err != nil {
	        log.Fatal(err)
	    }
	    defer provider.Close()

	    verifier, err := idtokenverifier.New(
	        provider,
	        []string{issuerURL.String()},
	        []string{"your-api-identifier"},
	        idtokenverifier.WithClockSkew(time.Minute),
	    )
	    if err != nil {
	        log.Fatal(err)
	    }

	    claims, err := verifier.Verify(ctx, rawToken)
	    if err != nil {
	        // errors.Is against the exported sentinels tells you why.
	    }
	    _ = claims.RegisteredClaims.Subject
	}

# Error Taxonomy

Every verification failure matches exactly one exported sentinel through
errors.Is: ErrMalformedToken, ErrMissingKeyID, ErrKeyNotFound,
ErrKeyFetchFailed, ErrMissingKeyAlgorithm, ErrInvalidSignature,
ErrClaimsValidationFailed, ErrClaimsDeserializationFailed. Claim failures
additionally expose the offending claim via *ClaimsValidationError.

# HTTP Middleware

NewMiddleware wraps a Verifier for net/http and NewGinMiddleware does the
same for gin. Verified claims land in the request context:

	middleware, _ := idtokenverifier.NewMiddleware(verifier)
	http.Handle("/api/", middleware.CheckToken(apiHandler))

	func apiHandler(w http.ResponseWriter, r *http.Request) {
	    claims, err := idtokenverifier.GetClaims[*idtokenverifier.ValidatedClaims](r.Context())
	    ...
	}

# Configuration

LoadConfig builds a Config from a YAML file plus IDTV_-prefixed
environment variables, and Config.NewVerifier wires the provider and
verifier in one call.
*/
package idtokenverifier
