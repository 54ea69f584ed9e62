package oidc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
)

// ErrMissingJWKSURI is returned when the discovery document decodes fine but
// does not carry a usable jwks_uri field.
var ErrMissingJWKSURI = errors.New("discovery document is missing the jwks_uri field")

// ProviderMetadata holds the subset of the OIDC provider metadata document
// this module needs.
type ProviderMetadata struct {
	JWKSURI string `json:"jwks_uri"`
}

// StatusError is returned when the discovery endpoint answers with a non-2xx
// status code.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("discovery endpoint returned status %d", e.StatusCode)
}

// WellKnownURL returns the .well-known/openid-configuration URL for the
// given issuer URL.
func WellKnownURL(issuerURL url.URL) string {
	issuerURL.Path = path.Join(issuerURL.Path, ".well-known/openid-configuration")
	return issuerURL.String()
}

// GetProviderMetadata fetches the OIDC provider metadata document for the
// given issuer URL and validates that it carries a jwks_uri.
func GetProviderMetadata(ctx context.Context, client *http.Client, issuerURL url.URL) (*ProviderMetadata, error) {
	wellKnownURL := WellKnownURL(issuerURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, wellKnownURL, nil)
	if err != nil {
		return nil, fmt.Errorf("could not build request to get provider metadata: %w", err)
	}

	res, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not get provider metadata from %s: %w", wellKnownURL, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return nil, &StatusError{StatusCode: res.StatusCode}
	}

	// Metadata documents are small; 1MB is a generous cap.
	var metadata ProviderMetadata
	if err := json.NewDecoder(io.LimitReader(res.Body, 1<<20)).Decode(&metadata); err != nil {
		return nil, fmt.Errorf("could not decode provider metadata document: %w", err)
	}

	if metadata.JWKSURI == "" {
		return nil, ErrMissingJWKSURI
	}
	if _, err := url.Parse(metadata.JWKSURI); err != nil {
		return nil, fmt.Errorf("provider metadata carries an invalid jwks_uri: %w", err)
	}

	return &metadata, nil
}
