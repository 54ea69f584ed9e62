package idtokenverifier

import (
	"errors"
	"net/http"
	"strings"
)

// TokenExtractor locates the raw ID token in an incoming request. A request
// that simply carries no credentials yields an empty string and a nil
// error; an error is reserved for requests that do present credentials in a
// shape the extractor cannot use, so the middleware can tell a malformed
// attempt apart from an absent token.
type TokenExtractor func(r *http.Request) (string, error)

var errMalformedAuthHeader = errors.New("authorization header must follow the Bearer scheme")

// AuthHeaderTokenExtractor reads the ID token from the Authorization
// header's Bearer scheme. The scheme comparison is case insensitive.
func AuthHeaderTokenExtractor(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", nil
	}

	scheme, rest, _ := strings.Cut(header, " ")
	token := strings.TrimSpace(rest)
	if !strings.EqualFold(scheme, "Bearer") || token == "" || strings.ContainsRune(token, ' ') {
		return "", errMalformedAuthHeader
	}
	return token, nil
}

// CookieTokenExtractor reads the ID token from the named cookie. An absent
// cookie means an absent token, not a malformed one.
func CookieTokenExtractor(name string) TokenExtractor {
	return func(r *http.Request) (string, error) {
		cookie, err := r.Cookie(name)
		if errors.Is(err, http.ErrNoCookie) {
			return "", nil
		}
		return cookie.Value, nil
	}
}

// ParameterTokenExtractor reads the ID token from the named query
// parameter, for clients such as websockets that cannot set headers.
func ParameterTokenExtractor(name string) TokenExtractor {
	return func(r *http.Request) (string, error) {
		return r.URL.Query().Get(name), nil
	}
}

// MultiTokenExtractor tries each extractor in order and returns the first
// token found. A malformed attempt stops the chain; later extractors are
// only consulted when earlier ones saw no token at all.
func MultiTokenExtractor(extractors ...TokenExtractor) TokenExtractor {
	return func(r *http.Request) (string, error) {
		for _, extract := range extractors {
			token, err := extract(r)
			if err != nil {
				return "", err
			}
			if token != "" {
				return token, nil
			}
		}
		return "", nil
	}
}
