package idtokenverifier

import (
	"errors"
	"fmt"
	"net/http"
)

// Middleware wraps a Verifier as net/http middleware: it extracts the ID
// token from each request, verifies it, and stores the verified claims in
// the request context for downstream handlers.
type Middleware struct {
	verifier            *Verifier
	errorHandler        ErrorHandler
	tokenExtractor      TokenExtractor
	credentialsOptional bool
	validateOnOptions   bool
	exclusionHandler    func(r *http.Request) bool
	logger              Logger
}

// MiddlewareOption configures a Middleware.
type MiddlewareOption func(*Middleware) error

// WithErrorHandler sets the handler invoked when extraction or
// verification fails.
func WithErrorHandler(h ErrorHandler) MiddlewareOption {
	return func(m *Middleware) error {
		if h == nil {
			return errors.New("error handler must not be nil")
		}
		m.errorHandler = h
		return nil
	}
}

// WithTokenExtractor sets how the token is pulled out of the request. The
// default is AuthHeaderTokenExtractor.
func WithTokenExtractor(e TokenExtractor) MiddlewareOption {
	return func(m *Middleware) error {
		if e == nil {
			return errors.New("token extractor must not be nil")
		}
		m.tokenExtractor = e
		return nil
	}
}

// WithCredentialsOptional lets requests without any token through without
// claims in the context. Requests that do carry a token are still verified.
func WithCredentialsOptional(value bool) MiddlewareOption {
	return func(m *Middleware) error {
		m.credentialsOptional = value
		return nil
	}
}

// WithValidateOnOptions controls whether OPTIONS requests have their token
// verified. Enabled by default.
func WithValidateOnOptions(value bool) MiddlewareOption {
	return func(m *Middleware) error {
		m.validateOnOptions = value
		return nil
	}
}

// WithExclusionHandler sets a predicate for requests that skip token
// verification entirely, such as health check endpoints.
func WithExclusionHandler(h func(r *http.Request) bool) MiddlewareOption {
	return func(m *Middleware) error {
		if h == nil {
			return errors.New("exclusion handler must not be nil")
		}
		m.exclusionHandler = h
		return nil
	}
}

// WithMiddlewareLogger sets the logger used by the middleware.
func WithMiddlewareLogger(logger Logger) MiddlewareOption {
	return func(m *Middleware) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		m.logger = logger
		return nil
	}
}

// NewMiddleware constructs a Middleware around the given Verifier.
func NewMiddleware(verifier *Verifier, opts ...MiddlewareOption) (*Middleware, error) {
	if verifier == nil {
		return nil, errors.New("verifier is required but was nil")
	}

	m := &Middleware{
		verifier:          verifier,
		errorHandler:      DefaultErrorHandler,
		tokenExtractor:    AuthHeaderTokenExtractor,
		validateOnOptions: true,
		logger:            noopLogger{},
	}

	for _, opt := range opts {
		if err := opt(m); err != nil {
			return nil, fmt.Errorf("invalid option: %w", err)
		}
	}

	return m, nil
}

// CheckToken is the main Middleware function which performs the main logic.
// It is passed a http.Handler which will be called if the token passes
// verification.
func (m *Middleware) CheckToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.exclusionHandler != nil && m.exclusionHandler(r) {
			m.logger.Debugf("skipping token verification for excluded URL %s", r.URL.Path)
			next.ServeHTTP(w, r)
			return
		}

		// If we don't validate on OPTIONS and this is OPTIONS
		// then continue onto next without verifying.
		if !m.validateOnOptions && r.Method == http.MethodOptions {
			next.ServeHTTP(w, r)
			return
		}

		token, err := m.tokenExtractor(r)
		if err != nil {
			// This is not ErrTokenMissing because an error here means that
			// the tokenExtractor had an error and _not_ that the token was
			// missing.
			m.errorHandler(w, r, fmt.Errorf("error extracting token: %w", err))
			return
		}

		if token == "" {
			if m.credentialsOptional {
				next.ServeHTTP(w, r)
				return
			}
			m.errorHandler(w, r, ErrTokenMissing)
			return
		}

		claims, err := m.verifier.Verify(r.Context(), token)
		if err != nil {
			m.logger.Warnf("token verification failed for %s %s: %v", r.Method, r.URL.Path, err)
			m.errorHandler(w, r, invalidError{details: err})
			return
		}

		r = r.Clone(SetClaims(r.Context(), claims))
		next.ServeHTTP(w, r)
	})
}
