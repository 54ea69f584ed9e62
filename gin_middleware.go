package idtokenverifier

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
)

// GinErrorHandler is the gin flavor of ErrorHandler. It should abort the
// request with an appropriate status code.
type GinErrorHandler func(c *gin.Context, err error)

// DefaultGinErrorHandler mirrors DefaultErrorHandler for gin: 400 for a
// missing token, 503 when signing keys could not be fetched, 401 for an
// invalid token, and 500 otherwise.
func DefaultGinErrorHandler(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrTokenMissing):
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"message": "Token is missing."})
	case errors.Is(err, ErrKeyFetchFailed):
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"message": "Unable to fetch signing keys."})
	case errors.Is(err, ErrTokenInvalid):
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Token is invalid."})
	default:
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": "Something went wrong while checking the token."})
	}
}

// GinMiddleware wraps a Verifier as gin middleware.
type GinMiddleware struct {
	verifier            *Verifier
	errorHandler        GinErrorHandler
	tokenExtractor      TokenExtractor
	credentialsOptional bool
	validateOnOptions   bool
}

// GinOption configures a GinMiddleware.
type GinOption func(*GinMiddleware)

// WithGinErrorHandler sets the error handler for the gin middleware.
func WithGinErrorHandler(h GinErrorHandler) GinOption {
	return func(m *GinMiddleware) { m.errorHandler = h }
}

// WithGinTokenExtractor sets how the token is pulled out of the request.
func WithGinTokenExtractor(e TokenExtractor) GinOption {
	return func(m *GinMiddleware) { m.tokenExtractor = e }
}

// WithGinCredentialsOptional lets requests without a token through.
func WithGinCredentialsOptional(value bool) GinOption {
	return func(m *GinMiddleware) { m.credentialsOptional = value }
}

// WithGinValidateOnOptions controls verification of OPTIONS requests.
func WithGinValidateOnOptions(value bool) GinOption {
	return func(m *GinMiddleware) { m.validateOnOptions = value }
}

// NewGinMiddleware constructs gin middleware around the given Verifier.
func NewGinMiddleware(verifier *Verifier, opts ...GinOption) *GinMiddleware {
	m := &GinMiddleware{
		verifier:          verifier,
		errorHandler:      DefaultGinErrorHandler,
		tokenExtractor:    AuthHeaderTokenExtractor,
		validateOnOptions: true,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// CheckToken returns the gin.HandlerFunc that verifies the request token
// and stores the verified claims in the request context.
func (m *GinMiddleware) CheckToken() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.validateOnOptions && c.Request.Method == http.MethodOptions {
			c.Next()
			return
		}

		token, err := m.tokenExtractor(c.Request)
		if err != nil {
			m.errorHandler(c, fmt.Errorf("error extracting token: %w", err))
			return
		}

		if token == "" {
			if m.credentialsOptional {
				c.Next()
				return
			}
			m.errorHandler(c, ErrTokenMissing)
			return
		}

		claims, err := m.verifier.Verify(c.Request.Context(), token)
		if err != nil {
			m.errorHandler(c, invalidError{details: err})
			return
		}

		c.Request = c.Request.Clone(SetClaims(c.Request.Context(), claims))
		c.Next()
	}
}
