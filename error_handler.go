package idtokenverifier

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrTokenMissing is returned when the request carries no token.
	ErrTokenMissing = errors.New("token missing")

	// ErrTokenInvalid is returned when the token failed verification.
	ErrTokenInvalid = errors.New("token invalid")
)

// ErrorHandler is a handler which is called when an error occurs in the
// Middleware. Among some general errors, this handler also determines the
// response of the Middleware when a token is not found or is invalid. The
// err can be checked to be ErrTokenMissing or ErrTokenInvalid for specific
// cases. The default handler returns 400 for ErrTokenMissing, 401 for
// ErrTokenInvalid, 503 when the signing keys could not be fetched, and 500
// for all other errors. If you implement your own ErrorHandler you MUST
// take these error types into consideration or the Middleware will not
// function as intended.
type ErrorHandler func(w http.ResponseWriter, r *http.Request, err error)

// DefaultErrorHandler is the default error handler implementation for the
// Middleware. If an error handler is not provided via the WithErrorHandler
// option this will be used.
func DefaultErrorHandler(w http.ResponseWriter, r *http.Request, err error) {
	w.Header().Set("Content-Type", "application/json")

	switch {
	case errors.Is(err, ErrTokenMissing):
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"message":"Token is missing."}`))
	case errors.Is(err, ErrKeyFetchFailed):
		// The token may well be valid; the signing keys were unreachable.
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"message":"Unable to fetch signing keys."}`))
	case errors.Is(err, ErrTokenInvalid):
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"message":"Token is invalid."}`))
	default:
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"message":"Something went wrong while checking the token."}`))
	}
}

// invalidError handles wrapping a verification error with the concrete
// error ErrTokenInvalid. We do not expose this publicly because the
// interface methods of Is and Unwrap should give the user all they need.
type invalidError struct {
	details error
}

// Is allows the error to support equality to ErrTokenInvalid.
func (e invalidError) Is(target error) bool {
	return target == ErrTokenInvalid
}

// Error returns a string representation of the error.
func (e invalidError) Error() string {
	return fmt.Sprintf("%s: %s", ErrTokenInvalid, e.details)
}

// Unwrap allows the error to support equality to the
// underlying error and not just ErrTokenInvalid.
func (e invalidError) Unwrap() error {
	return e.details
}
