package idtokenverifier

import (
	"errors"
	"fmt"
)

// Verification failure kinds. Every error returned from Verify matches
// exactly one of these via errors.Is, so integrators can decide whether to
// reject the request, log it as suspicious, or retry a transient key fetch.
var (
	// ErrMalformedToken is returned when the token is not a structurally
	// valid compact-serialized JWS.
	ErrMalformedToken = errors.New("malformed token")

	// ErrMissingKeyID is returned when the token header carries no kid.
	ErrMissingKeyID = errors.New("token header is missing the kid field")

	// ErrKeyNotFound is returned when the key id is absent from the key
	// set, including after a refresh attempt.
	ErrKeyNotFound = errors.New("signing key not found")

	// ErrKeyFetchFailed is returned when the key set could not be
	// fetched or refreshed in time. This is the only transient failure
	// kind: retrying the verification later may succeed.
	ErrKeyFetchFailed = errors.New("signing key fetch failed")

	// ErrMissingKeyAlgorithm is returned when the signing key declares no
	// algorithm and the verifier is not configured to fall back to the
	// token header's algorithm.
	ErrMissingKeyAlgorithm = errors.New("signing key declares no algorithm")

	// ErrInvalidSignature is returned when the cryptographic signature
	// does not verify under the key set's declared algorithm.
	ErrInvalidSignature = errors.New("invalid token signature")

	// ErrClaimsValidationFailed is returned when a standard claim
	// violates the configured validation options.
	ErrClaimsValidationFailed = errors.New("claims validation failed")

	// ErrClaimsDeserializationFailed is returned when the claims payload
	// cannot be deserialized into the target type.
	ErrClaimsDeserializationFailed = errors.New("claims deserialization failed")
)

// verificationError ties a failure kind to its underlying cause. It is not
// exported: errors.Is against the sentinel plus Unwrap give callers all
// they need.
type verificationError struct {
	kind  error
	cause error
}

func (e *verificationError) Is(target error) bool {
	return target == e.kind
}

func (e *verificationError) Error() string {
	if e.cause == nil {
		return e.kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.kind, e.cause)
}

func (e *verificationError) Unwrap() error {
	return e.cause
}

func failStep(kind, cause error) error {
	return &verificationError{kind: kind, cause: cause}
}

// ClaimsValidationError names the specific claim that failed validation.
// It matches ErrClaimsValidationFailed via errors.Is.
type ClaimsValidationError struct {
	// Claim is the registered claim name: "iss", "aud", "exp", "nbf" or
	// "iat".
	Claim string

	// Detail is a human-readable description of the violation.
	Detail string
}

func (e *ClaimsValidationError) Is(target error) bool {
	return target == ErrClaimsValidationFailed
}

func (e *ClaimsValidationError) Error() string {
	return fmt.Sprintf("claims validation failed (%s): %s", e.Claim, e.Detail)
}
