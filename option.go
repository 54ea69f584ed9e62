package idtokenverifier

import (
	"errors"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"
)

// Option configures a Verifier beyond the required constructor arguments.
type Option func(*Verifier) error

// WithClockSkew sets the leeway applied to the exp, nbf and iat time
// checks. The default is no leeway.
func WithClockSkew(skew time.Duration) Option {
	return func(v *Verifier) error {
		if skew < 0 {
			return errors.New("clock skew must not be negative")
		}
		v.clockSkew = skew
		return nil
	}
}

// WithCustomClaims sets up a function that returns the object CustomClaims
// are deserialized into. The object returned is also validated as part of
// token verification.
func WithCustomClaims(f func() CustomClaims) Option {
	return func(v *Verifier) error {
		if f == nil {
			return errors.New("custom claims func must not be nil")
		}
		v.customClaims = f
		return nil
	}
}

// WithExpiryRequired controls whether a token without an exp claim is
// rejected. Enabled by default; disable only for issuers that genuinely
// mint tokens without expiry.
func WithExpiryRequired(required bool) Option {
	return func(v *Verifier) error {
		v.expiryRequired = required
		return nil
	}
}

// WithAllowMissingKeyAlgorithm lets verification fall back to the token
// header's alg when the matched JWK carries no alg parameter. Some
// providers omit alg from their key sets; the fallback is off by default
// because the header value is attacker-controlled.
func WithAllowMissingKeyAlgorithm(allow bool) Option {
	return func(v *Verifier) error {
		v.allowMissingAlg = allow
		return nil
	}
}

// WithName labels the verifier in logs, metrics and traces. Useful when an
// application verifies tokens from several issuers.
func WithName(name string) Option {
	return func(v *Verifier) error {
		v.name = name
		return nil
	}
}

// WithLogger sets the logger used for verification failures.
func WithLogger(logger Logger) Option {
	return func(v *Verifier) error {
		if logger == nil {
			return errors.New("logger must not be nil")
		}
		v.logger = logger
		return nil
	}
}

// WithMetrics sets the metrics sink for verification outcomes.
func WithMetrics(metrics Metrics) Option {
	return func(v *Verifier) error {
		if metrics == nil {
			return errors.New("metrics must not be nil")
		}
		v.metrics = metrics
		return nil
	}
}

// WithTracer enables a span around each verification.
func WithTracer(tracer oteltrace.Tracer) Option {
	return func(v *Verifier) error {
		if tracer == nil {
			return errors.New("tracer must not be nil")
		}
		v.tracer = tracer
		return nil
	}
}

// WithClock overrides the time source used by claim validation. Intended
// for tests.
func WithClock(now func() time.Time) Option {
	return func(v *Verifier) error {
		if now == nil {
			return errors.New("clock func must not be nil")
		}
		v.now = now
		return nil
	}
}
