package idtokenverifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/yevtyushkin/id-token-verifier/jwks"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// KeyProvider supplies the signing key for a key id. It is satisfied by
// *jwks.Provider; the indirection keeps the verifier testable against an
// in-memory key source.
type KeyProvider interface {
	SigningKey(ctx context.Context, keyID string) (jwk.Key, error)
}

// Verifier verifies OIDC ID tokens: it parses the compact envelope, looks
// up the signing key through a KeyProvider, verifies the signature under
// the key set's declared algorithm, validates the standard claims against
// the configured options, and deserializes custom claims.
//
// A Verifier is immutable after construction and safe for concurrent use.
type Verifier struct {
	keys             KeyProvider
	allowedIssuers   map[string]struct{}
	allowedAudiences map[string]struct{}
	clockSkew        time.Duration
	expiryRequired   bool
	allowMissingAlg  bool
	customClaims     func() CustomClaims
	name             string
	logger           Logger
	metrics          Metrics
	tracer           oteltrace.Tracer
	now              func() time.Time
}

// New sets up a new Verifier. The key provider, at least one acceptable
// issuer, and at least one acceptable audience are required; empty issuer
// or audience sets would silently disable the corresponding check, which is
// never what a relying party wants.
func New(
	keys KeyProvider,
	allowedIssuers []string,
	allowedAudiences []string,
	opts ...Option,
) (*Verifier, error) {
	if keys == nil {
		return nil, errors.New("key provider is required but was nil")
	}
	if len(allowedIssuers) == 0 {
		return nil, errors.New("at least one allowed issuer is required")
	}
	if len(allowedAudiences) == 0 {
		return nil, errors.New("at least one allowed audience is required")
	}

	v := &Verifier{
		keys:             keys,
		allowedIssuers:   stringSet(allowedIssuers),
		allowedAudiences: stringSet(allowedAudiences),
		expiryRequired:   true,
		logger:           noopLogger{},
		metrics:          &NoopMetrics{},
		now:              time.Now,
	}

	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, fmt.Errorf("invalid option: %w", err)
		}
	}

	return v, nil
}

// Verify checks the given compact-serialized ID token and returns its
// claims. Verification is all-or-nothing: no claims are ever returned for
// a token that failed any step.
func (v *Verifier) Verify(ctx context.Context, token string) (*ValidatedClaims, error) {
	claims, _, err := v.verify(ctx, token)
	return claims, err
}

// VerifyClaims verifies the token like Verifier.Verify and deserializes the
// full claims payload into T.
func VerifyClaims[T any](ctx context.Context, v *Verifier, token string) (T, error) {
	var claims T

	_, payload, err := v.verify(ctx, token)
	if err != nil {
		return claims, err
	}

	if err := json.Unmarshal(payload, &claims); err != nil {
		return claims, failStep(ErrClaimsDeserializationFailed, err)
	}
	return claims, nil
}

func (v *Verifier) verify(ctx context.Context, token string) (_ *ValidatedClaims, _ []byte, err error) {
	if v.tracer != nil {
		var span oteltrace.Span
		ctx, span = v.tracer.Start(ctx, "idtokenverifier.Verify",
			oteltrace.WithAttributes(attribute.String("verifier.name", v.name)))
		defer func() {
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			span.End()
		}()
	}

	claims, payload, err := v.verifySteps(ctx, token)
	if err != nil {
		v.metrics.IncCounter(MetricVerificationFailures, nil)
		v.logger.Debugf("token verification failed (verifier=%s): %v", v.name, err)
		return nil, nil, err
	}
	v.metrics.IncCounter(MetricVerificationSuccess, nil)
	return claims, payload, nil
}

func (v *Verifier) verifySteps(ctx context.Context, token string) (*ValidatedClaims, []byte, error) {
	msg, err := jws.Parse([]byte(token))
	if err != nil {
		return nil, nil, failStep(ErrMalformedToken, err)
	}
	if len(msg.Signatures()) == 0 {
		return nil, nil, failStep(ErrMalformedToken, errors.New("token carries no signature"))
	}
	headers := msg.Signatures()[0].ProtectedHeaders()

	keyID := headers.KeyID()
	if keyID == "" {
		return nil, nil, failStep(ErrMissingKeyID, nil)
	}

	key, err := v.keys.SigningKey(ctx, keyID)
	if err != nil {
		return nil, nil, v.keyLookupError(err)
	}

	// The algorithm comes from the key set, not the token header: trusting
	// the header would open the door to algorithm-confusion attacks.
	alg := key.Algorithm()
	if alg == nil || alg.String() == "" {
		if !v.allowMissingAlg {
			return nil, nil, failStep(ErrMissingKeyAlgorithm, nil)
		}
		alg = headers.Algorithm()
	}
	if _, ok := alg.(jwa.SignatureAlgorithm); !ok {
		return nil, nil, failStep(ErrInvalidSignature,
			fmt.Errorf("key %q declares non-signature algorithm %q", keyID, alg))
	}

	payload, err := jws.Verify([]byte(token), jws.WithKey(alg, key))
	if err != nil {
		return nil, nil, failStep(ErrInvalidSignature, err)
	}

	var decoded payloadClaims
	if err := json.Unmarshal(payload, &decoded); err != nil {
		return nil, nil, failStep(ErrClaimsDeserializationFailed, err)
	}

	if err := v.validateClaims(decoded); err != nil {
		return nil, nil, err
	}

	validated := &ValidatedClaims{RegisteredClaims: decoded.registered()}

	if v.customClaims != nil {
		custom := v.customClaims()
		if custom != nil {
			if err := json.Unmarshal(payload, custom); err != nil {
				return nil, nil, failStep(ErrClaimsDeserializationFailed, err)
			}
			if err := custom.Validate(ctx); err != nil {
				return nil, nil, failStep(ErrClaimsValidationFailed, err)
			}
			validated.CustomClaims = custom
		}
	}

	return validated, payload, nil
}

// keyLookupError classifies failures coming out of the key provider: a key
// that is genuinely absent from a fresh key set stays ErrKeyNotFound,
// everything else (refresh failure, discovery failure, waiter timeout) is a
// transient ErrKeyFetchFailed.
func (v *Verifier) keyLookupError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return failStep(ErrKeyFetchFailed, err)
	}
	if errors.Is(err, jwks.ErrKeyNotFound) {
		return failStep(ErrKeyNotFound, err)
	}
	return failStep(ErrKeyFetchFailed, err)
}

func (v *Verifier) validateClaims(claims payloadClaims) error {
	if _, ok := v.allowedIssuers[claims.Issuer]; !ok {
		return &ClaimsValidationError{
			Claim:  "iss",
			Detail: fmt.Sprintf("issuer %q is not allowed", claims.Issuer),
		}
	}

	foundAudience := false
	for _, aud := range claims.Audience {
		if _, ok := v.allowedAudiences[aud]; ok {
			foundAudience = true
			break
		}
	}
	if !foundAudience {
		return &ClaimsValidationError{
			Claim:  "aud",
			Detail: fmt.Sprintf("audience %v is not allowed", []string(claims.Audience)),
		}
	}

	now := v.now()

	if claims.ExpiresAt == nil {
		if v.expiryRequired {
			return &ClaimsValidationError{Claim: "exp", Detail: "exp claim is required but absent"}
		}
	} else if now.Add(-v.clockSkew).After(claims.ExpiresAt.Time) {
		return &ClaimsValidationError{Claim: "exp", Detail: "token is expired"}
	}

	if claims.NotBefore != nil && now.Add(v.clockSkew).Before(claims.NotBefore.Time) {
		return &ClaimsValidationError{Claim: "nbf", Detail: "token is not valid yet"}
	}

	if claims.IssuedAt != nil && now.Add(v.clockSkew).Before(claims.IssuedAt.Time) {
		return &ClaimsValidationError{Claim: "iat", Detail: "token is issued in the future"}
	}

	return nil
}

func stringSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, value := range values {
		set[value] = struct{}{}
	}
	return set
}
