package idtokenverifier

import (
	"context"

	"github.com/golang-jwt/jwt/v5"
)

// CustomClaims defines any custom data / claims wanted. The Verifier will
// call the Validate function which is where custom validation logic can be
// defined.
type CustomClaims interface {
	Validate(ctx context.Context) error
}

// ValidatedClaims is the struct that will be inserted into the context for
// the user. CustomClaims will be nil unless WithCustomClaims is configured.
type ValidatedClaims struct {
	CustomClaims     CustomClaims
	RegisteredClaims RegisteredClaims
}

// RegisteredClaims holds the standard claims of a verified token.
type RegisteredClaims struct {
	Issuer    string   `json:"iss,omitempty"`
	Subject   string   `json:"sub,omitempty"`
	Audience  []string `json:"aud,omitempty"`
	ID        string   `json:"jti,omitempty"`
	Expiry    int64    `json:"exp,omitempty"`
	NotBefore int64    `json:"nbf,omitempty"`
	IssuedAt  int64    `json:"iat,omitempty"`
}

// payloadClaims is the wire form of the registered claims. It leans on the
// golang-jwt claim types: ClaimStrings accepts aud as both a string and an
// array, NumericDate accepts fractional timestamps.
type payloadClaims struct {
	Issuer    string           `json:"iss,omitempty"`
	Subject   string           `json:"sub,omitempty"`
	Audience  jwt.ClaimStrings `json:"aud,omitempty"`
	ID        string           `json:"jti,omitempty"`
	ExpiresAt *jwt.NumericDate `json:"exp,omitempty"`
	NotBefore *jwt.NumericDate `json:"nbf,omitempty"`
	IssuedAt  *jwt.NumericDate `json:"iat,omitempty"`
}

func (c payloadClaims) registered() RegisteredClaims {
	return RegisteredClaims{
		Issuer:    c.Issuer,
		Subject:   c.Subject,
		Audience:  []string(c.Audience),
		ID:        c.ID,
		Expiry:    numericDateToUnixTime(c.ExpiresAt),
		NotBefore: numericDateToUnixTime(c.NotBefore),
		IssuedAt:  numericDateToUnixTime(c.IssuedAt),
	}
}

func numericDateToUnixTime(date *jwt.NumericDate) int64 {
	if date != nil {
		return date.Unix()
	}
	return 0
}
