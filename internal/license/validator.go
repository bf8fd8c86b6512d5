// Package license verifies externally issued license tokens. Tokens are
// never generated here; an external licensing authority signs them and this
// package only checks signature, expiry and tier claims.
package license

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/docsift/docsift/internal/tier"
)

// ErrInvalidLicense is the single error kind surfaced for any validation
// failure. The wrapped cause is safe to show to an end user; the detailed
// reason only goes to the log.
var ErrInvalidLicense = errors.New("invalid license")

// allowedAlgorithms is the fixed set of acceptable signing algorithms.
// The token header selects which of these applies but can never widen the
// set: EdDSA for production tokens, HS256 for development tokens signed
// with the shared secret.
var allowedAlgorithms = []string{
	jwt.SigningMethodEdDSA.Alg(),
	jwt.SigningMethodHS256.Alg(),
}

// Claims are the license token claims.
type Claims struct {
	Tier string `json:"tier"`
	jwt.RegisteredClaims
}

// Preview is the result of validating a token without activating it.
type Preview struct {
	Tier     tier.Tier         `json:"tier"`
	Expiry   time.Time         `json:"expiry"`
	Features tier.FeatureFlags `json:"features"`
}

// Validator verifies license tokens against a fixed key set.
type Validator struct {
	publicKey    ed25519.PublicKey
	sharedSecret []byte

	now func() time.Time
}

// NewValidator creates a validator. publicKey verifies production EdDSA
// tokens; sharedSecret, if non-empty, additionally accepts HS256 development
// tokens. At least one must be provided for any token to validate.
func NewValidator(publicKey ed25519.PublicKey, sharedSecret []byte) *Validator {
	return &Validator{
		publicKey:    publicKey,
		sharedSecret: sharedSecret,
		now:          time.Now,
	}
}

// Validate verifies the token's signature and expiry and returns the tier
// and expiry it asserts. The current entitlement is not touched.
func (v *Validator) Validate(token string) (tier.Tier, time.Time, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return "", time.Time{}, v.reject("empty token", errors.New("empty token string"))
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, v.keyFor,
		jwt.WithValidMethods(allowedAlgorithms),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return v.now() }),
	)
	if err != nil {
		return "", time.Time{}, v.reject(publicCause(err), err)
	}
	if !parsed.Valid {
		return "", time.Time{}, v.reject("token not valid", errors.New("parsed token reported invalid"))
	}

	t, err := tier.Parse(claims.Tier)
	if err != nil {
		return "", time.Time{}, v.reject("unknown tier", err)
	}

	return t, claims.ExpiresAt.Time, nil
}

// Preview validates a token and returns the feature snapshot the tier would
// grant, without any side effects.
func (v *Validator) Preview(token string) (Preview, error) {
	t, expiry, err := v.Validate(token)
	if err != nil {
		return Preview{}, err
	}
	return Preview{Tier: t, Expiry: expiry, Features: tier.LimitsFor(t)}, nil
}

// keyFor selects the verification key based on the concrete signing method.
// The method has already passed the WithValidMethods allow-list; this switch
// is the second gate binding each algorithm to exactly one key.
func (v *Validator) keyFor(token *jwt.Token) (interface{}, error) {
	switch token.Method.(type) {
	case *jwt.SigningMethodEd25519:
		if len(v.publicKey) == 0 {
			return nil, errors.New("no public key configured")
		}
		return v.publicKey, nil
	case *jwt.SigningMethodHMAC:
		if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
			return nil, fmt.Errorf("unexpected HMAC variant %s", token.Method.Alg())
		}
		if len(v.sharedSecret) == 0 {
			return nil, errors.New("shared-secret verification not enabled")
		}
		return v.sharedSecret, nil
	default:
		return nil, fmt.Errorf("unexpected signing method %s", token.Method.Alg())
	}
}

// reject logs the detailed failure and returns the coarse user-facing error.
func (v *Validator) reject(cause string, detail error) error {
	log.Warn().Err(detail).Str("cause", cause).Msg("License token rejected")
	return fmt.Errorf("%w: %s", ErrInvalidLicense, cause)
}

// publicCause maps a jwt parse error to a cause safe to show users.
func publicCause(err error) string {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return "token expired"
	case errors.Is(err, jwt.ErrTokenMalformed):
		return "malformed token"
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return "signature verification failed"
	case errors.Is(err, jwt.ErrTokenUnverifiable):
		return "token could not be verified"
	default:
		return "token rejected"
	}
}
