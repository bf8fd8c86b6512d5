package license

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/rs/zerolog/log"
)

// EmbeddedPublicKey is the production Ed25519 public key (base64 encoded),
// set at build time:
//
//	go build -ldflags "-X github.com/docsift/docsift/internal/license.EmbeddedPublicKey=BASE64_KEY"
var EmbeddedPublicKey string = ""

// ResolvePublicKey picks the verification key: an explicit override (from
// configuration) wins, otherwise the embedded build-time key is used.
// Returns nil when neither is configured; the validator then rejects every
// EdDSA token.
func ResolvePublicKey(override string) ed25519.PublicKey {
	if override != "" {
		key, err := DecodePublicKey(override)
		if err != nil {
			log.Error().Err(err).Msg("Failed to decode configured license public key")
		} else {
			log.Info().Msg("License public key loaded from configuration")
			return key
		}
	}

	if EmbeddedPublicKey != "" {
		key, err := DecodePublicKey(EmbeddedPublicKey)
		if err != nil {
			log.Error().Err(err).Msg("Failed to decode embedded license public key")
		} else {
			log.Info().Msg("License public key loaded from embedded key")
			return key
		}
	}

	log.Warn().Msg("No license public key configured - production license activation will fail")
	return nil
}

// DecodePublicKey decodes a base64-encoded Ed25519 public key. Standard and
// URL-safe encodings are both accepted.
func DecodePublicKey(encoded string) (ed25519.PublicKey, error) {
	encoded = strings.TrimSpace(encoded)

	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		decoded, err = base64.RawURLEncoding.DecodeString(encoded)
		if err != nil {
			return nil, err
		}
	}

	if len(decoded) != ed25519.PublicKeySize {
		return nil, errors.New("public key has wrong length")
	}

	return ed25519.PublicKey(decoded), nil
}
