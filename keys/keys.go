// Package keys provides the signing authority a log controller holds.
//
// A Manager owns the current signing key set plus the next, pre-generated
// set it will rotate to. Rotation activates the next set and generates a
// fresh one behind it, so an establishment event can always commit to the
// keys that will sign the following rotation.
package keys

import (
	"crypto/ed25519"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"golang.org/x/crypto/sha3"
)

const (
	AlgEd25519    = "ed25519"
	AlgDilithium3 = "dilithium3"
)

// Manager is the key-management interface the controller signs through.
//
// Sign and Rotate are blocking, side-effecting calls; nothing in this
// package retries them.
type Manager interface {
	// Sign returns a signature over message under the current key set.
	Sign(message []byte) ([]byte, error)
	// Rotate activates the next key set and pre-generates a new one.
	Rotate() error
	// Keys returns the current signing public keys.
	Keys() []PublicKey
	// NextKeys returns the pre-generated keys the next rotation activates.
	NextKeys() []PublicKey
}

// PublicKey is a raw public key tagged with its signature algorithm.
type PublicKey struct {
	Alg string
	Raw []byte
}

// String encodes the key as "<alg>:<base64>".
func (k PublicKey) String() string {
	return k.Alg + ":" + base64.StdEncoding.EncodeToString(k.Raw)
}

// ParsePublic decodes an "<alg>:<base64>" key string.
func ParsePublic(s string) (PublicKey, error) {
	alg, enc, ok := strings.Cut(s, ":")
	if !ok {
		return PublicKey{}, fmt.Errorf("keys: invalid public key encoding %q", s)
	}
	raw, err := decodeBase64(enc)
	if err != nil {
		return PublicKey{}, fmt.Errorf("keys: invalid public key base64: %w", err)
	}
	switch alg {
	case AlgEd25519:
		if len(raw) != ed25519.PublicKeySize {
			return PublicKey{}, errors.New("keys: invalid ed25519 public key length")
		}
	case AlgDilithium3:
		var pk mode3.PublicKey
		if err := pk.UnmarshalBinary(raw); err != nil {
			return PublicKey{}, fmt.Errorf("keys: invalid dilithium3 public key: %w", err)
		}
	default:
		return PublicKey{}, fmt.Errorf("keys: unsupported algorithm %q", alg)
	}
	return PublicKey{Alg: alg, Raw: raw}, nil
}

// Verify checks sig over message under k. Signatures are made over a
// per-algorithm digest of the message, not the raw message: sha256 for
// ed25519 and sha3-256 for dilithium3.
func (k PublicKey) Verify(message, sig []byte) (bool, error) {
	switch k.Alg {
	case AlgEd25519:
		if len(k.Raw) != ed25519.PublicKeySize {
			return false, errors.New("keys: invalid ed25519 public key length")
		}
		if len(sig) != ed25519.SignatureSize {
			return false, errors.New("keys: invalid ed25519 signature length")
		}
		digest := sha256.Sum256(message)
		return ed25519.Verify(ed25519.PublicKey(k.Raw), digest[:], sig), nil
	case AlgDilithium3:
		var pk mode3.PublicKey
		if err := pk.UnmarshalBinary(k.Raw); err != nil {
			return false, fmt.Errorf("keys: invalid dilithium3 public key: %w", err)
		}
		if len(sig) != mode3.SignatureSize {
			return false, errors.New("keys: invalid dilithium3 signature length")
		}
		digest := sha3.Sum256(message)
		return mode3.Verify(&pk, digest[:], sig), nil
	default:
		return false, fmt.Errorf("keys: unsupported algorithm %q", k.Alg)
	}
}

func decodeBase64(s string) ([]byte, error) {
	// Prefer standard padded encoding, but accept raw encoding too.
	if b, err := base64.StdEncoding.DecodeString(s); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(s)
}
