// Package ident defines self-certifying identifier prefixes.
//
// A prefix names a log controller without a registry or authority: it is
// either derived from a public key ("ed25519:<base64>", "dilithium3:<base64>")
// or from the self-addressing digest of an inception event. Either way the
// name commits to the material that controls it.
package ident

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/ipfs/go-cid"
)

// Prefix is an identifier prefix in canonical string form.
type Prefix string

// FromPublicKey returns a key-derived prefix for raw public key bytes.
// alg is the signature algorithm name, e.g. "ed25519" or "dilithium3".
func FromPublicKey(alg string, pub []byte) Prefix {
	return Prefix(alg + ":" + base64.StdEncoding.EncodeToString(pub))
}

// FromSAID returns a digest-derived prefix for a self-addressed event.
func FromSAID(id cid.Cid) Prefix {
	return Prefix(id.String())
}

func (p Prefix) Empty() bool { return p == "" }

// KeyBytes splits a key-derived prefix into its algorithm and raw key bytes.
func (p Prefix) KeyBytes() (alg string, pub []byte, err error) {
	alg, enc, ok := strings.Cut(string(p), ":")
	if !ok {
		return "", nil, fmt.Errorf("ident: prefix %q is not key-derived", p)
	}
	pub, err = base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return "", nil, fmt.Errorf("ident: invalid key encoding in prefix: %w", err)
	}
	return alg, pub, nil
}
