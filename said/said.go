// Package said derives self-addressing identifiers: content digests that
// name the bytes they were derived from.
//
// A SAID is an IPFS-compatible CIDv1 using the "raw" multicodec and a
// selectable multihash. Two byte strings are the same event iff their
// SAIDs are equal, and a SAID string embedded in another event is a
// tamper-evident reference.
package said

import (
	"fmt"

	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// Alg selects the multihash used for SAID derivation.
type Alg string

const (
	// Blake3 is the default derivation, CIDv1 raw + blake3 (32 bytes).
	Blake3 Alg = "blake3-256"
	SHA2   Alg = "sha2-256"
	SHA3   Alg = "sha3-256"
)

func (a Alg) code() (uint64, error) {
	switch a {
	case Blake3:
		return multihash.BLAKE3, nil
	case SHA2:
		return multihash.SHA2_256, nil
	case SHA3:
		return multihash.SHA3_256, nil
	default:
		return 0, fmt.Errorf("said: unsupported digest algorithm %q", a)
	}
}

// Sum returns the SAID of data under algorithm a.
func (a Alg) Sum(data []byte) (cid.Cid, error) {
	code, err := a.code()
	if err != nil {
		return cid.Undef, err
	}
	sum, err := multihash.Sum(data, code, 32)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// SumString returns the canonical string form of the SAID of data.
func (a Alg) SumString(data []byte) (string, error) {
	id, err := a.Sum(data)
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// Matches reports whether data digests to the SAID string want under a.
func (a Alg) Matches(data []byte, want string) bool {
	got, err := a.SumString(data)
	if err != nil {
		return false
	}
	return got == want
}

// Decode parses a SAID string back into a CID.
func Decode(s string) (cid.Cid, error) {
	id, err := cid.Decode(s)
	if err != nil || !id.Defined() {
		return cid.Undef, fmt.Errorf("said: invalid digest %q", s)
	}
	return id, nil
}
