// Package kel implements a key event log: the append-only, hash-chained
// record of one identifier's key state.
//
// Three event kinds exist. Inception ("icp") establishes the identifier and
// its first key set, rotation ("rot") replaces the key set, and interaction
// ("ixn") anchors payload seals without touching keys. Establishment events
// carry a commitment digest over the next key set, so a rotation is only
// valid if it reveals the keys the log already committed to.
package kel

import (
	"encoding/json"
	"strings"

	"xdao.co/keltel/ident"
	"xdao.co/keltel/keys"
	"xdao.co/keltel/said"
	"xdao.co/keltel/seal"
)

type Ilk string

const (
	IlkInception   Ilk = "icp"
	IlkRotation    Ilk = "rot"
	IlkInteraction Ilk = "ixn"
)

// Event is the unsigned event body. Digests and signatures are computed
// over its Serialize bytes; json.Marshal emits struct fields in declaration
// order, which keeps the serialization canonical.
type Event struct {
	Ilk       Ilk          `json:"t"`
	Prefix    ident.Prefix `json:"i"`
	SN        uint64       `json:"s"`
	Prior     string       `json:"p,omitempty"`
	Keys      []string     `json:"k,omitempty"`
	Threshold uint64       `json:"kt,omitempty"`
	Next      string       `json:"n,omitempty"`
	Seals     []seal.Event `json:"a,omitempty"`
}

func (e *Event) Serialize() ([]byte, error) {
	return json.Marshal(e)
}

// SAID returns the event's self-addressing digest under alg.
func (e *Event) SAID(alg said.Alg) (string, error) {
	b, err := e.Serialize()
	if err != nil {
		return "", err
	}
	return alg.SumString(b)
}

// Signed pairs an event with the signatures attached to it.
type Signed struct {
	Event      Event    `json:"event"`
	Signatures [][]byte `json:"signatures"`
}

// State is the folded key state of an identifier at some point in its KEL.
type State struct {
	Prefix         ident.Prefix
	SN             uint64
	LastDigest     string
	Keys           []keys.PublicKey
	Threshold      uint64
	NextCommitment string
}

// KeyCommitment digests a key set for pre-rotation: the commitment an
// establishment event makes to the keys of the following rotation.
func KeyCommitment(alg said.Alg, ks []keys.PublicKey) (string, error) {
	encoded := make([]string, len(ks))
	for i, k := range ks {
		encoded[i] = k.String()
	}
	return alg.SumString([]byte(strings.Join(encoded, "\n")))
}
