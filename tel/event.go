// Package tel implements a transaction event log: the lifecycle record of a
// credential registry and of the credentials issued under it.
//
// The log has two sub-log kinds. The management sub-log holds registry
// inception ("vcp") and backer rotation ("vrt"); each credential digest has
// its own sub-log of issuance ("iss") and revocation ("rev"). The unit the
// engine persists is a VerifiableEvent: the raw event paired with the
// source seal of the KEL interaction event that anchored it. An event is
// never persisted without that seal.
package tel

import (
	"encoding/json"

	"xdao.co/keltel/ident"
	"xdao.co/keltel/said"
	"xdao.co/keltel/seal"
)

type Ilk string

const (
	IlkRegistryInception Ilk = "vcp"
	IlkRegistryRotation  Ilk = "vrt"
	IlkIssuance          Ilk = "iss"
	IlkRevocation        Ilk = "rev"
)

// ConfigNoBackers marks a registry that operates without backers.
const ConfigNoBackers = "NB"

// Event is the unsigned TEL event body. For management events Prefix is the
// registry prefix; for credential events it is the credential's content
// digest. Digests are computed over Serialize bytes.
type Event struct {
	Ilk             Ilk            `json:"t"`
	Prefix          ident.Prefix   `json:"i"`
	SN              uint64         `json:"s"`
	Registry        ident.Prefix   `json:"ri,omitempty"`
	Issuer          ident.Prefix   `json:"ii,omitempty"`
	Prior           string         `json:"p,omitempty"`
	Config          []string       `json:"c,omitempty"`
	BackerThreshold uint64         `json:"bt,omitempty"`
	Backers         []ident.Prefix `json:"b,omitempty"`
	BackersToAdd    []ident.Prefix `json:"ba,omitempty"`
	BackersToRemove []ident.Prefix `json:"br,omitempty"`
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

// Management reports whether the event belongs to the management sub-log.
func (e *Event) Management() bool {
	return e.Ilk == IlkRegistryInception || e.Ilk == IlkRegistryRotation
}

// VerifiableEvent pairs a TEL event with the source seal proving which KEL
// interaction event anchored it. Assembly is pure construction; validation
// happens in Process.
type VerifiableEvent struct {
	Event Event       `json:"event"`
	Seal  seal.Source `json:"seal"`
}

// Assemble builds the unit the engine persists.
func Assemble(event Event, source seal.Source) VerifiableEvent {
	return VerifiableEvent{Event: event, Seal: source}
}

// Status is a credential's lifecycle position. Issued and Revoked are
// terminal with respect to re-issuance.
type Status string

const (
	StatusNotIssued Status = "not-issued"
	StatusIssued    Status = "issued"
	StatusRevoked   Status = "revoked"
)

// CredentialState is the fold of one credential's sub-log.
type CredentialState struct {
	Status     Status
	SN         uint64
	LastDigest string
}

// RegistryState is the fold of the management sub-log.
type RegistryState struct {
	Registry        ident.Prefix
	Issuer          ident.Prefix
	SN              uint64
	LastDigest      string
	Backers         []ident.Prefix
	BackerThreshold uint64
	NoBackers       bool
}
