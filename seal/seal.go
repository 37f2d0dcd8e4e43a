// Package seal defines the two cross-link records of the anchoring protocol.
//
// An Event seal is embedded in a KEL interaction event and points at a TEL
// event by digest; a Source seal is embedded in the TEL's persisted record
// and points back at the interaction event that anchored it. Together they
// make the two logs mutually tamper-evident.
package seal

import "xdao.co/keltel/ident"

// Event references one event in a log by owner prefix, sequence number,
// and self-addressing digest.
type Event struct {
	Prefix ident.Prefix `json:"i"`
	SN     uint64       `json:"s"`
	Digest string       `json:"d"`
}

// Source references the KEL interaction event that anchored a TEL event.
// The prefix is implied: it is always the registry issuer's KEL.
type Source struct {
	SN     uint64 `json:"s"`
	Digest string `json:"d"`
}
