// Package controller binds one identifier's key event log to one credential
// registry's transaction event log.
//
// Every TEL event is anchored before it is persisted: its digest is sealed
// into a KEL interaction event, and the committed interaction event's
// position is sealed back into the persisted TEL record. A verifier can
// therefore recover exactly which key set was authoritative when a
// credential was issued, regardless of later rotations.
//
// A Controller is the sole writer to both of its logs. Operations are
// synchronous end-to-end and must not be invoked concurrently against the
// same storage without external mutual exclusion.
package controller

import (
	"errors"

	"xdao.co/keltel/ident"
	"xdao.co/keltel/kel"
	"xdao.co/keltel/keys"
	"xdao.co/keltel/said"
	"xdao.co/keltel/seal"
	"xdao.co/keltel/storage"
	"xdao.co/keltel/storage/localfs"
	"xdao.co/keltel/tel"
)

type Controller struct {
	kel *kel.Log
	tel *tel.Tel
	alg said.Alg
}

// New composes a controller over existing event-log stores.
func New(kelStore, telStore storage.Log, alg said.Alg) (*Controller, error) {
	t, err := tel.New(telStore, tel.FormatJSON, alg)
	if err != nil {
		return nil, wrapError(KindStorageInit, "controller: constructing tel engine", err)
	}
	return &Controller{kel: kel.New(kelStore, alg), tel: t, alg: alg}, nil
}

// Open backs a controller with filesystem stores at the two roots.
func Open(kelRoot, telRoot string, alg said.Alg) (*Controller, error) {
	ks, err := localfs.New(kelRoot)
	if err != nil {
		return nil, wrapError(KindStorageInit, "controller: opening kel store", err)
	}
	ts, err := localfs.New(telRoot)
	if err != nil {
		return nil, wrapError(KindStorageInit, "controller: opening tel store", err)
	}
	return New(ks, ts, alg)
}

// Init opens stores at the given roots and incepts both logs: the KEL under
// the manager's current keys, then the registry anchored to it. A nil
// backer set configures the registry with the no-backers flag.
func Init(kelRoot, telRoot string, alg said.Alg, km keys.Manager, backers []ident.Prefix, backerThreshold uint64) (*Controller, error) {
	c, err := Open(kelRoot, telRoot, alg)
	if err != nil {
		return nil, err
	}
	if err := c.Initialize(km, backers, backerThreshold); err != nil {
		return nil, err
	}
	return c, nil
}

// Initialize incepts the KEL if needed, then builds, anchors, and submits
// the registry inception. It must complete before any issuance and fails if
// the registry already exists.
func (c *Controller) Initialize(km keys.Manager, backers []ident.Prefix, backerThreshold uint64) error {
	if err := c.kel.Incept(km); err != nil && !errors.Is(err, kel.ErrAlreadyIncepted) {
		return wrapError(KindKeyManager, "controller: kel inception", err)
	}
	state, err := c.kel.State()
	if err != nil {
		return wrapError(KindKeyManager, "controller: reading kel state", err)
	}

	vcp, err := c.tel.MakeInceptionEvent(state.Prefix, backers, backerThreshold)
	if err != nil {
		return wrapError(KindRegistry, "controller: building registry inception", err)
	}
	return c.anchorAndSubmit(vcp, km)
}

// UpdateBackers builds, anchors, and submits a backer rotation. Overlapping
// or no-op add/remove sets are caller errors.
func (c *Controller) UpdateBackers(add, remove []ident.Prefix, km keys.Manager) error {
	vrt, err := c.tel.MakeRotationEvent(add, remove)
	if err != nil {
		return wrapError(KindRegistry, "controller: building backer rotation", err)
	}
	return c.anchorAndSubmit(vrt, km)
}

// Issue anchors and submits an issuance event for the message's digest,
// then signs the message under the current key set and returns the
// signature. It fails if the credential already has any prior event.
func (c *Controller) Issue(message []byte, km keys.Manager) ([]byte, error) {
	credential, err := c.alg.SumString(message)
	if err != nil {
		return nil, wrapError(KindInvalidTransition, "controller: deriving credential digest", err)
	}
	iss, err := c.tel.MakeIssuanceEvent(credential)
	if err != nil {
		return nil, mapTransition("controller: building issuance", err)
	}
	if err := c.anchorAndSubmit(iss, km); err != nil {
		return nil, err
	}
	sig, err := km.Sign(message)
	if err != nil {
		return nil, wrapError(KindKeyManager, "controller: signing message", err)
	}
	return sig, nil
}

// Revoke anchors and submits a revocation event for the message's digest.
// It fails unless the credential is currently issued.
func (c *Controller) Revoke(message []byte, km keys.Manager) error {
	credential, err := c.alg.SumString(message)
	if err != nil {
		return wrapError(KindInvalidTransition, "controller: deriving credential digest", err)
	}
	rev, err := c.tel.MakeRevocationEvent(credential)
	if err != nil {
		return mapTransition("controller: building revocation", err)
	}
	return c.anchorAndSubmit(rev, km)
}

// RotateKeys appends a KEL rotation activating the manager's current keys.
// The caller rotates the manager first.
func (c *Controller) RotateKeys(km keys.Manager) error {
	if err := c.kel.Rotate(km); err != nil {
		return wrapError(KindKeyManager, "controller: kel rotation", err)
	}
	return nil
}

// KELState returns the identifier's current verified key state.
func (c *Controller) KELState() (*kel.State, error) {
	state, err := c.kel.State()
	if err != nil {
		return nil, wrapError(KindKeyManager, "controller: folding kel state", err)
	}
	return state, nil
}

// VCState returns the credential's folded lifecycle state.
func (c *Controller) VCState(credential string) (tel.CredentialState, error) {
	state, err := c.tel.CredentialState(credential)
	if err != nil {
		return tel.CredentialState{}, mapTransition("controller: folding credential state", err)
	}
	return state, nil
}

// TEL returns the credential's persisted sub-log oldest-first.
func (c *Controller) TEL(credential string) ([]tel.VerifiableEvent, error) {
	return c.tel.CredentialLog(credential)
}

// RegistryState returns the folded management state of the registry.
func (c *Controller) RegistryState() (*tel.RegistryState, error) {
	state, err := c.tel.ManagementState()
	if err != nil {
		return nil, wrapError(KindRegistry, "controller: folding registry state", err)
	}
	return state, nil
}

// DigestAlg returns the digest algorithm credentials are identified by.
func (c *Controller) DigestAlg() said.Alg { return c.alg }

// anchorAndSubmit runs the two-phase append: seal the event into a KEL
// interaction event, then persist the event with its source seal. Anchoring
// is a precondition, not a parallel step; if it fails the TEL is untouched.
// If submission fails after the anchor committed, the KEL holds an orphaned
// interaction event and the caller may retry submission.
func (c *Controller) anchorAndSubmit(ev tel.Event, km keys.Manager) error {
	source, err := c.anchor(ev, km)
	if err != nil {
		return err
	}
	if err := c.tel.Process(tel.Assemble(ev, source)); err != nil {
		return wrapError(KindSubmitFailed, "controller: submitting anchored event", err)
	}
	return nil
}

// anchor derives the TEL event's digest, seals it into a new KEL
// interaction event, and returns the source seal referencing that
// interaction event.
func (c *Controller) anchor(ev tel.Event, km keys.Manager) (seal.Source, error) {
	digest, err := ev.SAID(c.alg)
	if err != nil {
		return seal.Source{}, wrapError(KindAnchorFailed, "controller: deriving event digest", err)
	}
	evSeal := seal.Event{Prefix: ev.Prefix, SN: ev.SN, Digest: digest}

	ixn, err := c.kel.AppendInteraction([]seal.Event{evSeal}, km)
	if err != nil {
		return seal.Source{}, wrapError(KindAnchorFailed, "controller: appending anchoring interaction", err)
	}
	ixnDigest, err := ixn.Event.SAID(c.alg)
	if err != nil {
		return seal.Source{}, wrapError(KindAnchorFailed, "controller: deriving interaction digest", err)
	}
	return seal.Source{SN: ixn.Event.SN, Digest: ixnDigest}, nil
}

func mapTransition(msg string, err error) error {
	if errors.Is(err, tel.ErrInvalidTransition) {
		return wrapError(KindInvalidTransition, msg, err)
	}
	return wrapError(KindRegistry, msg, err)
}
