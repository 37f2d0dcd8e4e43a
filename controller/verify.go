package controller

import (
	"errors"

	"xdao.co/keltel/kel"
	"xdao.co/keltel/keys"
	"xdao.co/keltel/tel"
)

// SigningKeys returns the key set that was authoritative when the
// credential's most recent TEL event was anchored. "Most recent" is last in
// log order; the storage layer enforces contiguous append, so the order is
// well-defined for a single writer.
func (c *Controller) SigningKeys(credential string) ([]keys.PublicKey, error) {
	log, err := c.tel.CredentialLog(credential)
	if err != nil {
		return nil, wrapError(KindNoSuchCredential, "controller: reading credential log", err)
	}
	if len(log) == 0 {
		return nil, newError(KindNoSuchCredential, "controller: no events in credential log")
	}
	last := log[len(log)-1]

	// Mutual anchoring: the referenced interaction event must itself carry
	// a seal over this TEL event's digest.
	evDigest, err := last.Event.SAID(c.alg)
	if err != nil {
		return nil, wrapError(KindAnchorFailed, "controller: deriving event digest", err)
	}
	ixn, err := c.kel.EventAt(last.Seal.SN)
	if err != nil {
		return nil, wrapError(KindHistoryUnavailable, "controller: resolving anchoring interaction", err)
	}
	if !carriesSeal(ixn, evDigest) {
		return nil, newError(KindAnchorFailed, "controller: interaction event does not seal this credential event")
	}

	state, err := c.kel.StateAsOf(last.Seal.SN, last.Seal.Digest)
	if err != nil {
		if errors.Is(err, kel.ErrHistoryUnavailable) {
			return nil, wrapError(KindHistoryUnavailable, "controller: resolving anchored key state", err)
		}
		return nil, wrapError(KindNoKeyData, "controller: resolving anchored key state", err)
	}
	if state == nil || len(state.Keys) == 0 {
		return nil, newError(KindNoKeyData, "controller: anchored key state holds no keys")
	}
	return state.Keys, nil
}

// Verify checks a signature for a message against the key set that was
// authoritative at the credential's anchored point. Every key in that set
// must validate the signature; threshold subsets are the KEL engine's
// configuration concern, not this component's.
//
// The credential state is read once at call time; a concurrent revocation
// is not re-checked.
func (c *Controller) Verify(message, signature []byte) (bool, error) {
	credential, err := c.alg.SumString(message)
	if err != nil {
		return false, wrapError(KindNoSuchCredential, "controller: deriving credential digest", err)
	}
	state, err := c.VCState(credential)
	if err != nil {
		return false, err
	}
	switch state.Status {
	case tel.StatusNotIssued:
		return false, newError(KindNotYetIssued, "controller: credential not yet issued")
	case tel.StatusRevoked:
		return false, newError(KindCredentialRevoked, "controller: credential was revoked")
	}

	signing, err := c.SigningKeys(credential)
	if err != nil {
		return false, err
	}
	for _, k := range signing {
		ok, err := k.Verify(message, signature)
		if err != nil {
			return false, wrapError(KindNoKeyData, "controller: verifying signature", err)
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func carriesSeal(ixn *kel.Signed, digest string) bool {
	for _, s := range ixn.Event.Seals {
		if s.Digest == digest {
			return true
		}
	}
	return false
}
