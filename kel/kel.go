package kel

import (
	"encoding/json"
	"errors"
	"fmt"

	"xdao.co/keltel/ident"
	"xdao.co/keltel/keys"
	"xdao.co/keltel/said"
	"xdao.co/keltel/seal"
	"xdao.co/keltel/storage"
)

var (
	ErrNotIncepted        = errors.New("kel: log has no inception event")
	ErrAlreadyIncepted    = errors.New("kel: log already incepted")
	ErrStaleKeys          = errors.New("kel: key manager does not hold the current key set")
	ErrHistoryUnavailable = errors.New("kel: no event at requested historical point")
)

// A Log owns exactly one identifier's key event log. Each storage root
// backs a single KEL, so events live under a fixed storage key and the
// identifier prefix is recovered from the inception event.
const logKey = "kel"

type Log struct {
	store storage.Log
	alg   said.Alg
}

func New(store storage.Log, alg said.Alg) *Log {
	return &Log{store: store, alg: alg}
}

// Incept establishes the identifier from the manager's current key set and
// commits to its next one. The prefix is derived from the first current
// key, making the identifier self-certifying.
func (l *Log) Incept(km keys.Manager) error {
	n, err := l.store.Len(logKey)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrAlreadyIncepted
	}
	current := km.Keys()
	if len(current) == 0 {
		return errors.New("kel: key manager holds no keys")
	}
	next, err := KeyCommitment(l.alg, km.NextKeys())
	if err != nil {
		return err
	}
	ev := Event{
		Ilk:       IlkInception,
		Prefix:    ident.Prefix(current[0].String()),
		SN:        0,
		Keys:      encodeKeys(current),
		Threshold: uint64(len(current)),
		Next:      next,
	}
	_, err = l.append(ev, km)
	return err
}

// Rotate appends a rotation event activating the manager's current key set.
// The caller rotates the manager first; the revealed keys must match the
// commitment made by the previous establishment event.
func (l *Log) Rotate(km keys.Manager) error {
	state, err := l.State()
	if err != nil {
		return err
	}
	current := km.Keys()
	revealed, err := KeyCommitment(l.alg, current)
	if err != nil {
		return err
	}
	if revealed != state.NextCommitment {
		return fmt.Errorf("%w: revealed keys do not match prior commitment", ErrStaleKeys)
	}
	next, err := KeyCommitment(l.alg, km.NextKeys())
	if err != nil {
		return err
	}
	ev := Event{
		Ilk:       IlkRotation,
		Prefix:    state.Prefix,
		SN:        state.SN + 1,
		Prior:     state.LastDigest,
		Keys:      encodeKeys(current),
		Threshold: uint64(len(current)),
		Next:      next,
	}
	_, err = l.append(ev, km)
	return err
}

// AppendInteraction anchors the given seals in a new interaction event
// signed under the current key set. It fails with ErrStaleKeys if the
// manager's keys are not the log's current keys.
func (l *Log) AppendInteraction(seals []seal.Event, km keys.Manager) (*Signed, error) {
	state, err := l.State()
	if err != nil {
		return nil, err
	}
	if !sameKeys(km.Keys(), state.Keys) {
		return nil, ErrStaleKeys
	}
	ev := Event{
		Ilk:    IlkInteraction,
		Prefix: state.Prefix,
		SN:     state.SN + 1,
		Prior:  state.LastDigest,
		Seals:  seals,
	}
	return l.append(ev, km)
}

func (l *Log) append(ev Event, km keys.Manager) (*Signed, error) {
	body, err := ev.Serialize()
	if err != nil {
		return nil, err
	}
	sig, err := km.Sign(body)
	if err != nil {
		return nil, err
	}
	signed := &Signed{Event: ev, Signatures: [][]byte{sig}}
	raw, err := json.Marshal(signed)
	if err != nil {
		return nil, err
	}
	if err := l.store.Append(logKey, ev.SN, raw); err != nil {
		return nil, err
	}
	return signed, nil
}

// State folds and verifies the full log, returning the current key state.
func (l *Log) State() (*State, error) {
	events, err := l.store.List(logKey)
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, ErrNotIncepted
	}
	return l.fold(events)
}

// StateAsOf folds the log up to and including the event at sn, requiring
// that event's digest to equal digest. It returns the key state that was
// authoritative at exactly that point, independent of later rotations.
func (l *Log) StateAsOf(sn uint64, digest string) (*State, error) {
	events, err := l.store.List(logKey)
	if err != nil {
		return nil, err
	}
	if uint64(len(events)) <= sn {
		return nil, ErrHistoryUnavailable
	}
	state, err := l.fold(events[:sn+1])
	if err != nil {
		return nil, err
	}
	if state.LastDigest != digest {
		return nil, fmt.Errorf("%w: digest mismatch at sn %d", ErrHistoryUnavailable, sn)
	}
	return state, nil
}

// EventAt returns the verified signed event at sn.
func (l *Log) EventAt(sn uint64) (*Signed, error) {
	raw, err := l.store.Get(logKey, sn)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, ErrHistoryUnavailable
		}
		return nil, err
	}
	var signed Signed
	if err := json.Unmarshal(raw, &signed); err != nil {
		return nil, fmt.Errorf("kel: corrupt event at sn %d: %w", sn, err)
	}
	return &signed, nil
}

// fold replays events oldest-first, verifying the chain as it goes: sn
// contiguity, prior-digest linkage, signatures, and rotation against the
// standing next-key commitment.
func (l *Log) fold(events [][]byte) (*State, error) {
	var state *State
	for i, raw := range events {
		var signed Signed
		if err := json.Unmarshal(raw, &signed); err != nil {
			return nil, fmt.Errorf("kel: corrupt event at sn %d: %w", i, err)
		}
		ev := signed.Event
		if ev.SN != uint64(i) {
			return nil, fmt.Errorf("kel: event at position %d carries sn %d", i, ev.SN)
		}

		digest, err := ev.SAID(l.alg)
		if err != nil {
			return nil, err
		}

		switch ev.Ilk {
		case IlkInception:
			if i != 0 {
				return nil, fmt.Errorf("kel: inception at sn %d", i)
			}
			if err := verifySignatures(&signed, ev.Keys); err != nil {
				return nil, err
			}
			ks, err := parseKeys(ev.Keys)
			if err != nil {
				return nil, err
			}
			state = &State{
				Prefix:         ev.Prefix,
				SN:             ev.SN,
				LastDigest:     digest,
				Keys:           ks,
				Threshold:      ev.Threshold,
				NextCommitment: ev.Next,
			}

		case IlkRotation:
			if state == nil {
				return nil, ErrNotIncepted
			}
			if ev.Prior != state.LastDigest {
				return nil, fmt.Errorf("kel: broken chain at sn %d", i)
			}
			ks, err := parseKeys(ev.Keys)
			if err != nil {
				return nil, err
			}
			revealed, err := KeyCommitment(l.alg, ks)
			if err != nil {
				return nil, err
			}
			if revealed != state.NextCommitment {
				return nil, fmt.Errorf("kel: rotation at sn %d does not match key commitment", i)
			}
			// Rotations are signed under the keys they reveal.
			if err := verifySignatures(&signed, ev.Keys); err != nil {
				return nil, err
			}
			state.SN = ev.SN
			state.LastDigest = digest
			state.Keys = ks
			state.Threshold = ev.Threshold
			state.NextCommitment = ev.Next

		case IlkInteraction:
			if state == nil {
				return nil, ErrNotIncepted
			}
			if ev.Prior != state.LastDigest {
				return nil, fmt.Errorf("kel: broken chain at sn %d", i)
			}
			if err := verifySignatures(&signed, encodeKeys(state.Keys)); err != nil {
				return nil, err
			}
			state.SN = ev.SN
			state.LastDigest = digest

		default:
			return nil, fmt.Errorf("kel: unknown event kind %q at sn %d", ev.Ilk, i)
		}
	}
	return state, nil
}

// verifySignatures checks every attached signature against the given key
// set conjunctively: each key must validate one signature.
func verifySignatures(signed *Signed, keyStrs []string) error {
	body, err := signed.Event.Serialize()
	if err != nil {
		return err
	}
	if len(signed.Signatures) != len(keyStrs) {
		return fmt.Errorf("kel: event sn %d carries %d signatures for %d keys",
			signed.Event.SN, len(signed.Signatures), len(keyStrs))
	}
	for i, ks := range keyStrs {
		k, err := keys.ParsePublic(ks)
		if err != nil {
			return err
		}
		ok, err := k.Verify(body, signed.Signatures[i])
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("kel: invalid signature on event sn %d", signed.Event.SN)
		}
	}
	return nil
}

func encodeKeys(ks []keys.PublicKey) []string {
	out := make([]string, len(ks))
	for i, k := range ks {
		out[i] = k.String()
	}
	return out
}

func parseKeys(ss []string) ([]keys.PublicKey, error) {
	out := make([]keys.PublicKey, len(ss))
	for i, s := range ss {
		k, err := keys.ParsePublic(s)
		if err != nil {
			return nil, err
		}
		out[i] = k
	}
	return out, nil
}

func sameKeys(a, b []keys.PublicKey) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i].String() != b[i].String() {
			return false
		}
	}
	return true
}
