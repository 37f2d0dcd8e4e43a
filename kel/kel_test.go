package kel

import (
	"bytes"
	"encoding/json"
	"errors"
	"testing"

	"xdao.co/keltel/keys"
	"xdao.co/keltel/said"
	"xdao.co/keltel/seal"
	"xdao.co/keltel/storage/memlog"
)

func newTestLog(t *testing.T) (*Log, *keys.Ed25519Manager) {
	t.Helper()
	km, err := keys.NewEd25519ManagerFromSeed(bytes.Repeat([]byte{1}, 32))
	if err != nil {
		t.Fatalf("NewEd25519ManagerFromSeed: %v", err)
	}
	return New(memlog.New(), said.Blake3), km
}

func TestInceptEstablishesState(t *testing.T) {
	l, km := newTestLog(t)

	if _, err := l.State(); !errors.Is(err, ErrNotIncepted) {
		t.Fatalf("State before incept: got err=%v want ErrNotIncepted", err)
	}
	if err := l.Incept(km); err != nil {
		t.Fatalf("Incept: %v", err)
	}
	if err := l.Incept(km); !errors.Is(err, ErrAlreadyIncepted) {
		t.Fatalf("second Incept: got err=%v want ErrAlreadyIncepted", err)
	}

	state, err := l.State()
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state.SN != 0 {
		t.Fatalf("inception sn: got %d want 0", state.SN)
	}
	if string(state.Prefix) != km.Keys()[0].String() {
		t.Fatalf("prefix not derived from current key")
	}
	want, err := KeyCommitment(said.Blake3, km.NextKeys())
	if err != nil {
		t.Fatal(err)
	}
	if state.NextCommitment != want {
		t.Fatalf("next-key commitment mismatch")
	}
}

func TestRotateRequiresCommittedKeys(t *testing.T) {
	l, km := newTestLog(t)
	if err := l.Incept(km); err != nil {
		t.Fatalf("Incept: %v", err)
	}

	// Rotating the log without rotating the manager reveals the current,
	// uncommitted key set.
	if err := l.Rotate(km); !errors.Is(err, ErrStaleKeys) {
		t.Fatalf("Rotate without manager rotation: got err=%v want ErrStaleKeys", err)
	}

	if err := km.Rotate(); err != nil {
		t.Fatalf("manager Rotate: %v", err)
	}
	if err := l.Rotate(km); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	state, err := l.State()
	if err != nil {
		t.Fatalf("State: %v", err)
	}
	if state.SN != 1 {
		t.Fatalf("sn after rotation: got %d want 1", state.SN)
	}
	if state.Keys[0].String() != km.Keys()[0].String() {
		t.Fatalf("rotation did not activate the manager's current keys")
	}
}

func TestAppendInteractionAnchorsSeals(t *testing.T) {
	l, km := newTestLog(t)
	if err := l.Incept(km); err != nil {
		t.Fatalf("Incept: %v", err)
	}

	s := seal.Event{Prefix: "registry", SN: 0, Digest: "bafy-tel-event"}
	signed, err := l.AppendInteraction([]seal.Event{s}, km)
	if err != nil {
		t.Fatalf("AppendInteraction: %v", err)
	}
	if signed.Event.SN != 1 {
		t.Fatalf("interaction sn: got %d want 1", signed.Event.SN)
	}
	if len(signed.Event.Seals) != 1 || signed.Event.Seals[0] != s {
		t.Fatalf("interaction does not carry the anchored seal")
	}

	got, err := l.EventAt(1)
	if err != nil {
		t.Fatalf("EventAt: %v", err)
	}
	if len(got.Event.Seals) != 1 || got.Event.Seals[0] != s {
		t.Fatalf("persisted interaction lost its seal")
	}
}

func TestAppendInteractionRejectsStaleManager(t *testing.T) {
	l, km := newTestLog(t)
	if err := l.Incept(km); err != nil {
		t.Fatalf("Incept: %v", err)
	}
	// Manager moved ahead without the log: its current keys are no longer
	// the log's current keys.
	if err := km.Rotate(); err != nil {
		t.Fatal(err)
	}
	if _, err := l.AppendInteraction(nil, km); !errors.Is(err, ErrStaleKeys) {
		t.Fatalf("got err=%v want ErrStaleKeys", err)
	}
}

func TestStateAsOfIsRotationInvariant(t *testing.T) {
	l, km := newTestLog(t)
	if err := l.Incept(km); err != nil {
		t.Fatalf("Incept: %v", err)
	}
	signed, err := l.AppendInteraction(nil, km)
	if err != nil {
		t.Fatalf("AppendInteraction: %v", err)
	}
	digest, err := signed.Event.SAID(said.Blake3)
	if err != nil {
		t.Fatal(err)
	}
	keysBefore := km.Keys()[0].String()

	asOf, err := l.StateAsOf(1, digest)
	if err != nil {
		t.Fatalf("StateAsOf: %v", err)
	}
	if asOf.Keys[0].String() != keysBefore {
		t.Fatalf("StateAsOf returned wrong key set")
	}

	if err := km.Rotate(); err != nil {
		t.Fatal(err)
	}
	if err := l.Rotate(km); err != nil {
		t.Fatalf("Rotate: %v", err)
	}

	// Repeated lookups for the same anchor return the same key set even
	// after later rotations.
	again, err := l.StateAsOf(1, digest)
	if err != nil {
		t.Fatalf("StateAsOf after rotation: %v", err)
	}
	if again.Keys[0].String() != keysBefore {
		t.Fatalf("historical key lookup changed after rotation")
	}
	if again.LastDigest != digest {
		t.Fatalf("historical digest mismatch")
	}
}

func TestStateAsOfRejectsUnknownPoints(t *testing.T) {
	l, km := newTestLog(t)
	if err := l.Incept(km); err != nil {
		t.Fatalf("Incept: %v", err)
	}
	if _, err := l.StateAsOf(5, "bafy-nowhere"); !errors.Is(err, ErrHistoryUnavailable) {
		t.Fatalf("future sn: got err=%v want ErrHistoryUnavailable", err)
	}
	if _, err := l.StateAsOf(0, "bafy-wrong-digest"); !errors.Is(err, ErrHistoryUnavailable) {
		t.Fatalf("wrong digest: got err=%v want ErrHistoryUnavailable", err)
	}
}

func TestFoldRejectsTamperedEvents(t *testing.T) {
	store := memlog.New()
	km, err := keys.NewEd25519ManagerFromSeed(bytes.Repeat([]byte{2}, 32))
	if err != nil {
		t.Fatal(err)
	}
	l := New(store, said.Blake3)
	if err := l.Incept(km); err != nil {
		t.Fatalf("Incept: %v", err)
	}
	if _, err := l.AppendInteraction(nil, km); err != nil {
		t.Fatalf("AppendInteraction: %v", err)
	}

	// Rebuild the log with the interaction event re-signed by a different
	// manager; the fold must reject the forged signature.
	forger, err := keys.NewEd25519ManagerFromSeed(bytes.Repeat([]byte{3}, 32))
	if err != nil {
		t.Fatal(err)
	}
	genuine, err := l.EventAt(1)
	if err != nil {
		t.Fatal(err)
	}
	body, err := genuine.Event.Serialize()
	if err != nil {
		t.Fatal(err)
	}
	forgedSig, err := forger.Sign(body)
	if err != nil {
		t.Fatal(err)
	}

	tampered := memlog.New()
	raw0, err := store.Get("kel", 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := tampered.Append("kel", 0, raw0); err != nil {
		t.Fatal(err)
	}
	forged := &Signed{Event: genuine.Event, Signatures: [][]byte{forgedSig}}
	rawForged, err := json.Marshal(forged)
	if err != nil {
		t.Fatal(err)
	}
	if err := tampered.Append("kel", 1, rawForged); err != nil {
		t.Fatal(err)
	}

	if _, err := New(tampered, said.Blake3).State(); err == nil {
		t.Fatalf("fold accepted a forged interaction signature")
	}
}
