package controller

import (
	"bytes"
	"path/filepath"
	"testing"

	"xdao.co/keltel/ident"
	"xdao.co/keltel/keys"
	"xdao.co/keltel/said"
	"xdao.co/keltel/storage/memlog"
	"xdao.co/keltel/tel"
)

func newTestController(t *testing.T, backers []ident.Prefix, threshold uint64) (*Controller, *keys.Ed25519Manager) {
	t.Helper()
	km, err := keys.NewEd25519ManagerFromSeed(bytes.Repeat([]byte{5}, 32))
	if err != nil {
		t.Fatalf("NewEd25519ManagerFromSeed: %v", err)
	}
	c, err := New(memlog.New(), memlog.New(), said.Blake3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := c.Initialize(km, backers, threshold); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return c, km
}

func TestIssuanceLifecycle(t *testing.T) {
	c, km := newTestController(t, []ident.Prefix{}, 0)
	message := []byte("some vc")

	// Registry inception committed with an explicit empty backer set.
	reg, err := c.RegistryState()
	if err != nil {
		t.Fatalf("RegistryState: %v", err)
	}
	if reg.NoBackers {
		t.Fatalf("explicit empty backer set must not set the no-backers flag")
	}
	if len(reg.Backers) != 0 || reg.BackerThreshold != 0 {
		t.Fatalf("unexpected registry config: %+v", reg)
	}

	credential, err := c.DigestAlg().SumString(message)
	if err != nil {
		t.Fatal(err)
	}

	signature, err := c.Issue(message, km)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	ok, err := c.Verify(message, signature)
	if err != nil {
		t.Fatalf("Verify after issue: %v", err)
	}
	if !ok {
		t.Fatalf("freshly issued signature did not verify")
	}

	log, err := c.TEL(credential)
	if err != nil {
		t.Fatalf("TEL: %v", err)
	}
	if len(log) != 1 {
		t.Fatalf("credential log length after issue: got %d want 1", len(log))
	}
	state, err := c.VCState(credential)
	if err != nil {
		t.Fatalf("VCState: %v", err)
	}
	if state.Status != tel.StatusIssued {
		t.Fatalf("status after issue: got %s want %s", state.Status, tel.StatusIssued)
	}

	// Historical key resolution must be rotation-invariant.
	if err := km.Rotate(); err != nil {
		t.Fatalf("manager Rotate: %v", err)
	}
	if err := c.RotateKeys(km); err != nil {
		t.Fatalf("RotateKeys: %v", err)
	}
	ok, err = c.Verify(message, signature)
	if err != nil {
		t.Fatalf("Verify after rotation: %v", err)
	}
	if !ok {
		t.Fatalf("pre-rotation signature no longer verifies")
	}

	if err := c.Revoke(message, km); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	state, err = c.VCState(credential)
	if err != nil {
		t.Fatalf("VCState after revoke: %v", err)
	}
	if state.Status != tel.StatusRevoked {
		t.Fatalf("status after revoke: got %s want %s", state.Status, tel.StatusRevoked)
	}
	log, err = c.TEL(credential)
	if err != nil {
		t.Fatalf("TEL after revoke: %v", err)
	}
	if len(log) != 2 {
		t.Fatalf("credential log length after revoke: got %d want 2", len(log))
	}

	if _, err := c.Verify(message, signature); !IsKind(err, KindCredentialRevoked) {
		t.Fatalf("Verify after revoke: got err=%v want KindCredentialRevoked", err)
	}
}

func TestVerifyBeforeIssue(t *testing.T) {
	c, _ := newTestController(t, nil, 0)
	if _, err := c.Verify([]byte("never issued"), []byte("sig")); !IsKind(err, KindNotYetIssued) {
		t.Fatalf("got err=%v want KindNotYetIssued", err)
	}
}

func TestInvalidTransitions(t *testing.T) {
	c, km := newTestController(t, nil, 0)
	message := []byte("some vc")

	if err := c.Revoke(message, km); !IsKind(err, KindInvalidTransition) {
		t.Fatalf("revoke before issue: got err=%v want KindInvalidTransition", err)
	}
	if _, err := c.Issue(message, km); err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := c.Issue(message, km); !IsKind(err, KindInvalidTransition) {
		t.Fatalf("double issue: got err=%v want KindInvalidTransition", err)
	}
	if err := c.Revoke(message, km); err != nil {
		t.Fatalf("Revoke: %v", err)
	}
	if err := c.Revoke(message, km); !IsKind(err, KindInvalidTransition) {
		t.Fatalf("double revoke: got err=%v want KindInvalidTransition", err)
	}
	if _, err := c.Issue(message, km); !IsKind(err, KindInvalidTransition) {
		t.Fatalf("issue after revoke: got err=%v want KindInvalidTransition", err)
	}
}

func TestInitializeRunsOnce(t *testing.T) {
	c, km := newTestController(t, nil, 0)
	if err := c.Initialize(km, nil, 0); !IsKind(err, KindRegistry) {
		t.Fatalf("second Initialize: got err=%v want KindRegistry", err)
	}
}

func TestAnchorFailureLeavesTELUntouched(t *testing.T) {
	c, km := newTestController(t, nil, 0)
	message := []byte("some vc")
	credential, err := c.DigestAlg().SumString(message)
	if err != nil {
		t.Fatal(err)
	}

	// A manager that rotated ahead of the KEL holds a stale key set, so the
	// anchoring interaction is rejected.
	if err := km.Rotate(); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Issue(message, km); !IsKind(err, KindAnchorFailed) {
		t.Fatalf("issue with stale keys: got err=%v want KindAnchorFailed", err)
	}
	log, err := c.TEL(credential)
	if err != nil {
		t.Fatalf("TEL: %v", err)
	}
	if len(log) != 0 {
		t.Fatalf("failed anchor still wrote %d TEL events", len(log))
	}

	// Bring the KEL up to the manager's keys; the operation then succeeds.
	if err := c.RotateKeys(km); err != nil {
		t.Fatalf("RotateKeys: %v", err)
	}
	if _, err := c.Issue(message, km); err != nil {
		t.Fatalf("Issue after recovery: %v", err)
	}
}

func TestSigningKeysDeterministic(t *testing.T) {
	c, km := newTestController(t, nil, 0)
	message := []byte("some vc")
	credential, err := c.DigestAlg().SumString(message)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Issue(message, km); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	first, err := c.SigningKeys(credential)
	if err != nil {
		t.Fatalf("SigningKeys: %v", err)
	}
	if err := km.Rotate(); err != nil {
		t.Fatal(err)
	}
	if err := c.RotateKeys(km); err != nil {
		t.Fatalf("RotateKeys: %v", err)
	}
	second, err := c.SigningKeys(credential)
	if err != nil {
		t.Fatalf("SigningKeys after rotation: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("key set size changed: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].String() != second[i].String() {
			t.Fatalf("historical key lookup not deterministic")
		}
	}
	if first[0].String() == km.Keys()[0].String() {
		t.Fatalf("historical lookup returned post-rotation keys")
	}
}

func TestSigningKeysUnknownCredential(t *testing.T) {
	c, _ := newTestController(t, nil, 0)
	if _, err := c.SigningKeys("bafy-unknown"); !IsKind(err, KindNoSuchCredential) {
		t.Fatalf("got err=%v want KindNoSuchCredential", err)
	}
}

func TestUpdateBackers(t *testing.T) {
	c, km := newTestController(t, []ident.Prefix{"b1"}, 1)

	if err := c.UpdateBackers([]ident.Prefix{"b2"}, nil, km); err != nil {
		t.Fatalf("UpdateBackers: %v", err)
	}
	reg, err := c.RegistryState()
	if err != nil {
		t.Fatalf("RegistryState: %v", err)
	}
	if len(reg.Backers) != 2 {
		t.Fatalf("backers after update: got %v", reg.Backers)
	}

	if err := c.UpdateBackers([]ident.Prefix{"b3"}, []ident.Prefix{"b3"}, km); !IsKind(err, KindRegistry) {
		t.Fatalf("conflicting update: got err=%v want KindRegistry", err)
	}
}

func TestMutualAnchoring(t *testing.T) {
	c, km := newTestController(t, nil, 0)
	message := []byte("some vc")
	credential, err := c.DigestAlg().SumString(message)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Issue(message, km); err != nil {
		t.Fatalf("Issue: %v", err)
	}

	log, err := c.TEL(credential)
	if err != nil {
		t.Fatalf("TEL: %v", err)
	}
	evDigest, err := log[0].Event.SAID(c.DigestAlg())
	if err != nil {
		t.Fatal(err)
	}
	ixn, err := c.kel.EventAt(log[0].Seal.SN)
	if err != nil {
		t.Fatalf("EventAt: %v", err)
	}
	if !carriesSeal(ixn, evDigest) {
		t.Fatalf("anchoring interaction does not seal the TEL event")
	}
	ixnDigest, err := ixn.Event.SAID(c.DigestAlg())
	if err != nil {
		t.Fatal(err)
	}
	if ixnDigest != log[0].Seal.Digest {
		t.Fatalf("source seal does not reference the anchoring interaction")
	}
}

func TestFilesystemPersistence(t *testing.T) {
	root := t.TempDir()
	kelRoot := filepath.Join(root, "kel")
	telRoot := filepath.Join(root, "tel")
	km, err := keys.NewEd25519ManagerFromSeed(bytes.Repeat([]byte{8}, 32))
	if err != nil {
		t.Fatal(err)
	}
	message := []byte("durable vc")

	c, err := Init(kelRoot, telRoot, said.Blake3, km, nil, 0)
	if err != nil {
		t.Fatalf("Init: %v", err)
	}
	signature, err := c.Issue(message, km)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	reopened, err := Open(kelRoot, telRoot, said.Blake3)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ok, err := reopened.Verify(message, signature)
	if err != nil {
		t.Fatalf("Verify after reopen: %v", err)
	}
	if !ok {
		t.Fatalf("signature did not verify after reopen")
	}
}
