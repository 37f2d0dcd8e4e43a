package tel

import (
	"errors"
	"fmt"
	"testing"

	"xdao.co/keltel/ident"
	"xdao.co/keltel/said"
	"xdao.co/keltel/seal"
	"xdao.co/keltel/storage/memlog"
)

const issuer = ident.Prefix("ed25519:dGVzdC1pc3N1ZXI=")

func newTestTel(t *testing.T) *Tel {
	t.Helper()
	tl, err := New(memlog.New(), FormatJSON, said.Blake3)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return tl
}

// anchored wraps an event with a fake source seal; anchoring itself is the
// controller's job and is exercised in the controller tests.
func anchored(t *testing.T, ev Event, sn uint64) VerifiableEvent {
	t.Helper()
	return Assemble(ev, seal.Source{SN: sn, Digest: fmt.Sprintf("bafy-ixn-%d", sn)})
}

func inceptRegistry(t *testing.T, tl *Tel, backers []ident.Prefix, threshold uint64) *RegistryState {
	t.Helper()
	vcp, err := tl.MakeInceptionEvent(issuer, backers, threshold)
	if err != nil {
		t.Fatalf("MakeInceptionEvent: %v", err)
	}
	if err := tl.Process(anchored(t, vcp, 1)); err != nil {
		t.Fatalf("Process(vcp): %v", err)
	}
	state, err := tl.ManagementState()
	if err != nil {
		t.Fatalf("ManagementState: %v", err)
	}
	return state
}

func TestNewRejectsUnknownFormat(t *testing.T) {
	if _, err := New(memlog.New(), Format("cbor"), said.Blake3); err == nil {
		t.Fatalf("expected error for unsupported format")
	}
}

func TestRegistryInception(t *testing.T) {
	tl := newTestTel(t)

	if _, err := tl.ManagementState(); !errors.Is(err, ErrNotIncepted) {
		t.Fatalf("state before inception: got err=%v want ErrNotIncepted", err)
	}

	state := inceptRegistry(t, tl, []ident.Prefix{}, 0)
	if state.NoBackers {
		t.Fatalf("explicit empty backer set must not set the no-backers flag")
	}
	if len(state.Backers) != 0 || state.BackerThreshold != 0 {
		t.Fatalf("unexpected registry config: %+v", state)
	}
	if state.Issuer != issuer {
		t.Fatalf("issuer: got %s want %s", state.Issuer, issuer)
	}
	if state.Registry.Empty() {
		t.Fatalf("registry prefix not derived")
	}

	got, err := tl.Issuer()
	if err != nil || got != issuer {
		t.Fatalf("Issuer: got %s err=%v", got, err)
	}

	if _, err := tl.MakeInceptionEvent(issuer, nil, 0); !errors.Is(err, ErrAlreadyIncepted) {
		t.Fatalf("second inception: got err=%v want ErrAlreadyIncepted", err)
	}
}

func TestNoBackersConfig(t *testing.T) {
	tl := newTestTel(t)
	state := inceptRegistry(t, tl, nil, 0)
	if !state.NoBackers {
		t.Fatalf("nil backer set must set the no-backers flag")
	}
	if _, err := tl.MakeRotationEvent([]ident.Prefix{"b1"}, nil); !errors.Is(err, ErrBackerConflict) {
		t.Fatalf("backer rotation on no-backers registry: got err=%v want ErrBackerConflict", err)
	}
}

func TestBackerRotation(t *testing.T) {
	tl := newTestTel(t)
	inceptRegistry(t, tl, []ident.Prefix{"b1", "b2"}, 1)

	vrt, err := tl.MakeRotationEvent([]ident.Prefix{"b3"}, []ident.Prefix{"b1"})
	if err != nil {
		t.Fatalf("MakeRotationEvent: %v", err)
	}
	if err := tl.Process(anchored(t, vrt, 2)); err != nil {
		t.Fatalf("Process(vrt): %v", err)
	}

	state, err := tl.ManagementState()
	if err != nil {
		t.Fatalf("ManagementState: %v", err)
	}
	want := []ident.Prefix{"b2", "b3"}
	if len(state.Backers) != len(want) {
		t.Fatalf("backers: got %v want %v", state.Backers, want)
	}
	for i := range want {
		if state.Backers[i] != want[i] {
			t.Fatalf("backers: got %v want %v", state.Backers, want)
		}
	}
	if state.SN != 1 {
		t.Fatalf("management sn: got %d want 1", state.SN)
	}
}

func TestBackerRotationConflicts(t *testing.T) {
	tl := newTestTel(t)
	inceptRegistry(t, tl, []ident.Prefix{"b1"}, 1)

	cases := []struct {
		name        string
		add, remove []ident.Prefix
	}{
		{"AddAndRemoveSame", []ident.Prefix{"b2"}, []ident.Prefix{"b2"}},
		{"AddExisting", []ident.Prefix{"b1"}, nil},
		{"RemoveNonMember", nil, []ident.Prefix{"b9"}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := tl.MakeRotationEvent(tc.add, tc.remove); !errors.Is(err, ErrBackerConflict) {
				t.Fatalf("got err=%v want ErrBackerConflict", err)
			}
		})
	}
}

func TestCredentialLifecycle(t *testing.T) {
	tl := newTestTel(t)
	inceptRegistry(t, tl, []ident.Prefix{}, 0)

	credential, err := said.Blake3.SumString([]byte("some vc"))
	if err != nil {
		t.Fatal(err)
	}

	state, err := tl.CredentialState(credential)
	if err != nil {
		t.Fatalf("CredentialState: %v", err)
	}
	if state.Status != StatusNotIssued {
		t.Fatalf("initial status: got %s want %s", state.Status, StatusNotIssued)
	}

	iss, err := tl.MakeIssuanceEvent(credential)
	if err != nil {
		t.Fatalf("MakeIssuanceEvent: %v", err)
	}
	if err := tl.Process(anchored(t, iss, 2)); err != nil {
		t.Fatalf("Process(iss): %v", err)
	}

	state, err = tl.CredentialState(credential)
	if err != nil {
		t.Fatalf("CredentialState: %v", err)
	}
	if state.Status != StatusIssued {
		t.Fatalf("status after issuance: got %s want %s", state.Status, StatusIssued)
	}
	log, err := tl.CredentialLog(credential)
	if err != nil {
		t.Fatalf("CredentialLog: %v", err)
	}
	if len(log) != 1 {
		t.Fatalf("log length after issuance: got %d want 1", len(log))
	}

	if _, err := tl.MakeIssuanceEvent(credential); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("re-issuance: got err=%v want ErrInvalidTransition", err)
	}

	rev, err := tl.MakeRevocationEvent(credential)
	if err != nil {
		t.Fatalf("MakeRevocationEvent: %v", err)
	}
	if err := tl.Process(anchored(t, rev, 3)); err != nil {
		t.Fatalf("Process(rev): %v", err)
	}

	state, err = tl.CredentialState(credential)
	if err != nil {
		t.Fatalf("CredentialState: %v", err)
	}
	if state.Status != StatusRevoked {
		t.Fatalf("status after revocation: got %s want %s", state.Status, StatusRevoked)
	}
	log, err = tl.CredentialLog(credential)
	if err != nil {
		t.Fatalf("CredentialLog: %v", err)
	}
	if len(log) != 2 {
		t.Fatalf("log length after revocation: got %d want 2", len(log))
	}

	if _, err := tl.MakeRevocationEvent(credential); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("double revocation: got err=%v want ErrInvalidTransition", err)
	}
	if _, err := tl.MakeIssuanceEvent(credential); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("re-issuance after revocation: got err=%v want ErrInvalidTransition", err)
	}
}

func TestRevokeNotIssued(t *testing.T) {
	tl := newTestTel(t)
	inceptRegistry(t, tl, nil, 0)
	if _, err := tl.MakeRevocationEvent("bafy-never-issued"); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("got err=%v want ErrInvalidTransition", err)
	}
}

func TestProcessRejectsUnsealedEvents(t *testing.T) {
	tl := newTestTel(t)
	vcp, err := tl.MakeInceptionEvent(issuer, nil, 0)
	if err != nil {
		t.Fatalf("MakeInceptionEvent: %v", err)
	}
	if err := tl.Process(VerifiableEvent{Event: vcp}); !errors.Is(err, ErrMissingSeal) {
		t.Fatalf("got err=%v want ErrMissingSeal", err)
	}
}

func TestProcessRejectsForgedRegistryPrefix(t *testing.T) {
	tl := newTestTel(t)
	vcp, err := tl.MakeInceptionEvent(issuer, nil, 0)
	if err != nil {
		t.Fatalf("MakeInceptionEvent: %v", err)
	}
	vcp.Prefix = "bafy-not-self-addressing"
	if err := tl.Process(anchored(t, vcp, 1)); err == nil {
		t.Fatalf("accepted registry inception with forged prefix")
	}
}

func TestSourceSealSurvivesPersistence(t *testing.T) {
	tl := newTestTel(t)
	inceptRegistry(t, tl, nil, 0)

	credential := "bafy-credential"
	iss, err := tl.MakeIssuanceEvent(credential)
	if err != nil {
		t.Fatalf("MakeIssuanceEvent: %v", err)
	}
	src := seal.Source{SN: 7, Digest: "bafy-anchoring-ixn"}
	if err := tl.Process(Assemble(iss, src)); err != nil {
		t.Fatalf("Process: %v", err)
	}
	log, err := tl.CredentialLog(credential)
	if err != nil {
		t.Fatalf("CredentialLog: %v", err)
	}
	if len(log) != 1 || log[0].Seal != src {
		t.Fatalf("source seal not preserved: %+v", log)
	}
}
