package tel

import (
	"encoding/json"
	"errors"
	"fmt"

	"xdao.co/keltel/ident"
	"xdao.co/keltel/said"
	"xdao.co/keltel/storage"
)

var (
	ErrNotIncepted       = errors.New("tel: registry has no inception event")
	ErrAlreadyIncepted   = errors.New("tel: registry already incepted")
	ErrInvalidTransition = errors.New("tel: invalid credential state transition")
	ErrBackerConflict    = errors.New("tel: conflicting backer update")
	ErrMissingSeal       = errors.New("tel: event carries no source seal")
)

// Format selects the event serialization. Only JSON is defined.
type Format string

const FormatJSON Format = "json"

const mgmtKey = "tel:mgmt"

func credKey(digest string) string { return "tel:vc:" + digest }

// A Tel owns exactly one registry's transaction event log. Each storage
// root backs a single registry, mirroring the one-KEL-per-root rule.
type Tel struct {
	store  storage.Log
	format Format
	alg    said.Alg
}

func New(store storage.Log, format Format, alg said.Alg) (*Tel, error) {
	if format != FormatJSON {
		return nil, fmt.Errorf("tel: unsupported serialization format %q", format)
	}
	return &Tel{store: store, format: format, alg: alg}, nil
}

// DigestAlg returns the digest algorithm the registry derives SAIDs with.
func (t *Tel) DigestAlg() said.Alg { return t.alg }

// MakeInceptionEvent builds the registry inception. The registry prefix is
// self-addressing: the digest of the event body with the prefix unset.
// A nil backer set records the no-backers config flag; a non-nil (possibly
// empty) set records an explicit backer list.
func (t *Tel) MakeInceptionEvent(issuer ident.Prefix, backers []ident.Prefix, backerThreshold uint64) (Event, error) {
	n, err := t.store.Len(mgmtKey)
	if err != nil {
		return Event{}, err
	}
	if n > 0 {
		return Event{}, ErrAlreadyIncepted
	}
	if issuer.Empty() {
		return Event{}, errors.New("tel: registry issuer is required")
	}

	ev := Event{
		Ilk:             IlkRegistryInception,
		SN:              0,
		Issuer:          issuer,
		BackerThreshold: backerThreshold,
	}
	if backers == nil {
		ev.Config = []string{ConfigNoBackers}
	} else {
		ev.Backers = backers
	}

	blueprint, err := ev.SAID(t.alg)
	if err != nil {
		return Event{}, err
	}
	ev.Prefix = ident.Prefix(blueprint)
	return ev, nil
}

// MakeRotationEvent builds a backer rotation. Overlapping add/remove sets,
// adding a current backer, or removing a non-member are caller errors, not
// silently resolved.
func (t *Tel) MakeRotationEvent(add, remove []ident.Prefix) (Event, error) {
	state, err := t.ManagementState()
	if err != nil {
		return Event{}, err
	}
	if state.NoBackers {
		return Event{}, fmt.Errorf("%w: registry is configured with no backers", ErrBackerConflict)
	}

	current := make(map[ident.Prefix]bool, len(state.Backers))
	for _, b := range state.Backers {
		current[b] = true
	}
	adding := make(map[ident.Prefix]bool, len(add))
	for _, b := range add {
		if current[b] {
			return Event{}, fmt.Errorf("%w: %s is already a backer", ErrBackerConflict, b)
		}
		adding[b] = true
	}
	for _, b := range remove {
		if adding[b] {
			return Event{}, fmt.Errorf("%w: %s both added and removed", ErrBackerConflict, b)
		}
		if !current[b] {
			return Event{}, fmt.Errorf("%w: %s is not a backer", ErrBackerConflict, b)
		}
	}

	return Event{
		Ilk:             IlkRegistryRotation,
		Prefix:          state.Registry,
		SN:              state.SN + 1,
		Prior:           state.LastDigest,
		BackerThreshold: state.BackerThreshold,
		BackersToAdd:    add,
		BackersToRemove: remove,
	}, nil
}

// MakeIssuanceEvent builds the issuance event for a credential digest.
// It fails if the credential already has any prior event.
func (t *Tel) MakeIssuanceEvent(credential string) (Event, error) {
	state, err := t.ManagementState()
	if err != nil {
		return Event{}, err
	}
	cs, err := t.CredentialState(credential)
	if err != nil {
		return Event{}, err
	}
	if cs.Status != StatusNotIssued {
		return Event{}, fmt.Errorf("%w: credential is %s", ErrInvalidTransition, cs.Status)
	}
	return Event{
		Ilk:      IlkIssuance,
		Prefix:   ident.Prefix(credential),
		SN:       0,
		Registry: state.Registry,
	}, nil
}

// MakeRevocationEvent builds the revocation event for a credential digest.
// It fails unless the credential is currently issued.
func (t *Tel) MakeRevocationEvent(credential string) (Event, error) {
	state, err := t.ManagementState()
	if err != nil {
		return Event{}, err
	}
	cs, err := t.CredentialState(credential)
	if err != nil {
		return Event{}, err
	}
	if cs.Status != StatusIssued {
		return Event{}, fmt.Errorf("%w: credential is %s", ErrInvalidTransition, cs.Status)
	}
	return Event{
		Ilk:      IlkRevocation,
		Prefix:   ident.Prefix(credential),
		SN:       cs.SN + 1,
		Registry: state.Registry,
		Prior:    cs.LastDigest,
	}, nil
}

// Process validates and persists a verifiable event into its sub-log.
// The event must carry its source seal; anchoring order is the caller's
// responsibility and is assumed to have completed.
func (t *Tel) Process(ve VerifiableEvent) error {
	if ve.Seal.Digest == "" {
		return ErrMissingSeal
	}
	if ve.Event.Management() {
		return t.processManagement(ve)
	}
	return t.processCredential(ve)
}

func (t *Tel) processManagement(ve VerifiableEvent) error {
	ev := ve.Event
	switch ev.Ilk {
	case IlkRegistryInception:
		if ev.SN != 0 {
			return fmt.Errorf("tel: registry inception at sn %d", ev.SN)
		}
		if err := verifySelfAddressing(&ev, t.alg); err != nil {
			return err
		}
	case IlkRegistryRotation:
		state, err := t.ManagementState()
		if err != nil {
			return err
		}
		if ev.SN != state.SN+1 {
			return fmt.Errorf("tel: rotation at sn %d, expected %d", ev.SN, state.SN+1)
		}
		if ev.Prior != state.LastDigest {
			return fmt.Errorf("tel: broken management chain at sn %d", ev.SN)
		}
	default:
		return fmt.Errorf("tel: unknown management event kind %q", ev.Ilk)
	}
	return t.append(mgmtKey, ve)
}

func (t *Tel) processCredential(ve VerifiableEvent) error {
	ev := ve.Event
	credential := string(ev.Prefix)
	cs, err := t.CredentialState(credential)
	if err != nil {
		return err
	}
	switch ev.Ilk {
	case IlkIssuance:
		if cs.Status != StatusNotIssued {
			return fmt.Errorf("%w: credential is %s", ErrInvalidTransition, cs.Status)
		}
		if ev.SN != 0 {
			return fmt.Errorf("tel: issuance at sn %d", ev.SN)
		}
	case IlkRevocation:
		if cs.Status != StatusIssued {
			return fmt.Errorf("%w: credential is %s", ErrInvalidTransition, cs.Status)
		}
		if ev.SN != cs.SN+1 {
			return fmt.Errorf("tel: revocation at sn %d, expected %d", ev.SN, cs.SN+1)
		}
		if ev.Prior != cs.LastDigest {
			return fmt.Errorf("tel: broken credential chain at sn %d", ev.SN)
		}
	default:
		return fmt.Errorf("tel: unknown credential event kind %q", ev.Ilk)
	}
	return t.append(credKey(credential), ve)
}

func (t *Tel) append(key string, ve VerifiableEvent) error {
	raw, err := json.Marshal(ve)
	if err != nil {
		return err
	}
	return t.store.Append(key, ve.Event.SN, raw)
}

// ManagementLog returns the persisted management sub-log oldest-first.
func (t *Tel) ManagementLog() ([]VerifiableEvent, error) {
	return t.list(mgmtKey)
}

// ManagementState folds the management sub-log into the registry state.
func (t *Tel) ManagementState() (*RegistryState, error) {
	events, err := t.ManagementLog()
	if err != nil {
		return nil, err
	}
	if len(events) == 0 {
		return nil, ErrNotIncepted
	}

	var state *RegistryState
	for i, ve := range events {
		ev := ve.Event
		digest, err := ev.SAID(t.alg)
		if err != nil {
			return nil, err
		}
		switch ev.Ilk {
		case IlkRegistryInception:
			if i != 0 {
				return nil, fmt.Errorf("tel: registry inception at sn %d", i)
			}
			if err := verifySelfAddressing(&ev, t.alg); err != nil {
				return nil, err
			}
			state = &RegistryState{
				Registry:        ev.Prefix,
				Issuer:          ev.Issuer,
				SN:              ev.SN,
				LastDigest:      digest,
				Backers:         append([]ident.Prefix(nil), ev.Backers...),
				BackerThreshold: ev.BackerThreshold,
				NoBackers:       hasConfig(ev.Config, ConfigNoBackers),
			}
		case IlkRegistryRotation:
			if state == nil {
				return nil, ErrNotIncepted
			}
			if ev.Prior != state.LastDigest {
				return nil, fmt.Errorf("tel: broken management chain at sn %d", i)
			}
			state.Backers = applyRotation(state.Backers, ev.BackersToAdd, ev.BackersToRemove)
			state.BackerThreshold = ev.BackerThreshold
			state.SN = ev.SN
			state.LastDigest = digest
		default:
			return nil, fmt.Errorf("tel: unknown management event kind %q at sn %d", ev.Ilk, i)
		}
	}
	return state, nil
}

// Issuer returns the identifier prefix the registry was incepted under.
func (t *Tel) Issuer() (ident.Prefix, error) {
	state, err := t.ManagementState()
	if err != nil {
		return "", err
	}
	return state.Issuer, nil
}

// CredentialLog returns the credential's sub-log oldest-first. An unknown
// credential lists empty.
func (t *Tel) CredentialLog(credential string) ([]VerifiableEvent, error) {
	return t.list(credKey(credential))
}

// CredentialState folds the credential's sub-log. State transitions are
// order-dependent, oldest-first, and idempotent to recompute.
func (t *Tel) CredentialState(credential string) (CredentialState, error) {
	events, err := t.CredentialLog(credential)
	if err != nil {
		return CredentialState{}, err
	}
	state := CredentialState{Status: StatusNotIssued}
	for i, ve := range events {
		ev := ve.Event
		digest, err := ev.SAID(t.alg)
		if err != nil {
			return CredentialState{}, err
		}
		switch ev.Ilk {
		case IlkIssuance:
			if state.Status != StatusNotIssued {
				return CredentialState{}, fmt.Errorf("%w: issuance at sn %d over %s", ErrInvalidTransition, i, state.Status)
			}
			state = CredentialState{Status: StatusIssued, SN: ev.SN, LastDigest: digest}
		case IlkRevocation:
			if state.Status != StatusIssued {
				return CredentialState{}, fmt.Errorf("%w: revocation at sn %d over %s", ErrInvalidTransition, i, state.Status)
			}
			state = CredentialState{Status: StatusRevoked, SN: ev.SN, LastDigest: digest}
		default:
			return CredentialState{}, fmt.Errorf("tel: unknown credential event kind %q at sn %d", ev.Ilk, i)
		}
	}
	return state, nil
}

func (t *Tel) list(key string) ([]VerifiableEvent, error) {
	raws, err := t.store.List(key)
	if err != nil {
		return nil, err
	}
	out := make([]VerifiableEvent, 0, len(raws))
	for i, raw := range raws {
		var ve VerifiableEvent
		if err := json.Unmarshal(raw, &ve); err != nil {
			return nil, fmt.Errorf("tel: corrupt event at sn %d: %w", i, err)
		}
		out = append(out, ve)
	}
	return out, nil
}

// verifySelfAddressing checks that a registry inception's prefix is the
// digest of its own body with the prefix unset.
func verifySelfAddressing(ev *Event, alg said.Alg) error {
	blueprint := *ev
	blueprint.Prefix = ""
	want, err := blueprint.SAID(alg)
	if err != nil {
		return err
	}
	if string(ev.Prefix) != want {
		return errors.New("tel: registry prefix is not self-addressing")
	}
	return nil
}

func applyRotation(backers, add, remove []ident.Prefix) []ident.Prefix {
	removed := make(map[ident.Prefix]bool, len(remove))
	for _, b := range remove {
		removed[b] = true
	}
	out := make([]ident.Prefix, 0, len(backers)+len(add))
	for _, b := range backers {
		if !removed[b] {
			out = append(out, b)
		}
	}
	return append(out, add...)
}

func hasConfig(config []string, flag string) bool {
	for _, c := range config {
		if c == flag {
			return true
		}
	}
	return false
}
