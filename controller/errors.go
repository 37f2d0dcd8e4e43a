package controller

import "errors"

// Kind is a stable category for programmatic error handling.
//
// Callers should branch on Kind rather than matching error strings;
// Error() text is intended for humans and may evolve.
type Kind string

const (
	// KindStorageInit: a log store could not be opened.
	KindStorageInit Kind = "StorageInit"
	// KindKeyManager: signing or rotation failed in the key provider.
	KindKeyManager Kind = "KeyManager"
	// KindAnchorFailed: the KEL rejected the anchoring interaction event,
	// or a persisted event's anchor does not resolve. The TEL is untouched
	// when anchoring fails.
	KindAnchorFailed Kind = "AnchorFailed"
	// KindSubmitFailed: the TEL rejected an event after its anchor
	// committed. The KEL holds an orphaned interaction event; the caller
	// may retry submission with the same seal.
	KindSubmitFailed Kind = "SubmitFailed"
	// KindNoSuchCredential: lookup on a credential with an empty log.
	KindNoSuchCredential Kind = "NoSuchCredential"
	// KindInvalidTransition: issue on an issued/revoked credential, or
	// revoke on a not-issued/revoked one.
	KindInvalidTransition Kind = "InvalidTransition"
	// KindNotYetIssued / KindCredentialRevoked: verification-time gates.
	KindNotYetIssued      Kind = "NotYetIssued"
	KindCredentialRevoked Kind = "CredentialRevoked"
	// KindHistoryUnavailable: the KEL cannot resolve the anchored point.
	KindHistoryUnavailable Kind = "HistoryUnavailable"
	// KindNoKeyData: the historical lookup returned no key state.
	KindNoKeyData Kind = "NoKeyData"
	// KindRegistry: registry misuse outside the kinds above, e.g. double
	// inception or a conflicting backer update.
	KindRegistry Kind = "Registry"
)

// Error is the controller's structured error type.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

func newError(kind Kind, msg string) error {
	return &Error{Kind: kind, Message: msg}
}

func wrapError(kind Kind, msg string, cause error) error {
	if cause == nil {
		return newError(kind, msg)
	}
	return &Error{Kind: kind, Message: msg, Cause: cause}
}

// IsKind reports whether err is (or wraps) a *Error with the given Kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
