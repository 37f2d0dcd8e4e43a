// Package storage defines the append-only event-log store the KEL and TEL
// engines persist through.
package storage

// Log is a minimal append-only, multi-key event-log store.
//
// Contract:
//   - Events within a key are strictly contiguous: Append at sn succeeds only
//     when sn equals the current log length, otherwise ErrGap.
//   - Committed events are immutable: re-appending identical bytes at an
//     existing sn is an idempotent no-op; different bytes yield ErrImmutable.
//   - Get MUST return ErrNotFound when (key, sn) is absent.
//   - List returns the full log oldest-first; an absent key lists empty.
type Log interface {
	Append(key string, sn uint64, event []byte) error
	Get(key string, sn uint64) ([]byte, error)
	List(key string) ([][]byte, error)
	Len(key string) (uint64, error)
}
