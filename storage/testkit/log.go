package testkit

import (
	"bytes"
	"errors"
	"testing"

	"xdao.co/keltel/storage"
)

// NewLog constructs a fresh, empty Log instance for a test.
// The returned Log MUST be isolated from other tests.
type NewLog func(t *testing.T) storage.Log

func RunLogConformance(t *testing.T, newLog NewLog) {
	t.Helper()

	t.Run("AppendGetRoundTrip", func(t *testing.T) {
		log := newLog(t)
		want := []byte(`{"t":"icp","s":0}`)

		if err := log.Append("kel:test", 0, want); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		got, err := log.Get("kel:test", 0)
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("Get bytes mismatch")
		}
	})

	t.Run("ContiguousOnly", func(t *testing.T) {
		log := newLog(t)
		if err := log.Append("k", 1, []byte("a")); !errors.Is(err, storage.ErrGap) {
			t.Fatalf("Append at sn 1 of empty log: got err=%v want ErrGap", err)
		}
		if err := log.Append("k", 0, []byte("a")); err != nil {
			t.Fatalf("Append(0): %v", err)
		}
		if err := log.Append("k", 2, []byte("b")); !errors.Is(err, storage.ErrGap) {
			t.Fatalf("Append skipping sn 1: got err=%v want ErrGap", err)
		}
	})

	t.Run("AppendIdempotent", func(t *testing.T) {
		log := newLog(t)
		b := []byte("same bytes")
		if err := log.Append("k", 0, b); err != nil {
			t.Fatalf("Append(1): %v", err)
		}
		if err := log.Append("k", 0, b); err != nil {
			t.Fatalf("re-Append identical bytes: %v", err)
		}
		n, err := log.Len("k")
		if err != nil {
			t.Fatalf("Len: %v", err)
		}
		if n != 1 {
			t.Fatalf("Len after idempotent re-append: got %d want 1", n)
		}
	})

	t.Run("ImmutableEvents", func(t *testing.T) {
		log := newLog(t)
		if err := log.Append("k", 0, []byte("original")); err != nil {
			t.Fatalf("Append: %v", err)
		}
		if err := log.Append("k", 0, []byte("rewritten")); !errors.Is(err, storage.ErrImmutable) {
			t.Fatalf("overwrite: got err=%v want ErrImmutable", err)
		}
	})

	t.Run("ListOldestFirst", func(t *testing.T) {
		log := newLog(t)
		events := [][]byte{[]byte("e0"), []byte("e1"), []byte("e2")}
		for sn, e := range events {
			if err := log.Append("k", uint64(sn), e); err != nil {
				t.Fatalf("Append(%d): %v", sn, err)
			}
		}
		got, err := log.List("k")
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		if len(got) != len(events) {
			t.Fatalf("List length: got %d want %d", len(got), len(events))
		}
		for i := range events {
			if !bytes.Equal(got[i], events[i]) {
				t.Fatalf("List[%d] mismatch", i)
			}
		}
	})

	t.Run("AbsentKey", func(t *testing.T) {
		log := newLog(t)
		if _, err := log.Get("missing", 0); !storage.IsNotFound(err) {
			t.Fatalf("Get absent: got err=%v want ErrNotFound", err)
		}
		got, err := log.List("missing")
		if err != nil {
			t.Fatalf("List absent: %v", err)
		}
		if len(got) != 0 {
			t.Fatalf("List absent: got %d events want 0", len(got))
		}
		n, err := log.Len("missing")
		if err != nil || n != 0 {
			t.Fatalf("Len absent: got n=%d err=%v", n, err)
		}
	})

	t.Run("KeysIsolated", func(t *testing.T) {
		log := newLog(t)
		if err := log.Append("a", 0, []byte("for a")); err != nil {
			t.Fatalf("Append(a): %v", err)
		}
		if err := log.Append("b", 0, []byte("for b")); err != nil {
			t.Fatalf("Append(b): %v", err)
		}
		got, err := log.Get("b", 0)
		if err != nil {
			t.Fatalf("Get(b): %v", err)
		}
		if !bytes.Equal(got, []byte("for b")) {
			t.Fatalf("key isolation violated")
		}
	})
}
