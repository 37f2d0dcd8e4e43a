package localfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"xdao.co/keltel/said"
	"xdao.co/keltel/storage"
)

// Store is a local filesystem-backed append-only event-log store.
//
// Each event is a write-once file named by its sequence number under a
// directory derived from the log key's digest. This implementation is
// offline and deterministic: it never uses the network and never depends
// on wall-clock time.
type Store struct {
	root string
}

// New constructs a filesystem store rooted at root. The directory will be
// created if needed.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("localfs: root directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &Store{root: root}, nil
}

func (s *Store) Append(key string, sn uint64, event []byte) error {
	n, err := s.Len(key)
	if err != nil {
		return err
	}
	if sn < n {
		existing, err := s.Get(key, sn)
		if err != nil {
			return storage.ErrImmutable
		}
		if string(existing) != string(event) {
			return storage.ErrImmutable
		}
		return nil
	}
	if sn > n {
		return storage.ErrGap
	}

	path := s.pathFor(key, sn)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o444)
	if err != nil {
		if os.IsExist(err) {
			// Raced with another writer; the single-writer contract is the
			// caller's to uphold, so treat this as an immutability violation.
			return storage.ErrImmutable
		}
		return err
	}
	defer f.Close()

	if _, err := f.Write(event); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(path)
		return err
	}
	return nil
}

func (s *Store) Get(key string, sn uint64) ([]byte, error) {
	b, err := os.ReadFile(s.pathFor(key, sn))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return b, nil
}

func (s *Store) List(key string) ([][]byte, error) {
	var out [][]byte
	for sn := uint64(0); ; sn++ {
		b, err := s.Get(key, sn)
		if storage.IsNotFound(err) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
}

func (s *Store) Len(key string) (uint64, error) {
	dir := s.dirFor(key)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	return uint64(len(entries)), nil
}

// dirFor derives a filesystem-safe directory from the log key. Keys carry
// identifier prefixes with base64 payloads, so they are digested rather
// than escaped.
func (s *Store) dirFor(key string) string {
	d, err := said.SHA2.SumString([]byte(key))
	if err != nil || len(d) < 2 {
		return filepath.Join(s.root, "malformed")
	}
	return filepath.Join(s.root, d[:2], d)
}

func (s *Store) pathFor(key string, sn uint64) string {
	return filepath.Join(s.dirFor(key), fmt.Sprintf("%016x.evt", sn))
}

var _ storage.Log = (*Store)(nil)
