// Package memlog provides an in-memory storage.Log for tests and embedding.
package memlog

import (
	"bytes"

	"xdao.co/keltel/storage"
)

type Store struct {
	logs map[string][][]byte
}

func New() *Store {
	return &Store{logs: make(map[string][][]byte)}
}

func (s *Store) Append(key string, sn uint64, event []byte) error {
	log := s.logs[key]
	if sn < uint64(len(log)) {
		if !bytes.Equal(log[sn], event) {
			return storage.ErrImmutable
		}
		return nil
	}
	if sn > uint64(len(log)) {
		return storage.ErrGap
	}
	cp := make([]byte, len(event))
	copy(cp, event)
	s.logs[key] = append(log, cp)
	return nil
}

func (s *Store) Get(key string, sn uint64) ([]byte, error) {
	log := s.logs[key]
	if sn >= uint64(len(log)) {
		return nil, storage.ErrNotFound
	}
	cp := make([]byte, len(log[sn]))
	copy(cp, log[sn])
	return cp, nil
}

func (s *Store) List(key string) ([][]byte, error) {
	log := s.logs[key]
	out := make([][]byte, 0, len(log))
	for _, e := range log {
		cp := make([]byte, len(e))
		copy(cp, e)
		out = append(out, cp)
	}
	return out, nil
}

func (s *Store) Len(key string) (uint64, error) {
	return uint64(len(s.logs[key])), nil
}

var _ storage.Log = (*Store)(nil)
