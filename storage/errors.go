package storage

import "errors"

var (
	ErrNotFound  = errors.New("storage: not found")
	ErrGap       = errors.New("storage: non-contiguous sequence number")
	ErrImmutable = errors.New("storage: immutable event mismatch")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }
