package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
)

// Ed25519Manager is a deterministic, seed-chained Ed25519 key manager.
//
// Generation n's keypair is derived from the root seed by a domain-separated
// sha256 KDF, so the whole rotation history is reproducible from the root
// seed alone. The manager holds generation g as current and g+1 as next.
type Ed25519Manager struct {
	root [ed25519.SeedSize]byte
	gen  uint64

	current ed25519.PrivateKey
	next    ed25519.PrivateKey
}

// NewEd25519Manager creates a manager with a random root seed.
func NewEd25519Manager() (*Ed25519Manager, error) {
	var seed [ed25519.SeedSize]byte
	if _, err := io.ReadFull(rand.Reader, seed[:]); err != nil {
		return nil, err
	}
	return NewEd25519ManagerFromSeed(seed[:])
}

// NewEd25519ManagerFromSeed creates a manager rooted at seed.
func NewEd25519ManagerFromSeed(seed []byte) (*Ed25519Manager, error) {
	if len(seed) != ed25519.SeedSize {
		return nil, fmt.Errorf("keys: root seed must be %d bytes", ed25519.SeedSize)
	}
	m := &Ed25519Manager{}
	copy(m.root[:], seed)
	m.current = m.keyAt(0)
	m.next = m.keyAt(1)
	return m, nil
}

func (m *Ed25519Manager) keyAt(gen uint64) ed25519.PrivateKey {
	h := sha256.New()
	_, _ = h.Write(m.root[:])
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte("xdao-keltel-kms-v1"))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(fmt.Sprintf("gen:%d", gen)))
	sum := h.Sum(nil)
	return ed25519.NewKeyFromSeed(sum[:ed25519.SeedSize])
}

func (m *Ed25519Manager) Sign(message []byte) ([]byte, error) {
	if m.current == nil {
		return nil, errors.New("keys: manager not initialized")
	}
	digest := sha256.Sum256(message)
	return ed25519.Sign(m.current, digest[:]), nil
}

func (m *Ed25519Manager) Rotate() error {
	m.gen++
	m.current = m.next
	m.next = m.keyAt(m.gen + 1)
	return nil
}

func (m *Ed25519Manager) Keys() []PublicKey {
	return []PublicKey{{Alg: AlgEd25519, Raw: m.current.Public().(ed25519.PublicKey)}}
}

func (m *Ed25519Manager) NextKeys() []PublicKey {
	return []PublicKey{{Alg: AlgEd25519, Raw: m.next.Public().(ed25519.PublicKey)}}
}

var _ Manager = (*Ed25519Manager)(nil)
