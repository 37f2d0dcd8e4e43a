package keys

import (
	"crypto/rand"
	"errors"
	"fmt"
	"io"

	"github.com/cloudflare/circl/sign/dilithium/mode3"
	"golang.org/x/crypto/sha3"
)

// Dilithium3Manager is a seed-chained post-quantum key manager using
// Dilithium mode3. Derivation mirrors Ed25519Manager with a sha3 KDF.
type Dilithium3Manager struct {
	root [mode3.SeedSize]byte
	gen  uint64

	currentPub  *mode3.PublicKey
	currentPriv *mode3.PrivateKey
	nextPub     *mode3.PublicKey
	nextPriv    *mode3.PrivateKey
}

// NewDilithium3Manager creates a manager with a random root seed.
func NewDilithium3Manager() (*Dilithium3Manager, error) {
	var seed [mode3.SeedSize]byte
	if _, err := io.ReadFull(rand.Reader, seed[:]); err != nil {
		return nil, err
	}
	return NewDilithium3ManagerFromSeed(seed[:])
}

// NewDilithium3ManagerFromSeed creates a manager rooted at seed.
func NewDilithium3ManagerFromSeed(seed []byte) (*Dilithium3Manager, error) {
	if len(seed) != mode3.SeedSize {
		return nil, fmt.Errorf("keys: root seed must be %d bytes", mode3.SeedSize)
	}
	m := &Dilithium3Manager{}
	copy(m.root[:], seed)
	m.currentPub, m.currentPriv = m.keyAt(0)
	m.nextPub, m.nextPriv = m.keyAt(1)
	return m, nil
}

func (m *Dilithium3Manager) keyAt(gen uint64) (*mode3.PublicKey, *mode3.PrivateKey) {
	h := sha3.New256()
	_, _ = h.Write(m.root[:])
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte("xdao-keltel-kms-v1"))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(fmt.Sprintf("gen:%d", gen)))
	var seed [mode3.SeedSize]byte
	copy(seed[:], h.Sum(nil))
	return mode3.NewKeyFromSeed(&seed)
}

func (m *Dilithium3Manager) Sign(message []byte) ([]byte, error) {
	if m.currentPriv == nil {
		return nil, errors.New("keys: manager not initialized")
	}
	digest := sha3.Sum256(message)
	sig := make([]byte, mode3.SignatureSize)
	mode3.SignTo(m.currentPriv, digest[:], sig)
	return sig, nil
}

func (m *Dilithium3Manager) Rotate() error {
	m.gen++
	m.currentPub, m.currentPriv = m.nextPub, m.nextPriv
	m.nextPub, m.nextPriv = m.keyAt(m.gen + 1)
	return nil
}

func (m *Dilithium3Manager) Keys() []PublicKey {
	return []PublicKey{{Alg: AlgDilithium3, Raw: m.currentPub.Bytes()}}
}

func (m *Dilithium3Manager) NextKeys() []PublicKey {
	return []PublicKey{{Alg: AlgDilithium3, Raw: m.nextPub.Bytes()}}
}

var _ Manager = (*Dilithium3Manager)(nil)
