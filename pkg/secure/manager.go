package secure

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Manager tracks at most one pending keypair and one established secret
// per peer. It is safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	curve    Curve
	keypairs map[uuid.UUID]*KeyPair
	secrets  map[uuid.UUID]*SharedSecret
}

// NewManager returns a Manager generating keys on curve.
func NewManager(curve Curve) *Manager {
	return &Manager{
		curve:    curve,
		keypairs: make(map[uuid.UUID]*KeyPair),
		secrets:  make(map[uuid.UUID]*SharedSecret),
	}
}

// Curve returns the configured curve.
func (m *Manager) Curve() Curve { return m.curve }

// GenerateKeyPair creates a keypair for peer, releasing any previous one,
// and returns its public key.
func (m *Manager) GenerateKeyPair(peer uuid.UUID) ([]byte, error) {
	kp, err := GenerateKeyPair(m.curve)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if old, ok := m.keypairs[peer]; ok {
		old.Release()
	}
	m.keypairs[peer] = kp
	return kp.PublicKey(), nil
}

// HasKeyPair reports whether peer has a pending keypair.
func (m *Manager) HasKeyPair(peer uuid.UUID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.keypairs[peer]
	return ok
}

// PublicKey returns the pending public key for peer.
func (m *Manager) PublicKey(peer uuid.UUID) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kp, ok := m.keypairs[peer]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoKeyPair, peer)
	}
	return kp.PublicKey(), nil
}

// Exchange completes the exchange with peer using peerPub. The pending
// keypair is consumed and released whether or not agreement succeeds.
func (m *Manager) Exchange(peer uuid.UUID, peerPub []byte) (*SharedSecret, error) {
	m.mu.Lock()
	kp, ok := m.keypairs[peer]
	delete(m.keypairs, peer)
	m.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoKeyPair, peer)
	}
	defer kp.Release()

	secret, err := kp.Agree(peerPub)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.secrets[peer] = secret
	m.mu.Unlock()
	return secret, nil
}

// Secret returns the established secret for peer.
func (m *Manager) Secret(peer uuid.UUID) (*SharedSecret, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.secrets[peer]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoSecret, peer)
	}
	return s, nil
}

// RemovePeer releases everything held for peer.
func (m *Manager) RemovePeer(peer uuid.UUID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if kp, ok := m.keypairs[peer]; ok {
		kp.Release()
		delete(m.keypairs, peer)
	}
	delete(m.secrets, peer)
}

// NeedsRotation returns the peers whose secret is older than maxAge.
func (m *Manager) NeedsRotation(maxAge time.Duration) []uuid.UUID {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []uuid.UUID
	for peer, s := range m.secrets {
		if s.Expired(maxAge) {
			out = append(out, peer)
		}
	}
	return out
}

// Peers returns the number of peers with any key material.
func (m *Manager) Peers() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	seen := make(map[uuid.UUID]struct{}, len(m.keypairs)+len(m.secrets))
	for p := range m.keypairs {
		seen[p] = struct{}{}
	}
	for p := range m.secrets {
		seen[p] = struct{}{}
	}
	return len(seen)
}
