package secure

import (
	"sync"
)

// KeyPair is an ephemeral ECDH keypair. The private scalar never leaves the
// package and is zeroed by Release. KeyPair must not be copied.
type KeyPair struct {
	mu    sync.Mutex
	curve Curve
	priv  []byte
	pub   []byte
}

// GenerateKeyPair creates a fresh keypair on curve.
func GenerateKeyPair(curve Curve) (*KeyPair, error) {
	priv, pub, err := curve.generate(randReader)
	if err != nil {
		return nil, err
	}
	return &KeyPair{curve: curve, priv: priv, pub: pub}, nil
}

// Curve returns the keypair's curve.
func (kp *KeyPair) Curve() Curve { return kp.curve }

// PublicKey returns a copy of the encoded public key.
func (kp *KeyPair) PublicKey() []byte {
	return append([]byte(nil), kp.pub...)
}

// Agree derives the shared secret with peerPub. The keypair stays usable;
// callers that own a single exchange should Release afterwards.
func (kp *KeyPair) Agree(peerPub []byte) (*SharedSecret, error) {
	kp.mu.Lock()
	defer kp.mu.Unlock()
	if kp.priv == nil {
		return nil, ErrReleased
	}
	shared, err := kp.curve.agree(kp.priv, peerPub)
	if err != nil {
		return nil, err
	}
	defer zero(shared)
	return DeriveSecret(shared), nil
}

// Release zeroes the private scalar.
func (kp *KeyPair) Release() {
	kp.mu.Lock()
	defer kp.mu.Unlock()
	zero(kp.priv)
	kp.priv = nil
}

// Released reports whether Release was called.
func (kp *KeyPair) Released() bool {
	kp.mu.Lock()
	defer kp.mu.Unlock()
	return kp.priv == nil
}
