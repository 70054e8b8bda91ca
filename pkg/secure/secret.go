package secure

import (
	"crypto/sha256"
	"time"
)

// Derivation labels.
const (
	labelEncryption = "encryption"
	labelMAC        = "mac"
	protocolLabel   = "tcp-messenger-v1"
	macDomainLabel  = "tcp-messenger-mac"
)

// KeySize is the length of both derived keys.
const KeySize = 32

// SharedSecret holds the keys derived from one exchange.
type SharedSecret struct {
	EncryptionKey [KeySize]byte
	MACKey        [KeySize]byte
	CreatedAt     time.Time
}

// DeriveSecret derives the encryption and MAC keys from a raw ECDH output.
func DeriveSecret(shared []byte) *SharedSecret {
	return &SharedSecret{
		EncryptionKey: deriveKey(shared, labelEncryption),
		MACKey:        deriveKey(shared, labelMAC),
		CreatedAt:     time.Now(),
	}
}

func deriveKey(shared []byte, label string) [KeySize]byte {
	h := sha256.New()
	h.Write(shared)
	h.Write([]byte(label))
	h.Write([]byte(protocolLabel))
	var out [KeySize]byte
	copy(out[:], h.Sum(nil))
	return out
}

// Age returns the time since derivation.
func (s *SharedSecret) Age() time.Duration {
	return time.Since(s.CreatedAt)
}

// Expired reports whether the secret is older than maxAge. A zero maxAge
// never expires.
func (s *SharedSecret) Expired(maxAge time.Duration) bool {
	return maxAge > 0 && s.Age() > maxAge
}

// Equal compares key material in constant time.
func (s *SharedSecret) Equal(o *SharedSecret) bool {
	if s == nil || o == nil {
		return s == o
	}
	return constantTimeEqual(s.EncryptionKey[:], o.EncryptionKey[:]) &&
		constantTimeEqual(s.MACKey[:], o.MACKey[:])
}

// Zero wipes both keys.
func (s *SharedSecret) Zero() {
	zero(s.EncryptionKey[:])
	zero(s.MACKey[:])
}
