package secure

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
)

// MACSize is the length of a message MAC.
const MACSize = sha256.Size

// ComputeMAC returns HMAC-SHA256(key, data || "tcp-messenger-mac").
func ComputeMAC(key [KeySize]byte, data []byte) [MACSize]byte {
	m := hmac.New(sha256.New, key[:])
	m.Write(data)
	m.Write([]byte(macDomainLabel))
	var out [MACSize]byte
	copy(out[:], m.Sum(nil))
	return out
}

// VerifyMAC checks mac in constant time.
func VerifyMAC(key [KeySize]byte, data []byte, mac []byte) bool {
	want := ComputeMAC(key, data)
	return constantTimeEqual(want[:], mac)
}

func constantTimeEqual(a, b []byte) bool {
	return subtle.ConstantTimeCompare(a, b) == 1
}
