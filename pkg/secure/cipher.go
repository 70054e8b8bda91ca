package secure

import (
	"crypto/aes"
	"crypto/cipher"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

// NonceSize is the AEAD nonce length for both ciphers.
const NonceSize = 12

// Cipher selects the AEAD.
type Cipher uint8

const (
	// AES256GCM is AES with a 256-bit key in Galois/Counter Mode.
	AES256GCM Cipher = iota
	// ChaCha20Poly1305 is the RFC 8439 AEAD.
	ChaCha20Poly1305
)

// DefaultCipher is used when configuration leaves the cipher empty.
const DefaultCipher = AES256GCM

// String returns the configuration name of c.
func (c Cipher) String() string {
	switch c {
	case AES256GCM:
		return "AES-256-GCM"
	case ChaCha20Poly1305:
		return "ChaCha20-Poly1305"
	default:
		return fmt.Sprintf("Cipher(%d)", uint8(c))
	}
}

// ParseCipher accepts the String forms case-insensitively. The empty string
// selects DefaultCipher.
func ParseCipher(s string) (Cipher, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "aes-256-gcm", "aes256gcm", "aes-gcm":
		return AES256GCM, nil
	case "chacha20-poly1305", "chacha20poly1305":
		return ChaCha20Poly1305, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCipher, s)
}

func (c Cipher) aead(key []byte) (cipher.AEAD, error) {
	switch c {
	case AES256GCM:
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, err
		}
		return cipher.NewGCM(block)
	case ChaCha20Poly1305:
		return chacha20poly1305.New(key)
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownCipher, uint8(c))
}

// Seal encrypts plaintext under key with a fresh random nonce and returns
// nonce || ciphertext+tag.
func (c Cipher) Seal(key [KeySize]byte, plaintext []byte) ([]byte, error) {
	aead, err := c.aead(key[:])
	if err != nil {
		return nil, err
	}
	out := make([]byte, NonceSize, NonceSize+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(randReader, out); err != nil {
		return nil, err
	}
	return aead.Seal(out, out[:NonceSize], plaintext, nil), nil
}

// Open reverses Seal.
func (c Cipher) Open(key [KeySize]byte, sealed []byte) ([]byte, error) {
	aead, err := c.aead(key[:])
	if err != nil {
		return nil, err
	}
	if len(sealed) < NonceSize+aead.Overhead() {
		return nil, fmt.Errorf("%w: %d bytes", ErrDecryptionFailed, len(sealed))
	}
	pt, err := aead.Open(nil, sealed[:NonceSize], sealed[NonceSize:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return pt, nil
}
