package secure

import (
	"encoding/binary"
	"fmt"
)

// containerOverhead is the length prefix plus MAC.
const containerOverhead = 4 + MACSize

// Container is a parsed secure message.
type Container struct {
	// Encrypted is nonce || ciphertext+tag.
	Encrypted []byte
	MAC       [MACSize]byte
}

// Bytes encodes the container.
func (c *Container) Bytes() []byte {
	out := make([]byte, 4, containerOverhead+len(c.Encrypted))
	binary.BigEndian.PutUint32(out, uint32(len(c.Encrypted)))
	out = append(out, c.Encrypted...)
	return append(out, c.MAC[:]...)
}

// ParseContainer decodes a container. Trailing bytes are rejected.
func ParseContainer(data []byte) (*Container, error) {
	if len(data) < containerOverhead {
		return nil, fmt.Errorf("%w: %d bytes", ErrMalformed, len(data))
	}
	n := binary.BigEndian.Uint32(data[:4])
	if uint64(n)+containerOverhead != uint64(len(data)) {
		return nil, fmt.Errorf("%w: length %d in %d bytes", ErrMalformed, n, len(data))
	}
	c := &Container{Encrypted: data[4 : 4+n]}
	copy(c.MAC[:], data[4+n:])
	return c, nil
}

// Encrypt seals plaintext and returns the encoded container.
func Encrypt(s *SharedSecret, c Cipher, plaintext []byte) ([]byte, error) {
	sealed, err := c.Seal(s.EncryptionKey, plaintext)
	if err != nil {
		return nil, err
	}
	ct := &Container{Encrypted: sealed, MAC: ComputeMAC(s.MACKey, sealed)}
	return ct.Bytes(), nil
}

// Decrypt parses data, verifies the MAC and only then opens the ciphertext.
func Decrypt(s *SharedSecret, c Cipher, data []byte) ([]byte, error) {
	ct, err := ParseContainer(data)
	if err != nil {
		return nil, err
	}
	return openContainer(s, c, ct)
}

func openContainer(s *SharedSecret, c Cipher, ct *Container) ([]byte, error) {
	if !VerifyMAC(s.MACKey, ct.Encrypted, ct.MAC[:]) {
		return nil, ErrMACMismatch
	}
	return c.Open(s.EncryptionKey, ct.Encrypted)
}
