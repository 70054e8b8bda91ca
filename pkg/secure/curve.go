package secure

import (
	"crypto/ecdh"
	"crypto/rand"
	"fmt"
	"io"
	"strings"

	"github.com/cloudflare/circl/dh/x448"
	"golang.org/x/crypto/curve25519"
)

// Curve selects the ECDH group.
type Curve uint8

const (
	// P256 is NIST P-256 with uncompressed public points.
	P256 Curve = iota
	// X25519 is the RFC 7748 Curve25519 function.
	X25519
	// X448 is the RFC 7748 Curve448 function.
	X448
)

// DefaultCurve is used when configuration leaves the curve empty.
const DefaultCurve = P256

// String returns the configuration name of c.
func (c Curve) String() string {
	switch c {
	case P256:
		return "P-256"
	case X25519:
		return "X25519"
	case X448:
		return "X448"
	default:
		return fmt.Sprintf("Curve(%d)", uint8(c))
	}
}

// ParseCurve accepts "P-256", "P256", "secp256r1", "X25519" and "X448",
// case-insensitively. The empty string selects DefaultCurve.
func ParseCurve(s string) (Curve, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "p-256", "p256", "secp256r1":
		return P256, nil
	case "x25519", "curve25519":
		return X25519, nil
	case "x448":
		return X448, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownCurve, s)
}

// PublicKeySize is the encoded public key length.
func (c Curve) PublicKeySize() int {
	switch c {
	case P256:
		return 65
	case X25519:
		return curve25519.PointSize
	case X448:
		return x448.Size
	}
	return 0
}

// generate returns a private scalar and its public point.
func (c Curve) generate(rnd io.Reader) (priv, pub []byte, err error) {
	switch c {
	case P256:
		k, err := ecdh.P256().GenerateKey(rnd)
		if err != nil {
			return nil, nil, err
		}
		return k.Bytes(), k.PublicKey().Bytes(), nil

	case X25519:
		priv = make([]byte, curve25519.ScalarSize)
		if _, err := io.ReadFull(rnd, priv); err != nil {
			return nil, nil, err
		}
		pub, err = curve25519.X25519(priv, curve25519.Basepoint)
		if err != nil {
			return nil, nil, err
		}
		return priv, pub, nil

	case X448:
		var sk, pk x448.Key
		if _, err := io.ReadFull(rnd, sk[:]); err != nil {
			return nil, nil, err
		}
		x448.KeyGen(&pk, &sk)
		priv = append([]byte(nil), sk[:]...)
		zero(sk[:])
		return priv, pk[:], nil
	}
	return nil, nil, fmt.Errorf("%w: %d", ErrUnknownCurve, uint8(c))
}

// agree computes the raw shared point from a private scalar and a peer key.
func (c Curve) agree(priv, peerPub []byte) ([]byte, error) {
	if len(peerPub) != c.PublicKeySize() {
		return nil, fmt.Errorf("%w: %d bytes for %s", ErrInvalidPublicKey, len(peerPub), c)
	}
	switch c {
	case P256:
		sk, err := ecdh.P256().NewPrivateKey(priv)
		if err != nil {
			return nil, err
		}
		pk, err := ecdh.P256().NewPublicKey(peerPub)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
		}
		return sk.ECDH(pk)

	case X25519:
		shared, err := curve25519.X25519(priv, peerPub)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidPublicKey, err)
		}
		return shared, nil

	case X448:
		var sk, pk, shared x448.Key
		copy(sk[:], priv)
		copy(pk[:], peerPub)
		defer zero(sk[:])
		if !x448.Shared(&shared, &sk, &pk) {
			return nil, fmt.Errorf("%w: low order point", ErrInvalidPublicKey)
		}
		return shared[:], nil
	}
	return nil, fmt.Errorf("%w: %d", ErrUnknownCurve, uint8(c))
}

var randReader io.Reader = rand.Reader

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
