package secure

import "errors"

// Key management errors.
var (
	// ErrNoKeyPair is returned when a peer has no pending keypair.
	ErrNoKeyPair = errors.New("no keypair for peer")

	// ErrNoSecret is returned when no exchange with the peer has completed.
	ErrNoSecret = errors.New("no shared secret for peer")

	// ErrReleased is returned when a keypair is used after Release.
	ErrReleased = errors.New("keypair released")

	// ErrInvalidPublicKey is returned for a peer key that is not a valid
	// point on the curve.
	ErrInvalidPublicKey = errors.New("invalid peer public key")

	// ErrUnknownCurve is returned for an unsupported curve name or value.
	ErrUnknownCurve = errors.New("unknown curve")

	// ErrCurveMismatch is returned when the peer's key exchange names a
	// different curve.
	ErrCurveMismatch = errors.New("peer uses a different curve")

	// ErrUnknownCipher is returned for an unsupported cipher name or value.
	ErrUnknownCipher = errors.New("unknown cipher")
)

// Message protection errors. All of them are fatal for the connection.
var (
	// ErrMACMismatch is returned when the container MAC does not verify.
	// Decryption is not attempted.
	ErrMACMismatch = errors.New("mac verification failed")

	// ErrDecryptionFailed is returned when the AEAD rejects the ciphertext.
	ErrDecryptionFailed = errors.New("decryption failed")

	// ErrMalformed is returned for a container that is too short or whose
	// length prefix disagrees with its size.
	ErrMalformed = errors.New("malformed secure container")
)
