package secure

import (
	"errors"
	"sync"
)

// DefaultRotationThreshold is the message count after which a channel asks
// for a fresh exchange.
const DefaultRotationThreshold = 100

// Channel protects the traffic of one socket.
type Channel struct {
	mu        sync.Mutex
	cipher    Cipher
	threshold uint64
	current   *SharedSecret
	previous  *SharedSecret
	count     uint64
	ready     chan struct{}
}

// NewChannel returns a channel with no secret installed. A threshold of
// zero disables rotation.
func NewChannel(c Cipher, threshold uint64) *Channel {
	return &Channel{cipher: c, threshold: threshold, ready: make(chan struct{})}
}

// Cipher returns the AEAD in use.
func (ch *Channel) Cipher() Cipher { return ch.cipher }

// Install makes s the current secret and resets the counter. The old
// current secret is kept for inbound verification until a message under s
// is received.
func (ch *Channel) Install(s *SharedSecret) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.previous != nil && ch.previous != ch.current {
		ch.previous.Zero()
	}
	ch.previous = ch.current
	ch.current = s
	ch.count = 0
	select {
	case <-ch.ready:
	default:
		close(ch.ready)
	}
}

// Established reports whether a secret is installed.
func (ch *Channel) Established() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.current != nil
}

// Ready is closed once the first secret is installed.
func (ch *Channel) Ready() <-chan struct{} { return ch.ready }

// Seal encrypts plaintext under the current secret.
func (ch *Channel) Seal(plaintext []byte) ([]byte, error) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.current == nil {
		return nil, ErrNoSecret
	}
	out, err := Encrypt(ch.current, ch.cipher, plaintext)
	if err != nil {
		return nil, err
	}
	ch.count++
	return out, nil
}

// Open verifies and decrypts a container. A container that fails MAC under
// the current secret is retried under the previous one, if still held.
func (ch *Channel) Open(data []byte) ([]byte, error) {
	ct, err := ParseContainer(data)
	if err != nil {
		return nil, err
	}

	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.current == nil {
		return nil, ErrNoSecret
	}

	pt, err := openContainer(ch.current, ch.cipher, ct)
	if err == nil {
		ch.count++
		if ch.previous != nil {
			ch.previous.Zero()
			ch.previous = nil
		}
		return pt, nil
	}
	if ch.previous == nil || !errors.Is(err, ErrMACMismatch) {
		return nil, err
	}

	pt, err = openContainer(ch.previous, ch.cipher, ct)
	if err != nil {
		return nil, err
	}
	ch.count++
	return pt, nil
}

// Count returns messages sealed or opened since the last Install.
func (ch *Channel) Count() uint64 {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.count
}

// NeedsRotation reports whether the counter reached the threshold.
func (ch *Channel) NeedsRotation() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.current != nil && ch.threshold > 0 && ch.count >= ch.threshold
}

// HasPrevious reports whether a superseded secret is still accepted.
func (ch *Channel) HasPrevious() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.previous != nil
}

// Close wipes all key material.
func (ch *Channel) Close() {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.current != nil {
		ch.current.Zero()
		ch.current = nil
	}
	if ch.previous != nil {
		ch.previous.Zero()
		ch.previous = nil
	}
}
