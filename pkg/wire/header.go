package wire

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/tcpmsg/tcpmsg-go/pkg/message"
	"github.com/tcpmsg/tcpmsg-go/pkg/msgerr"
	"github.com/tcpmsg/tcpmsg-go/pkg/version"
)

const (
	// HeaderSize is the fixed frame header size.
	HeaderSize = 8

	// DefaultMaxMessageSize bounds the payload length (1 MiB).
	DefaultMaxMessageSize = 1 << 20
)

// Flags is the header flag byte.
type Flags uint8

const (
	// FlagEncrypted marks a payload wrapped in a secure container.
	FlagEncrypted Flags = 0x01
	// FlagCompressed is reserved; payloads are never compressed.
	FlagCompressed Flags = 0x02
	// FlagNotSystem is set on every kind except System.
	FlagNotSystem Flags = 0x04
	// FlagAckRequired asks the receiver to reply with an Acknowledgment.
	FlagAckRequired Flags = 0x08
)

// Has reports whether all bits of f2 are set.
func (f Flags) Has(f2 Flags) bool { return f&f2 == f2 }

func (f Flags) String() string {
	if f == 0 {
		return "none"
	}
	s := ""
	add := func(bit Flags, name string) {
		if f.Has(bit) {
			if s != "" {
				s += "|"
			}
			s += name
		}
	}
	add(FlagEncrypted, "encrypted")
	add(FlagCompressed, "compressed")
	add(FlagNotSystem, "not-system")
	add(FlagAckRequired, "ack")
	return s
}

// FlagsFor computes the header flags for m.
func FlagsFor(m *message.Message, encrypted bool) Flags {
	var f Flags
	if encrypted {
		f |= FlagEncrypted
	}
	if !m.IsSystem() {
		f |= FlagNotSystem
	}
	if m.RequiresAck() {
		f |= FlagAckRequired
	}
	return f
}

// Header errors.
var (
	// ErrUnsupportedVersion is returned for a version byte other than version.Wire.
	ErrUnsupportedVersion = errors.New("unsupported protocol version")
	// ErrShortHeader is returned when fewer than HeaderSize bytes are given.
	ErrShortHeader = errors.New("short header")
	// ErrReservedByte is returned when the reserved header byte is not zero.
	ErrReservedByte = errors.New("reserved header byte not zero")
	// ErrUnknownKind is returned for a kind code outside the protocol.
	ErrUnknownKind = errors.New("unknown message kind")
)

// Header is a decoded frame header.
type Header struct {
	Version uint8
	Kind    message.Kind
	Flags   Flags
	Length  uint32
}

// NewHeader returns a header for the current wire version.
func NewHeader(kind message.Kind, flags Flags, length uint32) Header {
	return Header{Version: version.Wire, Kind: kind, Flags: flags, Length: length}
}

// Encode returns the 8 header bytes. The reserved byte is always zero.
func (h Header) Encode() [HeaderSize]byte {
	var b [HeaderSize]byte
	b[0] = h.Version
	b[1] = uint8(h.Kind)
	b[2] = uint8(h.Flags)
	binary.BigEndian.PutUint32(b[4:], h.Length)
	return b
}

// DecodeHeader parses b. Versions other than version.Wire fail with a
// Protocol error, as do a nonzero reserved byte and unknown kind codes.
// Lengths above maxSize fail with msgerr.ErrMessageTooLarge. maxSize 0 means
// DefaultMaxMessageSize.
func DecodeHeader(b []byte, maxSize uint32) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, msgerr.Protocol("decode header", fmt.Errorf("%w: %d bytes", ErrShortHeader, len(b)))
	}
	if maxSize == 0 {
		maxSize = DefaultMaxMessageSize
	}
	h := Header{
		Version: b[0],
		Kind:    message.Kind(b[1]),
		Flags:   Flags(b[2]),
		Length:  binary.BigEndian.Uint32(b[4:HeaderSize]),
	}
	if h.Version != version.Wire {
		return Header{}, msgerr.Protocol("decode header", fmt.Errorf("%w: %d", ErrUnsupportedVersion, h.Version))
	}
	if b[3] != 0 {
		return Header{}, msgerr.Protocol("decode header", fmt.Errorf("%w: 0x%02x", ErrReservedByte, b[3]))
	}
	if !h.Kind.IsValid() {
		return Header{}, msgerr.Protocol("decode header", fmt.Errorf("%w: 0x%02x", ErrUnknownKind, b[1]))
	}
	if h.Length > maxSize {
		return Header{}, fmt.Errorf("length %d > %d: %w", h.Length, maxSize, msgerr.ErrMessageTooLarge)
	}
	return h, nil
}
