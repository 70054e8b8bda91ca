package wire

import (
	"errors"
	"fmt"

	"github.com/fxamacker/cbor/v2"
	"github.com/tcpmsg/tcpmsg-go/pkg/message"
	"github.com/tcpmsg/tcpmsg-go/pkg/msgerr"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error

	encOpts := cbor.EncOptions{
		Sort:          cbor.SortCanonical,
		IndefLength:   cbor.IndefLengthForbidden,
		NilContainers: cbor.NilContainerAsNull,
		Time:          cbor.TimeRFC3339Nano,
	}
	encMode, err = encOpts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("wire: cbor encoder mode: %v", err))
	}

	// Lenient for forward compatibility: unknown keys are skipped.
	decOpts := cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyQuiet,
		IndefLength:       cbor.IndefLengthAllowed,
		ExtraReturnErrors: cbor.ExtraDecErrorNone,
	}
	decMode, err = decOpts.DecMode()
	if err != nil {
		panic(fmt.Sprintf("wire: cbor decoder mode: %v", err))
	}
}

// ErrKindMismatch is returned when the header kind differs from the
// decoded message kind.
var ErrKindMismatch = errors.New("header kind does not match message")

// Marshal encodes v to CBOR.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes CBOR data into v.
func Unmarshal(data []byte, v any) error {
	return decMode.Unmarshal(data, v)
}

// EncodeMessage validates m and returns its CBOR payload.
func EncodeMessage(m *message.Message) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, msgerr.Serialization("encode message", err)
	}
	data, err := Marshal(m)
	if err != nil {
		return nil, msgerr.Serialization("encode message", err)
	}
	return data, nil
}

// DecodeMessage decodes and validates a CBOR payload.
func DecodeMessage(data []byte) (*message.Message, error) {
	var m message.Message
	if err := Unmarshal(data, &m); err != nil {
		return nil, msgerr.Serialization("decode message", err)
	}
	if err := m.Validate(); err != nil {
		return nil, msgerr.Serialization("decode message", err)
	}
	return &m, nil
}

// Frame is a header plus its payload bytes.
type Frame struct {
	Header  Header
	Payload []byte
}

// Bytes returns header and payload as one slice.
func (f *Frame) Bytes() []byte {
	h := f.Header.Encode()
	out := make([]byte, 0, HeaderSize+len(f.Payload))
	out = append(out, h[:]...)
	return append(out, f.Payload...)
}

// NewFrame builds a plaintext frame for m.
func NewFrame(m *message.Message) (*Frame, error) {
	payload, err := EncodeMessage(m)
	if err != nil {
		return nil, err
	}
	return &Frame{
		Header:  NewHeader(m.Kind, FlagsFor(m, false), uint32(len(payload))),
		Payload: payload,
	}, nil
}

// DecodeFrameMessage decodes a plaintext frame payload and checks that the
// message kind agrees with the header.
func DecodeFrameMessage(f *Frame) (*message.Message, error) {
	m, err := DecodeMessage(f.Payload)
	if err != nil {
		return nil, err
	}
	if m.Kind != f.Header.Kind {
		return nil, msgerr.Protocol("decode frame", fmt.Errorf("%w: header %s, message %s", ErrKindMismatch, f.Header.Kind, m.Kind))
	}
	return m, nil
}
