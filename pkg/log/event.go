package log

import (
	"time"

	"github.com/tcpmsg/tcpmsg-go/pkg/message"
)

// Event is a single captured protocol event.
// Exactly one of the payload fields is set.
type Event struct {
	Timestamp    time.Time `cbor:"1,keyasint"`
	ConnectionID string    `cbor:"2,keyasint"`
	Direction    Direction `cbor:"3,keyasint"`
	Layer        Layer     `cbor:"4,keyasint"`
	Category     Category  `cbor:"5,keyasint"`
	LocalRole    Role      `cbor:"6,keyasint,omitempty"`
	RemoteAddr   string    `cbor:"7,keyasint,omitempty"`

	// PeerID is the sender id of the remote peer once a message was seen.
	PeerID string `cbor:"8,keyasint,omitempty"`

	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"`
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"`
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"`
	ControlMsg  *ControlMsgEvent  `cbor:"13,keyasint,omitempty"`
	Error       *ErrorEventData   `cbor:"14,keyasint,omitempty"`
}

// Direction of message flow.
type Direction uint8

const (
	DirectionIn  Direction = 0
	DirectionOut Direction = 1
)

func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer that captured the event.
type Layer uint8

const (
	// LayerTransport sees raw frames.
	LayerTransport Layer = 0
	// LayerSecure sees key exchange, MAC and AEAD processing.
	LayerSecure Layer = 1
	// LayerSession sees decoded messages and session lifecycle.
	LayerSession Layer = 2
)

func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerSecure:
		return "SECURE"
	case LayerSession:
		return "SESSION"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event.
type Category uint8

const (
	CategoryMessage Category = 0
	CategoryControl Category = 1
	CategoryState   Category = 2
	CategoryError   Category = 3
)

func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Role of the local endpoint.
type Role uint8

const (
	RoleServer Role = 0
	RoleClient Role = 1
)

func (r Role) String() string {
	switch r {
	case RoleServer:
		return "SERVER"
	case RoleClient:
		return "CLIENT"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures a frame at the transport layer.
type FrameEvent struct {
	// Size includes the 8-byte header.
	Size  int   `cbor:"1,keyasint"`
	Kind  uint8 `cbor:"2,keyasint"`
	Flags uint8 `cbor:"3,keyasint"`

	// Data is the payload, possibly truncated.
	Data      []byte `cbor:"4,keyasint,omitempty"`
	Truncated bool   `cbor:"5,keyasint,omitempty"`
}

// MessageEvent captures a decoded domain message.
type MessageEvent struct {
	MessageID string       `cbor:"1,keyasint"`
	Kind      message.Kind `cbor:"2,keyasint"`
	SenderID  string       `cbor:"3,keyasint,omitempty"`
	Encrypted bool         `cbor:"4,keyasint,omitempty"`
	Size      int          `cbor:"5,keyasint,omitempty"`

	// Content is a short printable summary of the body.
	Content string `cbor:"6,keyasint,omitempty"`
}

// NewMessageEvent summarizes m.
func NewMessageEvent(m *message.Message) *MessageEvent {
	return &MessageEvent{
		MessageID: m.ID.String(),
		Kind:      m.Kind,
		SenderID:  m.SenderID.String(),
		Encrypted: m.Encrypted,
		Size:      m.SizeEstimate(),
		Content:   m.Content(),
	}
}

// StateChangeEvent captures connection and session lifecycle events.
type StateChangeEvent struct {
	Entity   StateEntity `cbor:"1,keyasint"`
	OldState string      `cbor:"2,keyasint,omitempty"`
	NewState string      `cbor:"3,keyasint"`
	Reason   string      `cbor:"4,keyasint,omitempty"`
}

// StateEntity is what changed state.
type StateEntity uint8

const (
	StateEntityConnection StateEntity = 0
	StateEntitySession    StateEntity = 1
	StateEntityKeys       StateEntity = 2
)

func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntitySession:
		return "SESSION"
	case StateEntityKeys:
		return "KEYS"
	default:
		return "UNKNOWN"
	}
}

// ControlMsgEvent captures transport control messages.
type ControlMsgEvent struct {
	Type ControlMsgType `cbor:"1,keyasint"`

	// Detail is the disconnect reason, acknowledged message id or key
	// fingerprint, depending on Type.
	Detail string `cbor:"2,keyasint,omitempty"`
}

// ControlMsgType is the kind of control message.
type ControlMsgType uint8

const (
	ControlMsgHeartbeat   ControlMsgType = 0
	ControlMsgKeyExchange ControlMsgType = 1
	ControlMsgAck         ControlMsgType = 2
	ControlMsgDisconnect  ControlMsgType = 3
)

func (c ControlMsgType) String() string {
	switch c {
	case ControlMsgHeartbeat:
		return "HEARTBEAT"
	case ControlMsgKeyExchange:
		return "KEY_EXCHANGE"
	case ControlMsgAck:
		return "ACK"
	case ControlMsgDisconnect:
		return "DISCONNECT"
	default:
		return "UNKNOWN"
	}
}

// ControlTypeFor maps a message kind to its control type.
// ok is false for application kinds.
func ControlTypeFor(k message.Kind) (ControlMsgType, bool) {
	switch k {
	case message.KindHeartbeat:
		return ControlMsgHeartbeat, true
	case message.KindKeyExchange:
		return ControlMsgKeyExchange, true
	case message.KindAcknowledgment:
		return ControlMsgAck, true
	case message.KindDisconnect:
		return ControlMsgDisconnect, true
	}
	return 0, false
}

// ErrorEventData captures an error at any layer.
type ErrorEventData struct {
	Layer   Layer  `cbor:"1,keyasint"`
	Message string `cbor:"2,keyasint"`

	// Kind is the msgerr kind name, if known.
	Kind    string `cbor:"3,keyasint,omitempty"`
	Context string `cbor:"4,keyasint,omitempty"`
}
