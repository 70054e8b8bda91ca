package message

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind identifies the message kind. The numeric value is the wire code.
type Kind uint8

const (
	KindText           Kind = 0x01
	KindFile           Kind = 0x02
	KindSystem         Kind = 0x03
	KindHeartbeat      Kind = 0x04
	KindKeyExchange    Kind = 0x05
	KindDisconnect     Kind = 0x06
	KindAcknowledgment Kind = 0x09
)

// IsValid returns true if k is a known kind code.
func (k Kind) IsValid() bool {
	switch k {
	case KindText, KindFile, KindSystem, KindHeartbeat, KindKeyExchange, KindDisconnect, KindAcknowledgment:
		return true
	}
	return false
}

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindText:
		return "TEXT"
	case KindFile:
		return "FILE"
	case KindSystem:
		return "SYSTEM"
	case KindHeartbeat:
		return "HEARTBEAT"
	case KindKeyExchange:
		return "KEY_EXCHANGE"
	case KindDisconnect:
		return "DISCONNECT"
	case KindAcknowledgment:
		return "ACKNOWLEDGMENT"
	default:
		return fmt.Sprintf("UNKNOWN(0x%02x)", uint8(k))
	}
}

// Status tracks delivery of a message.
type Status uint8

const (
	StatusSending Status = iota
	StatusSent
	StatusDelivered
	StatusFailed
	StatusAcknowledged
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case StatusSending:
		return "Sending"
	case StatusSent:
		return "Sent"
	case StatusDelivered:
		return "Delivered"
	case StatusFailed:
		return "Failed"
	case StatusAcknowledged:
		return "Acknowledged"
	default:
		return "Unknown"
	}
}

// SystemLevel is the severity of a system message.
type SystemLevel uint8

const (
	LevelInfo SystemLevel = iota
	LevelWarning
	LevelError
	LevelSuccess
)

// String returns the level name.
func (l SystemLevel) String() string {
	switch l {
	case LevelInfo:
		return "Info"
	case LevelWarning:
		return "Warning"
	case LevelError:
		return "Error"
	case LevelSuccess:
		return "Success"
	default:
		return "Unknown"
	}
}

// Errors returned by Validate.
var (
	ErrInvalidKind  = errors.New("invalid message kind")
	ErrBodyMismatch = errors.New("message body does not match kind")
	ErrMissingID    = errors.New("message id is nil")
)

// Metadata is one ordered key/value pair.
type Metadata struct {
	Key   string `cbor:"1,keyasint" json:"key"`
	Value string `cbor:"2,keyasint" json:"value"`
}

// Message is a domain message.
//
// CBOR encoding uses integer keys; exactly one of the body fields (keys 20-26)
// is present and it must match Kind.
type Message struct {
	ID          uuid.UUID  `cbor:"1,keyasint" json:"id"`
	Kind        Kind       `cbor:"2,keyasint" json:"kind"`
	Timestamp   time.Time  `cbor:"3,keyasint" json:"timestamp"`
	SenderID    uuid.UUID  `cbor:"4,keyasint" json:"sender_id"`
	RecipientID *uuid.UUID `cbor:"5,keyasint,omitempty" json:"recipient_id,omitempty"`
	Status      Status     `cbor:"6,keyasint" json:"status"`
	Encrypted   bool       `cbor:"7,keyasint,omitempty" json:"encrypted,omitempty"`
	RetryCount  uint32     `cbor:"8,keyasint,omitempty" json:"retry_count,omitempty"`
	Metadata    []Metadata `cbor:"9,keyasint,omitempty" json:"metadata,omitempty"`

	Text           *Text           `cbor:"20,keyasint,omitempty" json:"text,omitempty"`
	File           *File           `cbor:"21,keyasint,omitempty" json:"file,omitempty"`
	System         *System         `cbor:"22,keyasint,omitempty" json:"system,omitempty"`
	Heartbeat      *Heartbeat      `cbor:"23,keyasint,omitempty" json:"heartbeat,omitempty"`
	KeyExchange    *KeyExchange    `cbor:"24,keyasint,omitempty" json:"key_exchange,omitempty"`
	Disconnect     *Disconnect     `cbor:"25,keyasint,omitempty" json:"disconnect,omitempty"`
	Acknowledgment *Acknowledgment `cbor:"26,keyasint,omitempty" json:"acknowledgment,omitempty"`
}

// Text is the body of a text message.
type Text struct {
	Content string `cbor:"1,keyasint" json:"content"`
}

// File is the body of a file transfer message. Data is only included for
// small files or single chunks.
type File struct {
	Name        string  `cbor:"1,keyasint" json:"name"`
	Size        uint64  `cbor:"2,keyasint" json:"size"`
	MimeType    string  `cbor:"3,keyasint" json:"mime_type"`
	Data        []byte  `cbor:"4,keyasint,omitempty" json:"data,omitempty"`
	ChunkIndex  *uint32 `cbor:"5,keyasint,omitempty" json:"chunk_index,omitempty"`
	TotalChunks *uint32 `cbor:"6,keyasint,omitempty" json:"total_chunks,omitempty"`
}

// System is the body of a system message.
type System struct {
	Content string      `cbor:"1,keyasint" json:"content"`
	Level   SystemLevel `cbor:"2,keyasint" json:"level"`
}

// Heartbeat has no fields.
type Heartbeat struct{}

// KeyExchange carries an ephemeral public key.
type KeyExchange struct {
	PublicKey []byte `cbor:"1,keyasint" json:"public_key"`
	Curve     string `cbor:"2,keyasint,omitempty" json:"curve,omitempty"`
}

// Disconnect announces that the sender is closing the session.
type Disconnect struct {
	Reason string `cbor:"1,keyasint" json:"reason"`
}

// Acknowledgment confirms receipt of a message.
type Acknowledgment struct {
	MessageID uuid.UUID `cbor:"1,keyasint" json:"message_id"`
}

func newMessage(kind Kind, sender uuid.UUID, status Status) *Message {
	return &Message{
		ID:        uuid.New(),
		Kind:      kind,
		Timestamp: time.Now().UTC(),
		SenderID:  sender,
		Status:    status,
	}
}

// NewText creates a text message.
func NewText(content string, sender uuid.UUID) *Message {
	m := newMessage(KindText, sender, StatusSending)
	m.Text = &Text{Content: content}
	return m
}

// NewFile creates a single-part file message.
func NewFile(name string, size uint64, mimeType string, data []byte, sender uuid.UUID) *Message {
	m := newMessage(KindFile, sender, StatusSending)
	m.File = &File{Name: name, Size: size, MimeType: mimeType, Data: data}
	return m
}

// NewFileChunk creates one chunk of a multi-part file transfer.
func NewFileChunk(name string, size uint64, mimeType string, data []byte, index, total uint32, sender uuid.UUID) *Message {
	m := NewFile(name, size, mimeType, data, sender)
	m.File.ChunkIndex = &index
	m.File.TotalChunks = &total
	return m
}

// NewSystem creates a system message.
func NewSystem(content string, level SystemLevel, sender uuid.UUID) *Message {
	m := newMessage(KindSystem, sender, StatusSent)
	m.System = &System{Content: content, Level: level}
	return m
}

// NewHeartbeat creates a heartbeat message.
func NewHeartbeat(sender uuid.UUID) *Message {
	m := newMessage(KindHeartbeat, sender, StatusSent)
	m.Heartbeat = &Heartbeat{}
	return m
}

// NewKeyExchange creates a key exchange message carrying a public key.
func NewKeyExchange(publicKey []byte, curve string, sender uuid.UUID) *Message {
	m := newMessage(KindKeyExchange, sender, StatusSent)
	m.KeyExchange = &KeyExchange{PublicKey: publicKey, Curve: curve}
	return m
}

// NewDisconnect creates a disconnect notification.
func NewDisconnect(reason string, sender uuid.UUID) *Message {
	m := newMessage(KindDisconnect, sender, StatusSent)
	m.Disconnect = &Disconnect{Reason: reason}
	return m
}

// NewAcknowledgment creates an acknowledgment for messageID.
func NewAcknowledgment(messageID, sender uuid.UUID) *Message {
	m := newMessage(KindAcknowledgment, sender, StatusSent)
	m.Acknowledgment = &Acknowledgment{MessageID: messageID}
	return m
}

// Validate checks that the message has an id, a known kind and exactly the
// body that matches its kind.
func (m *Message) Validate() error {
	if m.ID == uuid.Nil {
		return ErrMissingID
	}
	if !m.Kind.IsValid() {
		return fmt.Errorf("%w: 0x%02x", ErrInvalidKind, uint8(m.Kind))
	}

	bodies := 0
	var matched bool
	check := func(present bool, kind Kind) {
		if present {
			bodies++
			matched = matched || kind == m.Kind
		}
	}
	check(m.Text != nil, KindText)
	check(m.File != nil, KindFile)
	check(m.System != nil, KindSystem)
	check(m.Heartbeat != nil, KindHeartbeat)
	check(m.KeyExchange != nil, KindKeyExchange)
	check(m.Disconnect != nil, KindDisconnect)
	check(m.Acknowledgment != nil, KindAcknowledgment)

	// Heartbeat bodies are empty and may be dropped by encoders.
	if bodies == 0 && m.Kind == KindHeartbeat {
		return nil
	}
	if bodies != 1 || !matched {
		return fmt.Errorf("%w: kind %s", ErrBodyMismatch, m.Kind)
	}
	return nil
}

// IsSystem reports whether m is a system message.
func (m *Message) IsSystem() bool {
	return m.Kind == KindSystem
}

// IsFile reports whether m is a file transfer.
func (m *Message) IsFile() bool {
	return m.Kind == KindFile
}

// IsControl reports whether m is consumed by the transport rather than the
// application.
func (m *Message) IsControl() bool {
	return m.Kind == KindHeartbeat || m.Kind == KindKeyExchange
}

// IsApplication reports whether m carries user content (Text, File or
// System). Only these count as messages in traffic statistics.
func (m *Message) IsApplication() bool {
	switch m.Kind {
	case KindText, KindFile, KindSystem:
		return true
	}
	return false
}

// RequiresAck reports whether the receiver should acknowledge m.
func (m *Message) RequiresAck() bool {
	switch m.Kind {
	case KindText, KindFile:
		return m.Status != StatusAcknowledged
	}
	return false
}

// SizeEstimate returns the approximate content size in bytes.
func (m *Message) SizeEstimate() int {
	switch {
	case m.Text != nil:
		return len(m.Text.Content)
	case m.File != nil:
		return len(m.File.Data)
	case m.System != nil:
		return len(m.System.Content)
	case m.KeyExchange != nil:
		return len(m.KeyExchange.PublicKey)
	case m.Disconnect != nil:
		return len(m.Disconnect.Reason)
	case m.Acknowledgment != nil:
		return len(uuid.UUID{})
	}
	return 0
}

// Content returns a printable summary of the body.
func (m *Message) Content() string {
	switch {
	case m.Text != nil:
		return m.Text.Content
	case m.File != nil:
		return fmt.Sprintf("%s (%d bytes, %s)", m.File.Name, m.File.Size, m.File.MimeType)
	case m.System != nil:
		return fmt.Sprintf("[%s] %s", m.System.Level, m.System.Content)
	case m.Disconnect != nil:
		return m.Disconnect.Reason
	case m.Acknowledgment != nil:
		return m.Acknowledgment.MessageID.String()
	}
	return ""
}

// Meta returns the first metadata value for key.
func (m *Message) Meta(key string) (string, bool) {
	for _, kv := range m.Metadata {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return "", false
}

// SetMeta sets key to value, keeping insertion order for new keys.
func (m *Message) SetMeta(key, value string) {
	for i := range m.Metadata {
		if m.Metadata[i].Key == key {
			m.Metadata[i].Value = value
			return
		}
	}
	m.Metadata = append(m.Metadata, Metadata{Key: key, Value: value})
}
