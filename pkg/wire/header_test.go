package wire

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/tcpmsg/tcpmsg-go/pkg/message"
	"github.com/tcpmsg/tcpmsg-go/pkg/msgerr"
)

func TestHeaderRoundTrip(t *testing.T) {
	kinds := []message.Kind{
		message.KindText, message.KindFile, message.KindSystem, message.KindHeartbeat,
		message.KindKeyExchange, message.KindDisconnect, message.KindAcknowledgment,
	}
	flags := []Flags{0, FlagEncrypted, FlagNotSystem, FlagEncrypted | FlagNotSystem | FlagAckRequired, 0xff}
	lengths := []uint32{0, 1, 100, DefaultMaxMessageSize}

	for _, k := range kinds {
		for _, f := range flags {
			for _, l := range lengths {
				h := NewHeader(k, f, l)
				b := h.Encode()
				if b[3] != 0 {
					t.Fatalf("reserved byte = %d, want 0", b[3])
				}
				got, err := DecodeHeader(b[:], 0)
				if err != nil {
					t.Fatalf("DecodeHeader(%s, %s, %d): %v", k, f, l, err)
				}
				if got != h {
					t.Fatalf("round trip: got %+v, want %+v", got, h)
				}
			}
		}
	}
}

func TestHeaderEncodeLayout(t *testing.T) {
	h := NewHeader(message.KindText, FlagEncrypted|FlagNotSystem, 0x01020304)
	want := [HeaderSize]byte{0x01, 0x01, 0x05, 0x00, 0x01, 0x02, 0x03, 0x04}
	if got := h.Encode(); got != want {
		t.Errorf("Encode() = % x, want % x", got, want)
	}
}

func TestDecodeHeaderErrors(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		max      uint32
		wantKind msgerr.Kind
		wantErr  error
	}{
		{"short", []byte{1, 1, 0}, 0, msgerr.KindProtocol, ErrShortHeader},
		{"version 0", []byte{0, 1, 0, 0, 0, 0, 0, 1}, 0, msgerr.KindProtocol, ErrUnsupportedVersion},
		{"version 2", []byte{2, 1, 0, 0, 0, 0, 0, 1}, 0, msgerr.KindProtocol, ErrUnsupportedVersion},
		{"reserved set", []byte{1, 1, 4, 0xAA, 0, 0, 0, 5}, 0, msgerr.KindProtocol, ErrReservedByte},
		{"kind 0", []byte{1, 0, 0, 0, 0, 0, 0, 1}, 0, msgerr.KindProtocol, ErrUnknownKind},
		{"kind 7", []byte{1, 7, 0, 0, 0, 0, 0, 1}, 0, msgerr.KindProtocol, ErrUnknownKind},
		{"kind 0xff", []byte{1, 0xff, 0, 0, 0, 0, 0, 1}, 0, msgerr.KindProtocol, ErrUnknownKind},
		{"too large default", []byte{1, 1, 0, 0, 0x00, 0x10, 0x00, 0x01}, 0, msgerr.KindState, msgerr.ErrMessageTooLarge},
		{"too large custom", []byte{1, 1, 0, 0, 0, 0, 0x01, 0x01}, 256, msgerr.KindState, msgerr.ErrMessageTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeHeader(tt.data, tt.max)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("error %v does not wrap %v", err, tt.wantErr)
			}
			if k := msgerr.KindOf(err); k != tt.wantKind {
				t.Errorf("kind = %s, want %s", k, tt.wantKind)
			}
		})
	}
}

func TestFlagsFor(t *testing.T) {
	sender := uuid.New()
	tests := []struct {
		name      string
		msg       *message.Message
		encrypted bool
		want      Flags
	}{
		{"text plain", message.NewText("hi", sender), false, FlagNotSystem | FlagAckRequired},
		{"text encrypted", message.NewText("hi", sender), true, FlagEncrypted | FlagNotSystem | FlagAckRequired},
		{"system", message.NewSystem("joined", message.LevelInfo, sender), false, 0},
		{"system encrypted", message.NewSystem("joined", message.LevelInfo, sender), true, FlagEncrypted},
		{"heartbeat", message.NewHeartbeat(sender), false, FlagNotSystem},
		{"ack", message.NewAcknowledgment(uuid.New(), sender), true, FlagEncrypted | FlagNotSystem},
		{"file", message.NewFile("a.txt", 3, "text/plain", []byte("abc"), sender), false, FlagNotSystem | FlagAckRequired},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FlagsFor(tt.msg, tt.encrypted)
			if got != tt.want {
				t.Errorf("FlagsFor = %s, want %s", got, tt.want)
			}
			if got.Has(FlagCompressed) {
				t.Error("compressed flag must never be set")
			}
		})
	}
}

func TestFlagsString(t *testing.T) {
	if s := Flags(0).String(); s != "none" {
		t.Errorf("got %q", s)
	}
	if s := (FlagEncrypted | FlagAckRequired).String(); s != "encrypted|ack" {
		t.Errorf("got %q", s)
	}
}
