package log

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/tcpmsg/tcpmsg-go/pkg/message"
)

func TestEventCBORRoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 14, 9, 26, 53, 589793238, time.UTC)

	tests := []struct {
		name  string
		event Event
	}{
		{
			name: "frame",
			event: Event{
				Timestamp:    ts,
				ConnectionID: "conn-1",
				Direction:    DirectionOut,
				Layer:        LayerTransport,
				Category:     CategoryMessage,
				LocalRole:    RoleClient,
				RemoteAddr:   "192.168.1.20:8000",
				Frame:        &FrameEvent{Size: 20, Kind: 0x01, Flags: 0x05, Data: []byte{1, 2, 3}},
			},
		},
		{
			name: "message",
			event: Event{
				Timestamp:    ts,
				ConnectionID: "conn-2",
				Direction:    DirectionIn,
				Layer:        LayerSession,
				Category:     CategoryMessage,
				PeerID:       "3f0c1a5e-9c55-4c4e-8a2e-2d6f0b7d9a11",
				Message: &MessageEvent{
					MessageID: "0d1e2f30-4152-4637-8899-aabbccddeeff",
					Kind:      message.KindText,
					Encrypted: true,
					Size:      5,
					Content:   "hello",
				},
			},
		},
		{
			name: "state",
			event: Event{
				Timestamp:   ts,
				Layer:       LayerSession,
				Category:    CategoryState,
				StateChange: &StateChangeEvent{Entity: StateEntityKeys, OldState: "NONE", NewState: "ESTABLISHED"},
			},
		},
		{
			name: "control",
			event: Event{
				Timestamp:  ts,
				Layer:      LayerTransport,
				Category:   CategoryControl,
				ControlMsg: &ControlMsgEvent{Type: ControlMsgDisconnect, Detail: "user quit"},
			},
		},
		{
			name: "error",
			event: Event{
				Timestamp: ts,
				Layer:     LayerSecure,
				Category:  CategoryError,
				Error:     &ErrorEventData{Layer: LayerSecure, Message: "mac mismatch", Kind: "encryption"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := EncodeEvent(tt.event)
			if err != nil {
				t.Fatalf("EncodeEvent: %v", err)
			}
			got, err := DecodeEvent(data)
			if err != nil {
				t.Fatalf("DecodeEvent: %v", err)
			}
			if !got.Timestamp.Equal(tt.event.Timestamp) {
				t.Errorf("Timestamp: got %v, want %v", got.Timestamp, tt.event.Timestamp)
			}
			got.Timestamp = tt.event.Timestamp
			if diff := cmp.Diff(tt.event, got); diff != "" {
				t.Errorf("round trip mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestDecodeEventGarbage(t *testing.T) {
	if _, err := DecodeEvent([]byte{0xff, 0x00}); err == nil {
		t.Error("expected error for invalid CBOR")
	}
}
