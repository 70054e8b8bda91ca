package wire

import (
	"bytes"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/tcpmsg/tcpmsg-go/pkg/log"
	"github.com/tcpmsg/tcpmsg-go/pkg/message"
	"github.com/tcpmsg/tcpmsg-go/pkg/msgerr"
)

func TestFrameWriterReader(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{"empty", nil},
		{"small", []byte("hello")},
		{"medium", bytes.Repeat([]byte("x"), 1000)},
		{"max size", bytes.Repeat([]byte("y"), DefaultMaxMessageSize)},
		{"binary", []byte{0x00, 0xff, 0x7f, 0x80}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buf := new(bytes.Buffer)
			w := NewFrameWriter(buf)
			in := &Frame{Header: NewHeader(message.KindText, FlagNotSystem, 0), Payload: tt.payload}
			if err := w.WriteFrame(in); err != nil {
				t.Fatalf("WriteFrame: %v", err)
			}
			if buf.Len() != HeaderSize+len(tt.payload) {
				t.Errorf("frame size = %d, want %d", buf.Len(), HeaderSize+len(tt.payload))
			}

			got, err := NewFrameReader(buf).ReadFrame()
			if err != nil {
				t.Fatalf("ReadFrame: %v", err)
			}
			if !bytes.Equal(got.Payload, tt.payload) {
				t.Errorf("payload mismatch: got %d bytes, want %d", len(got.Payload), len(tt.payload))
			}
			if got.Header != in.Header {
				t.Errorf("header: got %+v, want %+v", got.Header, in.Header)
			}
		})
	}
}

func TestFrameWriterTooLarge(t *testing.T) {
	w := NewFrameWriterWithMaxSize(new(bytes.Buffer), 16)
	err := w.WriteFrame(&Frame{Header: NewHeader(message.KindText, 0, 0), Payload: make([]byte, 17)})
	if !errors.Is(err, msgerr.ErrMessageTooLarge) {
		t.Errorf("expected ErrMessageTooLarge, got %v", err)
	}
}

func TestFrameReaderErrors(t *testing.T) {
	tests := []struct {
		name     string
		data     []byte
		wantErr  error
		wantKind msgerr.Kind
	}{
		{"truncated header", []byte{1, 1, 4}, ErrFrameTruncated, msgerr.KindNetwork},
		{"truncated payload", []byte{1, 1, 4, 0, 0, 0, 0, 10, 'a', 'b'}, ErrFrameTruncated, msgerr.KindNetwork},
		{"bad version", []byte{9, 1, 4, 0, 0, 0, 0, 1, 'a'}, ErrUnsupportedVersion, msgerr.KindProtocol},
		{"oversize", []byte{1, 1, 4, 0, 0xff, 0xff, 0xff, 0xff}, msgerr.ErrMessageTooLarge, msgerr.KindState},
		// Rejected from the header alone; the declared payload is never read.
		{"unknown kind", []byte{1, 8, 4, 0, 0, 0, 0, 10}, ErrUnknownKind, msgerr.KindProtocol},
		{"reserved set", []byte{1, 1, 4, 1, 0, 0, 0, 10}, ErrReservedByte, msgerr.KindProtocol},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewFrameReader(bytes.NewReader(tt.data)).ReadFrame()
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if k := msgerr.KindOf(err); k != tt.wantKind {
				t.Errorf("kind = %s, want %s", k, tt.wantKind)
			}
		})
	}
}

func TestFrameReaderCleanEOF(t *testing.T) {
	_, err := NewFrameReader(bytes.NewReader(nil)).ReadFrame()
	if err != io.EOF {
		t.Errorf("expected io.EOF, got %v", err)
	}
}

func TestFrameReaderSequence(t *testing.T) {
	buf := new(bytes.Buffer)
	w := NewFrameWriter(buf)
	sender := uuid.New()
	for _, s := range []string{"one", "two", "three"} {
		f, err := NewFrame(message.NewText(s, sender))
		if err != nil {
			t.Fatal(err)
		}
		if err := w.WriteFrame(f); err != nil {
			t.Fatal(err)
		}
	}

	r := NewFrameReader(buf)
	for _, want := range []string{"one", "two", "three"} {
		f, err := r.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame: %v", err)
		}
		m, err := DecodeFrameMessage(f)
		if err != nil {
			t.Fatalf("DecodeFrameMessage: %v", err)
		}
		if m.Text.Content != want {
			t.Errorf("got %q, want %q", m.Text.Content, want)
		}
	}
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func TestFrameWriterConcurrent(t *testing.T) {
	sb := &syncBuffer{}
	w := NewFrameWriter(sb)

	const writers, each = 10, 20
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			payload := bytes.Repeat([]byte{byte(i)}, 100+i)
			for j := 0; j < each; j++ {
				if err := w.WriteFrame(&Frame{Header: NewHeader(message.KindText, 0, 0), Payload: payload}); err != nil {
					t.Errorf("WriteFrame: %v", err)
				}
			}
		}(i)
	}
	wg.Wait()

	r := NewFrameReader(&sb.buf)
	for n := 0; n < writers*each; n++ {
		f, err := r.ReadFrame()
		if err != nil {
			t.Fatalf("frame %d: %v", n, err)
		}
		// Interleaved writes would corrupt a frame's contents.
		for _, b := range f.Payload {
			if b != f.Payload[0] {
				t.Fatalf("frame %d corrupted", n)
			}
		}
	}
}

type captureLogger struct {
	mu     sync.Mutex
	events []log.Event
}

func (c *captureLogger) Log(e log.Event) {
	c.mu.Lock()
	c.events = append(c.events, e)
	c.mu.Unlock()
}

func TestFramerLogging(t *testing.T) {
	var buf bytes.Buffer
	fr := NewFramer(&buf, 0)
	cl := &captureLogger{}
	fr.SetLogger(cl, "conn-7")

	big := bytes.Repeat([]byte("z"), MaxLogFrameDataSize+10)
	if err := fr.WriteFrame(&Frame{Header: NewHeader(message.KindFile, FlagNotSystem, 0), Payload: big}); err != nil {
		t.Fatal(err)
	}
	if _, err := fr.ReadFrame(); err != nil {
		t.Fatal(err)
	}

	if len(cl.events) != 2 {
		t.Fatalf("got %d events, want 2", len(cl.events))
	}
	out, in := cl.events[0], cl.events[1]
	if out.Direction != log.DirectionOut || in.Direction != log.DirectionIn {
		t.Errorf("directions: %s, %s", out.Direction, in.Direction)
	}
	if out.ConnectionID != "conn-7" {
		t.Errorf("conn id = %q", out.ConnectionID)
	}
	if !out.Frame.Truncated || len(out.Frame.Data) != MaxLogFrameDataSize {
		t.Errorf("expected truncated frame data, got %d bytes", len(out.Frame.Data))
	}
	if out.Frame.Size != HeaderSize+len(big) {
		t.Errorf("size = %d", out.Frame.Size)
	}
	if out.Frame.Kind != uint8(message.KindFile) {
		t.Errorf("kind = %d", out.Frame.Kind)
	}
}
