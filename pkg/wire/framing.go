package wire

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/tcpmsg/tcpmsg-go/pkg/log"
	"github.com/tcpmsg/tcpmsg-go/pkg/msgerr"
)

// MaxLogFrameDataSize caps payload bytes copied into log events.
const MaxLogFrameDataSize = 4096

// ErrFrameTruncated indicates the stream ended inside a frame.
var ErrFrameTruncated = errors.New("frame truncated")

// FrameWriter writes frames through a buffered writer and flushes after
// each one. Safe for concurrent use.
type FrameWriter struct {
	mu             sync.Mutex
	w              *bufio.Writer
	maxMessageSize uint32

	logger log.Logger
	connID string
}

// NewFrameWriter returns a writer with DefaultMaxMessageSize.
func NewFrameWriter(w io.Writer) *FrameWriter {
	return NewFrameWriterWithMaxSize(w, DefaultMaxMessageSize)
}

// NewFrameWriterWithMaxSize returns a writer that rejects payloads over maxSize.
func NewFrameWriterWithMaxSize(w io.Writer, maxSize uint32) *FrameWriter {
	if maxSize == 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &FrameWriter{w: bufio.NewWriter(w), maxMessageSize: maxSize}
}

// SetLogger enables frame capture. Pass nil to disable.
func (fw *FrameWriter) SetLogger(logger log.Logger, connID string) {
	fw.mu.Lock()
	fw.logger = logger
	fw.connID = connID
	fw.mu.Unlock()
}

// WriteFrame writes f atomically. Header.Length is set from the payload.
func (fw *FrameWriter) WriteFrame(f *Frame) error {
	if uint32(len(f.Payload)) > fw.maxMessageSize {
		return fmt.Errorf("payload %d > %d: %w", len(f.Payload), fw.maxMessageSize, msgerr.ErrMessageTooLarge)
	}
	f.Header.Length = uint32(len(f.Payload))
	hdr := f.Header.Encode()

	fw.mu.Lock()
	defer fw.mu.Unlock()

	if _, err := fw.w.Write(hdr[:]); err != nil {
		return msgerr.Network("write header", err)
	}
	if _, err := fw.w.Write(f.Payload); err != nil {
		return msgerr.Network("write payload", err)
	}
	if err := fw.w.Flush(); err != nil {
		return msgerr.Network("flush", err)
	}

	if fw.logger != nil {
		fw.logger.Log(frameEvent(fw.connID, log.DirectionOut, f))
	}
	return nil
}

// FrameReader reads frames using exact-length reads.
type FrameReader struct {
	r              io.Reader
	maxMessageSize uint32
	hdr            [HeaderSize]byte

	logger log.Logger
	connID string
}

// NewFrameReader returns a reader with DefaultMaxMessageSize.
func NewFrameReader(r io.Reader) *FrameReader {
	return NewFrameReaderWithMaxSize(r, DefaultMaxMessageSize)
}

// NewFrameReaderWithMaxSize returns a reader that rejects lengths over maxSize.
func NewFrameReaderWithMaxSize(r io.Reader, maxSize uint32) *FrameReader {
	if maxSize == 0 {
		maxSize = DefaultMaxMessageSize
	}
	return &FrameReader{r: r, maxMessageSize: maxSize}
}

// SetLogger enables frame capture. Pass nil to disable.
func (fr *FrameReader) SetLogger(logger log.Logger, connID string) {
	fr.logger = logger
	fr.connID = connID
}

// ReadFrame reads one frame. It returns io.EOF only when the stream ends
// cleanly between frames.
func (fr *FrameReader) ReadFrame() (*Frame, error) {
	if _, err := io.ReadFull(fr.r, fr.hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		if errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, msgerr.Network("read header", ErrFrameTruncated)
		}
		return nil, msgerr.Network("read header", err)
	}

	h, err := DecodeHeader(fr.hdr[:], fr.maxMessageSize)
	if err != nil {
		return nil, err
	}

	payload := make([]byte, h.Length)
	if _, err := io.ReadFull(fr.r, payload); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, msgerr.Network("read payload", ErrFrameTruncated)
		}
		return nil, msgerr.Network("read payload", err)
	}

	f := &Frame{Header: h, Payload: payload}
	if fr.logger != nil {
		fr.logger.Log(frameEvent(fr.connID, log.DirectionIn, f))
	}
	return f, nil
}

func frameEvent(connID string, dir log.Direction, f *Frame) log.Event {
	data := f.Payload
	truncated := false
	if len(data) > MaxLogFrameDataSize {
		data = data[:MaxLogFrameDataSize]
		truncated = true
	}
	return log.Event{
		Timestamp:    time.Now(),
		ConnectionID: connID,
		Direction:    dir,
		Layer:        log.LayerTransport,
		Category:     log.CategoryMessage,
		Frame: &log.FrameEvent{
			Size:      HeaderSize + len(f.Payload),
			Kind:      uint8(f.Header.Kind),
			Flags:     uint8(f.Header.Flags),
			Data:      data,
			Truncated: truncated,
		},
	}
}

// Framer pairs a FrameReader and FrameWriter on one stream.
type Framer struct {
	*FrameReader
	*FrameWriter
}

// NewFramer returns a Framer with the given payload limit.
func NewFramer(rw io.ReadWriter, maxSize uint32) *Framer {
	return &Framer{
		FrameReader: NewFrameReaderWithMaxSize(rw, maxSize),
		FrameWriter: NewFrameWriterWithMaxSize(rw, maxSize),
	}
}

// SetLogger enables capture on both directions.
func (f *Framer) SetLogger(logger log.Logger, connID string) {
	f.FrameReader.SetLogger(logger, connID)
	f.FrameWriter.SetLogger(logger, connID)
}
