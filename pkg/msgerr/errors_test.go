package msgerr

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestKindOf(t *testing.T) {
	base := errors.New("boom")
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindUnknown},
		{"plain", base, KindUnknown},
		{"network", Network("read", io.ErrUnexpectedEOF), KindNetwork},
		{"protocol", Protocol("decode", base), KindProtocol},
		{"encryption", Encryption("open", base), KindEncryption},
		{"serialization", Serialization("encode", base), KindSerialization},
		{"storage", Storage("put", base), KindStorage},
		{"config", Config("load", base), KindConfig},
		{"state sentinel", ErrNotConnected, KindState},
		{"wrapped sentinel", fmt.Errorf("send: %w", ErrNotConnected), KindState},
		{"timeout", Network("dial", timeoutErr{}), KindState},
		{"deadline", Network("read", os.ErrDeadlineExceeded), KindState},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestNetworkTimeoutIsConnectionTimeout(t *testing.T) {
	err := Network("dial", timeoutErr{})
	assert.ErrorIs(t, err, ErrConnectionTimeout)
	assert.NotErrorIs(t, err, ErrNotConnected)
}

func TestSentinelsDistinct(t *testing.T) {
	all := []error{ErrAlreadyConnected, ErrNotConnected, ErrConnectionTimeout, ErrMessageTooLarge}
	for i, a := range all {
		for j, b := range all {
			assert.Equal(t, i == j, errors.Is(a, b), "%v vs %v", a, b)
		}
	}
}

func TestNilPassthrough(t *testing.T) {
	assert.NoError(t, New(KindProtocol, "x", nil))
	assert.NoError(t, Network("x", nil))
}

func TestErrorString(t *testing.T) {
	err := Protocol("decode header", errors.New("bad version"))
	assert.Equal(t, "PROTOCOL decode header: bad version", err.Error())
	assert.Equal(t, "STORAGE: disk full", (&Error{Kind: KindStorage, Err: errors.New("disk full")}).Error())
}

func TestUnwrap(t *testing.T) {
	base := errors.New("root cause")
	err := Encryption("open", base)
	assert.ErrorIs(t, err, base)
}
