package discovery

import (
	"net"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServerTXT(t *testing.T) {
	id := uuid.New()
	txt := EncodeServerTXT(ServerTXT{ID: id, Name: "office", Major: 1})

	strs := TXTRecordsToStrings(txt)
	assert.Equal(t, []string{"id=" + id.String(), "name=office", "ver=pv1"}, strs)

	got, err := DecodeServerTXT(StringsToTXTRecords(strs))
	require.NoError(t, err)
	assert.Equal(t, ServerTXT{ID: id, Name: "office", Major: 1}, got)

	got, err = DecodeServerTXT(TXTRecordMap{TXTKeyID: id.String()})
	require.NoError(t, err)
	assert.Zero(t, got.Major)

	_, err = DecodeServerTXT(TXTRecordMap{TXTKeyID: id.String(), TXTKeyVersion: "pv2"})
	assert.ErrorIs(t, err, ErrIncompatibleVersion)

	_, err = DecodeServerTXT(TXTRecordMap{TXTKeyID: id.String(), TXTKeyVersion: "1.0"})
	assert.ErrorIs(t, err, ErrInvalidTXTRecord)

	_, err = DecodeServerTXT(TXTRecordMap{TXTKeyName: "office"})
	assert.ErrorIs(t, err, ErrMissingRequired)

	_, err = DecodeServerTXT(TXTRecordMap{TXTKeyID: "nope"})
	assert.ErrorIs(t, err, ErrInvalidTXTRecord)

	_, err = DecodeServerTXT(TXTRecordMap{TXTKeyID: uuid.Nil.String()})
	assert.ErrorIs(t, err, ErrInvalidTXTRecord)
}

func TestStringsToTXTRecords(t *testing.T) {
	txt := StringsToTXTRecords([]string{"a=1", "flag", "b=x=y", ""})
	assert.Equal(t, TXTRecordMap{"a": "1", "flag": "", "b": "x=y"}, txt)
}

func TestInstanceName(t *testing.T) {
	id := uuid.MustParse("1b4e28ba-2fa1-11d2-883f-0016d3cca427")
	assert.Equal(t, "office", InstanceName("office", id))
	assert.Equal(t, "tcpmsg-1b4e28ba", InstanceName("", id))
	assert.Len(t, InstanceName(strings.Repeat("x", 100), id), MaxInstanceNameLen)
}

func TestServiceEntryServer(t *testing.T) {
	id := uuid.New()
	seen := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	txt := TXTRecordsToStrings(EncodeServerTXT(ServerTXT{ID: id, Name: "office"}))

	t.Run("PrefersIPv4", func(t *testing.T) {
		e := serviceEntry{
			Instance: "office",
			Port:     8000,
			Text:     txt,
			IPv4:     []net.IP{net.ParseIP("192.168.1.5")},
			IPv6:     []net.IP{net.ParseIP("fe80::1")},
		}
		srv, ok := e.server(seen)
		require.True(t, ok)
		assert.Equal(t, id, srv.ID)
		assert.Equal(t, "office", srv.Name)
		assert.Equal(t, "192.168.1.5", srv.Address)
		assert.Equal(t, uint16(8000), srv.Port)
		assert.Equal(t, seen, srv.FirstSeen)
		assert.Equal(t, seen, srv.LastSeen)
	})

	t.Run("FallsBackToInstanceName", func(t *testing.T) {
		e := serviceEntry{
			Instance: "lab",
			Port:     8001,
			Text:     []string{"id=" + id.String()},
			IPv6:     []net.IP{net.ParseIP("fe80::2")},
		}
		srv, ok := e.server(seen)
		require.True(t, ok)
		assert.Equal(t, "lab", srv.Name)
		assert.Equal(t, "fe80::2", srv.Address)
	})

	rejects := map[string]serviceEntry{
		"no txt":       {Port: 8000, IPv4: []net.IP{net.ParseIP("10.0.0.1")}},
		"no addresses": {Port: 8000, Text: txt},
		"zero port":    {Text: txt, IPv4: []net.IP{net.ParseIP("10.0.0.1")}},
		"huge port":    {Port: 70000, Text: txt, IPv4: []net.IP{net.ParseIP("10.0.0.1")}},
	}
	for name, e := range rejects {
		t.Run(name, func(t *testing.T) {
			_, ok := e.server(seen)
			assert.False(t, ok)
		})
	}
}

func TestAddressSets(t *testing.T) {
	addrs := mergeAddresses(nil, []string{"10.0.0.1", "fe80::1"})
	addrs = mergeAddresses(addrs, []string{"fe80::1", "10.0.0.2"})
	assert.Equal(t, []string{"10.0.0.1", "fe80::1", "10.0.0.2"}, addrs)

	addrs = removeAddresses(addrs, []string{"fe80::1", "10.9.9.9"})
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, addrs)
	assert.Empty(t, removeAddresses(addrs, addrs))
}

func TestMDNSConfig(t *testing.T) {
	cfg := DefaultMDNSConfig()
	assert.Equal(t, 120*time.Second, cfg.TTL)
	assert.Nil(t, cfg.interfaces())

	cfg.Interface = "does-not-exist0"
	assert.Nil(t, cfg.interfaces())

	b := NewMDNSBrowser(cfg)
	assert.Empty(t, b.Cached())
}
