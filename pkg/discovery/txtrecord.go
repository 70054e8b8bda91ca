package discovery

import (
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/tcpmsg/tcpmsg-go/pkg/version"
)

// TXT record keys.
const (
	TXTKeyID      = "id"
	TXTKeyName    = "name"
	TXTKeyVersion = "ver"
)

// TXTRecordMap is a map of TXT record key-value pairs.
type TXTRecordMap map[string]string

// ServerTXT describes a server in TXT records.
type ServerTXT struct {
	ID   uuid.UUID
	Name string
	// Major is the protocol major version. Zero means not advertised.
	Major uint16
}

// EncodeServerTXT creates the TXT records of a server instance.
func EncodeServerTXT(info ServerTXT) TXTRecordMap {
	txt := TXTRecordMap{TXTKeyID: info.ID.String()}
	if info.Name != "" {
		txt[TXTKeyName] = info.Name
	}
	if info.Major != 0 {
		txt[TXTKeyVersion] = version.TXTValue(info.Major)
	}
	return txt
}

// DecodeServerTXT parses the TXT records of a server instance.
func DecodeServerTXT(txt TXTRecordMap) (ServerTXT, error) {
	raw, ok := txt[TXTKeyID]
	if !ok {
		return ServerTXT{}, fmt.Errorf("%w: %s", ErrMissingRequired, TXTKeyID)
	}
	id, err := uuid.Parse(raw)
	if err != nil || id == uuid.Nil {
		return ServerTXT{}, fmt.Errorf("%w: id %q", ErrInvalidTXTRecord, raw)
	}
	info := ServerTXT{ID: id, Name: txt[TXTKeyName]}
	if raw, ok := txt[TXTKeyVersion]; ok {
		major, err := version.MajorFromTXT(raw)
		if err != nil {
			return ServerTXT{}, fmt.Errorf("%w: %v", ErrInvalidTXTRecord, err)
		}
		if !version.Local().Compatible(version.ProtocolVersion{Major: major}) {
			return ServerTXT{}, fmt.Errorf("%w: %s", ErrIncompatibleVersion, raw)
		}
		info.Major = major
	}
	return info, nil
}

// TXTRecordsToStrings converts a TXTRecordMap to sorted "key=value" strings.
func TXTRecordsToStrings(txt TXTRecordMap) []string {
	result := make([]string, 0, len(txt))
	for k, v := range txt {
		result = append(result, k+"="+v)
	}
	sort.Strings(result)
	return result
}

// StringsToTXTRecords parses "key=value" strings into a TXTRecordMap.
func StringsToTXTRecords(strs []string) TXTRecordMap {
	txt := make(TXTRecordMap)
	for _, s := range strs {
		k, v, found := strings.Cut(s, "=")
		if found {
			txt[k] = v
		} else if k != "" {
			// Key without value (boolean flag)
			txt[k] = ""
		}
	}
	return txt
}

// InstanceName derives a DNS-SD instance label from a server name.
func InstanceName(name string, id uuid.UUID) string {
	if name == "" {
		name = "tcpmsg-" + id.String()[:8]
	}
	if len(name) > MaxInstanceNameLen {
		name = name[:MaxInstanceNameLen]
	}
	return name
}
