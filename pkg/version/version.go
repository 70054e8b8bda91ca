// Package version provides protocol version parsing and the wire version byte.
package version

import (
	"fmt"
	"strconv"
	"strings"
)

// Current is the protocol version implemented by this library.
const Current = "1.0"

// Wire is the version byte carried in every frame header. It is the major
// component of Current; peers with a different major cannot interoperate.
const Wire uint8 = 1

// App is the application version reported by the CLI.
const App = "0.4.0"

// ProtocolVersion represents a parsed "major.minor" protocol version.
type ProtocolVersion struct {
	Major uint16
	Minor uint16
}

// Parse parses a "major.minor" version string.
func Parse(s string) (ProtocolVersion, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 2 {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: expected major.minor", s)
	}

	major, err := strconv.ParseUint(parts[0], 10, 16)
	if err != nil || parts[0] == "" {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: bad major component", s)
	}

	minor, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil || parts[1] == "" {
		return ProtocolVersion{}, fmt.Errorf("invalid version %q: bad minor component", s)
	}

	return ProtocolVersion{Major: uint16(major), Minor: uint16(minor)}, nil
}

// String returns the version as "major.minor".
func (v ProtocolVersion) String() string {
	return fmt.Sprintf("%d.%d", v.Major, v.Minor)
}

// Compatible returns true if the other version has the same major version.
func (v ProtocolVersion) Compatible(other ProtocolVersion) bool {
	return v.Major == other.Major
}

// Local returns Current parsed.
func Local() ProtocolVersion {
	v, err := Parse(Current)
	if err != nil {
		panic(err)
	}
	return v
}

// TXTValue returns the value advertised in discovery records: "pv<major>".
func TXTValue(major uint16) string {
	return fmt.Sprintf("pv%d", major)
}

// MajorFromTXT extracts the major version from a discovery record value.
func MajorFromTXT(s string) (uint16, error) {
	if !strings.HasPrefix(s, "pv") {
		return 0, fmt.Errorf("not a protocol version value: %q", s)
	}

	suffix := s[len("pv"):]
	if suffix == "" {
		return 0, fmt.Errorf("empty major version in %q", s)
	}

	major, err := strconv.ParseUint(suffix, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid major version in %q: %w", s, err)
	}

	return uint16(major), nil
}
