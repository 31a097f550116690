// Package router implements the client-side multiplexer for the AMS/ADS
// protocol: it owns outbound TCP connections keyed by remote IP, routes
// logical AmsNetId addresses onto them, and dispatches device
// notifications to registered callbacks. It is the process-wide façade
// an application talks to; everything else in this module (the wire
// codec, the frame buffer) exists to serve this package.
package router

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/adscore/adsrouter/wire/ams"
)

// AmsNetId is the six-octet logical node address used throughout AMS.
// It has no relation to IP addressing; routing from AmsNetId to an
// actual IPv4 address is the Router's job (see Route, AddRoute).
type AmsNetId = ams.NetID

// AmsPort is the 16-bit logical service selector inside an AMS node
// (e.g. 851 for a PLC runtime, 10000 for the system service). It is not
// a TCP port.
type AmsPort = ams.Port

// ParseAmsNetId parses the dotted six-octet textual form, e.g.
// "5.24.37.144.1.1".
func ParseAmsNetId(s string) (AmsNetId, error) {
	var id AmsNetId
	parts := strings.Split(s, ".")
	if len(parts) != 6 {
		return id, fmt.Errorf("router: invalid AmsNetId %q: want 6 dot-separated octets", s)
	}
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 10, 8)
		if err != nil {
			return id, fmt.Errorf("router: invalid AmsNetId %q: octet %d: %w", s, i, err)
		}
		id[i] = byte(v)
	}
	return id, nil
}

// AmsAddr pairs an AmsNetId with the AMS port inside that node.
type AmsAddr struct {
	NetId AmsNetId
	Port  AmsPort
}

func (a AmsAddr) String() string {
	return fmt.Sprintf("%s:%d", a.NetId.String(), a.Port)
}

// IpV4 is a 4-byte IPv4 address with canonical byte-wise equality and
// ordering.
type IpV4 [4]byte

func (ip IpV4) String() string {
	return net.IP(ip[:]).String()
}

// Less implements the canonical byte-wise ordering, useful for stable
// iteration order in diagnostics (e.g. the admin surface's route list).
func (ip IpV4) Less(other IpV4) bool {
	for i := 0; i < 4; i++ {
		if ip[i] != other[i] {
			return ip[i] < other[i]
		}
	}
	return false
}

// ResolveIpV4 resolves a hostname or dotted-quad to an IpV4, preferring
// an exact IPv4 literal and otherwise doing a DNS A lookup.
func ResolveIpV4(ctx context.Context, host string) (IpV4, error) {
	var zero IpV4
	if parsed := net.ParseIP(host); parsed != nil {
		v4 := parsed.To4()
		if v4 == nil {
			return zero, fmt.Errorf("router: %q is not an IPv4 address", host)
		}
		var out IpV4
		copy(out[:], v4)
		return out, nil
	}

	resolver := &net.Resolver{}
	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return zero, fmt.Errorf("router: resolve %q: %w", host, err)
	}
	for _, addr := range addrs {
		if v4 := addr.IP.To4(); v4 != nil {
			var out IpV4
			copy(out[:], v4)
			return out, nil
		}
	}
	return zero, fmt.Errorf("router: %q has no IPv4 address", host)
}

// Well-known ADS constants (§3, §6 of the protocol).
const (
	// AdsPort is the TCP well-known port every Connection dials.
	AdsPort = 48898

	// PortBase is the first LocalPort value the free set allocates.
	PortBase = 30000

	// NumPortsMax bounds concurrently open local ports.
	NumPortsMax = 8
)

// LocalPort is the caller's identity on the local Router: an integer in
// [PortBase, PortBase+NumPortsMax), allocated from a fixed-size free
// set by OpenPort.
type LocalPort int

// index returns this port's offset into the fixed-size port table, or
// -1 if it is out of range.
func (p LocalPort) index() int {
	idx := int(p) - PortBase
	if idx < 0 || idx >= NumPortsMax {
		return -1
	}
	return idx
}

// Valid reports whether p falls within the allocatable range. It does
// not report whether p is currently open.
func (p LocalPort) Valid() bool {
	return p.index() >= 0
}
