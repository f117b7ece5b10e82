package ippool

import (
	"fmt"
	"net"
	"strings"
)

// Pair is a point-to-point link made of two adjacent IPv4 addresses. The low
// address is always even; the high address is low+1.
type Pair struct {
	low uint32
}

// PairOf returns the pair that owns ip, rounding odd addresses down.
func PairOf(ip net.IP) (Pair, error) {
	v4 := ip.To4()
	if v4 == nil {
		return Pair{}, fmt.Errorf("ippool: %q is not an IPv4 address", ip)
	}
	return Pair{low: ipToUint32(v4) &^ 1}, nil
}

// ParsePair parses the low address of a pair. Odd addresses are rejected.
func ParsePair(raw string) (Pair, error) {
	ip := net.ParseIP(strings.TrimSpace(raw)).To4()
	if ip == nil {
		return Pair{}, fmt.Errorf("%w: %q is not a valid IPv4 address", ErrIPNotWithinPool, raw)
	}
	u := ipToUint32(ip)
	if u&1 != 0 {
		return Pair{}, fmt.Errorf("%w: %q is not the low address of a pair", ErrIPNotWithinPool, raw)
	}
	return Pair{low: u}, nil
}

func pairFromString(raw string) (Pair, error) {
	ip := net.ParseIP(strings.TrimSpace(raw))
	if ip == nil {
		return Pair{}, fmt.Errorf("ippool: %q is not a valid IP address", raw)
	}
	return PairOf(ip)
}

func (p Pair) Low() net.IP {
	return uint32ToIP(p.low)
}

func (p Pair) High() net.IP {
	return uint32ToIP(p.low + 1)
}

// String renders the low address, which is the value stored for a gateway.
func (p Pair) String() string {
	return p.Low().String()
}

// PushDirective renders "<low> <high>" as used by ifconfig-push.
func (p Pair) PushDirective() string {
	return p.Low().String() + " " + p.High().String()
}

func (p Pair) Less(other Pair) bool {
	return p.low < other.low
}

func ipToUint32(ip net.IP) uint32 {
	ip = ip.To4()
	if ip == nil {
		return 0
	}
	return uint32(ip[0])<<24 | uint32(ip[1])<<16 | uint32(ip[2])<<8 | uint32(ip[3])
}

func uint32ToIP(u uint32) net.IP {
	return net.IPv4(byte(u>>24), byte(u>>16), byte(u>>8), byte(u)).To4()
}
