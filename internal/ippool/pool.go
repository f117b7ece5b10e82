package ippool

import (
	"fmt"
	"net"
	"strings"

	"github.com/apparentlymart/go-cidr/cidr"
)

// Pool is the immutable, ascending set of pairs carved out of a network. The
// first pair is reserved for the server end of the tunnel and, for networks
// wider than /31, the last pair is dropped because it holds the broadcast
// address.
type Pool struct {
	network  *net.IPNet
	reserved Pair
	first    uint32
	size     int
}

// DerivePairs builds a pool from CIDR notation such as "10.8.0.0/24".
func DerivePairs(cidrNotation string) (*Pool, error) {
	_, network, err := net.ParseCIDR(strings.TrimSpace(cidrNotation))
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidNetworkSpec, cidrNotation, err)
	}
	return newPool(network)
}

// DerivePairsFromMask builds a pool from a dotted address and netmask pair.
func DerivePairsFromMask(address, mask string) (*Pool, error) {
	ip := net.ParseIP(strings.TrimSpace(address)).To4()
	if ip == nil {
		return nil, fmt.Errorf("%w: %q is not an IPv4 address", ErrInvalidNetworkSpec, address)
	}
	rawMask := net.ParseIP(strings.TrimSpace(mask)).To4()
	if rawMask == nil {
		return nil, fmt.Errorf("%w: %q is not an IPv4 netmask", ErrInvalidNetworkSpec, mask)
	}
	ipMask := net.IPMask(rawMask)
	if _, bits := ipMask.Size(); bits == 0 {
		return nil, fmt.Errorf("%w: %q is not a canonical netmask", ErrInvalidNetworkSpec, mask)
	}
	return newPool(&net.IPNet{IP: ip.Mask(ipMask), Mask: ipMask})
}

func newPool(network *net.IPNet) (*Pool, error) {
	if network == nil || network.IP.To4() == nil {
		return nil, fmt.Errorf("%w: only IPv4 networks are supported", ErrInvalidNetworkSpec)
	}
	ones, bits := network.Mask.Size()
	if bits != 32 {
		return nil, fmt.Errorf("%w: %s is not an IPv4 network", ErrInvalidNetworkSpec, network)
	}
	if ones > 31 {
		return nil, fmt.Errorf("%w: %s cannot hold a point-to-point pair", ErrInvalidNetworkSpec, network)
	}

	start, end := cidr.AddressRange(network)
	lo := int64(ipToUint32(start))
	hi := int64(ipToUint32(end))

	firstLow := lo + 2
	lastLow := hi - 1
	if ones < 31 {
		lastLow -= 2
	}

	size := 0
	if lastLow >= firstLow {
		size = int((lastLow-firstLow)/2 + 1)
	}

	return &Pool{
		network:  network,
		reserved: Pair{low: uint32(lo)},
		first:    uint32(firstLow),
		size:     size,
	}, nil
}

func (p *Pool) Network() string {
	return p.network.String()
}

// Reserved is the server side pair, never handed out.
func (p *Pool) Reserved() Pair {
	return p.reserved
}

func (p *Pool) Size() int {
	return p.size
}

func (p *Pool) Contains(pair Pair) bool {
	if p.size == 0 || pair.low < p.first {
		return false
	}
	return (pair.low-p.first)/2 < uint32(p.size)
}

// At returns the i-th pair in ascending order.
func (p *Pool) At(i int) Pair {
	return Pair{low: p.first + uint32(i)*2}
}

func (p *Pool) First() (Pair, bool) {
	if p.size == 0 {
		return Pair{}, false
	}
	return p.At(0), true
}

func (p *Pool) Last() (Pair, bool) {
	if p.size == 0 {
		return Pair{}, false
	}
	return p.At(p.size - 1), true
}

// Pairs materializes the whole pool. Intended for small networks and tests.
func (p *Pool) Pairs() []Pair {
	pairs := make([]Pair, p.size)
	for i := range pairs {
		pairs[i] = p.At(i)
	}
	return pairs
}

func (p *Pool) describeRange() string {
	first, ok := p.First()
	if !ok {
		return "(empty)"
	}
	last, _ := p.Last()
	return fmt.Sprintf("(%s ; %s)", first, last)
}
