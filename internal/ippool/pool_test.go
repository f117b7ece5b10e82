package ippool

import (
	"errors"
	"net"
	"testing"
)

func TestDerivePairsSlash24(t *testing.T) {
	pool, err := DerivePairs("10.8.0.0/24")
	if err != nil {
		t.Fatalf("DerivePairs returned error: %v", err)
	}

	if pool.Size() != 126 {
		t.Fatalf("pool size = %d, want 126", pool.Size())
	}
	if got := pool.Reserved().String(); got != "10.8.0.0" {
		t.Fatalf("reserved pair = %s, want 10.8.0.0", got)
	}

	first, _ := pool.First()
	last, _ := pool.Last()
	if first.String() != "10.8.0.2" {
		t.Fatalf("first pair = %s, want 10.8.0.2", first)
	}
	if last.PushDirective() != "10.8.0.252 10.8.0.253" {
		t.Fatalf("last pair = %s, want 10.8.0.252 10.8.0.253", last.PushDirective())
	}
}

func TestDerivePairsFromMaskMatchesCIDR(t *testing.T) {
	fromCIDR, err := DerivePairs("192.168.10.0/28")
	if err != nil {
		t.Fatalf("DerivePairs returned error: %v", err)
	}
	fromMask, err := DerivePairsFromMask("192.168.10.7", "255.255.255.240")
	if err != nil {
		t.Fatalf("DerivePairsFromMask returned error: %v", err)
	}

	if fromCIDR.Network() != fromMask.Network() {
		t.Fatalf("networks differ: %s vs %s", fromCIDR.Network(), fromMask.Network())
	}
	a, b := fromCIDR.Pairs(), fromMask.Pairs()
	if len(a) != len(b) || len(a) != 6 {
		t.Fatalf("pair counts = %d and %d, want 6", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("pair %d differs: %s vs %s", i, a[i], b[i])
		}
	}
}

func TestDerivePairsRoundTrip(t *testing.T) {
	pool, err := DerivePairs("172.16.4.0/23")
	if err != nil {
		t.Fatalf("DerivePairs returned error: %v", err)
	}

	previous := pool.Reserved()
	for _, pair := range pool.Pairs() {
		parsed, err := ParsePair(pair.String())
		if err != nil {
			t.Fatalf("ParsePair(%s) returned error: %v", pair, err)
		}
		if parsed != pair {
			t.Fatalf("ParsePair(%s) = %s", pair, parsed)
		}
		if !previous.Less(pair) {
			t.Fatalf("pairs not strictly ascending at %s", pair)
		}
		if pair == pool.Reserved() {
			t.Fatalf("reserved pair %s is part of the pool", pair)
		}
		previous = pair
	}
}

func TestDerivePairsSmallNetworks(t *testing.T) {
	cases := map[string]int{
		"10.0.0.0/31": 0,
		"10.0.0.0/30": 0,
		"10.0.0.0/29": 2,
		"10.0.0.0/16": 32766,
	}
	for network, want := range cases {
		pool, err := DerivePairs(network)
		if err != nil {
			t.Fatalf("DerivePairs(%s) returned error: %v", network, err)
		}
		if pool.Size() != want {
			t.Fatalf("DerivePairs(%s) size = %d, want %d", network, pool.Size(), want)
		}
	}
}

func TestDerivePairsRejectsInvalidInput(t *testing.T) {
	inputs := []string{"", "not-a-network", "10.8.0.0/33", "fd00::/64", "10.0.0.1/32"}
	for _, input := range inputs {
		if _, err := DerivePairs(input); !errors.Is(err, ErrInvalidNetworkSpec) {
			t.Fatalf("DerivePairs(%q) error = %v, want ErrInvalidNetworkSpec", input, err)
		}
	}

	if _, err := DerivePairsFromMask("10.8.0.0", "255.0.255.0"); !errors.Is(err, ErrInvalidNetworkSpec) {
		t.Fatalf("non-canonical mask error = %v, want ErrInvalidNetworkSpec", err)
	}
	if _, err := DerivePairsFromMask("bogus", "255.255.255.0"); !errors.Is(err, ErrInvalidNetworkSpec) {
		t.Fatalf("bogus address error = %v, want ErrInvalidNetworkSpec", err)
	}
}

func TestParsePairRejectsOddAddress(t *testing.T) {
	if _, err := ParsePair("10.8.0.5"); !errors.Is(err, ErrIPNotWithinPool) {
		t.Fatalf("ParsePair odd address error = %v, want ErrIPNotWithinPool", err)
	}
	if _, err := ParsePair("garbage"); !errors.Is(err, ErrIPNotWithinPool) {
		t.Fatalf("ParsePair garbage error = %v, want ErrIPNotWithinPool", err)
	}
}

func TestPairOfRoundsDown(t *testing.T) {
	pair, err := PairOf(net.ParseIP("10.8.0.5"))
	if err != nil {
		t.Fatalf("PairOf returned error: %v", err)
	}
	if pair.String() != "10.8.0.4" || pair.High().String() != "10.8.0.5" {
		t.Fatalf("PairOf(10.8.0.5) = %s, want 10.8.0.4 10.8.0.5", pair.PushDirective())
	}

	if _, err := PairOf(net.ParseIP("fd00::1")); err == nil {
		t.Fatal("PairOf accepted an IPv6 address")
	}
}
