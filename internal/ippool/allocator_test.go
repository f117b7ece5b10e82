package ippool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func newTestAllocator(t *testing.T, network string, opts ...Option) *Allocator {
	t.Helper()
	pool, err := DerivePairs(network)
	if err != nil {
		t.Fatalf("DerivePairs(%s) returned error: %v", network, err)
	}
	return NewAllocator(pool, opts...)
}

type staticLister struct {
	assignments []Assignment
	err         error
	calls       int
}

func (l *staticLister) ListAssignments(context.Context) ([]Assignment, error) {
	l.calls++
	return l.assignments, l.err
}

type recordingSink struct {
	writes   map[string]Pair
	removed  []string
	writeErr error
}

func (s *recordingSink) Write(commonName string, pair Pair) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	if s.writes == nil {
		s.writes = make(map[string]Pair)
	}
	s.writes[commonName] = pair
	return nil
}

func (s *recordingSink) Remove(commonName string) error {
	s.removed = append(s.removed, commonName)
	delete(s.writes, commonName)
	return nil
}

func TestAssignNextFreeAndRelease(t *testing.T) {
	ctx := context.Background()
	allocator := newTestAllocator(t, "10.8.0.0/24")

	pair, err := allocator.Assign(ctx, "gw-1", "")
	if err != nil {
		t.Fatalf("Assign returned error: %v", err)
	}
	if pair.String() != "10.8.0.2" {
		t.Fatalf("first auto assign = %s, want 10.8.0.2", pair)
	}

	second, err := allocator.Assign(ctx, "gw-2", "")
	if err != nil {
		t.Fatalf("Assign returned error: %v", err)
	}
	if second.String() != "10.8.0.4" {
		t.Fatalf("second auto assign = %s, want 10.8.0.4", second)
	}

	released, err := allocator.Release(ctx, "gw-1")
	if err != nil {
		t.Fatalf("Release returned error: %v", err)
	}
	if released != pair {
		t.Fatalf("Release returned %s, want %s", released, pair)
	}

	again, err := allocator.Assign(ctx, "gw-3", "")
	if err != nil {
		t.Fatalf("Assign returned error: %v", err)
	}
	if again.String() != "10.8.0.2" {
		t.Fatalf("reassign after release = %s, want 10.8.0.2", again)
	}
}

func TestAssignRequestedIP(t *testing.T) {
	ctx := context.Background()
	allocator := newTestAllocator(t, "10.8.0.0/24")

	pair, err := allocator.Assign(ctx, "gw-1", "10.8.0.10")
	if err != nil {
		t.Fatalf("Assign returned error: %v", err)
	}
	if pair.PushDirective() != "10.8.0.10 10.8.0.11" {
		t.Fatalf("Assign = %s, want 10.8.0.10 10.8.0.11", pair.PushDirective())
	}

	cases := []struct {
		name string
		ip   string
		want error
	}{
		{name: "odd address", ip: "10.8.0.5", want: ErrIPNotWithinPool},
		{name: "reserved pair", ip: "10.8.0.0", want: ErrIPNotWithinPool},
		{name: "broadcast pair", ip: "10.8.0.254", want: ErrIPNotWithinPool},
		{name: "other network", ip: "10.9.0.2", want: ErrIPNotWithinPool},
		{name: "unparsable", ip: "ten.eight", want: ErrIPNotWithinPool},
		{name: "taken", ip: "10.8.0.10", want: ErrIPAlreadyAssigned},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := allocator.Assign(ctx, "gw-"+tc.name, tc.ip); !errors.Is(err, tc.want) {
				t.Fatalf("Assign(%s) error = %v, want %v", tc.ip, err, tc.want)
			}
		})
	}

	if status := allocator.Status(); status.Allocated != 1 {
		t.Fatalf("allocated = %d after failed assigns, want 1", status.Allocated)
	}
}

func TestAssignRejectsSecondPairForCommonName(t *testing.T) {
	ctx := context.Background()
	allocator := newTestAllocator(t, "10.8.0.0/24")

	if _, err := allocator.Assign(ctx, "gw-1", ""); err != nil {
		t.Fatalf("Assign returned error: %v", err)
	}
	if _, err := allocator.Assign(ctx, "gw-1", ""); !errors.Is(err, ErrIPAlreadyAssigned) {
		t.Fatalf("second Assign error = %v, want ErrIPAlreadyAssigned", err)
	}
}

func TestReleaseUnknownCommonName(t *testing.T) {
	allocator := newTestAllocator(t, "10.8.0.0/24")
	if _, err := allocator.Release(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Release error = %v, want ErrNotFound", err)
	}
}

func TestPoolExhaustion(t *testing.T) {
	ctx := context.Background()
	allocator := newTestAllocator(t, "10.8.0.0/28")
	size := allocator.Pool().Size()

	for i := 0; i < size; i++ {
		if _, err := allocator.Assign(ctx, fmt.Sprintf("gw-%d", i), ""); err != nil {
			t.Fatalf("Assign %d returned error: %v", i, err)
		}
	}
	if _, err := allocator.Assign(ctx, "one-too-many", ""); !errors.Is(err, ErrPoolExhausted) {
		t.Fatalf("Assign beyond capacity error = %v, want ErrPoolExhausted", err)
	}
}

func TestConcurrentAssignNeverDoubleAllocates(t *testing.T) {
	ctx := context.Background()
	allocator := newTestAllocator(t, "10.8.0.0/24")
	size := allocator.Pool().Size()

	const workers = 200
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		pairs   = make(map[Pair]string)
		success int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("gw-%d", i)
			pair, err := allocator.Assign(ctx, name, "")
			if err != nil {
				if !errors.Is(err, ErrPoolExhausted) {
					t.Errorf("Assign returned unexpected error: %v", err)
				}
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if owner, dup := pairs[pair]; dup {
				t.Errorf("pair %s handed to both %s and %s", pair, owner, name)
			}
			if pair == allocator.Pool().Reserved() {
				t.Errorf("reserved pair handed to %s", name)
			}
			pairs[pair] = name
			success++
		}(i)
	}
	wg.Wait()

	if success != size {
		t.Fatalf("successful assigns = %d, want %d", success, size)
	}
}

func TestReconcileUnionsAndSkipsInvalid(t *testing.T) {
	ctx := context.Background()
	allocator := newTestAllocator(t, "10.8.0.0/24")

	changed := allocator.Reconcile([]Assignment{
		{CommonName: "gw-a", IPAddress: "10.8.0.2"},
		{CommonName: "gw-b", IPAddress: "10.8.0.7"},
		{CommonName: "gw-c", IPAddress: "192.168.1.2"},
		{CommonName: "gw-d", IPAddress: "garbage"},
		{CommonName: "gw-e", IPAddress: ""},
	})
	if changed != 2 {
		t.Fatalf("Reconcile changed = %d, want 2", changed)
	}

	if pair, ok := allocator.Lookup("gw-b"); !ok || pair.String() != "10.8.0.6" {
		t.Fatalf("gw-b pair = %v %v, want 10.8.0.6", pair, ok)
	}

	next, err := allocator.Assign(ctx, "gw-new", "")
	if err != nil {
		t.Fatalf("Assign returned error: %v", err)
	}
	if next.String() != "10.8.0.4" {
		t.Fatalf("Assign after reconcile = %s, want 10.8.0.4", next)
	}

	if again := allocator.Reconcile([]Assignment{{CommonName: "gw-a", IPAddress: "10.8.0.2"}}); again != 0 {
		t.Fatalf("repeated Reconcile changed = %d, want 0", again)
	}
}

func TestReconcileStoreWinsConflicts(t *testing.T) {
	ctx := context.Background()
	allocator := newTestAllocator(t, "10.8.0.0/24")

	if _, err := allocator.Assign(ctx, "local", "10.8.0.2"); err != nil {
		t.Fatalf("Assign returned error: %v", err)
	}
	allocator.Reconcile([]Assignment{{CommonName: "remote", IPAddress: "10.8.0.2"}})

	if _, ok := allocator.Lookup("local"); ok {
		t.Fatal("in-memory owner kept a pair claimed by the store")
	}
	if pair, ok := allocator.Lookup("remote"); !ok || pair.String() != "10.8.0.2" {
		t.Fatalf("remote pair = %v %v, want 10.8.0.2", pair, ok)
	}
}

func TestResyncDropsStaleButKeepsPending(t *testing.T) {
	ctx := context.Background()
	allocator := newTestAllocator(t, "10.8.0.0/24")

	allocator.Reconcile([]Assignment{
		{CommonName: "persisted", IPAddress: "10.8.0.2"},
		{CommonName: "deleted-elsewhere", IPAddress: "10.8.0.4"},
	})
	if _, err := allocator.Assign(ctx, "in-flight", ""); err != nil {
		t.Fatalf("Assign returned error: %v", err)
	}

	lister := &staticLister{assignments: []Assignment{{CommonName: "persisted", IPAddress: "10.8.0.2"}}}
	if err := allocator.ResyncFrom(ctx, lister); err != nil {
		t.Fatalf("ResyncFrom returned error: %v", err)
	}

	if _, ok := allocator.Lookup("deleted-elsewhere"); ok {
		t.Fatal("stale allocation survived resync")
	}
	if _, ok := allocator.Lookup("in-flight"); !ok {
		t.Fatal("pending allocation was dropped by resync")
	}
	if _, ok := allocator.Lookup("persisted"); !ok {
		t.Fatal("persisted allocation was dropped by resync")
	}
}

func TestResyncReclaimsAbandonedPair(t *testing.T) {
	ctx := context.Background()
	allocator := newTestAllocator(t, "10.8.0.0/24")

	if _, err := allocator.Assign(ctx, "unrecorded", ""); err != nil {
		t.Fatalf("Assign returned error: %v", err)
	}
	allocator.Abandon("unrecorded")
	if status := allocator.Status(); status.Pending != 0 || status.Allocated != 1 {
		t.Fatalf("status after Abandon = %+v, want one allocated and none pending", status)
	}

	if err := allocator.ResyncFrom(ctx, &staticLister{}); err != nil {
		t.Fatalf("ResyncFrom returned error: %v", err)
	}
	if _, ok := allocator.Lookup("unrecorded"); ok {
		t.Fatal("abandoned allocation survived resync")
	}
}

func TestReconcileFromPropagatesListError(t *testing.T) {
	allocator := newTestAllocator(t, "10.8.0.0/24")
	lister := &staticLister{err: errors.New("db down")}

	if err := allocator.ReconcileFrom(context.Background(), lister); err == nil {
		t.Fatal("ReconcileFrom returned nil error on list failure")
	}
}

func TestFileBackedAllocatorWritesBeforeMarking(t *testing.T) {
	ctx := context.Background()
	sink := &recordingSink{writeErr: errors.New("disk full")}
	allocator := newTestAllocator(t, "10.8.0.0/24", WithCCDSink(sink))

	if _, err := allocator.Assign(ctx, "gw-1", ""); err == nil {
		t.Fatal("Assign succeeded despite sink failure")
	}
	if status := allocator.Status(); status.Allocated != 0 {
		t.Fatalf("allocated = %d after sink failure, want 0", status.Allocated)
	}

	sink.writeErr = nil
	pair, err := allocator.Assign(ctx, "gw-1", "")
	if err != nil {
		t.Fatalf("Assign returned error: %v", err)
	}
	if sink.writes["gw-1"] != pair {
		t.Fatalf("sink recorded %v, want %s", sink.writes["gw-1"], pair)
	}

	if _, err := allocator.Release(ctx, "gw-1"); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}
	if len(sink.removed) != 1 || sink.removed[0] != "gw-1" {
		t.Fatalf("sink removals = %v, want [gw-1]", sink.removed)
	}
}

func TestObserverSeesStatusChanges(t *testing.T) {
	var seen []Status
	allocator := newTestAllocator(t, "10.8.0.0/28", WithObserver(func(s Status) {
		seen = append(seen, s)
	}))

	if _, err := allocator.Assign(context.Background(), "gw-1", ""); err != nil {
		t.Fatalf("Assign returned error: %v", err)
	}
	if len(seen) != 1 || seen[0].Allocated != 1 || seen[0].Free != 5 {
		t.Fatalf("observer saw %+v, want one status with 1 allocated and 5 free", seen)
	}
}
