package ippool

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"
)

// Assignment is a persisted commonName to ip address binding.
type Assignment struct {
	CommonName string
	IPAddress  string
}

// AssignmentLister reads the authoritative assignments, usually from the
// gateway store.
type AssignmentLister interface {
	ListAssignments(ctx context.Context) ([]Assignment, error)
}

// CCDSink receives a client config directive whenever a pair changes hands.
type CCDSink interface {
	Write(commonName string, pair Pair) error
	Remove(commonName string) error
}

// Status is a point-in-time view of the allocator.
type Status struct {
	Network   string `json:"network"`
	Reserved  string `json:"reserved"`
	First     string `json:"first,omitempty"`
	Last      string `json:"last,omitempty"`
	Size      int    `json:"size"`
	Allocated int    `json:"allocated"`
	Pending   int    `json:"pending"`
	Free      int    `json:"free"`
}

type Option func(*Allocator)

// WithCCDSink makes the allocator file backed.
func WithCCDSink(sink CCDSink) Option {
	return func(a *Allocator) {
		a.sink = sink
	}
}

// WithObserver registers a callback invoked with the new status after every
// change. It is called with the allocator lock held and must not call back.
func WithObserver(fn func(Status)) Option {
	return func(a *Allocator) {
		a.observer = fn
	}
}

// Allocator tracks which pairs of a Pool are in use.
type Allocator struct {
	pool     *Pool
	sink     CCDSink
	observer func(Status)

	mutex     sync.Mutex
	allocated map[Pair]string
	owners    map[string]Pair
	// pending holds common names assigned here but not yet seen in the store.
	pending map[string]struct{}

	reconcileGroup singleflight.Group
}

func NewAllocator(pool *Pool, opts ...Option) *Allocator {
	a := &Allocator{
		pool:      pool,
		allocated: make(map[Pair]string),
		owners:    make(map[string]Pair),
		pending:   make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Allocator) Pool() *Pool {
	return a.pool
}

// Assign hands commonName a pair. When requestedIP is empty the lowest free
// pair is chosen, otherwise requestedIP must be a free pair low address.
func (a *Allocator) Assign(ctx context.Context, commonName, requestedIP string) (Pair, error) {
	if err := ctx.Err(); err != nil {
		return Pair{}, err
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	if owned, ok := a.owners[commonName]; ok {
		return Pair{}, fmt.Errorf("%w: %s already holds %s", ErrIPAlreadyAssigned, commonName, owned)
	}

	var (
		pair Pair
		err  error
	)
	if strings.TrimSpace(requestedIP) != "" {
		pair, err = a.checkLocked(requestedIP)
	} else {
		pair, err = a.nextFreeLocked()
	}
	if err != nil {
		return Pair{}, err
	}

	if a.sink != nil {
		if err := a.sink.Write(commonName, pair); err != nil {
			return Pair{}, fmt.Errorf("ippool: write client config for %s: %w", commonName, err)
		}
	}

	a.markLocked(commonName, pair)
	a.pending[commonName] = struct{}{}
	a.notifyLocked()

	log.Debug("Assigned ip pair", "common_name", commonName, "pair", pair.PushDirective())
	return pair, nil
}

// Release frees the pair held by commonName.
func (a *Allocator) Release(ctx context.Context, commonName string) (Pair, error) {
	if err := ctx.Err(); err != nil {
		return Pair{}, err
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	pair, ok := a.owners[commonName]
	if !ok {
		return Pair{}, fmt.Errorf("%w for %s", ErrNotFound, commonName)
	}

	if a.sink != nil {
		if err := a.sink.Remove(commonName); err != nil {
			return Pair{}, fmt.Errorf("ippool: remove client config for %s: %w", commonName, err)
		}
	}

	a.unmarkLocked(commonName)
	a.notifyLocked()

	log.Debug("Released ip pair", "common_name", commonName, "pair", pair.PushDirective())
	return pair, nil
}

// Abandon drops the in-flight mark of commonName so the next Resync
// reclaims its pair unless the store has a record for it.
func (a *Allocator) Abandon(commonName string) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	if _, ok := a.pending[commonName]; !ok {
		return
	}
	delete(a.pending, commonName)
	a.notifyLocked()
}

// Check validates requestedIP without allocating it.
func (a *Allocator) Check(requestedIP string) (Pair, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.checkLocked(requestedIP)
}

// Lookup returns the pair currently held by commonName.
func (a *Allocator) Lookup(commonName string) (Pair, bool) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	pair, ok := a.owners[commonName]
	return pair, ok
}

// Reconcile unions persisted assignments into the allocated set and returns
// how many bindings changed. The store wins over in-memory owners.
func (a *Allocator) Reconcile(assignments []Assignment) int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	changed := 0
	for _, assignment := range assignments {
		if a.applyLocked(assignment) {
			changed++
		}
	}
	if changed > 0 {
		a.notifyLocked()
	}
	return changed
}

// Resync rebuilds the allocated set from assignments. Pairs assigned here
// and not yet persisted are kept; everything else missing from assignments
// is dropped.
func (a *Allocator) Resync(assignments []Assignment) int {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	seen := make(map[string]struct{}, len(assignments))
	changed := 0
	for _, assignment := range assignments {
		if a.applyLocked(assignment) {
			changed++
		}
		seen[assignment.CommonName] = struct{}{}
	}

	for commonName, pair := range a.owners {
		if _, ok := seen[commonName]; ok {
			continue
		}
		if _, ok := a.pending[commonName]; ok {
			continue
		}
		log.Info("Dropping stale ip pair", "common_name", commonName, "pair", pair.String())
		a.unmarkLocked(commonName)
		changed++
	}

	if changed > 0 {
		a.notifyLocked()
	}
	return changed
}

// ReconcileFrom lists the authoritative assignments and reconciles with them.
// Concurrent calls share a single listing.
func (a *Allocator) ReconcileFrom(ctx context.Context, lister AssignmentLister) error {
	return a.loadFrom(ctx, "reconcile", lister, a.Reconcile)
}

// ResyncFrom is ReconcileFrom with Resync semantics.
func (a *Allocator) ResyncFrom(ctx context.Context, lister AssignmentLister) error {
	return a.loadFrom(ctx, "resync", lister, a.Resync)
}

func (a *Allocator) loadFrom(ctx context.Context, key string, lister AssignmentLister, apply func([]Assignment) int) error {
	_, err, _ := a.reconcileGroup.Do(key, func() (any, error) {
		assignments, err := lister.ListAssignments(ctx)
		if err != nil {
			return nil, fmt.Errorf("ippool: list assignments: %w", err)
		}
		if changed := apply(assignments); changed > 0 {
			log.Info("Reconciled ip pool", "mode", key, "changed", changed, "assignments", len(assignments))
		}
		return nil, nil
	})
	return err
}

func (a *Allocator) Status() Status {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	return a.statusLocked()
}

// Allocations lists the current bindings ordered by pair.
func (a *Allocator) Allocations() []Assignment {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	pairs := make([]Pair, 0, len(a.allocated))
	for pair := range a.allocated {
		pairs = append(pairs, pair)
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Less(pairs[j]) })

	result := make([]Assignment, 0, len(pairs))
	for _, pair := range pairs {
		result = append(result, Assignment{CommonName: a.allocated[pair], IPAddress: pair.String()})
	}
	return result
}

func (a *Allocator) checkLocked(requestedIP string) (Pair, error) {
	pair, err := ParsePair(requestedIP)
	if err != nil {
		return Pair{}, err
	}
	if !a.pool.Contains(pair) {
		return Pair{}, fmt.Errorf("%w: %s is outside %s", ErrIPNotWithinPool, requestedIP, a.pool.describeRange())
	}
	if owner, taken := a.allocated[pair]; taken {
		return Pair{}, fmt.Errorf("%w: %s is held by %s", ErrIPAlreadyAssigned, requestedIP, owner)
	}
	return pair, nil
}

func (a *Allocator) nextFreeLocked() (Pair, error) {
	for i := 0; i < a.pool.Size(); i++ {
		pair := a.pool.At(i)
		if _, taken := a.allocated[pair]; !taken {
			return pair, nil
		}
	}
	return Pair{}, fmt.Errorf("%w: all %d pairs of %s are in use", ErrPoolExhausted, a.pool.Size(), a.pool.Network())
}

func (a *Allocator) applyLocked(assignment Assignment) bool {
	if strings.TrimSpace(assignment.IPAddress) == "" {
		return false
	}
	pair, err := pairFromString(assignment.IPAddress)
	if err != nil {
		log.Warn("Skipping unparsable gateway address", "common_name", assignment.CommonName, "ip_address", assignment.IPAddress, "error", err)
		return false
	}
	if !a.pool.Contains(pair) {
		log.Warn("Skipping gateway address outside the pool", "common_name", assignment.CommonName, "ip_address", assignment.IPAddress, "network", a.pool.Network())
		return false
	}

	delete(a.pending, assignment.CommonName)

	if current, ok := a.owners[assignment.CommonName]; ok && current == pair {
		return false
	}
	if owner, taken := a.allocated[pair]; taken && owner != assignment.CommonName {
		log.Warn("Store disagrees with in-memory owner", "pair", pair.String(), "memory", owner, "store", assignment.CommonName)
		a.unmarkLocked(owner)
	}
	if _, ok := a.owners[assignment.CommonName]; ok {
		a.unmarkLocked(assignment.CommonName)
	}
	a.markLocked(assignment.CommonName, pair)
	return true
}

func (a *Allocator) markLocked(commonName string, pair Pair) {
	a.allocated[pair] = commonName
	a.owners[commonName] = pair
}

func (a *Allocator) unmarkLocked(commonName string) {
	if pair, ok := a.owners[commonName]; ok {
		delete(a.allocated, pair)
	}
	delete(a.owners, commonName)
	delete(a.pending, commonName)
}

func (a *Allocator) statusLocked() Status {
	status := Status{
		Network:   a.pool.Network(),
		Reserved:  a.pool.Reserved().String(),
		Size:      a.pool.Size(),
		Allocated: len(a.allocated),
		Pending:   len(a.pending),
		Free:      a.pool.Size() - len(a.allocated),
	}
	if first, ok := a.pool.First(); ok {
		status.First = first.String()
	}
	if last, ok := a.pool.Last(); ok {
		status.Last = last.String()
	}
	return status
}

func (a *Allocator) notifyLocked() {
	if a.observer != nil {
		a.observer(a.statusLocked())
	}
}
