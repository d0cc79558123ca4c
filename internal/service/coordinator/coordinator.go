package coordinator

import (
	"container/list"
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/http-ytproxy/internal/domain"
	"github.com/vertextoedge/http-ytproxy/internal/domain/vo"
)

// Options configures a Coordinator
type Options struct {
	// MaxConcurrent is the global ceiling on fetches holding a slot
	MaxConcurrent int
	// ChunkSize closes open-ended ranges before they are used as keys
	ChunkSize vo.ByteSize
	// RequestTimeout bounds every lease context; zero means no deadline
	RequestTimeout time.Duration
}

// Stats is a snapshot of coordinator state and lifetime counters
type Stats struct {
	InFlight      int `json:"in_flight"`
	Waiting       int `json:"waiting"`
	PrimarySlots  int `json:"primary_slots"`
	PrefetchSlots int `json:"prefetch_slots"`
	MaxSlots      int `json:"max_slots"`

	Registered   uint64 `json:"registered"`
	Deduplicated uint64 `json:"deduplicated"`
	Released     uint64 `json:"released"`
	Failed       uint64 `json:"failed"`
	Preempted    uint64 `json:"preempted"`
	TimedOut     uint64 `json:"timed_out"`
}

// entry is one registry slot for a DownloadKey. lease is nil while the
// registration waits for a concurrency slot.
type entry struct {
	key    domain.DownloadKey
	kind   domain.FetchKind
	lease  *Lease
	waiter *waiter
	done   chan struct{}
}

type waiter struct {
	ctx   context.Context
	entry *entry
	elem  *list.Element
	queue *list.List
	ready chan struct{}
	lease *Lease
	err   error
}

// Coordinator owns the in-flight registry and the concurrency slots.
// All state is guarded by mu and every critical section is O(1) apart from
// NextPrefetchRanges, which is bounded by the stride count.
type Coordinator struct {
	mu       sync.Mutex
	maxSlots int
	chunk    uint64
	timeout  time.Duration

	entries        map[domain.DownloadKey]*entry
	prefetchLeases *list.List // prefetch leases holding a slot, oldest first
	primarySlots   int
	prefetchSlots  int

	waitPrimary  *list.List
	waitPrefetch *list.List

	closed   bool
	closedCh chan struct{}

	stats  Stats
	logger *zap.Logger
}

// New creates a Coordinator
func New(opts Options, logger *zap.Logger) *Coordinator {
	maxSlots := opts.MaxConcurrent
	if maxSlots < 1 {
		maxSlots = 1
	}
	return &Coordinator{
		maxSlots:       maxSlots,
		chunk:          opts.ChunkSize.Bytes(),
		timeout:        opts.RequestTimeout,
		entries:        make(map[domain.DownloadKey]*entry),
		prefetchLeases: list.New(),
		waitPrimary:    list.New(),
		waitPrefetch:   list.New(),
		closedCh:       make(chan struct{}),
		logger:         logger,
	}
}

// Key returns the registry key for spec, closing open-ended ranges to one chunk
func (c *Coordinator) Key(resource string, spec vo.RangeSpec) domain.DownloadKey {
	if !spec.HasEnd {
		end := uint64(math.MaxUint64)
		if c.chunk > 0 {
			end = vo.ChunkEnd(spec.Start, c.chunk)
		}
		spec = vo.ClosedRange(spec.Start, end)
	}
	return spec.Key(resource)
}

// TryRegister atomically reserves the key for resource and spec.
//
// A duplicate key returns AlreadyInFlight and a nil lease. Otherwise the
// caller gets a Registered lease once a concurrency slot is available and
// must Release it. Prefetch registrations wait behind the ceiling; primary
// registrations take a slot from a running prefetch if there is one, and
// otherwise wait ahead of every queued prefetch. A primary never deduplicates
// against a prefetch of the same key: it takes the key over. Waiting ends early with
// ctx.Err(), domain.ErrPreempted or domain.ErrCoordinatorClosed.
func (c *Coordinator) TryRegister(ctx context.Context, kind domain.FetchKind, resource string, spec vo.RangeSpec) (*Lease, domain.RegistrationOutcome, error) {
	key := c.Key(resource, spec)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, domain.Registered, domain.ErrCoordinatorClosed
	}

	// taken is a running prefetch of the same key; it is cancelled once the
	// primary holds its entry
	var taken *Lease
	if existing, ok := c.entries[key]; ok {
		switch {
		case kind == domain.KindPrimary && existing.kind == domain.KindPrefetch && existing.waiter != nil:
			c.abortWaiterLocked(existing.waiter, domain.ErrPreempted)
			c.stats.Preempted++
		case kind == domain.KindPrimary && existing.kind == domain.KindPrefetch && existing.lease != nil:
			taken = existing.lease
			c.takeSlotLocked(taken)
			delete(c.entries, key)
		default:
			c.stats.Deduplicated++
			c.mu.Unlock()
			return nil, domain.AlreadyInFlight, nil
		}
	}

	e := &entry{key: key, kind: kind, done: make(chan struct{})}
	c.entries[key] = e
	c.stats.Registered++

	if c.slotsInUseLocked() < c.maxSlots {
		lease := c.grantLocked(ctx, e)
		c.mu.Unlock()
		if taken != nil {
			taken.cancel()
			c.logger.Debug("running prefetch taken over by primary fetch", zap.String("key", key.String()))
		}
		return lease, domain.Registered, nil
	}

	if kind == domain.KindPrimary {
		if victim := c.preemptLocked(); victim != nil {
			lease := c.grantLocked(ctx, e)
			c.mu.Unlock()
			victim.cancel()
			c.logger.Debug("prefetch preempted by primary fetch",
				zap.String("victim", victim.key.String()),
				zap.String("key", key.String()))
			return lease, domain.Registered, nil
		}
	}

	w := &waiter{ctx: ctx, entry: e, ready: make(chan struct{})}
	w.queue = c.waitPrefetch
	if kind == domain.KindPrimary {
		w.queue = c.waitPrimary
	}
	w.elem = w.queue.PushBack(w)
	e.waiter = w
	c.mu.Unlock()
	if taken != nil {
		taken.cancel()
	}

	select {
	case <-w.ready:
		if w.err != nil {
			return nil, domain.Registered, w.err
		}
		return w.lease, domain.Registered, nil
	case <-ctx.Done():
		c.mu.Lock()
		if w.lease != nil {
			// granted concurrently with cancellation
			lease := w.lease
			c.mu.Unlock()
			lease.Release(ctx.Err())
			return nil, domain.Registered, ctx.Err()
		}
		if w.err != nil {
			c.mu.Unlock()
			return nil, domain.Registered, w.err
		}
		c.abortWaiterLocked(w, ctx.Err())
		c.mu.Unlock()
		return nil, domain.Registered, ctx.Err()
	}
}

// WaitInFlight blocks until the fetch registered for resource and spec is
// released. It returns nil at once if nothing is registered. Afterwards
// the caller may register the key itself.
func (c *Coordinator) WaitInFlight(ctx context.Context, resource string, spec vo.RangeSpec) error {
	key := c.Key(resource, spec)

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return domain.ErrCoordinatorClosed
	}
	e, ok := c.entries[key]
	c.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case <-e.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.closedCh:
		return domain.ErrCoordinatorClosed
	}
}

// Release releases the running fetch registered for resource and spec.
// It returns false if no running fetch holds that key.
func (c *Coordinator) Release(resource string, spec vo.RangeSpec) bool {
	return c.Complete(resource, spec, nil) != nil
}

// Complete releases the running fetch registered for resource and spec with
// outcome err and returns its lease, or nil if no running fetch holds the key.
func (c *Coordinator) Complete(resource string, spec vo.RangeSpec, err error) *Lease {
	key := c.Key(resource, spec)

	c.mu.Lock()
	e, ok := c.entries[key]
	var lease *Lease
	if ok {
		lease = e.lease
	}
	c.mu.Unlock()

	if lease == nil {
		return nil
	}
	lease.Release(err)
	return lease
}

// IsRegistered reports whether the key for resource and spec is in flight
func (c *Coordinator) IsRegistered(resource string, spec vo.RangeSpec) bool {
	key := c.Key(resource, spec)
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.entries[key]
	return ok
}

// NextPrefetchRanges returns the chunk-sized ranges following current that
// fit within prefetchAhead, skipping keys already in flight. The stride count
// is floor(prefetchAhead/chunk), capped at one less than the concurrency
// ceiling so a slot stays free for playback.
func (c *Coordinator) NextPrefetchRanges(resource string, current vo.RangeSpec, prefetchAhead, chunk vo.ByteSize) []vo.RangeSpec {
	size := chunk.Bytes()
	if size == 0 {
		return nil
	}

	strides := prefetchAhead.Bytes() / size
	if limit := uint64(c.maxSlots - 1); strides > limit {
		strides = limit
	}
	if strides == 0 {
		return nil
	}

	end := current.End
	if !current.HasEnd {
		end = vo.ChunkEnd(current.Start, size)
	}
	if end == math.MaxUint64 {
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var ranges []vo.RangeSpec
	start := end + 1
	for i := uint64(0); i < strides; i++ {
		next := vo.ClosedRange(start, vo.ChunkEnd(start, size))
		if _, inFlight := c.entries[next.Key(resource)]; !inFlight {
			ranges = append(ranges, next)
		}
		if next.End == math.MaxUint64 {
			break
		}
		start = next.End + 1
	}
	return ranges
}

// Stats returns a snapshot of the coordinator
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	s.InFlight = len(c.entries)
	s.Waiting = c.waitPrimary.Len() + c.waitPrefetch.Len()
	s.PrimarySlots = c.primarySlots
	s.PrefetchSlots = c.prefetchSlots
	s.MaxSlots = c.maxSlots
	return s
}

// Close cancels every running lease and fails every waiter with
// domain.ErrCoordinatorClosed. Leases must still be released by their owners.
func (c *Coordinator) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.closedCh)

	for _, q := range []*list.List{c.waitPrimary, c.waitPrefetch} {
		for q.Len() > 0 {
			c.abortWaiterLocked(q.Front().Value.(*waiter), domain.ErrCoordinatorClosed)
		}
	}

	var running []*Lease
	for _, e := range c.entries {
		if e.lease != nil {
			running = append(running, e.lease)
		}
	}
	c.mu.Unlock()

	for _, l := range running {
		l.cancel()
	}
}

func (c *Coordinator) slotsInUseLocked() int {
	return c.primarySlots + c.prefetchSlots
}

// grantLocked creates the lease for e and takes a slot
func (c *Coordinator) grantLocked(ctx context.Context, e *entry) *Lease {
	var leaseCtx context.Context
	var cancel context.CancelFunc
	if c.timeout > 0 {
		leaseCtx, cancel = context.WithTimeout(ctx, c.timeout)
	} else {
		leaseCtx, cancel = context.WithCancel(ctx)
	}

	l := &Lease{
		c:        c,
		entry:    e,
		key:      e.key,
		kind:     e.kind,
		ctx:      leaseCtx,
		cancel:   cancel,
		started:  time.Now(),
		holdSlot: true,
	}
	e.lease = l
	e.waiter = nil

	if e.kind == domain.KindPrimary {
		c.primarySlots++
	} else {
		c.prefetchSlots++
		l.elem = c.prefetchLeases.PushBack(l)
	}
	return l
}

// preemptLocked takes the slot of the newest running prefetch. The victim
// keeps its registry entry until its owner releases it.
func (c *Coordinator) preemptLocked() *Lease {
	back := c.prefetchLeases.Back()
	if back == nil {
		return nil
	}
	victim := back.Value.(*Lease)
	c.takeSlotLocked(victim)
	return victim
}

// takeSlotLocked marks a prefetch lease preempted and frees its slot
func (c *Coordinator) takeSlotLocked(victim *Lease) {
	if victim.elem != nil {
		c.prefetchLeases.Remove(victim.elem)
		victim.elem = nil
	}
	if victim.holdSlot {
		victim.holdSlot = false
		c.prefetchSlots--
	}
	if !victim.preempted {
		victim.preempted = true
		c.stats.Preempted++
	}
}

// abortWaiterLocked removes a waiting registration and its entry
func (c *Coordinator) abortWaiterLocked(w *waiter, err error) {
	if w.elem != nil {
		w.queue.Remove(w.elem)
		w.elem = nil
	}
	if c.entries[w.entry.key] == w.entry {
		delete(c.entries, w.entry.key)
	}
	w.entry.waiter = nil
	close(w.entry.done)
	w.err = err
	close(w.ready)
}

// dispatchLocked hands free slots to waiters, primaries first
func (c *Coordinator) dispatchLocked() {
	for c.slotsInUseLocked() < c.maxSlots {
		q := c.waitPrimary
		if q.Len() == 0 {
			q = c.waitPrefetch
		}
		front := q.Front()
		if front == nil {
			return
		}
		w := front.Value.(*waiter)
		q.Remove(front)
		w.elem = nil
		w.lease = c.grantLocked(w.ctx, w.entry)
		close(w.ready)
	}
}

// release is called once per lease
func (c *Coordinator) release(l *Lease, err error) {
	c.mu.Lock()
	if c.entries[l.key] == l.entry {
		delete(c.entries, l.key)
	}
	close(l.entry.done)

	if l.holdSlot {
		l.holdSlot = false
		if l.kind == domain.KindPrimary {
			c.primarySlots--
		} else {
			c.prefetchSlots--
			if l.elem != nil {
				c.prefetchLeases.Remove(l.elem)
				l.elem = nil
			}
		}
	}

	switch {
	case err == nil:
		c.stats.Released++
	case l.preempted || errors.Is(err, domain.ErrPreempted):
		// counted when the slot was taken
		c.stats.Released++
	case errors.Is(err, domain.ErrFetchTimeout) || errors.Is(err, context.DeadlineExceeded):
		c.stats.TimedOut++
	default:
		c.stats.Failed++
	}

	if !c.closed {
		c.dispatchLocked()
	}
	c.mu.Unlock()
}
