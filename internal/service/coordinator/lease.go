package coordinator

import (
	"container/list"
	"context"
	"sync"
	"time"

	"github.com/vertextoedge/http-ytproxy/internal/domain"
)

// Lease is the right to run one registered fetch. The owner must call
// Release exactly once on every exit path; extra calls are no-ops.
type Lease struct {
	c     *Coordinator
	entry *entry
	key   domain.DownloadKey
	kind  domain.FetchKind

	ctx     context.Context
	cancel  context.CancelFunc
	started time.Time
	once    sync.Once

	// guarded by c.mu
	holdSlot  bool
	preempted bool
	elem      *list.Element
}

// Context is cancelled when the lease is preempted, times out, is released
// or the coordinator closes. The fetch must run under it.
func (l *Lease) Context() context.Context {
	return l.ctx
}

// Key returns the registered key
func (l *Lease) Key() domain.DownloadKey {
	return l.key
}

// Kind returns the fetch kind
func (l *Lease) Kind() domain.FetchKind {
	return l.kind
}

// Started returns when the slot was granted
func (l *Lease) Started() time.Time {
	return l.started
}

// Preempted reports whether a primary fetch took this lease's slot
func (l *Lease) Preempted() bool {
	l.c.mu.Lock()
	defer l.c.mu.Unlock()
	return l.preempted
}

// Release removes the key from the registry and frees the slot. err is the
// fetch outcome and only feeds statistics.
func (l *Lease) Release(err error) {
	l.once.Do(func() {
		l.c.release(l, err)
		l.cancel()
	})
}
