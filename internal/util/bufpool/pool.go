package bufpool

import (
	"math"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/http-ytproxy/internal/domain/vo"
	"github.com/vertextoedge/http-ytproxy/internal/util/ratelimiter"
)

// StatsLogInterval bounds how often LogStats writes
const StatsLogInterval = 30 * time.Second

type tier struct {
	limit int // largest request served; 0 means unbounded
	free  chan []byte
}

// Pool is a tiered pool of byte buffers. Each tier keeps a bounded number of
// idle buffers; buffers beyond that are left to the garbage collector.
// A disabled Pool allocates on every Get.
type Pool struct {
	enabled bool
	tiers   []*tier

	hits     atomic.Uint64
	misses   atomic.Uint64
	returned atomic.Uint64
	dropped  atomic.Uint64

	statsLimiter *ratelimiter.Limiter
}

// Stats is a snapshot of pool usage
type Stats struct {
	Enabled  bool    `json:"enabled"`
	Hits     uint64  `json:"hits"`
	Misses   uint64  `json:"misses"`
	Returned uint64  `json:"returned"`
	Dropped  uint64  `json:"dropped"`
	Idle     int     `json:"idle"`
	HitRate  float64 `json:"hit_rate"`
}

// New creates a pool with the small (5 MiB, 16 idle), medium (20 MiB, 8 idle)
// and large (4 idle) tiers.
func New(enabled bool) *Pool {
	return &Pool{
		enabled: enabled,
		tiers: []*tier{
			{limit: int(5 * vo.MiB), free: make(chan []byte, 16)},
			{limit: int(20 * vo.MiB), free: make(chan []byte, 8)},
			{limit: 0, free: make(chan []byte, 4)},
		},
		statsLimiter: ratelimiter.New(StatsLogInterval),
	}
}

func (p *Pool) tierFor(n int) *tier {
	for _, t := range p.tiers {
		if t.limit == 0 || n <= t.limit {
			return t
		}
	}
	return p.tiers[len(p.tiers)-1]
}

// Get returns a buffer of length n
func (p *Pool) Get(n int) []byte {
	if n < 0 {
		n = 0
	}
	if !p.enabled {
		p.misses.Add(1)
		return make([]byte, n)
	}

	t := p.tierFor(n)
	select {
	case b := <-t.free:
		if cap(b) >= n {
			p.hits.Add(1)
			return b[:n]
		}
		// too small for this request; let it go
		p.dropped.Add(1)
	default:
	}

	p.misses.Add(1)
	capacity := t.limit
	if capacity == 0 {
		capacity = n
	}
	return make([]byte, n, capacity)
}

// Put returns b to its tier. Buffers not obtained from Get, or returned to a
// full tier, are dropped.
func (p *Pool) Put(b []byte) {
	if !p.enabled || b == nil {
		return
	}

	t := p.tierFor(cap(b))
	if t.limit != 0 && cap(b) != t.limit {
		p.dropped.Add(1)
		return
	}

	select {
	case t.free <- b[:0]:
		p.returned.Add(1)
	default:
		p.dropped.Add(1)
	}
}

// Stats returns current counters
func (p *Pool) Stats() Stats {
	s := Stats{
		Enabled:  p.enabled,
		Hits:     p.hits.Load(),
		Misses:   p.misses.Load(),
		Returned: p.returned.Load(),
		Dropped:  p.dropped.Load(),
	}
	for _, t := range p.tiers {
		s.Idle += len(t.free)
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = math.Round(float64(s.Hits)/float64(total)*1000) / 10
	}
	return s
}

// LogStats writes pool statistics at debug level, at most once per
// StatsLogInterval.
func (p *Pool) LogStats(logger *zap.Logger) {
	if ok, _ := p.statsLimiter.Allow(); !ok {
		return
	}
	s := p.Stats()
	logger.Debug("buffer pool stats",
		zap.Bool("enabled", s.Enabled),
		zap.Uint64("hits", s.Hits),
		zap.Uint64("misses", s.Misses),
		zap.Float64("hit_rate_pct", s.HitRate),
		zap.Int("idle", s.Idle),
	)
}
