package coordinator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/http-ytproxy/internal/domain"
	"github.com/vertextoedge/http-ytproxy/internal/domain/vo"
	"github.com/vertextoedge/http-ytproxy/internal/port"
	"github.com/vertextoedge/http-ytproxy/internal/util/bufpool"
)

// maxDrainBuffer caps the buffer a single prefetch body is read into
const maxDrainBuffer = 64 * vo.MiB

// PrefetcherConfig contains prefetch worker settings
type PrefetcherConfig struct {
	Workers   int
	QueueSize int
}

// Job is one speculative range fetch
type Job struct {
	RequestID string
	Resource  string
	Header    http.Header
	Range     vo.RangeSpec
}

// Prefetcher runs speculative fetches on a bounded worker pool. Failures are
// logged and dropped; nothing is retried.
type Prefetcher struct {
	config  PrefetcherConfig
	coord   *Coordinator
	fetcher port.Fetcher
	pool    *bufpool.Pool
	journal port.JournalRepository
	logger  *zap.Logger

	queue chan Job

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewPrefetcher creates a Prefetcher. journal may be nil.
func NewPrefetcher(
	cfg PrefetcherConfig,
	coord *Coordinator,
	fetcher port.Fetcher,
	pool *bufpool.Pool,
	journal port.JournalRepository,
	logger *zap.Logger,
) *Prefetcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = cfg.Workers * 4
	}
	if pool == nil {
		pool = bufpool.New(false)
	}

	return &Prefetcher{
		config:  cfg,
		coord:   coord,
		fetcher: fetcher,
		pool:    pool,
		journal: journal,
		logger:  logger,
		queue:   make(chan Job, cfg.QueueSize),
	}
}

// Start runs the worker pool until ctx is cancelled or Stop is called
func (p *Prefetcher) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("prefetcher already running")
	}
	p.running = true
	ctx, p.cancel = context.WithCancel(ctx)
	p.mu.Unlock()

	p.logger.Info("prefetcher started", zap.Int("workers", p.config.Workers))

	for i := 0; i < p.config.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}

	<-ctx.Done()
	p.wg.Wait()
	p.logger.Info("prefetcher stopped")
	return nil
}

// Stop stops the prefetcher
func (p *Prefetcher) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
	p.running = false
}

// Schedule queues one job per range without blocking. Jobs that do not fit
// in the queue are dropped. It returns the number queued.
func (p *Prefetcher) Schedule(requestID, resource string, header http.Header, ranges []vo.RangeSpec) int {
	queued := 0
	for _, r := range ranges {
		job := Job{RequestID: requestID, Resource: resource, Header: header, Range: r}
		select {
		case p.queue <- job:
			queued++
		default:
			p.logger.Debug("prefetch queue full, dropping range",
				zap.String("resource", resource),
				zap.String("range", r.String()))
		}
	}
	return queued
}

// Pending returns the number of queued jobs
func (p *Prefetcher) Pending() int {
	return len(p.queue)
}

func (p *Prefetcher) worker(ctx context.Context, workerID int) {
	defer p.wg.Done()

	workerName := fmt.Sprintf("prefetch-%d", workerID)
	p.logger.Debug("prefetch worker started", zap.String("worker", workerName))

	for {
		select {
		case <-ctx.Done():
			p.logger.Debug("prefetch worker stopped", zap.String("worker", workerName))
			return
		case job := <-p.queue:
			if err := p.run(ctx, job); err != nil {
				p.logger.Debug("prefetch dropped",
					zap.String("worker", workerName),
					zap.Error(err))
			}
		}
	}
}

// run registers and performs one job. The returned error is skippable.
func (p *Prefetcher) run(ctx context.Context, job Job) error {
	lease, outcome, err := p.coord.TryRegister(ctx, domain.KindPrefetch, job.Resource, job.Range)
	if err != nil {
		return domain.NewSkippableError(err, "prefetch "+job.Range.String())
	}
	if outcome == domain.AlreadyInFlight {
		p.logger.Debug("prefetch already in flight",
			zap.String("resource", job.Resource),
			zap.String("range", job.Range.String()))
		return nil
	}

	// released as failed unless the fetch returns
	fetchErr := domain.ErrFetchFailed
	defer func() { lease.Release(fetchErr) }()

	n, err := p.fetch(lease, job)
	fetchErr = p.classify(lease, err)

	p.record(lease, job, fetchErr)
	p.pool.LogStats(p.logger)

	if fetchErr != nil {
		return domain.NewSkippableError(
			&domain.FetchError{Key: lease.Key(), Kind: domain.KindPrefetch, Err: fetchErr},
			"prefetch")
	}

	p.logger.Debug("prefetch completed",
		zap.String("key", lease.Key().String()),
		zap.Int("bytes", n),
		zap.Duration("duration", time.Since(lease.Started())))
	return nil
}

func (p *Prefetcher) fetch(lease *Lease, job Job) (int, error) {
	header := job.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	header.Del("Range")

	key := lease.Key()
	rng := vo.ClosedRange(key.Start, key.End)
	resp, err := p.fetcher.Fetch(lease.Context(), &port.FetchRequest{
		URL:    job.Resource,
		Header: header,
		Range:  &rng,
	})
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("%w: upstream status %d", domain.ErrFetchFailed, resp.StatusCode)
	}

	size := maxDrainBuffer
	if n, _ := rng.Len(); n < size {
		size = n
	}
	buf := p.pool.Get(int(size))
	defer p.pool.Put(buf)

	n, err := io.ReadFull(resp.Body, buf)
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		// short final chunk
		err = nil
	}
	if err != nil {
		return n, fmt.Errorf("%w: %w", domain.ErrFetchFailed, err)
	}
	return n, nil
}

// classify maps a fetch error to the lease outcome
func (p *Prefetcher) classify(lease *Lease, err error) error {
	if err == nil {
		return nil
	}
	if lease.Preempted() {
		return domain.ErrPreempted
	}
	if errors.Is(lease.Context().Err(), context.DeadlineExceeded) && !errors.Is(err, domain.ErrFetchTimeout) {
		return fmt.Errorf("%w: %w", domain.ErrFetchTimeout, err)
	}
	return err
}

func (p *Prefetcher) record(lease *Lease, job Job, err error) {
	if p.journal == nil {
		return
	}

	key := lease.Key()
	rec := &domain.FetchRecord{
		RequestID: job.RequestID,
		Resource:  key.Resource,
		Start:     key.Start,
		End:       key.End,
		Kind:      domain.KindPrefetch,
		Status:    FetchStatus(err),
		Duration:  time.Since(lease.Started()),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if jerr := p.journal.RecordFetch(rec); jerr != nil {
		p.logger.Warn("failed to record prefetch", zap.Error(jerr))
	}
}

// FetchStatus maps a fetch outcome to its journal status
func FetchStatus(err error) string {
	switch {
	case err == nil:
		return domain.FetchStatusCompleted
	case errors.Is(err, domain.ErrPreempted):
		return domain.FetchStatusPreempted
	case errors.Is(err, domain.ErrFetchTimeout), errors.Is(err, context.DeadlineExceeded):
		return domain.FetchStatusTimeout
	case errors.Is(err, context.Canceled), errors.Is(err, domain.ErrCoordinatorClosed):
		return domain.FetchStatusCancelled
	default:
		return domain.FetchStatusFailed
	}
}
