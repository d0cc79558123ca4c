package interceptor

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/vertextoedge/http-ytproxy/internal/domain"
	"github.com/vertextoedge/http-ytproxy/internal/domain/service"
	"github.com/vertextoedge/http-ytproxy/internal/domain/vo"
	"github.com/vertextoedge/http-ytproxy/internal/port"
	"github.com/vertextoedge/http-ytproxy/internal/service/coordinator"
	"github.com/vertextoedge/http-ytproxy/internal/util/ratelimiter"
)

const (
	malformedWarnInterval = time.Minute
	malformedWarnHosts    = 256
)

// Config contains interceptor configuration
type Config struct {
	ChunkSize     vo.ByteSize
	Websites      domain.WebsiteSet
	Parallel      bool
	PrefetchAhead vo.ByteSize
	LogTiming     bool
}

// Scheduler queues speculative range fetches
type Scheduler interface {
	Schedule(requestID, resource string, header http.Header, ranges []vo.RangeSpec) int
}

// Request is the part of an outgoing request the interceptor inspects
type Request struct {
	URL    string
	Header http.Header
}

// Mutation tells the caller how to alter the request. When Rewrite is false
// the request is forwarded untouched.
type Mutation struct {
	Rewrite  bool
	Range    string
	Category domain.SiteCategory
	Prefetch []vo.RangeSpec
	// RequestID is set for eligible requests carrying a valid Range header
	RequestID string
}

// Stats counts Transform outcomes
type Stats struct {
	Requests    uint64 `json:"requests"`
	Ineligible  uint64 `json:"ineligible"`
	NoRange     uint64 `json:"no_range"`
	Malformed   uint64 `json:"malformed"`
	Unchanged   uint64 `json:"unchanged"`
	Rewritten   uint64 `json:"rewritten"`
	Prefetches  uint64 `json:"prefetches_scheduled"`
	PrimaryWait uint64 `json:"primary_waits"`
}

// Interceptor is the per-request entry point: it gates requests by site,
// bounds their Range header and schedules prefetch of the ranges that follow.
type Interceptor struct {
	config     Config
	classifier *service.Classifier
	rewriter   *service.RangeRewriter
	coord      *coordinator.Coordinator
	scheduler  Scheduler
	journal    port.JournalRepository
	warnings   *ratelimiter.Keyed
	logger     *zap.Logger

	requests    atomic.Uint64
	ineligible  atomic.Uint64
	noRange     atomic.Uint64
	malformed   atomic.Uint64
	unchanged   atomic.Uint64
	rewritten   atomic.Uint64
	prefetches  atomic.Uint64
	primaryWait atomic.Uint64
}

// New creates an Interceptor. scheduler and journal may be nil.
func New(
	cfg Config,
	coord *coordinator.Coordinator,
	scheduler Scheduler,
	journal port.JournalRepository,
	logger *zap.Logger,
) *Interceptor {
	return &Interceptor{
		config:     cfg,
		classifier: service.NewClassifier(cfg.Websites),
		rewriter:   service.NewRangeRewriter(cfg.ChunkSize),
		coord:      coord,
		scheduler:  scheduler,
		journal:    journal,
		warnings:   ratelimiter.NewKeyed(malformedWarnInterval, malformedWarnHosts),
		logger:     logger,
	}
}

// Transform decides how req should be altered. It never fails; anything it
// cannot handle is passed through unchanged.
func (i *Interceptor) Transform(req Request) Mutation {
	start := time.Now()
	i.requests.Add(1)

	match, ok := i.classifier.Classify(req.URL)
	if !ok {
		i.ineligible.Add(1)
		return Mutation{Category: domain.CategoryNone}
	}

	m := Mutation{Category: match.Category}

	header, present := rangeHeader(req.Header)
	d := i.rewriter.Rewrite(header, present)

	switch d.Reason {
	case service.ReasonNoHeader:
		i.noRange.Add(1)
		return m
	case service.ReasonMalformed:
		i.malformed.Add(1)
		i.warnMalformed(req.URL, header, d.Err)
		return m
	}

	m.RequestID = uuid.NewString()
	fields := []zap.Field{
		zap.String("request_id", m.RequestID),
		zap.String("category", match.Category.String()),
		zap.String("range", header),
		zap.String("reason", d.Reason.String()),
	}

	outgoing := header
	if d.Rewritten {
		i.rewritten.Add(1)
		m.Rewrite = true
		m.Range = d.Header
		outgoing = d.Header
		fields = append(fields, zap.String("rewritten", d.Header))
	} else {
		i.unchanged.Add(1)
	}

	if d.Rewritten && i.config.Parallel && i.coord != nil && i.scheduler != nil {
		m.Prefetch = i.coord.NextPrefetchRanges(req.URL, d.Outgoing, i.config.PrefetchAhead, i.rewriter.ChunkSize())
		if len(m.Prefetch) > 0 {
			queued := i.scheduler.Schedule(m.RequestID, req.URL, req.Header, m.Prefetch)
			i.prefetches.Add(uint64(queued))
			fields = append(fields, zap.Int("prefetch", queued))
		}
	}

	if i.config.LogTiming {
		fields = append(fields, zap.Duration("duration", time.Since(start)))
	}
	if d.Rewritten {
		i.logger.Debug("range chunked", fields...)
	} else {
		i.logger.Debug("range unchanged", fields...)
	}

	i.recordRewrite(m, req.URL, header, outgoing)
	return m
}

// FetchStarted registers a primary fetch for resource and spec. If the same
// range is already in flight it waits for that fetch to finish and then
// registers again. The caller must pass the lease's outcome to FetchCompleted.
func (i *Interceptor) FetchStarted(ctx context.Context, resource string, spec vo.RangeSpec) (*coordinator.Lease, error) {
	for {
		lease, outcome, err := i.coord.TryRegister(ctx, domain.KindPrimary, resource, spec)
		if err != nil {
			return nil, &domain.FetchError{Key: i.coord.Key(resource, spec), Kind: domain.KindPrimary, Err: err}
		}
		if outcome == domain.Registered {
			return lease, nil
		}

		i.primaryWait.Add(1)
		i.logger.Debug("waiting for in-flight fetch",
			zap.String("key", i.coord.Key(resource, spec).String()))
		if err := i.coord.WaitInFlight(ctx, resource, spec); err != nil {
			return nil, &domain.FetchError{Key: i.coord.Key(resource, spec), Kind: domain.KindPrimary, Err: err}
		}
	}
}

// FetchCompleted releases the primary fetch for resource and spec
func (i *Interceptor) FetchCompleted(resource string, spec vo.RangeSpec, err error) {
	lease := i.coord.Complete(resource, spec, err)
	if lease == nil {
		i.logger.Debug("completed fetch was not registered",
			zap.String("key", i.coord.Key(resource, spec).String()))
		return
	}
	if err != nil {
		i.logger.Debug("primary fetch failed",
			zap.String("key", lease.Key().String()),
			zap.Error(err))
	}

	if i.journal == nil {
		return
	}
	rec := &domain.FetchRecord{
		Resource: lease.Key().Resource,
		Start:    lease.Key().Start,
		End:      lease.Key().End,
		Kind:     domain.KindPrimary,
		Status:   coordinator.FetchStatus(err),
		Duration: time.Since(lease.Started()),
	}
	if err != nil {
		rec.Error = err.Error()
	}
	if jerr := i.journal.RecordFetch(rec); jerr != nil {
		i.logger.Warn("failed to record fetch", zap.Error(jerr))
	}
}

// TestURL reports whether url would be intercepted and under which category
func (i *Interceptor) TestURL(url string) (bool, domain.SiteCategory) {
	match, ok := i.classifier.Classify(url)
	return ok, match.Category
}

// Stats returns a snapshot of the counters
func (i *Interceptor) Stats() Stats {
	return Stats{
		Requests:    i.requests.Load(),
		Ineligible:  i.ineligible.Load(),
		NoRange:     i.noRange.Load(),
		Malformed:   i.malformed.Load(),
		Unchanged:   i.unchanged.Load(),
		Rewritten:   i.rewritten.Load(),
		Prefetches:  i.prefetches.Load(),
		PrimaryWait: i.primaryWait.Load(),
	}
}

func (i *Interceptor) warnMalformed(rawURL, header string, err error) {
	host := hostOf(rawURL)
	allowed, suppressed := i.warnings.Allow(host)
	if !allowed {
		return
	}
	fields := []zap.Field{
		zap.String("host", host),
		zap.String("range", header),
		zap.Error(err),
	}
	if suppressed > 0 {
		fields = append(fields, zap.Int("suppressed", suppressed))
	}
	i.logger.Warn("malformed range header passed through", fields...)
}

func (i *Interceptor) recordRewrite(m Mutation, rawURL, original, outgoing string) {
	if i.journal == nil {
		return
	}
	rec := &domain.RewriteRecord{
		RequestID: m.RequestID,
		URL:       rawURL,
		Original:  original,
		Rewritten: outgoing,
		Category:  m.Category.String(),
	}
	if err := i.journal.RecordRewrite(rec); err != nil {
		i.logger.Warn("failed to record rewrite", zap.Error(err))
	}
}

// rangeHeader joins repeated Range headers so they parse as a multi-range set
func rangeHeader(h http.Header) (string, bool) {
	values := h.Values("Range")
	if len(values) == 0 {
		return "", false
	}
	return strings.Join(values, ","), true
}

func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return u.Hostname()
}
