package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/http-ytproxy/internal/port"
	"github.com/vertextoedge/http-ytproxy/internal/service/coordinator"
	"github.com/vertextoedge/http-ytproxy/internal/util/bufpool"
)

// Config contains maintenance service configuration
type Config struct {
	// PruneInterval is how often old journal entries are removed
	PruneInterval time.Duration

	// JournalRetention is how long journal entries are kept; zero keeps them forever
	JournalRetention time.Duration

	// StatsInterval is how often coordinator and pool statistics are logged
	StatsInterval time.Duration
}

// DefaultConfig returns default maintenance configuration
func DefaultConfig() *Config {
	return &Config{
		PruneInterval:    time.Hour,
		JournalRetention: 7 * 24 * time.Hour,
		StatsInterval:    time.Minute,
	}
}

// StatsSource reports coordinator statistics
type StatsSource interface {
	Stats() coordinator.Stats
}

// Service handles periodic maintenance tasks
type Service struct {
	config  *Config
	journal port.JournalRepository
	stats   StatsSource
	pool    *bufpool.Pool
	logger  *zap.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New creates a new maintenance Service. journal, stats and pool may be nil.
func New(cfg *Config, journal port.JournalRepository, stats StatsSource, pool *bufpool.Pool, logger *zap.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if cfg.PruneInterval == 0 {
		cfg.PruneInterval = time.Hour
	}
	if cfg.StatsInterval == 0 {
		cfg.StatsInterval = time.Minute
	}

	return &Service{
		config:  cfg,
		journal: journal,
		stats:   stats,
		pool:    pool,
		logger:  logger,
	}
}

// Start prunes the journal once and then runs periodic maintenance until
// ctx is cancelled or Stop is called
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("maintenance service already running")
	}
	s.running = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	s.logger.Info("maintenance service started",
		zap.Duration("prune_interval", s.config.PruneInterval),
		zap.Duration("journal_retention", s.config.JournalRetention),
		zap.Duration("stats_interval", s.config.StatsInterval))

	s.PruneJournal()

	s.wg.Add(1)
	go s.maintenanceLoop(ctx)

	<-ctx.Done()
	s.wg.Wait()
	s.logger.Info("maintenance service stopped")
	return nil
}

// Stop stops the maintenance service
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
	}
	s.running = false
}

// maintenanceLoop handles periodic maintenance tasks
func (s *Service) maintenanceLoop(ctx context.Context) {
	defer s.wg.Done()

	pruneTicker := time.NewTicker(s.config.PruneInterval)
	defer pruneTicker.Stop()

	statsTicker := time.NewTicker(s.config.StatsInterval)
	defer statsTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-pruneTicker.C:
			s.PruneJournal()
		case <-statsTicker.C:
			s.logStats()
		}
	}
}

// PruneJournal removes journal entries older than the retention period
func (s *Service) PruneJournal() {
	if s.journal == nil || s.config.JournalRetention <= 0 {
		return
	}
	removed, err := s.journal.PruneOlderThan(s.config.JournalRetention)
	if err != nil {
		s.logger.Error("failed to prune journal", zap.Error(err))
	} else if removed > 0 {
		s.logger.Info("pruned journal entries", zap.Int64("count", removed))
	}
}

func (s *Service) logStats() {
	if s.stats != nil {
		st := s.stats.Stats()
		s.logger.Debug("coordinator stats",
			zap.Int("in_flight", st.InFlight),
			zap.Int("waiting", st.Waiting),
			zap.Uint64("registered", st.Registered),
			zap.Uint64("deduplicated", st.Deduplicated),
			zap.Uint64("preempted", st.Preempted),
			zap.Uint64("failed", st.Failed),
			zap.Uint64("timed_out", st.TimedOut))
	}
	if s.pool != nil {
		s.pool.LogStats(s.logger)
	}
}
