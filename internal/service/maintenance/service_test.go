package maintenance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/http-ytproxy/internal/domain"
	"github.com/vertextoedge/http-ytproxy/internal/service/coordinator"
	"github.com/vertextoedge/http-ytproxy/internal/util/bufpool"
)

// mockJournal implements port.JournalRepository for testing
type mockJournal struct {
	mu          sync.Mutex
	pruneCount  int64
	pruneErr    error
	pruneCalled int
	lastAge     time.Duration
}

func (m *mockJournal) RecordRewrite(*domain.RewriteRecord) error { return nil }
func (m *mockJournal) RecordFetch(*domain.FetchRecord) error     { return nil }
func (m *mockJournal) RecentFetches(int) ([]*domain.FetchRecord, error) {
	return nil, nil
}
func (m *mockJournal) FetchSummary() (*domain.FetchSummary, error) {
	return &domain.FetchSummary{}, nil
}
func (m *mockJournal) PruneOlderThan(d time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pruneCalled++
	m.lastAge = d
	return m.pruneCount, m.pruneErr
}

func (m *mockJournal) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pruneCalled
}

// mockStats implements StatsSource for testing
type mockStats struct {
	mu     sync.Mutex
	called int
}

func (m *mockStats) Stats() coordinator.Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.called++
	return coordinator.Stats{InFlight: 1}
}

func (m *mockStats) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.called
}

func TestService_New(t *testing.T) {
	logger := zap.NewNop()

	// Test with nil config (should use defaults)
	s := New(nil, nil, nil, nil, logger)
	if s == nil {
		t.Fatal("New() returned nil")
	}
	if s.config.PruneInterval != time.Hour {
		t.Errorf("PruneInterval = %v, want %v", s.config.PruneInterval, time.Hour)
	}
	if s.config.JournalRetention != 168*time.Hour {
		t.Errorf("JournalRetention = %v, want %v", s.config.JournalRetention, 168*time.Hour)
	}

	// zero intervals fall back to defaults
	s = New(&Config{JournalRetention: time.Hour}, nil, nil, nil, logger)
	if s.config.PruneInterval != time.Hour || s.config.StatsInterval != time.Minute {
		t.Errorf("config = %+v", s.config)
	}
	if s.config.JournalRetention != time.Hour {
		t.Errorf("JournalRetention = %v, want 1h", s.config.JournalRetention)
	}
}

func TestService_StartStop(t *testing.T) {
	journal := &mockJournal{pruneCount: 3}
	stats := &mockStats{}

	cfg := &Config{
		PruneInterval:    10 * time.Millisecond,
		JournalRetention: time.Hour,
		StatsInterval:    10 * time.Millisecond,
	}
	s := New(cfg, journal, stats, bufpool.New(true), zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- s.Start(ctx)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for journal.calls() < 2 || stats.calls() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("maintenance did not run: prune=%d stats=%d", journal.calls(), stats.calls())
		}
		time.Sleep(5 * time.Millisecond)
	}

	s.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Start() did not return after Stop()")
	}

	journal.mu.Lock()
	age := journal.lastAge
	journal.mu.Unlock()
	if age != time.Hour {
		t.Errorf("PruneOlderThan(%v), want 1h", age)
	}
}

func TestService_DoubleStart(t *testing.T) {
	s := New(nil, nil, nil, nil, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.Start(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for {
		s.mu.Lock()
		running := s.running
		s.mu.Unlock()
		if running {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("service did not start")
		}
		time.Sleep(time.Millisecond)
	}

	if err := s.Start(ctx); err == nil {
		t.Error("second Start() succeeded")
	}
	s.Stop()
}

func TestService_PruneJournal(t *testing.T) {
	tests := []struct {
		name       string
		retention  time.Duration
		pruneErr   error
		wantCalled int
	}{
		{"prunes with retention", time.Hour, nil, 1},
		{"error is logged", time.Hour, errors.New("database is locked"), 1},
		{"zero retention keeps everything", 0, nil, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			journal := &mockJournal{pruneErr: tt.pruneErr}
			cfg := &Config{JournalRetention: tt.retention}
			s := New(cfg, journal, nil, nil, zap.NewNop())

			s.PruneJournal()

			if got := journal.calls(); got != tt.wantCalled {
				t.Errorf("PruneOlderThan called %d times, want %d", got, tt.wantCalled)
			}
		})
	}
}

func TestService_PruneJournalWithoutJournal(t *testing.T) {
	s := New(DefaultConfig(), nil, nil, nil, zap.NewNop())
	// must not panic
	s.PruneJournal()
	s.logStats()
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.PruneInterval != time.Hour {
		t.Errorf("PruneInterval = %v, want %v", cfg.PruneInterval, time.Hour)
	}
	if cfg.JournalRetention != 7*24*time.Hour {
		t.Errorf("JournalRetention = %v, want %v", cfg.JournalRetention, 7*24*time.Hour)
	}
	if cfg.StatsInterval != time.Minute {
		t.Errorf("StatsInterval = %v, want %v", cfg.StatsInterval, time.Minute)
	}
}
