// Package app wires the proxy components together and owns their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/vertextoedge/http-ytproxy/internal/adapter/sqlite"
	"github.com/vertextoedge/http-ytproxy/internal/adapter/upstream"
	"github.com/vertextoedge/http-ytproxy/internal/config"
	"github.com/vertextoedge/http-ytproxy/internal/port"
	"github.com/vertextoedge/http-ytproxy/internal/service/coordinator"
	"github.com/vertextoedge/http-ytproxy/internal/service/interceptor"
	"github.com/vertextoedge/http-ytproxy/internal/service/maintenance"
	"github.com/vertextoedge/http-ytproxy/internal/service/server"
	"github.com/vertextoedge/http-ytproxy/internal/util/bufpool"
)

const shutdownTimeout = 10 * time.Second

// App is a running proxy
type App struct {
	logger *zap.Logger

	store       *sqlite.Store
	pool        *bufpool.Pool
	coord       *coordinator.Coordinator
	fetcher     *upstream.Client
	prefetcher  *coordinator.Prefetcher
	interceptor *interceptor.Interceptor
	maintenance *maintenance.Service

	proxy *server.Server
	admin *server.Server

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	closeOnce sync.Once
	closeErr  error
}

// Start builds every component from cfg, binds the listeners and starts
// serving in the background. Bind errors are returned before anything runs.
func Start(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{logger: logger}

	var journal port.JournalRepository
	var store port.Store
	if cfg.Journal.Enabled {
		s, err := sqlite.Open(cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open journal: %w", err)
		}
		a.store = s
		journal = s
		store = s
		logger.Info("journal opened", zap.String("path", cfg.Journal.Path))
	}

	chunkSize := cfg.Proxy.ChunkSize
	a.pool = bufpool.New(cfg.Proxy.MemoryPoolEnabled)
	a.coord = coordinator.New(coordinator.Options{
		MaxConcurrent:  cfg.Parallel.MaxConcurrentChunks,
		ChunkSize:      chunkSize,
		RequestTimeout: cfg.RequestTimeout(),
	}, logger)
	a.fetcher = upstream.NewClient(upstream.ClientConfig{
		PoolSize:       cfg.Performance.ConnectionPoolSize,
		HTTP2:          cfg.Performance.HTTP2,
		RequestTimeout: cfg.RequestTimeout(),
	})

	var scheduler interceptor.Scheduler
	if cfg.Parallel.ParallelDownloads {
		a.prefetcher = coordinator.NewPrefetcher(coordinator.PrefetcherConfig{
			Workers: cfg.Parallel.MaxConcurrentChunks,
		}, a.coord, a.fetcher, a.pool, journal, logger)
		scheduler = a.prefetcher
	}

	a.interceptor = interceptor.New(interceptor.Config{
		ChunkSize:     chunkSize,
		Websites:      cfg.WebsiteSet(),
		Parallel:      cfg.Parallel.ParallelDownloads,
		PrefetchAhead: cfg.Parallel.PrefetchAhead,
		LogTiming:     cfg.Logging.LogTiming,
	}, a.coord, scheduler, journal, logger)

	a.maintenance = maintenance.New(&maintenance.Config{
		PruneInterval:    time.Hour,
		JournalRetention: cfg.Journal.Retention,
		StatsInterval:    time.Minute,
	}, journal, a.coord, a.pool, logger)

	a.proxy = server.New(&server.Config{
		Name:        "proxy",
		BindAddr:    cfg.ProxyAddr(),
		LogTiming:   cfg.Logging.LogTiming,
		IdleTimeout: 60 * time.Second,
	}, server.NewProxyHandler(a.interceptor, a.fetcher, logger), logger)

	if cfg.Admin.Enabled {
		debug := server.NewDebugHandler(a.coord, a.interceptor, a.pool, store, chunkSize, logger)
		opts := server.AdminOptions{}
		if cfg.Admin.RequireAuth {
			opts.Password = cfg.Passphrase()
		}
		a.admin = server.New(&server.Config{
			Name:         "admin",
			BindAddr:     cfg.Admin.BindAddr,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		}, server.NewAdminMux(debug, opts, logger), logger)
	}

	if _, err := a.proxy.Listen(); err != nil {
		a.closeResources()
		return nil, fmt.Errorf("failed to listen on %s: %w", cfg.ProxyAddr(), err)
	}
	if a.admin != nil {
		if _, err := a.admin.Listen(); err != nil {
			a.proxy.Stop(context.Background())
			a.closeResources()
			return nil, fmt.Errorf("failed to listen on %s: %w", cfg.Admin.BindAddr, err)
		}
	}

	ctx, a.cancel = context.WithCancel(ctx)
	a.run(ctx)

	logger.Info("proxy started",
		zap.String("addr", a.proxy.Addr().String()),
		zap.Stringer("chunk_size", chunkSize),
		zap.Bool("parallel_downloads", cfg.Parallel.ParallelDownloads),
		zap.Int("max_concurrent_chunks", cfg.Parallel.MaxConcurrentChunks),
		zap.Bool("admin", a.admin != nil))

	return a, nil
}

func (a *App) run(ctx context.Context) {
	a.goRun("proxy server", func() error { return a.proxy.Serve() })
	if a.admin != nil {
		a.goRun("admin server", func() error { return a.admin.Serve() })
	}
	if a.prefetcher != nil {
		a.goRun("prefetcher", func() error { return a.prefetcher.Start(ctx) })
	}
	a.goRun("maintenance service", func() error { return a.maintenance.Start(ctx) })
}

func (a *App) goRun(name string, fn func() error) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := fn(); err != nil && !errors.Is(err, context.Canceled) {
			a.logger.Error(name+" stopped with error", zap.Error(err))
		}
	}()
}

// ProxyAddr returns the bound proxy address
func (a *App) ProxyAddr() net.Addr {
	return a.proxy.Addr()
}

// AdminAddr returns the bound admin address, or nil when admin is disabled
func (a *App) AdminAddr() net.Addr {
	if a.admin == nil {
		return nil
	}
	return a.admin.Addr()
}

// Interceptor returns the request interceptor
func (a *App) Interceptor() *interceptor.Interceptor {
	return a.interceptor
}

// Close stops the servers and background workers and releases resources.
// It is safe to call more than once.
func (a *App) Close() error {
	a.closeOnce.Do(func() {
		a.logger.Info("stopping proxy")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if err := a.proxy.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("proxy server: %w", err))
		}
		if a.admin != nil {
			if err := a.admin.Stop(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("admin server: %w", err))
			}
		}

		if a.prefetcher != nil {
			a.prefetcher.Stop()
		}
		a.maintenance.Stop()
		a.cancel()
		a.wg.Wait()

		if err := a.closeResources(); err != nil {
			errs = append(errs, err)
		}
		a.closeErr = errors.Join(errs...)
		a.logger.Info("proxy stopped")
	})
	return a.closeErr
}

// closeResources aborts outstanding registrations and closes the journal
func (a *App) closeResources() error {
	a.coord.Close()
	a.fetcher.CloseIdleConnections()
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			return fmt.Errorf("journal: %w", err)
		}
	}
	return nil
}
