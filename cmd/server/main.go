package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/JonMunkholm/stockfeed/internal/config"
	"github.com/JonMunkholm/stockfeed/internal/core"
	"github.com/JonMunkholm/stockfeed/internal/logging"
	"github.com/JonMunkholm/stockfeed/internal/metrics"
	"github.com/JonMunkholm/stockfeed/internal/overrides"
	"github.com/JonMunkholm/stockfeed/internal/source"
	"github.com/JonMunkholm/stockfeed/internal/web"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
)

func main() {
	// Load .env file if it exists (Overload overwrites existing env vars)
	if err := godotenv.Overload(); err != nil {
		slog.Info("no .env file found, using environment variables")
	} else {
		slog.Info("loaded .env file (overwriting existing env vars)")
	}

	// Load and validate configuration
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Setup structured logging based on config
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("configuration loaded",
		"port", cfg.Server.Port,
		"poll_interval", cfg.Source.PollInterval.String(),
		"refresh_max_concurrent", cfg.Source.MaxConcurrent,
		"database", cfg.Database.Enabled(),
		"cache", cfg.Cache.Enabled(),
		"rate_limit_enabled", cfg.Rate.Enabled,
	)

	ctx := context.Background()
	var serverOpts []web.Option

	// Override store: PostgreSQL when configured, memory otherwise
	var store overrides.Store
	if cfg.Database.Enabled() {
		pg, err := connectDatabase(ctx, &cfg.Database)
		if err != nil {
			slog.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		store = pg
		serverOpts = append(serverOpts, web.WithHealthCheck("database", pg.Ping))
	} else {
		slog.Warn("DATABASE_URL not set; overrides are kept in memory and lost on restart")
		store = overrides.NewMemoryStore()
	}
	defer store.Close()

	recorder := metrics.NewRecorder(metrics.ClassifyWith(map[error]string{
		core.ErrFetchBusy:     metrics.StatusBusy,
		core.ErrStaleSnapshot: metrics.StatusStale,
	}))

	upstream := source.NewFetcher(source.Config{
		BaseURL:      cfg.Source.BaseURL,
		GID:          cfg.Source.GID,
		Proxies:      cfg.Source.Proxies,
		Timeout:      cfg.Source.FetchTimeout,
		MaxBodyBytes: cfg.Source.MaxBodyBytes,
	}, source.WithRecorder(recorder))

	// Shared CSV cache across replicas (optional)
	var fetcher core.Fetcher = upstream
	var cached *source.CachedFetcher
	if cfg.Cache.Enabled() {
		rdb, err := source.Connect(ctx, cfg.Cache.Address, cfg.Cache.Password, cfg.Cache.DB)
		if err != nil {
			// The cache is an optimization; run without it
			slog.Warn("redis unavailable, fetching without shared cache", "error", err)
		} else {
			cached = source.NewCachedFetcher(upstream, rdb, source.CacheConfig{
				Prefix:  cfg.Cache.Prefix,
				TTL:     cfg.Cache.TTL,
				LockTTL: cfg.Cache.LockTTL,
			})
			defer cached.Close()
			fetcher = cached
			serverOpts = append(serverOpts, web.WithHealthCheck("redis", func(ctx context.Context) error {
				return rdb.Ping(ctx).Err()
			}))
			slog.Info("connected to redis", "addr", cfg.Cache.Address)
		}
	}

	service := core.NewService(core.ServiceConfig{
		SourceID:      cfg.Source.SheetID,
		Columns:       cfg.Columns.Mapping(),
		PollInterval:  cfg.Source.PollInterval,
		MaxConcurrent: cfg.Source.MaxConcurrent,
		MaxWait:       cfg.Source.MaxWait,
	}, fetcher, store, core.WithObserver(recorder))

	// Serve the shared copy until the first refresh lands
	if cached != nil {
		if res, ok, err := cached.Cached(ctx, cfg.Source.SheetID); err != nil {
			slog.Warn("read cached csv failed", "error", err)
		} else if ok {
			if _, err := service.Seed(ctx, res); err != nil {
				slog.Warn("seed from cache failed", "error", err)
			}
		}
	}

	server := web.NewServer(cfg, service, serverOpts...)

	// Create cancellable context for background jobs
	jobCtx, cancelJobs := context.WithCancel(context.Background())
	go service.StartPoller(jobCtx)

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		slog.Info("shutting down...")

		// Stop background jobs
		cancelJobs()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		// Wait for in-flight refreshes to complete (with timeout)
		if status := service.LimiterStatus(); status.Active > 0 {
			slog.Info("waiting for refreshes to complete", "active", status.Active)
			if err := service.WaitForRefreshes(shutdownCtx); err != nil {
				slog.Warn("refreshes did not complete in time", "error", err)
			}
		}

		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
	}()

	slog.Info("server starting", "addr", cfg.Server.Addr())
	if err := server.Start(); err != nil {
		slog.Info("server stopped", "error", err)
	}
}

// connectDatabase opens the pool, verifies it and prepares the override
// tables.
func connectDatabase(ctx context.Context, cfg *config.DatabaseConfig) (*overrides.PostgresStore, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, err
	}
	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("connected to database", "name", strings.TrimPrefix(u.Path, "/"))
	}

	store, err := overrides.NewPostgresStore(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}
