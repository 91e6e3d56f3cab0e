package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/backup"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/phrasetable"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/server/cache"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/server/handler"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/internal/update/ingest"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/config"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/health"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/logger"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/metrics"
	"github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/middleware"
	pkgredis "github.com/Adithya-Monish-Kumar-K/Incremental-Phrase-Table/pkg/redis"
)

func main() {
	configPath := flag.String("config", "configs/development.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting phrase table service",
		"port", cfg.Server.Port,
		"model_path", cfg.PhraseTable.ModelPath,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()
	if cfg.Metrics.Enabled {
		shutdownMetrics := metrics.StartServer(cfg.Metrics.Port, prometheus.DefaultGatherer)
		defer shutdownMetrics(context.Background())
	}

	pt, err := phrasetable.New(cfg.PhraseTable, nil, m)
	if err != nil {
		slog.Error("failed to open phrase table", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := pt.Close(); err != nil {
			slog.Error("phrase table close error", "error", err)
		}
	}()

	var optionCache *cache.OptionCache
	var redisClient *pkgredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, option caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			optionCache = cache.New(ctx, redisClient, cfg.Redis, m)
			pt.OnFlush(func(applied int) {
				if applied == 0 {
					return
				}
				if err := optionCache.Invalidate(context.Background()); err != nil {
					slog.Warn("option cache invalidation failed", "error", err)
				}
			})
			slog.Info("option cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	if cfg.Kafka.Enabled {
		ingester := ingest.New(cfg.Kafka, pt.Updates())
		go func() {
			if err := ingester.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("update ingestion stopped", "error", err)
			}
		}()
		slog.Info("update ingestion started",
			"topic", cfg.Kafka.UpdatesTopic,
			"partitions", cfg.Kafka.Partitions,
		)
	}

	if cfg.Backup.Enabled {
		store, err := backup.NewMinioStore(ctx, cfg.Backup)
		if err != nil {
			slog.Error("backup store unavailable, periodic backups disabled", "error", err)
		} else {
			backup.NewManager(store, cfg.Backup.Prefix).StartLoop(ctx, pt, cfg.Backup.Interval)
			slog.Info("periodic backups enabled",
				"endpoint", cfg.Backup.Endpoint,
				"bucket", cfg.Backup.Bucket,
				"interval", cfg.Backup.Interval,
			)
		}
	}

	checker := health.NewChecker(2 * time.Second)
	checker.Register("phrase_table", func(ctx context.Context) health.ComponentHealth {
		st := pt.Stats()
		details := map[string]any{
			"segments":         st.Segments,
			"corpus_size":      st.CorpusSize,
			"buffered_updates": st.BufferedUpdates,
		}
		if st.BufferedUpdates >= cfg.PhraseTable.UpdateBufferSize {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "update backlog full", Details: details}
		}
		return health.ComponentHealth{Status: health.StatusUp, Details: details}
	})
	checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
		if redisClient == nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: "not configured"}
		}
		if err := redisClient.Ping(ctx); err != nil {
			return health.ComponentHealth{Status: health.StatusDegraded, Message: err.Error()}
		}
		return health.ComponentHealth{Status: health.StatusUp}
	})

	h := handler.New(pt, optionCache)
	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	limiter := middleware.NewRateLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst)
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				limiter.Prune(5 * time.Minute)
			}
		}
	}()

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.RequestTimeout)(chain)
	chain = middleware.RateLimit(limiter)(chain)
	chain = middleware.Metrics(m, mux)(chain)
	chain = middleware.Trace(cfg.Server.SlowRequest)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
	}()

	slog.Info("phrase table service listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}

	slog.Info("phrase table service stopped")
}
