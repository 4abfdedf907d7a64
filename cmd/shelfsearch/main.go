package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/cartfox/shelfsearch/internal/config"
	dbRedis "github.com/cartfox/shelfsearch/internal/db/redis"
	"github.com/cartfox/shelfsearch/internal/domain"
	"github.com/cartfox/shelfsearch/internal/index"
	logpkg "github.com/cartfox/shelfsearch/internal/logger"
	"github.com/cartfox/shelfsearch/internal/metrics"
	catalogrepo "github.com/cartfox/shelfsearch/internal/repository/catalog"
	"github.com/cartfox/shelfsearch/internal/repository/embcache"
	chiTransport "github.com/cartfox/shelfsearch/internal/transport/chi"
	openaiEmb "github.com/cartfox/shelfsearch/internal/transport/openai"
	cataloguc "github.com/cartfox/shelfsearch/internal/usecase/catalog"
	healthuc "github.com/cartfox/shelfsearch/internal/usecase/health"
	searchuc "github.com/cartfox/shelfsearch/internal/usecase/search"
	"github.com/cartfox/shelfsearch/internal/version"
)

func main() {
	app := &cli.App{
		Name:  "shelfsearch",
		Usage: "Hybrid lexical and vector retrieval engine for product catalogs",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Start the HTTP API server",
				Action: serveCommand,
			},
			{
				Name:  "version",
				Usage: "Print build information",
				Action: func(c *cli.Context) error {
					fmt.Printf("shelfsearch %s (commit %s, built %s)\n",
						version.Version, version.Commit, version.Date)
					return nil
				},
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serveCommand(_ *cli.Context) error {
	env := config.GetEnv()

	cfg, err := config.Load(env)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logpkg.New(env, cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("Starting shelfsearch API server",
		zap.String("version", version.Version),
		zap.String("commit", version.Commit),
		zap.String("env", env),
		zap.Int("http_port", cfg.HTTP.Port),
		zap.String("storage_path", cfg.Storage.Path),
	)

	metrics.RegisterEmbeddingMetrics()
	metrics.RegisterSearchMetrics()

	ctx := context.Background()

	// Base embedding provider (transport metrics built-in)
	baseEmbedder := openaiEmb.NewEmbedder(&openaiEmb.Config{
		APIKey:     cfg.Embedding.APIKey,
		BaseURL:    cfg.Embedding.BaseURL,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
		Provider:   cfg.Embedding.Provider,
		Logger:     logger,
	})

	// Optional Redis embedding cache
	var embedder domain.Embedder = baseEmbedder
	var cacheStore *dbRedis.Store
	if len(cfg.Cache.Addrs) > 0 {
		cacheStore, err = dbRedis.NewStore(dbRedis.Config{
			Addrs:    cfg.Cache.Addrs,
			Password: cfg.Cache.Password,
		})
		if err != nil {
			return fmt.Errorf("create cache store: %w", err)
		}
		defer cacheStore.Close()

		if err := cacheStore.WaitForReady(ctx, 10*time.Second); err != nil {
			return fmt.Errorf("cache not ready: %w", err)
		}

		ttl := time.Duration(cfg.Cache.TTLHours) * time.Hour
		embedder = embcache.New(baseEmbedder, cacheStore, ttl, metrics.EmbeddingCacheTotal, logger)
		logger.Info("Embedding cache enabled",
			zap.Strings("addrs", cfg.Cache.Addrs),
			zap.Duration("ttl", ttl),
		)
	}

	// Durable product store
	repo, err := catalogrepo.Open(cfg.Storage.Path, cfg.Storage.InMemory, logger)
	if err != nil {
		return fmt.Errorf("open product store: %w", err)
	}
	defer func() { _ = repo.Close() }()

	// In-memory index with copy-on-write snapshots
	store := index.NewStore()

	catalogSvc, err := cataloguc.New(
		store, repo, embedder,
		cfg.Ingest.Workers, cfg.Ingest.MaxBatchSize, logger,
	)
	if err != nil {
		return fmt.Errorf("create catalog service: %w", err)
	}
	defer catalogSvc.Release()

	restored, err := catalogSvc.Restore(ctx)
	if err != nil {
		return fmt.Errorf("restore catalog: %w", err)
	}
	logger.Info("Catalog restored", zap.Int("products", restored))

	embedTimeout := time.Duration(cfg.Embedding.TimeoutSec) * time.Second
	searchSvc := searchuc.New(store, embedder, embedTimeout, logger)

	// Pass nil interface (not typed nil pointer!) when the cache is off.
	// Go gotcha: (*dbRedis.Store)(nil) wrapped in CachePinger != nil.
	var cachePinger healthuc.CachePinger
	if cacheStore != nil {
		cachePinger = cacheStore
	}
	healthSvc := healthuc.New(baseEmbedder, cachePinger)

	server := chiTransport.NewServer(searchSvc, catalogSvc, healthSvc, cfg.SearchDefaults(), logger)

	r := chi.NewRouter()
	r.Use(jsonRecoverer(logger))
	r.Use(chiMiddleware.RequestID)
	r.Use(wideEventMiddleware(logger))
	r.Use(chiTransport.BearerAuthMiddleware(cfg.Auth.APIKeys))
	r.Use(metrics.Middleware())
	server.Register(r)

	addr := fmt.Sprintf(":%d", cfg.HTTP.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeoutSec) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeoutSec) * time.Second,
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Info("Starting HTTP server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server error", zap.Error(err))
		}
	}()

	<-quit
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(), time.Duration(cfg.HTTP.ShutdownSec)*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Error during shutdown", zap.Error(err))
	}

	logger.Info("Server stopped gracefully")
	return nil
}

// jsonRecoverer is a recovery middleware that returns JSON instead of a plain text stacktrace.
func jsonRecoverer(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rvr := recover(); rvr != nil {
					logger.Error("panic recovered",
						zap.Any("panic", rvr),
						zap.Stack("stacktrace"),
					)
					w.Header().Set("Content-Type", "application/json")
					w.WriteHeader(http.StatusInternalServerError)
					_ = json.NewEncoder(w).Encode(map[string]string{
						"code":    "internal_error",
						"message": "internal error",
					})
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// wideEventMiddleware emits a canonical log line per request and propagates X-Request-ID.
func wideEventMiddleware(logger *zap.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := chiMiddleware.GetReqID(r.Context())
			if requestID != "" {
				w.Header().Set("X-Request-ID", requestID)
			}

			reqLogger := logger.With(zap.String("request_id", requestID))
			ctx := logpkg.ContextWithLogger(r.Context(), reqLogger)

			ww := chiMiddleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r.WithContext(ctx))

			reqLogger.Info("http_request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("latency", time.Since(start)),
				zap.String("ip", r.RemoteAddr),
				zap.Int64("content_length", r.ContentLength),
				zap.String("user_agent", r.UserAgent()),
				zap.Int("response_bytes", ww.BytesWritten()),
			)
		})
	}
}
