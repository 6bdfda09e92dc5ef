package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/zombar/newsranker/internal/api"
	"github.com/zombar/newsranker/internal/backends"
	"github.com/zombar/newsranker/internal/config"
	"github.com/zombar/newsranker/internal/database"
	"github.com/zombar/newsranker/internal/metrics"
	"github.com/zombar/newsranker/internal/queue"
	"github.com/zombar/newsranker/internal/scorer"
	"github.com/zombar/newsranker/internal/selection"
	"github.com/zombar/newsranker/internal/selector"
	"github.com/zombar/newsranker/internal/tracing"
	"github.com/zombar/newsranker/pkg/logging"
)

const serviceName = "newsranker"

func main() {
	var (
		configPath = flag.String("config", getEnv("NEWSRANKER_CONFIG", "newsranker.yaml"), "Config file path (env: NEWSRANKER_CONFIG)")
		port       = flag.String("port", "", "Server port, overrides config (env: PORT)")
		dbPath     = flag.String("db", "", "Database file path, overrides config (env: DB_PATH)")
		noWorker   = flag.Bool("no-worker", getEnvBool("NO_WORKER", false), "Do not run the scoring worker in this process (env: NO_WORKER)")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err, "path", *configPath)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Server.Port = *port
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	logger, err := logging.New(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		slog.Error("failed to create logger", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	logger.Info("newsranker service initializing", "version", "1.0.0")

	// Initialize tracing
	tp, err := tracing.InitTracer(serviceName)
	if err != nil {
		logger.Warn("failed to initialize tracer, continuing without tracing", "error", err)
	} else {
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logger.Error("error shutting down tracer", "error", err)
			}
		}()
		logger.Info("tracing initialized successfully")
	}

	// Initialize database
	db, err := database.New(cfg.Database.Path)
	if err != nil {
		logger.Error("failed to initialize database", "error", err, "database_path", cfg.Database.Path)
		os.Exit(1)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}

	reg := newRegistry(db)
	m := metrics.New(serviceName, reg)

	chain, err := backends.Build(cfg.Providers, logger, m)
	if err != nil {
		logger.Error("failed to initialize providers", "error", err)
		os.Exit(1)
	}
	logger.Info("provider chain initialized", "providers", chain.Names())

	sc := scorer.New(chain, chain.Primary(), cfg.Scoring.ScorerConfig(),
		scorer.WithLogger(logger),
		scorer.WithMetrics(m),
	)
	runner := selection.NewRunner(db, selector.New(selector.WithLogger(logger), selector.WithMetrics(m)), logger)

	// Queue client and worker
	var enqueuer api.Enqueuer
	if cfg.Redis.Addr != "" {
		client := queue.NewClient(queue.ClientConfig{RedisAddr: cfg.Redis.Addr})
		defer client.Close()
		enqueuer = client

		if !*noWorker {
			worker := queue.NewWorker(queue.WorkerConfig{
				RedisAddr:   cfg.Redis.Addr,
				Concurrency: cfg.Redis.Concurrency,
			}, queue.NewHandler(sc, db, logger), logger)
			if err := worker.Start(); err != nil {
				logger.Warn("failed to start scoring worker, queued documents will wait", "error", err, "redis_addr", cfg.Redis.Addr)
			} else {
				defer worker.Shutdown()
				logger.Info("scoring worker started", "redis_addr", cfg.Redis.Addr, "concurrency", cfg.Redis.Concurrency)
			}
		}
	} else {
		logger.Info("redis not configured, asynchronous scoring disabled")
	}

	// Scheduled selection
	if cfg.Selection.Schedule != "" {
		c, err := runner.Schedule(ctx, cfg.Selection.Schedule, selection.Request{
			Params: cfg.Selection.Params,
			Window: cfg.Selection.Window,
		})
		if err != nil {
			logger.Error("failed to schedule selection", "error", err)
			os.Exit(1)
		}
		c.Start()
		defer func() { <-c.Stop().Done() }()
	}

	apiHandler := api.NewHandler(api.Config{
		Scorer:        sc,
		Store:         db,
		Queue:         enqueuer,
		Selection:     runner,
		DefaultParams: cfg.Selection.Params,
		DefaultWindow: cfg.Selection.Window,
		CORSOrigins:   cfg.Server.CORSOrigins,
		Gatherer:      reg,
		Logger:        logger,
	})

	// Wrap handler with middleware chain: HTTP logging -> tracing -> handlers
	handler := logging.HTTPLoggingMiddleware(logger)(
		tracing.HTTPMiddleware(serviceName)(apiHandler),
	)

	// Create server with extended timeouts for LLM scoring
	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 420 * time.Second, // Scoring plus four summaries
		IdleTimeout:  120 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("newsranker service starting",
			"port", cfg.Server.Port,
			"database", cfg.Database.Path,
			"providers", chain.Names(),
			"schedule", cfg.Selection.Schedule,
		)

		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	<-ctx.Done()

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

// newRegistry creates the metrics registry with runtime, process and
// database pool collectors
func newRegistry(db *database.DB) *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewDBStatsCollector(db.Conn(), serviceName),
	)
	return reg
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "Usage: %s [flags]\n\nRuns the newsranker HTTP API and scoring worker.\n\n", os.Args[0])
		flag.PrintDefaults()
	}
}
