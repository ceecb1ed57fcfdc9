// Package main provides the TaaS worker: dequeues admitted test sessions
// and runs them against the web or mobile executor, persisting results and
// artifacts and evaluating policy.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/ratemate/taas/internal/browser"
	"github.com/ratemate/taas/internal/config"
	"github.com/ratemate/taas/internal/executor/mobile"
	"github.com/ratemate/taas/internal/executor/web"
	"github.com/ratemate/taas/internal/notifier"
	"github.com/ratemate/taas/internal/objectstore"
	"github.com/ratemate/taas/internal/policy"
	"github.com/ratemate/taas/internal/queue"
	"github.com/ratemate/taas/internal/sidecar/lighthouse"
	"github.com/ratemate/taas/internal/sidecar/mobsf"
	"github.com/ratemate/taas/internal/sidecar/zap"
	"github.com/ratemate/taas/internal/storage"
	"github.com/ratemate/taas/internal/worker"
)

const (
	version            = "1.0.0-dev"
	name               = "taas-worker"
	defaultConcurrency = 4
	sidecarTimeout     = 30 * time.Second
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	logLevel := config.GetEnvLogLevel("LOG_LEVEL", slog.LevelInfo)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	logger.Info("starting worker", slog.String("service", name), slog.String("version", version))

	if os.Getenv("DATABASE_URL") == "" {
		os.Setenv("DATABASE_URL", buildDatabaseURLFromPGVars())
	}

	dbConfig := storage.LoadConfig()
	if err := dbConfig.Validate(); err != nil {
		logger.Error("invalid database configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	conn, err := storage.NewConnection(dbConfig)
	if err != nil {
		logger.Error("failed to connect to database", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer conn.Close()

	sessions := storage.NewSessionStore(conn)
	results := storage.NewResultStore(conn)

	redisURL := config.GetEnvStr("REDIS_URL", "redis://localhost:6379/0")

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		logger.Error("invalid REDIS_URL", slog.String("error", err.Error()))
		os.Exit(1)
	}

	redisClient := redis.NewClient(opts)
	jobs := queue.New(redisClient)

	objects, err := objectstore.New(context.Background(), objectstore.Config{
		Endpoint:       config.GetEnvStr("S3_ENDPOINT", ""),
		PublicEndpoint: config.GetEnvStr("S3_PUBLIC_ENDPOINT", ""),
		Region:         config.GetEnvStr("S3_REGION", "us-east-1"),
		Bucket:         config.GetEnvStr("S3_BUCKET", "taas-artifacts"),
		AccessKeyID:    config.GetEnvStr("S3_ACCESS_KEY", ""),
		SecretKey:      config.GetEnvStr("S3_SECRET_KEY", ""),
		UsePathStyle:   true,
	}, time.Duration(config.GetEnvInt("ARTIFACT_TTL_SECONDS", 900))*time.Second)
	if err != nil {
		logger.Error("failed to configure object store", slog.String("error", err.Error()))
		os.Exit(1)
	}

	if err := objects.EnsureBucket(context.Background()); err != nil {
		logger.Error("failed to ensure bucket exists", slog.String("error", err.Error()))
		os.Exit(1)
	}

	webExecutor := web.New(
		browser.New(sidecarTimeout),
		browser.ObjectStoreBaselines{Objects: objects},
		jobs,
		browser.CompareImages,
	)

	var mobileExecutor *mobile.Executor

	if mobsfURL := config.GetEnvStr("MOBSF_URL", ""); mobsfURL != "" {
		mobileExecutor = mobile.New(mobsf.New(mobsfURL, config.GetEnvStr("MOBSF_API_KEY", ""), sidecarTimeout))
	} else {
		logger.Warn("MOBSF_URL not configured - mobile static analysis disabled")
		mobileExecutor = mobile.New(nil)
	}

	var lighthouseClient *lighthouse.Client

	if url := config.GetEnvStr("PERF_LIGHTHOUSE_URL", ""); url != "" {
		lighthouseClient = lighthouse.New(url, sidecarTimeout)
	} else {
		logger.Warn("PERF_LIGHTHOUSE_URL not configured - performance scanning disabled")
	}

	var zapClient *zap.Client

	if url := config.GetEnvStr("ZAP_URL", ""); url != "" {
		zapClient = zap.New(url, config.GetEnvStr("ZAP_API_KEY", ""), sidecarTimeout)
	} else {
		logger.Warn("ZAP_URL not configured - security scanning disabled")
	}

	thresholds := policy.Thresholds{
		PerfScoreMin:  config.GetEnvFloat("PERF_SCORE_MIN", 80),
		PerfLCPMaxMS:  config.GetEnvFloat("PERF_LCP_MAX_MS", 2500),
		PerfCLSMax:    config.GetEnvFloat("PERF_CLS_MAX", 0.1),
		PerfTTIMaxMS:  config.GetEnvFloat("PERF_TTI_MAX_MS", 5000),
		ZAPAllowHigh:  config.GetEnvInt("ZAP_ALLOW_HIGH", 0),
		ZAPAllowMed:   config.GetEnvInt("ZAP_ALLOW_MEDIUM", 0),
		VisualMaxDiff: config.GetEnvFloat("VISUAL_THRESHOLD_PCT", 0.1),
	}

	notify := notifier.New(config.GetEnvStr("SLACK_WEBHOOK_URL", ""), 5*time.Second)

	handler := &worker.SessionHandler{
		Web:        webExecutor,
		Mobile:     mobileExecutor,
		Lighthouse: lighthouseClient,
		ZAP:        zapClient,
		Sessions:   sessions,
		Results:    results,
		Objects:    objects,
		Notifier:   notify,
		Thresholds: thresholds,
		Cancel:     jobs,
		ResultsDir: config.GetEnvStr("TAAS_RESULTS_DIR", "./data/results"),
		Logger:     logger,
	}

	pool := &worker.Pool{
		Queue:       jobs,
		Handler:     handler,
		WorkerID:    fmt.Sprintf("%s-%s", name, uuid.NewString()),
		Concurrency: config.GetEnvInt("WORKER_CONCURRENCY", defaultConcurrency),
		Logger:      logger,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := pool.Run(ctx); err != nil {
		logger.Error("worker pool stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("worker stopped")
}

// buildDatabaseURLFromPGVars assembles a postgres:// DSN from the PG*
// environment variables shared with cmd/taas-migrate and cmd/taas-api.
func buildDatabaseURLFromPGVars() string {
	host := config.GetEnvStr("PGHOST", "postgres")
	port := config.GetEnvStr("PGPORT", "5432")
	user := config.GetEnvStr("PGUSER", "taas")
	password := config.GetEnvStr("PGPASSWORD", "taas")
	dbname := config.GetEnvStr("PGDATABASE", "taas")

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, dbname)
}
