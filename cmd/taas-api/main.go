// Package main provides the TaaS admission API: the HTTP surface that
// accepts test submissions, enqueues jobs, and serves back status, results,
// and artifacts.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ratemate/taas/internal/api"
	"github.com/ratemate/taas/internal/api/middleware"
	"github.com/ratemate/taas/internal/config"
	"github.com/ratemate/taas/internal/notifier"
	"github.com/ratemate/taas/internal/objectstore"
	"github.com/ratemate/taas/internal/queue"
	"github.com/ratemate/taas/internal/ratelimit"
	"github.com/ratemate/taas/internal/storage"
)

const (
	version = "1.0.0-dev"
	name    = "taas-api"
)

func main() {
	versionFlag := flag.Bool("version", false, "show version information")
	flag.Parse()

	if *versionFlag {
		log.Printf("%s v%s\n", name, version)
		os.Exit(0)
	}

	serverConfig := api.LoadServerConfig()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: serverConfig.LogLevel}))
	logger.Info("starting admission API", slog.String("service", name), slog.String("version", version))

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
	apiKeys := storage.NewAPIKeyStore(conn)

	var (
		jobs        *queue.Queue
		rateLimiter middleware.RateLimiter
	)

	if redisURL := config.GetEnvStr("REDIS_URL", ""); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", slog.String("error", err.Error()))
			os.Exit(1)
		}

		redisClient := redis.NewClient(opts)
		jobs = queue.New(redisClient)
		rateLimiter = ratelimit.New(redisClient, serverConfig.LegacyAPIKey)
	} else {
		logger.Warn("REDIS_URL not configured - queue and rate limiting disabled")
	}

	var objects *objectstore.Store

	if bucket := config.GetEnvStr("S3_BUCKET", ""); bucket != "" {
		objects, err = objectstore.New(context.Background(), objectstore.Config{
			Endpoint:       config.GetEnvStr("S3_ENDPOINT", ""),
			PublicEndpoint: config.GetEnvStr("S3_PUBLIC_ENDPOINT", ""),
			Region:         config.GetEnvStr("S3_REGION", "us-east-1"),
			Bucket:         bucket,
			AccessKeyID:    config.GetEnvStr("S3_ACCESS_KEY", ""),
			SecretKey:      config.GetEnvStr("S3_SECRET_KEY", ""),
			UsePathStyle:   true,
		}, time.Duration(serverConfig.ArtifactTTLSeconds)*time.Second)
		if err != nil {
			logger.Error("failed to configure object store", slog.String("error", err.Error()))
			os.Exit(1)
		}

		if err := objects.EnsureBucket(context.Background()); err != nil {
			logger.Error("failed to ensure bucket exists", slog.String("error", err.Error()))
			os.Exit(1)
		}
	} else {
		logger.Warn("S3_BUCKET not configured - artifact and baseline endpoints disabled")
	}

	notify := notifier.New(config.GetEnvStr("SLACK_WEBHOOK_URL", ""), 5*time.Second)

	server := api.NewServer(serverConfig, sessions, results, apiKeys, jobs, objects, rateLimiter, notify)

	if err := server.Start(); err != nil {
		logger.Error("server failed to start", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("admission API stopped")
}

// buildDatabaseURLFromPGVars assembles a postgres:// DSN from the PG*
// environment variables shared with cmd/taas-migrate and cmd/taas-worker.
func buildDatabaseURLFromPGVars() string {
	host := config.GetEnvStr("PGHOST", "postgres")
	port := config.GetEnvStr("PGPORT", "5432")
	user := config.GetEnvStr("PGUSER", "taas")
	password := config.GetEnvStr("PGPASSWORD", "taas")
	dbname := config.GetEnvStr("PGDATABASE", "taas")

	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", user, password, host, port, dbname)
}
