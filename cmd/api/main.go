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
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/reviewdeck/harvester"
	"github.com/reviewdeck/harvester/api"
	"github.com/reviewdeck/harvester/db"
	"github.com/reviewdeck/harvester/internal/metrics"
	"github.com/reviewdeck/harvester/internal/tracing"
	"github.com/reviewdeck/harvester/storage"
)

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	// Setup structured logging with JSON output
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	logger.Info("review harvester initializing", "version", "1.0.0")

	// Initialize tracing
	tp, err := tracing.InitTracer("review-harvester")
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

	// Default values
	defaultPort := getEnv("PORT", "8080")
	defaultClassifierURL := getEnv("CLASSIFIER_URL", "http://localhost:11434")
	defaultClassifierModel := getEnv("CLASSIFIER_MODEL", "llama3.2:3b")
	defaultRedisAddr := getEnv("REDIS_ADDR", "")
	defaultStorageBackend := getEnv("STORAGE_BACKEND", "filesystem")
	defaultStoragePath := getEnv("STORAGE_BASE_PATH", "./snapshots")
	defaultRenderEngine := getEnv("RENDER_ENGINE", "auto")
	defaultLexiconPath := getEnv("LEXICON_PATH", "")
	defaultFreshness := getEnv("FRESHNESS_WINDOW", "168h")

	// Parse freshness window
	freshnessWindow, err := time.ParseDuration(defaultFreshness)
	if err != nil || freshnessWindow <= 0 {
		logger.Warn("invalid FRESHNESS_WINDOW value, using default",
			"provided", defaultFreshness,
			"default", "168h",
			"error", err,
		)
		freshnessWindow = 168 * time.Hour
	}

	// Parse redis database index
	redisDB := 0
	if dbStr := getEnv("REDIS_DB", ""); dbStr != "" {
		redisDB, err = strconv.Atoi(dbStr)
		if err != nil {
			logger.Warn("invalid REDIS_DB value, using default",
				"provided", dbStr,
				"default", 0,
				"error", err,
			)
			redisDB = 0
		}
	}

	// Command-line flags (override environment variables)
	port := flag.String("port", defaultPort, "Server port")
	classifierURL := flag.String("classifier-url", defaultClassifierURL, "Review classifier base URL (empty disables classification)")
	classifierModel := flag.String("classifier-model", defaultClassifierModel, "Model name for review classification")
	redisAddr := flag.String("redis-addr", defaultRedisAddr, "Redis address for response caching (empty disables caching)")
	storageBackend := flag.String("storage-backend", defaultStorageBackend, "Snapshot archive backend: filesystem, s3 or off")
	storagePath := flag.String("storage-path", defaultStoragePath, "Base path for filesystem snapshot archive")
	renderEngine := flag.String("render-engine", defaultRenderEngine, "Headless render engine: auto, playwright, chromedp or off")
	lexiconPath := flag.String("lexicon", defaultLexiconPath, "YAML file with lexicon overrides")
	freshness := flag.Duration("freshness-window", freshnessWindow, "Age below which persisted reviews are served without refetching")
	disableCORS := flag.Bool("disable-cors", false, "Disable CORS")
	flag.Parse()

	// PostgreSQL database configuration (required)
	dbHost := getEnv("DB_HOST", "")
	if dbHost == "" {
		logger.Error("DB_HOST environment variable is required")
		os.Exit(1)
	}

	dbPort := getEnv("DB_PORT", "5432")
	dbUser := getEnv("DB_USER", "reviewdeck")
	dbPassword := getEnv("DB_PASSWORD", "reviewdeck_dev_pass")
	dbName := getEnv("DB_NAME", "reviewdeck")

	dbConfig := db.Config{
		DSN: fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=disable", dbHost, dbPort, dbUser, dbPassword, dbName),
	}
	logger.Info("using PostgreSQL database", "host", dbHost, "port", dbPort, "database", dbName)

	harvesterConfig := harvester.DefaultConfig()
	harvesterConfig.ClassifierURL = *classifierURL
	harvesterConfig.ClassifierModel = *classifierModel
	harvesterConfig.FreshnessWindow = *freshness

	// Create server configuration
	config := api.Config{
		Addr:            ":" + *port,
		DBConfig:        dbConfig,
		HarvesterConfig: harvesterConfig,
		CORSEnabled:     !*disableCORS,
		StorageBackend:  *storageBackend,
		StoragePath:     *storagePath,
		S3: storage.S3Config{
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			Region:          getEnv("S3_REGION", ""),
			Bucket:          getEnv("S3_BUCKET", ""),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			UsePathStyle:    getEnv("S3_USE_PATH_STYLE", "") == "true",
		},
		RedisAddr:     *redisAddr,
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       redisDB,
		RenderEngine:  *renderEngine,
		LexiconPath:   *lexiconPath,
	}

	// Create server
	server, err := api.NewServer(config)
	if err != nil {
		logger.Error("failed to create server", "error", err)
		os.Exit(1)
	}

	// Initialize database metrics
	dbMetrics := metrics.NewDatabaseMetrics("harvester")
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for range ticker.C {
			dbMetrics.UpdateDBStats(server.DB().DB())
		}
	}()
	logger.Info("database metrics initialized")

	// Prune aged page snapshots so the archive does not grow unbounded
	if archive := server.Archive(); archive != nil {
		go func() {
			ticker := time.NewTicker(1 * time.Hour)
			defer ticker.Stop()
			for range ticker.C {
				pruned, err := storage.PruneSnapshots(context.Background(), archive, 30*24*time.Hour)
				if err != nil {
					logger.Warn("snapshot prune failed", "error", err)
					continue
				}
				if pruned > 0 {
					logger.Info("pruned aged snapshots", "count", pruned)
				}
			}
		}()
		logger.Info("snapshot pruning initialized", "backend", *storageBackend)
	}

	// Start server in a goroutine
	go func() {
		logger.Info("review harvester starting",
			"port", *port,
			"database_host", dbHost,
			"database_name", dbName,
			"classifier_url", *classifierURL,
			"classifier_model", *classifierModel,
			"redis_addr", *redisAddr,
			"storage_backend", *storageBackend,
			"render_engine", *renderEngine,
			"freshness_window", freshness.String(),
		)

		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	// Graceful shutdown
	logger.Info("shutting down gracefully")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Error("server shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}
