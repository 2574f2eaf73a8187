package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/reviewdeck/harvester"
	"github.com/reviewdeck/harvester/cache"
	"github.com/reviewdeck/harvester/db"
	"github.com/reviewdeck/harvester/models"
	"github.com/reviewdeck/harvester/storage"
)

// Server represents the API server
type Server struct {
	db          *db.DB
	harvester   *harvester.Harvester
	archive     storage.Archive
	cache       *cache.Cache
	addr        string
	server      *http.Server
	mux         *http.ServeMux
	corsEnabled bool
}

// Config contains server configuration
type Config struct {
	Addr            string
	DBConfig        db.Config
	HarvesterConfig harvester.Config
	CORSEnabled     bool

	// Snapshot archive backend: "filesystem", "s3" or "off".
	StorageBackend string
	StoragePath    string
	S3             storage.S3Config

	// Response cache; left disabled when RedisAddr is empty.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Render engine: "auto", "playwright", "chromedp" or "off".
	RenderEngine string

	// Optional YAML file merged over the built-in lexicon.
	LexiconPath string
}

// DefaultConfig returns default server configuration
func DefaultConfig() Config {
	return Config{
		Addr:            ":8080",
		HarvesterConfig: harvester.DefaultConfig(),
		CORSEnabled:     true,
		StorageBackend:  "filesystem",
		StoragePath:     "./snapshots",
		RenderEngine:    "auto",
	}
}

// NewServer creates a new API server
func NewServer(config Config) (*Server, error) {
	// Initialize database
	database, err := db.New(config.DBConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	// Initialize snapshot archive
	archive, err := newArchive(config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize snapshot archive: %w", err)
	}

	lexicon := harvester.DefaultLexicon()
	if config.LexiconPath != "" {
		lexicon, err = harvester.LoadLexicon(config.LexiconPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load lexicon: %w", err)
		}
	}

	// Probe for a headless renderer once at startup; static-only operation
	// is degraded but valid, so a missing browser is not fatal.
	renderer, err := harvester.ProbeRenderer(config.RenderEngine, config.HarvesterConfig.UserAgent)
	if err != nil {
		log.Printf("No renderer available, JavaScript-walled pages will be skipped: %v", err)
	}
	if renderer != nil {
		log.Printf("Using render engine: %s", renderer.Name())
	}

	// The response cache is optional. respCache stays a true nil interface
	// when Redis is unconfigured or unreachable so the harvester skips it.
	var respCache harvester.ResponseCache
	var cacheClient *cache.Cache
	if config.RedisAddr != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		c, cerr := cache.New(ctx, cache.Config{
			Address:  config.RedisAddr,
			Password: config.RedisPassword,
			DB:       config.RedisDB,
		})
		cancel()
		if cerr != nil {
			log.Printf("Redis unavailable, responses will not be cached: %v", cerr)
		} else {
			respCache = c
			cacheClient = c
		}
	}

	// Initialize harvester with database, archive, renderer and cache
	harvesterInstance := harvester.New(config.HarvesterConfig, lexicon, database, archive, renderer, respCache)

	s := &Server{
		db:          database,
		harvester:   harvesterInstance,
		archive:     archive,
		cache:       cacheClient,
		addr:        config.Addr,
		mux:         http.NewServeMux(),
		corsEnabled: config.CORSEnabled,
	}

	// Register routes
	s.registerRoutes()

	// Create HTTP server
	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      s.middleware(s.mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // Allow time for long-running harvests
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// newArchive builds the snapshot backend named by the config. It returns a
// nil interface when archiving is disabled so callers can test against nil
// directly.
func newArchive(config Config) (storage.Archive, error) {
	switch config.StorageBackend {
	case "", "off", "none":
		return nil, nil
	case "filesystem", "fs":
		basePath := config.StoragePath
		if basePath == "" {
			basePath = storage.DefaultConfig().BasePath
		}
		return storage.New(storage.Config{BasePath: basePath})
	case "s3":
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return storage.NewS3Storage(ctx, config.S3)
	}
	return nil, fmt.Errorf("unknown storage backend %q", config.StorageBackend)
}

// registerRoutes sets up all API routes
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/api/v1/reviews/community", s.handleCommunityReviews)
	s.mux.HandleFunc("/api/v1/reviews/store", s.handleStoreReviews)
	s.mux.HandleFunc("/api/v1/product/", s.handleProductHarvest) // Handles POST /api/v1/product/{id}/reviews
	s.mux.HandleFunc("/api/v1/products", s.handleCreateProduct)
	s.mux.HandleFunc("/api/v1/products/", s.handleProductReviews) // Handles GET /api/v1/products/{id}/reviews
}

// DB returns the underlying database handle for stats collection
func (s *Server) DB() *db.DB {
	return s.db
}

// Archive returns the snapshot archive, or nil when archiving is disabled
func (s *Server) Archive() storage.Archive {
	return s.archive
}

// Start starts the API server
func (s *Server) Start() error {
	log.Printf("Starting API server on %s", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Println("Shutting down API server...")
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			log.Printf("Failed to close cache client: %v", err)
		}
	}
	return s.db.Close()
}

// middleware applies common middleware to all routes
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CORS headers
		if s.corsEnabled {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == "OPTIONS" {
				w.WriteHeader(http.StatusOK)
				return
			}
		}

		// Logging (skip health checks to reduce noise)
		start := time.Now()
		if r.URL.Path != "/health" {
			log.Printf("%s %s", r.Method, r.URL.Path)
		}

		next.ServeHTTP(w, r)

		if r.URL.Path != "/health" {
			log.Printf("%s %s - completed in %v", r.Method, r.URL.Path, time.Since(start))
		}
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	if err := s.db.DB().PingContext(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"time":   time.Now(),
	})
}

// handleCommunityReviews harvests reddit and forum reviews for a product by
// name, without requiring a registered product row
func (s *Server) handleCommunityReviews(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req models.CommunityReviewsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.ProductName) == "" {
		respondError(w, http.StatusBadRequest, "product_name is required")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	envelope, err := s.harvester.CommunityReviews(ctx, req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("community harvest failed: %v", err))
		return
	}

	respondJSON(w, http.StatusOK, envelope)
}

// handleStoreReviews harvests reviews from the given retail product pages
func (s *Server) handleStoreReviews(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req models.StoreReviewsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(req.ProductName) == "" {
		respondError(w, http.StatusBadRequest, "product_name is required")
		return
	}
	if len(req.StoreURLs) == 0 {
		respondError(w, http.StatusBadRequest, "store_urls is required and must not be empty")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	envelope, err := s.harvester.StoreReviews(ctx, req)
	if err != nil {
		respondError(w, http.StatusInternalServerError, fmt.Sprintf("store harvest failed: %v", err))
		return
	}

	respondJSON(w, http.StatusOK, envelope)
}

// handleProductHarvest handles POST /api/v1/product/{id}/reviews: harvest
// all requested sources for a registered product and persist the results
func (s *Server) handleProductHarvest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	// Extract product ID from path - format: /api/v1/product/{id}/reviews
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/product/")
	id := strings.TrimSuffix(path, "/reviews")
	if id == "" || id == path || strings.Contains(id, "/") {
		respondError(w, http.StatusBadRequest, "product id is required")
		return
	}

	// An empty body means default sources and no forced refresh
	var req models.ProductReviewsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()

	result, err := s.harvester.FetchReviews(ctx, id, req)
	if err != nil {
		switch {
		case errors.Is(err, harvester.ErrProductNotFound):
			respondError(w, http.StatusNotFound, "product not found")
		case errors.Is(err, harvester.ErrUnknownSource):
			respondError(w, http.StatusBadRequest, err.Error())
		default:
			respondError(w, http.StatusInternalServerError, fmt.Sprintf("harvest failed: %v", err))
		}
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// handleProductReviews handles GET /api/v1/products/{id}/reviews: persisted
// reviews for a product with pagination, no refetch
func (s *Server) handleProductReviews(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/v1/products/")
	id := strings.TrimSuffix(path, "/reviews")
	if id == "" || id == path || strings.Contains(id, "/") {
		respondError(w, http.StatusBadRequest, "product id is required")
		return
	}

	// Parse pagination parameters
	limit := 20
	offset := 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		fmt.Sscanf(limitStr, "%d", &limit)
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		fmt.Sscanf(offsetStr, "%d", &offset)
	}

	// Enforce reasonable limits
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	reviews, err := s.db.GetReviewsByProduct(id, limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}

	count, _ := s.db.CountReviews(id)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"reviews": reviews,
		"total":   count,
		"limit":   limit,
		"offset":  offset,
	})
}

// handleCreateProduct registers a product so it can be harvested by ID
func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var product models.Product
	if err := json.NewDecoder(r.Body).Decode(&product); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if strings.TrimSpace(product.Title) == "" {
		respondError(w, http.StatusBadRequest, "title is required")
		return
	}

	if err := s.db.CreateProduct(&product); err != nil {
		respondError(w, http.StatusInternalServerError, "failed to create product")
		return
	}

	respondJSON(w, http.StatusCreated, product)
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
