// Package server wires the beacond HTTP API: the collect pipeline
// (origin allowlist, session resolution, validation) and the
// token-authenticated dashboard API.
package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/beacond-dev/beacond/internal/auth"
	"github.com/beacond-dev/beacond/internal/cache"
	"github.com/beacond-dev/beacond/internal/config"
	"github.com/beacond-dev/beacond/internal/models"
	"github.com/beacond-dev/beacond/internal/sessions"
	"github.com/beacond-dev/beacond/internal/users"
)

// Server represents the HTTP server
type Server struct {
	router      *gin.Engine
	db          *gorm.DB
	config      *config.Config
	logger      zerolog.Logger
	validate    *validator.Validate
	asynqClient *asynq.Client
	cache       *cache.Client
	users       *users.Service
	sessions    *sessions.Service
	resolver    *auth.Resolver
	version     string
}

// New creates a new server instance
func New(cfg *config.Config, zlog zerolog.Logger, version string) (*Server, error) {
	db, err := initDatabase(cfg, zlog)
	if err != nil {
		return nil, err
	}

	if err := models.AutoMigrate(db); err != nil {
		return nil, err
	}

	// Token signing for auth and share tokens
	auth.InitSecret(cfg.AppSecret)

	cacheClient := cache.New(cfg.Redis.Address, cfg.Redis.CacheEnabled)
	usersService := users.NewService(db, zlog)
	sessionsService := sessions.NewService(db, cfg.AppSecret, zlog)
	resolver := auth.NewResolver(usersService, cacheClient)

	// Asynq client for enqueueing rollup tasks from the API
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr: cfg.Redis.Address,
	})

	server := &Server{
		db:          db,
		config:      cfg,
		logger:      zlog,
		validate:    validator.New(),
		asynqClient: asynqClient,
		cache:       cacheClient,
		users:       usersService,
		sessions:    sessionsService,
		resolver:    resolver,
		version:     version,
	}

	server.setupRouter()

	return server, nil
}

// initDatabase initializes the database connection with production settings
func initDatabase(cfg *config.Config, zlog zerolog.Logger) (*gorm.DB, error) {
	const (
		maxOpenConns    = 8
		maxIdleConns    = 4
		connMaxLifetime = 300 * time.Second
		busyTimeout     = 5000 // milliseconds
	)

	db, err := gorm.Open(sqlite.Open(cfg.Database.URL), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Error),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sqlDB.SetMaxOpenConns(maxOpenConns)
	sqlDB.SetMaxIdleConns(maxIdleConns)
	sqlDB.SetConnMaxLifetime(connMaxLifetime)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// WAL mode first: the collect path writes on every pageview
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		fmt.Sprintf("PRAGMA busy_timeout=%d", busyTimeout),
		"PRAGMA foreign_keys=1",
	}

	for _, pragma := range pragmas {
		if err := db.Exec(pragma).Error; err != nil {
			zlog.Warn().Str("pragma", pragma).Err(err).Msg("Failed to apply pragma")
		}
	}

	return db, nil
}

// collectSchema validates the tracker payload before it reaches the handler
var collectSchema = Schema{
	http.MethodPost: Rules{
		"website": "required",
		"url":     "required",
	},
}

// loginSchema validates dashboard login requests
var loginSchema = Schema{
	http.MethodPost: Rules{
		"username": "required",
		"password": "required",
	},
}

// setupRouter configures the Gin router with routes and middleware
func (s *Server) setupRouter() {
	gin.SetMode(gin.ReleaseMode)

	s.router = gin.New()
	s.router.Use(gin.Recovery())
	s.router.Use(s.loggingMiddleware())

	// Dashboard CORS sits on the engine, not the route group: preflights
	// arrive as OPTIONS requests with no registered route, and group
	// middleware never runs for those. The collect pipeline carries its
	// own origin allowlist, so its paths are exempt here.
	dashboardCORS := cors.New(cors.Config{
		AllowOrigins:     []string{"http://localhost:3000"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", auth.ShareTokenHeader},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           time.Duration(s.config.CORS.MaxAge) * time.Second,
	})
	s.router.Use(func(c *gin.Context) {
		if isCollectPath(c.Request.URL.Path) {
			c.Next()
			return
		}
		dashboardCORS(c)
	})

	// Health check endpoint (no auth required)
	s.router.GET("/health", s.healthCheck)

	// Collect pipeline: allowlist CORS -> session -> validation -> handler.
	// The tracker script runs on third-party pages, so these routes get the
	// exact-match origin allowlist instead of the dashboard CORS policy.
	collect := s.router.Group("/api")
	collect.Use(CORSMiddleware(s.config.CORS.AllowedOrigins, s.config.CORS.MaxAge, s.logger))
	{
		// Preflight is answered by the CORS middleware itself
		collect.OPTIONS("/send", func(c *gin.Context) {})
		collect.POST("/send",
			SessionMiddleware(s.sessions, s.logger),
			ValidateMiddleware(s.validate, collectSchema, s.logger),
			s.collect)

		// Share links are embedded cross-origin too
		collect.GET("/share/:shareId", s.getShareToken)
	}

	// Dashboard API: first-party UI routes, CORS handled at the engine
	api := s.router.Group("/api")
	{
		api.POST("/auth/login",
			ValidateMiddleware(s.validate, loginSchema, s.logger),
			s.login)

		authed := api.Group("")
		authed.Use(AuthMiddleware(s.resolver, s.config.IsDevelopment(), s.logger))
		{
			authed.GET("/auth/me", s.getCurrentUser)

			authed.GET("/websites", s.listWebsites)
			authed.POST("/websites", s.createWebsite)
			authed.GET("/websites/:id", s.getWebsite)
			authed.DELETE("/websites/:id", s.deleteWebsite)
			authed.GET("/websites/:id/stats", s.getWebsiteStats)
			authed.POST("/websites/:id/rollup", s.triggerRollup)
		}
	}
}

// isCollectPath reports whether a path belongs to the collect pipeline,
// which enforces its own exact-match origin allowlist
func isCollectPath(path string) bool {
	return path == "/api/send" || strings.HasPrefix(path, "/api/share/")
}

// loggingMiddleware creates a custom logging middleware using zerolog
func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		s.logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("HTTP request")
	}
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "online",
		"timestamp": time.Now().UTC(),
		"service":   "beacond-api",
		"version":   s.version,
	})
}

// GetDB returns the database connection for use by workers
func (s *Server) GetDB() *gorm.DB {
	return s.db
}

// Router exposes the handler for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until shutdown
func (s *Server) Start() error {
	addr := ":" + s.config.Port

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		s.logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("HTTP server error")
		}
	}()

	<-sigChan
	s.logger.Info().Msg("Received shutdown signal, shutting down gracefully...")

	if err := s.asynqClient.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Error closing Asynq client")
	}
	if err := s.cache.Close(); err != nil {
		s.logger.Warn().Err(err).Msg("Error closing cache client")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		s.logger.Error().Err(err).Msg("Error shutting down HTTP server")
		return err
	}

	if sqlDB, err := s.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			s.logger.Error().Err(err).Msg("Error closing database")
		}
	}

	s.logger.Info().Msg("Server shutdown complete")
	return nil
}
