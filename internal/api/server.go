package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/mealbridge/services/dispatch/config"
	"example.com/mealbridge/services/dispatch/internal/api/handlers"
	"example.com/mealbridge/services/dispatch/internal/auth"
	"example.com/mealbridge/services/dispatch/internal/metrics"
	"example.com/mealbridge/services/dispatch/internal/service"
	"example.com/mealbridge/services/dispatch/internal/tracing"
)

// Server represents the HTTP server
type Server struct {
	config     config.Config
	router     *gin.Engine
	httpServer *http.Server

	accounts *service.AccountService
	offers   *service.OfferService
	tokens   *auth.Tokens
	metrics  *metrics.Metrics
	tracer   tracing.Tracer
}

// NewServer creates a new HTTP server
func NewServer(
	cfg config.Config,
	accounts *service.AccountService,
	offers *service.OfferService,
	tokens *auth.Tokens,
	collector *metrics.Metrics,
	tracer tracing.Tracer,
) *Server {
	server := &Server{
		config:   cfg,
		accounts: accounts,
		offers:   offers,
		tokens:   tokens,
		metrics:  collector,
		tracer:   tracer,
	}

	server.router = server.setupRouter()
	server.httpServer = &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      server.router,
		ReadTimeout:  cfg.ServerTimeout,
		WriteTimeout: cfg.ServerTimeout,
	}

	return server
}

// setupRouter configures the HTTP router
func (s *Server) setupRouter() *gin.Engine {
	if s.config.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(RequestIDMiddleware())
	router.Use(LoggingMiddleware(s.metrics))
	if s.config.CorsEnabled {
		router.Use(CORSMiddleware())
	}

	v1 := router.Group("/api/v1")
	protected := router.Group("/api/v1")
	protected.Use(AuthMiddleware(s.tokens))

	authHandler := handlers.NewAuthHandler(s.accounts, s.tracer)
	authHandler.RegisterRoutes(v1, protected)

	offerHandler := handlers.NewOfferHandler(s.offers, s.accounts, s.tracer)
	offerHandler.RegisterRoutes(v1, protected)

	metricsHandler := handlers.NewMetricsHandler(s.metrics, s.tracer)
	metricsHandler.RegisterRoutes(router)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	return router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	log.Info().Str("address", s.config.ServerAddress).Msg("Starting HTTP server")

	if err := s.httpServer.ListenAndServe(); err != nil {
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "HTTP server error")
	}

	return nil
}

// Shutdown gracefully stops the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	log.Info().Msg("Shutting down HTTP server")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown error")
	}

	log.Info().Msg("HTTP server shut down successfully")
	return nil
}
