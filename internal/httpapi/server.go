// Package httpapi exposes every capability as an HTTP route, generalizing
// the teacher's single gin.Engine server to the five capability surfaces
// text-to-text, text-embedding, image-embedding, vision, and
// text-to-image, plus health, model listing, and metrics routes.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/bhangun/wayang-inference/internal/bootstrap"
	"github.com/bhangun/wayang-inference/internal/mcp"
	"github.com/bhangun/wayang-inference/internal/observe"
	"github.com/bhangun/wayang-inference/internal/registry"
)

// Server holds every dependency the HTTP handlers need: the registry (for
// health/model-listing and shutdown), the bound model maps, and ambient
// infrastructure.
type Server struct {
	registry *registry.Registry
	models   *bootstrap.Models
	metrics  *observe.Metrics
	logger   *logrus.Logger
	version  string
	start    time.Time

	engine     *gin.Engine
	httpServer *http.Server
}

// New builds a Server and its gin.Engine, ready to ListenAndServe.
func New(addr string, readTimeout, writeTimeout time.Duration, reg *registry.Registry, models *bootstrap.Models, metrics *observe.Metrics, logger *logrus.Logger, version string) *Server {
	s := &Server{
		registry: reg,
		models:   models,
		metrics:  metrics,
		logger:   logger,
		version:  version,
		start:    time.Now(),
	}
	s.engine = s.routes()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	return s
}

func (s *Server) routes() *gin.Engine {
	if s.logger.Level == logrus.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(loggingMiddleware(s.logger))
	r.Use(corsMiddleware())
	r.Use(rateLimitMiddleware(50, 100))

	r.GET("/health", s.healthHandler)
	r.GET("/ready", s.healthHandler)
	r.GET("/live", s.healthHandler)

	v1 := r.Group("/v1")
	{
		v1.POST("/completions", s.completionHandler)
		v1.POST("/chat/completions", s.completionHandler)
		v1.POST("/embeddings", s.embeddingHandler)
		v1.POST("/images/embeddings", s.imageEmbeddingHandler)
		v1.POST("/vision", s.visionHandler)
		v1.POST("/images/generations", s.imageGenerationHandler)
		v1.GET("/models", s.modelsHandler)
		v1.GET("/metrics", gin.WrapH(metricsHandler()))
	}

	admin := r.Group("/admin")
	{
		admin.POST("/models/:capability", s.registerRuntimeModelHandler)
	}

	// The MCP bridge binds to one text-to-text model, whichever map
	// iteration yields first (not a defined order); a deployment with more
	// than one text-to-text model still only exposes one of them over MCP,
	// and the bridge ignores the model field of incoming requests.
	for _, model := range s.models.TextToText {
		mcp.NewServer(model, s.logger).Register(r)
		break
	}

	return r
}

// Start blocks serving HTTP until the server is shut down or fails.
func (s *Server) Start() error {
	s.logger.WithField("address", s.httpServer.Addr).Info("starting inference server")
	return s.httpServer.ListenAndServe()
}

// Stop shuts down the HTTP listener first (stop accepting new requests),
// then drains every capability pool before returning.
func (s *Server) Stop(ctx context.Context, drainTimeout time.Duration) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.WithError(err).Error("HTTP server shutdown error")
	}
	s.registry.Shutdown(ctx, drainTimeout)
	return nil
}

// pickModel resolves a request's optional model id against available,
// defaulting to the sole entry when exactly one model is registered for
// the capability.
func pickModel[M any](available map[string]M, requested string) (M, error) {
	var zero M
	if requested != "" {
		m, ok := available[requested]
		if !ok {
			return zero, fmt.Errorf("no model %q registered for this capability", requested)
		}
		return m, nil
	}
	if len(available) == 1 {
		for _, m := range available {
			return m, nil
		}
	}
	if len(available) == 0 {
		return zero, fmt.Errorf("no models registered for this capability")
	}
	return zero, fmt.Errorf("multiple models registered for this capability; the \"model\" field is required")
}
