package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"github.com/ccgateway/cloudcode-gateway/internal/api/handlers"
	"github.com/ccgateway/cloudcode-gateway/internal/api/middleware"
	"github.com/ccgateway/cloudcode-gateway/internal/config"
	"github.com/ccgateway/cloudcode-gateway/internal/logging"
)

// shutdownGrace bounds how long in-flight requests get to finish before the
// listener is torn down, per the shutdown contract: streams are closed only
// after this window elapses.
const shutdownGrace = 10 * time.Second

// Server owns the gin engine and the underlying http.Server that serves it.
type Server struct {
	cfg    *config.Store
	engine *gin.Engine
	srv    *http.Server
}

// NewServer builds the gin engine, wires the middleware chain and every
// dialect route, and returns a Server ready for Start.
func NewServer(cfg *config.Store, h *handlers.Engine) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(logging.RequestLogger())
	router.Use(logging.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.BodyLimit())
	router.Use(middleware.PrometheusMiddleware())
	router.Use(middleware.Auth(cfg))

	registerRoutes(router, h)

	s := &Server{cfg: cfg, engine: router}
	s.srv = &http.Server{
		Addr:    cfg.Get().BindAddress(),
		Handler: router,
	}
	return s
}

func registerRoutes(router *gin.Engine, h *handlers.Engine) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/v1/models", h.Models)

	router.POST("/v1/messages", h.Messages)

	router.POST("/v1/chat/completions", h.ChatCompletions)
	router.POST("/v1/completions", h.Completions)
	router.POST("/v1/responses", h.Responses)

	router.POST("/v1/images/generations", h.ImageGenerations)
	router.POST("/v1/images/edits", h.ImageEdits)
	router.POST("/v1/images/variations", h.ImageVariations)

	// gin treats "{model}:action" as one path segment, so both
	// generateContent and streamGenerateContent land on a single route and
	// the handler splits the action itself.
	router.POST("/v1beta/models/:modelAction", h.GeminiGenerate)
}

// Start begins serving and blocks until the listener stops for any reason
// other than a clean Shutdown.
func (s *Server) Start() error {
	log.WithField("addr", s.srv.Addr).Info("gateway listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve: %w", err)
	}
	return nil
}

// Stop gracefully shuts the server down, giving in-flight requests up to
// shutdownGrace to finish before forcibly closing remaining connections
// (including open streams).
func (s *Server) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownGrace)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
