package server

import (
	"log/slog"
	"net/http"
	"slices"
	"time"

	"ChatPane/internal/config"
	"ChatPane/internal/llm"
	"ChatPane/internal/store"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const (
	historyResponseLimit = 100
	statusListLimit      = 1000
)

// Server is the chat backend: it stores messages and asks the LLM for replies
type Server struct {
	store    store.Store
	provider llm.Provider
	cfg      config.ServerConfig
	logger   *slog.Logger
	tracer   trace.Tracer
	now      func() time.Time
	newID    func() string
}

// Option customizes a Server
type Option func(*Server)

func WithTracer(tracer trace.Tracer) Option {
	return func(s *Server) { s.tracer = tracer }
}

func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

func New(st store.Store, provider llm.Provider, cfg config.ServerConfig, logger *slog.Logger, opts ...Option) *Server {
	s := &Server{
		store:    st,
		provider: provider,
		cfg:      cfg,
		logger:   logger,
		tracer:   tracenoop.NewTracerProvider().Tracer("server"),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the gin engine with every route registered
func (s *Server) Router() *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), s.requestLogger())
	engine.Use(cors.New(corsConfig(s.cfg.CORSOrigins)))
	engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Not Found"})
	})

	engine.GET("/health", s.health)

	api := engine.Group("/api")
	{
		api.GET("/", s.root)
		api.POST("/status", s.createStatusCheck)
		api.GET("/status", s.listStatusChecks)

		api.POST("/chat/new-session", s.newSession)
		api.POST("/chat", s.chat)
		api.GET("/chat/history/:session_id", s.history)
	}

	return engine
}

func corsConfig(origins []string) cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"OPTIONS", "GET", "POST", "PUT", "DELETE"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 0 || slices.Contains(origins, "*") {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = origins
		cfg.AllowCredentials = true
	}
	return cfg
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		level := slog.LevelInfo
		if c.Writer.Status() >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.logger.Log(c.Request.Context(), level, "http request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}
