package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

const (
	userIDHeader   = "X-User-ID"
	userNameHeader = "X-User-Name"
	userIDKey      = "user_id"

	shutdownTimeout = 5 * time.Second
)

// NewRouter builds the Gin engine with every API route mounted. All routes
// require an identified user.
func NewRouter(analysis AnalysisService, templates TemplateService, logger *zerolog.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.Use(gin.Recovery())

	h := &handler{analysis: analysis, templates: templates, logger: logger}

	api := engine.Group("/api", requireUser())
	{
		api.POST("/analyze", h.runAnalysis)
		api.GET("/analyze/status", h.getStatus)
		api.POST("/analyze/stop", h.stopAnalysis)
		api.POST("/analyze/reset", h.resetAnalysis)
		api.POST("/analyze/templates", h.runTemplateAnalysis)
		api.GET("/templates", h.listTemplates)
	}

	return engine
}

// requireUser rejects requests without an identified user before any
// pipeline work starts.
func requireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := c.GetHeader(userIDHeader)
		if userID == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errorResponse{Error: "missing " + userIDHeader + " header"})

			return
		}

		c.Set(userIDKey, userID)
		c.Next()
	}
}

// Server runs the API with graceful shutdown tied to the given context.
type Server struct {
	engine *gin.Engine
	port   int
	logger *zerolog.Logger
}

func NewServer(engine *gin.Engine, port int, logger *zerolog.Logger) *Server {
	return &Server{engine: engine, port: port, logger: logger}
}

func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.engine,
	}

	go func() {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)

		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info().Int("port", s.port).Msg("API server starting")

	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}

	return nil
}
