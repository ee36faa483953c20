// Package http provides the HTTP API for ragd.
//
// Handlers are thin: they unmarshal requests, call the services and map
// sentinel outcomes to fixed HTTP statuses. All failure detail stays in the
// service logs.
package http

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/ragd/internal/secrets"
	"github.com/fyrsmithlabs/ragd/internal/vectorstore"
)

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// Server provides HTTP endpoints for ragd.
type Server struct {
	echo        *echo.Echo
	collections *vectorstore.Service
	credentials *secrets.Store
	logger      *zap.Logger
	config      *Config
}

// NewServer creates the HTTP server and registers all routes.
func NewServer(collections *vectorstore.Service, credentials *secrets.Store, logger *zap.Logger, cfg *Config) (*Server, error) {
	if collections == nil {
		return nil, fmt.Errorf("collection service cannot be nil")
	}
	if credentials == nil {
		return nil, fmt.Errorf("credential store cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{Host: "127.0.0.1", Port: 5000}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return err
		}
	})

	s := &Server{
		echo:        e,
		collections: collections,
		credentials: credentials,
		logger:      logger,
		config:      cfg,
	}
	s.registerRoutes()
	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1")
	v1.GET("/collections", s.handleListCollections)
	v1.POST("/collections", s.handleCreateCollection)
	v1.DELETE("/collections/:name", s.handleDeleteCollection)
	v1.GET("/collections/:name/count", s.handleCollectionCount)
	v1.POST("/collections/:name/documents", s.handleAddDocuments)
	v1.POST("/collections/:name/query", s.handleQuery)
	v1.POST("/reset", s.handleReset)
	v1.PUT("/settings/:user_id/api-keys", s.handleSetAPIKeys)
	v1.GET("/settings/:user_id/api-keys", s.handleGetAPIKeys)
}

// Start runs the server until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("http server starting", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// CreateCollectionRequest is the request body for POST /api/v1/collections.
type CreateCollectionRequest struct {
	Name     string            `json:"name"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

func (s *Server) handleCreateCollection(c echo.Context) error {
	var req CreateCollectionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Name == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "name field is required")
	}

	col, err := s.collections.GetOrCreateCollection(c.Request().Context(), req.Name, req.Metadata, nil)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to create collection")
	}

	return c.JSON(http.StatusOK, map[string]any{
		"name":  col.Name(),
		"count": col.Count(),
	})
}

func (s *Server) handleListCollections(c echo.Context) error {
	names := s.collections.ListCollections(c.Request().Context())
	return c.JSON(http.StatusOK, map[string]any{"collections": names})
}

func (s *Server) handleDeleteCollection(c echo.Context) error {
	if ok := s.collections.DeleteCollection(c.Request().Context(), c.Param("name")); !ok {
		return echo.NewHTTPError(http.StatusNotFound, "collection not found")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) handleCollectionCount(c echo.Context) error {
	count := s.collections.GetCollectionCount(c.Request().Context(), c.Param("name"))
	if count < 0 {
		return echo.NewHTTPError(http.StatusNotFound, "collection not found")
	}
	return c.JSON(http.StatusOK, map[string]int{"count": count})
}

// AddDocumentsRequest is the request body for adding documents.
type AddDocumentsRequest struct {
	Documents  []string            `json:"documents"`
	Metadatas  []map[string]string `json:"metadatas,omitempty"`
	IDs        []string            `json:"ids,omitempty"`
	Embeddings [][]float32         `json:"embeddings,omitempty"`
}

func (s *Server) handleAddDocuments(c echo.Context) error {
	var req AddDocumentsRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ok := s.collections.AddDocuments(c.Request().Context(), c.Param("name"),
		req.Documents, req.Metadatas, req.IDs, req.Embeddings)
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to add documents")
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

// QueryRequest is the request body for querying a collection.
type QueryRequest struct {
	QueryTexts    []string          `json:"query_texts"`
	NResults      int               `json:"n_results,omitempty"`
	Where         map[string]string `json:"where,omitempty"`
	WhereDocument map[string]string `json:"where_document,omitempty"`
	Include       []string          `json:"include,omitempty"`
}

func (s *Server) handleQuery(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	results := s.collections.QueryDocuments(c.Request().Context(), c.Param("name"),
		req.QueryTexts, req.NResults, req.Where, req.WhereDocument, req.Include)
	if results == nil {
		return echo.NewHTTPError(http.StatusNotFound, "query failed")
	}
	return c.JSON(http.StatusOK, results)
}

func (s *Server) handleReset(c echo.Context) error {
	if ok := s.collections.Reset(c.Request().Context()); !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "reset failed")
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

// SetAPIKeysRequest is the request body for storing user API keys.
type SetAPIKeysRequest struct {
	APIKeys map[string]string `json:"api_keys"`
}

func (s *Server) handleSetAPIKeys(c echo.Context) error {
	var req SetAPIKeysRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.APIKeys) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "api_keys field is required")
	}

	if !s.credentials.EncryptionEnabled() {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "credential persistence disabled")
	}

	if ok := s.credentials.SetAPIKeys(c.Request().Context(), c.Param("user_id"), req.APIKeys); !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to store api keys")
	}
	return c.JSON(http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) handleGetAPIKeys(c echo.Context) error {
	keys := s.credentials.GetAPIKeys(c.Request().Context(), c.Param("user_id"))
	if keys == nil {
		return echo.NewHTTPError(http.StatusNotFound, "no api keys stored")
	}
	return c.JSON(http.StatusOK, map[string]any{"api_keys": keys})
}
