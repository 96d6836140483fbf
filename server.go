package main

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"course-rag/logger"
	"course-rag/rag"
)

type Server struct {
	app   *App
	store *rag.InMemoryStore
	log   *logger.Logger
}

func NewServer(app *App, store *rag.InMemoryStore) *Server {
	return &Server{app: app, store: store, log: app.log.With("component", "http")}
}

func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())

	r.GET("/health", s.healthHandler)
	r.POST("/query", s.queryHandler)
	r.POST("/ask", s.askHandler)
	r.POST("/reload", s.reloadHandler)
	return r
}

type apiError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type errorEnvelope struct {
	Error apiError `json:"error"`
}

func respondError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal"
	switch {
	case errors.Is(err, rag.ErrInvalidArgument):
		status, code = http.StatusBadRequest, "invalid_argument"
	case errors.Is(err, rag.ErrDimensionMismatch) && !errors.Is(err, rag.ErrEmbeddingProvider):
		status, code = http.StatusBadRequest, "dimension_mismatch"
	case errors.Is(err, rag.ErrEmbeddingProvider):
		status, code = http.StatusBadGateway, "embedding_provider"
	case errors.Is(err, rag.ErrMalformedInput):
		status, code = http.StatusInternalServerError, "malformed_input"
	}
	c.JSON(status, errorEnvelope{Error: apiError{Message: err.Error(), Code: code}})
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start))
	}
}

func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "rows": s.store.Len()})
}

// POST /query  { "query": "your question", "k": 3 }
type queryRequest struct {
	Query string `json:"query"`
	K     int    `json:"k"`
}

func (s *Server) bindQuery(c *gin.Context) (queryRequest, bool) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorEnvelope{Error: apiError{Message: "invalid json", Code: "invalid_argument"}})
		return req, false
	}
	if req.Query == "" {
		c.JSON(http.StatusBadRequest, errorEnvelope{Error: apiError{Message: "query is required", Code: "invalid_argument"}})
		return req, false
	}
	return req, true
}

func (s *Server) queryHandler(c *gin.Context) {
	req, ok := s.bindQuery(c)
	if !ok {
		return
	}
	results, err := s.app.Retrieve(c.Request.Context(), s.store, req.Query, req.K)
	if err != nil {
		s.log.Warn("query failed", "error", err)
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

// POST /ask  { "query": "your question", "k": 3 }
func (s *Server) askHandler(c *gin.Context) {
	req, ok := s.bindQuery(c)
	if !ok {
		return
	}
	ans, err := s.app.Ask(c.Request.Context(), s.store, req.Query, req.K, true)
	if err != nil {
		s.log.Warn("ask failed", "error", err)
		if ans != nil {
			// retrieval worked, generation did not
			c.JSON(http.StatusBadGateway, gin.H{
				"error":   apiError{Message: err.Error(), Code: "generation_provider"},
				"prompt":  ans.Prompt,
				"results": ans.Results,
			})
			return
		}
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ans)
}

func (s *Server) reloadHandler(c *gin.Context) {
	table, err := s.app.LoadTable()
	if err != nil {
		s.log.Error("reload failed", "error", err)
		respondError(c, err)
		return
	}
	s.store.Replace(table)
	s.log.Info("table reloaded", "rows", table.Len(), "build_id", table.BuildID)
	c.JSON(http.StatusOK, gin.H{"rows": table.Len(), "build_id": table.BuildID})
}
