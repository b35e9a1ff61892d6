// Package server exposes stored items, analyses, digests and failures over
// a read-only JSON API, plus an endpoint to queue an item for processing.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/phuslu/log"

	"github.com/elonfeng/marketnews/internal/pipeline"
	"github.com/elonfeng/marketnews/internal/queue"
	"github.com/elonfeng/marketnews/internal/store"
	"github.com/elonfeng/marketnews/pkg/consensus"
)

const (
	defaultLimit = 50
	maxLimit     = 500
)

// Server provides the HTTP API.
type Server struct {
	store     store.Store
	queue     queue.Queue
	threshold float64
	port      int
	logger    *log.Logger
	engine    *gin.Engine
}

// New creates a new HTTP server. q may be nil, which disables the process
// endpoint.
func New(st store.Store, q queue.Queue, threshold float64, port int, logger *log.Logger) *Server {
	if port == 0 {
		port = 8080
	}
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		store:     st,
		queue:     q,
		threshold: threshold,
		port:      port,
		logger:    logger,
	}

	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog())
	r.GET("/health", s.handleHealth)

	v1 := r.Group("/api/v1")
	v1.GET("/items", s.handleItems)
	v1.GET("/items/:id", s.handleItem)
	v1.POST("/items/:id/process", s.handleProcess)
	v1.GET("/digests", s.handleDigests)
	v1.GET("/digests/:id/items", s.handleDigestItems)
	v1.GET("/failures", s.handleFailures)

	s.engine = r
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler { return s.engine }

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info().Str("addr", srv.Addr).Msg("marketnews server listening")
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug().
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Int("status", c.Writer.Status()).
			Dur("took", time.Since(start)).
			Msg("http")
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	if s.queue != nil {
		if n, err := s.queue.Len(c.Request.Context()); err == nil {
			resp["queue_depth"] = n
		} else {
			resp["queue_error"] = err.Error()
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleItems(c *gin.Context) {
	f := store.ItemFilter{
		Source: c.Query("source"),
		Limit:  queryLimit(c),
		Offset: queryInt(c, "offset", 0),
	}
	var err error
	if f.Since, err = queryTime(c, "since"); err != nil {
		badRequest(c, err)
		return
	}
	if f.Until, err = queryTime(c, "until"); err != nil {
		badRequest(c, err)
		return
	}
	if v := c.Query("alerted"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(c, fmt.Errorf("invalid alerted %q", v))
			return
		}
		f.Alerted = &b
	}

	items, err := s.store.ListItems(c.Request.Context(), f)
	if err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": items, "count": len(items)})
}

type itemDetail struct {
	Item     *store.Item        `json:"item"`
	Analyses []store.Analysis   `json:"analyses"`
	Decision consensus.Decision `json:"decision"`
}

func (s *Server) handleItem(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	item, err := s.store.GetItem(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
		return
	}
	if err != nil {
		s.serverError(c, err)
		return
	}
	analyses, err := s.store.ListAnalyses(ctx, id)
	if err != nil {
		s.serverError(c, err)
		return
	}
	if analyses == nil {
		analyses = []store.Analysis{}
	}
	c.JSON(http.StatusOK, itemDetail{
		Item:     item,
		Analyses: analyses,
		Decision: consensus.Decide(pipeline.Votes(analyses), s.threshold),
	})
}

func (s *Server) handleProcess(c *gin.Context) {
	if s.queue == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "queue not configured"})
		return
	}
	id, ok := pathID(c)
	if !ok {
		return
	}
	ctx := c.Request.Context()
	item, err := s.store.GetItem(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "item not found"})
		return
	}
	if err != nil {
		s.serverError(c, err)
		return
	}
	msg := queue.Message{ItemID: item.ID, URL: item.URL, Source: item.Source, PublishedAt: item.PublishedAt}
	if err := s.queue.Enqueue(ctx, msg); err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"queued": item.ID})
}

func (s *Server) handleDigests(c *gin.Context) {
	digests, err := s.store.ListDigests(c.Request.Context(), store.DigestFilter{
		DigestType: c.Query("type"),
		Limit:      queryLimit(c),
	})
	if err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": digests, "count": len(digests)})
}

func (s *Server) handleDigestItems(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	links, err := s.store.DigestItems(c.Request.Context(), id)
	if err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": links, "count": len(links)})
}

func (s *Server) handleFailures(c *gin.Context) {
	unresolved := true
	if v := c.Query("unresolved"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			badRequest(c, fmt.Errorf("invalid unresolved %q", v))
			return
		}
		unresolved = b
	}
	failures, err := s.store.ListFailures(c.Request.Context(), unresolved, queryLimit(c))
	if err != nil {
		s.serverError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": failures, "count": len(failures)})
}

func (s *Server) serverError(c *gin.Context, err error) {
	s.logger.Error().Str("path", c.FullPath()).Err(err).Msg("request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string, def int) int {
	v, err := strconv.Atoi(c.Query(name))
	if err != nil || v < 0 {
		return def
	}
	return v
}

func queryLimit(c *gin.Context) int {
	n := queryInt(c, "limit", defaultLimit)
	if n == 0 || n > maxLimit {
		return defaultLimit
	}
	return n
}

func queryTime(c *gin.Context, name string) (time.Time, error) {
	v := c.Query(name)
	if v == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q: want RFC3339", name, v)
	}
	return t, nil
}
