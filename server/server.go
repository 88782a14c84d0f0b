// Package server exposes question answering and pipeline operations over
// HTTP with gin.
//
// Routes:
//
//	GET    /health                   store reachability and collection info
//	POST   /api/v1/query             answer a question
//	GET    /api/v1/scraper-status    current pipeline run status
//	POST   /api/v1/scrape            trigger a pipeline run in the background
//	GET    /api/v1/collection        collection info
//	DELETE /api/v1/collection        drop every chunk
//	GET    /metrics                  Prometheus metrics, when configured
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/kathan-shah07/fundrag/core"
	"github.com/kathan-shah07/fundrag/metrics"
	"github.com/kathan-shah07/fundrag/retrieval"
	"github.com/kathan-shah07/fundrag/scheduler"
)

var (
	ErrAnswererRequired   = errors.New("answerer is required")
	ErrOperatorRequired   = errors.New("operator is required")
	ErrCollectionRequired = errors.New("collection is required")
)

// Answerer answers questions. *retrieval.Engine implements it.
type Answerer interface {
	Answer(ctx context.Context, question string, opts retrieval.AnswerOptions) (*retrieval.Answer, error)
}

// Operator exposes run status and out-of-band triggers.
// *scheduler.Scheduler implements it.
type Operator interface {
	Status() *core.RunStatus
	Trigger(opts scheduler.TriggerOptions) error
}

// Collection is the slice of the chunk store the API needs.
type Collection interface {
	CollectionInfo(ctx context.Context) (core.CollectionInfo, error)
	DeleteCollection(ctx context.Context) error
}

var (
	_ Answerer = (*retrieval.Engine)(nil)
	_ Operator = (*scheduler.Scheduler)(nil)
)

// Server is the HTTP API.
type Server struct {
	answerer   Answerer
	operator   Operator
	collection Collection

	router   *gin.Engine
	logger   *slog.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	limiter  *rate.Limiter

	readTimeout     time.Duration
	writeTimeout    time.Duration
	shutdownTimeout time.Duration
}

type Option func(*Server) error

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger.With("component", "server")
		return nil
	}
}

// WithMetrics records request metrics on m and serves gatherer at /metrics.
// Either may be nil.
func WithMetrics(m *metrics.Metrics, gatherer prometheus.Gatherer) Option {
	return func(s *Server) error {
		s.metrics = m
		s.gatherer = gatherer
		return nil
	}
}

// WithQueryRateLimit limits /api/v1/query to perSecond requests with the
// given burst. A non-positive rate disables limiting.
func WithQueryRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) error {
		if perSecond <= 0 {
			s.limiter = nil
			return nil
		}
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), max(burst, 1))
		return nil
	}
}

// WithTimeouts sets the HTTP read and write timeouts and the graceful
// shutdown budget. Zero values keep the defaults.
func WithTimeouts(read, write, shutdown time.Duration) Option {
	return func(s *Server) error {
		if read > 0 {
			s.readTimeout = read
		}
		if write > 0 {
			s.writeTimeout = write
		}
		if shutdown > 0 {
			s.shutdownTimeout = shutdown
		}
		return nil
	}
}

// New builds the router.
func New(answerer Answerer, operator Operator, collection Collection, opts ...Option) (*Server, error) {
	if answerer == nil {
		return nil, ErrAnswererRequired
	}
	if operator == nil {
		return nil, ErrOperatorRequired
	}
	if collection == nil {
		return nil, ErrCollectionRequired
	}
	s := &Server{
		answerer:        answerer,
		operator:        operator,
		collection:      collection,
		logger:          slog.Default().With("component", "server"),
		readTimeout:     30 * time.Second,
		writeTimeout:    2 * time.Minute,
		shutdownTimeout: 15 * time.Second,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.observe(), cors())

	r.GET("/health", s.health)
	if s.gatherer != nil {
		r.GET("/metrics", gin.WrapH(metrics.Handler(s.gatherer)))
	}

	v1 := r.Group("/api/v1")
	{
		v1.POST("/query", s.rateLimit(), s.query)
		v1.GET("/scraper-status", s.scraperStatus)
		v1.POST("/scrape", s.trigger)
		v1.GET("/collection", s.collectionInfo)
		v1.DELETE("/collection", s.deleteCollection)
	}
	return r
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.readTimeout,
		WriteTimeout: s.writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	s.logger.Info("http server shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// observe logs each request and records it in metrics under its route
// pattern, so path parameters do not explode label cardinality.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		started := time.Now()
		c.Next()

		elapsed := time.Since(started)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.metrics.HTTPRequest(c.Request.Method, route, strconv.Itoa(status), elapsed)

		level := slog.LevelDebug
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		} else if status >= http.StatusBadRequest {
			level = slog.LevelWarn
		}
		s.logger.Log(c.Request.Context(), level, "request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", status,
			"elapsed", elapsed)
	}
}

func (s *Server) rateLimit() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.limiter != nil && !s.limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"detail": "too many requests, slow down"})
			return
		}
		c.Next()
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
