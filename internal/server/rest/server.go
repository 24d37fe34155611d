package rest

import (
	"context"
	"crypto/subtle"
	"crypto/tls"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"ttlkv/internal/cache"
	"ttlkv/internal/config"
	"ttlkv/internal/metrics"
)

const genericErrorMessage = "Something went wrong"

type Server struct {
	cfg     *config.Config
	store   *cache.Store
	log     *zap.Logger
	metrics *metrics.Metrics
	ping    func(context.Context) error
	r       *gin.Engine

	srv      *http.Server
	stopCh   chan struct{}
	stopOnce sync.Once
}

type Option func(*Server)

// WithMetrics records request metrics and serves them at /metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithHealthCheck sets the storage check used by /health.
func WithHealthCheck(ping func(context.Context) error) Option {
	return func(s *Server) { s.ping = ping }
}

func NewServer(cfg *config.Config, store *cache.Store, log *zap.Logger, opts ...Option) *Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	// keys are opaque, so an escaped "/" stays inside :key
	r.UseRawPath = true
	r.UnescapePathValues = true

	s := &Server{cfg: cfg, store: store, log: log, r: r, stopCh: make(chan struct{})}
	s.srv = &http.Server{
		Addr:              cfg.RESTListen,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}

	r.Use(s.requestLogger())
	r.Use(gin.CustomRecovery(s.recovered))
	if len(cfg.AllowedCIDRs) > 0 {
		r.Use(ipAllowList(cfg.AllowedCIDRs, log))
	}
	r.Use(s.errorHandler())

	// Public endpoints (no auth)
	r.GET("/api/status", s.status)
	r.GET("/health", s.health)
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	api := r.Group("/api/cache")
	api.Use(s.auth())
	{
		api.GET("", s.listKeys)
		api.GET("/", s.listKeys)
		api.DELETE("", s.removeAll)
		api.DELETE("/", s.removeAll)
		api.GET("/:key", s.getOrCreate)
		api.PUT("/:key", s.update)
		api.DELETE("/:key", s.remove)
	}

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})
	return s
}

func (s *Server) Handler() http.Handler { return s.r }

// Start serves until Shutdown is called. It returns nil after a clean
// shutdown.
func (s *Server) Start() error {
	var err error
	if s.cfg.TLS.Enabled() {
		certs, rerr := loadCertStore(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile, s.log)
		if rerr != nil {
			return rerr
		}
		go certs.watch(time.Duration(s.cfg.TLS.ReloadSec)*time.Second, s.stopCh)
		s.srv.TLSConfig = &tls.Config{
			MinVersion:     tls.VersionTLS12,
			GetCertificate: certs.get,
		}
		s.log.Info("REST API listening (TLS)", zap.String("addr", s.cfg.RESTListen))
		err = s.srv.ListenAndServeTLS("", "")
	} else {
		s.log.Info("REST API listening", zap.String("addr", s.cfg.RESTListen))
		err = s.srv.ListenAndServe()
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.stopOnce.Do(func() { close(s.stopCh) })
	return s.srv.Shutdown(ctx)
}

// Middleware

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		elapsed := time.Since(start)

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		s.log.Info("API request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", elapsed),
			zap.String("client_ip", c.ClientIP()))
		if s.metrics != nil {
			s.metrics.ObserveRequest(c.Request.Method, route, c.Writer.Status(), elapsed)
		}
	}
}

func (s *Server) recovered(c *gin.Context, rec any) {
	s.log.Error("panic while serving request",
		zap.Any("panic", rec),
		zap.String("path", c.Request.URL.Path),
		zap.Stack("stack"))
	c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"message": genericErrorMessage})
}

// errorHandler turns errors attached by handlers into the generic 500 body.
// Details only go to the log.
func (s *Server) errorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) == 0 {
			return
		}
		for _, e := range c.Errors {
			s.log.Error("Something went wrong",
				zap.Error(e.Err),
				zap.String("method", c.Request.Method),
				zap.String("path", c.Request.URL.Path))
		}
		if c.Writer.Written() {
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"message": genericErrorMessage})
	}
}

func (s *Server) auth() gin.HandlerFunc {
	var hash []byte
	if s.cfg.APITokenHash != "" {
		hash = []byte(s.cfg.APITokenHash)
	}
	plain := []byte(s.cfg.APIToken)

	return func(c *gin.Context) {
		if hash == nil && len(plain) == 0 {
			c.Next()
			return
		}
		var token []byte
		if h := c.GetHeader("Authorization"); strings.HasPrefix(h, "Bearer ") {
			token = []byte(strings.TrimPrefix(h, "Bearer "))
		}
		var ok bool
		if hash != nil {
			ok = len(token) > 0 && bcrypt.CompareHashAndPassword(hash, token) == nil
		} else {
			ok = subtle.ConstantTimeCompare(token, plain) == 1
		}
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

// Handlers

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"data": "ok"})
}

// health reports storage reachability and fill level.
func (s *Server) health(c *gin.Context) {
	status := "ok"
	storageStatus := "ok"

	if s.ping != nil {
		if err := s.ping(c.Request.Context()); err != nil {
			s.log.Warn("storage ping failed", zap.Error(err))
			storageStatus = "unreachable"
			status = "degraded"
		}
	}

	response := gin.H{
		"status":  status,
		"storage": storageStatus,
	}
	if status == "ok" {
		if st, err := s.store.Stats(c.Request.Context()); err == nil {
			response["count"] = st.Count
			response["capacity"] = st.Capacity
			response["ttl_sec"] = int64(st.TTL / time.Second)
		}
		c.JSON(http.StatusOK, response)
	} else {
		c.JSON(http.StatusServiceUnavailable, response)
	}
}

func (s *Server) listKeys(c *gin.Context) {
	keys, err := s.store.ListKeys(c.Request.Context())
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": keys})
}

func (s *Server) removeAll(c *gin.Context) {
	if err := s.store.RemoveAll(c.Request.Context()); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"success": true}})
}

func (s *Server) getOrCreate(c *gin.Context) {
	value, err := s.store.GetOrCreate(c.Request.Context(), c.Param("key"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": value})
}

type updateReq struct {
	Value string `json:"value"`
}

func (s *Server) update(c *gin.Context) {
	var req updateReq
	// an empty body leaves value empty
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}
	if err := s.store.Update(c.Request.Context(), c.Param("key"), req.Value); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"success": true}})
}

func (s *Server) remove(c *gin.Context) {
	if err := s.store.Remove(c.Request.Context(), c.Param("key")); err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"success": true}})
}
