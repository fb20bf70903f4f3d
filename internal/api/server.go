// Package api serves worker status and Prometheus metrics over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/hashicorp/go-hclog"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/katasec/dstream-sync/internal/cdc/replica"
	"github.com/katasec/dstream-sync/internal/metrics"
)

// StatusSource lists the running workers.
type StatusSource interface {
	Workers() []replica.Status
}

// Server is the status endpoint.
type Server struct {
	app  *gin.Engine
	srv  *http.Server
	log  hclog.Logger
	done chan error
}

// NewServer registers the routes. Nothing listens until Start.
func NewServer(addr string, m *metrics.Metrics, workers StatusSource, log hclog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	app := gin.New()
	app.Use(gin.Recovery())

	app.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if m != nil {
		app.GET("/metrics", gin.WrapH(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}

	v1 := app.Group("/v1")
	{
		v1.GET("/workers", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"workers": workers.Workers()})
		})
		v1.GET("/workers/:table", func(c *gin.Context) {
			for _, st := range workers.Workers() {
				if st.Table == c.Param("table") {
					c.JSON(http.StatusOK, st)
					return
				}
			}
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown table"})
		})
	}

	return &Server{
		app:  app,
		srv:  &http.Server{Addr: addr, Handler: app, ReadHeaderTimeout: 5 * time.Second},
		log:  log,
		done: make(chan error, 1),
	}
}

// Handler returns the router, for embedding or tests.
func (s *Server) Handler() http.Handler { return s.app }

// Start listens in the background.
func (s *Server) Start() {
	s.log.Info("Status server listening", "addr", s.srv.Addr)
	go func() {
		err := s.srv.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		if err != nil {
			s.log.Error("Status server stopped", "error", err)
		}
		s.done <- err
	}()
}

// Done yields the listener's exit error, nil after Shutdown.
func (s *Server) Done() <-chan error { return s.done }

// Shutdown stops the server and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
