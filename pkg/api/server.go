// Package api is the HTTP ingress: CloudEvent submission, task monitoring,
// the agent-state snapshot poll, health, and metrics.
package api

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/davidmiura/tlt-sub000/pkg/errs"
	"github.com/davidmiura/tlt-sub000/pkg/queue"
)

// Server is the HTTP API over the task manager.
type Server struct {
	manager  *queue.Manager
	registry *prometheus.Registry
	logger   *slog.Logger
	httpSrv  *http.Server
}

// NewServer creates the API server. registry backs the /metrics endpoint.
func NewServer(manager *queue.Manager, registry *prometheus.Registry) *Server {
	return &Server{
		manager:  manager,
		registry: registry,
		logger:   slog.Default().With("component", "api"),
	}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/cloudevents", s.SubmitCloudEvent)
	r.GET("/monitor/agent/state", s.AgentState)
	r.GET("/monitor/tasks", s.ListTasks)
	r.GET("/monitor/tasks/:id", s.TaskStatus)
	r.GET("/events/task/:id/result", s.TaskResult)
	r.GET("/monitor/status", s.MonitorStatus)
	r.GET("/health", s.Health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))

	return r
}

// Start serves the API until Shutdown.
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("API listening", "addr", addr)
	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return errs.IO("api server failed", err)
	}
	return nil
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

// statusFor maps an error kind to its HTTP status.
func statusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.KindValidation, errs.KindParse:
		return http.StatusBadRequest
	case errs.KindRateLimited:
		return http.StatusTooManyRequests
	case errs.KindAccessDenied:
		return http.StatusForbidden
	case errs.KindNotFound:
		return http.StatusNotFound
	case errs.KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case errs.KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{
		"error": err.Error(),
		"kind":  string(errs.KindOf(err)),
	})
}
