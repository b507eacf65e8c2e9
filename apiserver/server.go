// Package apiserver exposes reports, traces and metrics over HTTP and runs
// traces on request.
package apiserver

import (
	goctx "context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/wiretamper/wiretamper/context"
	"github.com/wiretamper/wiretamper/log"
	"github.com/wiretamper/wiretamper/types"
)

// DefaultAddr is the default address of the APIServer
const DefaultAddr = "0.0.0.0:7074"

// APIServer runs a HTTP server serving the reports of past runs
type APIServer struct {
	router *gin.Engine
	ctx    *context.RootContext

	server   *http.Server
	addr     string
	listener net.Listener

	*types.BaseService
}

var _ types.Service = &APIServer{}

// NewAPIServer instantiates APIServer
func NewAPIServer(ctx *context.RootContext) *APIServer {
	addr := ctx.Config.APIServerAddr
	if addr == "" {
		addr = DefaultAddr
	}
	server := &APIServer{
		ctx:         ctx,
		addr:        addr,
		BaseService: types.NewBaseService("APIServer", ctx.Logger),
	}
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(server.logMiddleware, gin.Recovery())

	router.GET("/reports", server.handleReports)
	router.GET("/reports/:id", server.handleReportGet)
	router.GET("/reports/:id/trace", server.handleReportTrace)
	router.POST("/runs", server.handleRun)
	router.GET("/protocols", server.handleProtocols)
	router.GET("/metrics", gin.WrapH(ctx.Metrics.Handler()))

	server.router = router
	server.server = &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return server
}

// Handler returns the router, mostly for tests
func (a *APIServer) Handler() http.Handler {
	return a.router
}

func (a *APIServer) logMiddleware(c *gin.Context) {
	start := time.Now()
	path := c.Request.URL.Path
	raw := c.Request.URL.RawQuery

	// Process request
	c.Next()

	end := time.Now()
	if raw != "" {
		path = path + "?" + raw
	}
	a.Logger.With(log.LogParams{
		"timestamp":   end,
		"latency":     end.Sub(start).String(),
		"client_ip":   c.ClientIP(),
		"method":      c.Request.Method,
		"status_code": c.Writer.Status(),
		"error":       c.Errors.ByType(gin.ErrorTypePrivate).String(),
		"body_size":   c.Writer.Size(),
		"path":        path,
	}).Debug("Handled request")
}

// Start binds the listen address and serves in the background. Bind errors
// are returned here.
func (a *APIServer) Start() error {
	ln, err := net.Listen("tcp", a.addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", a.addr, err)
	}
	a.listener = ln
	a.StartRunning()
	go func() {
		a.Logger.With(log.LogParams{
			"addr": ln.Addr().String(),
		}).Info("API server starting!")
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.With(log.LogParams{
				"addr": ln.Addr().String(),
			}).WithError(err).Error("API server closed!")
			a.StopRunning()
		}
	}()
	return nil
}

// Addr is the bound address once started, the configured one before
func (a *APIServer) Addr() string {
	if a.listener != nil {
		return a.listener.Addr().String()
	}
	return a.addr
}

// Stop stops the APIServer and implements Service
func (a *APIServer) Stop() error {
	a.StopRunning()
	ctx, cancel := goctx.WithTimeout(goctx.Background(), 5*time.Second)
	defer cancel()
	if err := a.server.Shutdown(ctx); err != nil {
		a.Logger.WithError(err).Error("API server forcefully shutdown")
		return err
	}
	a.Logger.Info("API server stopped!")
	return nil
}
