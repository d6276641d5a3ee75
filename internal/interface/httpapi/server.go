// Package httpapi is the thin gin-based HTTP surface the swap engine
// exposes itself through: it decodes requests, calls the engine, and maps
// domain/chainerr errors to status codes. It owns no swap logic itself.
package httpapi

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/flowswap/lp-node/internal/core/domain"
	"github.com/flowswap/lp-node/internal/core/engine"
	"github.com/flowswap/lp-node/internal/core/ports"
	"github.com/flowswap/lp-node/pkg/chainerr"
)

// Server holds the engine and repository the route handlers dispatch to.
type Server struct {
	engine *engine.Engine
	repos  ports.RepoManager
	log    *logrus.Entry
}

// New builds a Server bound to eng and repos.
func New(eng *engine.Engine, repos ports.RepoManager) *Server {
	return &Server{engine: eng, repos: repos, log: logrus.WithField("component", "httpapi")}
}

// Router assembles the full route table: the public /api/flowswap surface
// plus the localhost-only /api/admin surface.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), ginLogger(s.log))

	flowswap := r.Group("/api/flowswap")
	flowswap.POST("/init", s.handleInit)
	flowswap.POST("/init-leg", s.handleInitLeg)
	flowswap.GET("/list", s.handleList)
	flowswap.GET("/:id", s.handleGet)
	flowswap.POST("/:id/btc-funded", s.handleBTCFunded)
	flowswap.POST("/:id/m1-locked", s.handleM1Locked)
	flowswap.POST("/:id/btc-claimed", s.handleBTCClaimed)
	flowswap.POST("/:id/usdc-funded", s.handleUSDCFunded)

	admin := r.Group("/api/admin", adminOnly())
	admin.POST("/swap/:id/force-fail", s.handleForceFail)
	admin.POST("/cleanup-terminal", s.handleCleanupTerminal)

	return r
}

// ginLogger logs one structured line per request at the component's log
// level.
func ginLogger(log *logrus.Entry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		log.WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
			"status": c.Writer.Status(),
		}).Info("handled request")
	}
}

// adminOnly rejects any request not originating from the loopback address,
// per the admin-only guard on /api/admin/*.
func adminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		if ip != "127.0.0.1" && ip != "::1" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin endpoints are localhost-only"})
			return
		}
		c.Next()
	}
}

// writeError maps err to the HTTP status the error handling design
// prescribes and writes a JSON error body.
func writeError(c *gin.Context, err error) {
	if errors.Is(err, domain.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	status := chainerr.HTTPStatus(chainerr.KindOf(err))
	c.JSON(status, gin.H{"error": err.Error()})
}

// reqContext returns the request's context for engine calls, so a client
// disconnect cancels any in-flight chain RPC the handler started.
func reqContext(c *gin.Context) context.Context {
	return c.Request.Context()
}
