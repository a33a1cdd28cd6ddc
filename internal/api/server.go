// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package api exposes the engine over HTTP: model management, catalog
// scans, tagging and a websocket progress feed. All endpoints live
// under /api and answer JSON; errors follow one envelope with a stable
// machine code and a human message.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/deanable/tagsense/internal/buildinfo"
	"github.com/deanable/tagsense/internal/config"
	"github.com/deanable/tagsense/internal/engine"
	"github.com/deanable/tagsense/internal/errdefs"
)

// Server wires the engine into a gin router and owns the listener.
type Server struct {
	cfg    *config.Config
	engine *engine.Engine
	router *gin.Engine
	http   *http.Server
}

// NewServer builds the router with all routes registered. The caller
// starts it with Run.
func NewServer(cfg *config.Config, eng *engine.Engine) *Server {
	s := &Server{cfg: cfg, engine: eng}

	router := gin.New()
	router.Use(gin.Recovery(), requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	apiGroup := router.Group("/api", secretAuth(cfg))
	apiGroup.GET("/version", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"version":   buildinfo.Version,
			"commit":    buildinfo.Commit,
			"buildDate": buildinfo.BuildDate,
		})
	})

	apiGroup.GET("/models", s.listModels)
	apiGroup.GET("/models/:name", s.getModel)
	apiGroup.POST("/models/install", s.installModel)
	apiGroup.POST("/models/default", s.setDefaultModel)
	apiGroup.POST("/models/:name/enable", s.enableModel)
	apiGroup.POST("/models/:name/disable", s.disableModel)
	apiGroup.POST("/models/:name/convert", s.convertModel)
	apiGroup.DELETE("/models/:name", s.deleteModel)

	apiGroup.POST("/scan", s.startScan)
	apiGroup.GET("/scan/:id", s.scanStatus)
	apiGroup.DELETE("/scan/:id", s.cancelScan)

	apiGroup.POST("/tag", s.tagImage)
	apiGroup.GET("/progress", s.progressSocket)

	s.router = router
	return s
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Serve.Host, strconv.Itoa(s.cfg.Serve.Port))
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	s.http = &http.Server{
		Addr:              s.Addr(),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", s.http.Addr).Info("HTTP API listening")
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	log.Info("Shutting down HTTP API")
	return s.http.Shutdown(shutdownCtx)
}

// secretAuth rejects requests whose bearer token does not match the
// configured serve secret. With no secret configured every request
// passes.
func secretAuth(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		if !cfg.CheckServeSecret(token) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error":   "unauthorized",
				"message": "missing or invalid secret key",
			})
			return
		}
		c.Next()
	}
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithField("status", c.Writer.Status()).
			Debugf("%s %s (%s)", c.Request.Method, c.Request.URL.Path, time.Since(start).Round(time.Millisecond))
	}
}

// respondError maps engine errors onto the JSON error envelope.
func respondError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "internal_error"
	switch {
	case errors.Is(err, errdefs.ErrNotFound):
		status, code = http.StatusNotFound, "not_found"
	case errors.Is(err, errdefs.ErrValidation):
		status, code = http.StatusBadRequest, "invalid_request"
	case errors.Is(err, errdefs.ErrInvalidState):
		status, code = http.StatusConflict, "invalid_state"
	case errors.Is(err, errdefs.ErrNetwork):
		status, code = http.StatusBadGateway, "upstream_error"
	case errors.Is(err, errdefs.ErrExternalProcess):
		status, code = http.StatusBadGateway, "conversion_error"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status, code = http.StatusGatewayTimeout, "canceled"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
