// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/deanable/tagsense/internal/catalog"
)

// startScan launches a background catalog scan. An empty body runs the
// default filter; otherwise the body overrides individual filter fields.
// POST /api/scan
func (s *Server) startScan(c *gin.Context) {
	opts := catalog.DefaultFilterOptions()
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&opts); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
			return
		}
	}

	job := s.engine.StartScan(opts)
	c.JSON(http.StatusAccepted, gin.H{"scanId": job.ID, "startedAt": job.StartedAt})
}

// scanStatus reports progress and, once finished, the ranked results of
// a background scan.
// GET /api/scan/:id
func (s *Server) scanStatus(c *gin.Context) {
	status, ok := s.engine.ScanStatus(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "unknown scan id"})
		return
	}
	c.JSON(http.StatusOK, status)
}

// cancelScan stops a running background scan. Cancelling a finished
// scan is a no-op that still answers success.
// DELETE /api/scan/:id
func (s *Server) cancelScan(c *gin.Context) {
	id := c.Param("id")
	if !s.engine.CancelScan(id) {
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "unknown scan id"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "scanId": id})
}
