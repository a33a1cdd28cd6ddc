// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/deanable/tagsense/internal/registry"
)

// listModels returns every registered model plus the default name.
// GET /api/models
func (s *Server) listModels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"models":           s.engine.Models(),
		"defaultModelName": s.engine.DefaultModelName(),
	})
}

// getModel returns one registered model by its normalized name.
// GET /api/models/:name
func (s *Server) getModel(c *gin.Context) {
	desc, err := s.engine.Model(c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, desc)
}

// installModel downloads and registers a scanned candidate. The body is
// the descriptor exactly as returned by a scan result.
// POST /api/models/install
func (s *Server) installModel(c *gin.Context) {
	var desc registry.ModelDescriptor
	if err := c.ShouldBindJSON(&desc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if err := s.engine.Install(c.Request.Context(), &desc); err != nil {
		respondError(c, err)
		return
	}
	stored, err := s.engine.Model(registry.NormalizeName(desc.Name))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, stored)
}

// setDefaultModel marks a registered model as the tagging default.
// POST /api/models/default
func (s *Server) setDefaultModel(c *gin.Context) {
	var req struct {
		Name string `json:"name"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "body must carry a model name"})
		return
	}
	if err := s.engine.SetDefault(req.Name); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "defaultModelName": req.Name})
}

// enableModel marks a model selectable for tagging.
// POST /api/models/:name/enable
func (s *Server) enableModel(c *gin.Context) {
	s.setEnabled(c, true)
}

// disableModel removes a model from tagging rotation and drops its
// loaded session.
// POST /api/models/:name/disable
func (s *Server) disableModel(c *gin.Context) {
	s.setEnabled(c, false)
}

func (s *Server) setEnabled(c *gin.Context, enabled bool) {
	name := c.Param("name")
	if err := s.engine.SetEnabled(name, enabled); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "name": name, "enabled": enabled})
}

// convertModel runs or retries the conversion of a foreign-format model.
// POST /api/models/:name/convert
func (s *Server) convertModel(c *gin.Context) {
	name := c.Param("name")
	if err := s.engine.EnsureConverted(c.Request.Context(), name); err != nil {
		respondError(c, err)
		return
	}
	desc, err := s.engine.Model(name)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, desc)
}

// deleteModel uninstalls a model and its artifacts.
// DELETE /api/models/:name
func (s *Server) deleteModel(c *gin.Context) {
	name := c.Param("name")
	if err := s.engine.Uninstall(name); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "name": name})
}
