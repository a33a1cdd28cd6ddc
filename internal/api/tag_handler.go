// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"image"
	"net/http"
	"strconv"
	"strings"

	// Image decoders for multipart uploads.
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/gin-gonic/gin"

	"github.com/deanable/tagsense/internal/inference"
)

// tagRequest is the JSON body form of a tagging request: the image is
// referenced by a path local to the server.
type tagRequest struct {
	Path string `json:"path"`
	// Model selects a registered model; empty means the default.
	Model string `json:"model"`
	// Threshold overrides the model's confidence threshold when set.
	// Zero is a valid override (return everything), hence the pointer.
	Threshold *float64 `json:"threshold"`
	// MaxTags overrides the model's result cap when positive.
	MaxTags int `json:"maxTags"`
}

// tagImage classifies one image. Multipart bodies upload the image
// under the "image" field; JSON bodies name a server-local path.
// POST /api/tag
func (s *Server) tagImage(c *gin.Context) {
	if strings.HasPrefix(c.ContentType(), "multipart/") {
		s.tagUpload(c)
		return
	}

	var req tagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	if req.Path == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "body must carry an image path"})
		return
	}

	opts := inference.DefaultInferOptions()
	if req.Threshold != nil {
		opts.Threshold = *req.Threshold
	}
	if req.MaxTags > 0 {
		opts.MaxTags = req.MaxTags
	}

	result, err := s.engine.Tag(c.Request.Context(), req.Path, req.Model, opts)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

func (s *Server) tagUpload(c *gin.Context) {
	fileHeader, err := c.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "multipart body must carry an 'image' file"})
		return
	}

	opts := inference.DefaultInferOptions()
	if v := c.PostForm("threshold"); v != "" {
		threshold, parseErr := strconv.ParseFloat(v, 64)
		if parseErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "threshold must be a number"})
			return
		}
		opts.Threshold = threshold
	}
	if v := c.PostForm("maxTags"); v != "" {
		maxTags, parseErr := strconv.Atoi(v)
		if parseErr != nil || maxTags < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "maxTags must be a non-negative integer"})
			return
		}
		opts.MaxTags = maxTags
	}

	f, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": err.Error()})
		return
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "invalid_image", "message": "uploaded file is not a decodable image"})
		return
	}

	result, err := s.engine.TagImage(c.Request.Context(), img, c.PostForm("model"), opts)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}
