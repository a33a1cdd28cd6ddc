// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
)

const (
	progressWriteWait   = 10 * time.Second
	progressPingPeriod  = 30 * time.Second
	progressEventBuffer = 64
)

var progressUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The API is local-first; the secret middleware already gates access.
	CheckOrigin: func(*http.Request) bool { return true },
}

// progressSocket streams engine events (scan pages, download progress,
// conversion transitions, registry changes) over a websocket. Events
// are dropped rather than buffered unboundedly when the client reads
// too slowly.
// GET /api/progress
func (s *Server) progressSocket(c *gin.Context) {
	conn, err := progressUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// Upgrade already answered the request.
		log.WithError(err).Debug("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	events, cancel := s.engine.Events().Subscribe(progressEventBuffer)
	defer cancel()

	// The read side exists only to notice the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, readErr := conn.ReadMessage(); readErr != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(progressPingPeriod)
	defer ping.Stop()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(progressWriteWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(progressWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-closed:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
