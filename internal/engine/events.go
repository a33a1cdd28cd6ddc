// Copyright 2026 The tagsense Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package engine

import (
	"sync"
	"time"
)

// EventType classifies progress events.
type EventType string

const (
	// EventScan carries a catalog.ScanProgress payload.
	EventScan EventType = "scan"
	// EventDownload carries a download.Progress payload.
	EventDownload EventType = "download"
	// EventConvert carries a conversion status string.
	EventConvert EventType = "convert"
	// EventRegistry signals that the model registry changed.
	EventRegistry EventType = "registry"
)

// Event is one progress notification, fanned out to all subscribers.
type Event struct {
	Type EventType   `json:"type"`
	Name string      `json:"name,omitempty"`
	Time time.Time   `json:"time"`
	Data interface{} `json:"data,omitempty"`
}

// Hub fans events out to subscribers. Publishing never blocks: a
// subscriber that stops draining loses events rather than stalling the
// producer.
type Hub struct {
	mu     sync.Mutex
	subs   map[chan Event]struct{}
	closed bool
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a buffered event channel and returns it with its
// cancel function. Cancel is idempotent and closes the channel.
func (h *Hub) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 32
	}
	ch := make(chan Event, buffer)

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		close(ch)
		return ch, func() {}
	}
	h.subs[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if _, ok := h.subs[ch]; ok {
				delete(h.subs, ch)
				close(ch)
			}
			h.mu.Unlock()
		})
	}
	return ch, cancel
}

// Publish delivers ev to every subscriber with room in its buffer.
func (h *Hub) Publish(ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

// Close drops all subscribers and rejects further publishes.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for ch := range h.subs {
		delete(h.subs, ch)
		close(ch)
	}
}
