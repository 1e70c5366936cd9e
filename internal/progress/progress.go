// Package progress carries best-effort status notifications from long
// running operations to whoever is watching. Publishing never fails the
// calling operation: a sink that cannot deliver drops the message.
package progress

import (
	"sync"

	"github.com/bbilly1/tubearchivist/internal/logger"
)

// Message is one status update on a channel.
type Message struct {
	Status  string `json:"status"`
	Level   string `json:"level"`
	Title   string `json:"title"`
	Message string `json:"message"`
}

// Levels for Message.Level.
const (
	LevelInfo  = "info"
	LevelError = "error"
)

// Sink receives fire-and-forget progress messages.
type Sink interface {
	Publish(channel string, msg Message)
}

// Discard is a Sink that drops everything. Useful default for tests.
type Discard struct{}

// Publish implements Sink.
func (Discard) Publish(string, Message) {}

// LogSink writes progress messages through the structured logger.
type LogSink struct {
	Log *logger.Logger
}

// Publish implements Sink.
func (s *LogSink) Publish(channel string, msg Message) {
	if s.Log == nil {
		return
	}
	if msg.Level == LevelError {
		s.Log.Error(msg.Title, "channel", channel, "status", msg.Status, "message", msg.Message)
		return
	}
	s.Log.Debug(msg.Title, "channel", channel, "status", msg.Status, "message", msg.Message)
}

// Hub retains the latest message per channel for the progress poll endpoint
// and optionally forwards every message to a secondary sink.
type Hub struct {
	mu      sync.RWMutex
	latest  map[string]Message
	forward Sink
}

// NewHub creates a Hub. forward may be nil.
func NewHub(forward Sink) *Hub {
	return &Hub{
		latest:  make(map[string]Message),
		forward: forward,
	}
}

// Publish implements Sink.
func (h *Hub) Publish(channel string, msg Message) {
	h.mu.Lock()
	h.latest[channel] = msg
	h.mu.Unlock()

	if h.forward != nil {
		h.forward.Publish(channel, msg)
	}
}

// Latest returns the most recent message on channel, if any.
func (h *Hub) Latest(channel string) (Message, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	msg, ok := h.latest[channel]
	return msg, ok
}

// Clear drops the retained message for channel, marking the operation done.
func (h *Hub) Clear(channel string) {
	h.mu.Lock()
	delete(h.latest, channel)
	h.mu.Unlock()
}
