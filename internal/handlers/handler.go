// Package handlers exposes the JSON API: queue management, channel
// subscriptions, the command endpoint driving rescans and download runs, and
// the progress poll.
package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/bbilly1/tubearchivist/internal/download"
	"github.com/bbilly1/tubearchivist/internal/logger"
	"github.com/bbilly1/tubearchivist/internal/progress"
	"github.com/bbilly1/tubearchivist/internal/queue"
	"github.com/bbilly1/tubearchivist/internal/subscription"
)

type Handler struct {
	Queue    *queue.Pending
	Subs     *subscription.Manager
	Executor *download.Executor
	Hub      *progress.Hub
	Logger   *logger.Logger
}

func NewHandler(q *queue.Pending, subs *subscription.Manager, executor *download.Executor, hub *progress.Hub, log *logger.Logger) *Handler {
	return &Handler{
		Queue:    q,
		Subs:     subs,
		Executor: executor,
		Hub:      hub,
		Logger:   log.WithComponent("api"),
	}
}

// background detaches long-running work from the request the way the
// original surface handed work to a task runner: the handler answers
// immediately, the work keeps the request's values but not its deadline.
func (h *Handler) background(r *http.Request, name string, fn func(ctx context.Context)) {
	ctx := context.WithoutCancel(r.Context())
	go func() {
		h.Logger.Info("background task started", "task", name)
		fn(ctx)
		h.Logger.Info("background task finished", "task", name)
	}()
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.Logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}

func (h *Handler) writeSuccess(w http.ResponseWriter) {
	h.writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
