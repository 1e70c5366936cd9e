package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bbilly1/tubearchivist/internal/constants"
	"github.com/bbilly1/tubearchivist/internal/queue"
	"github.com/bbilly1/tubearchivist/internal/subscription"
)

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/api/queue", h.GetQueue)
	r.Get("/api/queue/ignored", h.GetIgnored)
	r.Post("/api/queue", h.AddToQueue)
	r.Delete("/api/queue/{id}", h.DeleteFromQueue)

	r.Get("/api/channels", h.GetChannels)

	r.Post("/api/task", h.RunCommand)

	r.Get("/progress/download", h.GetProgress)
}

func (h *Handler) GetQueue(w http.ResponseWriter, r *http.Request) {
	pending, _, err := h.Queue.All(r.Context())
	if err != nil {
		h.Logger.Error("failed to read queue", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to read queue")
		return
	}
	if pending == nil {
		pending = []queue.Entry{}
	}
	h.writeJSON(w, http.StatusOK, pending)
}

func (h *Handler) GetIgnored(w http.ResponseWriter, r *http.Request) {
	_, ignored, err := h.Queue.All(r.Context())
	if err != nil {
		h.Logger.Error("failed to read queue", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to read queue")
		return
	}
	if ignored == nil {
		ignored = []string{}
	}
	h.writeJSON(w, http.StatusOK, ignored)
}

// AddToQueue accepts candidate references, expands them synchronously so
// invalid input fails the request, and resolves metadata in the background.
func (h *Handler) AddToQueue(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Candidates []queue.Candidate `json:"candidates"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Candidates) == 0 {
		h.writeError(w, http.StatusBadRequest, "no candidates given")
		return
	}

	ids, err := h.Queue.ParseCandidates(r.Context(), req.Candidates)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	h.background(r, "add_to_pending", func(ctx context.Context) {
		if _, err := h.Queue.AddToPending(ctx, ids); err != nil {
			h.Logger.Error("failed to add to queue", "error", err)
		}
	})
	h.writeSuccess(w)
}

func (h *Handler) DeleteFromQueue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Queue.Delete(r.Context(), id); err != nil {
		h.Logger.Error("failed to delete queue entry", "youtube_id", id, "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to delete queue entry")
		return
	}
	h.writeSuccess(w)
}

func (h *Handler) GetChannels(w http.ResponseWriter, r *http.Request) {
	subscribedOnly := r.URL.Query().Get("subscribed_only") == "true"
	channels, err := h.Subs.GetChannels(r.Context(), subscribedOnly)
	if err != nil {
		h.Logger.Error("failed to list channels", "error", err)
		h.writeError(w, http.StatusInternalServerError, "failed to list channels")
		return
	}
	if channels == nil {
		channels = []subscription.Channel{}
	}
	h.writeJSON(w, http.StatusOK, channels)
}

func (h *Handler) GetProgress(w http.ResponseWriter, r *http.Request) {
	msg, ok := h.Hub.Latest(constants.ProgressChannelDownload)
	if !ok {
		h.writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	h.writeJSON(w, http.StatusOK, msg)
}
