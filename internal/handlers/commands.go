package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/bbilly1/tubearchivist/internal/queue"
	"github.com/bbilly1/tubearchivist/internal/subscription"
)

// The command endpoint drives everything the UI triggers asynchronously.
// The set is closed: an unknown command is a client error and is rejected
// before any work starts.
const (
	cmdRescanPending = "rescan_pending"
	cmdDlPending     = "dl_pending"
	cmdDlNow         = "dlnow"
	cmdIgnore        = "ignore"
	cmdForgetIgnore  = "forget_ignore"
	cmdSubscribe     = "subscribe"
	cmdUnsubscribe   = "unsubscribe"
)

type commandRequest struct {
	Command    string          `json:"command"`
	IDs        []string        `json:"ids,omitempty"`
	ChannelIDs []string        `json:"channel_ids,omitempty"`
	Subscribed json.RawMessage `json:"subscribed,omitempty"`
}

func (h *Handler) RunCommand(w http.ResponseWriter, r *http.Request) {
	var req commandRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	switch req.Command {
	case cmdRescanPending:
		h.background(r, req.Command, func(ctx context.Context) {
			missing, err := h.Subs.FindMissing(ctx)
			if err != nil {
				h.Logger.Error("rescan failed", "error", err)
				return
			}
			if _, err := h.Queue.AddToPending(ctx, missing); err != nil {
				h.Logger.Error("failed to queue rescan results", "error", err)
			}
		})
		h.writeSuccess(w)

	case cmdDlPending:
		h.background(r, req.Command, func(ctx context.Context) {
			pending, _, err := h.Queue.All(ctx)
			if err != nil {
				h.Logger.Error("failed to read queue", "error", err)
				return
			}
			ids := make([]string, 0, len(pending))
			for _, entry := range pending {
				ids = append(ids, entry.YoutubeID)
			}
			if err := h.Executor.RunQueue(ctx, ids); err != nil {
				h.Logger.Error("queue run failed", "error", err)
			}
		})
		h.writeSuccess(w)

	case cmdDlNow:
		if len(req.IDs) == 0 {
			h.writeError(w, http.StatusBadRequest, "dlnow requires ids")
			return
		}
		h.background(r, req.Command, func(ctx context.Context) {
			if err := h.Executor.RunQueue(ctx, req.IDs); err != nil {
				h.Logger.Error("queue run failed", "error", err)
			}
		})
		h.writeSuccess(w)

	case cmdIgnore, cmdForgetIgnore:
		if len(req.IDs) == 0 {
			h.writeError(w, http.StatusBadRequest, req.Command+" requires ids")
			return
		}
		var err error
		if req.Command == cmdIgnore {
			err = h.Queue.Ignore(r.Context(), req.IDs)
		} else {
			err = h.Queue.ForgetIgnore(r.Context(), req.IDs)
		}
		if err != nil {
			if errors.Is(err, queue.ErrBadTransition) {
				h.writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			h.Logger.Error("status change failed", "error", err)
			h.writeError(w, http.StatusInternalServerError, "status change failed")
			return
		}
		h.writeSuccess(w)

	case cmdSubscribe, cmdUnsubscribe:
		if len(req.ChannelIDs) == 0 {
			h.writeError(w, http.StatusBadRequest, req.Command+" requires channel_ids")
			return
		}
		subscribed := false
		if req.Command == cmdSubscribe {
			var raw any
			if len(req.Subscribed) > 0 {
				if err := json.Unmarshal(req.Subscribed, &raw); err != nil {
					h.writeError(w, http.StatusBadRequest, "invalid subscribed flag")
					return
				}
			} else {
				raw = true
			}
			flag, err := subscription.ParseSubscribeFlag(raw)
			if err != nil {
				h.writeError(w, http.StatusBadRequest, err.Error())
				return
			}
			subscribed = flag
		}
		for _, channelID := range req.ChannelIDs {
			if err := h.Subs.ChangeSubscribe(r.Context(), channelID, subscribed); err != nil {
				if errors.Is(err, subscription.ErrValidation) {
					h.writeError(w, http.StatusBadRequest, err.Error())
					return
				}
				h.Logger.Error("subscription change failed", "channel_id", channelID, "error", err)
				h.writeError(w, http.StatusInternalServerError, "subscription change failed")
				return
			}
		}
		h.writeSuccess(w)

	default:
		h.writeError(w, http.StatusBadRequest, "unknown command: "+req.Command)
	}
}
