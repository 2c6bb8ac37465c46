package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zoravur/realtime-chat/internal/chat"
	"github.com/zoravur/realtime-chat/internal/logutil"
	"github.com/zoravur/realtime-chat/internal/registry"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 200
)

// ChatService is the messaging surface the HTTP layer uses.
type ChatService interface {
	Connector
	Send(ctx context.Context, channelID, senderID, content string) (chat.Message, error)
	MarkRead(ctx context.Context, userID, channelID string) (int64, error)
	History() chat.History
	Stats() registry.Stats
	Ping(ctx context.Context) error
}

type handlers struct {
	svc ChatService
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Ping(r.Context()); err != nil {
		logutil.FromContext(r.Context()).Warn("health check failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handlers) stats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Stats())
}

func (h *handlers) postMessage(w http.ResponseWriter, r *http.Request) {
	var body struct {
		SenderID string `json:"senderId"`
		Message  string `json:"message"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, chat.Invalid("body", "is not valid JSON"))
		return
	}
	msg, err := h.svc.Send(r.Context(), chi.URLParam(r, "channelId"), body.SenderID, body.Message)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (h *handlers) markRead(w http.ResponseWriter, r *http.Request) {
	var body struct {
		UserID string `json:"userId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, r, chat.Invalid("body", "is not valid JSON"))
		return
	}
	n, err := h.svc.MarkRead(r.Context(), body.UserID, chi.URLParam(r, "channelId"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"updated": n})
}

func (h *handlers) listMessages(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, r, chat.Invalid("limit", "must be a positive integer"))
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	channelID := chi.URLParam(r, "channelId")
	msgs, err := h.svc.History().ListMessages(r.Context(), channelID, limit)
	if err != nil {
		writeError(w, r, chat.Persistence("listMessages", err))
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

func (h *handlers) unread(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		writeError(w, r, chat.Invalid("userId", "is required"))
		return
	}
	channelID := chi.URLParam(r, "channelId")
	n, err := h.svc.History().CountUnread(r.Context(), userID, channelID)
	if err != nil {
		writeError(w, r, chat.Persistence("countUnread", err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"channelId": channelID,
		"userId":    userID,
		"unread":    n,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	code := chat.Code(err)
	msg := err.Error()
	var pe *chat.PersistenceError
	if errors.As(err, &pe) {
		msg = "storage unavailable"
	}
	if code >= 500 {
		logutil.FromContext(r.Context()).Error("request failed", zap.Error(err))
	}
	writeJSON(w, code, map[string]any{"error": msg, "code": code})
}
