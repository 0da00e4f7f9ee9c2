package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/schoolsync/libs/httpx"
	"github.com/md-rashed-zaman/schoolsync/libs/tenant"
	"github.com/md-rashed-zaman/schoolsync/services/chat-service/internal/chat"
)

type ChatService interface {
	Announce(ctx context.Context, author, title, body string) (chat.Announcement, error)
	Members(ctx context.Context, kind chat.MemberKind) ([]chat.Member, error)
}

type ChatHandler struct {
	svc    ChatService
	logger *slog.Logger
}

func NewChatHandler(svc ChatService, logger *slog.Logger) *ChatHandler {
	return &ChatHandler{svc: svc, logger: logger}
}

type memberView struct {
	PersonID    string    `json:"person_id"`
	Kind        string    `json:"kind"`
	DisplayName string    `json:"display_name"`
	JoinedAt    time.Time `json:"joined_at"`
}

func (h *ChatHandler) Members(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	kind := chat.MemberKind(r.URL.Query().Get("kind"))
	switch kind {
	case "", chat.KindStudent, chat.KindTeacher:
	default:
		httpx.WriteError(w, http.StatusBadRequest, "invalid_kind", "kind must be student or teacher")
		return
	}
	members, err := h.svc.Members(r.Context(), kind)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]memberView, 0, len(members))
	for _, m := range members {
		out = append(out, memberView{PersonID: m.PersonID, Kind: string(m.Kind), DisplayName: m.DisplayName, JoinedAt: m.JoinedAt})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"members": out})
}

func (h *ChatHandler) Announcements(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Author string `json:"author"`
		Title  string `json:"title"`
		Body   string `json:"body"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_body", "invalid json body")
		return
	}
	a, err := h.svc.Announce(r.Context(), req.Author, req.Title, req.Body)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"id":         a.ID,
		"channel_id": a.ChannelID,
		"author":     a.Author,
		"title":      a.Title,
		"posted_at":  a.PostedAt,
	})
}

func (h *ChatHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tenant.ErrTenantContextUnavailable):
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "")
	case errors.Is(err, chat.ErrInvalid):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, chat.ErrNoChannel):
		httpx.WriteError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, chat.ErrArchived):
		httpx.WriteError(w, http.StatusConflict, "archived", err.Error())
	default:
		h.logger.Error("chat request failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "")
	}
}
