package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/schoolsync/libs/httpx"
	"github.com/md-rashed-zaman/schoolsync/libs/tenant"
	"github.com/md-rashed-zaman/schoolsync/services/teacher-service/internal/teachers"
)

type TeacherService interface {
	Hire(ctx context.Context, fullName, email, subject string) (*teachers.Teacher, error)
	List(ctx context.Context, subject string) ([]teachers.Teacher, error)
}

type TeacherHandler struct {
	svc    TeacherService
	logger *slog.Logger
}

func NewTeacherHandler(svc TeacherService, logger *slog.Logger) *TeacherHandler {
	return &TeacherHandler{svc: svc, logger: logger}
}

type hireRequest struct {
	FullName string `json:"full_name"`
	Email    string `json:"email"`
	Subject  string `json:"subject"`
}

type teacherResponse struct {
	ID       string    `json:"id"`
	FullName string    `json:"full_name"`
	Email    string    `json:"email"`
	Subject  string    `json:"subject"`
	HiredAt  time.Time `json:"hired_at"`
}

func (h *TeacherHandler) Teachers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req hireRequest
		if err := httpx.DecodeJSON(r, &req); err != nil {
			httpx.WriteError(w, http.StatusBadRequest, "invalid_body", "invalid json body")
			return
		}
		t, err := h.svc.Hire(r.Context(), req.FullName, req.Email, req.Subject)
		if err != nil {
			h.fail(w, err)
			return
		}
		httpx.WriteJSON(w, http.StatusCreated, teacherResponse{
			ID: t.ID, FullName: t.FullName, Email: t.Email, Subject: t.Subject, HiredAt: t.HiredAt,
		})
	case http.MethodGet:
		list, err := h.svc.List(r.Context(), strings.ToLower(strings.TrimSpace(r.URL.Query().Get("subject"))))
		if err != nil {
			h.fail(w, err)
			return
		}
		out := make([]teacherResponse, 0, len(list))
		for _, t := range list {
			out = append(out, teacherResponse{ID: t.ID, FullName: t.FullName, Email: t.Email, Subject: t.Subject, HiredAt: t.HiredAt})
		}
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"teachers": out})
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *TeacherHandler) fail(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tenant.ErrTenantContextUnavailable):
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "")
	case errors.Is(err, teachers.ErrInvalid):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, teachers.ErrNoFaculty):
		httpx.WriteError(w, http.StatusServiceUnavailable, "faculty_not_ready", err.Error())
	case errors.Is(err, teachers.ErrFacultyClosed), errors.Is(err, teachers.ErrEmailTaken):
		httpx.WriteError(w, http.StatusConflict, "conflict", err.Error())
	default:
		h.logger.Error("teacher request failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "")
	}
}
