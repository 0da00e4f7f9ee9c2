package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/md-rashed-zaman/schoolsync/libs/httpx"
	"github.com/md-rashed-zaman/schoolsync/libs/tenant"
	"github.com/md-rashed-zaman/schoolsync/services/student-service/internal/schools"
	"github.com/md-rashed-zaman/schoolsync/services/student-service/internal/students"
)

type StudentService interface {
	Enroll(ctx context.Context, cmd students.EnrollCommand) (*students.Student, error)
	Withdraw(ctx context.Context, id, reason string) (*students.Student, error)
	List(ctx context.Context, f students.Filter) ([]students.Student, error)
}

type StudentHandler struct {
	svc    StudentService
	logger *slog.Logger
}

func NewStudentHandler(svc StudentService, logger *slog.Logger) *StudentHandler {
	return &StudentHandler{svc: svc, logger: logger}
}

type studentResponse struct {
	ID          string     `json:"id"`
	FullName    string     `json:"full_name"`
	Email       string     `json:"email,omitempty"`
	GradeLevel  string     `json:"grade_level"`
	Status      string     `json:"status"`
	EnrolledAt  time.Time  `json:"enrolled_at"`
	WithdrawnAt *time.Time `json:"withdrawn_at,omitempty"`
}

func toResponse(s students.Student) studentResponse {
	return studentResponse{
		ID:          s.ID,
		FullName:    s.FullName,
		Email:       s.Email,
		GradeLevel:  s.GradeLevel,
		Status:      string(s.Status),
		EnrolledAt:  s.EnrolledAt,
		WithdrawnAt: s.WithdrawnAt,
	}
}

// Students serves GET (list) and POST (enrol) on the collection.
func (h *StudentHandler) Students(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.list(w, r)
	case http.MethodPost:
		h.enroll(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *StudentHandler) enroll(w http.ResponseWriter, r *http.Request) {
	var req struct {
		FullName   string `json:"full_name"`
		Email      string `json:"email"`
		GradeLevel string `json:"grade_level"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_body", "invalid json body")
		return
	}
	st, err := h.svc.Enroll(r.Context(), students.EnrollCommand{
		FullName:   req.FullName,
		Email:      req.Email,
		GradeLevel: req.GradeLevel,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toResponse(*st))
}

func (h *StudentHandler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := students.Filter{
		GradeLevel: strings.ToUpper(strings.TrimSpace(q.Get("grade_level"))),
		Status:     students.Status(strings.TrimSpace(q.Get("status"))),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			f.Limit = n
		}
	}
	list, err := h.svc.List(r.Context(), f)
	if err != nil {
		h.writeError(w, err)
		return
	}
	out := make([]studentResponse, 0, len(list))
	for _, s := range list {
		out = append(out, toResponse(s))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"students": out})
}

func (h *StudentHandler) Withdraw(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		StudentID string `json:"student_id"`
		Reason    string `json:"reason"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil || strings.TrimSpace(req.StudentID) == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_body", "student_id required")
		return
	}
	st, err := h.svc.Withdraw(r.Context(), req.StudentID, req.Reason)
	if err != nil {
		h.writeError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(*st))
}

func (h *StudentHandler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tenant.ErrTenantContextUnavailable):
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "")
	case errors.Is(err, students.ErrInvalid):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, students.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, schools.ErrNotProvisioned):
		// The tenant exists upstream but its creation has not reached us yet.
		httpx.WriteError(w, http.StatusServiceUnavailable, "school_not_ready", err.Error())
	case errors.Is(err, students.ErrQuotaExceeded),
		errors.Is(err, students.ErrSchoolInactive),
		errors.Is(err, students.ErrAlreadyWithdrawn),
		errors.Is(err, students.ErrEmailTaken):
		httpx.WriteError(w, http.StatusConflict, "conflict", err.Error())
	default:
		h.logger.Error("student operation failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "")
	}
}
