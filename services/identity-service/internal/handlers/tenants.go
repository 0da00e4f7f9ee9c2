package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/schoolsync/libs/auth"
	"github.com/md-rashed-zaman/schoolsync/libs/httpx"
	"github.com/md-rashed-zaman/schoolsync/libs/tenant"
	"github.com/md-rashed-zaman/schoolsync/services/identity-service/internal/storage"
	"github.com/md-rashed-zaman/schoolsync/services/identity-service/internal/tenants"
	"github.com/md-rashed-zaman/schoolsync/services/identity-service/internal/tokens"
	"golang.org/x/crypto/bcrypt"
)

type TenantService interface {
	Register(ctx context.Context, reg tenants.Registration) (*tenants.Tenant, string, error)
	ChangePlan(ctx context.Context, id tenant.ID, plan string) (*tenants.Tenant, error)
	Deactivate(ctx context.Context, id tenant.ID, reason string) (*tenants.Tenant, error)
	Get(ctx context.Context, id tenant.ID) (*tenants.Tenant, error)
}

type UserLookup interface {
	GetByEmail(ctx context.Context, email string) (storage.User, error)
}

type TenantHandler struct {
	tenants  TenantService
	users    UserLookup
	signer   tokens.Signer
	tokenTTL time.Duration
	logger   *slog.Logger
}

func NewTenantHandler(svc TenantService, users UserLookup, signer tokens.Signer, tokenTTL time.Duration, logger *slog.Logger) *TenantHandler {
	return &TenantHandler{tenants: svc, users: users, signer: signer, tokenTTL: tokenTTL, logger: logger}
}

type registerRequest struct {
	Name       string `json:"name"`
	Plan       string `json:"plan"`
	AdminEmail string `json:"admin_email"`
	Password   string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	TenantID    string `json:"tenant_id"`
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

type tenantResponse struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Plan       string    `json:"plan"`
	Active     bool      `json:"active"`
	AdminEmail string    `json:"admin_email"`
	CreatedAt  time.Time `json:"created_at"`
}

func toResponse(t *tenants.Tenant) tenantResponse {
	return tenantResponse{
		ID:         t.ID.String(),
		Name:       t.Name,
		Plan:       string(t.Plan),
		Active:     t.Active,
		AdminEmail: t.AdminEmail,
		CreatedAt:  t.CreatedAt,
	}
}

// Register opens a school and returns a token for its admin.
func (h *TenantHandler) Register(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req registerRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_body", "invalid json body")
		return
	}
	req.AdminEmail = strings.ToLower(strings.TrimSpace(req.AdminEmail))
	if req.AdminEmail == "" || strings.TrimSpace(req.Password) == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_body", "admin_email and password required")
		return
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to hash password")
		return
	}
	t, adminID, err := h.tenants.Register(r.Context(), tenants.Registration{
		Name:         req.Name,
		Plan:         req.Plan,
		AdminEmail:   req.AdminEmail,
		PasswordHash: hash,
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	token, err := tokens.Issue(h.signer, adminID, t.ID, storage.RoleAdmin, h.tokenTTL)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to issue token")
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, tokenResponse{
		TenantID:    t.ID.String(),
		AccessToken: token,
		TokenType:   "Bearer",
	})
}

func (h *TenantHandler) Login(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req loginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_body", "invalid json body")
		return
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if req.Email == "" || req.Password == "" {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_body", "email and password required")
		return
	}

	user, err := h.users.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if storage.IsNotFound(err) {
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "")
			return
		}
		h.logger.Error("user lookup failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "")
		return
	}
	if err := verifyPassword(user.PasswordHash, req.Password); err != nil {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials", "")
		return
	}

	token, err := tokens.Issue(h.signer, user.ID, user.TenantID, user.Role, h.tokenTTL)
	if err != nil {
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "failed to issue token")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, tokenResponse{
		TenantID:    user.TenantID.String(),
		AccessToken: token,
		TokenType:   "Bearer",
	})
}

// ChangePlan is tenant scoped: the tenant comes from the token.
func (h *TenantHandler) ChangePlan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Plan string `json:"plan"`
	}
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_body", "invalid json body")
		return
	}
	id, err := tenant.CurrentTenantID(r.Context())
	if err != nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "")
		return
	}
	t, err := h.tenants.ChangePlan(r.Context(), id, req.Plan)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(t))
}

func (h *TenantHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	// The reason is optional, so an empty body is accepted.
	_ = httpx.DecodeJSON(r, &req)
	id, err := tenant.CurrentTenantID(r.Context())
	if err != nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "")
		return
	}
	t, err := h.tenants.Deactivate(r.Context(), id, req.Reason)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(t))
}

func (h *TenantHandler) Me(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id, err := tenant.CurrentTenantID(r.Context())
	if err != nil {
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "")
		return
	}
	t, err := h.tenants.Get(r.Context(), id)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toResponse(t))
}

func (h *TenantHandler) JWKS(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	keys := h.signer.JWKS()
	if len(keys) == 0 {
		http.Error(w, "jwks not available", http.StatusNotFound)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, auth.KeySet{Keys: keys})
}

func (h *TenantHandler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tenants.ErrUnknownPlan), errors.Is(err, tenants.ErrInvalid):
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, tenants.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, tenants.ErrEmailTaken):
		httpx.WriteError(w, http.StatusConflict, "email_taken", err.Error())
	case errors.Is(err, tenants.ErrInactive), errors.Is(err, tenants.ErrSamePlan):
		httpx.WriteError(w, http.StatusConflict, "conflict", err.Error())
	default:
		h.logger.Error("tenant operation failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal", "")
	}
}

func hashPassword(raw string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

func verifyPassword(hash string, raw string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(raw))
}
