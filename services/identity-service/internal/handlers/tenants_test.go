package handlers

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/schoolsync/libs/tenant"
	"github.com/md-rashed-zaman/schoolsync/services/identity-service/internal/storage"
	"github.com/md-rashed-zaman/schoolsync/services/identity-service/internal/tenants"
	"github.com/md-rashed-zaman/schoolsync/services/identity-service/internal/tokens"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type serviceStub struct {
	registered []tenants.Registration
	byID       map[tenant.ID]*tenants.Tenant
}

func (s *serviceStub) Register(_ context.Context, reg tenants.Registration) (*tenants.Tenant, string, error) {
	plan, err := tenants.ParsePlan(reg.Plan)
	if err != nil {
		return nil, "", err
	}
	s.registered = append(s.registered, reg)
	t := &tenants.Tenant{ID: "T1", Name: reg.Name, Plan: plan, Active: true, AdminEmail: reg.AdminEmail}
	s.byID[t.ID] = t
	return t, "admin-1", nil
}

func (s *serviceStub) ChangePlan(_ context.Context, id tenant.ID, plan string) (*tenants.Tenant, error) {
	t, ok := s.byID[id]
	if !ok {
		return nil, tenants.ErrNotFound
	}
	p, err := tenants.ParsePlan(plan)
	if err != nil {
		return nil, err
	}
	return t, t.ChangePlan(p)
}

func (s *serviceStub) Deactivate(_ context.Context, id tenant.ID, reason string) (*tenants.Tenant, error) {
	t, ok := s.byID[id]
	if !ok {
		return nil, tenants.ErrNotFound
	}
	return t, t.Deactivate(reason)
}

func (s *serviceStub) Get(_ context.Context, id tenant.ID) (*tenants.Tenant, error) {
	t, ok := s.byID[id]
	if !ok {
		return nil, tenants.ErrNotFound
	}
	return t, nil
}

type usersStub map[string]storage.User

func (u usersStub) GetByEmail(_ context.Context, email string) (storage.User, error) {
	user, ok := u[email]
	if !ok {
		return storage.User{}, pgx.ErrNoRows
	}
	return user, nil
}

func newHandler(users usersStub) (*TenantHandler, *serviceStub, tokens.Signer) {
	svc := &serviceStub{byID: map[tenant.ID]*tenants.Tenant{}}
	signer := tokens.NewHS256Signer("test-secret")
	return NewTenantHandler(svc, users, signer, time.Minute, slog.New(slog.NewTextHandler(io.Discard, nil))), svc, signer
}

func TestPasswordHashing(t *testing.T) {
	hash, err := hashPassword("pass123")
	require.NoError(t, err)
	require.NotEmpty(t, hash)
	assert.NoError(t, verifyPassword(hash, "pass123"))
	assert.Error(t, verifyPassword(hash, "wrong-pass"))
}

func TestRegisterReturnsTenantToken(t *testing.T) {
	h, svc, signer := newHandler(usersStub{})

	body := `{"name":"Riverside High","plan":"trial","admin_email":" Head@Riverside.test ","password":"s3cret"}`
	rec := httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/api/v1/tenants", strings.NewReader(body)))

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var resp tokenResponse
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "T1", resp.TenantID)

	claims, err := signer.Verify(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "T1", claims.TenantID)
	assert.Equal(t, "admin-1", claims.Sub)

	require.Len(t, svc.registered, 1)
	assert.Equal(t, "head@riverside.test", svc.registered[0].AdminEmail)
	assert.NoError(t, verifyPassword(svc.registered[0].PasswordHash, "s3cret"))
}

func TestRegisterRejectsUnknownPlan(t *testing.T) {
	h, _, _ := newHandler(usersStub{})
	body := `{"name":"X","plan":"platinum","admin_email":"a@x.test","password":"p"}`
	rec := httptest.NewRecorder()
	h.Register(rec, httptest.NewRequest(http.MethodPost, "/api/v1/tenants", strings.NewReader(body)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestLogin(t *testing.T) {
	hash, err := hashPassword("s3cret")
	require.NoError(t, err)
	h, _, signer := newHandler(usersStub{
		"head@riverside.test": {ID: "u1", TenantID: "T1", Email: "head@riverside.test", PasswordHash: hash, Role: "admin"},
	})

	rec := httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
		strings.NewReader(`{"email":"head@riverside.test","password":"s3cret"}`)))
	require.Equal(t, http.StatusOK, rec.Code)
	var resp tokenResponse
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &resp))
	claims, err := signer.Verify(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "T1", claims.TenantID)

	rec = httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
		strings.NewReader(`{"email":"head@riverside.test","password":"nope"}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = httptest.NewRecorder()
	h.Login(rec, httptest.NewRequest(http.MethodPost, "/api/v1/auth/login",
		strings.NewReader(`{"email":"ghost@x.test","password":"nope"}`)))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestTenantScopedRoutesUseContextTenant(t *testing.T) {
	h, svc, _ := newHandler(usersStub{})
	svc.byID["T1"] = &tenants.Tenant{ID: "T1", Name: "Riverside", Plan: tenants.PlanTrial, Active: true}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tenants/plan", strings.NewReader(`{"plan":"basic"}`))
	req = req.WithContext(tenant.WithTenant(req.Context(), "T1"))
	rec := httptest.NewRecorder()
	h.ChangePlan(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, tenants.PlanBasic, svc.byID["T1"].Plan)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/tenants/deactivate", nil)
	req = req.WithContext(tenant.WithTenant(req.Context(), "T1"))
	rec = httptest.NewRecorder()
	h.Deactivate(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/tenants/deactivate", nil)
	req = req.WithContext(tenant.WithTenant(req.Context(), "T1"))
	rec = httptest.NewRecorder()
	h.Deactivate(rec, req)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	h.Me(rec, httptest.NewRequest(http.MethodGet, "/api/v1/tenants/me", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
