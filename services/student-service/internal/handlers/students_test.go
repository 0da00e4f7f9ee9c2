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
	"github.com/md-rashed-zaman/schoolsync/libs/ddd"
	"github.com/md-rashed-zaman/schoolsync/libs/tenant"
	"github.com/md-rashed-zaman/schoolsync/services/student-service/internal/schools"
	"github.com/md-rashed-zaman/schoolsync/services/student-service/internal/storage"
	"github.com/md-rashed-zaman/schoolsync/services/student-service/internal/students"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type txStub struct{}

func (txStub) Do(ctx context.Context, fn func(ctx context.Context) error) error { return fn(ctx) }

func newHandler(t *testing.T, quota int) (*StudentHandler, *storage.Memory) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	d := ddd.NewDispatcher()
	d.Freeze()
	mem := storage.NewMemory()
	_, err := mem.Provision(tenant.WithTenant(context.Background(), "T1"), schools.School{
		Name: "Riverside", Plan: "trial", Quota: quota, Active: true,
		GradeLevels: schools.DefaultGradeLevels, UpdatedAt: time.Now(),
	})
	require.NoError(t, err)
	svc := students.NewService(ddd.NewUnitOfWork(txStub{}, d, logger), mem.Students(), mem)
	return NewStudentHandler(svc, logger), mem
}

func request(method, target, body string, tenantID tenant.ID) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if tenantID != "" {
		req = req.WithContext(tenant.WithTenant(req.Context(), tenantID))
	}
	return req
}

func TestEnrollAndList(t *testing.T) {
	h, _ := newHandler(t, 50)

	rec := httptest.NewRecorder()
	h.Students(rec, request(http.MethodPost, "/api/v1/students", `{"full_name":"Ada","email":"ada@x.test","grade_level":"k"}`, "T1"))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created studentResponse
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "K", created.GradeLevel)
	assert.Equal(t, "active", created.Status)

	rec = httptest.NewRecorder()
	h.Students(rec, request(http.MethodGet, "/api/v1/students?grade_level=k", "", "T1"))
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Students []studentResponse `json:"students"`
	}
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Students, 1)
	assert.Equal(t, created.ID, body.Students[0].ID)
}

func TestEnrollOverQuotaIsConflict(t *testing.T) {
	h, _ := newHandler(t, 1)

	rec := httptest.NewRecorder()
	h.Students(rec, request(http.MethodPost, "/api/v1/students", `{"full_name":"One","grade_level":"1"}`, "T1"))
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = httptest.NewRecorder()
	h.Students(rec, request(http.MethodPost, "/api/v1/students", `{"full_name":"Two","grade_level":"1"}`, "T1"))
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestEnrollErrors(t *testing.T) {
	h, _ := newHandler(t, 50)

	cases := []struct {
		name   string
		body   string
		tenant tenant.ID
		want   int
	}{
		{"bad json", `{`, "T1", http.StatusBadRequest},
		{"unknown grade", `{"full_name":"X","grade_level":"14"}`, "T1", http.StatusBadRequest},
		{"school not provisioned", `{"full_name":"X","grade_level":"1"}`, "T2", http.StatusServiceUnavailable},
		{"no tenant", `{"full_name":"X","grade_level":"1"}`, "", http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h.Students(rec, request(http.MethodPost, "/api/v1/students", tc.body, tc.tenant))
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestWithdrawEndpoint(t *testing.T) {
	h, _ := newHandler(t, 50)

	rec := httptest.NewRecorder()
	h.Students(rec, request(http.MethodPost, "/api/v1/students", `{"full_name":"Leaving","grade_level":"6"}`, "T1"))
	require.Equal(t, http.StatusCreated, rec.Code)
	var created studentResponse
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &created))

	body := `{"student_id":"` + created.ID + `","reason":"moved"}`
	rec = httptest.NewRecorder()
	h.Withdraw(rec, request(http.MethodPost, "/api/v1/students/withdraw", body, "T1"))
	require.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	h.Withdraw(rec, request(http.MethodPost, "/api/v1/students/withdraw", body, "T1"))
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = httptest.NewRecorder()
	h.Withdraw(rec, request(http.MethodPost, "/api/v1/students/withdraw", body, "T2"))
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = httptest.NewRecorder()
	h.Withdraw(rec, request(http.MethodGet, "/api/v1/students/withdraw", "", "T1"))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}
