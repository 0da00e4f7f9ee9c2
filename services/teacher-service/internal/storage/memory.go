package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/md-rashed-zaman/schoolsync/libs/tenant"
	"github.com/md-rashed-zaman/schoolsync/services/teacher-service/internal/teachers"
)

// Memory is the in-process counterpart of Postgres.
type Memory struct {
	mu        sync.Mutex
	faculties map[tenant.ID]teachers.Faculty
	staff     []teachers.Teacher
}

func NewMemory() *Memory {
	return &Memory{faculties: map[tenant.ID]teachers.Faculty{}}
}

func (m *Memory) Open(ctx context.Context, f teachers.Faculty) (bool, error) {
	id, err := tenant.Match(ctx, f.TenantID)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.faculties[id]; ok {
		return false, nil
	}
	f.TenantID = id
	m.faculties[id] = f
	return true, nil
}

func (m *Memory) Close(ctx context.Context) error {
	id, err := tenant.CurrentTenantID(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.faculties[id]
	if !ok {
		return teachers.ErrNoFaculty
	}
	f.Active = false
	m.faculties[id] = f
	return nil
}

func (m *Memory) Get(ctx context.Context) (teachers.Faculty, error) {
	id, err := tenant.CurrentTenantID(ctx)
	if err != nil {
		return teachers.Faculty{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.faculties[id]
	if !ok {
		return teachers.Faculty{}, teachers.ErrNoFaculty
	}
	return f, nil
}

func (m *Memory) Create(ctx context.Context, t *teachers.Teacher) error {
	tenantID, err := tenant.CurrentTenantID(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.staff {
		if s.TenantID == tenantID && s.Email == t.Email {
			return teachers.ErrEmailTaken
		}
	}
	m.staff = append(m.staff, teachers.Teacher{
		ID: t.ID, TenantID: tenantID, FullName: t.FullName, Email: t.Email, Subject: t.Subject, HiredAt: t.HiredAt,
	})
	return nil
}

func (m *Memory) List(ctx context.Context, subject string) ([]teachers.Teacher, error) {
	tenantID, err := tenant.CurrentTenantID(ctx)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []teachers.Teacher
	for _, s := range m.staff {
		if s.TenantID != tenantID || (subject != "" && s.Subject != subject) {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FullName < out[j].FullName })
	return out, nil
}
