package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/md-rashed-zaman/schoolsync/libs/tenant"
	"github.com/md-rashed-zaman/schoolsync/services/student-service/internal/schools"
	"github.com/md-rashed-zaman/schoolsync/services/student-service/internal/students"
)

// Memory implements both repositories in process for tests. Transactions
// are not modelled; the inbox memory store provides rollback of claims.
type Memory struct {
	mu       sync.Mutex
	schools  map[tenant.ID]schools.School
	students map[tenant.ID]map[string]students.Student
}

func NewMemory() *Memory {
	return &Memory{
		schools:  map[tenant.ID]schools.School{},
		students: map[tenant.ID]map[string]students.Student{},
	}
}

func (m *Memory) Provision(ctx context.Context, s schools.School) (bool, error) {
	id, err := tenant.Match(ctx, s.TenantID)
	if err != nil {
		return false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schools[id]; ok {
		return false, nil
	}
	s.TenantID = id
	s.GradeLevels = append([]string(nil), s.GradeLevels...)
	m.schools[id] = s
	return true, nil
}

func (m *Memory) SetPlan(ctx context.Context, plan string, quota int) error {
	return m.updateSchool(ctx, func(s *schools.School) { s.Plan, s.Quota = plan, quota })
}

func (m *Memory) Deactivate(ctx context.Context) error {
	return m.updateSchool(ctx, func(s *schools.School) { s.Active = false })
}

func (m *Memory) updateSchool(ctx context.Context, fn func(s *schools.School)) error {
	id, err := tenant.CurrentTenantID(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schools[id]
	if !ok {
		return schools.ErrNotProvisioned
	}
	fn(&s)
	m.schools[id] = s
	return nil
}

func (m *Memory) Get(ctx context.Context) (schools.School, error) {
	id, err := tenant.CurrentTenantID(ctx)
	if err != nil {
		return schools.School{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.schools[id]
	if !ok {
		return schools.School{}, schools.ErrNotProvisioned
	}
	return s, nil
}

func (m *Memory) GetForUpdate(ctx context.Context) (schools.School, error) {
	return m.Get(ctx)
}

// Schools returns the provisioned tenants in id order.
func (m *Memory) Schools() []tenant.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]tenant.ID, 0, len(m.schools))
	for id := range m.schools {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Students exposes the student side of Memory.
func (m *Memory) Students() students.Repository { return memoryStudents{m} }

type memoryStudents struct{ m *Memory }

func (r memoryStudents) byTenant(ctx context.Context) (map[string]students.Student, tenant.ID, error) {
	id, err := tenant.CurrentTenantID(ctx)
	if err != nil {
		return nil, "", err
	}
	rows, ok := r.m.students[id]
	if !ok {
		rows = map[string]students.Student{}
		r.m.students[id] = rows
	}
	return rows, id, nil
}

func (r memoryStudents) Create(ctx context.Context, s *students.Student) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	rows, _, err := r.byTenant(ctx)
	if err != nil {
		return err
	}
	for _, existing := range rows {
		if s.Email != "" && existing.Email == s.Email {
			return students.ErrEmailTaken
		}
	}
	rows[s.ID] = snapshot(s)
	return nil
}

func (r memoryStudents) GetForUpdate(ctx context.Context, id string) (*students.Student, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	rows, _, err := r.byTenant(ctx)
	if err != nil {
		return nil, err
	}
	s, ok := rows[id]
	if !ok {
		return nil, students.ErrNotFound
	}
	return &s, nil
}

func (r memoryStudents) Update(ctx context.Context, s *students.Student) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	rows, _, err := r.byTenant(ctx)
	if err != nil {
		return err
	}
	if _, ok := rows[s.ID]; !ok {
		return students.ErrNotFound
	}
	rows[s.ID] = snapshot(s)
	return nil
}

func (r memoryStudents) CountActive(ctx context.Context) (int, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	rows, _, err := r.byTenant(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, s := range rows {
		if s.Status == students.StatusActive {
			n++
		}
	}
	return n, nil
}

func (r memoryStudents) List(ctx context.Context, f students.Filter) ([]students.Student, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	rows, _, err := r.byTenant(ctx)
	if err != nil {
		return nil, err
	}
	var out []students.Student
	for _, s := range rows {
		if f.GradeLevel != "" && s.GradeLevel != f.GradeLevel {
			continue
		}
		if f.Status != "" && s.Status != f.Status {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnrolledAt.Before(out[j].EnrolledAt) })
	return out, nil
}

// snapshot copies the persisted fields and leaves the ledger behind.
func snapshot(s *students.Student) students.Student {
	return students.Student{
		ID:          s.ID,
		TenantID:    s.TenantID,
		FullName:    s.FullName,
		Email:       s.Email,
		GradeLevel:  s.GradeLevel,
		Status:      s.Status,
		EnrolledAt:  s.EnrolledAt,
		WithdrawnAt: s.WithdrawnAt,
	}
}
