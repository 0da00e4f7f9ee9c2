package teachers

import (
	"context"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/schoolsync/libs/ddd"
	"github.com/md-rashed-zaman/schoolsync/libs/tenant"
)

// FacultyRepository works on the faculty of the tenant in ctx.
type FacultyRepository interface {
	// Open inserts f unless the tenant already has one. f.TenantID, when
	// set, must match ctx.
	Open(ctx context.Context, f Faculty) (bool, error)
	Close(ctx context.Context) error
	Get(ctx context.Context) (Faculty, error)
}

// TeacherRepository reads the tenant from ctx.
type TeacherRepository interface {
	Create(ctx context.Context, t *Teacher) error
	List(ctx context.Context, subject string) ([]Teacher, error)
}

type Service struct {
	uow      ddd.TxRunner
	faculty  FacultyRepository
	teachers TeacherRepository
}

func NewService(uow ddd.TxRunner, faculty FacultyRepository, teachers TeacherRepository) *Service {
	return &Service{uow: uow, faculty: faculty, teachers: teachers}
}

func (s *Service) Hire(ctx context.Context, fullName, email, subject string) (*Teacher, error) {
	if _, err := tenant.CurrentTenantID(ctx); err != nil {
		return nil, err
	}
	var hired *Teacher
	err := s.uow.Do(ctx, func(ctx context.Context) error {
		f, err := s.faculty.Get(ctx)
		if err != nil {
			return err
		}
		t, err := Hire(uuid.NewString(), f, fullName, email, subject)
		if err != nil {
			return err
		}
		if err := ddd.Track(ctx, t); err != nil {
			return err
		}
		hired = t
		return s.teachers.Create(ctx, t)
	})
	if err != nil {
		return nil, err
	}
	return hired, nil
}

func (s *Service) List(ctx context.Context, subject string) ([]Teacher, error) {
	return s.teachers.List(ctx, subject)
}
