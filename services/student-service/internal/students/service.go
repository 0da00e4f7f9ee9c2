package students

import (
	"context"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/schoolsync/libs/ddd"
	"github.com/md-rashed-zaman/schoolsync/libs/tenant"
	"github.com/md-rashed-zaman/schoolsync/services/student-service/internal/schools"
)

// Repository methods are scoped to the tenant of ctx.
type Repository interface {
	Create(ctx context.Context, s *Student) error
	GetForUpdate(ctx context.Context, id string) (*Student, error)
	Update(ctx context.Context, s *Student) error
	CountActive(ctx context.Context) (int, error)
	List(ctx context.Context, f Filter) ([]Student, error)
}

type Filter struct {
	GradeLevel string
	Status     Status
	Limit      int
}

type SchoolLookup interface {
	GetForUpdate(ctx context.Context) (schools.School, error)
}

type EnrollCommand struct {
	FullName   string
	Email      string
	GradeLevel string
}

type Service struct {
	uow      ddd.TxRunner
	students Repository
	schools  SchoolLookup
}

func NewService(uow ddd.TxRunner, students Repository, schools SchoolLookup) *Service {
	return &Service{uow: uow, students: students, schools: schools}
}

// Enroll admits a student into the school of the current tenant. The school
// row stays locked until commit, so concurrent enrolments cannot both take
// the last seat.
func (s *Service) Enroll(ctx context.Context, cmd EnrollCommand) (*Student, error) {
	if _, err := tenant.CurrentTenantID(ctx); err != nil {
		return nil, err
	}
	var out *Student
	err := s.uow.Do(ctx, func(ctx context.Context) error {
		school, err := s.schools.GetForUpdate(ctx)
		if err != nil {
			return err
		}
		active, err := s.students.CountActive(ctx)
		if err != nil {
			return err
		}
		st, err := Enroll(uuid.NewString(), school, active, cmd.FullName, cmd.Email, cmd.GradeLevel)
		if err != nil {
			return err
		}
		if err := ddd.Track(ctx, st); err != nil {
			return err
		}
		out = st
		return s.students.Create(ctx, st)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) Withdraw(ctx context.Context, id, reason string) (*Student, error) {
	var out *Student
	err := s.uow.Do(ctx, func(ctx context.Context) error {
		st, err := s.students.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := ddd.Track(ctx, st); err != nil {
			return err
		}
		if err := st.Withdraw(reason); err != nil {
			return err
		}
		out = st
		return s.students.Update(ctx, st)
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) List(ctx context.Context, f Filter) ([]Student, error) {
	return s.students.List(ctx, f)
}
