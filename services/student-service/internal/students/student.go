// Package students is the student aggregate and its enrolment rules.
package students

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/schoolsync/libs/ddd"
	"github.com/md-rashed-zaman/schoolsync/libs/tenant"
	"github.com/md-rashed-zaman/schoolsync/services/student-service/internal/schools"
)

var (
	ErrInvalid          = errors.New("invalid student")
	ErrNotFound         = errors.New("student not found")
	ErrQuotaExceeded    = errors.New("school has reached its student quota")
	ErrSchoolInactive   = errors.New("school is deactivated")
	ErrAlreadyWithdrawn = errors.New("student already withdrawn")
	ErrEmailTaken       = errors.New("student email already enrolled")
)

type Status string

const (
	StatusActive    Status = "active"
	StatusWithdrawn Status = "withdrawn"
)

type Student struct {
	ddd.Ledger

	ID          string
	TenantID    tenant.ID
	FullName    string
	Email       string
	GradeLevel  string
	Status      Status
	EnrolledAt  time.Time
	WithdrawnAt *time.Time
}

// Enroll admits a student into school, which already holds activeCount
// active students.
func Enroll(id string, school schools.School, activeCount int, fullName, email, gradeLevel string) (*Student, error) {
	fullName = strings.TrimSpace(fullName)
	email = strings.ToLower(strings.TrimSpace(email))
	gradeLevel = strings.ToUpper(strings.TrimSpace(gradeLevel))
	if fullName == "" {
		return nil, fmt.Errorf("%w: full name is required", ErrInvalid)
	}
	if !school.OffersGrade(gradeLevel) {
		return nil, fmt.Errorf("%w: grade level %q not offered", ErrInvalid, gradeLevel)
	}
	if !school.Active {
		return nil, ErrSchoolInactive
	}
	if activeCount >= school.Quota {
		return nil, fmt.Errorf("%w (%d)", ErrQuotaExceeded, school.Quota)
	}

	s := &Student{
		ID:         id,
		TenantID:   school.TenantID,
		FullName:   fullName,
		Email:      email,
		GradeLevel: gradeLevel,
		Status:     StatusActive,
		EnrolledAt: time.Now().UTC(),
	}
	s.Raise(Enrolled{
		EventBase:  ddd.NewEventBase(id, s.TenantID),
		FullName:   s.FullName,
		Email:      s.Email,
		GradeLevel: s.GradeLevel,
	})
	return s, nil
}

func (s *Student) Withdraw(reason string) error {
	if s.Status == StatusWithdrawn {
		return ErrAlreadyWithdrawn
	}
	now := time.Now().UTC()
	s.Status = StatusWithdrawn
	s.WithdrawnAt = &now
	s.Raise(Withdrawn{
		EventBase: ddd.NewEventBase(s.ID, s.TenantID),
		FullName:  s.FullName,
		Reason:    strings.TrimSpace(reason),
	})
	return nil
}

type Enrolled struct {
	ddd.EventBase
	FullName   string
	Email      string
	GradeLevel string
}

func (Enrolled) EventName() string { return "student.enrolled" }

type Withdrawn struct {
	ddd.EventBase
	FullName string
	Reason   string
}

func (Withdrawn) EventName() string { return "student.withdrawn" }
