// Package teachers holds the faculty of each school and the teachers it hires.
package teachers

import (
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/md-rashed-zaman/schoolsync/libs/ddd"
	"github.com/md-rashed-zaman/schoolsync/libs/tenant"
)

var (
	ErrInvalid        = errors.New("invalid teacher")
	ErrNoFaculty      = errors.New("faculty not provisioned")
	ErrFacultyClosed  = errors.New("faculty is closed")
	ErrEmailTaken     = errors.New("teacher email already on staff")
	ErrTeacherUnknown = errors.New("teacher not found")
)

// Faculty is the local record of a school, created when the tenant is.
type Faculty struct {
	TenantID   tenant.ID
	SchoolName string
	Active     bool
	CreatedAt  time.Time
}

type Teacher struct {
	ddd.Ledger

	ID       string
	TenantID tenant.ID
	FullName string
	Email    string
	Subject  string
	HiredAt  time.Time
}

// Hire validates the new teacher against the faculty and raises Hired.
func Hire(id string, f Faculty, fullName, email, subject string) (*Teacher, error) {
	fullName = strings.TrimSpace(fullName)
	subject = strings.ToLower(strings.TrimSpace(subject))
	addr, err := mail.ParseAddress(strings.TrimSpace(email))
	switch {
	case fullName == "":
		return nil, fmt.Errorf("%w: full name is required", ErrInvalid)
	case err != nil:
		return nil, fmt.Errorf("%w: email: %v", ErrInvalid, err)
	case subject == "":
		return nil, fmt.Errorf("%w: subject is required", ErrInvalid)
	case !f.Active:
		return nil, ErrFacultyClosed
	}

	t := &Teacher{
		ID:       id,
		TenantID: f.TenantID,
		FullName: fullName,
		Email:    strings.ToLower(addr.Address),
		Subject:  subject,
		HiredAt:  time.Now().UTC(),
	}
	t.Raise(Hired{
		EventBase: ddd.NewEventBase(id, f.TenantID),
		FullName:  t.FullName,
		Email:     t.Email,
		Subject:   t.Subject,
	})
	return t, nil
}

type Hired struct {
	ddd.EventBase
	FullName string
	Email    string
	Subject  string
}

func (Hired) EventName() string { return "teacher.hired" }
