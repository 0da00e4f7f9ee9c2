package contracts

import "github.com/md-rashed-zaman/schoolsync/libs/eventbus"

// People events are keyed by the person so enrolment and withdrawal of one
// student stay in order.

type StudentEnrolled struct {
	eventbus.Meta `json:"-"`
	StudentID     string `json:"student_id"`
	FullName      string `json:"full_name"`
	Email         string `json:"email,omitempty"`
	GradeLevel    string `json:"grade_level"`
}

func (StudentEnrolled) EventType() string { return TypeStudentEnrolled }

func (e StudentEnrolled) PartitionKey() string { return e.StudentID }

type StudentWithdrawn struct {
	eventbus.Meta `json:"-"`
	StudentID     string `json:"student_id"`
	FullName      string `json:"full_name"`
	Reason        string `json:"reason,omitempty"`
}

func (StudentWithdrawn) EventType() string { return TypeStudentWithdrawn }

func (e StudentWithdrawn) PartitionKey() string { return e.StudentID }

type TeacherHired struct {
	eventbus.Meta `json:"-"`
	TeacherID     string `json:"teacher_id"`
	FullName      string `json:"full_name"`
	Email         string `json:"email,omitempty"`
	Subject       string `json:"subject"`
}

func (TeacherHired) EventType() string { return TypeTeacherHired }

func (e TeacherHired) PartitionKey() string { return e.TeacherID }
