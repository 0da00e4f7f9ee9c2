// Package translate publishes student domain events as people contracts.
package translate

import (
	"context"
	"log/slog"

	"github.com/md-rashed-zaman/schoolsync/libs/contracts"
	"github.com/md-rashed-zaman/schoolsync/libs/ddd"
	"github.com/md-rashed-zaman/schoolsync/libs/eventbus"
	"github.com/md-rashed-zaman/schoolsync/services/student-service/internal/students"
)

func Register(d *ddd.Dispatcher, phase ddd.Phase, pub eventbus.Publisher, logger *slog.Logger) {
	ddd.On(d, phase, eventbus.Translate(logger, pub, StudentEnrolled))
	ddd.On(d, phase, eventbus.Translate(logger, pub, StudentWithdrawn))
}

func StudentEnrolled(_ context.Context, e students.Enrolled) (contracts.StudentEnrolled, error) {
	return contracts.StudentEnrolled{
		Meta:       eventbus.MetaFrom(e),
		StudentID:  e.AggregateID(),
		FullName:   e.FullName,
		Email:      e.Email,
		GradeLevel: e.GradeLevel,
	}, nil
}

func StudentWithdrawn(_ context.Context, e students.Withdrawn) (contracts.StudentWithdrawn, error) {
	return contracts.StudentWithdrawn{
		Meta:      eventbus.MetaFrom(e),
		StudentID: e.AggregateID(),
		FullName:  e.FullName,
		Reason:    e.Reason,
	}, nil
}
