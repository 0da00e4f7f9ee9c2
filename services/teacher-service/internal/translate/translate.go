package translate

import (
	"context"
	"log/slog"

	"github.com/md-rashed-zaman/schoolsync/libs/contracts"
	"github.com/md-rashed-zaman/schoolsync/libs/ddd"
	"github.com/md-rashed-zaman/schoolsync/libs/eventbus"
	"github.com/md-rashed-zaman/schoolsync/services/teacher-service/internal/teachers"
)

func Register(d *ddd.Dispatcher, phase ddd.Phase, pub eventbus.Publisher, logger *slog.Logger) {
	ddd.On(d, phase, eventbus.Translate(logger, pub, TeacherHired))
}

func TeacherHired(_ context.Context, e teachers.Hired) (contracts.TeacherHired, error) {
	return contracts.TeacherHired{
		Meta:      eventbus.MetaFrom(e),
		TeacherID: e.AggregateID(),
		FullName:  e.FullName,
		Email:     e.Email,
		Subject:   e.Subject,
	}, nil
}
