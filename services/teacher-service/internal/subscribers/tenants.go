package subscribers

import (
	"context"
	"log/slog"

	"github.com/md-rashed-zaman/schoolsync/libs/contracts"
	"github.com/md-rashed-zaman/schoolsync/libs/ddd"
	"github.com/md-rashed-zaman/schoolsync/libs/eventbus"
	"github.com/md-rashed-zaman/schoolsync/services/teacher-service/internal/teachers"
)

const (
	SubOpenFaculty  = "open-faculty"
	SubCloseFaculty = "close-faculty"
)

// Register keeps the faculty table in step with the tenant lifecycle. Plan
// changes are not subscribed: hiring is not seat-limited here.
func Register(r *eventbus.Router, repo teachers.FacultyRepository, tx ddd.TxRunner, inbox eventbus.Inbox, policy eventbus.Policy, logger *slog.Logger) error {
	policy.Classify = eventbus.PermanentOn(teachers.ErrNoFaculty)
	consumer := r.Consumer()

	open := func(ctx context.Context, evt contracts.TenantCreated) error {
		opened, err := repo.Open(ctx, teachers.Faculty{
			TenantID:   evt.TenantID,
			SchoolName: evt.Name,
			Active:     true,
			CreatedAt:  evt.OccurredAt,
		})
		if err != nil {
			return err
		}
		if opened {
			logger.Info("faculty opened", "tenant_id", evt.TenantID.String())
		}
		return nil
	}
	closeFaculty := func(ctx context.Context, evt contracts.TenantDeactivated) error {
		if err := repo.Close(ctx); err != nil {
			return err
		}
		logger.Info("faculty closed", "tenant_id", evt.TenantID.String(), "reason", evt.Reason)
		return nil
	}

	if err := eventbus.Subscribe(r, SubOpenFaculty, policy,
		eventbus.Idempotent(tx, inbox, consumer+"/"+SubOpenFaculty, open)); err != nil {
		return err
	}
	return eventbus.Subscribe(r, SubCloseFaculty, policy,
		eventbus.Idempotent(tx, inbox, consumer+"/"+SubCloseFaculty, closeFaculty))
}
