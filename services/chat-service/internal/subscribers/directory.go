// Package subscribers builds the chat directory from the tenant and people
// lifecycles. Handlers run with the tenant of the event in ctx.
package subscribers

import (
	"context"
	"log/slog"

	"github.com/md-rashed-zaman/schoolsync/libs/contracts"
	"github.com/md-rashed-zaman/schoolsync/libs/ddd"
	"github.com/md-rashed-zaman/schoolsync/libs/eventbus"
	"github.com/md-rashed-zaman/schoolsync/services/chat-service/internal/chat"
)

const (
	SubOpenAnnouncements = "open-announcements"
	SubArchiveChannels   = "archive-channels"
	SubStudentJoined     = "student-joined"
	SubTeacherJoined     = "teacher-joined"
	SubStudentLeft       = "student-left"
)

type Directory struct {
	store  chat.Store
	logger *slog.Logger
}

func NewDirectory(store chat.Store, logger *slog.Logger) *Directory {
	return &Directory{store: store, logger: logger}
}

func Register(r *eventbus.Router, d *Directory, tx ddd.TxRunner, inbox eventbus.Inbox, policy eventbus.Policy) error {
	key := func(sub string) string { return r.Consumer() + "/" + sub }

	subs := []func() error{
		func() error {
			return eventbus.Subscribe(r, SubOpenAnnouncements, policy, eventbus.Idempotent(tx, inbox, key(SubOpenAnnouncements), d.TenantCreated))
		},
		func() error {
			return eventbus.Subscribe(r, SubArchiveChannels, policy, eventbus.Idempotent(tx, inbox, key(SubArchiveChannels), d.TenantDeactivated))
		},
		func() error {
			return eventbus.Subscribe(r, SubStudentJoined, policy, eventbus.Idempotent(tx, inbox, key(SubStudentJoined), d.StudentEnrolled))
		},
		func() error {
			return eventbus.Subscribe(r, SubTeacherJoined, policy, eventbus.Idempotent(tx, inbox, key(SubTeacherJoined), d.TeacherHired))
		},
		func() error {
			return eventbus.Subscribe(r, SubStudentLeft, policy, eventbus.Idempotent(tx, inbox, key(SubStudentLeft), d.StudentWithdrawn))
		},
	}
	for _, sub := range subs {
		if err := sub(); err != nil {
			return err
		}
	}
	return nil
}

func (d *Directory) TenantCreated(ctx context.Context, evt contracts.TenantCreated) error {
	created, err := d.store.EnsureChannel(ctx, chat.NewAnnouncements(evt.TenantID, evt.OccurredAt))
	if err != nil {
		return err
	}
	if created {
		d.logger.Info("announcements channel opened", "tenant_id", evt.TenantID.String())
	}
	return nil
}

func (d *Directory) TenantDeactivated(ctx context.Context, evt contracts.TenantDeactivated) error {
	n, err := d.store.ArchiveChannels(ctx)
	if err != nil {
		return err
	}
	d.logger.Info("channels archived", "tenant_id", evt.TenantID.String(), "channels", n)
	return nil
}

func (d *Directory) StudentEnrolled(ctx context.Context, evt contracts.StudentEnrolled) error {
	return d.store.UpsertMember(ctx, chat.Member{
		TenantID:    evt.TenantID,
		PersonID:    evt.StudentID,
		Kind:        chat.KindStudent,
		DisplayName: evt.FullName,
		JoinedAt:    evt.OccurredAt,
	})
}

func (d *Directory) TeacherHired(ctx context.Context, evt contracts.TeacherHired) error {
	return d.store.UpsertMember(ctx, chat.Member{
		TenantID:    evt.TenantID,
		PersonID:    evt.TeacherID,
		Kind:        chat.KindTeacher,
		DisplayName: evt.FullName,
		JoinedAt:    evt.OccurredAt,
	})
}

// StudentWithdrawn tolerates an unknown student: enrolment and withdrawal of
// one student share a partition, so a miss means the member was never added.
func (d *Directory) StudentWithdrawn(ctx context.Context, evt contracts.StudentWithdrawn) error {
	removed, err := d.store.RemoveMember(ctx, evt.StudentID)
	if err != nil {
		return err
	}
	if !removed {
		d.logger.Debug("withdrawn student not in directory", "tenant_id", evt.TenantID.String(), "student_id", evt.StudentID)
	}
	return nil
}
