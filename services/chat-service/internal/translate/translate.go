package translate

import (
	"context"
	"log/slog"

	"github.com/md-rashed-zaman/schoolsync/libs/contracts"
	"github.com/md-rashed-zaman/schoolsync/libs/ddd"
	"github.com/md-rashed-zaman/schoolsync/libs/eventbus"
	"github.com/md-rashed-zaman/schoolsync/services/chat-service/internal/chat"
)

func Register(d *ddd.Dispatcher, phase ddd.Phase, pub eventbus.Publisher, logger *slog.Logger) {
	ddd.On(d, phase, eventbus.Translate(logger, pub, AnnouncementPosted))
}

func AnnouncementPosted(_ context.Context, e chat.Posted) (contracts.AnnouncementPosted, error) {
	return contracts.AnnouncementPosted{
		Meta:           eventbus.MetaFrom(e),
		ChannelID:      e.AggregateID(),
		ChannelName:    e.ChannelName,
		AnnouncementID: e.AnnouncementID,
		AuthorID:       e.Author,
		Title:          e.Title,
		Body:           e.Body,
	}, nil
}
