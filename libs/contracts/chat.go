package contracts

import "github.com/md-rashed-zaman/schoolsync/libs/eventbus"

type AnnouncementPosted struct {
	eventbus.Meta  `json:"-"`
	ChannelID      string `json:"channel_id"`
	ChannelName    string `json:"channel_name"`
	AnnouncementID string `json:"announcement_id"`
	AuthorID       string `json:"author_id"`
	Title          string `json:"title"`
	Body           string `json:"body"`
}

func (AnnouncementPosted) EventType() string { return TypeAnnouncementPosted }

func (e AnnouncementPosted) PartitionKey() string { return e.ChannelID }
