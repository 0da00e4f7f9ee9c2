// Package chat models the school channels and the member directory that
// chat-service builds from the people lifecycle.
package chat

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/md-rashed-zaman/schoolsync/libs/ddd"
	"github.com/md-rashed-zaman/schoolsync/libs/tenant"
)

const AnnouncementsChannel = "announcements"

var (
	ErrInvalid   = errors.New("invalid announcement")
	ErrNoChannel = errors.New("channel not found")
	ErrArchived  = errors.New("channel is archived")
)

type MemberKind string

const (
	KindStudent MemberKind = "student"
	KindTeacher MemberKind = "teacher"
)

type Member struct {
	TenantID    tenant.ID
	PersonID    string
	Kind        MemberKind
	DisplayName string
	JoinedAt    time.Time
}

type Channel struct {
	ddd.Ledger

	ID        string
	TenantID  tenant.ID
	Name      string
	Archived  bool
	CreatedAt time.Time
}

// ChannelID is derived from tenant and name, so provisioning the same
// channel twice yields the same row.
func ChannelID(tenantID tenant.ID, name string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte("schoolsync:"+tenantID.String()+"/"+name)).String()
}

func NewAnnouncements(tenantID tenant.ID, at time.Time) Channel {
	return Channel{
		ID:        ChannelID(tenantID, AnnouncementsChannel),
		TenantID:  tenantID,
		Name:      AnnouncementsChannel,
		CreatedAt: at,
	}
}

type Announcement struct {
	ID        string
	ChannelID string
	Author    string
	Title     string
	Body      string
	PostedAt  time.Time
}

func (c *Channel) Post(id, author, title, body string) (Announcement, error) {
	if c.Archived {
		return Announcement{}, ErrArchived
	}
	author, title, body = strings.TrimSpace(author), strings.TrimSpace(title), strings.TrimSpace(body)
	if title == "" || body == "" {
		return Announcement{}, fmt.Errorf("%w: title and body are required", ErrInvalid)
	}
	if author == "" {
		author = "school office"
	}
	a := Announcement{
		ID:        id,
		ChannelID: c.ID,
		Author:    author,
		Title:     title,
		Body:      body,
		PostedAt:  time.Now().UTC(),
	}
	c.Raise(Posted{
		EventBase:      ddd.NewEventBase(c.ID, c.TenantID),
		ChannelName:    c.Name,
		AnnouncementID: a.ID,
		Author:         a.Author,
		Title:          a.Title,
		Body:           a.Body,
	})
	return a, nil
}

type Posted struct {
	ddd.EventBase
	ChannelName    string
	AnnouncementID string
	Author         string
	Title          string
	Body           string
}

func (Posted) EventName() string { return "chat.announcement_posted" }
