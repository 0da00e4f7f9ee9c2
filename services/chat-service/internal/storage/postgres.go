package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/md-rashed-zaman/schoolsync/libs/db"
	"github.com/md-rashed-zaman/schoolsync/libs/tenant"
	"github.com/md-rashed-zaman/schoolsync/services/chat-service/internal/chat"
)

type Postgres struct {
	pool *db.Pool
}

func NewPostgres(pool *db.Pool) *Postgres {
	return &Postgres{pool: pool}
}

func (p *Postgres) EnsureChannel(ctx context.Context, c chat.Channel) (bool, error) {
	tenantID, err := tenant.Match(ctx, c.TenantID)
	if err != nil {
		return false, err
	}
	tag, err := p.pool.Conn(ctx).Exec(ctx, `
		INSERT INTO channels (id, tenant_id, name, archived, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, name) DO NOTHING
	`, c.ID, tenantID.String(), c.Name, c.Archived, c.CreatedAt)
	if err != nil {
		return false, fmt.Errorf("channels - EnsureChannel - Exec: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) ArchiveChannels(ctx context.Context) (int64, error) {
	tenantID, err := tenant.CurrentTenantID(ctx)
	if err != nil {
		return 0, err
	}
	tag, err := p.pool.Conn(ctx).Exec(ctx, `
		UPDATE channels SET archived = true WHERE tenant_id = $1 AND NOT archived
	`, tenantID.String())
	if err != nil {
		return 0, fmt.Errorf("channels - ArchiveChannels - Exec: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) ChannelForUpdate(ctx context.Context, name string) (*chat.Channel, error) {
	tenantID, err := tenant.CurrentTenantID(ctx)
	if err != nil {
		return nil, err
	}
	c := &chat.Channel{TenantID: tenantID, Name: name}
	err = p.pool.Conn(ctx).QueryRow(ctx, `
		SELECT id::text, archived, created_at FROM channels
		WHERE tenant_id = $1 AND name = $2
		FOR UPDATE
	`, tenantID.String(), name).Scan(&c.ID, &c.Archived, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, chat.ErrNoChannel
	}
	if err != nil {
		return nil, fmt.Errorf("channels - ChannelForUpdate - Scan: %w", err)
	}
	return c, nil
}

func (p *Postgres) SaveAnnouncement(ctx context.Context, a chat.Announcement) error {
	tenantID, err := tenant.CurrentTenantID(ctx)
	if err != nil {
		return err
	}
	_, err = p.pool.Conn(ctx).Exec(ctx, `
		INSERT INTO announcements (id, channel_id, tenant_id, author, title, body, posted_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, a.ID, a.ChannelID, tenantID.String(), a.Author, a.Title, a.Body, a.PostedAt)
	if err != nil {
		return fmt.Errorf("announcements - Save - Exec: %w", err)
	}
	return nil
}

func (p *Postgres) UpsertMember(ctx context.Context, m chat.Member) error {
	tenantID, err := tenant.CurrentTenantID(ctx)
	if err != nil {
		return err
	}
	_, err = p.pool.Conn(ctx).Exec(ctx, `
		INSERT INTO members (tenant_id, person_id, kind, display_name, joined_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, person_id) DO UPDATE SET display_name = EXCLUDED.display_name
	`, tenantID.String(), m.PersonID, string(m.Kind), m.DisplayName, m.JoinedAt)
	if err != nil {
		return fmt.Errorf("members - Upsert - Exec: %w", err)
	}
	return nil
}

func (p *Postgres) RemoveMember(ctx context.Context, personID string) (bool, error) {
	tenantID, err := tenant.CurrentTenantID(ctx)
	if err != nil {
		return false, err
	}
	tag, err := p.pool.Conn(ctx).Exec(ctx,
		`DELETE FROM members WHERE tenant_id = $1 AND person_id = $2`, tenantID.String(), personID)
	if err != nil {
		return false, fmt.Errorf("members - Remove - Exec: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (p *Postgres) Members(ctx context.Context, kind chat.MemberKind) ([]chat.Member, error) {
	tenantID, err := tenant.CurrentTenantID(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := p.pool.Conn(ctx).Query(ctx, `
		SELECT person_id, kind, display_name, joined_at FROM members
		WHERE tenant_id = $1 AND ($2 = '' OR kind = $2)
		ORDER BY display_name, person_id
	`, tenantID.String(), string(kind))
	if err != nil {
		return nil, fmt.Errorf("members - List - Query: %w", err)
	}
	defer rows.Close()

	var out []chat.Member
	for rows.Next() {
		m := chat.Member{TenantID: tenantID}
		var k string
		if err := rows.Scan(&m.PersonID, &k, &m.DisplayName, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("members - List - Scan: %w", err)
		}
		m.Kind = chat.MemberKind(k)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("members - List - rows: %w", err)
	}
	return out, nil
}
