package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Documents are whole JSON values addressed by name. Every save replaces the
// previous body in a single statement, so readers never see a partial write.

const (
	DocDeferredActions = "deferred_actions"
	DocPremium         = "premium"
)

func GuildDocument(guildID string) string {
	return "guild/" + guildID
}

func TicketsDocument(guildID string) string {
	return "tickets/" + guildID
}

func ActivityDocument(guildID string) string {
	return "activity/" + guildID
}

// LoadDocument returns the raw body, or nil when the document does not exist.
func (s *Store) LoadDocument(ctx context.Context, name string) ([]byte, error) {
	var body string
	err := s.db.QueryRowContext(ctx, `SELECT body FROM documents WHERE name = ?`, name).Scan(&body)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("load document %s: %w", name, err)
	}
	return []byte(body), nil
}

func (s *Store) SaveDocument(ctx context.Context, name string, body []byte) error {
	if !json.Valid(body) {
		return fmt.Errorf("save document %s: body is not valid json", name)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (name, body, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at
	`, name, string(body), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save document %s: %w", name, err)
	}
	return nil
}

func (s *Store) DeleteDocument(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE name = ?`, name)
	return err
}

// GuildSettings is the per-guild configuration document.
type GuildSettings struct {
	GuildID         string   `json:"guild_id"`
	LogChannel      string   `json:"log_channel,omitempty"`
	MuteRole        string   `json:"mute_role,omitempty"`
	CaptchaCategory string   `json:"captcha_category,omitempty"`
	VerifiedRole    string   `json:"verified_role,omitempty"`
	TicketCategory  string   `json:"ticket_category,omitempty"`
	SupportRoles    []string `json:"support_roles,omitempty"`
}

func (s *Store) GetGuildSettings(ctx context.Context, guildID string, defaults GuildSettings) (GuildSettings, error) {
	result := defaults
	result.GuildID = guildID

	body, err := s.LoadDocument(ctx, GuildDocument(guildID))
	if err != nil {
		return GuildSettings{}, err
	}
	if body == nil {
		return result, nil
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return GuildSettings{}, fmt.Errorf("decode guild settings %s: %w", guildID, err)
	}
	result.GuildID = guildID
	if result.LogChannel == "" {
		result.LogChannel = defaults.LogChannel
	}
	return result, nil
}

func (s *Store) UpsertGuildSettings(ctx context.Context, settings GuildSettings) error {
	if settings.GuildID == "" {
		return errors.New("guild id is required")
	}
	body, err := json.Marshal(settings)
	if err != nil {
		return err
	}
	return s.SaveDocument(ctx, GuildDocument(settings.GuildID), body)
}

// ResetGuildSettings drops a guild's settings document so defaults apply again.
func (s *Store) ResetGuildSettings(ctx context.Context, guildID string) error {
	if guildID == "" {
		return errors.New("guild id is required")
	}
	return s.DeleteDocument(ctx, GuildDocument(guildID))
}
