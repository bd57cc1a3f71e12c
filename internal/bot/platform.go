package bot

import (
	"github.com/bwmarrin/discordgo"
)

const reactionPageSize = 100

// discordAPI adapts the gateway session to the narrow platform interfaces
// the modules depend on.
type discordAPI struct {
	session *discordgo.Session
}

func (d *discordAPI) SendEmbed(channelID string, embed *discordgo.MessageEmbed) (*discordgo.Message, error) {
	return d.session.ChannelMessageSendEmbed(channelID, embed)
}

func (d *discordAPI) Send(channelID, content string) error {
	_, err := d.session.ChannelMessageSend(channelID, content)
	return err
}

func (d *discordAPI) EditEmbed(channelID, messageID string, embed *discordgo.MessageEmbed) error {
	_, err := d.session.ChannelMessageEditEmbed(channelID, messageID, embed)
	return err
}

func (d *discordAPI) AddReaction(channelID, messageID, emoji string) error {
	return d.session.MessageReactionAdd(channelID, messageID, emoji)
}

func (d *discordAPI) DeleteMessage(channelID, messageID string) error {
	return d.session.ChannelMessageDelete(channelID, messageID)
}

func (d *discordAPI) Message(channelID, messageID string) (*discordgo.Message, error) {
	return d.session.ChannelMessage(channelID, messageID)
}

// Reactors pages through every user who reacted with emoji.
func (d *discordAPI) Reactors(channelID, messageID, emoji string) ([]*discordgo.User, error) {
	var users []*discordgo.User
	after := ""
	for {
		page, err := d.session.MessageReactions(channelID, messageID, emoji, reactionPageSize, "", after)
		if err != nil {
			return nil, err
		}
		users = append(users, page...)
		if len(page) < reactionPageSize {
			return users, nil
		}
		after = page[len(page)-1].ID
	}
}

func (d *discordAPI) AddRole(guildID, userID, roleID, reason string) error {
	return d.session.GuildMemberRoleAdd(guildID, userID, roleID, discordgo.WithAuditLogReason(reason))
}

func (d *discordAPI) RemoveRole(guildID, userID, roleID, reason string) error {
	return d.session.GuildMemberRoleRemove(guildID, userID, roleID, discordgo.WithAuditLogReason(reason))
}

func (d *discordAPI) Member(guildID, userID string) (*discordgo.Member, error) {
	if d.session.State != nil {
		if member, err := d.session.State.Member(guildID, userID); err == nil {
			return member, nil
		}
	}
	return d.session.GuildMember(guildID, userID)
}

func (d *discordAPI) Ban(guildID, userID string) (*discordgo.GuildBan, error) {
	return d.session.GuildBan(guildID, userID)
}

func (d *discordAPI) Unban(guildID, userID, reason string) error {
	return d.session.GuildBanDelete(guildID, userID, discordgo.WithAuditLogReason(reason))
}

func (d *discordAPI) Kick(guildID, userID, reason string) error {
	return d.session.GuildMemberDeleteWithReason(guildID, userID, reason)
}

func (d *discordAPI) DirectMessage(userID, content string) error {
	channel, err := d.session.UserChannelCreate(userID)
	if err != nil {
		return err
	}
	_, err = d.session.ChannelMessageSend(channel.ID, content)
	return err
}

func (d *discordAPI) DeleteChannel(channelID string) error {
	_, err := d.session.ChannelDelete(channelID)
	return err
}

// CreatePrivateChannel opens a text channel under categoryID visible only to
// the member, the bot, the listed roles and roles with server management rights.
func (d *discordAPI) CreatePrivateChannel(guildID, categoryID, name, userID string, roleIDs []string) (*discordgo.Channel, error) {
	return d.session.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name:                 name,
		Type:                 discordgo.ChannelTypeGuildText,
		ParentID:             categoryID,
		PermissionOverwrites: privateOverwrites(d.session.State, guildID, userID, roleIDs),
	})
}

const privateAccess = discordgo.PermissionViewChannel | discordgo.PermissionSendMessages | discordgo.PermissionReadMessageHistory

// privateOverwrites hides a channel from @everyone. state may be nil or not
// yet hold the guild; the bot and staff roles are then left out.
func privateOverwrites(state *discordgo.State, guildID, userID string, roleIDs []string) []*discordgo.PermissionOverwrite {
	overwrites := []*discordgo.PermissionOverwrite{
		{ID: guildID, Type: discordgo.PermissionOverwriteTypeRole, Deny: discordgo.PermissionViewChannel},
		{ID: userID, Type: discordgo.PermissionOverwriteTypeMember, Allow: privateAccess},
	}
	allowed := make(map[string]bool)
	allowRole := func(id string) {
		if id == "" || id == guildID || allowed[id] {
			return
		}
		allowed[id] = true
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{ID: id, Type: discordgo.PermissionOverwriteTypeRole, Allow: privateAccess})
	}
	for _, id := range roleIDs {
		allowRole(id)
	}
	if state == nil {
		return overwrites
	}
	if state.User != nil {
		overwrites = append(overwrites, &discordgo.PermissionOverwrite{ID: state.User.ID, Type: discordgo.PermissionOverwriteTypeMember, Allow: privateAccess})
	}
	if guild, err := state.Guild(guildID); err == nil && guild != nil {
		const staff = discordgo.PermissionAdministrator | discordgo.PermissionManageServer | discordgo.PermissionManageChannels
		for _, role := range guild.Roles {
			if role.Permissions&staff != 0 {
				allowRole(role.ID)
			}
		}
	}
	return overwrites
}

// RestrictChannel replaces the role overwrites of a private channel: the
// listed roles lose access and the listed members gain it.
func (d *discordAPI) RestrictChannel(channelID string, denyRoles, allowMembers []string) error {
	for _, id := range denyRoles {
		if err := d.session.ChannelPermissionSet(channelID, id, discordgo.PermissionOverwriteTypeRole, 0, discordgo.PermissionViewChannel); err != nil {
			return err
		}
	}
	for _, id := range allowMembers {
		if err := d.session.ChannelPermissionSet(channelID, id, discordgo.PermissionOverwriteTypeMember, privateAccess, 0); err != nil {
			return err
		}
	}
	return nil
}

// History returns up to limit messages of a channel, oldest first.
func (d *discordAPI) History(channelID string, limit int) ([]*discordgo.Message, error) {
	var (
		out    []*discordgo.Message
		before string
	)
	for len(out) < limit {
		page := limit - len(out)
		if page > 100 {
			page = 100
		}
		batch, err := d.session.ChannelMessages(channelID, page, before, "", "")
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
		if len(batch) < page {
			break
		}
		before = batch[len(batch)-1].ID
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}
