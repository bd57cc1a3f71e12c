package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"guildkeeper/internal/analytics"
	"guildkeeper/internal/expiry"
	"guildkeeper/internal/giveaway"
	"guildkeeper/internal/modules/activity"
	"guildkeeper/internal/modules/mute"
	"guildkeeper/internal/modules/premium"
	"guildkeeper/internal/modules/revocation"
	"guildkeeper/internal/modules/ticket"
	"guildkeeper/internal/utils"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/zap"
)

type options map[string]*discordgo.ApplicationCommandInteractionDataOption

func optionMap(list []*discordgo.ApplicationCommandInteractionDataOption) options {
	m := make(options, len(list))
	for _, opt := range list {
		m[opt.Name] = opt
	}
	return m
}

func (o options) string(name string) string {
	if opt, ok := o[name]; ok {
		return opt.StringValue()
	}
	return ""
}

func (o options) int(name string) int {
	if opt, ok := o[name]; ok {
		return int(opt.IntValue())
	}
	return 0
}

// id returns the raw snowflake of a user, role, channel or attachment option.
func (o options) id(name string) string {
	if opt, ok := o[name]; ok {
		if s, ok := opt.Value.(string); ok {
			return s
		}
	}
	return ""
}

func invoker(interaction *discordgo.InteractionCreate) string {
	if interaction.Member != nil && interaction.Member.User != nil {
		return interaction.Member.User.ID
	}
	if interaction.User != nil {
		return interaction.User.ID
	}
	return ""
}

func (b *Bot) onInteractionCreate(session *discordgo.Session, interaction *discordgo.InteractionCreate) {
	if interaction.Type != discordgo.InteractionApplicationCommand {
		return
	}

	ctx := context.Background()
	data := interaction.ApplicationCommandData()
	switch data.Name {
	case "giveaway":
		b.handleGiveawayCommand(ctx, session, interaction, data.Options)
	case "mute", "unmute":
		b.handleMuteCommand(ctx, session, interaction, data.Name, optionMap(data.Options))
	case "banrequest":
		b.handleBanRequest(ctx, session, interaction, data)
	case "revokeban":
		b.handleRevokeBan(ctx, session, interaction, optionMap(data.Options))
	case "premium":
		b.handlePremiumCommand(ctx, session, interaction, data.Options)
	case "settings":
		b.handleSettingsCommand(ctx, session, interaction, data.Options)
	case "report":
		b.handleReportCommand(ctx, session, interaction, optionMap(data.Options))
	case "ticket":
		b.handleTicketCommand(ctx, session, interaction, data.Options)
	case "stats":
		b.handleStatsCommand(ctx, session, interaction, data.Options)
	}
}

func (b *Bot) handleGiveawayCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, list []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(list) == 0 {
		return
	}
	sub := list[0]
	opts := optionMap(sub.Options)
	colors := b.cfg.Notifications.EmbedColors

	switch sub.Name {
	case "start":
		duration, err := utils.ParseDuration(opts.string("duration"))
		if err != nil {
			b.respondEmbed(session, interaction, b.commandEmbed("Giveaway", "Invalid duration. Use values like `10m`, `2h` or `1d`.", colors.Error, nil), true)
			return
		}
		channelID := opts.id("channel")
		if channelID == "" {
			channelID = interaction.ChannelID
		}
		summary, err := b.giveaways.Start(ctx, giveaway.Request{
			GuildID:   interaction.GuildID,
			ChannelID: channelID,
			CreatorID: invoker(interaction),
			Title:     opts.string("prize"),
			Emoji:     opts.string("emoji"),
			Duration:  duration,
			Winners:   opts.int("winners"),
		})
		if err != nil {
			b.respondError(session, interaction, "Giveaway", err)
			return
		}
		desc := fmt.Sprintf("Giveaway started in <#%s>, ends <t:%d:R>.", summary.ChannelID, summary.Deadline.Unix())
		b.respondEmbed(session, interaction, b.commandEmbed("Giveaway", desc, colors.Success, nil), true)
	case "end":
		b.deferResponse(session, interaction)
		ended, err := b.giveaways.End(ctx, interaction.GuildID, opts.string("message_id"))
		switch {
		case err != nil:
			b.followupEmbed(session, interaction, b.errorEmbed("Giveaway", err))
		case !ended:
			b.followupEmbed(session, interaction, b.commandEmbed("Giveaway", "No running giveaway with that id.", colors.Error, nil))
		default:
			b.followupEmbed(session, interaction, b.commandEmbed("Giveaway", "Giveaway ended.", colors.Success, nil))
		}
	case "reroll":
		b.deferResponse(session, interaction)
		winners, err := b.giveaways.Reroll(ctx, interaction.GuildID, interaction.ChannelID, opts.string("message_id"), opts.int("winners"))
		if err != nil {
			b.followupEmbed(session, interaction, b.errorEmbed("Giveaway", err))
			return
		}
		desc := "Nobody entered, no winner drawn."
		if len(winners) > 0 {
			desc = fmt.Sprintf("Rerolled %d winner(s).", len(winners))
		}
		b.followupEmbed(session, interaction, b.commandEmbed("Giveaway", desc, colors.Success, nil))
	case "list":
		running := b.giveaways.List(interaction.GuildID)
		if len(running) == 0 {
			b.respondEmbed(session, interaction, b.commandEmbed("Giveaways", "No giveaway is running.", colors.Action, nil), true)
			return
		}
		lines := make([]string, 0, len(running))
		for _, g := range running {
			lines = append(lines, fmt.Sprintf("**%s** in <#%s>, %d winner(s), ends <t:%d:R> (`%s`)", g.Title, g.ChannelID, g.Winners, g.Deadline.Unix(), g.MessageID))
		}
		b.respondEmbed(session, interaction, b.commandEmbed("Giveaways", truncate(strings.Join(lines, "\n"), 4000), colors.Action, nil), true)
	}
}

func (b *Bot) handleMuteCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, name string, opts options) {
	colors := b.cfg.Notifications.EmbedColors
	userID := opts.id("user")
	settings := b.guildSettings(ctx, interaction.GuildID)

	if name == "unmute" {
		pending, err := b.mute.Unmute(ctx, interaction.GuildID, userID, settings.MuteRole, invoker(interaction))
		if err != nil {
			b.respondError(session, interaction, "Unmute", err)
			return
		}
		desc := fmt.Sprintf("<@%s> has been unmuted.", userID)
		if !pending {
			desc += " No timed mute was pending."
		}
		b.respondEmbed(session, interaction, b.commandEmbed("Unmute", desc, colors.Success, nil), true)
		return
	}

	duration, err := utils.ParseDuration(opts.string("duration"))
	if err != nil {
		b.respondEmbed(session, interaction, b.commandEmbed("Mute", "Invalid duration. Use values like `10m` or `1h`.", colors.Error, nil), true)
		return
	}
	until, err := b.mute.Mute(ctx, interaction.GuildID, userID, settings.MuteRole, duration, opts.string("reason"), invoker(interaction))
	if err != nil {
		b.respondError(session, interaction, "Mute", err)
		return
	}
	desc := fmt.Sprintf("<@%s> is muted until <t:%d:f>.", userID, until.Unix())
	b.respondEmbed(session, interaction, b.commandEmbed("Mute", desc, colors.Success, nil), true)
}

func (b *Bot) handleBanRequest(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, data discordgo.ApplicationCommandInteractionData) {
	opts := optionMap(data.Options)
	proofURL := ""
	if data.Resolved != nil {
		if attachment, ok := data.Resolved.Attachments[opts.id("proof")]; ok && strings.HasPrefix(attachment.ContentType, "image/") {
			proofURL = attachment.URL
		}
	}
	if err := b.revocation.RequestBan(ctx, invoker(interaction), opts.id("user"), opts.string("reason"), proofURL); err != nil {
		b.respondError(session, interaction, "Ban request", err)
		return
	}
	b.respondEmbed(session, interaction, b.commandEmbed("Ban request", "Your request was sent to the support team.", b.cfg.Notifications.EmbedColors.Success, nil), true)
}

func (b *Bot) handleRevokeBan(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts options) {
	b.deferResponse(session, interaction)
	if _, err := b.revocation.RequestRevoke(ctx, invoker(interaction), opts.id("user")); err != nil {
		b.followupEmbed(session, interaction, b.errorEmbed("Ban revocation", err))
		return
	}
	desc := fmt.Sprintf("Vote opened. The ban is lifted at %d %s.", b.cfg.Revocation.Threshold, b.cfg.Revocation.VoteEmoji)
	b.followupEmbed(session, interaction, b.commandEmbed("Ban revocation", desc, b.cfg.Notifications.EmbedColors.Success, nil))
}

func (b *Bot) handlePremiumCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, list []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(list) == 0 {
		return
	}
	sub := list[0]
	opts := optionMap(sub.Options)
	colors := b.cfg.Notifications.EmbedColors
	actorID := invoker(interaction)

	switch sub.Name {
	case "grant":
		userID := opts.id("user")
		grant, err := b.premium.Grant(ctx, actorID, userID, opts.string("type"))
		if err != nil {
			b.respondError(session, interaction, "Premium", err)
			return
		}
		desc := fmt.Sprintf("<@%s> now has premium (%s). Expires: %s.", userID, premium.Label(grant.Type), formatExpiry(grant))
		b.respondEmbed(session, interaction, b.commandEmbed("Premium", desc, colors.Success, nil), true)
	case "revoke":
		userID := opts.id("user")
		removed, err := b.premium.Revoke(ctx, actorID, userID)
		if err != nil {
			b.respondError(session, interaction, "Premium", err)
			return
		}
		desc := fmt.Sprintf("<@%s> no longer has premium.", userID)
		if !removed {
			desc = fmt.Sprintf("<@%s> had no premium grant.", userID)
		}
		b.respondEmbed(session, interaction, b.commandEmbed("Premium", desc, colors.Success, nil), true)
	case "status":
		userID := opts.id("user")
		if userID == "" {
			userID = actorID
		}
		grant, active, err := b.premium.Status(ctx, userID)
		if err != nil {
			b.respondError(session, interaction, "Premium", err)
			return
		}
		if !active {
			b.respondEmbed(session, interaction, b.commandEmbed("Premium", fmt.Sprintf("<@%s> has no active premium.", userID), colors.Action, nil), true)
			return
		}
		fields := []*discordgo.MessageEmbedField{
			{Name: "Type", Value: premium.Label(grant.Type), Inline: true},
			{Name: "Expires", Value: formatExpiry(grant), Inline: true},
		}
		b.respondEmbed(session, interaction, b.commandEmbed("Premium", fmt.Sprintf("<@%s> is premium.", userID), colors.Success, fields), true)
	case "alertchannel":
		channelID := opts.id("channel")
		if err := b.premium.SetAlertChannel(ctx, actorID, channelID); err != nil {
			b.respondError(session, interaction, "Premium", err)
			return
		}
		b.respondEmbed(session, interaction, b.commandEmbed("Premium", fmt.Sprintf("Account alerts go to <#%s>.", channelID), colors.Success, nil), true)
	}
}

func (b *Bot) handleSettingsCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, list []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(list) == 0 {
		return
	}
	sub := list[0]
	opts := optionMap(sub.Options)
	colors := b.cfg.Notifications.EmbedColors
	settings := b.guildSettings(ctx, interaction.GuildID)

	switch sub.Name {
	case "logchannel":
		settings.LogChannel = opts.id("channel")
	case "muterole":
		settings.MuteRole = opts.id("role")
	case "captchacategory":
		settings.CaptchaCategory = opts.id("category")
	case "verifiedrole":
		settings.VerifiedRole = opts.id("role")
	case "ticketcategory":
		settings.TicketCategory = opts.id("category")
	case "supportrole":
		settings.SupportRoles = toggleRole(settings.SupportRoles, opts.id("role"), opts.string("action") != "remove")
	case "show":
		supportRoles := "not set"
		if len(settings.SupportRoles) > 0 {
			supportRoles = "<@&" + strings.Join(settings.SupportRoles, "> <@&") + ">"
		}
		fields := []*discordgo.MessageEmbedField{
			{Name: "Log channel", Value: mentionOrNone("<#%s>", settings.LogChannel), Inline: true},
			{Name: "Mute role", Value: mentionOrNone("<@&%s>", settings.MuteRole), Inline: true},
			{Name: "Captcha category", Value: mentionOrNone("<#%s>", settings.CaptchaCategory), Inline: true},
			{Name: "Verified role", Value: mentionOrNone("<@&%s>", settings.VerifiedRole), Inline: true},
			{Name: "Ticket category", Value: mentionOrNone("<#%s>", settings.TicketCategory), Inline: true},
			{Name: "Support roles", Value: supportRoles, Inline: true},
		}
		b.respondEmbed(session, interaction, b.commandEmbed("Settings", "", colors.Action, fields), true)
		return
	case "reset":
		if err := b.store.ResetGuildSettings(ctx, interaction.GuildID); err != nil {
			b.logger.Warn("settings reset failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
			b.respondEmbed(session, interaction, b.commandEmbed("Settings", "Could not reset the settings.", colors.Error, nil), true)
			return
		}
		b.respondEmbed(session, interaction, b.commandEmbed("Settings", "Settings reset to the defaults.", colors.Success, nil), true)
		return
	default:
		return
	}

	if err := b.store.UpsertGuildSettings(ctx, settings); err != nil {
		b.logger.Warn("settings update failed", zap.String("guild_id", interaction.GuildID), zap.Error(err))
		b.respondEmbed(session, interaction, b.commandEmbed("Settings", "Could not save the settings.", colors.Error, nil), true)
		return
	}
	b.respondEmbed(session, interaction, b.commandEmbed("Settings", "Settings updated.", colors.Success, nil), true)
}

func (b *Bot) handleTicketCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, list []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(list) == 0 {
		return
	}
	colors := b.cfg.Notifications.EmbedColors
	actorID := invoker(interaction)
	settings := b.guildSettings(ctx, interaction.GuildID)

	switch list[0].Name {
	case "open":
		b.deferResponse(session, interaction)
		t, err := b.tickets.Open(ctx, interaction.GuildID, actorID, settings)
		switch {
		case errors.Is(err, ticket.ErrAlreadyOpen):
			b.followupEmbed(session, interaction, b.commandEmbed("Ticket", fmt.Sprintf("You already have a ticket: <#%s>.", t.ChannelID), colors.Action, nil))
		case err != nil:
			b.followupEmbed(session, interaction, b.errorEmbed("Ticket", err))
		default:
			b.followupEmbed(session, interaction, b.commandEmbed("Ticket", fmt.Sprintf("Your ticket is open: <#%s>.", t.ChannelID), colors.Success, nil))
		}
	case "claim":
		var roles []string
		if interaction.Member != nil {
			roles = interaction.Member.Roles
		}
		if err := b.tickets.Claim(ctx, interaction.GuildID, interaction.ChannelID, actorID, roles, settings); err != nil {
			b.respondError(session, interaction, "Ticket", err)
			return
		}
		b.respondEmbed(session, interaction, b.commandEmbed("Ticket", "You claimed this ticket.", colors.Success, nil), true)
	case "close":
		deadline, err := b.tickets.Close(ctx, interaction.GuildID, interaction.ChannelID, actorID)
		if err != nil {
			b.respondError(session, interaction, "Ticket", err)
			return
		}
		b.respondEmbed(session, interaction, b.commandEmbed("Ticket", fmt.Sprintf("This ticket closes <t:%d:R>.", deadline.Unix()), colors.Action, nil), false)
	case "transcript":
		b.deferResponse(session, interaction)
		sent, err := b.tickets.Transcript(ctx, interaction.GuildID, interaction.ChannelID, actorID, settings.LogChannel)
		if err != nil {
			b.followupEmbed(session, interaction, b.errorEmbed("Ticket", err))
			return
		}
		desc := fmt.Sprintf("Transcript posted to <#%s> in %d message(s).", settings.LogChannel, sent)
		b.followupEmbed(session, interaction, b.commandEmbed("Ticket", desc, colors.Success, nil))
	case "list":
		open, err := b.tickets.List(ctx, interaction.GuildID)
		if err != nil {
			b.respondError(session, interaction, "Tickets", err)
			return
		}
		if len(open) == 0 {
			b.respondEmbed(session, interaction, b.commandEmbed("Tickets", "No ticket is open.", colors.Action, nil), true)
			return
		}
		lines := make([]string, 0, len(open))
		for _, t := range open {
			line := fmt.Sprintf("<#%s> by <@%s>, opened <t:%d:R>", t.ChannelID, t.OwnerID, t.OpenedAt.Unix())
			if t.ClaimedBy != "" {
				line += fmt.Sprintf(", claimed by <@%s>", t.ClaimedBy)
			}
			if t.Closing {
				line += ", closing"
			}
			lines = append(lines, line)
		}
		b.respondEmbed(session, interaction, b.commandEmbed("Tickets", truncate(strings.Join(lines, "\n"), 4000), colors.Action, nil), true)
	}
}

func (b *Bot) handleStatsCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, list []*discordgo.ApplicationCommandInteractionDataOption) {
	if len(list) == 0 {
		return
	}
	sub := list[0]
	opts := optionMap(sub.Options)
	colors := b.cfg.Notifications.EmbedColors

	switch sub.Name {
	case "top":
		kind := opts.string("kind")
		top, err := b.activity.Top(ctx, interaction.GuildID, kind, 10)
		if err != nil {
			b.respondError(session, interaction, "Stats", err)
			return
		}
		b.respondEmbed(session, interaction, b.commandEmbed("Top "+kind, formatLeaderboard(kind, top), colors.Action, nil), false)
	case "user":
		userID := opts.id("user")
		if userID == "" {
			userID = invoker(interaction)
		}
		stats, err := b.activity.Member(ctx, interaction.GuildID, userID)
		if err != nil {
			b.respondError(session, interaction, "Stats", err)
			return
		}
		fields := []*discordgo.MessageEmbedField{
			{Name: "Messages", Value: fmt.Sprintf("%d", stats.Messages), Inline: true},
			{Name: "Voice", Value: stats.Voice.String(), Inline: true},
		}
		b.respondEmbed(session, interaction, b.commandEmbed("Stats", fmt.Sprintf("Activity of <@%s>.", userID), colors.Action, fields), false)
	case "server":
		totals, err := b.activity.Totals(ctx, interaction.GuildID)
		if err != nil {
			b.respondError(session, interaction, "Stats", err)
			return
		}
		days := int(totals.Window.Hours() / 24)
		fields := []*discordgo.MessageEmbedField{
			{Name: "Messages", Value: fmt.Sprintf("%d", totals.Messages), Inline: true},
			{Name: "Voice", Value: totals.Voice.String(), Inline: true},
			{Name: fmt.Sprintf("Joined (%dd)", days), Value: fmt.Sprintf("%d", totals.Joined), Inline: true},
			{Name: fmt.Sprintf("Left (%dd)", days), Value: fmt.Sprintf("%d", totals.Left), Inline: true},
		}
		b.respondEmbed(session, interaction, b.commandEmbed("Server stats", "", colors.Action, fields), false)
	}
}

func (b *Bot) handleReportCommand(ctx context.Context, session *discordgo.Session, interaction *discordgo.InteractionCreate, opts options) {
	colors := b.cfg.Notifications.EmbedColors
	period := opts.string("period")
	if period == "" {
		period = analytics.PeriodDay
	}
	since, err := analytics.Since(period, time.Now())
	if err != nil {
		b.respondError(session, interaction, "Report", err)
		return
	}
	report, err := b.analytics.Report(ctx, interaction.GuildID, since)
	if err != nil {
		b.respondError(session, interaction, "Report", err)
		return
	}

	lines := []string{}
	for _, event := range report.TopEvents(10) {
		lines = append(lines, fmt.Sprintf("`%s` %d", event.Event, event.Count))
	}
	events := "None"
	if len(lines) > 0 {
		events = strings.Join(lines, "\n")
	}
	fields := []*discordgo.MessageEmbedField{
		{Name: "Levels", Value: formatReport(report), Inline: false},
		{Name: "Top events", Value: events, Inline: false},
	}
	desc := fmt.Sprintf("Activity since <t:%d:f>.", since.Unix())
	b.respondEmbed(session, interaction, b.commandEmbed("Report ("+period+")", desc, colors.Action, fields), true)
}

func (b *Bot) commandEmbed(title, description string, color int, fields []*discordgo.MessageEmbedField) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: description,
		Color:       color,
		Timestamp:   time.Now().Format(time.RFC3339),
		Fields:      fields,
	}
}

func (b *Bot) respondError(session *discordgo.Session, interaction *discordgo.InteractionCreate, title string, err error) {
	b.respondEmbed(session, interaction, b.errorEmbed(title, err), true)
}

func (b *Bot) errorEmbed(title string, err error) *discordgo.MessageEmbed {
	return b.commandEmbed(title, b.errorMessage(err), b.cfg.Notifications.EmbedColors.Error, nil)
}

// errorMessage turns module errors into user-facing text. Unknown errors are
// logged and reported generically.
func (b *Bot) errorMessage(err error) string {
	switch {
	case errors.Is(err, giveaway.ErrInvalidDuration):
		return fmt.Sprintf("The duration must be between one second and %d days.", b.cfg.Giveaway.MaxDurationDays)
	case errors.Is(err, giveaway.ErrInvalidWinners):
		return fmt.Sprintf("The number of winners must be between 1 and %d.", b.cfg.Giveaway.MaxWinners)
	case errors.Is(err, giveaway.ErrInvalidTitle):
		return "A prize is required."
	case errors.Is(err, giveaway.ErrNotEnded):
		return "This giveaway is still running."
	case errors.Is(err, giveaway.ErrNotGiveaway):
		return "That message is not a giveaway."
	case errors.Is(err, mute.ErrNoMuteRole):
		return "No mute role is configured. Use `/settings muterole` first."
	case errors.Is(err, revocation.ErrNotConfigured):
		return "Ban requests are not configured on this bot."
	case errors.Is(err, revocation.ErrProofRequired):
		return "An image proof is required."
	case errors.Is(err, revocation.ErrNotBanned):
		return "This user is not banned."
	case errors.Is(err, premium.ErrUnauthorized):
		return "You are not allowed to manage premium."
	case errors.Is(err, expiry.ErrUnknownType):
		return "Unknown premium type."
	case errors.Is(err, expiry.ErrReservedKey):
		return "That key is reserved."
	case errors.Is(err, ticket.ErrNotConfigured):
		return "Tickets are not set up. Use `/settings ticketcategory` first."
	case errors.Is(err, ticket.ErrNotTicket):
		return "This channel is not an open ticket."
	case errors.Is(err, ticket.ErrNotSupport):
		return "Only support roles can claim tickets."
	case errors.Is(err, ticket.ErrAlreadyClaimed):
		return "This ticket is already claimed."
	case errors.Is(err, ticket.ErrClosing):
		return "This ticket is already closing."
	case errors.Is(err, ticket.ErrNoLogChannel):
		return "No log channel is configured. Use `/settings logchannel` first."
	case errors.Is(err, ticket.ErrEmptyTranscript):
		return "There is nothing to transcribe yet."
	case errors.Is(err, activity.ErrUnknownKind):
		return "Unknown leaderboard."
	case utils.Classify(err) == utils.ClassPermissionDenied:
		return "I am missing permissions to do that."
	case utils.Classify(err) == utils.ClassResourceMissing:
		return "The target no longer exists."
	}
	b.logger.Warn("command failed", zap.Error(err))
	return "Something went wrong, please try again."
}

func formatExpiry(grant expiry.Grant) string {
	t, ok, err := grant.Expiry()
	if err != nil {
		return grant.Expires
	}
	if !ok {
		return "never"
	}
	return fmt.Sprintf("<t:%d:F>", t.Unix())
}

func formatLeaderboard(kind string, top []activity.Entry) string {
	if len(top) == 0 {
		return "No activity recorded yet."
	}
	lines := make([]string, 0, len(top))
	for i, entry := range top {
		value := fmt.Sprintf("%d messages", entry.Value)
		if kind == activity.KindVoice {
			value = (time.Duration(entry.Value) * time.Second).String()
		}
		lines = append(lines, fmt.Sprintf("%d. <@%s> %s", i+1, entry.UserID, value))
	}
	return strings.Join(lines, "\n")
}

// toggleRole adds or removes roleID, keeping the list free of duplicates.
func toggleRole(roles []string, roleID string, add bool) []string {
	out := make([]string, 0, len(roles)+1)
	for _, id := range roles {
		if id != roleID {
			out = append(out, id)
		}
	}
	if add && roleID != "" {
		out = append(out, roleID)
	}
	return out
}

func mentionOrNone(format, id string) string {
	if id == "" {
		return "not set"
	}
	return fmt.Sprintf(format, id)
}
