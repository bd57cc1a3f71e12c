package bot

import "github.com/bwmarrin/discordgo"

func permissions(perm int64) *int64 {
	return &perm
}

func (b *Bot) commands() []*discordgo.ApplicationCommand {
	dmDisabled := false
	userOption := func(description string) *discordgo.ApplicationCommandOption {
		return &discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: description, Required: true}
	}
	messageOption := &discordgo.ApplicationCommandOption{Type: discordgo.ApplicationCommandOptionString, Name: "message_id", Description: "Giveaway message id", Required: true}

	return []*discordgo.ApplicationCommand{
		{
			Name:                     "giveaway",
			Description:              "Run giveaways",
			DefaultMemberPermissions: permissions(discordgo.PermissionManageServer),
			DMPermission:             &dmDisabled,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "start",
					Description: "Start a giveaway in this channel",
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionString, Name: "duration", Description: "How long it runs, e.g. 10m, 2h, 1d", Required: true},
						{Type: discordgo.ApplicationCommandOptionInteger, Name: "winners", Description: "Number of winners", Required: true, MinValue: floatPtr(1)},
						{Type: discordgo.ApplicationCommandOptionString, Name: "prize", Description: "What is being given away", Required: true},
						{Type: discordgo.ApplicationCommandOptionString, Name: "emoji", Description: "Entry reaction"},
						{Type: discordgo.ApplicationCommandOptionChannel, Name: "channel", Description: "Channel to post in", ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews}},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "end",
					Description: "End a running giveaway now",
					Options:     []*discordgo.ApplicationCommandOption{messageOption},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "reroll",
					Description: "Draw new winners for an ended giveaway",
					Options: []*discordgo.ApplicationCommandOption{
						messageOption,
						{Type: discordgo.ApplicationCommandOptionInteger, Name: "winners", Description: "Number of winners to draw", MinValue: floatPtr(1)},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "list",
					Description: "List running giveaways",
				},
			},
		},
		{
			Name:                     "mute",
			Description:              "Mute a member for a while",
			DefaultMemberPermissions: permissions(discordgo.PermissionModerateMembers),
			DMPermission:             &dmDisabled,
			Options: []*discordgo.ApplicationCommandOption{
				userOption("Member to mute"),
				{Type: discordgo.ApplicationCommandOptionString, Name: "duration", Description: "e.g. 10m, 1h", Required: true},
				{Type: discordgo.ApplicationCommandOptionString, Name: "reason", Description: "Reason"},
			},
		},
		{
			Name:                     "unmute",
			Description:              "Lift a mute",
			DefaultMemberPermissions: permissions(discordgo.PermissionModerateMembers),
			DMPermission:             &dmDisabled,
			Options:                  []*discordgo.ApplicationCommandOption{userOption("Member to unmute")},
		},
		{
			Name:         "banrequest",
			Description:  "Ask the support team to ban a user",
			DMPermission: &dmDisabled,
			Options: []*discordgo.ApplicationCommandOption{
				userOption("User to ban"),
				{Type: discordgo.ApplicationCommandOptionString, Name: "reason", Description: "Why", Required: true},
				{Type: discordgo.ApplicationCommandOptionAttachment, Name: "proof", Description: "Screenshot proof", Required: true},
			},
		},
		{
			Name:         "revokeban",
			Description:  "Open a community vote to lift a ban",
			DMPermission: &dmDisabled,
			Options:      []*discordgo.ApplicationCommandOption{userOption("Banned user")},
		},
		{
			Name:        "premium",
			Description: "Premium membership",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "grant",
					Description: "Grant premium to a user",
					Options: []*discordgo.ApplicationCommandOption{
						userOption("User"),
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "type",
							Description: "Duration",
							Required:    true,
							Choices: []*discordgo.ApplicationCommandOptionChoice{
								{Name: "1 day", Value: "d"},
								{Name: "1 month", Value: "m"},
								{Name: "1 year", Value: "y"},
								{Name: "lifetime", Value: "lf"},
							},
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "revoke",
					Description: "Remove premium from a user",
					Options:     []*discordgo.ApplicationCommandOption{userOption("User")},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "status",
					Description: "Show premium status",
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "User, defaults to you"},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "alertchannel",
					Description: "Set the channel for recent account alerts",
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionChannel, Name: "channel", Description: "Alert channel", Required: true},
					},
				},
			},
		},
		{
			Name:                     "settings",
			Description:              "Configure the bot for this server",
			DefaultMemberPermissions: permissions(discordgo.PermissionAdministrator),
			DMPermission:             &dmDisabled,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "logchannel",
					Description: "Channel receiving audit entries",
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionChannel, Name: "channel", Description: "Log channel", Required: true},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "muterole",
					Description: "Role applied by /mute and anti-spam",
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionRole, Name: "role", Description: "Mute role", Required: true},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "captchacategory",
					Description: "Category holding captcha channels",
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionChannel, Name: "category", Description: "Category", Required: true, ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildCategory}},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "verifiedrole",
					Description: "Role granted after the captcha",
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionRole, Name: "role", Description: "Verified role", Required: true},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "ticketcategory",
					Description: "Category holding ticket channels",
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionChannel, Name: "category", Description: "Category", Required: true, ChannelTypes: []discordgo.ChannelType{discordgo.ChannelTypeGuildCategory}},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "supportrole",
					Description: "Add or remove a role that handles tickets",
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionRole, Name: "role", Description: "Support role", Required: true},
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "action",
							Description: "add or remove, defaults to add",
							Choices: []*discordgo.ApplicationCommandOptionChoice{
								{Name: "add", Value: "add"},
								{Name: "remove", Value: "remove"},
							},
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "show",
					Description: "Show the current settings",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "reset",
					Description: "Forget every setting of this server",
				},
			},
		},
		{
			Name:         "ticket",
			Description:  "Support tickets",
			DMPermission: &dmDisabled,
			Options: []*discordgo.ApplicationCommandOption{
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "open", Description: "Open a private ticket with the support team"},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "claim", Description: "Take charge of this ticket"},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "close", Description: "Close this ticket"},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "transcript", Description: "Copy this ticket to the log channel"},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "list", Description: "List open tickets"},
			},
		},
		{
			Name:         "stats",
			Description:  "Member activity",
			DMPermission: &dmDisabled,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "top",
					Description: "Top 10 members",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "kind",
							Description: "messages or voice",
							Required:    true,
							Choices: []*discordgo.ApplicationCommandOptionChoice{
								{Name: "messages", Value: "messages"},
								{Name: "voice", Value: "voice"},
							},
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "user",
					Description: "Activity of one member",
					Options: []*discordgo.ApplicationCommandOption{
						{Type: discordgo.ApplicationCommandOptionUser, Name: "user", Description: "Member, defaults to you"},
					},
				},
				{Type: discordgo.ApplicationCommandOptionSubCommand, Name: "server", Description: "Server totals"},
			},
		},
		{
			Name:                     "report",
			Description:              "Summarize recent audit activity",
			DefaultMemberPermissions: permissions(discordgo.PermissionManageServer),
			DMPermission:             &dmDisabled,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "period",
					Description: "day or week",
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "day", Value: "day"},
						{Name: "week", Value: "week"},
					},
				},
			},
		},
	}
}

func floatPtr(v float64) *float64 {
	return &v
}

func (b *Bot) registerCommands() error {
	commands := b.commands()

	appID := b.session.State.User.ID
	existing, err := b.session.ApplicationCommands(appID, "")
	if err != nil {
		for _, cmd := range commands {
			if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
				return err
			}
		}
		return nil
	}

	existingByName := make(map[string]*discordgo.ApplicationCommand)
	for _, cmd := range existing {
		existingByName[cmd.Name] = cmd
	}

	desired := make(map[string]struct{})
	for _, cmd := range commands {
		desired[cmd.Name] = struct{}{}
		if current, ok := existingByName[cmd.Name]; ok {
			if _, err := b.session.ApplicationCommandEdit(appID, "", current.ID, cmd); err != nil {
				return err
			}
			continue
		}
		if _, err := b.session.ApplicationCommandCreate(appID, "", cmd); err != nil {
			return err
		}
	}

	for _, cmd := range existing {
		if _, ok := desired[cmd.Name]; ok {
			continue
		}
		_ = b.session.ApplicationCommandDelete(appID, "", cmd.ID)
	}
	return nil
}
