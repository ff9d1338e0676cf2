package discord

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
)

type commandRegistrar interface {
	ApplicationCommandBulkOverwrite(appID, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
}

// Commands are the application commands the gateway serves. Both are usable
// in direct messages.
func Commands() []*discordgo.ApplicationCommand {
	dm := true
	return []*discordgo.ApplicationCommand{
		{
			Name:         CommandAsk,
			Description:  "Ask anything: quick answers, web searches and images",
			DMPermission: &dm,
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        OptionQuery,
					Description: "Your question or request",
					Required:    true,
				},
			},
		},
		{
			Name:         CommandHelp,
			Description:  "How to use /ask",
			DMPermission: &dm,
		},
	}
}

// RegisterCommands replaces the application's commands with Commands(),
// globally when guildID is empty.
func RegisterCommands(ctx context.Context, api commandRegistrar, appID, guildID string) error {
	if appID == "" {
		return errors.New("register commands: application id unknown")
	}
	cmds, err := api.ApplicationCommandBulkOverwrite(appID, guildID, Commands(), discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("register commands: %w", err)
	}
	scope := "global"
	if guildID != "" {
		scope = "guild:" + guildID
	}
	log.Info().Int("count", len(cmds)).Str("scope", scope).Msg("application commands registered")
	return nil
}
