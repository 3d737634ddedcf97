package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

type commandFunc func(b *Bot, ctx context.Context, chatID int64)

// command is a slash command. Hidden commands work but stay out of the menu.
type command struct {
	name        string
	description string
	hidden      bool
	run         commandFunc
}

var commands = []command{
	{name: "start", description: "How to use the bot", run: (*Bot).start},
	{name: "help", hidden: true, run: (*Bot).start},
	{name: "generate", description: "Generate metadata for the current image", run: (*Bot).generate},
	{name: "reset", description: "Clear the current image and result", run: (*Bot).reset},
}

func lookupCommand(name string) (command, bool) {
	for _, c := range commands {
		if "/"+c.name == name {
			return c, true
		}
	}
	return command{}, false
}

// RegisterCommands publishes the command menu. Call once at startup.
func RegisterCommands(tg BotAPI) error {
	menu := make([]tgbotapi.BotCommand, 0, len(commands))
	for _, c := range commands {
		if c.hidden {
			continue
		}
		menu = append(menu, tgbotapi.BotCommand{Command: c.name, Description: c.description})
	}

	if _, err := tg.Request(tgbotapi.NewSetMyCommands(menu...)); err != nil {
		log.Error().Err(err).Msg("failed to set bot commands")
		return err
	}
	log.Info().Int("count", len(menu)).Msg("registered bot commands")
	return nil
}
