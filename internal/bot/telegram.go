package bot

import (
	"context"
	"fmt"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

const typingInterval = 4 * time.Second

// reply sends an HTML formatted message to chatID.
func (b *Bot) reply(chatID int64, text string, a ...any) tgbotapi.Message {
	msg := tgbotapi.NewMessage(chatID, formatReplyText(text, a...))
	msg.ParseMode = tgbotapi.ModeHTML
	return b.send(msg)
}

// replyWithButtons sends text with the inline workflow keyboard.
func (b *Bot) replyWithButtons(chatID int64, generateLabel string, text string, a ...any) tgbotapi.Message {
	msg := tgbotapi.NewMessage(chatID, formatReplyText(text, a...))
	msg.ParseMode = tgbotapi.ModeHTML
	msg.ReplyMarkup = workflowKeyboard(generateLabel)
	return b.send(msg)
}

func (b *Bot) replyWithError(chatID int64, err error) tgbotapi.Message {
	log.Error().Err(err).Int64("chatId", chatID).Send()
	msg := tgbotapi.NewMessage(chatID, fmt.Sprintf(MsgUnexpectedErr, err))
	return b.send(msg)
}

func (b *Bot) send(msg tgbotapi.MessageConfig) tgbotapi.Message {
	sent, err := b.tg.Send(msg)
	if err != nil {
		log.Error().
			Int64("chatId", msg.ChatID).
			Err(fmt.Errorf("failed to send reply message: %w", err)).Send()
	} else {
		log.Debug().Int64("chatId", msg.ChatID).Int("messageId", sent.MessageID).Msg("sent message")
	}
	return sent
}

func workflowKeyboard(generateLabel string) tgbotapi.InlineKeyboardMarkup {
	return tgbotapi.NewInlineKeyboardMarkup(
		tgbotapi.NewInlineKeyboardRow(
			tgbotapi.NewInlineKeyboardButtonData(generateLabel, callbackGenerate),
			tgbotapi.NewInlineKeyboardButtonData(BtnReset, callbackReset),
		),
	)
}

// sendTypingAction sends a "typing" chat action. Telegram expires it after
// about five seconds.
func (b *Bot) sendTypingAction(chatID int64) {
	action := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	// sendChatAction returns a boolean, not a Message
	if _, err := b.tg.Request(action); err != nil {
		log.Debug().Err(err).Int64("chatId", chatID).Msg("failed to send typing action")
	}
}

// typingLoop keeps the typing indicator visible until ctx is cancelled.
func (b *Bot) typingLoop(ctx context.Context, chatID int64) {
	b.sendTypingAction(chatID)

	ticker := time.NewTicker(typingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.sendTypingAction(chatID)
		}
	}
}
