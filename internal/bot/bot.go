// Package bot drives workflow sessions from Telegram chats.
package bot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/raine/microstock-tagger/internal/llm"
	"github.com/raine/microstock-tagger/internal/workflow"
	"github.com/rs/zerolog/log"
)

const caller = "telegram"

// BotAPI defines the interface for Telegram bot API operations.
type BotAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetFileDirectURL(fileID string) (string, error)
}

// Bot is the main Telegram bot handler.
type Bot struct {
	tg         BotAPI
	sessions   *workflow.Manager
	downloader *ImageDownloader
	maxSize    int64

	mu       sync.Mutex
	watching map[int64]*workflow.Session
	watchers sync.WaitGroup
}

// NewBot creates a new Bot instance. maxSize caps downloaded images.
func NewBot(tg BotAPI, sessions *workflow.Manager, maxSize int64) *Bot {
	downloader := NewImageDownloader().WithMaxSize(maxSize)
	return &Bot{
		tg:         tg,
		sessions:   sessions,
		downloader: downloader,
		maxSize:    downloader.maxSize,
		watching:   make(map[int64]*workflow.Session),
	}
}

// SessionID returns the workflow session key of a chat.
func SessionID(chatID int64) string {
	return "tg:" + strconv.FormatInt(chatID, 10)
}

// Run handles updates until ctx is cancelled or the channel closes.
func (b *Bot) Run(ctx context.Context, updates tgbotapi.UpdatesChannel) error {
	var wg sync.WaitGroup
	defer b.watchers.Wait()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("stopping bot update loop")
			log.Info().Msg("waiting for active handlers to finish")
			wg.Wait()
			return ctx.Err()
		case update, ok := <-updates:
			if !ok {
				log.Warn().Msg("updates channel closed")
				wg.Wait()
				return nil
			}
			wg.Add(1)
			go func(u tgbotapi.Update) {
				defer wg.Done()
				b.HandleUpdate(ctx, u)
			}(update)
		}
	}
}

// HandleUpdate is the main message router. Transitions are serialised by the
// chat's workflow session.
func (b *Bot) HandleUpdate(ctx context.Context, update tgbotapi.Update) {
	ctx = llm.WithCaller(ctx, caller)

	switch {
	case update.CallbackQuery != nil:
		if update.CallbackQuery.Message == nil {
			return
		}
		b.handleCallbackQuery(ctx, update.CallbackQuery)
	case update.Message != nil:
		message := update.Message
		log.Info().
			Int64("chatId", message.Chat.ID).
			Str("text", message.Text).
			Bool("photo", len(message.Photo) > 0).
			Bool("document", message.Document != nil).
			Msg("got message")

		switch {
		case len(message.Photo) > 0:
			b.handlePhoto(ctx, message)
		case message.Document != nil:
			b.handleDocument(ctx, message)
		default:
			b.handleCommand(ctx, message)
		}
	}
}

// session returns the chat's workflow session and makes sure its changes are
// reported back to the chat until ctx is done.
func (b *Bot) session(ctx context.Context, chatID int64) *workflow.Session {
	session := b.sessions.Get(SessionID(chatID))

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.watching[chatID] == session {
		return session
	}
	b.watching[chatID] = session
	changes := session.Broker().Subscribe()
	b.watchers.Add(1)
	go b.watch(ctx, chatID, session, changes)
	return session
}

func (b *Bot) handlePhoto(ctx context.Context, message *tgbotapi.Message) {
	// Telegram lists sizes smallest first
	photo := message.Photo[len(message.Photo)-1]
	name := fmt.Sprintf("photo_%d.jpg", message.MessageID)
	b.selectImage(ctx, message.Chat.ID, photo.FileID, int64(photo.FileSize), name, "image/jpeg")
}

func (b *Bot) handleDocument(ctx context.Context, message *tgbotapi.Message) {
	doc := message.Document
	if doc.MimeType != "" && !llm.IsImageMIME(doc.MimeType) {
		b.reply(message.Chat.ID, MsgImageNotSupported)
		return
	}
	name := doc.FileName
	if name == "" {
		name = fmt.Sprintf("image_%d", message.MessageID)
	}
	b.selectImage(ctx, message.Chat.ID, doc.FileID, int64(doc.FileSize), name, doc.MimeType)
}

func (b *Bot) selectImage(ctx context.Context, chatID int64, fileID string, size int64, name, declaredMIME string) {
	if size > b.maxSize {
		b.reply(chatID, MsgImageTooLarge, humanBytes(size), humanBytes(b.maxSize))
		return
	}

	session := b.session(ctx, chatID)
	data, contentType, err := b.downloader.DownloadFromTelegramFileID(ctx, b.tg.GetFileDirectURL, fileID)
	if err != nil {
		log.Error().Err(err).Int64("chatId", chatID).Str("fileId", fileID).Msg("failed to download image")
		if errors.Is(err, ErrImageTooLarge) {
			b.reply(chatID, MsgImageTooLarge, "over the limit", humanBytes(b.maxSize))
			return
		}
		b.reply(chatID, MsgImageDownloadFailed)
		return
	}

	if declaredMIME == "" {
		declaredMIME = contentType
	}
	image, err := llm.ReadImage(bytes.NewReader(data), declaredMIME)
	if err != nil {
		b.replyWithError(chatID, err)
		return
	}
	if !llm.IsImageMIME(image.MIMEType) {
		b.reply(chatID, MsgImageNotSupported)
		return
	}

	file := &workflow.File{Name: name, Image: image}
	if _, err := session.SelectFile(ctx, file); err != nil {
		log.Error().Err(err).Int64("chatId", chatID).Msg("failed to select image")
		b.reply(chatID, MsgImageStoreFailed)
		return
	}
	b.replyWithButtons(chatID, BtnGenerate, MsgImageReceived, html.EscapeString(name), humanBytes(int64(image.Size())))
}

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	chatID := message.Chat.ID
	name, _ := parseCommand(message.Text)
	if cmd, ok := lookupCommand(name); ok {
		cmd.run(b, ctx, chatID)
		return
	}
	b.reply(chatID, MsgSendPhoto)
}

func (b *Bot) start(_ context.Context, chatID int64) {
	b.reply(chatID, MsgStart)
}

// handleCallbackQuery handles inline keyboard button presses.
func (b *Bot) handleCallbackQuery(ctx context.Context, query *tgbotapi.CallbackQuery) {
	// Answer the callback to remove the loading state
	if _, err := b.tg.Request(tgbotapi.NewCallback(query.ID, "")); err != nil {
		log.Debug().Err(err).Msg("failed to answer callback")
	}

	chatID := query.Message.Chat.ID
	switch query.Data {
	case callbackGenerate:
		b.generate(ctx, chatID)
	case callbackReset:
		b.reset(ctx, chatID)
	default:
		log.Warn().Str("data", query.Data).Msg("unknown callback")
	}
}

func (b *Bot) generate(ctx context.Context, chatID int64) {
	session := b.session(ctx, chatID)
	state, changed := session.Dispatch(ctx, workflow.GenerateRequested{})
	if changed {
		b.reply(chatID, MsgAnalyzing)
		return
	}
	if !state.HasFile() {
		b.reply(chatID, MsgNoImage)
		return
	}
	b.reply(chatID, MsgAlreadyAnalyzing)
}

func (b *Bot) reset(ctx context.Context, chatID int64) {
	session := b.session(ctx, chatID)
	session.Dispatch(ctx, workflow.ResetRequested{})
	b.reply(chatID, MsgReset)
}

// watch reports session changes to the chat until the session stops or ctx
// is done.
func (b *Bot) watch(ctx context.Context, chatID int64, session *workflow.Session, changes chan workflow.Change) {
	defer b.watchers.Done()

	var stopTyping context.CancelFunc
	defer func() {
		if stopTyping != nil {
			stopTyping()
		}
		session.Broker().Unsubscribe(changes)
		b.mu.Lock()
		if b.watching[chatID] == session {
			delete(b.watching, chatID)
		}
		b.mu.Unlock()
	}()

	for {
		var change workflow.Change
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				return
			}
			change = c
		}

		if change.Current.Status == workflow.StatusAnalyzing {
			if stopTyping == nil {
				var typingCtx context.Context
				typingCtx, stopTyping = context.WithCancel(ctx)
				go b.typingLoop(typingCtx, chatID)
			}
			continue
		}
		if stopTyping != nil {
			stopTyping()
			stopTyping = nil
		}

		if change.Previous.Status != workflow.StatusAnalyzing {
			continue
		}
		switch change.Current.Status {
		case workflow.StatusSuccess:
			b.sendResult(chatID, change.Current.Result)
		case workflow.StatusError:
			b.replyWithButtons(chatID, BtnGenerate, html.EscapeString(change.Current.ErrorMessage))
		}
	}
}

// sendResult sends one message per field so each can be copied with a tap.
func (b *Bot) sendResult(chatID int64, meta *llm.StockMetadata) {
	if meta == nil {
		return
	}
	b.reply(chatID, MsgResultHeader)
	b.reply(chatID, MsgResultTitle, html.EscapeString(meta.Title))
	b.reply(chatID, MsgResultDesc, html.EscapeString(meta.Description))
	b.reply(chatID, MsgResultKeywords, pluralize("keyword", len(meta.Keywords)), html.EscapeString(meta.JoinedKeywords()))
	b.replyWithButtons(chatID, BtnRegenerate, MsgResultCategory, html.EscapeString(meta.Category))
}
