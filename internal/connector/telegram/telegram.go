// Package telegram is the Telegram long-polling connector.
package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/kx3-io/carbot/internal/connector"
	"github.com/kx3-io/carbot/pkg/protocol"
)

const greeting = "Olá! Sou o assistente de chamados da KX3. 👋\n\n" +
	"Posso registrar seu cadastro, abrir chamados para os departamentos, " +
	"consultar o andamento e finalizar chamados.\n\n" +
	"Como posso ajudar?"

// Config holds Telegram connector configuration.
type Config struct {
	Token     string  // Bot token from @BotFather
	AllowFrom []int64 // Allowed Telegram user IDs (empty = allow all)
}

// Connector implements the connector.Connector interface for Telegram.
type Connector struct {
	bot     *tgbotapi.BotAPI
	config  Config
	handler connector.InboundHandler
	logger  *slog.Logger
	cancel  context.CancelFunc

	// OnReset is called when a user asks for a fresh conversation.
	OnReset func(chatID string)
}

// New creates a new Telegram connector.
func New(cfg Config, handler connector.InboundHandler, logger *slog.Logger) (*Connector, error) {
	bot, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("telegram: init bot: %w", err)
	}

	if logger == nil {
		logger = slog.Default()
	}

	logger.Info("telegram bot authorized", "username", bot.Self.UserName)

	return &Connector{
		bot:     bot,
		config:  cfg,
		handler: handler,
		logger:  logger,
	}, nil
}

func (c *Connector) Name() string { return "telegram" }

// Start begins long-polling for updates. Blocks until context is cancelled.
func (c *Connector) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30

	updates := c.bot.GetUpdatesChan(u)

	c.logger.Info("telegram connector started", "bot", c.bot.Self.UserName)

	for {
		select {
		case update := <-updates:
			if update.Message == nil {
				continue
			}
			go c.handleUpdate(ctx, update)

		case <-ctx.Done():
			c.bot.StopReceivingUpdates()
			c.logger.Info("telegram connector stopped")
			return ctx.Err()
		}
	}
}

// Stop gracefully shuts down the connector.
func (c *Connector) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Send delivers a plain-text message to a Telegram chat.
func (c *Connector) Send(_ context.Context, msg connector.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("telegram: invalid chat_id %q: %w", msg.ChatID, err)
	}

	if strings.TrimSpace(msg.Text) == "" {
		c.logger.Warn("skipping empty message", "chat_id", msg.ChatID)
		return nil
	}

	tgMsg := tgbotapi.NewMessage(chatID, msg.Text)
	tgMsg.DisableWebPagePreview = true
	_, err = c.bot.Send(tgMsg)
	return err
}

func (c *Connector) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	userID := msg.From.ID
	chatID := msg.Chat.ID

	if len(c.config.AllowFrom) > 0 && !contains(c.config.AllowFrom, userID) {
		c.logger.Warn("unauthorized user", "user_id", userID, "username", msg.From.UserName)
		return
	}

	if msg.IsCommand() {
		c.handleCommand(msg)
		return
	}

	text := msg.Text
	if text == "" && msg.Caption != "" {
		text = msg.Caption
	}

	var voiceFileID string
	if msg.Voice != nil {
		voiceFileID = msg.Voice.FileID
	}

	attachments := c.resolveAttachments(msg)

	if text == "" && voiceFileID == "" && len(attachments) == 0 {
		return
	}

	typing := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	c.bot.Send(typing)

	inbound := connector.InboundMessage{
		Channel:     "telegram",
		SenderID:    "tg:" + strconv.FormatInt(userID, 10),
		SenderName:  senderName(msg.From),
		ChatID:      strconv.FormatInt(chatID, 10),
		Text:        text,
		Attachments: attachments,
		VoiceFileID: voiceFileID,
	}

	reply, err := c.handler(ctx, inbound)
	if err != nil {
		c.logger.Error("inbound handler error", "chat_id", chatID, "error", err)
		return
	}
	if err := c.Send(ctx, connector.OutboundMessage{ChatID: inbound.ChatID, Text: reply}); err != nil {
		c.logger.Error("reply send failed", "chat_id", chatID, "error", err)
	}
}

func (c *Connector) handleCommand(msg *tgbotapi.Message) {
	chatID := msg.Chat.ID

	switch msg.Command() {
	case "start":
		reply := tgbotapi.NewMessage(chatID, greeting)
		c.bot.Send(reply)

	case "novo":
		if c.OnReset != nil {
			c.OnReset(strconv.FormatInt(chatID, 10))
		}
		reply := tgbotapi.NewMessage(chatID, "Conversa reiniciada. Como posso ajudar?")
		c.bot.Send(reply)

	default:
		reply := tgbotapi.NewMessage(chatID, "Comando não reconhecido. Envie /start para começar.")
		c.bot.Send(reply)
	}
}

// resolveAttachments turns documents and photos into {name, url} pairs.
// URL resolution is best-effort: an attachment that cannot be resolved is
// dropped so the message itself still goes through.
func (c *Connector) resolveAttachments(msg *tgbotapi.Message) []protocol.Attachment {
	var attachments []protocol.Attachment

	if msg.Document != nil {
		url, err := c.bot.GetFileDirectURL(msg.Document.FileID)
		if err != nil {
			c.logger.Warn("document url resolution failed", "file_id", msg.Document.FileID, "error", err)
		} else {
			name := msg.Document.FileName
			if name == "" {
				name = "documento"
			}
			attachments = append(attachments, protocol.Attachment{Name: name, URL: url})
		}
	}

	if len(msg.Photo) > 0 {
		// Telegram sends every size; the last entry is the largest.
		photo := msg.Photo[len(msg.Photo)-1]
		url, err := c.bot.GetFileDirectURL(photo.FileID)
		if err != nil {
			c.logger.Warn("photo url resolution failed", "file_id", photo.FileID, "error", err)
		} else {
			attachments = append(attachments, protocol.Attachment{Name: "foto.jpg", URL: url})
		}
	}

	return attachments
}

func senderName(user *tgbotapi.User) string {
	if user == nil {
		return ""
	}
	name := user.FirstName
	if user.LastName != "" {
		name += " " + user.LastName
	}
	return name
}

func contains(ids []int64, id int64) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
