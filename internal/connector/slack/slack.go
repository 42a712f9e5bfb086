// Package slackconn is the Slack Socket Mode connector.
package slackconn

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/kx3-io/carbot/internal/connector"
)

// Config holds Slack connector configuration.
type Config struct {
	BotToken string   // xoxb-... Bot User OAuth Token
	AppToken string   // xapp-... App-Level Token (for Socket Mode)
	Channels []string // Optional: only respond in these channels (empty = all)
}

// Connector implements connector.Connector for Slack via Socket Mode.
type Connector struct {
	api     *slack.Client
	socket  *socketmode.Client
	config  Config
	handler connector.InboundHandler
	logger  *slog.Logger
	cancel  context.CancelFunc
	botID   string
}

// New creates a new Slack connector.
func New(cfg Config, handler connector.InboundHandler, logger *slog.Logger) (*Connector, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("slack: bot_token is required")
	}
	if cfg.AppToken == "" {
		return nil, fmt.Errorf("slack: app_token is required (Socket Mode)")
	}

	if logger == nil {
		logger = slog.Default()
	}

	api := slack.New(cfg.BotToken, slack.OptionAppLevelToken(cfg.AppToken))

	authResp, err := api.AuthTest()
	if err != nil {
		return nil, fmt.Errorf("slack: auth test: %w", err)
	}

	logger.Info("slack bot authorized", "user", authResp.User, "team", authResp.Team)

	return &Connector{
		api:     api,
		socket:  socketmode.New(api),
		config:  cfg,
		handler: handler,
		logger:  logger,
		botID:   authResp.UserID,
	}, nil
}

func (c *Connector) Name() string { return "slack" }

// Start begins listening for events via Socket Mode. Blocks until context is cancelled.
func (c *Connector) Start(ctx context.Context) error {
	ctx, c.cancel = context.WithCancel(ctx)

	go c.handleEvents(ctx)

	c.logger.Info("slack connector started (socket mode)")
	return c.socket.RunContext(ctx)
}

// Stop gracefully shuts down the connector.
func (c *Connector) Stop() error {
	if c.cancel != nil {
		c.cancel()
	}
	return nil
}

// Send delivers a message to a Slack channel or DM.
func (c *Connector) Send(ctx context.Context, msg connector.OutboundMessage) error {
	channel, threadTS := splitChatID(msg.ChatID)

	opts := []slack.MsgOption{slack.MsgOptionText(msg.Text, false)}
	if threadTS != "" {
		opts = append(opts, slack.MsgOptionTS(threadTS))
	}

	if _, _, err := c.api.PostMessageContext(ctx, channel, opts...); err != nil {
		return fmt.Errorf("slack: send message: %w", err)
	}
	return nil
}

func (c *Connector) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-c.socket.Events:
			if event.Type != socketmode.EventTypeEventsAPI {
				continue
			}
			eventsAPIEvent, ok := event.Data.(slackevents.EventsAPIEvent)
			if !ok {
				continue
			}
			c.socket.Ack(*event.Request)

			switch ev := eventsAPIEvent.InnerEvent.Data.(type) {
			case *slackevents.MessageEvent:
				go c.handleMessage(ctx, ev)
			case *slackevents.AppMentionEvent:
				go c.handleMention(ctx, ev)
			}
		}
	}
}

func (c *Connector) handleMessage(ctx context.Context, ev *slackevents.MessageEvent) {
	// Ignore bot messages (including our own) and subtypes (edits, deletes).
	if ev.BotID != "" || ev.User == "" || ev.User == c.botID || ev.SubType != "" {
		return
	}
	if !c.isAllowedChannel(ev.Channel) {
		return
	}
	if ev.Text == "" {
		return
	}

	c.forward(ctx, ev.User, ev.Channel, ev.ThreadTimeStamp, ev.Text)
}

func (c *Connector) handleMention(ctx context.Context, ev *slackevents.AppMentionEvent) {
	if ev.User == c.botID {
		return
	}
	text := StripMention(ev.Text, c.botID)
	if text == "" {
		return
	}

	c.forward(ctx, ev.User, ev.Channel, ev.ThreadTimeStamp, text)
}

func (c *Connector) forward(ctx context.Context, userID, channel, threadTS, text string) {
	// Keep a thread's messages in one conversation context.
	chatID := channel
	if threadTS != "" {
		chatID = channel + ":" + threadTS
	}

	inbound := connector.InboundMessage{
		Channel:    "slack",
		SenderID:   "slack:" + userID,
		SenderName: c.displayName(ctx, userID),
		ChatID:     chatID,
		Text:       text,
	}

	reply, err := c.handler(ctx, inbound)
	if err != nil {
		c.logger.Error("slack inbound handler error", "channel", channel, "user", userID, "error", err)
		return
	}
	if err := c.Send(ctx, connector.OutboundMessage{ChatID: chatID, Text: reply}); err != nil {
		c.logger.Error("slack reply send failed", "channel", channel, "error", err)
	}
}

func (c *Connector) displayName(ctx context.Context, userID string) string {
	info, err := c.api.GetUserInfoContext(ctx, userID)
	if err != nil {
		c.logger.Warn("slack user lookup failed", "user", userID, "error", err)
		return ""
	}
	if info.Profile.DisplayName != "" {
		return info.Profile.DisplayName
	}
	return info.RealName
}

func (c *Connector) isAllowedChannel(channel string) bool {
	if len(c.config.Channels) == 0 {
		return true
	}
	for _, ch := range c.config.Channels {
		if ch == channel {
			return true
		}
	}
	return false
}

// StripMention removes the <@BOTID> mention from message text.
func StripMention(text, botID string) string {
	mention := fmt.Sprintf("<@%s>", botID)
	text = strings.Replace(text, mention, "", 1)
	return strings.TrimSpace(text)
}

// splitChatID separates a "channel:thread_ts" chat ID back into its parts.
func splitChatID(chatID string) (channel, threadTS string) {
	if i := strings.IndexByte(chatID, ':'); i >= 0 {
		return chatID[:i], chatID[i+1:]
	}
	return chatID, ""
}
