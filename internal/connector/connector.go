// Package connector abstracts the external chat platforms carbot listens on.
package connector

import (
	"context"

	"github.com/kx3-io/carbot/pkg/protocol"
)

// Connector is the interface for external messaging platforms (Telegram, Slack, etc.).
type Connector interface {
	// Name returns the connector type (e.g., "telegram", "slack").
	Name() string
	// Start begins listening for inbound messages. Blocks until context is cancelled.
	Start(ctx context.Context) error
	// Stop gracefully shuts down the connector.
	Stop() error
	// Send delivers an outbound message to the external platform.
	Send(ctx context.Context, msg OutboundMessage) error
}

// OutboundMessage is a reply sent back to an external platform.
type OutboundMessage struct {
	ChatID string // Platform-specific chat identifier
	Text   string // Plain-text reply
}

// InboundMessage is a user message received from an external platform.
type InboundMessage struct {
	Channel     string                // Connector name (e.g., "telegram")
	SenderID    string                // Platform-qualified sender identifier (e.g., "tg:12345")
	SenderName  string                // Display name as reported by the platform
	ChatID      string                // Platform-specific chat identifier
	Text        string                // Message text or caption
	Attachments []protocol.Attachment // Resolved file links shipped with the message
	VoiceFileID string                // Platform file ID for a voice note, if any
}

// InboundHandler processes messages received from external platforms and
// returns the reply to deliver to the same chat.
type InboundHandler func(ctx context.Context, msg InboundMessage) (string, error)
