// Package agent drives assistant runs to completion. Each inbound chat
// message becomes one conversation turn: the driver posts the message on
// the user's thread, starts a run, polls it, executes any tool calls the
// run requests, and returns the assistant's final text.
package agent

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/kx3-io/carbot/internal/assistant"
	"github.com/kx3-io/carbot/internal/connector"
	"github.com/kx3-io/carbot/internal/session"
	"github.com/kx3-io/carbot/internal/tool"
	"github.com/kx3-io/carbot/pkg/protocol"
)

const (
	defaultPollInterval = 550 * time.Millisecond
	defaultMaxPolls     = 20
)

// User-facing fallback messages. The assistant's own replies pass through
// verbatim; these cover the cases where no assistant reply exists.
const (
	msgTransient = "Desculpe, estou com dificuldades para processar sua mensagem agora. Tente novamente em alguns instantes."
	msgRunFailed = "Não consegui concluir o atendimento desta vez. Por favor, tente novamente."
	msgTimeout   = "O atendimento demorou mais que o esperado. Por favor, envie sua mensagem novamente."
)

// Driver owns the run-polling state machine for one assistant.
type Driver struct {
	Assistant assistant.Client
	Tools     *tool.Registry
	Sessions  *session.Store
	Logger    *slog.Logger

	// PollInterval and MaxPolls bound the wall-clock latency of a turn.
	PollInterval time.Duration
	MaxPolls     int
}

// NewDriver creates a Driver with the default polling policy.
func NewDriver(client assistant.Client, tools *tool.Registry, sessions *session.Store, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		Assistant:    client,
		Tools:        tools,
		Sessions:     sessions,
		Logger:       logger,
		PollInterval: defaultPollInterval,
		MaxPolls:     defaultMaxPolls,
	}
}

// turnPayload is the structured message the assistant receives. Sender
// identity travels inside the message so tools can resolve the user
// without any out-of-band channel.
type turnPayload struct {
	Text        string                `json:"text"`
	ExternalID  string                `json:"external_id"`
	SenderName  string                `json:"sender_name,omitempty"`
	VoiceFileID string                `json:"voice_file_id,omitempty"`
	Attachments []protocol.Attachment `json:"attachments,omitempty"`
}

// Handle processes one inbound message and returns the text to send back
// to the chat. Internal failures are logged and collapsed into a generic
// user-facing message; the returned error is reserved for unusable input.
func (d *Driver) Handle(ctx context.Context, msg connector.InboundMessage) (string, error) {
	threadID, err := d.threadFor(ctx, msg)
	if err != nil {
		d.Logger.Error("thread setup failed", "chat", msg.ChatID, "error", err)
		return msgTransient, nil
	}

	run, err := d.Assistant.CreateRun(ctx, threadID)
	if err != nil {
		d.Logger.Error("run start failed", "thread", threadID, "error", err)
		return msgTransient, nil
	}

	return d.pollToCompletion(ctx, threadID, run), nil
}

// threadFor returns the session's existing thread, or creates a new one
// and posts the turn payload on it. A stale cached thread (the assistant
// service expires them server-side) is evicted and replaced once.
func (d *Driver) threadFor(ctx context.Context, msg connector.InboundMessage) (string, error) {
	payload, err := json.Marshal(turnPayload{
		Text:        msg.Text,
		ExternalID:  msg.SenderID,
		SenderName:  msg.SenderName,
		VoiceFileID: msg.VoiceFileID,
		Attachments: msg.Attachments,
	})
	if err != nil {
		return "", err
	}

	if threadID, ok := d.Sessions.Get(msg.ChatID); ok {
		if err := d.Assistant.AddMessage(ctx, threadID, string(payload)); err == nil {
			return threadID, nil
		} else {
			d.Logger.Warn("cached thread rejected message, starting fresh", "thread", threadID, "error", err)
			d.Sessions.Evict(msg.ChatID)
		}
	}

	threadID, err := d.Assistant.CreateThread(ctx)
	if err != nil {
		return "", err
	}
	if err := d.Assistant.AddMessage(ctx, threadID, string(payload)); err != nil {
		return "", err
	}
	d.Sessions.Put(msg.ChatID, threadID)
	return threadID, nil
}

// pollToCompletion observes the run until a terminal state or the poll
// budget runs out. requires_action dispatches the pending tool calls and
// submits one output per call before polling resumes.
func (d *Driver) pollToCompletion(ctx context.Context, threadID string, run *protocol.Run) string {
	interval := d.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	maxPolls := d.MaxPolls
	if maxPolls <= 0 {
		maxPolls = defaultMaxPolls
	}

	for attempt := 0; attempt < maxPolls; attempt++ {
		switch run.Status {
		case protocol.RunCompleted:
			reply, err := d.Assistant.LatestAssistantMessage(ctx, threadID)
			if err != nil {
				d.Logger.Error("fetching assistant reply failed", "run", run.ID, "error", err)
				return msgTransient
			}
			return reply

		case protocol.RunRequiresAction:
			outputs := d.Tools.Dispatch(ctx, run.PendingToolCalls)
			if err := d.Assistant.SubmitToolOutputs(ctx, threadID, run.ID, outputs); err != nil {
				d.Logger.Error("submitting tool outputs failed", "run", run.ID, "error", err)
				return msgTransient
			}

		case protocol.RunFailed, protocol.RunCancelled:
			d.Logger.Error("run ended without a reply", "run", run.ID, "status", run.Status, "detail", run.LastError)
			return msgRunFailed

		case protocol.RunExpired:
			d.Logger.Warn("run expired", "run", run.ID)
			return msgTimeout
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			d.Logger.Warn("run polling cancelled", "run", run.ID, "error", ctx.Err())
			return msgTransient
		}

		next, err := d.Assistant.GetRun(ctx, threadID, run.ID)
		if err != nil {
			// Poll transport errors are not retried; the run keeps
			// going server-side but this turn is over.
			d.Logger.Error("run poll failed", "run", run.ID, "attempt", attempt+1, "error", err)
			return msgTransient
		}
		run = next
	}

	d.Logger.Warn("poll budget exhausted", "run", run.ID, "polls", maxPolls)
	return msgTimeout
}
