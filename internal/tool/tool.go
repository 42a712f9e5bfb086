package tool

import (
	"context"
	"fmt"

	"github.com/kx3-io/carbot/pkg/protocol"
)

// Tool is one named operation the assistant may invoke. Execute returns a
// JSON-serializable result; errors are converted by the dispatcher into a
// structured error payload, never surfaced as an exception to the run.
type Tool interface {
	Name() string
	Execute(ctx context.Context, args Args) (any, error)
}

// Args is the decoded argument payload of a single tool call.
type Args map[string]any

// String returns a required string argument.
func (a Args) String(key string) (string, error) {
	raw, ok := a[key]
	if !ok {
		return "", fmt.Errorf("missing required argument %q", key)
	}
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", fmt.Errorf("argument %q must be a non-empty string", key)
	}
	return s, nil
}

// StringOr returns an optional string argument or the fallback.
func (a Args) StringOr(key, fallback string) string {
	if s, ok := a[key].(string); ok && s != "" {
		return s
	}
	return fallback
}

// Attachments decodes the optional "attachments" argument: a list of
// {name, url} objects. Entries without a url are dropped.
func (a Args) Attachments() []protocol.Attachment {
	raw, ok := a["attachments"].([]any)
	if !ok {
		return nil
	}
	var out []protocol.Attachment
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		att := protocol.Attachment{}
		att.Name, _ = m["name"].(string)
		att.URL, _ = m["url"].(string)
		if att.URL == "" {
			continue
		}
		out = append(out, att)
	}
	return out
}
