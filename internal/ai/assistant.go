package ai

import (
	"context"
	"strings"
)

// Role tags a message in a chat conversation.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Format is a hint about the expected shape of the assistant reply.
type Format int

const (
	FormatText Format = iota
	// FormatJSON asks the backend for a JSON object when it has a native switch for it.
	FormatJSON
)

// Message is a single role-tagged text block.
type Message struct {
	Role    Role
	Content string
}

// Request is the uniform chat completion request. A conversation holds at
// most one system message, conventionally the first one.
type Request struct {
	// Model overrides the provider's configured model when set.
	Model          string
	Messages       []Message
	Temperature    *float64
	MaxTokens      int
	ResponseFormat Format
}

// Provider produces the assistant text for a chat conversation, whatever the
// backend vendor. Implementations must be safe for concurrent use.
type Provider interface {
	Complete(ctx context.Context, req Request) (string, error)
	Name() string
	Model() string
}

// Temp returns a pointer to t for Request.Temperature.
func Temp(t float64) *float64 {
	return &t
}

// Chat builds the usual system + user conversation.
func Chat(system, user string) []Message {
	messages := make([]Message, 0, 2)
	if strings.TrimSpace(system) != "" {
		messages = append(messages, Message{Role: RoleSystem, Content: system})
	}
	return append(messages, Message{Role: RoleUser, Content: user})
}

// SplitSystem separates the system prompt from the rest of the conversation.
// Several system messages are joined with a blank line.
func SplitSystem(messages []Message) (string, []Message) {
	var system []string
	rest := make([]Message, 0, len(messages))
	for _, msg := range messages {
		if msg.Role == RoleSystem {
			if text := strings.TrimSpace(msg.Content); text != "" {
				system = append(system, text)
			}
			continue
		}
		rest = append(rest, msg)
	}
	return strings.Join(system, "\n\n"), rest
}

// ModelFor returns the request model or the fallback.
func (r Request) ModelFor(fallback string) string {
	if m := strings.TrimSpace(r.Model); m != "" {
		return m
	}
	return fallback
}
