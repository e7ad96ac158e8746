package llm

import (
	"context"
	"strings"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Image is an inline image attached to a user message.
type Image struct {
	MediaType string `json:"media_type"`
	Data      []byte `json:"-"`
}

type Message struct {
	Role    string  `json:"role"`
	Content string  `json:"content"`
	Images  []Image `json:"images,omitempty"`
}

type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

type Result struct {
	Text     string
	Usage    Usage
	Duration time.Duration
}

type Request struct {
	Model     string
	Messages  []Message
	MaxTokens int
	ForceJSON bool
}

type Client interface {
	Chat(ctx context.Context, req Request) (Result, error)
}

// SystemPrompt joins the content of every system message in req.
func SystemPrompt(req Request) string {
	var parts []string
	for _, m := range req.Messages {
		if m.Role == RoleSystem && strings.TrimSpace(m.Content) != "" {
			parts = append(parts, strings.TrimSpace(m.Content))
		}
	}
	return strings.Join(parts, "\n\n")
}
