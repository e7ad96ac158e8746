package memory

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/quailyquaily/guildmind/internal/jsonutil"
	"github.com/quailyquaily/guildmind/internal/prompttmpl"
	"github.com/quailyquaily/guildmind/llm"
)

//go:embed prompts/extract_facts.tmpl
var extractFactsSource string

var extractFactsTemplate = prompttmpl.MustParse("extract_facts", extractFactsSource, nil)

// FactExtractor asks a completion model for facts about the user in one
// exchange.
type FactExtractor struct {
	Client    llm.Client
	Model     string
	MaxTokens int
}

func (x *FactExtractor) Extract(ctx context.Context, userMessage, reply string, known map[string]string) (map[string]string, error) {
	if x == nil || x.Client == nil {
		return nil, fmt.Errorf("fact extractor not configured")
	}
	if strings.TrimSpace(userMessage) == "" {
		return nil, nil
	}
	prompt, err := prompttmpl.Render(extractFactsTemplate, map[string]any{
		"Known":       SortedFacts(known),
		"UserMessage": strings.TrimSpace(userMessage),
		"Reply":       strings.TrimSpace(reply),
	})
	if err != nil {
		return nil, fmt.Errorf("render extract prompt: %w", err)
	}
	maxTokens := x.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 512
	}
	res, err := x.Client.Chat(ctx, llm.Request{
		Model:     x.Model,
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: prompt}},
		MaxTokens: maxTokens,
		ForceJSON: true,
	})
	if err != nil {
		return nil, fmt.Errorf("extract facts: %w", err)
	}
	facts, err := jsonutil.DecodeStringMap(res.Text)
	if err != nil {
		return nil, fmt.Errorf("decode extracted facts: %w", err)
	}
	return facts, nil
}
