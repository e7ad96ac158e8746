package anthropic

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/quailyquaily/guildmind/emoji"
	"github.com/quailyquaily/guildmind/llm"
)

const (
	DefaultModel     = "claude-3-5-haiku-latest"
	DefaultMaxTokens = 1024

	describeMaxTokens = 120
	describePrompt    = "What is in this custom server emoji? Describe it in one sentence."
	jsonInstruction   = "Respond with a single JSON object and nothing else."
)

var ErrNoMessages = errors.New("no user or assistant messages")

// ImageFetcher loads the picture behind an emoji.
type ImageFetcher interface {
	Fetch(ctx context.Context, e emoji.Emoji) (llm.Image, error)
}

type Config struct {
	APIKey      string
	BaseURL     string
	Model       string
	VisionModel string
	MaxTokens   int
	// MaxRetries overrides the SDK retry count; negative keeps its default.
	MaxRetries int
	HTTP       *http.Client
}

// Client talks to the Messages API. It serves chat completions and, given an
// ImageFetcher, emoji descriptions.
type Client struct {
	API         sdk.Client
	Model       string
	VisionModel string
	MaxTokens   int
	Images      ImageFetcher
}

func New(cfg Config, images ImageFetcher) *Client {
	var opts []option.RequestOption
	if key := strings.TrimSpace(cfg.APIKey); key != "" {
		opts = append(opts, option.WithAPIKey(key))
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithBaseURL(base))
	}
	if cfg.HTTP != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTP))
	}
	if cfg.MaxRetries >= 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}
	vision := strings.TrimSpace(cfg.VisionModel)
	if vision == "" {
		vision = model
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Client{
		API:         sdk.NewClient(opts...),
		Model:       model,
		VisionModel: vision,
		MaxTokens:   maxTokens,
		Images:      images,
	}
}

func (c *Client) Chat(ctx context.Context, req llm.Request) (llm.Result, error) {
	start := time.Now()

	msgs, err := toMessageParams(req.Messages)
	if err != nil {
		return llm.Result{}, err
	}
	model := strings.TrimSpace(req.Model)
	if model == "" {
		model = c.Model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = c.MaxTokens
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	system := llm.SystemPrompt(req)
	if req.ForceJSON {
		system = strings.TrimSpace(system + "\n\n" + jsonInstruction)
	}
	if system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}

	resp, err := c.API.Messages.New(ctx, params)
	if err != nil {
		return llm.Result{}, fmt.Errorf("anthropic messages: %w", err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	in, out := int(resp.Usage.InputTokens), int(resp.Usage.OutputTokens)
	return llm.Result{
		Text:     text.String(),
		Usage:    llm.Usage{InputTokens: in, OutputTokens: out, TotalTokens: in + out},
		Duration: time.Since(start),
	}, nil
}

// Describe fetches the emoji image and asks the vision model for a one
// sentence description.
func (c *Client) Describe(ctx context.Context, e emoji.Emoji) (string, error) {
	if c.Images == nil {
		return "", fmt.Errorf("describe %s: no image fetcher configured", e.Name)
	}
	img, err := c.Images.Fetch(ctx, e)
	if err != nil {
		return "", fmt.Errorf("describe %s: %w", e.Name, err)
	}
	res, err := c.Chat(ctx, llm.Request{
		Model:     c.VisionModel,
		MaxTokens: describeMaxTokens,
		Messages: []llm.Message{{
			Role:    llm.RoleUser,
			Content: describePrompt,
			Images:  []llm.Image{img},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("describe %s: %w", e.Name, err)
	}
	return strings.TrimSpace(res.Text), nil
}

func toMessageParams(in []llm.Message) ([]sdk.MessageParam, error) {
	out := make([]sdk.MessageParam, 0, len(in))
	for _, m := range in {
		switch m.Role {
		case llm.RoleSystem:
			continue
		case llm.RoleAssistant:
			if strings.TrimSpace(m.Content) == "" {
				continue
			}
			out = append(out, sdk.NewAssistantMessage(sdk.NewTextBlock(m.Content)))
		default:
			blocks := make([]sdk.ContentBlockParamUnion, 0, len(m.Images)+1)
			for _, img := range m.Images {
				if len(img.Data) == 0 {
					continue
				}
				blocks = append(blocks, sdk.NewImageBlockBase64(img.MediaType, base64.StdEncoding.EncodeToString(img.Data)))
			}
			if strings.TrimSpace(m.Content) != "" {
				blocks = append(blocks, sdk.NewTextBlock(m.Content))
			}
			if len(blocks) == 0 {
				continue
			}
			out = append(out, sdk.NewUserMessage(blocks...))
		}
	}
	if len(out) == 0 {
		return nil, ErrNoMessages
	}
	return out, nil
}
