package main

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/quailyquaily/guildmind/providers/anthropic"
	"github.com/quailyquaily/guildmind/vision"
	"github.com/spf13/viper"
)

func llmProviderFromViper() string {
	provider := strings.ToLower(strings.TrimSpace(viper.GetString("llm.provider")))
	if provider == "" {
		return "anthropic"
	}
	return provider
}

func llmAPIKeyFromViper() string {
	return firstNonEmpty(viper.GetString("llm.api_key"), viper.GetString("anthropic_api_key"))
}

// llmClientFromViper returns nil when no provider is configured; callers then
// run without fact extraction and store fallback emoji descriptions.
func llmClientFromViper() (*anthropic.Client, error) {
	switch llmProviderFromViper() {
	case "none", "off":
		return nil, nil
	case "anthropic":
	default:
		return nil, fmt.Errorf("unsupported llm.provider %q", viper.GetString("llm.provider"))
	}
	key := llmAPIKeyFromViper()
	if key == "" {
		return nil, nil
	}

	fetcher := vision.NewFetcher()
	prefixes := append([]string(nil), viper.GetStringSlice("emoji.allowed_url_prefixes")...)
	if base := strings.TrimSpace(viper.GetString("emoji.cdn_base")); base != "" {
		fetcher.CDNBase = base
		prefixes = append(prefixes, strings.TrimRight(base, "/")+"/")
	}
	policy, err := vision.NewURLPolicy(prefixes, viper.GetBool("emoji.allow_private_urls"))
	if err != nil {
		return nil, fmt.Errorf("emoji.allowed_url_prefixes: %w", err)
	}
	fetcher.Policy = policy
	if n := viper.GetInt64("emoji.max_image_bytes"); n > 0 {
		fetcher.MaxBytes = n
	}

	return anthropic.New(anthropic.Config{
		APIKey:      key,
		BaseURL:     strings.TrimSpace(viper.GetString("llm.endpoint")),
		Model:       strings.TrimSpace(viper.GetString("llm.model")),
		VisionModel: strings.TrimSpace(viper.GetString("llm.vision_model")),
		MaxTokens:   viper.GetInt("llm.max_tokens"),
		MaxRetries:  viper.GetInt("llm.max_retries"),
		HTTP:        &http.Client{Timeout: viper.GetDuration("llm.timeout")},
	}, fetcher), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
