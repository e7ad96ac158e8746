// Package jsonutil pulls JSON objects out of free-form model replies.
package jsonutil

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/quailyquaily/uniai"
)

var ErrNoObject = errors.New("no json object in reply")

// DecodeStringMap finds the first JSON object in text and flattens it to
// string values. Nested values are kept as compact JSON; nulls and blank
// values are dropped.
func DecodeStringMap(text string) (map[string]string, error) {
	raw, err := findObject(text)
	if err != nil {
		return nil, err
	}
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		k = strings.TrimSpace(k)
		if k == "" || v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			b, err := json.Marshal(v)
			if err != nil {
				continue
			}
			s = string(b)
		}
		if s = strings.TrimSpace(s); s != "" {
			out[k] = s
		}
	}
	return out, nil
}

// findObject tries the reply as-is, then every fenced or embedded snippet
// uniai can find, each with and without repair.
func findObject(text string) (map[string]any, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrNoObject
	}
	snippets := []string{text}
	if cands, err := uniai.CollectJSONCandidates(text); err == nil {
		snippets = append(snippets, cands...)
	}
	snippets = append(snippets, uniai.FindJSONSnippets(text)...)

	seen := map[string]bool{}
	lastErr := ErrNoObject
	for _, s := range snippets {
		stripped := uniai.StripNonJSONLines(s)
		for _, v := range []string{s, stripped, uniai.AttemptJSONRepair(s), uniai.AttemptJSONRepair(stripped)} {
			v = strings.TrimSpace(v)
			if v == "" || seen[v] {
				continue
			}
			seen[v] = true
			var obj map[string]any
			if err := json.Unmarshal([]byte(v), &obj); err != nil {
				lastErr = err
				continue
			}
			if obj != nil {
				return obj, nil
			}
		}
	}
	return nil, lastErr
}
