package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/viper"
)

func jsonOutput() bool {
	return viper.GetBool("output.json")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// parseFacts turns "key=value" arguments into a delta map.
func parseFacts(args []string) (map[string]string, error) {
	out := make(map[string]string, len(args))
	for _, arg := range args {
		k, v, ok := strings.Cut(arg, "=")
		if !ok || strings.TrimSpace(k) == "" {
			return nil, fmt.Errorf("invalid fact %q (want key=value)", arg)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, nil
}
