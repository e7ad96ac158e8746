package inventory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"github.com/quailyquaily/guildmind/emoji"
	"github.com/quailyquaily/guildmind/internal/pathutil"
	"gopkg.in/yaml.v3"
)

var ErrNoPath = errors.New("inventory file path is empty")

var validName = regexp.MustCompile(`^\w{2,32}$`)

type document struct {
	Emoji  []emoji.Emoji            `yaml:"emoji"`
	Guilds map[string][]emoji.Emoji `yaml:"guilds"`
}

// File reads the emoji inventory from a YAML file on every call, so edits
// show up on the next refresh cycle. Two layouts are accepted and merged:
//
//	emoji:
//	  - {guild_id: "1", id: "10", name: wave}
//	guilds:
//	  "1":
//	    - {id: "11", name: party, animated: true}
type File struct {
	Path   string
	Logger *slog.Logger
}

func NewFile(path string, logger *slog.Logger) *File {
	return &File{Path: pathutil.ExpandHomePath(path), Logger: logger}
}

func (f *File) Inventory(ctx context.Context) ([]emoji.Emoji, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path := strings.TrimSpace(f.Path)
	if path == "" {
		return nil, ErrNoPath
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read inventory: %w", err)
	}
	list, err := Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse inventory %s: %w", path, err)
	}
	return f.clean(list), nil
}

// Parse decodes an inventory document without validating entries.
func Parse(raw []byte) ([]emoji.Emoji, error) {
	var doc document
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	out := append([]emoji.Emoji(nil), doc.Emoji...)
	for gid, list := range doc.Guilds {
		for _, e := range list {
			if strings.TrimSpace(e.GuildID) == "" {
				e.GuildID = gid
			}
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *File) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

// clean drops entries without a guild or with an invalid name, and keeps
// the first entry for a duplicated (guild, name).
func (f *File) clean(list []emoji.Emoji) []emoji.Emoji {
	out := make([]emoji.Emoji, 0, len(list))
	seen := make(map[string]bool, len(list))
	for _, e := range list {
		e.GuildID = strings.TrimSpace(e.GuildID)
		e.Name = strings.TrimSpace(e.Name)
		e.ID = strings.TrimSpace(e.ID)
		e.URL = strings.TrimSpace(e.URL)
		if e.GuildID == "" || !validName.MatchString(e.Name) {
			f.logger().Warn("inventory_entry_skipped", "guild_id", e.GuildID, "name", e.Name)
			continue
		}
		if seen[e.Key()] {
			continue
		}
		seen[e.Key()] = true
		out = append(out, e)
	}
	emoji.SortByName(out)
	return out
}
