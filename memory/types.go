package memory

import (
	"errors"

	"github.com/quailyquaily/guildmind/store"
)

// HistoryLimit is the default capacity of a user's interaction history.
const HistoryLimit = 20

// MaxContentBytes caps a single stored turn.
const MaxContentBytes = 4000

var ErrInvalidID = errors.New("memory: empty id")

type (
	UserMemory   = store.UserMemory
	ServerMemory = store.ServerMemory
	Interaction  = store.Interaction
)

type Config struct {
	HistoryLimit    int
	MaxContentBytes int
}

func DefaultConfig() Config {
	return Config{HistoryLimit: HistoryLimit, MaxContentBytes: MaxContentBytes}
}

// Fact is one known_facts entry, used where a stable order is needed.
type Fact struct {
	Key   string
	Value string
}
