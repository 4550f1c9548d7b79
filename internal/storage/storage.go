// Package storage implements copilot long-term memory: a disk storage on top
// of the disk resource, an in-memory storage and an LRU read-through cache.
package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ConCopilot/concopilot/internal/framework"
	"github.com/ConCopilot/concopilot/internal/message"
	jsonx "github.com/ConCopilot/concopilot/internal/shared/json"
)

// ErrInvalidKey rejects blank storage keys.
var ErrInvalidKey = errors.New("storage key must be a non-empty string")

func normalizeKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrInvalidKey
	}
	return key, nil
}

func getOrDefault(s framework.Storage, key string, def any) (any, error) {
	v, ok, err := s.Get(key)
	if err != nil {
		return nil, err
	}
	if !ok || v == nil {
		return def, nil
	}
	return v, nil
}

// LoadMessages decodes the message history stored under key. A missing key
// yields an empty history.
func LoadMessages(s framework.Storage, key string) ([]*message.Message, error) {
	v, ok, err := s.Get(key)
	if err != nil || !ok || v == nil {
		return nil, err
	}
	var msgs []*message.Message
	switch raw := v.(type) {
	case string:
		err = jsonx.Unmarshal([]byte(raw), &msgs)
	case []byte:
		err = jsonx.Unmarshal(raw, &msgs)
	default:
		err = jsonx.Decode(raw, &msgs)
	}
	if err != nil {
		return nil, fmt.Errorf("decode message history %q: %w", key, err)
	}
	return msgs, nil
}

// SaveMessages stores msgs under key in their wire form.
func SaveMessages(s framework.Storage, key string, msgs []*message.Message) error {
	if msgs == nil {
		msgs = []*message.Message{}
	}
	v, err := jsonx.Normalize(msgs)
	if err != nil {
		return fmt.Errorf("encode message history %q: %w", key, err)
	}
	return s.Put(key, v)
}
