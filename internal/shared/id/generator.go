package id

import (
	"sync"

	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// Strategy identifies the algorithm used for message identifiers.
type Strategy int

const (
	// StrategyKSUID generates lexicographically sortable identifiers using KSUID.
	StrategyKSUID Strategy = iota
	// StrategyUUIDv7 generates time-ordered identifiers using UUID version 7.
	StrategyUUIDv7
)

var defaultGenerator = &Generator{strategy: StrategyKSUID}

// Generator produces message identifiers.
type Generator struct {
	mu       sync.RWMutex
	strategy Strategy
}

// SetStrategy configures the generation strategy for the default generator.
func SetStrategy(strategy Strategy) {
	defaultGenerator.mu.Lock()
	defaultGenerator.strategy = strategy
	defaultGenerator.mu.Unlock()
}

// NewMessageID returns a sortable identifier for a message envelope.
func NewMessageID() string {
	defaultGenerator.mu.RLock()
	strategy := defaultGenerator.strategy
	defaultGenerator.mu.RUnlock()

	if strategy == StrategyUUIDv7 {
		if v7, err := uuid.NewV7(); err == nil {
			return v7.String()
		}
	}
	return ksuid.New().String()
}

// NewUUID returns a random (version 4) UUID string. Asset, component and
// thread identifiers use this form.
func NewUUID() string {
	return uuid.NewString()
}

// IsUUID reports whether s parses as a UUID.
func IsUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
