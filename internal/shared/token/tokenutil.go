// Package tokenutil counts tokens for prompts and replies with tiktoken-go.
// The cl100k_base encoding is loaded on first accurate count; when it cannot
// be loaded the package falls back to a character-based heuristic.
package tokenutil

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

var (
	once     sync.Once
	encoding *tiktoken.Tiktoken
)

func loadEncoding() *tiktoken.Tiktoken {
	once.Do(func() {
		enc, err := tiktoken.GetEncoding("cl100k_base")
		if err == nil {
			encoding = enc
		}
	})
	return encoding
}

// Counter counts tokens in a piece of text.
type Counter func(text string) int

// ForMode returns the counter selected by a component setting. "accurate"
// uses tiktoken, anything else the fast estimate.
func ForMode(mode string) Counter {
	if strings.EqualFold(strings.TrimSpace(mode), "accurate") {
		return CountTokens
	}
	return EstimateFast
}

// CountTokens returns an accurate token count using cl100k_base encoding.
// If tiktoken is unavailable, it falls back to EstimateFast.
func CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if enc := loadEncoding(); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return EstimateFast(text)
}

// EstimateFast returns a heuristic token estimate: max(runes/4, word_count).
func EstimateFast(text string) int {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return 0
	}
	runes := len([]rune(trimmed))
	words := len(strings.Fields(trimmed))
	estimate := runes / 4
	if estimate < words {
		estimate = words
	}
	if estimate == 0 {
		estimate = 1
	}
	return estimate
}

// Sum applies counter to every text and adds the results.
func Sum(counter Counter, texts ...string) int {
	if counter == nil {
		counter = EstimateFast
	}
	total := 0
	for _, text := range texts {
		total += counter(text)
	}
	return total
}

// TruncateToTokens truncates text to approximately maxTokens using the fast
// estimate's four-runes-per-token ratio.
func TruncateToTokens(text string, maxTokens int) string {
	if maxTokens <= 0 {
		return text
	}
	runes := []rune(text)
	limit := maxTokens * 4
	if limit >= len(runes) {
		return text
	}
	return string(runes[:limit]) + "..."
}
