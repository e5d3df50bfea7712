// Package tokenizer provides token counting for messages and text.
package tokenizer

import (
	"fmt"

	"github.com/pkoukk/tiktoken-go"

	"github.com/shenning00/claude-lang-chat/pkg/types"
)

// encodingName is the BPE encoding used for counting. cl100k_base is close
// enough across current chat models for memory-bounding purposes.
const encodingName = "cl100k_base"

// Tokenizer counts tokens in text using a BPE encoding, with a character
// heuristic fallback when the encoding is unavailable (e.g. offline).
type Tokenizer struct {
	encoding *tiktoken.Tiktoken
}

// New creates a tokenizer. If the encoding cannot be loaded the returned
// tokenizer still works using a rough 4-characters-per-token estimate, and
// the load error is returned so callers can log the degradation.
func New() (*Tokenizer, error) {
	enc, err := tiktoken.GetEncoding(encodingName)
	if err != nil {
		return &Tokenizer{}, fmt.Errorf("failed to load %s encoding: %w", encodingName, err)
	}
	return &Tokenizer{encoding: enc}, nil
}

// CountTokens returns the token count for a piece of text.
func (t *Tokenizer) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	if t.encoding == nil {
		// Rough estimation: 1 token per 4 characters of English text.
		n := len(text) / 4
		if n == 0 {
			n = 1
		}
		return n
	}
	return len(t.encoding.Encode(text, nil, nil))
}

// CountMessagesTokens returns the total token count across messages.
func (t *Tokenizer) CountMessagesTokens(messages []*types.Message) int {
	total := 0
	for _, msg := range messages {
		total += t.CountTokens(msg.Content)
	}
	return total
}
