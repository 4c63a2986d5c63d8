package turn

import (
	"log/slog"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is the BPE encoding used to size prompt context.
const DefaultEncoding = "cl100k_base"

const charsPerToken = 4

// TokenCounter counts prompt tokens with tiktoken. When the encoding cannot
// be loaded (tiktoken fetches BPE ranks on first use) it estimates one token
// per four bytes.
type TokenCounter struct {
	mu  sync.Mutex
	enc *tiktoken.Tiktoken
}

// NewTokenCounter loads encoding, falling back to the estimate on failure.
func NewTokenCounter(encoding string) *TokenCounter {
	if encoding == "" {
		encoding = DefaultEncoding
	}
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		slog.Warn("tiktoken encoding unavailable, estimating tokens", "encoding", encoding, "error", err)
		return &TokenCounter{}
	}
	return &TokenCounter{enc: enc}
}

// EstimatingCounter returns a counter that never loads an encoding.
func EstimatingCounter() *TokenCounter { return &TokenCounter{} }

// Exact reports whether counts come from a real tokenizer.
func (c *TokenCounter) Exact() bool { return c != nil && c.enc != nil }

// Count returns the token count of s.
func (c *TokenCounter) Count(s string) int {
	if s == "" {
		return 0
	}
	if c == nil || c.enc == nil {
		return (len(s) + charsPerToken - 1) / charsPerToken
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.enc.Encode(s, nil, nil))
}
