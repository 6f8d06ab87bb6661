package metrics

import (
	"sync"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktokenloader "github.com/pkoukk/tiktoken-go-loader"
)

const defaultEncoding = "cl100k_base"

var offlineLoader sync.Once

// TokenCounter estimates token counts for generated text. BPE tables come
// from the embedded offline loader, so counting never touches the network.
// When an encoding is unknown the counter falls back to a rune based
// estimate.
type TokenCounter struct {
	encoding string
	once     sync.Once
	enc      *tiktoken.Tiktoken
}

// NewTokenCounter builds a counter for the named tiktoken encoding.
func NewTokenCounter(encoding string) *TokenCounter {
	if encoding == "" {
		encoding = defaultEncoding
	}
	offlineLoader.Do(func() {
		tiktoken.SetBpeLoader(tiktokenloader.NewOfflineLoader())
	})
	return &TokenCounter{encoding: encoding}
}

// Warm loads the encoding ahead of the first Count call.
func (c *TokenCounter) Warm() bool {
	if c == nil {
		return false
	}
	c.once.Do(func() {
		enc, err := tiktoken.GetEncoding(c.encoding)
		if err == nil {
			c.enc = enc
		}
	})
	return c.enc != nil
}

// Count returns the token count of text.
func (c *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	if !c.Warm() {
		return estimate(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// Completion sums the token count of every text as completion usage.
func (c *TokenCounter) Completion(texts []string) TokenUsage {
	total := 0
	for _, text := range texts {
		total += c.Count(text)
	}
	return TokenUsage{CompletionTokens: total, TotalTokens: total}
}

// CJK text averages close to one token per rune, latin text closer to four
// runes per token; two runes per token keeps both within a useful bound.
func estimate(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + 1) / 2
}
