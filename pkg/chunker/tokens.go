package chunker

import (
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts tokens with the cl100k_base encoding. Loading the
// encoding can require network access; when it is unavailable the counter
// degrades to whitespace word counts so chunking keeps working offline.
type TokenCounter struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
}

func NewTokenCounter() *TokenCounter {
	return &TokenCounter{}
}

func (tc *TokenCounter) Count(text string) int {
	if text == "" {
		return 0
	}
	tc.once.Do(func() {
		if enc, err := tiktoken.GetEncoding("cl100k_base"); err == nil {
			tc.enc = enc
		}
	})
	if tc.enc == nil {
		return len(strings.Fields(text))
	}
	return len(tc.enc.Encode(text, nil, nil))
}
