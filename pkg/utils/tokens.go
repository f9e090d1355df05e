// Package utils provides small shared helpers.
package utils

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter counts prompt tokens for a model.
type TokenCounter struct {
	encoding *tiktoken.Tiktoken
	model    string
}

var (
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// NewTokenCounter creates a counter for the given model, falling back
// to cl100k_base for models tiktoken does not know.
func NewTokenCounter(model string) (*TokenCounter, error) {
	cacheMu.RLock()
	cached, exists := encodingCache[model]
	cacheMu.RUnlock()

	if exists {
		return &TokenCounter{encoding: cached, model: model}, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding: %w", err)
		}
	}

	cacheMu.Lock()
	encodingCache[model] = encoding
	cacheMu.Unlock()

	return &TokenCounter{encoding: encoding, model: model}, nil
}

// Count returns the token count for text.
func (tc *TokenCounter) Count(text string) int {
	if tc == nil || tc.encoding == nil {
		return len(text) / 4
	}
	return len(tc.encoding.Encode(text, nil, nil))
}

// GetModel returns the model name this counter is configured for.
func (tc *TokenCounter) GetModel() string { return tc.model }
