package llms

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"

	"github.com/maestro-dev/maestro/pkg/config"
	"github.com/maestro-dev/maestro/pkg/protocol"
)

// Chain tries an ordered list of providers, retrying transient failures
// with jittered exponential backoff before falling over to the next
// provider. Bad requests are never retried.
type Chain struct {
	providers []Provider
	baseDelay time.Duration
	maxDelay  time.Duration
	attempts  int
	logger    *slog.Logger

	healthMu sync.RWMutex
	lastErr  error
}

func NewChain(providers []Provider, cfg *config.LLMConfig) *Chain {
	return &Chain{
		providers: providers,
		baseDelay: cfg.RetryBaseDelay,
		maxDelay:  cfg.RetryMaxDelay,
		attempts:  cfg.RetryAttempts,
		logger:    slog.Default().With("component", "llm_chain"),
	}
}

// Healthy reports the outcome of the most recent generation: nil
// until every provider has been exhausted at least once, nil again
// after the next success. Health checks read this instead of issuing
// billed probe requests.
func (c *Chain) Healthy() error {
	c.healthMu.RLock()
	defer c.healthMu.RUnlock()
	return c.lastErr
}

func (c *Chain) setHealth(err error) {
	c.healthMu.Lock()
	c.lastErr = err
	c.healthMu.Unlock()
}

func (c *Chain) GetModelName() string {
	if len(c.providers) == 0 {
		return ""
	}
	return c.providers[0].GetModelName()
}

func (c *Chain) Close() error {
	var firstErr error
	for _, p := range c.providers {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// backoffDelay computes the delay before retry attempt n (0-based),
// with full jitter.
func (c *Chain) backoffDelay(attempt int) time.Duration {
	delay := c.baseDelay << uint(attempt)
	if delay > c.maxDelay || delay <= 0 {
		delay = c.maxDelay
	}
	return time.Duration(rand.Int63n(int64(delay)) + int64(delay)/2)
}

func (c *Chain) Generate(ctx context.Context, messages []*protocol.Message, tools []ToolDefinition) (*Result, error) {
	var lastErr error

	for _, provider := range c.providers {
		for attempt := 0; attempt < c.attempts; attempt++ {
			result, err := provider.Generate(ctx, messages, tools)
			if err == nil {
				c.setHealth(nil)
				return result, nil
			}
			lastErr = err

			kind := protocol.KindOf(err)
			switch {
			case kind == protocol.KindRateLimited:
				// Backing off locally will not help within the window;
				// the next provider gets the request instead.
				c.logger.Warn("provider rate limited, falling over",
					"model", provider.GetModelName())
				attempt = c.attempts

			case protocol.Retryable(kind) && attempt < c.attempts-1:
				delay := c.backoffDelay(attempt)
				c.logger.Warn("provider request failed, retrying",
					"model", provider.GetModelName(),
					"attempt", attempt+1,
					"delay", delay,
					"error", err)
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return nil, ctx.Err()
				}

			case !protocol.Retryable(kind):
				return nil, err
			}
		}
		c.logger.Warn("provider exhausted, trying next",
			"model", provider.GetModelName(), "error", lastErr)
	}

	if lastErr == nil {
		lastErr = protocol.Errorf(protocol.KindUnavailable, "no LLM providers configured")
	}
	chainErr := protocol.NewError(protocol.KindUnavailable, "all LLM providers exhausted", lastErr)
	c.setHealth(chainErr)
	return nil, chainErr
}

// GenerateStreaming fails over between providers only before the first
// chunk arrives. Once streaming has begun the stream's errors surface
// as-is.
func (c *Chain) GenerateStreaming(ctx context.Context, messages []*protocol.Message, tools []ToolDefinition) (<-chan StreamChunk, error) {
	outputCh := make(chan StreamChunk, 100)

	go func() {
		defer close(outputCh)

		var lastErr error
		for _, provider := range c.providers {
			ch, err := provider.GenerateStreaming(ctx, messages, tools)
			if err != nil {
				lastErr = err
				continue
			}

			first, ok := <-ch
			if !ok {
				lastErr = protocol.Errorf(protocol.KindUnavailable, "stream closed before first chunk")
				continue
			}
			if first.Type == "error" && protocol.Retryable(protocol.KindOf(first.Error)) {
				lastErr = first.Error
				c.logger.Warn("streaming provider failed before first chunk, trying next",
					"model", provider.GetModelName(), "error", first.Error)
				continue
			}

			c.setHealth(nil)
			outputCh <- first
			for chunk := range ch {
				select {
				case outputCh <- chunk:
				case <-ctx.Done():
					return
				}
			}
			return
		}

		if lastErr == nil {
			lastErr = protocol.Errorf(protocol.KindUnavailable, "no LLM providers configured")
		}
		chainErr := protocol.NewError(protocol.KindUnavailable, "all LLM providers exhausted", lastErr)
		c.setHealth(chainErr)
		outputCh <- StreamChunk{Type: "error", Error: chainErr}
	}()

	return outputCh, nil
}
