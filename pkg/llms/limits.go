package llms

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/maestro-dev/maestro/pkg/protocol"
)

// LimitedProvider caps concurrent generations process-wide. The slot
// is held for the full life of a streaming response, so a slow
// consumer counts against the cap.
type LimitedProvider struct {
	inner Provider
	sem   *semaphore.Weighted
}

func NewLimitedProvider(inner Provider, maxInflight int64) *LimitedProvider {
	if maxInflight <= 0 {
		maxInflight = 8
	}
	return &LimitedProvider{inner: inner, sem: semaphore.NewWeighted(maxInflight)}
}

func (p *LimitedProvider) Generate(ctx context.Context, messages []*protocol.Message, tools []ToolDefinition) (*Result, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)
	return p.inner.Generate(ctx, messages, tools)
}

func (p *LimitedProvider) GenerateStreaming(ctx context.Context, messages []*protocol.Message, tools []ToolDefinition) (<-chan StreamChunk, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	stream, err := p.inner.GenerateStreaming(ctx, messages, tools)
	if err != nil {
		p.sem.Release(1)
		return nil, err
	}

	out := make(chan StreamChunk)
	go func() {
		defer close(out)
		defer p.sem.Release(1)
		for chunk := range stream {
			out <- chunk
		}
	}()
	return out, nil
}

func (p *LimitedProvider) GetModelName() string { return p.inner.GetModelName() }

func (p *LimitedProvider) Close() error { return p.inner.Close() }

var _ Provider = (*LimitedProvider)(nil)
