package llms

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-dev/maestro/pkg/config"
	"github.com/maestro-dev/maestro/pkg/protocol"
)

// scriptedProvider returns canned results in order, then repeats the
// last one.
type scriptedProvider struct {
	name    string
	results []*Result
	errs    []error
	calls   int
}

func (s *scriptedProvider) Generate(ctx context.Context, messages []*protocol.Message, tools []ToolDefinition) (*Result, error) {
	i := s.calls
	if i >= len(s.errs) {
		i = len(s.errs) - 1
	}
	s.calls++
	return s.results[i], s.errs[i]
}

func (s *scriptedProvider) GenerateStreaming(ctx context.Context, messages []*protocol.Message, tools []ToolDefinition) (<-chan StreamChunk, error) {
	ch := make(chan StreamChunk, 2)
	result, err := s.Generate(ctx, messages, tools)
	if err != nil {
		ch <- StreamChunk{Type: "error", Error: err}
	} else {
		ch <- StreamChunk{Type: "text", Text: result.Text}
		ch <- StreamChunk{Type: "done"}
	}
	close(ch)
	return ch, nil
}

func (s *scriptedProvider) GetModelName() string { return s.name }
func (s *scriptedProvider) Close() error         { return nil }

func chainConfig() *config.LLMConfig {
	return &config.LLMConfig{
		RetryBaseDelay: time.Millisecond,
		RetryMaxDelay:  5 * time.Millisecond,
		RetryAttempts:  3,
	}
}

func TestChainRetriesUnavailableThenSucceeds(t *testing.T) {
	p := &scriptedProvider{
		name:    "flaky",
		results: []*Result{nil, {Text: "ok"}},
		errs:    []error{protocol.Errorf(protocol.KindUnavailable, "down"), nil},
	}
	chain := NewChain([]Provider{p}, chainConfig())

	result, err := chain.Generate(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Text)
	assert.Equal(t, 2, p.calls)
}

func TestChainFallsOverToNextProvider(t *testing.T) {
	dead := &scriptedProvider{
		name:    "dead",
		results: []*Result{nil},
		errs:    []error{protocol.Errorf(protocol.KindUnavailable, "down")},
	}
	alive := &scriptedProvider{
		name:    "alive",
		results: []*Result{{Text: "fallback"}},
		errs:    []error{nil},
	}
	chain := NewChain([]Provider{dead, alive}, chainConfig())

	result, err := chain.Generate(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "fallback", result.Text)
	assert.Equal(t, 3, dead.calls)
	assert.Equal(t, 1, alive.calls)
}

func TestChainDoesNotRetryBadRequest(t *testing.T) {
	p := &scriptedProvider{
		name:    "strict",
		results: []*Result{nil},
		errs:    []error{protocol.Errorf(protocol.KindBadRequest, "malformed")},
	}
	backup := &scriptedProvider{
		name:    "backup",
		results: []*Result{{Text: "never"}},
		errs:    []error{nil},
	}
	chain := NewChain([]Provider{p, backup}, chainConfig())

	_, err := chain.Generate(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Equal(t, protocol.KindBadRequest, protocol.KindOf(err))
	assert.Equal(t, 1, p.calls)
	assert.Equal(t, 0, backup.calls)
}

func TestChainRateLimitedAdvancesWithoutRetry(t *testing.T) {
	limited := &scriptedProvider{
		name:    "limited",
		results: []*Result{nil},
		errs:    []error{protocol.Errorf(protocol.KindRateLimited, "429")},
	}
	backup := &scriptedProvider{
		name:    "backup",
		results: []*Result{{Text: "ok"}},
		errs:    []error{nil},
	}
	chain := NewChain([]Provider{limited, backup}, chainConfig())

	result, err := chain.Generate(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", result.Text)
	assert.Equal(t, 1, limited.calls)
}

func TestChainExhaustionIsUnavailable(t *testing.T) {
	p := &scriptedProvider{
		name:    "dead",
		results: []*Result{nil},
		errs:    []error{protocol.Errorf(protocol.KindUnavailable, "down")},
	}
	chain := NewChain([]Provider{p}, chainConfig())

	_, err := chain.Generate(context.Background(), nil, nil)
	require.Error(t, err)
	assert.Equal(t, protocol.KindUnavailable, protocol.KindOf(err))
}

func TestChainStreamingFailsOver(t *testing.T) {
	dead := &scriptedProvider{
		name:    "dead",
		results: []*Result{nil},
		errs:    []error{protocol.Errorf(protocol.KindUnavailable, "down")},
	}
	alive := &scriptedProvider{
		name:    "alive",
		results: []*Result{{Text: "streamed"}},
		errs:    []error{nil},
	}
	chain := NewChain([]Provider{dead, alive}, chainConfig())

	ch, err := chain.GenerateStreaming(context.Background(), nil, nil)
	require.NoError(t, err)

	var text string
	for chunk := range ch {
		require.NotEqual(t, "error", chunk.Type)
		if chunk.Type == "text" {
			text += chunk.Text
		}
	}
	assert.Equal(t, "streamed", text)
}
