package gateway

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-dev/maestro/pkg/agent"
	"github.com/maestro-dev/maestro/pkg/config"
	"github.com/maestro-dev/maestro/pkg/llms"
	"github.com/maestro-dev/maestro/pkg/orchestrator"
	"github.com/maestro-dev/maestro/pkg/protocol"
	"github.com/maestro-dev/maestro/pkg/sandbox"
	"github.com/maestro-dev/maestro/pkg/session"
	"github.com/maestro-dev/maestro/pkg/tools"
)

// scriptedLLM replays fixed results and records every prompt it saw.
type scriptedLLM struct {
	mu      sync.Mutex
	results []*llms.Result
	err     error
	calls   int
	prompts [][]*protocol.Message

	// block makes calls hang until the context is cancelled.
	block bool
}

func (s *scriptedLLM) Generate(ctx context.Context, messages []*protocol.Message, _ []llms.ToolDefinition) (*llms.Result, error) {
	if s.block {
		<-ctx.Done()
		return nil, protocol.NewError(protocol.KindTimeout, "generation cancelled", ctx.Err())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]*protocol.Message, len(messages))
	copy(copied, messages)
	s.prompts = append(s.prompts, copied)

	if s.err != nil {
		return nil, s.err
	}
	result := s.results[s.calls%len(s.results)]
	s.calls++
	return result, nil
}

func (s *scriptedLLM) GenerateStreaming(ctx context.Context, messages []*protocol.Message, defs []llms.ToolDefinition) (<-chan llms.StreamChunk, error) {
	result, err := s.Generate(ctx, messages, defs)
	if err != nil {
		return nil, err
	}
	out := make(chan llms.StreamChunk, len(result.Text)+2)
	for _, word := range strings.SplitAfter(result.Text, " ") {
		if word != "" {
			out <- llms.StreamChunk{Type: "text", Text: word}
		}
	}
	out <- llms.StreamChunk{Type: "done"}
	close(out)
	return out, nil
}

func (s *scriptedLLM) GetModelName() string { return "scripted" }

func (s *scriptedLLM) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *scriptedLLM) prompt(i int) []*protocol.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prompts[i]
}

type fixture struct {
	gateway *Gateway
	server  *httptest.Server
	store   session.Store
	manager *session.Manager
}

func newFixture(t *testing.T, llm agent.LLM, mutate func(*config.GatewayConfig)) *fixture {
	t.Helper()
	workspace := t.TempDir()

	toolsCfg := config.ToolsConfig{}
	toolsCfg.SetDefaults()
	sandboxCfg := config.SandboxConfig{}
	sandboxCfg.SetDefaults()
	registry, err := tools.NewLocalRegistry(toolsCfg, workspace, sandbox.NewProcessRunner(sandboxCfg, workspace), nil)
	require.NoError(t, err)

	store := session.NewMemoryStore()
	roles, err := agent.NewLibrary(nil)
	require.NoError(t, err)
	composer := agent.NewComposer(agent.ContextSources{Sessions: store}, nil, 20, nil)

	orchCfg := config.OrchestratorConfig{}
	orchCfg.SetDefaults()
	orch := orchestrator.New(orchCfg, roles, llm, registry, composer, nil)

	gatewayCfg := config.GatewayConfig{}
	gatewayCfg.SetDefaults()
	if mutate != nil {
		mutate(&gatewayCfg)
	}

	manager := session.NewManager()
	g := New(gatewayCfg, store, manager, nil, orch, registry, nil)

	server := httptest.NewServer(http.HandlerFunc(g.HandleSession))
	t.Cleanup(server.Close)

	return &fixture{gateway: g, server: server, store: store, manager: manager}
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http")
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) protocol.ServerFrame {
	t.Helper()
	var frame protocol.ServerFrame
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	require.NoError(t, ws.ReadJSON(&frame))
	return frame
}

// readTurn collects frames until end or error, concatenating chunks.
func readTurn(t *testing.T, ws *websocket.Conn) (string, protocol.ServerFrame) {
	t.Helper()
	var text strings.Builder
	for {
		frame := readFrame(t, ws)
		switch frame.Type {
		case protocol.FrameStart:
		case protocol.FrameChunk:
			text.WriteString(frame.Content)
		case protocol.FrameEnd, protocol.FrameError:
			return text.String(), frame
		default:
			t.Fatalf("unexpected frame type %q", frame.Type)
		}
	}
}

func TestSessionFrameOnOpen(t *testing.T) {
	f := newFixture(t, &scriptedLLM{results: []*llms.Result{{Text: "x"}}}, nil)
	ws := f.dial(t)

	frame := readFrame(t, ws)
	assert.Equal(t, protocol.FrameSession, frame.Type)
	assert.NotEmpty(t, frame.SessionID)
}

func TestChatTurnAndSessionContinuity(t *testing.T) {
	llm := &scriptedLLM{results: []*llms.Result{
		{Text: "Python is a programming language."},
		{Text: "Here is an example."},
	}}
	f := newFixture(t, llm, nil)
	ws := f.dial(t)
	opened := readFrame(t, ws)

	require.NoError(t, ws.WriteJSON(protocol.ClientFrame{Content: "What is Python?"}))
	text, end := readTurn(t, ws)
	assert.Equal(t, protocol.FrameEnd, end.Type)
	assert.Equal(t, "Python is a programming language.", text)
	assert.Equal(t, 1, end.TurnIndex)

	require.NoError(t, ws.WriteJSON(protocol.ClientFrame{Content: "Give me an example."}))
	_, end = readTurn(t, ws)
	assert.Equal(t, protocol.FrameEnd, end.Type)
	assert.Equal(t, 3, end.TurnIndex)

	// The second prompt carries the first exchange as history.
	second := llm.prompt(1)
	var sawReply bool
	for _, m := range second {
		if strings.Contains(m.Content, "Python is a programming language.") {
			sawReply = true
		}
	}
	assert.True(t, sawReply, "prior assistant reply must be in the second prompt")

	turns, err := f.store.RecentTurns(context.Background(), opened.SessionID, 10)
	require.NoError(t, err)
	assert.Len(t, turns, 4)
}

func TestSlashCommandBypassesLLM(t *testing.T) {
	llm := &scriptedLLM{err: protocol.NewError(protocol.KindUnavailable, "all providers down", nil)}
	f := newFixture(t, llm, nil)
	ws := f.dial(t)
	readFrame(t, ws)

	require.NoError(t, ws.WriteJSON(protocol.ClientFrame{Content: "/git_status"}))
	text, end := readTurn(t, ws)
	assert.Equal(t, protocol.FrameEnd, end.Type)
	assert.Contains(t, text, "##", "git status --short --branch output")
	assert.Zero(t, llm.callCount(), "commands must not touch the LLM")
}

func TestHelpCommand(t *testing.T) {
	f := newFixture(t, &scriptedLLM{results: []*llms.Result{{Text: "x"}}}, nil)
	ws := f.dial(t)
	readFrame(t, ws)

	require.NoError(t, ws.WriteJSON(protocol.ClientFrame{Content: "/help"}))
	text, end := readTurn(t, ws)
	assert.Equal(t, protocol.FrameEnd, end.Type)
	assert.Contains(t, text, "/autofix")
}

func TestUnknownCommandRejected(t *testing.T) {
	f := newFixture(t, &scriptedLLM{results: []*llms.Result{{Text: "x"}}}, nil)
	ws := f.dial(t)
	readFrame(t, ws)

	require.NoError(t, ws.WriteJSON(protocol.ClientFrame{Content: "/frobnicate"}))
	frame := readFrame(t, ws)
	assert.Equal(t, protocol.FrameError, frame.Type)
	assert.Equal(t, protocol.KindInvalidInput, frame.Kind)
}

func TestOversizedAttachmentRejected(t *testing.T) {
	f := newFixture(t, &scriptedLLM{results: []*llms.Result{{Text: "x"}}}, func(cfg *config.GatewayConfig) {
		cfg.MaxAttachmentSize = 16
	})
	ws := f.dial(t)
	readFrame(t, ws)

	require.NoError(t, ws.WriteJSON(protocol.ClientFrame{
		Content: "summarize this",
		Attachments: []protocol.Attachment{
			{Name: "big.txt", Data: []byte(strings.Repeat("a", 64))},
		},
	}))
	frame := readFrame(t, ws)
	assert.Equal(t, protocol.FrameError, frame.Type)
	assert.Equal(t, protocol.KindInvalidInput, frame.Kind)
}

func TestAttachmentSlicedIntoPrompt(t *testing.T) {
	llm := &scriptedLLM{results: []*llms.Result{{Text: "ok"}}}
	f := newFixture(t, llm, func(cfg *config.GatewayConfig) {
		cfg.AttachmentSlice = 10
	})
	ws := f.dial(t)
	readFrame(t, ws)

	content := "0123456789OVERFLOW"
	require.NoError(t, ws.WriteJSON(protocol.ClientFrame{
		Content: "summarize this",
		Attachments: []protocol.Attachment{
			{Name: "notes.txt", Data: []byte(content)},
		},
	}))
	_, end := readTurn(t, ws)
	require.Equal(t, protocol.FrameEnd, end.Type)

	prompt := llm.prompt(0)
	user := prompt[len(prompt)-1]
	assert.Contains(t, user.Content, "0123456789")
	assert.NotContains(t, user.Content, "OVERFLOW")
}

func TestBusySessionRejectsSecondMessage(t *testing.T) {
	llm := &scriptedLLM{block: true}
	f := newFixture(t, llm, nil)
	ws := f.dial(t)
	readFrame(t, ws)

	require.NoError(t, ws.WriteJSON(protocol.ClientFrame{Content: "slow question"}))
	require.NoError(t, ws.WriteJSON(protocol.ClientFrame{Content: "impatient follow-up"}))

	// One message wins the session; the other is rejected. A start
	// frame from the winner may arrive first.
	for {
		frame := readFrame(t, ws)
		if frame.Type == protocol.FrameStart {
			continue
		}
		require.Equal(t, protocol.FrameError, frame.Type)
		assert.Equal(t, protocol.KindInvalidInput, frame.Kind)
		assert.Contains(t, frame.Message, "busy")
		break
	}
}

func TestCloseCancelsInflightTurn(t *testing.T) {
	llm := &scriptedLLM{block: true}
	f := newFixture(t, llm, nil)
	ws := f.dial(t)
	opened := readFrame(t, ws)

	require.NoError(t, ws.WriteJSON(protocol.ClientFrame{Content: "stream forever"}))

	// Give the turn a moment to claim the session, then drop the
	// connection.
	require.Eventually(t, func() bool {
		_, active := f.manager.Active(opened.SessionID)
		return active
	}, 2*time.Second, 10*time.Millisecond)
	ws.Close()

	require.Eventually(t, func() bool {
		_, active := f.manager.Active(opened.SessionID)
		return !active
	}, 3*time.Second, 20*time.Millisecond, "in-flight turn must unwind after close")
}
