// Package gateway implements the bidirectional session channel: a
// websocket that accepts user messages, streams reply chunks back in
// order, dispatches slash commands straight to the tool layer, and
// enforces per-session serial admission with bounded buffering.
package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/maestro-dev/maestro/pkg/agent"
	"github.com/maestro-dev/maestro/pkg/config"
	"github.com/maestro-dev/maestro/pkg/memory"
	"github.com/maestro-dev/maestro/pkg/orchestrator"
	"github.com/maestro-dev/maestro/pkg/protocol"
	"github.com/maestro-dev/maestro/pkg/session"
	"github.com/maestro-dev/maestro/pkg/tools"
)

// defaultChatRole answers interactive messages that are not commands.
const defaultChatRole = "developer"

// Gateway serves the websocket session endpoint.
type Gateway struct {
	cfg          config.GatewayConfig
	sessions     session.Store
	manager      *session.Manager
	memory       *memory.Memory
	orchestrator *orchestrator.Orchestrator
	tools        *tools.Registry
	logger       *slog.Logger
	upgrader     websocket.Upgrader
}

func New(cfg config.GatewayConfig, sessions session.Store, manager *session.Manager, mem *memory.Memory, orch *orchestrator.Orchestrator, toolRegistry *tools.Registry, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		cfg:          cfg,
		sessions:     sessions,
		manager:      manager,
		memory:       mem,
		orchestrator: orch,
		tools:        toolRegistry,
		logger:       logger.With("component", "gateway"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

// conn is one live websocket connection and its outbound frame queue.
type conn struct {
	ws  *websocket.Conn
	out chan protocol.ServerFrame

	mu       sync.Mutex
	job      *session.Job
	detached bool
}

// send queues a frame, blocking when the send buffer is full so the
// producer is paused until the client drains. It returns false when
// the connection is gone.
func (c *conn) send(ctx context.Context, frame protocol.ServerFrame) bool {
	select {
	case c.out <- frame:
		return true
	case <-ctx.Done():
		return false
	}
}

func (c *conn) setJob(job *session.Job, detached bool) {
	c.mu.Lock()
	c.job, c.detached = job, detached
	c.mu.Unlock()
}

func (c *conn) activeJob() (*session.Job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.job, c.detached
}

// HandleSession upgrades the request and runs the session loop until
// the client disconnects.
func (g *Gateway) HandleSession(w http.ResponseWriter, r *http.Request) {
	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer ws.Close()

	connCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c := &conn{ws: ws, out: make(chan protocol.ServerFrame, g.cfg.SendBuffer)}

	// The writer owns the socket for writes. It exits on cancellation;
	// the out channel is never closed since detached work may outlive
	// the connection and still attempt a send.
	go func() {
		for {
			select {
			case frame := <-c.out:
				if err := ws.WriteJSON(frame); err != nil {
					cancel()
					return
				}
			case <-connCtx.Done():
				return
			}
		}
	}()

	sess, err := g.sessions.GetOrCreate(connCtx, r.URL.Query().Get("session_id"))
	if err != nil {
		g.logger.Error("session create failed", "error", err)
		return
	}

	g.logger.Info("session opened", "session_id", sess.ID)
	c.send(connCtx, protocol.ServerFrame{Type: protocol.FrameSession, SessionID: sess.ID})

	// Frames are handled off the read loop so a closed connection is
	// noticed while a turn is still running. Serial admission per
	// session is enforced by the session manager, not by this loop.
	for {
		var frame protocol.ClientFrame
		if err := ws.ReadJSON(&frame); err != nil {
			break
		}
		go g.handleFrame(connCtx, c, sess.ID, &frame)
	}

	// Connection gone: cancel the in-flight turn unless it detached.
	cancel()
	if job, detached := c.activeJob(); job != nil && !detached {
		g.manager.Cancel(job.SessionID, g.cfg.CancelGrace)
	}
	g.logger.Info("session closed", "session_id", sess.ID)
}

// handleFrame processes one client message to completion. Messages
// within a session are strictly serial: a message arriving while the
// previous turn is still running is rejected, not queued.
func (g *Gateway) handleFrame(connCtx context.Context, c *conn, connSessionID string, frame *protocol.ClientFrame) {
	sessionID := connSessionID
	if frame.SessionID != "" {
		sessionID = frame.SessionID
	}

	content := strings.TrimSpace(frame.Content)
	if content == "" {
		g.sendError(connCtx, c, protocol.NewError(protocol.KindInvalidInput, "message content cannot be empty", nil))
		return
	}

	snippets, err := g.attachmentSnippets(frame.Attachments)
	if err != nil {
		g.sendError(connCtx, c, err)
		return
	}

	isCommand := strings.HasPrefix(content, "/")
	detached := isCommand && strings.HasPrefix(content, "/autofix")

	jobCtx := connCtx
	if detached {
		// Detached jobs survive the connection; they are bounded by
		// the session manager's cancel path instead.
		jobCtx = context.Background()
	}

	ctx, job, err := g.manager.Begin(jobCtx, sessionID)
	if err != nil {
		g.sendError(connCtx, c, err)
		return
	}
	c.setJob(job, detached)
	defer func() {
		g.manager.Finish(job)
		c.setJob(nil, false)
	}()

	if isCommand {
		g.handleCommand(ctx, connCtx, c, sessionID, content)
		return
	}
	g.handleChat(ctx, connCtx, c, sessionID, content, snippets)
}

// handleChat runs the default role with streaming and closes the turn.
func (g *Gateway) handleChat(ctx, connCtx context.Context, c *conn, sessionID, content string, snippets []agent.AttachmentSnippet) {
	if !c.send(connCtx, protocol.ServerFrame{Type: protocol.FrameStart, SessionID: sessionID}) {
		return
	}

	chunks := make(chan string)
	var forwarder sync.WaitGroup
	forwarder.Add(1)
	go func() {
		defer forwarder.Done()
		for chunk := range chunks {
			if !c.send(connCtx, protocol.ServerFrame{Type: protocol.FrameChunk, Content: chunk}) {
				// Drain so the producer is not blocked forever.
				for range chunks {
				}
				return
			}
		}
	}()

	result, err := g.orchestrator.RunSingle(ctx, defaultChatRole, sessionID, content, snippets, chunks)
	close(chunks)
	forwarder.Wait()

	if err != nil {
		g.sendError(connCtx, c, err)
		return
	}

	g.finishTurn(ctx, connCtx, c, sessionID, content, result.Text, result.ToolUses)
}

// finishTurn persists the turn records, writes memory, and emits the
// end frame. The user turn is recorded here, after composition, so
// the prompt's history never contains the message being answered.
// Memory writes are ordered after the assistant turn.
func (g *Gateway) finishTurn(ctx, connCtx context.Context, c *conn, sessionID, userContent, replyText string, toolUses []agent.ToolUse) {
	userIndex, err := g.sessions.AppendTurn(ctx, sessionID, &protocol.Turn{
		Role:    protocol.RoleUser,
		Content: userContent,
	})
	if err != nil {
		g.logger.Error("failed to persist user turn", "session_id", sessionID, "error", err)
	}

	for _, use := range toolUses {
		if _, err := g.sessions.AppendTurn(ctx, sessionID, &protocol.Turn{
			Role:       protocol.RoleTool,
			ToolName:   use.Name,
			ToolDigest: use.Digest,
		}); err != nil {
			g.logger.Error("failed to persist tool turn", "session_id", sessionID, "error", err)
		}
	}

	turnIndex, err := g.sessions.AppendTurn(ctx, sessionID, &protocol.Turn{
		Role:    protocol.RoleAssistant,
		Content: replyText,
	})
	if err != nil {
		g.logger.Error("failed to persist assistant turn", "session_id", sessionID, "error", err)
	}

	if g.memory != nil {
		if err := g.memory.RecordExchange(ctx, sessionID, userContent, replyText, userIndex, turnIndex); err != nil {
			g.logger.Warn("memory write failed", "session_id", sessionID, "error", err)
		}
	}

	c.send(connCtx, protocol.ServerFrame{
		Type:      protocol.FrameEnd,
		SessionID: sessionID,
		TurnIndex: turnIndex,
	})
}

// sendError maps the taxonomy onto a client-visible error frame. No
// end frame follows an error. Internal details never leave the
// process.
func (g *Gateway) sendError(connCtx context.Context, c *conn, err error) {
	kind := protocol.KindOf(err)
	message := err.Error()
	if kind == protocol.KindInternal {
		message = "internal error"
	}
	c.send(connCtx, protocol.ServerFrame{
		Type:    protocol.FrameError,
		Kind:    kind,
		Message: message,
	})
}
