// Package protocol defines the message, tool-call, and frame types shared
// between the gateway, the role agents, and the LLM providers, together
// with the error taxonomy used across the process.
package protocol

import "time"

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is a single conversation message as sent to an LLM provider.
type Message struct {
	Role       Role        `json:"role"`
	Content    string      `json:"content"`
	ToolCalls  []*ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string      `json:"tool_call_id,omitempty"`
}

// ToolCall is a structured tool invocation request emitted by a model.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ToolResultMessage builds a tool-role message carrying a tool's output.
func ToolResultMessage(callID, content string) *Message {
	return &Message{
		Role:       RoleTool,
		Content:    content,
		ToolCallID: callID,
	}
}

// Turn is a persisted conversation turn within a session.
type Turn struct {
	SessionID string    `json:"session_id"`
	Index     int       `json:"index"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`

	// ToolName and ToolDigest are set for tool turns only.
	ToolName   string `json:"tool_name,omitempty"`
	ToolDigest string `json:"tool_digest,omitempty"`
}

// Attachment is a file uploaded alongside a user message.
type Attachment struct {
	Name      string `json:"name"`
	MediaType string `json:"media_type,omitempty"`
	Data      []byte `json:"data"`
}

// FrameType enumerates server-to-client frame shapes on the session channel.
type FrameType string

const (
	FrameSession FrameType = "session"
	FrameStart   FrameType = "start"
	FrameChunk   FrameType = "chunk"
	FrameEnd     FrameType = "end"
	FrameError   FrameType = "error"
)

// ServerFrame is a framed message from server to client.
type ServerFrame struct {
	Type      FrameType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Content   string    `json:"content,omitempty"`
	TurnIndex int       `json:"turn_index,omitempty"`
	Kind      Kind      `json:"kind,omitempty"`
	Message   string    `json:"message,omitempty"`
}

// ClientFrame is a framed message from client to server.
type ClientFrame struct {
	Content     string       `json:"content"`
	SessionID   string       `json:"session_id,omitempty"`
	Attachments []Attachment `json:"attachments,omitempty"`
}
