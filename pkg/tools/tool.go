package tools

import (
	"context"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/maestro-dev/maestro/pkg/protocol"
)

// Capability tags what a tool is allowed to touch. The audit log
// records capabilities alongside every execution.
type Capability string

const (
	CapReadFS  Capability = "fs:read"
	CapWriteFS Capability = "fs:write"
	CapExec    Capability = "exec"
	CapNetwork Capability = "network"
	CapVCS     Capability = "vcs"
)

// Definition is the tool contract surfaced to the model.
type Definition struct {
	Name         string
	Description  string
	Parameters   map[string]any
	Capabilities []Capability
}

// Result is the outcome of a tool execution.
type Result struct {
	Success  bool
	Content  string
	Error    string
	Duration time.Duration
	Metadata map[string]any
}

// Tool executes one operation against the workspace or the outside
// world. Implementations must honor context cancellation.
type Tool interface {
	Name() string
	Definition() Definition
	Execute(ctx context.Context, args map[string]any) (*Result, error)
}

// decodeArgs maps loosely-typed model output onto a typed args struct.
// LLMs routinely send numbers as floats and booleans as strings, so
// decoding is weakly typed.
func decodeArgs(args map[string]any, out any) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return protocol.Errorf(protocol.KindInternal, "failed to build args decoder: %v", err)
	}
	if err := decoder.Decode(args); err != nil {
		return protocol.Errorf(protocol.KindInvalidInput, "invalid tool arguments: %v", err)
	}
	return nil
}

func successResult(content string, start time.Time) *Result {
	return &Result{
		Success:  true,
		Content:  content,
		Duration: time.Since(start),
	}
}

func errorResult(message string, start time.Time) *Result {
	return &Result{
		Success:  false,
		Error:    message,
		Duration: time.Since(start),
	}
}
