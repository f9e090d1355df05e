package tools

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"
)

// maxReadBytes caps read_file content so a single tool call cannot
// flood the prompt.
const maxReadBytes = 1 << 20

// ReadFileTool reads a workspace file, optionally a line range.
type ReadFileTool struct {
	ws *Workspace
}

func NewReadFileTool(ws *Workspace) *ReadFileTool { return &ReadFileTool{ws: ws} }

func (t *ReadFileTool) Name() string { return "read_file" }

func (t *ReadFileTool) Definition() Definition {
	return Definition{
		Name:        "read_file",
		Description: "Read a file from the workspace. Optionally pass start_line and end_line (1-indexed, inclusive) to read a range.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":       map[string]any{"type": "string", "description": "Workspace-relative file path"},
				"start_line": map[string]any{"type": "integer", "description": "First line to read (1-indexed)"},
				"end_line":   map[string]any{"type": "integer", "description": "Last line to read (inclusive)"},
			},
			"required": []string{"path"},
		},
		Capabilities: []Capability{CapReadFS},
	}
}

func (t *ReadFileTool) Execute(_ context.Context, args map[string]any) (*Result, error) {
	start := time.Now()

	var params struct {
		Path      string `json:"path"`
		StartLine int    `json:"start_line"`
		EndLine   int    `json:"end_line"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}

	full, err := t.ws.Resolve(params.Path)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(full)
	if err != nil {
		return errorResult(fmt.Sprintf("cannot read %s: %v", params.Path, err), start), nil
	}
	if info.Size() > maxReadBytes {
		return errorResult(fmt.Sprintf("%s is too large (%d bytes, max %d); read a line range instead",
			params.Path, info.Size(), maxReadBytes), start), nil
	}

	data, err := os.ReadFile(full)
	if err != nil {
		return errorResult(fmt.Sprintf("cannot read %s: %v", params.Path, err), start), nil
	}
	content := string(data)

	if params.StartLine > 0 || params.EndLine > 0 {
		lines := strings.Split(content, "\n")
		from := params.StartLine
		if from < 1 {
			from = 1
		}
		to := params.EndLine
		if to < 1 || to > len(lines) {
			to = len(lines)
		}
		if from > len(lines) {
			return errorResult(fmt.Sprintf("start_line %d beyond end of file (%d lines)", from, len(lines)), start), nil
		}
		content = strings.Join(lines[from-1:to], "\n")
	}

	return successResult(content, start), nil
}

// WriteFileTool creates or overwrites a workspace file.
type WriteFileTool struct {
	ws *Workspace
}

func NewWriteFileTool(ws *Workspace) *WriteFileTool { return &WriteFileTool{ws: ws} }

func (t *WriteFileTool) Name() string { return "write_file" }

func (t *WriteFileTool) Definition() Definition {
	return Definition{
		Name:        "write_file",
		Description: "Create or overwrite a file in the workspace with the given content. Parent directories are created as needed.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path":    map[string]any{"type": "string", "description": "Workspace-relative file path"},
				"content": map[string]any{"type": "string", "description": "Full file content"},
			},
			"required": []string{"path", "content"},
		},
		Capabilities: []Capability{CapWriteFS},
	}
}

func (t *WriteFileTool) Execute(_ context.Context, args map[string]any) (*Result, error) {
	start := time.Now()

	var params struct {
		Path    string `json:"path"`
		Content string `json:"content"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}

	full, err := t.ws.Resolve(params.Path)
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return errorResult(fmt.Sprintf("failed to create directory: %v", err), start), nil
	}
	if err := os.WriteFile(full, []byte(params.Content), 0644); err != nil {
		return errorResult(fmt.Sprintf("failed to write %s: %v", params.Path, err), start), nil
	}

	return successResult(fmt.Sprintf("wrote %d bytes to %s", len(params.Content), params.Path), start), nil
}

// ListDirTool lists a workspace directory.
type ListDirTool struct {
	ws *Workspace
}

func NewListDirTool(ws *Workspace) *ListDirTool { return &ListDirTool{ws: ws} }

func (t *ListDirTool) Name() string { return "list_dir" }

func (t *ListDirTool) Definition() Definition {
	return Definition{
		Name:        "list_dir",
		Description: "List files and directories at a workspace path. Directories are suffixed with '/'.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"path": map[string]any{"type": "string", "description": "Workspace-relative directory path, '.' for the root"},
			},
			"required": []string{"path"},
		},
		Capabilities: []Capability{CapReadFS},
	}
}

func (t *ListDirTool) Execute(_ context.Context, args map[string]any) (*Result, error) {
	start := time.Now()

	var params struct {
		Path string `json:"path"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}

	full, err := t.ws.Resolve(params.Path)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(full)
	if err != nil {
		return errorResult(fmt.Sprintf("cannot list %s: %v", params.Path, err), start), nil
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		rel := filepath.Join(params.Path, e.Name())
		if t.ws.IsSensitive(rel) {
			continue
		}
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)

	return successResult(strings.Join(names, "\n"), start), nil
}

// SearchFilesTool greps the workspace for a regular expression.
type SearchFilesTool struct {
	ws *Workspace
}

func NewSearchFilesTool(ws *Workspace) *SearchFilesTool { return &SearchFilesTool{ws: ws} }

func (t *SearchFilesTool) Name() string { return "search_files" }

func (t *SearchFilesTool) Definition() Definition {
	return Definition{
		Name:        "search_files",
		Description: "Search workspace files for a regular expression. Returns matching lines as path:line:text, capped at 100 matches.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"pattern": map[string]any{"type": "string", "description": "Go regular expression"},
				"path":    map[string]any{"type": "string", "description": "Subdirectory to search (optional)"},
			},
			"required": []string{"pattern"},
		},
		Capabilities: []Capability{CapReadFS},
	}
}

const maxSearchMatches = 100

func (t *SearchFilesTool) Execute(ctx context.Context, args map[string]any) (*Result, error) {
	start := time.Now()

	var params struct {
		Pattern string `json:"pattern"`
		Path    string `json:"path"`
	}
	if err := decodeArgs(args, &params); err != nil {
		return nil, err
	}

	re, err := regexp.Compile(params.Pattern)
	if err != nil {
		return errorResult(fmt.Sprintf("invalid pattern: %v", err), start), nil
	}

	root := t.ws.Root()
	if params.Path != "" {
		if root, err = t.ws.Resolve(params.Path); err != nil {
			return nil, err
		}
	}

	var matches []string
	walkErr := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		rel := t.ws.Rel(path)
		if info.IsDir() {
			if strings.HasPrefix(info.Name(), ".") && path != root {
				return filepath.SkipDir
			}
			if t.ws.IsSensitive(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if info.Size() > maxReadBytes || t.ws.IsSensitive(rel) {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil || isBinaryContent(data) {
			return nil
		}

		for i, line := range strings.Split(string(data), "\n") {
			if re.MatchString(line) {
				matches = append(matches, fmt.Sprintf("%s:%d:%s", rel, i+1, line))
				if len(matches) >= maxSearchMatches {
					return filepath.SkipAll
				}
			}
		}
		return nil
	})
	if walkErr != nil && walkErr != filepath.SkipAll {
		return nil, walkErr
	}

	if len(matches) == 0 {
		return successResult("no matches", start), nil
	}
	return successResult(strings.Join(matches, "\n"), start), nil
}

func isBinaryContent(data []byte) bool {
	probe := data
	if len(probe) > 8000 {
		probe = probe[:8000]
	}
	for _, b := range probe {
		if b == 0 {
			return true
		}
	}
	return false
}
