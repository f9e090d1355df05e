// Package audit appends privileged-action records to a JSONL log.
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Outcome classifies how an audited action ended.
type Outcome string

const (
	OutcomeAllowed Outcome = "allowed"
	OutcomeDenied  Outcome = "denied"
	OutcomeFailed  Outcome = "failed"
)

// Entry is one audit record. Detail never carries file contents or
// secrets, only identifiers.
type Entry struct {
	Timestamp time.Time      `json:"timestamp"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	Target    string         `json:"target,omitempty"`
	Outcome   Outcome        `json:"outcome"`
	Detail    map[string]any `json:"detail,omitempty"`
}

// Logger serializes appends to a single audit file. A nil Logger
// discards records.
type Logger struct {
	mu     sync.Mutex
	file   *os.File
	logger *slog.Logger
}

func NewLogger(path string) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create audit directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("failed to open audit log: %w", err)
	}
	return &Logger{
		file:   f,
		logger: slog.Default().With("component", "audit"),
	}, nil
}

// Record appends an entry. Failures are logged, never propagated; an
// audit write must not fail the action it describes.
func (l *Logger) Record(e Entry) {
	if l == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(e)
	if err != nil {
		l.logger.Error("failed to marshal audit entry", "action", e.Action, "error", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.file.Write(append(data, '\n')); err != nil {
		l.logger.Error("failed to write audit entry", "action", e.Action, "error", err)
	}
}

func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.file.Close()
}
