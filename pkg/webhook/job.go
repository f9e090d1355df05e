// Package webhook implements signature-verified webhook ingress and
// the autonomous clone-analyze-patch-test-PR pipeline it feeds.
package webhook

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Status is a webhook job's position in its lifecycle.
type Status string

const (
	StatusReceived  Status = "received"
	StatusAnalyzing Status = "analyzing"
	StatusPatching  Status = "patching"
	StatusTesting   Status = "testing"
	StatusPosting   Status = "posting"
	StatusDone      Status = "done"
	StatusFailed    Status = "failed"
	StatusRejected  Status = "rejected"
)

// Job is one webhook delivery and the autonomous work it triggered.
// The delivery ID doubles as the idempotency key.
type Job struct {
	DeliveryID string    `json:"delivery_id"`
	EventKind  string    `json:"event_kind"`
	Repository string    `json:"repository"`
	Principal  string    `json:"principal"`
	Status     Status    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
	FinishedAt time.Time `json:"finished_at,omitempty"`

	// Outcome carries the PR URL on success or the failure/rejection
	// reason otherwise.
	Outcome string `json:"outcome,omitempty"`
}

// Store persists job snapshots as one JSON file per delivery under
// <data_root>/jobs. Snapshots serve idempotency checks and replay.
type Store struct {
	mu  sync.Mutex
	dir string
}

func NewStore(dataRoot string) (*Store, error) {
	dir := filepath.Join(dataRoot, "jobs")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create jobs directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(deliveryID string) string {
	return filepath.Join(s.dir, filepath.Base(deliveryID)+".json")
}

// Save writes the job snapshot atomically.
func (s *Store) Save(job *Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(job, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}

	tmp := s.path(job.DeliveryID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write job snapshot: %w", err)
	}
	return os.Rename(tmp, s.path(job.DeliveryID))
}

// Load reads a job snapshot. A missing snapshot is (nil, nil).
func (s *Store) Load(deliveryID string) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path(deliveryID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read job snapshot: %w", err)
	}

	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, fmt.Errorf("failed to parse job snapshot: %w", err)
	}
	return &job, nil
}

// Seen reports whether a delivery was already accepted within the
// idempotency window.
func (s *Store) Seen(deliveryID string, window time.Duration) (bool, error) {
	job, err := s.Load(deliveryID)
	if err != nil || job == nil {
		return false, err
	}
	return time.Since(job.CreatedAt) < window, nil
}
