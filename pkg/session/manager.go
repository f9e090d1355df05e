package session

import (
	"context"
	"sync"
	"time"

	"github.com/maestro-dev/maestro/pkg/protocol"
)

// Job is a running unit of work bound to a session. Jobs survive a
// dropped connection; they finish or are cancelled explicitly.
type Job struct {
	SessionID string
	Started   time.Time

	cancel  context.CancelFunc
	done    chan struct{}
	release sync.Once
}

// Done is closed when the job releases its session.
func (j *Job) Done() <-chan struct{} { return j.done }

// Manager enforces serial execution per session: at most one job runs
// against a session at a time.
type Manager struct {
	mu     sync.Mutex
	active map[string]*Job
}

func NewManager() *Manager {
	return &Manager{active: make(map[string]*Job)}
}

// Begin claims a session for a new job. The returned context is
// cancelled when the job is cancelled. A session with a job already
// running is rejected.
func (m *Manager) Begin(ctx context.Context, sessionID string) (context.Context, *Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, busy := m.active[sessionID]; busy {
		return nil, nil, protocol.NewError(protocol.KindInvalidInput,
			"session is busy with a previous request", nil)
	}

	jobCtx, cancel := context.WithCancel(ctx)
	job := &Job{
		SessionID: sessionID,
		Started:   time.Now(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	m.active[sessionID] = job
	return jobCtx, job, nil
}

// Finish releases the session claim. Safe to call more than once.
func (m *Manager) Finish(job *Job) {
	if job == nil {
		return
	}

	m.mu.Lock()
	if m.active[job.SessionID] == job {
		delete(m.active, job.SessionID)
	}
	m.mu.Unlock()

	job.cancel()
	job.release.Do(func() { close(job.done) })
}

// Cancel stops the active job for a session and waits up to grace for
// it to release. Returns false when no job was running.
func (m *Manager) Cancel(sessionID string, grace time.Duration) bool {
	m.mu.Lock()
	job, ok := m.active[sessionID]
	m.mu.Unlock()
	if !ok {
		return false
	}

	job.cancel()

	select {
	case <-job.done:
	case <-time.After(grace):
		// The job overran its grace period; release the session anyway
		// so the client is not wedged behind a stuck worker.
		m.Finish(job)
	}
	return true
}

// Active returns the running job for a session, if any.
func (m *Manager) Active(sessionID string) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.active[sessionID]
	return job, ok
}
