package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/maestro-dev/maestro/pkg/protocol"
)

// Session is a conversation with ordered turns.
type Session struct {
	ID        string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Store persists sessions and their turn history. Turn indexes are
// assigned by the store and are contiguous from zero.
type Store interface {
	// GetOrCreate resolves a session by ID, creating it when absent.
	// An empty ID creates a fresh session with a generated ID.
	GetOrCreate(ctx context.Context, id string) (*Session, error)

	// AppendTurn stores a turn and returns its assigned index.
	AppendTurn(ctx context.Context, sessionID string, turn *protocol.Turn) (int, error)

	// RecentTurns returns the last n turns in chronological order.
	RecentTurns(ctx context.Context, sessionID string, n int) ([]*protocol.Turn, error)

	// TurnCount returns the number of turns stored for a session.
	TurnCount(ctx context.Context, sessionID string) (int, error)

	// Delete removes a session and all its turns.
	Delete(ctx context.Context, sessionID string) error

	Close() error
}

// MemoryStore keeps sessions in process memory. History is lost on
// restart; use the SQLite store for durability.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*memorySession
}

type memorySession struct {
	session Session
	turns   []*protocol.Turn
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sessions: make(map[string]*memorySession)}
}

func (s *MemoryStore) GetOrCreate(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		id = uuid.NewString()
	}

	if ms, ok := s.sessions[id]; ok {
		out := ms.session
		return &out, nil
	}

	now := time.Now()
	ms := &memorySession{session: Session{ID: id, CreatedAt: now, UpdatedAt: now}}
	s.sessions[id] = ms
	out := ms.session
	return &out, nil
}

func (s *MemoryStore) AppendTurn(_ context.Context, sessionID string, turn *protocol.Turn) (int, error) {
	if sessionID == "" {
		return 0, protocol.NewError(protocol.KindInvalidInput, "session ID cannot be empty", nil)
	}
	if turn == nil {
		return 0, protocol.NewError(protocol.KindInvalidInput, "turn cannot be nil", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ms, ok := s.sessions[sessionID]
	if !ok {
		now := time.Now()
		ms = &memorySession{session: Session{ID: sessionID, CreatedAt: now, UpdatedAt: now}}
		s.sessions[sessionID] = ms
	}

	stored := *turn
	stored.SessionID = sessionID
	stored.Index = len(ms.turns)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}

	ms.turns = append(ms.turns, &stored)
	ms.session.UpdatedAt = stored.CreatedAt
	return stored.Index, nil
}

func (s *MemoryStore) RecentTurns(_ context.Context, sessionID string, n int) ([]*protocol.Turn, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ms, ok := s.sessions[sessionID]
	if !ok {
		return nil, nil
	}

	turns := ms.turns
	if n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}

	out := make([]*protocol.Turn, len(turns))
	for i, t := range turns {
		copied := *t
		out[i] = &copied
	}
	return out, nil
}

func (s *MemoryStore) TurnCount(_ context.Context, sessionID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ms, ok := s.sessions[sessionID]
	if !ok {
		return 0, nil
	}
	return len(ms.turns), nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

func (s *MemoryStore) Close() error { return nil }

var _ Store = (*MemoryStore)(nil)
