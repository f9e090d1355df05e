package session

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/maestro-dev/maestro/pkg/protocol"
)

const createSchemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    id VARCHAR(255) PRIMARY KEY,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS turns (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id VARCHAR(255) NOT NULL,
    turn_index INTEGER NOT NULL,
    role VARCHAR(50) NOT NULL,
    content TEXT NOT NULL,
    tool_name VARCHAR(255),
    tool_digest VARCHAR(255),
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, turn_index);
CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);
`

// SQLStore persists sessions in SQLite. Turn indexes survive restarts,
// so a resumed session continues numbering where it left off.
type SQLStore struct {
	db *sql.DB
	mu sync.Mutex
}

func NewSQLStore(path string) (*SQLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create session database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open session database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to session database at %s: %w", path, err)
	}

	if _, err := db.ExecContext(ctx, createSchemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize session schema: %w", err)
	}

	return &SQLStore{db: db}, nil
}

func (s *SQLStore) GetOrCreate(ctx context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if id == "" {
		id = uuid.NewString()
	}

	var sess Session
	err := s.db.QueryRowContext(ctx,
		`SELECT id, created_at, updated_at FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.CreatedAt, &sess.UpdatedAt)
	if err == nil {
		return &sess, nil
	}
	if err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to query session: %w", err)
	}

	now := time.Now()
	if _, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, created_at, updated_at) VALUES (?, ?, ?)`, id, now, now,
	); err != nil {
		return nil, fmt.Errorf("failed to insert session: %w", err)
	}

	return &Session{ID: id, CreatedAt: now, UpdatedAt: now}, nil
}

func (s *SQLStore) AppendTurn(ctx context.Context, sessionID string, turn *protocol.Turn) (int, error) {
	if sessionID == "" {
		return 0, protocol.NewError(protocol.KindInvalidInput, "session ID cannot be empty", nil)
	}
	if turn == nil {
		return 0, protocol.NewError(protocol.KindInvalidInput, "turn cannot be nil", nil)
	}

	if _, err := s.GetOrCreate(ctx, sessionID); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var index int
	if err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(turn_index), -1) + 1 FROM turns WHERE session_id = ?`, sessionID,
	).Scan(&index); err != nil {
		return 0, fmt.Errorf("failed to get next turn index: %w", err)
	}

	createdAt := turn.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	if _, err = tx.ExecContext(ctx,
		`INSERT INTO turns (session_id, turn_index, role, content, tool_name, tool_digest, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sessionID, index, turn.Role, turn.Content, turn.ToolName, turn.ToolDigest, createdAt,
	); err != nil {
		return 0, fmt.Errorf("failed to insert turn: %w", err)
	}

	if _, err = tx.ExecContext(ctx,
		`UPDATE sessions SET updated_at = ? WHERE id = ?`, createdAt, sessionID,
	); err != nil {
		return 0, fmt.Errorf("failed to update session timestamp: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit turn: %w", err)
	}
	return index, nil
}

func (s *SQLStore) RecentTurns(ctx context.Context, sessionID string, n int) ([]*protocol.Turn, error) {
	query := `
SELECT session_id, turn_index, role, content, tool_name, tool_digest, created_at
FROM turns WHERE session_id = ? ORDER BY turn_index ASC`
	args := []any{sessionID}

	if n > 0 {
		query = `
SELECT session_id, turn_index, role, content, tool_name, tool_digest, created_at FROM (
    SELECT session_id, turn_index, role, content, tool_name, tool_digest, created_at
    FROM turns WHERE session_id = ? ORDER BY turn_index DESC LIMIT ?
) sub ORDER BY turn_index ASC`
		args = append(args, n)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query turns: %w", err)
	}
	defer rows.Close()

	var turns []*protocol.Turn
	for rows.Next() {
		var t protocol.Turn
		if err := rows.Scan(&t.SessionID, &t.Index, &t.Role, &t.Content, &t.ToolName, &t.ToolDigest, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		turns = append(turns, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turns: %w", err)
	}
	return turns, nil
}

func (s *SQLStore) TurnCount(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM turns WHERE session_id = ?`, sessionID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count turns: %w", err)
	}
	return count, nil
}

func (s *SQLStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete turns: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

func (s *SQLStore) Close() error { return s.db.Close() }

var _ Store = (*SQLStore)(nil)

// NewStore selects the SQLite store when a path is configured and the
// in-memory store otherwise.
func NewStore(sqlitePath string) (Store, error) {
	if sqlitePath == "" {
		return NewMemoryStore(), nil
	}
	return NewSQLStore(sqlitePath)
}
