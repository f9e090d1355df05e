package session

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maestro-dev/maestro/pkg/protocol"
)

func stores(t *testing.T) map[string]Store {
	t.Helper()
	sqlStore, err := NewSQLStore(filepath.Join(t.TempDir(), "sessions.db"))
	require.NoError(t, err)
	t.Cleanup(func() { sqlStore.Close() })

	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlStore,
	}
}

func TestGetOrCreateGeneratesID(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			sess, err := store.GetOrCreate(context.Background(), "")
			require.NoError(t, err)
			assert.NotEmpty(t, sess.ID)

			again, err := store.GetOrCreate(context.Background(), sess.ID)
			require.NoError(t, err)
			assert.Equal(t, sess.ID, again.ID)
		})
	}
}

func TestAppendTurnAssignsContiguousIndexes(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess, err := store.GetOrCreate(ctx, "")
			require.NoError(t, err)

			for i := 0; i < 5; i++ {
				idx, err := store.AppendTurn(ctx, sess.ID, &protocol.Turn{
					Role:    protocol.RoleUser,
					Content: fmt.Sprintf("message %d", i),
				})
				require.NoError(t, err)
				assert.Equal(t, i, idx)
			}

			count, err := store.TurnCount(ctx, sess.ID)
			require.NoError(t, err)
			assert.Equal(t, 5, count)
		})
	}
}

func TestRecentTurnsReturnsLastNChronological(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess, err := store.GetOrCreate(ctx, "")
			require.NoError(t, err)

			for i := 0; i < 30; i++ {
				_, err := store.AppendTurn(ctx, sess.ID, &protocol.Turn{
					Role:    protocol.RoleUser,
					Content: fmt.Sprintf("turn %d", i),
				})
				require.NoError(t, err)
			}

			turns, err := store.RecentTurns(ctx, sess.ID, 20)
			require.NoError(t, err)
			require.Len(t, turns, 20)
			assert.Equal(t, "turn 10", turns[0].Content)
			assert.Equal(t, "turn 29", turns[19].Content)
			assert.Equal(t, 10, turns[0].Index)
		})
	}
}

func TestAppendTurnRejectsEmptySession(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.AppendTurn(context.Background(), "", &protocol.Turn{Role: protocol.RoleUser})
			require.Error(t, err)
			assert.Equal(t, protocol.KindInvalidInput, protocol.KindOf(err))
		})
	}
}

func TestDeleteRemovesTurns(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess, err := store.GetOrCreate(ctx, "")
			require.NoError(t, err)
			_, err = store.AppendTurn(ctx, sess.ID, &protocol.Turn{Role: protocol.RoleUser, Content: "x"})
			require.NoError(t, err)

			require.NoError(t, store.Delete(ctx, sess.ID))

			count, err := store.TurnCount(ctx, sess.ID)
			require.NoError(t, err)
			assert.Equal(t, 0, count)
		})
	}
}

func TestSQLStoreIndexesSurviveReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.db")
	ctx := context.Background()

	store, err := NewSQLStore(path)
	require.NoError(t, err)
	sess, err := store.GetOrCreate(ctx, "persisted")
	require.NoError(t, err)
	_, err = store.AppendTurn(ctx, sess.ID, &protocol.Turn{Role: protocol.RoleUser, Content: "before restart"})
	require.NoError(t, err)
	require.NoError(t, store.Close())

	reopened, err := NewSQLStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	idx, err := reopened.AppendTurn(ctx, "persisted", &protocol.Turn{Role: protocol.RoleAssistant, Content: "after restart"})
	require.NoError(t, err)
	assert.Equal(t, 1, idx)
}

func TestManagerSerialAdmission(t *testing.T) {
	m := NewManager()
	ctx := context.Background()

	_, job, err := m.Begin(ctx, "s1")
	require.NoError(t, err)

	_, _, err = m.Begin(ctx, "s1")
	require.Error(t, err)
	assert.Equal(t, protocol.KindInvalidInput, protocol.KindOf(err))

	m.Finish(job)

	_, job2, err := m.Begin(ctx, "s1")
	require.NoError(t, err)
	m.Finish(job2)
}

func TestManagerFinishConcurrentCallers(t *testing.T) {
	m := NewManager()

	_, job, err := m.Begin(context.Background(), "s1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m.Finish(job)
		}()
	}
	wg.Wait()

	select {
	case <-job.Done():
	default:
		t.Fatal("job was not released")
	}

	_, job2, err := m.Begin(context.Background(), "s1")
	require.NoError(t, err)
	m.Finish(job2)
}

func TestManagerCancelStopsJob(t *testing.T) {
	m := NewManager()

	jobCtx, job, err := m.Begin(context.Background(), "s1")
	require.NoError(t, err)

	go func() {
		<-jobCtx.Done()
		m.Finish(job)
	}()

	ok := m.Cancel("s1", time.Second)
	assert.True(t, ok)

	_, active := m.Active("s1")
	assert.False(t, active)
}

func TestManagerCancelNoActiveJob(t *testing.T) {
	m := NewManager()
	assert.False(t, m.Cancel("ghost", 10*time.Millisecond))
}
