package storage

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/appforge/appforge/internal/agent"
	"github.com/appforge/appforge/internal/common/errors"
)

// storeUnderTest runs the same contract suite against both implementations.
func storeUnderTest(t *testing.T, name string) Store {
	t.Helper()
	switch name {
	case "memory":
		return NewMemoryStore()
	case "sqlite":
		store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
		require.NoError(t, err)
		t.Cleanup(func() { store.Close() })
		return store
	default:
		t.Fatalf("unknown store %s", name)
		return nil
	}
}

func TestStore_Sessions(t *testing.T) {
	for _, name := range []string{"memory", "sqlite"} {
		t.Run(name, func(t *testing.T) {
			store := storeUnderTest(t, name)
			ctx := context.Background()

			_, err := store.GetSession(ctx, "missing")
			assert.True(t, errors.IsNotFound(err))

			session := &agent.Session{
				ID:          "run-1",
				ProjectID:   "p1",
				AgentKind:   agent.KindCursor,
				Model:       "sonnet-4",
				Instruction: "build the thing",
				Status:      agent.SessionActive,
			}
			require.NoError(t, store.SaveSession(ctx, session))

			loaded, err := store.GetSession(ctx, "run-1")
			require.NoError(t, err)
			assert.Equal(t, agent.KindCursor, loaded.AgentKind)
			assert.Equal(t, agent.SessionActive, loaded.Status)

			// Save with the same id replaces the record.
			session.Status = agent.SessionCompleted
			require.NoError(t, store.SaveSession(ctx, session))
			loaded, err = store.GetSession(ctx, "run-1")
			require.NoError(t, err)
			assert.Equal(t, agent.SessionCompleted, loaded.Status)
		})
	}
}

func TestStore_Messages(t *testing.T) {
	for _, name := range []string{"memory", "sqlite"} {
		t.Run(name, func(t *testing.T) {
			store := storeUnderTest(t, name)
			ctx := context.Background()

			first := agent.NewMessage("p1", agent.RoleAssistant, agent.TypeChat, "Hello", "run-1", map[string]any{
				agent.MetaAgent: "cursor",
			})
			second := agent.NewMessage("p1", agent.RoleSystem, agent.TypeSystem, "done", "run-1", nil)
			require.NoError(t, store.SaveMessage(ctx, first))
			require.NoError(t, store.SaveMessage(ctx, second))

			var messages []*agent.Message
			var err error
			switch s := store.(type) {
			case *MemoryStore:
				messages, err = s.Messages(ctx, "p1", 0)
			case *SQLiteStore:
				messages, err = s.Messages(ctx, "p1", 0)
			}
			require.NoError(t, err)
			require.Len(t, messages, 2)
			assert.Equal(t, "Hello", messages[0].Content)
			assert.Equal(t, "cursor", messages[0].Metadata[agent.MetaAgent])
			assert.Nil(t, messages[1].Metadata)
		})
	}
}

func TestStore_AgentSessionIDs(t *testing.T) {
	for _, name := range []string{"memory", "sqlite"} {
		t.Run(name, func(t *testing.T) {
			store := storeUnderTest(t, name)
			ctx := context.Background()

			id, err := store.SessionID(ctx, "p1", agent.KindCursor)
			require.NoError(t, err)
			assert.Equal(t, "", id, "no stored id yet")

			require.NoError(t, store.SetSessionID(ctx, "p1", agent.KindCursor, "abc"))
			require.NoError(t, store.SetSessionID(ctx, "p1", agent.KindClaude, "xyz"))

			id, err = store.SessionID(ctx, "p1", agent.KindCursor)
			require.NoError(t, err)
			assert.Equal(t, "abc", id, "ids are scoped per agent kind")

			// Replacement wins.
			require.NoError(t, store.SetSessionID(ctx, "p1", agent.KindCursor, "def"))
			id, _ = store.SessionID(ctx, "p1", agent.KindCursor)
			assert.Equal(t, "def", id)
		})
	}
}
