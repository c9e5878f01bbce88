// ABOUTME: Tests for the transcript stores
// ABOUTME: Runs one contract suite against every driver, plus driver-specific checks

package store

import (
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func drivers(t *testing.T) map[string]Store {
	t.Helper()

	fileStore, err := NewFileStore(t.TempDir(), testLogger())
	require.NoError(t, err)

	sqliteStore, err := NewSQLiteStore(filepath.Join(t.TempDir(), "parley.db"), testLogger())
	require.NoError(t, err)

	memSQLite, err := NewSQLiteStore(":memory:", testLogger())
	require.NoError(t, err)

	stores := map[string]Store{
		"file":          fileStore,
		"sqlite":        sqliteStore,
		"sqlite-memory": memSQLite,
		"memory":        NewMemoryStore(),
	}
	t.Cleanup(func() {
		for _, s := range stores {
			s.Close()
		}
	})
	return stores
}

func msg(id, sender, recipient, content string, at time.Time) *Message {
	return &Message{ID: id, Sender: sender, Recipient: recipient, Content: content, CreatedAt: at}
}

func TestStore_AppendAndLoad(t *testing.T) {
	base := time.Date(2024, 5, 1, 9, 30, 0, 123456789, time.UTC)

	for name, s := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := t.Context()

			require.NoError(t, s.AppendMessage(ctx, "conv-1", msg("m1", "human", "Bot", "hi", base)))
			require.NoError(t, s.AppendMessage(ctx, "conv-1", msg("m2", "Bot", "human", "hello", base.Add(time.Second))))
			require.NoError(t, s.AppendMessage(ctx, "conv-2", msg("m3", "human", "Other", "elsewhere", base)))

			got, err := s.LoadMessages(ctx, "conv-1")
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "m1", got[0].ID)
			assert.Equal(t, "Bot", got[0].Recipient)
			assert.Equal(t, "hi", got[0].Content)
			assert.True(t, base.Equal(got[0].CreatedAt), "created_at round-trips")
			assert.Equal(t, "m2", got[1].ID)

			ids, err := s.ListConversations(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"conv-1", "conv-2"}, ids)
		})
	}
}

func TestStore_LoadMissingIsEmpty(t *testing.T) {
	for name, s := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			got, err := s.LoadMessages(t.Context(), "never-written")
			require.NoError(t, err)
			assert.NotNil(t, got)
			assert.Empty(t, got)
		})
	}
}

func TestStore_RejectsUnsafeIDs(t *testing.T) {
	for name, s := range drivers(t) {
		t.Run(name, func(t *testing.T) {
			for _, id := range []string{"", "..", "../escape", "a/b", `a\b`} {
				err := s.AppendMessage(t.Context(), id, msg("m", "human", "Bot", "x", time.Now()))
				assert.ErrorIs(t, err, ErrInvalidConversationID, "id %q", id)

				_, err = s.LoadMessages(t.Context(), id)
				assert.ErrorIs(t, err, ErrInvalidConversationID, "id %q", id)
			}
		})
	}
}

func TestFileStore_Layout(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, testLogger())
	require.NoError(t, err)

	require.NoError(t, s.AppendMessage(t.Context(), "abc", msg("m1", "human", "Bot", "hi", time.Now())))
	require.NoError(t, s.AppendMessage(t.Context(), "abc", msg("m2", "Bot", "human", "yo", time.Now())))

	path := filepath.Join(dir, "abc", "conversations", "abc_messages.json")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	// The whole transcript is one JSON array.
	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 2)
	assert.Equal(t, "m1", decoded[0]["id"])
	assert.Equal(t, "Bot", decoded[0]["recipient"])

	_, err = os.Stat(path + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file is renamed away")
}

func TestFileStore_CorruptTranscript(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileStore(dir, testLogger())
	require.NoError(t, err)

	path := filepath.Join(dir, "bad", "conversations", "bad_messages.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err = s.LoadMessages(t.Context(), "bad")
	assert.Error(t, err)

	// Appending must not silently discard the unreadable transcript.
	err = s.AppendMessage(t.Context(), "bad", msg("m", "human", "Bot", "x", time.Now()))
	assert.Error(t, err)
}

func TestSQLiteStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "parley.db")

	s, err := NewSQLiteStore(path, testLogger())
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(t.Context(), "c1", msg("m1", "human", "Bot", "hi", time.Now())))
	require.NoError(t, s.Close())

	s, err = NewSQLiteStore(path, testLogger())
	require.NoError(t, err)
	defer s.Close()

	got, err := s.LoadMessages(t.Context(), "c1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "hi", got[0].Content)
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	original := msg("m1", "human", "Bot", "hi", time.Now())
	require.NoError(t, s.AppendMessage(t.Context(), "c1", original))

	original.Content = "mutated"
	got, err := s.LoadMessages(t.Context(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "hi", got[0].Content)

	got[0].Content = "mutated again"
	again, err := s.LoadMessages(t.Context(), "c1")
	require.NoError(t, err)
	assert.Equal(t, "hi", again[0].Content)
}

func TestOpen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open("file", filepath.Join(dir, "files"), testLogger())
	require.NoError(t, err)
	assert.IsType(t, &FileStore{}, s)

	s, err = Open("sqlite", filepath.Join(dir, "db", "p.db"), testLogger())
	require.NoError(t, err)
	assert.IsType(t, &SQLiteStore{}, s)
	s.Close()

	s, err = Open("memory", "", testLogger())
	require.NoError(t, err)
	assert.IsType(t, &MemoryStore{}, s)

	_, err = Open("postgres", "", testLogger())
	assert.ErrorIs(t, err, ErrUnknownDriver)
}
