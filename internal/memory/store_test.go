package memory

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(ttl time.Duration, maxHistory int) *Store {
	return NewStore(ttl, maxHistory, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestStore_Append(t *testing.T) {
	t.Run("creates conversation on first message", func(t *testing.T) {
		s := newTestStore(time.Hour, 10)

		msg := s.Append("conv-1", "user-1", Message{Role: "user", Content: "hi"})
		assert.NotEmpty(t, msg.ID)
		assert.False(t, msg.Timestamp.IsZero())

		conv, ok := s.Get("conv-1")
		require.True(t, ok)
		assert.Equal(t, "user-1", conv.UserID)
		require.Len(t, conv.Messages, 1)
	})

	t.Run("caps history at max", func(t *testing.T) {
		s := newTestStore(time.Hour, 3)

		for i := 0; i < 5; i++ {
			s.Append("conv-1", "user-1", Message{Role: "user", Content: string(rune('a' + i))})
		}

		conv, ok := s.Get("conv-1")
		require.True(t, ok)
		require.Len(t, conv.Messages, 3)
		assert.Equal(t, "c", conv.Messages[0].Content)
		assert.Equal(t, "e", conv.Messages[2].Content)
	})

	t.Run("keeps caller-supplied id", func(t *testing.T) {
		s := newTestStore(time.Hour, 10)
		msg := s.Append("conv-1", "user-1", Message{ID: "msg-7", Role: "user", Content: "hi"})
		assert.Equal(t, "msg-7", msg.ID)
	})
}

func TestStore_Expiry(t *testing.T) {
	t.Run("expired conversation is gone on access", func(t *testing.T) {
		s := newTestStore(time.Hour, 10)
		now := time.Now()
		s.now = func() time.Time { return now }

		s.Append("conv-1", "user-1", Message{Role: "user", Content: "hi"})

		s.now = func() time.Time { return now.Add(2 * time.Hour) }
		_, ok := s.Get("conv-1")
		assert.False(t, ok)
		assert.Equal(t, 0, s.Len())
	})

	t.Run("access refreshes ttl", func(t *testing.T) {
		s := newTestStore(time.Hour, 10)
		now := time.Now()
		s.now = func() time.Time { return now }

		s.Append("conv-1", "user-1", Message{Role: "user", Content: "hi"})

		s.now = func() time.Time { return now.Add(45 * time.Minute) }
		_, ok := s.Get("conv-1")
		require.True(t, ok)

		s.now = func() time.Time { return now.Add(85 * time.Minute) }
		_, ok = s.Get("conv-1")
		assert.True(t, ok)
	})

	t.Run("sweep removes only expired", func(t *testing.T) {
		s := newTestStore(time.Hour, 10)
		now := time.Now()
		s.now = func() time.Time { return now }

		s.Append("old", "user-1", Message{Role: "user", Content: "hi"})

		s.now = func() time.Time { return now.Add(2 * time.Hour) }
		s.Append("fresh", "user-1", Message{Role: "user", Content: "hi"})

		assert.Equal(t, 1, s.Sweep())
		assert.Equal(t, 1, s.Len())
		_, ok := s.Get("fresh")
		assert.True(t, ok)
	})

	t.Run("zero ttl never expires", func(t *testing.T) {
		s := newTestStore(0, 10)
		now := time.Now()
		s.now = func() time.Time { return now }

		s.Append("conv-1", "user-1", Message{Role: "user", Content: "hi"})

		s.now = func() time.Time { return now.Add(1000 * time.Hour) }
		_, ok := s.Get("conv-1")
		assert.True(t, ok)
	})
}

func TestStore_History(t *testing.T) {
	s := newTestStore(time.Hour, 10)
	for _, content := range []string{"one", "two", "three"} {
		s.Append("conv-1", "user-1", Message{Role: "user", Content: content})
	}

	t.Run("limit returns most recent", func(t *testing.T) {
		history := s.History("conv-1", 2)
		require.Len(t, history, 2)
		assert.Equal(t, "two", history[0].Content)
		assert.Equal(t, "three", history[1].Content)
	})

	t.Run("no limit returns all", func(t *testing.T) {
		assert.Len(t, s.History("conv-1", 0), 3)
	})

	t.Run("unknown conversation", func(t *testing.T) {
		assert.Nil(t, s.History("missing", 5))
	})
}

func TestStore_List(t *testing.T) {
	s := newTestStore(time.Hour, 10)
	now := time.Now()
	s.now = func() time.Time { return now }
	s.Append("conv-1", "user-1", Message{Role: "user", Content: "first"})

	s.now = func() time.Time { return now.Add(time.Minute) }
	s.Append("conv-2", "user-1", Message{Role: "user", Content: "second"})
	s.Append("conv-3", "user-2", Message{Role: "user", Content: "other user"})

	t.Run("filters by user, newest first", func(t *testing.T) {
		got := s.List("user-1", 10, 0)
		require.Len(t, got, 2)
		assert.Equal(t, "conv-2", got[0].ID)
		assert.Equal(t, "conv-1", got[1].ID)
		assert.Equal(t, "second", got[0].LastMessage)
	})

	t.Run("pagination", func(t *testing.T) {
		got := s.List("user-1", 1, 1)
		require.Len(t, got, 1)
		assert.Equal(t, "conv-1", got[0].ID)
	})

	t.Run("offset past end", func(t *testing.T) {
		assert.Empty(t, s.List("user-1", 10, 5))
	})
}

func TestStore_Delete(t *testing.T) {
	s := newTestStore(time.Hour, 10)
	s.Append("conv-1", "user-1", Message{Role: "user", Content: "hi"})

	assert.True(t, s.Delete("conv-1"))
	assert.False(t, s.Delete("conv-1"))
	_, ok := s.Get("conv-1")
	assert.False(t, ok)
}
