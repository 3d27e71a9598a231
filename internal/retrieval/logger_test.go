package retrieval_test

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carebridge/internal/middleware"
	"carebridge/internal/retrieval"
)

func TestQueryLogger_Log(t *testing.T) {
	t.Run("writes one json line per entry", func(t *testing.T) {
		var buf bytes.Buffer
		l := retrieval.NewQueryLogger(&buf)

		ctx := middleware.WithCorrelationID(context.Background(), "corr-123")
		l.Log(ctx, retrieval.QueryLogEntry{
			Query:      "insulin dosage",
			NumResults: 3,
			TopK:       5,
			Threshold:  0.7,
			Duration:   42 * time.Millisecond,
		})

		var entry retrieval.QueryLogEntry
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "insulin dosage", entry.Query)
		assert.Equal(t, 3, entry.NumResults)
		assert.Equal(t, int64(42), entry.LatencyMs)
		assert.Equal(t, "corr-123", entry.CorrelationID)
		assert.False(t, entry.Timestamp.IsZero())
	})

	t.Run("missing correlation id becomes unknown", func(t *testing.T) {
		var buf bytes.Buffer
		l := retrieval.NewQueryLogger(&buf)

		l.Log(context.Background(), retrieval.QueryLogEntry{Query: "q"})

		var entry retrieval.QueryLogEntry
		require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
		assert.Equal(t, "unknown", entry.CorrelationID)
	})
}
