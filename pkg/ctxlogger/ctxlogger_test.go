package ctxlogger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextHandler(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(ContextHandler{Handler: slog.NewJSONHandler(&buf, nil)})

	ctx := AppendCtx(context.Background(), slog.String("room_id", "r1"))
	child := AppendCtx(ctx, slog.String("client_id", "alice"))

	logger.InfoContext(child, "joined")

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "r1", record["room_id"])
	assert.Equal(t, "alice", record["client_id"])

	buf.Reset()
	logger.InfoContext(ctx, "parent")
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.NotContains(t, buf.String(), "client_id", "child attributes must not leak into the parent")
}
