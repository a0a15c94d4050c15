package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextHandlerAddsTraceFields(t *testing.T) {
	var buf bytes.Buffer
	l := slog.New(&contextHandler{Handler: slog.NewJSONHandler(&buf, nil)})

	ctx := WithTrace(context.Background(), "trace-1", "", "req-9")
	l.InfoContext(ctx, "hello", "k", "v")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "trace-1", line["trace_id"])
	assert.Equal(t, "req-9", line["request_id"])
	assert.NotContains(t, line, "span_id")
	assert.Equal(t, "v", line["k"])
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("DEBUG"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("warn"))
	assert.Equal(t, slog.LevelError, ParseLevel("error"))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithTrace(context.Background(), "t", "s", "r")
	assert.Equal(t, "r", RequestID(ctx))
	assert.Equal(t, "t", TraceID(ctx))
	assert.Empty(t, RequestID(context.Background()))
}
