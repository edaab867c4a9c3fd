package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func capture(t *testing.T) (*slog.Logger, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	return slog.New(slog.NewJSONHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug})), &buf
}

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var rec map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &rec))
	return rec
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{" WARN ", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"info", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"verbose", slog.LevelInfo},
	}

	for _, tc := range tests {
		t.Run(tc.in, func(t *testing.T) {
			assert.Equal(t, tc.want, ParseLevel(tc.in))
		})
	}
}

func TestFromContext_DefaultsToProcessLogger(t *testing.T) {
	assert.Same(t, slog.Default(), FromContext(context.Background()))
}

func TestWithAttrs(t *testing.T) {
	logger, buf := capture(t)
	ctx := WithLogger(context.Background(), logger)

	ctx = WithAttrs(ctx, "account_id", "acc-1")
	FromContext(ctx).Info("entry appended", "kind", "earning")

	rec := lastLine(t, buf)
	assert.Equal(t, "acc-1", rec["account_id"])
	assert.Equal(t, "earning", rec["kind"])
}

func TestStartRun(t *testing.T) {
	base, buf := capture(t)

	ctx, log := StartRun(context.Background(), base, "auditor")
	id := TraceID(ctx)
	require.NotEmpty(t, id)

	FromContext(ctx).Info("audit run finished")
	rec := lastLine(t, buf)
	assert.Equal(t, "auditor", rec["component"])
	assert.Equal(t, id, rec["trace_id"])

	log.Info("next line")
	assert.Equal(t, id, lastLine(t, buf)["trace_id"])

	next, _ := StartRun(context.Background(), base, "auditor")
	assert.NotEqual(t, id, TraceID(next), "every run gets its own trace id")
}

func TestTraceID_Empty(t *testing.T) {
	assert.Empty(t, TraceID(context.Background()))
	assert.Equal(t, "abc", TraceID(WithTraceID(context.Background(), "abc")))
}
