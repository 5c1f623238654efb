package log

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLog_FormatsFields(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf)
	defer SetEnabled(false)

	Info(CatPool, "dispatched task", "workerID", 3, "algorithm", "bubbleSort")

	out := buf.String()
	require.Contains(t, out, "[INFO] [pool] dispatched task")
	require.Contains(t, out, "workerID=3")
	require.Contains(t, out, "algorithm=bubbleSort")
}

func TestLog_OddFieldCount(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf)
	defer SetEnabled(false)

	Warn(CatWorker, "orphan", "key")

	require.Contains(t, buf.String(), "key=<missing>")
}

func TestLog_ErrorErr(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf)
	defer SetEnabled(false)

	ErrorErr(CatAlgo, "sort failed", errors.New("boom"), "workerID", 1)
	ErrorErr(CatAlgo, "nil error", nil)

	out := buf.String()
	require.Contains(t, out, "error=boom")
	require.Contains(t, out, "error=<nil>")
}

func TestLog_MinLevel(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf)
	defer SetEnabled(false)

	SetMinLevel(LevelWarn)
	Debug(CatPool, "hidden")
	Info(CatPool, "hidden too")
	Error(CatPool, "visible")

	out := buf.String()
	require.NotContains(t, out, "hidden")
	require.Contains(t, out, "visible")
}

func TestLog_Disabled(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf)
	SetEnabled(false)

	Error(CatPool, "should not appear")
	require.Empty(t, buf.String())
}

func TestLog_Subscribe(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf)
	defer SetEnabled(false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch := Subscribe(ctx)
	require.NotNil(t, ch)

	Info(CatServer, "listening", "addr", "localhost:0")

	select {
	case event := <-ch:
		require.Contains(t, event.Payload, "listening")
	case <-time.After(time.Second):
		require.Fail(t, "timeout waiting for log event")
	}
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want Level
	}{
		{"debug", LevelDebug},
		{"INFO", LevelInfo},
		{"warning", LevelWarn},
		{"error", LevelError},
		{"nonsense", LevelDebug},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			require.Equal(t, tt.want, ParseLevel(tt.in))
		})
	}
}
