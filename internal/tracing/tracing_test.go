package tracing

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	require.False(t, cfg.Enabled)
	require.Equal(t, ExporterFile, cfg.Exporter)
	require.Equal(t, "sortpool", cfg.ServiceName)
	require.NoError(t, cfg.Validate())
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "file without path", cfg: Config{Enabled: true, Exporter: ExporterFile}, wantErr: "file_path"},
		{name: "unknown exporter", cfg: Config{Enabled: true, Exporter: "jaeger"}, wantErr: "must be one of"},
		{name: "bad sample rate", cfg: Config{Enabled: true, Exporter: ExporterNone, SampleRate: 2}, wantErr: "sample_rate"},
		{name: "stdout ok", cfg: Config{Enabled: true, Exporter: ExporterStdout, SampleRate: 1}},
		{name: "disabled ignores everything", cfg: Config{Exporter: "jaeger"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestNewProvider_Disabled(t *testing.T) {
	p, err := NewProvider(Config{})
	require.NoError(t, err)
	require.False(t, p.Enabled())

	_, span := p.Tracer().Start(context.Background(), "noop")
	span.End()
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestNewProvider_FileExporterWritesTaskSpans(t *testing.T) {
	path := filepath.Join(t.TempDir(), "traces", "spans.jsonl")
	p, err := NewProvider(Config{Enabled: true, Exporter: ExporterFile, FilePath: path, SampleRate: 1})
	require.NoError(t, err)
	require.True(t, p.Enabled())

	_, span := StartTask(context.Background(), p.Tracer(), "run-1", 2, "task-9", "mergeSort", 40)
	EndTask(span, nil)
	require.NoError(t, p.Shutdown(context.Background()))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	scanner := bufio.NewScanner(f)
	require.True(t, scanner.Scan())
	var rec SpanRecord
	require.NoError(t, json.Unmarshal(scanner.Bytes(), &rec))
	require.Equal(t, SpanTask, rec.Name)
	require.Equal(t, "OK", rec.Status)
	require.Equal(t, "task-9", rec.Attributes[AttrTaskID])
	require.Equal(t, "mergeSort", rec.Attributes[AttrAlgorithm])
	require.EqualValues(t, 2, rec.Attributes[AttrWorkerID])
	require.EqualValues(t, 40, rec.Attributes[AttrElements])
}

func TestEndTask_RecordsError(t *testing.T) {
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))

	_, span := StartTask(context.Background(), tp.Tracer("test"), "run", 0, "t", "shellSort", 3)
	EndTask(span, errors.New("unknown algorithm"))

	ended := rec.Ended()
	require.Len(t, ended, 1)
	require.Equal(t, "unknown algorithm", ended[0].Status().Description)
	require.Len(t, ended[0].Events(), 1, "error recorded as an event")
}

func TestFileExporter_ShutdownIsIdempotent(t *testing.T) {
	exp, err := NewFileExporter(filepath.Join(t.TempDir(), "x.jsonl"))
	require.NoError(t, err)
	require.NoError(t, exp.Shutdown(context.Background()))
	require.NoError(t, exp.Shutdown(context.Background()))
	require.Error(t, exp.ExportSpans(context.Background(), []sdktrace.ReadOnlySpan{tracetest.SpanStub{Name: "late"}.Snapshot()}))
}
