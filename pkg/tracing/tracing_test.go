package tracing

import (
	"context"
	"errors"
	"testing"
	"time"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

type captureExporter struct {
	endpoint string
}

func (c *captureExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	return nil
}

func (c *captureExporter) Shutdown(ctx context.Context) error { return nil }

func stubExporterFactory(t *testing.T, capture *captureExporter, buildErr error) {
	t.Helper()
	orig := newTraceExporter
	t.Cleanup(func() { newTraceExporter = orig })
	newTraceExporter = func(ctx context.Context, endpoint string) (sdktrace.SpanExporter, error) {
		if buildErr != nil {
			return nil, buildErr
		}
		capture.endpoint = endpoint
		return capture, nil
	}
}

func TestInitTracerDisabledSkipsExporter(t *testing.T) {
	t.Setenv("TRACING_ENABLED", "false")
	orig := newTraceExporter
	t.Cleanup(func() { newTraceExporter = orig })
	newTraceExporter = func(ctx context.Context, endpoint string) (sdktrace.SpanExporter, error) {
		t.Fatal("exporter must not be built when tracing is off")
		return nil, nil
	}

	tp, tracer, err := InitTracer(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tp == nil || tracer == nil {
		t.Fatal("disabled tracing still returns a usable provider")
	}
	_, span := tracer.Start(context.Background(), "fetch")
	span.End()
}

func TestInitTracerPropagatesEndpoint(t *testing.T) {
	t.Setenv("TRACING_ENABLED", "true")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")
	capture := &captureExporter{}
	stubExporterFactory(t, capture, nil)

	tp, tracer, err := InitTracer(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tracer == nil {
		t.Fatal("expected tracer")
	}
	if capture.endpoint != "collector:4317" {
		t.Fatalf("endpoint = %q", capture.endpoint)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
	defer cancel()
	if err := tp.Shutdown(ctx); err != nil {
		t.Fatalf("shutdown error: %v", err)
	}
}

func TestInitTracerDefaultEndpoint(t *testing.T) {
	t.Setenv("TRACING_ENABLED", "true")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "")
	capture := &captureExporter{}
	stubExporterFactory(t, capture, nil)

	if _, _, err := InitTracer(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if capture.endpoint != "localhost:4317" {
		t.Fatalf("default endpoint = %q", capture.endpoint)
	}
}

func TestInitTracerExporterFailure(t *testing.T) {
	t.Setenv("TRACING_ENABLED", "true")
	stubExporterFactory(t, nil, errors.New("dial refused"))

	if _, _, err := InitTracer(context.Background()); err == nil {
		t.Fatal("exporter build failure must surface")
	}
}
