package telemetry

import (
	"context"
	"strings"
	"testing"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestSetup_Disabled(t *testing.T) {
	tracer, shutdown, err := Setup(context.Background(), DefaultConfig("parcelfind"))
	if err != nil {
		t.Fatalf("Setup failed: %v", err)
	}
	if tracer == nil || shutdown == nil {
		t.Fatal("expected a tracer and shutdown func")
	}
	_, span := tracer.Start(context.Background(), "pipeline.run")
	span.End()
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}

func TestNewProvider(t *testing.T) {
	exp := tracetest.NewInMemoryExporter()
	cfg := DefaultConfig("parcelfind")
	cfg.ServiceVersion = "1.2.3"

	tp, err := NewProvider(cfg, sdktrace.WithSyncer(exp))
	if err != nil {
		t.Fatal(err)
	}
	defer tp.Shutdown(context.Background())

	_, span := tp.Tracer("test").Start(context.Background(), "pipeline.validating")
	span.End()

	spans := exp.GetSpans()
	if len(spans) != 1 || spans[0].Name != "pipeline.validating" {
		t.Fatalf("spans = %v", spans)
	}
	var service string
	for _, kv := range spans[0].Resource.Attributes() {
		if kv.Key == "service.name" {
			service = kv.Value.AsString()
		}
	}
	if service != "parcelfind" {
		t.Errorf("service.name = %q", service)
	}
}

func TestSampler(t *testing.T) {
	tests := map[float64]string{
		1.0:  "AlwaysOnSampler",
		2.0:  "AlwaysOnSampler",
		0:    "AlwaysOffSampler",
		-1:   "AlwaysOffSampler",
		0.25: "TraceIDRatioBased",
	}
	for ratio, want := range tests {
		if got := Sampler(ratio).Description(); !strings.HasPrefix(got, want) {
			t.Errorf("Sampler(%v) = %q, want prefix %q", ratio, got, want)
		}
	}
}
