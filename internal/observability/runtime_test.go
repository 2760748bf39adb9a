package observability

import (
	"context"
	"io"
	"log/slog"
	"testing"

	"github.com/sandeepkv93/license-activation-service/internal/config"
)

func TestRuntimeShutdownIsIdempotent(t *testing.T) {
	_ = captureDefaultLogger(t)
	rt, err := InitRuntime(context.Background(), &config.Config{OTELServiceName: "license-activation-service"}, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatalf("init runtime: %v", err)
	}
	if rt.MeterProvider == nil || rt.TracerProvider == nil {
		t.Fatalf("expected local providers when exporters are disabled: %+v", rt)
	}
	if err := rt.Shutdown(context.Background()); err != nil {
		t.Fatalf("first shutdown: %v", err)
	}

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	if err := rt.Shutdown(cancelled); err != nil {
		t.Fatalf("second shutdown must reuse the first result, got %v", err)
	}
}

func TestNilRuntimeShutdown(t *testing.T) {
	var rt *Runtime
	if err := rt.Shutdown(context.Background()); err != nil {
		t.Fatalf("nil runtime shutdown: %v", err)
	}
}
