package tracing

import (
	"context"
	"testing"
	"time"
)

func TestNewProviderDisabled(t *testing.T) {
	provider, err := NewProvider(Config{ServiceName: "waypoint-api", Enabled: false})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	if provider.IsEnabled() {
		t.Error("expected tracing to be disabled")
	}
	if provider.Tracer("waypoint") == nil {
		t.Error("disabled provider should still hand out a tracer")
	}
}

func TestNewProviderValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{
			name: "missing service name",
			cfg:  Config{Enabled: true, SamplingRate: 0.1},
		},
		{
			name: "sampling rate above 1",
			cfg:  Config{Enabled: true, ServiceName: "waypoint-api", SamplingRate: 1.5},
		},
		{
			name: "negative sampling rate",
			cfg:  Config{Enabled: true, ServiceName: "waypoint-api", SamplingRate: -0.1},
		},
		{
			name: "unknown exporter",
			cfg:  Config{Enabled: true, ServiceName: "waypoint-api", SamplingRate: 0.1, ExporterType: "jaeger"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewProvider(tt.cfg); err == nil {
				t.Error("expected configuration error")
			}
		})
	}
}

func TestShutdownDisabledProvider(t *testing.T) {
	provider, err := NewProvider(Config{Enabled: false})
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := provider.Shutdown(ctx); err != nil {
		t.Errorf("Shutdown() error = %v", err)
	}
}

func TestSpanHelpersWithoutProvider(t *testing.T) {
	// With no provider installed the helpers use the global no-op tracer;
	// they must still return usable contexts and end functions.
	ctx, end := StartDBSpan(context.Background(), "sessions", "query")
	if ctx == nil {
		t.Fatal("StartDBSpan returned nil context")
	}
	end(context.DeadlineExceeded)

	ctx, end = StartSpan(context.Background(), "supervisor.sweep")
	if ctx == nil {
		t.Fatal("StartSpan returned nil context")
	}
	end(nil)
}
