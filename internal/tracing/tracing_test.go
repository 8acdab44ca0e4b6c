package tracing

import (
	"context"
	"log/slog"
	"os"
	"testing"
)

func TestGetConfig_Defaults(t *testing.T) {
	cfg := GetConfig("hubtap")

	if cfg.Enabled {
		t.Error("expected tracing to be disabled by default")
	}
	if cfg.Endpoint != "localhost:4317" {
		t.Errorf("endpoint = %s", cfg.Endpoint)
	}
	if cfg.ServiceName != "hubtap" {
		t.Errorf("service name = %s", cfg.ServiceName)
	}
}

func TestGetConfig_EnabledFromEnv(t *testing.T) {
	tests := []struct {
		name    string
		envVal  string
		enabled bool
	}{
		{"lowercase true", "true", true},
		{"uppercase TRUE", "TRUE", true},
		{"false", "false", false},
		{"random", "random", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("HUBTAP_OTEL_ENABLED", tt.envVal)

			if got := GetConfig("hubtap").Enabled; got != tt.enabled {
				t.Errorf("enabled = %v, want %v", got, tt.enabled)
			}
		})
	}
}

func TestGetConfig_CustomEndpoint(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "collector:4317")

	if got := GetConfig("hubtap").Endpoint; got != "collector:4317" {
		t.Errorf("endpoint = %s", got)
	}
}

func TestInitialize_Disabled(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	tracer, shutdown, err := Initialize(Config{ServiceName: "hubtap"}, logger)
	if err != nil {
		t.Fatalf("initialize: %v", err)
	}
	if tracer == nil {
		t.Fatal("expected non-nil tracer")
	}
	if err := shutdown(context.Background()); err != nil {
		t.Errorf("shutdown: %v", err)
	}
}
