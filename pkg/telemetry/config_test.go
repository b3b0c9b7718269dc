package telemetry

import (
	"reflect"
	"testing"
)

func TestExporterConfigDefaults(t *testing.T) {
	cfg := ExporterConfigFor(SignalTraces)
	if cfg.Protocol != ProtocolHTTP {
		t.Errorf("Protocol = %v, want http default", cfg.Protocol)
	}
	if cfg.Endpoint != "http://localhost:4318/v1/traces" {
		t.Errorf("Endpoint = %q", cfg.Endpoint)
	}
	if !cfg.Insecure {
		t.Error("localhost default should be insecure")
	}
}

func TestExporterConfigGRPC(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "https://otlp.example.com:4317/ignored")

	cfg := ExporterConfigFor(SignalMetrics)
	if cfg.Protocol != ProtocolGRPC {
		t.Errorf("Protocol = %v, want grpc", cfg.Protocol)
	}
	// gRPC endpoints are host:port only.
	if cfg.Endpoint != "otlp.example.com:4317" {
		t.Errorf("Endpoint = %q", cfg.Endpoint)
	}
}

func TestExporterConfigSignalOverride(t *testing.T) {
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "https://shared.example.com")
	t.Setenv("OTEL_EXPORTER_OTLP_TRACES_ENDPOINT", "https://traces.example.com/v1/traces")

	traces := ExporterConfigFor(SignalTraces)
	if traces.Endpoint != "https://traces.example.com/v1/traces" {
		t.Errorf("traces endpoint = %q", traces.Endpoint)
	}

	metrics := ExporterConfigFor(SignalMetrics)
	if metrics.Endpoint != "https://shared.example.com/v1/metrics" {
		t.Errorf("metrics endpoint = %q", metrics.Endpoint)
	}
}

func TestParseHeaders(t *testing.T) {
	got := parseHeaders("Authorization=Basic dXNlcjpwYXNz, X-Scope-OrgID=tenant-1")
	want := map[string]string{
		"Authorization": "Basic dXNlcjpwYXNz",
		"X-Scope-OrgID": "tenant-1",
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("parseHeaders() = %v, want %v", got, want)
	}

	if len(parseHeaders("")) != 0 {
		t.Error("empty header string should parse to no headers")
	}
}
