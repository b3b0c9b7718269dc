package telemetry

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Protocol selects the OTLP transport.
type Protocol string

const (
	ProtocolGRPC Protocol = "grpc"
	ProtocolHTTP Protocol = "http/protobuf"
)

// Signal is the OTEL signal type, used for per-signal env overrides.
type Signal string

const (
	SignalTraces  Signal = "traces"
	SignalMetrics Signal = "metrics"
)

// ExporterConfig holds the resolved OTLP exporter settings for one
// signal, following the standard OTEL_EXPORTER_OTLP_* variables with
// signal-specific overrides.
type ExporterConfig struct {
	Endpoint    string
	Protocol    Protocol
	Headers     map[string]string
	Timeout     time.Duration
	Insecure    bool
	Compression string
}

// TracingEnabled reports whether OTLP trace export is switched on.
func TracingEnabled() bool {
	return isTrue(getEnv("OTEL_TRACING_ENABLED", "false"))
}

// MetricsExportEnabled reports whether OTLP metric export is switched on.
func MetricsExportEnabled() bool {
	return isTrue(getEnv("OTEL_METRICS_ENABLED", "false"))
}

// ExporterConfigFor resolves the exporter configuration for a signal.
func ExporterConfigFor(signal Signal) ExporterConfig {
	upper := strings.ToUpper(string(signal))

	protocol := ProtocolHTTP
	if strings.EqualFold(envWithFallback("OTEL_EXPORTER_OTLP_"+upper+"_PROTOCOL", "OTEL_EXPORTER_OTLP_PROTOCOL", ""), "grpc") {
		protocol = ProtocolGRPC
	}

	endpoint := resolveEndpoint(signal, upper, protocol)

	timeout := 10 * time.Second
	if raw := envWithFallback("OTEL_EXPORTER_OTLP_"+upper+"_TIMEOUT", "OTEL_EXPORTER_OTLP_TIMEOUT", ""); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			timeout = d
		} else if ms, err := strconv.Atoi(raw); err == nil {
			timeout = time.Duration(ms) * time.Millisecond
		}
	}

	insecure := strings.HasPrefix(endpoint, "http://") || protocol == ProtocolGRPC && !strings.Contains(endpoint, ":443")
	if raw := envWithFallback("OTEL_EXPORTER_OTLP_"+upper+"_INSECURE", "OTEL_EXPORTER_OTLP_INSECURE", ""); raw != "" {
		insecure = isTrue(raw)
	}

	return ExporterConfig{
		Endpoint:    endpoint,
		Protocol:    protocol,
		Headers:     parseHeaders(envWithFallback("OTEL_EXPORTER_OTLP_"+upper+"_HEADERS", "OTEL_EXPORTER_OTLP_HEADERS", "")),
		Timeout:     timeout,
		Insecure:    insecure,
		Compression: envWithFallback("OTEL_EXPORTER_OTLP_"+upper+"_COMPRESSION", "OTEL_EXPORTER_OTLP_COMPRESSION", ""),
	}
}

func resolveEndpoint(signal Signal, upper string, protocol Protocol) string {
	// Signal-specific endpoints are used as-is; base endpoints get the
	// per-signal path appended for HTTP.
	if ep := getEnv("OTEL_EXPORTER_OTLP_"+upper+"_ENDPOINT", ""); ep != "" {
		return normalizeEndpoint(ep, protocol)
	}
	if base := getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""); base != "" {
		base = normalizeEndpoint(base, protocol)
		if protocol == ProtocolGRPC {
			return base
		}
		return strings.TrimSuffix(base, "/") + "/v1/" + string(signal)
	}
	if protocol == ProtocolGRPC {
		return "localhost:4317"
	}
	return "http://localhost:4318/v1/" + string(signal)
}

func normalizeEndpoint(endpoint string, protocol Protocol) string {
	if protocol == ProtocolGRPC {
		endpoint = strings.TrimPrefix(endpoint, "http://")
		endpoint = strings.TrimPrefix(endpoint, "https://")
		if idx := strings.Index(endpoint, "/"); idx != -1 {
			endpoint = endpoint[:idx]
		}
		return endpoint
	}
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		endpoint = "https://" + endpoint
	}
	return endpoint
}

// parseHeaders parses "key1=value1,key2=value2". Values keep their
// exact content after the first '=' so basic-auth blobs survive.
func parseHeaders(raw string) map[string]string {
	headers := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if idx := strings.Index(pair, "="); idx > 0 {
			headers[strings.TrimSpace(pair[:idx])] = pair[idx+1:]
		}
	}
	return headers
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func envWithFallback(specific, base, defaultValue string) string {
	if v := os.Getenv(specific); v != "" {
		return v
	}
	return getEnv(base, defaultValue)
}

func isTrue(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "true" || s == "1" || s == "yes" || s == "on"
}
