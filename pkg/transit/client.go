package transit

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"muni2board/pkg/types"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// requestTimeout converts a hung feed request into a reported
// TransportError instead of stalling the refresh cycle.
const requestTimeout = 10 * time.Second

// Client fetches raw StopMonitoring responses from the 511.org feed.
type Client struct {
	httpClient *http.Client
	apiKey     string
	baseURL    string
	tracer     trace.Tracer
}

// NewClient creates a feed client with an OpenTelemetry-instrumented
// transport.
func NewClient(apiKey, baseURL string) *Client {
	client := &http.Client{
		Transport: otelhttp.NewTransport(http.DefaultTransport),
		Timeout:   requestTimeout,
	}

	return &Client{
		httpClient: client,
		apiKey:     apiKey,
		baseURL:    baseURL,
		tracer:     otel.Tracer("transit-client"),
	}
}

// FetchStopVisits performs one StopMonitoring request for a stop and
// returns the raw response body. All failures come back as
// *types.TransportError.
func (c *Client) FetchStopVisits(ctx context.Context, agency, stopCode string) ([]byte, error) {
	ctx, span := c.tracer.Start(ctx, "transit.fetch_stop_visits",
		trace.WithAttributes(
			attribute.String("stop_code", stopCode),
			attribute.String("agency", agency),
			attribute.String("api.endpoint", c.baseURL),
		),
	)
	defer span.End()

	params := url.Values{}
	params.Set("api_key", c.apiKey)
	params.Set("agency", agency)
	params.Set("stopcode", stopCode)
	params.Set("format", "json")
	reqURL := c.baseURL + "?" + params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		span.RecordError(err)
		return nil, &types.TransportError{Err: fmt.Errorf("build request: %w", err)}
	}
	req.Header.Set("User-Agent", "muni2board/1.0.0")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		span.RecordError(err)
		return nil, &types.TransportError{Err: fmt.Errorf("fetch stop %s: %w", stopCode, err)}
	}
	defer resp.Body.Close()

	span.SetAttributes(
		attribute.Int("http.status_code", resp.StatusCode),
		attribute.String("http.response.content_type", resp.Header.Get("Content-Type")),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		err := fmt.Errorf("feed returned status %d for stop %s: %s", resp.StatusCode, stopCode, string(body))
		span.RecordError(err)
		return nil, &types.TransportError{Err: err}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return nil, &types.TransportError{Err: fmt.Errorf("read response for stop %s: %w", stopCode, err)}
	}

	span.SetAttributes(attribute.Int("response.size_bytes", len(body)))

	return body, nil
}
