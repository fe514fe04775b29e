package dispatch

import (
	"context"
	"fmt"
	"net/http"

	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"

	"github.com/torosent/bffbench/internal/clientmetrics"
	"github.com/torosent/bffbench/internal/httpclient"
	"github.com/torosent/bffbench/internal/tracing"
	"github.com/torosent/bffbench/internal/workproto"
)

// maxErrorBody caps how much of a failed response ends up in the error.
const maxErrorBody = 256

type restTransport struct {
	client      *http.Client
	endpoint    string
	payloadSize int
	metrics     *clientmetrics.ClientMetrics
}

func newRESTTransport(cfg Config) (*restTransport, error) {
	endpoint, err := httpclient.WorkEndpoint(cfg.Backend.RESTURL)
	if err != nil {
		return nil, fmt.Errorf("backend %s: %w", cfg.Backend.Name, err)
	}
	client := cfg.HTTPClient
	if client == nil {
		client = httpclient.NewClient(cfg.Timeout)
	}
	return &restTransport{
		client:      client,
		endpoint:    endpoint,
		payloadSize: cfg.PayloadSize,
		metrics:     clientmetrics.New(),
	}, nil
}

func (t *restTransport) roundTrip(ctx context.Context, correlationID string) ([]attribute.KeyValue, error) {
	req, err := httpclient.NewWorkRequest(ctx, t.endpoint, workproto.Request{
		PayloadSize:   t.payloadSize,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	tracing.InjectHTTPHeaders(ctx, req.Header)

	resp, err := t.client.Do(req)
	if err != nil {
		t.metrics.ObserveCall(req.ContentLength, 0, true)
		return nil, err
	}
	body, err := httpclient.ReadBody(resp)
	attrs := []attribute.KeyValue{attribute.Int("http.response.status_code", resp.StatusCode)}
	if err != nil {
		t.metrics.ObserveCall(req.ContentLength, int64(len(body)), true)
		return attrs, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		t.metrics.ObserveCall(req.ContentLength, int64(len(body)), true)
		snippet := string(body)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody]
		}
		return attrs, &StatusError{StatusCode: resp.StatusCode, Body: snippet}
	}

	t.metrics.ObserveCall(req.ContentLength, int64(len(body)), false)
	attrs = append(attrs,
		attribute.Int64("items.count", gjson.GetBytes(body, "items.#").Int()),
		attribute.Int("response.bytes", len(body)),
	)
	return attrs, nil
}

func (t *restTransport) stats() clientmetrics.Snapshot {
	return t.metrics.Snapshot()
}

func (t *restTransport) close() error {
	t.client.CloseIdleConnections()
	return nil
}
