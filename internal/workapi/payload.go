package workapi

import (
	"context"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/bffbench/internal/workproto"
)

const (
	minItems     = 10
	maxItems     = 200
	bytesPerItem = 32
)

// Generate builds the deterministic payload for size bytes. Negative sizes
// are treated as zero. Only generatedAtUtc varies between calls.
func Generate(size int, now time.Time) workproto.Response {
	if size < 0 {
		size = 0
	}
	count := min(maxItems, size/bytesPerItem)
	count = max(minItems, count)

	items := make([]string, count)
	suffix := "-size-" + strconv.Itoa(size)
	for i := range items {
		items[i] = "item-" + strconv.Itoa(i) + suffix
	}

	return workproto.Response{
		BigString: strings.Repeat("x", size),
		Items:     items,
		Metadata: map[string]string{
			"payloadSize":    strconv.Itoa(size),
			"items":          strconv.Itoa(count),
			"generatedAtUtc": now.UTC().Format(time.RFC3339Nano),
		},
	}
}

// generate wraps Generate in a GeneratePayload span.
func (s *Server) generate(ctx context.Context, size int) workproto.Response {
	_, span := s.tracer.Start(ctx, "GeneratePayload",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attribute.Int("payload.size", size)),
	)
	defer span.End()
	return Generate(size, s.now())
}
