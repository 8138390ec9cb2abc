package trace

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	oteltrace "go.opentelemetry.io/otel/trace"
)

func TestInitFailsOnEmptyEndpoint(t *testing.T) {
	shutdown, err := Init("test-service", "0.0.1", "")

	require.Error(t, err)
	assert.Nil(t, shutdown)
	assert.Contains(t, err.Error(), "failed to create trace exporter")
}

func TestInitSucceedsWithoutDialingEagerly(t *testing.T) {
	// otlptracegrpc dials lazily, so an address with no listener behind
	// it still succeeds at Init time; only an actual export attempt
	// would fail.
	shutdown, err := Init("test-service", "0.0.1", "localhost:4317")
	require.NoError(t, err)
	require.NotNil(t, shutdown)
	defer shutdown(context.Background())
}

func TestTracerStartReturnsContextCarryingSpan(t *testing.T) {
	tr := New("cheshire-core/test")
	ctx, span := tr.Start(context.Background(), "unit-test-span")
	defer span.End()

	assert.NotEqual(t, context.Background(), ctx)
	assert.NotNil(t, oteltrace.SpanFromContext(ctx))
}

func TestNilTracerStartIsNoop(t *testing.T) {
	var tr *Tracer
	ctx, span := tr.Start(context.Background(), "unit-test-span")

	assert.Equal(t, context.Background(), ctx)
	assert.NotNil(t, span)
}

func TestRecordErrorIsNoopOnNilError(t *testing.T) {
	tr := New("cheshire-core/test")
	_, span := tr.Start(context.Background(), "unit-test-span")
	defer span.End()

	assert.NotPanics(t, func() { RecordError(span, nil) })
	assert.NotPanics(t, func() { RecordError(span, errors.New("boom")) })
}
