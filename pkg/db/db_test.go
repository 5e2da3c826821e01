package db

import (
	"context"
	"testing"

	"github.com/smallbiznis/installments/pkg/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func TestInstrumentTracesQueries(t *testing.T) {
	conn, err := NewTest(t.Name())
	require.NoError(t, err)

	recorder := tracetest.NewSpanRecorder()
	tp := telemetry.NewProvider(sdktrace.WithSpanProcessor(recorder))
	require.NoError(t, Instrument(conn, "installments", tp))

	ctx, span := tp.Tracer("test").Start(context.Background(), "parent")
	var one int
	require.NoError(t, conn.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error)
	span.End()
	assert.Equal(t, 1, one)

	ended := recorder.Ended()
	require.GreaterOrEqual(t, len(ended), 2)
	query := ended[0]
	assert.Equal(t, span.SpanContext().TraceID(), query.SpanContext().TraceID())
	assert.Equal(t, span.SpanContext().SpanID(), query.Parent().SpanID())
}
