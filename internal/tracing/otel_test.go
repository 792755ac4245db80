package tracing

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
)

func TestInitExportsSpans(t *testing.T) {
	prev := otel.GetTracerProvider()
	defer otel.SetTracerProvider(prev)

	var buf bytes.Buffer
	shutdown, err := InitWithWriter("knock-test", &buf)
	require.NoError(t, err)

	_, span := Tracer("test").Start(context.Background(), "poll")
	span.End()

	require.NoError(t, shutdown(context.Background()))
	assert.Contains(t, buf.String(), `"Name":"poll"`)
	assert.Contains(t, buf.String(), "knock-test")
}

func TestNoop(t *testing.T) {
	assert.NoError(t, Noop()(context.Background()))
}
