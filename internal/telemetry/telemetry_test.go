package telemetry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/resource"
)

func TestSetupDisabled(t *testing.T) {
	p, err := Setup(context.Background(), Config{})
	require.NoError(t, err)
	assert.IsType(t, noop.MeterProvider{}, p.MeterProvider)
	assert.NoError(t, p.Shutdown(context.Background()))
}

func TestSetupEnabled(t *testing.T) {
	p, err := Setup(context.Background(), Config{
		Enabled:  true,
		Endpoint: "localhost:4317",
		Insecure: true,
		Interval: time.Hour,
		Version:  "test",
	})
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.IsType(t, &sdkmetric.MeterProvider{}, p.MeterProvider)

	// No collector is listening, so the final flush may fail.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	_ = p.Shutdown(ctx)
}

func TestProviderExportsCounters(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	p := newProvider(resource.Empty(), reader)
	defer p.Shutdown(context.Background())

	counter, err := p.MeterProvider.Meter("test").Int64Counter("contractline.test")
	require.NoError(t, err)
	counter.Add(context.Background(), 3)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)
	sum, ok := rm.ScopeMetrics[0].Metrics[0].Data.(metricdata.Sum[int64])
	require.True(t, ok)
	assert.Equal(t, int64(3), sum.DataPoints[0].Value)
}

func TestInterval(t *testing.T) {
	assert.Equal(t, 15*time.Second, interval(0))
	assert.Equal(t, time.Minute, interval(time.Minute))
}
