package redis

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/tablepulse/internal/adapter/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_Connects(t *testing.T) {
	client := setupTestClient(t)
	ctx := context.Background()

	err := client.Ping(ctx).Err()
	require.NoError(t, err)
}

func TestNewClient_RecordsCommands(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test")
	}
	ctx := context.Background()
	m := metrics.NewStorageMetrics(prometheus.NewRegistry())

	client, err := NewClient(ctx, testRedisURL, m)
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	require.NoError(t, client.Publish(ctx, eventsChannel, "{}").Err())

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RedisOps.WithLabelValues("ping", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RedisOps.WithLabelValues("publish", "success")))
}
