package chainclient

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/offramp-settler/pkg/metrics"
)

func TestGasPriceRoutine(t *testing.T) {
	backend := &fakeBackend{gasPrice: big.NewInt(2_000_000_000)}
	c := newTestClient(t, backend)
	c.GasMultiplier = 1

	routine := NewGasPriceRoutine(c, time.Hour)
	price, _ := routine.Last()
	assert.Nil(t, price)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	routine.Start(ctx)
	assert.True(t, routine.IsRunning())

	// Second start is a no-op
	routine.Start(ctx)
	assert.True(t, routine.IsRunning())

	require.Eventually(t, func() bool {
		price, _ := routine.Last()
		return price != nil
	}, time.Second, time.Millisecond)

	price, at := routine.Last()
	assert.Equal(t, int64(2_000_000_000), price.Int64())
	assert.False(t, at.IsZero())
	assert.InDelta(t, 2.0, testutil.ToFloat64(metrics.GasPrice.WithLabelValues("8453")), 1e-9)

	routine.Stop()
	assert.False(t, routine.IsRunning())
	routine.Stop()
	assert.False(t, routine.IsRunning())

	c.mu.Lock()
	assert.Equal(t, int64(2_000_000_000), c.CurrentGasPrice.Int64())
	c.mu.Unlock()
}
