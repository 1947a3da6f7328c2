package chainclient

import (
	"context"
	"math/big"
	"strconv"
	"sync"
	"time"

	"github.com/speedrun-hq/offramp-settler/pkg/metrics"
)

// failures in a row before a stale gas price is reported as a notice
const staleGasPriceFailures = 3

// GasPriceRoutine keeps the client's gas price fresh between fulfillment transactions
type GasPriceRoutine struct {
	client   *Client
	interval time.Duration

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	last     *big.Int
	lastAt   time.Time
	failures int
}

// NewGasPriceRoutine creates a routine refreshing the gas price of client every interval
func NewGasPriceRoutine(client *Client, interval time.Duration) *GasPriceRoutine {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &GasPriceRoutine{
		client:   client,
		interval: interval,
	}
}

// Start refreshes the gas price once and then every interval until Stop or ctx is done
func (r *GasPriceRoutine) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancel != nil {
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	go r.run(runCtx, r.done)
}

// Stop ends the routine and waits for an in-flight refresh to return
func (r *GasPriceRoutine) Stop() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.cancel, r.done = nil, nil
	r.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// IsRunning returns whether the routine is currently running
func (r *GasPriceRoutine) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cancel != nil
}

// Last returns the last gas price fetched and when, nil before the first success
func (r *GasPriceRoutine) Last() (*big.Int, time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.last == nil {
		return nil, time.Time{}
	}
	return new(big.Int).Set(r.last), r.lastAt
}

func (r *GasPriceRoutine) run(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		r.refresh(ctx)
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return
		}
	}
}

func (r *GasPriceRoutine) refresh(ctx context.Context) {
	chainID := r.client.ChainID
	gasPrice, err := r.client.UpdateGasPrice(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.mu.Lock()
		r.failures++
		failures, lastAt := r.failures, r.lastAt
		r.mu.Unlock()

		if failures == staleGasPriceFailures {
			r.client.logger.NoticeWithChain(chainID, "Gas price not refreshed %d times in a row, last update %s", failures, lastAt.Format(time.RFC3339))
		} else {
			r.client.logger.ErrorWithChain(chainID, "Failed to update gas price: %v", err)
		}
		return
	}

	gwei, _ := new(big.Float).Quo(new(big.Float).SetInt(gasPrice), big.NewFloat(1e9)).Float64()
	metrics.GasPrice.WithLabelValues(strconv.Itoa(chainID)).Set(gwei)
	r.client.logger.DebugWithChain(chainID, "Gas price updated: %.2f gwei", gwei)

	r.mu.Lock()
	r.last, r.lastAt, r.failures = gasPrice, time.Now(), 0
	r.mu.Unlock()
}
