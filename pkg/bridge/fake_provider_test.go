package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/speedrun-hq/offramp-settler/pkg/eventloop"
	"github.com/speedrun-hq/offramp-settler/pkg/models"
	"github.com/speedrun-hq/offramp-settler/pkg/retry"
)

type fakeProvider struct {
	name        string
	expectation Expectation

	mu        sync.Mutex
	priceErrs []error
	priceErr  error
	calls     int
	gate      chan struct{}

	executions int
	events     []models.ProgressEvent
	execErr    error
	hold       bool
	// waitBefore holds back the event at an index until its channel is closed
	waitBefore map[int]chan struct{}
}

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{name: name, expectation: Expectation{TxRefs: 1}}
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) GetPrice(ctx context.Context, req PriceRequest) (*Price, error) {
	f.mu.Lock()
	f.calls++
	gate := f.gate
	var err error
	if len(f.priceErrs) > 0 {
		err = f.priceErrs[0]
		f.priceErrs = f.priceErrs[1:]
	} else {
		err = f.priceErr
	}
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &Price{
		DestAmount: req.SourceAmount.Mul(decimal.RequireFromString("0.99")),
		Rate:       decimal.RequireFromString("0.99"),
		Fees:       models.Fees{Relayer: decimal.RequireFromString("0.5")},
	}, nil
}

func (f *fakeProvider) Execute(ctx context.Context, _ models.SettlementQuote, onProgress func(models.ProgressEvent)) error {
	f.mu.Lock()
	f.executions++
	events := append([]models.ProgressEvent(nil), f.events...)
	execErr := f.execErr
	hold := f.hold
	waitBefore := f.waitBefore
	f.mu.Unlock()

	for i, ev := range events {
		if gate, ok := waitBefore[i]; ok {
			select {
			case <-gate:
			case <-ctx.Done():
				return nil
			}
		}
		onProgress(ev)
	}
	if hold {
		<-ctx.Done()
		return nil
	}
	return execErr
}

func (f *fakeProvider) Expectation(models.WalletType) Expectation {
	return f.expectation
}

func (f *fakeProvider) priceCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *fakeProvider) executionCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.executions
}

// startLoop runs an event loop for the duration of the test
func startLoop(t *testing.T) *eventloop.Loop {
	t.Helper()
	loop := eventloop.New(0)
	ctx, cancel := context.WithCancel(context.Background())
	go loop.Run(ctx)
	t.Cleanup(cancel)
	return loop
}

func fastScheduler(loop *eventloop.Loop) *retry.Scheduler {
	return retry.NewScheduler(
		retry.WithTable([]time.Duration{time.Millisecond, 2 * time.Millisecond}),
		retry.WithDispatcher(loop.Post),
	)
}

func testRequest() PriceRequest {
	return PriceRequest{
		IntentHash:   "0xintent",
		SourceChain:  8453,
		SourceToken:  "USDC",
		SourceAmount: decimal.NewFromInt(100),
		DestChain:    42161,
		DestToken:    "USDT",
		Recipient:    "0x0000000000000000000000000000000000000002",
		Wallet:       models.WalletExternal,
	}
}
