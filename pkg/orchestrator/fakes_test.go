package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/speedrun-hq/offramp-settler/pkg/bridge"
	"github.com/speedrun-hq/offramp-settler/pkg/models"
	"github.com/speedrun-hq/offramp-settler/pkg/store"
	"github.com/speedrun-hq/offramp-settler/pkg/submission"
)

const testAccount = "0x00000000000000000000000000000000000000a1"

var testIntent = common.HexToHash("0x1111")

type fakeSubmitter struct {
	mu    sync.Mutex
	errs  []error
	calls int
	gate  chan struct{}
	// hook replaces the scripted behaviour; call counts from 1
	hook    func(ctx context.Context, call int) error
	observe func(submission.State)
}

func (f *fakeSubmitter) Submit(ctx context.Context, _ models.Proof, _ common.Hash) (models.TransactionRef, error) {
	f.mu.Lock()
	f.calls++
	call, hook := f.calls, f.hook
	var err error
	if len(f.errs) > 0 {
		err = f.errs[0]
		f.errs = f.errs[1:]
	}
	gate := f.gate
	f.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, call); err != nil {
			return models.TransactionRef{}, err
		}
		return models.TransactionRef{Hash: "0xfeed", ChainID: 8453}, nil
	}

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return models.TransactionRef{}, ctx.Err()
		}
	}
	if err != nil {
		return models.TransactionRef{}, err
	}
	return models.TransactionRef{Hash: "0xfeed", ChainID: 8453}, nil
}

func (f *fakeSubmitter) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeProvider struct {
	name        string
	expectation bridge.Expectation

	mu        sync.Mutex
	priceErrs []error
	priceErr  error
	gate      chan struct{}
	events    []models.ProgressEvent
	prices    int
	execs     int
}

func newFakeProvider(name string) *fakeProvider {
	return &fakeProvider{name: name, expectation: bridge.Expectation{TxRefs: 2}}
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) Expectation(models.WalletType) bridge.Expectation { return p.expectation }

func (p *fakeProvider) GetPrice(ctx context.Context, _ bridge.PriceRequest) (*bridge.Price, error) {
	p.mu.Lock()
	p.prices++
	var err error
	if len(p.priceErrs) > 0 {
		err = p.priceErrs[0]
		p.priceErrs = p.priceErrs[1:]
	} else {
		err = p.priceErr
	}
	gate := p.gate
	p.mu.Unlock()

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
	return &bridge.Price{
		DestAmount: decimal.RequireFromString("99"),
		Rate:       decimal.RequireFromString("0.99"),
		Fees:       models.Fees{Relayer: decimal.RequireFromString("1")},
	}, nil
}

// Execute replays the configured events and then waits for cancellation
func (p *fakeProvider) Execute(ctx context.Context, _ models.SettlementQuote, onProgress func(models.ProgressEvent)) error {
	p.mu.Lock()
	p.execs++
	events := append([]models.ProgressEvent(nil), p.events...)
	p.mu.Unlock()

	for _, ev := range events {
		onProgress(ev)
	}
	<-ctx.Done()
	return ctx.Err()
}

func (p *fakeProvider) setPriceErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.priceErr = err
}

func (p *fakeProvider) priceCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.prices
}

func (p *fakeProvider) execCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.execs
}

// recordingStore remembers every status it was asked to save
type recordingStore struct {
	*store.MemoryStore
	mu    sync.Mutex
	saved []models.RecordStatus
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryStore: store.NewMemoryStore()}
}

func (s *recordingStore) Save(ctx context.Context, rec models.SettlementRecord) error {
	s.mu.Lock()
	s.saved = append(s.saved, rec.Status)
	s.mu.Unlock()
	return s.MemoryStore.Save(ctx, rec)
}

func (s *recordingStore) savedStatuses() []models.RecordStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.RecordStatus(nil), s.saved...)
}

type fakeViews struct {
	mu       sync.Mutex
	balances int
	intents  int
}

func (v *fakeViews) RefreshBalances(context.Context, string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.balances++
	return nil
}

func (v *fakeViews) RefreshIntents(context.Context, string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.intents++
	return nil
}

func (v *fakeViews) refreshed() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.balances == 1 && v.intents == 1
}

type harness struct {
	orch      *Orchestrator
	submitter *fakeSubmitter
	store     *recordingStore
	views     *fakeViews
}

func newHarness(t *testing.T, cfg Config, providers ...bridge.Provider) *harness {
	t.Helper()
	cfg.Account = testAccount
	cfg.ChainID = 8453
	if cfg.BackoffTable == nil {
		cfg.BackoffTable = []time.Duration{time.Millisecond, 2 * time.Millisecond}
	}
	h := &harness{
		submitter: &fakeSubmitter{},
		store:     newRecordingStore(),
		views:     &fakeViews{},
	}
	h.orch = New(cfg, Deps{
		Submitter: h.submitter,
		Providers: bridge.NewProviders(providers, nil, true, nil),
		Store:     h.store,
		Views:     h.views,
	})
	h.submitter.observe = h.orch.ObserveSubmission
	t.Cleanup(h.orch.Close)
	return h
}

func (h *harness) waitPhase(t *testing.T, phase Phase) Status {
	t.Helper()
	assert.Eventually(t, func() bool { return h.orch.Status().Phase == phase }, 2*time.Second, time.Millisecond,
		"expected phase %s", phase)
	return h.orch.Status()
}

func (h *harness) record(t *testing.T) *models.SettlementRecord {
	t.Helper()
	rec, err := h.store.Get(context.Background(), testAccount)
	assert.NoError(t, err)
	return rec
}

func proofRequest(settlement *Settlement) Request {
	return Request{
		IntentHash:  testIntent,
		Proof:       models.Proof{Platform: "venmo", Payload: []byte{1, 2, 3}},
		SourceToken: "USDC",
		Amount:      decimal.RequireFromString("100"),
		Settlement:  settlement,
	}
}

func arbitrumUSDT() *Settlement {
	return &Settlement{DestChain: 42161, DestToken: "USDT", Recipient: "0x00000000000000000000000000000000000000b2"}
}

func txRef(hash string) models.TransactionRef {
	return models.TransactionRef{Hash: hash, ChainID: 42161}
}
