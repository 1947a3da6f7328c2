package bridge

import (
	"context"
	"errors"
	"time"

	"github.com/speedrun-hq/offramp-settler/pkg/eventloop"
	"github.com/speedrun-hq/offramp-settler/pkg/logger"
	"github.com/speedrun-hq/offramp-settler/pkg/metrics"
	"github.com/speedrun-hq/offramp-settler/pkg/models"
	"github.com/speedrun-hq/offramp-settler/pkg/retry"
)

// DefaultRefreshInterval is how often a cached quote is refreshed while quoting
const DefaultRefreshInterval = 30 * time.Second

// QuoteCallbacks are invoked on the event loop
type QuoteCallbacks struct {
	OnQuote func(models.SettlementQuote)
	// OnFailure reports a failed refresh that will be retried after retryIn
	OnFailure func(err error, attempt int, retryIn time.Duration)
	// OnBlocked reports that the quote ceiling was exceeded and refreshing stopped
	OnBlocked func(err error)
}

// QuoteManager keeps a fresh settlement quote while quoting is active.
// All methods must be called on the event loop.
type QuoteManager struct {
	loop            *eventloop.Loop
	providers       *Providers
	scheduler       *retry.Scheduler
	counter         *retry.Counter
	refreshInterval time.Duration
	callbacks       QuoteCallbacks
	logger          logger.Logger

	generation uint64
	active     bool
	inFlight   bool
	ctx        context.Context
	cancel     context.CancelFunc
	req        PriceRequest
	current    *models.SettlementQuote
	sequence   uint64
}

// NewQuoteManager creates a quote manager
func NewQuoteManager(
	loop *eventloop.Loop,
	providers *Providers,
	scheduler *retry.Scheduler,
	counter *retry.Counter,
	refreshInterval time.Duration,
	callbacks QuoteCallbacks,
	log logger.Logger,
) *QuoteManager {
	if refreshInterval <= 0 {
		refreshInterval = DefaultRefreshInterval
	}
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &QuoteManager{
		loop:            loop,
		providers:       providers,
		scheduler:       scheduler,
		counter:         counter,
		refreshInterval: refreshInterval,
		callbacks:       callbacks,
		logger:          log,
	}
}

// Start begins quoting req, superseding any previous run
func (m *QuoteManager) Start(ctx context.Context, req PriceRequest) {
	m.Stop()
	m.generation++
	m.active = true
	m.inFlight = false
	m.req = req
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.Refresh()
}

// Refresh fetches a new quote unless one is already being fetched
func (m *QuoteManager) Refresh() {
	if !m.active {
		return
	}
	if m.inFlight {
		m.logger.Debug("Quote refresh already in flight for intent %s, dropping request", m.req.IntentHash)
		return
	}
	m.inFlight = true

	gen := m.generation
	ctx := m.ctx
	req := m.req
	go func() {
		res, err := m.providers.FetchWithFallback(ctx, req)
		m.loop.Post(func() {
			m.handleResult(gen, res, err)
		})
	}()
}

// Stop halts refreshing; late results of the stopped run are dropped
func (m *QuoteManager) Stop() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.active {
		m.generation++
	}
	m.active = false
	m.inFlight = false
	m.scheduler.Cancel(retry.ClassQuote)
}

// Active reports whether quoting is running
func (m *QuoteManager) Active() bool {
	return m.active
}

// Current returns the latest quote of this or a previous run, or nil
func (m *QuoteManager) Current() *models.SettlementQuote {
	if m.current == nil {
		return nil
	}
	q := *m.current
	return &q
}

// Clear forgets the cached quote
func (m *QuoteManager) Clear() {
	m.current = nil
}

func (m *QuoteManager) handleResult(gen uint64, res *FetchResult, err error) {
	if gen != m.generation || !m.active {
		return
	}
	m.inFlight = false

	if err != nil {
		m.handleFailure(err)
		return
	}

	m.counter.Reset(retry.ClassQuote)
	m.sequence++
	quote := models.SettlementQuote{
		Sequence:         m.sequence,
		Provider:         res.Provider,
		FallbackAttempts: res.FallbackAttempts,
		SourceChain:      m.req.SourceChain,
		SourceToken:      m.req.SourceToken,
		SourceAmount:     m.req.SourceAmount,
		DestChain:        m.req.DestChain,
		DestToken:        m.req.DestToken,
		DestAmount:       res.Price.DestAmount,
		Recipient:        m.req.Recipient,
		Fees:             res.Price.Fees,
		Rate:             res.Price.Rate,
		TimeEstimate:     res.Price.TimeEstimate,
		FetchedAt:        time.Now(),
		Payload:          res.Price.Payload,
	}
	m.current = &quote
	m.logger.Info("Quote #%d for intent %s from %s: %s -> %s", quote.Sequence, m.req.IntentHash,
		quote.Provider, quote.SourceAmount, quote.DestAmount)

	m.scheduler.Schedule(retry.ClassQuote, m.refreshInterval, m.Refresh)
	if m.callbacks.OnQuote != nil {
		m.callbacks.OnQuote(quote)
	}
}

func (m *QuoteManager) handleFailure(err error) {
	st := m.counter.Increment(retry.ClassQuote)
	quoteErr := models.NewQuoteError(m.req.IntentHash, st.Count, isNoRoute(err), err)

	if m.counter.Exceeded(retry.ClassQuote) {
		m.logger.Error("Quote retries exhausted for intent %s after %d attempts: %v", m.req.IntentHash, st.Count, err)
		metrics.MaxRetriesReached.WithLabelValues(string(retry.ClassQuote)).Inc()
		m.Stop()
		if m.callbacks.OnBlocked != nil {
			m.callbacks.OnBlocked(models.NewCeilingExceededError(m.req.IntentHash, st.Count, quoteErr))
		}
		return
	}

	delay := m.scheduler.Delay(st.Count-1, retry.ClassQuote)
	m.scheduler.Schedule(retry.ClassQuote, delay, m.Refresh)
	metrics.RetriesScheduled.WithLabelValues(string(retry.ClassQuote)).Inc()
	metrics.NextRetryIn.WithLabelValues(string(retry.ClassQuote)).Set(delay.Seconds())
	m.logger.Notice("Quote attempt %d for intent %s failed, retrying in %s: %v", st.Count, m.req.IntentHash, delay, err)

	if m.callbacks.OnFailure != nil {
		m.callbacks.OnFailure(quoteErr, st.Count, delay)
	}
}

func isNoRoute(err error) bool {
	return err != nil && errors.Is(err, ErrNoRoute)
}
