package bridge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/speedrun-hq/offramp-settler/pkg/eventloop"
	"github.com/speedrun-hq/offramp-settler/pkg/logger"
	"github.com/speedrun-hq/offramp-settler/pkg/metrics"
	"github.com/speedrun-hq/offramp-settler/pkg/models"
	"github.com/speedrun-hq/offramp-settler/pkg/retry"
)

// ErrExecutionEnded is reported when a provider stops reporting before any transaction was seen
var ErrExecutionEnded = errors.New("bridge execution ended without a transaction")

// ExecutionCallbacks are invoked on the event loop
type ExecutionCallbacks struct {
	OnProgress func(ev models.ProgressEvent)
	OnComplete func(outcome models.SettlementOutcome)
	// OnFailure reports a failed execution whose retry fires after retryIn
	OnFailure func(err error, attempt int, retryIn time.Duration)
	// OnRetry fires when the retry delay elapsed; the caller must quote again
	OnRetry func()
	// OnBlocked reports that the execution ceiling was reached, or that the provider
	// failed the execution after a transaction was seen
	OnBlocked func(err error)
}

// ExecutionManager runs one settlement quote through its provider and decides when it is complete.
// All methods must be called on the event loop.
type ExecutionManager struct {
	loop      *eventloop.Loop
	providers *Providers
	scheduler *retry.Scheduler
	counter   *retry.Counter
	timeout   time.Duration
	callbacks ExecutionCallbacks
	logger    logger.Logger
	now       func() time.Time

	generation uint64
	active     bool
	completed  bool
	cancel     context.CancelFunc
	quote      models.SettlementQuote
	intentHash string
	pc         ProviderContext
	refs       []models.TransactionRef
	lastStatus models.StepStatus
}

// NewExecutionManager creates an execution manager
func NewExecutionManager(
	loop *eventloop.Loop,
	providers *Providers,
	scheduler *retry.Scheduler,
	counter *retry.Counter,
	completionTimeout time.Duration,
	callbacks ExecutionCallbacks,
	log logger.Logger,
) *ExecutionManager {
	if completionTimeout <= 0 {
		completionTimeout = DefaultCompletionTimeout
	}
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &ExecutionManager{
		loop:      loop,
		providers: providers,
		scheduler: scheduler,
		counter:   counter,
		timeout:   completionTimeout,
		callbacks: callbacks,
		logger:    log,
		now:       time.Now,
	}
}

// Execute starts executing quote, superseding any previous execution
func (m *ExecutionManager) Execute(ctx context.Context, intentHash string, quote models.SettlementQuote, wallet models.WalletType) {
	m.Stop()
	m.generation++
	m.active = true
	m.completed = false
	m.quote = quote
	m.intentHash = intentHash
	m.refs = nil
	m.lastStatus = models.StepPending

	provider, ok := m.providers.Get(quote.Provider)
	if !ok {
		m.fail(fmt.Errorf("unknown bridge provider %q", quote.Provider))
		return
	}
	m.pc = ProviderContext{Expectation: provider.Expectation(wallet), Timeout: m.timeout}

	execCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	gen := m.generation

	m.logger.Info("Executing quote #%d for intent %s via %s", quote.Sequence, intentHash, quote.Provider)
	go func() {
		err := provider.Execute(execCtx, quote, func(ev models.ProgressEvent) {
			m.loop.Post(func() {
				m.handleEvent(gen, ev)
			})
		})
		m.loop.Post(func() {
			m.handleExit(gen, err)
		})
	}()
}

// Stop abandons the running execution; its late events are dropped
func (m *ExecutionManager) Stop() {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	if m.active {
		m.generation++
	}
	m.active = false
	m.scheduler.Cancel(retry.ClassCompletion)
	m.scheduler.Cancel(retry.ClassExecution)
}

// Active reports whether an execution is running
func (m *ExecutionManager) Active() bool {
	return m.active
}

// TxRefs returns the references seen by the latest execution
func (m *ExecutionManager) TxRefs() []models.TransactionRef {
	return append([]models.TransactionRef(nil), m.refs...)
}

func (m *ExecutionManager) current(gen uint64) bool {
	return gen == m.generation && m.active && !m.completed
}

func (m *ExecutionManager) handleEvent(gen uint64, ev models.ProgressEvent) {
	if !m.current(gen) {
		return
	}

	m.refs = mergeRefs(m.refs, ev.TxRefs)
	seen := RealRefs(m.refs)

	if ev.Err != nil {
		if len(seen) == 0 {
			m.fail(ev.Err)
			return
		}
		m.halt(ev.Err)
		return
	}

	if ev.Status != "" {
		m.lastStatus = ev.Status
	}
	if len(seen) > 0 && m.pc.FirstRefAt.IsZero() {
		m.pc.FirstRefAt = m.now()
		m.scheduler.Schedule(retry.ClassCompletion, m.timeout, func() {
			m.checkTimeout(gen)
		})
	}

	merged := models.ProgressEvent{Status: m.lastStatus, TxRefs: m.refs}
	if decision := Classify(merged, m.pc, m.now()); decision.Complete {
		m.complete(decision)
		return
	}

	if m.callbacks.OnProgress != nil {
		m.callbacks.OnProgress(merged)
	}
}

func (m *ExecutionManager) checkTimeout(gen uint64) {
	if !m.current(gen) {
		return
	}
	ev := models.ProgressEvent{Status: m.lastStatus, TxRefs: m.refs}
	if decision := Classify(ev, m.pc, m.now()); decision.Complete {
		m.complete(decision)
	}
}

func (m *ExecutionManager) handleExit(gen uint64, err error) {
	if !m.current(gen) {
		return
	}
	if len(RealRefs(m.refs)) > 0 {
		// the completion timer is armed and settles the execution
		if err != nil {
			m.logger.Notice("Bridge %s stream ended for intent %s: %v", m.quote.Provider, m.intentHash, err)
		}
		return
	}
	if err == nil {
		err = ErrExecutionEnded
	}
	m.fail(err)
}

func (m *ExecutionManager) complete(decision Decision) {
	m.completed = true
	m.active = false
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.counter.ResetAll()
	m.scheduler.CancelAll()

	outcome := models.SettlementOutcome{
		Provider:    m.quote.Provider,
		TxRefs:      decision.Refs,
		Complete:    true,
		Signal:      decision.Signal,
		CompletedAt: m.now(),
	}
	metrics.BridgeCompletions.WithLabelValues(outcome.Provider, string(outcome.Signal)).Inc()
	m.logger.Info("Bridge execution for intent %s complete via %s (%s signal)", m.intentHash, outcome.Provider, outcome.Signal)

	if m.callbacks.OnComplete != nil {
		m.callbacks.OnComplete(outcome)
	}
}

// halt ends an execution the provider failed after funds started moving.
// It is neither retried nor settled by the completion timer.
func (m *ExecutionManager) halt(cause error) {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.active = false
	m.pc.Failed = true
	m.scheduler.Cancel(retry.ClassCompletion)

	st := m.counter.Increment(retry.ClassExecution)
	m.logger.Error("Bridge %s failed intent %s after a transaction was seen: %v", m.quote.Provider, m.intentHash, cause)
	if m.callbacks.OnBlocked != nil {
		m.callbacks.OnBlocked(models.NewBridgeExecutionError(m.intentHash, st.Count, cause))
	}
}

func (m *ExecutionManager) fail(cause error) {
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.active = false
	m.scheduler.Cancel(retry.ClassCompletion)

	st := m.counter.Increment(retry.ClassExecution)
	bridgeErr := models.NewBridgeExecutionError(m.intentHash, st.Count, cause)

	if m.counter.Reached(retry.ClassExecution) {
		m.logger.Error("Bridge execution for intent %s failed %d times, giving up: %v", m.intentHash, st.Count, cause)
		metrics.MaxRetriesReached.WithLabelValues(string(retry.ClassExecution)).Inc()
		if m.callbacks.OnBlocked != nil {
			m.callbacks.OnBlocked(models.NewCeilingExceededError(m.intentHash, st.Count, bridgeErr))
		}
		return
	}

	gen := m.generation
	delay := m.scheduler.Delay(st.Count-1, retry.ClassExecution)
	m.scheduler.Schedule(retry.ClassExecution, delay, func() {
		if gen != m.generation || m.active {
			return
		}
		if m.callbacks.OnRetry != nil {
			m.callbacks.OnRetry()
		}
	})
	metrics.RetriesScheduled.WithLabelValues(string(retry.ClassExecution)).Inc()
	metrics.NextRetryIn.WithLabelValues(string(retry.ClassExecution)).Set(delay.Seconds())
	m.logger.Notice("Bridge execution attempt %d for intent %s failed, re-quoting in %s: %v", st.Count, m.intentHash, delay, cause)

	if m.callbacks.OnFailure != nil {
		m.callbacks.OnFailure(bridgeErr, st.Count, delay)
	}
}

// mergeRefs appends real refs not already present
func mergeRefs(existing, incoming []models.TransactionRef) []models.TransactionRef {
	out := append([]models.TransactionRef(nil), existing...)
	for _, ref := range incoming {
		if ref.IsPlaceholder() {
			continue
		}
		seen := false
		for _, have := range out {
			if have.Hash == ref.Hash && have.ChainID == ref.ChainID {
				seen = true
				break
			}
		}
		if !seen {
			out = append(out, ref)
		}
	}
	return out
}
