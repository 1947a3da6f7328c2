// Package orchestrator sequences proof submission, bridge quoting and bridge execution
// for one account and exposes the run as a single observable status.
//
// Every piece of run state is owned by an event loop. Network calls run on their own
// goroutines and post their results back tagged with the run generation; results of a
// superseded or cancelled run are dropped.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/speedrun-hq/offramp-settler/pkg/bridge"
	"github.com/speedrun-hq/offramp-settler/pkg/eventloop"
	"github.com/speedrun-hq/offramp-settler/pkg/logger"
	"github.com/speedrun-hq/offramp-settler/pkg/metrics"
	"github.com/speedrun-hq/offramp-settler/pkg/models"
	"github.com/speedrun-hq/offramp-settler/pkg/retry"
	"github.com/speedrun-hq/offramp-settler/pkg/store"
	"github.com/speedrun-hq/offramp-settler/pkg/submission"
)

var (
	// ErrClosed is returned once the orchestrator is closed
	ErrClosed = errors.New("orchestrator is closed")
	// ErrStaleQuote is returned when accepting a quote that was superseded
	ErrStaleQuote = errors.New("quote is no longer current")
	// ErrNoQuote is returned when accepting a quote outside of quote-ready
	ErrNoQuote = errors.New("no quote is ready")
	// ErrNothingToRetry is returned by ManualRetry when the current phase has no retry path
	ErrNothingToRetry = errors.New("nothing to retry")
	// ErrNeedsNewProof is returned by ManualRetry after the proof itself was rejected
	ErrNeedsNewProof = errors.New("a new proof or payment is required")
)

const (
	persistTimeout     = 5 * time.Second
	refreshViewTimeout = 30 * time.Second
	subscriberBuffer   = 16
)

// Submitter submits a payment proof on chain
type Submitter interface {
	Submit(ctx context.Context, proof models.Proof, intentHash common.Hash) (models.TransactionRef, error)
}

// ViewRefresher refreshes the balance and intent views of an account after settlement
type ViewRefresher interface {
	RefreshBalances(ctx context.Context, account string) error
	RefreshIntents(ctx context.Context, account string) error
}

// Settlement is where released funds are bridged to
type Settlement struct {
	DestChain int    `json:"dest_chain"`
	DestToken string `json:"dest_token"`
	Recipient string `json:"recipient"`
}

// Request starts a fulfillment run
type Request struct {
	IntentHash      common.Hash  `json:"intent_hash"`
	Proof           models.Proof `json:"proof"`
	PaymentPlatform string       `json:"payment_platform"`
	// ProofSelector picks the payment the proof service proves when Proof is empty
	ProofSelector string          `json:"proof_selector,omitempty"`
	SourceToken   string          `json:"source_token"`
	Amount        decimal.Decimal `json:"amount"`
	// Settlement is nil when the released token is kept as is
	Settlement *Settlement `json:"settlement,omitempty"`
}

// Config configures an orchestrator
type Config struct {
	// Account is the fulfilling account, the key of the persisted record
	Account           string
	Wallet            models.WalletType
	ChainID           int
	AutoAccept        bool
	RefreshInterval   time.Duration
	CompletionTimeout time.Duration
	BackoffTable      []time.Duration
	QuoteCeiling      int
	ExecutionCeiling  int
}

// Deps are the collaborators of an orchestrator. Store and Views may be nil.
type Deps struct {
	Submitter Submitter
	Providers *bridge.Providers
	Store     store.Store
	Views     ViewRefresher
	Logger    logger.Logger
}

// Orchestrator drives fulfillment runs one at a time
type Orchestrator struct {
	cfg       Config
	loop      *eventloop.Loop
	submitter Submitter
	store     store.Store
	views     ViewRefresher
	scheduler *retry.Scheduler
	counter   *retry.Counter
	quotes    *bridge.QuoteManager
	exec      *bridge.ExecutionManager
	logger    logger.Logger

	baseCtx    context.Context
	baseCancel context.CancelFunc
	closeOnce  sync.Once

	// owned by the loop
	runLog     logger.Logger
	generation uint64
	submitGen  uint64
	submitDone chan struct{}
	runCtx     context.Context
	runCancel  context.CancelFunc
	quoting    bool
	req        *Request
	status     Status

	mu       sync.RWMutex
	snapshot Status
	subs     map[int]chan Status
	nextSub  int
	closed   bool
}

// New creates an orchestrator and starts its event loop
func New(cfg Config, deps Deps) *Orchestrator {
	log := deps.Logger
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	st := deps.Store
	if st == nil {
		st = store.NewMemoryStore()
	}
	if cfg.Wallet == "" {
		cfg.Wallet = models.WalletExternal
	}

	loop := eventloop.New(eventloop.DefaultBufferSize)
	opts := []retry.Option{retry.WithDispatcher(loop.Post)}
	if len(cfg.BackoffTable) > 0 {
		opts = append(opts, retry.WithTable(cfg.BackoffTable))
	}
	ceilings := map[retry.OperationClass]int{}
	if cfg.QuoteCeiling > 0 {
		ceilings[retry.ClassQuote] = cfg.QuoteCeiling
	}
	if cfg.ExecutionCeiling > 0 {
		ceilings[retry.ClassExecution] = cfg.ExecutionCeiling
	}

	baseCtx, baseCancel := context.WithCancel(context.Background())
	o := &Orchestrator{
		cfg:        cfg,
		loop:       loop,
		submitter:  deps.Submitter,
		store:      st,
		views:      deps.Views,
		scheduler:  retry.NewScheduler(opts...),
		counter:    retry.NewCounter(ceilings),
		logger:     log,
		runLog:     log,
		baseCtx:    baseCtx,
		baseCancel: baseCancel,
		runCtx:     baseCtx,
		subs:       make(map[int]chan Status),
	}

	o.quotes = bridge.NewQuoteManager(loop, deps.Providers, o.scheduler, o.counter, cfg.RefreshInterval,
		bridge.QuoteCallbacks{
			OnQuote:   o.onQuote,
			OnFailure: o.onQuoteFailure,
			OnBlocked: o.onBlocked,
		}, log)
	o.exec = bridge.NewExecutionManager(loop, deps.Providers, o.scheduler, o.counter, cfg.CompletionTimeout,
		bridge.ExecutionCallbacks{
			OnProgress: o.onProgress,
			OnComplete: o.onComplete,
			OnFailure:  o.onExecutionFailure,
			OnRetry:    o.startQuoting,
			OnBlocked:  o.onBlocked,
		}, log)

	o.status = Status{Phase: PhaseIdle, Label: PhaseIdle.Label(), UpdatedAt: time.Now()}
	o.snapshot = o.status.clone()
	metrics.CurrentPhase.WithLabelValues(string(PhaseIdle)).Set(1)

	go loop.Run(baseCtx)
	return o
}

// Status returns the latest published status
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.snapshot.clone()
}

// Subscribe returns a channel receiving every published status and a function to unsubscribe.
// A slow subscriber loses intermediate statuses, never the latest one.
func (o *Orchestrator) Subscribe() (<-chan Status, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	ch := make(chan Status, subscriberBuffer)
	if o.closed {
		close(ch)
		return ch, func() {}
	}
	id := o.nextSub
	o.nextSub++
	o.subs[id] = ch

	return ch, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if c, ok := o.subs[id]; ok {
			delete(o.subs, id)
			close(c)
		}
	}
}

// ReceiveProof starts a new run for req, superseding the current one
func (o *Orchestrator) ReceiveProof(req Request) error {
	if !o.loop.Do(func() { o.receive(req) }) {
		return ErrClosed
	}
	return nil
}

// AcceptQuote executes the quote with the given sequence number
func (o *Orchestrator) AcceptQuote(sequence uint64) error {
	var err error
	if !o.loop.Do(func() { err = o.accept(sequence) }) {
		return ErrClosed
	}
	return err
}

// ManualRetry resets the retry counters and restarts the step that stopped
func (o *Orchestrator) ManualRetry() error {
	var err error
	if !o.loop.Do(func() { err = o.manualRetry() }) {
		return ErrClosed
	}
	return err
}

// Cancel abandons the current run and clears its persisted record
func (o *Orchestrator) Cancel() error {
	if !o.loop.Do(o.cancelRun) {
		return ErrClosed
	}
	return nil
}

// Resume continues a settlement persisted by a previous process.
// It returns false when there is nothing to resume or a run is already active.
func (o *Orchestrator) Resume(ctx context.Context) (bool, error) {
	rec, err := o.store.Get(ctx, o.cfg.Account)
	if err != nil {
		return false, fmt.Errorf("failed to load settlement record: %w", err)
	}
	if rec == nil {
		return false, nil
	}

	var resumed bool
	if !o.loop.Do(func() { resumed = o.resume(*rec) }) {
		return false, ErrClosed
	}
	return resumed, nil
}

// ObserveSubmission records a submission sub-state change. It must not be called from the loop.
func (o *Orchestrator) ObserveSubmission(state submission.State) {
	o.loop.Post(func() {
		if o.submitGen != o.generation || o.status.Phase != PhaseSubmittingProof {
			return
		}
		o.status.SubmissionState = state
		o.publish()
	})
}

// Close tears the current run down and stops the event loop
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		o.loop.Do(o.teardown)
		o.loop.Stop()
		o.baseCancel()

		o.mu.Lock()
		defer o.mu.Unlock()
		o.closed = true
		for id, ch := range o.subs {
			delete(o.subs, id)
			close(ch)
		}
	})
}

func (o *Orchestrator) receive(req Request) {
	if req.PaymentPlatform == "" {
		req.PaymentPlatform = req.Proof.Platform
	}
	o.newRun(&req)
	o.runLog.Info("Received proof for intent %s", req.IntentHash.Hex())
	o.setPhase(PhaseProofReceived)
	o.submit()
}

// newRun supersedes the current run; a new intent starts with fresh counters
func (o *Orchestrator) newRun(req *Request) {
	o.teardown()
	o.counter.ResetAll()
	o.runCtx, o.runCancel = context.WithCancel(o.baseCtx)
	o.req = req
	o.status = Status{
		RunID:      uuid.NewString(),
		Phase:      o.status.Phase,
		IntentHash: req.IntentHash.Hex(),
		Bridging:   req.Settlement != nil,
	}
	o.runLog = logger.WithPrefix(o.logger, fmt.Sprintf("[run %.8s] ", o.status.RunID))
}

// teardown cancels every timer and marks in-flight results of the current run stale
func (o *Orchestrator) teardown() {
	o.generation++
	if o.runCancel != nil {
		o.runCancel()
		o.runCancel = nil
	}
	o.quotes.Stop()
	o.quotes.Clear()
	o.exec.Stop()
	o.scheduler.CancelAll()
	o.quoting = false
}

// submit starts a submission once the previous one, possibly of a superseded run,
// has returned. Submissions never overlap.
func (o *Orchestrator) submit() {
	o.setPhase(PhaseSubmittingProof)

	gen := o.generation
	ctx := o.runCtx
	req := *o.req
	prev := o.submitDone
	done := make(chan struct{})
	o.submitDone = done
	go func() {
		defer close(done)
		if prev != nil {
			<-prev
		}
		if ctx.Err() != nil {
			return
		}
		// sub-states reported from here on belong to gen
		o.loop.Post(func() { o.submitGen = gen })
		ref, err := o.submitter.Submit(ctx, req.Proof, req.IntentHash)
		o.loop.Post(func() {
			o.handleSubmitted(gen, ref, err)
		})
	}()
}

func (o *Orchestrator) handleSubmitted(gen uint64, ref models.TransactionRef, err error) {
	if gen != o.generation {
		o.logger.Debug("Dropping submission result of a superseded run")
		return
	}
	if err != nil {
		o.handleSubmitError(err)
		return
	}

	o.status.TxRef = &ref
	o.saveRecord(models.RecordFulfilled)

	if o.req.Settlement == nil {
		o.settle(nil)
		return
	}
	o.startQuoting()
}

func (o *Orchestrator) handleSubmitError(err error) {
	switch models.CategoryOf(err) {
	case models.CategoryUserRejection:
		// not a failure, back to where the user can submit again
		o.runLog.Notice("Fulfillment of intent %s was rejected by the signer", o.status.IntentHash)
		o.setPhase(PhaseProofReceived)
	case models.CategoryValidation:
		o.fail(PhaseValidationFailed, RemediationContactSupport, err)
	case models.CategorySimulation:
		o.fail(PhaseSimulationFailed, RemediationSelectDifferentPayment, err)
	default:
		o.fail(PhaseExecutionFailed, RemediationResubmit, err)
	}
}

// startQuoting is the single entry into quoting; duplicate triggers are ignored
func (o *Orchestrator) startQuoting() {
	if o.quoting {
		o.runLog.Debug("Quoting already in progress for intent %s, ignoring trigger", o.status.IntentHash)
		return
	}
	if o.req == nil || o.req.Settlement == nil || o.status.TxRef == nil {
		return
	}
	o.quoting = true
	o.status.NextRetryAt = nil
	o.setPhase(PhaseQuoting)
	o.quotes.Start(o.runCtx, o.priceRequest())
}

func (o *Orchestrator) priceRequest() bridge.PriceRequest {
	return bridge.PriceRequest{
		IntentHash:   o.status.IntentHash,
		SourceChain:  o.cfg.ChainID,
		SourceToken:  o.req.SourceToken,
		SourceAmount: o.req.Amount,
		DestChain:    o.req.Settlement.DestChain,
		DestToken:    o.req.Settlement.DestToken,
		Sender:       o.cfg.Account,
		Recipient:    o.req.Settlement.Recipient,
		Wallet:       o.cfg.Wallet,
	}
}

func (o *Orchestrator) onQuote(quote models.SettlementQuote) {
	o.status.Quote = &quote
	o.status.NextRetryAt = nil
	if o.cfg.AutoAccept {
		o.acceptQuote(quote)
		return
	}
	o.setPhase(PhaseQuoteReady)
}

func (o *Orchestrator) onQuoteFailure(err error, attempt int, retryIn time.Duration) {
	o.runLog.Debug("Quote attempt %d for intent %s failed: %v", attempt, o.status.IntentHash, err)
	next := time.Now().Add(retryIn)
	o.status.NextRetryAt = &next
	o.status.Remediation = RemediationNone
	o.setPhase(PhaseQuoteRetrying)
}

func (o *Orchestrator) accept(sequence uint64) error {
	if o.status.Phase != PhaseQuoteReady {
		return fmt.Errorf("%w (phase %s)", ErrNoQuote, o.status.Phase)
	}
	current := o.quotes.Current()
	if current == nil || current.Sequence != sequence {
		return ErrStaleQuote
	}
	o.acceptQuote(*current)
	return nil
}

func (o *Orchestrator) acceptQuote(quote models.SettlementQuote) {
	o.quotes.Stop()
	o.quoting = false
	o.status.Quote = &quote
	o.status.Outcome = &models.SettlementOutcome{Provider: quote.Provider}
	o.saveRecord(models.RecordBridging)
	o.setPhase(PhaseExecutingBridge)
	o.exec.Execute(o.runCtx, o.status.IntentHash, quote, o.cfg.Wallet)
}

func (o *Orchestrator) onProgress(ev models.ProgressEvent) {
	if o.status.Outcome == nil {
		return
	}
	o.status.Outcome.TxRefs = append([]models.TransactionRef(nil), ev.TxRefs...)
	o.publish()
}

func (o *Orchestrator) onComplete(outcome models.SettlementOutcome) {
	o.settle(&outcome)
}

func (o *Orchestrator) onExecutionFailure(err error, attempt int, retryIn time.Duration) {
	o.runLog.Debug("Bridge attempt %d for intent %s failed: %v", attempt, o.status.IntentHash, err)
	next := time.Now().Add(retryIn)
	o.status.NextRetryAt = &next
	o.status.Remediation = RemediationNone
	o.setPhase(PhaseBridgeRetrying)
}

func (o *Orchestrator) onBlocked(err error) {
	o.quoting = false
	o.status.NextRetryAt = nil
	remediation := RemediationManualRetry
	if models.IsCategory(err, models.CategoryBridgeExecution) {
		// the provider gave up with funds in flight, keep every reference it reported
		remediation = RemediationContactSupport
		if o.status.Outcome != nil {
			o.status.Outcome.TxRefs = o.exec.TxRefs()
		}
	}
	o.saveRecord(models.RecordBridgeFailed)
	o.fail(PhaseBlocked, remediation, err)
}

func (o *Orchestrator) settle(outcome *models.SettlementOutcome) {
	o.quotes.Stop()
	o.quoting = false
	o.exec.Stop()
	o.scheduler.CancelAll()
	o.counter.ResetAll()

	o.clearRecord()
	if outcome != nil {
		o.status.Outcome = outcome
	}
	o.status.NextRetryAt = nil
	o.setPhase(PhaseSettled)
	metrics.SettledIntents.WithLabelValues(strconv.FormatBool(outcome != nil)).Inc()
	o.runLog.Info("Intent %s settled", o.status.IntentHash)

	o.refreshViews()
}

func (o *Orchestrator) refreshViews() {
	if o.views == nil {
		return
	}
	account := o.cfg.Account
	go func() {
		ctx, cancel := context.WithTimeout(o.baseCtx, refreshViewTimeout)
		defer cancel()
		if err := o.views.RefreshBalances(ctx, account); err != nil {
			o.logger.Error("Failed to refresh balances of %s: %v", account, err)
		}
		if err := o.views.RefreshIntents(ctx, account); err != nil {
			o.logger.Error("Failed to refresh intents of %s: %v", account, err)
		}
	}()
}

func (o *Orchestrator) manualRetry() error {
	switch o.status.Phase {
	case PhaseBlocked, PhaseQuoteRetrying, PhaseBridgeRetrying:
		o.runLog.Info("Manual retry of bridging for intent %s", o.status.IntentHash)
		o.quotes.Stop()
		o.exec.Stop()
		o.scheduler.CancelAll()
		o.counter.ResetAll()
		o.quoting = false
		o.startQuoting()
		return nil
	case PhaseExecutionFailed, PhaseProofReceived:
		if o.req == nil || o.req.Proof.IsEmpty() {
			return ErrNothingToRetry
		}
		o.runLog.Info("Resubmitting proof for intent %s", o.status.IntentHash)
		o.counter.ResetAll()
		o.submit()
		return nil
	case PhaseSimulationFailed, PhaseValidationFailed:
		return ErrNeedsNewProof
	default:
		return fmt.Errorf("%w (phase %s)", ErrNothingToRetry, o.status.Phase)
	}
}

func (o *Orchestrator) cancelRun() {
	o.teardown()
	if o.req != nil {
		o.clearRecord()
	}
	o.status.NextRetryAt = nil
	o.setPhase(PhaseCancelled)
	o.runLog.Notice("Run for intent %s cancelled", o.status.IntentHash)
}

func (o *Orchestrator) resume(rec models.SettlementRecord) bool {
	switch o.status.Phase {
	case PhaseIdle, PhaseSettled, PhaseCancelled:
	default:
		o.runLog.Notice("Not resuming intent %s, a run is active", rec.IntentHash)
		return false
	}

	req := &Request{
		IntentHash:      common.HexToHash(rec.IntentHash),
		PaymentPlatform: rec.PaymentPlatform,
		SourceToken:     rec.SourceToken,
		Amount:          rec.SourceAmount,
	}
	if rec.DestChain != 0 {
		req.Settlement = &Settlement{DestChain: rec.DestChain, DestToken: rec.DestToken, Recipient: rec.Recipient}
	}
	o.newRun(req)
	o.status.TxRef = &models.TransactionRef{Hash: rec.TransactionHash, ChainID: o.cfg.ChainID}
	o.runLog.Info("Resuming intent %s from a %s record", rec.IntentHash, rec.Status)

	if req.Settlement == nil {
		o.settle(nil)
		return true
	}
	if rec.Status == models.RecordBridgeFailed && len(rec.BridgeTxRefs) > 0 {
		// the provider failed with funds in flight, re-quoting could bridge twice
		o.status.Outcome = &models.SettlementOutcome{Provider: rec.Provider, TxRefs: rec.BridgeTxRefs}
		o.fail(PhaseBlocked, RemediationContactSupport,
			models.NewBridgeExecutionError(rec.IntentHash, 0, errors.New("bridge failed after funds were sent")))
		return true
	}
	// a quote from before the restart cannot be executed safely
	o.startQuoting()
	return true
}

func (o *Orchestrator) fail(phase Phase, remediation Remediation, err error) {
	o.status.ErrorCategory = models.CategoryOf(err)
	if o.status.ErrorCategory == "" {
		o.status.ErrorCategory = models.CategoryExecution
	}
	o.status.Error = err.Error()
	o.status.Remediation = remediation
	o.setPhase(phase)
	o.runLog.Error("Intent %s is %s: %v", o.status.IntentHash, phase, err)
}

func (o *Orchestrator) setPhase(phase Phase) {
	prev := o.status.Phase
	if prev != phase {
		metrics.PhaseTransitions.WithLabelValues(string(phase)).Inc()
		metrics.CurrentPhase.WithLabelValues(string(prev)).Set(0)
		metrics.CurrentPhase.WithLabelValues(string(phase)).Set(1)
	}
	o.status.Phase = phase
	o.status.Label = phase.Label()
	if !phase.IsError() {
		o.status.Error = ""
		o.status.ErrorCategory = ""
		o.status.Remediation = RemediationNone
	}
	if phase != PhaseSubmittingProof {
		o.status.SubmissionState = ""
	}
	o.publish()
}

// publish copies the loop-owned status to the shared snapshot and notifies subscribers
func (o *Orchestrator) publish() {
	o.status.QuoteAttempts = o.counter.Count(retry.ClassQuote)
	o.status.ExecutionAttempts = o.counter.Count(retry.ClassExecution)
	o.status.UpdatedAt = time.Now()

	o.mu.Lock()
	defer o.mu.Unlock()
	o.snapshot = o.status.clone()
	for _, ch := range o.subs {
		s := o.status.clone()
		select {
		case ch <- s:
		default:
			// drop the oldest so the latest status is always delivered
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- s:
			default:
			}
		}
	}
}

func (o *Orchestrator) record(status models.RecordStatus) models.SettlementRecord {
	rec := models.SettlementRecord{
		Account:         o.cfg.Account,
		IntentHash:      o.status.IntentHash,
		PaymentPlatform: o.req.PaymentPlatform,
		SourceChain:     o.cfg.ChainID,
		SourceToken:     o.req.SourceToken,
		SourceAmount:    o.req.Amount,
		Status:          status,
		UpdatedAt:       time.Now(),
	}
	if o.status.TxRef != nil {
		rec.TransactionHash = o.status.TxRef.Hash
	}
	if s := o.req.Settlement; s != nil {
		rec.DestChain = s.DestChain
		rec.DestToken = s.DestToken
		rec.Recipient = s.Recipient
	}
	if q := o.status.Quote; q != nil {
		rec.DestAmount = q.DestAmount
		rec.Fees = q.Fees
		rec.Rate = q.Rate
		rec.Provider = q.Provider
	}
	if out := o.status.Outcome; out != nil && len(out.TxRefs) > 0 {
		rec.BridgeTxRefs = append([]models.TransactionRef(nil), out.TxRefs...)
	}
	return rec
}

// saveRecord persists the run; persistence failures are logged and never fail the run
func (o *Orchestrator) saveRecord(status models.RecordStatus) {
	if o.cfg.Account == "" || o.req == nil {
		return
	}
	ctx, cancel := context.WithTimeout(o.baseCtx, persistTimeout)
	defer cancel()
	if err := o.store.Save(ctx, o.record(status)); err != nil {
		o.runLog.Error("Failed to save settlement record for intent %s: %v", o.status.IntentHash, err)
	}
}

func (o *Orchestrator) clearRecord() {
	if o.cfg.Account == "" {
		return
	}
	ctx, cancel := context.WithTimeout(o.baseCtx, persistTimeout)
	defer cancel()
	if err := o.store.Clear(ctx, o.cfg.Account); err != nil {
		o.runLog.Error("Failed to clear settlement record of %s: %v", o.cfg.Account, err)
	}
}
