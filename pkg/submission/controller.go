// Package submission turns a payment proof into a mined fulfillIntent transaction.
//
// A proof is always simulated before it is signed: Broadcast refuses to run unless
// the last successful simulation was for the same proof and intent.
package submission

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/speedrun-hq/offramp-settler/pkg/chainclient"
	"github.com/speedrun-hq/offramp-settler/pkg/logger"
	"github.com/speedrun-hq/offramp-settler/pkg/metrics"
	"github.com/speedrun-hq/offramp-settler/pkg/models"
)

// State is the submission sub-state shown while a proof is being submitted
type State string

const (
	StateIdle             State = "idle"
	StateSimulating       State = "simulating"
	StateSimulated        State = "simulated"
	StateSigning          State = "signing"
	StateMining           State = "mining"
	StateMined            State = "mined"
	StateSimulationFailed State = "simulation_failed"
	StateExecutionFailed  State = "execution_failed"
)

// Chain is the settlement chain the escrow lives on
type Chain interface {
	Simulate(ctx context.Context, proof []byte, intentHash common.Hash) error
	SignAndBroadcast(ctx context.Context, proof []byte, intentHash common.Hash) (common.Hash, error)
	WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// simulationKey identifies the proof and intent a simulation succeeded for
type simulationKey struct {
	proofHash  common.Hash
	intentHash common.Hash
}

// Controller drives simulate, sign and mine for one account
type Controller struct {
	chain   Chain
	chainID int
	logger  logger.Logger
	onState func(State)

	mu        sync.Mutex
	state     State
	simulated *simulationKey
}

// NewController creates a new submission controller. onState may be nil.
func NewController(chain Chain, chainID int, log logger.Logger, onState func(State)) *Controller {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	return &Controller{
		chain:   chain,
		chainID: chainID,
		logger:  log,
		onState: onState,
		state:   StateIdle,
	}
}

// State returns the current sub-state
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	if c.onState != nil {
		c.onState(s)
	}
}

func keyFor(proof models.Proof, intentHash common.Hash) simulationKey {
	return simulationKey{proofHash: crypto.Keccak256Hash(proof.Payload), intentHash: intentHash}
}

func validate(proof models.Proof, intentHash common.Hash) error {
	if intentHash == (common.Hash{}) {
		return models.NewValidationError("", "missing intent hash")
	}
	if proof.IsEmpty() {
		return models.NewValidationError(intentHash.Hex(), "missing proof")
	}
	return nil
}

// Submit simulates, signs and waits for the fulfillment of intentHash with proof
func (c *Controller) Submit(ctx context.Context, proof models.Proof, intentHash common.Hash) (models.TransactionRef, error) {
	start := time.Now()

	if err := c.Simulate(ctx, proof, intentHash); err != nil {
		c.observe(start, err)
		return models.TransactionRef{}, err
	}

	ref, err := c.Broadcast(ctx, proof, intentHash)
	c.observe(start, err)
	return ref, err
}

// Simulate runs fulfillIntent without sending it and remembers the pair on success
func (c *Controller) Simulate(ctx context.Context, proof models.Proof, intentHash common.Hash) error {
	if err := validate(proof, intentHash); err != nil {
		return err
	}

	c.mu.Lock()
	c.simulated = nil
	c.mu.Unlock()

	c.setState(StateSimulating)
	c.logger.DebugWithChain(c.chainID, "Simulating fulfillment for intent %s", intentHash.Hex())

	if err := c.chain.Simulate(ctx, proof.Payload, intentHash); err != nil {
		reason := err.Error()
		var revertErr *chainclient.RevertError
		if errors.As(err, &revertErr) {
			reason = revertErr.Reason
		}
		c.setState(StateSimulationFailed)
		c.logger.ErrorWithChain(c.chainID, "Simulation failed for intent %s: %s", intentHash.Hex(), reason)
		return models.NewSimulationError(intentHash.Hex(), reason, err)
	}

	key := keyFor(proof, intentHash)
	c.mu.Lock()
	c.simulated = &key
	c.mu.Unlock()
	c.setState(StateSimulated)
	return nil
}

// Broadcast signs and sends the fulfillment, then waits for it to be mined.
// It requires a successful Simulate for the same proof and intent.
func (c *Controller) Broadcast(ctx context.Context, proof models.Proof, intentHash common.Hash) (models.TransactionRef, error) {
	if err := validate(proof, intentHash); err != nil {
		return models.TransactionRef{}, err
	}

	key := keyFor(proof, intentHash)
	c.mu.Lock()
	simulated := c.simulated != nil && *c.simulated == key
	c.mu.Unlock()
	if !simulated {
		return models.TransactionRef{}, models.NewValidationError(intentHash.Hex(), "no successful simulation for this proof")
	}

	c.setState(StateSigning)
	txHash, err := c.chain.SignAndBroadcast(ctx, proof.Payload, intentHash)
	if err != nil {
		if chainclient.IsUserRejection(err) {
			c.logger.NoticeWithChain(c.chainID, "Signer rejected fulfillment of intent %s", intentHash.Hex())
			c.setState(StateIdle)
			return models.TransactionRef{}, models.NewUserRejection(intentHash.Hex(), err)
		}
		if ctx.Err() != nil {
			c.setState(StateIdle)
			return models.TransactionRef{}, models.NewExecutionError(intentHash.Hex(), "submission cancelled", ctx.Err())
		}
		c.setState(StateExecutionFailed)
		return models.TransactionRef{}, models.NewExecutionError(intentHash.Hex(), "broadcast failed", err)
	}

	c.setState(StateMining)
	receipt, err := c.chain.WaitMined(ctx, txHash)
	if err != nil {
		if ctx.Err() != nil {
			// the transaction may still be mined; a later run resumes from the chain state
			c.setState(StateIdle)
			return models.TransactionRef{}, models.NewExecutionError(intentHash.Hex(), "stopped waiting for transaction "+txHash.Hex(), ctx.Err())
		}
		c.setState(StateExecutionFailed)
		if errors.Is(err, chainclient.ErrTxReverted) {
			return models.TransactionRef{}, models.NewExecutionError(intentHash.Hex(), "transaction reverted "+txHash.Hex(), err)
		}
		return models.TransactionRef{}, models.NewExecutionError(intentHash.Hex(), "waiting for transaction "+txHash.Hex(), err)
	}

	// the next submission must simulate again
	c.mu.Lock()
	c.simulated = nil
	c.mu.Unlock()

	if receipt != nil {
		metrics.GasUsed.WithLabelValues(strconv.Itoa(c.chainID)).Observe(float64(receipt.GasUsed))
	}
	c.logger.InfoWithChain(c.chainID, "Intent %s fulfilled in tx %s", intentHash.Hex(), txHash.Hex())
	c.setState(StateMined)
	return models.TransactionRef{Hash: txHash.Hex(), ChainID: c.chainID}, nil
}

// Reset returns the controller to idle and forgets any cached simulation
func (c *Controller) Reset() {
	c.mu.Lock()
	c.simulated = nil
	c.mu.Unlock()
	c.setState(StateIdle)
}

func (c *Controller) observe(start time.Time, err error) {
	chainID := strconv.Itoa(c.chainID)
	result := "success"
	if err != nil {
		result = string(models.CategoryOf(err))
		metrics.SubmissionErrors.WithLabelValues(chainID, result).Inc()
	}
	metrics.ProofSubmissionTime.WithLabelValues(chainID, result).Observe(time.Since(start).Seconds())
}
