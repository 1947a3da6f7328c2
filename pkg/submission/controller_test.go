package submission

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/offramp-settler/pkg/chainclient"
	"github.com/speedrun-hq/offramp-settler/pkg/models"
)

type fakeChain struct {
	mu           sync.Mutex
	simulateErr  error
	broadcastErr error
	minedErr     error
	simulations  int
	broadcasts   int
}

func (f *fakeChain) Simulate(_ context.Context, _ []byte, _ common.Hash) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.simulations++
	return f.simulateErr
}

func (f *fakeChain) SignAndBroadcast(_ context.Context, _ []byte, _ common.Hash) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.broadcasts++
	if f.broadcastErr != nil {
		return common.Hash{}, f.broadcastErr
	}
	return common.HexToHash("0xf00d"), nil
}

func (f *fakeChain) WaitMined(_ context.Context, _ common.Hash) (*types.Receipt, error) {
	if f.minedErr != nil {
		return nil, f.minedErr
	}
	return &types.Receipt{Status: types.ReceiptStatusSuccessful, GasUsed: 50000, BlockNumber: big.NewInt(1)}, nil
}

var (
	testIntent = common.HexToHash("0x1234")
	testProof  = models.Proof{Platform: "venmo", Payload: []byte("proof")}
)

func recordStates(c **Controller, chain Chain) *[]State {
	var states []State
	var mu sync.Mutex
	*c = NewController(chain, 8453, nil, func(s State) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
	})
	return &states
}

func TestSubmitSuccess(t *testing.T) {
	chain := &fakeChain{}
	var c *Controller
	states := recordStates(&c, chain)

	ref, err := c.Submit(context.Background(), testProof, testIntent)
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0xf00d").Hex(), ref.Hash)
	assert.Equal(t, 8453, ref.ChainID)
	assert.Equal(t, []State{StateSimulating, StateSimulated, StateSigning, StateMining, StateMined}, *states)

	// the simulation guard is consumed by a mined submission
	_, err = c.Broadcast(context.Background(), testProof, testIntent)
	assert.True(t, models.IsCategory(err, models.CategoryValidation))
	assert.Equal(t, 1, chain.broadcasts)
}

func TestSubmitValidation(t *testing.T) {
	tests := []struct {
		name   string
		proof  models.Proof
		intent common.Hash
	}{
		{name: "missing proof", proof: models.Proof{}, intent: testIntent},
		{name: "missing intent", proof: testProof, intent: common.Hash{}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			chain := &fakeChain{}
			c := NewController(chain, 8453, nil, nil)

			_, err := c.Submit(context.Background(), tc.proof, tc.intent)
			assert.True(t, models.IsCategory(err, models.CategoryValidation))
			assert.Equal(t, 0, chain.simulations)
			assert.Equal(t, StateIdle, c.State())
		})
	}
}

func TestSimulationFailureNeverSigns(t *testing.T) {
	chain := &fakeChain{simulateErr: &chainclient.RevertError{Reason: "proof already used"}}
	c := NewController(chain, 8453, nil, nil)

	_, err := c.Submit(context.Background(), testProof, testIntent)
	require.Error(t, err)

	var structured *models.Error
	require.ErrorAs(t, err, &structured)
	assert.Equal(t, models.CategorySimulation, structured.Category)
	assert.Equal(t, "proof already used", structured.Reason)
	assert.Equal(t, 0, chain.broadcasts)
	assert.Equal(t, StateSimulationFailed, c.State())
}

func TestBroadcastRequiresMatchingSimulation(t *testing.T) {
	chain := &fakeChain{}
	c := NewController(chain, 8453, nil, nil)

	require.NoError(t, c.Simulate(context.Background(), testProof, testIntent))

	other := models.Proof{Platform: "venmo", Payload: []byte("other proof")}
	_, err := c.Broadcast(context.Background(), other, testIntent)
	assert.True(t, models.IsCategory(err, models.CategoryValidation))

	_, err = c.Broadcast(context.Background(), testProof, common.HexToHash("0x9999"))
	assert.True(t, models.IsCategory(err, models.CategoryValidation))
	assert.Equal(t, 0, chain.broadcasts)

	_, err = c.Broadcast(context.Background(), testProof, testIntent)
	assert.NoError(t, err)
}

func TestUserRejectionReturnsToIdle(t *testing.T) {
	chain := &fakeChain{broadcastErr: errors.New("Request denied")}
	c := NewController(chain, 8453, nil, nil)

	_, err := c.Submit(context.Background(), testProof, testIntent)
	assert.True(t, models.IsCategory(err, models.CategoryUserRejection))
	assert.Equal(t, StateIdle, c.State())
}

func TestExecutionFailures(t *testing.T) {
	t.Run("broadcast", func(t *testing.T) {
		chain := &fakeChain{broadcastErr: errors.New("insufficient funds for gas")}
		c := NewController(chain, 8453, nil, nil)

		_, err := c.Submit(context.Background(), testProof, testIntent)
		assert.True(t, models.IsCategory(err, models.CategoryExecution))
		assert.Equal(t, StateExecutionFailed, c.State())
	})

	t.Run("reverted receipt", func(t *testing.T) {
		chain := &fakeChain{minedErr: chainclient.ErrTxReverted}
		c := NewController(chain, 8453, nil, nil)

		_, err := c.Submit(context.Background(), testProof, testIntent)
		assert.True(t, models.IsCategory(err, models.CategoryExecution))
		assert.ErrorIs(t, err, chainclient.ErrTxReverted)
	})

	t.Run("reset re-enters idle", func(t *testing.T) {
		chain := &fakeChain{minedErr: errors.New("timeout")}
		c := NewController(chain, 8453, nil, nil)

		_, err := c.Submit(context.Background(), testProof, testIntent)
		require.Error(t, err)
		c.Reset()
		assert.Equal(t, StateIdle, c.State())
	})
}

func TestCancelledWhileMiningReturnsToIdle(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	chain := &fakeChain{}
	var c *Controller
	states := recordStates(&c, chain)

	require.NoError(t, c.Simulate(ctx, testProof, testIntent))
	cancel()
	chain.minedErr = context.Canceled

	_, err := c.Broadcast(ctx, testProof, testIntent)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateIdle, c.State())
	assert.NotContains(t, *states, StateExecutionFailed)
}
