package chainclient

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/accounts/external"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/speedrun-hq/offramp-settler/pkg/contracts"
	"github.com/speedrun-hq/offramp-settler/pkg/logger"
)

// DefaultReceiptPollInterval is how often WaitMined asks for the receipt
const DefaultReceiptPollInterval = 2 * time.Second

// Backend is the subset of the ethclient API the settler uses
type Backend interface {
	bind.ContractBackend
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	BlockNumber(ctx context.Context) (uint64, error)
}

// Config holds the connection settings of the settlement chain
type Config struct {
	ChainID        int
	RPCURL         string
	EscrowAddress  string
	PrivateKey     string
	SignerEndpoint string
	GasMultiplier  float64
}

// Client submits proofs to the escrow on the settlement chain
type Client struct {
	ChainID             int
	RPCURL              string
	Backend             Backend
	Escrow              *contracts.Escrow
	Auth                *bind.TransactOpts
	GasMultiplier       float64
	ReceiptPollInterval time.Duration
	CurrentGasPrice     *big.Int

	mu     sync.RWMutex
	logger logger.Logger
}

// New dials the RPC endpoint and sets up the signer
func New(ctx context.Context, cfg Config, log logger.Logger) (*Client, error) {
	if cfg.RPCURL == "" {
		return nil, fmt.Errorf("rpc url is required")
	}
	if !common.IsHexAddress(cfg.EscrowAddress) {
		return nil, fmt.Errorf("invalid escrow address: %q", cfg.EscrowAddress)
	}

	backend, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chain %d: %w", cfg.ChainID, err)
	}

	auth, err := createAuthenticator(ctx, backend, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create authenticator: %w", err)
	}

	return NewWithBackend(cfg, backend, auth, log)
}

// NewWithBackend builds a client on an existing backend and transactor
func NewWithBackend(cfg Config, backend Backend, auth *bind.TransactOpts, log logger.Logger) (*Client, error) {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	escrow, err := contracts.NewEscrow(common.HexToAddress(cfg.EscrowAddress), backend)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize escrow contract: %w", err)
	}

	gasMultiplier := cfg.GasMultiplier
	if gasMultiplier <= 0 {
		gasMultiplier = 1.1
	}

	return &Client{
		ChainID:             cfg.ChainID,
		RPCURL:              cfg.RPCURL,
		Backend:             backend,
		Escrow:              escrow,
		Auth:                auth,
		GasMultiplier:       gasMultiplier,
		ReceiptPollInterval: DefaultReceiptPollInterval,
		logger:              log,
	}, nil
}

// Account returns the address fulfillments are simulated and sent from, zero for a read-only client.
// A delegated smart account shares its signer's address.
func (c *Client) Account() common.Address {
	if c.Auth != nil {
		return c.Auth.From
	}
	return common.Address{}
}

// Simulate runs fulfillIntent as an eth_call from the account SignAndBroadcast sends from.
// A revert comes back as *RevertError carrying the decoded reason.
func (c *Client) Simulate(ctx context.Context, proof []byte, intentHash common.Hash) error {
	data, err := c.Escrow.PackFulfillIntent(proof, intentHash)
	if err != nil {
		return fmt.Errorf("failed to pack fulfillIntent: %w", err)
	}

	to := c.Escrow.Address()
	msg := ethereum.CallMsg{
		From: c.Account(),
		To:   &to,
		Data: data,
	}
	if _, err := c.Backend.CallContract(ctx, msg, nil); err != nil {
		if reason, ok := RevertReason(err); ok {
			return &RevertError{Reason: reason, Err: err}
		}
		return fmt.Errorf("simulation call failed: %w", err)
	}
	return nil
}

// SignAndBroadcast signs fulfillIntent with the configured signer and sends it.
// A signer declining the request is reported as ErrUserRejected.
func (c *Client) SignAndBroadcast(ctx context.Context, proof []byte, intentHash common.Hash) (common.Hash, error) {
	if c.Auth == nil {
		return common.Hash{}, fmt.Errorf("client is read-only, no signer configured")
	}

	opts := *c.Auth
	opts.Context = ctx
	c.mu.RLock()
	if c.CurrentGasPrice != nil {
		opts.GasPrice = new(big.Int).Set(c.CurrentGasPrice)
	}
	c.mu.RUnlock()

	tx, err := c.Escrow.FulfillIntent(&opts, proof, intentHash)
	if err != nil {
		if IsUserRejection(err) {
			return common.Hash{}, fmt.Errorf("%w: %v", ErrUserRejected, err)
		}
		return common.Hash{}, fmt.Errorf("failed to send fulfillIntent: %w", err)
	}

	c.logger.InfoWithChain(c.ChainID, "Fulfillment transaction sent: %s", tx.Hash().Hex())
	return tx.Hash(), nil
}

// WaitMined polls until the transaction has a receipt or ctx is done.
// A reverted receipt returns ErrTxReverted together with the receipt.
func (c *Client) WaitMined(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	interval := c.ReceiptPollInterval
	if interval <= 0 {
		interval = DefaultReceiptPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		receipt, err := c.Backend.TransactionReceipt(ctx, txHash)
		if receipt != nil {
			if receipt.Status == types.ReceiptStatusFailed {
				return receipt, ErrTxReverted
			}
			c.logger.DebugWithChain(c.ChainID, "Transaction %s mined in block %s", txHash.Hex(), receipt.BlockNumber)
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) {
			return nil, fmt.Errorf("failed to fetch receipt: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// TokenBalance returns the balance of owner in base units; the zero token address means native
func (c *Client) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	if token == (common.Address{}) {
		return c.Backend.BalanceAt(ctx, owner, nil)
	}
	erc20, err := contracts.NewERC20Caller(token, c.Backend)
	if err != nil {
		return nil, fmt.Errorf("failed to bind token %s: %w", token.Hex(), err)
	}
	return erc20.BalanceOf(&bind.CallOpts{Context: ctx}, owner)
}

// UpdateGasPrice updates the gas price based on current network conditions
func (c *Client) UpdateGasPrice(ctx context.Context) (*big.Int, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	gasPrice, err := c.Backend.SuggestGasPrice(timeoutCtx)
	if err != nil {
		return nil, fmt.Errorf("failed to get gas price: %w", err)
	}

	// Apply gas multiplier (e.g. 1.1 = 10% buffer)
	multiplied := new(big.Float).Mul(
		new(big.Float).SetInt(gasPrice),
		big.NewFloat(c.GasMultiplier),
	)
	finalGasPrice := new(big.Int)
	multiplied.Int(finalGasPrice)

	c.mu.Lock()
	c.CurrentGasPrice = finalGasPrice
	c.mu.Unlock()

	return finalGasPrice, nil
}

// Ping checks the RPC endpoint is reachable
func (c *Client) Ping(ctx context.Context) error {
	if c.Backend == nil {
		return fmt.Errorf("rpc client not configured")
	}
	_, err := c.Backend.BlockNumber(ctx)
	return err
}

// createAuthenticator builds a transactor from a private key or a Clef endpoint, or nil for read-only
func createAuthenticator(ctx context.Context, backend *ethclient.Client, cfg Config) (*bind.TransactOpts, error) {
	switch {
	case cfg.PrivateKey != "":
		privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}
		chainID, err := backend.ChainID(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to get chain ID: %w", err)
		}
		return bind.NewKeyedTransactorWithChainID(privateKey, chainID)
	case cfg.SignerEndpoint != "":
		signer, err := external.NewExternalSigner(cfg.SignerEndpoint)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to external signer: %w", err)
		}
		accs := signer.Accounts()
		if len(accs) == 0 {
			return nil, fmt.Errorf("external signer exposes no accounts")
		}
		return bind.NewClefTransactor(signer, accounts.Account{Address: accs[0].Address}), nil
	}
	return nil, nil
}
