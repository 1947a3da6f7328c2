// Package settler wires the chain client, bridge providers, record store and proof
// service into one orchestrator and serves it over HTTP.
package settler

import (
	"context"
	"fmt"
	"time"

	"github.com/speedrun-hq/offramp-settler/pkg/bridge"
	"github.com/speedrun-hq/offramp-settler/pkg/bridge/httpprovider"
	"github.com/speedrun-hq/offramp-settler/pkg/chainclient"
	"github.com/speedrun-hq/offramp-settler/pkg/circuitbreaker"
	"github.com/speedrun-hq/offramp-settler/pkg/config"
	"github.com/speedrun-hq/offramp-settler/pkg/health"
	"github.com/speedrun-hq/offramp-settler/pkg/logger"
	"github.com/speedrun-hq/offramp-settler/pkg/metrics"
	"github.com/speedrun-hq/offramp-settler/pkg/models"
	"github.com/speedrun-hq/offramp-settler/pkg/orchestrator"
	"github.com/speedrun-hq/offramp-settler/pkg/proofclient"
	"github.com/speedrun-hq/offramp-settler/pkg/store"
	"github.com/speedrun-hq/offramp-settler/pkg/submission"
)

const metricsUpdateInterval = 30 * time.Second

type proofSource interface {
	RequestProof(ctx context.Context, platform, intentHash, selector string) error
	WaitForProof(ctx context.Context, platform string, interval, timeout time.Duration) (models.Proof, error)
}

// Service handles the settlement of fulfilled intents for one account
type Service struct {
	config     *config.Config
	logger     logger.Logger
	account    string
	chain      *chainclient.Client
	gasPrices  *chainclient.GasPriceRoutine
	providers  *bridge.Providers
	proofs     proofSource
	views      *viewRefresher
	orch       *orchestrator.Orchestrator
	closeStore func()
}

// NewService creates a new settler service
func NewService(ctx context.Context, cfg *config.Config) (*Service, error) {
	log := logger.NewStdLogger(cfg.LoggerConfig.Coloring, cfg.LoggerConfig.Level)

	chain, err := chainclient.New(ctx, chainclient.Config{
		ChainID:        cfg.ChainID,
		RPCURL:         cfg.RPCURL,
		EscrowAddress:  cfg.EscrowAddress,
		PrivateKey:     cfg.PrivateKey,
		SignerEndpoint: cfg.SignerEndpoint,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to chain %d: %w", cfg.ChainID, err)
	}

	st, closeStore, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("failed to open record store: %w", err)
	}
	log.Info("Using %s record store", cfg.Store.Backend)

	s := &Service{
		config:     cfg,
		logger:     log,
		account:    chain.Account().Hex(),
		chain:      chain,
		gasPrices:  chainclient.NewGasPriceRoutine(chain, cfg.GasPriceInterval),
		providers:  buildProviders(cfg, log),
		proofs:     proofclient.New(cfg.Proof.Endpoint, log),
		closeStore: closeStore,
	}
	s.views = newViewRefresher(chain, st, cfg.ChainID, log)

	submitter := submission.NewController(chain, cfg.ChainID, log, func(state submission.State) {
		s.orch.ObserveSubmission(state)
	})
	s.orch = orchestrator.New(orchestratorConfig(cfg, s.account), orchestrator.Deps{
		Submitter: submitter,
		Providers: s.providers,
		Store:     st,
		Views:     s.views,
		Logger:    log,
	})

	return s, nil
}

func orchestratorConfig(cfg *config.Config, account string) orchestrator.Config {
	return orchestrator.Config{
		Account:           account,
		Wallet:            cfg.WalletType,
		ChainID:           cfg.ChainID,
		AutoAccept:        cfg.AutoAcceptQuotes,
		RefreshInterval:   cfg.Bridge.RefreshInterval,
		CompletionTimeout: cfg.Bridge.CompletionTimeout,
		BackoffTable:      cfg.Retry.BackoffTable,
		QuoteCeiling:      cfg.Retry.MaxQuoteRetries,
		ExecutionCeiling:  cfg.Retry.MaxExecutionRetries,
	}
}

// buildProviders creates the ranked REST providers, each behind its own circuit breaker
func buildProviders(cfg *config.Config, log logger.Logger) *bridge.Providers {
	ranked := make([]bridge.Provider, 0, len(cfg.Bridge.Providers))
	breakers := make(map[string]*circuitbreaker.CircuitBreaker, len(cfg.Bridge.Providers))
	for _, p := range cfg.Bridge.Providers {
		ranked = append(ranked, httpprovider.New(httpprovider.Config{
			Name:              p.Name,
			BaseURL:           p.URL,
			APIKey:            p.APIKey,
			RateLimit:         cfg.Bridge.RateLimit,
			SingleHashWallets: p.SingleHashWallets,
		}, log))
		breakers[p.Name] = circuitbreaker.NewCircuitBreaker(
			p.Name,
			cfg.CircuitBreaker.Enabled,
			cfg.CircuitBreaker.Threshold,
			cfg.CircuitBreaker.WindowDuration,
			cfg.CircuitBreaker.ResetTimeout,
			log,
		)
	}
	return bridge.NewProviders(ranked, breakers, cfg.Bridge.FallbackEnabled, log)
}

// Start runs the service until the context is cancelled
func (s *Service) Start(ctx context.Context) {
	// Start health monitoring server
	healthServer := health.NewServer(s.config.MetricsPort, s.config.MetricsAPIKey, s, s.chain, s.providers, s.logger)
	go healthServer.Start(ctx)

	s.gasPrices.Start(ctx)

	resumed, err := s.orch.Resume(ctx)
	switch {
	case err != nil:
		s.logger.Error("Failed to resume settlement: %v", err)
	case resumed:
		s.logger.Notice("Resumed pending settlement for %s", s.account)
	}

	s.logger.Info("Starting settler service for account %s on chain %d", s.account, s.config.ChainID)
	s.updateMetrics(ctx)

	ticker := time.NewTicker(metricsUpdateInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Context cancelled, shutting down service")
			s.shutdown()
			return
		case <-ticker.C:
			s.updateMetrics(ctx)
		}
	}
}

func (s *Service) shutdown() {
	s.gasPrices.Stop()
	s.orch.Close()
	s.closeStore()
}

// updateMetrics refreshes the gauges that are not driven by settlement events
func (s *Service) updateMetrics(ctx context.Context) {
	s.logger.Debug("Updating metrics...")
	for _, name := range s.providers.Names() {
		open := 0.0
		if cb := s.providers.Breaker(name); cb != nil && cb.IsOpen() {
			open = 1
		}
		metrics.CircuitBreakerOpen.WithLabelValues(name).Set(open)
	}
	if err := s.views.RefreshBalances(ctx, s.account); err != nil {
		s.logger.Debug("Failed to refresh balances: %v", err)
	}
	if err := s.views.RefreshIntents(ctx, s.account); err != nil {
		s.logger.Debug("Failed to refresh pending settlement: %v", err)
	}
}

// Fulfill starts a run for req, fetching the payment proof first when the request has none
func (s *Service) Fulfill(ctx context.Context, req orchestrator.Request) error {
	if req.Proof.IsEmpty() {
		if req.PaymentPlatform == "" {
			return models.NewValidationError(req.IntentHash.Hex(), "payment platform is required to fetch a proof")
		}
		proof, err := s.fetchProof(ctx, req)
		if err != nil {
			return err
		}
		req.Proof = proof
	}
	if req.Proof.Platform == "" {
		req.Proof.Platform = req.PaymentPlatform
	}
	return s.orch.ReceiveProof(req)
}

func (s *Service) fetchProof(ctx context.Context, req orchestrator.Request) (models.Proof, error) {
	intentHash := req.IntentHash.Hex()
	s.logger.Info("Requesting %s proof for intent %s", req.PaymentPlatform, intentHash)
	if err := s.proofs.RequestProof(ctx, req.PaymentPlatform, intentHash, req.ProofSelector); err != nil {
		return models.Proof{}, fmt.Errorf("failed to request proof: %w", err)
	}

	proof, err := s.proofs.WaitForProof(ctx, req.PaymentPlatform, s.config.Proof.PollInterval, s.config.Proof.Timeout)
	if err != nil {
		s.logger.Error("No proof for intent %s: %v", intentHash, err)
		return models.Proof{}, err
	}
	return proof, nil
}

// Status returns the current settlement status
func (s *Service) Status() orchestrator.Status {
	return s.orch.Status()
}

// AcceptQuote executes the quote with the given sequence number
func (s *Service) AcceptQuote(sequence uint64) error {
	return s.orch.AcceptQuote(sequence)
}

// ManualRetry restarts the step that stopped
func (s *Service) ManualRetry() error {
	return s.orch.ManualRetry()
}

// Cancel abandons the current settlement
func (s *Service) Cancel() error {
	return s.orch.Cancel()
}

var _ health.Controller = (*Service)(nil)
