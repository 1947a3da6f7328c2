// Package bridge quotes and executes the move of released funds to their destination
// chain and token through one of several ranked bridge providers.
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/speedrun-hq/offramp-settler/pkg/circuitbreaker"
	"github.com/speedrun-hq/offramp-settler/pkg/logger"
	"github.com/speedrun-hq/offramp-settler/pkg/metrics"
	"github.com/speedrun-hq/offramp-settler/pkg/models"
)

var (
	// ErrNoRoute is returned by a provider that cannot serve the requested pair
	ErrNoRoute = errors.New("no route available")
	// ErrNoProviders is returned when every provider is skipped
	ErrNoProviders = errors.New("no bridge provider available")
)

// PriceRequest describes the transfer to quote
type PriceRequest struct {
	IntentHash   string            `json:"intent_hash"`
	SourceChain  int               `json:"source_chain"`
	SourceToken  string            `json:"source_token"`
	SourceAmount decimal.Decimal   `json:"source_amount"`
	DestChain    int               `json:"dest_chain"`
	DestToken    string            `json:"dest_token"`
	Sender       string            `json:"sender"`
	Recipient    string            `json:"recipient"`
	Wallet       models.WalletType `json:"wallet"`
}

// Price is a provider's answer to a PriceRequest
type Price struct {
	DestAmount   decimal.Decimal `json:"dest_amount"`
	Fees         models.Fees     `json:"fees"`
	Rate         decimal.Decimal `json:"rate"`
	TimeEstimate time.Duration   `json:"time_estimate"`
	Payload      json.RawMessage `json:"payload,omitempty"`
}

// Expectation is what a provider declares it reports for a wallet type
type Expectation struct {
	// TxRefs is the number of transaction references a finished execution surfaces
	TxRefs int
	// SingleHashOnly means the provider never reveals more than one hash for this wallet
	SingleHashOnly bool
}

// Provider is a bridge aggregator or bridge
type Provider interface {
	Name() string
	// GetPrice returns ErrNoRoute (possibly wrapped) when the pair is not supported
	GetPrice(ctx context.Context, req PriceRequest) (*Price, error)
	// Execute starts the bridge and reports progress until the execution ends or ctx is cancelled
	Execute(ctx context.Context, quote models.SettlementQuote, onProgress func(models.ProgressEvent)) error
	Expectation(wallet models.WalletType) Expectation
}

// FetchResult is the winning price and who served it
type FetchResult struct {
	Provider         string
	Price            *Price
	FallbackAttempts int
}

// Providers is the ranked provider list with a circuit breaker per provider
type Providers struct {
	ranked   []Provider
	breakers map[string]*circuitbreaker.CircuitBreaker
	fallback bool
	logger   logger.Logger
}

// NewProviders creates a ranked provider set; breakers may be nil or partial
func NewProviders(ranked []Provider, breakers map[string]*circuitbreaker.CircuitBreaker, fallback bool, log logger.Logger) *Providers {
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	if breakers == nil {
		breakers = make(map[string]*circuitbreaker.CircuitBreaker)
	}
	return &Providers{
		ranked:   ranked,
		breakers: breakers,
		fallback: fallback,
		logger:   log,
	}
}

// Get returns a provider by name
func (p *Providers) Get(name string) (Provider, bool) {
	for _, provider := range p.ranked {
		if provider.Name() == name {
			return provider, true
		}
	}
	return nil, false
}

// Names returns the provider names in rank order
func (p *Providers) Names() []string {
	names := make([]string, 0, len(p.ranked))
	for _, provider := range p.ranked {
		names = append(names, provider.Name())
	}
	return names
}

// Breaker returns the circuit breaker of a provider, or nil
func (p *Providers) Breaker(name string) *circuitbreaker.CircuitBreaker {
	return p.breakers[name]
}

// FetchWithFallback asks providers in rank order and returns the first route.
// With fallback disabled only the top ranked provider is asked.
// Providers with an open circuit are skipped.
func (p *Providers) FetchWithFallback(ctx context.Context, req PriceRequest) (*FetchResult, error) {
	var errs []error
	attempted := 0
	noRouteOnly := true

	for i, provider := range p.ranked {
		if i > 0 && !p.fallback {
			break
		}
		name := provider.Name()
		breaker := p.breakers[name]
		if breaker != nil && !breaker.Allow() {
			p.logger.Debug("Skipping bridge provider %s, circuit open", name)
			continue
		}

		if attempted > 0 {
			metrics.FallbackAttempts.WithLabelValues(name).Inc()
		}
		attempted++

		price, err := provider.GetPrice(ctx, req)
		if err == nil {
			if breaker != nil {
				breaker.RecordSuccess()
			}
			metrics.QuoteFetches.WithLabelValues(name, "success").Inc()
			return &FetchResult{Provider: name, Price: price, FallbackAttempts: attempted - 1}, nil
		}

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		if errors.Is(err, ErrNoRoute) {
			// the provider answered, it just cannot serve this pair
			if breaker != nil {
				breaker.RecordSuccess()
			}
			metrics.QuoteFetches.WithLabelValues(name, "no_route").Inc()
			p.logger.Debug("Bridge provider %s has no route: %v", name, err)
			// not wrapped so a mix of failures is not mistaken for no route
			errs = append(errs, fmt.Errorf("%s: %v", name, err))
			continue
		}

		noRouteOnly = false
		metrics.QuoteFetches.WithLabelValues(name, "error").Inc()
		p.logger.Error("Bridge provider %s quote failed: %v", name, err)
		if breaker != nil {
			breaker.RecordFailure()
		}
		errs = append(errs, fmt.Errorf("%s: %w", name, err))
	}

	if attempted == 0 {
		return nil, ErrNoProviders
	}
	if noRouteOnly {
		return nil, fmt.Errorf("%w: %d provider(s) tried", ErrNoRoute, attempted)
	}
	return nil, errors.Join(errs...)
}
