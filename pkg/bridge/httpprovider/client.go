// Package httpprovider is a bridge provider backed by a REST bridge aggregator.
package httpprovider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/speedrun-hq/offramp-settler/pkg/bridge"
	"github.com/speedrun-hq/offramp-settler/pkg/logger"
	"github.com/speedrun-hq/offramp-settler/pkg/models"
)

// Defaults for a provider
const (
	DefaultPollInterval = 3 * time.Second
	DefaultRateLimit    = 5.0
	DefaultBurst        = 5
)

// Config configures a REST bridge provider
type Config struct {
	Name    string
	BaseURL string
	APIKey  string
	// RateLimit is the number of requests per second allowed against the API
	RateLimit    float64
	Burst        int
	PollInterval time.Duration
	// TxRefs is how many transaction hashes a finished swap reports
	TxRefs int
	// SingleHashWallets are wallet types for which the API only ever reveals the source hash
	SingleHashWallets []models.WalletType
}

// Client implements bridge.Provider over HTTP
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     logger.Logger
}

var _ bridge.Provider = (*Client)(nil)

// New creates a new REST bridge provider
func New(cfg Config, log logger.Logger) *Client {
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = DefaultRateLimit
	}
	if cfg.Burst <= 0 {
		cfg.Burst = DefaultBurst
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.TxRefs <= 0 {
		cfg.TxRefs = 2
	}
	if log == nil {
		log = &logger.EmptyLogger{}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Client{
		cfg:        cfg,
		httpClient: createHTTPClient(),
		limiter:    rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.Burst),
		logger:     log,
	}
}

// Name returns the provider name
func (c *Client) Name() string {
	return c.cfg.Name
}

// Expectation declares how many hashes this API reveals for a wallet type
func (c *Client) Expectation(wallet models.WalletType) bridge.Expectation {
	for _, w := range c.cfg.SingleHashWallets {
		if w == wallet {
			return bridge.Expectation{TxRefs: 1, SingleHashOnly: true}
		}
	}
	return bridge.Expectation{TxRefs: c.cfg.TxRefs}
}

// GetPrice asks the aggregator for a route
func (c *Client) GetPrice(ctx context.Context, req bridge.PriceRequest) (*bridge.Price, error) {
	body := quoteRequest{
		From:        endpoint(req.SourceChain, req.SourceToken),
		To:          endpoint(req.DestChain, req.DestToken),
		Amount:      req.SourceAmount,
		FromAddress: req.Sender,
		Recipient:   req.Recipient,
	}

	var resp quoteResponse
	if err := c.do(ctx, http.MethodPost, "/quote", body, &resp); err != nil {
		return nil, err
	}
	if len(resp.Route) == 0 {
		return nil, fmt.Errorf("%w: empty route from %s", bridge.ErrNoRoute, c.cfg.Name)
	}

	return &bridge.Price{
		DestAmount: resp.OutputAmount,
		Fees: models.Fees{
			Gas:     resp.Fees.Gas,
			App:     resp.Fees.App,
			Relayer: resp.Fees.Relayer,
		},
		Rate:         resp.Rate,
		TimeEstimate: time.Duration(resp.EstimatedTime) * time.Second,
		Payload:      resp.Route,
	}, nil
}

// Execute submits the quoted route and polls its status until it ends or ctx is cancelled
func (c *Client) Execute(ctx context.Context, quote models.SettlementQuote, onProgress func(models.ProgressEvent)) error {
	var started executeResponse
	err := c.do(ctx, http.MethodPost, "/execute", executeRequest{
		Route:     quote.Payload,
		Recipient: quote.Recipient,
	}, &started)
	if err != nil {
		return fmt.Errorf("failed to start swap: %w", err)
	}
	if started.SwapID == "" {
		return fmt.Errorf("provider %s returned no swap id", c.cfg.Name)
	}
	c.logger.DebugWithChain(quote.SourceChain, "Swap %s started on %s", started.SwapID, c.cfg.Name)

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	var last statusResponse
	for {
		var status statusResponse
		if err := c.do(ctx, http.MethodGet, "/status/"+started.SwapID, nil, &status); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			// status polling is best effort, keep polling
			c.logger.Debug("Polling swap %s on %s failed: %v", started.SwapID, c.cfg.Name, err)
		} else if status != last {
			last = status
			ev, done := toEvent(status, quote)
			onProgress(ev)
			if done {
				return ev.Err
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// toEvent maps a status response to a progress event; done is true for terminal statuses
func toEvent(status statusResponse, quote models.SettlementQuote) (models.ProgressEvent, bool) {
	var refs []models.TransactionRef
	if status.FromTx != "" {
		refs = append(refs, models.TransactionRef{Hash: status.FromTx, ChainID: quote.SourceChain})
	}
	if status.ToTx != "" {
		refs = append(refs, models.TransactionRef{Hash: status.ToTx, ChainID: quote.DestChain})
	}

	switch strings.ToLower(status.Status) {
	case statusValidating, statusReleasing:
		return models.ProgressEvent{Status: models.StepValidating, TxRefs: refs}, false
	case statusDone:
		return models.ProgressEvent{Status: models.StepComplete, TxRefs: refs}, true
	case statusFailed, statusExpired, statusCancelled:
		reason := status.Error
		if reason == "" {
			reason = status.Status
		}
		return models.ProgressEvent{Status: models.StepPending, TxRefs: refs, Err: errors.New("swap " + reason)}, true
	case statusPending, statusBonded:
		return models.ProgressEvent{Status: models.StepPending, TxRefs: refs}, false
	default:
		return models.ProgressEvent{Status: models.StepPending, TxRefs: refs}, false
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.cfg.BaseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request to %s failed: %w", c.cfg.Name, err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			c.logger.Error("Failed to close response body: %v", closeErr)
		}
	}()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var apiErr errorResponse
		_ = json.Unmarshal(bodyBytes, &apiErr)
		if (resp.StatusCode == http.StatusNotFound && path == "/quote") || apiErr.Code == noRouteCode {
			return fmt.Errorf("%w: %s", bridge.ErrNoRoute, apiErr.Message)
		}
		return fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to decode response: %w, body: %s", err, string(bodyBytes))
	}
	return nil
}

func endpoint(chainID int, token string) string {
	return fmt.Sprintf("%d:%s", chainID, token)
}

// Helper function to create an HTTP client with timeouts
func createHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 15 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
