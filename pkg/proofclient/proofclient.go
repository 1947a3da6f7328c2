// Package proofclient provides a client for the payment proof service.
package proofclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/speedrun-hq/offramp-settler/pkg/logger"
	"github.com/speedrun-hq/offramp-settler/pkg/models"
)

const (
	// DefaultPollInterval is the interval between two proof status requests
	DefaultPollInterval = 2 * time.Second

	// DefaultTimeout is the hard ceiling for waiting on a proof
	DefaultTimeout = 60 * time.Second
)

// ErrProofTimeout is returned when no proof is produced before the timeout
var ErrProofTimeout = errors.New("timed out waiting for payment proof")

// Status of a proof generation
type Status string

const (
	StatusPending Status = "pending"
	StatusSuccess Status = "success"
	StatusError   Status = "error"
)

// ProofResponse is the structure of the proof status response
type ProofResponse struct {
	Status  Status `json:"status"`
	Payload string `json:"proof,omitempty"`
	Error   string `json:"error,omitempty"`
}

type proofRequest struct {
	IntentHash string `json:"intent_hash"`
	Selector   string `json:"selector"`
}

// Client represents a proof service client
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     logger.Logger
}

// New creates a new proof service client
func New(endpoint string, logger logger.Logger) *Client {
	return &Client{
		endpoint:   endpoint,
		httpClient: createHTTPClient(),
		logger:     logger,
	}
}

// RequestProof asks the service to start generating a proof for the intent.
// The proof is retrieved later with PollProof.
func (c *Client) RequestProof(ctx context.Context, platform, intentHash, selector string) error {
	body, err := json.Marshal(proofRequest{IntentHash: intentHash, Selector: selector})
	if err != nil {
		return fmt.Errorf("failed to encode proof request: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.proofURL(platform), bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create proof request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to request proof: %w", err)
	}
	defer c.close(resp.Body)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		bodyBytes, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}
	return nil
}

// PollProof returns the current proof generation status for a platform
func (c *Client) PollProof(ctx context.Context, platform string) (*ProofResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.proofURL(platform), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create proof status request: %v", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch proof status: %w", err)
	}
	defer c.close(resp.Body)

	// Read the response body regardless of status code
	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %v", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status code: %d, body: %s", resp.StatusCode, string(bodyBytes))
	}

	var proofResp ProofResponse
	if err := json.Unmarshal(bodyBytes, &proofResp); err != nil {
		return nil, fmt.Errorf("failed to decode proof status: %v, body: %s", err, string(bodyBytes))
	}
	if proofResp.Status == "" {
		proofResp.Status = StatusPending
	}
	return &proofResp, nil
}

// WaitForProof polls until the proof is ready, generation failed or the timeout elapsed.
// Transient polling errors are logged and polling continues.
func (c *Client) WaitForProof(ctx context.Context, platform string, interval, timeout time.Duration) (models.Proof, error) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		resp, err := c.PollProof(ctx, platform)
		switch {
		case err != nil:
			if ctx.Err() == nil {
				c.logger.Debug("Polling proof for %s failed: %v", platform, err)
			}
		case resp.Status == StatusSuccess:
			payload, err := decodePayload(resp.Payload)
			if err != nil {
				return models.Proof{}, err
			}
			return models.Proof{Platform: platform, Payload: payload}, nil
		case resp.Status == StatusError:
			return models.Proof{}, fmt.Errorf("proof generation failed for %s: %s", platform, resp.Error)
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return models.Proof{}, ErrProofTimeout
			}
			return models.Proof{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) proofURL(platform string) string {
	return c.endpoint + "/api/v1/proofs/" + url.PathEscape(platform)
}

func (c *Client) close(body io.ReadCloser) {
	if err := body.Close(); err != nil {
		c.logger.Error("Failed to close response body: %v", err)
	}
}

// decodePayload accepts the proof as a 0x-prefixed hex string or as raw JSON text
func decodePayload(payload string) ([]byte, error) {
	if payload == "" {
		return nil, errors.New("proof service returned an empty proof")
	}
	if strings.HasPrefix(payload, "0x") {
		out, err := hexutil.Decode(payload)
		if err != nil {
			return nil, fmt.Errorf("invalid hex proof: %w", err)
		}
		return out, nil
	}
	return []byte(payload), nil
}

// Helper function to create an HTTP client with timeouts
func createHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 100,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
