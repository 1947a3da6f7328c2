package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/offramp-settler/pkg/bridge"
	"github.com/speedrun-hq/offramp-settler/pkg/circuitbreaker"
	"github.com/speedrun-hq/offramp-settler/pkg/logger"
	"github.com/speedrun-hq/offramp-settler/pkg/models"
	"github.com/speedrun-hq/offramp-settler/pkg/orchestrator"
	"github.com/speedrun-hq/offramp-settler/pkg/proofclient"
)

type fakeController struct {
	status    orchestrator.Status
	fulfilled []orchestrator.Request
	accepted  []uint64
	err       error
	retries   int
	cancels   int
}

func (c *fakeController) Status() orchestrator.Status { return c.status }

func (c *fakeController) Fulfill(_ context.Context, req orchestrator.Request) error {
	c.fulfilled = append(c.fulfilled, req)
	return c.err
}

func (c *fakeController) AcceptQuote(sequence uint64) error {
	c.accepted = append(c.accepted, sequence)
	return c.err
}

func (c *fakeController) ManualRetry() error {
	c.retries++
	return c.err
}

func (c *fakeController) Cancel() error {
	c.cancels++
	return c.err
}

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

type stubProvider struct{ name string }

func (p stubProvider) Name() string { return p.name }

func (p stubProvider) GetPrice(context.Context, bridge.PriceRequest) (*bridge.Price, error) {
	return nil, bridge.ErrNoRoute
}

func (p stubProvider) Execute(context.Context, models.SettlementQuote, func(models.ProgressEvent)) error {
	return nil
}

func (p stubProvider) Expectation(models.WalletType) bridge.Expectation { return bridge.Expectation{TxRefs: 2} }

func newTestServer(ctrl *fakeController, pinger Pinger, apiKey string) (*Server, *circuitbreaker.CircuitBreaker) {
	cb := circuitbreaker.NewCircuitBreaker("relay", true, 1, time.Minute, time.Hour, nil)
	providers := bridge.NewProviders(
		[]bridge.Provider{stubProvider{name: "relay"}, stubProvider{name: "backup"}},
		map[string]*circuitbreaker.CircuitBreaker{"relay": cb},
		true, nil,
	)
	return NewServer("0", apiKey, ctrl, pinger, providers, &logger.EmptyLogger{}), cb
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthAndReady(t *testing.T) {
	s, _ := newTestServer(&fakeController{}, fakePinger{}, "")
	h := s.Handler()

	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/health", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/ready", "").Code)

	s, _ = newTestServer(&fakeController{}, fakePinger{err: errors.New("dial tcp: refused")}, "")
	rec := do(t, s.Handler(), http.MethodGet, "/ready", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "refused")
}

func TestStatusReportsSettlementAndCircuits(t *testing.T) {
	ctrl := &fakeController{status: orchestrator.Status{Phase: orchestrator.PhaseQuoting, Label: "Fetching bridge quote"}}
	s, cb := newTestServer(ctrl, fakePinger{}, "")
	cb.RecordFailure()

	rec := do(t, s.Handler(), http.MethodGet, "/status", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Settlement orchestrator.Status `json:"settlement"`
		Providers  map[string]string   `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, orchestrator.PhaseQuoting, body.Settlement.Phase)
	assert.Equal(t, map[string]string{"relay": "open", "backup": "closed"}, body.Providers)
}

func TestFulfill(t *testing.T) {
	ctrl := &fakeController{}
	s, _ := newTestServer(ctrl, fakePinger{}, "")
	h := s.Handler()

	body := `{"intent_hash":"0x0000000000000000000000000000000000000000000000000000000000001111",
		"payment_platform":"venmo","source_token":"USDC","amount":"100",
		"settlement":{"dest_chain":42161,"dest_token":"USDT","recipient":"0xb2"}}`
	rec := do(t, h, http.MethodPost, "/fulfill", body)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, ctrl.fulfilled, 1)
	assert.Equal(t, common.HexToHash("0x1111"), ctrl.fulfilled[0].IntentHash)
	assert.Equal(t, 42161, ctrl.fulfilled[0].Settlement.DestChain)
	assert.Equal(t, "100", ctrl.fulfilled[0].Amount.String())

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/fulfill", "{").Code)
	assert.Equal(t, http.StatusMethodNotAllowed, do(t, h, http.MethodGet, "/fulfill", "").Code)
}

func TestControlActions(t *testing.T) {
	ctrl := &fakeController{}
	s, _ := newTestServer(ctrl, fakePinger{}, "")
	h := s.Handler()

	assert.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/quote/accept?sequence=3", "").Code)
	assert.Equal(t, []uint64{3}, ctrl.accepted)
	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/quote/accept", "").Code)

	assert.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/retry", "").Code)
	assert.Equal(t, 1, ctrl.retries)

	assert.Equal(t, http.StatusAccepted, do(t, h, http.MethodPost, "/cancel", "").Code)
	assert.Equal(t, 1, ctrl.cancels)
}

func TestControlErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"stale quote", orchestrator.ErrStaleQuote, http.StatusConflict},
		{"nothing to retry", orchestrator.ErrNothingToRetry, http.StatusConflict},
		{"closed", orchestrator.ErrClosed, http.StatusServiceUnavailable},
		{"proof deadline", context.DeadlineExceeded, http.StatusGatewayTimeout},
		{"proof timeout", proofclient.ErrProofTimeout, http.StatusGatewayTimeout},
		{"validation", models.NewValidationError("0x1", "payment platform is required"), http.StatusBadRequest},
		{"other", errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestServer(&fakeController{err: tt.err}, fakePinger{}, "")
			rec := do(t, s.Handler(), http.MethodPost, "/retry", "")
			assert.Equal(t, tt.code, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.err.Error())
		})
	}
}

func TestCircuitReset(t *testing.T) {
	s, cb := newTestServer(&fakeController{}, fakePinger{}, "")
	h := s.Handler()
	cb.RecordFailure()
	require.True(t, cb.IsOpen())

	assert.Equal(t, http.StatusBadRequest, do(t, h, http.MethodPost, "/circuit/reset", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, h, http.MethodPost, "/circuit/reset?provider=backup", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodPost, "/circuit/reset?provider=relay", "").Code)
	assert.False(t, cb.IsOpen())
}

func TestMetricsRequireAPIKey(t *testing.T) {
	s, _ := newTestServer(&fakeController{}, fakePinger{}, "secret")
	h := s.Handler()

	assert.Equal(t, http.StatusUnauthorized, do(t, h, http.MethodGet, "/metrics", "").Code)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
