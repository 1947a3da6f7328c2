package proofclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/speedrun-hq/offramp-settler/pkg/logger"
)

func TestRequestProof(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/proofs/venmo", r.URL.Path)

		var req proofRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "0xabc", req.IntentHash)
		assert.Equal(t, "payment-7", req.Selector)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	client := New(server.URL, &logger.EmptyLogger{})
	require.NoError(t, client.RequestProof(context.Background(), "venmo", "0xabc", "payment-7"))
}

func TestRequestProofUnexpectedStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := New(server.URL, &logger.EmptyLogger{})
	err := client.RequestProof(context.Background(), "venmo", "0xabc", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestWaitForProof(t *testing.T) {
	var polls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		switch polls.Add(1) {
		case 1:
			_, _ = w.Write([]byte(`{"status":"pending"}`))
		case 2:
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			_, _ = w.Write([]byte(`{"status":"success","proof":"0xdeadbeef"}`))
		}
	}))
	defer server.Close()

	client := New(server.URL, &logger.EmptyLogger{})
	proof, err := client.WaitForProof(context.Background(), "revolut", time.Millisecond, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "revolut", proof.Platform)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, proof.Payload)
	assert.Equal(t, int32(3), polls.Load())
}

func TestWaitForProofGenerationError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"error","error":"payment not found"}`))
	}))
	defer server.Close()

	client := New(server.URL, &logger.EmptyLogger{})
	_, err := client.WaitForProof(context.Background(), "wise", time.Millisecond, time.Second)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "payment not found")
}

func TestWaitForProofTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"pending"}`))
	}))
	defer server.Close()

	client := New(server.URL, &logger.EmptyLogger{})
	start := time.Now()
	_, err := client.WaitForProof(context.Background(), "venmo", 5*time.Millisecond, 30*time.Millisecond)
	assert.ErrorIs(t, err, ErrProofTimeout)
	assert.Less(t, time.Since(start), time.Second)
}

func TestDecodePayload(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    []byte
		wantErr bool
	}{
		{name: "hex", payload: "0x0102", want: []byte{1, 2}},
		{name: "raw", payload: `{"claim":1}`, want: []byte(`{"claim":1}`)},
		{name: "empty", payload: "", wantErr: true},
		{name: "bad hex", payload: "0xzz", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodePayload(tt.payload)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
