package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/speedrun-hq/offramp-settler/pkg/bridge"
	"github.com/speedrun-hq/offramp-settler/pkg/circuitbreaker"
	"github.com/speedrun-hq/offramp-settler/pkg/logger"
	"github.com/speedrun-hq/offramp-settler/pkg/models"
	"github.com/speedrun-hq/offramp-settler/pkg/orchestrator"
	"github.com/speedrun-hq/offramp-settler/pkg/proofclient"
)

const readyTimeout = 5 * time.Second

// Controller is the settlement surface driven over HTTP
type Controller interface {
	Status() orchestrator.Status
	Fulfill(ctx context.Context, req orchestrator.Request) error
	AcceptQuote(sequence uint64) error
	ManualRetry() error
	Cancel() error
}

// Pinger checks the chain connection
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server represents a health check and control HTTP server
type Server struct {
	port          string
	controller    Controller
	chain         Pinger
	providers     *bridge.Providers
	metricsAPIKey string
	logger        logger.Logger
	httpServer    *http.Server
}

// NewServer creates a new health check server
func NewServer(port, metricsAPIKey string, controller Controller, chain Pinger, providers *bridge.Providers, log logger.Logger) *Server {
	s := &Server{
		port:          port,
		controller:    controller,
		chain:         chain,
		providers:     providers,
		metricsAPIKey: metricsAPIKey,
		logger:        log,
	}
	s.httpServer = &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// metricsAuthMiddleware is a middleware that checks for a valid API key
func (s *Server) metricsAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Skip auth if no API key is configured
		if s.metricsAPIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		// Get API key from Authorization header
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			http.Error(w, "Missing Authorization header", http.StatusUnauthorized)
			return
		}

		// Check if the header has the correct format
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			http.Error(w, "Invalid Authorization header format", http.StatusUnauthorized)
			return
		}

		// Validate API key
		if parts[1] != s.metricsAPIKey {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// Handler returns the routes of the server
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Health check endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Readiness check
	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
		defer cancel()
		if err := s.chain.Ping(ctx); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(fmt.Sprintf("Chain client not connected: %v", err)))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Ready"))
	})

	// Settlement status endpoint
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		circuits := make(map[string]string)
		for _, name := range s.providers.Names() {
			circuitStatus := circuitbreaker.StateClosed.String()
			if cb := s.providers.Breaker(name); cb != nil {
				circuitStatus = cb.Stats().State.String()
			}
			circuits[name] = circuitStatus
		}
		s.writeJSON(w, http.StatusOK, map[string]interface{}{
			"settlement": s.controller.Status(),
			"providers":  circuits,
		})
	})

	mux.HandleFunc("/fulfill", s.post(func(r *http.Request) error {
		var req orchestrator.Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return badRequest(fmt.Errorf("invalid fulfill request: %w", err))
		}
		return s.controller.Fulfill(r.Context(), req)
	}))

	mux.HandleFunc("/quote/accept", s.post(func(r *http.Request) error {
		seq, err := strconv.ParseUint(r.URL.Query().Get("sequence"), 10, 64)
		if err != nil {
			return badRequest(errors.New("missing or invalid sequence parameter"))
		}
		return s.controller.AcceptQuote(seq)
	}))

	mux.HandleFunc("/retry", s.post(func(*http.Request) error {
		return s.controller.ManualRetry()
	}))

	mux.HandleFunc("/cancel", s.post(func(*http.Request) error {
		return s.controller.Cancel()
	}))

	// Circuit breaker admin control endpoint
	mux.HandleFunc("/circuit/reset", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}

		provider := r.URL.Query().Get("provider")
		if provider == "" {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte("Missing provider parameter"))
			return
		}

		cb := s.providers.Breaker(provider)
		if cb == nil {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(fmt.Sprintf("No circuit breaker for provider %s", provider)))
			return
		}

		cb.Reset()
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(fmt.Sprintf("Circuit breaker for provider %s reset", provider)))
	})

	// Expose Prometheus metrics with API key authentication
	mux.Handle("/metrics", s.metricsAuthMiddleware(promhttp.Handler()))

	return mux
}

// Start serves until the context is cancelled
func (s *Server) Start(ctx context.Context) {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), readyTimeout)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
	}()

	s.logger.Info("Starting health and metrics server on port %s", s.port)
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("Health server error: %v", err)
	}
}

type requestError struct{ err error }

func (e requestError) Error() string { return e.err.Error() }

func badRequest(err error) error { return requestError{err: err} }

// post wraps a control action; a successful action answers with the current status
func (s *Server) post(action func(r *http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := action(r); err != nil {
			s.writeJSON(w, statusCode(err), map[string]string{"error": err.Error()})
			return
		}
		s.writeJSON(w, http.StatusAccepted, s.controller.Status())
	}
}

func statusCode(err error) int {
	var reqErr requestError
	switch {
	case errors.As(err, &reqErr), models.IsCategory(err, models.CategoryValidation):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, orchestrator.ErrStaleQuote),
		errors.Is(err, orchestrator.ErrNoQuote),
		errors.Is(err, orchestrator.ErrNothingToRetry),
		errors.Is(err, orchestrator.ErrNeedsNewProof):
		return http.StatusConflict
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, proofclient.ErrProofTimeout):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Error encoding status JSON: %v", err)
	}
}
