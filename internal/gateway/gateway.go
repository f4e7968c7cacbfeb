// Reelab - Movie Recommendation Serving and Online A/B Evaluation
// Copyright 2026 Reelab Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/reelab/reelab

// Package gateway implements the round-robin front door over the variant
// serving backends. Each user request is forwarded to the next backend in
// rotation; there is no automatic retry, so a failed forward surfaces to
// the caller and the next request lands on the other backend.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/reelab/reelab/internal/metrics"
)

// Config holds gateway settings.
type Config struct {
	// Backends are the variant server base URLs rotated over per request.
	Backends []string

	// Timeout bounds one forwarded request end to end.
	Timeout time.Duration

	// BreakerMaxFailures consecutive failures trip a backend's breaker.
	BreakerMaxFailures uint32

	// BreakerOpenFor is how long a tripped breaker stays open.
	BreakerOpenFor time.Duration
}

// variantResponse is the JSON body the variant backends return.
type variantResponse struct {
	Accuracy              float64  `json:"accuracy"`
	RecommendationResults []string `json:"recommendation_results"`
}

type backend struct {
	baseURL string
	host    string
	breaker *gobreaker.CircuitBreaker[*http.Response]
}

// Gateway forwards recommendation requests across the backend pool.
type Gateway struct {
	backends []*backend
	client   *http.Client
	timeout  time.Duration
	next     atomic.Uint64
	logger   zerolog.Logger
}

// New creates a gateway over the configured backend pool. Each backend
// gets its own circuit breaker so one sick variant server cannot absorb
// every rotation slot while it recovers.
//
//nolint:gocritic // logger passed by value is acceptable for zerolog
func New(cfg Config, logger zerolog.Logger) (*Gateway, error) {
	if len(cfg.Backends) == 0 {
		return nil, fmt.Errorf("gateway requires at least one backend")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 50 * time.Second
	}
	if cfg.BreakerMaxFailures == 0 {
		cfg.BreakerMaxFailures = 5
	}
	if cfg.BreakerOpenFor <= 0 {
		cfg.BreakerOpenFor = 30 * time.Second
	}

	backends := make([]*backend, 0, len(cfg.Backends))
	for _, raw := range cfg.Backends {
		u, err := url.Parse(raw)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("backend %q is not an absolute URL", raw)
		}
		maxFailures := cfg.BreakerMaxFailures
		backends = append(backends, &backend{
			baseURL: strings.TrimRight(raw, "/"),
			host:    u.Host,
			breaker: gobreaker.NewCircuitBreaker[*http.Response](gobreaker.Settings{
				Name:    u.Host,
				Timeout: cfg.BreakerOpenFor,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= maxFailures
				},
			}),
		})
	}

	return &Gateway{
		backends: backends,
		client:   &http.Client{Timeout: cfg.Timeout},
		timeout:  cfg.Timeout,
		logger:   logger.With().Str("component", "gateway").Logger(),
	}, nil
}

// Handler returns the chi handler for GET /recommend/{userID}.
func (g *Gateway) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		g.serveRecommend(w, r, chi.URLParam(r, "userID"))
	}
}

func (g *Gateway) serveRecommend(w http.ResponseWriter, r *http.Request, userID string) {
	b := g.pick()

	ctx, cancel := context.WithTimeout(r.Context(), g.timeout)
	defer cancel()

	body, status, err := g.forward(ctx, b, userID)
	metrics.GatewayRequests.WithLabelValues(b.host, strconv.Itoa(status)).Inc()

	if err != nil {
		g.logger.Warn().Err(err).
			Str("backend", b.host).
			Str("user_id", userID).
			Int("status", status).
			Msg("forward failed")
		writeError(w, status, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // response write errors are not recoverable
	w.Write([]byte(body))
}

// pick returns the next backend in rotation.
func (g *Gateway) pick() *backend {
	n := g.next.Add(1) - 1
	return g.backends[n%uint64(len(g.backends))]
}

// forward sends one request to the chosen backend and maps the outcome:
// timeout to 504, backend non-200 passed through, malformed JSON to 500.
func (g *Gateway) forward(ctx context.Context, b *backend, userID string) (string, int, error) {
	reqURL := fmt.Sprintf("%s/recommend/%s", b.baseURL, url.PathEscape(userID))

	resp, err := b.breaker.Execute(func() (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, err
		}
		return g.client.Do(req)
	})
	if err != nil {
		switch {
		case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
			return "", http.StatusServiceUnavailable, fmt.Errorf("backend %s unavailable: %w", b.host, err)
		case isTimeout(err):
			return "", http.StatusGatewayTimeout, fmt.Errorf("backend %s timed out", b.host)
		default:
			return "", http.StatusInternalServerError, fmt.Errorf("request failed: %w", err)
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", resp.StatusCode, fmt.Errorf("backend %s returned status %d", b.host, resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", http.StatusInternalServerError, fmt.Errorf("read backend response: %w", err)
	}

	var parsed variantResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", http.StatusInternalServerError, fmt.Errorf("invalid JSON from backend %s", b.host)
	}

	metrics.ModelAccuracy.WithLabelValues(b.host).Set(parsed.Accuracy)

	return strings.Join(parsed.RecommendationResults, ","), http.StatusOK, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var urlErr *url.Error
	return errors.As(err, &urlErr) && urlErr.Timeout()
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	//nolint:errcheck // response write errors are not recoverable
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
