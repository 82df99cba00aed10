package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/PaladinFinance/paladin-ledger/internal/observability"
	"github.com/PaladinFinance/paladin-ledger/internal/query"
)

// HTTPServer serves the read-only query API plus health and metrics
// endpoints. Writes never go through HTTP; all state changes arrive as
// NATS commands.
type HTTPServer struct {
	srv     *http.Server
	queries *query.QueryService
	health  *observability.HealthChecker
	metrics *observability.Metrics
	log     zerolog.Logger
}

func NewHTTPServer(
	addr string,
	queries *query.QueryService,
	health *observability.HealthChecker,
	metrics *observability.Metrics,
	log zerolog.Logger,
) *HTTPServer {
	s := &HTTPServer{
		queries: queries,
		health:  health,
		metrics: metrics,
		log:     log,
	}

	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", health.LivenessHandler)
	r.Get("/readyz", health.ReadinessHandler)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/pools", s.handleListPools)
		r.Get("/pools/{poolID}", s.handleGetPool)
		r.Get("/pools/{poolID}/loans", s.handleGetPoolLoans)
		r.Get("/loans/{loanID}", s.handleGetLoan)
		r.Get("/users/{userID}/balances", s.handleGetBalances)
		r.Get("/users/{userID}/loans", s.handleGetUserLoans)
		r.Get("/users/{userID}/rewards", s.handleGetRewards)
		r.Get("/users/{userID}/journal", s.handleGetJournal)
		r.Get("/admin/integrity", s.handleVerifyIntegrity)
	})

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start runs the server until the listener fails or Shutdown is called.
func (s *HTTPServer) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("http server listening")
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// --- handlers ---

func (s *HTTPServer) handleListPools(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, "list_pools", func() (interface{}, error) {
		return s.queries.ListPools(r.Context())
	})
}

func (s *HTTPServer) handleGetPool(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")
	s.serve(w, r, "get_pool", func() (interface{}, error) {
		p, err := s.queries.GetPool(r.Context(), poolID)
		if err != nil {
			return nil, err
		}
		if p == nil {
			return nil, errNotFound
		}
		return p, nil
	})
}

func (s *HTTPServer) handleGetPoolLoans(w http.ResponseWriter, r *http.Request) {
	poolID := chi.URLParam(r, "poolID")
	limit := parseLimit(r, 100)
	var status *string
	if v := r.URL.Query().Get("status"); v != "" {
		status = &v
	}
	s.serve(w, r, "get_pool_loans", func() (interface{}, error) {
		return s.queries.GetLoansByPool(r.Context(), poolID, status, limit)
	})
}

func (s *HTTPServer) handleGetLoan(w http.ResponseWriter, r *http.Request) {
	loanID, err := uuid.Parse(chi.URLParam(r, "loanID"))
	if err != nil {
		s.writeError(w, "get_loan", http.StatusBadRequest, "invalid loan id")
		return
	}
	s.serve(w, r, "get_loan", func() (interface{}, error) {
		l, err := s.queries.GetLoan(r.Context(), loanID)
		if err != nil {
			return nil, err
		}
		if l == nil {
			return nil, errNotFound
		}
		return l, nil
	})
}

func (s *HTTPServer) handleGetBalances(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, "get_balances", http.StatusBadRequest, "invalid user id")
		return
	}
	s.serve(w, r, "get_balances", func() (interface{}, error) {
		return s.queries.GetUserBalances(r.Context(), userID)
	})
}

func (s *HTTPServer) handleGetUserLoans(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, "get_user_loans", http.StatusBadRequest, "invalid user id")
		return
	}
	limit := parseLimit(r, 100)
	s.serve(w, r, "get_user_loans", func() (interface{}, error) {
		return s.queries.GetLoansByOwner(r.Context(), userID, limit)
	})
}

func (s *HTTPServer) handleGetRewards(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, "get_rewards", http.StatusBadRequest, "invalid user id")
		return
	}
	s.serve(w, r, "get_rewards", func() (interface{}, error) {
		return s.queries.GetRewardAccrued(r.Context(), userID)
	})
}

func (s *HTTPServer) handleGetJournal(w http.ResponseWriter, r *http.Request) {
	userID, err := uuid.Parse(chi.URLParam(r, "userID"))
	if err != nil {
		s.writeError(w, "get_journal", http.StatusBadRequest, "invalid user id")
		return
	}
	limit := parseLimit(r, 100)
	var after *int64
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			s.writeError(w, "get_journal", http.StatusBadRequest, "invalid after cursor")
			return
		}
		after = &n
	}
	s.serve(w, r, "get_journal", func() (interface{}, error) {
		return s.queries.GetJournalHistory(r.Context(), userID, limit, after)
	})
}

func (s *HTTPServer) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request) {
	s.serve(w, r, "verify_integrity", func() (interface{}, error) {
		return s.queries.VerifyIntegrity(r.Context())
	})
}

// --- plumbing ---

type sentinelError string

func (e sentinelError) Error() string { return string(e) }

const errNotFound = sentinelError("not found")

func (s *HTTPServer) serve(w http.ResponseWriter, r *http.Request, endpoint string, fn func() (interface{}, error)) {
	start := time.Now()
	result, err := fn()
	if s.metrics != nil {
		s.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
	}
	if err == errNotFound {
		s.writeError(w, endpoint, http.StatusNotFound, "not found")
		return
	}
	if err != nil {
		s.log.Error().Err(err).Str("endpoint", endpoint).Msg("query failed")
		s.writeError(w, endpoint, http.StatusInternalServerError, "internal error")
		return
	}

	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues(endpoint, "ok").Inc()
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(result)
}

func (s *HTTPServer) writeError(w http.ResponseWriter, endpoint string, code int, msg string) {
	if s.metrics != nil {
		s.metrics.QueryRequests.WithLabelValues(endpoint, "error").Inc()
		s.metrics.QueryErrors.WithLabelValues(endpoint, strconv.Itoa(code)).Inc()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func parseLimit(r *http.Request, def int) int {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > 1000 {
		return def
	}
	return n
}
