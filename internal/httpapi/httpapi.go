// Package httpapi exposes the engine as a small JSON API.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/deusflow/newsprefs/internal/engine"
	"github.com/deusflow/newsprefs/internal/feedback"
	"github.com/deusflow/newsprefs/internal/metrics"
	"github.com/deusflow/newsprefs/internal/news"
	"github.com/deusflow/newsprefs/internal/profile"
	"github.com/deusflow/newsprefs/internal/storage"
)

const maxBodyBytes = 1 << 20

// Service is the part of the engine the API serves.
type Service interface {
	RankNews(ctx context.Context, userID string, raw []news.RawItem, topK int) ([]news.Candidate, error)
	ApplyFeedback(ctx context.Context, userID string, ev feedback.Event) (engine.FeedbackResult, error)
	InitProfile(ctx context.Context, userID, text string) (*profile.Profile, error)
	GetProfile(ctx context.Context, userID string) (*profile.Profile, error)
	ResetProfile(ctx context.Context, userID string) (*profile.Profile, error)
	ClearHistory(ctx context.Context, userID string) error
	SetTagWeight(ctx context.Context, userID, tag string, weight float64) (*profile.Profile, error)
	RemoveTag(ctx context.Context, userID, tag string) (*profile.Profile, error)
	ExcludeTopic(ctx context.Context, userID, term string) (*profile.Profile, error)
	FeedbackHistory(ctx context.Context, userID string, limit int) ([]storage.FeedbackRecord, error)
	Digest(ctx context.Context, userID string) (engine.Digest, error)
}

// ItemPool supplies raw items when a rank request carries none.
type ItemPool interface {
	Items() []news.RawItem
}

// OracleStats reports the remote oracle's budget usage.
type OracleStats interface {
	Stats() map[string]any
}

type Server struct {
	svc            Service
	pool           ItemPool
	oracle         OracleStats
	metrics        *metrics.Metrics
	logger         *slog.Logger
	requestTimeout time.Duration
	mux            *http.ServeMux
}

// New builds the API. pool may be nil, in which case rank requests must
// include their items.
func New(svc Service, pool ItemPool, m *metrics.Metrics, logger *slog.Logger, requestTimeout time.Duration) *Server {
	if m == nil {
		m = metrics.Global
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		svc:            svc,
		pool:           pool,
		metrics:        m,
		logger:         logger.With("component", "http"),
		requestTimeout: requestTimeout,
		mux:            http.NewServeMux(),
	}
	s.routes()
	return s
}

// WithOracleStats adds the oracle budget to /metrics.
func (s *Server) WithOracleStats(o OracleStats) *Server {
	s.oracle = o
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /metrics", s.handleMetrics)

	s.mux.HandleFunc("POST /v1/users/{id}/profile", s.handleInitProfile)
	s.mux.HandleFunc("GET /v1/users/{id}/profile", s.handleGetProfile)
	s.mux.HandleFunc("DELETE /v1/users/{id}/profile", s.handleResetProfile)
	s.mux.HandleFunc("POST /v1/users/{id}/rank", s.handleRank)
	s.mux.HandleFunc("POST /v1/users/{id}/feedback", s.handleFeedback)
	s.mux.HandleFunc("GET /v1/users/{id}/feedback", s.handleFeedbackHistory)
	s.mux.HandleFunc("GET /v1/users/{id}/digest", s.handleDigest)
	s.mux.HandleFunc("DELETE /v1/users/{id}/history", s.handleClearHistory)
	s.mux.HandleFunc("PUT /v1/users/{id}/tags/{tag}", s.handleSetTag)
	s.mux.HandleFunc("DELETE /v1/users/{id}/tags/{tag}", s.handleRemoveTag)
	s.mux.HandleFunc("POST /v1/users/{id}/exclusions", s.handleExclude)
}

// Handler returns the API with request ids, logging and timeouts applied.
func (s *Server) Handler() http.Handler {
	return s.withRequestID(s.mux)
}

// ListenAndServe serves on addr until ctx is cancelled, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", id)

		ctx := r.Context()
		if s.requestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.requestTimeout)
			defer cancel()
		}

		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r.WithContext(ctx))

		level := slog.LevelInfo
		if sw.status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		s.logger.Log(ctx, level, "request", "request_id", id, "method", r.Method, "path", r.URL.Path,
			"status", sw.status, "duration", time.Since(start))
	})
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		json.NewEncoder(w).Encode(v)
	}
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, errorResponse{Error: code, Message: err.Error()})
}

// writeServiceError maps engine errors onto HTTP statuses.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, engine.ErrProfileNotFound):
		writeError(w, http.StatusNotFound, "profile_not_found", err)
	case errors.Is(err, engine.ErrInvalidFeedbackEvent):
		writeError(w, http.StatusConflict, "invalid_feedback_event", err)
	case errors.Is(err, engine.ErrTagExcluded):
		writeError(w, http.StatusConflict, "tag_excluded", err)
	case errors.Is(err, engine.ErrNothingToDigest):
		writeError(w, http.StatusNotFound, "nothing_to_digest", err)
	case errors.Is(err, engine.ErrInvalidTag):
		writeError(w, http.StatusBadRequest, "invalid_tag", err)
	case errors.Is(err, storage.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "timeout", err)
	default:
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, http.StatusInternalServerError, "internal_error", errors.New("internal error"))
	}
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{"status": "ok"}
	if !s.metrics.Healthy() {
		status = http.StatusServiceUnavailable
		body["status"] = "degraded"
	}
	if u, ok := s.pool.(interface{ UpdatedAt() time.Time }); ok {
		if t := u.UpdatedAt(); !t.IsZero() {
			body["pool_updated_at"] = t.UTC().Format(time.RFC3339)
		}
	}
	writeJSON(w, status, body)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	stats := s.metrics.GetStats()
	if s.oracle != nil {
		if o := s.oracle.Stats(); o != nil {
			stats["oracle"] = o
		}
	}
	writeJSON(w, http.StatusOK, stats)
}

type initProfileRequest struct {
	Text string `json:"text"`
}

func (s *Server) handleInitProfile(w http.ResponseWriter, r *http.Request) {
	var req initProfileRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	p, err := s.svc.InitProfile(r.Context(), r.PathValue("id"), req.Text)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.GetProfile(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleResetProfile(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.ResetProfile(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type rankRequest struct {
	TopK  int            `json:"top_k"`
	Items []news.RawItem `json:"items"`
}

type rankResponse struct {
	Items []news.Candidate `json:"items"`
	Count int              `json:"count"`
}

func (s *Server) handleRank(w http.ResponseWriter, r *http.Request) {
	var req rankRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if req.TopK < 0 {
		writeError(w, http.StatusBadRequest, "bad_request", errors.New("top_k must not be negative"))
		return
	}
	items := req.Items
	if items == nil && s.pool != nil {
		items = s.pool.Items()
	}
	ranked, err := s.svc.RankNews(r.Context(), r.PathValue("id"), items, req.TopK)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rankResponse{Items: ranked, Count: len(ranked)})
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var ev feedback.Event
	if err := decode(r, &ev); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if ev.CandidateID == "" {
		writeError(w, http.StatusBadRequest, "bad_request", errors.New("candidate_id is required"))
		return
	}
	res, err := s.svc.ApplyFeedback(r.Context(), r.PathValue("id"), ev)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type feedbackHistoryResponse struct {
	Items []storage.FeedbackRecord `json:"items"`
	Count int                      `json:"count"`
}

func (s *Server) handleFeedbackHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid limit %q", v))
			return
		}
		limit = n
	}
	recs, err := s.svc.FeedbackHistory(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, feedbackHistoryResponse{Items: recs, Count: len(recs)})
}

func (s *Server) handleDigest(w http.ResponseWriter, r *http.Request) {
	d, err := s.svc.Digest(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleClearHistory(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.ClearHistory(r.Context(), r.PathValue("id")); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type tagRequest struct {
	Weight *float64 `json:"weight"`
}

func (s *Server) handleSetTag(w http.ResponseWriter, r *http.Request) {
	var req tagRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	if req.Weight == nil {
		writeError(w, http.StatusBadRequest, "bad_request", errors.New("weight is required"))
		return
	}
	p, err := s.svc.SetTagWeight(r.Context(), r.PathValue("id"), r.PathValue("tag"), *req.Weight)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleRemoveTag(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.RemoveTag(r.Context(), r.PathValue("id"), r.PathValue("tag"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type excludeRequest struct {
	Term string `json:"term"`
}

func (s *Server) handleExclude(w http.ResponseWriter, r *http.Request) {
	var req excludeRequest
	if err := decode(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}
	p, err := s.svc.ExcludeTopic(r.Context(), r.PathValue("id"), req.Term)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
