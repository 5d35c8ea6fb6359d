package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"logshield/pkg/parsers"
	"logshield/pkg/predict"
	"logshield/pkg/storage"
)

const maxBatchSize = 1000

type server struct {
	pipeline  *Pipeline
	predictor *predict.Service
	store     *storage.Store // nil when persistence is disabled
	log       zerolog.Logger
}

func (s *server) router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.log))

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/logs/analyze", s.handleAnalyze)
		r.Post("/logs/batch", s.handleBatch)
		r.Get("/anomalies", s.handleAnomalies)
		r.Post("/models/reload", s.handleModelReload)
	})
	return r
}

func requestLogger(log zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Dur("duration", time.Since(start)).
				Msg("request")
		})
	}
}

type analyzeRequest struct {
	LogLine string `json:"log_line"`
	Source  string `json:"source"`
}

type batchRequest struct {
	Logs []analyzeRequest `json:"logs"`
}

type batchResponse struct {
	TotalLogs         int       `json:"total_logs"`
	AnomaliesDetected int       `json:"anomalies_detected"`
	AnomalyRate       float64   `json:"anomaly_rate"`
	Skipped           int       `json:"skipped"`
	Results           []*Result `json:"results"`
	ProcessingTimeMs  float64   `json:"processing_time_ms"`
}

func (s *server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	var req analyzeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.LogLine == "" {
		writeError(w, http.StatusBadRequest, "log_line must not be empty")
		return
	}

	result, err := s.pipeline.Analyze(r.Context(), req.LogLine, req.Source)
	switch {
	case errors.Is(err, parsers.ErrUnparseable):
		writeError(w, http.StatusUnprocessableEntity, "log line could not be parsed")
		return
	case errors.Is(err, predict.ErrNoModel):
		writeError(w, http.StatusServiceUnavailable, "no trained model loaded")
		return
	case err != nil:
		s.log.Error().Err(err).Msg("analysis failed")
		writeError(w, http.StatusInternalServerError, "analysis failed")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *server) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Logs) == 0 {
		writeError(w, http.StatusBadRequest, "logs must not be empty")
		return
	}
	if len(req.Logs) > maxBatchSize {
		writeError(w, http.StatusBadRequest, "batch size cannot exceed 1000 logs")
		return
	}

	start := time.Now()
	resp := batchResponse{Results: make([]*Result, 0, len(req.Logs))}
	for _, item := range req.Logs {
		result, err := s.pipeline.Analyze(r.Context(), item.LogLine, item.Source)
		if err != nil {
			if errors.Is(err, predict.ErrNoModel) {
				writeError(w, http.StatusServiceUnavailable, "no trained model loaded")
				return
			}
			// Unparseable lines are skipped, not fatal for the batch.
			resp.Skipped++
			continue
		}
		resp.Results = append(resp.Results, result)
		if result.IsAnomaly {
			resp.AnomaliesDetected++
		}
	}
	resp.TotalLogs = len(resp.Results)
	if resp.TotalLogs > 0 {
		resp.AnomalyRate = float64(resp.AnomaliesDetected) / float64(resp.TotalLogs)
	}
	resp.ProcessingTimeMs = float64(time.Since(start).Microseconds()) / 1000.0
	writeJSON(w, http.StatusOK, resp)
}

func (s *server) handleAnomalies(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "persistence is disabled")
		return
	}

	filter := storage.AnomalyFilter{
		Hours:        queryInt(r, "hours", 24),
		MinRiskScore: queryFloat(r, "min_risk_score", 0.6),
		RiskLevel:    r.URL.Query().Get("risk_level"),
		SourceIP:     r.URL.Query().Get("source_ip"),
		Limit:        queryInt(r, "limit", 100),
		Offset:       queryInt(r, "offset", 0),
	}

	anomalies, err := s.store.RecentAnomalies(r.Context(), filter)
	if err != nil {
		s.log.Error().Err(err).Msg("anomaly query failed")
		writeError(w, http.StatusInternalServerError, "anomaly query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":     len(anomalies),
		"anomalies": anomalies,
	})
}

func (s *server) handleModelReload(w http.ResponseWriter, r *http.Request) {
	if err := s.predictor.LoadLatest(); err != nil {
		s.log.Error().Err(err).Msg("model reload failed")
		writeError(w, http.StatusConflict, "model reload failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.predictor.Metadata())
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := map[string]any{
		"status":       "ok",
		"model_loaded": s.predictor.Ready(),
	}
	if meta := s.predictor.Metadata(); meta != nil {
		status["model_version"] = meta.Version
		status["model_trained_at"] = meta.TrainedAt
	}
	writeJSON(w, http.StatusOK, status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil {
		return v
	}
	return fallback
}

func queryFloat(r *http.Request, key string, fallback float64) float64 {
	if v, err := strconv.ParseFloat(r.URL.Query().Get(key), 64); err == nil {
		return v
	}
	return fallback
}
