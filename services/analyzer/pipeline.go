package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"logshield/pkg/alert"
	"logshield/pkg/ensemble"
	"logshield/pkg/event"
	"logshield/pkg/features"
	"logshield/pkg/parsers"
	"logshield/pkg/predict"
	"logshield/pkg/storage"
)

var analyzed = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "logshield_logs_analyzed_total",
	Help: "Analyzed log lines by source and result",
}, []string{"source", "result"})

func init() {
	_ = prometheus.Register(analyzed)
}

// Result is the API shape for one analyzed log line.
type Result struct {
	LogID             string                       `json:"log_id"`
	IsAnomaly         bool                         `json:"is_anomaly"`
	RiskScore         float64                      `json:"risk_score"`
	RiskLevel         string                       `json:"risk_level"`
	Confidence        string                       `json:"confidence"`
	Features          map[string]float64           `json:"features"`
	Reasons           []string                     `json:"reasons"`
	RecommendedAction string                       `json:"recommended_action"`
	ModelScores       map[string]float64           `json:"model_scores"`
	ImportantFeatures []ensemble.FeatureImportance `json:"important_features"`
	ProcessingTimeMs  float64                      `json:"processing_time_ms"`
	ModelVersion      string                       `json:"model_version"`
	Timestamp         time.Time                    `json:"timestamp"`
}

// Pipeline runs parse -> aggregate -> extract -> score for incoming log
// lines, then hands persistence and alerting off the hot path.
type Pipeline struct {
	extractor *features.Extractor
	predictor *predict.Service
	store     *storage.Store // nil when persistence is disabled
	notifier  *alert.Notifier
	log       zerolog.Logger
}

// Analyze scores one raw log line from the named source.
func (p *Pipeline) Analyze(ctx context.Context, line, source string) (*Result, error) {
	start := time.Now()

	rec, err := parsers.Get(source).Parse(line)
	if err != nil {
		analyzed.WithLabelValues(source, "unparseable").Inc()
		return nil, err
	}

	vec := p.extractor.Extract(ctx, rec)

	pred, err := p.predictor.Predict(vec)
	if err != nil {
		analyzed.WithLabelValues(source, "error").Inc()
		if errors.Is(err, predict.ErrNoModel) {
			return nil, err
		}
		return nil, fmt.Errorf("score event: %w", err)
	}

	result := &Result{
		LogID:             uuid.New().String(),
		IsAnomaly:         pred.IsAnomaly,
		RiskScore:         pred.RiskScore,
		RiskLevel:         pred.RiskLevel,
		Confidence:        pred.Confidence,
		Features:          vec.Map(),
		Reasons:           generateReasons(vec, pred.ImportantFeatures),
		RecommendedAction: pred.Action,
		ModelScores:       pred.ModelScores,
		ImportantFeatures: pred.ImportantFeatures,
		ProcessingTimeMs:  float64(time.Since(start).Microseconds()) / 1000.0,
		ModelVersion:      pred.ModelVersion,
		Timestamp:         time.Now().UTC(),
	}

	if pred.IsAnomaly {
		analyzed.WithLabelValues(source, "anomaly").Inc()
	} else {
		analyzed.WithLabelValues(source, "normal").Inc()
	}

	p.log.Info().
		Str("log_id", result.LogID).
		Bool("is_anomaly", result.IsAnomaly).
		Float64("risk_score", result.RiskScore).
		Str("risk_level", result.RiskLevel).
		Float64("processing_time_ms", result.ProcessingTimeMs).
		Msg("log analyzed")

	go p.persist(rec, result, line, source)
	if result.RiskLevel == ensemble.RiskHigh || result.RiskLevel == ensemble.RiskCritical {
		go p.alert(rec, result)
	}

	return result, nil
}

// persist writes the log entry (and the anomaly, when detected) outside
// the request path. Failures are logged, never surfaced to the caller.
func (p *Pipeline) persist(rec *event.Record, res *Result, line, source string) {
	if p.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	entry := &storage.LogEntry{
		ID:           res.LogID,
		LogTimestamp: rec.Timestamp,
		SourceIP:     rec.SourceIP,
		EventType:    rec.EventType,
		Username:     rec.Username,
		Hostname:     rec.Hostname,
		StatusCode:   rec.StatusCode,
		RawLog:       line,
		LogSource:    source,
		RiskScore:    res.RiskScore,
	}
	if err := p.store.SaveLog(ctx, entry); err != nil {
		p.log.Error().Err(err).Str("log_id", res.LogID).Msg("log save failed")
	}

	if !res.IsAnomaly {
		return
	}
	anomaly := &storage.Anomaly{
		ID:               res.LogID,
		LogTimestamp:     rec.Timestamp,
		SourceIP:         rec.SourceIP,
		Username:         rec.Username,
		Hostname:         rec.Hostname,
		EventType:        rec.EventType,
		RiskScore:        res.RiskScore,
		RiskLevel:        res.RiskLevel,
		Confidence:       res.Confidence,
		IForestScore:     res.ModelScores["isolation_forest"],
		DBSCANScore:      res.ModelScores["dbscan"],
		GMMScore:         res.ModelScores["gmm"],
		Features:         res.Features,
		Reasons:          res.Reasons,
		Action:           res.RecommendedAction,
		RawLog:           line,
		LogSource:        source,
		ProcessingTimeMs: res.ProcessingTimeMs,
		ModelVersion:     res.ModelVersion,
	}
	if err := p.store.SaveAnomaly(ctx, anomaly); err != nil {
		p.log.Error().Err(err).Str("log_id", res.LogID).Msg("anomaly save failed")
	}
}

func (p *Pipeline) alert(rec *event.Record, res *Result) {
	if p.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := p.notifier.Notify(ctx, &alert.Notification{
		ID:        res.LogID,
		Timestamp: res.Timestamp,
		SourceIP:  rec.SourceIP,
		Username:  rec.Username,
		EventType: rec.EventType,
		RiskScore: res.RiskScore,
		RiskLevel: res.RiskLevel,
		Action:    res.RecommendedAction,
		Reasons:   res.Reasons,
	})
	if err != nil {
		p.log.Error().Err(err).Str("log_id", res.LogID).Msg("alert delivery failed")
	}
}

// generateReasons explains a detection in plain language from the raw
// feature values, then pads with the top deviating model features.
func generateReasons(v *features.Vector, important []ensemble.FeatureImportance) []string {
	var reasons []string

	if v.HourOfDay <= 5 {
		reasons = append(reasons, fmt.Sprintf("Activity at unusual hour (%d:00)", int(v.HourOfDay)))
	}
	if v.IsWeekend == 1 && v.IsBusinessHours == 0 {
		reasons = append(reasons, "Weekend activity outside business hours")
	}
	if v.LoginAttemptsPerMinute > 5 {
		reasons = append(reasons, fmt.Sprintf("High login attempt rate (%.1f/min) - potential brute force", v.LoginAttemptsPerMinute))
	}
	if v.RequestsPerSecond > 10 {
		reasons = append(reasons, fmt.Sprintf("High request rate (%.1f/sec) - potential DDoS", v.RequestsPerSecond))
	}
	if v.FailedAuthRate > 0.5 {
		reasons = append(reasons, fmt.Sprintf("High failed authentication rate (%.0f%%)", v.FailedAuthRate*100))
	}
	if v.ErrorRate5xx > 0 {
		reasons = append(reasons, "Server error detected (5xx status code)")
	}
	if v.IsKnownIP == 0 {
		reasons = append(reasons, "Unknown/untrusted IP address")
	}
	if v.IsKnownCountry == 0 {
		reasons = append(reasons, "Request from unusual country")
	}
	if v.GeographicDistanceKm > 1000 {
		reasons = append(reasons, fmt.Sprintf("Large geographic distance from typical location (%.0f km)", v.GeographicDistanceKm))
	}
	if v.IsPrivilegedUser == 1 {
		reasons = append(reasons, "Privileged user access (root/admin)")
	}
	if v.IsSensitiveEndpoint == 1 {
		reasons = append(reasons, "Access to sensitive endpoint")
	}
	if v.PayloadEntropy > 7 {
		reasons = append(reasons, "High payload entropy - potential encrypted/malicious content")
	}
	if v.TimeSinceLastActivity > 86400 {
		reasons = append(reasons, "First activity in >24 hours - dormant account activation")
	}

	joined := ""
	for _, r := range reasons {
		joined += r + " "
	}
	top := important
	if len(top) > 3 {
		top = top[:3]
	}
	for _, f := range top {
		candidate := "Anomalous " + strings.ReplaceAll(f.Name, "_", " ")
		if !strings.Contains(joined, candidate) {
			reasons = append(reasons, candidate)
		}
	}

	if len(reasons) == 0 {
		reasons = []string{"Pattern deviates from normal behavior (ensemble detection)"}
	}
	if len(reasons) > 5 {
		reasons = reasons[:5]
	}
	return reasons
}
