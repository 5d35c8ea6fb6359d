package main

import (
	"bytes"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"logshield/pkg/aggregate"
	"logshield/pkg/ensemble"
	"logshield/pkg/features"
	"logshield/pkg/modelstore"
	"logshield/pkg/predict"
)

// trainedModel fits a small ensemble on jittered daytime-login traffic so
// that ordinary auth lines score as normal.
func trainedModel(t *testing.T) *ensemble.Ensemble {
	t.Helper()

	base := []float64{
		10, 2, 0, 1, // temporal: 10:00 Wednesday, business hours
		1, 0.02, 1, 1, // frequency
		0, 0, 0, // rates
		0, 1, 1, // geographic: known country and IP
		5, 60, 120, 4.2, // behavioral
		0, 0, 1, // context: unprivileged, known UA
	}

	rng := rand.New(rand.NewSource(11))
	data := make([][]float64, 300)
	for i := range data {
		row := make([]float64, len(base))
		copy(row, base)
		row[0] = float64(9 + rng.Intn(8))     // hour 9..16
		row[1] = float64(rng.Intn(5))         // weekday
		row[4] = rng.Float64() * 2            // login attempts
		row[5] = rng.Float64() * 0.1          // requests/sec
		row[14] = 4 + rng.Float64()*3         // bytes (log scale)
		row[15] = rng.Float64() * 600         // time since last
		row[16] = rng.Float64() * 1800        // session duration
		row[17] = 3.5 + rng.Float64()*1.5     // entropy
		data[i] = row
	}

	cfg := ensemble.Config{Seed: 11}
	cfg.IForest.NumTrees = 50
	cfg.IForest.SampleSize = 128
	cfg.DBSCAN.MinSamples = 20
	cfg.GMM.Components = 2
	cfg.GMM.MaxIter = 50

	model, err := ensemble.New(cfg, features.Names())
	require.NoError(t, err)
	require.NoError(t, model.Fit(data))
	return model
}

func newTestServer(t *testing.T, withModel bool) *server {
	t.Helper()

	logger := zerolog.Nop()
	agg := aggregate.New(aggregate.NewMemoryStore(), aggregate.Config{}, logger)
	extractor := features.NewExtractor(agg, nil, features.Config{})

	models, err := modelstore.New(t.TempDir(), logger)
	require.NoError(t, err)
	predictor := predict.NewService(models, logger)
	if withModel {
		predictor.Swap(trainedModel(t))
	}

	pipeline := &Pipeline{
		extractor: extractor,
		predictor: predictor,
		log:       logger,
	}
	return &server{pipeline: pipeline, predictor: predictor, log: logger}
}

func postJSON(t *testing.T, handler http.Handler, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestAnalyzeEndpoint(t *testing.T) {
	srv := newTestServer(t, true)
	handler := srv.router()

	rec := postJSON(t, handler, "/api/v1/logs/analyze", analyzeRequest{
		LogLine: "Jan 13 10:30:00 web01 sshd[1234]: Accepted publickey for deploy from 127.0.0.1 port 40022 ssh2",
		Source:  "auth",
	})
	require.Equal(t, http.StatusOK, rec.Code)

	var result Result
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.NotEmpty(t, result.LogID)
	assert.GreaterOrEqual(t, result.RiskScore, 0.0)
	assert.LessOrEqual(t, result.RiskScore, 1.0)
	assert.Len(t, result.Features, features.Dim)
	assert.NotEmpty(t, result.Reasons)
	assert.Contains(t, result.ModelScores, "isolation_forest")
}

func TestAnalyzeRejectsEmptyAndGarbage(t *testing.T) {
	srv := newTestServer(t, true)
	handler := srv.router()

	rec := postJSON(t, handler, "/api/v1/logs/analyze", analyzeRequest{LogLine: ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = postJSON(t, handler, "/api/v1/logs/analyze", analyzeRequest{LogLine: "   ", Source: "auth"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestAnalyzeWithoutModel(t *testing.T) {
	srv := newTestServer(t, false)
	handler := srv.router()

	rec := postJSON(t, handler, "/api/v1/logs/analyze", analyzeRequest{
		LogLine: "Jan 13 10:30:00 web01 sshd[1]: Accepted password for root from 10.0.0.1 port 22 ssh2",
		Source:  "auth",
	})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestBatchSkipsUnparseable(t *testing.T) {
	srv := newTestServer(t, true)
	handler := srv.router()

	rec := postJSON(t, handler, "/api/v1/logs/batch", batchRequest{Logs: []analyzeRequest{
		{LogLine: "Jan 13 10:30:00 web01 sshd[1]: Accepted password for alice from 127.0.0.1 port 22 ssh2", Source: "auth"},
		{LogLine: "  ", Source: "auth"},
		{LogLine: `127.0.0.1 - - [13/Jan/2026:10:30:01 +0000] "GET / HTTP/1.1" 200 512 "-" "Mozilla/5.0"`, Source: "nginx"},
	}})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp batchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.TotalLogs)
	assert.Equal(t, 1, resp.Skipped)
	assert.Len(t, resp.Results, 2)
}

func TestBatchSizeLimit(t *testing.T) {
	srv := newTestServer(t, true)
	handler := srv.router()

	logs := make([]analyzeRequest, maxBatchSize+1)
	for i := range logs {
		logs[i] = analyzeRequest{LogLine: "x", Source: "generic"}
	}
	rec := postJSON(t, handler, "/api/v1/logs/batch", batchRequest{Logs: logs})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAnomaliesWithoutStore(t *testing.T) {
	srv := newTestServer(t, true)
	handler := srv.router()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/anomalies", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	srv := newTestServer(t, true)
	handler := srv.router()

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var status map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "ok", status["status"])
	assert.Equal(t, true, status["model_loaded"])
}

func TestGenerateReasons(t *testing.T) {
	v := &features.Vector{
		HourOfDay:              3,
		LoginAttemptsPerMinute: 14,
		FailedAuthRate:         0.9,
		IsKnownIP:              1,
		IsKnownCountry:         1,
	}
	reasons := generateReasons(v, nil)

	assert.LessOrEqual(t, len(reasons), 5)
	assert.Contains(t, reasons[0], "unusual hour (3:00)")
	joined := ""
	for _, r := range reasons {
		joined += r + "\n"
	}
	assert.Contains(t, joined, "brute force")
	assert.Contains(t, joined, "failed authentication rate (90%)")

	// A fully unremarkable vector still yields the generic explanation.
	calm := &features.Vector{HourOfDay: 11, IsKnownIP: 1, IsKnownCountry: 1}
	reasons = generateReasons(calm, nil)
	require.Len(t, reasons, 1)
	assert.Contains(t, reasons[0], "deviates from normal behavior")
}
