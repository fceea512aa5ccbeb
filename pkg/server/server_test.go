package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hed1ad/txguard/pkg/config"
	"github.com/hed1ad/txguard/pkg/engine"
	"github.com/hed1ad/txguard/pkg/scorer"
)

func newTestServer(t *testing.T) (*Server, *engine.Engine) {
	t.Helper()
	cfg := config.Default()
	cfg.BurstProb = 0
	cfg.NumTrees = 20
	cfg.SampleSize = 64
	cfg.RetrainEveryN = 40

	eng, err := engine.New(cfg)
	require.NoError(t, err)
	t.Cleanup(eng.Close)

	srv := New(DefaultConfig(), eng, zerolog.Nop())
	t.Cleanup(srv.stream.Stop)
	return srv, eng
}

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealth(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	body := decode[map[string]any](t, rec)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, false, body["streaming"])
}

func TestRequestIDIsPropagated(t *testing.T) {
	srv, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestTick(t *testing.T) {
	srv, _ := newTestServer(t)

	tests := []struct {
		name   string
		body   string
		status int
		total  uint64
	}{
		{"explicit count", `{"n": 20}`, http.StatusOK, 20},
		{"nominal count", ``, http.StatusOK, 30},
		{"zero", `{"n": 0}`, http.StatusOK, 30},
		{"negative", `{"n": -1}`, http.StatusBadRequest, 30},
		{"above limit", `{"n": 9223372036854775807}`, http.StatusBadRequest, 30},
		{"malformed", `{"n": `, http.StatusBadRequest, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPost, "/tick", tt.body)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())

			snap := decode[engine.Snapshot](t, do(t, srv, http.MethodGet, "/snapshot", ""))
			assert.Equal(t, tt.total, snap.TotalProcessed)
		})
	}
}

func TestStepAndSummary(t *testing.T) {
	srv, eng := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/step", "")
	require.Equal(t, http.StatusOK, rec.Code)
	snap := decode[engine.Snapshot](t, rec)
	assert.Equal(t, uint64(eng.Config().TxPerSecond), snap.TotalProcessed)
	assert.Len(t, snap.Window, eng.Config().TxPerSecond)

	sum := decode[SummaryResponse](t, do(t, srv, http.MethodGet, "/snapshot?view=summary", ""))
	assert.Equal(t, snap.TotalProcessed, sum.TotalProcessed)
	assert.Equal(t, scorer.StateCold, sum.ModelState)
	assert.Equal(t, snap.Summary, sum.Summary)

	bins := decode[[]map[string]any](t, do(t, srv, http.MethodGet, "/bins", ""))
	assert.Len(t, bins, eng.Config().NumBins)
}

func TestSetThreshold(t *testing.T) {
	srv, eng := newTestServer(t)
	do(t, srv, http.MethodPost, "/tick", `{"n": 30}`)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"valid", `{"threshold": 0.2}`, http.StatusOK},
		{"out of range", `{"threshold": 1.5}`, http.StatusBadRequest},
		{"missing", `{}`, http.StatusBadRequest},
		{"malformed", `threshold=0.3`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, srv, http.MethodPut, "/threshold", tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
		})
	}
	assert.Equal(t, 0.2, eng.Config().Threshold)
}

func TestAlerts(t *testing.T) {
	srv, _ := newTestServer(t)
	do(t, srv, http.MethodPost, "/tick", `{"n": 30}`)
	do(t, srv, http.MethodPut, "/threshold", `{"threshold": 0}`)

	type alertsBody struct {
		Alerts []struct {
			Transaction struct {
				ID    uint64  `json:"id"`
				Score float64 `json:"score"`
			} `json:"transaction"`
		} `json:"alerts"`
		Count     int     `json:"count"`
		Threshold float64 `json:"threshold"`
	}

	all := decode[alertsBody](t, do(t, srv, http.MethodGet, "/alerts", ""))
	assert.Equal(t, 30, all.Count)
	for i := 1; i < len(all.Alerts); i++ {
		assert.GreaterOrEqual(t, all.Alerts[i-1].Transaction.Score, all.Alerts[i].Transaction.Score)
	}

	top := decode[alertsBody](t, do(t, srv, http.MethodGet, "/alerts?limit=3", ""))
	assert.Equal(t, 3, top.Count)

	retained := decode[alertsBody](t, do(t, srv, http.MethodGet, "/alerts?retained=true", ""))
	assert.Zero(t, retained.Count)

	rec := do(t, srv, http.MethodGet, "/alerts?limit=x", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReset(t *testing.T) {
	srv, eng := newTestServer(t)
	do(t, srv, http.MethodPost, "/tick", `{"n": 25}`)

	rec := do(t, srv, http.MethodPost, "/reset", "")
	require.Equal(t, http.StatusOK, rec.Code)
	sum := decode[SummaryResponse](t, rec)
	assert.Zero(t, sum.TotalProcessed)
	assert.Equal(t, scorer.StateCold, sum.ModelState)

	rec = do(t, srv, http.MethodPost, "/reset", `{"num_bins": 20, "threshold": 0.6}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 20, eng.Config().NumBins)
	assert.Equal(t, 0.6, eng.Config().Threshold)
	assert.Equal(t, 50, eng.Config().NumSenders, "omitted fields keep their values")

	rec = do(t, srv, http.MethodPost, "/reset", `{"num_bins": 0}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, 20, eng.Config().NumBins)

	rec = do(t, srv, http.MethodPost, "/reset", `{"num_bins": `)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestModel(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := do(t, srv, http.MethodGet, "/model", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	do(t, srv, http.MethodPost, "/tick", `{"n": 40}`)
	rec = do(t, srv, http.MethodGet, "/model", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Body.Bytes())
}

func TestConfigEndpoint(t *testing.T) {
	srv, eng := newTestServer(t)
	cfg := decode[config.Config](t, do(t, srv, http.MethodGet, "/config", ""))
	assert.Equal(t, eng.Config().Seed, cfg.Seed)
	assert.Equal(t, eng.Config().RetrainEveryN, cfg.RetrainEveryN)
}

func TestStream(t *testing.T) {
	srv, eng := newTestServer(t)

	rec := do(t, srv, http.MethodPost, "/stream/start", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decode[map[string]any](t, rec)["streaming"])

	rec = do(t, srv, http.MethodPost, "/stream/start", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	require.Eventually(t, func() bool {
		return eng.Snapshot().TotalProcessed > 0
	}, 5*time.Second, 50*time.Millisecond)

	rec = do(t, srv, http.MethodPost, "/stream/stop", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode[map[string]any](t, rec)["streaming"])

	status := decode[map[string]any](t, do(t, srv, http.MethodGet, "/stream", ""))
	assert.Equal(t, false, status["streaming"])
	assert.Equal(t, "1s", status["interval"])
}

func TestStreamIntervalRoundsUp(t *testing.T) {
	_, eng := newTestServer(t)
	assert.Equal(t, time.Second, NewStream(eng, 10*time.Millisecond, zerolog.Nop()).Interval())
	assert.Equal(t, 3*time.Second, NewStream(eng, 3*time.Second, zerolog.Nop()).Interval())
}
