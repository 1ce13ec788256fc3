package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimson-sun/failcast/internal/engine"
	"github.com/crimson-sun/failcast/internal/engine/classifier"
	"github.com/crimson-sun/failcast/internal/engine/scaler"
	"github.com/crimson-sun/failcast/internal/metrics"
	"github.com/crimson-sun/failcast/internal/model"
	"github.com/crimson-sun/failcast/internal/output/history"
	"github.com/crimson-sun/failcast/internal/pipeline"
)

type stubModel struct {
	p     float64
	err   error
	calls int
}

func (m *stubModel) Predict(context.Context, []float32) (float64, error) {
	m.calls++
	return m.p, m.err
}

func (m *stubModel) Close() error { return nil }

func newEngine(t *testing.T, m *stubModel) *engine.Engine {
	t.Helper()
	scale := make([]float64, model.FlatSize)
	for i := range scale {
		scale[i] = 1
	}
	sc, err := scaler.New(scale, make([]float64, model.FlatSize))
	require.NoError(t, err)
	return engine.New(sc, classifier.New(m, classifier.DefaultThreshold), nil)
}

func spikeRows() [][]float64 {
	rows := make([][]float64, model.SeqLength)
	for t := range rows {
		rows[t] = []float64{10, 40, 55, 50, 2, 200, 1024, 3600, 300, 1500}
	}
	rows[model.SeqLength-1][0] = 35
	return rows
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestPredictPositionalRows(t *testing.T) {
	m := &stubModel{p: 0.8}
	srv := New(newEngine(t, m))

	body, _ := json.Marshal(map[string]any{"sequence": spikeRows()})
	rec := do(t, srv, http.MethodPost, "/api/predict", string(body))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	got := decode[map[string]any](t, rec)
	assert.Equal(t, true, got["will_fail"])
	assert.Equal(t, 0.8, got["probability"])
	assert.Equal(t, "cpu increased by +250.0%", got["reason"])
	assert.Equal(t, map[string]any{"metric": "cpu", "change": "+250.0%"}, got["last_spike"])
	assert.NotContains(t, got, "changes")
}

func TestPredictNamedRowsFoldCase(t *testing.T) {
	m := &stubModel{p: 0.2}
	srv := New(newEngine(t, m))

	var named []map[string]float64
	for _, row := range spikeRows() {
		obj := make(map[string]float64)
		for i, v := range row {
			key := model.Features[i]
			if i%2 == 0 {
				key = strings.ToUpper(key)
			}
			obj[key] = v
		}
		named = append(named, obj)
	}
	body, _ := json.Marshal(map[string]any{"sequence": named})
	rec := do(t, srv, http.MethodPost, "/api/predict?detail=true", string(body))

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decode[predictResponse](t, rec)
	assert.False(t, got.WillFail)
	assert.Equal(t, "cpu increased by +250.0%", got.Reason)
	require.Len(t, got.Changes, model.NumFeatures)
	assert.Equal(t, "cpu", got.Changes[0].Feature)
	assert.True(t, got.Changes[0].Significant)
	assert.InDelta(t, 250.0, got.Changes[0].Pct, 1e-9)
}

func TestPredictShapeErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"nine rows", mustJSON(map[string]any{"sequence": spikeRows()[:9]}), "got (9, 10)"},
		{"ragged row", func() string {
			rows := spikeRows()
			rows[4] = rows[4][:7]
			return mustJSON(map[string]any{"sequence": rows})
		}(), "got row 4 with 7 values"},
		{"missing sequence", `{}`, `missing "sequence"`},
		{"unknown named feature", `{"sequence":[{"gpu":1}]}`, `unknown feature "gpu"`},
		{"missing named feature", `{"sequence":[{"cpu":1}]}`, "missing feature memory"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &stubModel{p: 0.9}
			rec := do(t, New(newEngine(t, m)), http.MethodPost, "/api/predict", tt.body)

			require.Equal(t, http.StatusBadRequest, rec.Code)
			got := decode[map[string]string](t, rec)
			assert.Contains(t, got["error"], tt.want)
			assert.Contains(t, got["error"], "expected input shape (10, 10)")
			assert.Zero(t, m.calls, "model must not run on a bad shape")
		})
	}
}

func TestPredictBadJSON(t *testing.T) {
	srv := New(newEngine(t, &stubModel{}))

	rec := do(t, srv, http.MethodPost, "/api/predict", `{"sequence":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/predict", `{"sequence":"ten by ten"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPredictInferenceErrorIsGeneric(t *testing.T) {
	m := &stubModel{err: errors.New("cuda: device lost at 0xdeadbeef")}
	srv := New(newEngine(t, m))

	rec := do(t, srv, http.MethodPost, "/api/predict", mustJSON(map[string]any{"sequence": spikeRows()}))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	got := decode[map[string]string](t, rec)
	assert.Equal(t, "inference failed", got["error"])
	assert.NotContains(t, rec.Body.String(), "deadbeef")
}

func TestPredictMethodNotAllowed(t *testing.T) {
	rec := do(t, New(newEngine(t, &stubModel{})), http.MethodGet, "/api/predict", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

type fakeLive struct {
	pred model.Prediction
	err  error
}

func (f fakeLive) Once(context.Context) (model.Prediction, error) { return f.pred, f.err }

func TestCrashPrediction(t *testing.T) {
	srv := New(newEngine(t, &stubModel{}))
	rec := do(t, srv, http.MethodGet, "/api/crash-prediction", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	pred := model.Prediction{WillFail: true, Probability: 0.91, Reason: "errors increased by +300.0%", LastSpike: model.NoSpike()}
	srv = New(newEngine(t, &stubModel{}), WithLive(fakeLive{pred: pred}))
	rec = do(t, srv, http.MethodGet, "/api/crash-prediction", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, pred, decode[model.Prediction](t, rec))

	// A sink failure still returns the prediction.
	srv = New(newEngine(t, &stubModel{}), WithLive(fakeLive{pred: pred, err: fmt.Errorf("%w: disk full", pipeline.ErrOutput)}))
	rec = do(t, srv, http.MethodGet, "/api/crash-prediction", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	srv = New(newEngine(t, &stubModel{}), WithLive(fakeLive{err: &classifier.InferenceError{Err: errors.New("boom")}}))
	rec = do(t, srv, http.MethodGet, "/api/crash-prediction", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

type fakeParams struct {
	row model.FeatureVector
	err error
}

func (f fakeParams) Current(context.Context) (model.FeatureVector, error) { return f.row, f.err }

func TestParameters(t *testing.T) {
	row := model.FeatureVector{12, 40, 55, 48, 0, 3.5, 2048, 86400, 312, 1650}
	srv := New(newEngine(t, &stubModel{}), WithParameters(fakeParams{row: row}))

	rec := do(t, srv, http.MethodGet, "/api/parameters", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[map[string]float64](t, rec)
	assert.Len(t, got, model.NumFeatures)
	assert.Equal(t, 12.0, got["cpu"])
	assert.Equal(t, 1650.0, got["threads"])

	srv = New(newEngine(t, &stubModel{}), WithParameters(fakeParams{err: errors.New("no sensors")}))
	rec = do(t, srv, http.MethodGet, "/api/parameters", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestHistory(t *testing.T) {
	store, err := history.Open(filepath.Join(t.TempDir(), "h.db"))
	require.NoError(t, err)
	defer store.Close()
	for _, p := range []float64{0.1, 0.6, 0.9} {
		require.NoError(t, store.Write(context.Background(), model.Prediction{
			WillFail: p > 0.5, Probability: p, Reason: model.NoChangeReason, LastSpike: model.NoSpike(),
		}))
	}
	srv := New(newEngine(t, &stubModel{}), WithHistory(store))

	rec := do(t, srv, http.MethodGet, "/api/predictions/history?limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[[]history.Record](t, rec)
	require.Len(t, got, 2)
	assert.Equal(t, 0.9, got[0].Probability)

	rec = do(t, srv, http.MethodGet, "/api/predictions/history?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, New(newEngine(t, &stubModel{})), http.MethodGet, "/api/predictions/history", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, metrics.Register(reg))
	srv := New(newEngine(t, &stubModel{p: 0.4}), WithGatherer(reg))

	rec := do(t, srv, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	do(t, srv, http.MethodPost, "/api/predict", mustJSON(map[string]any{"sequence": spikeRows()}))

	rec = do(t, srv, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "failcast_predictions_total")
	assert.Contains(t, rec.Body.String(), "failcast_last_probability")
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return string(b)
}

type fakeStatus struct {
	pred        model.Prediction
	ok          bool
	lastFailure time.Time
}

func (f fakeStatus) Latest() (model.Prediction, bool) { return f.pred, f.ok }

func (f fakeStatus) LastFailure() (time.Time, bool) {
	return f.lastFailure, !f.lastFailure.IsZero()
}

func TestServerStatus(t *testing.T) {
	rec := do(t, New(newEngine(t, &stubModel{})), http.MethodGet, "/api/server-status", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	srv := New(newEngine(t, &stubModel{}), WithStatus(fakeStatus{}))
	rec = do(t, srv, http.MethodGet, "/api/server-status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[map[string]any](t, rec)
	assert.Equal(t, StatusUnknown, got["status"])
	assert.NotContains(t, got, "last_incident")

	incident := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	checked := incident.Add(time.Hour)
	srv = New(newEngine(t, &stubModel{}), WithStatus(fakeStatus{
		pred:        model.Prediction{Probability: 0.12, Host: "db-01", Timestamp: checked},
		ok:          true,
		lastFailure: incident,
	}))
	rec = do(t, srv, http.MethodGet, "/api/server-status", "")
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[serverStatus](t, rec)
	assert.Equal(t, StatusOnline, st.Status)
	assert.Equal(t, 0.12, st.Probability)
	assert.Equal(t, "db-01", st.Host)
	assert.True(t, checked.Equal(st.CheckedAt))
	assert.True(t, incident.Equal(st.LastIncident))

	srv = New(newEngine(t, &stubModel{}), WithStatus(fakeStatus{
		pred: model.Prediction{WillFail: true, Probability: 0.93}, ok: true,
	}))
	st = decode[serverStatus](t, do(t, srv, http.MethodGet, "/api/server-status", ""))
	assert.Equal(t, StatusCritical, st.Status)
	assert.True(t, st.WillFail)
}

type fakeSamples []model.Sample

func (f fakeSamples) Samples(limit int) []model.Sample {
	if limit > 0 && limit < len(f) {
		return f[len(f)-limit:]
	}
	return f
}

func TestServerStatusFromPipeline(t *testing.T) {
	p := pipeline.New(windowSampler{}, newEngine(t, &stubModel{p: 0.77}), discard{})
	srv := New(newEngine(t, &stubModel{}), WithStatus(p), WithParameterHistory(p), WithLive(p))

	st := decode[serverStatus](t, do(t, srv, http.MethodGet, "/api/server-status", ""))
	assert.Equal(t, StatusUnknown, st.Status)

	rec := do(t, srv, http.MethodGet, "/api/crash-prediction", "")
	require.Equal(t, http.StatusOK, rec.Code)

	st = decode[serverStatus](t, do(t, srv, http.MethodGet, "/api/server-status", ""))
	assert.Equal(t, StatusCritical, st.Status)
	assert.Equal(t, 0.77, st.Probability)
	assert.False(t, st.LastIncident.IsZero())

	hist := decode[map[string]json.RawMessage](t, do(t, srv, http.MethodGet, "/api/parameters/history", ""))
	var cpu []float64
	require.NoError(t, json.Unmarshal(hist["cpu"], &cpu))
	assert.Len(t, cpu, model.SeqLength)
}

type windowSampler struct{}

func (windowSampler) Window(context.Context) (model.Window, []model.Sample, error) {
	var w model.Window
	samples := make([]model.Sample, model.SeqLength)
	for t := range w {
		w[t][0] = float64(10 + t)
		samples[t] = model.Sample{At: time.Unix(int64(t), 0), Row: w[t]}
	}
	return w, samples, nil
}

type discard struct{}

func (discard) Write(context.Context, model.Prediction) error { return nil }
func (discard) Close() error                                  { return nil }

func TestParameterHistory(t *testing.T) {
	rec := do(t, New(newEngine(t, &stubModel{})), http.MethodGet, "/api/parameters/history", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	samples := fakeSamples{
		{At: base, Row: model.FeatureVector{10, 40, 55, 48, 0, 3.5, 2048, 86400, 312, 1650}},
		{At: base.Add(time.Second), Synthetic: true},
		{At: base.Add(2 * time.Second), Row: model.FeatureVector{30, 41, 55, 49, 1, 4.0, 2100, 86402, 315, 1660}},
	}
	srv := New(newEngine(t, &stubModel{}), WithParameterHistory(samples))

	rec = do(t, srv, http.MethodGet, "/api/parameters/history", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Timestamps    []time.Time `json:"timestamps"`
		CPU           []float64   `json:"cpu"`
		Threads       []float64   `json:"threads"`
		SyntheticRows []int       `json:"synthetic_rows"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got.Timestamps, 3)
	assert.True(t, base.Equal(got.Timestamps[0]))
	assert.Equal(t, []float64{10, 0, 30}, got.CPU)
	assert.Equal(t, []float64{1650, 0, 1660}, got.Threads)
	assert.Equal(t, []int{1}, got.SyntheticRows)

	rec = do(t, srv, http.MethodGet, "/api/parameters/history?limit=1", "")
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, []float64{30}, got.CPU)
	assert.Empty(t, got.SyntheticRows)

	rec = do(t, srv, http.MethodGet, "/api/parameters/history?limit=-4", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
