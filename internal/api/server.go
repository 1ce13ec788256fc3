// Package api exposes the predictor over HTTP. Handlers are thin: they
// decode, delegate to the engine or pipeline, and encode.
package api

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

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/crimson-sun/failcast/internal/engine/attribution"
	"github.com/crimson-sun/failcast/internal/engine/classifier"
	"github.com/crimson-sun/failcast/internal/engine/scaler"
	"github.com/crimson-sun/failcast/internal/model"
	"github.com/crimson-sun/failcast/internal/output/history"
	"github.com/crimson-sun/failcast/internal/pipeline"
)

const (
	maxBodyBytes        = 64 << 10
	defaultHistoryLimit = 50
	maxHistoryLimit     = 1000
)

// Predictor predicts on a caller-supplied window. *engine.Engine implements it.
type Predictor interface {
	PredictRows(ctx context.Context, rows [][]float64) (model.Prediction, error)
}

// LivePredictor samples and predicts on the local host. *pipeline.Pipeline
// implements it.
type LivePredictor interface {
	Once(ctx context.Context) (model.Prediction, error)
}

// ParameterReader reads the current telemetry row. *telemetry.Sampler
// implements it.
type ParameterReader interface {
	Current(ctx context.Context) (model.FeatureVector, error)
}

// HistoryReader lists stored predictions. *history.Output implements it.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]history.Record, error)
}

// StatusReader reports the latest verdict of the running pipeline.
// *pipeline.Pipeline implements it.
type StatusReader interface {
	Latest() (model.Prediction, bool)
	LastFailure() (time.Time, bool)
}

// SampleReader lists recently sampled timesteps. *pipeline.Pipeline
// implements it.
type SampleReader interface {
	Samples(limit int) []model.Sample
}

// Option configures a Server.
type Option func(*Server)

// WithLive enables GET /api/crash-prediction.
func WithLive(l LivePredictor) Option {
	return func(s *Server) { s.live = l }
}

// WithParameters enables GET /api/parameters.
func WithParameters(p ParameterReader) Option {
	return func(s *Server) { s.params = p }
}

// WithHistory enables GET /api/predictions/history.
func WithHistory(h HistoryReader) Option {
	return func(s *Server) { s.history = h }
}

// WithStatus enables GET /api/server-status.
func WithStatus(r StatusReader) Option {
	return func(s *Server) { s.status = r }
}

// WithParameterHistory enables GET /api/parameters/history.
func WithParameterHistory(r SampleReader) Option {
	return func(s *Server) { s.samples = r }
}

// WithGatherer sets the registry served on /metrics. Default: prometheus.DefaultGatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// Server routes HTTP requests to the predictor.
type Server struct {
	predictor Predictor
	live      LivePredictor
	params    ParameterReader
	history   HistoryReader
	status    StatusReader
	samples   SampleReader
	gatherer  prometheus.Gatherer
	logger    *slog.Logger
	mux       *http.ServeMux
}

// New creates a Server. Endpoints whose backing component was not supplied
// answer 503.
func New(p Predictor, opts ...Option) *Server {
	s := &Server{
		predictor: p,
		gatherer:  prometheus.DefaultGatherer,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.mux = http.NewServeMux()
	s.mux.HandleFunc("POST /api/predict", s.handlePredict)
	s.mux.HandleFunc("GET /api/crash-prediction", s.handleCrashPrediction)
	s.mux.HandleFunc("GET /api/parameters", s.handleParameters)
	s.mux.HandleFunc("GET /api/parameters/history", s.handleParameterHistory)
	s.mux.HandleFunc("GET /api/server-status", s.handleServerStatus)
	s.mux.HandleFunc("GET /api/predictions/history", s.handleHistory)
	s.mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully
// within the given timeout.
func (s *Server) Run(ctx context.Context, addr string, graceful time.Duration) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		// Live predictions sample for several seconds.
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), graceful)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("api: shutdown: %w", err)
		}
		return nil
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("api: listen: %w", err)
		}
		return nil
	}
}

type predictResponse struct {
	model.Prediction
	Changes []attribution.Change `json:"changes,omitempty"`
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	rows, err := decodeSequence(req.Sequence)
	if err != nil {
		var shapeErr *scaler.ShapeError
		if !errors.As(err, &shapeErr) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writePredictError(w, err)
		return
	}

	pred, err := s.predictor.PredictRows(r.Context(), rows)
	if err != nil {
		s.writePredictError(w, err)
		return
	}

	resp := predictResponse{Prediction: pred}
	if detail, _ := strconv.ParseBool(r.URL.Query().Get("detail")); detail {
		// rows already passed validation inside PredictRows.
		win, _ := scaler.Validate(rows)
		resp.Changes = attribution.Changes(win)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCrashPrediction(w http.ResponseWriter, r *http.Request) {
	if s.live == nil {
		writeError(w, http.StatusServiceUnavailable, "live prediction is not enabled")
		return
	}
	pred, err := s.live.Once(r.Context())
	switch {
	case errors.Is(err, pipeline.ErrOutput):
		s.logger.Warn("prediction sink failed", "error", err)
	case err != nil:
		s.writePredictError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pred)
}

func (s *Server) handleParameters(w http.ResponseWriter, r *http.Request) {
	if s.params == nil {
		writeError(w, http.StatusServiceUnavailable, "telemetry is not enabled")
		return
	}
	row, err := s.params.Current(r.Context())
	if err != nil {
		s.logger.Error("telemetry read failed", "error", err)
		writeError(w, http.StatusInternalServerError, "telemetry unavailable")
		return
	}
	writeJSON(w, http.StatusOK, row.Named())
}

// Server status values.
const (
	StatusOnline   = "online"
	StatusCritical = "critical"
	StatusUnknown  = "unknown"
)

type serverStatus struct {
	Status       string    `json:"status"`
	WillFail     bool      `json:"will_fail"`
	Probability  float64   `json:"probability"`
	Host         string    `json:"host,omitempty"`
	CheckedAt    time.Time `json:"checked_at,omitzero"`
	LastIncident time.Time `json:"last_incident,omitzero"`
}

func (s *Server) handleServerStatus(w http.ResponseWriter, r *http.Request) {
	if s.status == nil {
		writeError(w, http.StatusServiceUnavailable, "status is not enabled")
		return
	}
	resp := serverStatus{Status: StatusUnknown}
	if pred, ok := s.status.Latest(); ok {
		resp.Status = StatusOnline
		if pred.WillFail {
			resp.Status = StatusCritical
		}
		resp.WillFail = pred.WillFail
		resp.Probability = pred.Probability
		resp.Host = pred.Host
		resp.CheckedAt = pred.Timestamp
	}
	if at, ok := s.status.LastFailure(); ok {
		resp.LastIncident = at
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleParameterHistory returns recent samples column-wise: a timestamps
// array plus one array per feature, aligned by index.
func (s *Server) handleParameterHistory(w http.ResponseWriter, r *http.Request) {
	if s.samples == nil {
		writeError(w, http.StatusServiceUnavailable, "parameter history is not enabled")
		return
	}
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = n
	}

	samples := s.samples.Samples(limit)
	resp := make(map[string]any, model.NumFeatures+2)
	stamps := make([]time.Time, len(samples))
	cols := make([][]float64, model.NumFeatures)
	for f := range cols {
		cols[f] = make([]float64, len(samples))
	}
	for i, smp := range samples {
		stamps[i] = smp.At
		for f, v := range smp.Row {
			cols[f][i] = v
		}
	}
	resp["timestamps"] = stamps
	for f, name := range model.Features {
		resp[name] = cols[f]
	}
	synthetic := model.SyntheticRows(samples)
	if synthetic == nil {
		synthetic = []int{}
	}
	resp["synthetic_rows"] = synthetic
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history is not enabled")
		return
	}
	limit := defaultHistoryLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	recs, err := s.history.Recent(r.Context(), limit)
	if err != nil {
		s.logger.Error("history query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	if recs == nil {
		recs = []history.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// writePredictError maps the error taxonomy onto status codes. Shape errors
// carry their detail to the caller; inference errors are logged in full and
// reported generically.
func (s *Server) writePredictError(w http.ResponseWriter, err error) {
	var shapeErr *scaler.ShapeError
	switch {
	case errors.As(err, &shapeErr):
		writeError(w, http.StatusBadRequest, shapeErr.Error())
	case errors.Is(err, classifier.ErrInference):
		s.logger.Error("inference failed", "error", err)
		writeError(w, http.StatusInternalServerError, "inference failed")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		s.logger.Error("prediction failed", "error", err)
		writeError(w, http.StatusInternalServerError, "prediction failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
