package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	require.NoError(t, Register(reg))
	require.NoError(t, Register(reg))
}

func TestObservePrediction(t *testing.T) {
	before := testutil.ToFloat64(predictionsTotal.WithLabelValues(VerdictFail))
	ObservePrediction(0.73, true)
	assert.Equal(t, before+1, testutil.ToFloat64(predictionsTotal.WithLabelValues(VerdictFail)))
	assert.Equal(t, 0.73, testutil.ToFloat64(lastProbability))

	before = testutil.ToFloat64(predictionsTotal.WithLabelValues(VerdictOK))
	ObservePrediction(0.5, false)
	assert.Equal(t, before+1, testutil.ToFloat64(predictionsTotal.WithLabelValues(VerdictOK)))
}

func TestObserveInferenceCountsErrors(t *testing.T) {
	before := testutil.ToFloat64(inferenceErrorsTotal)
	ObserveInference(time.Millisecond, errors.New("boom"))
	ObserveInference(time.Millisecond, nil)
	assert.Equal(t, before+1, testutil.ToFloat64(inferenceErrorsTotal))
}

func TestCounters(t *testing.T) {
	shapes := testutil.ToFloat64(shapeErrorsTotal)
	rows := testutil.ToFloat64(syntheticRowsTotal)
	ObserveShapeError()
	ObserveSyntheticRow()
	ObserveSyntheticRow()
	assert.Equal(t, shapes+1, testutil.ToFloat64(shapeErrorsTotal))
	assert.Equal(t, rows+2, testutil.ToFloat64(syntheticRowsTotal))
}

func TestObserveDroppedPrediction(t *testing.T) {
	before := testutil.ToFloat64(droppedTotal.WithLabelValues(VerdictOK))
	ObserveDroppedPrediction(false)
	assert.Equal(t, before+1, testutil.ToFloat64(droppedTotal.WithLabelValues(VerdictOK)))
}
