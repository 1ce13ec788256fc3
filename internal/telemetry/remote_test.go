package telemetry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crimson-sun/failcast/internal/model"
)

func TestRemoteSourceRead(t *testing.T) {
	want := model.FeatureVector{12, 40, 55, 48, 1, 3.5, 2048, 86400, 312, 1650}
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, DefaultRemotePath, r.URL.Path)
		json.NewEncoder(w).Encode(want.Named())
	}))
	defer srv.Close()

	ctor, err := Get("remote")
	require.NoError(t, err)
	src, err := ctor(SourceConfig{RemoteURL: srv.URL, RemoteToken: "tok"})
	require.NoError(t, err)

	got, err := src.Read(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, "Bearer tok", gotAuth)
}

func TestRemoteSourceMissingFeature(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"cpu": 10}`))
	}))
	defer srv.Close()

	_, err := NewRemoteSource(srv.URL, "").Read(context.Background())
	assert.ErrorContains(t, err, "missing memory")
}

func TestRemoteSourceFailureFeedsFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	s := NewSampler(NewRemoteSource(srv.URL, ""), 1, nil)
	w, samples, err := s.Window(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.Window{}, w)
	for _, smp := range samples {
		assert.True(t, smp.Synthetic)
	}
}

func TestRemoteSourceRequiresURL(t *testing.T) {
	ctor, err := Get("remote")
	require.NoError(t, err)
	_, err = ctor(SourceConfig{})
	assert.Error(t, err)
}
