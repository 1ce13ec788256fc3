package telemetry

import (
	"context"
	"fmt"
	"time"

	"github.com/crimson-sun/failcast/internal/httpclient"
	"github.com/crimson-sun/failcast/internal/model"
)

// DefaultRemotePath is where a failcast server publishes its current row.
const DefaultRemotePath = "/api/parameters"

func init() {
	Register("remote", func(cfg SourceConfig) (Source, error) {
		if cfg.RemoteURL == "" {
			return nil, fmt.Errorf("remote source: no URL configured")
		}
		return NewRemoteSource(cfg.RemoteURL, cfg.RemoteToken), nil
	})
}

// RemoteSource reads rows from another host's parameters endpoint, which
// returns one JSON object keyed by feature name. It lets a central
// predictor watch hosts that only run the lightweight server.
type RemoteSource struct {
	client *httpclient.Client
}

// NewRemoteSource polls baseURL + DefaultRemotePath.
func NewRemoteSource(baseURL, token string) *RemoteSource {
	return &RemoteSource{
		client: httpclient.New(baseURL,
			httpclient.WithToken(token),
			httpclient.WithTimeout(2*time.Second),
			httpclient.WithRetries(1, 100*time.Millisecond),
		),
	}
}

// Read fetches the remote row. A response missing any feature fails the read.
func (r *RemoteSource) Read(ctx context.Context) (model.FeatureVector, error) {
	var named map[string]float64
	if err := r.client.GetJSON(ctx, DefaultRemotePath, nil, &named); err != nil {
		return model.FeatureVector{}, fmt.Errorf("remote source: %w", err)
	}

	var row model.FeatureVector
	for i, f := range model.Features {
		v, ok := named[f]
		if !ok {
			return model.FeatureVector{}, fmt.Errorf("remote source: response missing %s", f)
		}
		row[i] = v
	}
	return row, nil
}
