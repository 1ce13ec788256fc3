package telemetry

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/crimson-sun/failcast/internal/model"
)

// Source reads one feature vector of live telemetry.
type Source interface {
	Read(ctx context.Context) (model.FeatureVector, error)
}

// SourceConfig holds settings shared by source constructors.
type SourceConfig struct {
	// DiskPath is the mount whose usage is reported as "disk".
	DiskPath string
	// ReplayPath is the CSV file played back by the replay source.
	ReplayPath string
	// RemoteURL is the base URL polled by the remote source.
	RemoteURL string
	// RemoteToken is sent as a Bearer token to RemoteURL when set.
	RemoteToken string
}

// Constructor creates a Source from configuration.
type Constructor func(cfg SourceConfig) (Source, error)

var registry = map[string]Constructor{}

// Register adds a source constructor under the given name.
func Register(name string, ctor Constructor) {
	registry[name] = ctor
}

// Get returns the source constructor for the given name.
func Get(name string) (Constructor, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown telemetry source %q (available: %s)", name, strings.Join(Sources(), ", "))
	}
	return ctor, nil
}

// Sources returns the names of all registered sources, sorted.
func Sources() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AcquisitionError reports a failed read for one timestep. It is recovered
// locally by substituting a zero row.
type AcquisitionError struct {
	Index int
	Err   error
}

func (e *AcquisitionError) Error() string {
	return fmt.Sprintf("telemetry: sample %d: %v", e.Index, e.Err)
}

func (e *AcquisitionError) Unwrap() error { return e.Err }
