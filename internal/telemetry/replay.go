package telemetry

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/crimson-sun/failcast/internal/model"
)

func init() {
	Register("replay", func(cfg SourceConfig) (Source, error) {
		if cfg.ReplayPath == "" {
			return nil, fmt.Errorf("replay source: no file configured")
		}
		f, err := os.Open(cfg.ReplayPath)
		if err != nil {
			return nil, fmt.Errorf("replay source: %w", err)
		}
		defer f.Close()
		return NewReplaySource(f)
	})
}

// ReplaySource plays back recorded rows in order, wrapping around at the
// end. A record that does not parse as model.NumFeatures numbers fails
// its read, which exercises the sampler's fallback path.
type ReplaySource struct {
	mu      sync.Mutex
	records [][]string
	next    int
	// column[f] is the CSV column holding feature f.
	column [model.NumFeatures]int
}

// NewReplaySource reads all records from r. A leading line whose first
// field is not numeric is a header naming the columns, in any order; without
// one, columns follow model.Features.
func NewReplaySource(r io.Reader) (*ReplaySource, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("replay source: %w", err)
	}

	src := &ReplaySource{}
	for f := range src.column {
		src.column[f] = f
	}
	if len(records) > 0 && len(records[0]) > 0 {
		if _, err := strconv.ParseFloat(strings.TrimSpace(records[0][0]), 64); err != nil {
			if err := src.mapHeader(records[0]); err != nil {
				return nil, err
			}
			records = records[1:]
		}
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("replay source: no records")
	}
	src.records = records
	return src, nil
}

func (r *ReplaySource) mapHeader(header []string) error {
	var seen [model.NumFeatures]bool
	for col, name := range header {
		f := model.FeatureIndex(strings.ToLower(strings.TrimSpace(name)))
		if f < 0 {
			return fmt.Errorf("replay source: unknown column %q", name)
		}
		if seen[f] {
			return fmt.Errorf("replay source: column %q repeated", name)
		}
		r.column[f], seen[f] = col, true
	}
	for f, ok := range seen {
		if !ok {
			return fmt.Errorf("replay source: header lacks %s", model.Features[f])
		}
	}
	return nil
}

// Read returns the next recorded row.
func (r *ReplaySource) Read(ctx context.Context) (model.FeatureVector, error) {
	var v model.FeatureVector
	if err := ctx.Err(); err != nil {
		return v, err
	}

	r.mu.Lock()
	idx := r.next
	rec := r.records[idx]
	r.next = (r.next + 1) % len(r.records)
	r.mu.Unlock()

	if len(rec) != model.NumFeatures {
		return v, fmt.Errorf("replay record %d has %d fields, want %d", idx, len(rec), model.NumFeatures)
	}
	for f, col := range r.column {
		x, err := strconv.ParseFloat(strings.TrimSpace(rec[col]), 64)
		if err != nil {
			return v, fmt.Errorf("replay record %d %s: %w", idx, model.Features[f], err)
		}
		v[f] = x
	}
	return v, nil
}
