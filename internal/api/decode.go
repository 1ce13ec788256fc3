package api

import (
	"bytes"
	"encoding/json"
	"fmt"

	"golang.org/x/text/cases"

	"github.com/crimson-sun/failcast/internal/engine/scaler"
	"github.com/crimson-sun/failcast/internal/model"
)

// predictRequest accepts the sequence either as positional rows or as rows
// keyed by feature name.
type predictRequest struct {
	Sequence json.RawMessage `json:"sequence"`
}

// ParseWindow decodes a window document: either {"sequence": [...]} or a
// bare sequence array, in any form decodeSequence accepts.
func ParseWindow(data []byte) ([][]float64, error) {
	var req predictRequest
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		req.Sequence = trimmed
	} else if err := json.Unmarshal(trimmed, &req); err != nil {
		return nil, fmt.Errorf("invalid window document: %w", err)
	}
	return decodeSequence(req.Sequence)
}

// decodeSequence turns the raw "sequence" value into positional rows. Named
// rows are matched to features case-insensitively using Unicode case
// folding, so "CPU" and "Response_Time" are accepted. A null reading is
// rejected rather than read as zero. Shape problems are reported as
// *scaler.ShapeError.
func decodeSequence(raw json.RawMessage) ([][]float64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, &scaler.ShapeError{BadRow: -1, Detail: `missing "sequence"`}
	}

	var positional [][]*float64
	if err := json.Unmarshal(raw, &positional); err == nil {
		return positionalRows(positional)
	}

	var named []map[string]*float64
	if err := json.Unmarshal(raw, &named); err != nil {
		return nil, fmt.Errorf(`"sequence" must be an array of numeric arrays or of feature objects`)
	}
	return namedRows(named)
}

func positionalRows(in [][]*float64) ([][]float64, error) {
	rows := make([][]float64, len(in))
	for t, r := range in {
		if r == nil {
			return nil, &scaler.ShapeError{Rows: len(in), BadRow: -1,
				Detail: fmt.Sprintf("null row at timestep %d", t)}
		}
		row := make([]float64, len(r))
		for f, v := range r {
			if v == nil {
				return nil, nullReading(len(in), len(r), t, columnName(f))
			}
			row[f] = *v
		}
		rows[t] = row
	}
	return rows, nil
}

func columnName(f int) string {
	if f < model.NumFeatures {
		return model.Features[f]
	}
	return fmt.Sprintf("column %d", f)
}

func nullReading(rows, cols, t int, feature string) *scaler.ShapeError {
	return &scaler.ShapeError{
		Rows: rows, Cols: cols, BadRow: -1,
		Detail: fmt.Sprintf("null value at timestep %d, feature %s", t, feature),
	}
}

func namedRows(named []map[string]*float64) ([][]float64, error) {
	fold := cases.Fold()
	index := make(map[string]int, model.NumFeatures)
	for i, f := range model.Features {
		index[fold.String(f)] = i
	}

	rows := make([][]float64, len(named))
	for t, obj := range named {
		row := make([]float64, model.NumFeatures)
		seen := make([]bool, model.NumFeatures)
		for key, v := range obj {
			i, ok := index[fold.String(key)]
			if !ok {
				return nil, &scaler.ShapeError{
					Rows: len(named), Cols: len(obj), BadRow: -1,
					Detail: fmt.Sprintf("unknown feature %q at timestep %d", key, t),
				}
			}
			if seen[i] {
				return nil, &scaler.ShapeError{
					Rows: len(named), Cols: len(obj), BadRow: -1,
					Detail: fmt.Sprintf("feature %s given twice at timestep %d", model.Features[i], t),
				}
			}
			if v == nil {
				return nil, nullReading(len(named), len(obj), t, model.Features[i])
			}
			row[i], seen[i] = *v, true
		}
		for i, ok := range seen {
			if !ok {
				return nil, &scaler.ShapeError{
					Rows: len(named), Cols: len(obj), BadRow: -1,
					Detail: fmt.Sprintf("missing feature %s at timestep %d", model.Features[i], t),
				}
			}
		}
		rows[t] = row
	}
	return rows, nil
}
