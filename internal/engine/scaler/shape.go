package scaler

import (
	"errors"
	"fmt"
	"math"

	"github.com/crimson-sun/failcast/internal/model"
)

// ErrShape matches any *ShapeError via errors.Is.
var ErrShape = errors.New("invalid window shape")

// ShapeError reports a window that violates the (SeqLength, NumFeatures)
// contract. Rows and Cols describe what was received; BadRow is the first
// row with the wrong width, or -1.
type ShapeError struct {
	Rows   int
	Cols   int
	BadRow int
	Detail string
}

func (e *ShapeError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("expected input shape (%d, %d): %s", model.SeqLength, model.NumFeatures, e.Detail)
	}
	if e.BadRow >= 0 {
		return fmt.Sprintf("expected input shape (%d, %d), got row %d with %d values",
			model.SeqLength, model.NumFeatures, e.BadRow, e.Cols)
	}
	return fmt.Sprintf("expected input shape (%d, %d), got (%d, %d)",
		model.SeqLength, model.NumFeatures, e.Rows, e.Cols)
}

func (e *ShapeError) Is(target error) bool { return target == ErrShape }

// Validate checks rows against the fixed window shape and converts them into
// a model.Window. It never touches scaler state.
func Validate(rows [][]float64) (model.Window, error) {
	var w model.Window
	if len(rows) != model.SeqLength {
		cols := 0
		if len(rows) > 0 {
			cols = len(rows[0])
		}
		return w, &ShapeError{Rows: len(rows), Cols: cols, BadRow: -1}
	}
	for t, row := range rows {
		if len(row) != model.NumFeatures {
			return w, &ShapeError{Rows: len(rows), Cols: len(row), BadRow: t}
		}
		for f, v := range row {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return w, &ShapeError{
					Rows:   len(rows),
					Cols:   len(row),
					BadRow: -1,
					Detail: fmt.Sprintf("non-finite value %v at timestep %d, feature %s", v, t, model.Features[f]),
				}
			}
			w[t][f] = v
		}
	}
	return w, nil
}
