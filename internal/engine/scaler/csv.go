package scaler

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/crimson-sun/failcast/internal/model"
)

// LoadCSV reads flattened training windows from r. The first line is a
// header; an optional "label" column is skipped and every other column is
// a window value laid out by model.Layout.
func LoadCSV(r io.Reader) ([]model.Window, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("scaler: read csv header: %w", err)
	}

	labelCol := -1
	for i, name := range header {
		if strings.EqualFold(strings.TrimSpace(name), "label") {
			labelCol = i
			break
		}
	}
	width := len(header)
	if labelCol >= 0 {
		width--
	}
	if width != model.FlatSize {
		return nil, fmt.Errorf("scaler: csv has %d feature columns, want %d", width, model.FlatSize)
	}

	var windows []model.Window
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("scaler: csv line %d: %w", line, err)
		}
		flat := make([]float64, 0, model.FlatSize)
		for i, field := range rec {
			if i == labelCol {
				continue
			}
			v, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				return nil, fmt.Errorf("scaler: csv line %d column %q: %w", line, header[i], err)
			}
			flat = append(flat, v)
		}
		windows = append(windows, model.Layout.Reshape(flat))
	}
	return windows, nil
}
