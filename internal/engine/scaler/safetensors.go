package scaler

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"

	"github.com/crimson-sun/failcast/internal/model"
)

const (
	tensorScale = "scale_"
	tensorMin   = "min_"
)

type tensorMeta struct {
	Dtype       string `json:"dtype"`
	Shape       []int  `json:"shape"`
	DataOffsets [2]int `json:"data_offsets"`
}

// Load reads a scaler from a safetensors file holding two 1-D tensors,
// "scale_" and "min_", of dtype F64 or F32 and length model.FlatSize.
func Load(path string) (*Scaler, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scaler: %w", err)
	}
	return decode(data)
}

func decode(data []byte) (*Scaler, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("scaler: file too small: %d bytes", len(data))
	}

	// 8-byte LE header length, then a JSON header, then raw tensor bytes.
	headerLen := binary.LittleEndian.Uint64(data[:8])
	if headerLen > uint64(len(data)-8) {
		return nil, fmt.Errorf("scaler: header length %d exceeds file size", headerLen)
	}

	var header map[string]json.RawMessage
	if err := json.Unmarshal(data[8:8+headerLen], &header); err != nil {
		return nil, fmt.Errorf("scaler: failed to parse header: %w", err)
	}

	body := data[8+headerLen:]
	scale, err := readVector(header, body, tensorScale)
	if err != nil {
		return nil, err
	}
	min, err := readVector(header, body, tensorMin)
	if err != nil {
		return nil, err
	}
	return New(scale, min)
}

func readVector(header map[string]json.RawMessage, body []byte, name string) ([]float64, error) {
	raw, ok := header[name]
	if !ok {
		return nil, fmt.Errorf("scaler: tensor %q not found in header", name)
	}
	var meta tensorMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, fmt.Errorf("scaler: failed to parse %q metadata: %w", name, err)
	}
	if len(meta.Shape) != 1 || meta.Shape[0] != model.FlatSize {
		return nil, fmt.Errorf("scaler: tensor %q has shape %v, want [%d]", name, meta.Shape, model.FlatSize)
	}

	var width int
	switch meta.Dtype {
	case "F64":
		width = 8
	case "F32":
		width = 4
	default:
		return nil, fmt.Errorf("scaler: tensor %q: unsupported dtype %s", name, meta.Dtype)
	}

	start, end := meta.DataOffsets[0], meta.DataOffsets[1]
	if start < 0 || end > len(body) || start > end {
		return nil, fmt.Errorf("scaler: tensor %q data range [%d:%d] exceeds file size %d",
			name, start, end, len(body))
	}
	if end-start != model.FlatSize*width {
		return nil, fmt.Errorf("scaler: tensor %q data size %d doesn't match shape %v",
			name, end-start, meta.Shape)
	}

	out := make([]float64, model.FlatSize)
	src := body[start:end]
	for i := range out {
		if width == 8 {
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(src[i*8:]))
		} else {
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(src[i*4:])))
		}
	}
	return out, nil
}

// Save writes the scaler as a safetensors file with F64 tensors.
func (s *Scaler) Save(path string) error {
	data, err := s.encode()
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("scaler: %w", err)
	}
	return nil
}

func (s *Scaler) encode() ([]byte, error) {
	const size = model.FlatSize * 8
	header := map[string]tensorMeta{
		tensorScale: {Dtype: "F64", Shape: []int{model.FlatSize}, DataOffsets: [2]int{0, size}},
		tensorMin:   {Dtype: "F64", Shape: []int{model.FlatSize}, DataOffsets: [2]int{size, 2 * size}},
	}
	hdr, err := json.Marshal(header)
	if err != nil {
		return nil, fmt.Errorf("scaler: marshal header: %w", err)
	}
	// Pad the header with spaces so tensor data starts 8-byte aligned.
	if pad := len(hdr) % 8; pad != 0 {
		hdr = append(hdr, bytes.Repeat([]byte{' '}, 8-pad)...)
	}

	buf := make([]byte, 8, 8+len(hdr)+2*size)
	binary.LittleEndian.PutUint64(buf, uint64(len(hdr)))
	buf = append(buf, hdr...)
	for _, vec := range [][model.FlatSize]float64{s.scale, s.min} {
		for _, v := range vec {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(v))
		}
	}
	return buf, nil
}
