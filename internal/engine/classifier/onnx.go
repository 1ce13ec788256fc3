package classifier

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/crimson-sun/failcast/internal/model"
)

// ortEnv manages global ONNX Runtime initialization (process-wide singleton).
var ortEnv struct {
	once sync.Once
	err  error
}

// initORT initializes the ONNX Runtime environment. Safe to call multiple
// times; only the first call has any effect.
func initORT(libPath string) error {
	ortEnv.once.Do(func() {
		ort.SetSharedLibraryPath(libPath)
		ortEnv.err = ort.InitializeEnvironment()
	})
	return ortEnv.err
}

// ONNXModel runs an exported sequence classifier (e.g. LSTM → dense →
// sigmoid) with ONNX Runtime. Forward passes are serialized.
type ONNXModel struct {
	mu         sync.Mutex
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
	outShape   ort.Shape
}

// NewONNXModel loads the model at modelPath. libPath points at the ONNX
// Runtime shared library; when empty, libonnxruntime.so next to the model
// is used.
func NewONNXModel(modelPath, libPath string) (*ONNXModel, error) {
	if libPath == "" {
		libPath = filepath.Join(filepath.Dir(modelPath), "libonnxruntime.so")
	}
	if err := initORT(libPath); err != nil {
		return nil, fmt.Errorf("onnx: failed to initialize runtime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to read model info: %w", err)
	}
	inputName, err := validateInput(inputs)
	if err != nil {
		return nil, err
	}
	outputName, outShape, err := validateOutput(outputs)
	if err != nil {
		return nil, err
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session options: %w", err)
	}
	defer opts.Destroy()
	opts.SetIntraOpNumThreads(1)
	opts.SetInterOpNumThreads(1)

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{inputName},
		[]string{outputName},
		opts,
	)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session: %w", err)
	}

	return &ONNXModel{
		session:    session,
		inputName:  inputName,
		outputName: outputName,
		outShape:   outShape,
	}, nil
}

// validateInput expects a single [batch, SeqLength, NumFeatures] input.
// A dynamic batch dimension (-1) is accepted.
func validateInput(inputs []ort.InputOutputInfo) (string, error) {
	if len(inputs) != 1 {
		return "", fmt.Errorf("onnx: expected 1 model input, got %d", len(inputs))
	}
	dims := inputs[0].Dimensions
	if len(dims) != 3 {
		return "", fmt.Errorf("onnx: expected 3D input tensor, got %v", dims)
	}
	if dims[1] != model.SeqLength || dims[2] != model.NumFeatures {
		return "", fmt.Errorf("onnx: input shape %v does not match (batch, %d, %d)",
			dims, model.SeqLength, model.NumFeatures)
	}
	return inputs[0].Name, nil
}

// validateOutput expects a single output holding one probability per batch
// entry, shaped [batch] or [batch, 1].
func validateOutput(outputs []ort.InputOutputInfo) (string, ort.Shape, error) {
	if len(outputs) == 0 {
		return "", nil, fmt.Errorf("onnx: model has no outputs")
	}
	dims := outputs[0].Dimensions
	switch {
	case len(dims) == 1:
		return outputs[0].Name, ort.NewShape(1), nil
	case len(dims) == 2 && dims[1] == 1:
		return outputs[0].Name, ort.NewShape(1, 1), nil
	default:
		return "", nil, fmt.Errorf("onnx: expected output shape (batch, 1), got %v", dims)
	}
}

// Predict runs a single forward pass over one window.
func (m *ONNXModel) Predict(_ context.Context, input []float32) (float64, error) {
	if len(input) != model.FlatSize {
		return 0, fmt.Errorf("onnx: input has %d values, want %d", len(input), model.FlatSize)
	}

	tIn, err := ort.NewTensor(ort.NewShape(1, model.SeqLength, model.NumFeatures), input)
	if err != nil {
		return 0, fmt.Errorf("onnx: failed to create input tensor: %w", err)
	}
	defer tIn.Destroy()

	tOut, err := ort.NewEmptyTensor[float32](m.outShape)
	if err != nil {
		return 0, fmt.Errorf("onnx: failed to create output tensor: %w", err)
	}
	defer tOut.Destroy()

	m.mu.Lock()
	err = m.session.Run([]ort.Value{tIn}, []ort.Value{tOut})
	m.mu.Unlock()
	if err != nil {
		return 0, fmt.Errorf("onnx: inference failed: %w", err)
	}

	out := tOut.GetData()
	if len(out) == 0 {
		return 0, fmt.Errorf("onnx: empty output tensor")
	}
	return float64(out[0]), nil
}

// Close releases the ONNX session resources.
func (m *ONNXModel) Close() error {
	return m.session.Destroy()
}
