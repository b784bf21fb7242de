//go:build onnx
// +build onnx

package embeddings

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

var (
	ortOnce sync.Once
	ortErr  error
)

// initRuntime initializes the ONNX Runtime environment once per process.
func initRuntime() error {
	ortOnce.Do(func() {
		// Allow user to provide shared library path via environment variable.
		if shlib := os.Getenv("ONNXRUNTIME_SHARED_LIB"); shlib != "" {
			ort.SetSharedLibraryPath(shlib)
		} else if shlib := os.Getenv("ORT_SHLIB"); shlib != "" {
			ort.SetSharedLibraryPath(shlib)
		}
		if !ort.IsInitialized() {
			ortErr = ort.InitializeEnvironment()
		}
	})
	return ortErr
}

// onnxSubwordModel runs a transformer export that outputs its hidden states.
type onnxSubwordModel struct {
	session     *ort.DynamicAdvancedSession
	inputNames  []string
	outputNames []string
	stacked     bool
	logger      *zap.Logger
	mu          sync.Mutex
}

func newOnnxSubwordModel(modelPath string, logger *zap.Logger) (SubwordModel, error) {
	if err := initRuntime(); err != nil {
		return nil, fmt.Errorf("%w: ONNX Runtime environment init failed: %w", ErrModelNotLoaded, err)
	}

	inputsInfo, outputsInfo, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to inspect ONNX model IO: %w", ErrModelNotLoaded, err)
	}

	// Keep the transformer inputs the model declares, in a fixed order
	declared := map[string]string{}
	for _, ii := range inputsInfo {
		declared[strings.ToLower(ii.Name)] = ii.Name
	}
	var inputNames []string
	for _, name := range []string{"input_ids", "attention_mask", "token_type_ids"} {
		if actual, ok := declared[name]; ok {
			inputNames = append(inputNames, actual)
		}
	}
	if len(inputNames) == 0 || !strings.EqualFold(inputNames[0], "input_ids") {
		return nil, fmt.Errorf("%w: model %s has no input_ids input", ErrConfigError, modelPath)
	}

	outputs := make([]outputInfo, len(outputsInfo))
	for i, oi := range outputsInfo {
		outputs[i] = outputInfo{Name: oi.Name, Rank: len(oi.Dimensions)}
	}
	outputNames, stacked, err := selectHiddenStates(outputs)
	if err != nil {
		return nil, err
	}

	sess, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: ONNX Runtime session creation failed: %w", ErrModelNotLoaded, err)
	}

	logger.Info("ONNX subword model ready",
		zap.String("model", modelPath),
		zap.Strings("inputs", inputNames),
		zap.Strings("outputs", outputNames),
		zap.Bool("stacked", stacked))

	return &onnxSubwordModel{
		session:     sess,
		inputNames:  inputNames,
		outputNames: outputNames,
		stacked:     stacked,
		logger:      logger,
	}, nil
}

// Run feeds the padded batch and returns the hidden states, bottom layer first.
func (m *onnxSubwordModel) Run(ctx context.Context, ids [][]int64, mask [][]int64) ([]LayerOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil, ErrModelNotLoaded
	}

	batch := len(ids)
	if batch == 0 {
		return nil, nil
	}
	seqLen := len(ids[0])

	inputIDs := make([]int64, 0, batch*seqLen)
	attention := make([]int64, 0, batch*seqLen)
	for i, row := range ids {
		inputIDs = append(inputIDs, row...)
		if mask != nil {
			attention = append(attention, mask[i]...)
		}
	}
	// Models that declare a mask get an all-ones mask when none is required.
	if mask == nil {
		for range inputIDs {
			attention = append(attention, 1)
		}
	}

	shape := ort.NewShape(int64(batch), int64(seqLen))
	idsTensor, err := ort.NewTensor(shape, inputIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to create input_ids tensor: %w", err)
	}
	defer idsTensor.Destroy()
	maskTensor, err := ort.NewTensor(shape, attention)
	if err != nil {
		return nil, fmt.Errorf("failed to create attention_mask tensor: %w", err)
	}
	defer maskTensor.Destroy()
	typeTensor, err := ort.NewTensor(shape, make([]int64, batch*seqLen))
	if err != nil {
		return nil, fmt.Errorf("failed to create token_type_ids tensor: %w", err)
	}
	defer typeTensor.Destroy()

	inputs := make([]ort.Value, 0, len(m.inputNames))
	for _, name := range m.inputNames {
		switch strings.ToLower(name) {
		case "input_ids":
			inputs = append(inputs, idsTensor)
		case "attention_mask":
			inputs = append(inputs, maskTensor)
		case "token_type_ids":
			inputs = append(inputs, typeTensor)
		}
	}

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	// Let ORT allocate the outputs
	outputs := make([]ort.Value, len(m.outputNames))
	if err := m.session.Run(inputs, outputs); err != nil {
		return nil, fmt.Errorf("onnx run failed: %w", err)
	}
	defer func() {
		for _, out := range outputs {
			if out != nil {
				_ = out.Destroy()
			}
		}
	}()

	layers := make([]LayerOutput, 0, len(outputs))
	for i, out := range outputs {
		tensor, ok := out.(*ort.Tensor[float32])
		if !ok {
			return nil, fmt.Errorf("unexpected type for output %s (want float32 tensor)", m.outputNames[i])
		}
		if m.stacked {
			return splitStacked(tensor.GetData(), tensor.GetShape())
		}
		layer, err := reshapeLayer(tensor.GetData(), tensor.GetShape())
		if err != nil {
			return nil, fmt.Errorf("output %s: %w", m.outputNames[i], err)
		}
		layers = append(layers, layer)
	}
	return layers, nil
}

// Close destroys the session.
func (m *onnxSubwordModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}

// onnxRecurrentModel runs an ELMo bilm export over character ids.
type onnxRecurrentModel struct {
	session    *ort.DynamicAdvancedSession
	inputName  string
	outputName string
	options    *ElmoOptions
	logger     *zap.Logger
	mu         sync.Mutex
}

func newOnnxRecurrentModel(weightsPath string, options *ElmoOptions, logger *zap.Logger) (RecurrentModel, error) {
	if err := initRuntime(); err != nil {
		return nil, fmt.Errorf("%w: ONNX Runtime environment init failed: %w", ErrModelNotLoaded, err)
	}

	inputsInfo, outputsInfo, err := ort.GetInputOutputInfo(weightsPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to inspect ONNX model IO: %w", ErrModelNotLoaded, err)
	}
	if len(inputsInfo) == 0 || len(outputsInfo) == 0 {
		return nil, fmt.Errorf("%w: ELMo export %s must declare character ids input and activations output", ErrConfigError, weightsPath)
	}
	inputName := inputsInfo[0].Name
	outputName := outputsInfo[0].Name

	sess, err := ort.NewDynamicAdvancedSession(weightsPath, []string{inputName}, []string{outputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: ONNX Runtime session creation failed: %w", ErrModelNotLoaded, err)
	}

	logger.Info("ONNX ELMo model ready",
		zap.String("weights", weightsPath),
		zap.String("input", inputName),
		zap.String("output", outputName),
		zap.Int("projection_dim", options.LSTM.ProjectionDim))

	return &onnxRecurrentModel{
		session:    sess,
		inputName:  inputName,
		outputName: outputName,
		options:    options,
		logger:     logger,
	}, nil
}

// EmbedSentences returns [layer][word][feature] activations per sentence.
func (m *onnxRecurrentModel) EmbedSentences(ctx context.Context, sentences [][]string) ([][][][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil, ErrModelNotLoaded
	}

	charIDs, maxWords := elmoBatchCharIDs(sentences)
	wordCounts := make([]int, len(sentences))
	for i, words := range sentences {
		wordCounts[i] = len(words)
	}
	if maxWords == 0 {
		return make([][][][]float32, len(sentences)), nil
	}

	shape := ort.NewShape(int64(len(sentences)), int64(maxWords), elmoMaxWordLength)
	input, err := ort.NewTensor(shape, charIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to create character ids tensor: %w", err)
	}
	defer input.Destroy()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	outputs := make([]ort.Value, 1)
	if err := m.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, fmt.Errorf("onnx run failed: %w", err)
	}
	if outputs[0] == nil {
		return nil, fmt.Errorf("onnx returned no outputs")
	}
	defer func() {
		_ = outputs[0].Destroy()
	}()

	tensor, ok := outputs[0].(*ort.Tensor[float32])
	if !ok {
		return nil, fmt.Errorf("unexpected output type (want float32 tensor)")
	}
	return reshapeRecurrent(tensor.GetData(), tensor.GetShape(), wordCounts)
}

// Close destroys the session.
func (m *onnxRecurrentModel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.session == nil {
		return nil
	}
	err := m.session.Destroy()
	m.session = nil
	return err
}
