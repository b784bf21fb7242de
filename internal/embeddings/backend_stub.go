//go:build !onnx
// +build !onnx

package embeddings

import (
	"fmt"

	"go.uber.org/zap"
)

// Stub implementations used when the 'onnx' build tag is not set.

func newOnnxSubwordModel(modelPath string, logger *zap.Logger) (SubwordModel, error) {
	return nil, fmt.Errorf("%w: build with -tags onnx to run %s", ErrBackendUnavailable, modelPath)
}

func newOnnxRecurrentModel(weightsPath string, options *ElmoOptions, logger *zap.Logger) (RecurrentModel, error) {
	return nil, fmt.Errorf("%w: build with -tags onnx to run %s", ErrBackendUnavailable, weightsPath)
}
