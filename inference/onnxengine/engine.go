// Package onnxengine ONNX Runtime(.onnx) 백엔드
package onnxengine

import (
	"context"
	"fmt"
	"sync"

	"github.com/james-fu/sagemaker-fastai-example/inference"
	"github.com/james-fu/sagemaker-fastai-example/preprocess"
	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

// Ext ONNX 모델 확장자
const Ext = ".onnx"

func init() {
	inference.Register(Ext, Open)
}

var (
	envMu   sync.Mutex
	envRefs int
)

// SetLibraryPath onnxruntime 공유 라이브러리 경로, 첫 Open 전에 호출해야 한다
func SetLibraryPath(path string) {
	if path != "" {
		ort.SetSharedLibraryPath(path)
	}
}

func acquireEnv() error {
	envMu.Lock()
	defer envMu.Unlock()

	if envRefs == 0 && !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return fmt.Errorf("failed to initialize ONNX environment: %w", err)
		}
	}
	envRefs++
	return nil
}

func releaseEnv() error {
	envMu.Lock()
	defer envMu.Unlock()

	envRefs--
	if envRefs == 0 {
		return ort.DestroyEnvironment()
	}
	return nil
}

// Engine ONNX Runtime 세션.
// 요청마다 입출력 텐서를 따로 만들기 때문에 Run을 동시에 호출해도 된다.
type Engine struct {
	session *ort.DynamicAdvancedSession

	inputShape  []int64
	outputShape []int64
}

// Open ONNX 모델 로드
func Open(file string, opts inference.EngineOptions) (inference.Engine, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := acquireEnv(); err != nil {
		return nil, err
	}

	e, err := open(file, opts, logger)
	if err != nil {
		releaseEnv()
		return nil, err
	}

	return e, nil
}

func open(file string, opts inference.EngineOptions, logger *zap.Logger) (*Engine, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read model info: %w", err)
	}
	if len(inputs) == 0 || len(outputs) == 0 {
		return nil, fmt.Errorf("model has %d inputs and %d outputs", len(inputs), len(outputs))
	}

	in, err := findInfo(inputs, opts.InputName)
	if err != nil {
		return nil, err
	}
	out, err := findInfo(outputs, opts.OutputName)
	if err != nil {
		return nil, err
	}

	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer options.Destroy()

	if opts.Device == inference.DeviceCUDA {
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			return nil, fmt.Errorf("failed to create CUDA options: %w", err)
		}
		defer cudaOptions.Destroy()

		if err := cudaOptions.Update(map[string]string{"device_id": "0"}); err != nil {
			return nil, fmt.Errorf("failed to update CUDA options: %w", err)
		}
		if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			return nil, fmt.Errorf("failed to enable CUDA: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(file,
		[]string{in.Name}, []string{out.Name}, options)
	if err != nil {
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	logger.Info("onnx session created",
		zap.String("input", in.Name),
		zap.String("output", out.Name),
		zap.String("device", opts.Device))

	return &Engine{
		session:     session,
		inputShape:  []int64(in.Dimensions),
		outputShape: []int64(out.Dimensions),
	}, nil
}

func findInfo(infos []ort.InputOutputInfo, name string) (ort.InputOutputInfo, error) {
	if name == "" {
		return infos[0], nil
	}
	for _, info := range infos {
		if info.Name == name {
			return info, nil
		}
	}
	return ort.InputOutputInfo{}, fmt.Errorf("no tensor named %s in model", name)
}

// Run 입력 텐서로 세션 실행
func (e *Engine) Run(ctx context.Context, input preprocess.Tensor) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(input.Dims()...), input.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()

	outputShape := make([]int64, len(e.outputShape))
	for i, d := range e.outputShape {
		if d < 0 {
			d = 1
		}
		outputShape[i] = d
	}

	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(outputShape...))
	if err != nil {
		return nil, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := e.session.Run(
		[]ort.ArbitraryTensor{inputTensor},
		[]ort.ArbitraryTensor{outputTensor},
	); err != nil {
		return nil, fmt.Errorf("inference failed: %w", err)
	}

	return append([]float32(nil), outputTensor.GetData()...), nil
}

// InputShape 입력 크기
func (e *Engine) InputShape() []int64 {
	return e.inputShape
}

// OutputShape 출력 크기
func (e *Engine) OutputShape() []int64 {
	return e.outputShape
}

// Close 세션 해제
func (e *Engine) Close() error {
	if err := e.session.Destroy(); err != nil {
		return err
	}
	return releaseEnv()
}
