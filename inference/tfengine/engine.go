// Package tfengine TensorFlow frozen graph(.pb) 백엔드
package tfengine

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io/ioutil"

	"github.com/james-fu/sagemaker-fastai-example/inference"
	"github.com/james-fu/sagemaker-fastai-example/preprocess"
	tf "github.com/tensorflow/tensorflow/tensorflow/go"
	"go.uber.org/zap"
)

// Ext frozen graph 확장자
const Ext = ".pb"

const (
	defaultInput  = "input"
	defaultOutput = "output"
)

func init() {
	inference.Register(Ext, Open)
}

// Engine TensorFlow 세션. tf.Session.Run은 동시 호출에 안전하다.
type Engine struct {
	graph   *tf.Graph
	session *tf.Session
	input   tf.Output
	output  tf.Output

	inputShape  []int64
	outputShape []int64
}

// Open frozen graph 로드
func Open(file string, opts inference.EngineOptions) (inference.Engine, error) {
	var (
		graph   *tf.Graph
		session *tf.Session
		mByte   []byte
		err     error
	)

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	if mByte, err = ioutil.ReadFile(file); err != nil {
		return nil, fmt.Errorf("Fail to read model: %s: %s", file, err)
	}

	graph = tf.NewGraph()
	if err := graph.Import(mByte, ""); err != nil {
		return nil, fmt.Errorf("Fail to import model: %s", err)
	}

	inName := opts.InputName
	if inName == "" {
		inName = defaultInput
	}
	outName := opts.OutputName
	if outName == "" {
		outName = defaultOutput
	}

	inOp := graph.Operation(inName)
	if inOp == nil {
		return nil, fmt.Errorf("No input operation in graph: %s", inName)
	}
	outOp := graph.Operation(outName)
	if outOp == nil {
		return nil, fmt.Errorf("No output operation in graph: %s", outName)
	}

	// 장치 배치는 graph에 기록된 대로 따른다
	if opts.Device == inference.DeviceCUDA {
		logger.Info("tensorflow uses device placement recorded in graph", zap.String("device", opts.Device))
	}

	if session, err = tf.NewSession(graph, nil); err != nil {
		return nil, fmt.Errorf("Fail to make model session: %s", err)
	}

	e := &Engine{
		graph:   graph,
		session: session,
		input:   inOp.Output(0),
		output:  outOp.Output(0),
	}
	e.inputShape = shapeOf(e.input)
	e.outputShape = shapeOf(e.output)

	return e, nil
}

func shapeOf(o tf.Output) []int64 {
	shape := o.Shape()
	if shape.NumDimensions() < 0 {
		return nil
	}

	dims, err := shape.ToSlice()
	if err != nil {
		// 일부 차원을 모르는 경우
		dims = make([]int64, shape.NumDimensions())
		for i := range dims {
			dims[i] = shape.Size(i)
		}
	}
	return dims
}

// Run 입력 텐서로 그래프 실행
func (e *Engine) Run(ctx context.Context, input preprocess.Tensor) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, input.Data); err != nil {
		return nil, err
	}

	tensor, err := tf.ReadTensor(tf.Float, input.Dims(), &buf)
	if err != nil {
		return nil, err
	}

	results, err := e.session.Run(
		map[tf.Output]*tf.Tensor{
			e.input: tensor,
		},
		[]tf.Output{
			e.output,
		},
		nil,
	)
	if err != nil {
		return nil, err
	}

	scores, ok := results[0].Value().([][]float32)
	if !ok || len(scores) == 0 {
		return nil, fmt.Errorf("Unexpected output type: %T", results[0].Value())
	}

	return scores[0], nil
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
	return e.session.Close()
}
