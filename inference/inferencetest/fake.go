// Package inferencetest 네이티브 런타임 없이 추론 경로를 테스트하기 위한 가짜 백엔드
package inferencetest

import (
	"context"
	"io/ioutil"
	"path"
	"sync"
	"testing"

	"github.com/james-fu/sagemaker-fastai-example/inference"
	"github.com/james-fu/sagemaker-fastai-example/preprocess"
	"gopkg.in/yaml.v2"
)

// Ext 가짜 가중치 파일 확장자
const Ext = ".fake"

// Weights 가짜 가중치 파일 내용.
// Scores가 비어 있으면 채널별 평균(R, B)에 Gain을 곱한 값을 점수로 낸다.
type Weights struct {
	Input  []int64   `yaml:"input"`
	Output []int64   `yaml:"output"`
	Scores []float32 `yaml:"scores"`
	Gain   float32   `yaml:"gain"`
}

// DefaultWeights 224 입력, 2 클래스
func DefaultWeights() Weights {
	return Weights{
		Input:  []int64{-1, 3, 224, 224},
		Output: []int64{-1, 2},
		Gain:   10,
	}
}

var once sync.Once

// Install 가짜 백엔드 등록, 여러번 호출해도 된다
func Install() {
	once.Do(func() {
		inference.Register(Ext, open)
	})
}

// WriteWeights 모델 디렉토리에 `<name>.fake` 파일 생성
func WriteWeights(t testing.TB, dir, name string, w Weights) string {
	t.Helper()

	b, err := yaml.Marshal(w)
	if err != nil {
		t.Fatal(err)
	}

	file := path.Join(dir, name+Ext)
	if err := ioutil.WriteFile(file, b, 0644); err != nil {
		t.Fatal(err)
	}

	return file
}

// Engine 가짜 엔진
type Engine struct {
	w      Weights
	mu     sync.Mutex
	calls  int
	closed bool
}

func open(file string, _ inference.EngineOptions) (inference.Engine, error) {
	b, err := ioutil.ReadFile(file)
	if err != nil {
		return nil, err
	}

	var w Weights
	if err := yaml.Unmarshal(b, &w); err != nil {
		return nil, err
	}

	return &Engine{w: w}, nil
}

// Run 고정 점수 또는 채널 평균 점수
func (e *Engine) Run(_ context.Context, input preprocess.Tensor) ([]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	if len(e.w.Scores) > 0 {
		return append([]float32(nil), e.w.Scores...), nil
	}

	plane := input.Shape[1] * input.Shape[2]
	mean := func(c int) float32 {
		var sum float32
		for _, v := range input.Data[c*plane : (c+1)*plane] {
			sum += v
		}
		return sum / float32(plane)
	}

	return []float32{mean(0) * e.w.Gain, mean(2) * e.w.Gain}, nil
}

// InputShape 입력 크기
func (e *Engine) InputShape() []int64 { return e.w.Input }

// OutputShape 출력 크기
func (e *Engine) OutputShape() []int64 { return e.w.Output }

// Close 엔진 해제
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}
