package inference

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/james-fu/sagemaker-fastai-example/preprocess"
	"go.uber.org/zap"
)

// ErrInvalidOutput 모델 출력이 라벨 수와 맞지 않거나 유한하지 않음
var ErrInvalidOutput = errors.New("invalid model output")

// Prediction 분류 결과
type Prediction struct {
	Class      string  `json:"class"`
	Confidence float64 `json:"confidence"`

	Index         int       `json:"-"`
	Probabilities []float64 `json:"-"`
}

// Predict 전처리 된 텐서로 추론
func (m *Model) Predict(ctx context.Context, input preprocess.Tensor) (Prediction, error) {
	want := [3]int{3, m.ImageSize, m.ImageSize}
	if input.Shape != want || len(input.Data) != 3*m.ImageSize*m.ImageSize {
		return Prediction{}, fmt.Errorf("Invalid input shape %v, expected %v", input.Shape, want)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.engine == nil {
		return Prediction{}, ErrModelClosed
	}

	scores, err := m.engine.Run(ctx, input)
	if err != nil {
		return Prediction{}, err
	}

	m.logger.Debug("raw output", zap.Float32s("scores", scores))

	return Decide(scores, m.Labels)
}

// Decide softmax 후 가장 확률이 높은 라벨 선택
func Decide(scores []float32, labels []string) (Prediction, error) {
	if len(scores) != len(labels) {
		return Prediction{}, fmt.Errorf(
			"%w: the number of labels(%d) and scores(%d) does not match",
			ErrInvalidOutput, len(labels), len(scores))
	}

	for _, s := range scores {
		if v := float64(s); math.IsNaN(v) || math.IsInf(v, 0) {
			return Prediction{}, fmt.Errorf("%w: %v", ErrInvalidOutput, scores)
		}
	}

	probs := Softmax(scores)

	idx := Argmax(scores)

	return Prediction{
		Class:         labels[idx],
		Confidence:    probs[idx],
		Index:         idx,
		Probabilities: probs,
	}, nil
}

// Softmax 점수를 합이 1인 확률 분포로 변환
func Softmax(scores []float32) []float64 {
	if len(scores) == 0 {
		return nil
	}

	max := math.Inf(-1)
	for _, s := range scores {
		if v := float64(s); v > max {
			max = v
		}
	}

	probs := make([]float64, len(scores))
	var sum float64
	for i, s := range scores {
		probs[i] = math.Exp(float64(s) - max)
		sum += probs[i]
	}
	for i := range probs {
		probs[i] /= sum
	}

	return probs
}

// Argmax 가장 큰 점수의 인덱스, 같은 값이면 앞쪽 인덱스
func Argmax(scores []float32) int {
	idx := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[idx] {
			idx = i
		}
	}
	return idx
}
