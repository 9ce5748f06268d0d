// Package serving 모델 서빙 프레임워크가 호출하는 네 가지 훅
// (model load, input 역직렬화, predict, output 직렬화)
package serving

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"strings"

	"github.com/james-fu/sagemaker-fastai-example/constants"
	"github.com/james-fu/sagemaker-fastai-example/inference"
	"github.com/james-fu/sagemaker-fastai-example/preprocess"
	"go.uber.org/zap"
)

// ErrUnsupportedContentType 요청 content type 또는 accept 타입을 지원하지 않음
var ErrUnsupportedContentType = errors.New("unsupported content type")

// Config 서빙 어댑터 설정정보
type Config struct {
	// ImageSize 0이면 모델의 입력 크기를 쓴다
	ImageSize int
	Device    string
	Labels    []string
	Logger    *zap.Logger
}

// Adapter 서빙 훅 모음
type Adapter struct {
	imageSize int
	device    string
	labels    []string
	logger    *zap.Logger
}

// New 서빙 어댑터 생성
func New(c Config) *Adapter {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	labels := c.Labels
	if len(labels) == 0 {
		labels = constants.Labels
	}

	return &Adapter{
		imageSize: c.ImageSize,
		device:    c.Device,
		labels:    labels,
		logger:    logger,
	}
}

// ModelFn 모델 디렉토리에서 모델 로드
func (a *Adapter) ModelFn(modelDir string) (*inference.Model, error) {
	a.logger.Debug("model_fn", zap.String("modelDir", modelDir))

	return inference.Load(modelDir, inference.Config{
		Labels:    a.labels,
		ImageSize: a.imageSize,
		Device:    a.device,
		Logger:    a.logger,
	})
}

// InputFn 요청 바디를 추론 입력 텐서로 변환, jpeg만 지원
func (a *Adapter) InputFn(body []byte, contentType string, m *inference.Model) (preprocess.Tensor, error) {
	a.logger.Info("deserializing the input data", zap.String("contentType", contentType))

	if !matchType(contentType, constants.JPEGContentType, "image/jpg") {
		return preprocess.Tensor{}, fmt.Errorf(
			"%w: requested unsupported ContentType in content_type: %s",
			ErrUnsupportedContentType, contentType)
	}

	size := a.imageSize
	if m != nil {
		size = m.ImageSize
	}

	return preprocess.New(size).Run(body)
}

// PredictFn 모델로 추론
func (a *Adapter) PredictFn(ctx context.Context, input preprocess.Tensor, m *inference.Model) (inference.Prediction, error) {
	a.logger.Info("calling model")

	p, err := m.Predict(ctx, input)
	if err != nil {
		return p, err
	}

	a.logger.Info("prediction",
		zap.String("class", p.Class),
		zap.Float64("confidence", p.Confidence),
		zap.Float64s("probabilities", p.Probabilities))

	return p, nil
}

// OutputFn 추론 결과 직렬화, json만 지원
func (a *Adapter) OutputFn(p inference.Prediction, accept string) ([]byte, string, error) {
	a.logger.Info("serializing the generated output", zap.String("accept", accept))

	if err := checkAccept(accept); err != nil {
		return nil, "", err
	}

	body, err := json.Marshal(p)
	if err != nil {
		return nil, "", err
	}

	return body, constants.JSONContentType, nil
}

// Invoke input -> predict -> output
func (a *Adapter) Invoke(ctx context.Context, m *inference.Model, body []byte, contentType, accept string) ([]byte, string, inference.Prediction, error) {
	// 추론 전에 accept 타입부터 확인
	if err := checkAccept(accept); err != nil {
		return nil, "", inference.Prediction{}, err
	}

	input, err := a.InputFn(body, contentType, m)
	if err != nil {
		return nil, "", inference.Prediction{}, err
	}

	p, err := a.PredictFn(ctx, input, m)
	if err != nil {
		return nil, "", p, err
	}

	out, outType, err := a.OutputFn(p, accept)
	return out, outType, p, err
}

// accept 목록 중 하나라도 json을 허용하면 된다
func checkAccept(accept string) error {
	if strings.TrimSpace(accept) == "" {
		return nil
	}
	for _, v := range strings.Split(accept, ",") {
		if strings.TrimSpace(v) != "" && matchType(v, constants.JSONContentType, "application/*", "*/*") {
			return nil
		}
	}
	return fmt.Errorf("%w: requested unsupported ContentType in Accept: %s",
		ErrUnsupportedContentType, accept)
}

// matchType 비어 있으면 첫번째 타입을 기본값으로 본다. 파라미터(charset 등)는 무시.
func matchType(value string, types ...string) bool {
	if strings.TrimSpace(value) == "" {
		return true
	}

	mediaType, _, err := mime.ParseMediaType(value)
	if err != nil {
		return false
	}

	for _, t := range types {
		if mediaType == t {
			return true
		}
	}
	return false
}
