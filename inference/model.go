package inference

import (
	"errors"
	"fmt"
	"sync"

	"github.com/james-fu/sagemaker-fastai-example/arch"
	"github.com/james-fu/sagemaker-fastai-example/constants"
	"go.uber.org/zap"
)

// ErrWeightMismatch 저장된 가중치가 재구성한 아키텍처와 맞지 않음
var ErrWeightMismatch = errors.New("weights do not match architecture")

// ErrModelClosed Destroy 이후 추론 요청
var ErrModelClosed = errors.New("model is closed")

const (
	DeviceCPU  = "cpu"
	DeviceCUDA = "cuda"
)

// Config 모델 로드 설정정보
type Config struct {
	Labels []string
	// ImageSize 0이면 config.yaml의 값, 그것도 없으면 224
	ImageSize int
	Device    string
	Logger    *zap.Logger
}

// Model 추론 전용으로 로드 된 분류 모델, 로드 이후 변경되지 않는다
type Model struct {
	Name        string
	Meta        arch.Meta
	Head        arch.Head
	Labels      []string
	ImageSize   int
	Device      string
	WeightsFile string
	Description string

	// mu 처리중인 추론이 끝나야 engine을 해제할 수 있다
	mu     sync.RWMutex
	engine Engine
	logger *zap.Logger
}

// Load 모델 디렉토리의 가중치 파일로 분류 모델 재구성
func Load(dir string, c Config) (*Model, error) {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	labels := c.Labels
	if len(labels) == 0 {
		labels = constants.Labels
	}

	device := c.Device
	if device == "" {
		device = DeviceCPU
	}

	a, err := Discover(dir)
	if err != nil {
		return nil, err
	}

	meta := arch.Lookup(a.Arch)
	if meta.Family == arch.FamilyDefault {
		logger.Warn("unknown backbone, using default architecture meta",
			zap.String("arch", a.Arch), zap.Int("cut", meta.Cut))
	}
	head := arch.NewHead(meta, len(labels))

	logger.Info("reconstructing model",
		zap.String("arch", meta.Name),
		zap.String("family", meta.Family.String()),
		zap.Int("cut", meta.Cut),
		zap.Strings("split", meta.Split.Groups()),
		zap.String("weights", a.Path()),
		zap.String("device", device))

	imageSize := c.ImageSize
	opts := EngineOptions{
		Device: device,
		Logger: logger,
	}
	description := ""

	if cfg := a.Config; cfg != nil {
		if err := checkConfig(cfg, labels, head); err != nil {
			return nil, err
		}
		if imageSize <= 0 {
			imageSize = cfg.ImageSize
		}
		opts.InputName = cfg.InputOperationName
		opts.OutputName = cfg.OutputOperationName
		description = cfg.Description
	}
	if imageSize <= 0 {
		imageSize = constants.DefaultImageSize
	}

	backend, err := lookupBackend(a.Ext())
	if err != nil {
		return nil, err
	}

	engine, err := backend(a.Path(), opts)
	if err != nil {
		return nil, fmt.Errorf("Fail to load weights: %s: %w", a.Path(), err)
	}

	if err := checkShapes(engine, imageSize, len(labels)); err != nil {
		engine.Close()
		return nil, fmt.Errorf("%w: %s (%s): %s", ErrWeightMismatch, a.WeightsFile, meta.Name, err)
	}

	logger.Info("model weights loaded",
		zap.Int64s("inputShape", engine.InputShape()),
		zap.Int64s("outputShape", engine.OutputShape()),
		zap.Strings("labels", labels))

	return &Model{
		Name:        meta.Name,
		Meta:        meta,
		Head:        head,
		Labels:      append([]string(nil), labels...),
		ImageSize:   imageSize,
		Device:      device,
		WeightsFile: a.WeightsFile,
		Description: description,
		engine:      engine,
		logger:      logger,
	}, nil
}

// 라벨 순서가 다르면 같은 인덱스가 다른 클래스를 가리키게 된다
func checkConfig(cfg *ModelConfig, labels []string, head arch.Head) error {
	if len(cfg.Labels) > 0 && !sameLabels(cfg.Labels, labels) {
		return fmt.Errorf("%w: labels %v, expected %v", ErrWeightMismatch, cfg.Labels, labels)
	}

	if cfg.HeadInFeatures > 0 && head.InFeatures > 0 && cfg.HeadInFeatures != head.InFeatures {
		return fmt.Errorf("%w: head in-features %d, %s expects %d",
			ErrWeightMismatch, cfg.HeadInFeatures, cfg.Arch, head.InFeatures)
	}

	return nil
}

func sameLabels(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func checkShapes(e Engine, imageSize, nLabels int) error {
	want := []int64{1, 3, int64(imageSize), int64(imageSize)}
	if !shapeFits(e.InputShape(), want) {
		return fmt.Errorf("input shape %v, expected %v", e.InputShape(), want)
	}

	want = []int64{1, int64(nLabels)}
	if !shapeFits(e.OutputShape(), want) {
		return fmt.Errorf("output shape %v, expected %v", e.OutputShape(), want)
	}

	return nil
}

// 음수 차원(동적 크기)은 어떤 값이든 허용
func shapeFits(got, want []int64) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range got {
		if got[i] >= 0 && got[i] != want[i] {
			return false
		}
	}
	return true
}

// Destroy 처리중인 추론이 끝나길 기다린 후 모델 해제
func (m *Model) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.engine == nil {
		return
	}
	if err := m.engine.Close(); err != nil {
		m.logger.Error("failed to close model engine", zap.String("model", m.Name), zap.Error(err))
	}
	m.engine = nil
}

// Info 모델 정보
func (m *Model) Info() map[string]interface{} {
	return map[string]interface{}{
		"model":       m.Name,
		"family":      m.Meta.Family.String(),
		"cut":         m.Meta.Cut,
		"split":       m.Meta.Split.Groups(),
		"head":        m.Head.Layers(),
		"labels":      m.Labels,
		"imageSize":   m.ImageSize,
		"device":      m.Device,
		"weights":     m.WeightsFile,
		"description": m.Description,
	}
}
