// Package trainer 데이터 검사, 학습 요청, 모델 디렉토리 정리까지의 학습 작업 흐름
package trainer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/james-fu/sagemaker-fastai-example/arch"
	"github.com/james-fu/sagemaker-fastai-example/inference"
	"github.com/james-fu/sagemaker-fastai-example/trainapp/dataset"
	"github.com/james-fu/sagemaker-fastai-example/trainapp/learner"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// 저장 형식별 가중치 파일 확장자
var formats = map[string]string{
	"onnx": ".onnx",
	"pb":   ".pb",
}

// Submitter 학습 작업 실행
type Submitter interface {
	Submit(ctx context.Context, req learner.Request) (*learner.Response, error)
}

// Config 학습 작업 설정정보
type Config struct {
	Arch      string
	Labels    []string
	ImageSize int

	Epochs    int
	BatchSize int
	Workers   int
	LR        float64
	Momentum  float64

	DataDir  string
	ModelDir string
	Format   string
	Device   string

	Hosts       []string
	CurrentHost string
	DistBackend string

	SkipDecode  bool
	Description string

	Logger *zap.Logger
}

// Trainer 학습 작업
type Trainer struct {
	c      Config
	l      Submitter
	logger *zap.Logger
}

// Rank 전체 호스트 중 현재 호스트 순번. 호스트 목록이 없으면 단일 호스트로 간주.
func Rank(hosts []string, current string) (int, error) {
	if len(hosts) == 0 {
		return 0, nil
	}

	rank := lo.IndexOf(hosts, current)
	if rank < 0 {
		return -1, fmt.Errorf("Current host %q is not in hosts %v", current, hosts)
	}
	return rank, nil
}

// Run 학습 실행.
// rank 0 호스트만 가중치 파일을 확인하고 config.yaml을 저장한다. 나머지 호스트는 nil 반환.
func (t *Trainer) Run(ctx context.Context) (*inference.ModelConfig, error) {
	ext, ok := formats[strings.ToLower(t.c.Format)]
	if !ok {
		return nil, fmt.Errorf("Unsupported weights format: %s", t.c.Format)
	}

	rank, err := Rank(t.c.Hosts, t.c.CurrentHost)
	if err != nil {
		return nil, err
	}

	m := arch.Lookup(t.c.Arch)
	if !arch.Known(t.c.Arch) {
		t.logger.Warn("unknown architecture, default body cut and split are used",
			zap.String("arch", t.c.Arch), zap.Strings("known", arch.Names()))
	}
	head := arch.NewHead(m, len(t.c.Labels))

	if _, err := dataset.Scan(ctx, t.c.DataDir, dataset.Config{
		Labels:     t.c.Labels,
		Workers:    t.c.Workers,
		SkipDecode: t.c.SkipDecode,
		Logger:     t.logger,
	}); err != nil {
		return nil, err
	}

	res, err := t.l.Submit(ctx, learner.Request{
		Arch:           m.Name,
		Cut:            m.Cut,
		SplitGroups:    m.Split.Groups(),
		HeadInFeatures: head.InFeatures,
		Labels:         t.c.Labels,
		ImageSize:      t.c.ImageSize,
		BatchSize:      t.c.BatchSize,
		Workers:        t.c.Workers,
		Momentum:       t.c.Momentum,
		Schedule:       learner.Schedule(t.c.Epochs, t.c.LR),
		DataDir:        t.c.DataDir,
		ModelDir:       t.c.ModelDir,
		Format:         strings.ToLower(t.c.Format),
		Device:         t.c.Device,
		Hosts:          t.c.Hosts,
		Rank:           rank,
		DistBackend:    t.c.DistBackend,
	})
	if err != nil {
		return nil, err
	}

	t.logger.Info("training finished",
		zap.String("jobId", res.JobID),
		zap.Int("rank", rank),
		zap.Any("result", res.Result))

	if rank != 0 {
		return nil, nil
	}

	a, err := inference.FindWeights(t.c.ModelDir, []string{ext})
	if err != nil {
		return nil, err
	}
	expected := m.Name + ext
	if a.WeightsFile != expected || (res.WeightsFile != "" && res.WeightsFile != expected) {
		return nil, fmt.Errorf("%w: expected %s, found %s", inference.ErrModelNotFound, expected, a.WeightsFile)
	}

	cfg := &inference.ModelConfig{
		Arch:           m.Name,
		WeightsFile:    a.WeightsFile,
		Labels:         t.c.Labels,
		ImageSize:      t.c.ImageSize,
		HeadInFeatures: head.InFeatures,
		TrainingResult: inference.TrainingResult{
			Epochs:             res.Result.Epochs,
			TrainLoss:          res.Result.TrainLoss,
			ValidationLoss:     res.Result.ValidationLoss,
			ValidationAccuracy: res.Result.ValidationAccuracy,
		},
		Description: t.c.Description,
	}
	if err := inference.WriteModelConfig(t.c.ModelDir, cfg); err != nil {
		return nil, fmt.Errorf("Fail to write model config: %w", err)
	}

	t.logger.Info("model saved",
		zap.String("dir", t.c.ModelDir),
		zap.String("weights", a.WeightsFile))

	return cfg, nil
}

// New 학습 작업 생성
func New(c Config, l Submitter) (*Trainer, error) {
	if l == nil {
		return nil, errors.New("Learner is required")
	}
	if len(c.Labels) == 0 {
		return nil, errors.New("Labels are required")
	}

	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Trainer{
		c:      c,
		l:      l,
		logger: logger,
	}, nil
}
