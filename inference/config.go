package inference

import (
	"io/ioutil"
	"path"

	"github.com/james-fu/sagemaker-fastai-example/constants"
	"gopkg.in/yaml.v2"
)

// TrainingResult 학습 결과
type TrainingResult struct {
	Epochs             int       `yaml:"epochs"`
	TrainLoss          []float32 `yaml:"trainLoss"`
	ValidationLoss     []float32 `yaml:"validationLoss"`
	ValidationAccuracy []float32 `yaml:"validationAccuracy"`
}

// ModelConfig 가중치 파일과 함께 저장되는 모델 메타정보 (config.yaml)
type ModelConfig struct {
	Arch                string         `yaml:"arch"`
	WeightsFile         string         `yaml:"weightsFile"`
	Labels              []string       `yaml:"labels"`
	ImageSize           int            `yaml:"imageSize"`
	HeadInFeatures      int            `yaml:"headInFeatures,omitempty"`
	InputOperationName  string         `yaml:"inputOperationName,omitempty"`
	OutputOperationName string         `yaml:"outputOperationName,omitempty"`
	TrainingResult      TrainingResult `yaml:"trainingResult"`
	Description         string         `yaml:"description"`
}

// ReadModelConfig 모델 디렉토리의 config.yaml 로드
func ReadModelConfig(dir string) (*ModelConfig, error) {
	cfgBytes, err := ioutil.ReadFile(path.Join(dir, constants.ModelConfigFile))
	if err != nil {
		return nil, err
	}

	var cfg ModelConfig
	if err := yaml.Unmarshal(cfgBytes, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// WriteModelConfig 모델 디렉토리에 config.yaml 저장
func WriteModelConfig(dir string, cfg *ModelConfig) error {
	cfgBytes, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	return ioutil.WriteFile(path.Join(dir, constants.ModelConfigFile), cfgBytes, 0644)
}
