package constants

// Labels 분류 클래스 목록, 순서가 곧 클래스 인덱스
var Labels = []string{"cats", "dogs"}

const (
	JSONContentType string = "application/json"
	JPEGContentType string = "image/jpeg"

	DefaultImageSize int = 224
	ResizeShortSide  int = 256

	DefaultModelArch string = "resnet34"
	ModelConfigFile  string = "config.yaml"

	ModelsPath string = "/opt/ml/model"
	DataPath   string = "/opt/ml/input/data/training"

	TrainEpochs    int     = 2
	TrainBatchSize int     = 64
	TrainWorkers   int     = 2
	LearningRate   float64 = 0.001
	Momentum       float64 = 0.9
)

// ImageNet 정규화 통계값
var (
	NormMean = [3]float32{0.485, 0.456, 0.406}
	NormStd  = [3]float32{0.229, 0.224, 0.225}
)
