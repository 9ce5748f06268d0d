package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/james-fu/sagemaker-fastai-example/constants"
	"github.com/james-fu/sagemaker-fastai-example/inference"
	"github.com/james-fu/sagemaker-fastai-example/trainapp/learner"
	"github.com/james-fu/sagemaker-fastai-example/trainapp/trainer"
	"go.uber.org/zap"
)

// hostList SM_HOSTS 형식 (JSON 문자열 배열)
type hostList []string

func (h *hostList) UnmarshalText(b []byte) error {
	return json.Unmarshal(b, (*[]string)(h))
}

type args struct {
	Workers     int     `arg:"--workers,help:Number of data loading workers"`
	Epochs      int     `arg:"--epochs,help:Number of total epochs to run"`
	BatchSize   int     `arg:"--batch-size,help:Batch size"`
	LR          float64 `arg:"--lr,help:Initial learning rate"`
	Momentum    float64 `arg:"--momentum,help:Momentum"`
	DistBackend string  `arg:"--dist-backend,help:Distributed backend"`
	ImageSize   int     `arg:"--image-size,help:Image size"`
	ModelArch   string  `arg:"--model-arch,help:Model architecture"`
	Format      string  `arg:"--format,help:Saved weights format (onnx or pb)"`

	Hosts       hostList `arg:"--hosts,env:SM_HOSTS,help:JSON list of training hosts"`
	CurrentHost string   `arg:"--current-host,env:SM_CURRENT_HOST,help:Current host name"`
	ModelDir    string   `arg:"--model-dir,env:SM_MODEL_DIR,help:Model output directory"`
	DataDir     string   `arg:"--data-dir,env:SM_CHANNEL_TRAINING,help:Training data directory"`
	NumGPUs     int      `arg:"--num-gpus,env:SM_NUM_GPUS,help:Number of GPUs"`

	LearnHost  string        `arg:"--learn-host,env:LEARN_HOST,help:Learner host address"`
	Timeout    time.Duration `arg:"--timeout,env:LEARN_TIMEOUT,help:Training job timeout (0 for none)"`
	SkipDecode bool          `arg:"--skip-decode,help:Skip decoding check of training images"`
	Desc       string        `arg:"--desc,help:Model description"`

	Debug bool `arg:"--debug,env:DEBUG,help:Debug logging"`
}

func (args) Description() string {
	return "dogs vs cats fine-tuning job"
}

func main() {
	a := args{
		Workers:     constants.TrainWorkers,
		Epochs:      constants.TrainEpochs,
		BatchSize:   constants.TrainBatchSize,
		LR:          constants.LearningRate,
		Momentum:    constants.Momentum,
		DistBackend: "gloo",
		ImageSize:   constants.DefaultImageSize,
		ModelArch:   constants.DefaultModelArch,
		Format:      "onnx",
		ModelDir:    constants.ModelsPath,
		DataDir:     constants.DataPath,
		LearnHost:   "learnapp:18090",
	}
	arg.MustParse(&a)

	var (
		logger *zap.Logger
		err    error
	)
	if a.Debug {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(a, logger); err != nil {
		logger.Fatal("training failed", zap.Error(err))
	}
}

func run(a args, logger *zap.Logger) error {
	device := inference.DeviceCPU
	if a.NumGPUs > 0 {
		device = inference.DeviceCUDA
	}
	logger.Info("device type", zap.String("device", device), zap.Int("gpus", a.NumGPUs))

	l := learner.New(learner.Config{
		Host:    a.LearnHost,
		Timeout: a.Timeout,
		Logger:  logger,
	})

	t, err := trainer.New(trainer.Config{
		Arch:        a.ModelArch,
		Labels:      constants.Labels,
		ImageSize:   a.ImageSize,
		Epochs:      a.Epochs,
		BatchSize:   a.BatchSize,
		Workers:     a.Workers,
		LR:          a.LR,
		Momentum:    a.Momentum,
		DataDir:     a.DataDir,
		ModelDir:    a.ModelDir,
		Format:      a.Format,
		Device:      device,
		Hosts:       a.Hosts,
		CurrentHost: a.CurrentHost,
		DistBackend: a.DistBackend,
		SkipDecode:  a.SkipDecode,
		Description: a.Desc,
		Logger:      logger,
	}, l)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	_, err = t.Run(ctx)
	return err
}
