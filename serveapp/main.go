package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/gin-gonic/gin"
	"github.com/james-fu/sagemaker-fastai-example/artifact"
	"github.com/james-fu/sagemaker-fastai-example/audit"
	"github.com/james-fu/sagemaker-fastai-example/constants"
	"github.com/james-fu/sagemaker-fastai-example/inference"
	"github.com/james-fu/sagemaker-fastai-example/inference/onnxengine"
	_ "github.com/james-fu/sagemaker-fastai-example/inference/tfengine"
	"github.com/james-fu/sagemaker-fastai-example/serveapp/api"
	"github.com/james-fu/sagemaker-fastai-example/serving"
	"go.uber.org/zap"
)

type args struct {
	artifact.S3Args

	ModelDir   string `arg:"--model-dir,env:SM_MODEL_DIR,help:Model directory"`
	ModelS3URI string `arg:"--model-s3-uri,env:MODEL_S3_URI,help:s3://bucket/key of model.tar.gz to fetch before loading"`
	ImageSize  int    `arg:"--image-size,env:IMAGE_SIZE,help:Center crop size (default: model config or 224)"`
	Device     string `arg:"--device,env:DEVICE,help:cpu or cuda (default: cuda when SM_NUM_GPUS > 0)"`
	NumGPUs    int    `arg:"--num-gpus,env:SM_NUM_GPUS,help:Number of GPUs"`
	Port       int    `arg:"--port,env:SAGEMAKER_BIND_TO_PORT,help:Listen port"`
	OnnxLib    string `arg:"--onnxruntime-lib,env:ONNXRUNTIME_LIB,help:Path of onnxruntime shared library"`

	AuditDriver string `arg:"--audit-driver,env:AUDIT_DRIVER,help:mysql or sqlite3"`
	AuditDSN    string `arg:"--audit-dsn,env:AUDIT_DSN,help:Prediction audit database (disabled if empty)"`

	Debug bool `arg:"--debug,env:DEBUG,help:Debug logging"`
}

func (args) Description() string {
	return "dogs vs cats inference server"
}

func main() {
	a := args{
		ModelDir: constants.ModelsPath,
		Port:     8080,
	}
	arg.MustParse(&a)

	logger, err := newLogger(a.Debug)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if err := run(a, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func newLogger(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func run(a args, logger *zap.Logger) error {
	device := a.Device
	if device == "" {
		device = inference.DeviceCPU
		if a.NumGPUs > 0 {
			device = inference.DeviceCUDA
		}
	}
	logger.Info("device type", zap.String("device", device))

	if a.ModelS3URI != "" {
		f := artifact.NewFetcher(a.S3Args, logger)
		if err := f.Fetch(context.Background(), a.ModelS3URI, a.ModelDir); err != nil {
			return err
		}
	}

	onnxengine.SetLibraryPath(a.OnnxLib)

	s := serving.New(serving.Config{
		ImageSize: a.ImageSize,
		Device:    device,
		Labels:    constants.Labels,
		Logger:    logger,
	})

	m, err := s.ModelFn(a.ModelDir)
	if err != nil {
		return err
	}
	defer m.Destroy()

	apis := &api.APIs{
		S:      s,
		M:      m,
		Logger: logger,
	}

	if a.AuditDSN != "" {
		d, err := audit.New(audit.Config{
			DriverName: a.AuditDriver,
			ConnInfo:   a.AuditDSN,
			Logger:     logger,
		})
		if err != nil {
			return err
		}
		defer d.Destroy()
		apis.D = d
	}

	if !a.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", a.Port),
		Handler: api.NewRouter(apis),
	}

	return serve(server, 5*time.Second, logger)
}

// serve SIGINT/SIGTERM을 받으면 timeout 안에 처리중인 요청을 마치고 종료
func serve(server *http.Server, timeout time.Duration, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", zap.String("addr", server.Addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return server.Shutdown(shutdownCtx)
}
