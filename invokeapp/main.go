package main

import (
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"time"

	"github.com/alexflint/go-arg"
	"github.com/james-fu/sagemaker-fastai-example/invokeapp/client"
	"go.uber.org/zap"
)

type args struct {
	client.Args

	Images  []string      `arg:"positional,required,help:JPEG images to classify"`
	Timeout time.Duration `arg:"--timeout,help:Request timeout"`
}

func (args) Description() string {
	return "classify images with a deployed dogs vs cats endpoint"
}

func main() {
	a := args{Timeout: 30 * time.Second}
	arg.MustParse(&a)

	logger, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	c := client.New(a.Args)

	failed := 0
	for _, image := range a.Images {
		if err := classify(c, image, a.Timeout); err != nil {
			logger.Error("classify failed", zap.String("image", image), zap.Error(err))
			failed++
		}
	}

	if failed > 0 {
		logger.Sync()
		os.Exit(1)
	}
}

func classify(c *client.Client, image string, timeout time.Duration) error {
	raw, err := ioutil.ReadFile(image)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	p, err := c.Classify(ctx, raw)
	if err != nil {
		return err
	}

	fmt.Printf("%s\t%s\t%.4f\n", image, p.Class, p.Confidence)
	return nil
}
