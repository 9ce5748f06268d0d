package inference_test

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"testing"

	"github.com/james-fu/sagemaker-fastai-example/arch"
	"github.com/james-fu/sagemaker-fastai-example/constants"
	"github.com/james-fu/sagemaker-fastai-example/inference"
	"github.com/james-fu/sagemaker-fastai-example/inference/inferencetest"
	"github.com/james-fu/sagemaker-fastai-example/preprocess"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	inferencetest.Install()
}

func solidJPEG(t *testing.T, w, h int, c color.Color) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}

	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, nil))
	return buf.Bytes()
}

func load(t *testing.T, dir string) *inference.Model {
	m, err := inference.Load(dir, inference.Config{})
	require.NoError(t, err)
	t.Cleanup(m.Destroy)
	return m
}

func TestLoadByFileName(t *testing.T) {
	dir := t.TempDir()
	inferencetest.WriteWeights(t, dir, "resnet34", inferencetest.DefaultWeights())

	m := load(t, dir)
	assert.Equal(t, "resnet34", m.Name)
	assert.Equal(t, arch.FamilyResNet, m.Meta.Family)
	assert.Equal(t, -2, m.Meta.Cut)
	assert.Equal(t, 1024, m.Head.InFeatures)
	assert.Equal(t, constants.Labels, m.Labels)
	assert.Equal(t, constants.DefaultImageSize, m.ImageSize)
	assert.Equal(t, inference.DeviceCPU, m.Device)
	assert.Equal(t, "resnet34.fake", m.Info()["weights"])
}

func TestLoadUnknownArch(t *testing.T) {
	dir := t.TempDir()
	inferencetest.WriteWeights(t, dir, "squeezenet", inferencetest.DefaultWeights())

	m := load(t, dir)
	assert.Equal(t, "squeezenet", m.Name)
	assert.Equal(t, arch.FamilyDefault, m.Meta.Family)
	assert.Equal(t, -1, m.Meta.Cut)
}

func TestLoadModelNotFound(t *testing.T) {
	dir := t.TempDir()
	_, err := inference.Load(dir, inference.Config{})
	assert.ErrorIs(t, err, inference.ErrModelNotFound)

	_, err = inference.Load(dir+"/missing", inference.Config{})
	assert.ErrorIs(t, err, inference.ErrModelNotFound)
}

func TestLoadAmbiguous(t *testing.T) {
	dir := t.TempDir()
	inferencetest.WriteWeights(t, dir, "resnet34", inferencetest.DefaultWeights())
	inferencetest.WriteWeights(t, dir, "resnet50", inferencetest.DefaultWeights())

	_, err := inference.Load(dir, inference.Config{})
	assert.ErrorIs(t, err, inference.ErrModelNotFound)
	assert.Contains(t, err.Error(), "ambiguous")
}

func TestLoadWithConfig(t *testing.T) {
	dir := t.TempDir()
	inferencetest.WriteWeights(t, dir, "resnet50", inferencetest.DefaultWeights())
	inferencetest.WriteWeights(t, dir, "resnet50-old", inferencetest.DefaultWeights())
	require.NoError(t, inference.WriteModelConfig(dir, &inference.ModelConfig{
		Arch:           "resnet50",
		WeightsFile:    "resnet50.fake",
		Labels:         constants.Labels,
		ImageSize:      224,
		HeadInFeatures: 4096,
		Description:    "dogscats",
	}))

	m := load(t, dir)
	assert.Equal(t, "resnet50", m.Name)
	assert.Equal(t, "resnet50.fake", m.WeightsFile)
	assert.Equal(t, "dogscats", m.Description)
}

func TestLoadConfigImageSize(t *testing.T) {
	dir := t.TempDir()
	w := inferencetest.DefaultWeights()
	w.Input = []int64{1, 3, 299, 299}
	inferencetest.WriteWeights(t, dir, "resnet18", w)
	require.NoError(t, inference.WriteModelConfig(dir, &inference.ModelConfig{
		Arch:      "resnet18",
		ImageSize: 299,
	}))

	m := load(t, dir)
	assert.Equal(t, 299, m.ImageSize)

	_, err := inference.Load(dir, inference.Config{ImageSize: 224})
	assert.ErrorIs(t, err, inference.ErrWeightMismatch)
}

func TestLoadConfigMissingWeights(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, inference.WriteModelConfig(dir, &inference.ModelConfig{
		Arch:        "resnet34",
		WeightsFile: "resnet34.fake",
	}))

	_, err := inference.Load(dir, inference.Config{})
	assert.ErrorIs(t, err, inference.ErrModelNotFound)
}

func TestLoadWeightMismatch(t *testing.T) {
	tests := map[string]func(dir string){
		"output": func(dir string) {
			w := inferencetest.DefaultWeights()
			w.Output = []int64{1, 1000}
			inferencetest.WriteWeights(t, dir, "resnet34", w)
		},
		"input channels": func(dir string) {
			w := inferencetest.DefaultWeights()
			w.Input = []int64{1, 1, 224, 224}
			inferencetest.WriteWeights(t, dir, "resnet34", w)
		},
		"rank": func(dir string) {
			w := inferencetest.DefaultWeights()
			w.Output = []int64{2}
			inferencetest.WriteWeights(t, dir, "resnet34", w)
		},
		"labels": func(dir string) {
			inferencetest.WriteWeights(t, dir, "resnet34", inferencetest.DefaultWeights())
			require.NoError(t, inference.WriteModelConfig(dir, &inference.ModelConfig{
				Arch:   "resnet34",
				Labels: []string{"dogs", "cats"},
			}))
		},
		"head": func(dir string) {
			inferencetest.WriteWeights(t, dir, "resnet34", inferencetest.DefaultWeights())
			require.NoError(t, inference.WriteModelConfig(dir, &inference.ModelConfig{
				Arch:           "resnet34",
				HeadInFeatures: 4096,
			}))
		},
	}

	for name, setup := range tests {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			setup(dir)
			_, err := inference.Load(dir, inference.Config{})
			assert.ErrorIs(t, err, inference.ErrWeightMismatch)
		})
	}
}

func TestPredict(t *testing.T) {
	dir := t.TempDir()
	inferencetest.WriteWeights(t, dir, "resnet34", inferencetest.DefaultWeights())
	m := load(t, dir)

	p := preprocess.New(m.ImageSize)

	cat, err := p.Run(solidJPEG(t, 500, 375, color.RGBA{R: 220, G: 40, B: 30, A: 255}))
	require.NoError(t, err)
	pred, err := m.Predict(context.Background(), cat)
	require.NoError(t, err)
	assert.Equal(t, "cats", pred.Class)
	assert.Greater(t, pred.Confidence, 0.5)
	assert.LessOrEqual(t, pred.Confidence, 1.0)
	assert.InDelta(t, 1.0, pred.Probabilities[0]+pred.Probabilities[1], 1e-6)

	dog, err := p.Run(solidJPEG(t, 375, 500, color.RGBA{R: 30, G: 40, B: 220, A: 255}))
	require.NoError(t, err)
	pred, err = m.Predict(context.Background(), dog)
	require.NoError(t, err)
	assert.Equal(t, "dogs", pred.Class)
	assert.Equal(t, 1, pred.Index)
}

func TestPredictInputShape(t *testing.T) {
	dir := t.TempDir()
	inferencetest.WriteWeights(t, dir, "resnet34", inferencetest.DefaultWeights())
	m := load(t, dir)

	tensor, err := preprocess.New(128).Run(solidJPEG(t, 64, 64, color.White))
	require.NoError(t, err)

	_, err = m.Predict(context.Background(), tensor)
	assert.Error(t, err)
}

func TestPredictConcurrent(t *testing.T) {
	dir := t.TempDir()
	inferencetest.WriteWeights(t, dir, "resnet34", inferencetest.DefaultWeights())
	m := load(t, dir)

	tensor, err := preprocess.New(m.ImageSize).Run(solidJPEG(t, 300, 200, color.RGBA{R: 200, A: 255}))
	require.NoError(t, err)

	want, err := m.Predict(context.Background(), tensor)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := m.Predict(context.Background(), tensor)
			assert.NoError(t, err)
			assert.Equal(t, want, got)
		}()
	}
	wg.Wait()
}

func TestDestroyWaitsForPredict(t *testing.T) {
	dir := t.TempDir()
	inferencetest.WriteWeights(t, dir, "resnet34", inferencetest.DefaultWeights())
	m, err := inference.Load(dir, inference.Config{})
	require.NoError(t, err)

	tensor, err := preprocess.New(m.ImageSize).Run(solidJPEG(t, 300, 200, color.RGBA{R: 200, A: 255}))
	require.NoError(t, err)

	var (
		wg      sync.WaitGroup
		started sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		started.Add(1)
		go func() {
			defer wg.Done()
			first := true
			for {
				_, err := m.Predict(context.Background(), tensor)
				if first {
					started.Done()
					first = false
				}
				if errors.Is(err, inference.ErrModelClosed) {
					return
				}
				if !assert.NoError(t, err) {
					return
				}
			}
		}()
	}

	started.Wait()
	m.Destroy()
	wg.Wait()

	_, err = m.Predict(context.Background(), tensor)
	assert.ErrorIs(t, err, inference.ErrModelClosed)

	// 두번 호출해도 된다
	m.Destroy()
}
