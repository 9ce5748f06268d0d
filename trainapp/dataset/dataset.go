// Package dataset 학습 데이터 디렉토리 (train/<label>, valid/<label>) 검사
package dataset

import (
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/james-fu/sagemaker-fastai-example/preprocess"
	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidDataset 학습 데이터 구성이 잘못됨
var ErrInvalidDataset = errors.New("invalid dataset")

const (
	TrainDir = "train"
	ValidDir = "valid"

	maxReported = 10
)

var imageExts = []string{".jpg", ".jpeg", ".png"}

// Split train 또는 valid 데이터 요약
type Split struct {
	Counts map[string]int `json:"counts"`
	Total  int            `json:"total"`
}

// Summary 데이터 디렉토리 요약
type Summary struct {
	Path    string   `json:"path"`
	Labels  []string `json:"labels"`
	Train   Split    `json:"train"`
	Valid   Split    `json:"valid"`
	Invalid []string `json:"invalid,omitempty"`
}

// Config 데이터 검사 설정정보
type Config struct {
	Labels []string
	// Workers 이미지 디코딩 검사 동시 실행 수
	Workers int
	// SkipDecode true면 파일 목록만 확인
	SkipDecode bool
	Logger     *zap.Logger
}

// Scan 데이터 디렉토리를 검사하고 요약 반환.
// 클래스 폴더가 라벨 목록과 다르거나 디코딩 할 수 없는 이미지가 있으면 실패.
func Scan(ctx context.Context, dataDir string, c Config) (*Summary, error) {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Summary{
		Path:   dataDir,
		Labels: c.Labels,
	}

	var files []string
	for _, split := range []struct {
		name string
		dst  *Split
	}{
		{TrainDir, &s.Train},
		{ValidDir, &s.Valid},
	} {
		found, err := scanSplit(path.Join(dataDir, split.name), c.Labels, split.dst)
		if err != nil {
			return nil, err
		}
		files = append(files, found...)
	}

	logger.Info("dataset scanned",
		zap.String("path", dataDir),
		zap.Any("train", s.Train.Counts),
		zap.Any("valid", s.Valid.Counts))

	if c.SkipDecode {
		return s, nil
	}

	invalid, err := checkImages(ctx, files, c.Workers)
	if err != nil {
		return nil, err
	}

	if len(invalid) > 0 {
		sort.Strings(invalid)
		s.Invalid = invalid

		reported := invalid
		if len(reported) > maxReported {
			reported = append(reported[:maxReported:maxReported], "...")
		}
		return s, fmt.Errorf("%w: %d images cannot be decoded: %s",
			ErrInvalidDataset, len(invalid), strings.Join(reported, ", "))
	}

	return s, nil
}

func scanSplit(dir string, labels []string, dst *Split) ([]string, error) {
	entries, err := ioutil.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidDataset, err)
	}

	var classes []string
	for _, entry := range entries {
		if entry.IsDir() && !strings.HasPrefix(entry.Name(), ".") {
			classes = append(classes, entry.Name())
		}
	}

	// 폴더 이름을 정렬한 순서가 클래스 인덱스가 된다
	sort.Strings(classes)
	if len(classes) != len(labels) || !lo.Every(labels, classes) {
		return nil, fmt.Errorf("%w: %s has classes %v, expected %v", ErrInvalidDataset, dir, classes, labels)
	}
	for i := range classes {
		if classes[i] != labels[i] {
			return nil, fmt.Errorf("%w: class order %v, expected %v", ErrInvalidDataset, classes, labels)
		}
	}

	dst.Counts = make(map[string]int, len(labels))

	var files []string
	for _, label := range labels {
		images, err := listImages(path.Join(dir, label))
		if err != nil {
			return nil, err
		}
		if len(images) == 0 {
			return nil, fmt.Errorf("%w: no images in %s", ErrInvalidDataset, path.Join(dir, label))
		}

		dst.Counts[label] = len(images)
		dst.Total += len(images)
		files = append(files, images...)
	}

	return files, nil
}

func listImages(dir string) ([]string, error) {
	entries, err := ioutil.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var images []string
	for _, entry := range entries {
		name := strings.ToLower(entry.Name())
		if entry.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}
		if lo.ContainsBy(imageExts, func(ext string) bool { return strings.HasSuffix(name, ext) }) {
			images = append(images, path.Join(dir, entry.Name()))
		}
	}

	return images, nil
}

func checkImages(ctx context.Context, files []string, workers int) ([]string, error) {
	if workers <= 0 {
		workers = 1
	}

	var (
		mu      sync.Mutex
		invalid []string
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, file := range files {
		file := file
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			raw, err := os.ReadFile(file)
			if err == nil {
				_, err = preprocess.Decode(raw)
			}
			if err != nil {
				mu.Lock()
				invalid = append(invalid, file)
				mu.Unlock()
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return invalid, nil
}
