package inference

import (
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrModelNotFound 모델 디렉토리에 가중치 파일이 없거나 둘 이상
var ErrModelNotFound = errors.New("model weights not found")

// Artifact 모델 디렉토리에서 찾은 가중치 파일
type Artifact struct {
	Dir         string
	WeightsFile string
	// Arch 백본 이름 (config.yaml 또는 파일 이름)
	Arch string
	// Config config.yaml이 없는 경우 nil
	Config *ModelConfig
}

// Path 가중치 파일 전체 경로
func (a Artifact) Path() string {
	return path.Join(a.Dir, a.WeightsFile)
}

// Ext 가중치 파일 확장자
func (a Artifact) Ext() string {
	return filepath.Ext(a.WeightsFile)
}

// Discover 모델 디렉토리에서 가중치 파일 하나를 찾는다.
// config.yaml이 있으면 그 정보를 쓰고, 없으면 `<backbone>.<ext>` 이름 규칙을 따른다.
func Discover(dir string) (Artifact, error) {
	cfg, err := ReadModelConfig(dir)
	switch {
	case err == nil:
		return discoverWithConfig(dir, cfg)
	case !os.IsNotExist(err):
		return Artifact{}, fmt.Errorf("Fail to read model config: %s: %w", dir, err)
	}

	return FindWeights(dir, Extensions())
}

func discoverWithConfig(dir string, cfg *ModelConfig) (Artifact, error) {
	weightsFile := cfg.WeightsFile
	if weightsFile == "" {
		a, err := FindWeights(dir, Extensions())
		if err != nil {
			return Artifact{}, err
		}
		weightsFile = a.WeightsFile
	}

	info, err := os.Stat(path.Join(dir, weightsFile))
	if err != nil || info.IsDir() {
		return Artifact{}, fmt.Errorf("%w: %s listed in %s", ErrModelNotFound, weightsFile, dir)
	}

	arch := cfg.Arch
	if arch == "" {
		arch = strings.TrimSuffix(weightsFile, filepath.Ext(weightsFile))
	}

	return Artifact{
		Dir:         dir,
		WeightsFile: weightsFile,
		Arch:        arch,
		Config:      cfg,
	}, nil
}

// FindWeights exts 확장자를 가진 파일이 정확히 하나인 경우 그 파일을 반환
func FindWeights(dir string, exts []string) (Artifact, error) {
	known := make(map[string]bool, len(exts))
	for _, ext := range exts {
		known[normExt(ext)] = true
	}

	files, err := ioutil.ReadDir(dir)
	if err != nil {
		return Artifact{}, fmt.Errorf("%w: %s", ErrModelNotFound, err)
	}

	var matches []string
	for _, file := range files {
		name := file.Name()
		if file.IsDir() || strings.HasPrefix(name, ".") {
			continue
		}

		ext := filepath.Ext(name)
		if ext == "" || !known[strings.ToLower(ext)] {
			continue
		}
		matches = append(matches, name)
	}

	switch len(matches) {
	case 0:
		return Artifact{}, fmt.Errorf("%w: no weights file (%s) in %s",
			ErrModelNotFound, strings.Join(exts, ", "), dir)
	case 1:
	default:
		return Artifact{}, fmt.Errorf("%w: ambiguous weights files in %s: %s",
			ErrModelNotFound, dir, strings.Join(matches, ", "))
	}

	weightsFile := matches[0]

	return Artifact{
		Dir:         dir,
		WeightsFile: weightsFile,
		Arch:        strings.TrimSuffix(weightsFile, filepath.Ext(weightsFile)),
	}, nil
}
