package inference

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/james-fu/sagemaker-fastai-example/preprocess"
	"go.uber.org/zap"
)

// Engine 가중치 파일을 로드한 텐서 런타임 세션.
// Run은 여러 요청에서 동시에 호출된다.
type Engine interface {
	Run(ctx context.Context, input preprocess.Tensor) ([]float32, error)
	// InputShape 입력 텐서 크기, 알 수 없는 차원은 -1
	InputShape() []int64
	// OutputShape 출력 텐서 크기, 알 수 없는 차원은 -1
	OutputShape() []int64
	Close() error
}

// EngineOptions 백엔드 세션 생성 옵션
type EngineOptions struct {
	Device     string
	InputName  string
	OutputName string
	Logger     *zap.Logger
}

// Backend 가중치 파일 경로로 Engine 생성
type Backend func(path string, opts EngineOptions) (Engine, error)

var (
	backendsMu sync.RWMutex
	backends   = make(map[string]Backend)
)

// Register 가중치 파일 확장자(".onnx" 등)에 백엔드 등록.
// 같은 확장자를 두번 등록하면 panic.
func Register(ext string, b Backend) {
	ext = normExt(ext)

	backendsMu.Lock()
	defer backendsMu.Unlock()

	if b == nil {
		panic("inference: Register backend is nil")
	}
	if _, dup := backends[ext]; dup {
		panic("inference: Register called twice for backend " + ext)
	}
	backends[ext] = b
}

// Extensions 등록된 가중치 파일 확장자 목록
func Extensions() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()

	exts := make([]string, 0, len(backends))
	for ext := range backends {
		exts = append(exts, ext)
	}
	sort.Strings(exts)

	return exts
}

func lookupBackend(ext string) (Backend, error) {
	backendsMu.RLock()
	defer backendsMu.RUnlock()

	b, ok := backends[normExt(ext)]
	if !ok {
		return nil, fmt.Errorf("No backend for weights format: %s", ext)
	}
	return b, nil
}

func normExt(ext string) string {
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
