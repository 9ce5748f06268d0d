// Package learner 학습 호스트(learnapp)에 학습 작업 요청
package learner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Phase fit_one_cycle 한 단계
type Phase struct {
	// Unfreeze true면 body 포함 전체 학습, false면 head만 학습
	Unfreeze bool    `json:"unfreeze"`
	Epochs   int     `json:"epochs"`
	LRMin    float64 `json:"lrMin,omitempty"`
	LRMax    float64 `json:"lrMax"`
	PctStart float64 `json:"pctStart,omitempty"`
}

// Schedule 두 단계 학습 스케줄.
// head만 1 epoch 학습 후 전체를 epochs 만큼 discriminative learning rate로 학습.
func Schedule(epochs int, lr float64) []Phase {
	return []Phase{
		{Unfreeze: false, Epochs: 1, LRMax: lr},
		{Unfreeze: true, Epochs: epochs, LRMin: 1e-5, LRMax: 3e-4, PctStart: 0.05},
	}
}

// Request 학습 작업 요청
type Request struct {
	JobID string `json:"jobId"`

	Arch           string   `json:"arch"`
	Cut            int      `json:"cut"`
	SplitGroups    []string `json:"splitGroups"`
	HeadInFeatures int      `json:"headInFeatures,omitempty"`
	Labels         []string `json:"labels"`
	ImageSize      int      `json:"imageSize"`

	BatchSize int     `json:"batchSize"`
	Workers   int     `json:"workers"`
	Momentum  float64 `json:"momentum"`
	Schedule  []Phase `json:"schedule"`

	DataDir  string `json:"dataDir"`
	ModelDir string `json:"modelDir"`
	// Format 저장할 가중치 형식 ("onnx" 또는 "pb")
	Format string `json:"format"`
	Device string `json:"device"`

	Hosts       []string `json:"hosts"`
	Rank        int      `json:"rank"`
	DistBackend string   `json:"distBackend"`
}

// Result epoch 별 학습 결과 지표
type Result struct {
	Epochs             int       `json:"epochs"`
	TrainLoss          []float32 `json:"trainLoss"`
	ValidationLoss     []float32 `json:"validLoss"`
	ValidationAccuracy []float32 `json:"validAccuracy"`
}

// Response 학습 작업 응답
type Response struct {
	JobID       string `json:"jobId"`
	WeightsFile string `json:"weightsFile"`
	Result      Result `json:"result"`
}

// Config 학습 호스트 연결 정보
type Config struct {
	Host    string
	Timeout time.Duration
	Logger  *zap.Logger
}

// Client 학습 호스트 클라이언트
type Client struct {
	host   string
	client *http.Client
	logger *zap.Logger
}

// Submit 학습 작업을 요청하고 완료될 때까지 대기
func (c *Client) Submit(ctx context.Context, req Request) (*Response, error) {
	if req.JobID == "" {
		req.JobID = uuid.New().String()
	}

	j, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("http://%s/train", c.host)
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(j))
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Content-Type", "application/json")

	c.logger.Info("submit training job",
		zap.String("jobId", req.JobID),
		zap.String("arch", req.Arch),
		zap.Int("rank", req.Rank),
		zap.String("url", url))

	res, err := c.client.Do(hreq)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		body, _ := ioutil.ReadAll(res.Body)
		return nil, fmt.Errorf("Fail to train %s: %s: %s", req.JobID, res.Status, bytes.TrimSpace(body))
	}

	var response Response
	if err := json.NewDecoder(res.Body).Decode(&response); err != nil {
		return nil, err
	}
	if response.JobID == "" {
		response.JobID = req.JobID
	}

	return &response, nil
}

// New 학습 호스트 클라이언트 생성
func New(c Config) *Client {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Client{
		host:   c.Host,
		client: &http.Client{Timeout: c.Timeout},
		logger: logger,
	}
}
