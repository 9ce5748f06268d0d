package api

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/james-fu/sagemaker-fastai-example/audit"
	"github.com/james-fu/sagemaker-fastai-example/inference"
	"github.com/james-fu/sagemaker-fastai-example/preprocess"
	"github.com/james-fu/sagemaker-fastai-example/serving"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const (
	maxBodyBytes int64 = 8 << 20

	requestIDHeader = "X-Request-Id"
)

var invocations = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "dogscats_invocations_total",
	Help: "Number of invocations by response status and predicted class",
}, []string{"status", "class"})

var latency = promauto.NewSummaryVec(prometheus.SummaryOpts{
	Name:       "dogscats_invocation_seconds",
	Help:       "Invocation latency",
	Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
}, []string{"status"})

// APIs api 핸들러
type APIs struct {
	S *serving.Adapter
	M *inference.Model
	// D nil이면 추론 기록을 남기지 않는다
	D      *audit.Manager
	Logger *zap.Logger
}

// NewRouter SageMaker 컨테이너 규약(/ping, /invocations)과 부가 api 등록
func NewRouter(a *APIs) *gin.Engine {
	if a.Logger == nil {
		a.Logger = zap.NewNop()
	}

	r := gin.New()
	r.Use(gin.Recovery(), a.logRequest)

	r.GET("/ping", a.Ping)
	r.POST("/invocations", a.Invoke)
	r.GET("/models", a.ShowModel)
	r.GET("/predictions", a.ListPredictions)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func (a *APIs) logRequest(c *gin.Context) {
	t0 := time.Now()
	c.Next()

	a.Logger.Info("request",
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.Int("status", c.Writer.Status()),
		zap.String("requestID", c.Writer.Header().Get(requestIDHeader)),
		zap.Duration("elapsed", time.Since(t0)))
}

// Ping 모델이 로드 되었으면 200
func (a *APIs) Ping(c *gin.Context) {
	if a.M == nil {
		Error(c, http.StatusServiceUnavailable, errors.New("Model is not loaded"))
		return
	}
	c.String(http.StatusOK, "")
}

// ShowModel 추론 모델 정보 반환
func (a *APIs) ShowModel(c *gin.Context) {
	if a.M == nil {
		Error(c, http.StatusServiceUnavailable, errors.New("Model is not loaded"))
		return
	}
	c.JSON(http.StatusOK, a.M.Info())
}

// Invoke 추론
func (a *APIs) Invoke(c *gin.Context) {
	t0 := time.Now()
	requestID := uuid.New().String()
	c.Header(requestIDHeader, requestID)

	if a.M == nil {
		a.fail(c, t0, http.StatusServiceUnavailable, errors.New("Model is not loaded"))
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		a.fail(c, t0, http.StatusRequestEntityTooLarge, err)
		return
	}

	out, contentType, p, err := a.S.Invoke(
		c.Request.Context(),
		a.M,
		body,
		c.GetHeader("Content-Type"),
		c.GetHeader("Accept"),
	)
	if err != nil {
		a.fail(c, t0, statusOf(err), err)
		return
	}

	elapsed := time.Since(t0)
	invocations.WithLabelValues(strconv.Itoa(http.StatusOK), p.Class).Inc()
	latency.WithLabelValues(strconv.Itoa(http.StatusOK)).Observe(elapsed.Seconds())

	if a.D != nil {
		a.D.Record(requestID, a.M.Name, p, int64(len(body)), elapsed)
	}

	c.Data(http.StatusOK, contentType, out)
}

// ListPredictions 추론 기록 반환
func (a *APIs) ListPredictions(c *gin.Context) {
	if a.D == nil {
		Error(c, http.StatusNotFound, errors.New("Prediction audit is disabled"))
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	if result, err := a.D.List(c.Query("model"), c.Query("class"), limit); err != nil {
		Error(c, http.StatusInternalServerError, err)
	} else {
		c.JSON(http.StatusOK, result)
	}
}

func (a *APIs) fail(c *gin.Context, t0 time.Time, status int, err error) {
	invocations.WithLabelValues(strconv.Itoa(status), "").Inc()
	latency.WithLabelValues(strconv.Itoa(status)).Observe(time.Since(t0).Seconds())

	if status >= http.StatusInternalServerError {
		a.Logger.Error("invocation failed", zap.Int("status", status), zap.Error(err))
	}
	Error(c, status, err)
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, serving.ErrUnsupportedContentType):
		return http.StatusUnsupportedMediaType
	case errors.Is(err, preprocess.ErrDecode):
		return http.StatusBadRequest
	case errors.Is(err, inference.ErrModelClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// HTTPError api 에러 메시지
type HTTPError struct {
	Error string `json:"error"`
}

// Error api 에러를 담은 json 응답 생성
func Error(c *gin.Context, status int, err error) {
	c.JSON(status, HTTPError{
		Error: err.Error(),
	})
}
