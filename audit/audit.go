// Package audit 추론 요청 기록 관리
package audit

import (
	"time"

	"github.com/james-fu/sagemaker-fastai-example/audit/db"
	"github.com/james-fu/sagemaker-fastai-example/inference"
	"go.uber.org/zap"
)

const (
	tableName  string = "prediction_tab"
	driverName string = "mysql"

	defaultListLimit int = 100
)

// Config 기록 저장소 설정정보
type Config struct {
	DriverName string
	ConnInfo   string
	Logger     *zap.Logger
}

// Manager 추론 기록을 관리
type Manager struct {
	Conn   *db.DBconn
	logger *zap.Logger
}

// Record 추론 결과 기록. 기록 실패는 추론 결과에 영향을 주지 않는다.
func (am *Manager) Record(requestID, model string, p inference.Prediction, bytes int64, elapsed time.Duration) {
	item := db.Item{
		RequestID:  requestID,
		Model:      model,
		Class:      p.Class,
		Confidence: p.Confidence,
		Bytes:      bytes,
		ElapsedMs:  elapsed.Milliseconds(),
		CreateAt:   time.Now().UTC(),
	}

	if err := am.Conn.Insert(item); err != nil {
		am.logger.Error("failed to record prediction", zap.String("requestID", requestID), zap.Error(err))
	}
}

// List 추론 기록 목록 반환
func (am *Manager) List(model, class string, limit int) (interface{}, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}

	items, err := am.Conn.Get(db.Item{Model: model, Class: class}, limit)
	if err != nil {
		return nil, err
	}

	counts := make(map[string]int64)
	for _, item := range items {
		counts[item.Class]++
	}

	result := map[string]interface{}{
		"infos": map[string]interface{}{
			"total":  len(items),
			"counts": counts,
		},
		"predictions": items,
	}

	return result, nil
}

// Destroy 기록 저장소 해제
func (am *Manager) Destroy() {
	if err := am.Conn.Destroy(); err != nil {
		am.logger.Error("DB close failed", zap.String("table", am.Conn.TableName), zap.Error(err))
	} else {
		am.logger.Info("DB successfully closed", zap.String("table", am.Conn.TableName))
	}
}

// New 새로운 기록 저장소 생성
func New(c Config) (*Manager, error) {
	logger := c.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	driver := c.DriverName
	if driver == "" {
		driver = driverName
	}

	conn, err := db.New(db.Config{
		DriverName: driver,
		ConnInfo:   c.ConnInfo,
		TableName:  tableName,
	})
	if err != nil {
		return nil, err
	}
	logger.Info("DB successfully initialized", zap.String("driver", driver), zap.String("table", tableName))

	return &Manager{
		Conn:   conn,
		logger: logger,
	}, nil
}
