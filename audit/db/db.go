package db

import (
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// Config DBconn config
type Config struct {
	DriverName string
	ConnInfo   string

	TableName string
}

// DBconn db 연결정보
type DBconn struct {
	DriverName string
	ConnInfo   string

	TableName string

	db *sqlx.DB
}

// Item 추론 기록 항목
type Item struct {
	RequestID  string    `db:"request_id"`
	Model      string    `db:"model"`
	Class      string    `db:"class"`
	Confidence float64   `db:"confidence"`
	Bytes      int64     `db:"bytes"`
	ElapsedMs  int64     `db:"elapsed_ms"`
	CreateAt   time.Time `db:"create_at"`
}

func (conn *DBconn) createTable() error {
	if _, err := conn.db.Exec(fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		request_id CHAR(36) NOT NULL,
		model VARCHAR(40) NOT NULL,
		class VARCHAR(20) NOT NULL,
		confidence DOUBLE NOT NULL,
		bytes BIGINT NOT NULL,
		elapsed_ms BIGINT NOT NULL,
		create_at DATETIME NOT NULL);`, conn.TableName)); err != nil {
		return err
	}

	return nil
}

// Insert entry 삽입
func (conn *DBconn) Insert(item Item) error {
	_, err := conn.db.NamedExec(fmt.Sprintf(`INSERT INTO %s (
		request_id,
		model,
		class,
		confidence,
		bytes,
		elapsed_ms,
		create_at) VALUES (:request_id, :model, :class, :confidence, :bytes, :elapsed_ms, :create_at);`, conn.TableName),
		item,
	)

	return err
}

// Get 조건에 맞는 entry 조회, 빈 값은 조건에서 제외
func (conn *DBconn) Get(param Item, limit int) ([]Item, error) {
	query := fmt.Sprintf(`SELECT request_id, model, class, confidence, bytes, elapsed_ms, create_at
		FROM %s WHERE (? = '' OR request_id = ?) AND (? = '' OR model = ?) AND (? = '' OR class = ?)
		ORDER BY create_at DESC LIMIT ?;`, conn.TableName)

	var items []Item
	if err := conn.db.Select(&items, conn.db.Rebind(query),
		param.RequestID, param.RequestID,
		param.Model, param.Model,
		param.Class, param.Class,
		limit,
	); err != nil {
		return nil, err
	}

	return items, nil
}

// Destroy db connection 해제
func (conn *DBconn) Destroy() error {
	return conn.db.Close()
}

// connInfo mysql은 DATETIME을 time.Time으로 읽도록 parseTime을 켠다
func connInfo(driverName, info string) (string, error) {
	if driverName != "mysql" {
		return info, nil
	}

	dsn, err := mysql.ParseDSN(info)
	if err != nil {
		return "", err
	}
	dsn.ParseTime = true

	return dsn.FormatDSN(), nil
}

// New 새로운 db connection 생성
func New(cfg Config) (*DBconn, error) {
	info, err := connInfo(cfg.DriverName, cfg.ConnInfo)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(cfg.DriverName, info)
	if err != nil {
		return nil, err
	}

	conn := &DBconn{
		DriverName: cfg.DriverName,
		ConnInfo:   info,
		TableName:  cfg.TableName,
		db:         db,
	}

	if err := conn.createTable(); err != nil {
		db.Close()
		return nil, err
	}

	return conn, nil
}
