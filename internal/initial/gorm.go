package initial

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"TradeRAG/internal/config"
	aiJob "TradeRAG/internal/modules/ai/domain/job"
	"TradeRAG/pkg/zlog"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// NewGormDB 连接 MySQL 并迁移运行历史表；mysqlConfig.host 为空时返回 ErrMysqlDisabled
func NewGormDB(conf *config.Config) (*gorm.DB, error) {
	mc := conf.MysqlConfig
	if strings.TrimSpace(mc.Host) == "" {
		return nil, ErrMysqlDisabled
	}
	port := mc.Port
	if port == 0 {
		port = 3306
	}
	dbName := strings.TrimSpace(mc.DatabaseName)
	if dbName == "" {
		dbName = conf.AppName
	}
	dsn := fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local", mc.User, mc.Password, mc.Host, port, dbName)

	gormLogger := logger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		logger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  logger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{Logger: gormLogger})
	if err != nil {
		return nil, err
	}
	// 自动迁移，如果没有建表，会自动创建对应的表
	if err := db.AutoMigrate(&aiJob.AIIngestRun{}); err != nil {
		return nil, err
	}
	zlog.Info("mysql connected", zap.String("host", mc.Host), zap.String("db", dbName))
	return db, nil
}

var ErrMysqlDisabled = errors.New("mysql disabled")
