package database

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgeneration/radiance-ai/backend/internal/model"
	"github.com/glebarez/sqlite"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
	"k8s.io/klog/v2"
)

// InitDB 打开数据库连接并迁移表结构
// dbType: sqlite（默认）、mysql、postgres（Supabase 等托管 Postgres）
func InitDB(dbType, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector

	switch dbType {
	case "mysql":
		dialector = mysql.Open(dsn)
	case "postgres", "postgresql":
		dialector = postgres.Open(dsn)
	default:
		// 使用 github.com/glebarez/sqlite 驱动
		if dir := filepath.Dir(dsn); dsn != ":memory:" && dir != "." && dir != "" {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("创建数据库目录失败: %w", err)
			}
		}
		dialector = sqlite.Open(dsn)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, err
	}

	if strings.Contains(dsn, ":memory:") {
		// 内存库每个连接都是独立的数据库，只能保留一个连接
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}
	klog.V(6).Infof("[Database] 数据库初始化完成: type=%s", dbType)
	return db, nil
}

// Migrate 自动迁移全部模型
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&model.DiagnosisSession{}, &model.StageRun{}, &model.ChatMessage{})
}
