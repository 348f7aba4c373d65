package db

import (
	"fmt"

	"echocommand/internal/config"
	"echocommand/internal/domain/model"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Connect はDBに接続して *gorm.DB を返す。
func Connect(cfg config.Config) (*gorm.DB, error) {
	switch cfg.DBDriver {
	case "sqlite":
		return OpenSQLite(cfg.SQLitePath)
	case "postgres", "":
		return gorm.Open(postgres.Open(cfg.PostgresDSN()), gormConfig())
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER: %s", cfg.DBDriver)
	}
}

// OpenSQLite はローカル開発・テスト用。":memory:" も可
func OpenSQLite(path string) (*gorm.DB, error) {
	gdb, err := gorm.Open(sqlite.Open(path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)"), gormConfig())
	if err != nil {
		return nil, err
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	// SQLiteは書き込みが1本なので接続も1本に絞る（:memory:は接続ごとに別DBになる）
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetConnMaxLifetime(0)

	return gdb, nil
}

func gormConfig() *gorm.Config {
	return &gorm.Config{
		// 一意制約違反を gorm.ErrDuplicatedKey に変換
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	}
}

// テーブル作成
func Migrate(gdb *gorm.DB) error {
	return gdb.AutoMigrate(
		&model.User{},
		&model.RefreshToken{},
		&model.CustomCommand{},
		&model.AuditLog{},
	)
}
