package postgres

import (
	"fmt"

	"cluster-backend/internal/store/gormstore"
	"cluster-backend/internal/store/types"

	"gorm.io/driver/postgres"
)

// Store PostgreSQL存储实现
type Store struct {
	*gormstore.Store
}

// DSN 拼接连接串
func DSN(cfg types.PostgresConfig) string {
	sslmode := cfg.SSLMode
	if sslmode == "" {
		sslmode = "disable"
	}
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%d sslmode=%s",
		cfg.Host, cfg.User, cfg.Password, cfg.DBName, cfg.Port, sslmode)
}

// NewStore 创建PostgreSQL存储实例
func NewStore(cfg types.PostgresConfig) (*Store, error) {
	store, err := gormstore.New(postgres.Open(DSN(cfg)))
	if err != nil {
		return nil, err
	}
	return &Store{Store: store}, nil
}
