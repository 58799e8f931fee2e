package sqlite

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cluster-backend/internal/store/gormstore"
	"cluster-backend/internal/store/types"

	"github.com/glebarez/sqlite"
)

// Store 基于 SQLite 的存储
type Store struct {
	*gormstore.Store
}

// DefaultConfig 返回默认的 SQLite 配置
func DefaultConfig(path string) types.SQLiteConfig {
	return types.SQLiteConfig{
		Path:            path,
		MaxOpenConns:    1,
		MaxIdleConns:    1,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: time.Minute * 30,
	}
}

func NewStore(cfg types.SQLiteConfig) (*Store, error) {
	if cfg.Path != ":memory:" {
		// 确保目录存在
		dir := filepath.Dir(cfg.Path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	dsn := cfg.Path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	store, err := gormstore.New(sqlite.Open(dsn))
	if err != nil {
		return nil, err
	}

	// 配置连接池
	sqlDB, err := store.DB().DB()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("getting connection pool: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(cfg.ConnMaxIdleTime)

	return &Store{Store: store}, nil
}
