package factory

import (
	"fmt"

	"cluster-backend/internal/store/memory"
	"cluster-backend/internal/store/postgres"
	"cluster-backend/internal/store/sqlite"
	"cluster-backend/internal/store/types"
)

// NewStore 创建新的存储实例
func NewStore(cfg *types.Config) (types.Store, error) {
	switch cfg.Type {
	case "memory":
		return memory.NewStore(), nil
	case "sqlite":
		sqliteCfg := cfg.SQLite
		if sqliteCfg.MaxOpenConns == 0 {
			sqliteCfg = sqlite.DefaultConfig(sqliteCfg.Path)
		}
		return sqlite.NewStore(sqliteCfg)
	case "postgres":
		return postgres.NewStore(cfg.Postgres)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}
