package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// 覆盖配置文件中密钥的环境变量
const (
	EnvPostgresPassword = "CLUSTERD_POSTGRES_PASSWORD"
	EnvRedisPassword    = "CLUSTERD_REDIS_PASSWORD"
)

// Config 通用配置接口
type Config interface {
	Validate() error
}

// LoadConfig 从文件加载配置，文件内容覆盖 cfg 中已有的默认值
func LoadConfig(path string, cfg Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	return nil
}

// LoadEnv 读取 .env 文件到进程环境，文件不存在时跳过，已有的环境变量不会被覆盖
func LoadEnv(paths ...string) error {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fmt.Errorf("loading %s: %w", p, err)
		}
	}
	return nil
}

func envOverride(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func resolvePath(baseDir string, path *string) {
	if *path != "" && !filepath.IsAbs(*path) {
		*path = filepath.Join(baseDir, *path)
	}
}
