package types

import (
	"context"
	"errors"
	"time"

	"cluster-backend/internal/models"
)

var (
	// ErrNotFound 记录不存在
	ErrNotFound = errors.New("record not found")
	// ErrVersionConflict 比较更新时版本号不一致
	ErrVersionConflict = errors.New("version conflict")
)

// Store 定义了存储层接口
//
// Update* 方法按版本号做比较更新：调用方传入读取时的记录，
// 存储中的版本号与之不同则返回 ErrVersionConflict；成功后版本号加一并回写到入参。
type Store interface {
	// Cluster operations
	CreateCluster(ctx context.Context, cluster *models.Cluster) error
	GetCluster(ctx context.Context, id int) (*models.Cluster, error)
	ListClusters(ctx context.Context) ([]*models.Cluster, error)
	UpdateCluster(ctx context.Context, cluster *models.Cluster) error

	// Node operations
	CreateNode(ctx context.Context, node *models.Node) error
	GetNode(ctx context.Context, id int) (*models.Node, error)
	ListNodes(ctx context.Context, clusterID int) ([]*models.Node, error)
	UpdateNode(ctx context.Context, node *models.Node) error

	// Task operations
	CreateTasks(ctx context.Context, tasks ...*models.Task) error
	GetTask(ctx context.Context, id string) (*models.Task, error)
	ListSubtasks(ctx context.Context, parentID string) ([]*models.Task, error)
	// ListTasks clusterID 为 0 时返回全部任务
	ListTasks(ctx context.Context, clusterID int) ([]*models.Task, error)
	ListActiveSupertasks(ctx context.Context) ([]*models.Task, error)
	UpdateTask(ctx context.Context, task *models.Task) error

	// Notification operations
	CreateNotification(ctx context.Context, n *models.Notification) error
	ListNotifications(ctx context.Context, clusterID int) ([]*models.Notification, error)

	// Plugin link operations
	CreatePluginLink(ctx context.Context, link *models.PluginLink) error
	ListPluginLinks(ctx context.Context, clusterID int) ([]*models.PluginLink, error)
	DeletePluginLinks(ctx context.Context, clusterID int) error

	// Close releases any resources held by the store
	Close() error
}

// Config 存储配置
type Config struct {
	Type     string         `yaml:"type"`
	SQLite   SQLiteConfig   `yaml:"sqlite"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// SQLiteConfig SQLite配置
type SQLiteConfig struct {
	Path            string        `yaml:"path"`               // 数据库文件路径
	MaxOpenConns    int           `yaml:"max_open_conns"`     // 最大打开连接数
	MaxIdleConns    int           `yaml:"max_idle_conns"`     // 最大空闲连接数
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`  // 连接最大生命周期
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"` // 连接最大空闲时间
}

// PostgresConfig PostgreSQL配置
type PostgresConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}
